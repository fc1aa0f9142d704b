package throttle

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoBeforeStart(t *testing.T) {
	t.Parallel()

	tr := New(10)
	err := tr.Do(context.Background(), func() error { return nil })
	if !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Do before Start = %v, want ErrNotStarted", err)
	}
}

func TestDoSuccess(t *testing.T) {
	t.Parallel()

	tr := New(100)
	tr.Start(context.Background())
	defer tr.Stop()

	calls := 0
	if err := tr.Do(context.Background(), func() error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesUntilLimit(t *testing.T) {
	t.Parallel()

	tr := New(1000, WithMaxRetries(2), WithRandom(func() float64 { return 0 }))
	tr.Start(context.Background())
	defer tr.Stop()

	permanent := errors.New("boom")
	calls := 0
	err := tr.Do(context.Background(), func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("Do = %v, want wrapped %v", err, permanent)
	}
	// Первая попытка + два ретрая.
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

type stopError struct{}

func (stopError) Error() string   { return "stop" }
func (stopError) StopRetry() bool { return true }

func TestDoStopRetryer(t *testing.T) {
	t.Parallel()

	tr := New(1000)
	tr.Start(context.Background())
	defer tr.Stop()

	calls := 0
	err := tr.Do(context.Background(), func() error {
		calls++
		return stopError{}
	})
	var s stopError
	if !errors.As(err, &s) {
		t.Fatalf("Do = %v, want stopError", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoHonorsWaitExtractor(t *testing.T) {
	t.Parallel()

	waitErr := errors.New("server says wait")
	tr := New(1000, WithWaitExtractors(func(err error) (time.Duration, bool) {
		if errors.Is(err, waitErr) {
			return time.Millisecond, true
		}
		return 0, false
	}))
	tr.Start(context.Background())
	defer tr.Stop()

	calls := 0
	if err := tr.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return waitErr
		}
		return nil
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}
