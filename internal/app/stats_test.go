package app

import "testing"

func TestStatsReportResetsCounters(t *testing.T) {
	t.Parallel()

	s := NewStats()
	s.Received(10)
	s.Published(8)
	s.Failed(2)
	s.Classified(5)
	s.Urgency(3)
	s.Urgency(3)
	s.Urgency(5)
	s.SetAllowedSize(7)

	s.report()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.received != 0 || s.published != 0 || s.failed != 0 || s.classified != 0 {
		t.Errorf("counters survived the report: received=%d published=%d failed=%d classified=%d",
			s.received, s.published, s.failed, s.classified)
	}
	if s.urgency != [6]int64{} {
		t.Errorf("urgency histogram survived the report: %v", s.urgency)
	}
	// Размер набора чатов — датчик состояния, не интервальный счётчик.
	if s.allowedSize != 7 {
		t.Errorf("allowedSize = %d, want 7", s.allowedSize)
	}
}

func TestStatsUrgencyIgnoresOutOfRange(t *testing.T) {
	t.Parallel()

	s := NewStats()
	s.Urgency(0)
	s.Urgency(6)
	s.Urgency(-1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.urgency != [6]int64{} {
		t.Errorf("out-of-range urgency recorded: %v", s.urgency)
	}
}
