package app

import "testing"

func TestListenerAllowedSet(t *testing.T) {
	t.Parallel()

	l := NewListener(ListenerOptions{})

	// До первой записи распределения набор пуст: слушатель пропускает всё.
	if !l.isAllowed(-1001) {
		t.Error("empty set must pass every chat")
	}
	if !l.isAllowed(42) {
		t.Error("empty set must pass every chat")
	}

	l.mu.Lock()
	l.allowed = map[int64]struct{}{-1001: {}, -1002: {}}
	l.mu.Unlock()

	if !l.isAllowed(-1001) {
		t.Error("assigned chat rejected")
	}
	if l.isAllowed(-1003) {
		t.Error("unassigned chat passed the filter")
	}
}
