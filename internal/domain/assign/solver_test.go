package assign

import (
	"reflect"
	"strings"
	"testing"
)

// smokeProblem повторяет ручную проверку балансировщика: три аккаунта,
// двадцать чатов с разной доступностью, единичные веса, общая ёмкость 100.
func smokeProblem() Problem {
	accounts := []string{"+100000001", "+100000002", "+100000003"}
	eligible := make(map[int64][]string, 20)
	chats := make([]int64, 0, 20)
	for chat := int64(1); chat <= 20; chat++ {
		chats = append(chats, chat)
		switch {
		case chat <= 10:
			eligible[chat] = []string{"+100000001", "+100000002", "+100000003"}
		case chat <= 15:
			eligible[chat] = []string{"+100000001", "+100000002"}
		case chat <= 18:
			eligible[chat] = []string{"+100000002", "+100000003"}
		default:
			eligible[chat] = []string{"+100000003"}
		}
	}
	weights := make(map[int64]float64, 20)
	for _, chat := range chats {
		weights[chat] = 1.0
	}
	capacities := make(map[string]float64, len(accounts))
	for _, a := range accounts {
		capacities[a] = 100.0
	}
	return Problem{
		Identities: accounts,
		Chats:      chats,
		Eligible:   eligible,
		Weights:    weights,
		Capacities: capacities,
	}
}

func TestSolveSmoke(t *testing.T) {
	t.Parallel()

	p := smokeProblem()
	got := Solve(p)

	// Полное покрытие: каждый чат назначен ровно одному аккаунту.
	seen := make(map[int64]string)
	for id, chats := range got {
		for _, chat := range chats {
			if prev, dup := seen[chat]; dup {
				t.Errorf("chat %d assigned to both %s and %s", chat, prev, id)
			}
			seen[chat] = id
		}
	}
	if len(seen) != 20 {
		t.Errorf("covered %d chats, want 20", len(seen))
	}

	// Назначения только из числа кандидатов.
	for id, chats := range got {
		for _, chat := range chats {
			found := false
			for _, cand := range p.Eligible[chat] {
				if cand == id {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("chat %d assigned to ineligible %s", chat, id)
			}
		}
	}

	// Баланс: разброс числа чатов не больше одного.
	minCount, maxCount := 20, 0
	for _, chats := range got {
		if len(chats) < minCount {
			minCount = len(chats)
		}
		if len(chats) > maxCount {
			maxCount = len(chats)
		}
	}
	if maxCount-minCount > 1 {
		t.Errorf("load imbalance: min=%d max=%d", minCount, maxCount)
	}
}

func TestSolveDeterministic(t *testing.T) {
	t.Parallel()

	first := Solve(smokeProblem())
	second := Solve(smokeProblem())
	if !reflect.DeepEqual(first, second) {
		t.Errorf("solver is not deterministic:\n first=%v\nsecond=%v", first, second)
	}
}

func TestSolveDropsChatsWithoutCandidates(t *testing.T) {
	t.Parallel()

	got := Solve(Problem{
		Identities: []string{"a"},
		Chats:      []int64{1, 2},
		Eligible:   map[int64][]string{1: {"a"}},
	})
	want := map[string][]int64{"a": {1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Solve = %v, want %v", got, want)
	}
}

func TestSolveRespectsCapacity(t *testing.T) {
	t.Parallel()

	got := Solve(Problem{
		Identities: []string{"a"},
		Chats:      []int64{1, 2, 3},
		Eligible: map[int64][]string{
			1: {"a"}, 2: {"a"}, 3: {"a"},
		},
		Weights:    map[int64]float64{1: 5, 2: 5, 3: 5},
		Capacities: map[string]float64{"a": 10},
	})
	if len(got["a"]) != 2 {
		t.Errorf("assigned %d chats, want 2 (capacity 10, weight 5)", len(got["a"]))
	}
}

func TestSolvePrefersLeastLoaded(t *testing.T) {
	t.Parallel()

	// Чат 1 доступен только b; чат 2 должен уйти наименее нагруженному a.
	got := Solve(Problem{
		Identities: []string{"a", "b"},
		Chats:      []int64{1, 2},
		Eligible: map[int64][]string{
			1: {"b"},
			2: {"a", "b"},
		},
	})
	want := map[string][]int64{"a": {2}, "b": {1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Solve = %v, want %v", got, want)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	prev := map[string][]int64{"a": {1, 2}, "b": {3}}
	next := map[string][]int64{"a": {2, 4}, "b": {3}, "c": {5}}

	adds, removes := Diff(prev, next)

	wantAdds := map[string][]int64{"a": {4}, "c": {5}}
	wantRemoves := map[string][]int64{"a": {1}}
	if !reflect.DeepEqual(adds, wantAdds) {
		t.Errorf("adds = %v, want %v", adds, wantAdds)
	}
	if !reflect.DeepEqual(removes, wantRemoves) {
		t.Errorf("removes = %v, want %v", removes, wantRemoves)
	}
}

func TestSummaryMentionsCoverageAndCounts(t *testing.T) {
	t.Parallel()

	prev := map[string][]int64{"a": {1}}
	next := map[string][]int64{"a": {1, 2}, "b": {3}}
	got := Summary(prev, next, map[int64]float64{1: 1, 2: 1, 3: 1}, 3)

	for _, fragment := range []string{"coverage 1/3 -> 3/3", "a: 2 chats", "b: 1 chats", "+1 (2)"} {
		if !strings.Contains(got, fragment) {
			t.Errorf("summary %q missing fragment %q", got, fragment)
		}
	}
}
