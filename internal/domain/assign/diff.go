package assign

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// sampleLimit — сколько chat_id показывать в сводке по каждому аккаунту.
const sampleLimit = 5

// Diff сравнивает два назначения и возвращает добавленные и убранные чаты
// по каждому аккаунту. Аккаунты без изменений в результат не попадают.
func Diff(prev, next map[string][]int64) (adds, removes map[string][]int64) {
	adds = make(map[string][]int64)
	removes = make(map[string][]int64)

	ids := make(map[string]struct{}, len(prev)+len(next))
	for id := range prev {
		ids[id] = struct{}{}
	}
	for id := range next {
		ids[id] = struct{}{}
	}

	for id := range ids {
		prevSet := toSet(prev[id])
		nextSet := toSet(next[id])

		var added, removed []int64
		for chat := range nextSet {
			if _, ok := prevSet[chat]; !ok {
				added = append(added, chat)
			}
		}
		for chat := range prevSet {
			if _, ok := nextSet[chat]; !ok {
				removed = append(removed, chat)
			}
		}
		sortInt64(added)
		sortInt64(removed)
		if len(added) > 0 {
			adds[id] = added
		}
		if len(removed) > 0 {
			removes[id] = removed
		}
	}
	return adds, removes
}

// Summary строит человекочитаемую сводку пересборки назначения: покрытие,
// разброс нагрузки до/после и образцы изменений по каждому аккаунту.
// Сводка сохраняется в last_summary хранилища назначений.
func Summary(prev, next map[string][]int64, weights map[int64]float64, totalChats int) string {
	adds, removes := Diff(prev, next)

	var b strings.Builder
	fmt.Fprintf(&b, "coverage %d/%d -> %d/%d; ",
		countAssigned(prev), totalChats, countAssigned(next), totalChats)
	fmt.Fprintf(&b, "load spread %s -> %s", loadSpread(prev, weights), loadSpread(next, weights))

	ids := make([]string, 0, len(next))
	for id := range next {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		fmt.Fprintf(&b, "; %s: %d chats", id, len(next[id]))
		if added := adds[id]; len(added) > 0 {
			fmt.Fprintf(&b, " +%d %s", len(added), sampleIDs(added))
		}
		if removed := removes[id]; len(removed) > 0 {
			fmt.Fprintf(&b, " -%d %s", len(removed), sampleIDs(removed))
		}
	}
	return b.String()
}

func countAssigned(asg map[string][]int64) int {
	total := 0
	for _, chats := range asg {
		total += len(chats)
	}
	return total
}

// loadSpread форматирует минимальную и максимальную взвешенную нагрузку.
func loadSpread(asg map[string][]int64, weights map[int64]float64) string {
	if len(asg) == 0 {
		return "[0.0..0.0]"
	}
	minLoad, maxLoad := -1.0, 0.0
	for _, chats := range asg {
		load := 0.0
		for _, chat := range chats {
			w, ok := weights[chat]
			if !ok || w <= 0 {
				w = 1.0
			}
			load += w
		}
		if minLoad < 0 || load < minLoad {
			minLoad = load
		}
		if load > maxLoad {
			maxLoad = load
		}
	}
	if minLoad < 0 {
		minLoad = 0
	}
	return fmt.Sprintf("[%.1f..%.1f]", minLoad, maxLoad)
}

func sampleIDs(chats []int64) string {
	limit := min(len(chats), sampleLimit)
	parts := make([]string, 0, limit)
	for _, chat := range chats[:limit] {
		parts = append(parts, strconv.FormatInt(chat, 10))
	}
	s := "(" + strings.Join(parts, ",")
	if len(chats) > limit {
		s += ",…"
	}
	return s + ")"
}

func toSet(chats []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(chats))
	for _, c := range chats {
		set[c] = struct{}{}
	}
	return set
}

func sortInt64(s []int64) {
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
}
