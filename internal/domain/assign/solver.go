// Package assign реализует жадное сбалансированное назначение чатов на
// аккаунты-слушатели: максимальное покрытие при ограничении ёмкостей,
// детерминированное при одинаковых входах.
package assign

import (
	"math"
	"sort"
)

// Problem — вход решателя. Capacities может не содержать аккаунт: тогда
// берётся DefaultCapacity; значение <= 0 трактуется как «без ограничения».
type Problem struct {
	Identities      []string
	Chats           []int64
	Eligible        map[int64][]string
	Weights         map[int64]float64
	Capacities      map[string]float64
	DefaultCapacity float64
}

// Solve распределяет чаты по аккаунтам.
//
// Алгоритм:
//  1. чаты без кандидатов отбрасываются;
//  2. оставшиеся сортируются по (возрастание числа кандидатов, убывание веса,
//     chat_id) — сначала «редкие», затем «тяжёлые»;
//  3. для каждого чата из кандидатов с достаточным остатком ёмкости выбирается
//     аккаунт с минимальной парой (нагрузка, остаточная гибкость), где
//     гибкость — число ещё не назначенных чатов, доступных аккаунту;
//     равенство разрешается лексикографически по id аккаунта.
//
// Результат содержит ключ для каждого аккаунта из Identities, в том числе с
// пустым набором. Наборы отсортированы по возрастанию chat_id.
func Solve(p Problem) map[string][]int64 {
	assignment := make(map[string][]int64, len(p.Identities))
	for _, id := range p.Identities {
		assignment[id] = []int64{}
	}

	known := make(map[string]struct{}, len(p.Identities))
	for _, id := range p.Identities {
		known[id] = struct{}{}
	}

	type candidate struct {
		chat     int64
		eligible []string
	}
	candidates := make([]candidate, 0, len(p.Chats))
	unassigned := make(map[int64]struct{}, len(p.Chats))
	for _, chat := range p.Chats {
		eligible := make([]string, 0, len(p.Eligible[chat]))
		for _, id := range p.Eligible[chat] {
			if _, ok := known[id]; ok {
				eligible = append(eligible, id)
			}
		}
		if len(eligible) == 0 {
			continue
		}
		sort.Strings(eligible)
		candidates = append(candidates, candidate{chat: chat, eligible: eligible})
		unassigned[chat] = struct{}{}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if len(a.eligible) != len(b.eligible) {
			return len(a.eligible) < len(b.eligible)
		}
		wa, wb := p.weight(a.chat), p.weight(b.chat)
		if wa != wb {
			return wa > wb
		}
		return a.chat < b.chat
	})

	load := make(map[string]float64, len(p.Identities))

	for _, cand := range candidates {
		w := p.weight(cand.chat)
		best := ""
		bestLoad := math.Inf(1)
		bestFlex := math.MaxInt

		for _, id := range cand.eligible {
			capacity := p.capacity(id)
			if capacity > 0 && load[id]+w > capacity {
				continue
			}
			flex := p.flexibility(id, unassigned)
			switch {
			case load[id] < bestLoad,
				load[id] == bestLoad && flex < bestFlex,
				load[id] == bestLoad && flex == bestFlex && (best == "" || id < best):
				best = id
				bestLoad = load[id]
				bestFlex = flex
			}
		}

		if best == "" {
			// Ни у кого не осталось ёмкости: чат остаётся непокрытым.
			continue
		}

		assignment[best] = append(assignment[best], cand.chat)
		load[best] += w
		delete(unassigned, cand.chat)
	}

	for id := range assignment {
		sort.Slice(assignment[id], func(i, j int) bool { return assignment[id][i] < assignment[id][j] })
	}
	return assignment
}

// weight возвращает вес чата; отсутствующий вес считается единичным.
func (p Problem) weight(chat int64) float64 {
	if w, ok := p.Weights[chat]; ok && w > 0 {
		return w
	}
	return 1.0
}

// capacity возвращает ёмкость аккаунта; <= 0 — без ограничения.
func (p Problem) capacity(id string) float64 {
	if c, ok := p.Capacities[id]; ok {
		return c
	}
	return p.DefaultCapacity
}

// flexibility — число ещё не назначенных чатов, для которых аккаунт кандидат.
func (p Problem) flexibility(id string, unassigned map[int64]struct{}) int {
	count := 0
	for chat := range unassigned {
		for _, cand := range p.Eligible[chat] {
			if cand == id {
				count++
				break
			}
		}
	}
	return count
}
