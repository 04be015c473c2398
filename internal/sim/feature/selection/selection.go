package selection

// Source is the part of *math/rand.Rand the selector needs.
type Source interface {
	Intn(n int) int
}

// Pick returns the index of a weight chosen proportionally to its value.
// Negative weights count as zero; zero-weight entries are never chosen.
// ok is false when the total weight is zero.
func Pick(weights []int, r Source) (idx int, ok bool) {
	total := 0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return -1, false
	}
	roll := r.Intn(total)
	acc := 0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		acc += w
		if roll < acc {
			return i, true
		}
	}
	return -1, false
}

// Choose is Pick over arbitrary items.
func Choose[T any](items []T, weight func(T) int, r Source) (T, bool) {
	var zero T
	if len(items) == 0 {
		return zero, false
	}
	ws := make([]int, len(items))
	for i, it := range items {
		ws[i] = weight(it)
	}
	i, ok := Pick(ws, r)
	if !ok {
		return zero, false
	}
	return items[i], true
}
