// Package queue derives the active review queue from a base collection of
// account ids: an order-preserving decision filter plus a sort order.
// Everything here is pure; callers own all state.
package queue

import (
	"fmt"
	"math/rand/v2"
)

// Order is the queue sort order.
type Order string

const (
	// Oldest walks the longest-followed accounts first (reverse of the
	// directory's default order).
	Oldest Order = "oldest"

	// Newest walks the most-recently-followed accounts first (the directory's
	// default order, kept as-is).
	Newest Order = "newest"

	// Random walks a fresh uniform permutation. Sorting under Random
	// reshuffles on every call; the permutation is deliberately not cached.
	Random Order = "random"
)

// ParseOrder converts a persisted or user-supplied string into an Order.
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case Oldest, Newest, Random:
		return Order(s), nil
	default:
		return "", fmt.Errorf("unknown sort order %q", s)
	}
}

// FilterIDs returns base without any id present in kept or unfollowed,
// preserving base order. The input slice is never mutated.
func FilterIDs(base []string, kept, unfollowed map[string]struct{}) []string {
	out := make([]string, 0, len(base))
	for _, id := range base {
		if _, ok := kept[id]; ok {
			continue
		}
		if _, ok := unfollowed[id]; ok {
			continue
		}
		out = append(out, id)
	}
	return out
}

// SortIDs permutes ids according to order. The input slice is never mutated;
// Newest returns the input unchanged, Oldest and Random return fresh slices.
func SortIDs(ids []string, order Order) []string {
	switch order {
	case Newest:
		return ids
	case Oldest:
		out := make([]string, len(ids))
		for i, id := range ids {
			out[len(ids)-1-i] = id
		}
		return out
	case Random:
		out := make([]string, len(ids))
		copy(out, ids)
		rand.Shuffle(len(out), func(i, j int) {
			out[i], out[j] = out[j], out[i]
		})
		return out
	default:
		return ids
	}
}
