package util

import (
	"github.com/emirpasic/gods/trees/binaryheap"
)

// TopN returns the n greatest items by less, greatest first. It keeps a
// min-heap of at most n items, so the input is scanned once.
func TopN[T any](items []T, n int, less func(a, b T) bool) []T {
	if n <= 0 || len(items) == 0 {
		return nil
	}
	h := binaryheap.NewWith(func(a, b interface{}) int {
		x, y := a.(T), b.(T)
		switch {
		case less(x, y):
			return -1
		case less(y, x):
			return 1
		}
		return 0
	})
	for _, it := range items {
		h.Push(it)
		if h.Size() > n {
			h.Pop()
		}
	}

	out := make([]T, h.Size())
	for i := len(out) - 1; i >= 0; i-- {
		v, _ := h.Pop()
		out[i] = v.(T)
	}
	return out
}
