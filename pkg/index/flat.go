package index

import (
	"container/heap"
	"fmt"
)

// RankExact performs a brute-force exact ranking of the given candidate set
// by L2 distance to the query. It is the fallback for filtered searches
// whose candidate set is small enough that scanning beats probing the IVF.
// Ties break on ascending id, matching IVF.Search ordering.
func RankExact(query []float32, ids []int64, vectors [][]float32, k int) ([]Match, error) {
	if len(ids) != len(vectors) {
		return nil, fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if k < 1 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	// Max-heap of the k best so far; the root is the worst of the kept set.
	h := &matchHeap{}
	heap.Init(h)

	for i, v := range vectors {
		if len(v) != len(query) {
			return nil, fmt.Errorf("candidate %d has dimension %d, expected %d", ids[i], len(v), len(query))
		}
		m := Match{ID: ids[i], Distance: l2Distance(query, v)}
		switch {
		case h.Len() < k:
			heap.Push(h, m)
		case worseThan(m, (*h)[0]):
			// keep current top-k
		default:
			heap.Pop(h)
			heap.Push(h, m)
		}
	}

	out := make([]Match, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Match)
	}
	return out, nil
}

// worseThan reports whether a ranks strictly after b (farther, or same
// distance with a larger id).
func worseThan(a, b Match) bool {
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return a.ID > b.ID
}

type matchHeap []Match

func (h matchHeap) Len() int            { return len(h) }
func (h matchHeap) Less(i, j int) bool  { return worseThan(h[i], h[j]) }
func (h matchHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *matchHeap) Push(x interface{}) { *h = append(*h, x.(Match)) }
func (h *matchHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
