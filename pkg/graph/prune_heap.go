package graph

import "container/heap"

// candidate is a combination that survived enumeration so far. roots holds the
// chosen signal index per sender, mask the included senders (bit j = sender j).
type candidate struct {
	joint       float64
	conditional float64
	net         float64
	activated   float64
	key         uint64
	mask        uint64
	roots       []int
}

// better orders candidates by descending probability, then ascending key, then
// ascending root indices, so pruning never depends on enumeration order.
func better(a, b *candidate) bool {
	if a.joint != b.joint {
		return a.joint > b.joint
	}
	if a.key != b.key {
		return a.key < b.key
	}
	for i := range a.roots {
		if a.roots[i] != b.roots[i] {
			return a.roots[i] < b.roots[i]
		}
	}
	return false
}

// worstFirst is a heap of candidates with the least probable one on top.
// It keeps the best K seen so far: once full, a newcomer only enters by
// replacing the top.
type worstFirst []*candidate

// Len returns the size of the heap.
func (h worstFirst) Len() int { return len(h) }

// Less puts the worse candidate closer to the top.
func (h worstFirst) Less(i, j int) bool { return better(h[j], h[i]) }

// Swap swaps the elements at indices i and j.
func (h worstFirst) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push adds an element to the heap.
func (h *worstFirst) Push(x any) { *h = append(*h, x.(*candidate)) }

// Pop removes and returns the worst candidate.
func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return x
}

// newWorstFirst creates an empty heap with room for capacity candidates.
func newWorstFirst(capacity int) *worstFirst {
	h := make(worstFirst, 0, capacity)
	heap.Init(&h)
	return &h
}

// offer adds c when the heap has room (limit <= 0 means unbounded) or when c
// beats the current worst. c.roots may alias the caller's scratch slice; it is
// copied only when c is kept. It reports whether c was kept.
func (h *worstFirst) offer(c candidate, limit int) bool {
	full := limit > 0 && h.Len() >= limit
	if full && !better(&c, (*h)[0]) {
		return false
	}
	kept := c
	kept.roots = append([]int(nil), c.roots...)
	if !full {
		heap.Push(h, &kept)
		return true
	}
	(*h)[0] = &kept
	heap.Fix(h, 0)
	return true
}
