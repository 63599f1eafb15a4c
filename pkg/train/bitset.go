package train

// edgeSet marks edges, by filter-linearization index, whose adjuster received
// evidence during a backward pass.
type edgeSet struct {
	buckets []uint64
}

func newEdgeSet(capacity int) *edgeSet {
	return &edgeSet{buckets: make([]uint64, (capacity>>6)+1)}
}

func (s *edgeSet) grow(n int) {
	needed := (n >> 6) + 1
	if len(s.buckets) < needed {
		grown := make([]uint64, needed)
		copy(grown, s.buckets)
		s.buckets = grown
	}
}

func (s *edgeSet) add(n int) {
	if n>>6 >= len(s.buckets) {
		s.grow(n)
	}
	// n & 63 == n % 64
	s.buckets[n>>6] |= 1 << (uint(n) & 63)
}

func (s *edgeSet) has(n int) bool {
	if n < 0 || n>>6 >= len(s.buckets) {
		return false
	}
	return s.buckets[n>>6]&(1<<(uint(n)&63)) != 0
}

func (s *edgeSet) clear() {
	for i := range s.buckets {
		s.buckets[i] = 0
	}
}
