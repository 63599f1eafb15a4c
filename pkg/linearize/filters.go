package linearize

import (
	"fmt"

	"github.com/sanonone/graphnet/pkg/graph"
)

// FilterLinearizer assigns every edge filter's parameters a slice of a flat
// vector, edges ordered by receiver id then bit position.
type FilterLinearizer struct {
	net     *graph.Network
	version uint64

	edges []*graph.Edge
	spans map[*graph.Edge]span
	size  int
}

// NewFilters builds the filter linearization of net's current topology.
func NewFilters(net *graph.Network) *FilterLinearizer {
	l := &FilterLinearizer{
		net:     net,
		version: net.TopologyVersion(),
		spans:   make(map[*graph.Edge]span),
	}
	for _, e := range net.Edges() {
		n := e.Filter().NumParameters()
		l.edges = append(l.edges, e)
		l.spans[e] = span{start: l.size, end: l.size + n}
		l.size += n
	}
	return l
}

// Size returns the length of the flat vector.
func (l *FilterLinearizer) Size() int { return l.size }

// Stale reports whether the network changed since the linearizer was built.
func (l *FilterLinearizer) Stale() bool { return l.net.TopologyVersion() != l.version }

func (l *FilterLinearizer) check() error {
	if l.Stale() {
		return fmt.Errorf("%w: built at version %d, network at %d", ErrStale, l.version, l.net.TopologyVersion())
	}
	return nil
}

// NewVector returns a zeroed vector of the linearization size.
func (l *FilterLinearizer) NewVector() []float64 { return make([]float64, l.size) }

// Edges returns the edges in linearization order.
func (l *FilterLinearizer) Edges() []*graph.Edge { return l.edges }

// Span returns the [start,end) slice of an edge's filter parameters.
func (l *FilterLinearizer) Span(e *graph.Edge) (start, end int, err error) {
	if err := l.check(); err != nil {
		return 0, 0, err
	}
	s, ok := l.spans[e]
	if !ok {
		return 0, 0, fmt.Errorf("%w: edge %d->%d", ErrUnmapped, e.Sender().ID(), e.Receiver().ID())
	}
	return s.start, s.end, nil
}

// Parameters gathers every filter's current parameters.
func (l *FilterLinearizer) Parameters() ([]float64, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	out := l.NewVector()
	for _, e := range l.edges {
		s := l.spans[e]
		copy(out[s.start:s.end], e.Filter().Parameters())
	}
	return out, nil
}

// Apply hands every filter its slice of delta. Edges whose slice is all zero are skipped.
func (l *FilterLinearizer) Apply(delta []float64) error {
	if err := l.check(); err != nil {
		return err
	}
	if len(delta) != l.size {
		return fmt.Errorf("%w: got %d, want %d", ErrLength, len(delta), l.size)
	}
	for _, e := range l.edges {
		s := l.spans[e]
		if s.start == s.end || allZero(delta[s.start:s.end]) {
			continue
		}
		e.Filter().ApplyParameterUpdate(delta[s.start:s.end])
	}
	return nil
}

func allZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
