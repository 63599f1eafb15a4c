// Package linearize maps every trainable parameter of a network to an offset in
// one flat vector, so generic vector optimizers can work on gradients and deltas.
//
// A linearization is a snapshot of the topology it was built from. Every call
// compares the network's topology version with the recorded one and fails with
// ErrStale once an edge or node was added; rebuild with New / NewFilters.
package linearize

import (
	"errors"
	"fmt"

	"github.com/sanonone/graphnet/pkg/graph"
)

var (
	// ErrStale is returned when the network topology changed after the linearizer was built.
	ErrStale = errors.New("linearizer is stale")
	// ErrLength is returned when a vector does not match the linearization size.
	ErrLength = errors.New("vector length does not match linearization")
	// ErrUnmapped is returned when a node, key or edge has no slots in the linearization.
	ErrUnmapped = errors.New("parameter not linearized")
)

type rowKey struct {
	node int
	key  uint64
}

type span struct {
	start, end int
}

// Linearizer assigns the weight-table parameters of every non-input node a
// disjoint slice of the flat vector. Order: nodes by id, keys ascending from 1,
// and within a key the bias followed by the weights in bit order.
type Linearizer struct {
	net     *graph.Network
	version uint64

	rows  map[rowKey]span
	nodes map[int]span
	order []rowKey
	size  int
}

// New builds the linearization of net's current topology.
func New(net *graph.Network) *Linearizer {
	l := &Linearizer{
		net:     net,
		version: net.TopologyVersion(),
		rows:    make(map[rowKey]span),
		nodes:   make(map[int]span),
	}
	for _, n := range net.Nodes() {
		if n.Role() == graph.RoleInput {
			continue
		}
		start := l.size
		table := n.Values()
		for key := uint64(1); key < uint64(table.Rows()); key++ {
			size := table.ParameterCount(key)
			rk := rowKey{node: n.ID(), key: key}
			l.rows[rk] = span{start: l.size, end: l.size + size}
			l.order = append(l.order, rk)
			l.size += size
		}
		l.nodes[n.ID()] = span{start: start, end: l.size}
	}
	return l
}

// Size returns the length of the flat vector.
func (l *Linearizer) Size() int { return l.size }

// Version returns the topology version the linearization was built from.
func (l *Linearizer) Version() uint64 { return l.version }

// Stale reports whether the network changed since the linearizer was built.
func (l *Linearizer) Stale() bool { return l.net.TopologyVersion() != l.version }

func (l *Linearizer) check() error {
	if l.Stale() {
		return fmt.Errorf("%w: built at version %d, network at %d", ErrStale, l.version, l.net.TopologyVersion())
	}
	return nil
}

// NewVector returns a zeroed vector of the linearization size.
func (l *Linearizer) NewVector() []float64 { return make([]float64, l.size) }

// Offset returns the slot of one parameter: index -1 is the bias of key, index
// i >= 0 its i-th weight.
func (l *Linearizer) Offset(nodeID int, key uint64, index int) (int, error) {
	if err := l.check(); err != nil {
		return 0, err
	}
	s, ok := l.rows[rowKey{node: nodeID, key: key}]
	if !ok {
		return 0, fmt.Errorf("%w: node %d key %b", ErrUnmapped, nodeID, key)
	}
	off := s.start + 1 + index
	if off < s.start || off >= s.end {
		return 0, fmt.Errorf("%w: node %d key %b index %d", ErrUnmapped, nodeID, key, index)
	}
	return off, nil
}

// Row returns the [start,end) slice of one key of one node.
func (l *Linearizer) Row(nodeID int, key uint64) (start, end int, err error) {
	if err := l.check(); err != nil {
		return 0, 0, err
	}
	s, ok := l.rows[rowKey{node: nodeID, key: key}]
	if !ok {
		return 0, 0, fmt.Errorf("%w: node %d key %b", ErrUnmapped, nodeID, key)
	}
	return s.start, s.end, nil
}

// NodeSlice returns the [start,end) slice holding every parameter of a node.
func (l *Linearizer) NodeSlice(nodeID int) (start, end int, err error) {
	if err := l.check(); err != nil {
		return 0, 0, err
	}
	s, ok := l.nodes[nodeID]
	if !ok {
		return 0, 0, fmt.Errorf("%w: node %d", ErrUnmapped, nodeID)
	}
	return s.start, s.end, nil
}

// Parameters gathers the current parameters into a flat vector.
func (l *Linearizer) Parameters() ([]float64, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	out := l.NewVector()
	for _, rk := range l.order {
		n, _ := l.net.Node(rk.node)
		s := l.rows[rk]
		bias, err := n.Values().Bias(rk.key)
		if err != nil {
			return nil, err
		}
		w, err := n.Values().Weights(rk.key)
		if err != nil {
			return nil, err
		}
		out[s.start] = bias
		copy(out[s.start+1:s.end], w)
	}
	return out, nil
}

// Apply adds a flat delta to the weight tables, slice by slice.
func (l *Linearizer) Apply(delta []float64) error {
	if err := l.check(); err != nil {
		return err
	}
	if len(delta) != l.size {
		return fmt.Errorf("%w: got %d, want %d", ErrLength, len(delta), l.size)
	}
	for _, rk := range l.order {
		n, _ := l.net.Node(rk.node)
		s := l.rows[rk]
		if err := n.Values().Adjust(rk.key, delta[s.start:s.end]); err != nil {
			return fmt.Errorf("node %d: %w", rk.node, err)
		}
	}
	return nil
}
