package graph

import (
	"fmt"
	"math/bits"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// row holds the parameters used when exactly the inputs of one subset key are active.
// weights are ordered by ascending bit position.
type row struct {
	weights []float64
	bias    float64
}

// ValueCombinator maps a subset of active incoming edges, encoded as a bitmask
// key, to a weighted sum plus bias. The table is dense: key k lives at index k,
// so it holds 2^fanIn rows and doubles every time an edge is added.
type ValueCombinator struct {
	rows  []row
	fanIn int
}

func newValueCombinator() *ValueCombinator {
	return &ValueCombinator{rows: []row{{}}}
}

// FanIn returns the number of inputs the table is sized for.
func (c *ValueCombinator) FanIn() int { return c.fanIn }

// Rows returns the number of rows, always 2^FanIn.
func (c *ValueCombinator) Rows() int { return len(c.rows) }

func (c *ValueCombinator) row(key uint64) (*row, error) {
	if key >= uint64(len(c.rows)) {
		return nil, fmt.Errorf("%w: key %b with fan-in %d", ErrBadKey, key, c.fanIn)
	}
	return &c.rows[key], nil
}

// Weights returns a copy of the weights of key, ordered by bit position.
func (c *ValueCombinator) Weights(key uint64) ([]float64, error) {
	r, err := c.row(key)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(r.weights))
	copy(out, r.weights)
	return out, nil
}

// Weight returns the weight of the i-th active input of key.
func (c *ValueCombinator) Weight(key uint64, i int) (float64, error) {
	r, err := c.row(key)
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= len(r.weights) {
		return 0, fmt.Errorf("%w: weight %d of key %b", ErrBadKey, i, key)
	}
	return r.weights[i], nil
}

// Bias returns the bias of key.
func (c *ValueCombinator) Bias(key uint64) (float64, error) {
	r, err := c.row(key)
	if err != nil {
		return 0, err
	}
	return r.bias, nil
}

// Merge computes dot(weights(key), values) + bias(key). values must be ordered
// by ascending bit position and hold one entry per bit set in key.
func (c *ValueCombinator) Merge(values []float64, key uint64) (float64, error) {
	r, err := c.row(key)
	if err != nil {
		return 0, err
	}
	if len(values) != len(r.weights) {
		return 0, fmt.Errorf("%w: key %b expects %d values, got %d", ErrBadKey, key, len(r.weights), len(values))
	}
	if len(values) == 0 {
		return r.bias, nil
	}
	return floats.Dot(r.weights, values) + r.bias, nil
}

// SetRow overwrites the parameters of key.
func (c *ValueCombinator) SetRow(key uint64, bias float64, weights []float64) error {
	r, err := c.row(key)
	if err != nil {
		return err
	}
	if len(weights) != len(r.weights) {
		return fmt.Errorf("%w: key %b has %d weights, got %d", ErrBadKey, key, len(r.weights), len(weights))
	}
	copy(r.weights, weights)
	r.bias = bias
	return nil
}

// ParameterCount returns 1 + popcount(key): the bias followed by one weight per active input.
func (c *ValueCombinator) ParameterCount(key uint64) int {
	return 1 + bits.OnesCount64(key)
}

// Adjust adds delta to the row of key. delta[0] is the bias, the rest the weights.
func (c *ValueCombinator) Adjust(key uint64, delta []float64) error {
	r, err := c.row(key)
	if err != nil {
		return err
	}
	if len(delta) != 1+len(r.weights) {
		return fmt.Errorf("%w: key %b takes %d parameters, got %d", ErrBadKey, key, 1+len(r.weights), len(delta))
	}
	r.bias += delta[0]
	floats.Add(r.weights, delta[1:])
	return nil
}

// grow makes room for one more input at bit position fanIn. Every existing key k
// keeps its row; key k|newBit gets a duplicate of row k extended with a small
// random weight for the new input, which is the highest bit and so comes last.
func (c *ValueCombinator) grow(rng *rand.Rand, scale float64) {
	n := len(c.rows)
	grown := make([]row, 2*n)
	copy(grown, c.rows)
	for k := 0; k < n; k++ {
		old := c.rows[k]
		w := make([]float64, len(old.weights)+1)
		copy(w, old.weights)
		w[len(old.weights)] = (2*rng.Float64() - 1) * scale
		grown[n+k] = row{weights: w, bias: old.bias}
	}
	if n == 1 {
		// The empty subset carries no evidence, the first real row starts random.
		grown[1].bias = (2*rng.Float64() - 1) * scale
	}
	c.rows = grown
	c.fanIn++
}

// ProbabilityCombinator computes the probability of one hypothesis from the
// probabilities of its root outcomes and the transfer probabilities of their signals.
type ProbabilityCombinator interface {
	// Combine returns the joint probability of the hypothesis and its conditional
	// part, the probability that exactly the senders in included fired given the roots.
	// Bit j of included refers to index j of the two slices.
	Combine(rootProbabilities, transfers []float64, included uint64) (joint, conditional float64)
}

// IndependentCombinator treats senders as independent: the conditional part is
// the product of p for included senders and 1-p for the others.
type IndependentCombinator struct{}

func (IndependentCombinator) Combine(rootProbabilities, transfers []float64, included uint64) (float64, float64) {
	conditional := 1.0
	for j, p := range transfers {
		if included&(1<<uint(j)) != 0 {
			conditional *= p
		} else {
			conditional *= 1 - p
		}
	}
	joint := conditional
	for _, p := range rootProbabilities {
		joint *= p
	}
	return joint, conditional
}
