package graph

import (
	"math"
	"math/rand/v2"
	"testing"
)

// fixedFilter fires with a constant probability.
type fixedFilter struct{ p float64 }

func (f fixedFilter) FireProbability(float64) float64       { return f.p }
func (f fixedFilter) Sample(_ float64, rng *rand.Rand) bool { return rng.Float64() < f.p }
func (fixedFilter) NumParameters() int                      { return 0 }
func (fixedFilter) Parameters() []float64                   { return nil }
func (fixedFilter) ApplyParameterUpdate([]float64)          {}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Workers = 2
	opts.Seed = 7
	return opts
}

// fanIn builds len(probs) inputs all feeding one hidden node, input i on bit i.
func fanIn(t *testing.T, opts Options, probs []float64) (*Network, []*Node, *Node) {
	t.Helper()
	net := NewNetwork(opts)
	var inputs []*Node
	for range probs {
		inputs = append(inputs, net.AddInput())
	}
	hidden := net.AddHidden(identity{})
	for i, in := range inputs {
		if _, err := net.Connect(in, hidden, fixedFilter{p: probs[i]}, nil); err != nil {
			t.Fatalf("connect input %d: %v", i, err)
		}
	}
	return net, inputs, hidden
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
