// Package filter provides the stochastic gates edges use and the expectation
// adjusters that fit them to the evidence collected by a backward pass.
//
// Filters implement graph.Filter, adjusters graph.ExpectationAdjuster. An
// adjuster never mutates its filter: Apply returns a parameter delta that the
// trainer routes through the filter linearizer.
package filter

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sanonone/graphnet/pkg/graph"
)

var (
	_ graph.Filter = AlwaysFire{}
	_ graph.Filter = (*Bernoulli)(nil)
	_ graph.Filter = (*Normal)(nil)
)

// AlwaysFire lets every value through.
type AlwaysFire struct{}

func (AlwaysFire) FireProbability(float64) float64 { return 1 }
func (AlwaysFire) Sample(float64, *rand.Rand) bool { return true }
func (AlwaysFire) NumParameters() int              { return 0 }
func (AlwaysFire) Parameters() []float64           { return nil }
func (AlwaysFire) ApplyParameterUpdate([]float64)  {}

// Bernoulli fires with a constant probability P, whatever the value.
type Bernoulli struct {
	P float64
}

// NewBernoulli returns a Bernoulli gate, p is clamped to [0,1].
func NewBernoulli(p float64) *Bernoulli {
	return &Bernoulli{P: clamp01(p)}
}

func (b *Bernoulli) FireProbability(float64) float64 { return b.P }

func (b *Bernoulli) Sample(value float64, rng *rand.Rand) bool {
	return rng.Float64() < b.FireProbability(value)
}

func (b *Bernoulli) NumParameters() int    { return 1 }
func (b *Bernoulli) Parameters() []float64 { return []float64{b.P} }

func (b *Bernoulli) ApplyParameterUpdate(delta []float64) {
	if len(delta) < 1 {
		return
	}
	b.P = clamp01(b.P + delta[0])
}

// MinSigma is the smallest width a Normal gate can be fitted to.
const MinSigma = 1e-3

// Normal is a bell-shaped gate centred on Mu: a value fires with probability
// pdf(x)/pdf(Mu), which is 1 at the centre and falls off with width Sigma.
type Normal struct {
	Mu    float64
	Sigma float64
}

// NewNormal returns a Normal gate, sigma is floored at MinSigma.
func NewNormal(mu, sigma float64) *Normal {
	return &Normal{Mu: mu, Sigma: math.Max(sigma, MinSigma)}
}

func (n *Normal) FireProbability(value float64) float64 {
	d := distuv.Normal{Mu: n.Mu, Sigma: n.Sigma}
	peak := d.Prob(n.Mu)
	if peak == 0 {
		return 0
	}
	return clamp01(d.Prob(value) / peak)
}

func (n *Normal) Sample(value float64, rng *rand.Rand) bool {
	return rng.Float64() < n.FireProbability(value)
}

func (n *Normal) NumParameters() int    { return 2 }
func (n *Normal) Parameters() []float64 { return []float64{n.Mu, n.Sigma} }

func (n *Normal) ApplyParameterUpdate(delta []float64) {
	if len(delta) < 2 {
		return
	}
	n.Mu += delta[0]
	n.Sigma = math.Max(n.Sigma+delta[1], MinSigma)
}

func clamp01(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
