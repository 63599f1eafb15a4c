package filter

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/sanonone/graphnet/pkg/graph"
)

var (
	_ graph.ExpectationAdjuster = (*BernoulliAdjuster)(nil)
	_ graph.ExpectationAdjuster = (*NormalAdjuster)(nil)
)

// BernoulliAdjuster moves P toward the weighted rate at which the edge fired
// in the hypotheses that received error.
type BernoulliAdjuster struct {
	filter *Bernoulli
	// Rate is the fraction of the gap closed per Apply, in (0,1].
	Rate float64

	fired   []float64
	weights []float64
}

// NewBernoulliAdjuster returns an adjuster for f. A rate outside (0,1] means 1.
func NewBernoulliAdjuster(f *Bernoulli, rate float64) *BernoulliAdjuster {
	if rate <= 0 || rate > 1 {
		rate = 1
	}
	return &BernoulliAdjuster{filter: f, Rate: rate}
}

func (a *BernoulliAdjuster) PrepareAdjustment(weight, value float64, fired bool) {
	if weight <= 0 || math.IsNaN(weight) {
		return
	}
	x := 0.0
	if fired {
		x = 1
	}
	a.fired = append(a.fired, x)
	a.weights = append(a.weights, weight)
}

func (a *BernoulliAdjuster) Apply() []float64 {
	if len(a.weights) == 0 {
		return nil
	}
	target := stat.Mean(a.fired, a.weights)
	a.fired, a.weights = a.fired[:0], a.weights[:0]
	return []float64{a.Rate * (target - a.filter.P)}
}

// NormalAdjuster moves Mu and Sigma toward the weighted mean and standard
// deviation of the values that fired. Sigma only moves once at least two
// distinct observations were seen.
type NormalAdjuster struct {
	filter *Normal
	// Rate is the fraction of the gap closed per Apply, in (0,1].
	Rate float64

	values  []float64
	weights []float64
}

// NewNormalAdjuster returns an adjuster for f. A rate outside (0,1] means 1.
func NewNormalAdjuster(f *Normal, rate float64) *NormalAdjuster {
	if rate <= 0 || rate > 1 {
		rate = 1
	}
	return &NormalAdjuster{filter: f, Rate: rate}
}

func (a *NormalAdjuster) PrepareAdjustment(weight, value float64, fired bool) {
	if !fired || weight <= 0 || math.IsNaN(weight) || math.IsInf(value, 0) || math.IsNaN(value) {
		return
	}
	a.values = append(a.values, value)
	a.weights = append(a.weights, weight)
}

func (a *NormalAdjuster) Apply() []float64 {
	if len(a.weights) == 0 {
		return nil
	}
	mean := stat.Mean(a.values, a.weights)
	delta := []float64{a.Rate * (mean - a.filter.Mu), 0}
	if len(a.values) > 1 {
		sq := make([]float64, len(a.values))
		for i, v := range a.values {
			sq[i] = (v - mean) * (v - mean)
		}
		if sigma := math.Sqrt(stat.Mean(sq, a.weights)); sigma > 0 {
			delta[1] = a.Rate * (math.Max(sigma, MinSigma) - a.filter.Sigma)
		}
	}
	a.values, a.weights = a.values[:0], a.weights[:0]
	return delta
}
