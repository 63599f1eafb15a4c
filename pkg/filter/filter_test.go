package filter

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestBernoulli(t *testing.T) {
	b := NewBernoulli(0.3)
	if got := b.FireProbability(123); math.Abs(got-0.3) > 1e-12 {
		t.Errorf("FireProbability = %v, want 0.3", got)
	}
	if NewBernoulli(1.7).P != 1 || NewBernoulli(-1).P != 0 {
		t.Error("probability not clamped")
	}

	rng := rand.New(rand.NewPCG(11, 12))
	fired := 0
	const trials = 20000
	for i := 0; i < trials; i++ {
		if b.Sample(0, rng) {
			fired++
		}
	}
	if rate := float64(fired) / trials; math.Abs(rate-0.3) > 0.02 {
		t.Errorf("sampled rate %v, want about 0.3", rate)
	}

	b.ApplyParameterUpdate([]float64{0.9})
	if b.P != 1 {
		t.Errorf("update past 1 gave P = %v", b.P)
	}
}

func TestNormal(t *testing.T) {
	n := NewNormal(2, 0.5)
	if got := n.FireProbability(2); math.Abs(got-1) > 1e-12 {
		t.Errorf("peak = %v, want 1", got)
	}
	left, right := n.FireProbability(1.5), n.FireProbability(2.5)
	if math.Abs(left-right) > 1e-12 {
		t.Errorf("not symmetric: %v vs %v", left, right)
	}
	if want := math.Exp(-0.5); math.Abs(left-want) > 1e-9 {
		t.Errorf("one sigma away = %v, want %v", left, want)
	}
	if n.FireProbability(10) >= left {
		t.Error("probability does not fall off with distance")
	}

	n.ApplyParameterUpdate([]float64{1, -5})
	if n.Mu != 3 || n.Sigma != MinSigma {
		t.Errorf("after update mu=%v sigma=%v", n.Mu, n.Sigma)
	}
	if NewNormal(0, 0).Sigma != MinSigma {
		t.Error("sigma not floored")
	}
}

func TestAlwaysFire(t *testing.T) {
	var f AlwaysFire
	if f.FireProbability(-1e9) != 1 || !f.Sample(0, nil) || f.NumParameters() != 0 {
		t.Error("AlwaysFire must always fire and have no parameters")
	}
}
