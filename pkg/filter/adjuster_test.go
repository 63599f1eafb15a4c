package filter

import (
	"math"
	"testing"
)

func TestBernoulliAdjusterMovesTowardEvidence(t *testing.T) {
	f := NewBernoulli(0.5)
	adj := NewBernoulliAdjuster(f, 0.5)

	adj.PrepareAdjustment(3, 0, true)
	adj.PrepareAdjustment(1, 0, false)
	adj.PrepareAdjustment(0, 0, false) // ignored

	delta := adj.Apply()
	if len(delta) != 1 {
		t.Fatalf("delta = %v", delta)
	}
	// Weighted fire rate 0.75, half the gap from 0.5.
	if math.Abs(delta[0]-0.125) > 1e-12 {
		t.Errorf("delta = %v, want 0.125", delta[0])
	}
	if f.P != 0.5 {
		t.Error("Apply mutated the filter")
	}
	if adj.Apply() != nil {
		t.Error("evidence not cleared after Apply")
	}
}

func TestNormalAdjusterMovesTowardEvidence(t *testing.T) {
	f := NewNormal(0, 1)
	adj := NewNormalAdjuster(f, 1)

	adj.PrepareAdjustment(1, 4, true)
	adj.PrepareAdjustment(1, 100, false) // did not fire
	delta := adj.Apply()
	if len(delta) != 2 {
		t.Fatalf("delta = %v", delta)
	}
	if delta[0] != 4 || delta[1] != 0 {
		t.Errorf("single observation: delta = %v, want [4 0]", delta)
	}

	adj.PrepareAdjustment(1, 1, true)
	adj.PrepareAdjustment(1, 3, true)
	delta = adj.Apply()
	// Mean 2, standard deviation 1.
	if math.Abs(delta[0]-2) > 1e-12 || math.Abs(delta[1]) > 1e-12 {
		t.Errorf("two observations: delta = %v, want [2 0]", delta)
	}

	f.ApplyParameterUpdate(delta)
	adj.PrepareAdjustment(1, 2, true)
	adj.PrepareAdjustment(1, 2.5, true)
	delta = adj.Apply()
	if delta[1] >= 0 {
		t.Errorf("tight evidence should narrow sigma, delta = %v", delta)
	}
}

func TestAdjusterRateDefaults(t *testing.T) {
	if NewBernoulliAdjuster(NewBernoulli(0.5), 0).Rate != 1 {
		t.Error("Bernoulli rate 0 should mean 1")
	}
	if NewNormalAdjuster(NewNormal(0, 1), 2).Rate != 1 {
		t.Error("Normal rate 2 should mean 1")
	}
}
