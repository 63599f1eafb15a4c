package train

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/sanonone/graphnet/pkg/activation"
	"github.com/sanonone/graphnet/pkg/filter"
	"github.com/sanonone/graphnet/pkg/graph"
	"github.com/sanonone/graphnet/pkg/linearize"
)

// chain builds input -> hidden -> output, both linear, with fixed weights:
// hidden = 0.5*x + 0.1, output = 0.7*hidden + 0.2.
func chain(t *testing.T, act graph.Activation, second graph.Filter, adj graph.ExpectationAdjuster) (*graph.Network, *graph.Node, *graph.Node, *graph.Node) {
	t.Helper()
	net := graph.NewNetwork(graph.DefaultOptions())
	in := net.AddInput()
	h := net.AddHidden(activation.Linear{})
	out := net.AddOutput(act)
	if _, err := net.Connect(in, h, filter.AlwaysFire{}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := net.Connect(h, out, second, adj); err != nil {
		t.Fatal(err)
	}
	if err := h.Values().SetRow(1, 0.1, []float64{0.5}); err != nil {
		t.Fatal(err)
	}
	if err := out.Values().SetRow(1, 0.2, []float64{0.7}); err != nil {
		t.Fatal(err)
	}
	return net, in, h, out
}

func doubling(in, out int) Episode {
	return Episode{
		{Inputs: map[int]float64{in: 1}},
		{},
		{Targets: map[int]float64{out: 2}},
	}
}

func newTrainer(net *graph.Network, opts Options) *Trainer {
	return New(net, linearize.New(net), linearize.NewFilters(net), opts)
}

func assertVector(t *testing.T, name string, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: length %d, want %d", name, len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("%s[%d] = %v, want %v", name, i, got[i], want[i])
		}
	}
}

func TestGradientFiniteness(t *testing.T) {
	net, in, _, out := chain(t, activation.Linear{}, filter.AlwaysFire{}, nil)
	tr := newTrainer(net, DefaultOptions())

	res, err := tr.Run(context.Background(), doubling(in.ID(), out.ID()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, g := range res.Gradient {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			t.Fatalf("gradient[%d] = %v", i, g)
		}
	}
	// Output error 0.62 - 2 = -1.38, pushed back through weight 0.7 as -0.966,
	// both averaged over two contributing steps.
	assertVector(t, "gradient", res.Gradient, []float64{-0.483, -0.483, -0.69, -0.414})
	if res.ContributingSteps != 2 {
		t.Errorf("contributing steps = %d, want 2", res.ContributingSteps)
	}
	if math.Abs(res.Loss-0.5*1.38*1.38) > 1e-9 {
		t.Errorf("loss = %v", res.Loss)
	}
	if res.Gradient[0] == 0 || res.Gradient[1] == 0 {
		t.Error("hidden parameters received no gradient")
	}
}

func TestProbabilityWeighting(t *testing.T) {
	net, in, _, out := chain(t, activation.Linear{}, filter.NewBernoulli(0.5), nil)
	tr := newTrainer(net, DefaultOptions())
	res, err := tr.Run(context.Background(), doubling(in.ID(), out.ID()))
	if err != nil {
		t.Fatal(err)
	}
	// The only output hypothesis has probability 0.5; the hidden node sees the
	// pushed error at full strength since the correction is 0.5/0.5.
	assertVector(t, "gradient", res.Gradient, []float64{-0.483, -0.483, -0.345, -0.207})
	if math.Abs(res.Loss-0.25*1.38*1.38) > 1e-9 {
		t.Errorf("loss = %v", res.Loss)
	}
}

func TestNormalizeByVolume(t *testing.T) {
	net, in, _, out := chain(t, activation.Linear{}, filter.NewBernoulli(0.5), nil)
	opts := DefaultOptions()
	opts.NormalizeByVolume = true
	tr := newTrainer(net, opts)
	res, err := tr.Run(context.Background(), doubling(in.ID(), out.ID()))
	if err != nil {
		t.Fatal(err)
	}
	assertVector(t, "gradient", res.Gradient, []float64{-0.483, -0.483, -0.69, -0.414})
}

// gated builds inputs feeding one linear output through Bernoulli gates with
// rate-1 adjusters, identity weights and zero bias.
func gated(t *testing.T, probs ...float64) (*graph.Network, []*graph.Node, *graph.Node, []*filter.Bernoulli) {
	t.Helper()
	net := graph.NewNetwork(graph.DefaultOptions())
	var inputs []*graph.Node
	for range probs {
		inputs = append(inputs, net.AddInput())
	}
	out := net.AddOutput(activation.Linear{})
	var gates []*filter.Bernoulli
	for i, p := range probs {
		gate := filter.NewBernoulli(p)
		if _, err := net.Connect(inputs[i], out, gate, filter.NewBernoulliAdjuster(gate, 1)); err != nil {
			t.Fatal(err)
		}
		gates = append(gates, gate)
	}
	return net, inputs, out, gates
}

func gatedEpisode(inputs []*graph.Node, out *graph.Node) Episode {
	feed := make(map[int]float64)
	for _, in := range inputs {
		feed[in.ID()] = 1
	}
	return Episode{{Inputs: feed}, {Targets: map[int]float64{out.ID(): 2}}}
}

func TestBernoulliAdjusterKeepsTrueFireRate(t *testing.T) {
	net, inputs, out, gates := gated(t, 0.3)
	fl := linearize.NewFilters(net)
	tr := New(net, linearize.New(net), fl, DefaultOptions())
	ctx := context.Background()

	for round := 0; round < 5; round++ {
		res, err := tr.Run(ctx, gatedEpisode(inputs, out))
		if err != nil {
			t.Fatal(err)
		}
		// The edge fired in 0.3 of the mass and stayed silent in the rest.
		if len(res.FilterDelta) != 1 || math.Abs(res.FilterDelta[0]) > 1e-12 {
			t.Fatalf("round %d: filter delta %v, want [0]", round, res.FilterDelta)
		}
		if err := fl.Apply(res.FilterDelta); err != nil {
			t.Fatal(err)
		}
	}
	if math.Abs(gates[0].P-0.3) > 1e-12 {
		t.Errorf("P drifted to %v, want 0.3", gates[0].P)
	}
}

func TestBernoulliAdjusterUnbiasedOnFanIn(t *testing.T) {
	net, inputs, out, _ := gated(t, 0.4, 0.7)
	tr := newTrainer(net, DefaultOptions())
	res, err := tr.Run(context.Background(), gatedEpisode(inputs, out))
	if err != nil {
		t.Fatal(err)
	}
	assertVector(t, "filter delta", res.FilterDelta, []float64{0, 0})
}

func TestBernoulliAdjusterFitsObservedFireRate(t *testing.T) {
	net, inputs, out, gates := gated(t, 0.3)
	fl := linearize.NewFilters(net)
	tr := New(net, linearize.New(net), fl, DefaultOptions())
	ctx := context.Background()

	if err := tr.Forward(ctx, gatedEpisode(inputs, out)); err != nil {
		t.Fatal(err)
	}
	// The recorded signals fired at 0.3; a gate that now claims 0.8 is pulled back.
	gates[0].P = 0.8
	res, err := tr.Backward(ctx, gatedEpisode(inputs, out))
	if err != nil {
		t.Fatal(err)
	}
	assertVector(t, "filter delta", res.FilterDelta, []float64{-0.5})
	if err := fl.Apply(res.FilterDelta); err != nil {
		t.Fatal(err)
	}
	if math.Abs(gates[0].P-0.3) > 1e-12 {
		t.Errorf("P = %v after adjustment, want 0.3", gates[0].P)
	}
}

// oversized returns more values than its filter has parameters.
type oversized struct{ seen bool }

func (o *oversized) PrepareAdjustment(float64, float64, bool) { o.seen = true }
func (o *oversized) Apply() []float64                         { return []float64{1, 2} }

func TestAdjusterDeltaLengthMismatchFails(t *testing.T) {
	net := graph.NewNetwork(graph.DefaultOptions())
	in := net.AddInput()
	out := net.AddOutput(activation.Linear{})
	adj := &oversized{}
	if _, err := net.Connect(in, out, filter.NewBernoulli(0.5), adj); err != nil {
		t.Fatal(err)
	}
	tr := newTrainer(net, DefaultOptions())
	_, err := tr.Run(context.Background(), gatedEpisode([]*graph.Node{in}, out))
	if !errors.Is(err, linearize.ErrLength) {
		t.Errorf("got %v, want ErrLength", err)
	}
	if !adj.seen {
		t.Error("adjuster received no evidence")
	}
}

type explodingDerivative struct{}

func (explodingDerivative) Activate(x float64) float64 { return x }
func (explodingDerivative) Derivative(float64) float64 { return math.Inf(1) }

func TestNonFiniteDerivativeFails(t *testing.T) {
	net, in, _, out := chain(t, explodingDerivative{}, filter.AlwaysFire{}, nil)
	tr := newTrainer(net, DefaultOptions())
	_, err := tr.Run(context.Background(), doubling(in.ID(), out.ID()))
	if !errors.Is(err, ErrNonFinite) {
		t.Errorf("got %v, want ErrNonFinite", err)
	}
}

func TestStaleLinearizerIsRejected(t *testing.T) {
	net, in, _, out := chain(t, activation.Linear{}, filter.AlwaysFire{}, nil)
	tr := newTrainer(net, DefaultOptions())
	net.AddHidden(activation.Linear{})
	_, err := tr.Run(context.Background(), doubling(in.ID(), out.ID()))
	if !errors.Is(err, linearize.ErrStale) {
		t.Errorf("got %v, want ErrStale", err)
	}
}

func TestTargetWithoutOutcomesIsSkipped(t *testing.T) {
	net, in, _, out := chain(t, activation.Linear{}, filter.AlwaysFire{}, nil)
	tr := newTrainer(net, DefaultOptions())
	ep := Episode{
		{Inputs: map[int]float64{in.ID(): 1}},
		{Targets: map[int]float64{out.ID(): 2}},
	}
	res, err := tr.Run(context.Background(), ep)
	if err != nil {
		t.Fatal(err)
	}
	if res.SkippedSteps != 1 {
		t.Errorf("skipped = %d, want 1", res.SkippedSteps)
	}
	if res.ContributingSteps != 0 {
		t.Errorf("contributing = %d, want 0", res.ContributingSteps)
	}
	for i, g := range res.Gradient {
		if g != 0 {
			t.Errorf("gradient[%d] = %v, want 0", i, g)
		}
	}
}

func TestCorrection(t *testing.T) {
	gate := filter.NewBernoulli(0.3)
	if got := correction(gate, graph.Root{Value: 1, Transfer: 0}); got != 0 {
		t.Errorf("zero transfer: correction %v, want 0", got)
	}
	if got := correction(gate, graph.Root{Value: 1, Transfer: 0.6}); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("correction = %v, want 0.5", got)
	}
}

func TestEdgeSet(t *testing.T) {
	s := newEdgeSet(4)
	s.add(3)
	s.add(130)
	if !s.has(3) || !s.has(130) || s.has(4) || s.has(-1) {
		t.Error("membership wrong")
	}
	s.clear()
	if s.has(3) || s.has(130) {
		t.Error("clear left bits set")
	}
}
