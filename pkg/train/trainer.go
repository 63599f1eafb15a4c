// Package train computes gradients for a graph.Network by walking its History
// backward in time.
//
// A forward replay of an Episode populates the History; Backward then visits
// the snapshots from the latest to the earliest. Each outcome that carries
// error (from a target, from downstream outcomes, or both) contributes to the
// linearized gradient of its node's weight-table row, scaled by its
// probability, and pushes error to the source outcomes of the previous step,
// re-weighted by the filter's conditional-probability correction.
//
// Node steps that received error also report their whole hypothesis space,
// including the combination in which no edge fired, to the expectation
// adjusters of their edges.
package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/sanonone/graphnet/pkg/graph"
	"github.com/sanonone/graphnet/pkg/linearize"
	"github.com/sanonone/graphnet/pkg/metrics"
)

// ErrNonFinite is returned when an error derivative becomes NaN or infinite.
// It signals an internal inconsistency and is never retried.
var ErrNonFinite = errors.New("non-finite error derivative")

// Frame is one step of an episode: external values for input nodes and
// targets for any non-input node, both keyed by node id.
type Frame struct {
	Inputs  map[int]float64
	Targets map[int]float64
}

// Episode is a sequence of frames; frame t drives step t.
type Episode []Frame

// Options configures a Trainer.
type Options struct {
	// NormalizeByVolume divides each outcome's weight by the total probability
	// of its node's outcomes in that step.
	NormalizeByVolume bool
	// Workers bounds the nodes processed concurrently within one time step.
	Workers int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns unnormalized weighting with one worker per physical core.
func DefaultOptions() Options {
	return Options{Workers: graph.DefaultWorkers()}
}

// Result is the outcome of one backward pass.
type Result struct {
	// Gradient is laid out by the node linearizer, already divided by ContributingSteps.
	Gradient []float64
	// FilterDelta is laid out by the filter linearizer, gathered from the adjusters.
	FilterDelta []float64
	// Loss is the probability-weighted squared error summed over every target.
	Loss float64
	// ContributingSteps counts time steps that produced a non-zero gradient.
	ContributingSteps int
	// SkippedSteps counts node time steps with zero probability volume.
	SkippedSteps int
}

// Trainer runs forward replays and backward passes over one network.
type Trainer struct {
	net     *graph.Network
	lin     *linearize.Linearizer
	filters *linearize.FilterLinearizer
	opts    Options
	logger  *slog.Logger

	edgeIndex map[*graph.Edge]int
	touched   *edgeSet
}

// New returns a trainer bound to net and the linearizations built from it.
func New(net *graph.Network, lin *linearize.Linearizer, filters *linearize.FilterLinearizer, opts Options) *Trainer {
	if opts.Workers <= 0 {
		opts.Workers = graph.DefaultWorkers()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := &Trainer{
		net:       net,
		lin:       lin,
		filters:   filters,
		opts:      opts,
		logger:    logger,
		edgeIndex: make(map[*graph.Edge]int),
	}
	for i, e := range filters.Edges() {
		t.edgeIndex[e] = i
	}
	t.touched = newEdgeSet(len(t.edgeIndex))
	return t
}

// Forward resets the network and replays every frame of ep, one step each.
func (t *Trainer) Forward(ctx context.Context, ep Episode) error {
	t.net.Reset()
	for i, f := range ep {
		if err := t.net.Step(ctx, f.Inputs); err != nil {
			return fmt.Errorf("forward frame %d: %w", i, err)
		}
	}
	return nil
}

// Run replays ep and computes its gradient.
func (t *Trainer) Run(ctx context.Context, ep Episode) (Result, error) {
	if err := t.Forward(ctx, ep); err != nil {
		return Result{}, err
	}
	return t.Backward(ctx, ep)
}

// contribution is error pushed to an outcome of the previous step.
type contribution struct {
	ref    graph.OutcomeRef
	value  float64
	weight float64
}

// evidence is one observation for an edge's expectation adjuster.
type evidence struct {
	edge   *graph.Edge
	weight float64
	value  float64
	fired  bool
}

// partial is what one node contributes in one time step. Workers fill their
// own partial; partials are merged sequentially once the step is done.
type partial struct {
	start    int
	grad     []float64
	contribs []contribution
	evidence []evidence
	loss     float64
	nonZero  bool
	skipped  bool
	blamed   bool
}

// Backward walks the History from the latest step to step 0 and returns the
// accumulated gradient. ep supplies the targets; it must be the episode the
// History was produced from.
func (t *Trainer) Backward(ctx context.Context, ep Episode) (Result, error) {
	if t.lin.Stale() || t.filters.Stale() {
		return Result{}, linearize.ErrStale
	}
	hist := t.net.History()
	res := Result{Gradient: t.lin.NewVector()}
	t.touched.clear()

	for step := hist.NumberOfTimesteps() - 1; step >= 0; step-- {
		snap, _ := hist.At(step)
		var targets map[int]float64
		if step < len(ep) {
			targets = ep[step].Targets
		}

		var nodes []*graph.Node
		for _, id := range snap.NodeIDs() {
			n, _ := t.net.Node(id)
			if n.Role() != graph.RoleInput {
				nodes = append(nodes, n)
			}
		}
		for id := range targets {
			if snap.Outcomes(id) == nil {
				// No hypothesis reached the target node: nothing to blame.
				res.SkippedSteps++
				metrics.SkippedSteps.Inc()
				t.logger.Debug("[Trainer] target without outcomes, skipping", "node", id, "step", step)
			}
		}

		partials := make([]partial, len(nodes))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(t.opts.Workers)
		for i, n := range nodes {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				target, hasTarget := targets[n.ID()]
				p, err := t.node(n, snap.Outcomes(n.ID()), step, target, hasTarget)
				if err != nil {
					return err
				}
				partials[i] = p
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Result{}, err
		}

		contributed := false
		for i := range partials {
			p := &partials[i]
			if p.skipped {
				res.SkippedSteps++
				metrics.SkippedSteps.Inc()
				t.logger.Debug("[Trainer] zero probability volume, skipping", "node", nodes[i].ID(), "step", step)
				continue
			}
			floats.Add(res.Gradient[p.start:p.start+len(p.grad)], p.grad)
			res.Loss += p.loss
			contributed = contributed || p.nonZero
			for _, c := range p.contribs {
				src, ok := hist.Resolve(step, c.ref)
				if !ok {
					return Result{}, fmt.Errorf("step %d: dangling source %+v", step, c.ref)
				}
				src.Error.Add(c.value, c.weight)
			}
			for _, ev := range p.evidence {
				ev.edge.Adjuster().PrepareAdjustment(ev.weight, ev.value, ev.fired)
				t.touched.add(t.edgeIndex[ev.edge])
			}
		}
		if contributed {
			res.ContributingSteps++
		}
	}

	if res.ContributingSteps > 0 {
		floats.Scale(1/float64(res.ContributingSteps), res.Gradient)
	}
	delta, err := t.adjustments()
	if err != nil {
		return Result{}, err
	}
	res.FilterDelta = delta
	return res, nil
}

// node processes the outcomes of one node in one time step.
func (t *Trainer) node(n *graph.Node, outs []*graph.Outcome, step int, target float64, hasTarget bool) (partial, error) {
	start, end, err := t.lin.NodeSlice(n.ID())
	if err != nil {
		return partial{}, err
	}
	p := partial{start: start, grad: make([]float64, end-start)}

	volume := 0.0
	for _, o := range outs {
		volume += o.Probability
	}
	if volume == 0 {
		p.skipped = true
		return p, nil
	}

	table := n.Values()
	for _, o := range outs {
		e, carries := 0.0, false
		if hasTarget {
			diff := o.Activated - target
			e += diff
			p.loss += 0.5 * diff * diff * o.Probability
			carries = true
		}
		if !o.Error.Empty() {
			e += o.Error.Mean()
			carries = true
		}
		if !carries || o.Key == 0 {
			continue
		}

		delta := e * n.Activation().Derivative(o.Net)
		if !finite(delta) {
			return partial{}, fmt.Errorf("%w: node %d step %d outcome %d", ErrNonFinite, n.ID(), step, o.Index)
		}
		scale := o.Probability
		if t.opts.NormalizeByVolume {
			scale /= volume
		}

		rowStart, _, err := t.lin.Row(n.ID(), o.Key)
		if err != nil {
			return partial{}, err
		}
		r := rowStart - start
		weights, err := table.Weights(o.Key)
		if err != nil {
			return partial{}, err
		}

		p.grad[r] += scale * delta
		for i, root := range o.IncludedRoots() {
			p.grad[r+1+i] += scale * delta * root.Value
			edge := n.Incoming()[root.Bit]
			push := delta * weights[i] * correction(edge.Filter(), root)
			if !finite(push) {
				return partial{}, fmt.Errorf("%w: node %d step %d edge bit %d", ErrNonFinite, n.ID(), step, root.Bit)
			}
			p.contribs = append(p.contribs, contribution{ref: root.Ref, value: push, weight: o.Probability})
		}
		if delta != 0 && scale != 0 {
			p.nonZero = true
		}
		p.blamed = true
	}
	if p.blamed {
		p.evidence = hypothesisEvidence(n, outs)
	}
	return p, nil
}

// hypothesisEvidence reports every retained hypothesis of a node step to the
// adjusters of its edges, plus the combination in which no edge fired for each
// distinct root tuple. That combination is never an outcome, yet it holds the
// no-fire mass a fitted gate must see.
func hypothesisEvidence(n *graph.Node, outs []*graph.Outcome) []evidence {
	var ev []evidence
	seen := make(map[string]bool)
	for _, o := range outs {
		for _, root := range o.Roots {
			edge := n.Incoming()[root.Bit]
			if edge.Adjuster() == nil {
				continue
			}
			ev = append(ev, evidence{edge: edge, weight: o.Probability, value: root.Value, fired: root.Included})
		}

		key := rootTuple(o.Roots)
		if seen[key] {
			continue
		}
		seen[key] = true
		rootProbs := make([]float64, len(o.Roots))
		transfers := make([]float64, len(o.Roots))
		for j, root := range o.Roots {
			rootProbs[j] = root.Probability
			transfers[j] = root.Transfer
		}
		empty, _ := n.ProbabilityCombinator().Combine(rootProbs, transfers, 0)
		if empty <= 0 {
			continue
		}
		for _, root := range o.Roots {
			edge := n.Incoming()[root.Bit]
			if edge.Adjuster() == nil {
				continue
			}
			ev = append(ev, evidence{edge: edge, weight: empty, value: root.Value, fired: false})
		}
	}
	return ev
}

func rootTuple(roots []graph.Root) string {
	b := make([]byte, 0, 8*len(roots))
	for _, r := range roots {
		b = strconv.AppendInt(b, int64(r.Ref.Node), 10)
		b = append(b, ':')
		b = strconv.AppendInt(b, int64(r.Ref.Index), 10)
		b = append(b, ',')
	}
	return string(b)
}

// correction is the filter-implied chance of sending the root's value divided
// by the transfer probability recorded when it was sent. A signal recorded with
// transfer probability 0 was never transmitted and carries no error.
func correction(f graph.Filter, r graph.Root) float64 {
	if r.Transfer == 0 {
		return 0
	}
	return f.FireProbability(r.Value) / r.Transfer
}

// adjustments collects the parameter deltas of every adjuster that saw evidence.
func (t *Trainer) adjustments() ([]float64, error) {
	out := t.filters.NewVector()
	for i, e := range t.filters.Edges() {
		if !t.touched.has(i) || e.Adjuster() == nil {
			continue
		}
		d := e.Adjuster().Apply()
		if d == nil {
			continue
		}
		start, end, err := t.filters.Span(e)
		if err != nil {
			return nil, fmt.Errorf("adjuster of edge %d->%d: %w", e.Sender().ID(), e.Receiver().ID(), err)
		}
		if len(d) != end-start {
			return nil, fmt.Errorf("adjuster of edge %d->%d returned %d values for %d parameters: %w",
				e.Sender().ID(), e.Receiver().ID(), len(d), end-start, linearize.ErrLength)
		}
		copy(out[start:end], d)
	}
	return out, nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
