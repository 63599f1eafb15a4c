package graph

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sanonone/graphnet/pkg/metrics"
)

// Options configures a Network.
type Options struct {
	// CatastropheLimit is the number of outcomes kept per node per step (K).
	CatastropheLimit int
	// Workers bounds the nodes resolved concurrently within one step.
	// 0 selects DefaultWorkers.
	Workers int
	// SampledEmission makes filters draw delivery instead of attaching probabilities.
	SampledEmission bool
	// PruneWarnRate is the fraction of discarded hypotheses above which a warning is logged.
	PruneWarnRate float64
	// InitScale bounds the uniform initialization of new weight-table rows.
	InitScale float64
	// Seed feeds the network's random source (weight init and sampled emission).
	Seed uint64
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the standard configuration: K = 10, one worker per
// physical core, probabilistic emission.
func DefaultOptions() Options {
	return Options{
		CatastropheLimit: DefaultCatastropheLimit,
		Workers:          DefaultWorkers(),
		PruneWarnRate:    0.9,
		InitScale:        0.1,
		Seed:             1,
	}
}

// DefaultWorkers returns the number of physical cores, falling back to the
// logical CPU count when the processor does not report it.
func DefaultWorkers() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Stats holds enumeration counters since the network was created.
type Stats struct {
	Steps     uint64
	Evaluated uint64
	Retained  uint64
}

// Network owns the nodes, the id counter, the topology version and the History.
// It is driven one step at a time and is not safe for concurrent use; the
// parallelism it uses internally stays within a step.
type Network struct {
	opts   Options
	logger *slog.Logger
	rng    *rand.Rand

	nodes   []*Node
	edges   int
	version uint64

	history *History
	step    int
	stats   Stats
}

// NewNetwork creates an empty network.
func NewNetwork(opts Options) *Network {
	if opts.CatastropheLimit <= 0 {
		opts.CatastropheLimit = DefaultCatastropheLimit
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers()
	}
	if opts.InitScale == 0 {
		opts.InitScale = 0.1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Network{
		opts:    opts,
		logger:  logger,
		rng:     rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		history: NewHistory(),
	}
}

// Options returns the effective options.
func (net *Network) Options() Options { return net.opts }

func (net *Network) addNode(role Role, act Activation) *Node {
	n := newNode(len(net.nodes), role, act)
	net.nodes = append(net.nodes, n)
	net.version++
	return n
}

// AddInput adds a source node fed with external values.
func (net *Network) AddInput() *Node {
	return net.addNode(RoleInput, nil)
}

// AddHidden adds an internal node.
func (net *Network) AddHidden(act Activation) *Node {
	return net.addNode(RoleHidden, act)
}

// AddOutput adds a node whose outcomes are compared against targets.
func (net *Network) AddOutput(act Activation) *Node {
	return net.addNode(RoleOutput, act)
}

// Connect adds an edge from one node to another, gated by f. adj may be nil
// for a filter that is never fitted. Self loops and cycles are allowed: a
// signal always takes one step to cross.
func (net *Network) Connect(from, to *Node, f Filter, adj ExpectationAdjuster) (*Edge, error) {
	if !net.owns(from) || !net.owns(to) {
		return nil, ErrUnknownNode
	}
	if to.role == RoleInput {
		return nil, fmt.Errorf("%w: node %d", ErrIncomingOnInput, to.id)
	}
	if _, ok := to.bits[from.id]; ok {
		return nil, fmt.Errorf("%w: %d->%d", ErrDuplicateEdge, from.id, to.id)
	}
	if len(to.incoming) >= MaxFanIn {
		return nil, fmt.Errorf("%w: node %d already has %d incoming edges", ErrFanInLimit, to.id, MaxFanIn)
	}
	if f == nil {
		return nil, fmt.Errorf("edge %d->%d: nil filter", from.id, to.id)
	}
	e := &Edge{from: from, to: to, filter: f, adjuster: adj}
	to.addIncoming(e, net.rng, net.opts.InitScale)
	from.outgoing = append(from.outgoing, e)
	net.edges++
	net.version++
	return e, nil
}

func (net *Network) owns(n *Node) bool {
	return n != nil && n.id >= 0 && n.id < len(net.nodes) && net.nodes[n.id] == n
}

// Node returns the node with the given id.
func (net *Network) Node(id int) (*Node, bool) {
	if id < 0 || id >= len(net.nodes) {
		return nil, false
	}
	return net.nodes[id], true
}

// Nodes returns every node in id order. The slice must not be modified.
func (net *Network) Nodes() []*Node { return net.nodes }

// Len returns the number of nodes.
func (net *Network) Len() int { return len(net.nodes) }

// NumEdges returns the number of edges.
func (net *Network) NumEdges() int { return net.edges }

// Edges returns every edge ordered by receiver id, then bit position.
func (net *Network) Edges() []*Edge {
	out := make([]*Edge, 0, net.edges)
	for _, n := range net.nodes {
		out = append(out, n.incoming...)
	}
	return out
}

func (net *Network) withRole(r Role) []*Node {
	var out []*Node
	for _, n := range net.nodes {
		if n.role == r {
			out = append(out, n)
		}
	}
	return out
}

// Inputs returns the input nodes in id order.
func (net *Network) Inputs() []*Node { return net.withRole(RoleInput) }

// Outputs returns the output nodes in id order.
func (net *Network) Outputs() []*Node { return net.withRole(RoleOutput) }

// TopologyVersion changes every time a node or an edge is added.
func (net *Network) TopologyVersion() uint64 { return net.version }

// History returns the record of the steps taken since the last reset.
func (net *Network) History() *History { return net.history }

// CurrentStep returns the index the next step will get.
func (net *Network) CurrentStep() int { return net.step }

// Stats returns the enumeration counters.
func (net *Network) Stats() Stats { return net.stats }

// Reset burns the history and drops every buffered signal, so the next step is step 0.
func (net *Network) Reset() {
	net.history.Burn()
	for _, n := range net.nodes {
		n.clear()
	}
	net.step = 0
}

// Step runs one discrete step: inputs are applied, every node holding signals
// from the previous step resolves its outcomes, the outcomes are recorded as a
// new snapshot and then emitted along every outgoing edge for the next step.
//
// After an error the network is in an undefined state and must be Reset.
func (net *Network) Step(ctx context.Context, inputs map[int]float64) error {
	step := net.step
	snap := newSnapshot(step)

	for id, v := range inputs {
		n, ok := net.Node(id)
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownNode, id)
		}
		if n.role != RoleInput {
			return fmt.Errorf("%w: %d", ErrNotInput, id)
		}
		if !finite(v) {
			return fmt.Errorf("%w: input %d = %v", ErrNonFinite, id, v)
		}
		snap.set(id, n.input(step, v))
	}

	var active []*Node
	for _, n := range net.nodes {
		if n.role != RoleInput && n.pending > 0 {
			active = append(active, n)
		}
	}

	results := make([]enumeration, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(net.opts.Workers)
	for i, n := range active {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := n.resolve(step, net.opts.CatastropheLimit)
			if err != nil {
				return fmt.Errorf("node %d step %d: %w", n.id, step, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, n := range active {
		res := results[i]
		if len(res.outcomes) == 0 {
			continue
		}
		snap.set(n.id, res.outcomes)
		net.record(n, step, res)
	}
	net.history.append(snap)

	var err error
	snap.Scan(func(id int, outs []*Outcome) bool {
		err = net.nodes[id].emit(outs, net.opts.SampledEmission, net.rng)
		return err == nil
	})
	if err != nil {
		return fmt.Errorf("step %d: %w", step, err)
	}

	for _, n := range net.nodes {
		switch {
		case n.pending > 0:
			n.state = StateAccumulating
		case n.state == StateEmitted || n.state == StateResolved:
			n.state = StateCleared
		}
	}

	net.step++
	net.stats.Steps++
	metrics.Steps.Inc()
	return nil
}

func (net *Network) record(n *Node, step int, res enumeration) {
	retained := len(res.outcomes)
	pruned := res.evaluated - retained
	net.stats.Evaluated += uint64(res.evaluated)
	net.stats.Retained += uint64(retained)
	metrics.OutcomesEnumerated.Add(float64(res.evaluated))
	metrics.OutcomesRetained.Observe(float64(retained))
	if pruned <= 0 {
		return
	}
	metrics.OutcomesPruned.Add(float64(pruned))
	if rate := float64(pruned) / float64(res.evaluated); rate > net.opts.PruneWarnRate {
		net.logger.Warn("[Network] high prune rate, outcome set is a coarse approximation",
			"node", n.id, "step", step, "evaluated", res.evaluated, "retained", retained, "rate", rate)
	}
}
