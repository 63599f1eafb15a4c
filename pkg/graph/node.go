package graph

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// Node is one vertex of the network. Its behavior in a step is a set of
// outcomes, one per retained hypothesis about which incoming edges fired.
//
// Per step a node moves Idle -> Accumulating (signals buffered by sender bit)
// -> Resolved (outcomes enumerated and pruned) -> Emitted (signals sent along
// every outgoing edge) -> Cleared (buffers empty, waiting for the next step).
type Node struct {
	id   int
	role Role
	act  Activation

	incoming []*Edge // index = bit position
	outgoing []*Edge
	bits     map[int]int // sender id -> bit position

	values *ValueCombinator
	probs  ProbabilityCombinator

	state   State
	buffer  [][]Signal // index = bit position
	pending int
}

func newNode(id int, role Role, act Activation) *Node {
	if act == nil {
		act = identity{}
	}
	return &Node{
		id:     id,
		role:   role,
		act:    act,
		bits:   make(map[int]int),
		values: newValueCombinator(),
		probs:  IndependentCombinator{},
	}
}

// ID returns the node's id, unique within its network.
func (n *Node) ID() int { return n.id }

// Role returns whether the node is an input, hidden or output node.
func (n *Node) Role() Role { return n.role }

// Activation returns the node's transfer function.
func (n *Node) Activation() Activation { return n.act }

// Incoming returns the incoming edges indexed by bit position. The slice must not be modified.
func (n *Node) Incoming() []*Edge { return n.incoming }

// Outgoing returns the outgoing edges in creation order. The slice must not be modified.
func (n *Node) Outgoing() []*Edge { return n.outgoing }

// FanIn returns the number of incoming edges.
func (n *Node) FanIn() int { return len(n.incoming) }

// BitOf returns the bit position assigned to a sender.
func (n *Node) BitOf(senderID int) (int, bool) {
	b, ok := n.bits[senderID]
	return b, ok
}

// Values returns the node's weight/bias table.
func (n *Node) Values() *ValueCombinator { return n.values }

// SetProbabilityCombinator replaces the default independent combinator.
func (n *Node) SetProbabilityCombinator(c ProbabilityCombinator) {
	if c != nil {
		n.probs = c
	}
}

// ProbabilityCombinator returns the strategy used to weigh hypotheses.
func (n *Node) ProbabilityCombinator() ProbabilityCombinator { return n.probs }

// State returns where the node is in the step state machine.
func (n *Node) State() State { return n.state }

// Pending returns the number of signals buffered for the next resolution.
func (n *Node) Pending() int { return n.pending }

func (n *Node) addIncoming(e *Edge, rng *rand.Rand, scale float64) {
	e.bit = len(n.incoming)
	n.bits[e.from.id] = e.bit
	n.incoming = append(n.incoming, e)
	n.buffer = append(n.buffer, nil)
	n.values.grow(rng, scale)
}

func (n *Node) accept(sig Signal) {
	n.buffer[sig.Bit] = append(n.buffer[sig.Bit], sig)
	n.pending++
	n.state = StateAccumulating
}

func (n *Node) clear() {
	for b := range n.buffer {
		n.buffer[b] = nil
	}
	n.pending = 0
	n.state = StateIdle
}

// take moves the buffered signals out, grouped by sender in bit order. Within
// a sender, signals are ordered by source outcome so arrival order never
// changes the enumeration.
func (n *Node) take() ([][]Signal, []int) {
	var groups [][]Signal
	var bits []int
	for b, sigs := range n.buffer {
		if len(sigs) == 0 {
			continue
		}
		sort.Slice(sigs, func(i, j int) bool {
			if sigs[i].Source.Node != sigs[j].Source.Node {
				return sigs[i].Source.Node < sigs[j].Source.Node
			}
			return sigs[i].Source.Index < sigs[j].Source.Index
		})
		groups = append(groups, sigs)
		bits = append(bits, b)
		n.buffer[b] = nil
	}
	n.pending = 0
	return groups, bits
}

// enumeration is the result of resolving one node in one step.
type enumeration struct {
	outcomes  []*Outcome
	evaluated int
}

// resolve enumerates the hypotheses supported by the buffered signals and
// keeps the best limit of them (all of them when limit <= 0).
func (n *Node) resolve(step, limit int) (enumeration, error) {
	groups, bits := n.take()
	if len(groups) == 0 {
		return enumeration{}, nil
	}
	cands, evaluated, err := n.enumerate(groups, bits, limit)
	if err != nil {
		return enumeration{}, err
	}
	n.state = StateResolved
	return enumeration{outcomes: n.materialize(step, groups, bits, cands), evaluated: evaluated}, nil
}

// enumerate walks every choice of one signal per sender (the roots) and, for
// each, every non-empty subset of senders to include. The number of
// combinations is prod(len(group)) * (2^senders - 1); only the best limit are
// kept, which bounds memory but not time.
func (n *Node) enumerate(groups [][]Signal, bits []int, limit int) ([]*candidate, int, error) {
	senders := len(groups)
	tuple := make([]int, senders)
	rootProbs := make([]float64, senders)
	transfers := make([]float64, senders)
	values := make([]float64, 0, senders)

	capacity := limit
	if capacity <= 0 {
		capacity = 1 << uint(senders)
	}
	h := newWorstFirst(capacity)
	evaluated := 0
	all := uint64(1) << uint(senders)

	for {
		for j, g := range groups {
			rootProbs[j] = g[tuple[j]].SourceProbability
			transfers[j] = g[tuple[j]].Transfer
		}
		for mask := uint64(1); mask < all; mask++ {
			var key uint64
			values = values[:0]
			for j := 0; j < senders; j++ {
				if mask&(1<<uint(j)) != 0 {
					key |= 1 << uint(bits[j])
					values = append(values, groups[j][tuple[j]].Value)
				}
			}
			evaluated++

			joint, conditional := n.probs.Combine(rootProbs, transfers, mask)
			if !finite(joint) || !finite(conditional) {
				return nil, evaluated, fmt.Errorf("%w: probability of key %b", ErrNonFinite, key)
			}
			if joint <= 0 {
				continue
			}
			net, err := n.values.Merge(values, key)
			if err != nil {
				return nil, evaluated, err
			}
			act := n.act.Activate(net)
			if !finite(net) || !finite(act) {
				return nil, evaluated, fmt.Errorf("%w: value of key %b", ErrNonFinite, key)
			}
			h.offer(candidate{
				joint:       joint,
				conditional: conditional,
				net:         net,
				activated:   act,
				key:         key,
				mask:        mask,
				roots:       tuple,
			}, limit)
		}

		// Advance the root odometer.
		j := 0
		for ; j < senders; j++ {
			tuple[j]++
			if tuple[j] < len(groups[j]) {
				break
			}
			tuple[j] = 0
		}
		if j == senders {
			break
		}
	}

	kept := []*candidate(*h)
	sort.Slice(kept, func(a, b int) bool { return better(kept[a], kept[b]) })
	return kept, evaluated, nil
}

func (n *Node) materialize(step int, groups [][]Signal, bits []int, cands []*candidate) []*Outcome {
	outs := make([]*Outcome, len(cands))
	for i, c := range cands {
		o := &Outcome{
			Node:        n.id,
			Step:        step,
			Index:       i,
			Key:         c.key,
			Net:         c.net,
			Activated:   c.activated,
			Probability: c.joint,
			Conditional: c.conditional,
			Sources:     make([]OutcomeRef, 0, len(groups)),
			Roots:       make([]Root, len(groups)),
		}
		for j, g := range groups {
			sig := g[c.roots[j]]
			included := c.mask&(1<<uint(j)) != 0
			o.Roots[j] = Root{
				Ref:         sig.Source,
				Bit:         bits[j],
				Value:       sig.Value,
				Probability: sig.SourceProbability,
				Transfer:    sig.Transfer,
				Included:    included,
			}
			if included {
				o.Sources = append(o.Sources, sig.Source)
			}
		}
		outs[i] = o
	}
	return outs
}

// input records an externally supplied value as a certain outcome.
func (n *Node) input(step int, value float64) []*Outcome {
	n.state = StateResolved
	return []*Outcome{{
		Node:        n.id,
		Step:        step,
		Net:         value,
		Activated:   value,
		Probability: 1,
		Conditional: 1,
	}}
}

// emit sends every outcome along every outgoing edge. With sampled set the
// filter draws delivery and delivered signals carry a transfer probability of 1.
func (n *Node) emit(outs []*Outcome, sampled bool, rng *rand.Rand) error {
	for _, o := range outs {
		for _, e := range n.outgoing {
			p := e.filter.FireProbability(o.Activated)
			if math.IsNaN(p) || p < 0 || p > 1 {
				return fmt.Errorf("%w: %v on edge %d->%d", ErrProbabilityRange, p, n.id, e.to.id)
			}
			transfer := p
			if sampled {
				if !e.filter.Sample(o.Activated, rng) {
					continue
				}
				transfer = 1
			} else if p == 0 {
				continue
			}
			e.to.accept(Signal{
				Source:            o.Ref(),
				Bit:               e.bit,
				Value:             o.Activated,
				Transfer:          transfer,
				SourceProbability: o.Probability,
			})
		}
	}
	n.state = StateEmitted
	return nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
