// Package graph implements a probabilistic computation graph in which every edge
// is a stochastic gate.
//
// A signal crossing an edge may or may not arrive, so a node does not hold a
// single value per step but a bounded set of weighted hypotheses (outcomes),
// one per subset of incoming edges that could have fired. The Network drives
// discrete steps, records every step's outcomes in a History and links them into
// a hypothesis DAG that the train package walks backward.
//
// Basic usage:
//
//	net := graph.NewNetwork(graph.DefaultOptions())
//	in := net.AddInput()
//	out := net.AddOutput(activation.Linear{})
//	if _, err := net.Connect(in, out, filter.AlwaysFire{}, nil); err != nil {
//		log.Fatal(err)
//	}
//	if err := net.Step(ctx, map[int]float64{in.ID(): 1}); err != nil {
//		log.Fatal(err)
//	}
package graph

import (
	"errors"
	"math/rand/v2"
)

var (
	// ErrIncomingOnInput is returned when an edge targets an input node.
	ErrIncomingOnInput = errors.New("input nodes do not accept incoming edges")
	// ErrFanInLimit is returned when a node would exceed MaxFanIn incoming edges.
	ErrFanInLimit = errors.New("fan-in limit reached")
	// ErrDuplicateEdge is returned when the same sender is connected twice to a receiver.
	ErrDuplicateEdge = errors.New("edge already exists")
	// ErrUnknownNode is returned when a node does not belong to the network.
	ErrUnknownNode = errors.New("unknown node")
	// ErrBadKey is returned when a subset key uses bits beyond the node's fan-in.
	ErrBadKey = errors.New("subset key out of range")
	// ErrNonFinite is returned when enumeration produces a NaN or infinite value.
	ErrNonFinite = errors.New("non-finite value")
	// ErrProbabilityRange is returned when a filter reports a probability outside [0,1].
	ErrProbabilityRange = errors.New("probability out of range")
	// ErrNotInput is returned when an external value is supplied to a non-input node.
	ErrNotInput = errors.New("node is not an input")
)

// MaxFanIn bounds the number of incoming edges per node. The weight table holds
// 2^fan-in rows, so this is a memory bound as much as a time bound.
const MaxFanIn = 16

// DefaultCatastropheLimit is the number of outcomes kept per node per step.
const DefaultCatastropheLimit = 10

// Filter is the stochastic gate attached to an edge.
type Filter interface {
	// FireProbability returns the chance, in [0,1], that value crosses the edge.
	FireProbability(value float64) float64
	// Sample draws whether value crosses the edge.
	Sample(value float64, rng *rand.Rand) bool
	// NumParameters is the number of trainable filter parameters.
	NumParameters() int
	// Parameters returns a copy of the current parameters.
	Parameters() []float64
	// ApplyParameterUpdate adds delta to the parameters.
	ApplyParameterUpdate(delta []float64)
}

// Activation is a node's transfer function.
type Activation interface {
	Activate(x float64) float64
	Derivative(x float64) float64
}

// ExpectationAdjuster fits a filter's parameters to the evidence seen during a
// backward pass. PrepareAdjustment is called while the pass runs, Apply once at
// the end of it.
type ExpectationAdjuster interface {
	// PrepareAdjustment records that value reached the edge's filter with the
	// given hypothesis weight, and whether it fired in that hypothesis.
	PrepareAdjustment(weight, value float64, fired bool)
	// Apply returns the parameter delta for the filter, or nil when no evidence
	// was collected, and resets the collected evidence.
	Apply() []float64
}

// Role tags a node as an input, hidden or output node.
type Role int

const (
	RoleInput Role = iota
	RoleHidden
	RoleOutput
)

func (r Role) String() string {
	switch r {
	case RoleInput:
		return "Input"
	case RoleHidden:
		return "Hidden"
	case RoleOutput:
		return "Output"
	default:
		return "Unknown"
	}
}

// State is a node's position in the per-step state machine.
type State int

const (
	StateIdle State = iota
	StateAccumulating
	StateResolved
	StateEmitted
	StateCleared
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAccumulating:
		return "Accumulating"
	case StateResolved:
		return "Resolved"
	case StateEmitted:
		return "Emitted"
	case StateCleared:
		return "Cleared"
	default:
		return "Unknown"
	}
}

// identity is used by input nodes, which forward external values unchanged.
type identity struct{}

func (identity) Activate(x float64) float64   { return x }
func (identity) Derivative(x float64) float64 { return 1 }
