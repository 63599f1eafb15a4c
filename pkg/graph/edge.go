package graph

// Signal is what an edge delivers to its receiver: the value of one sender
// outcome with the probability that it was transmitted.
type Signal struct {
	Source OutcomeRef
	// Bit is the receiver-side bit position of the edge.
	Bit   int
	Value float64
	// Transfer is the fire probability attached at send time.
	Transfer float64
	// SourceProbability is the probability of the sending outcome.
	SourceProbability float64
}

// Edge is a directed stochastic connection between two nodes.
type Edge struct {
	from     *Node
	to       *Node
	bit      int
	filter   Filter
	adjuster ExpectationAdjuster
}

// Sender returns the node the edge leaves.
func (e *Edge) Sender() *Node { return e.from }

// Receiver returns the node the edge enters.
func (e *Edge) Receiver() *Node { return e.to }

// Bit returns the edge's bit position at the receiver.
func (e *Edge) Bit() int { return e.bit }

// Filter returns the edge's gate.
func (e *Edge) Filter() Filter { return e.filter }

// Adjuster returns the filter's expectation adjuster, nil when the filter is fixed.
func (e *Edge) Adjuster() ExpectationAdjuster { return e.adjuster }
