package graph

// OutcomeRef addresses an outcome inside one History snapshot: the node that
// produced it and its index in that node's outcome list. References are only
// resolved against the snapshot immediately preceding the referencing outcome.
type OutcomeRef struct {
	Node  int
	Index int
}

// Root is one sender's contribution to a hypothesis, whether or not its signal
// was included.
type Root struct {
	Ref OutcomeRef
	// Bit is the receiver-side bit position of the edge the signal travelled.
	Bit int
	// Value is the activated value of the root outcome.
	Value float64
	// Probability is the root outcome's own hypothesis probability.
	Probability float64
	// Transfer is the fire probability attached to the signal when it was sent.
	Transfer float64
	// Included reports whether the signal is active in this hypothesis.
	Included bool
}

// Outcome is one hypothesis about which incoming edges fired at a node in one step.
type Outcome struct {
	Node  int
	Step  int
	Index int

	// Key has bit b set when the edge at bit position b is active.
	Key       uint64
	Net       float64
	Activated float64

	// Probability is the joint probability of the hypothesis.
	Probability float64
	// Conditional is the fire/no-fire product given the roots.
	Conditional float64

	// Sources holds one reference per active edge, ordered by bit position.
	Sources []OutcomeRef
	// Roots holds one entry per sender that signalled this step, ordered by bit position.
	Roots []Root

	// Error accumulates the error pushed back from downstream hypotheses.
	Error WeightedMean
}

// Ref returns the reference other outcomes use to point at o.
func (o *Outcome) Ref() OutcomeRef {
	return OutcomeRef{Node: o.Node, Index: o.Index}
}

// IncludedRoots returns the roots whose signals are active, in bit order.
// They line up with Sources and with the weights of Key.
func (o *Outcome) IncludedRoots() []Root {
	out := make([]Root, 0, len(o.Sources))
	for _, r := range o.Roots {
		if r.Included {
			out = append(out, r)
		}
	}
	return out
}

// WeightedMean is a running weighted average. Contributions with a
// non-positive weight are ignored.
type WeightedMean struct {
	sum    float64
	weight float64
	count  int
}

// Add folds value in with the given weight.
func (m *WeightedMean) Add(value, weight float64) {
	if weight <= 0 {
		return
	}
	m.sum += value * weight
	m.weight += weight
	m.count++
}

// Merge folds another accumulator in.
func (m *WeightedMean) Merge(other WeightedMean) {
	m.sum += other.sum
	m.weight += other.weight
	m.count += other.count
}

// Mean returns the weighted average, 0 when nothing was added.
func (m *WeightedMean) Mean() float64 {
	if m.weight == 0 {
		return 0
	}
	return m.sum / m.weight
}

// Weight returns the total weight added.
func (m *WeightedMean) Weight() float64 { return m.weight }

// Count returns the number of contributions added.
func (m *WeightedMean) Count() int { return m.count }

// Empty reports whether nothing was added.
func (m *WeightedMean) Empty() bool { return m.count == 0 }

// Reset clears the accumulator.
func (m *WeightedMean) Reset() { *m = WeightedMean{} }
