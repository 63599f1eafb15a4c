package graph

import "github.com/tidwall/btree"

// Snapshot holds the outcomes of every node that was active in one step,
// ordered by node id.
type Snapshot struct {
	step     int
	outcomes btree.Map[int, []*Outcome]
}

func newSnapshot(step int) *Snapshot {
	return &Snapshot{step: step}
}

// Step returns the time step of the snapshot.
func (s *Snapshot) Step() int { return s.step }

// Len returns the number of nodes with outcomes in the snapshot.
func (s *Snapshot) Len() int { return s.outcomes.Len() }

// Outcomes returns the outcome list of a node, nil when it was inactive.
func (s *Snapshot) Outcomes(nodeID int) []*Outcome {
	outs, _ := s.outcomes.Get(nodeID)
	return outs
}

// Outcome resolves a reference inside this snapshot.
func (s *Snapshot) Outcome(ref OutcomeRef) (*Outcome, bool) {
	outs, ok := s.outcomes.Get(ref.Node)
	if !ok || ref.Index < 0 || ref.Index >= len(outs) {
		return nil, false
	}
	return outs[ref.Index], true
}

// Scan calls fn for every node in ascending id order until fn returns false.
func (s *Snapshot) Scan(fn func(nodeID int, outs []*Outcome) bool) {
	s.outcomes.Scan(fn)
}

// NodeIDs returns the ids of the active nodes in ascending order.
func (s *Snapshot) NodeIDs() []int {
	return s.outcomes.Keys()
}

// Expected returns the probability-weighted mean activated value of a node and
// the probability mass its outcomes hold. ok is false when the node was
// inactive or its outcomes carry no mass.
func (s *Snapshot) Expected(nodeID int) (value, mass float64, ok bool) {
	var acc WeightedMean
	for _, o := range s.Outcomes(nodeID) {
		acc.Add(o.Activated, o.Probability)
	}
	if acc.Empty() {
		return 0, 0, false
	}
	return acc.Mean(), acc.Weight(), true
}

func (s *Snapshot) set(nodeID int, outs []*Outcome) {
	s.outcomes.Set(nodeID, outs)
}

// History is the append-only record of snapshots since the last burn. Step t of
// the network is snapshot t.
type History struct {
	snapshots []*Snapshot
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{}
}

// NumberOfTimesteps returns the number of retained snapshots.
func (h *History) NumberOfTimesteps() int { return len(h.snapshots) }

// At returns the snapshot of a step.
func (h *History) At(step int) (*Snapshot, bool) {
	if step < 0 || step >= len(h.snapshots) {
		return nil, false
	}
	return h.snapshots[step], true
}

// Latest returns the most recent snapshot.
func (h *History) Latest() (*Snapshot, bool) {
	return h.At(len(h.snapshots) - 1)
}

// Resolve looks up a source or root reference made by an outcome of step:
// it is resolved in the snapshot of step-1.
func (h *History) Resolve(step int, ref OutcomeRef) (*Outcome, bool) {
	prev, ok := h.At(step - 1)
	if !ok {
		return nil, false
	}
	return prev.Outcome(ref)
}

// Backward calls fn from the latest snapshot to the earliest until fn returns false.
func (h *History) Backward(fn func(s *Snapshot) bool) {
	for i := len(h.snapshots) - 1; i >= 0; i-- {
		if !fn(h.snapshots[i]) {
			return
		}
	}
}

// Burn drops every snapshot.
func (h *History) Burn() {
	for i := range h.snapshots {
		h.snapshots[i] = nil
	}
	h.snapshots = h.snapshots[:0]
}

func (h *History) append(s *Snapshot) {
	h.snapshots = append(h.snapshots, s)
}
