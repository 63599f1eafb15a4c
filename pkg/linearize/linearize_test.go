package linearize

import (
	"errors"
	"testing"

	"github.com/sanonone/graphnet/pkg/activation"
	"github.com/sanonone/graphnet/pkg/filter"
	"github.com/sanonone/graphnet/pkg/graph"
)

// twoToOne builds two inputs feeding one hidden node that feeds an output.
func twoToOne(t *testing.T) (*graph.Network, *graph.Node, *graph.Node) {
	t.Helper()
	net := graph.NewNetwork(graph.DefaultOptions())
	a, b := net.AddInput(), net.AddInput()
	h := net.AddHidden(activation.Tanh{})
	out := net.AddOutput(activation.Linear{})
	if _, err := net.Connect(a, h, filter.NewBernoulli(0.5), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := net.Connect(b, h, filter.NewNormal(0, 1), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := net.Connect(h, out, filter.AlwaysFire{}, nil); err != nil {
		t.Fatal(err)
	}
	return net, h, out
}

func TestOffsetsAreContiguousAndUnique(t *testing.T) {
	net, h, out := twoToOne(t)
	l := New(net)

	// Hidden: keys 1,2 hold bias+1 weight, key 3 bias+2 weights. Output: key 1.
	if l.Size() != 2+2+3+2 {
		t.Fatalf("size = %d, want 9", l.Size())
	}

	seen := make(map[int]bool)
	next := 0
	for _, n := range []*graph.Node{h, out} {
		for key := uint64(1); key < uint64(n.Values().Rows()); key++ {
			for idx := -1; idx < n.Values().ParameterCount(key)-1; idx++ {
				off, err := l.Offset(n.ID(), key, idx)
				if err != nil {
					t.Fatalf("node %d key %b index %d: %v", n.ID(), key, idx, err)
				}
				if off != next {
					t.Errorf("node %d key %b index %d: offset %d, want %d", n.ID(), key, idx, off, next)
				}
				if seen[off] {
					t.Errorf("offset %d assigned twice", off)
				}
				seen[off] = true
				next++
			}
		}
	}
	if next != l.Size() {
		t.Errorf("visited %d slots of %d", next, l.Size())
	}

	if _, err := l.Offset(h.ID(), 1, 1); !errors.Is(err, ErrUnmapped) {
		t.Errorf("index past the row: got %v, want ErrUnmapped", err)
	}
	if _, err := l.Offset(h.ID(), 0, -1); !errors.Is(err, ErrUnmapped) {
		t.Errorf("empty key: got %v, want ErrUnmapped", err)
	}
	if start, end, err := l.NodeSlice(out.ID()); err != nil || start != 7 || end != 9 {
		t.Errorf("output slice = [%d,%d) %v, want [7,9)", start, end, err)
	}
}

func TestApplyAndParametersRoundTrip(t *testing.T) {
	net, h, _ := twoToOne(t)
	l := New(net)

	before, err := l.Parameters()
	if err != nil {
		t.Fatal(err)
	}
	delta := l.NewVector()
	for i := range delta {
		delta[i] = float64(i) * 0.01
	}
	if err := l.Apply(delta); err != nil {
		t.Fatal(err)
	}
	after, err := l.Parameters()
	if err != nil {
		t.Fatal(err)
	}
	for i := range after {
		if diff := after[i] - before[i] - delta[i]; diff > 1e-12 || diff < -1e-12 {
			t.Errorf("slot %d moved by %v, want %v", i, after[i]-before[i], delta[i])
		}
	}

	off, _ := l.Offset(h.ID(), 3, 1)
	w, _ := h.Values().Weight(3, 1)
	if w != after[off] {
		t.Errorf("weight (3,1) = %v, vector says %v", w, after[off])
	}

	if err := l.Apply(delta[:3]); !errors.Is(err, ErrLength) {
		t.Errorf("short delta: got %v, want ErrLength", err)
	}
}

func TestStaleAfterTopologyChange(t *testing.T) {
	net, h, out := twoToOne(t)
	l := New(net)
	fl := NewFilters(net)
	if l.Stale() || fl.Stale() {
		t.Fatal("fresh linearizers report stale")
	}

	if _, err := net.Connect(out, h, filter.AlwaysFire{}, nil); err != nil {
		t.Fatal(err)
	}
	if !l.Stale() || !fl.Stale() {
		t.Fatal("linearizers did not notice the new edge")
	}
	if _, err := l.Parameters(); !errors.Is(err, ErrStale) {
		t.Errorf("Parameters: got %v, want ErrStale", err)
	}
	if err := l.Apply(l.NewVector()); !errors.Is(err, ErrStale) {
		t.Errorf("Apply: got %v, want ErrStale", err)
	}
	if _, err := l.Offset(h.ID(), 1, -1); !errors.Is(err, ErrStale) {
		t.Errorf("Offset: got %v, want ErrStale", err)
	}
	if err := fl.Apply(fl.NewVector()); !errors.Is(err, ErrStale) {
		t.Errorf("filter Apply: got %v, want ErrStale", err)
	}

	rebuilt := New(net)
	if rebuilt.Size() <= l.Size() {
		t.Errorf("rebuilt size %d, want more than %d", rebuilt.Size(), l.Size())
	}
}

func TestFilterSpans(t *testing.T) {
	net, _, _ := twoToOne(t)
	fl := NewFilters(net)
	if fl.Size() != 3 {
		t.Fatalf("size = %d, want 3", fl.Size())
	}
	want := [][2]int{{0, 1}, {1, 3}, {3, 3}}
	for i, e := range fl.Edges() {
		start, end, err := fl.Span(e)
		if err != nil {
			t.Fatal(err)
		}
		if start != want[i][0] || end != want[i][1] {
			t.Errorf("edge %d: span [%d,%d), want %v", i, start, end, want[i])
		}
	}

	if err := fl.Apply([]float64{0.25, 0.5, -0.5}); err != nil {
		t.Fatal(err)
	}
	params, err := fl.Parameters()
	if err != nil {
		t.Fatal(err)
	}
	if params[0] != 0.75 || params[1] != 0.5 || params[2] != 0.5 {
		t.Errorf("parameters after apply = %v, want [0.75 0.5 0.5]", params)
	}
}
