package network

import (
	"errors"
	"math"
	"testing"
)

func pipe(id, from, to string) Pipe {
	return Pipe{ID: id, StartNode: from, EndNode: to}
}

func nodes(ids ...string) []Node {
	ns := make([]Node, len(ids))
	for i, id := range ids {
		ns[i] = Node{ID: id}
	}
	return ns
}

func TestNewBuildsAdjacency(t *testing.T) {
	g, err := New(nodes("A", "B", "C"), []Pipe{
		pipe("AB", "A", "B"),
		pipe("BC", "B", "C"),
		pipe("CA", "C", "A"),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if g.NumNodes() != 3 || g.NumPipes() != 3 {
		t.Fatalf("Expected 3 nodes and 3 pipes, got %d and %d", g.NumNodes(), g.NumPipes())
	}

	b, _ := g.NodeIndex("B")
	incident := g.Incident(b)
	if len(incident) != 2 {
		t.Fatalf("Expected 2 pipes at B, got %d", len(incident))
	}
	// AB ends at B, BC starts at B
	if incident[0].Start || incident[0].Sign() != -1 {
		t.Errorf("Expected AB to enter B, got %+v", incident[0])
	}
	if !incident[1].Start || incident[1].Sign() != 1 {
		t.Errorf("Expected BC to leave B, got %+v", incident[1])
	}

	ca, _ := g.PipeIndex("CA")
	if g.Start(ca) != 2 || g.End(ca) != 0 {
		t.Errorf("Expected CA to run from node 2 to node 0, got %d -> %d", g.Start(ca), g.End(ca))
	}
}

func TestNewRejectsBadTopology(t *testing.T) {
	tests := []struct {
		name  string
		nodes []Node
		pipes []Pipe
	}{
		{"unknown start", nodes("A", "B"), []Pipe{pipe("P1", "X", "B")}},
		{"unknown end", nodes("A", "B"), []Pipe{pipe("P1", "A", "Y")}},
		{"self loop", nodes("A", "B"), []Pipe{pipe("P1", "A", "A")}},
		{"empty node id", nodes("A", ""), nil},
		{"empty pipe id", nodes("A", "B"), []Pipe{pipe("", "A", "B")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.nodes, tt.pipes)
			var topo *TopologyError
			if !errors.As(err, &topo) {
				t.Fatalf("Expected TopologyError, got %v", err)
			}
			if !errors.Is(err, ErrTopology) {
				t.Errorf("Expected the error to match ErrTopology")
			}
		})
	}
}

func TestNewRejectsNonFiniteValues(t *testing.T) {
	withFlow := func(v float64) Pipe {
		p := pipe("P1", "A", "B")
		p.GivenFlow = Float(v)
		return p
	}
	withHeadLoss := func(v float64) Pipe {
		p := pipe("P1", "A", "B")
		p.GivenHeadLoss = Float(v)
		return p
	}

	tests := []struct {
		name  string
		nodes []Node
		pipes []Pipe
		field string
	}{
		{"infinite demand", []Node{{ID: "A", Demand: Float(math.Inf(1))}, {ID: "B"}}, nil, "demand"},
		{"negative infinite demand", []Node{{ID: "A"}, {ID: "B", Demand: Float(math.Inf(-1))}}, nil, "demand"},
		{"NaN demand", []Node{{ID: "A", Demand: Float(math.NaN())}, {ID: "B"}}, nil, "demand"},
		{"infinite given flow", nodes("A", "B"), []Pipe{withFlow(math.Inf(1))}, "given_flow"},
		{"NaN given flow", nodes("A", "B"), []Pipe{withFlow(math.NaN())}, "given_flow"},
		{"infinite given head loss", nodes("A", "B"), []Pipe{withHeadLoss(math.Inf(-1))}, "given_head_loss"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.nodes, tt.pipes)
			var value *ValueError
			if !errors.As(err, &value) {
				t.Fatalf("Expected ValueError, got %v", err)
			}
			if value.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, value.Field)
			}
			if !errors.Is(err, ErrTopology) {
				t.Errorf("Expected the error to match ErrTopology")
			}
		})
	}
}

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New(nodes("A", "B", "A"), nil)
	var dup *DuplicateIDError
	if !errors.As(err, &dup) || dup.Kind != "node" || dup.ID != "A" {
		t.Fatalf("Expected duplicate node A, got %v", err)
	}

	_, err = New(nodes("A", "B"), []Pipe{pipe("P1", "A", "B"), pipe("P1", "B", "A")})
	if !errors.As(err, &dup) || dup.Kind != "pipe" {
		t.Fatalf("Expected duplicate pipe P1, got %v", err)
	}
	if !errors.Is(err, ErrTopology) {
		t.Errorf("Expected duplicates to match ErrTopology")
	}
}

func TestComponents(t *testing.T) {
	// Two islands, listed interleaved: {A, C} and {B, D, E}
	g, err := New(nodes("A", "B", "C", "D", "E"), []Pipe{
		pipe("DE", "D", "E"),
		pipe("AC", "A", "C"),
		pipe("BD", "B", "D"),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	cc := g.Components()
	if len(cc) != 2 {
		t.Fatalf("Expected 2 components, got %d: %v", len(cc), cc)
	}
	want := [][]int{{0, 2}, {1, 3, 4}}
	for i := range want {
		if len(cc[i]) != len(want[i]) {
			t.Fatalf("Component %d: expected %v, got %v", i, want[i], cc[i])
		}
		for j := range want[i] {
			if cc[i][j] != want[i][j] {
				t.Errorf("Component %d: expected %v, got %v", i, want[i], cc[i])
			}
		}
	}
	if g.ComponentOf(4) != 1 {
		t.Errorf("Expected E in component 1, got %d", g.ComponentOf(4))
	}
}

func TestCheckBalance(t *testing.T) {
	ns := []Node{
		{ID: "A", Demand: Float(10)},
		{ID: "B"},
		{ID: "C", Demand: Float(-10)},
	}
	g, err := New(ns, []Pipe{pipe("AB", "A", "B"), pipe("BC", "B", "C")})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	demands := g.Demands()
	if demands[1] != 0 {
		t.Errorf("Expected an absent demand to read as 0, got %g", demands[1])
	}
	if err := g.CheckBalance(demands); err != nil {
		t.Errorf("Expected a balanced network, got %v", err)
	}

	demands[2] = -9
	err = g.CheckBalance(demands)
	var imbalance *ImbalanceError
	if !errors.As(err, &imbalance) {
		t.Fatalf("Expected ImbalanceError, got %v", err)
	}
	if imbalance.Sum != 1 {
		t.Errorf("Expected a residual of 1, got %g", imbalance.Sum)
	}
	if !errors.Is(err, ErrTopology) {
		t.Errorf("Expected the imbalance to match ErrTopology")
	}
}

func TestCheckBalanceRejectsInfiniteDemand(t *testing.T) {
	g, err := New(nodes("A", "B"), []Pipe{pipe("AB", "A", "B")})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tests := []struct {
		name    string
		demands []float64
	}{
		{"one infinite", []float64{math.Inf(1), 0}},
		{"both infinite", []float64{math.Inf(1), math.Inf(1)}},
		{"opposite infinities", []float64{math.Inf(1), math.Inf(-1)}},
		{"NaN", []float64{math.NaN(), 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.CheckBalance(tt.demands)
			var imbalance *ImbalanceError
			if !errors.As(err, &imbalance) {
				t.Fatalf("Expected ImbalanceError, got %v", err)
			}
		})
	}
}
