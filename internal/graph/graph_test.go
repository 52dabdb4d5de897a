package graph

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"tickergraph/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// mustUpsert applies an upsert and fails the test on error.
func mustUpsert(t testing.TB, g *Graph, from, to string, cost float64) *Edge {
	t.Helper()
	e, err := g.UpsertEdge(from, to, cost)
	if err != nil {
		t.Fatalf("UpsertEdge(%s, %s, %v): %v", from, to, cost, err)
	}
	return e
}

// countEvents registers a handler counting NegativeCycleFound events.
func countEvents(g *Graph) *[]*Cycle {
	var fired []*Cycle
	g.OnNegativeCycle(func(_ *Graph, c *Cycle) {
		fired = append(fired, c)
	})
	return &fired
}

func TestUpsertCreatesNodesLazily(t *testing.T) {
	g := New("test", nil)

	mustUpsert(t, g, "BTC", "USDT", 30000)

	if g.NumNodes() != 2 {
		t.Errorf("Expected 2 nodes, got %d", g.NumNodes())
	}
	if g.NumEdges() != 1 {
		t.Errorf("Expected 1 edge, got %d", g.NumEdges())
	}

	// Re-referencing an existing symbol must not create a new node
	before, _ := g.Node("BTC")
	mustUpsert(t, g, "BTC", "ETH", 15)
	after, _ := g.Node("BTC")
	if before != after {
		t.Error("Expected existing BTC node to be reused")
	}
	if g.NumNodes() != 3 {
		t.Errorf("Expected 3 nodes, got %d", g.NumNodes())
	}
}

func TestEdgeIdentityStability(t *testing.T) {
	g := New("test", nil)

	mustUpsert(t, g, "A", "B", 1.0)
	mustUpsert(t, g, "B", "C", 1.0)
	mustUpsert(t, g, "C", "A", 1.0)

	first := mustUpsert(t, g, "A", "B", 1.0)
	second := mustUpsert(t, g, "A", "B", 2.0)

	if first != second {
		t.Fatal("Expected the A->B edge to keep its identity across cost updates")
	}
	if second.Cost() != 2.0 {
		t.Errorf("Expected cost 2.0, got %f", second.Cost())
	}
	if g.NumEdges() != 3 {
		t.Errorf("Expected 3 edges after update, got %d", g.NumEdges())
	}

	cycles := g.Cycles()
	if len(cycles) != 1 {
		t.Fatalf("Expected 1 cycle, got %d", len(cycles))
	}
	w := cycles[0].UpdateWeight()
	if math.Abs(w-(-math.Log(2.0))) > 1e-12 {
		t.Errorf("Expected cycle weight -ln(2), got %f", w)
	}
}

func TestDiscoveryCompleteness(t *testing.T) {
	g := New("test", nil)

	mustUpsert(t, g, "A", "B", 1.0)
	mustUpsert(t, g, "B", "C", 1.0)
	mustUpsert(t, g, "C", "A", 1.0)

	cycles := g.Cycles()
	if len(cycles) != 1 {
		t.Fatalf("Expected exactly 1 cycle, got %d", len(cycles))
	}

	a, _ := g.Node("A")
	b, _ := g.Node("B")
	c, _ := g.Node("C")
	expected, err := NewCycle(a, b, c, a)
	if err != nil {
		t.Fatalf("NewCycle: %v", err)
	}
	if !cycles[0].Equal(expected) {
		t.Errorf("Expected cycle equivalent to A->B->C->A, got %s", cycles[0])
	}
	if cycles[0].Length() != 3 {
		t.Errorf("Expected length 3, got %d", cycles[0].Length())
	}
}

func TestDiscoveryMinimality(t *testing.T) {
	g := New("test", nil)

	mustUpsert(t, g, "A", "B", 1.0)
	mustUpsert(t, g, "B", "C", 1.0)
	if g.NumCycles() != 0 {
		t.Errorf("Expected no cycles on an open path, got %d", g.NumCycles())
	}

	// A->C closes no triangle: C has no edge back to A
	mustUpsert(t, g, "A", "C", 1.0)
	if g.NumCycles() != 0 {
		t.Errorf("Expected no cycles, got %d", g.NumCycles())
	}

	// Two-hop round trips are not triangles
	mustUpsert(t, g, "B", "A", 1.0)
	if g.NumCycles() != 0 {
		t.Errorf("Expected 2-cycles to be ignored, got %d", g.NumCycles())
	}
}

func TestNegativeCycleOnInsert(t *testing.T) {
	tests := []struct {
		name      string
		closeCost float64
		events    int
	}{
		{name: "profitable round trip", closeCost: 1.5, events: 1},
		{name: "break even", closeCost: 1.0, events: 0},
		{name: "losing round trip", closeCost: 0.9, events: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New("test", nil)
			fired := countEvents(g)

			mustUpsert(t, g, "A", "B", 1.0)
			mustUpsert(t, g, "B", "C", 1.0)
			mustUpsert(t, g, "C", "A", tt.closeCost)

			if len(*fired) != tt.events {
				t.Errorf("Expected %d events, got %d", tt.events, len(*fired))
			}
			for _, c := range *fired {
				if c.Weight() >= 0 {
					t.Errorf("Event fired with non-negative weight %f", c.Weight())
				}
			}
		})
	}
}

func TestNegativeCycleOnUpdate(t *testing.T) {
	g := New("test", nil)
	fired := countEvents(g)

	mustUpsert(t, g, "A", "B", 1.0)
	mustUpsert(t, g, "B", "C", 1.0)
	mustUpsert(t, g, "C", "A", 0.5)

	if len(*fired) != 0 {
		t.Fatalf("Expected no events for a losing cycle, got %d", len(*fired))
	}
	known := g.Cycles()
	if len(known) != 1 {
		t.Fatalf("Expected 1 cycle, got %d", len(known))
	}

	mustUpsert(t, g, "C", "A", 1.5)

	if len(*fired) != 1 {
		t.Fatalf("Expected 1 event after re-costing, got %d", len(*fired))
	}
	if (*fired)[0] != known[0] {
		t.Error("Expected the event to carry the already-known cycle, not a rediscovered one")
	}
	if g.NumCycles() != 1 {
		t.Errorf("Expected update not to add cycles, got %d", g.NumCycles())
	}

	// Still negative on the next update: the event fires again
	mustUpsert(t, g, "C", "A", 1.6)
	if len(*fired) != 2 {
		t.Errorf("Expected a second event while the cycle stays negative, got %d", len(*fired))
	}

	// Back to a loss: no event
	mustUpsert(t, g, "C", "A", 0.9)
	if len(*fired) != 2 {
		t.Errorf("Expected no event for a losing update, got %d", len(*fired))
	}
}

func TestUpdateWithoutCyclesIsQuiet(t *testing.T) {
	g := New("test", nil)
	fired := countEvents(g)

	mustUpsert(t, g, "A", "B", 1.0)
	mustUpsert(t, g, "A", "B", 5.0)

	if len(*fired) != 0 {
		t.Errorf("Expected no events, got %d", len(*fired))
	}
	if got := g.CyclesThrough("A", "B"); got != nil {
		t.Errorf("Expected no cycles through A->B, got %d", len(got))
	}
}

func TestSharedEdgeFiresPerCycle(t *testing.T) {
	g := New("test", nil)
	fired := countEvents(g)

	// Two triangles share A->B: A->B->C->A and A->B->D->A
	mustUpsert(t, g, "B", "C", 1.0)
	mustUpsert(t, g, "C", "A", 1.0)
	mustUpsert(t, g, "B", "D", 1.0)
	mustUpsert(t, g, "D", "A", 1.0)
	mustUpsert(t, g, "A", "B", 1.0)

	if g.NumCycles() != 2 {
		t.Fatalf("Expected 2 cycles, got %d", g.NumCycles())
	}
	if len(*fired) != 0 {
		t.Fatalf("Expected no events at break even, got %d", len(*fired))
	}

	mustUpsert(t, g, "A", "B", 1.1)
	if len(*fired) != 2 {
		t.Errorf("Expected one event per cycle through A->B, got %d", len(*fired))
	}
}

func TestCompleteGraphCycleCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := metrics.NewWithRegistry(reg, reg)
	g := New("test", met)
	symbols := []string{"A", "B", "C", "D"}

	for _, from := range symbols {
		for _, to := range symbols {
			if from != to {
				mustUpsert(t, g, from, to, 1.0)
			}
		}
	}

	// Each 3-subset yields two directed triangles: C(4,3) * 2
	if g.NumCycles() != 8 {
		t.Errorf("Expected 8 directed triangles, got %d", g.NumCycles())
	}
	if got := testutil.ToFloat64(met.CyclesDiscovered.WithLabelValues("test")); got != 8 {
		t.Errorf("Expected discovered counter 8, got %v", got)
	}
}

func TestCycleMapConsistency(t *testing.T) {
	g := New("test", nil)
	rng := rand.New(rand.NewSource(42))
	symbols := []string{"BTC", "ETH", "USDT", "SOL", "XRP"}

	for i := 0; i < 200; i++ {
		from := symbols[rng.Intn(len(symbols))]
		to := symbols[rng.Intn(len(symbols))]
		if from == to {
			continue
		}
		mustUpsert(t, g, from, to, 0.9+rng.Float64()*0.2)
	}

	if g.NumCycles() == 0 {
		t.Fatal("Expected random graph to contain cycles")
	}

	for _, c := range g.Cycles() {
		path := c.Symbols()
		for i := 0; i < len(path)-1; i++ {
			if !g.CycleMap().Contains(path[i], path[i+1], c) {
				t.Errorf("CycleMap[%s,%s] missing cycle %s", path[i], path[i+1], c)
			}
		}
	}

	result := g.Validate()
	if !result.Valid {
		t.Errorf("Expected valid graph, got errors: %v", result.Errors)
	}
}

func TestUpsertRejectsInvalidCost(t *testing.T) {
	costs := []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1)}

	for _, cost := range costs {
		t.Run(fmt.Sprintf("%v", cost), func(t *testing.T) {
			g := New("test", nil)
			_, err := g.UpsertEdge("A", "B", cost)
			if !errors.Is(err, ErrInvalidCost) {
				t.Errorf("Expected ErrInvalidCost, got %v", err)
			}
			if g.NumNodes() != 0 {
				t.Errorf("Expected rejected upsert to leave the graph empty, got %d nodes", g.NumNodes())
			}
		})
	}
}

func TestUpsertRejectsInvalidSymbol(t *testing.T) {
	g := New("test", nil)

	if _, err := g.UpsertEdge("", "B", 1); !errors.Is(err, ErrInvalidSymbol) {
		t.Errorf("Expected ErrInvalidSymbol for empty from, got %v", err)
	}
	if _, err := g.UpsertEdge("A", "", 1); !errors.Is(err, ErrInvalidSymbol) {
		t.Errorf("Expected ErrInvalidSymbol for empty to, got %v", err)
	}
	if _, err := g.UpsertEdge("A", "A", 1); !errors.Is(err, ErrInvalidSymbol) {
		t.Errorf("Expected ErrInvalidSymbol for self-loop, got %v", err)
	}
}

func TestUnknownLookups(t *testing.T) {
	g := New("test", nil)
	mustUpsert(t, g, "A", "B", 1)

	if _, ok := g.Node("Z"); ok {
		t.Error("Expected unknown node lookup to report not found")
	}
	if _, ok := g.Edge("Z", "A"); ok {
		t.Error("Expected unknown edge lookup to report not found")
	}
	if _, ok := g.Edge("A", "Z"); ok {
		t.Error("Expected unknown destination lookup to report not found")
	}
	if got := g.CyclesThrough("Z", "A"); got != nil {
		t.Errorf("Expected nil cycles for unknown pair, got %v", got)
	}
}

func TestHandlerCanReadGraph(t *testing.T) {
	g := New("test", nil)

	var snap *Snapshot
	var through int
	g.OnNegativeCycle(func(g *Graph, c *Cycle) {
		snap = g.CreateSnapshot()
		through = len(g.CyclesThrough("C", "A"))
	})

	mustUpsert(t, g, "A", "B", 1.0)
	mustUpsert(t, g, "B", "C", 1.0)
	mustUpsert(t, g, "C", "A", 2.0)

	if snap == nil {
		t.Fatal("Expected handler to run")
	}
	if snap.NumCycles() != 1 {
		t.Errorf("Expected handler snapshot to see 1 cycle, got %d", snap.NumCycles())
	}
	if through != 1 {
		t.Errorf("Expected handler to see 1 cycle through C->A, got %d", through)
	}
}

func TestHandlerSeesStoredWeight(t *testing.T) {
	g := New("test", nil)

	var seen []float64
	g.OnNegativeCycle(func(_ *Graph, c *Cycle) {
		seen = append(seen, c.Weight())
	})

	mustUpsert(t, g, "A", "B", 1.0)
	mustUpsert(t, g, "B", "C", 1.0)
	mustUpsert(t, g, "C", "A", 1.25)
	mustUpsert(t, g, "C", "A", 1.5)

	if len(seen) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(seen))
	}
	if math.Abs(seen[0]-(-math.Log(1.25))) > 1e-12 {
		t.Errorf("Expected first weight -ln(1.25), got %f", seen[0])
	}
	if math.Abs(seen[1]-(-math.Log(1.5))) > 1e-12 {
		t.Errorf("Expected second weight -ln(1.5), got %f", seen[1])
	}
}

func TestConcurrentUpserts(t *testing.T) {
	g := New("test", nil)
	symbols := []string{"S0", "S1", "S2", "S3", "S4"}

	type pair struct{ from, to string }
	var pairs []pair
	for _, from := range symbols {
		for _, to := range symbols {
			if from != to {
				pairs = append(pairs, pair{from, to})
			}
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			order := rng.Perm(len(pairs))
			for round := 0; round < 5; round++ {
				for _, idx := range order {
					p := pairs[idx]
					if _, err := g.UpsertEdge(p.from, p.to, 0.95+rng.Float64()*0.1); err != nil {
						t.Errorf("UpsertEdge: %v", err)
						return
					}
				}
			}
		}(int64(w))
	}
	wg.Wait()

	if g.NumEdges() != len(pairs) {
		t.Errorf("Expected %d edges, got %d", len(pairs), g.NumEdges())
	}
	// C(5,3) * 2 directed triangles
	if g.NumCycles() != 20 {
		t.Errorf("Expected 20 cycles without rotation duplicates, got %d", g.NumCycles())
	}
	if result := g.Validate(); !result.Valid {
		t.Errorf("Expected valid graph after concurrent upserts, got %v", result.Errors)
	}
}

func TestSnapshotImmutability(t *testing.T) {
	g := New("test", nil)
	mustUpsert(t, g, "A", "B", 1.0)
	mustUpsert(t, g, "B", "C", 1.0)
	mustUpsert(t, g, "C", "A", 1.0)

	snap := g.CreateSnapshot()
	node, ok := snap.Node("A")
	if !ok {
		t.Fatal("Expected node A in snapshot")
	}
	original := node.Edges[0].Cost

	mustUpsert(t, g, "A", "B", 3.0)

	node, _ = snap.Node("A")
	if node.Edges[0].Cost != original {
		t.Errorf("Snapshot was mutated: cost changed from %f to %f", original, node.Edges[0].Cost)
	}
	if snap.NumNodes() != 3 || snap.NumEdges() != 3 || snap.NumCycles() != 1 {
		t.Errorf("Unexpected snapshot sizes: nodes=%d edges=%d cycles=%d",
			snap.NumNodes(), snap.NumEdges(), snap.NumCycles())
	}
}

func TestSnapshotNegativeCycles(t *testing.T) {
	g := New("test", nil)
	mustUpsert(t, g, "A", "B", 1.0)
	mustUpsert(t, g, "B", "C", 1.0)
	mustUpsert(t, g, "C", "A", 1.2)
	mustUpsert(t, g, "B", "D", 1.0)
	mustUpsert(t, g, "D", "A", 1.5)
	mustUpsert(t, g, "B", "E", 1.0)
	mustUpsert(t, g, "E", "A", 0.5)

	negative := g.CreateSnapshot().NegativeCycles()
	if len(negative) != 2 {
		t.Fatalf("Expected 2 negative cycles, got %d", len(negative))
	}
	if negative[0].ProfitFactor < negative[1].ProfitFactor {
		t.Error("Expected most profitable cycle first")
	}
}

func TestWeightCalculation(t *testing.T) {
	tests := []struct {
		name     string
		cost     float64
		expected float64
	}{
		{name: "unit cost", cost: 1, expected: 0},
		{name: "gain", cost: math.E, expected: -1},
		{name: "loss", cost: 1 / math.E, expected: 1},
		{name: "zero", cost: 0, expected: math.Inf(1)},
		{name: "negative", cost: -2, expected: math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateWeight(tt.cost)
			if math.IsInf(tt.expected, 1) {
				if !math.IsInf(got, 1) {
					t.Errorf("Expected +Inf, got %f", got)
				}
				return
			}
			if math.Abs(got-tt.expected) > 1e-12 {
				t.Errorf("Expected %f, got %f", tt.expected, got)
			}
		})
	}

	if !IsProfitable(-math.Log(1.01), 1.005) {
		t.Error("Expected 1% round trip to clear a 0.5% threshold")
	}
	if math.Abs(WeightToCost(CalculateWeight(2.5))-2.5) > 1e-12 {
		t.Error("Expected WeightToCost to invert CalculateWeight")
	}
}

func BenchmarkUpsertEdgeUpdate(b *testing.B) {
	g := New("bench", nil)
	symbols := make([]string, 50)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("TOK%d", i)
	}
	for _, from := range symbols {
		for _, to := range symbols {
			if from != to {
				mustUpsert(b, g, from, to, 1.0)
			}
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.UpsertEdge(symbols[i%50], symbols[(i+1)%50], 0.99+float64(i%3)*0.01)
	}
}

func BenchmarkUpsertEdgeDiscovery(b *testing.B) {
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		g := New("bench", nil)
		b.StartTimer()
		for j := 0; j < 30; j++ {
			for k := 0; k < 30; k++ {
				if j != k {
					g.UpsertEdge(fmt.Sprintf("T%d", j), fmt.Sprintf("T%d", k), 1.0)
				}
			}
		}
	}
}
