package graph

import (
	"sort"
	"time"
)

// EdgeView is an immutable copy of an edge.
type EdgeView struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Cost   float64 `json:"cost"`
	Weight float64 `json:"weight"`
}

// NodeView is an immutable copy of a node and its outgoing edges.
type NodeView struct {
	Symbol string     `json:"symbol"`
	Edges  []EdgeView `json:"edges"`
}

// CycleView is an immutable copy of a cycle with its last computed weight.
type CycleView struct {
	Key          string     `json:"key"`
	Path         []string   `json:"path"`
	Edges        []EdgeView `json:"edges"`
	Weight       float64    `json:"weight"`
	ProfitFactor float64    `json:"profit_factor"`
}

// Snapshot represents an immutable point-in-time view of the graph.
// Used by consumers that must not hold references into the live graph.
type Snapshot struct {
	Exchange  string      `json:"exchange"`
	Nodes     []NodeView  `json:"nodes"`
	Cycles    []CycleView `json:"cycles"`
	CreatedAt time.Time   `json:"created_at"`

	nodeIndex map[string]int
}

// CreateSnapshot copies the current graph state.
// It does not take the critical section; each edge is read atomically, so a
// concurrent upsert may be reflected for some edges and not others.
func (g *Graph) CreateSnapshot() *Snapshot {
	nodes := g.Nodes()
	cycles := g.Cycles()

	snap := &Snapshot{
		Exchange:  g.exchange,
		Nodes:     make([]NodeView, 0, len(nodes)),
		Cycles:    make([]CycleView, 0, len(cycles)),
		CreatedAt: time.Now(),
		nodeIndex: make(map[string]int, len(nodes)),
	}

	ordered := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		ordered = append(ordered, n)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Less(ordered[j])
	})

	for i, n := range ordered {
		snap.Nodes = append(snap.Nodes, NodeView{
			Symbol: n.Symbol(),
			Edges:  edgeViews(n.Edges()),
		})
		snap.nodeIndex[n.Symbol()] = i
	}

	for _, c := range cycles {
		snap.Cycles = append(snap.Cycles, CycleView{
			Key:          c.Key(),
			Path:         c.Symbols(),
			Edges:        edgeViews(c.Edges()),
			Weight:       c.Weight(),
			ProfitFactor: c.ProfitFactor(),
		})
	}

	return snap
}

func edgeViews(edges []*Edge) []EdgeView {
	views := make([]EdgeView, len(edges))
	for i, e := range edges {
		views[i] = EdgeView{
			From:   e.From().Symbol(),
			To:     e.To().Symbol(),
			Cost:   e.Cost(),
			Weight: e.Weight(),
		}
	}
	return views
}

// NumNodes returns the number of nodes in the snapshot.
func (s *Snapshot) NumNodes() int {
	return len(s.Nodes)
}

// NumEdges returns the number of directed edges in the snapshot.
func (s *Snapshot) NumEdges() int {
	count := 0
	for _, n := range s.Nodes {
		count += len(n.Edges)
	}
	return count
}

// NumCycles returns the number of cycles in the snapshot.
func (s *Snapshot) NumCycles() int {
	return len(s.Cycles)
}

// Node returns the node view for symbol.
func (s *Snapshot) Node(symbol string) (NodeView, bool) {
	idx, ok := s.nodeIndex[symbol]
	if !ok {
		return NodeView{}, false
	}
	return s.Nodes[idx], true
}

// NegativeCycles returns the cycles whose last computed weight was negative,
// most profitable first.
func (s *Snapshot) NegativeCycles() []CycleView {
	var out []CycleView
	for _, c := range s.Cycles {
		if c.Weight < 0 {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Weight < out[j].Weight
	})
	return out
}
