package graph

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tickergraph/internal/metrics"

	"github.com/rs/zerolog/log"
)

// NegativeCycleHandler is called when an upsert leaves a cycle with negative
// weight. It runs synchronously inside the graph's critical section, so it
// must return quickly and must not call UpsertEdge on the same graph. Read
// methods (Nodes, Cycles, CyclesThrough, Snapshot) are safe to call.
type NegativeCycleHandler func(g *Graph, c *Cycle)

// Graph is the per-exchange conversion graph.
// Nodes are created lazily and never removed; edges are re-costed, never
// removed. Every triangular cycle is discovered when its last edge arrives.
type Graph struct {
	exchange string
	metrics  *metrics.Metrics

	// mu is the critical section around upsert, discovery, reweigh,
	// CycleMap mutation and event firing.
	mu sync.Mutex

	// Copy-on-write node table: readers load, writers swap under mu.
	nodes    atomic.Pointer[map[string]*Node]
	numEdges atomic.Int64

	cyclesMu sync.RWMutex
	cycles   *cycleSet
	cycleMap *CycleMap

	handlersMu sync.Mutex
	handlers   atomic.Pointer[[]NegativeCycleHandler]
}

// upsertResult carries what happened inside the critical section out to
// logging and metrics.
type upsertResult struct {
	edge       *Edge
	inserted   bool
	discovered int
	negative   int
}

// New creates an empty graph for one exchange. m may be nil.
func New(exchange string, m *metrics.Metrics) *Graph {
	g := &Graph{
		exchange: exchange,
		metrics:  m,
		cycles:   newCycleSet(),
		cycleMap: NewCycleMap(),
	}
	nodes := make(map[string]*Node)
	g.nodes.Store(&nodes)
	handlers := make([]NegativeCycleHandler, 0)
	g.handlers.Store(&handlers)
	return g
}

// Exchange returns the exchange this graph belongs to.
func (g *Graph) Exchange() string {
	return g.exchange
}

// OnNegativeCycle registers a handler for NegativeCycleFound events.
func (g *Graph) OnNegativeCycle(h NegativeCycleHandler) {
	if h == nil {
		return
	}

	g.handlersMu.Lock()
	defer g.handlersMu.Unlock()

	current := *g.handlers.Load()
	next := make([]NegativeCycleHandler, len(current), len(current)+1)
	copy(next, current)
	next = append(next, h)
	g.handlers.Store(&next)
}

// UpsertEdge inserts the edge from -> to or refreshes its cost.
//
// A new edge triggers triangular discovery seeded at (from, to); a re-costed
// edge reweighs every known cycle through (from, to). Either path raises
// NegativeCycleFound for each affected cycle whose weight is negative.
// Returns the live edge stored on the from node.
func (g *Graph) UpsertEdge(from, to string, cost float64) (*Edge, error) {
	if from == "" || to == "" {
		return nil, fmt.Errorf("empty symbol in %q->%q: %w", from, to, ErrInvalidSymbol)
	}
	if from == to {
		return nil, fmt.Errorf("self-loop on %q: %w", from, ErrInvalidSymbol)
	}
	if !ValidCost(cost) {
		return nil, fmt.Errorf("edge %s->%s cost %v: %w", from, to, cost, ErrInvalidCost)
	}

	start := time.Now()
	res, err := g.upsert(from, to, cost)
	if err != nil {
		return nil, err
	}

	if g.metrics != nil {
		g.metrics.RecordUpsertLatency(time.Since(start))
		g.metrics.RecordEdgeUpsert(g.exchange, res.inserted)
		g.metrics.RecordCyclesDiscovered(g.exchange, res.discovered)
		g.metrics.RecordNegativeCycles(g.exchange, res.negative)
	}

	if res.discovered > 0 {
		log.Debug().
			Str("exchange", g.exchange).
			Str("from", from).
			Str("to", to).
			Int("discovered", res.discovered).
			Int("total_cycles", g.NumCycles()).
			Msg("Discovered triangular cycles")
	}

	return res.edge, nil
}

func (g *Graph) upsert(from, to string, cost float64) (upsertResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	fromNode := g.nodeLocked(from)
	toNode := g.nodeLocked(to)

	edge, err := NewEdge(fromNode, toNode, cost)
	if err != nil {
		return upsertResult{}, err
	}

	res := upsertResult{}
	if fromNode.AddOrUpdateEdge(edge) {
		res.inserted = true
		g.numEdges.Add(1)
		res.discovered, res.negative = g.discoverLocked(fromNode, toNode)
	} else {
		res.negative = g.reweighLocked(from, to)
	}

	// The local edge is discarded on update; hand back the stored one.
	live, ok := fromNode.Edge(to)
	if !ok {
		return upsertResult{}, fmt.Errorf("edge %s->%s missing after upsert", from, to)
	}
	res.edge = live
	return res, nil
}

// nodeLocked resolves or creates the node for symbol. Must be called with g.mu held.
func (g *Graph) nodeLocked(symbol string) *Node {
	current := *g.nodes.Load()
	if n, ok := current[symbol]; ok {
		return n
	}

	n := NewNode(symbol)
	next := make(map[string]*Node, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[symbol] = n
	g.nodes.Store(&next)
	return n
}

// discoverLocked finds every triangle closed by the new edge a -> b.
// The graph only grows, so any unknown triangle must contain the new edge.
// Must be called with g.mu held.
func (g *Graph) discoverLocked(a, b *Node) (discovered, negative int) {
	if b.Degree() == 0 {
		return 0, 0
	}

	for _, bc := range b.Edges() {
		c := bc.To()
		if c == a || !c.HasEdge(a.Symbol()) {
			continue
		}

		cycle, err := NewCycle(a, b, c, a)
		if err != nil {
			log.Warn().Err(err).Str("exchange", g.exchange).Msg("Skipping invalid triangle")
			continue
		}

		g.cyclesMu.Lock()
		stored, added := g.cycles.add(cycle)
		g.cyclesMu.Unlock()
		if added {
			discovered++
		}

		g.cycleMap.Add(stored)

		if stored.UpdateWeight() < 0 {
			g.fireLocked(stored)
			negative++
		}
	}

	return discovered, negative
}

// reweighLocked recomputes every known cycle through from -> to.
// Must be called with g.mu held.
func (g *Graph) reweighLocked(from, to string) (negative int) {
	for _, c := range g.cycleMap.Get(from, to) {
		if c.UpdateWeight() < 0 {
			g.fireLocked(c)
			negative++
		}
	}
	return negative
}

// fireLocked raises NegativeCycleFound. Must be called with g.mu held so the
// handler sees the weight that is currently stored.
func (g *Graph) fireLocked(c *Cycle) {
	log.Trace().
		Str("exchange", g.exchange).
		Str("cycle", c.String()).
		Float64("weight", c.Weight()).
		Msg("Negative cycle found")

	for _, h := range *g.handlers.Load() {
		h(g, c)
	}
}

// Node returns the node for symbol.
func (g *Graph) Node(symbol string) (*Node, bool) {
	n, ok := (*g.nodes.Load())[symbol]
	return n, ok
}

// Edge returns the live edge from -> to.
func (g *Graph) Edge(from, to string) (*Edge, bool) {
	n, ok := g.Node(from)
	if !ok {
		return nil, false
	}
	return n.Edge(to)
}

// Nodes returns a copy of the symbol -> node table.
func (g *Graph) Nodes() map[string]*Node {
	current := *g.nodes.Load()
	out := make(map[string]*Node, len(current))
	for k, v := range current {
		out[k] = v
	}
	return out
}

// Cycles returns every known cycle in discovery order.
func (g *Graph) Cycles() []*Cycle {
	g.cyclesMu.RLock()
	defer g.cyclesMu.RUnlock()
	return g.cycles.all()
}

// CyclesThrough returns the known cycles traversing from -> to.
func (g *Graph) CyclesThrough(from, to string) []*Cycle {
	return g.cycleMap.Get(from, to)
}

// CycleMap returns the pair index.
func (g *Graph) CycleMap() *CycleMap {
	return g.cycleMap
}

// NumNodes returns the number of symbols in the graph.
func (g *Graph) NumNodes() int {
	return len(*g.nodes.Load())
}

// NumEdges returns the number of directed edges.
func (g *Graph) NumEdges() int {
	return int(g.numEdges.Load())
}

// NumCycles returns the number of known cycles.
func (g *Graph) NumCycles() int {
	g.cyclesMu.RLock()
	defer g.cyclesMu.RUnlock()
	return g.cycles.len()
}
