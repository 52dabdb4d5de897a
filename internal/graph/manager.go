package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tickergraph/internal/metrics"

	"github.com/rs/zerolog/log"
)

// PriceUpdate is one normalized (from, to, cost) tick from an exchange feed.
type PriceUpdate struct {
	Exchange  string
	From      string
	To        string
	Cost      float64
	Timestamp time.Time
}

// Manager owns one Graph per exchange and routes price updates to it.
// Graphs are created on the first update for an exchange and live as long
// as the manager.
type Manager struct {
	mu sync.RWMutex

	graphs   map[string]*Graph
	handlers []NegativeCycleHandler
	metrics  *metrics.Metrics
}

// NewManager creates a new graph manager. m may be nil.
func NewManager(m *metrics.Metrics) *Manager {
	return &Manager{
		graphs:  make(map[string]*Graph),
		metrics: m,
	}
}

// OnNegativeCycle registers h on every current and future exchange graph.
func (m *Manager) OnNegativeCycle(h NegativeCycleHandler) {
	if h == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers = append(m.handlers, h)
	for _, g := range m.graphs {
		g.OnNegativeCycle(h)
	}
}

// GraphFor returns the graph for exchange, creating it if needed.
func (m *Manager) GraphFor(exchange string) *Graph {
	m.mu.RLock()
	g, ok := m.graphs[exchange]
	m.mu.RUnlock()
	if ok {
		return g
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.graphs[exchange]; ok {
		return g
	}

	g = New(exchange, m.metrics)
	for _, h := range m.handlers {
		g.OnNegativeCycle(h)
	}
	m.graphs[exchange] = g

	log.Info().Str("exchange", exchange).Msg("Created exchange graph")
	return g
}

// Graph returns the graph for exchange if it exists.
func (m *Manager) Graph(exchange string) (*Graph, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.graphs[exchange]
	return g, ok
}

// ProcessUpdate applies a single price update to its exchange graph.
func (m *Manager) ProcessUpdate(update PriceUpdate) error {
	if update.Exchange == "" {
		m.recordRejected(update.Exchange, "exchange")
		return fmt.Errorf("price update without exchange: %w", ErrInvalidSymbol)
	}

	g := m.GraphFor(update.Exchange)
	edge, err := g.UpsertEdge(update.From, update.To, update.Cost)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCost):
			m.recordRejected(update.Exchange, "cost")
		case errors.Is(err, ErrInvalidSymbol):
			m.recordRejected(update.Exchange, "symbol")
		default:
			m.recordRejected(update.Exchange, "other")
		}
		return fmt.Errorf("applying %s update %s->%s: %w", update.Exchange, update.From, update.To, err)
	}

	if m.metrics != nil {
		m.metrics.RecordTickLatency(update.Timestamp)
	}

	log.Trace().
		Str("exchange", update.Exchange).
		Str("edge", edge.String()).
		Float64("weight", edge.Weight()).
		Msg("Applied price update")

	return nil
}

func (m *Manager) recordRejected(exchange, reason string) {
	if m.metrics != nil {
		m.metrics.RecordTickRejected(exchange, reason)
	}
}

// Exchanges returns the exchanges with a graph, sorted.
func (m *Manager) Exchanges() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.graphs))
	for name := range m.graphs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns an immutable view of one exchange graph.
func (m *Manager) Snapshot(exchange string) (*Snapshot, bool) {
	g, ok := m.Graph(exchange)
	if !ok {
		return nil, false
	}
	return g.CreateSnapshot(), true
}

// Stats returns totals across all exchange graphs.
func (m *Manager) Stats() (graphs, nodes, edges, cycles int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, g := range m.graphs {
		nodes += g.NumNodes()
		edges += g.NumEdges()
		cycles += g.NumCycles()
	}
	return len(m.graphs), nodes, edges, cycles
}

// ValidateAll validates every exchange graph and logs the outcome.
func (m *Manager) ValidateAll() bool {
	valid := true
	for _, name := range m.Exchanges() {
		if g, ok := m.Graph(name); ok && !g.ValidateAndLog() {
			valid = false
		}
	}
	return valid
}

// recordStats pushes per-exchange gauges and logs totals.
func (m *Manager) recordStats() {
	for _, name := range m.Exchanges() {
		g, ok := m.Graph(name)
		if !ok {
			continue
		}
		if m.metrics != nil {
			m.metrics.RecordGraphStats(name, g.NumNodes(), g.NumEdges(), g.NumCycles())
		}
	}

	graphs, nodes, edges, cycles := m.Stats()
	log.Debug().
		Int("graphs", graphs).
		Int("nodes", nodes).
		Int("edges", edges).
		Int("cycles", cycles).
		Msg("Graph stats")
}

// Run periodically reports graph statistics until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.recordStats()
			return ctx.Err()
		case <-ticker.C:
			m.recordStats()
		}
	}
}
