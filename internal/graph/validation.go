package graph

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
)

// ValidationResult holds the results of a graph consistency check.
type ValidationResult struct {
	Valid          bool
	Errors         []string
	BrokenCycles   []string // Cycles with a missing hop or that do not close
	UnindexedPairs []string // Cycle pairs missing from the CycleMap
	ForeignEdges   []string // Edges whose endpoints are not the table's nodes
	NonFinite      []string // Edges with NaN or infinite weight
	OrphanNodes    []string // Nodes with no edges in either direction
}

// Validate performs a consistency check on the graph.
// It takes the critical section so the cycle set and CycleMap are compared
// at a single point in time.
func (g *Graph) Validate() *ValidationResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	result := &ValidationResult{
		Valid:          true,
		Errors:         make([]string, 0),
		BrokenCycles:   make([]string, 0),
		UnindexedPairs: make([]string, 0),
		ForeignEdges:   make([]string, 0),
		NonFinite:      make([]string, 0),
		OrphanNodes:    make([]string, 0),
	}

	nodes := *g.nodes.Load()
	hasIncoming := make(map[string]bool, len(nodes))

	// Check 1: every edge points between nodes of this table, with finite weight
	for symbol, n := range nodes {
		for _, e := range n.Edges() {
			hasIncoming[e.To().Symbol()] = true

			if e.From() != n || nodes[e.To().Symbol()] != e.To() {
				result.Valid = false
				result.ForeignEdges = append(result.ForeignEdges, e.String())
				result.Errors = append(result.Errors,
					fmt.Sprintf("edge %s is not wired to node table entries (owner %s)", e, symbol))
			}

			w := e.Weight()
			if math.IsNaN(w) || math.IsInf(w, 0) {
				result.Valid = false
				result.NonFinite = append(result.NonFinite, e.String())
				result.Errors = append(result.Errors,
					fmt.Sprintf("edge %s has non-finite weight %v", e, w))
			}
		}
	}

	// Check 2: every cycle closes over live edges and is fully indexed
	for _, c := range g.Cycles() {
		path := c.Nodes()
		if !path[0].Equal(path[len(path)-1]) || len(c.Edges()) != c.Length() {
			result.Valid = false
			result.BrokenCycles = append(result.BrokenCycles, c.String())
			result.Errors = append(result.Errors,
				fmt.Sprintf("cycle %s is not a closed walk over live edges", c))
		}

		for i := 0; i < len(path)-1; i++ {
			from, to := path[i].Symbol(), path[i+1].Symbol()
			if !g.cycleMap.Contains(from, to, c) {
				result.Valid = false
				pair := from + "->" + to
				result.UnindexedPairs = append(result.UnindexedPairs, pair)
				result.Errors = append(result.Errors,
					fmt.Sprintf("cycle %s missing from CycleMap entry %s", c, pair))
			}
		}
	}

	// Check 3: orphan nodes are a warning, not an error
	for symbol, n := range nodes {
		if n.Degree() == 0 && !hasIncoming[symbol] {
			result.OrphanNodes = append(result.OrphanNodes, symbol)
		}
	}

	return result
}

// ValidateAndLog performs validation and logs the results.
// Returns true if the graph is valid, false otherwise.
func (g *Graph) ValidateAndLog() bool {
	result := g.Validate()

	if len(result.OrphanNodes) > 0 {
		log.Warn().
			Str("exchange", g.exchange).
			Int("count", len(result.OrphanNodes)).
			Strs("nodes", truncateSlice(result.OrphanNodes, 5)).
			Msg("Graph has orphan nodes (no edges)")
	}

	if result.Valid {
		log.Info().
			Str("exchange", g.exchange).
			Int("nodes", g.NumNodes()).
			Int("edges", g.NumEdges()).
			Int("cycles", g.NumCycles()).
			Msg("Graph validation passed")
		return true
	}

	for _, err := range result.Errors {
		log.Error().Str("exchange", g.exchange).Msg("Graph validation error: " + err)
	}

	log.Error().
		Str("exchange", g.exchange).
		Int("error_count", len(result.Errors)).
		Int("broken_cycles", len(result.BrokenCycles)).
		Int("unindexed_pairs", len(result.UnindexedPairs)).
		Int("foreign_edges", len(result.ForeignEdges)).
		Int("non_finite", len(result.NonFinite)).
		Msg("Graph validation FAILED")

	return false
}

// truncateSlice returns at most n elements from the slice for logging.
func truncateSlice(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
