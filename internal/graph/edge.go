package graph

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Edge represents a directed conversion link between two nodes.
// Endpoints are fixed at construction; the cost is updated in place so that
// every cycle referencing the edge sees the live value.
type Edge struct {
	from *Node
	to   *Node

	// Stored as float64 bits so readers outside the graph's critical
	// section never observe a torn value.
	cost   atomic.Uint64
	weight atomic.Uint64
}

// NewEdge creates an edge from -> to with the given cost.
func NewEdge(from, to *Node, cost float64) (*Edge, error) {
	if from == nil || to == nil {
		return nil, fmt.Errorf("edge endpoints must be non-nil: %w", ErrInvalidSymbol)
	}
	if !ValidCost(cost) {
		return nil, fmt.Errorf("edge %s->%s cost %v: %w", from.Symbol(), to.Symbol(), cost, ErrInvalidCost)
	}

	e := &Edge{from: from, to: to}
	e.store(cost)
	return e, nil
}

// From returns the source node.
func (e *Edge) From() *Node {
	return e.from
}

// To returns the destination node.
func (e *Edge) To() *Node {
	return e.to
}

// Cost returns the current conversion cost.
func (e *Edge) Cost() float64 {
	return math.Float64frombits(e.cost.Load())
}

// Weight returns -ln(Cost()).
func (e *Edge) Weight() float64 {
	return math.Float64frombits(e.weight.Load())
}

// setCost copies a new cost onto the edge and recomputes the weight.
func (e *Edge) setCost(cost float64) {
	e.store(cost)
}

func (e *Edge) store(cost float64) {
	e.cost.Store(math.Float64bits(cost))
	e.weight.Store(math.Float64bits(CalculateWeight(cost)))
}

// String returns "FROM->TO@cost".
func (e *Edge) String() string {
	return fmt.Sprintf("%s->%s@%g", e.from.Symbol(), e.to.Symbol(), e.Cost())
}
