package graph

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
)

// Cycle is a closed walk over nodes: first == last.
// Edges are not stored; they are resolved from consecutive node pairs on
// demand, so weights always reflect the live edge costs.
type Cycle struct {
	nodes []*Node
	hash  uint64

	// Cached total weight, valid after UpdateWeight.
	weight atomic.Uint64
}

// NewCycle creates a cycle from a closed node path.
// The path must start and end on the same node, have at least two hops, and
// every consecutive pair must already be joined by an edge.
func NewCycle(nodes ...*Node) (*Cycle, error) {
	if len(nodes) < 3 {
		return nil, fmt.Errorf("need at least 2 hops, got %d nodes: %w", len(nodes), ErrInvalidCycle)
	}
	for i, n := range nodes {
		if n == nil {
			return nil, fmt.Errorf("nil node at position %d: %w", i, ErrInvalidCycle)
		}
	}
	if !nodes[0].Equal(nodes[len(nodes)-1]) {
		return nil, fmt.Errorf("path %s does not close: %w", joinSymbols(nodes), ErrInvalidCycle)
	}
	for i := 0; i < len(nodes)-1; i++ {
		if !nodes[i].HasEdge(nodes[i+1].Symbol()) {
			return nil, fmt.Errorf("no edge %s->%s: %w", nodes[i].Symbol(), nodes[i+1].Symbol(), ErrInvalidCycle)
		}
	}

	c := &Cycle{
		nodes: make([]*Node, len(nodes)),
	}
	copy(c.nodes, nodes)

	// XOR over distinct nodes only; the closing node repeats the first.
	for _, n := range c.nodes[:len(c.nodes)-1] {
		c.hash ^= n.Hash()
	}
	c.weight.Store(math.Float64bits(math.NaN()))

	return c, nil
}

// Length returns the number of hops.
func (c *Cycle) Length() int {
	return len(c.nodes) - 1
}

// Nodes returns the node path including the closing node.
func (c *Cycle) Nodes() []*Node {
	out := make([]*Node, len(c.nodes))
	copy(out, c.nodes)
	return out
}

// Symbols returns the symbol path including the closing symbol.
func (c *Cycle) Symbols() []string {
	out := make([]string, len(c.nodes))
	for i, n := range c.nodes {
		out[i] = n.Symbol()
	}
	return out
}

// Edges resolves the live edges along the path.
func (c *Cycle) Edges() []*Edge {
	edges := make([]*Edge, 0, c.Length())
	for i := 0; i < len(c.nodes)-1; i++ {
		if e, ok := c.nodes[i].Edge(c.nodes[i+1].Symbol()); ok {
			edges = append(edges, e)
		}
	}
	return edges
}

// UpdateWeight recomputes the total weight from the live edges, caches and
// returns it.
func (c *Cycle) UpdateWeight() float64 {
	total := 0.0
	for i := 0; i < len(c.nodes)-1; i++ {
		e, ok := c.nodes[i].Edge(c.nodes[i+1].Symbol())
		if !ok {
			total = math.Inf(1)
			break
		}
		total += e.Weight()
	}
	c.weight.Store(math.Float64bits(total))
	return total
}

// Weight returns the weight cached by the last UpdateWeight call.
// It is NaN before the first call.
func (c *Cycle) Weight() float64 {
	return math.Float64frombits(c.weight.Load())
}

// IsNegative reports whether the cached weight is below zero.
func (c *Cycle) IsNegative() bool {
	return c.Weight() < 0
}

// ProfitFactor returns the product of costs implied by the cached weight.
func (c *Cycle) ProfitFactor() float64 {
	return CycleProfit(c.Weight())
}

// Hash returns the rotation-invariant hash of the cycle.
func (c *Cycle) Hash() uint64 {
	return c.hash
}

// Equal reports whether other is a cyclic rotation of c.
func (c *Cycle) Equal(other *Cycle) bool {
	if c == other {
		return true
	}
	if c == nil || other == nil {
		return false
	}
	if c.hash != other.hash || len(c.nodes) != len(other.nodes) {
		return false
	}

	n := len(c.nodes) - 1
	a := c.nodes[:n]
	b := other.nodes[:n]
	for offset := 0; offset < n; offset++ {
		if !a[offset].Equal(b[0]) {
			continue
		}
		match := true
		for i := 1; i < n; i++ {
			if !a[(offset+i)%n].Equal(b[i]) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// Key returns a rotation-normalised key, starting from the node that sorts
// first under Node.Less. Rotations of the same cycle share a key.
func (c *Cycle) Key() string {
	n := len(c.nodes) - 1
	minIdx := 0
	for i := 1; i < n; i++ {
		if c.nodes[i].Less(c.nodes[minIdx]) {
			minIdx = i
		}
	}

	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = c.nodes[(minIdx+i)%n].Symbol()
	}
	return strings.Join(parts, "->")
}

// String renders the path, e.g. "BTC -> ETH -> USDT -> BTC".
func (c *Cycle) String() string {
	return joinSymbols(c.nodes)
}

func joinSymbols(nodes []*Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		if n == nil {
			parts[i] = "<nil>"
			continue
		}
		parts[i] = n.Symbol()
	}
	return strings.Join(parts, " -> ")
}
