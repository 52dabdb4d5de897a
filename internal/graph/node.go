package graph

import (
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Node represents a traded symbol in the graph.
// Identity is the symbol, compared exactly.
type Node struct {
	symbol string
	hash   uint64

	// mu serializes writers; readers load the edge table without locking.
	mu    sync.Mutex
	edges atomic.Pointer[map[string]*Edge]
}

// NewNode creates a node with no outgoing edges.
func NewNode(symbol string) *Node {
	h := fnv.New64a()
	h.Write([]byte(symbol))

	n := &Node{
		symbol: symbol,
		hash:   h.Sum64(),
	}
	empty := make(map[string]*Edge)
	n.edges.Store(&empty)
	return n
}

// Symbol returns the node's symbol.
func (n *Node) Symbol() string {
	return n.symbol
}

// Hash returns a hash of the symbol. Cycle hashes are XORs of these.
func (n *Node) Hash() uint64 {
	return n.hash
}

// Equal reports whether both nodes carry the same symbol.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	return n.symbol == other.symbol
}

// Less orders nodes by symbol, case-insensitively. Ties fall back to the
// exact symbol so the order is total. Used for presentation only.
func (n *Node) Less(other *Node) bool {
	a, b := strings.ToLower(n.symbol), strings.ToLower(other.symbol)
	if a != b {
		return a < b
	}
	return n.symbol < other.symbol
}

// AddOrUpdateEdge inserts e or refreshes the cost of the existing edge to the
// same destination.
//
// Returns true only when e was inserted. An edge whose From is not n is
// rejected without mutation. When an edge to e.To() already exists, e's cost
// is copied onto it in place and e itself is discarded, so every reference
// to the existing edge stays valid.
func (n *Node) AddOrUpdateEdge(e *Edge) bool {
	if e == nil || e.From() != n {
		return false
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	current := *n.edges.Load()
	dest := e.To().Symbol()

	if existing, ok := current[dest]; ok {
		existing.setCost(e.Cost())
		return false
	}

	next := make(map[string]*Edge, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[dest] = e
	n.edges.Store(&next)
	return true
}

// HasEdge reports whether n has an outgoing edge to symbol.
func (n *Node) HasEdge(symbol string) bool {
	_, ok := (*n.edges.Load())[symbol]
	return ok
}

// Edge returns the outgoing edge to symbol.
func (n *Node) Edge(symbol string) (*Edge, bool) {
	e, ok := (*n.edges.Load())[symbol]
	return e, ok
}

// Edges returns all outgoing edges ordered by destination.
func (n *Node) Edges() []*Edge {
	table := *n.edges.Load()
	edges := make([]*Edge, 0, len(table))
	for _, e := range table {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		return edges[i].To().Less(edges[j].To())
	})
	return edges
}

// Degree returns the number of outgoing edges.
func (n *Node) Degree() int {
	return len(*n.edges.Load())
}

// String returns the symbol.
func (n *Node) String() string {
	return n.symbol
}
