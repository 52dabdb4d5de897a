package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linkedNodes returns nodes for symbols with edges wired for each pair in
// links, all at cost 1.
func linkedNodes(t *testing.T, symbols []string, links [][2]string) map[string]*Node {
	t.Helper()
	nodes := make(map[string]*Node, len(symbols))
	for _, s := range symbols {
		nodes[s] = NewNode(s)
	}
	for _, l := range links {
		e, err := NewEdge(nodes[l[0]], nodes[l[1]], 1.0)
		require.NoError(t, err)
		require.True(t, nodes[l[0]].AddOrUpdateEdge(e))
	}
	return nodes
}

func triangle(t *testing.T) map[string]*Node {
	return linkedNodes(t, []string{"A", "B", "C"}, [][2]string{
		{"A", "B"}, {"B", "C"}, {"C", "A"},
		{"A", "C"}, {"C", "B"}, {"B", "A"},
	})
}

func TestCycleRotationInvariance(t *testing.T) {
	n := triangle(t)
	a, b, c := n["A"], n["B"], n["C"]

	c1, err := NewCycle(a, b, c, a)
	require.NoError(t, err)
	c2, err := NewCycle(b, c, a, b)
	require.NoError(t, err)
	c3, err := NewCycle(c, a, b, c)
	require.NoError(t, err)

	assert.True(t, c1.Equal(c1))

	for _, other := range []*Cycle{c2, c3} {
		assert.True(t, c1.Equal(other), "rotation %s should equal %s", other, c1)
		assert.True(t, other.Equal(c1))
		assert.Equal(t, c1.Hash(), other.Hash())
		assert.Equal(t, c1.Key(), other.Key())
	}
}

func TestCycleReversalIsDistinct(t *testing.T) {
	n := triangle(t)
	a, b, c := n["A"], n["B"], n["C"]

	forward, err := NewCycle(a, b, c, a)
	require.NoError(t, err)
	reverse, err := NewCycle(a, c, b, a)
	require.NoError(t, err)

	// Same node set, so the hashes collide; equality must still tell them apart
	assert.Equal(t, forward.Hash(), reverse.Hash())
	assert.False(t, forward.Equal(reverse))
	assert.NotEqual(t, forward.Key(), reverse.Key())
}

func TestCycleEqualityAcrossNodeInstances(t *testing.T) {
	first := triangle(t)
	second := triangle(t)

	c1, err := NewCycle(first["A"], first["B"], first["C"], first["A"])
	require.NoError(t, err)
	c2, err := NewCycle(second["B"], second["C"], second["A"], second["B"])
	require.NoError(t, err)

	assert.True(t, c1.Equal(c2))
	assert.Equal(t, c1.Hash(), c2.Hash())
}

func TestNewCycleRejectsInvalidPaths(t *testing.T) {
	n := linkedNodes(t, []string{"A", "B", "C", "D"}, [][2]string{
		{"A", "B"}, {"B", "C"}, {"C", "A"},
	})

	tests := []struct {
		name  string
		nodes []*Node
	}{
		{name: "too short", nodes: []*Node{n["A"], n["A"]}},
		{name: "not closed", nodes: []*Node{n["A"], n["B"], n["C"]}},
		{name: "missing hop", nodes: []*Node{n["A"], n["B"], n["D"], n["A"]}},
		{name: "wrong direction", nodes: []*Node{n["A"], n["C"], n["B"], n["A"]}},
		{name: "nil node", nodes: []*Node{n["A"], nil, n["C"], n["A"]}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCycle(tt.nodes...)
			assert.Nil(t, c)
			assert.True(t, errors.Is(err, ErrInvalidCycle), "got %v", err)
		})
	}
}

func TestCycleWeightFollowsLiveEdges(t *testing.T) {
	n := triangle(t)
	a, b, c := n["A"], n["B"], n["C"]

	cycle, err := NewCycle(a, b, c, a)
	require.NoError(t, err)
	assert.False(t, cycle.IsNegative(), "weight is unset before UpdateWeight")

	assert.InDelta(t, 0.0, cycle.UpdateWeight(), 1e-12)

	e, ok := c.Edge("A")
	require.True(t, ok)
	e.setCost(2.0)

	// The cached weight is stale until recomputed
	assert.InDelta(t, 0.0, cycle.Weight(), 1e-12)
	assert.InDelta(t, CalculateWeight(2.0), cycle.UpdateWeight(), 1e-12)
	assert.True(t, cycle.IsNegative())
	assert.InDelta(t, 2.0, cycle.ProfitFactor(), 1e-9)
}

func TestCycleKeyFollowsNodeOrdering(t *testing.T) {
	n := linkedNodes(t, []string{"b", "C", "a"}, [][2]string{
		{"b", "C"}, {"C", "a"}, {"a", "b"},
	})

	cycle, err := NewCycle(n["C"], n["a"], n["b"], n["C"])
	require.NoError(t, err)

	// Byte order would start at "C"; Node.Less is case-insensitive
	assert.Equal(t, "a->b->C", cycle.Key())
}

func TestCycleAccessors(t *testing.T) {
	n := triangle(t)
	cycle, err := NewCycle(n["B"], n["C"], n["A"], n["B"])
	require.NoError(t, err)

	assert.Equal(t, 3, cycle.Length())
	assert.Equal(t, []string{"B", "C", "A", "B"}, cycle.Symbols())
	assert.Equal(t, "B -> C -> A -> B", cycle.String())
	assert.Equal(t, "A->B->C", cycle.Key())

	edges := cycle.Edges()
	require.Len(t, edges, 3)
	assert.Equal(t, "B", edges[0].From().Symbol())
	assert.Equal(t, "B", edges[2].To().Symbol())
}

func TestCycleMapIndexesEveryPair(t *testing.T) {
	n := triangle(t)
	cycle, err := NewCycle(n["A"], n["B"], n["C"], n["A"])
	require.NoError(t, err)
	rotation, err := NewCycle(n["C"], n["A"], n["B"], n["C"])
	require.NoError(t, err)

	m := NewCycleMap()
	m.Add(cycle)
	m.Add(rotation)

	assert.Equal(t, 3, m.Len())
	for _, pair := range [][2]string{{"A", "B"}, {"B", "C"}, {"C", "A"}} {
		got := m.Get(pair[0], pair[1])
		require.Len(t, got, 1, "pair %v", pair)
		assert.Same(t, cycle, got[0], "first registration wins")
		assert.True(t, m.Contains(pair[0], pair[1], rotation))
	}

	assert.Nil(t, m.Get("B", "A"))
	assert.False(t, m.Contains("A", "C", cycle))
}

func TestNodeRejectsForeignEdge(t *testing.T) {
	a, b, c := NewNode("A"), NewNode("B"), NewNode("C")

	e, err := NewEdge(b, c, 1.0)
	require.NoError(t, err)

	assert.False(t, a.AddOrUpdateEdge(e))
	assert.Equal(t, 0, a.Degree())
	assert.False(t, a.AddOrUpdateEdge(nil))

	// Same symbol, different node instance: still foreign
	other := NewNode("A")
	e2, err := NewEdge(other, b, 1.0)
	require.NoError(t, err)
	assert.False(t, a.AddOrUpdateEdge(e2))
}

func TestNodeUpdateKeepsEdgeIdentity(t *testing.T) {
	a, b := NewNode("A"), NewNode("B")

	first, err := NewEdge(a, b, 1.0)
	require.NoError(t, err)
	require.True(t, a.AddOrUpdateEdge(first))

	second, err := NewEdge(a, b, 3.0)
	require.NoError(t, err)
	assert.False(t, a.AddOrUpdateEdge(second))

	live, ok := a.Edge("B")
	require.True(t, ok)
	assert.Same(t, first, live)
	assert.Equal(t, 3.0, live.Cost())
	assert.InDelta(t, CalculateWeight(3.0), live.Weight(), 1e-12)
	assert.Equal(t, 1, a.Degree())
}

func TestNewEdgeRejectsInvalidInput(t *testing.T) {
	a, b := NewNode("A"), NewNode("B")

	_, err := NewEdge(a, b, 0)
	assert.ErrorIs(t, err, ErrInvalidCost)

	_, err = NewEdge(nil, b, 1)
	assert.Error(t, err)
}

func TestNodeOrdering(t *testing.T) {
	assert.True(t, NewNode("btc").Less(NewNode("ETH")))
	assert.True(t, NewNode("BTC").Less(NewNode("btc")))
	assert.False(t, NewNode("USDT").Less(NewNode("eth")))

	assert.True(t, NewNode("BTC").Equal(NewNode("BTC")))
	assert.False(t, NewNode("BTC").Equal(NewNode("btc")))
	assert.Equal(t, NewNode("BTC").Hash(), NewNode("BTC").Hash())
}
