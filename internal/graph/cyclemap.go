package graph

import "sync"

// pairKey is an ordered (from, to) symbol pair.
type pairKey struct {
	from string
	to   string
}

// CycleMap indexes known cycles by every directed pair they traverse.
// Entries only grow: edges are never removed, so a cycle never stops
// traversing a pair.
type CycleMap struct {
	mu      sync.RWMutex
	entries map[pairKey]*cycleSet
}

// NewCycleMap creates an empty index.
func NewCycleMap() *CycleMap {
	return &CycleMap{
		entries: make(map[pairKey]*cycleSet),
	}
}

// Add registers c under each of its consecutive node pairs.
// Adding a rotation of an already registered cycle is a no-op.
func (m *CycleMap) Add(c *Cycle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := 0; i < len(c.nodes)-1; i++ {
		key := pairKey{from: c.nodes[i].Symbol(), to: c.nodes[i+1].Symbol()}
		set, ok := m.entries[key]
		if !ok {
			set = newCycleSet()
			m.entries[key] = set
		}
		set.add(c)
	}
}

// Get returns the cycles traversing from -> to, or nil if none are known.
func (m *CycleMap) Get(from, to string) []*Cycle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set, ok := m.entries[pairKey{from: from, to: to}]
	if !ok {
		return nil
	}
	return set.all()
}

// Contains reports whether c (or a rotation of it) is registered under from -> to.
func (m *CycleMap) Contains(from, to string, c *Cycle) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set, ok := m.entries[pairKey{from: from, to: to}]
	return ok && set.contains(c)
}

// Len returns the number of indexed pairs.
func (m *CycleMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
