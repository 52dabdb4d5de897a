package graph

// cycleSet is a set of cycles deduplicated by rotation.
// Buckets are keyed by Cycle.Hash; Cycle.Equal resolves collisions, which
// also covers the reversed direction of a triangle (same XOR, not equal).
// Not safe for concurrent use.
type cycleSet struct {
	buckets map[uint64][]*Cycle
	order   []*Cycle
}

func newCycleSet() *cycleSet {
	return &cycleSet{
		buckets: make(map[uint64][]*Cycle),
	}
}

// add inserts c unless a rotation of it is already present.
// Returns the stored cycle and whether c was inserted.
func (s *cycleSet) add(c *Cycle) (*Cycle, bool) {
	if existing := s.find(c); existing != nil {
		return existing, false
	}
	h := c.Hash()
	s.buckets[h] = append(s.buckets[h], c)
	s.order = append(s.order, c)
	return c, true
}

// find returns the stored rotation of c, or nil.
func (s *cycleSet) find(c *Cycle) *Cycle {
	for _, existing := range s.buckets[c.Hash()] {
		if existing.Equal(c) {
			return existing
		}
	}
	return nil
}

func (s *cycleSet) contains(c *Cycle) bool {
	return s.find(c) != nil
}

// all returns the cycles in insertion order.
func (s *cycleSet) all() []*Cycle {
	out := make([]*Cycle, len(s.order))
	copy(out, s.order)
	return out
}

func (s *cycleSet) len() int {
	return len(s.order)
}
