package playback

import "sort"

// ProtectionSet holds ids exempt from routine eviction: the currently playing
// item plus the navigation neighbours supplied by the scheduler. The neighbour
// set is replaced wholesale on every update, so it never grows unbounded.
type ProtectionSet struct {
	current   string
	neighbors map[string]struct{}
}

// NewProtectionSet creates an empty set.
func NewProtectionSet() *ProtectionSet {
	return &ProtectionSet{neighbors: make(map[string]struct{})}
}

// Replace swaps the neighbour ids for ids.
func (s *ProtectionSet) Replace(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			next[id] = struct{}{}
		}
	}
	s.neighbors = next
}

// SetCurrent marks id as currently playing. An empty id clears the mark.
func (s *ProtectionSet) SetCurrent(id string) {
	s.current = id
}

// Current returns the currently playing id, if any.
func (s *ProtectionSet) Current() string {
	return s.current
}

// Has reports whether id is protected.
func (s *ProtectionSet) Has(id string) bool {
	if id == "" {
		return false
	}
	if id == s.current {
		return true
	}
	_, ok := s.neighbors[id]
	return ok
}

// IDs returns every protected id in sorted order.
func (s *ProtectionSet) IDs() []string {
	ids := make([]string, 0, len(s.neighbors)+1)
	if s.current != "" {
		ids = append(ids, s.current)
	}
	for id := range s.neighbors {
		if id != s.current {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Clear drops the neighbours and the current mark.
func (s *ProtectionSet) Clear() {
	s.current = ""
	s.neighbors = make(map[string]struct{})
}
