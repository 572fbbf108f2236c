package playback

import "container/list"

// AccessTracker records handle touches and yields least-recently-used order.
// It is not safe for concurrent use; the pool serialises access.
type AccessTracker struct {
	order *list.List // front = least recently used
	nodes map[string]*list.Element
}

// NewAccessTracker creates an empty tracker.
func NewAccessTracker() *AccessTracker {
	return &AccessTracker{
		order: list.New(),
		nodes: make(map[string]*list.Element),
	}
}

// Touch marks id as most recently used. Touching an existing id moves it
// rather than adding a duplicate.
func (t *AccessTracker) Touch(id string) {
	if el, ok := t.nodes[id]; ok {
		t.order.MoveToBack(el)
		return
	}
	t.nodes[id] = t.order.PushBack(id)
}

// Remove forgets id.
func (t *AccessTracker) Remove(id string) {
	if el, ok := t.nodes[id]; ok {
		t.order.Remove(el)
		delete(t.nodes, id)
	}
}

// Contains reports whether id is tracked.
func (t *AccessTracker) Contains(id string) bool {
	_, ok := t.nodes[id]
	return ok
}

// Len returns the number of tracked ids.
func (t *AccessTracker) Len() int {
	return t.order.Len()
}

// Oldest returns ids from least to most recently used.
func (t *AccessTracker) Oldest() []string {
	ids := make([]string, 0, t.order.Len())
	for el := t.order.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Value.(string))
	}
	return ids
}

// Clear forgets every id.
func (t *AccessTracker) Clear() {
	t.order.Init()
	t.nodes = make(map[string]*list.Element)
}
