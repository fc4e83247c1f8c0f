package tail

// DefaultWindow is the identity window capacity. It must exceed the number of
// events the service can return for a single timestamp in one page.
const DefaultWindow = 10000

// Window remembers the most recent identities up to a fixed capacity and
// forgets the oldest first. It is not safe for concurrent use.
type Window struct {
	seen map[Identity]struct{}
	ring []Identity
	next int
	full bool
}

// NewWindow returns an empty window holding up to capacity identities.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = DefaultWindow
	}
	return &Window{
		seen: make(map[Identity]struct{}, capacity),
		ring: make([]Identity, capacity),
	}
}

// Observe records id and reports whether it was new.
func (w *Window) Observe(id Identity) bool {
	if _, ok := w.seen[id]; ok {
		return false
	}
	if w.full {
		delete(w.seen, w.ring[w.next])
	}
	w.ring[w.next] = id
	w.seen[id] = struct{}{}
	w.next++
	if w.next == len(w.ring) {
		w.next = 0
		w.full = true
	}
	return true
}

// Contains reports whether id is currently remembered.
func (w *Window) Contains(id Identity) bool {
	_, ok := w.seen[id]
	return ok
}

// Len returns the number of remembered identities.
func (w *Window) Len() int {
	return len(w.seen)
}
