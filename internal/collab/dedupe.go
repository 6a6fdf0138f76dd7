package collab

// DefaultDedupeSize is how many operation ids are remembered for
// idempotency checks.
const DefaultDedupeSize = 4096

// recentIDs remembers the last size ids with a value each. Older ids are
// forgotten first.
type recentIDs[V any] struct {
	size  int
	ring  []string
	next  int
	index map[string]V
}

func newRecentIDs[V any](size int) *recentIDs[V] {
	if size <= 0 {
		size = DefaultDedupeSize
	}
	return &recentIDs[V]{
		size:  size,
		ring:  make([]string, 0, size),
		index: make(map[string]V, size),
	}
}

func (r *recentIDs[V]) Get(id string) (V, bool) {
	v, ok := r.index[id]
	return v, ok
}

// Add records id and reports whether it was new.
func (r *recentIDs[V]) Add(id string, v V) bool {
	if _, ok := r.index[id]; ok {
		return false
	}
	if len(r.ring) < r.size {
		r.ring = append(r.ring, id)
	} else {
		delete(r.index, r.ring[r.next])
		r.ring[r.next] = id
		r.next = (r.next + 1) % r.size
	}
	r.index[id] = v
	return true
}

func (r *recentIDs[V]) Len() int { return len(r.index) }
