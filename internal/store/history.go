package store

import "github.com/inamate/planboard/internal/document"

// DefaultHistoryLimit is the number of undo steps retained.
const DefaultHistoryLimit = 100

// snapshot is an element array captured at a history boundary. Elements are
// copied by value; their maps are shared, which is safe because the store
// replaces maps rather than writing into them.
type snapshot []document.CanvasElement

func takeSnapshot(elements []document.CanvasElement) snapshot {
	s := make(snapshot, len(elements))
	copy(s, elements)
	return s
}

// History is a bounded undo/redo stack of snapshots.
type History struct {
	past   []snapshot
	future []snapshot
	limit  int
}

// NewHistory creates a history keeping at most limit undo steps. A negative
// limit disables history entirely.
func NewHistory(limit int) *History {
	if limit == 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// Enabled reports whether the history records anything.
func (h *History) Enabled() bool { return h.limit > 0 }

// Push records the state before a mutation and discards the redo stack.
func (h *History) Push(s snapshot) {
	if !h.Enabled() {
		return
	}
	h.past = append(h.past, s)
	if len(h.past) > h.limit {
		h.past[0] = nil
		h.past = h.past[1:]
	}
	h.future = nil
}

// Undo swaps current onto the redo stack and returns the previous state.
func (h *History) Undo(current snapshot) (snapshot, bool) {
	if len(h.past) == 0 {
		return nil, false
	}
	prev := h.past[len(h.past)-1]
	h.past = h.past[:len(h.past)-1]
	h.future = append(h.future, current)
	return prev, true
}

// Redo is the inverse of Undo.
func (h *History) Redo(current snapshot) (snapshot, bool) {
	if len(h.future) == 0 {
		return nil, false
	}
	next := h.future[len(h.future)-1]
	h.future = h.future[:len(h.future)-1]
	h.past = append(h.past, current)
	return next, true
}

func (h *History) CanUndo() bool { return len(h.past) > 0 }
func (h *History) CanRedo() bool { return len(h.future) > 0 }

// Len returns the undo and redo depths.
func (h *History) Len() (past, future int) { return len(h.past), len(h.future) }

// Clear drops both stacks.
func (h *History) Clear() {
	h.past = nil
	h.future = nil
}
