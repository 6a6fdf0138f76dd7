package store

import (
	"slices"

	"github.com/inamate/planboard/internal/document"
)

// The Apply methods integrate changes made elsewhere. They never record
// history and are idempotent: applying the same input twice leaves the same
// state as applying it once.

// ApplyAdd appends e unless an element with its id already exists.
func (s *Store) ApplyAdd(e document.CanvasElement) bool {
	return s.applyRemote(func(work []document.CanvasElement, index map[string]int) ([]document.CanvasElement, bool) {
		if _, ok := index[e.ID]; ok || e.ID == "" {
			return nil, false
		}
		return append(work, e.Clone()), true
	})
}

// ApplyUpdate replaces the element with e's id. Updates for unknown ids are
// dropped.
func (s *Store) ApplyUpdate(e document.CanvasElement) bool {
	return s.applyRemote(func(work []document.CanvasElement, index map[string]int) ([]document.CanvasElement, bool) {
		i, ok := index[e.ID]
		if !ok || elementEqual(&work[i], &e) {
			return nil, false
		}
		work[i] = e.Clone()
		return work, true
	})
}

// ApplyDelete removes the given ids that are present.
func (s *Store) ApplyDelete(ids []string) bool {
	return s.applyRemote(func(work []document.CanvasElement, index map[string]int) ([]document.CanvasElement, bool) {
		drop := make(map[string]struct{})
		for _, id := range ids {
			if _, ok := index[id]; ok {
				drop[id] = struct{}{}
			}
		}
		if len(drop) == 0 {
			return nil, false
		}
		return removeIDs(work, drop), true
	})
}

// ApplyReorder moves the element to index to. The element is located by id;
// from is only a hint since concurrent edits may have shifted it. Out of range
// targets are clamped.
func (s *Store) ApplyReorder(id string, from, to int) bool {
	return s.applyRemote(func(work []document.CanvasElement, index map[string]int) ([]document.CanvasElement, bool) {
		cur, ok := index[id]
		if !ok {
			return nil, false
		}
		if from >= 0 && from < len(work) && work[from].ID == id {
			cur = from
		}
		dst := max(0, min(to, len(work)-1))
		if cur == dst {
			return nil, false
		}
		splice(work, cur, dst)
		return work, true
	})
}

// ApplyBulk upserts every element by id. New ids are appended in payload
// order.
func (s *Store) ApplyBulk(elements []document.CanvasElement) bool {
	return s.applyRemote(func(work []document.CanvasElement, index map[string]int) ([]document.CanvasElement, bool) {
		changed := false
		pending := make(map[string]int)
		for _, e := range elements {
			if e.ID == "" {
				continue
			}
			i, ok := index[e.ID]
			if !ok {
				i, ok = pending[e.ID]
			}
			if ok {
				if !elementEqual(&work[i], &e) {
					work[i] = e.Clone()
					changed = true
				}
				continue
			}
			pending[e.ID] = len(work)
			work = append(work, e.Clone())
			changed = true
		}
		return work, changed
	})
}

// ReplaceAll swaps in a full remote state, as received from a resync.
func (s *Store) ReplaceAll(elements []document.CanvasElement) bool {
	return s.applyRemote(func(work []document.CanvasElement, index map[string]int) ([]document.CanvasElement, bool) {
		next := document.CloneElements(elements)
		if next == nil {
			next = []document.CanvasElement{}
		}
		return next, !snapshotsEqual(work, next)
	})
}

// applyRemote runs fn over the live elements. While a local batch is open fn
// also runs over the batch base, so Cancel and Undo of the gesture keep the
// remote change.
func (s *Store) applyRemote(fn func(work []document.CanvasElement, index map[string]int) ([]document.CanvasElement, bool)) bool {
	s.mu.Lock()
	if s.batch != nil {
		base := slices.Clone(s.batch.base)
		if next, ok := fn(base, indexOf(base)); ok {
			s.batch.base = takeSnapshot(next)
		}
	}
	before := s.elements
	after, ok := fn(slices.Clone(before), s.index)
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.elements = after
	change, selChanged := s.finishRestoreLocked(OriginRemote, before)
	s.mu.Unlock()

	s.emit(change)
	if selChanged {
		s.emitSelection()
	}
	return true
}

func indexOf(elements []document.CanvasElement) map[string]int {
	index := make(map[string]int, len(elements))
	for i := range elements {
		index[elements[i].ID] = i
	}
	return index
}
