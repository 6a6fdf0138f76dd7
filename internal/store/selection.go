package store

import "slices"

// Selection returns a copy of the current selection.
func (s *Store) Selection() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectionLocked()
}

// IsSelected reports whether id is selected.
func (s *Store) IsSelected(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.selected[id]
	return ok
}

// Select replaces the selection with ids, or adds them when additive.
// Unknown ids are ignored.
func (s *Store) Select(ids []string, additive bool) {
	s.updateSelection(func() {
		if !additive {
			s.clearSelectionLocked()
		}
		for _, id := range ids {
			s.addSelectedLocked(id)
		}
	})
}

// Toggle flips the selection state of id.
func (s *Store) Toggle(id string) {
	s.updateSelection(func() {
		if _, ok := s.selected[id]; ok {
			delete(s.selected, id)
			s.selOrder = slices.DeleteFunc(s.selOrder, func(v string) bool { return v == id })
			return
		}
		s.addSelectedLocked(id)
	})
}

// ClearSelection deselects everything.
func (s *Store) ClearSelection() {
	s.updateSelection(s.clearSelectionLocked)
}

// SelectAll selects every visible top-level element.
func (s *Store) SelectAll() {
	s.updateSelection(func() {
		s.clearSelectionLocked()
		for i := range s.elements {
			e := &s.elements[i]
			if e.Visible && e.Metadata.GroupID == "" {
				s.addSelectedLocked(e.ID)
			}
		}
	})
}

func (s *Store) updateSelection(fn func()) {
	s.mu.Lock()
	before := slices.Clone(s.selOrder)
	fn()
	changed := !slices.Equal(before, s.selOrder)
	s.mu.Unlock()
	if changed {
		s.emitSelection()
	}
}

func (s *Store) addSelectedLocked(id string) {
	if _, ok := s.index[id]; !ok {
		return
	}
	if _, ok := s.selected[id]; ok {
		// Reselecting makes it primary.
		s.selOrder = slices.DeleteFunc(s.selOrder, func(v string) bool { return v == id })
	}
	s.selected[id] = struct{}{}
	s.selOrder = append(s.selOrder, id)
}

func (s *Store) clearSelectionLocked() {
	clear(s.selected)
	s.selOrder = nil
}

// pruneSelectionLocked drops ids that no longer exist and reports whether
// anything was removed.
func (s *Store) pruneSelectionLocked() bool {
	n := len(s.selOrder)
	s.selOrder = slices.DeleteFunc(s.selOrder, func(id string) bool {
		if _, ok := s.index[id]; ok {
			return false
		}
		delete(s.selected, id)
		return true
	})
	return len(s.selOrder) != n
}

func (s *Store) selectionLocked() Selection {
	sel := Selection{IDs: slices.Clone(s.selOrder)}
	if n := len(s.selOrder); n > 0 {
		sel.Primary = s.selOrder[n-1]
	}
	return sel
}

func (s *Store) emitSelection() {
	s.mu.RLock()
	sel := s.selectionLocked()
	listeners := s.selListeners
	s.mu.RUnlock()
	for _, l := range listeners {
		l(sel)
	}
}
