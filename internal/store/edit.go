package store

import (
	"slices"
	"sort"

	"github.com/inamate/planboard/internal/document"
	"github.com/inamate/planboard/internal/geometry"
)

// tx collects in-place edits made under the store lock.
type tx struct {
	s     *Store
	dirty map[int]struct{}
}

func (t *tx) touch(i int) { t.dirty[i] = struct{}{} }

// edit runs fn as one local mutation that keeps the element set and order
// unchanged. It records one history step unless a batch is open.
func (s *Store) edit(fn func(t *tx)) bool {
	s.mu.Lock()
	var base snapshot
	if s.batch == nil && s.history.Enabled() {
		base = takeSnapshot(s.elements)
	}
	t := &tx{s: s, dirty: make(map[int]struct{})}
	fn(t)
	if len(t.dirty) == 0 {
		s.mu.Unlock()
		return false
	}
	s.refitGroupsLocked(t)
	if base != nil {
		s.history.Push(base)
	}
	s.revision++

	idxs := make([]int, 0, len(t.dirty))
	for i := range t.dirty {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	change := Change{Origin: OriginLocal, Updated: make([]document.CanvasElement, 0, len(idxs))}
	for _, i := range idxs {
		change.Updated = append(change.Updated, s.elements[i])
	}
	s.touchLocked(change)
	s.mu.Unlock()

	s.emit(change)
	return true
}

// restructure runs fn over a private copy of the elements. fn returns the new
// array and whether anything changed. Used for mutations that add, remove or
// reorder elements.
func (s *Store) restructure(fn func(work []document.CanvasElement) ([]document.CanvasElement, bool)) bool {
	s.mu.Lock()
	before := s.elements
	after, ok := fn(slices.Clone(before))
	if !ok {
		s.mu.Unlock()
		return false
	}
	if s.batch == nil {
		s.history.Push(before)
	}
	s.elements = after
	s.reindex()
	s.refitAllGroupsLocked()
	change, selChanged := s.finishRestoreLocked(OriginLocal, before)
	s.mu.Unlock()

	s.emit(change)
	if selChanged {
		s.emitSelection()
	}
	return true
}

// expandLocked resolves ids to the indices of unlocked elements, descending
// into group members. A locked group shields its whole subtree.
func (s *Store) expandLocked(ids []string) []int {
	seen := make(map[int]struct{}, len(ids))
	var out []int
	var walk func(id string)
	walk = func(id string) {
		i, ok := s.index[id]
		if !ok {
			return
		}
		if _, dup := seen[i]; dup {
			return
		}
		seen[i] = struct{}{}
		if s.elements[i].Locked {
			return
		}
		out = append(out, i)
		for _, m := range s.members[id] {
			walk(m)
		}
	}
	for _, id := range ids {
		walk(id)
	}
	return out
}

// subtreeLocked returns id and all of its nested members, locked or not.
func (s *Store) subtreeLocked(id string) []string {
	out := []string{id}
	for k := 0; k < len(out); k++ {
		out = append(out, s.members[out[k]]...)
	}
	return out
}

// refitGroupsLocked recomputes the bounds of every group above an edited
// element, innermost first.
func (s *Store) refitGroupsLocked(t *tx) {
	groups := make(map[string]int)
	for i := range t.dirty {
		depth := 0
		for g := s.elements[i].Metadata.GroupID; g != ""; depth++ {
			gi, ok := s.index[g]
			if !ok || depth > len(s.elements) {
				break
			}
			if d, seen := groups[g]; !seen || d < depth {
				groups[g] = depth
			}
			g = s.elements[gi].Metadata.GroupID
		}
	}
	for _, g := range groupsByDepth(groups) {
		gi := s.index[g]
		if s.refitGroupLocked(gi) {
			t.touch(gi)
		}
	}
}

// refitAllGroupsLocked refits every group; used after structural changes.
func (s *Store) refitAllGroupsLocked() {
	groups := make(map[string]int)
	for g := range s.members {
		if _, ok := s.index[g]; !ok {
			continue
		}
		depth := 0
		for p := g; depth <= len(s.elements); depth++ {
			pi, ok := s.index[p]
			if !ok || s.elements[pi].Metadata.GroupID == "" {
				break
			}
			p = s.elements[pi].Metadata.GroupID
		}
		// Deeper groups have more ancestors and are refit first.
		groups[g] = -depth
	}
	for _, g := range groupsByDepth(groups) {
		s.refitGroupLocked(s.index[g])
	}
}

// groupsByDepth orders groups by ascending rank so that inner groups are
// refit before the groups that contain them.
func groupsByDepth(groups map[string]int) []string {
	out := make([]string, 0, len(groups))
	for g := range groups {
		out = append(out, g)
	}
	sort.Slice(out, func(a, b int) bool {
		if groups[out[a]] != groups[out[b]] {
			return groups[out[a]] < groups[out[b]]
		}
		return out[a] < out[b]
	})
	return out
}

// refitGroupLocked sets a group's bounds to the union of its members.
// Locked groups and empty groups are left alone.
func (s *Store) refitGroupLocked(gi int) bool {
	g := &s.elements[gi]
	if g.Locked || !g.IsGroup() {
		return false
	}
	var (
		union geometry.Rect
		found bool
	)
	for _, m := range s.members[g.ID] {
		mi, ok := s.index[m]
		if !ok {
			continue
		}
		b := s.elements[mi].AABB()
		if !found {
			union, found = b, true
			continue
		}
		union = union.Union(b)
	}
	if !found {
		return false
	}
	pos := geometry.Point{X: union.X, Y: union.Y}
	size := geometry.Size{Width: union.Width, Height: union.Height}
	if g.Position == pos && g.Size == size && g.Rotation == 0 {
		return false
	}
	g.Position, g.Size, g.Rotation = pos, size, 0
	return true
}
