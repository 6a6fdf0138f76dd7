package store

import (
	"maps"
	"math"
	"slices"
	"sort"

	"github.com/inamate/planboard/internal/document"
	"github.com/inamate/planboard/internal/geometry"
	"github.com/inamate/planboard/internal/typeid"
)

// Edge is an alignment reference.
type Edge string

const (
	EdgeLeft   Edge = "left"
	EdgeRight  Edge = "right"
	EdgeTop    Edge = "top"
	EdgeBottom Edge = "bottom"
	EdgeCenter Edge = "center" // horizontal centres
	EdgeMiddle Edge = "middle" // vertical centres
)

// Axis selects the direction for Distribute.
type Axis string

const (
	AxisHorizontal Axis = "horizontal"
	AxisVertical   Axis = "vertical"
)

// Patch is a partial element update. Nil fields are left alone; a nil value
// inside Style or Data deletes that key.
type Patch struct {
	Position *geometry.Point
	Size     *geometry.Size
	Rotation *float64
	Visible  *bool
	Style    map[string]any
	Data     map[string]any
}

// Add appends elements on top of the stack. Elements without an id get one;
// ids already present are skipped. It returns the ids that were added.
func (s *Store) Add(elements ...document.CanvasElement) []string {
	var added []string
	s.restructure(func(work []document.CanvasElement) ([]document.CanvasElement, bool) {
		for _, e := range elements {
			if e.ID == "" {
				e.ID = typeid.NewElementID()
			}
			if _, exists := s.index[e.ID]; exists || slices.Contains(added, e.ID) {
				continue
			}
			if e.Style == nil {
				e.Style = map[string]any{}
			}
			work = append(work, e.Clone())
			added = append(added, e.ID)
		}
		return work, len(added) > 0
	})
	return added
}

// Move translates the unlocked targets, carrying group members along.
func (s *Store) Move(ids []string, dx, dy float64) bool {
	if dx == 0 && dy == 0 {
		return false
	}
	return s.edit(func(t *tx) {
		for _, i := range s.expandLocked(ids) {
			e := &s.elements[i]
			e.Position.X += dx
			e.Position.Y += dy
			t.touch(i)
		}
	})
}

// Resize scales the unlocked targets by (sx, sy) about origin. Positions and
// sizes both scale; negative factors mirror the box.
func (s *Store) Resize(ids []string, sx, sy float64, origin geometry.Point) bool {
	if sx == 1 && sy == 1 {
		return false
	}
	return s.edit(func(t *tx) {
		for _, i := range s.expandLocked(ids) {
			e := &s.elements[i]
			x0 := origin.X + (e.Position.X-origin.X)*sx
			y0 := origin.Y + (e.Position.Y-origin.Y)*sy
			w := e.Size.Width * sx
			h := e.Size.Height * sy
			e.Position = geometry.Point{X: math.Min(x0, x0+w), Y: math.Min(y0, y0+h)}
			e.Size = geometry.Size{Width: math.Abs(w), Height: math.Abs(h)}
			t.touch(i)
		}
	})
}

// Rotate turns each unlocked target about its own centre. Groups turn as a
// unit about the group centre.
func (s *Store) Rotate(ids []string, degrees float64) bool {
	if math.Mod(degrees, 360) == 0 {
		return false
	}
	return s.edit(func(t *tx) {
		for _, id := range ids {
			i, ok := s.index[id]
			if !ok || s.elements[i].Locked {
				continue
			}
			if s.elements[i].IsGroup() {
				s.rotateAboutLocked(t, s.members[id], degrees, s.elements[i].Center())
				continue
			}
			e := &s.elements[i]
			e.Rotation = normalizeDegrees(e.Rotation + degrees)
			t.touch(i)
		}
	})
}

// RotateAbout turns the unlocked targets about a shared pivot.
func (s *Store) RotateAbout(ids []string, degrees float64, pivot geometry.Point) bool {
	if math.Mod(degrees, 360) == 0 {
		return false
	}
	return s.edit(func(t *tx) {
		s.rotateAboutLocked(t, ids, degrees, pivot)
	})
}

func (s *Store) rotateAboutLocked(t *tx, ids []string, degrees float64, pivot geometry.Point) {
	m := geometry.RotateAbout(degrees, pivot)
	for _, i := range s.expandLocked(ids) {
		e := &s.elements[i]
		if e.IsGroup() {
			// Refit after the members move.
			continue
		}
		c := m.Apply(e.Center())
		e.Position = geometry.Point{X: c.X - e.Size.Width/2, Y: c.Y - e.Size.Height/2}
		e.Rotation = normalizeDegrees(e.Rotation + degrees)
		t.touch(i)
	}
}

// Align moves every unlocked target so that the given edge matches a
// reference computed over all targets: the minimum left or top, the maximum
// right or bottom, or the mean of the centres.
func (s *Store) Align(ids []string, edge Edge) bool {
	return s.edit(func(t *tx) {
		var targets []int
		for _, id := range uniq(ids) {
			if i, ok := s.index[id]; ok {
				targets = append(targets, i)
			}
		}
		if len(targets) < 2 {
			return
		}
		ref, ok := alignReference(s.elements, targets, edge)
		if !ok {
			return
		}
		for _, i := range targets {
			e := &s.elements[i]
			if e.Locked {
				continue
			}
			var dx, dy float64
			switch edge {
			case EdgeLeft:
				dx = ref - e.Position.X
			case EdgeRight:
				dx = ref - (e.Position.X + e.Size.Width)
			case EdgeCenter:
				dx = ref - (e.Position.X + e.Size.Width/2)
			case EdgeTop:
				dy = ref - e.Position.Y
			case EdgeBottom:
				dy = ref - (e.Position.Y + e.Size.Height)
			case EdgeMiddle:
				dy = ref - (e.Position.Y + e.Size.Height/2)
			}
			s.shiftSubtreeLocked(t, e.ID, dx, dy)
		}
	})
}

func alignReference(elements []document.CanvasElement, targets []int, edge Edge) (float64, bool) {
	var ref float64
	for n, i := range targets {
		b := elements[i].Bounds()
		switch edge {
		case EdgeLeft:
			if n == 0 || b.X < ref {
				ref = b.X
			}
		case EdgeRight:
			if n == 0 || b.Right() > ref {
				ref = b.Right()
			}
		case EdgeTop:
			if n == 0 || b.Y < ref {
				ref = b.Y
			}
		case EdgeBottom:
			if n == 0 || b.Bottom() > ref {
				ref = b.Bottom()
			}
		case EdgeCenter:
			ref += b.X + b.Width/2
		case EdgeMiddle:
			ref += b.Y + b.Height/2
		default:
			return 0, false
		}
	}
	if edge == EdgeCenter || edge == EdgeMiddle {
		ref /= float64(len(targets))
	}
	return ref, true
}

// Distribute spaces the centres of three or more targets evenly along axis,
// keeping the outermost two in place.
func (s *Store) Distribute(ids []string, axis Axis) bool {
	return s.edit(func(t *tx) {
		var targets []int
		for _, id := range uniq(ids) {
			if i, ok := s.index[id]; ok {
				targets = append(targets, i)
			}
		}
		if len(targets) < 3 {
			return
		}
		center := func(i int) float64 {
			c := s.elements[i].Center()
			if axis == AxisVertical {
				return c.Y
			}
			return c.X
		}
		sort.SliceStable(targets, func(a, b int) bool { return center(targets[a]) < center(targets[b]) })
		first, last := center(targets[0]), center(targets[len(targets)-1])
		step := (last - first) / float64(len(targets)-1)
		for k, i := range targets[1 : len(targets)-1] {
			if s.elements[i].Locked {
				continue
			}
			d := first + float64(k+1)*step - center(i)
			if axis == AxisVertical {
				s.shiftSubtreeLocked(t, s.elements[i].ID, 0, d)
			} else {
				s.shiftSubtreeLocked(t, s.elements[i].ID, d, 0)
			}
		}
	})
}

func (s *Store) shiftSubtreeLocked(t *tx, id string, dx, dy float64) {
	if dx == 0 && dy == 0 {
		return
	}
	for _, i := range s.expandLocked([]string{id}) {
		s.elements[i].Position.X += dx
		s.elements[i].Position.Y += dy
		t.touch(i)
	}
}

// Lock sets the locked flag on the targets and their group members.
func (s *Store) Lock(ids []string) bool { return s.setLocked(ids, true) }

// Unlock clears the locked flag on the targets and their group members.
func (s *Store) Unlock(ids []string) bool { return s.setLocked(ids, false) }

func (s *Store) setLocked(ids []string, locked bool) bool {
	return s.edit(func(t *tx) {
		for _, id := range ids {
			if _, ok := s.index[id]; !ok {
				continue
			}
			for _, m := range s.subtreeLocked(id) {
				i, ok := s.index[m]
				if !ok || s.elements[i].Locked == locked {
					continue
				}
				s.elements[i].Locked = locked
				t.touch(i)
			}
		}
	})
}

// Update applies a patch to one element. Geometry fields are ignored when
// the element is locked.
func (s *Store) Update(id string, p Patch) bool {
	return s.edit(func(t *tx) {
		i, ok := s.index[id]
		if !ok {
			return
		}
		e := &s.elements[i]
		before := *e
		if !e.Locked {
			if p.Position != nil {
				e.Position = *p.Position
			}
			if p.Size != nil && p.Size.Width >= 0 && p.Size.Height >= 0 {
				e.Size = *p.Size
			}
			if p.Rotation != nil {
				e.Rotation = normalizeDegrees(*p.Rotation)
			}
		}
		if p.Visible != nil {
			e.Visible = *p.Visible
		}
		if p.Style != nil {
			e.Style = mergeMap(e.Style, p.Style)
		}
		if p.Data != nil {
			e.Data = mergeMap(e.Data, p.Data)
		}
		if !elementEqual(&before, e) {
			t.touch(i)
		}
	})
}

// mergeMap returns a new map; the original may be shared with history.
func mergeMap(base, patch map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Group wraps two or more unlocked elements in a new group element whose
// bounds are the union of the members. Members that already belong to a
// group are lifted to their outermost group. It returns the new group id, or
// "" when fewer than two eligible elements remain.
func (s *Store) Group(ids []string) string {
	var gid string
	s.restructure(func(work []document.CanvasElement) ([]document.CanvasElement, bool) {
		var members []int
		seen := make(map[string]struct{})
		for _, id := range ids {
			top := s.outermostLocked(id)
			i, ok := s.index[top]
			if !ok || work[i].Locked {
				continue
			}
			if _, dup := seen[top]; dup {
				continue
			}
			seen[top] = struct{}{}
			members = append(members, i)
		}
		if len(members) < 2 {
			return nil, false
		}
		sort.Ints(members)

		gid = typeid.NewGroupID()
		bounds := work[members[0]].AABB()
		for _, i := range members[1:] {
			bounds = bounds.Union(work[i].AABB())
		}
		for _, i := range members {
			work[i].Metadata.GroupID = gid
			work[i].Metadata.ParentID = gid
		}
		group := document.CanvasElement{
			ID:       gid,
			Type:     document.ElementTypeGroup,
			Position: geometry.Point{X: bounds.X, Y: bounds.Y},
			Size:     geometry.Size{Width: bounds.Width, Height: bounds.Height},
			Visible:  true,
			LayerID:  work[members[0]].LayerID,
			Style:    map[string]any{},
		}
		return append(work, group), true
	})
	if gid != "" {
		s.Select([]string{gid}, false)
	}
	return gid
}

// Ungroup dissolves the given unlocked groups. Members move up to the
// dissolved group's own parent group, if any. It returns the freed member ids.
func (s *Store) Ungroup(ids []string) []string {
	var freed []string
	s.restructure(func(work []document.CanvasElement) ([]document.CanvasElement, bool) {
		drop := make(map[string]struct{})
		for _, id := range uniq(ids) {
			i, ok := s.index[id]
			if !ok || !work[i].IsGroup() || work[i].Locked {
				continue
			}
			parent := work[i].Metadata.GroupID
			for _, m := range s.members[id] {
				mi := s.index[m]
				work[mi].Metadata.GroupID = parent
				if work[mi].Metadata.ParentID == id {
					work[mi].Metadata.ParentID = parent
				}
				freed = append(freed, m)
			}
			drop[id] = struct{}{}
		}
		if len(drop) == 0 {
			return nil, false
		}
		return removeIDs(work, drop), true
	})
	if len(freed) > 0 {
		s.Select(freed, false)
	}
	return freed
}

// Duplicate copies the unlocked targets, including group members, and places
// the copies on top shifted by offset. Copies get fresh ids and internal group
// references are remapped. The copies become the selection.
func (s *Store) Duplicate(ids []string, offset geometry.Point) []string {
	var top []string
	s.restructure(func(work []document.CanvasElement) ([]document.CanvasElement, bool) {
		src := s.expandLocked(uniq(ids))
		if len(src) == 0 {
			return nil, false
		}
		sort.Ints(src)
		remap := make(map[string]string, len(src))
		for _, i := range src {
			if work[i].IsGroup() {
				remap[work[i].ID] = typeid.NewGroupID()
			} else {
				remap[work[i].ID] = typeid.NewElementID()
			}
		}
		for _, i := range src {
			c := work[i].Clone()
			c.ID = remap[c.ID]
			c.Position = c.Position.Add(offset)
			if g, ok := remap[c.Metadata.GroupID]; ok {
				c.Metadata.GroupID = g
			}
			if p, ok := remap[c.Metadata.ParentID]; ok {
				c.Metadata.ParentID = p
			}
			if _, copiedWithGroup := remap[work[i].Metadata.GroupID]; !copiedWithGroup {
				top = append(top, c.ID)
			}
			work = append(work, c)
		}
		return work, true
	})
	if len(top) > 0 {
		s.Select(top, false)
	}
	return top
}

// Delete removes the unlocked targets and their unlocked members. Groups left
// with fewer than two members are dissolved. It returns the removed ids.
func (s *Store) Delete(ids []string) []string {
	var removed []string
	s.restructure(func(work []document.CanvasElement) ([]document.CanvasElement, bool) {
		drop := make(map[string]struct{})
		for _, i := range s.expandLocked(uniq(ids)) {
			drop[work[i].ID] = struct{}{}
		}
		if len(drop) == 0 {
			return nil, false
		}
		dissolveSparseGroups(work, s.members, drop)
		for i := range work {
			if _, ok := drop[work[i].ID]; ok {
				removed = append(removed, work[i].ID)
			}
		}
		return removeIDs(work, drop), true
	})
	return removed
}

// dissolveSparseGroups adds to drop every group that would be left with fewer
// than two members, reparenting the survivors. It repeats until stable since
// dissolving one group can thin out its parent.
func dissolveSparseGroups(work []document.CanvasElement, members map[string][]string, drop map[string]struct{}) {
	index := make(map[string]int, len(work))
	for i := range work {
		index[work[i].ID] = i
	}
	for changed := true; changed; {
		changed = false
		for g, ms := range members {
			gi, ok := index[g]
			if !ok || work[gi].Locked {
				continue
			}
			if _, gone := drop[g]; gone {
				// Members of a deleted group that survive (locked ones) are
				// released.
				for _, m := range ms {
					if _, mGone := drop[m]; !mGone {
						release(&work[index[m]], g, work[gi].Metadata.GroupID)
					}
				}
				continue
			}
			// Scan rather than trust ms: released survivors of an inner
			// group now count towards this one.
			var left []string
			for i := range work {
				if _, gone := drop[work[i].ID]; !gone && work[i].Metadata.GroupID == g {
					left = append(left, work[i].ID)
				}
			}
			if len(left) >= 2 {
				continue
			}
			for _, m := range left {
				release(&work[index[m]], g, work[gi].Metadata.GroupID)
			}
			drop[g] = struct{}{}
			changed = true
		}
	}
}

func release(e *document.CanvasElement, group, parent string) {
	if e.Metadata.GroupID == group {
		e.Metadata.GroupID = parent
	}
	if e.Metadata.ParentID == group {
		e.Metadata.ParentID = parent
	}
}

// BringToFront moves the targets (with their group members) to the top,
// preserving their relative order.
func (s *Store) BringToFront(ids []string) bool {
	return s.restack(ids, true)
}

// SendToBack moves the targets (with their group members) to the bottom,
// preserving their relative order.
func (s *Store) SendToBack(ids []string) bool {
	return s.restack(ids, false)
}

func (s *Store) restack(ids []string, front bool) bool {
	return s.restructure(func(work []document.CanvasElement) ([]document.CanvasElement, bool) {
		moving := make(map[string]struct{})
		for _, id := range uniq(ids) {
			if _, ok := s.index[id]; !ok {
				continue
			}
			for _, m := range s.subtreeLocked(id) {
				moving[m] = struct{}{}
			}
		}
		if len(moving) == 0 {
			return nil, false
		}
		var picked, rest []document.CanvasElement
		for _, e := range work {
			if _, ok := moving[e.ID]; ok {
				picked = append(picked, e)
			} else {
				rest = append(rest, e)
			}
		}
		var out []document.CanvasElement
		if front {
			out = append(rest, picked...)
		} else {
			out = append(picked, rest...)
		}
		return out, !sameOrder(work, out)
	})
}

// Reorder moves the element at index from to index to.
func (s *Store) Reorder(from, to int) bool {
	return s.restructure(func(work []document.CanvasElement) ([]document.CanvasElement, bool) {
		if from == to || from < 0 || to < 0 || from >= len(work) || to >= len(work) {
			return nil, false
		}
		splice(work, from, to)
		return work, true
	})
}

func removeIDs(work []document.CanvasElement, drop map[string]struct{}) []document.CanvasElement {
	return slices.DeleteFunc(work, func(e document.CanvasElement) bool {
		_, ok := drop[e.ID]
		return ok
	})
}

func sameOrder(a, b []document.CanvasElement) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

func uniq(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func normalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}
