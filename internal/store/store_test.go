package store

import (
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/inamate/planboard/internal/document"
	"github.com/inamate/planboard/internal/geometry"
)

func newTestStore(t *testing.T, elements ...document.CanvasElement) *Store {
	t.Helper()
	now := time.Unix(1700000000, 0)
	s := New(Options{Now: func() time.Time { return now }})
	s.Initialize(elements)
	return s
}

func shape(id string, x, y, w, h float64) document.CanvasElement {
	return document.CanvasElement{
		ID:       id,
		Type:     document.ElementTypeShape,
		Position: geometry.Point{X: x, Y: y},
		Size:     geometry.Size{Width: w, Height: h},
		Visible:  true,
		Style:    map[string]any{"fill": "#fff"},
	}
}

func mustGet(t *testing.T, s *Store, id string) document.CanvasElement {
	t.Helper()
	e, ok := s.Get(id)
	if !ok {
		t.Fatalf("element %s missing", id)
	}
	return e
}

func TestResizeAboutOrigin(t *testing.T) {
	s := newTestStore(t)
	s.Add(shape("a", 100, 100, 100, 100))

	if !s.Resize([]string{"a"}, 1.5, 1.5, geometry.Point{}) {
		t.Fatal("Resize() reported no change")
	}
	a := mustGet(t, s, "a")
	if a.Size != (geometry.Size{Width: 150, Height: 150}) {
		t.Fatalf("size = %+v, want 150x150", a.Size)
	}
	if a.Position != (geometry.Point{X: 150, Y: 150}) {
		t.Fatalf("position = %+v, want (150,150)", a.Position)
	}
}

func TestResizeNegativeMirrors(t *testing.T) {
	s := newTestStore(t, shape("a", 10, 10, 20, 10))
	s.Resize([]string{"a"}, -1, 1, geometry.Point{})
	a := mustGet(t, s, "a")
	if a.Position.X != -30 || a.Size.Width != 20 {
		t.Fatalf("mirrored box = %+v %+v", a.Position, a.Size)
	}
}

func TestLockedElementsNeverMove(t *testing.T) {
	locked := shape("locked", 10, 20, 30, 40)
	locked.Locked = true
	locked.Rotation = 12

	ops := []struct {
		name string
		run  func(s *Store, ids []string)
	}{
		{"move", func(s *Store, ids []string) { s.Move(ids, 5, 5) }},
		{"resize", func(s *Store, ids []string) { s.Resize(ids, 2, 3, geometry.Point{X: 1, Y: 1}) }},
		{"rotate", func(s *Store, ids []string) { s.Rotate(ids, 45) }},
		{"rotate about", func(s *Store, ids []string) { s.RotateAbout(ids, 90, geometry.Point{}) }},
		{"align left", func(s *Store, ids []string) { s.Align(ids, EdgeLeft) }},
		{"align bottom", func(s *Store, ids []string) { s.Align(ids, EdgeBottom) }},
		{"distribute", func(s *Store, ids []string) { s.Distribute(ids, AxisHorizontal) }},
		{"group", func(s *Store, ids []string) { s.Group(ids) }},
		{"duplicate", func(s *Store, ids []string) { s.Duplicate(ids, geometry.Point{X: 10, Y: 10}) }},
		{"delete", func(s *Store, ids []string) { s.Delete(ids) }},
		{"update", func(s *Store, ids []string) {
			r := 90.0
			for _, id := range ids {
				s.Update(id, Patch{Position: &geometry.Point{X: -1, Y: -1}, Rotation: &r})
			}
		}},
	}

	for _, op := range ops {
		t.Run(op.name, func(t *testing.T) {
			s := newTestStore(t, locked, shape("a", 200, 0, 10, 10), shape("b", 400, 50, 10, 10))
			op.run(s, []string{"locked", "a", "b"})

			got := mustGet(t, s, "locked")
			if got.Position != locked.Position || got.Size != locked.Size || got.Rotation != locked.Rotation {
				t.Fatalf("locked element changed: %+v %+v %v", got.Position, got.Size, got.Rotation)
			}
			if got.Metadata.GroupID != "" {
				t.Fatalf("locked element was grouped into %s", got.Metadata.GroupID)
			}
		})
	}
}

func TestAlignReferences(t *testing.T) {
	base := []document.CanvasElement{
		shape("a", 0, 0, 10, 10),
		shape("b", 20, 5, 30, 20),
		shape("c", 50, 40, 10, 40),
	}
	ids := []string{"a", "b", "c"}
	tests := []struct {
		edge Edge
		want func(e document.CanvasElement) float64
		ref  float64
	}{
		{EdgeLeft, func(e document.CanvasElement) float64 { return e.Position.X }, 0},
		{EdgeRight, func(e document.CanvasElement) float64 { return e.Position.X + e.Size.Width }, 60},
		{EdgeCenter, func(e document.CanvasElement) float64 { return e.Position.X + e.Size.Width/2 }, 95.0 / 3},
		{EdgeTop, func(e document.CanvasElement) float64 { return e.Position.Y }, 0},
		{EdgeBottom, func(e document.CanvasElement) float64 { return e.Position.Y + e.Size.Height }, 80},
		{EdgeMiddle, func(e document.CanvasElement) float64 { return e.Position.Y + e.Size.Height/2 }, 80.0 / 3},
	}
	for _, tt := range tests {
		t.Run(string(tt.edge), func(t *testing.T) {
			s := newTestStore(t, base...)
			s.Align(ids, tt.edge)
			for _, id := range ids {
				if got := tt.want(mustGet(t, s, id)); math.Abs(got-tt.ref) > 1e-9 {
					t.Fatalf("%s edge = %v, want %v", id, got, tt.ref)
				}
			}
		})
	}
}

func TestDistributeSpacesCentres(t *testing.T) {
	s := newTestStore(t, shape("a", 0, 0, 10, 10), shape("b", 15, 0, 10, 10), shape("c", 100, 0, 10, 10))
	s.Distribute([]string{"c", "a", "b"}, AxisHorizontal)
	b := mustGet(t, s, "b")
	if got := b.Center().X; got != 55 {
		t.Fatalf("middle centre = %v, want 55", got)
	}
}

func TestGroupAndUngroup(t *testing.T) {
	s := newTestStore(t, shape("a", 0, 0, 10, 10), shape("b", 50, 20, 10, 30))

	if gid := s.Group([]string{"a"}); gid != "" {
		t.Fatalf("Group() with one element = %q, want no-op", gid)
	}
	if s.CanUndo() {
		t.Fatal("rejected group recorded history")
	}

	gid := s.Group([]string{"a", "b"})
	if gid == "" {
		t.Fatal("Group() returned empty id")
	}
	g := mustGet(t, s, gid)
	if g.Type != document.ElementTypeGroup {
		t.Fatalf("group type = %s", g.Type)
	}
	if want := (geometry.Rect{X: 0, Y: 0, Width: 60, Height: 50}); g.Bounds() != want {
		t.Fatalf("group bounds = %+v, want %+v", g.Bounds(), want)
	}
	for _, id := range []string{"a", "b"} {
		if p := mustGet(t, s, id).Metadata.ParentID; p != gid {
			t.Fatalf("%s parent = %q, want %q", id, p, gid)
		}
	}
	if sel := s.Selection(); !slices.Equal(sel.IDs, []string{gid}) {
		t.Fatalf("selection = %v, want the group", sel.IDs)
	}

	// Moving the group carries its members and keeps the bounds in sync.
	s.Move([]string{gid}, 10, 0)
	if x := mustGet(t, s, "b").Position.X; x != 60 {
		t.Fatalf("member x = %v, want 60", x)
	}
	if x := mustGet(t, s, gid).Position.X; x != 10 {
		t.Fatalf("group x = %v, want 10", x)
	}

	freed := s.Ungroup([]string{gid})
	if len(freed) != 2 {
		t.Fatalf("Ungroup() freed %v", freed)
	}
	if _, ok := s.Get(gid); ok {
		t.Fatal("group element survived ungroup")
	}
	for _, id := range []string{"a", "b"} {
		if md := mustGet(t, s, id).Metadata; md.ParentID != "" || md.GroupID != "" {
			t.Fatalf("%s still references a group: %+v", id, md)
		}
	}
}

func TestMovingMemberRefitsGroup(t *testing.T) {
	s := newTestStore(t, shape("a", 0, 0, 10, 10), shape("b", 20, 0, 10, 10))
	gid := s.Group([]string{"a", "b"})
	s.Move([]string{"b"}, 100, 0)
	if w := mustGet(t, s, gid).Size.Width; w != 130 {
		t.Fatalf("group width = %v, want 130", w)
	}
}

func TestDeleteDissolvesSparseGroup(t *testing.T) {
	s := newTestStore(t, shape("a", 0, 0, 10, 10), shape("b", 20, 0, 10, 10))
	gid := s.Group([]string{"a", "b"})

	removed := s.Delete([]string{"a"})
	if !slices.Contains(removed, "a") || !slices.Contains(removed, gid) {
		t.Fatalf("Delete() removed %v, want a and the group", removed)
	}
	if md := mustGet(t, s, "b").Metadata; md.GroupID != "" {
		t.Fatalf("survivor still in group %s", md.GroupID)
	}
	if len(s.Selection().IDs) != 0 {
		t.Fatalf("selection kept deleted ids: %v", s.Selection().IDs)
	}
}

func TestDuplicateRemapsGroups(t *testing.T) {
	s := newTestStore(t, shape("a", 0, 0, 10, 10), shape("b", 20, 0, 10, 10))
	gid := s.Group([]string{"a", "b"})

	copies := s.Duplicate([]string{gid}, geometry.Point{X: 5, Y: 5})
	if len(copies) != 1 || copies[0] == gid {
		t.Fatalf("Duplicate() = %v, want one new group", copies)
	}
	if s.Len() != 6 {
		t.Fatalf("len = %d, want 6", s.Len())
	}
	var members int
	for _, e := range s.Elements() {
		if e.Metadata.GroupID == copies[0] {
			members++
			if e.ID == "a" || e.ID == "b" {
				t.Fatalf("original %s moved into the copy", e.ID)
			}
		}
	}
	if members != 2 {
		t.Fatalf("copied group has %d members, want 2", members)
	}
}

func TestUndoRedoSymmetry(t *testing.T) {
	s := newTestStore(t, shape("a", 0, 0, 10, 10), shape("b", 50, 50, 20, 20), shape("c", 90, 0, 5, 5))
	initial := s.Elements()

	mutations := []func(){
		func() { s.Move([]string{"a"}, 3, 4) },
		func() { s.Resize([]string{"b"}, 2, 2, geometry.Point{X: 50, Y: 50}) },
		func() { s.Rotate([]string{"c"}, 30) },
		func() { s.Group([]string{"a", "b"}) },
		func() { s.Align([]string{"a", "c"}, EdgeTop) },
		func() { s.BringToFront([]string{"a"}) },
		func() { s.Add(shape("d", 5, 5, 5, 5)) },
		func() { s.Lock([]string{"d"}) },
		func() { s.Delete([]string{"c"}) },
	}
	for _, m := range mutations {
		m()
	}
	final := s.Elements()

	for i := range mutations {
		if !s.Undo() {
			t.Fatalf("Undo() #%d failed", i+1)
		}
	}
	if s.CanUndo() {
		t.Fatal("history deeper than the mutation count")
	}
	if !reflect.DeepEqual(s.Elements(), initial) {
		t.Fatal("undo did not return to the initial state")
	}
	for i := range mutations {
		if !s.Redo() {
			t.Fatalf("Redo() #%d failed", i+1)
		}
	}
	if !reflect.DeepEqual(s.Elements(), final) {
		t.Fatal("redo did not return to the final state")
	}
}

func TestNewMutationClearsFuture(t *testing.T) {
	s := newTestStore(t, shape("a", 0, 0, 10, 10))
	s.Move([]string{"a"}, 1, 0)
	s.Undo()
	if !s.CanRedo() {
		t.Fatal("CanRedo() = false after undo")
	}
	s.Move([]string{"a"}, 0, 1)
	if s.CanRedo() {
		t.Fatal("new mutation kept the redo stack")
	}
}

func TestUndoClearsSelection(t *testing.T) {
	s := newTestStore(t, shape("a", 0, 0, 10, 10))
	s.Select([]string{"a"}, false)
	s.Move([]string{"a"}, 1, 1)
	s.Undo()
	if len(s.Selection().IDs) != 0 {
		t.Fatalf("selection after undo = %v", s.Selection().IDs)
	}
}

func TestHistoryLimit(t *testing.T) {
	s := New(Options{HistoryLimit: 3})
	s.Initialize([]document.CanvasElement{shape("a", 0, 0, 1, 1)})
	for i := 0; i < 10; i++ {
		s.Move([]string{"a"}, 1, 0)
	}
	undos := 0
	for s.Undo() {
		undos++
	}
	if undos != 3 {
		t.Fatalf("undo depth = %d, want 3", undos)
	}
	if x := mustGet(t, s, "a").Position.X; x != 7 {
		t.Fatalf("x after exhausting undo = %v, want 7", x)
	}
}

func TestBatchIsOneUndoStep(t *testing.T) {
	s := newTestStore(t, shape("a", 0, 0, 10, 10))
	s.Begin()
	for i := 0; i < 20; i++ {
		s.Move([]string{"a"}, 1, 1)
	}
	s.Commit()

	if !s.Undo() {
		t.Fatal("Undo() after batch failed")
	}
	if p := mustGet(t, s, "a").Position; p != (geometry.Point{}) {
		t.Fatalf("position after undo = %+v", p)
	}
	if s.CanUndo() {
		t.Fatal("batch left more than one history entry")
	}
}

func TestEmptyBatchRecordsNothing(t *testing.T) {
	s := newTestStore(t, shape("a", 0, 0, 10, 10))
	s.Begin()
	s.Commit()
	if s.CanUndo() {
		t.Fatal("empty batch recorded history")
	}
}

func TestCancelRestoresBatchBase(t *testing.T) {
	s := newTestStore(t, shape("a", 0, 0, 10, 10))
	var last Change
	s.Subscribe(func(c Change) { last = c })

	s.Begin()
	s.Move([]string{"a"}, 40, 0)
	s.Cancel()

	if p := mustGet(t, s, "a").Position; p != (geometry.Point{}) {
		t.Fatalf("position after cancel = %+v", p)
	}
	if last.Origin != OriginLocal || len(last.Updated) != 1 {
		t.Fatalf("cancel change = %+v", last)
	}
	if s.CanUndo() {
		t.Fatal("cancelled batch recorded history")
	}
}

func TestRemoteEditsDuringBatchSurvive(t *testing.T) {
	tests := []struct {
		name   string
		remote func(s *Store)
		finish func(s *Store)
	}{
		{"add then cancel", func(s *Store) { s.ApplyAdd(shape("b", 50, 50, 5, 5)) }, (*Store).Cancel},
		{"add then undo", func(s *Store) { s.ApplyAdd(shape("b", 50, 50, 5, 5)) }, func(s *Store) {
			s.Commit()
			if !s.Undo() {
				t.Fatal("drag left no undo step")
			}
		}},
		{"resync then cancel", func(s *Store) {
			s.ReplaceAll([]document.CanvasElement{shape("a", 0, 0, 10, 10), shape("b", 50, 50, 5, 5)})
		}, (*Store).Cancel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, shape("a", 0, 0, 10, 10))
			var last Change
			s.Subscribe(func(c Change) { last = c })

			s.Begin()
			s.Move([]string{"a"}, 5, 5)
			tt.remote(s)
			tt.finish(s)

			if _, ok := s.Get("b"); !ok {
				t.Fatal("remote element b lost")
			}
			if slices.Contains(last.Removed, "b") {
				t.Fatalf("final change removed b: %+v", last)
			}
			if p := mustGet(t, s, "a").Position; p != (geometry.Point{}) {
				t.Fatalf("a position = %+v, want origin", p)
			}
		})
	}
}

func TestRemoteDeleteDuringBatchStaysDeleted(t *testing.T) {
	s := newTestStore(t, shape("a", 0, 0, 10, 10), shape("b", 20, 0, 10, 10))

	s.Begin()
	s.Move([]string{"a"}, 5, 5)
	s.ApplyDelete([]string{"b"})
	s.Cancel()

	if _, ok := s.Get("b"); ok {
		t.Fatal("cancel resurrected a remotely deleted element")
	}
}

func TestChangesReplayToNewState(t *testing.T) {
	s := newTestStore(t, shape("a", 0, 0, 10, 10), shape("b", 20, 0, 10, 10), shape("c", 40, 0, 10, 10))
	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })

	steps := []func(){
		func() { s.BringToFront([]string{"a"}) },
		func() { s.Group([]string{"b", "c"}) },
		func() { s.Duplicate([]string{"a"}, geometry.Point{X: 1}) },
		func() { s.Delete([]string{"b"}) },
		func() { s.Undo() },
		func() { s.Undo() },
		func() { s.Redo() },
		func() { s.SendToBack([]string{"c"}) },
	}
	for i, step := range steps {
		before := s.Elements()
		changes = nil
		step()
		after := s.Elements()
		if len(changes) != 1 {
			t.Fatalf("step %d emitted %d changes", i, len(changes))
		}
		if got := replay(before, changes[0]); !reflect.DeepEqual(got, after) {
			t.Fatalf("step %d: replayed change %+v does not reproduce the new state", i, changes[0])
		}
	}
}

func replay(before []document.CanvasElement, c Change) []document.CanvasElement {
	out := slices.DeleteFunc(slices.Clone(before), func(e document.CanvasElement) bool {
		return slices.Contains(c.Removed, e.ID)
	})
	out = append(out, c.Added...)
	for _, u := range c.Updated {
		for i := range out {
			if out[i].ID == u.ID {
				out[i] = u
			}
		}
	}
	for _, m := range c.Moves {
		for i := range out {
			if out[i].ID == m.ElementID {
				splice(out, i, m.To)
				break
			}
		}
	}
	return out
}

func TestRemoteApplyIsIdempotent(t *testing.T) {
	x := shape("x", 0, 0, 10, 10)
	moved := x
	moved.Position = geometry.Point{X: 99, Y: 1}

	applies := []struct {
		name string
		run  func(s *Store)
	}{
		{"add", func(s *Store) { s.ApplyAdd(shape("n", 1, 1, 1, 1)) }},
		{"update", func(s *Store) { s.ApplyUpdate(moved) }},
		{"delete", func(s *Store) { s.ApplyDelete([]string{"y"}) }},
		{"reorder", func(s *Store) { s.ApplyReorder("x", 0, 2) }},
		{"bulk", func(s *Store) {
			s.ApplyBulk([]document.CanvasElement{moved, shape("m", 2, 2, 2, 2)})
		}},
	}
	for _, a := range applies {
		t.Run(a.name, func(t *testing.T) {
			s := newTestStore(t, x, shape("y", 20, 0, 10, 10), shape("z", 40, 0, 10, 10))
			a.run(s)
			once := s.Elements()
			a.run(s)
			if !reflect.DeepEqual(s.Elements(), once) {
				t.Fatal("second application changed the state")
			}
			if s.CanUndo() {
				t.Fatal("remote apply recorded history")
			}
		})
	}
}

func TestRemoteChangesCarryRemoteOrigin(t *testing.T) {
	s := newTestStore(t, shape("x", 0, 0, 10, 10))
	var origins []Origin
	s.Subscribe(func(c Change) { origins = append(origins, c.Origin) })

	s.ApplyDelete([]string{"x"})
	s.ApplyDelete([]string{"x"})
	s.Add(shape("y", 0, 0, 1, 1))

	if !slices.Equal(origins, []Origin{OriginRemote, OriginLocal}) {
		t.Fatalf("origins = %v", origins)
	}
	if _, ok := s.LastLocalEdit("y"); !ok {
		t.Fatal("local add did not record an edit time")
	}
	if _, ok := s.LastLocalEdit("x"); ok {
		t.Fatal("remote delete left an edit time")
	}
}

func TestSelectionRules(t *testing.T) {
	s := newTestStore(t, shape("a", 0, 0, 1, 1), shape("b", 0, 0, 1, 1))
	var events int
	s.SubscribeSelection(func(Selection) { events++ })

	s.Select([]string{"a", "ghost"}, false)
	s.Select([]string{"b"}, true)
	if sel := s.Selection(); !slices.Equal(sel.IDs, []string{"a", "b"}) || sel.Primary != "b" {
		t.Fatalf("selection = %+v", sel)
	}
	s.Toggle("a")
	if sel := s.Selection(); !slices.Equal(sel.IDs, []string{"b"}) {
		t.Fatalf("after toggle = %+v", sel)
	}
	s.ClearSelection()
	s.ClearSelection()
	if events != 4 {
		t.Fatalf("selection events = %d, want 4", events)
	}
}

// moveFrames replays a drag: n elements selected out of total, moved by
// (5,5) once per frame inside one gesture batch.
func moveFrames(s *Store, ids []string, frames int) time.Duration {
	var worst time.Duration
	s.Begin()
	for f := 0; f < frames; f++ {
		start := time.Now()
		s.Move(ids, 5, 5)
		if d := time.Since(start); d > worst {
			worst = d
		}
	}
	s.Commit()
	return worst
}

func perfFixture(total, selected int) (*Store, []string, []document.CanvasElement) {
	s := New(Options{})
	elements := make([]document.CanvasElement, total)
	ids := make([]string, 0, selected)
	for i := range elements {
		elements[i] = shape(fmt.Sprintf("e%04d", i), float64(i%10)*120, float64(i/10)*120, 100, 100)
		if i < selected {
			ids = append(ids, elements[i].ID)
		}
	}
	s.Initialize(elements)
	return s, ids, elements
}

func TestMoveSelectionFrameBudget(t *testing.T) {
	for _, frames := range []int{50, 60} {
		s, ids, start := perfFixture(100, 50)
		worst := moveFrames(s, ids, frames)
		if worst > 16*time.Millisecond {
			t.Fatalf("%d frames: worst frame took %v", frames, worst)
		}
		want := float64(frames * 5)
		for i, e := range s.Elements() {
			dx := e.Position.X - start[i].Position.X
			dy := e.Position.Y - start[i].Position.Y
			if i < 50 && (dx != want || dy != want) {
				t.Fatalf("%d frames: %s offset (%v,%v), want (%v,%v)", frames, e.ID, dx, dy, want, want)
			}
			if i >= 50 && (dx != 0 || dy != 0) {
				t.Fatalf("%d frames: unselected %s moved", frames, e.ID)
			}
		}
		past, _ := s.history.Len()
		if past != 1 {
			t.Fatalf("%d frames: history depth %d, want 1", frames, past)
		}
	}
}

func BenchmarkMoveSelection(b *testing.B) {
	for _, n := range []int{10, 50, 200, 800} {
		b.Run("n="+strconv.Itoa(n), func(b *testing.B) {
			s, ids, _ := perfFixture(n*2, n)
			s.Begin()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				s.Move(ids, 5, 5)
			}
			b.StopTimer()
			s.Commit()
		})
	}
}
