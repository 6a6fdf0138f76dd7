package interaction

import (
	"math"
	"slices"
	"testing"

	"github.com/inamate/planboard/internal/document"
	"github.com/inamate/planboard/internal/geometry"
	"github.com/inamate/planboard/internal/spatial"
	"github.com/inamate/planboard/internal/store"
	"github.com/inamate/planboard/internal/viewport"
)

// countingHits answers queries from the live store and counts them.
type countingHits struct {
	s          *store.Store
	points     int
	rectangles int
}

func (h *countingHits) HitTest(p geometry.Point) string {
	h.points++
	return spatial.HitTest(h.s.Elements(), p)
}

func (h *countingHits) ElementsInRect(r geometry.Rect) []string {
	h.rectangles++
	return spatial.ElementsInRect(h.s.Elements(), r)
}

type fixture struct {
	vp    *viewport.Viewport
	store *store.Store
	hits  *countingHits
	ctl   *Controller
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	s := store.New(store.Options{})
	s.Initialize([]document.CanvasElement{
		box("a", 10, 10, 50, 50),
		box("b", 200, 10, 20, 20),
		box("c", 240, 10, 20, 20),
	})
	vp := viewport.New(viewport.DefaultBounds())
	vp.SetContainer(geometry.Size{Width: 800, Height: 600})
	hits := &countingHits{s: s}
	return &fixture{vp: vp, store: s, hits: hits, ctl: New(vp, s, hits, nil, opts)}
}

func box(id string, x, y, w, h float64) document.CanvasElement {
	return document.CanvasElement{
		ID:       id,
		Type:     document.ElementTypeShape,
		Position: geometry.Point{X: x, Y: y},
		Size:     geometry.Size{Width: w, Height: h},
		Visible:  true,
	}
}

func left(x, y float64) PointerEvent {
	return PointerEvent{PointerID: 1, Button: ButtonLeft, Screen: geometry.Point{X: x, Y: y}}
}

func TestMarqueeBelowClickThresholdClearsSelection(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.store.Select([]string{"a"}, false)

	if !f.ctl.PointerDown(left(400, 400)) {
		t.Fatal("down on empty canvas not consumed")
	}
	if f.ctl.State() != StateMarquee {
		t.Fatalf("state = %s, want %s", f.ctl.State(), StateMarquee)
	}
	f.ctl.PointerMove(left(404, 403)) // 5px of travel
	f.ctl.PointerUp(left(404, 403))

	if len(f.store.Selection().IDs) != 0 {
		t.Fatalf("selection = %v, want cleared", f.store.Selection().IDs)
	}
	if f.hits.rectangles != 0 {
		t.Fatalf("rect queries = %d, want 0", f.hits.rectangles)
	}
	if f.ctl.State() != StateIdle {
		t.Fatalf("state after up = %s", f.ctl.State())
	}
}

func TestAdditiveMarqueeClickKeepsSelection(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.store.Select([]string{"a"}, false)

	down := left(400, 400)
	down.Mods.Ctrl = true
	f.ctl.PointerDown(down)
	f.ctl.PointerUp(down)

	if got := f.store.Selection().IDs; !slices.Equal(got, []string{"a"}) {
		t.Fatalf("selection = %v, want [a]", got)
	}
}

func TestClickThresholdUsesPathLength(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.ctl.PointerDown(left(400, 400))
	// Out and back: the endpoints coincide but the pointer travelled 20px.
	f.ctl.PointerMove(left(410, 400))
	f.ctl.PointerUp(left(400, 400))
	if f.hits.rectangles != 1 {
		t.Fatalf("rect queries = %d, want 1", f.hits.rectangles)
	}
}

func TestMarqueeSelectsIntersectingAndLiftsGroups(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	gid := f.store.Group([]string{"b", "c"})
	f.store.ClearSelection()

	// From empty space above-left of a, across a and into b only.
	f.ctl.PointerDown(left(0, 0))
	f.ctl.PointerMove(left(120, 20))
	f.ctl.PointerMove(left(205, 15))
	if r, ok := f.ctl.Marquee(); !ok || r.Width != 205 {
		t.Fatalf("Marquee() = %+v, %v", r, ok)
	}
	f.ctl.PointerUp(left(205, 15))

	got := f.store.Selection().IDs
	if !slices.Equal(got, []string{"a", gid}) {
		t.Fatalf("selection = %v, want [a %s]", got, gid)
	}
}

func TestPanIsThrottledAndZoomInvariant(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.vp.Set(viewport.Camera{Zoom: 2})
	rev := f.vp.Revision()

	down := PointerEvent{PointerID: 1, Button: ButtonMiddle}
	f.ctl.PointerDown(down)
	for i := 1; i <= 10; i++ {
		down.Screen = geometry.Point{X: float64(i)}
		f.ctl.PointerMove(down)
	}
	if f.vp.Revision() != rev {
		t.Fatal("pan applied before the frame flush")
	}
	if !f.ctl.Throttle().Flush() {
		t.Fatal("no pending pan update")
	}
	if f.vp.Revision() != rev+1 {
		t.Fatalf("viewport updated %d times in one frame", f.vp.Revision()-rev)
	}
	if pan := f.vp.Camera().Pan; pan.X != 5 {
		t.Fatalf("pan = %+v, want x=5 (10px at zoom 2)", pan)
	}
	f.ctl.PointerUp(down)
	if f.ctl.State() != StateIdle {
		t.Fatalf("state = %s", f.ctl.State())
	}
}

func TestPanTriggers(t *testing.T) {
	tests := []struct {
		name  string
		opts  Options
		space bool
		tool  Tool
		ev    PointerEvent
		want  State
	}{
		{"middle", DefaultOptions(), false, ToolSelect, PointerEvent{PointerID: 1, Button: ButtonMiddle, Screen: geometry.Point{X: 400, Y: 400}}, StatePanning},
		{"shift left", DefaultOptions(), false, ToolSelect, PointerEvent{PointerID: 1, Button: ButtonLeft, Screen: geometry.Point{X: 400, Y: 400}, Mods: Modifiers{Shift: true}}, StatePanning},
		{"shift left disabled", Options{}, false, ToolSelect, PointerEvent{PointerID: 1, Button: ButtonLeft, Screen: geometry.Point{X: 400, Y: 400}, Mods: Modifiers{Shift: true}}, StateMarquee},
		{"space left", DefaultOptions(), true, ToolSelect, left(20, 20), StatePanning},
		{"pan tool", DefaultOptions(), false, ToolPan, left(20, 20), StatePanning},
		{"external tool middle", DefaultOptions(), false, ToolExternal, PointerEvent{PointerID: 1, Button: ButtonMiddle}, StatePanning},
		{"external tool left", DefaultOptions(), false, ToolExternal, left(400, 400), StateIdle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.opts)
			f.ctl.SetTool(tt.tool)
			if tt.space {
				f.ctl.KeyDown(" ")
			}
			f.ctl.PointerDown(tt.ev)
			if f.ctl.State() != tt.want {
				t.Fatalf("state = %s, want %s", f.ctl.State(), tt.want)
			}
			if tt.want == StatePanning {
				if id, ok := f.ctl.CapturedPointer(); !ok || id != 1 {
					t.Fatalf("CapturedPointer() = %d, %v", id, ok)
				}
			}
		})
	}
}

func TestDragMovesSelectionAsOneUndoStep(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.vp.Set(viewport.Camera{Zoom: 2})

	// a spans world 10..60, screen 20..120 at zoom 2.
	if !f.ctl.PointerDown(left(40, 40)) {
		t.Fatal("down on element not consumed")
	}
	if f.ctl.State() != StateDragging {
		t.Fatalf("state = %s", f.ctl.State())
	}
	if got := f.store.Selection().IDs; !slices.Equal(got, []string{"a"}) {
		t.Fatalf("selection = %v", got)
	}
	for i := 1; i <= 4; i++ {
		f.ctl.PointerMove(left(40+float64(i)*5, 40+float64(i)*2.5))
		f.ctl.Throttle().Flush()
	}
	f.ctl.PointerUp(left(60, 50))

	a, _ := f.store.Get("a")
	if a.Position != (geometry.Point{X: 20, Y: 15}) {
		t.Fatalf("position = %+v, want (20,15)", a.Position)
	}
	f.store.Undo()
	a, _ = f.store.Get("a")
	if a.Position != (geometry.Point{X: 10, Y: 10}) {
		t.Fatalf("position after one undo = %+v", a.Position)
	}
	if f.store.CanUndo() {
		t.Fatal("drag produced more than one undo step")
	}
}

func TestClickOnElementWithoutMovingRecordsNothing(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.ctl.PointerDown(left(20, 20))
	f.ctl.PointerUp(left(20, 20))
	if f.store.CanUndo() {
		t.Fatal("plain click recorded history")
	}
}

func TestAdditiveClickTogglesWithoutDragging(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.store.Select([]string{"a", "b"}, false)

	ev := left(20, 20)
	ev.Mods.Meta = true
	f.ctl.PointerDown(ev)
	if f.ctl.State() != StateIdle {
		t.Fatalf("state = %s, want idle after deselecting", f.ctl.State())
	}
	if got := f.store.Selection().IDs; !slices.Equal(got, []string{"b"}) {
		t.Fatalf("selection = %v, want [b]", got)
	}
}

func TestCompetingPointerCancelsDrag(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.ctl.PointerDown(left(20, 20))
	f.ctl.PointerMove(left(50, 20))
	f.ctl.Throttle().Flush()

	second := left(500, 500)
	second.PointerID = 2
	f.ctl.PointerDown(second)

	a, _ := f.store.Get("a")
	if a.Position.X != 10 {
		t.Fatalf("drag not reverted, x = %v", a.Position.X)
	}
	if id, _ := f.ctl.CapturedPointer(); id != 2 {
		t.Fatalf("capture held by %d, want 2", id)
	}
	// Events from the first pointer are ignored now.
	if f.ctl.PointerUp(left(50, 20)) {
		t.Fatal("stale pointer up consumed")
	}
}

func TestPointerCancelDiscardsMarquee(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.store.Select([]string{"a"}, false)
	f.ctl.PointerDown(left(400, 400))
	f.ctl.PointerMove(left(0, 0))
	f.ctl.PointerCancel(left(0, 0))

	if f.ctl.State() != StateIdle || f.hits.rectangles != 0 {
		t.Fatalf("state = %s, rect queries = %d", f.ctl.State(), f.hits.rectangles)
	}
	if got := f.store.Selection().IDs; !slices.Equal(got, []string{"a"}) {
		t.Fatalf("selection changed to %v", got)
	}
}

func TestWheelZoomOnlyWithModifier(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	pivot := geometry.Point{X: 300, Y: 200}
	before := viewport.ScreenToWorld(pivot, f.vp.Camera())

	if f.ctl.Wheel(WheelEvent{Screen: pivot, DeltaY: -100}) {
		t.Fatal("plain wheel consumed")
	}
	if !f.ctl.Wheel(WheelEvent{Screen: pivot, DeltaY: -100, Mods: Modifiers{Ctrl: true}}) {
		t.Fatal("ctrl wheel not consumed")
	}
	cam := f.vp.Camera()
	if math.Abs(cam.Zoom-viewport.ZoomStepFactor) > 1e-12 {
		t.Fatalf("zoom = %v, want %v", cam.Zoom, viewport.ZoomStepFactor)
	}
	after := viewport.ScreenToWorld(pivot, cam)
	if math.Abs(after.X-before.X) > 1e-9 || math.Abs(after.Y-before.Y) > 1e-9 {
		t.Fatalf("world under cursor moved %v -> %v", before, after)
	}
}

func TestFrameThrottleCoalesces(t *testing.T) {
	var scheduled []func()
	f := NewFrameThrottle(func(cb func()) { scheduled = append(scheduled, cb) })

	var ran []int
	for i := 0; i < 5; i++ {
		f.Request(func() { ran = append(ran, i) })
	}
	if len(scheduled) != 1 {
		t.Fatalf("scheduled %d frames, want 1", len(scheduled))
	}
	scheduled[0]()
	if !slices.Equal(ran, []int{4}) {
		t.Fatalf("ran %v, want only the last request", ran)
	}
	if f.Flush() {
		t.Fatal("second flush ran something")
	}

	f.Request(func() {})
	if len(scheduled) != 2 {
		t.Fatal("request after flush did not schedule a new frame")
	}
}
