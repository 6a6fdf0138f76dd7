// Package interaction turns pointer, wheel and key input into viewport and
// selection changes.
package interaction

import (
	"log/slog"

	"github.com/inamate/planboard/internal/geometry"
	"github.com/inamate/planboard/internal/store"
	"github.com/inamate/planboard/internal/viewport"
)

const (
	// DefaultClickThreshold is the screen distance under which a marquee
	// gesture counts as a click.
	DefaultClickThreshold = 6.0

	noPointer  = -1
	wheelNotch = 100.0 // DeltaY pixels per zoom step
)

// HitTester resolves world-space queries against the current elements.
type HitTester interface {
	HitTest(p geometry.Point) string
	ElementsInRect(r geometry.Rect) []string
}

// Elements is the part of the element store the controller writes to.
type Elements interface {
	IsSelected(id string) bool
	Select(ids []string, additive bool)
	Toggle(id string)
	ClearSelection()
	Selection() store.Selection
	OutermostGroup(id string) string
	Move(ids []string, dx, dy float64) bool
	Begin()
	Commit()
	Cancel()
}

// Options tunes the controller.
type Options struct {
	ClickThreshold float64
	ShiftPan       bool
	SpacePan       bool
	Logger         *slog.Logger
}

// DefaultOptions enables both pan shortcuts.
func DefaultOptions() Options {
	return Options{ClickThreshold: DefaultClickThreshold, ShiftPan: true, SpacePan: true}
}

// Controller is the gesture state machine of one canvas. It is driven from
// the UI loop and is not safe for concurrent use.
type Controller struct {
	vp       *viewport.Viewport
	elements Elements
	hit      HitTester
	throttle *FrameThrottle
	opts     Options
	logger   *slog.Logger

	tool      Tool
	spaceHeld bool

	state    State
	pointer  int
	start    geometry.Point // screen
	last     geometry.Point // screen
	travel   float64
	additive bool

	panPending  geometry.Point // screen delta not yet applied
	dragPending geometry.Point // world delta not yet applied

	listeners []func(State)
}

// New creates a controller in the idle state with the select tool.
func New(vp *viewport.Viewport, elements Elements, hit HitTester, throttle *FrameThrottle, opts Options) *Controller {
	if opts.ClickThreshold <= 0 {
		opts.ClickThreshold = DefaultClickThreshold
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if throttle == nil {
		throttle = NewFrameThrottle(nil)
	}
	return &Controller{
		vp:       vp,
		elements: elements,
		hit:      hit,
		throttle: throttle,
		opts:     opts,
		logger:   opts.Logger,
		tool:     ToolSelect,
		state:    StateIdle,
		pointer:  noPointer,
	}
}

// State returns the current gesture state.
func (c *Controller) State() State { return c.state }

// Tool returns the active tool.
func (c *Controller) Tool() Tool { return c.tool }

// Throttle returns the frame throttle so the host can flush it every frame.
func (c *Controller) Throttle() *FrameThrottle { return c.throttle }

// OnStateChange registers fn to run on every state transition.
func (c *Controller) OnStateChange(fn func(State)) {
	c.listeners = append(c.listeners, fn)
}

// CapturedPointer returns the pointer holding capture, if any.
func (c *Controller) CapturedPointer() (int, bool) {
	return c.pointer, c.pointer != noPointer
}

// Marquee returns the marquee rectangle in screen space while selecting.
func (c *Controller) Marquee() (geometry.Rect, bool) {
	if c.state != StateMarquee {
		return geometry.Rect{}, false
	}
	return geometry.RectFromPoints(c.start, c.last), true
}

// SetTool switches the toolbar mode, cancelling any gesture in progress.
func (c *Controller) SetTool(t Tool) {
	if t == c.tool {
		return
	}
	c.Cancel()
	c.tool = t
}

// PointerDown starts a gesture. It reports whether the event was consumed.
func (c *Controller) PointerDown(e PointerEvent) bool {
	if c.state != StateIdle {
		if e.PointerID == c.pointer {
			return true
		}
		// A second pointer takes capture; the running gesture is abandoned.
		c.logger.Debug("gesture cancelled by competing pointer", "state", c.state, "pointer", e.PointerID)
		c.Cancel()
	}

	if c.wantsPan(e) {
		c.begin(StatePanning, e)
		return true
	}
	if e.Button != ButtonLeft || c.tool != ToolSelect {
		return false
	}

	world := viewport.ScreenToWorld(e.Screen, c.vp.Camera())
	id := c.hit.HitTest(world)
	if id == "" {
		c.begin(StateMarquee, e)
		c.additive = e.Mods.Additive()
		return true
	}

	target := c.elements.OutermostGroup(id)
	if e.Mods.Additive() {
		c.elements.Toggle(target)
		if !c.elements.IsSelected(target) {
			return true
		}
	} else if !c.elements.IsSelected(target) {
		c.elements.Select([]string{target}, false)
	}
	c.elements.Begin()
	c.begin(StateDragging, e)
	return true
}

func (c *Controller) wantsPan(e PointerEvent) bool {
	switch e.Button {
	case ButtonMiddle:
		return true
	case ButtonLeft:
		return c.tool == ToolPan ||
			(c.opts.ShiftPan && e.Mods.Shift) ||
			(c.opts.SpacePan && c.spaceHeld)
	}
	return false
}

// PointerMove advances the active gesture. Work is deferred to the next
// frame through the throttle.
func (c *Controller) PointerMove(e PointerEvent) bool {
	if c.state == StateIdle || e.PointerID != c.pointer {
		return false
	}
	delta := e.Screen.Sub(c.last)
	c.travel += delta.Len()
	c.last = e.Screen

	switch c.state {
	case StatePanning:
		c.panPending = c.panPending.Add(delta)
		c.throttle.Request(c.flushPan)
	case StateDragging:
		c.dragPending = c.dragPending.Add(delta.Mul(1 / c.vp.Camera().Zoom))
		c.throttle.Request(c.flushDrag)
	case StateMarquee:
		// The overlay reads Marquee() when it repaints.
	}
	return true
}

func (c *Controller) flushPan() {
	d := c.panPending
	c.panPending = geometry.Point{}
	if d != (geometry.Point{}) {
		c.vp.PanBy(d)
	}
}

func (c *Controller) flushDrag() {
	d := c.dragPending
	c.dragPending = geometry.Point{}
	if d == (geometry.Point{}) {
		return
	}
	c.elements.Move(c.elements.Selection().IDs, d.X, d.Y)
}

// PointerUp finishes the active gesture.
func (c *Controller) PointerUp(e PointerEvent) bool {
	if c.state == StateIdle || e.PointerID != c.pointer {
		return false
	}
	if e.Screen != c.last {
		c.PointerMove(e)
	}
	c.throttle.Flush()

	switch c.state {
	case StatePanning:
	case StateMarquee:
		c.finishMarquee()
	case StateDragging:
		c.elements.Commit()
	}
	c.end()
	return true
}

func (c *Controller) finishMarquee() {
	if c.travel < c.opts.ClickThreshold {
		// A click on empty canvas.
		if !c.additive {
			c.elements.ClearSelection()
		}
		return
	}
	cam := c.vp.Camera()
	r := geometry.RectFromPoints(viewport.ScreenToWorld(c.start, cam), viewport.ScreenToWorld(c.last, cam))
	hits := c.hit.ElementsInRect(r)

	seen := make(map[string]struct{}, len(hits))
	ids := make([]string, 0, len(hits))
	for _, id := range hits {
		top := c.elements.OutermostGroup(id)
		if _, ok := seen[top]; ok {
			continue
		}
		seen[top] = struct{}{}
		ids = append(ids, top)
	}
	c.elements.Select(ids, c.additive)
}

// PointerCancel abandons the gesture owned by the pointer.
func (c *Controller) PointerCancel(e PointerEvent) bool {
	if c.state == StateIdle || e.PointerID != c.pointer {
		return false
	}
	c.Cancel()
	return true
}

// Cancel abandons any gesture. A drag is reverted; a marquee is discarded;
// panning keeps what was already applied.
func (c *Controller) Cancel() {
	if c.state == StateIdle {
		return
	}
	c.throttle.Discard()
	if c.state == StateDragging {
		c.elements.Cancel()
	}
	c.end()
}

// Wheel zooms about the cursor when Ctrl or Meta is held. Plain wheel input
// is left to the host's scroll handling.
func (c *Controller) Wheel(e WheelEvent) bool {
	if !e.Mods.Additive() || e.DeltaY == 0 {
		return false
	}
	c.vp.ZoomStep(-e.DeltaY/wheelNotch, e.Screen)
	return true
}

// KeyDown tracks Space for temporary panning and Escape for cancelling.
func (c *Controller) KeyDown(key string) bool {
	switch key {
	case " ", "Space":
		c.spaceHeld = true
		return c.opts.SpacePan
	case "Escape":
		if c.state == StateIdle {
			return false
		}
		c.Cancel()
		return true
	}
	return false
}

// KeyUp releases Space.
func (c *Controller) KeyUp(key string) bool {
	if key == " " || key == "Space" {
		c.spaceHeld = false
		return c.opts.SpacePan
	}
	return false
}

func (c *Controller) begin(s State, e PointerEvent) {
	c.pointer = e.PointerID
	c.start = e.Screen
	c.last = e.Screen
	c.travel = 0
	c.additive = false
	c.panPending = geometry.Point{}
	c.dragPending = geometry.Point{}
	c.setState(s)
}

func (c *Controller) end() {
	c.pointer = noPointer
	c.setState(StateIdle)
}

func (c *Controller) setState(s State) {
	if s == c.state {
		return
	}
	c.state = s
	for _, l := range c.listeners {
		l(s)
	}
}
