// Package engine composes the canvas building blocks into the object the
// browser host drives: viewport, grid, element store, spatial index,
// interaction controller and, optionally, the sync coordinator.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inamate/planboard/internal/collab"
	"github.com/inamate/planboard/internal/config"
	"github.com/inamate/planboard/internal/document"
	"github.com/inamate/planboard/internal/geometry"
	"github.com/inamate/planboard/internal/grid"
	"github.com/inamate/planboard/internal/interaction"
	"github.com/inamate/planboard/internal/spatial"
	"github.com/inamate/planboard/internal/store"
	"github.com/inamate/planboard/internal/viewport"
)

// Options configures an Engine.
type Options struct {
	Zoom          viewport.Bounds
	Interaction   interaction.Options
	HistoryLimit  int
	IndexCellSize float64
	Grid          grid.Settings
	Logger        *slog.Logger
	Now           func() time.Time
}

// DefaultOptions returns the package defaults.
func DefaultOptions() Options {
	return Options{
		Zoom:          viewport.DefaultBounds(),
		Interaction:   interaction.DefaultOptions(),
		HistoryLimit:  store.DefaultHistoryLimit,
		IndexCellSize: spatial.DefaultCellSize,
		Grid:          grid.DefaultSettings(),
	}
}

// OptionsFromConfig maps the CANVAS_* settings onto engine options.
func OptionsFromConfig(cfg config.Engine) (Options, error) {
	opts := DefaultOptions()
	opts.Zoom = viewport.Bounds{Min: cfg.ZoomMin, Max: cfg.ZoomMax}
	opts.Interaction.ClickThreshold = cfg.ClickThreshold
	opts.Interaction.ShiftPan = cfg.ShiftPan
	opts.Interaction.SpacePan = cfg.SpacePan
	opts.HistoryLimit = cfg.HistoryLimit
	opts.IndexCellSize = cfg.IndexCellSize

	gt, err := grid.ParseType(cfg.GridType)
	if err != nil {
		return Options{}, err
	}
	opts.Grid.Enabled = cfg.GridEnabled
	opts.Grid.Size = cfg.GridSize
	opts.Grid.Type = gt
	opts.Grid.MajorEvery = cfg.GridMajorEvery
	return opts, nil
}

// Engine is one canvas instance. Input handlers and Render are called from
// the host's UI loop; remote edits may land on the store from transport
// goroutines at any time.
type Engine struct {
	vp     *viewport.Viewport
	store  *store.Store
	ctrl   *interaction.Controller
	grid   *grid.Renderer
	opts   Options
	logger *slog.Logger

	// guards the retained scene, the index and peer presence
	mu    sync.Mutex
	scene *Scene
	index *spatial.Index
	peers map[string]*collab.PresencePayload

	dpr float64

	sync        *collab.Coordinator
	cursor      *geometry.Point // world
	cursorDirty atomic.Bool
}

// NewEngine creates an empty canvas.
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.IndexCellSize <= 0 {
		opts.IndexCellSize = spatial.DefaultCellSize
	}

	e := &Engine{
		vp: viewport.New(opts.Zoom),
		store: store.New(store.Options{
			HistoryLimit: opts.HistoryLimit,
			Logger:       opts.Logger,
			Now:          opts.Now,
		}),
		grid:   grid.NewRenderer(opts.Grid, opts.Logger),
		opts:   opts,
		logger: opts.Logger,
		peers:  make(map[string]*collab.PresencePayload),
		dpr:    1,
	}
	e.ctrl = interaction.New(e.vp, e.store, e, interaction.NewFrameThrottle(nil), opts.Interaction)
	e.store.SubscribeSelection(func(store.Selection) { e.cursorDirty.Store(true) })
	return e
}

// --- Accessors ---

// Store exposes the element store for editing commands (align, group, ...).
func (e *Engine) Store() *store.Store { return e.store }

// Viewport exposes the camera.
func (e *Engine) Viewport() *viewport.Viewport { return e.vp }

// Controller exposes the gesture state machine.
func (e *Engine) Controller() *interaction.Controller { return e.ctrl }

// Sync returns the attached coordinator, or nil.
func (e *Engine) Sync() *collab.Coordinator { return e.sync }

// --- Commands (frontend → engine) ---

// LoadBoard replaces the canvas contents with a persisted board. The camera
// is kept.
func (e *Engine) LoadBoard(data []byte) error {
	b, err := document.ParseBoard(data)
	if err != nil {
		return err
	}
	e.ctrl.Cancel()
	e.store.Initialize(b.Elements)
	return nil
}

// LoadSampleBoard loads the built-in sample board.
func (e *Engine) LoadSampleBoard() {
	e.ctrl.Cancel()
	e.store.Initialize(document.NewSampleBoard().Elements)
}

// Board serializes the current elements.
func (e *Engine) Board() ([]byte, error) {
	return document.MarshalBoard(&document.Board{Elements: e.store.Elements()})
}

// SetContainer records the canvas size in CSS pixels and the device pixel
// ratio.
func (e *Engine) SetContainer(width, height, dpr float64) {
	if dpr <= 0 {
		dpr = 1
	}
	e.dpr = dpr
	e.vp.SetContainer(geometry.Size{Width: width, Height: height})
}

// SetTool switches the toolbar mode.
func (e *Engine) SetTool(name string) error {
	t, ok := interaction.ParseTool(name)
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	e.ctrl.SetTool(t)
	return nil
}

// SetGridSettings replaces the grid settings.
func (e *Engine) SetGridSettings(s grid.Settings) {
	e.grid.SetSettings(s)
}

func (e *Engine) PointerDown(ev interaction.PointerEvent) bool {
	e.trackCursor(ev.Screen)
	return e.ctrl.PointerDown(ev)
}

func (e *Engine) PointerMove(ev interaction.PointerEvent) bool {
	e.trackCursor(ev.Screen)
	return e.ctrl.PointerMove(ev)
}

func (e *Engine) PointerUp(ev interaction.PointerEvent) bool {
	e.trackCursor(ev.Screen)
	return e.ctrl.PointerUp(ev)
}

func (e *Engine) PointerCancel(ev interaction.PointerEvent) bool {
	return e.ctrl.PointerCancel(ev)
}

// PointerLeave hides the local cursor from peers.
func (e *Engine) PointerLeave() {
	e.cursor = nil
	e.cursorDirty.Store(true)
}

func (e *Engine) Wheel(ev interaction.WheelEvent) bool { return e.ctrl.Wheel(ev) }

// KeyDown handles the editing shortcuts the controller does not consume.
func (e *Engine) KeyDown(key string, mods interaction.Modifiers) bool {
	if e.ctrl.KeyDown(key) {
		return true
	}
	ids := e.store.Selection().IDs
	cmd := mods.Ctrl || mods.Meta
	switch k := strings.ToLower(key); {
	case cmd && k == "z" && mods.Shift, cmd && k == "y":
		return e.store.Redo()
	case cmd && k == "z":
		return e.store.Undo()
	case cmd && k == "a":
		e.store.SelectAll()
		return true
	case cmd && k == "g" && mods.Shift:
		return len(e.store.Ungroup(ids)) > 0
	case cmd && k == "g":
		return e.store.Group(ids) != ""
	case cmd && k == "d":
		dup := e.store.Duplicate(ids, geometry.Point{X: 20, Y: 20})
		if len(dup) == 0 {
			return false
		}
		e.store.Select(dup, false)
		return true
	case k == "delete" || k == "backspace":
		return len(e.store.Delete(ids)) > 0
	case k == "escape":
		e.store.ClearSelection()
		return true
	}
	return false
}

func (e *Engine) KeyUp(key string) bool { return e.ctrl.KeyUp(key) }

// ZoomIn steps the zoom about the container center.
func (e *Engine) ZoomIn() { e.vp.ZoomStep(1, e.center()) }

// ZoomOut steps the zoom about the container center.
func (e *Engine) ZoomOut() { e.vp.ZoomStep(-1, e.center()) }

// ZoomTo jumps to zoom about the container center.
func (e *Engine) ZoomTo(zoom float64) { e.vp.ZoomAt(zoom, e.center()) }

// ZoomToFit frames every element, or the selection when there is one.
func (e *Engine) ZoomToFit(padding float64) bool {
	elements := e.store.Elements()
	sel := e.store.Selection().IDs
	var r geometry.Rect
	first := true
	for i := range elements {
		if !elements[i].Visible || (len(sel) > 0 && !slices.Contains(sel, elements[i].ID)) {
			continue
		}
		if first {
			r = elements[i].AABB()
			first = false
		} else {
			r = r.Union(elements[i].AABB())
		}
	}
	if first {
		return false
	}
	e.vp.Fit(r, padding)
	return true
}

// ResetView returns to zoom 1 with no pan.
func (e *Engine) ResetView() { e.vp.Reset() }

func (e *Engine) center() geometry.Point {
	c := e.vp.Container()
	return geometry.Point{X: c.Width / 2, Y: c.Height / 2}
}

// Tick runs the coalesced pointer work for this frame, publishes presence
// and returns the frame's draw commands.
func (e *Engine) Tick(ctx context.Context) string {
	e.ctrl.Throttle().Flush()
	e.publishPresence(ctx)
	return e.Render()
}

// --- Queries (frontend ← engine) ---

// Render returns the element and overlay draw commands as JSON.
func (e *Engine) Render() string {
	sc := e.Scene()
	cam := e.vp.Camera()

	commands := CompileDrawCommands(sc, cam)
	commands = append(commands, CompileOverlay(sc, cam, e.overlay())...)

	result, err := DrawCommandsToJSON(commands)
	if err != nil {
		e.logger.Error("encode draw commands", "error", err)
	}
	return result
}

// Scene returns the retained scene, rebuilding it if the elements changed.
func (e *Engine) Scene() *Scene {
	elements, rev := e.store.Snapshot()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scene == nil || e.scene.Revision != rev {
		e.scene = BuildScene(elements, rev)
	}
	return e.scene
}

func (e *Engine) overlay() Overlay {
	o := Overlay{Selection: e.store.Selection().IDs}
	if r, ok := e.ctrl.Marquee(); ok {
		o.Marquee = &r
	}
	e.mu.Lock()
	for _, id := range slices.Sorted(maps.Keys(e.peers)) {
		p := e.peers[id]
		if p.Cursor == nil {
			continue
		}
		o.Cursors = append(o.Cursors, RemoteCursor{
			UserID:      id,
			DisplayName: p.DisplayName,
			Position:    geometry.Point{X: p.Cursor.X, Y: p.Cursor.Y},
		})
	}
	e.mu.Unlock()
	return o
}

// Grid rasterizes the background for the current camera. The bool is false
// when the cached image is still valid.
func (e *Engine) Grid() (*image.RGBA, bool) {
	return e.grid.Render(e.vp.Camera(), e.vp.Container(), e.dpr)
}

// HitTestScreen returns the topmost element under a screen point.
func (e *Engine) HitTestScreen(x, y float64) string {
	return e.HitTest(viewport.ScreenToWorld(geometry.Point{X: x, Y: y}, e.vp.Camera()))
}

// HitTest returns the topmost element containing the world point.
func (e *Engine) HitTest(p geometry.Point) string {
	return e.spatialIndex().HitTest(p)
}

// ElementsInRect returns the ids of elements intersecting a world rect.
func (e *Engine) ElementsInRect(r geometry.Rect) []string {
	return e.spatialIndex().ElementsInRect(r)
}

// spatialIndex returns an index matching the store's current revision.
func (e *Engine) spatialIndex() *spatial.Index {
	elements, rev := e.store.Snapshot()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index == nil || e.index.Revision() != rev {
		e.index = spatial.NewIndex(elements, e.opts.IndexCellSize, rev)
	}
	return e.index
}

// SelectionBounds returns the world AABB of the selection.
func (e *Engine) SelectionBounds() (geometry.Rect, bool) {
	sc := e.Scene()
	var r geometry.Rect
	found := false
	for _, id := range e.store.Selection().IDs {
		node, ok := sc.Node(id)
		if !ok {
			continue
		}
		if !found {
			r = node.Bounds
			found = true
		} else {
			r = r.Union(node.Bounds)
		}
	}
	return r, found
}

// State returns the camera, selection, history and sync status as JSON.
func (e *Engine) State() string {
	sel := e.store.Selection()
	state := map[string]any{
		"camera":      e.vp.Camera(),
		"selection":   sel.IDs,
		"primary":     sel.Primary,
		"canUndo":     e.store.CanUndo(),
		"canRedo":     e.store.CanRedo(),
		"interaction": e.ctrl.State(),
		"tool":        e.ctrl.Tool(),
		"elements":    e.store.Len(),
	}
	if e.sync != nil {
		state["sync"] = map[string]any{
			"state":     e.sync.State(),
			"pending":   len(e.sync.Outbox()),
			"conflicts": len(e.sync.Conflicts()),
			"serverSeq": e.sync.ServerSeq(),
		}
	}
	data, _ := json.Marshal(state)
	return string(data)
}

// --- Collaboration ---

// AttachSync wires a coordinator built over this engine's store and starts
// tracking peer presence from it.
func (e *Engine) AttachSync(c *collab.Coordinator) {
	e.sync = c
	c.OnPresence(e.handlePresence)
	c.OnStateChange(func(s collab.ConnState) {
		switch s {
		case collab.StateDisconnected:
			e.mu.Lock()
			clear(e.peers)
			e.mu.Unlock()
		case collab.StateConnected:
			e.cursorDirty.Store(true)
		}
	})
}

// Peers returns the other participants' presence keyed by user id.
func (e *Engine) Peers() map[string]collab.PresencePayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]collab.PresencePayload, len(e.peers))
	for id, p := range e.peers {
		out[id] = *p
	}
	return out
}

func (e *Engine) handlePresence(msg collab.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch msg.Type {
	case collab.TypePresenceState:
		var p collab.PresenceStatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			e.logger.Warn("invalid presence state", "error", err)
			return
		}
		clear(e.peers)
		for id, pres := range p.Presences {
			if id != e.sync.UserID() && pres != nil {
				e.peers[id] = pres
			}
		}
	case collab.TypePresenceJoin:
		var p collab.PresenceJoinPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.UserID == e.sync.UserID() {
			return
		}
		if _, ok := e.peers[p.UserID]; !ok {
			e.peers[p.UserID] = &collab.PresencePayload{DisplayName: p.DisplayName}
		}
	case collab.TypePresenceLeave:
		var p collab.PresenceLeavePayload
		if err := json.Unmarshal(msg.Payload, &p); err == nil {
			delete(e.peers, p.UserID)
		}
	case collab.TypePresenceUpdate:
		if msg.UserID == "" || msg.UserID == e.sync.UserID() {
			return
		}
		var p collab.PresencePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			e.logger.Warn("invalid presence update", "error", err, "user", msg.UserID)
			return
		}
		e.peers[msg.UserID] = &p
	}
}

func (e *Engine) trackCursor(screen geometry.Point) {
	w := viewport.ScreenToWorld(screen, e.vp.Camera())
	e.cursor = &w
	e.cursorDirty.Store(true)
}

// publishPresence sends at most one presence update per frame.
func (e *Engine) publishPresence(ctx context.Context) {
	if e.sync == nil || e.sync.State() != collab.StateConnected || !e.cursorDirty.Swap(false) {
		return
	}
	if err := e.sync.UpdatePresence(ctx, e.cursor, e.store.Selection().IDs); err != nil {
		e.logger.Debug("publish presence", "error", err)
		e.cursorDirty.Store(true)
	}
}
