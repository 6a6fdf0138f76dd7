//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"syscall/js"

	"github.com/coder/websocket"

	"github.com/inamate/planboard/internal/collab"
	"github.com/inamate/planboard/internal/config"
	"github.com/inamate/planboard/internal/engine"
	"github.com/inamate/planboard/internal/geometry"
	"github.com/inamate/planboard/internal/grid"
	"github.com/inamate/planboard/internal/interaction"
	"github.com/inamate/planboard/internal/store"
)

var (
	eng    *engine.Engine
	cfg    *config.Engine
	cancel context.CancelFunc
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn})))

	var err error
	cfg, err = config.LoadEngine()
	if err != nil {
		slog.Error("load engine config", "error", err)
		return
	}
	opts, err := engine.OptionsFromConfig(*cfg)
	if err != nil {
		slog.Error("engine options", "error", err)
		return
	}
	eng = engine.NewEngine(opts)

	// Create the engine API object
	api := js.Global().Get("Object").New()

	// --- Commands (frontend → engine) ---
	api.Set("loadBoard", js.FuncOf(loadBoard))
	api.Set("loadSampleBoard", js.FuncOf(loadSampleBoard))
	api.Set("setContainer", js.FuncOf(setContainer))
	api.Set("setTool", js.FuncOf(setTool))
	api.Set("setGrid", js.FuncOf(setGrid))
	api.Set("pointerDown", js.FuncOf(pointer(eng.PointerDown)))
	api.Set("pointerMove", js.FuncOf(pointer(eng.PointerMove)))
	api.Set("pointerUp", js.FuncOf(pointer(eng.PointerUp)))
	api.Set("pointerCancel", js.FuncOf(pointer(eng.PointerCancel)))
	api.Set("pointerLeave", js.FuncOf(pointerLeave))
	api.Set("wheel", js.FuncOf(wheel))
	api.Set("keyDown", js.FuncOf(keyDown))
	api.Set("keyUp", js.FuncOf(keyUp))
	api.Set("zoomIn", js.FuncOf(func(js.Value, []js.Value) any { eng.ZoomIn(); return nil }))
	api.Set("zoomOut", js.FuncOf(func(js.Value, []js.Value) any { eng.ZoomOut(); return nil }))
	api.Set("zoomTo", js.FuncOf(zoomTo))
	api.Set("zoomToFit", js.FuncOf(zoomToFit))
	api.Set("resetView", js.FuncOf(func(js.Value, []js.Value) any { eng.ResetView(); return nil }))
	api.Set("setSelection", js.FuncOf(setSelection))
	api.Set("undo", js.FuncOf(func(js.Value, []js.Value) any { return js.ValueOf(eng.Store().Undo()) }))
	api.Set("redo", js.FuncOf(func(js.Value, []js.Value) any { return js.ValueOf(eng.Store().Redo()) }))
	api.Set("align", js.FuncOf(align))
	api.Set("distribute", js.FuncOf(distribute))
	api.Set("group", js.FuncOf(group))
	api.Set("ungroup", js.FuncOf(ungroup))
	api.Set("bringToFront", js.FuncOf(selected(eng.Store().BringToFront)))
	api.Set("sendToBack", js.FuncOf(selected(eng.Store().SendToBack)))
	api.Set("lock", js.FuncOf(selected(eng.Store().Lock)))
	api.Set("unlock", js.FuncOf(selected(eng.Store().Unlock)))
	api.Set("deleteSelection", js.FuncOf(deleteSelection))
	api.Set("tick", js.FuncOf(tick))

	// --- Collaboration ---
	api.Set("connect", js.FuncOf(connect))
	api.Set("disconnect", js.FuncOf(disconnect))
	api.Set("resolveConflicts", js.FuncOf(resolveConflicts))

	// --- Queries (frontend ← engine) ---
	api.Set("render", js.FuncOf(func(js.Value, []js.Value) any { return js.ValueOf(eng.Render()) }))
	api.Set("renderGrid", js.FuncOf(renderGrid))
	api.Set("hitTest", js.FuncOf(hitTest))
	api.Set("getSelectionBounds", js.FuncOf(getSelectionBounds))
	api.Set("getState", js.FuncOf(func(js.Value, []js.Value) any { return js.ValueOf(eng.State()) }))
	api.Set("getBoard", js.FuncOf(getBoard))

	// Register on global scope
	js.Global().Set("planboardEngine", api)

	// Signal that WASM is ready
	js.Global().Set("planboardWasmReady", js.ValueOf(true))

	// Keep Go runtime alive
	select {}
}

func errorResult(err error) any {
	return js.ValueOf(map[string]any{"error": err.Error()})
}

func okResult() any {
	return js.ValueOf(map[string]any{"ok": true})
}

func stringArray(v js.Value) []string {
	if v.Type() != js.TypeObject {
		return nil
	}
	out := make([]string, v.Length())
	for i := range out {
		out[i] = v.Index(i).String()
	}
	return out
}

func modifiers(v js.Value) interaction.Modifiers {
	if v.Type() != js.TypeObject {
		return interaction.Modifiers{}
	}
	return interaction.Modifiers{
		Shift: v.Get("shiftKey").Truthy(),
		Ctrl:  v.Get("ctrlKey").Truthy(),
		Meta:  v.Get("metaKey").Truthy(),
		Alt:   v.Get("altKey").Truthy(),
	}
}

// --- Command Handlers ---

func loadBoard(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return errorResult(fmt.Errorf("missing board JSON"))
	}
	if err := eng.LoadBoard([]byte(args[0].String())); err != nil {
		return errorResult(err)
	}
	return okResult()
}

func loadSampleBoard(this js.Value, args []js.Value) any {
	eng.LoadSampleBoard()
	return okResult()
}

func setContainer(this js.Value, args []js.Value) any {
	if len(args) < 2 {
		return nil
	}
	dpr := 1.0
	if len(args) > 2 {
		dpr = args[2].Float()
	}
	eng.SetContainer(args[0].Float(), args[1].Float(), dpr)
	return nil
}

func setTool(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return nil
	}
	if err := eng.SetTool(args[0].String()); err != nil {
		return errorResult(err)
	}
	return okResult()
}

// setGrid takes {enabled, size, type, majorEvery}.
func setGrid(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return nil
	}
	var in struct {
		Enabled    bool    `json:"enabled"`
		Size       float64 `json:"size"`
		Type       string  `json:"type"`
		MajorEvery int     `json:"majorEvery"`
	}
	if err := json.Unmarshal([]byte(args[0].String()), &in); err != nil {
		return errorResult(err)
	}
	t, err := grid.ParseType(in.Type)
	if err != nil {
		return errorResult(err)
	}
	s := grid.DefaultSettings()
	s.Enabled = in.Enabled
	s.Size = in.Size
	s.Type = t
	s.MajorEvery = in.MajorEvery
	eng.SetGridSettings(s)
	return okResult()
}

// pointer adapts a PointerEvent from the DOM: (pointerId, button, x, y, mods).
func pointer(fn func(interaction.PointerEvent) bool) func(js.Value, []js.Value) any {
	return func(this js.Value, args []js.Value) any {
		if len(args) < 4 {
			return js.ValueOf(false)
		}
		ev := interaction.PointerEvent{
			PointerID: args[0].Int(),
			Button:    interaction.Button(args[1].Int()),
			Screen:    geometry.Point{X: args[2].Float(), Y: args[3].Float()},
		}
		if len(args) > 4 {
			ev.Mods = modifiers(args[4])
		}
		return js.ValueOf(fn(ev))
	}
}

func pointerLeave(this js.Value, args []js.Value) any {
	eng.PointerLeave()
	return nil
}

// wheel takes (x, y, deltaY, mods).
func wheel(this js.Value, args []js.Value) any {
	if len(args) < 3 {
		return js.ValueOf(false)
	}
	ev := interaction.WheelEvent{
		Screen: geometry.Point{X: args[0].Float(), Y: args[1].Float()},
		DeltaY: args[2].Float(),
	}
	if len(args) > 3 {
		ev.Mods = modifiers(args[3])
	}
	return js.ValueOf(eng.Wheel(ev))
}

func keyDown(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return js.ValueOf(false)
	}
	var mods interaction.Modifiers
	if len(args) > 1 {
		mods = modifiers(args[1])
	}
	return js.ValueOf(eng.KeyDown(args[0].String(), mods))
}

func keyUp(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return js.ValueOf(false)
	}
	return js.ValueOf(eng.KeyUp(args[0].String()))
}

func zoomTo(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return nil
	}
	eng.ZoomTo(args[0].Float())
	return nil
}

func zoomToFit(this js.Value, args []js.Value) any {
	padding := 40.0
	if len(args) > 0 {
		padding = args[0].Float()
	}
	return js.ValueOf(eng.ZoomToFit(padding))
}

func setSelection(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		eng.Store().ClearSelection()
		return nil
	}
	ids := stringArray(args[0])
	if len(ids) == 0 {
		eng.Store().ClearSelection()
		return nil
	}
	eng.Store().Select(ids, false)
	return nil
}

func align(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return js.ValueOf(false)
	}
	return js.ValueOf(eng.Store().Align(eng.Store().Selection().IDs, store.Edge(args[0].String())))
}

func distribute(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return js.ValueOf(false)
	}
	return js.ValueOf(eng.Store().Distribute(eng.Store().Selection().IDs, store.Axis(args[0].String())))
}

func group(this js.Value, args []js.Value) any {
	return js.ValueOf(eng.Store().Group(eng.Store().Selection().IDs))
}

func ungroup(this js.Value, args []js.Value) any {
	freed := eng.Store().Ungroup(eng.Store().Selection().IDs)
	data, _ := json.Marshal(freed)
	return js.ValueOf(string(data))
}

func selected(fn func([]string) bool) func(js.Value, []js.Value) any {
	return func(this js.Value, args []js.Value) any {
		return js.ValueOf(fn(eng.Store().Selection().IDs))
	}
}

func deleteSelection(this js.Value, args []js.Value) any {
	return js.ValueOf(len(eng.Store().Delete(eng.Store().Selection().IDs)) > 0)
}

func tick(this js.Value, args []js.Value) any {
	return js.ValueOf(eng.Tick(context.Background()))
}

// --- Collaboration Handlers ---

// connect takes (url, boardId, userId). The url carries the auth token.
func connect(this js.Value, args []js.Value) any {
	if len(args) < 2 {
		return errorResult(fmt.Errorf("missing url or board id"))
	}
	if eng.Sync() != nil {
		return errorResult(fmt.Errorf("already connected"))
	}
	opts := collab.Options{
		BoardID:         args[1].String(),
		ConflictWindow:  cfg.ConflictWindow,
		WatchdogTimeout: cfg.WatchdogTimeout,
	}
	if len(args) > 2 {
		opts.UserID = args[2].String()
	}

	transport := collab.NewWSTransport(args[0].String(), &websocket.DialOptions{}, slog.Default())
	c := collab.New(eng.Store(), transport, opts)
	eng.AttachSync(c)

	policy, err := collab.ParseStrategy(cfg.ConflictPolicy)
	if err != nil {
		return errorResult(err)
	}
	c.OnConflict(func(cf collab.Conflict) {
		if policy != collab.UserChoice {
			c.Resolve(cf.Operation.ID, policy)
		}
	})

	var ctx context.Context
	ctx, cancel = context.WithCancel(context.Background())
	go func() {
		if err := c.Connect(ctx); err != nil {
			slog.Warn("connect", "error", err)
		}
		c.RunWatchdog(ctx)
	}()
	return okResult()
}

func disconnect(this js.Value, args []js.Value) any {
	if cancel != nil {
		cancel()
	}
	if c := eng.Sync(); c != nil {
		if err := c.Close(); err != nil {
			return errorResult(err)
		}
	}
	return okResult()
}

// resolveConflicts settles every listed conflict with the given strategy.
func resolveConflicts(this js.Value, args []js.Value) any {
	c := eng.Sync()
	if c == nil || len(args) < 1 {
		return js.ValueOf(0)
	}
	s, err := collab.ParseStrategy(args[0].String())
	if err != nil {
		return errorResult(err)
	}
	return js.ValueOf(c.ResolveAll(s))
}

// --- Query Handlers ---

// renderGrid copies the grid raster into a Uint8ClampedArray for ImageData,
// or returns null when the previous raster is still current.
func renderGrid(this js.Value, args []js.Value) any {
	img, fresh := eng.Grid()
	if img == nil || !fresh {
		return js.Null()
	}
	buf := js.Global().Get("Uint8ClampedArray").New(len(img.Pix))
	js.CopyBytesToJS(buf, img.Pix)
	return js.ValueOf(map[string]any{
		"width":  img.Rect.Dx(),
		"height": img.Rect.Dy(),
		"data":   buf,
	})
}

func hitTest(this js.Value, args []js.Value) any {
	if len(args) < 2 {
		return js.ValueOf("")
	}
	return js.ValueOf(eng.HitTestScreen(args[0].Float(), args[1].Float()))
}

func getSelectionBounds(this js.Value, args []js.Value) any {
	r, ok := eng.SelectionBounds()
	if !ok {
		return js.Null()
	}
	return js.ValueOf(engine.RectToJSON(r))
}

func getBoard(this js.Value, args []js.Value) any {
	data, err := eng.Board()
	if err != nil {
		return errorResult(err)
	}
	return js.ValueOf(string(data))
}
