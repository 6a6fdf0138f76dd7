package interaction

import "github.com/inamate/planboard/internal/geometry"

// Button numbers follow the DOM MouseEvent.button convention.
type Button int

const (
	ButtonLeft   Button = 0
	ButtonMiddle Button = 1
	ButtonRight  Button = 2
)

// Modifiers is the keyboard modifier state at the time of an event.
type Modifiers struct {
	Shift bool
	Ctrl  bool
	Meta  bool
	Alt   bool
}

// Additive reports whether a selection gesture should extend the current
// selection.
func (m Modifiers) Additive() bool { return m.Ctrl || m.Meta }

// PointerEvent is a pointer down, move, up or cancel in screen coordinates.
type PointerEvent struct {
	PointerID int
	Button    Button
	Screen    geometry.Point
	Mods      Modifiers
}

// WheelEvent is a wheel or trackpad scroll in screen coordinates. DeltaY is
// in pixels; positive scrolls down.
type WheelEvent struct {
	Screen geometry.Point
	DeltaY float64
	Mods   Modifiers
}

// Tool is the toolbar mode that decides what the left button does.
type Tool string

const (
	// ToolSelect selects, marquee-selects and drags.
	ToolSelect Tool = "select"
	// ToolPan pans with the left button.
	ToolPan Tool = "pan"
	// ToolExternal leaves the left button to a creation tool outside the
	// controller. Middle-button and space panning still work.
	ToolExternal Tool = "external"
)

// ParseTool maps a toolbar value onto a Tool.
func ParseTool(s string) (Tool, bool) {
	switch t := Tool(s); t {
	case ToolSelect, ToolPan, ToolExternal:
		return t, true
	}
	return "", false
}

// State is the controller's gesture state.
type State string

const (
	StateIdle     State = "idle"
	StatePanning  State = "panning"
	StateMarquee  State = "marquee-selecting"
	StateDragging State = "dragging-selection"
)
