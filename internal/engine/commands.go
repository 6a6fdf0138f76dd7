package engine

import (
	"encoding/json"

	"github.com/inamate/planboard/internal/geometry"
	"github.com/inamate/planboard/internal/viewport"
)

// DrawCommand represents a single drawing operation for the frontend to execute.
// The frontend receives a list of these and executes them on a Canvas2D context.
type DrawCommand struct {
	Op           string        `json:"op"`                     // "path", "text", "image", "outline", "marquee", "cursor"
	ObjectID     string        `json:"objectId,omitempty"`     // For hit correlation
	Transform    []float64     `json:"transform,omitempty"`    // [a, b, c, d, e, f] local -> screen
	Path         []PathCommand `json:"path,omitempty"`         // Path data for "path" ops
	Fill         string        `json:"fill,omitempty"`         // Fill color
	Stroke       string        `json:"stroke,omitempty"`       // Stroke color
	StrokeWidth  float64       `json:"strokeWidth,omitempty"`  // Stroke width
	Opacity      float64       `json:"opacity,omitempty"`      // Global alpha
	Text         string        `json:"text,omitempty"`         // Label for "text" ops
	ImageAssetID string        `json:"imageAssetId,omitempty"` // Asset ID for image lookup
	ImageWidth   float64       `json:"imageWidth,omitempty"`   // Image natural width
	ImageHeight  float64       `json:"imageHeight,omitempty"`  // Image natural height
	Label        string        `json:"label,omitempty"`        // Display name on "cursor" ops
}

// RemoteCursor is another participant's pointer in world coordinates.
type RemoteCursor struct {
	UserID      string
	DisplayName string
	Position    geometry.Point
}

// Overlay is the interaction chrome drawn above the elements.
type Overlay struct {
	Selection []string
	Marquee   *geometry.Rect // screen space
	Cursors   []RemoteCursor
}

const (
	selectionColor = "#3b82f6"
	marqueeFill    = "rgba(59,130,246,0.08)"
	cursorColor    = "#ef4444"
)

// CompileDrawCommands generates a draw command buffer from a scene as seen
// through cam. Commands are in painter's order (back to front).
func CompileDrawCommands(sc *Scene, cam viewport.Camera) []DrawCommand {
	if sc == nil {
		return nil
	}

	view := cam.Matrix()
	commands := make([]DrawCommand, 0, len(sc.Nodes))
	for _, node := range sc.Nodes {
		compileNode(node, view, &commands)
	}
	return commands
}

// compileNode generates draw commands for one node.
func compileNode(node *SceneNode, view geometry.Matrix2D, commands *[]DrawCommand) {
	transform := view.Multiply(node.WorldTransform).ToSlice()

	if node.Type == "image" && node.ImageAssetID != "" {
		*commands = append(*commands, DrawCommand{
			Op:           "image",
			ObjectID:     node.ID,
			Transform:    transform,
			Opacity:      node.Opacity,
			ImageAssetID: node.ImageAssetID,
			ImageWidth:   node.ImageWidth,
			ImageHeight:  node.ImageHeight,
		})
		return
	}

	if len(node.Path) > 0 {
		*commands = append(*commands, DrawCommand{
			Op:          "path",
			ObjectID:    node.ID,
			Transform:   transform,
			Path:        node.Path,
			Opacity:     node.Opacity,
			Fill:        node.Fill,
			Stroke:      node.Stroke,
			StrokeWidth: node.StrokeWidth,
		})
	}
	if node.Text != "" {
		*commands = append(*commands, DrawCommand{
			Op:        "text",
			ObjectID:  node.ID,
			Transform: transform,
			Opacity:   node.Opacity,
			Fill:      textColor(node),
			Text:      node.Text,
		})
	}
}

func textColor(node *SceneNode) string {
	if node.Type == "text" {
		return node.Fill
	}
	return defaultStroke
}

// CompileOverlay generates the selection, marquee and remote cursor chrome.
// Everything is already in screen space.
func CompileOverlay(sc *Scene, cam viewport.Camera, o Overlay) []DrawCommand {
	var commands []DrawCommand

	if sc != nil {
		for _, id := range o.Selection {
			node, ok := sc.Node(id)
			if !ok {
				continue
			}
			commands = append(commands, DrawCommand{
				Op:          "outline",
				ObjectID:    id,
				Path:        quadPath(node.Outline, cam),
				Stroke:      selectionColor,
				StrokeWidth: 1,
			})
		}
	}

	if o.Marquee != nil {
		r := *o.Marquee
		commands = append(commands, DrawCommand{
			Op:          "marquee",
			Path:        generateRectPath(r.Width, r.Height),
			Transform:   geometry.Translate(r.X, r.Y).ToSlice(),
			Fill:        marqueeFill,
			Stroke:      selectionColor,
			StrokeWidth: 1,
		})
	}

	for _, c := range o.Cursors {
		at := viewport.WorldToScreen(c.Position, cam)
		commands = append(commands, DrawCommand{
			Op:        "cursor",
			ObjectID:  c.UserID,
			Transform: geometry.Translate(at.X, at.Y).ToSlice(),
			Fill:      cursorColor,
			Label:     c.DisplayName,
		})
	}
	return commands
}

func quadPath(q geometry.Quad, cam viewport.Camera) []PathCommand {
	path := make([]PathCommand, 0, 5)
	for i, p := range q {
		s := viewport.WorldToScreen(p, cam)
		op := "L"
		if i == 0 {
			op = "M"
		}
		path = append(path, PathCommand{op, s.X, s.Y})
	}
	return append(path, PathCommand{"Z"})
}

// DrawCommandsToJSON serializes draw commands to JSON.
func DrawCommandsToJSON(commands []DrawCommand) (string, error) {
	if commands == nil {
		return "[]", nil
	}
	data, err := json.Marshal(commands)
	if err != nil {
		return "[]", err
	}
	return string(data), nil
}

// RectToJSON serializes a Rect to JSON.
func RectToJSON(r geometry.Rect) string {
	data, _ := json.Marshal(r)
	return string(data)
}
