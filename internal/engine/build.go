package engine

import (
	"github.com/inamate/planboard/internal/document"
	"github.com/inamate/planboard/internal/geometry"
)

const (
	defaultStroke      = "#1f2937"
	defaultStickyFill  = "#fef08a"
	defaultFrameFill   = "#ffffff"
	defaultFrameStroke = "#cbd5e1"
)

// BuildScene resolves elements, already in z-order, into a scene. Hidden
// elements get no node. Groups get a node without a path so that selection
// chrome can still find their outline.
func BuildScene(elements []document.CanvasElement, revision uint64) *Scene {
	sc := NewScene()
	sc.Revision = revision
	sc.Nodes = make([]*SceneNode, 0, len(elements))

	for i := range elements {
		node := buildNode(&elements[i])
		if node == nil {
			continue
		}
		sc.Nodes = append(sc.Nodes, node)
		sc.NodesByID[node.ID] = node
	}
	return sc
}

// buildNode resolves one element into a SceneNode.
func buildNode(e *document.CanvasElement) *SceneNode {
	if !e.Visible {
		return nil
	}

	// Rotation is about the element center; local space starts at the
	// top-left corner.
	world := geometry.RotateAbout(e.Rotation, e.Center()).
		Multiply(geometry.Translate(e.Position.X, e.Position.Y))

	outline := e.Outline()
	node := &SceneNode{
		ID:             e.ID,
		Type:           string(e.Type),
		WorldTransform: world,
		Opacity:        styleFloat(e.Style, "opacity", 1),
		Locked:         e.Locked,
		Fill:           styleString(e.Style, "fill", ""),
		Stroke:         styleString(e.Style, "stroke", ""),
		StrokeWidth:    styleFloat(e.Style, "strokeWidth", 0),
		Outline:        outline,
		Bounds:         outline.Bounds(),
	}

	w, h := e.Size.Width, e.Size.Height
	switch e.Type {
	case document.ElementTypeGroup:
		// Containers draw nothing of their own.

	case document.ElementTypeShape, document.ElementTypeSmart, document.ElementTypeFile:
		if dataString(e.Data, "shape") == "ellipse" {
			node.Path = generateEllipsePath(w, h)
		} else {
			node.Path = generateRectPath(w, h)
		}
		if node.Stroke == "" && node.Fill == "" {
			node.Stroke = defaultStroke
			node.StrokeWidth = 1
		}

	case document.ElementTypeSticky:
		node.Path = generateRectPath(w, h)
		if node.Fill == "" {
			node.Fill = defaultStickyFill
		}
		node.Text = dataString(e.Data, "text")

	case document.ElementTypeText:
		node.Text = dataString(e.Data, "text")
		if node.Fill == "" {
			node.Fill = defaultStroke
		}

	case document.ElementTypeFrame:
		node.Path = generateRectPath(w, h)
		if node.Fill == "" {
			node.Fill = defaultFrameFill
		}
		if node.Stroke == "" {
			node.Stroke = defaultFrameStroke
			node.StrokeWidth = 1
		}
		node.Text = dataString(e.Data, "title")

	case document.ElementTypeArrow:
		node.Path = extractArrowPath(e.Data, w, h)
		if node.Stroke == "" {
			node.Stroke = defaultStroke
		}
		if node.StrokeWidth == 0 {
			node.StrokeWidth = 2
		}
		node.Fill = ""

	case document.ElementTypeImage:
		node.ImageAssetID = dataString(e.Data, "assetId")
		node.ImageWidth = w
		node.ImageHeight = h
	}

	return node
}

// generateRectPath generates path commands for a rectangle.
func generateRectPath(w, h float64) []PathCommand {
	return []PathCommand{
		{"M", 0.0, 0.0},
		{"L", w, 0.0},
		{"L", w, h},
		{"L", 0.0, h},
		{"Z"},
	}
}

// generateEllipsePath generates path commands for the ellipse inscribed in a
// w×h box using bezier curves.
func generateEllipsePath(w, h float64) []PathCommand {
	rx, ry := w/2, h/2
	cx, cy := rx, ry

	// Magic number for bezier approximation of a circle/ellipse
	// k = 4 * (sqrt(2) - 1) / 3 ≈ 0.5522847498
	k := 0.5522847498
	kx, ky := rx*k, ry*k

	return []PathCommand{
		{"M", cx + rx, cy},
		{"C", cx + rx, cy + ky, cx + kx, cy + ry, cx, cy + ry},
		{"C", cx - kx, cy + ry, cx - rx, cy + ky, cx - rx, cy},
		{"C", cx - rx, cy - ky, cx - kx, cy - ry, cx, cy - ry},
		{"C", cx + kx, cy - ry, cx + rx, cy - ky, cx + rx, cy},
		{"Z"},
	}
}

// extractArrowPath reads data.points ([[x, y], ...] in local space) into a
// polyline. Without points the arrow runs corner to corner.
func extractArrowPath(data map[string]any, w, h float64) []PathCommand {
	raw, _ := data["points"].([]any)
	var path []PathCommand
	for _, p := range raw {
		pair, ok := p.([]any)
		if !ok || len(pair) < 2 {
			continue
		}
		op := "L"
		if len(path) == 0 {
			op = "M"
		}
		path = append(path, PathCommand{op, toFloat64(pair[0]), toFloat64(pair[1])})
	}
	if len(path) >= 2 {
		return path
	}
	return []PathCommand{
		{"M", 0.0, 0.0},
		{"L", w, h},
	}
}

func styleString(style map[string]any, key, fallback string) string {
	if v, ok := style[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func styleFloat(style map[string]any, key string, fallback float64) float64 {
	if v, ok := style[key]; ok {
		switch v.(type) {
		case float64, int, int64:
			return toFloat64(v)
		}
	}
	return fallback
}

func dataString(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

// toFloat64 converts a JSON-decoded number to float64.
func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
