package engine

import "github.com/inamate/planboard/internal/geometry"

// Scene is the render-ready state of the board at one store revision. It is
// retained between frames and rebuilt only when the elements change.
type Scene struct {
	Nodes     []*SceneNode // painter's order, back to front
	NodesByID map[string]*SceneNode
	Revision  uint64
}

// SceneNode is one element resolved for drawing. Paths are in the element's
// local space, where (0,0) is its top-left corner before rotation.
type SceneNode struct {
	ID   string
	Type string // "shape", "text", "sticky", "image", "frame", "arrow", "group"

	// local -> world
	WorldTransform geometry.Matrix2D

	Opacity float64
	Locked  bool

	Path        []PathCommand
	Fill        string
	Stroke      string
	StrokeWidth float64
	Text        string

	ImageAssetID string
	ImageWidth   float64
	ImageHeight  float64

	// Outline is the rotated world-space boundary used for selection chrome.
	Outline geometry.Quad
	// Bounds is the axis-aligned box around Outline.
	Bounds geometry.Rect
}

// PathCommand represents a single path segment for rendering.
// Format matches Canvas2D: ["M", x, y], ["L", x, y], ["C", x1, y1, x2, y2, x, y], etc.
type PathCommand []any

// NewScene creates an empty scene.
func NewScene() *Scene {
	return &Scene{NodesByID: make(map[string]*SceneNode)}
}

// Node returns the node for an element id.
func (s *Scene) Node(id string) (*SceneNode, bool) {
	n, ok := s.NodesByID[id]
	return n, ok
}
