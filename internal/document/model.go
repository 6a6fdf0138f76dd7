package document

import (
	"encoding/json"
	"maps"

	"github.com/inamate/planboard/internal/geometry"
)

type ElementType string

const (
	ElementTypeShape  ElementType = "shape"
	ElementTypeText   ElementType = "text"
	ElementTypeSticky ElementType = "sticky"
	ElementTypeImage  ElementType = "image"
	ElementTypeFrame  ElementType = "frame"
	ElementTypeArrow  ElementType = "arrow"
	ElementTypeSmart  ElementType = "smart"
	ElementTypeGroup  ElementType = "group"
	ElementTypeFile   ElementType = "file"
)

// Valid reports whether t is one of the known element types.
func (t ElementType) Valid() bool {
	switch t {
	case ElementTypeShape, ElementTypeText, ElementTypeSticky, ElementTypeImage,
		ElementTypeFrame, ElementTypeArrow, ElementTypeSmart, ElementTypeGroup, ElementTypeFile:
		return true
	}
	return false
}

// Metadata carries group membership plus any extra keys the host attaches.
// Extra keys are flattened into the same JSON object.
type Metadata struct {
	GroupID  string
	ParentID string
	Extra    map[string]any
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+2)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.GroupID != "" {
		out["groupId"] = m.GroupID
	}
	if m.ParentID != "" {
		out["parentId"] = m.ParentID
	}
	return json.Marshal(out)
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Metadata{}
	if v, ok := raw["groupId"].(string); ok {
		m.GroupID = v
	}
	if v, ok := raw["parentId"].(string); ok {
		m.ParentID = v
	}
	delete(raw, "groupId")
	delete(raw, "parentId")
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

// CanvasElement is one item on the board. Its index in the board's element
// slice is its z-order.
type CanvasElement struct {
	ID       string         `json:"id"`
	Type     ElementType    `json:"type"`
	Position geometry.Point `json:"position"`
	Size     geometry.Size  `json:"size"`
	Rotation float64        `json:"rotation"`
	Visible  bool           `json:"visible"`
	Locked   bool           `json:"locked"`
	LayerID  string         `json:"layerId,omitempty"`
	Style    map[string]any `json:"style"`
	Metadata Metadata       `json:"metadata"`
	Data     map[string]any `json:"data,omitempty"`
}

// Bounds returns the unrotated world rect of the element.
func (e *CanvasElement) Bounds() geometry.Rect {
	return geometry.Rect{X: e.Position.X, Y: e.Position.Y, Width: e.Size.Width, Height: e.Size.Height}
}

// Outline returns the element bounds rotated about their center.
func (e *CanvasElement) Outline() geometry.Quad {
	return geometry.RotatedRect(e.Bounds(), e.Rotation)
}

// AABB returns the axis-aligned box around the rotated outline.
func (e *CanvasElement) AABB() geometry.Rect {
	if e.Rotation == 0 {
		return e.Bounds()
	}
	return e.Outline().Bounds()
}

// Center returns the center of the element bounds.
func (e *CanvasElement) Center() geometry.Point {
	return e.Bounds().Center()
}

// IsGroup reports whether the element is a synthetic group container.
func (e *CanvasElement) IsGroup() bool {
	return e.Type == ElementTypeGroup
}

// Clone returns a deep copy, including maps.
func (e CanvasElement) Clone() CanvasElement {
	e.Style = cloneMap(e.Style)
	e.Data = cloneMap(e.Data)
	e.Metadata.Extra = cloneMap(e.Metadata.Extra)
	return e
}

// CloneElements deep-copies a slice of elements.
func CloneElements(in []CanvasElement) []CanvasElement {
	if in == nil {
		return nil
	}
	out := make([]CanvasElement, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// cloneMap copies one level deep and recurses into nested maps and slices so
// that JSON-shaped values never alias.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := maps.Clone(m)
	for k, v := range out {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		c := make([]any, len(t))
		for i := range t {
			c[i] = cloneValue(t[i])
		}
		return c
	default:
		return v
	}
}
