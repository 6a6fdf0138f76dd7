package document

import (
	"github.com/inamate/planboard/internal/geometry"
	"github.com/inamate/planboard/internal/typeid"
)

// NewSampleBoard returns a small planning board: a frame holding two stickies,
// a grouped pair of shapes and a locked title.
func NewSampleBoard() *Board {
	layerID := typeid.NewLayerID()
	frameID := typeid.NewElementID()
	groupID := typeid.NewGroupID()

	shape := func(x, y, w, h float64, fill string) CanvasElement {
		return CanvasElement{
			ID:       typeid.NewElementID(),
			Type:     ElementTypeShape,
			Position: geometry.Point{X: x, Y: y},
			Size:     geometry.Size{Width: w, Height: h},
			Visible:  true,
			LayerID:  layerID,
			Style:    map[string]any{"fill": fill, "stroke": "#1f2937", "strokeWidth": 2.0},
			Data:     map[string]any{"shape": "rect"},
		}
	}
	sticky := func(x, y float64, text, color string) CanvasElement {
		return CanvasElement{
			ID:       typeid.NewElementID(),
			Type:     ElementTypeSticky,
			Position: geometry.Point{X: x, Y: y},
			Size:     geometry.Size{Width: 160, Height: 160},
			Visible:  true,
			LayerID:  layerID,
			Style:    map[string]any{"fill": color},
			Metadata: Metadata{ParentID: frameID},
			Data:     map[string]any{"text": text},
		}
	}

	left := shape(520, 120, 120, 80, "#60a5fa")
	right := shape(680, 140, 100, 100, "#f472b6")
	right.Rotation = 15
	for _, el := range []*CanvasElement{&left, &right} {
		el.Metadata.GroupID = groupID
		el.Metadata.ParentID = groupID
	}
	group := CanvasElement{
		ID:       groupID,
		Type:     ElementTypeGroup,
		Visible:  true,
		LayerID:  layerID,
		Style:    map[string]any{},
		Metadata: Metadata{},
	}
	bounds := left.AABB().Union(right.AABB())
	group.Position = geometry.Point{X: bounds.X, Y: bounds.Y}
	group.Size = geometry.Size{Width: bounds.Width, Height: bounds.Height}

	title := CanvasElement{
		ID:       typeid.NewElementID(),
		Type:     ElementTypeText,
		Position: geometry.Point{X: 40, Y: 20},
		Size:     geometry.Size{Width: 320, Height: 40},
		Visible:  true,
		Locked:   true,
		LayerID:  layerID,
		Style:    map[string]any{"fontSize": 28.0},
		Data:     map[string]any{"text": "Quarterly plan"},
	}

	return &Board{
		Version: CurrentVersion,
		Elements: []CanvasElement{
			{
				ID:       frameID,
				Type:     ElementTypeFrame,
				Position: geometry.Point{X: 40, Y: 80},
				Size:     geometry.Size{Width: 420, Height: 260},
				Visible:  true,
				LayerID:  layerID,
				Style:    map[string]any{"fill": "#f8fafc", "stroke": "#cbd5e1"},
				Data:     map[string]any{"title": "Ideas"},
			},
			sticky(60, 140, "Ship grid v2", "#fde68a"),
			sticky(260, 140, "Sync watchdog", "#bbf7d0"),
			left,
			right,
			group,
			title,
		},
	}
}
