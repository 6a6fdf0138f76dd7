// Package viewport holds the camera transform that maps world coordinates to
// screen coordinates.
//
// The mapping is screen = (world + pan) * zoom, so pan is expressed in world
// units and a screen-space drag moves pan by delta/zoom.
package viewport

import (
	"math"

	"github.com/inamate/planboard/internal/geometry"
)

const (
	DefaultZoomMin = 0.1
	DefaultZoomMax = 10.0

	// ZoomStepFactor is applied per discrete zoom-in/zoom-out step.
	ZoomStepFactor = 1.1
)

// Presets are the zoom levels offered by the zoom menu.
var Presets = []float64{0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 4, 10}

// Camera is the pan/zoom state of a canvas.
type Camera struct {
	Pan  geometry.Point `json:"pan"`
	Zoom float64        `json:"zoom"`
}

// Bounds is the permitted zoom range.
type Bounds struct {
	Min float64
	Max float64
}

// DefaultBounds returns the package-wide zoom range.
func DefaultBounds() Bounds {
	return Bounds{Min: DefaultZoomMin, Max: DefaultZoomMax}
}

// Clamp silently clamps zoom into the range. Non-positive or NaN values map
// to the minimum.
func (b Bounds) Clamp(zoom float64) float64 {
	if math.IsNaN(zoom) || zoom < b.Min {
		return b.Min
	}
	if zoom > b.Max {
		return b.Max
	}
	return zoom
}

// ScreenToWorld converts a screen point to world space.
func ScreenToWorld(p geometry.Point, cam Camera) geometry.Point {
	return geometry.Point{X: p.X/cam.Zoom - cam.Pan.X, Y: p.Y/cam.Zoom - cam.Pan.Y}
}

// WorldToScreen converts a world point to screen space.
func WorldToScreen(p geometry.Point, cam Camera) geometry.Point {
	return geometry.Point{X: (p.X + cam.Pan.X) * cam.Zoom, Y: (p.Y + cam.Pan.Y) * cam.Zoom}
}

// Matrix returns the world-to-screen transform.
func (c Camera) Matrix() geometry.Matrix2D {
	return geometry.Scale(c.Zoom, c.Zoom).Multiply(geometry.Translate(c.Pan.X, c.Pan.Y))
}

// ZoomAtPoint returns the camera at nextZoom with the world point under pivot
// (a screen point) kept at the same screen position.
func ZoomAtPoint(cam Camera, nextZoom float64, pivot geometry.Point, bounds Bounds) Camera {
	anchor := ScreenToWorld(pivot, cam)
	z := bounds.Clamp(nextZoom)
	return Camera{
		Pan:  geometry.Point{X: pivot.X/z - anchor.X, Y: pivot.Y/z - anchor.Y},
		Zoom: z,
	}
}

// PanBy moves the camera by a screen-space delta. Perceived drag speed does
// not depend on zoom.
func PanBy(cam Camera, screenDelta geometry.Point) Camera {
	cam.Pan.X += screenDelta.X / cam.Zoom
	cam.Pan.Y += screenDelta.Y / cam.Zoom
	return cam
}

// ZoomStep zooms in (steps > 0) or out (steps < 0) by ZoomStepFactor per step
// about the pivot.
func ZoomStep(cam Camera, steps float64, pivot geometry.Point, bounds Bounds) Camera {
	return ZoomAtPoint(cam, cam.Zoom*math.Pow(ZoomStepFactor, steps), pivot, bounds)
}

// NextPreset returns the first preset strictly above (up) or below (!up) the
// current zoom, or the current zoom when there is none.
func NextPreset(zoom float64, up bool) float64 {
	const eps = 1e-6
	if up {
		for _, p := range Presets {
			if p > zoom+eps {
				return p
			}
		}
		return zoom
	}
	for i := len(Presets) - 1; i >= 0; i-- {
		if Presets[i] < zoom-eps {
			return Presets[i]
		}
	}
	return zoom
}

// VisibleWorldRect returns the world rect covered by a container of the given
// screen size.
func VisibleWorldRect(cam Camera, container geometry.Size) geometry.Rect {
	tl := ScreenToWorld(geometry.Point{}, cam)
	return geometry.Rect{X: tl.X, Y: tl.Y, Width: container.Width / cam.Zoom, Height: container.Height / cam.Zoom}
}

// FitRect returns a camera that shows the whole world rect centred in the
// container, leaving padding screen pixels on each side.
func FitRect(r geometry.Rect, container geometry.Size, padding float64, bounds Bounds) Camera {
	availW := math.Max(container.Width-2*padding, 1)
	availH := math.Max(container.Height-2*padding, 1)
	zoom := 1.0
	if r.Width > 0 && r.Height > 0 {
		zoom = math.Min(availW/r.Width, availH/r.Height)
	}
	zoom = bounds.Clamp(zoom)
	c := r.Center()
	return Camera{
		Pan:  geometry.Point{X: container.Width/(2*zoom) - c.X, Y: container.Height/(2*zoom) - c.Y},
		Zoom: zoom,
	}
}
