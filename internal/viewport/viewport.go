package viewport

import (
	"sync"

	"github.com/inamate/planboard/internal/geometry"
)

// Viewport is the mutable camera owned by one canvas instance. Renderers and
// overlays read it; only the interaction layer and explicit UI commands
// write it.
type Viewport struct {
	mu        sync.RWMutex
	cam       Camera
	bounds    Bounds
	container geometry.Size
	revision  uint64
	listeners []func(Camera)
}

// New returns a viewport at zoom 1 with no pan.
func New(bounds Bounds) *Viewport {
	if bounds.Min <= 0 || bounds.Max < bounds.Min {
		bounds = DefaultBounds()
	}
	return &Viewport{
		cam:    Camera{Zoom: bounds.Clamp(1)},
		bounds: bounds,
	}
}

// Camera returns the current camera.
func (v *Viewport) Camera() Camera {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cam
}

// Bounds returns the zoom range.
func (v *Viewport) Bounds() Bounds {
	return v.bounds
}

// Revision increases on every camera change.
func (v *Viewport) Revision() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.revision
}

// Container returns the last container size reported by the host.
func (v *Viewport) Container() geometry.Size {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.container
}

// SetContainer records the host element size in screen pixels.
func (v *Viewport) SetContainer(s geometry.Size) {
	v.mu.Lock()
	v.container = s
	v.mu.Unlock()
}

// Subscribe registers fn to run after each camera change.
func (v *Viewport) Subscribe(fn func(Camera)) {
	v.mu.Lock()
	v.listeners = append(v.listeners, fn)
	v.mu.Unlock()
}

// Set replaces the camera, clamping zoom.
func (v *Viewport) Set(cam Camera) {
	cam.Zoom = v.bounds.Clamp(cam.Zoom)
	v.update(func(Camera) Camera { return cam })
}

// PanBy moves the camera by a screen delta.
func (v *Viewport) PanBy(screenDelta geometry.Point) {
	v.update(func(c Camera) Camera { return PanBy(c, screenDelta) })
}

// ZoomAt zooms to nextZoom keeping the world point under pivot fixed.
func (v *Viewport) ZoomAt(nextZoom float64, pivot geometry.Point) {
	v.update(func(c Camera) Camera { return ZoomAtPoint(c, nextZoom, pivot, v.bounds) })
}

// ZoomStep zooms by discrete steps about pivot.
func (v *Viewport) ZoomStep(steps float64, pivot geometry.Point) {
	v.update(func(c Camera) Camera { return ZoomStep(c, steps, pivot, v.bounds) })
}

// Fit frames the world rect inside the current container.
func (v *Viewport) Fit(r geometry.Rect, padding float64) {
	container := v.Container()
	v.update(func(Camera) Camera { return FitRect(r, container, padding, v.bounds) })
}

// Reset returns to zoom 1 at the origin.
func (v *Viewport) Reset() {
	v.Set(Camera{Zoom: 1})
}

func (v *Viewport) update(fn func(Camera) Camera) {
	v.mu.Lock()
	next := fn(v.cam)
	if next == v.cam {
		v.mu.Unlock()
		return
	}
	v.cam = next
	v.revision++
	listeners := v.listeners
	v.mu.Unlock()

	for _, l := range listeners {
		l(next)
	}
}
