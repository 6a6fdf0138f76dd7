package grid

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"log/slog"
	"math"

	"golang.org/x/image/vector"

	"github.com/inamate/planboard/internal/geometry"
	"github.com/inamate/planboard/internal/viewport"
)

const (
	// paddingCells extends the drawn area past the container edge so lines
	// do not pop in while panning between redraws.
	paddingCells = 2

	// Passes whose on-screen spacing falls under these device-pixel limits
	// are skipped.
	minLineSpacing = 4.0
	minDotSpacing  = 8.0

	minorWidth = 1.0
	majorWidth = 2.0
	minorDot   = 1.0
	majorDot   = 2.0
)

// Stats counts renderer work, mostly for tests and the debug overlay.
type Stats struct {
	Draws     int
	CacheHits int
	Clears    int
	// DotVisits counts lattice points examined by the last dot redraw.
	DotVisits int
}

type cacheKey struct {
	cam      viewport.Camera
	w, h     int
	dpr      float64
	settings Settings
}

// Renderer owns the backing raster of the grid layer and redraws it only when
// its inputs change.
type Renderer struct {
	settings Settings
	surface  *image.RGBA
	key      cacheKey
	valid    bool
	z        *vector.Rasterizer
	stats    Stats
	logger   *slog.Logger
}

// NewRenderer creates a renderer with the given settings.
func NewRenderer(settings Settings, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{settings: settings.normalized(), logger: logger}
}

// Settings returns the active settings.
func (r *Renderer) Settings() Settings { return r.settings }

// SetSettings replaces the settings; the next Render redraws.
func (r *Renderer) SetSettings(s Settings) {
	r.settings = s.normalized()
}

// Stats returns work counters.
func (r *Renderer) Stats() Stats { return r.stats }

// Invalidate forces the next Render to redraw.
func (r *Renderer) Invalidate() { r.valid = false }

// Render returns the grid raster for the camera and container (in CSS
// pixels) at the given device pixel ratio. The bool reports whether the
// raster was redrawn; false means the cached raster was reused.
func (r *Renderer) Render(cam viewport.Camera, container geometry.Size, dpr float64) (*image.RGBA, bool) {
	if dpr <= 0 {
		dpr = 1
	}
	w := int(math.Ceil(container.Width * dpr))
	h := int(math.Ceil(container.Height * dpr))
	if w <= 0 || h <= 0 || cam.Zoom <= 0 {
		return nil, false
	}

	key := cacheKey{cam: cam, w: w, h: h, dpr: dpr, settings: r.settings}
	if !r.settings.Enabled {
		// A disabled grid is cleared once and then left alone whatever the
		// camera does.
		key.cam = viewport.Camera{}
	}
	if r.valid && key == r.key {
		r.stats.CacheHits++
		return r.surface, false
	}

	if r.surface == nil || r.surface.Bounds().Dx() != w || r.surface.Bounds().Dy() != h {
		r.surface = image.NewRGBA(image.Rect(0, 0, w, h))
		r.z = vector.NewRasterizer(w, h)
	}
	draw.Draw(r.surface, r.surface.Bounds(), image.NewUniform(r.settings.Background), image.Point{}, draw.Src)
	r.key = key
	r.valid = true

	if !r.settings.Enabled {
		r.stats.Clears++
		return r.surface, true
	}

	p := painter{
		r:     r,
		cam:   cam,
		dpr:   dpr,
		w:     float64(w),
		h:     float64(h),
		scale: cam.Zoom * dpr,
		world: viewport.VisibleWorldRect(cam, container).Inset(paddingCells * r.settings.Size),
	}
	switch r.settings.Type {
	case TypeDots:
		p.dots()
	case TypeIsometric:
		p.isometric()
	case TypeHex:
		p.hex()
	default:
		p.lines()
	}
	r.stats.Draws++
	r.logger.Debug("grid redrawn", "type", r.settings.Type, "width", w, "height", h, "zoom", cam.Zoom)
	return r.surface, true
}

// EncodePNG writes a raster produced by Render.
func EncodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

// painter draws one frame. Coordinates passed to its primitives are device
// pixels.
type painter struct {
	r     *Renderer
	cam   viewport.Camera
	dpr   float64
	w, h  float64
	scale float64
	world geometry.Rect
}

func (p *painter) toDevice(wp geometry.Point) geometry.Point {
	s := viewport.WorldToScreen(wp, p.cam)
	return geometry.Point{X: s.X * p.dpr, Y: s.Y * p.dpr}
}

// strokeWidth converts a CSS pixel width to whole device pixels.
func (p *painter) strokeWidth(css float64) float64 {
	return math.Max(1, math.Round(css*p.dpr))
}

// snap aligns a line centre so that a line of the given device width covers
// whole pixels: odd widths sit on half pixels, even widths on pixel edges.
func snap(v, width float64) float64 {
	if int(width)%2 == 1 {
		return math.Floor(v) + 0.5
	}
	return math.Round(v)
}

func (p *painter) begin() {
	p.r.z.Reset(int(p.w), int(p.h))
	p.r.z.DrawOp = draw.Over
}

func (p *painter) fill(c color.RGBA) {
	p.r.z.Draw(p.r.surface, p.r.surface.Bounds(), image.NewUniform(c), image.Point{})
}

// segment adds a stroked line as a quad. All quads share one winding so
// overlaps saturate instead of cancelling.
func (p *painter) segment(a, b geometry.Point, width float64) {
	d := b.Sub(a)
	l := d.Len()
	if l == 0 {
		return
	}
	n := geometry.Point{X: -d.Y / l * width / 2, Y: d.X / l * width / 2}
	z := p.r.z
	z.MoveTo(float32(a.X+n.X), float32(a.Y+n.Y))
	z.LineTo(float32(b.X+n.X), float32(b.Y+n.Y))
	z.LineTo(float32(b.X-n.X), float32(b.Y-n.Y))
	z.LineTo(float32(a.X-n.X), float32(a.Y-n.Y))
	z.ClosePath()
}

// disc adds an octagon approximating a dot of radius rad.
func (p *painter) disc(c geometry.Point, rad float64) {
	z := p.r.z
	for i := 0; i < 8; i++ {
		a := float64(i) * math.Pi / 4
		x := float32(c.X + rad*math.Cos(a))
		y := float32(c.Y + rad*math.Sin(a))
		if i == 0 {
			z.MoveTo(x, y)
		} else {
			z.LineTo(x, y)
		}
	}
	z.ClosePath()
}

func (p *painter) lines() {
	s := p.r.settings
	major := s.Size * float64(s.MajorEvery)

	if s.Size*p.scale >= minLineSpacing {
		width := p.strokeWidth(minorWidth)
		p.begin()
		p.axisLines(s.Size, width, func(k int) bool { return k%s.MajorEvery != 0 })
		p.fill(s.Minor)
	}
	if major*p.scale >= minLineSpacing {
		width := p.strokeWidth(majorWidth)
		p.begin()
		p.axisLines(major, width, func(int) bool { return true })
		p.fill(s.Major)
	}
}

// axisLines adds vertical and horizontal lines every step world units for
// which keep(index) is true.
func (p *painter) axisLines(step, width float64, keep func(int) bool) {
	for k := int(math.Ceil(p.world.X / step)); float64(k)*step <= p.world.Right(); k++ {
		if !keep(k) {
			continue
		}
		x := snap(p.toDevice(geometry.Point{X: float64(k) * step}).X, width)
		if x < -width || x > p.w+width {
			continue
		}
		p.segment(geometry.Point{X: x, Y: 0}, geometry.Point{X: x, Y: p.h}, width)
	}
	for k := int(math.Ceil(p.world.Y / step)); float64(k)*step <= p.world.Bottom(); k++ {
		if !keep(k) {
			continue
		}
		y := snap(p.toDevice(geometry.Point{Y: float64(k) * step}).Y, width)
		if y < -width || y > p.h+width {
			continue
		}
		p.segment(geometry.Point{X: 0, Y: y}, geometry.Point{X: p.w, Y: y}, width)
	}
}

func (p *painter) dots() {
	s := p.r.settings
	step := s.Size
	every := s.MajorEvery
	drawMinor := step*p.scale >= minDotSpacing
	if !drawMinor && step*float64(every)*p.scale < minDotSpacing {
		return
	}

	i0 := int(math.Ceil(p.world.X / step))
	j0 := int(math.Ceil(p.world.Y / step))
	isMajor := func(i, j int) bool { return i%every == 0 && j%every == 0 }
	visits := 0
	defer func() { p.r.stats.DotVisits = visits }()

	for pass := 0; pass < 2; pass++ {
		majorPass := pass == 1
		if !majorPass && !drawMinor {
			continue
		}
		rad := minorDot * p.dpr
		if majorPass {
			rad = majorDot * p.dpr
		}
		// The major pass only visits multiples of every.
		di, ci, cj := 1, i0, j0
		if majorPass {
			di, ci, cj = every, ceilMultiple(i0, every), ceilMultiple(j0, every)
		}
		p.begin()
		for i := ci; float64(i)*step <= p.world.Right(); i += di {
			for j := cj; float64(j)*step <= p.world.Bottom(); j += di {
				visits++
				if isMajor(i, j) != majorPass {
					continue
				}
				c := p.toDevice(geometry.Point{X: float64(i) * step, Y: float64(j) * step})
				if c.X < -rad || c.Y < -rad || c.X > p.w+rad || c.Y > p.h+rad {
					continue
				}
				p.disc(c, rad)
			}
		}
		if majorPass {
			p.fill(s.Major)
		} else {
			p.fill(s.Minor)
		}
	}
}

// ceilMultiple returns the smallest multiple of m that is >= n.
func ceilMultiple(n, m int) int {
	k := n / m * m
	if k < n {
		k += m
	}
	return k
}

func (p *painter) isometric() {
	s := p.r.settings
	slope := math.Tan(math.Pi / 6)
	// Perpendicular distance between neighbouring lines of one family.
	if s.Size*math.Cos(math.Pi/6)*p.scale < minLineSpacing {
		return
	}
	minorW := p.strokeWidth(minorWidth)
	majorW := p.strokeWidth(majorWidth)

	for pass := 0; pass < 2; pass++ {
		majorPass := pass == 1
		width := minorW
		if majorPass {
			width = majorW
		}
		p.begin()
		for _, m := range []float64{slope, -slope} {
			// y = m*x + c; c ranges over the intercepts that cross the world rect.
			c0 := math.Min(p.world.Y-m*p.world.X, p.world.Y-m*p.world.Right())
			c1 := math.Max(p.world.Bottom()-m*p.world.X, p.world.Bottom()-m*p.world.Right())
			for k := int(math.Ceil(c0 / s.Size)); float64(k)*s.Size <= c1; k++ {
				if (k%s.MajorEvery == 0) != majorPass {
					continue
				}
				c := float64(k) * s.Size
				a := p.toDevice(geometry.Point{X: p.world.X, Y: m*p.world.X + c})
				b := p.toDevice(geometry.Point{X: p.world.Right(), Y: m*p.world.Right() + c})
				p.segment(a, b, width)
			}
		}
		if majorPass {
			p.fill(s.Major)
		} else {
			p.fill(s.Minor)
		}
	}
}

// hex tiles flat-topped hexagons of circumradius Size. Columns are 1.5*Size
// apart, rows Size*√3 apart, and odd columns drop by half a hex height.
func (p *painter) hex() {
	s := p.r.settings
	rad := s.Size
	if rad*p.scale < minLineSpacing {
		return
	}
	dx := 1.5 * rad
	dy := math.Sqrt(3) * rad
	width := p.strokeWidth(minorWidth)

	var corners [6]geometry.Point
	for k := range corners {
		a := float64(k) * math.Pi / 3
		corners[k] = geometry.Point{X: rad * math.Cos(a), Y: rad * math.Sin(a)}
	}

	p.begin()
	i0 := int(math.Floor((p.world.X - rad) / dx))
	i1 := int(math.Ceil((p.world.Right() + rad) / dx))
	j0 := int(math.Floor((p.world.Y - dy) / dy))
	j1 := int(math.Ceil((p.world.Bottom() + dy) / dy))
	for i := i0; i <= i1; i++ {
		offset := 0.0
		if i&1 == 1 {
			offset = dy / 2
		}
		for j := j0; j <= j1; j++ {
			center := geometry.Point{X: float64(i) * dx, Y: float64(j)*dy + offset}
			for k := 0; k < 6; k++ {
				a := p.toDevice(center.Add(corners[k]))
				b := p.toDevice(center.Add(corners[(k+1)%6]))
				p.segment(a, b, width)
			}
		}
	}
	p.fill(s.Minor)
}
