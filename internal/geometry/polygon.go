package geometry

import "math"

// Quad is a convex four-sided polygon, used for rotated element bounds.
type Quad [4]Point

// RotatedRect returns the corners of r rotated by degrees around its center.
func RotatedRect(r Rect, degrees float64) Quad {
	c := r.Corners()
	if math.Mod(degrees, 360) == 0 {
		return Quad(c)
	}
	m := RotateAbout(degrees, r.Center())
	return Quad{m.Apply(c[0]), m.Apply(c[1]), m.Apply(c[2]), m.Apply(c[3])}
}

// Bounds returns the axis-aligned bounding box of the quad.
func (q Quad) Bounds() Rect {
	return BoundsOf(q[0], q[1], q[2], q[3])
}

// Contains reports whether p lies inside or on the edge of the quad.
// The quad must be convex; winding direction does not matter.
func (q Quad) Contains(p Point) bool {
	var sign float64
	for i := 0; i < 4; i++ {
		a, b := q[i], q[(i+1)%4]
		cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
		if math.Abs(cross) < 1e-9 {
			continue
		}
		if sign == 0 {
			sign = cross
			continue
		}
		if (cross > 0) != (sign > 0) {
			return false
		}
	}
	return true
}

// IntersectsRect runs a separating-axis test between the quad and an
// axis-aligned rect.
func (q Quad) IntersectsRect(r Rect) bool {
	if !q.Bounds().Intersects(r) {
		return false
	}
	rc := Quad(r.Corners())
	axes := [4]Point{
		{1, 0},
		{0, 1},
		edgeNormal(q[0], q[1]),
		edgeNormal(q[1], q[2]),
	}
	for _, axis := range axes {
		if axis.X == 0 && axis.Y == 0 {
			continue
		}
		qMin, qMax := project(q, axis)
		rMin, rMax := project(rc, axis)
		if qMax < rMin || rMax < qMin {
			return false
		}
	}
	return true
}

func edgeNormal(a, b Point) Point {
	return Point{X: -(b.Y - a.Y), Y: b.X - a.X}
}

func project(q Quad, axis Point) (float64, float64) {
	lo := q[0].X*axis.X + q[0].Y*axis.Y
	hi := lo
	for _, p := range q[1:] {
		d := p.X*axis.X + p.Y*axis.Y
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}
	return lo, hi
}
