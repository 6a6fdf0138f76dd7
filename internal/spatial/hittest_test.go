package spatial

import (
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/inamate/planboard/internal/document"
	"github.com/inamate/planboard/internal/geometry"
)

func el(id string, x, y, w, h float64) document.CanvasElement {
	return document.CanvasElement{
		ID:       id,
		Type:     document.ElementTypeShape,
		Position: geometry.Point{X: x, Y: y},
		Size:     geometry.Size{Width: w, Height: h},
		Visible:  true,
	}
}

func TestHitTestReturnsTopmost(t *testing.T) {
	elements := []document.CanvasElement{
		el("bottom", 0, 0, 100, 100),
		el("top", 50, 50, 100, 100),
	}
	tests := []struct {
		p    geometry.Point
		want string
	}{
		{geometry.Point{X: 10, Y: 10}, "bottom"},
		{geometry.Point{X: 75, Y: 75}, "top"},
		{geometry.Point{X: 140, Y: 140}, "top"},
		{geometry.Point{X: 300, Y: 10}, ""},
	}
	for _, tt := range tests {
		if got := HitTest(elements, tt.p); got != tt.want {
			t.Errorf("HitTest(%v) = %q, want %q", tt.p, got, tt.want)
		}
	}
}

func TestHitTestRespectsRotation(t *testing.T) {
	diamond := el("diamond", 0, 0, 100, 100)
	diamond.Rotation = 45
	elements := []document.CanvasElement{diamond}

	// The unrotated corner is outside the rotated square.
	if got := HitTest(elements, geometry.Point{X: 3, Y: 3}); got != "" {
		t.Fatalf("corner hit %q, want miss", got)
	}
	// A rotated tip pokes above the original top edge.
	if got := HitTest(elements, geometry.Point{X: 50, Y: -15}); got != "diamond" {
		t.Fatalf("rotated tip missed, got %q", got)
	}
}

func TestHitTestIncludesLockedAndHidden(t *testing.T) {
	locked := el("locked", 0, 0, 10, 10)
	locked.Locked = true
	hidden := el("hidden", 20, 0, 10, 10)
	hidden.Visible = false
	elements := []document.CanvasElement{locked, hidden}

	if got := HitTest(elements, geometry.Point{X: 5, Y: 5}); got != "locked" {
		t.Fatalf("HitTest locked = %q", got)
	}
	if got := HitTest(elements, geometry.Point{X: 25, Y: 5}); got != "hidden" {
		t.Fatalf("HitTest hidden = %q", got)
	}
	if got := ElementsInRect(elements, geometry.Rect{X: -5, Y: -5, Width: 50, Height: 50}); len(got) != 0 {
		t.Fatalf("marquee picked %v, want none", got)
	}
}

func TestElementsInRectUsesIntersection(t *testing.T) {
	group := el("group", 0, 0, 300, 300)
	group.Type = document.ElementTypeGroup
	elements := []document.CanvasElement{
		el("inside", 10, 10, 20, 20),
		el("partial", 90, 90, 40, 40),
		el("outside", 200, 200, 10, 10),
		group,
	}
	got := ElementsInRect(elements, geometry.Rect{X: 0, Y: 0, Width: 100, Height: 100})
	want := []string{"inside", "partial"}
	if !slices.Equal(got, want) {
		t.Fatalf("ElementsInRect() = %v, want %v", got, want)
	}
}

func TestElementsInRectRotatedMiss(t *testing.T) {
	diamond := el("diamond", 0, 0, 100, 100)
	diamond.Rotation = 45
	// The query box sits in the AABB corner but outside the rotated outline.
	r := geometry.Rect{X: -20, Y: -20, Width: 12, Height: 12}
	if got := ElementsInRect([]document.CanvasElement{diamond}, r); len(got) != 0 {
		t.Fatalf("ElementsInRect() = %v, want none", got)
	}
}

func TestIndexMatchesLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var elements []document.CanvasElement
	for i := 0; i < 400; i++ {
		e := el(fmt.Sprintf("e%d", i), rng.Float64()*4000-2000, rng.Float64()*4000-2000, 10+rng.Float64()*300, 10+rng.Float64()*300)
		e.Rotation = float64(rng.Intn(4)) * 30
		e.Locked = i%17 == 0
		elements = append(elements, e)
	}
	// A frame large enough to land in the oversized list.
	elements = append(elements, el("backdrop", -5000, -5000, 10000, 10000))

	idx := NewIndex(elements, 128, 1)
	for i := 0; i < 500; i++ {
		p := geometry.Point{X: rng.Float64()*5000 - 2500, Y: rng.Float64()*5000 - 2500}
		if got, want := idx.HitTest(p), HitTest(elements, p); got != want {
			t.Fatalf("Index.HitTest(%v) = %q, linear = %q", p, got, want)
		}
	}
	for i := 0; i < 100; i++ {
		r := geometry.Rect{X: rng.Float64()*4000 - 2000, Y: rng.Float64()*4000 - 2000, Width: rng.Float64() * 800, Height: rng.Float64() * 800}
		if got, want := idx.ElementsInRect(r), ElementsInRect(elements, r); !slices.Equal(got, want) {
			t.Fatalf("Index.ElementsInRect(%v) = %v, linear = %v", r, got, want)
		}
	}
}

func BenchmarkHitTestLinear(b *testing.B) {
	elements := benchElements(2000)
	p := geometry.Point{X: 500, Y: 500}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		HitTest(elements, p)
	}
}

func BenchmarkHitTestIndexed(b *testing.B) {
	elements := benchElements(2000)
	idx := NewIndex(elements, DefaultCellSize, 1)
	p := geometry.Point{X: 500, Y: 500}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx.HitTest(p)
	}
}

func benchElements(n int) []document.CanvasElement {
	out := make([]document.CanvasElement, n)
	for i := range out {
		out[i] = el(fmt.Sprintf("e%d", i), float64(i%50)*120, float64(i/50)*120, 100, 100)
	}
	return out
}
