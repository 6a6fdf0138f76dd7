package spatial

import (
	"math"
	"slices"

	"github.com/inamate/planboard/internal/document"
	"github.com/inamate/planboard/internal/geometry"
)

const (
	DefaultCellSize = 256.0

	// Elements spanning more cells than this live in a side list that every
	// query scans, so one huge frame cannot bloat the buckets.
	maxCellsPerElement = 256
)

type cell struct{ x, y int }

// Index buckets element bounding boxes into a uniform grid. It answers the
// same queries as HitTest and ElementsInRect with identical results. An Index
// is immutable once built; rebuild it when the collection changes.
type Index struct {
	cellSize  float64
	elements  []document.CanvasElement
	buckets   map[cell][]int
	oversized []int
	revision  uint64
}

// NewIndex builds an index over elements. The slice is retained and must not
// be modified afterwards.
func NewIndex(elements []document.CanvasElement, cellSize float64, revision uint64) *Index {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	idx := &Index{
		cellSize: cellSize,
		elements: elements,
		buckets:  make(map[cell][]int),
		revision: revision,
	}
	for i := range elements {
		b := elements[i].AABB()
		x0, y0, x1, y1 := idx.span(b)
		if (x1-x0+1)*(y1-y0+1) > maxCellsPerElement {
			idx.oversized = append(idx.oversized, i)
			continue
		}
		for x := x0; x <= x1; x++ {
			for y := y0; y <= y1; y++ {
				c := cell{x, y}
				idx.buckets[c] = append(idx.buckets[c], i)
			}
		}
	}
	return idx
}

// Revision is the collection revision the index was built from.
func (idx *Index) Revision() uint64 { return idx.revision }

// Len returns the number of indexed elements.
func (idx *Index) Len() int { return len(idx.elements) }

// HitTest is the indexed equivalent of the package-level HitTest.
func (idx *Index) HitTest(p geometry.Point) string {
	c := cell{int(math.Floor(p.X / idx.cellSize)), int(math.Floor(p.Y / idx.cellSize))}
	best := -1
	check := func(i int) {
		if i > best && containsPoint(&idx.elements[i], p) {
			best = i
		}
	}
	for _, i := range idx.buckets[c] {
		check(i)
	}
	for _, i := range idx.oversized {
		check(i)
	}
	if best < 0 {
		return ""
	}
	return idx.elements[best].ID
}

// ElementsInRect is the indexed equivalent of the package-level ElementsInRect.
func (idx *Index) ElementsInRect(r geometry.Rect) []string {
	x0, y0, x1, y1 := idx.span(r)
	seen := make(map[int]struct{})
	var hits []int
	consider := func(i int) {
		if _, ok := seen[i]; ok {
			return
		}
		seen[i] = struct{}{}
		if intersectsRect(&idx.elements[i], r) {
			hits = append(hits, i)
		}
	}

	if (x1-x0+1)*(y1-y0+1) > len(idx.buckets) {
		// The query covers more cells than are populated; walk the buckets.
		for c, list := range idx.buckets {
			if c.x < x0 || c.x > x1 || c.y < y0 || c.y > y1 {
				continue
			}
			for _, i := range list {
				consider(i)
			}
		}
	} else {
		for x := x0; x <= x1; x++ {
			for y := y0; y <= y1; y++ {
				for _, i := range idx.buckets[cell{x, y}] {
					consider(i)
				}
			}
		}
	}
	for _, i := range idx.oversized {
		consider(i)
	}

	slices.Sort(hits)
	ids := make([]string, 0, len(hits))
	for _, i := range hits {
		ids = append(ids, idx.elements[i].ID)
	}
	if len(ids) == 0 {
		return nil
	}
	return ids
}

func (idx *Index) span(r geometry.Rect) (x0, y0, x1, y1 int) {
	x0 = int(math.Floor(r.X / idx.cellSize))
	y0 = int(math.Floor(r.Y / idx.cellSize))
	x1 = int(math.Floor(r.Right() / idx.cellSize))
	y1 = int(math.Floor(r.Bottom() / idx.cellSize))
	return
}
