// Package spatial answers point and rectangle queries against an ordered
// element collection. Order is z-order: later elements render on top.
package spatial

import (
	"github.com/inamate/planboard/internal/document"
	"github.com/inamate/planboard/internal/geometry"
)

// HitTest returns the id of the topmost element whose rotated outline contains
// p, or "" when the point is over empty canvas. Locked and invisible elements
// are hit so that a click can still select them.
func HitTest(elements []document.CanvasElement, p geometry.Point) string {
	for i := len(elements) - 1; i >= 0; i-- {
		if containsPoint(&elements[i], p) {
			return elements[i].ID
		}
	}
	return ""
}

// ElementsInRect returns, in z-order, the ids of marquee-selectable elements
// whose rotated outline intersects r. Partial overlap counts.
func ElementsInRect(elements []document.CanvasElement, r geometry.Rect) []string {
	var ids []string
	for i := range elements {
		if intersectsRect(&elements[i], r) {
			ids = append(ids, elements[i].ID)
		}
	}
	return ids
}

// MarqueeSelectable reports whether a marquee may pick the element. Locked and
// hidden elements are skipped, and synthetic group elements are skipped in
// favour of their members.
func MarqueeSelectable(e *document.CanvasElement) bool {
	return e.Visible && !e.Locked && !e.IsGroup()
}

func containsPoint(e *document.CanvasElement, p geometry.Point) bool {
	if !e.AABB().Contains(p) {
		return false
	}
	if e.Rotation == 0 {
		return true
	}
	return e.Outline().Contains(p)
}

func intersectsRect(e *document.CanvasElement, r geometry.Rect) bool {
	if !MarqueeSelectable(e) || !e.AABB().Intersects(r) {
		return false
	}
	if e.Rotation == 0 {
		return true
	}
	return e.Outline().IntersectsRect(r)
}
