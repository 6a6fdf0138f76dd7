package store

import (
	"reflect"

	"github.com/inamate/planboard/internal/document"
)

// Origin says where a change came from.
type Origin string

const (
	OriginLocal   Origin = "local"
	OriginHistory Origin = "history"
	OriginRemote  Origin = "remote"
	OriginReset   Origin = "reset"
)

// Local reports whether the change was made on this client and should be
// propagated to peers.
func (o Origin) Local() bool { return o == OriginLocal || o == OriginHistory }

// Move is a single z-order splice: the element at From ends up at To.
type Move struct {
	ElementID string
	From      int
	To        int
}

// Change describes one mutation of the element collection. Applying Removed,
// then Added (appended), then Updated, then Moves in order to the previous
// state reproduces the new state.
type Change struct {
	Origin  Origin
	Added   []document.CanvasElement
	Updated []document.CanvasElement
	Removed []string
	Moves   []Move
}

// Empty reports whether the change carries no effect.
func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0 && len(c.Moves) == 0
}

// diff computes the change that turns before into after.
func diff(origin Origin, before, after []document.CanvasElement) Change {
	c := Change{Origin: origin}

	afterIdx := make(map[string]int, len(after))
	for i := range after {
		afterIdx[after[i].ID] = i
	}
	beforeIdx := make(map[string]int, len(before))
	order := make([]string, 0, len(after))
	for i := range before {
		id := before[i].ID
		beforeIdx[id] = i
		j, ok := afterIdx[id]
		if !ok {
			c.Removed = append(c.Removed, id)
			continue
		}
		order = append(order, id)
		if !elementEqual(&before[i], &after[j]) {
			c.Updated = append(c.Updated, after[j])
		}
	}
	for i := range after {
		if _, ok := beforeIdx[after[i].ID]; !ok {
			c.Added = append(c.Added, after[i])
			order = append(order, after[i].ID)
		}
	}
	c.Moves = movesBetween(order, after)
	return c
}

// movesBetween returns the splices that rearrange order into the order of
// target. Both hold the same ids.
func movesBetween(order []string, target []document.CanvasElement) []Move {
	var moves []Move
	cur := append([]string(nil), order...)
	for i := range target {
		if cur[i] == target[i].ID {
			continue
		}
		j := i + 1
		for j < len(cur) && cur[j] != target[i].ID {
			j++
		}
		if j == len(cur) {
			continue
		}
		moves = append(moves, Move{ElementID: target[i].ID, From: j, To: i})
		splice(cur, j, i)
	}
	return moves
}

// splice moves s[from] to index to, shifting the elements in between.
func splice[T any](s []T, from, to int) {
	if from == to {
		return
	}
	v := s[from]
	if from < to {
		copy(s[from:to], s[from+1:to+1])
	} else {
		copy(s[to+1:from+1], s[to:from])
	}
	s[to] = v
}

// elementEqual compares two elements. Maps are compared by content, which is
// cheap in the common case because unchanged elements share their maps.
func elementEqual(a, b *document.CanvasElement) bool {
	return reflect.DeepEqual(*a, *b)
}
