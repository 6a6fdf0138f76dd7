package collab

import (
	"fmt"
	"time"

	"github.com/inamate/planboard/internal/document"
)

// DefaultConflictWindow is how close a remote update may land to a local
// edit of the same element before it is treated as concurrent.
const DefaultConflictWindow = time.Second

// Strategy selects how a conflict is settled.
type Strategy string

const (
	// LastWriteWins keeps whichever side was written last.
	LastWriteWins Strategy = "last_write_wins"
	// Merge asks the MergeFunc hook for a combined element and falls back to
	// LastWriteWins when there is none.
	Merge Strategy = "merge"
	// UserChoice leaves the conflict listed until Choose is called.
	UserChoice Strategy = "user_choice"
)

// ParseStrategy maps a wire or config value onto a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case LastWriteWins, Merge, UserChoice:
		return st, nil
	}
	return "", fmt.Errorf("unknown conflict strategy %q", s)
}

// MergeFunc combines two versions of an element. It returns false when it
// cannot merge them.
type MergeFunc func(local, remote document.CanvasElement) (document.CanvasElement, bool)

// Conflict is a remote update that arrived within the conflict window of a
// local edit to the same element. Neither side has been discarded yet.
type Conflict struct {
	Operation     Operation
	ElementID     string
	Local         document.CanvasElement
	Remote        document.CanvasElement
	LocalEditedAt time.Time
	RemoteAt      time.Time
	DetectedAt    time.Time
}

// concurrent reports whether a remote write at remote and a local write at
// local fall within window of each other.
func concurrent(local, remote time.Time, window time.Duration) bool {
	d := remote.Sub(local)
	if d < 0 {
		d = -d
	}
	return d <= window
}
