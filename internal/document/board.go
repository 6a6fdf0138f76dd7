package document

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CurrentVersion is the board format version written by MarshalBoard.
const CurrentVersion = 1

// ErrCorruptBoard is returned when persisted board state cannot be used.
var ErrCorruptBoard = errors.New("corrupt board")

// Board is the persisted shape of a canvas. Element order is z-order.
type Board struct {
	Version  int             `json:"version"`
	Elements []CanvasElement `json:"elements"`
}

// NewBoard returns an empty board at the current version.
func NewBoard() *Board {
	return &Board{Version: CurrentVersion, Elements: []CanvasElement{}}
}

// ParseBoard decodes and validates a persisted board.
func ParseBoard(data []byte) (*Board, error) {
	var b Board
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBoard, err)
	}
	if b.Version == 0 {
		b.Version = CurrentVersion
	}
	if b.Version > CurrentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptBoard, b.Version)
	}
	if b.Elements == nil {
		b.Elements = []CanvasElement{}
	}
	if err := ValidateElements(b.Elements); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBoard, err)
	}
	return &b, nil
}

// MarshalBoard encodes the board for persistence.
func MarshalBoard(b *Board) ([]byte, error) {
	if b.Version == 0 {
		b.Version = CurrentVersion
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal board: %w", err)
	}
	return data, nil
}

// ValidateElement checks the invariants a single element must satisfy.
func ValidateElement(e *CanvasElement) error {
	if e.ID == "" {
		return errors.New("element id is empty")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("element %s: unknown type %q", e.ID, e.Type)
	}
	if e.Size.Width < 0 || e.Size.Height < 0 {
		return fmt.Errorf("element %s: negative size", e.ID)
	}
	return nil
}

// ValidateElements checks every element and id uniqueness.
func ValidateElements(elements []CanvasElement) error {
	seen := make(map[string]struct{}, len(elements))
	for i := range elements {
		if err := ValidateElement(&elements[i]); err != nil {
			return err
		}
		if _, dup := seen[elements[i].ID]; dup {
			return fmt.Errorf("duplicate element id %s", elements[i].ID)
		}
		seen[elements[i].ID] = struct{}{}
	}
	return nil
}
