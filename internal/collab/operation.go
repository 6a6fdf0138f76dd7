package collab

import (
	"encoding/json"
	"fmt"

	"github.com/inamate/planboard/internal/document"
	"github.com/inamate/planboard/internal/store"
)

// Kind is the wire name of an operation variant.
type Kind string

const (
	KindAdd        Kind = "add"
	KindUpdate     Kind = "update"
	KindDelete     Kind = "delete"
	KindReorder    Kind = "reorder"
	KindBulkUpdate Kind = "bulk_update"
)

// Payload is one of AddOp, UpdateOp, DeleteOp, ReorderOp or BulkUpdateOp.
type Payload interface {
	Kind() Kind
	isPayload()
}

// AddOp inserts an element unless its id already exists.
type AddOp struct {
	Element document.CanvasElement
}

// UpdateOp replaces an element by id.
type UpdateOp struct {
	Element document.CanvasElement
}

// DeleteOp removes elements by id.
type DeleteOp struct {
	ElementIDs []string
}

// ReorderOp moves an element within the z-order.
type ReorderOp struct {
	ElementID string
	FromIndex int
	ToIndex   int
}

// BulkUpdateOp upserts many elements at once.
type BulkUpdateOp struct {
	Elements []document.CanvasElement
}

func (AddOp) Kind() Kind        { return KindAdd }
func (UpdateOp) Kind() Kind     { return KindUpdate }
func (DeleteOp) Kind() Kind     { return KindDelete }
func (ReorderOp) Kind() Kind    { return KindReorder }
func (BulkUpdateOp) Kind() Kind { return KindBulkUpdate }

func (AddOp) isPayload()        {}
func (UpdateOp) isPayload()     {}
func (DeleteOp) isPayload()     {}
func (ReorderOp) isPayload()    {}
func (BulkUpdateOp) isPayload() {}

// Operation is the unit of synchronization. ID is globally unique and makes
// application idempotent.
type Operation struct {
	ID        string
	UserID    string
	ClientID  string
	Timestamp int64 // unix milliseconds
	Payload   Payload
}

type reorderData struct {
	FromIndex int `json:"fromIndex"`
	ToIndex   int `json:"toIndex"`
}

type wireOperation struct {
	Type        Kind                     `json:"type"`
	OperationID string                   `json:"operationId"`
	UserID      string                   `json:"userId"`
	ClientID    string                   `json:"clientId,omitempty"`
	Timestamp   int64                    `json:"timestamp"`
	ElementID   string                   `json:"elementId,omitempty"`
	ElementIDs  []string                 `json:"elementIds,omitempty"`
	Element     *document.CanvasElement  `json:"element,omitempty"`
	Elements    []document.CanvasElement `json:"elements,omitempty"`
	Data        *reorderData             `json:"data,omitempty"`
}

// MarshalJSON writes the flat wire form.
func (op Operation) MarshalJSON() ([]byte, error) {
	w := wireOperation{
		OperationID: op.ID,
		UserID:      op.UserID,
		ClientID:    op.ClientID,
		Timestamp:   op.Timestamp,
	}
	switch p := op.Payload.(type) {
	case AddOp:
		w.Type = KindAdd
		w.ElementID = p.Element.ID
		w.Element = &p.Element
	case UpdateOp:
		w.Type = KindUpdate
		w.ElementID = p.Element.ID
		w.Element = &p.Element
	case DeleteOp:
		w.Type = KindDelete
		w.ElementIDs = p.ElementIDs
	case ReorderOp:
		w.Type = KindReorder
		w.ElementID = p.ElementID
		w.Data = &reorderData{FromIndex: p.FromIndex, ToIndex: p.ToIndex}
	case BulkUpdateOp:
		w.Type = KindBulkUpdate
		w.Elements = p.Elements
	default:
		return nil, fmt.Errorf("marshal operation %s: unknown payload %T", op.ID, op.Payload)
	}
	return json.Marshal(w)
}

// UnmarshalJSON validates data against the operation schema before decoding,
// so a malformed frame never reaches the store.
func (op *Operation) UnmarshalJSON(data []byte) error {
	if err := validateOperation(data); err != nil {
		return err
	}
	var w wireOperation
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode operation: %w", err)
	}

	var p Payload
	switch w.Type {
	case KindAdd, KindUpdate:
		if err := document.ValidateElement(w.Element); err != nil {
			return fmt.Errorf("decode operation %s: %w", w.OperationID, err)
		}
		if w.Type == KindAdd {
			p = AddOp{Element: *w.Element}
		} else {
			p = UpdateOp{Element: *w.Element}
		}
	case KindDelete:
		p = DeleteOp{ElementIDs: w.ElementIDs}
	case KindReorder:
		p = ReorderOp{ElementID: w.ElementID, FromIndex: w.Data.FromIndex, ToIndex: w.Data.ToIndex}
	case KindBulkUpdate:
		if err := document.ValidateElements(w.Elements); err != nil {
			return fmt.Errorf("decode operation %s: %w", w.OperationID, err)
		}
		p = BulkUpdateOp{Elements: w.Elements}
	default:
		return fmt.Errorf("decode operation %s: unknown type %q", w.OperationID, w.Type)
	}

	*op = Operation{
		ID:        w.OperationID,
		UserID:    w.UserID,
		ClientID:  w.ClientID,
		Timestamp: w.Timestamp,
		Payload:   p,
	}
	return nil
}

// ElementIDs lists the elements an operation touches.
func (op Operation) ElementIDs() []string {
	switch p := op.Payload.(type) {
	case AddOp:
		return []string{p.Element.ID}
	case UpdateOp:
		return []string{p.Element.ID}
	case DeleteOp:
		return p.ElementIDs
	case ReorderOp:
		return []string{p.ElementID}
	case BulkUpdateOp:
		ids := make([]string, len(p.Elements))
		for i := range p.Elements {
			ids[i] = p.Elements[i].ID
		}
		return ids
	}
	return nil
}

// Apply integrates p into s without recording history. Every variant is
// idempotent. It reports whether the store changed.
func Apply(s *store.Store, p Payload) bool {
	switch p := p.(type) {
	case AddOp:
		return s.ApplyAdd(p.Element)
	case UpdateOp:
		return s.ApplyUpdate(p.Element)
	case DeleteOp:
		return s.ApplyDelete(p.ElementIDs)
	case ReorderOp:
		return s.ApplyReorder(p.ElementID, p.FromIndex, p.ToIndex)
	case BulkUpdateOp:
		return s.ApplyBulk(p.Elements)
	}
	return false
}

// PayloadsFromChange turns a store change into the payloads that replay it
// on a peer: deletes, then adds, then updates, then reorders. Several
// updates travel as one bulk update.
func PayloadsFromChange(c store.Change) []Payload {
	var out []Payload
	if len(c.Removed) > 0 {
		out = append(out, DeleteOp{ElementIDs: c.Removed})
	}
	for _, e := range c.Added {
		out = append(out, AddOp{Element: e})
	}
	switch len(c.Updated) {
	case 0:
	case 1:
		out = append(out, UpdateOp{Element: c.Updated[0]})
	default:
		out = append(out, BulkUpdateOp{Elements: c.Updated})
	}
	for _, m := range c.Moves {
		out = append(out, ReorderOp{ElementID: m.ElementID, FromIndex: m.From, ToIndex: m.To})
	}
	return out
}
