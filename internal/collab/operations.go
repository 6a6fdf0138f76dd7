package collab

import (
	"sync"
	"time"

	"github.com/inamate/planboard/internal/document"
	"github.com/inamate/planboard/internal/store"
)

// DocumentState holds the authoritative board state for a room. It applies
// operations last-write-wins and stamps each with a server sequence.
type DocumentState struct {
	mu        sync.Mutex
	elements  *store.Store
	serverSeq int64
	applied   *recentIDs[int64] // operation id -> server seq
	dirty     bool
	now       func() time.Time
}

// NewDocumentState creates a document state from an initial board.
func NewDocumentState(board *document.Board) *DocumentState {
	s := store.New(store.Options{HistoryLimit: -1})
	if board != nil {
		s.Initialize(board.Elements)
	}
	return &DocumentState{
		elements: s,
		applied:  newRecentIDs[int64](DefaultDedupeSize),
		now:      time.Now,
	}
}

// Board returns a copy of the current board.
func (ds *DocumentState) Board() *document.Board {
	b := document.NewBoard()
	b.Elements = document.CloneElements(ds.elements.Elements())
	return b
}

// ServerSeq returns the sequence of the last applied operation.
func (ds *DocumentState) ServerSeq() int64 {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.serverSeq
}

// Dirty reports whether operations were applied since the last save.
func (ds *DocumentState) Dirty() bool {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.dirty
}

// Snapshot returns the board together with the sequence it reflects, for
// persistence.
func (ds *DocumentState) Snapshot() (*document.Board, int64) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.Board(), ds.serverSeq
}

// MarkSaved clears the dirty flag if nothing was applied after seq.
func (ds *DocumentState) MarkSaved(seq int64) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if seq == ds.serverSeq {
		ds.dirty = false
	}
}

// ApplyOperation applies op and returns its server sequence. A redelivered
// operation is not applied again; its original sequence is returned with
// duplicate set.
func (ds *DocumentState) ApplyOperation(op Operation) (seq int64, duplicate bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if seq, ok := ds.applied.Get(op.ID); ok {
		return seq, true
	}
	if Apply(ds.elements, op.Payload) {
		ds.dirty = true
	}
	ds.serverSeq++
	ds.applied.Add(op.ID, ds.serverSeq)
	return ds.serverSeq, false
}

// Submit applies op and builds the ack for the sender and, unless the
// operation was a duplicate, the broadcast for everyone else.
func (ds *DocumentState) Submit(op Operation) (ack, broadcast *Message, err error) {
	seq, dup := ds.ApplyOperation(op)

	ack, err = newMessage(TypeOpAck, OperationAckPayload{
		OperationID:     op.ID,
		ServerSeq:       seq,
		ServerTimestamp: GetServerTimestamp(ds.now),
	})
	if err != nil {
		return nil, nil, err
	}
	ack.Seq = seq
	if dup {
		return ack, nil, nil
	}

	broadcast, err = newMessage(TypeOpBroadcast, OperationBroadcastPayload{
		Operation: op,
		UserID:    op.UserID,
		ServerSeq: seq,
	})
	if err != nil {
		return nil, nil, err
	}
	broadcast.UserID = op.UserID
	broadcast.ClientID = op.ClientID
	broadcast.Seq = seq
	return ack, broadcast, nil
}

// StateMessage builds the sync.state answer to a sync.request.
func (ds *DocumentState) StateMessage() (*Message, error) {
	board, seq := ds.Snapshot()
	msg, err := newMessage(TypeSyncState, SyncStatePayload{Elements: board.Elements, ServerSeq: seq})
	if err != nil {
		return nil, err
	}
	msg.Seq = seq
	return msg, nil
}

// GetServerTimestamp returns now in unix milliseconds.
func GetServerTimestamp(now func() time.Time) int64 {
	return now().UnixMilli()
}
