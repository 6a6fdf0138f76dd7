package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/inamate/planboard/internal/document"
)

type savedBoards struct {
	mu     sync.Mutex
	boards map[string]*document.Board
	calls  int
}

func (s *savedBoards) save(_ context.Context, id string, b *document.Board) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.boards == nil {
		s.boards = make(map[string]*document.Board)
	}
	s.boards[id] = b
	s.calls++
	return nil
}

func (s *savedBoards) get(id string) (*document.Board, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boards[id], s.calls
}

func newTestHub(saved *savedBoards, m *Metrics) *Hub {
	return NewHub(HubOptions{
		Load: func(_ context.Context, id string) (*document.Board, error) {
			if id == "board_broken" {
				return nil, errors.New("disk on fire")
			}
			return testBoard(shape("x", 0, 0)), nil
		},
		Save:    saved.save,
		Metrics: m,
	})
}

func drain(t *testing.T, c *Client) []Message {
	t.Helper()
	var out []Message
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("client %s received invalid frame: %v", c.ClientID, err)
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func types(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func submitFrame(t *testing.T, op Operation) *Message {
	t.Helper()
	msg, err := newMessage(TypeOpSubmit, OperationSubmitPayload{Operation: op})
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestHubJoinSendsWelcomeAndPresence(t *testing.T) {
	h := newTestHub(&savedBoards{}, nil)
	alice := NewClient(h, nil, "user_a", "Alice", "board_1", "c1")
	bob := NewClient(h, nil, "user_b", "Bob", "board_1", "c2")

	h.addClient(alice)
	if got := types(drain(t, alice)); len(got) != 2 || got[0] != TypeWelcome || got[1] != TypePresenceState {
		t.Fatalf("alice received %v", got)
	}
	h.addClient(bob)
	drain(t, bob)
	if got := types(drain(t, alice)); len(got) != 1 || got[0] != TypePresenceJoin {
		t.Fatalf("alice received %v on bob's join", got)
	}
}

func TestHubOperationAckAndBroadcast(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	h := newTestHub(&savedBoards{}, m)
	alice := NewClient(h, nil, "user_a", "Alice", "board_1", "c1")
	bob := NewClient(h, nil, "user_b", "Bob", "board_1", "c2")
	h.addClient(alice)
	h.addClient(bob)
	drain(t, alice)
	drain(t, bob)

	op := Operation{ID: "op_1", UserID: "spoofed", Timestamp: 1, Payload: UpdateOp{Element: shape("x", 40, 0)}}
	h.handleMessage(alice, submitFrame(t, op))

	acks := drain(t, alice)
	if len(acks) != 1 || acks[0].Type != TypeOpAck {
		t.Fatalf("alice received %v", types(acks))
	}
	var ack OperationAckPayload
	json.Unmarshal(acks[0].Payload, &ack)
	if ack.OperationID != "op_1" || ack.ServerSeq != 1 {
		t.Fatalf("ack = %+v", ack)
	}

	got := drain(t, bob)
	if len(got) != 1 || got[0].Type != TypeOpBroadcast {
		t.Fatalf("bob received %v", types(got))
	}
	var bc OperationBroadcastPayload
	if err := json.Unmarshal(got[0].Payload, &bc); err != nil {
		t.Fatal(err)
	}
	if bc.Operation.UserID != "user_a" || bc.Operation.ClientID != "c1" {
		t.Fatalf("broadcast not stamped with the sender identity: %+v", bc.Operation)
	}

	// Redelivery is acked with the original sequence and not rebroadcast.
	h.handleMessage(alice, submitFrame(t, op))
	acks = drain(t, alice)
	json.Unmarshal(acks[0].Payload, &ack)
	if ack.ServerSeq != 1 {
		t.Fatalf("duplicate ack seq = %d, want 1", ack.ServerSeq)
	}
	if got := drain(t, bob); len(got) != 0 {
		t.Fatalf("duplicate rebroadcast: %v", types(got))
	}
	if n := testutil.ToFloat64(m.OpsApplied.WithLabelValues("update")); n != 1 {
		t.Fatalf("applied = %v, want 1", n)
	}

	room, _ := h.Room("board_1")
	if !room.Document().Dirty() {
		t.Fatal("room not dirty after an applied operation")
	}
}

func TestHubNacksInvalidOperation(t *testing.T) {
	h := newTestHub(&savedBoards{}, nil)
	alice := NewClient(h, nil, "user_a", "Alice", "board_1", "c1")
	h.addClient(alice)
	drain(t, alice)

	h.handleMessage(alice, &Message{
		Type:    TypeOpSubmit,
		Payload: json.RawMessage(`{"operation":{"type":"update","operationId":"op_bad","userId":"u","timestamp":1}}`),
	})
	got := drain(t, alice)
	if len(got) != 1 || got[0].Type != TypeOpNack {
		t.Fatalf("alice received %v", types(got))
	}
	var nack OperationNackPayload
	json.Unmarshal(got[0].Payload, &nack)
	if nack.OperationID != "op_bad" || nack.Reason == "" {
		t.Fatalf("nack = %+v", nack)
	}
}

func TestHubRejectsReadOnlyEdits(t *testing.T) {
	h := newTestHub(&savedBoards{}, nil)
	viewer := NewClient(h, nil, "user_v", "Viewer", "board_1", "c1")
	viewer.ReadOnly = true
	h.addClient(viewer)
	drain(t, viewer)

	op := Operation{ID: "op_view", Timestamp: 1, Payload: UpdateOp{Element: shape("x", 99, 0)}}
	h.handleMessage(viewer, submitFrame(t, op))
	got := drain(t, viewer)
	if len(got) != 1 || got[0].Type != TypeOpNack {
		t.Fatalf("viewer received %v", types(got))
	}
	room, _ := h.Room("board_1")
	if room.Document().Dirty() || room.Document().ServerSeq() != 0 {
		t.Fatal("read-only edit reached the board")
	}
}

func TestHubSyncRequest(t *testing.T) {
	h := newTestHub(&savedBoards{}, nil)
	alice := NewClient(h, nil, "user_a", "Alice", "board_1", "c1")
	h.addClient(alice)
	drain(t, alice)

	h.handleMessage(alice, &Message{Type: TypeSyncRequest})
	got := drain(t, alice)
	if len(got) != 1 || got[0].Type != TypeSyncState {
		t.Fatalf("alice received %v", types(got))
	}
	var state SyncStatePayload
	if err := json.Unmarshal(got[0].Payload, &state); err != nil {
		t.Fatal(err)
	}
	if len(state.Elements) != 1 || state.Elements[0].ID != "x" {
		t.Fatalf("state = %+v", state)
	}
}

func TestHubPresenceMergesPartialUpdates(t *testing.T) {
	h := newTestHub(&savedBoards{}, nil)
	alice := NewClient(h, nil, "user_a", "Alice", "board_1", "c1")
	bob := NewClient(h, nil, "user_b", "Bob", "board_1", "c2")
	h.addClient(alice)
	h.addClient(bob)
	drain(t, alice)
	drain(t, bob)

	h.handleMessage(alice, &Message{Type: TypePresenceUpdate, Payload: json.RawMessage(`{"cursor":{"x":10,"y":20}}`)})
	h.handleMessage(alice, &Message{Type: TypePresenceUpdate, Payload: json.RawMessage(`{"selection":["x"]}`)})

	got := drain(t, bob)
	if len(got) != 2 {
		t.Fatalf("bob received %v", types(got))
	}
	var p PresencePayload
	json.Unmarshal(got[1].Payload, &p)
	if p.Cursor == nil || p.Cursor.X != 10 || len(p.Selection) != 1 || p.DisplayName != "Alice" {
		t.Fatalf("presence = %+v", p)
	}

	op := Operation{ID: "op_del", Timestamp: 1, Payload: DeleteOp{ElementIDs: []string{"x"}}}
	h.handleMessage(bob, submitFrame(t, op))
	room, _ := h.Room("board_1")
	if sel := room.presence.GetAll()["user_a"].Selection; len(sel) != 0 {
		t.Fatalf("deleted element still in presence selection: %v", sel)
	}
}

func TestHubSavesWhenLastClientLeaves(t *testing.T) {
	saved := &savedBoards{}
	m := NewMetrics(prometheus.NewRegistry())
	h := newTestHub(saved, m)
	alice := NewClient(h, nil, "user_a", "Alice", "board_1", "c1")
	h.addClient(alice)
	if got := testutil.ToFloat64(m.Rooms); got != 1 {
		t.Fatalf("rooms = %v", got)
	}

	op := Operation{ID: "op_1", Timestamp: 1, Payload: AddOp{Element: shape("y", 5, 5)}}
	h.handleMessage(alice, submitFrame(t, op))
	h.removeClient(alice)

	board, calls := saved.get("board_1")
	if calls != 1 || board == nil || len(board.Elements) != 2 {
		t.Fatalf("saved %d times: %+v", calls, board)
	}
	if _, ok := h.Room("board_1"); ok {
		t.Fatal("empty room kept")
	}
	if got := testutil.ToFloat64(m.Rooms); got != 0 {
		t.Fatalf("rooms = %v after close", got)
	}

	// A second unregister of the same client is ignored.
	h.removeClient(alice)
}

func TestHubLoadFailureClosesClient(t *testing.T) {
	h := newTestHub(&savedBoards{}, nil)
	c := NewClient(h, nil, "user_a", "Alice", "board_broken", "c1")
	h.addClient(c)

	got := drain(t, c)
	if len(got) != 1 || got[0].Type != TypeError {
		t.Fatalf("client received %v", types(got))
	}
	if _, ok := <-c.send; ok {
		t.Fatal("send channel left open")
	}
	if _, ok := h.Room("board_broken"); ok {
		t.Fatal("room created for an unloadable board")
	}
}

func TestHubLoadDoesNotBlockOtherRooms(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	h := NewHub(HubOptions{
		Load: func(_ context.Context, id string) (*document.Board, error) {
			if id == "board_slow" {
				close(started)
				<-release
			}
			return testBoard(shape("x", 0, 0)), nil
		},
	})
	h.addClient(NewClient(h, nil, "user_a", "Alice", "board_1", "c1"))

	joined := make(chan struct{})
	slow := NewClient(h, nil, "user_b", "Bob", "board_slow", "c2")
	go func() {
		h.addClient(slow)
		close(joined)
	}()
	<-started

	looked := make(chan bool)
	go func() {
		_, ok := h.Room("board_1")
		looked <- ok
	}()
	select {
	case ok := <-looked:
		if !ok {
			t.Fatal("board_1 room missing")
		}
	case <-time.After(time.Second):
		t.Fatal("Room() blocked behind a board load")
	}

	close(release)
	<-joined
	room, ok := h.Room("board_slow")
	if !ok {
		t.Fatal("slow board never got a room")
	}
	if _, ok := room.clients["c2"]; !ok {
		t.Fatal("slow client not in its room")
	}
}

func TestHubStopSavesDirtyRooms(t *testing.T) {
	saved := &savedBoards{}
	h := newTestHub(saved, nil)
	go h.Run()

	alice := NewClient(h, nil, "user_a", "Alice", "board_1", "c1")
	h.Register(alice)
	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := h.Room("board_1"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}

	op := Operation{ID: "op_1", Timestamp: 1, Payload: DeleteOp{ElementIDs: []string{"x"}}}
	h.handleMessage(alice, submitFrame(t, op))
	h.Stop()

	board, calls := saved.get("board_1")
	if calls != 1 || board == nil || len(board.Elements) != 0 {
		t.Fatalf("saved %d times: %+v", calls, board)
	}
}
