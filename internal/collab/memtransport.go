package collab

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/inamate/planboard/internal/document"
)

// MemoryRelay is an in-process stand-in for the board server. It keeps an
// authoritative DocumentState and delivers frames synchronously, which
// makes multi-client scenarios deterministic in tests and tools.
type MemoryRelay struct {
	mu        sync.Mutex
	doc       *DocumentState
	peers     []*MemoryTransport
	offline   bool
	submitted []string
}

// NewMemoryRelay starts a relay serving board. A nil board starts empty.
func NewMemoryRelay(board *document.Board) *MemoryRelay {
	return &MemoryRelay{doc: NewDocumentState(board)}
}

// Document returns the relay's authoritative state.
func (r *MemoryRelay) Document() *DocumentState { return r.doc }

// Submitted returns the operation ids received, in arrival order,
// duplicates included.
func (r *MemoryRelay) Submitted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.submitted)
}

// SetOffline makes Connect fail while offline is true.
func (r *MemoryRelay) SetOffline(offline bool) {
	r.mu.Lock()
	r.offline = offline
	r.mu.Unlock()
}

// NewTransport returns a disconnected transport attached to the relay.
func (r *MemoryRelay) NewTransport() *MemoryTransport {
	return &MemoryTransport{relay: r}
}

// Drop severs t without telling it; its next Send fails.
func (r *MemoryRelay) Drop(t *MemoryTransport) {
	r.detach(t)
}

// Kick severs t and runs its close handler.
func (r *MemoryRelay) Kick(t *MemoryTransport) {
	if r.detach(t) {
		if fn := t.closeHandler(); fn != nil {
			fn(ErrNotConnected)
		}
	}
}

// Inject delivers a raw frame to t as if the server had sent it.
func (r *MemoryRelay) Inject(t *MemoryTransport, data []byte) {
	t.deliver(data)
}

func (r *MemoryRelay) attach(t *MemoryTransport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return ErrNotConnected
	}
	if !slices.Contains(r.peers, t) {
		r.peers = append(r.peers, t)
	}
	return nil
}

func (r *MemoryRelay) detach(t *MemoryTransport) bool {
	r.mu.Lock()
	i := slices.Index(r.peers, t)
	if i >= 0 {
		r.peers = slices.Delete(r.peers, i, i+1)
	}
	r.mu.Unlock()
	t.setConnected(false)
	return i >= 0
}

func (r *MemoryRelay) others(from *MemoryTransport) []*MemoryTransport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*MemoryTransport, 0, len(r.peers))
	for _, p := range r.peers {
		if p != from {
			out = append(out, p)
		}
	}
	return out
}

// receive plays the part of the hub for one inbound frame.
func (r *MemoryRelay) receive(from *MemoryTransport, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	switch msg.Type {
	case TypeOpSubmit:
		var p OperationSubmitPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			reply, _ := newMessage(TypeError, ErrorPayload{Message: err.Error()})
			from.send(reply)
			return
		}
		op := p.Operation
		op.UserID = msg.UserID
		op.ClientID = msg.ClientID

		r.mu.Lock()
		r.submitted = append(r.submitted, op.ID)
		r.mu.Unlock()

		ack, broadcast, err := r.doc.Submit(op)
		if err != nil {
			return
		}
		from.send(ack)
		if broadcast != nil {
			for _, peer := range r.others(from) {
				peer.send(broadcast)
			}
		}
	case TypeSyncRequest:
		state, err := r.doc.StateMessage()
		if err != nil {
			return
		}
		from.send(state)
	case TypePresenceUpdate:
		for _, peer := range r.others(from) {
			peer.send(&msg)
		}
	}
}

// MemoryTransport is one client's end of a MemoryRelay.
type MemoryTransport struct {
	relay *MemoryRelay

	mu        sync.Mutex
	connected bool
	onMessage func([]byte)
	onClose   func(error)
	sent      int
}

func (t *MemoryTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.relay.attach(t); err != nil {
		return err
	}
	t.setConnected(true)
	return nil
}

func (t *MemoryTransport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return ErrNotConnected
	}
	t.sent++
	t.mu.Unlock()

	t.relay.receive(t, data)
	return nil
}

func (t *MemoryTransport) OnMessage(fn func([]byte)) {
	t.mu.Lock()
	t.onMessage = fn
	t.mu.Unlock()
}

func (t *MemoryTransport) OnClose(fn func(error)) {
	t.mu.Lock()
	t.onClose = fn
	t.mu.Unlock()
}

func (t *MemoryTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *MemoryTransport) Close() error {
	t.relay.detach(t)
	return nil
}

// Sent returns how many frames were handed to the relay.
func (t *MemoryTransport) Sent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent
}

func (t *MemoryTransport) setConnected(v bool) {
	t.mu.Lock()
	t.connected = v
	t.mu.Unlock()
}

func (t *MemoryTransport) closeHandler() func(error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onClose
}

func (t *MemoryTransport) send(msg *Message) {
	if msg == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	t.deliver(data)
}

func (t *MemoryTransport) deliver(data []byte) {
	t.mu.Lock()
	fn := t.onMessage
	ok := t.connected
	t.mu.Unlock()
	if ok && fn != nil {
		fn(data)
	}
}
