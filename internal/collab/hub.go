package collab

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/inamate/planboard/internal/document"
)

// DefaultAutosaveInterval is how often dirty rooms are persisted.
const DefaultAutosaveInterval = 30 * time.Second

// BoardLoader returns the persisted board, or nil for a board with no
// snapshot yet.
type BoardLoader func(ctx context.Context, boardID string) (*document.Board, error)

// BoardSaver persists a board.
type BoardSaver func(ctx context.Context, boardID string, board *document.Board) error

type HubOptions struct {
	Load             BoardLoader
	Save             BoardSaver
	AutosaveInterval time.Duration
	Metrics          *Metrics
	Logger           *slog.Logger
}

// Room is the set of clients editing one board plus its authoritative
// state.
type Room struct {
	boardID  string
	clients  map[string]*Client // clientID -> client
	presence *PresenceManager
	doc      *DocumentState
}

func NewRoom(boardID string, board *document.Board) *Room {
	return &Room{
		boardID:  boardID,
		clients:  make(map[string]*Client),
		presence: NewPresenceManager(),
		doc:      NewDocumentState(board),
	}
}

// Document returns the room's authoritative state.
func (r *Room) Document() *DocumentState { return r.doc }

type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]*Room // boardID -> room
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	done       chan struct{}
	opts       HubOptions
	logger     *slog.Logger
}

func NewHub(opts HubOptions) *Hub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AutosaveInterval <= 0 {
		opts.AutosaveInterval = DefaultAutosaveInterval
	}
	return &Hub{
		rooms:      make(map[string]*Room),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		opts:       opts,
		logger:     opts.Logger,
	}
}

// Run serves registrations and autosaves until Stop is called.
func (h *Hub) Run() {
	defer close(h.done)
	ticker := time.NewTicker(h.opts.AutosaveInterval)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case <-ticker.C:
			h.saveAll()
		case <-h.stop:
			h.saveAll()
			return
		}
	}
}

// Stop saves every dirty room and ends Run.
func (h *Hub) Stop() {
	close(h.stop)
	<-h.done
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Room returns the live room for boardID.
func (h *Hub) Room(boardID string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[boardID]
	return r, ok
}

func (h *Hub) addClient(client *Client) {
	room, existed := h.Room(client.BoardID)
	if !existed {
		// The lock is not held while loading so other rooms keep broadcasting.
		board, err := h.load(client.BoardID)
		if err != nil {
			h.logger.Error("load board", "error", err, "board", client.BoardID)
			if msg, err := newMessage(TypeError, ErrorPayload{Message: "board unavailable"}); err == nil {
				client.Send(msg)
			}
			client.closeSend()
			return
		}
		room = NewRoom(client.BoardID, board)
	}

	h.mu.Lock()
	if live, ok := h.rooms[client.BoardID]; ok {
		room = live
	} else {
		h.rooms[client.BoardID] = room
	}
	room.clients[client.ClientID] = client
	h.mu.Unlock()
	h.opts.Metrics.clientJoined(!existed)

	if msg, err := newMessage(TypeWelcome, WelcomePayload{
		ClientID:  client.ClientID,
		UserID:    client.UserID,
		ServerSeq: room.doc.ServerSeq(),
	}); err == nil {
		client.Send(msg)
	}

	// Send current presence state to new client
	if msg, err := room.presence.StateMessage(); err == nil {
		client.Send(msg)
	} else {
		h.logger.Error("marshal presence state", "error", err)
	}

	// Broadcast join to other clients
	joinPayload, _ := json.Marshal(PresenceJoinPayload{
		UserID:      client.UserID,
		DisplayName: client.DisplayName,
	})
	joinMsg := &Message{
		Type:    TypePresenceJoin,
		UserID:  client.UserID,
		Payload: joinPayload,
	}
	h.broadcastToRoom(client.BoardID, joinMsg, client.ClientID)

	h.logger.Info("client joined", "user", client.UserID, "board", client.BoardID)
}

func (h *Hub) load(boardID string) (*document.Board, error) {
	if h.opts.Load == nil {
		return nil, nil
	}
	return h.opts.Load(context.Background(), boardID)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	room, ok := h.rooms[client.BoardID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := room.clients[client.ClientID]; !ok {
		h.mu.Unlock()
		return
	}

	delete(room.clients, client.ClientID)
	client.closeSend()
	room.presence.Remove(client.UserID)

	closed := len(room.clients) == 0
	if closed {
		delete(h.rooms, client.BoardID)
	}
	h.mu.Unlock()
	h.opts.Metrics.clientLeft(closed)

	if closed {
		h.saveRoom(room)
	}

	// Broadcast leave to remaining clients
	leavePayload, _ := json.Marshal(PresenceLeavePayload{
		UserID: client.UserID,
	})
	leaveMsg := &Message{
		Type:    TypePresenceLeave,
		UserID:  client.UserID,
		Payload: leavePayload,
	}
	h.broadcastToRoom(client.BoardID, leaveMsg, "")

	h.logger.Info("client left", "user", client.UserID, "board", client.BoardID)
}

func (h *Hub) saveAll() {
	h.mu.RLock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()

	for _, r := range rooms {
		h.saveRoom(r)
	}
}

func (h *Hub) saveRoom(room *Room) {
	if h.opts.Save == nil || !room.doc.Dirty() {
		return
	}
	board, seq := room.doc.Snapshot()
	if err := h.opts.Save(context.Background(), room.boardID, board); err != nil {
		h.logger.Error("save board", "error", err, "board", room.boardID)
		return
	}
	room.doc.MarkSaved(seq)
	h.logger.Debug("board saved", "board", room.boardID, "seq", seq, "elements", len(board.Elements))
}

func (h *Hub) handleMessage(sender *Client, msg *Message) {
	switch msg.Type {
	case TypeOpSubmit:
		h.handleOpSubmit(sender, msg)
	case TypeSyncRequest:
		h.handleSyncRequest(sender)
	case TypePresenceUpdate:
		h.handlePresenceUpdate(sender, msg)
	default:
		h.logger.Warn("unknown message type", "type", msg.Type, "user", sender.UserID)
	}
}

func (h *Hub) handleOpSubmit(sender *Client, msg *Message) {
	room, ok := h.Room(sender.BoardID)
	if !ok {
		return
	}

	var payload OperationSubmitPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		h.logger.Warn("invalid operation", "error", err, "user", sender.UserID)
		h.opts.Metrics.dropped("invalid")
		var loose struct {
			Operation struct {
				OperationID string `json:"operationId"`
			} `json:"operation"`
		}
		_ = json.Unmarshal(msg.Payload, &loose)
		reason := err.Error()
		if nack, err := newMessage(TypeOpNack, OperationNackPayload{
			OperationID: loose.Operation.OperationID,
			Reason:      reason,
		}); err == nil {
			sender.Send(nack)
		}
		return
	}

	op := payload.Operation
	if sender.ReadOnly {
		h.opts.Metrics.dropped("read_only")
		if nack, err := newMessage(TypeOpNack, OperationNackPayload{
			OperationID: op.ID,
			Reason:      "read-only access",
		}); err == nil {
			sender.Send(nack)
		}
		return
	}
	op.UserID = sender.UserID
	op.ClientID = sender.ClientID

	ack, broadcast, err := room.doc.Submit(op)
	if err != nil {
		h.logger.Error("submit operation", "error", err, "operation", op.ID)
		return
	}
	sender.Send(ack)
	if broadcast == nil {
		return
	}
	h.opts.Metrics.applied(op.Payload.Kind())
	if d, ok := op.Payload.(DeleteOp); ok {
		room.presence.Prune(d.ElementIDs)
	}
	h.broadcastToRoom(sender.BoardID, broadcast, sender.ClientID)
}

func (h *Hub) handleSyncRequest(sender *Client) {
	room, ok := h.Room(sender.BoardID)
	if !ok {
		return
	}
	state, err := room.doc.StateMessage()
	if err != nil {
		h.logger.Error("marshal sync state", "error", err, "board", sender.BoardID)
		return
	}
	sender.Send(state)
}

func (h *Hub) handlePresenceUpdate(sender *Client, msg *Message) {
	var presence PresencePayload
	if err := json.Unmarshal(msg.Payload, &presence); err != nil {
		h.logger.Warn("invalid presence payload", "error", err)
		return
	}

	presence.DisplayName = sender.DisplayName

	room, ok := h.Room(sender.BoardID)
	if !ok {
		return
	}

	merged := room.presence.Update(sender.UserID, &presence)

	// Broadcast to other clients in room
	outPayload, _ := json.Marshal(merged)
	outMsg := &Message{
		Type:    TypePresenceUpdate,
		UserID:  sender.UserID,
		Payload: outPayload,
	}
	h.broadcastToRoom(sender.BoardID, outMsg, sender.ClientID)
}

func (h *Hub) broadcastToRoom(boardID string, msg *Message, excludeClientID string) {
	h.mu.RLock()
	room, ok := h.rooms[boardID]
	if !ok {
		h.mu.RUnlock()
		return
	}

	clients := make([]*Client, 0, len(room.clients))
	for _, c := range room.clients {
		if c.ClientID != excludeClientID {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Send(msg)
	}
}
