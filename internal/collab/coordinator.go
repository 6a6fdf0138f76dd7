package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inamate/planboard/internal/document"
	"github.com/inamate/planboard/internal/geometry"
	"github.com/inamate/planboard/internal/store"
	"github.com/inamate/planboard/internal/typeid"
)

// DefaultWatchdogTimeout is the silence after which a full resync is
// requested.
const DefaultWatchdogTimeout = 30 * time.Second

// Options configures a Coordinator.
type Options struct {
	BoardID         string
	UserID          string
	ClientID        string
	ConflictWindow  time.Duration
	WatchdogTimeout time.Duration
	DedupeSize      int
	Merge           MergeFunc
	Metrics         *Metrics
	Logger          *slog.Logger
	Now             func() time.Time
}

// Coordinator keeps one store in sync with the board server. Local changes
// become operations in an ordered outbox; remote operations are applied
// idempotently, with concurrent updates parked as conflicts.
type Coordinator struct {
	store     *store.Store
	transport Transport
	opts      Options
	logger    *slog.Logger

	// sendMu serializes transmission so the outbox drains in order.
	sendMu sync.Mutex

	mu          sync.Mutex
	state       ConnState
	closed      bool
	inflight    []Operation // sent, not acknowledged
	queue       []Operation // not sent yet
	seen        *recentIDs[struct{}]
	conflicts   []Conflict
	lastTraffic time.Time
	serverSeq   int64

	stateListeners    []func(ConnState)
	conflictListeners []func(Conflict)
	presenceListeners []func(Message)
}

// New wires a coordinator between s and t. It subscribes to s immediately;
// local changes made before Connect are queued.
func New(s *store.Store, t Transport, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if opts.UserID == "" {
		opts.UserID = "anon-" + uuid.NewString()[:8]
	}
	if opts.ConflictWindow <= 0 {
		opts.ConflictWindow = DefaultConflictWindow
	}
	if opts.WatchdogTimeout <= 0 {
		opts.WatchdogTimeout = DefaultWatchdogTimeout
	}

	c := &Coordinator{
		store:     s,
		transport: t,
		opts:      opts,
		logger:    opts.Logger.With("client", opts.ClientID),
		state:     StateDisconnected,
		seen:      newRecentIDs[struct{}](opts.DedupeSize),
	}
	t.OnMessage(c.handleFrame)
	t.OnClose(c.handleClose)
	s.Subscribe(c.onChange)
	return c
}

// UserID returns the user this coordinator speaks for.
func (c *Coordinator) UserID() string { return c.opts.UserID }

// State returns the connection state.
func (c *Coordinator) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ServerSeq returns the last server sequence seen in an ack or sync.
func (c *Coordinator) ServerSeq() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverSeq
}

// Outbox returns the unacknowledged operations in transmission order.
func (c *Coordinator) Outbox() []Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Concat(c.inflight, c.queue)
}

// Conflicts returns the unresolved conflicts, oldest first.
func (c *Coordinator) Conflicts() []Conflict {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.conflicts)
}

// OnStateChange registers fn to run on every connection state change.
func (c *Coordinator) OnStateChange(fn func(ConnState)) {
	c.mu.Lock()
	c.stateListeners = append(c.stateListeners, fn)
	c.mu.Unlock()
}

// OnConflict registers fn to run when a conflict is recorded.
func (c *Coordinator) OnConflict(fn func(Conflict)) {
	c.mu.Lock()
	c.conflictListeners = append(c.conflictListeners, fn)
	c.mu.Unlock()
}

// OnPresence registers fn for presence.* frames from the server.
func (c *Coordinator) OnPresence(fn func(Message)) {
	c.mu.Lock()
	c.presenceListeners = append(c.presenceListeners, fn)
	c.mu.Unlock()
}

// Connect opens the transport, flushes the outbox and requests a full
// state sync.
func (c *Coordinator) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	c.setState(StateConnecting)

	if err := c.transport.Connect(ctx); err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("connect transport: %w", err)
	}

	c.mu.Lock()
	c.lastTraffic = c.opts.Now()
	c.mu.Unlock()
	c.setState(StateConnected)

	c.flush(ctx)
	return c.RequestSync(ctx)
}

// Close shuts the transport down. Unacknowledged operations are kept.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	err := c.transport.Close()
	c.markDisconnected()
	return err
}

// RequestSync asks the server for the authoritative element array.
func (c *Coordinator) RequestSync(ctx context.Context) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.send(ctx, &Message{Type: TypeSyncRequest}); err != nil {
		c.markDisconnected()
		return fmt.Errorf("request sync: %w", err)
	}
	return nil
}

// UpdatePresence publishes the local cursor, in world coordinates, and
// selection. Presence is not buffered while disconnected.
func (c *Coordinator) UpdatePresence(ctx context.Context, cursor *geometry.Point, selection []string) error {
	p := PresencePayload{Selection: selection}
	if cursor != nil {
		p.Cursor = &CursorPos{X: cursor.X, Y: cursor.Y}
	}
	msg, err := newMessage(TypePresenceUpdate, p)
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.send(ctx, msg)
}

func (c *Coordinator) send(ctx context.Context, msg *Message) error {
	if !c.transport.Connected() {
		return ErrNotConnected
	}
	msg.BoardID = c.opts.BoardID
	msg.ClientID = c.opts.ClientID
	msg.UserID = c.opts.UserID
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.transport.Send(ctx, data)
}

func (c *Coordinator) onChange(change store.Change) {
	if !change.Origin.Local() {
		return
	}
	c.publish(PayloadsFromChange(change)...)
}

// publish wraps payloads into operations, queues them and tries to send.
func (c *Coordinator) publish(payloads ...Payload) {
	if len(payloads) == 0 {
		return
	}
	ts := c.opts.Now().UnixMilli()
	c.mu.Lock()
	for _, p := range payloads {
		op := Operation{
			ID:        typeid.NewOpID(),
			UserID:    c.opts.UserID,
			ClientID:  c.opts.ClientID,
			Timestamp: ts,
			Payload:   p,
		}
		c.seen.Add(op.ID, struct{}{})
		c.queue = append(c.queue, op)
	}
	depth := len(c.inflight) + len(c.queue)
	c.mu.Unlock()
	c.opts.Metrics.outbox(depth)

	c.flush(context.Background())
}

// flush drains the queue while connected. A flush already running on
// another goroutine picks up whatever was queued, so callers never wait on
// the network behind it.
func (c *Coordinator) flush(ctx context.Context) {
	for {
		if !c.sendMu.TryLock() {
			return
		}
		ok := c.drain(ctx)
		c.sendMu.Unlock()
		if !ok {
			return
		}
		c.mu.Lock()
		more := c.state == StateConnected && len(c.queue) > 0
		c.mu.Unlock()
		if !more {
			return
		}
	}
}

func (c *Coordinator) drain(ctx context.Context) bool {
	for {
		c.mu.Lock()
		if c.state != StateConnected || len(c.queue) == 0 {
			c.mu.Unlock()
			return true
		}
		op := c.queue[0]
		c.queue = c.queue[1:]
		c.inflight = append(c.inflight, op)
		c.mu.Unlock()

		msg, err := newMessage(TypeOpSubmit, OperationSubmitPayload{Operation: op})
		if err == nil {
			err = c.send(ctx, msg)
		}
		if err != nil {
			c.logger.Warn("send operation", "error", err, "operation", op.ID)
			c.markDisconnected()
			return false
		}
		c.opts.Metrics.sent(op.Payload.Kind())
	}
}

// markDisconnected moves in-flight operations back to the head of the
// queue so they are retransmitted first.
func (c *Coordinator) markDisconnected() {
	c.mu.Lock()
	c.queue = slices.Concat(c.inflight, c.queue)
	c.inflight = nil
	depth := len(c.queue)
	changed := c.state != StateDisconnected
	c.state = StateDisconnected
	listeners := c.stateListeners
	c.mu.Unlock()

	c.opts.Metrics.outbox(depth)
	if changed {
		for _, l := range listeners {
			l(StateDisconnected)
		}
	}
}

func (c *Coordinator) setState(s ConnState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	listeners := c.stateListeners
	c.mu.Unlock()
	for _, l := range listeners {
		l(s)
	}
}

func (c *Coordinator) handleClose(err error) {
	c.logger.Info("sync connection closed", "error", err)
	c.markDisconnected()
}

func (c *Coordinator) handleFrame(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("invalid message", "error", err)
		c.opts.Metrics.dropped("invalid")
		return
	}

	c.mu.Lock()
	c.lastTraffic = c.opts.Now()
	c.mu.Unlock()

	switch msg.Type {
	case TypeOpBroadcast:
		var p OperationBroadcastPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.logger.Warn("invalid operation", "error", err)
			c.opts.Metrics.dropped("invalid")
			return
		}
		if p.Operation.UserID == "" {
			p.Operation.UserID = p.UserID
		}
		c.ApplyRemote(p.Operation)
		c.advance(p.ServerSeq)
	case TypeOpAck:
		var p OperationAckPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.logger.Warn("invalid ack", "error", err)
			return
		}
		c.acknowledge(p.OperationID)
		c.advance(p.ServerSeq)
	case TypeOpNack:
		var p OperationNackPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.logger.Warn("invalid nack", "error", err)
			return
		}
		c.logger.Warn("operation rejected", "operation", p.OperationID, "reason", p.Reason)
		c.opts.Metrics.dropped("nack")
		c.acknowledge(p.OperationID)
	case TypeSyncState:
		c.handleSyncState(msg.Payload)
	case TypeWelcome:
		var p WelcomePayload
		if err := json.Unmarshal(msg.Payload, &p); err == nil {
			c.advance(p.ServerSeq)
		}
	case TypePresenceState, TypePresenceJoin, TypePresenceLeave, TypePresenceUpdate:
		c.mu.Lock()
		listeners := c.presenceListeners
		c.mu.Unlock()
		for _, l := range listeners {
			l(msg)
		}
	case TypeError:
		c.logger.Warn("server error", "payload", string(msg.Payload))
	default:
		c.logger.Debug("unknown message type", "type", msg.Type)
	}
}

func (c *Coordinator) advance(seq int64) {
	c.mu.Lock()
	c.serverSeq = max(c.serverSeq, seq)
	c.mu.Unlock()
}

func (c *Coordinator) acknowledge(opID string) {
	c.mu.Lock()
	c.inflight = slices.DeleteFunc(c.inflight, func(op Operation) bool { return op.ID == opID })
	c.queue = slices.DeleteFunc(c.queue, func(op Operation) bool { return op.ID == opID })
	depth := len(c.inflight) + len(c.queue)
	c.mu.Unlock()
	c.opts.Metrics.outbox(depth)
}

func (c *Coordinator) handleSyncState(raw json.RawMessage) {
	var p SyncStatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.logger.Warn("invalid sync state", "error", err)
		c.opts.Metrics.dropped("invalid")
		return
	}
	if err := document.ValidateElements(p.Elements); err != nil {
		c.logger.Warn("invalid sync state", "error", err)
		c.opts.Metrics.dropped("invalid")
		return
	}

	c.mu.Lock()
	pending := slices.Concat(c.inflight, c.queue)
	c.serverSeq = max(c.serverSeq, p.ServerSeq)
	c.mu.Unlock()

	c.store.ReplaceAll(p.Elements)
	// Local operations the server has not seen yet stay visible.
	for _, op := range pending {
		Apply(c.store, op.Payload)
	}
	c.logger.Debug("state synced", "elements", len(p.Elements), "pending", len(pending))
}

// isEcho reports whether op was produced by this coordinator. Frames from
// other tabs of the same user carry a different client id and are applied.
// Frames without a client id fall back to the user id.
func (c *Coordinator) isEcho(op Operation) bool {
	if op.ClientID != "" {
		return op.ClientID == c.opts.ClientID
	}
	return op.UserID == c.opts.UserID
}

// ApplyRemote integrates an operation from another client. Operations from
// the local user and already applied operation ids are dropped. It reports
// whether the store changed.
func (c *Coordinator) ApplyRemote(op Operation) bool {
	if c.isEcho(op) {
		c.opts.Metrics.dropped("echo")
		return false
	}
	c.mu.Lock()
	fresh := c.seen.Add(op.ID, struct{}{})
	c.mu.Unlock()
	if !fresh {
		c.opts.Metrics.dropped("duplicate")
		return false
	}

	var changed bool
	switch p := op.Payload.(type) {
	case UpdateOp:
		if cf, ok := c.conflictFor(op, p.Element); ok {
			c.record(cf)
			return false
		}
		changed = c.store.ApplyUpdate(p.Element)
	case BulkUpdateOp:
		keep := make([]document.CanvasElement, 0, len(p.Elements))
		for _, e := range p.Elements {
			if cf, ok := c.conflictFor(op, e); ok {
				c.record(cf)
				continue
			}
			keep = append(keep, e)
		}
		if len(keep) > 0 {
			changed = c.store.ApplyBulk(keep)
		}
	case DeleteOp:
		changed = c.store.ApplyDelete(p.ElementIDs)
		c.dropConflicts(p.ElementIDs)
	default:
		changed = Apply(c.store, p)
	}
	c.opts.Metrics.applied(op.Payload.Kind())
	return changed
}

// conflictFor reports whether remote lands within the conflict window of
// a local edit to the same element.
func (c *Coordinator) conflictFor(op Operation, remote document.CanvasElement) (Conflict, bool) {
	editedAt, ok := c.store.LastLocalEdit(remote.ID)
	if !ok {
		return Conflict{}, false
	}
	remoteAt := time.UnixMilli(op.Timestamp)
	if !concurrent(editedAt, remoteAt, c.opts.ConflictWindow) {
		return Conflict{}, false
	}
	local, ok := c.store.Get(remote.ID)
	if !ok || reflect.DeepEqual(local, remote) {
		return Conflict{}, false
	}
	return Conflict{
		Operation:     op,
		ElementID:     remote.ID,
		Local:         local,
		Remote:        remote.Clone(),
		LocalEditedAt: editedAt,
		RemoteAt:      remoteAt,
		DetectedAt:    c.opts.Now(),
	}, true
}

func (c *Coordinator) record(cf Conflict) {
	c.mu.Lock()
	c.conflicts = append(c.conflicts, cf)
	listeners := c.conflictListeners
	c.mu.Unlock()

	c.opts.Metrics.conflict()
	c.logger.Info("update conflict", "element", cf.ElementID, "operation", cf.Operation.ID, "user", cf.Operation.UserID)
	for _, l := range listeners {
		l(cf)
	}
}

func (c *Coordinator) dropConflicts(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflicts = slices.DeleteFunc(c.conflicts, func(cf Conflict) bool {
		return slices.Contains(ids, cf.ElementID)
	})
}

func (c *Coordinator) takeConflicts(opID string) []Conflict {
	c.mu.Lock()
	defer c.mu.Unlock()
	var taken []Conflict
	c.conflicts = slices.DeleteFunc(c.conflicts, func(cf Conflict) bool {
		if cf.Operation.ID == opID {
			taken = append(taken, cf)
			return true
		}
		return false
	})
	return taken
}

// Resolve settles the conflicts raised by operation opID. UserChoice leaves
// them listed and returns false.
func (c *Coordinator) Resolve(opID string, strategy Strategy) bool {
	if strategy == UserChoice {
		return false
	}
	taken := c.takeConflicts(opID)
	for _, cf := range taken {
		c.settle(cf, strategy)
	}
	return len(taken) > 0
}

// ResolveAll settles every listed conflict with strategy.
func (c *Coordinator) ResolveAll(strategy Strategy) int {
	if strategy == UserChoice {
		return 0
	}
	c.mu.Lock()
	all := c.conflicts
	c.conflicts = nil
	c.mu.Unlock()
	for _, cf := range all {
		c.settle(cf, strategy)
	}
	return len(all)
}

// Choose settles the conflicts of opID the way the user picked: the remote
// version, or the local one re-published to peers.
func (c *Coordinator) Choose(opID string, keepRemote bool) bool {
	taken := c.takeConflicts(opID)
	for _, cf := range taken {
		if keepRemote {
			c.store.ApplyUpdate(cf.Remote)
		} else {
			c.republish(cf.ElementID)
		}
	}
	return len(taken) > 0
}

func (c *Coordinator) settle(cf Conflict, strategy Strategy) {
	current, ok := c.store.Get(cf.ElementID)
	if !ok {
		return
	}
	if strategy == Merge && c.opts.Merge != nil {
		if merged, ok := c.opts.Merge(current, cf.Remote); ok {
			c.store.ApplyUpdate(merged)
			c.publish(UpdateOp{Element: merged})
			return
		}
	}

	localAt := cf.LocalEditedAt
	if t, ok := c.store.LastLocalEdit(cf.ElementID); ok && t.After(localAt) {
		localAt = t
	}
	remoteWins := cf.RemoteAt.After(localAt) ||
		(cf.RemoteAt.Equal(localAt) && cf.Operation.UserID > c.opts.UserID)
	if remoteWins {
		c.store.ApplyUpdate(cf.Remote)
		return
	}
	c.publish(UpdateOp{Element: current})
}

func (c *Coordinator) republish(id string) {
	if e, ok := c.store.Get(id); ok {
		c.publish(UpdateOp{Element: e})
	}
}

// CheckIdle requests a full resync when nothing has arrived for the
// watchdog timeout. It reports whether a resync was requested.
func (c *Coordinator) CheckIdle(now time.Time) bool {
	c.mu.Lock()
	idle := c.state == StateConnected && now.Sub(c.lastTraffic) >= c.opts.WatchdogTimeout
	if idle {
		c.lastTraffic = now
	}
	c.mu.Unlock()
	if !idle {
		return false
	}

	c.logger.Info("sync idle, requesting resync", "timeout", c.opts.WatchdogTimeout)
	if err := c.RequestSync(context.Background()); err != nil {
		c.logger.Warn("watchdog resync", "error", err)
	}
	return true
}

// RunWatchdog checks for idleness until ctx is done. While disconnected it
// tries to reconnect instead.
func (c *Coordinator) RunWatchdog(ctx context.Context) {
	ticker := time.NewTicker(max(c.opts.WatchdogTimeout/2, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			reconnect := c.state == StateDisconnected && !c.closed
			c.mu.Unlock()
			if reconnect {
				if err := c.Connect(ctx); err != nil {
					c.logger.Debug("reconnect", "error", err)
				}
				continue
			}
			c.CheckIdle(c.opts.Now())
		}
	}
}
