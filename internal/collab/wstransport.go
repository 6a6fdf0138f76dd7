package collab

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// clientReadLimit bounds inbound frames on the client side, where full
// sync.state payloads arrive.
const clientReadLimit = 8 << 20

// WSTransport is a Transport over a websocket connection to the board
// server.
type WSTransport struct {
	url    string
	dial   *websocket.DialOptions
	logger *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	cancel    context.CancelFunc
	onMessage func([]byte)
	onClose   func(error)
}

// NewWSTransport returns a transport that dials url on Connect. dial may be
// nil.
func NewWSTransport(url string, dial *websocket.DialOptions, logger *slog.Logger) *WSTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSTransport{url: url, dial: dial, logger: logger}
}

func (t *WSTransport) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, t.url, t.dial)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.url, err)
	}
	conn.SetReadLimit(clientReadLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	if t.conn != nil {
		t.conn.Close(websocket.StatusNormalClosure, "")
	}
	t.conn = conn
	t.cancel = cancel
	t.mu.Unlock()

	go t.readLoop(readCtx, conn)
	return nil
}

func (t *WSTransport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.mu.Lock()
			current := t.conn == conn
			if current {
				t.conn = nil
			}
			onClose := t.onClose
			t.mu.Unlock()

			if current && ctx.Err() == nil {
				t.logger.Debug("websocket read", "error", err)
				if onClose != nil {
					onClose(err)
				}
			}
			return
		}

		t.mu.Lock()
		fn := t.onMessage
		t.mu.Unlock()
		if fn != nil {
			fn(data)
		}
	}
}

func (t *WSTransport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (t *WSTransport) OnMessage(fn func([]byte)) {
	t.mu.Lock()
	t.onMessage = fn
	t.mu.Unlock()
}

func (t *WSTransport) OnClose(fn func(error)) {
	t.mu.Lock()
	t.onClose = fn
	t.mu.Unlock()
}

func (t *WSTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	conn, cancel := t.conn, t.cancel
	t.conn, t.cancel = nil, nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "")
}
