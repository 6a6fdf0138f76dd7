package collab

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by a Transport that has no open connection.
var ErrNotConnected = errors.New("transport not connected")

// Transport carries serialized frames between a Coordinator and the board
// server. Delivery is at-least-once and unordered across reconnects.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, data []byte) error
	// OnMessage sets the inbound frame handler. It may be called from the
	// transport's own goroutine.
	OnMessage(fn func(data []byte))
	// OnClose sets the handler for a connection lost after Connect.
	OnClose(fn func(err error))
	Connected() bool
	Close() error
}

// ConnState is the coordinator's view of its connection.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)
