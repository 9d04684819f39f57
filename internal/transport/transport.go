package transport

import (
	"context"
	"encoding/json"
	"net/url"
)

// Server is the PRISMA backend as seen by the client: JSON over HTTP plus a
// push socket. Paths are relative to the configured base URL.
type Server interface {
	Get(ctx context.Context, path string, params url.Values) (json.RawMessage, error)
	Put(ctx context.Context, path string, body any) (json.RawMessage, error)
	Post(ctx context.Context, path string, body any) (json.RawMessage, error)
	Delete(ctx context.Context, path string) (json.RawMessage, error)

	// Socket dials the push channel. OnOpen runs once the connection is
	// established and before any message is delivered.
	Socket(ctx context.Context, path string, h Handlers) (Conn, error)
}

// Handlers are the push channel callbacks. Any of them may be nil.
type Handlers struct {
	OnOpen    func(conn Conn)
	OnMessage func(msg []byte)
	OnError   func(err error)
}

// Conn is an open push channel.
type Conn interface {
	Send(ctx context.Context, msg []byte) error
	Close() error
	State() ConnectionState
}

// ConnectionState represents the current state of a push connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota // 0 = down
	StateConnecting                          // 1 = connecting
	StateConnected                           // 2 = up
)

// String returns human-readable connection state
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Config for the HTTP/websocket client.
type Config struct {
	BaseURL           string
	TimeoutMs         int
	RequestsPerSecond float64
	Burst             int
}
