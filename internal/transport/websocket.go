package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/observ"
)

const maxMessageSize = 4 << 20

// Socket dials the push channel at path, reusing the client's cookie jar.
func (c *HTTPClient) Socket(ctx context.Context, path string, h Handlers) (Conn, error) {
	target := c.resolve(path, nil)
	switch {
	case strings.HasPrefix(target, "https://"):
		target = "wss://" + strings.TrimPrefix(target, "https://")
	case strings.HasPrefix(target, "http://"):
		target = "ws://" + strings.TrimPrefix(target, "http://")
	}

	// The dial is bounded by ctx; a client Timeout would also cut the
	// upgraded connection.
	dialer := *c.client
	dialer.Timeout = 0
	dialCtx, cancel := context.WithTimeout(ctx, c.client.Timeout)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, target, &websocket.DialOptions{HTTPClient: &dialer})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("dial %s: %w", path, ctx.Err())
		}
		return nil, fmt.Errorf("%w: dial %s: %v", ErrNetwork, path, err)
	}
	ws.SetReadLimit(maxMessageSize)

	return startConnection(ws, h), nil
}

type connection struct {
	ws       *websocket.Conn
	handlers Handlers
	state    int32 // atomic ConnectionState

	ctx       context.Context
	cancel    context.CancelFunc
	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func startConnection(ws *websocket.Conn, h Handlers) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		ws:       ws,
		handlers: h,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	atomic.StoreInt32(&c.state, int32(StateConnected))
	observ.SetGauge("push_channel_state", float64(StateConnected), nil)

	if h.OnOpen != nil {
		h.OnOpen(c)
	}
	go c.readPump()
	return c
}

// readPump delivers messages in arrival order until the socket fails or is closed.
func (c *connection) readPump() {
	defer close(c.done)
	for {
		typ, msg, err := c.ws.Read(c.ctx)
		if err != nil {
			if !c.closing.Load() {
				observ.Log("push_channel_read_failed", map[string]any{"error": err})
				if c.handlers.OnError != nil {
					c.handlers.OnError(err)
				}
			}
			c.shutdown(websocket.StatusInternalError, "read failed")
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			continue
		}
		observ.IncCounter("push_messages_received_total", nil)
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(msg)
		}
	}
}

// Send is safe for concurrent use.
func (c *connection) Send(ctx context.Context, msg []byte) error {
	if c.State() != StateConnected {
		return errors.New("push channel is closed")
	}
	if err := c.ws.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("push channel write: %w", err)
	}
	return nil
}

// Close shuts the socket down. It does not invoke OnError.
func (c *connection) Close() error {
	c.closing.Store(true)
	c.shutdown(websocket.StatusNormalClosure, "")
	return nil
}

func (c *connection) shutdown(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.state, int32(StateDisconnected))
		observ.SetGauge("push_channel_state", float64(StateDisconnected), nil)
		_ = c.ws.Close(code, reason)
		c.cancel()
	})
}

func (c *connection) State() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&c.state))
}

// Done is closed once the read loop has exited.
func (c *connection) Done() <-chan struct{} {
	return c.done
}
