package stubs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/observ"
)

// Hub fans envelopes out to every connected push client.
type Hub struct {
	clients   map[*client]struct{}
	clientsMu sync.RWMutex
}

type client struct {
	user string
	ws   *websocket.Conn
	out  chan []byte
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// serve owns ws until the peer goes away. The first client message is the
// session handshake.
func (h *Hub) serve(ctx context.Context, user string, ws *websocket.Conn) {
	c := &client{user: user, ws: ws, out: make(chan []byte, 100)}
	h.clientsMu.Lock()
	h.clients[c] = struct{}{}
	h.clientsMu.Unlock()
	observ.Log("stub_push_client_connected", map[string]any{"user": user})

	defer func() {
		h.clientsMu.Lock()
		delete(h.clients, c)
		h.clientsMu.Unlock()
		observ.Log("stub_push_client_disconnected", map[string]any{"user": user})
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		for {
			_, msg, err := ws.Read(ctx)
			if err != nil {
				return
			}
			observ.Debug("stub_push_client_message", map[string]any{"user": user, "bytes": len(msg)})
		}
	}()

	for {
		select {
		case <-ctx.Done():
			ws.Close(websocket.StatusNormalClosure, "")
			return
		case msg := <-c.out:
			wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
			err := ws.Write(wctx, websocket.MessageText, msg)
			wcancel()
			if err != nil {
				return
			}
		}
	}
}

// Broadcast sends envelope to all clients. Clients whose queue is full miss
// it.
func (h *Hub) Broadcast(envelope any) error {
	return h.send(envelope, func(*client) bool { return true })
}

// SendTo sends envelope to the clients of one user.
func (h *Hub) SendTo(user string, envelope any) error {
	return h.send(envelope, func(c *client) bool { return c.user == user })
}

func (h *Hub) send(envelope any, match func(*client) bool) error {
	msg, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	for c := range h.clients {
		if !match(c) {
			continue
		}
		select {
		case c.out <- msg:
		default:
			observ.Log("stub_push_dropped", map[string]any{"user": c.user})
		}
	}
	return nil
}

// Disconnect closes every connection of user.
func (h *Hub) Disconnect(user string) {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for c := range h.clients {
		if c.user == user {
			c.ws.Close(websocket.StatusPolicyViolation, "session terminated")
		}
	}
}

// Connected returns the number of connected clients.
func (h *Hub) Connected() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}
