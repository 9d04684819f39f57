// Package transporttest provides an in-memory transport.Server for tests.
package transporttest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/transport"
)

// Call is one request observed by Server.
type Call struct {
	Method string
	Path   string
	Params url.Values
	Body   any
}

type response struct {
	data json.RawMessage
	err  error
}

// Server answers requests from canned responses keyed by "METHOD path".
// A key with several responses replays them in order and then repeats the
// last one. Unknown keys answer 404.
type Server struct {
	mu        sync.Mutex
	responses map[string][]response
	calls     []Call

	// SocketErr, when set, fails every Socket dial.
	SocketErr error
	conns     []*Conn
}

func New() *Server {
	return &Server{responses: make(map[string][]response)}
}

// Respond queues a JSON answer. v may be a string, []byte or any value that
// marshals to JSON.
func (s *Server) Respond(method, path string, v any) *Server {
	var data json.RawMessage
	switch b := v.(type) {
	case nil:
	case string:
		data = json.RawMessage(b)
	case []byte:
		data = json.RawMessage(b)
	case json.RawMessage:
		data = b
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			panic(err)
		}
		data = raw
	}
	return s.push(method, path, response{data: data})
}

// Fail queues an error answer.
func (s *Server) Fail(method, path string, err error) *Server {
	return s.push(method, path, response{err: err})
}

func (s *Server) push(method, path string, r response) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	s.responses[key] = append(s.responses[key], r)
	return s
}

func (s *Server) answer(c Call) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
	key := c.Method + " " + c.Path
	queue := s.responses[key]
	if len(queue) == 0 {
		return nil, &transport.Error{Status: 404, StatusText: "Not Found", Err: fmt.Errorf("no response for %s", key)}
	}
	r := queue[0]
	if len(queue) > 1 {
		s.responses[key] = queue[1:]
	}
	return r.data, r.err
}

// Calls returns the requests seen so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Count returns how many times "METHOD path" was requested.
func (s *Server) Count(method, path string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) Get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	return s.answer(Call{Method: "GET", Path: path, Params: params})
}

func (s *Server) Put(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return s.answer(Call{Method: "PUT", Path: path, Body: body})
}

func (s *Server) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return s.answer(Call{Method: "POST", Path: path, Body: body})
}

func (s *Server) Delete(ctx context.Context, path string) (json.RawMessage, error) {
	return s.answer(Call{Method: "DELETE", Path: path})
}

// Socket opens a Conn immediately, calling OnOpen before returning.
func (s *Server) Socket(ctx context.Context, path string, h transport.Handlers) (transport.Conn, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: "SOCKET", Path: path})
	if s.SocketErr != nil {
		err := s.SocketErr
		s.mu.Unlock()
		return nil, err
	}
	c := &Conn{h: h, state: transport.StateConnected}
	s.conns = append(s.conns, c)
	s.mu.Unlock()

	if h.OnOpen != nil {
		h.OnOpen(c)
	}
	return c, nil
}

// Conns returns every socket opened so far.
func (s *Server) Conns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Conn(nil), s.conns...)
}

// Conn is a fake push connection driven by the test.
type Conn struct {
	mu     sync.Mutex
	h      transport.Handlers
	state  transport.ConnectionState
	sent   [][]byte
	closed bool
}

func (c *Conn) Send(ctx context.Context, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("send on closed connection")
	}
	c.sent = append(c.sent, append([]byte(nil), msg...))
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.state = transport.StateDisconnected
	return nil
}

func (c *Conn) State() transport.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Sent returns the messages written by the client.
func (c *Conn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Deliver pushes a server message to the client.
func (c *Conn) Deliver(msg string) {
	if c.h.OnMessage != nil {
		c.h.OnMessage([]byte(msg))
	}
}

// Drop fails the connection as if the server went away.
func (c *Conn) Drop(err error) {
	c.mu.Lock()
	c.closed = true
	c.state = transport.StateDisconnected
	c.mu.Unlock()
	if c.h.OnError != nil {
		c.h.OnError(err)
	}
}
