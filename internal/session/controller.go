package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/observ"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/store"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/transaction"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/transport"
)

// PushHandler consumes the push channel the controller owns.
type PushHandler interface {
	HandleOpen()
	HandleMessage(msg []byte)
	HandleError(err error)
	HandleClose()
}

type Config struct {
	SessionPath    string
	PasswordPath   string
	SocketPath     string
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Controller drives the session lifecycle and the push channel tied to it.
// One instance per process: its backoff sequence is shared by every
// session fetch.
type Controller struct {
	server transport.Server
	d      store.Dispatcher
	state  func() State
	tx     *transaction.Manager
	cfg    Config
	sched  Scheduler

	mu      sync.Mutex
	backoff *Backoff
	retry   Timer
	push    PushHandler

	chanMu sync.Mutex // serialises channel open/close
	conn   transport.Conn
}

type Option func(*Controller)

// WithScheduler replaces time.AfterFunc for retry scheduling.
func WithScheduler(s Scheduler) Option {
	return func(c *Controller) { c.sched = s }
}

func NewController(server transport.Server, d store.Dispatcher, state func() State, tx *transaction.Manager, cfg Config, opts ...Option) *Controller {
	if cfg.SessionPath == "" {
		cfg.SessionPath = "/auth/session"
	}
	if cfg.PasswordPath == "" {
		cfg.PasswordPath = "/auth/password"
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = "/ws"
	}
	if cfg.BackoffInitial == 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 30 * time.Second
	}

	c := &Controller{
		server:  server,
		d:       d,
		state:   state,
		tx:      tx,
		cfg:     cfg,
		sched:   realScheduler{},
		backoff: NewBackoff(cfg.BackoffInitial, cfg.BackoffMax),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetPushHandler installs the consumer of push channel events.
func (c *Controller) SetPushHandler(h PushHandler) {
	c.mu.Lock()
	c.push = h
	c.mu.Unlock()
}

func (c *Controller) pushHandler() PushHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.push
}

// GetSession fetches the current session. A network failure records the
// connection error and schedules another attempt with exponential backoff;
// any answer from the server resets the backoff.
func (c *Controller) GetSession(ctx context.Context) error {
	raw, err := c.server.Get(ctx, c.cfg.SessionPath, nil)
	if err != nil {
		if transport.IsNetworkError(err) {
			c.d.Dispatch(ConnectionLost{Err: err})
			c.scheduleRetry(ctx, err)
			return err
		}
		c.resetBackoff()
		c.d.Dispatch(ReadFailure{Err: err})
		observ.SetGauge("session_connection_error", 0, nil)
		return err
	}

	c.resetBackoff()
	p, err := decodePayload(raw)
	if err != nil {
		c.d.Dispatch(ReadFailure{Err: err})
		return err
	}
	c.d.Dispatch(ReadSuccess{Session: p, Raw: raw})
	c.publishGauges()
	return c.OpenChannel(ctx)
}

func (c *Controller) scheduleRetry(ctx context.Context, cause error) {
	c.mu.Lock()
	delay := c.backoff.Next()
	attempt := c.backoff.Attempts()
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = c.sched.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		_ = c.GetSession(ctx)
	})
	c.mu.Unlock()

	observ.SetGauge("session_connection_error", 1, nil)
	observ.IncCounter("session_reconnect_attempts_total", nil)
	observ.Log("session_fetch_retry", map[string]any{
		"attempt":  attempt,
		"delay_ms": delay.Milliseconds(),
		"error":    cause,
	})
}

func (c *Controller) resetBackoff() {
	c.mu.Lock()
	c.backoff.Reset()
	c.mu.Unlock()
}

// CreateSession logs in under the tracked transaction txID.
func (c *Controller) CreateSession(ctx context.Context, txID string, creds Credentials) error {
	_, err := c.tx.Track(ctx, txID, func(ctx context.Context) (any, error) {
		raw, err := c.server.Post(ctx, c.cfg.SessionPath, creds)
		if err != nil {
			c.d.Dispatch(CreateFailure{Err: err})
			return nil, err
		}
		p, err := decodePayload(raw)
		if err != nil {
			c.d.Dispatch(CreateFailure{Err: err})
			return nil, err
		}
		c.d.Dispatch(CreateSuccess{Session: p, Raw: raw})
		c.publishGauges()
		observ.Log("session_created", map[string]any{"user": creds.UserName, "password_change": RequiresPasswordChange(p.Permissions)})

		if err := c.OpenChannel(ctx); err != nil {
			observ.Log("push_channel_open_failed", map[string]any{"error": err})
		}
		return p, nil
	})
	return err
}

// UpdatePassword changes the password and logs in again with the new one.
func (c *Controller) UpdatePassword(ctx context.Context, txID string, change PasswordChange) error {
	_, err := c.tx.Track(ctx, txID, func(ctx context.Context) (any, error) {
		return c.server.Put(ctx, c.cfg.PasswordPath, change)
	})
	if err != nil {
		return err
	}
	return c.CreateSession(ctx, txID, Credentials{UserName: change.UserName, Token: change.NewPassword})
}

// DeleteSession logs out. The local session is reset whatever the server
// answers.
func (c *Controller) DeleteSession(ctx context.Context) error {
	_, err := c.server.Delete(ctx, c.cfg.SessionPath)
	c.CloseChannel()
	c.d.Dispatch(TerminateSuccess{})
	c.publishGauges()
	if err != nil {
		observ.Log("session_delete_failed", map[string]any{"error": err})
	}
	return err
}

// RequiresPasswordChange reports the password-must-change sub-mode.
func (c *Controller) RequiresPasswordChange() bool {
	return c.state().RequiresPasswordChange()
}

// OpenChannel (re)opens the push channel. An open channel is closed first;
// nothing is opened while the session is idled.
func (c *Controller) OpenChannel(ctx context.Context) error {
	c.chanMu.Lock()
	defer c.chanMu.Unlock()

	st := c.state()
	if st.Status == StatusIdled {
		observ.Debug("push_channel_skipped_idle", nil)
		return nil
	}
	c.closeLocked()

	hello := st.Raw
	if len(hello) == 0 {
		b, err := json.Marshal(Payload{Permissions: st.Permissions, User: st.User})
		if err != nil {
			return fmt.Errorf("marshal handshake: %w", err)
		}
		hello = b
	}

	c.d.Dispatch(SocketConnecting{})
	push := c.pushHandler()
	var self transport.Conn
	conn, err := c.server.Socket(ctx, c.cfg.SocketPath, transport.Handlers{
		OnOpen: func(conn transport.Conn) {
			self = conn
			if err := conn.Send(ctx, hello); err != nil {
				observ.Log("push_channel_handshake_failed", map[string]any{"error": err})
			}
			if push != nil {
				push.HandleOpen()
			}
		},
		OnMessage: func(msg []byte) {
			if push != nil {
				push.HandleMessage(msg)
			}
		},
		OnError: func(err error) {
			c.detach(self)
			if push != nil {
				push.HandleError(err)
			} else {
				c.d.Dispatch(SocketFailed{Err: err})
			}
		},
	})
	if err != nil {
		c.d.Dispatch(SocketFailed{Err: err})
		return fmt.Errorf("open push channel: %w", err)
	}

	c.conn = conn
	c.d.Dispatch(SocketOpened{})
	observ.Log("push_channel_opened", map[string]any{"path": c.cfg.SocketPath})
	return nil
}

// CloseChannel closes the push channel if one is open.
func (c *Controller) CloseChannel() {
	c.chanMu.Lock()
	defer c.chanMu.Unlock()
	c.closeLocked()
}

func (c *Controller) closeLocked() {
	if c.conn == nil {
		return
	}
	conn := c.conn
	c.conn = nil
	_ = conn.Close()
	if push := c.pushHandler(); push != nil {
		push.HandleClose()
	}
	c.d.Dispatch(SocketClosed{})
	observ.Log("push_channel_closed", nil)
}

// detach forgets conn after it failed on its own.
func (c *Controller) detach(conn transport.Conn) {
	c.chanMu.Lock()
	defer c.chanMu.Unlock()
	if conn != nil && c.conn == conn {
		c.conn = nil
	}
}

// Stop cancels a pending retry and closes the push channel.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.mu.Unlock()
	c.CloseChannel()
}

func (c *Controller) publishGauges() {
	st := c.state()
	v := 0.0
	if st.Authenticated() {
		v = 1
	}
	observ.SetGauge("session_authenticated", v, nil)
	if st.ConnectionError == nil {
		observ.SetGauge("session_connection_error", 0, nil)
	}
}

func decodePayload(raw json.RawMessage) (Payload, error) {
	var p Payload
	if len(raw) == 0 {
		return p, fmt.Errorf("empty session document")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode session: %w", err)
	}
	return p, nil
}
