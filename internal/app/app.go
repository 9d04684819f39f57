// Package app wires the client components around one store.
package app

import (
	"context"
	"fmt"
	"net/url"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/config"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/envelope"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/multicast"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/notice"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/observ"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/outbox"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/session"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/store"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/transaction"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/transport"
)

type App struct {
	Store     *store.Store[State]
	Server    transport.Server
	Tx        *transaction.Manager
	Session   *session.Controller
	Envelopes *envelope.Dispatcher
	Forwarder *multicast.Forwarder
	Outbox    *outbox.Outbox

	unsubscribe func()
}

// New builds the client against the configured backend.
func New(cfg config.Root, opts ...session.Option) (*App, error) {
	client, err := transport.NewHTTPClient(transport.Config{
		BaseURL:           cfg.Server.BaseURL,
		TimeoutMs:         cfg.Server.TimeoutMs,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Burst:             cfg.Server.Burst,
	})
	if err != nil {
		return nil, err
	}
	return NewWithServer(cfg, client, opts...)
}

// NewWithServer builds the client on an existing transport.
func NewWithServer(cfg config.Root, server transport.Server, opts ...session.Option) (*App, error) {
	a := &App{Server: server}

	var mw []store.Middleware
	if cfg.Outbox.Enabled {
		ob, err := outbox.New(cfg.Outbox.Path)
		if err != nil {
			return nil, fmt.Errorf("outbox: %w", err)
		}
		a.Outbox = ob
		mw = append(mw, ob.Middleware(multicast.Journaled))
	}
	a.Store = store.New(Initial(), Reduce, mw...)

	a.Tx = transaction.NewManager(a.Store)
	a.Session = session.NewController(server, a.Store, a.SessionState, a.Tx, session.Config{
		SessionPath:    cfg.Server.SessionPath,
		PasswordPath:   cfg.Server.PasswordPath,
		SocketPath:     cfg.Server.SocketPath,
		BackoffInitial: cfg.Session.BackoffInitial(),
		BackoffMax:     cfg.Session.BackoffMax(),
	}, opts...)
	a.Envelopes = envelope.New(a.Store, server, a.Tx, envelope.Config{
		FlushInterval: cfg.Notices.FlushInterval(),
		InboxSize:     cfg.Notices.InboxSize,
	})
	a.Envelopes.SetCloser(a.Session)
	a.Session.SetPushHandler(a.Envelopes)
	a.Forwarder = multicast.NewForwarder(server, a.Store, a.Tx)

	// A 403 means the session is gone or changed.
	a.Tx.OnForbidden(func(ctx context.Context) {
		observ.Log("forbidden_refetch_session", nil)
		_ = a.Session.GetSession(ctx)
	})

	a.unsubscribe = a.Store.Subscribe(publish)
	return a, nil
}

func (a *App) SessionState() session.State {
	return a.Store.State().Session
}

// Start runs the envelope worker and resumes any existing session.
func (a *App) Start(ctx context.Context) error {
	a.Envelopes.Start(ctx)
	return a.Session.GetSession(ctx)
}

func (a *App) Stop() {
	a.Session.Stop()
	a.Envelopes.Stop()
	a.Forwarder.Wait()
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
}

// LoadNotices reads one page of notices into the store and returns the
// link to the next page.
func (a *App) LoadNotices(ctx context.Context, path string, params url.Values) (string, error) {
	pager, ok := a.Server.(notice.Pager)
	if !ok {
		return "", fmt.Errorf("transport %T does not paginate", a.Server)
	}
	page, err := transaction.Do(ctx, a.Tx, func(ctx context.Context) (transport.Page, error) {
		notices, page, err := notice.FetchPage(ctx, pager, path, params)
		if err != nil {
			return page, err
		}
		a.Store.Dispatch(notice.InsertBatch{Notices: notices})
		return page, nil
	})
	if err != nil {
		return "", err
	}
	return page.Next, nil
}

func publish(s State) {
	observ.SetGauge("sit915_failed_messages", float64(s.Messages.FailedCount), nil)
	observ.SetGauge("notices_high_priority", float64(len(s.Notices.HighPriority)), nil)
	observ.SetGauge("multicasts_tracked", float64(len(s.Multicasts)), nil)
}
