package multicast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/observ"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/store"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/transaction"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/transport"
)

// Forwarder starts multicasts on the server: incident forwarding and
// SIT-915 sends.
type Forwarder struct {
	server transport.Server
	d      store.Dispatcher
	tx     *transaction.Manager

	// LookupTimeout bounds the background site name lookups of one
	// multicast.
	LookupTimeout time.Duration

	lookups sync.WaitGroup
}

func NewForwarder(server transport.Server, d store.Dispatcher, tx *transaction.Manager) *Forwarder {
	return &Forwarder{server: server, d: d, tx: tx, LookupTimeout: 30 * time.Second}
}

type forwardRequest struct {
	Destinations []Destination `json:"destinations"`
}

type sit915Request struct {
	Message      json.RawMessage `json:"message"`
	Destinations []Destination   `json:"destinations"`
}

// ForwardIncident forwards incidentID to destinations.
func (f *Forwarder) ForwardIncident(ctx context.Context, incidentID string, destinations []Destination) (Multicast, error) {
	path := "/incident/" + url.PathEscape(incidentID) + "/forward"
	return f.start(ctx, "forward_incident", path, forwardRequest{Destinations: destinations}, destinations)
}

// SendSit915 sends a telex message to destinations.
func (f *Forwarder) SendSit915(ctx context.Context, msg json.RawMessage, destinations []Destination) (Multicast, error) {
	return f.start(ctx, "sit915", "/sit915", sit915Request{Message: msg, Destinations: destinations}, destinations)
}

func (f *Forwarder) start(ctx context.Context, kind, path string, body any, destinations []Destination) (Multicast, error) {
	m, err := transaction.Do(ctx, f.tx, func(ctx context.Context) (Multicast, error) {
		raw, err := f.server.Post(ctx, path, body)
		if err != nil {
			return Multicast{}, err
		}
		var m Multicast
		if err := json.Unmarshal(raw, &m); err != nil {
			return Multicast{}, fmt.Errorf("decode multicast: %w", err)
		}
		return m, nil
	})
	if err != nil {
		observ.IncCounter("multicasts_total", map[string]string{"kind": kind, "outcome": "failure"})
		return Multicast{}, err
	}
	if len(m.Destinations) == 0 {
		m.Destinations = destinations
	}

	f.d.Dispatch(Create{Multicast: m})
	observ.IncCounter("multicasts_total", map[string]string{"kind": kind, "outcome": "success"})
	observ.Log("multicast_started", map[string]any{"id": m.ID, "kind": kind, "destinations": len(m.Destinations)})

	f.lookups.Add(1)
	go func() {
		defer f.lookups.Done()
		lookupCtx := context.WithoutCancel(ctx)
		if f.LookupTimeout > 0 {
			var cancel context.CancelFunc
			lookupCtx, cancel = context.WithTimeout(lookupCtx, f.LookupTimeout)
			defer cancel()
		}
		f.resolveNames(lookupCtx, m)
	}()
	return m, nil
}

// Wait blocks until the site name lookups started so far are done.
func (f *Forwarder) Wait() {
	f.lookups.Wait()
}

// resolveNames fetches missing site names. Failures leave the destination
// unnamed.
func (f *Forwarder) resolveNames(ctx context.Context, m Multicast) {
	for _, d := range m.Destinations {
		if d.Type != DestinationSite || d.Name != "" {
			continue
		}
		raw, err := transaction.Do(ctx, f.tx, func(ctx context.Context) (json.RawMessage, error) {
			return f.server.Get(ctx, "/site/"+url.PathEscape(d.ID), nil)
		}, transaction.WithoutFieldErrors())
		if err != nil {
			observ.Log("site_lookup_failed", map[string]any{"site": d.ID, "error": err})
			continue
		}
		name := gjson.GetBytes(raw, "name").String()
		if name == "" {
			continue
		}
		f.d.Dispatch(EnrichDestination{MulticastID: m.ID, DestinationID: d.ID, Name: name})
	}
}
