// Package envelope routes push channel messages into store actions.
package envelope

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/incident"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/marker"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/message"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/notice"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/observ"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/session"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/store"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/transaction"
)

// ChannelCloser closes the push channel on a forced logout.
type ChannelCloser interface {
	CloseChannel()
}

type Config struct {
	FlushInterval time.Duration
	InboxSize     int
}

// Dispatcher is the push channel consumer. Messages are handled one at a
// time in arrival order; create-notice envelopes are batched and flushed on
// a fixed interval while the channel is open.
type Dispatcher struct {
	out    store.Dispatcher
	server incident.Getter
	tx     *transaction.Manager
	cfg    Config

	closerMu sync.Mutex
	closer   ChannelCloser

	inbox chan []byte
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	mu       sync.Mutex
	pending  map[string][]notice.Notice
	tickStop chan struct{}
}

func New(out store.Dispatcher, server incident.Getter, tx *transaction.Manager, cfg Config) *Dispatcher {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	return &Dispatcher{
		out:     out,
		server:  server,
		tx:      tx,
		cfg:     cfg,
		inbox:   make(chan []byte, cfg.InboxSize),
		done:    make(chan struct{}),
		pending: make(map[string][]notice.Notice),
	}
}

// SetCloser installs what Session/TERMINATE closes.
func (d *Dispatcher) SetCloser(c ChannelCloser) {
	d.closerMu.Lock()
	d.closer = c
	d.closerMu.Unlock()
}

// Start runs the worker until ctx is done or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.done:
				return
			case msg := <-d.inbox:
				d.Handle(ctx, msg)
			}
		}
	}()
}

// Stop ends the worker and the flush ticker. Queued messages are dropped.
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.done) })
	d.stopTicker()
	d.wg.Wait()
}

func (d *Dispatcher) HandleOpen() {
	d.startTicker()
}

// HandleMessage queues msg for the worker.
func (d *Dispatcher) HandleMessage(msg []byte) {
	select {
	case d.inbox <- msg:
		observ.SetGauge("envelope_inbox_depth", float64(len(d.inbox)), nil)
	case <-d.done:
	}
}

// HandleError records a channel failure. There is no reconnect from here;
// the next session fetch reopens the channel.
func (d *Dispatcher) HandleError(err error) {
	d.stopTicker()
	d.out.Dispatch(session.SocketFailed{Err: err})
	observ.Log("push_channel_error", map[string]any{"error": err})
}

// HandleClose stops flushing. Queued notices survive a reopen.
func (d *Dispatcher) HandleClose() {
	d.stopTicker()
}

// discardPending drops notices queued for a session the server ended.
func (d *Dispatcher) discardPending() {
	d.mu.Lock()
	n := 0
	for _, queued := range d.pending {
		n += len(queued)
	}
	d.pending = make(map[string][]notice.Notice)
	d.mu.Unlock()
	if n > 0 {
		observ.Debug("pending_notices_discarded", map[string]any{"count": n})
	}
}

func (d *Dispatcher) startTicker() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tickStop != nil {
		return
	}
	stop := make(chan struct{})
	d.tickStop = stop
	go func() {
		ticker := time.NewTicker(d.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				d.Flush()
			}
		}
	}()
}

func (d *Dispatcher) stopTicker() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tickStop != nil {
		close(d.tickStop)
		d.tickStop = nil
	}
}

// Handle routes one message. Unparsable or untyped messages are dropped.
func (d *Dispatcher) Handle(ctx context.Context, msg []byte) {
	if !gjson.ValidBytes(msg) {
		d.count("invalid")
		return
	}
	root := gjson.ParseBytes(msg)
	kind := root.Get("type").String()
	if !root.IsObject() || kind == "" {
		d.count("invalid")
		return
	}

	if kind == session.KindTerminate {
		d.discardPending()
		d.closerMu.Lock()
		c := d.closer
		d.closerMu.Unlock()
		if c != nil {
			c.CloseChannel()
		}
		observ.Log("session_terminated_by_server", nil)
	}

	switch {
	case strings.HasPrefix(kind, "Incident"):
		d.count("incident")
		d.refetchIncident(ctx, kind, root)
	case strings.HasPrefix(kind, "Marker"):
		d.count("marker")
		d.marker(kind, root)
	case strings.HasPrefix(kind, "Sit915"):
		d.count("sit915")
		d.sit915(kind, root)
	default:
		d.count("generic")
		d.generic(kind, root)
	}
}

func (d *Dispatcher) count(route string) {
	observ.IncCounter("envelopes_total", map[string]string{"route": route})
}

// refetchIncident ignores the inline document and reads the incident from
// the server, so the store holds server-computed fields.
func (d *Dispatcher) refetchIncident(ctx context.Context, kind string, root gjson.Result) {
	id := firstString(root, "incident.id", "incidentId", "id")
	if id == "" {
		observ.Log("envelope_missing_id", map[string]any{"type": kind})
		return
	}
	inc, err := transaction.Do(ctx, d.tx, func(ctx context.Context) (incident.Incident, error) {
		return incident.Fetch(ctx, d.server, id)
	}, transaction.WithoutFieldErrors())
	if err != nil {
		observ.Log("incident_refetch_failed", map[string]any{"id": id, "type": kind, "error": err})
		return
	}
	d.out.Dispatch(incident.Upsert{Incident: inc})
}

func (d *Dispatcher) marker(kind string, root gjson.Result) {
	doc := root.Get("marker")
	id := doc.Get("id").String()
	if id == "" {
		id = root.Get("markerId").String()
	}
	if id == "" {
		observ.Log("envelope_missing_id", map[string]any{"type": kind})
		return
	}
	if strings.HasSuffix(kind, "/DELETE") {
		d.out.Dispatch(marker.Remove{ID: id})
		return
	}
	d.out.Dispatch(marker.Upsert{Marker: marker.Marker{ID: id, Doc: json.RawMessage(doc.Raw)}})
}

func (d *Dispatcher) sit915(kind string, root gjson.Result) {
	var u message.StatusUpdate
	if err := json.Unmarshal(flatten(root), &u); err != nil || u.ID == "" {
		observ.Log("envelope_bad_sit915", map[string]any{"type": kind, "error": err})
		return
	}
	d.out.Dispatch(message.StatusUpdated{Update: u})
}

// generic dispatches the envelope as store.Raw and queues its notice.
func (d *Dispatcher) generic(kind string, root gjson.Result) {
	d.out.Dispatch(store.Raw{Kind: kind, Payload: flatten(root)})

	n := root.Get("notice")
	if !n.Exists() {
		return
	}
	var queued []notice.Notice
	decode := func(i int, raw string) {
		var one notice.Notice
		if err := json.Unmarshal([]byte(raw), &one); err != nil {
			observ.Log("envelope_bad_notice", map[string]any{"type": kind, "index": i, "error": err})
			return
		}
		queued = append(queued, one)
	}
	if n.IsArray() {
		for i, el := range n.Array() {
			decode(i, el.Raw)
		}
	} else {
		decode(0, n.Raw)
	}
	if len(queued) == 0 {
		return
	}
	d.mu.Lock()
	d.pending[kind] = append(d.pending[kind], queued...)
	d.mu.Unlock()
}

// Flush inserts the queued create-notice entries as one batch and empties
// the buffer.
func (d *Dispatcher) Flush() {
	d.mu.Lock()
	pending := d.pending
	d.pending = make(map[string][]notice.Notice)
	d.mu.Unlock()

	var batch []notice.Notice
	for kind, ns := range pending {
		if isCreate(kind) {
			batch = append(batch, ns...)
		}
	}
	if len(batch) == 0 {
		return
	}
	d.out.Dispatch(notice.InsertBatch{Notices: batch})
	observ.IncCounterBy("notices_flushed_total", nil, int64(len(batch)))
	observ.Debug("notices_flushed", map[string]any{"count": len(batch)})
}

func isCreate(kind string) bool {
	return strings.HasSuffix(kind, "/NEW") || strings.HasSuffix(kind, "/CREATE")
}

// flatten turns the non-type keys of an envelope into the payload: the
// single value when there is one key, {} when there is none, otherwise the
// object without type.
func flatten(root gjson.Result) json.RawMessage {
	var keys []string
	var last gjson.Result
	root.ForEach(func(k, v gjson.Result) bool {
		if k.String() != "type" {
			keys = append(keys, k.String())
			last = v
		}
		return true
	})
	switch len(keys) {
	case 0:
		return json.RawMessage(`{}`)
	case 1:
		return json.RawMessage(last.Raw)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(root.Raw), &obj); err != nil {
		return json.RawMessage(`{}`)
	}
	delete(obj, "type")
	b, err := json.Marshal(obj)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

func firstString(root gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := root.Get(p).String(); v != "" {
			return v
		}
	}
	return ""
}
