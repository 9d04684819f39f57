// Package outbox journals outbound delivery actions to a JSONL file so a
// session's multicast history can be replayed.
package outbox

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/observ"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/store"
)

type Entry struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Event time.Time       `json:"event"`
}

// Filter picks the actions to journal and the payload recorded for them.
type Filter func(a store.Action) (data any, ok bool)

type Outbox struct {
	path string
	mu   sync.Mutex
	now  func() time.Time

	// order spans apply and append so journal lines follow store order.
	order sync.Mutex
}

func New(path string) (*Outbox, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	return &Outbox{
		path: path,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (o *Outbox) Path() string { return o.path }

// Append writes one entry.
func (o *Outbox) Append(kind string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	line, err := json.Marshal(Entry{Type: kind, Data: raw, Event: o.now()})
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	f, err := os.OpenFile(o.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

// Middleware journals every action accepted by filter after the store has
// applied it, in the order they were applied. Subscribers of the store must
// not dispatch journaled actions. Write failures are logged, never returned
// to the dispatcher.
func (o *Outbox) Middleware(filter Filter) store.Middleware {
	return func(next store.DispatchFunc) store.DispatchFunc {
		return func(a store.Action) {
			data, ok := filter(a)
			if !ok {
				next(a)
				return
			}
			o.order.Lock()
			defer o.order.Unlock()
			next(a)
			if err := o.Append(a.Type(), data); err != nil {
				observ.IncCounter("outbox_write_errors_total", nil)
				observ.Log("outbox_write_failed", map[string]any{"type": a.Type(), "error": err})
				return
			}
			observ.IncCounter("outbox_entries_total", map[string]string{"type": a.Type()})
		}
	}
}

// Read returns the journal entries in write order. Malformed lines are
// skipped; a missing file is an empty journal.
func (o *Outbox) Read() ([]Entry, error) {
	f, err := os.Open(o.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadEntries(f)
}

func ReadEntries(r io.Reader) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil || e.Type == "" {
			observ.Debug("outbox_line_skipped", map[string]any{"error": err})
			continue
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

// Actions turns entries back into raw store actions.
func Actions(entries []Entry) []store.Action {
	out := make([]store.Action, 0, len(entries))
	for _, e := range entries {
		out = append(out, store.Raw{Kind: e.Type, Payload: e.Data})
	}
	return out
}
