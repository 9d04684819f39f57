package envelope

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/incident"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/marker"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/message"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/notice"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/session"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/store"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/transaction"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/transport/transporttest"
)

type recorder struct {
	mu      sync.Mutex
	actions []store.Action
}

func (r *recorder) Dispatch(a store.Action) {
	r.mu.Lock()
	r.actions = append(r.actions, a)
	r.mu.Unlock()
}

func (r *recorder) all() []store.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.Action(nil), r.actions...)
}

type closer struct{ calls int }

func (c *closer) CloseChannel() { c.calls++ }

func newDispatcher(server *transporttest.Server, cfg Config) (*Dispatcher, *recorder) {
	rec := &recorder{}
	tx := transaction.NewManager(store.DispatchFunc(func(store.Action) {}))
	return New(rec, server, tx, cfg), rec
}

func TestIncidentIsRefetched(t *testing.T) {
	server := transporttest.New().Respond("GET", "/incident/x", `{"id":"x","state":"from-server"}`)
	d, rec := newDispatcher(server, Config{})

	d.Handle(context.Background(), []byte(`{"type":"Incident/UPDATE","incident":{"id":"x","state":"inline"}}`))

	assert.Equal(t, 1, server.Count("GET", "/incident/x"))
	require.Len(t, rec.all(), 1)
	up, ok := rec.all()[0].(incident.Upsert)
	require.True(t, ok)
	assert.Equal(t, "x", up.Incident.ID)
	assert.JSONEq(t, `{"id":"x","state":"from-server"}`, string(up.Incident.Doc))
}

func TestIncidentRefetchFailureDispatchesNothing(t *testing.T) {
	d, rec := newDispatcher(transporttest.New(), Config{})

	d.Handle(context.Background(), []byte(`{"type":"Incident/UPDATE","incident":{"id":"gone"}}`))
	assert.Empty(t, rec.all())
}

func TestMarkerIsInline(t *testing.T) {
	server := transporttest.New()
	d, rec := newDispatcher(server, Config{})

	d.Handle(context.Background(), []byte(`{"type":"Marker/UPDATE","marker":{"id":"m1","lat":44.6}}`))
	d.Handle(context.Background(), []byte(`{"type":"Marker/DELETE","marker":{"id":"m1"}}`))

	assert.Empty(t, server.Calls())
	actions := rec.all()
	require.Len(t, actions, 2)
	up := actions[0].(marker.Upsert)
	assert.Equal(t, "m1", up.Marker.ID)
	assert.JSONEq(t, `{"id":"m1","lat":44.6}`, string(up.Marker.Doc))
	assert.Equal(t, marker.Remove{ID: "m1"}, actions[1])
}

func TestSit915RoutesToMessageStatus(t *testing.T) {
	d, rec := newDispatcher(transporttest.New(), Config{})

	d.Handle(context.Background(), []byte(`{"type":"Sit915/UPDATE","sit915":{"id":"s1","status":"FAILED","errorDetail":"timeout"}}`))

	require.Len(t, rec.all(), 1)
	assert.Equal(t, message.StatusUpdated{Update: message.StatusUpdate{ID: "s1", Status: "FAILED", ErrorDetail: "timeout"}}, rec.all()[0])
}

func TestGenericFlattening(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		kind    string
		payload string
	}{
		{"no keys", `{"type":"Session/TERMINATE"}`, "Session/TERMINATE", `{}`},
		{"one key", `{"type":"Session/IDLE","session":{"permissions":[]}}`, "Session/IDLE", `{"permissions":[]}`},
		{"many keys", `{"type":"Vessel/UPDATE","id":"v1","name":"Bluenose"}`, "Vessel/UPDATE", `{"id":"v1","name":"Bluenose"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, rec := newDispatcher(transporttest.New(), Config{})
			d.Handle(context.Background(), []byte(tt.msg))

			require.Len(t, rec.all(), 1)
			raw, ok := rec.all()[0].(store.Raw)
			require.True(t, ok)
			assert.Equal(t, tt.kind, raw.Kind)
			assert.JSONEq(t, tt.payload, string(raw.Payload))
		})
	}
}

func TestInvalidMessagesAreIgnored(t *testing.T) {
	d, rec := newDispatcher(transporttest.New(), Config{})
	for _, msg := range []string{``, `   `, `not json`, `[1,2]`, `{"incident":{"id":"x"}}`, `"Incident/UPDATE"`} {
		d.Handle(context.Background(), []byte(msg))
	}
	assert.Empty(t, rec.all())
}

func TestTerminateClosesChannelThenDispatches(t *testing.T) {
	d, rec := newDispatcher(transporttest.New(), Config{})
	c := &closer{}
	d.SetCloser(c)

	d.Handle(context.Background(), []byte(`{"type":"Session/TERMINATE"}`))
	assert.Equal(t, 1, c.calls)
	require.Len(t, rec.all(), 1)
	assert.Equal(t, session.KindTerminate, rec.all()[0].Type())
}

func TestTerminateDropsQueuedNotices(t *testing.T) {
	d, rec := newDispatcher(transporttest.New(), Config{})
	d.SetCloser(&closer{})
	ctx := context.Background()

	d.Handle(ctx, []byte(`{"type":"Notice/NEW","notice":{"databaseId":"1","priority":"Alert"}}`))
	d.Handle(ctx, []byte(`{"type":"Session/TERMINATE"}`))
	d.Flush()

	for _, a := range rec.all() {
		_, isBatch := a.(notice.InsertBatch)
		assert.False(t, isBatch)
	}
}

func TestCloseKeepsQueuedNotices(t *testing.T) {
	d, rec := newDispatcher(transporttest.New(), Config{})

	d.Handle(context.Background(), []byte(`{"type":"Notice/NEW","notice":{"databaseId":"1","priority":"Alert"}}`))
	d.HandleClose()
	d.Flush()

	actions := rec.all()
	require.Len(t, actions, 2)
	batch, ok := actions[1].(notice.InsertBatch)
	require.True(t, ok)
	require.Len(t, batch.Notices, 1)
	assert.Equal(t, "1", batch.Notices[0].DatabaseID)
}

func TestMalformedNoticeKeepsRestOfBatch(t *testing.T) {
	d, rec := newDispatcher(transporttest.New(), Config{})

	d.Handle(context.Background(), []byte(`{"type":"Notice/CREATE","notice":[{"databaseId":"2"},{"databaseId":5},{"databaseId":"4"}]}`))
	d.Flush()

	actions := rec.all()
	require.Len(t, actions, 2)
	batch, ok := actions[1].(notice.InsertBatch)
	require.True(t, ok)
	ids := make([]string, 0, len(batch.Notices))
	for _, n := range batch.Notices {
		ids = append(ids, n.DatabaseID)
	}
	assert.ElementsMatch(t, []string{"2", "4"}, ids)
}

func TestNoticesBatchedOnFlush(t *testing.T) {
	d, rec := newDispatcher(transporttest.New(), Config{})
	ctx := context.Background()

	d.Handle(ctx, []byte(`{"type":"Notice/NEW","notice":{"databaseId":"1","priority":"Alert"}}`))
	d.Handle(ctx, []byte(`{"type":"Notice/CREATE","notice":[{"databaseId":"2","priority":"Info"},{"databaseId":"3","priority":"Info"}]}`))
	d.Handle(ctx, []byte(`{"type":"Notice/ACK","notice":{"databaseId":"9"}}`))

	// one generic dispatch per envelope so far
	require.Len(t, rec.all(), 3)

	d.Flush()
	actions := rec.all()
	require.Len(t, actions, 4)
	batch, ok := actions[3].(notice.InsertBatch)
	require.True(t, ok)
	got := map[string]bool{}
	for _, n := range batch.Notices {
		got[n.DatabaseID] = true
	}
	assert.Equal(t, map[string]bool{"1": true, "2": true, "3": true}, got)

	d.Flush()
	assert.Len(t, rec.all(), 4)
}

func TestTickerFlushesWhileOpen(t *testing.T) {
	d, rec := newDispatcher(transporttest.New(), Config{FlushInterval: 10 * time.Millisecond})
	d.HandleOpen()
	defer d.HandleClose()

	d.Handle(context.Background(), []byte(`{"type":"Notice/NEW","notice":{"databaseId":"1","priority":"Alert"}}`))

	require.Eventually(t, func() bool {
		for _, a := range rec.all() {
			if _, ok := a.(notice.InsertBatch); ok {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestSocketErrorStopsTickerAndRecords(t *testing.T) {
	d, rec := newDispatcher(transporttest.New(), Config{FlushInterval: 10 * time.Millisecond})
	d.HandleOpen()
	d.HandleError(errors.New("connection reset"))

	d.Handle(context.Background(), []byte(`{"type":"Notice/NEW","notice":{"databaseId":"1","priority":"Alert"}}`))
	time.Sleep(50 * time.Millisecond)

	actions := rec.all()
	require.Len(t, actions, 2)
	failed, ok := actions[0].(session.SocketFailed)
	require.True(t, ok)
	assert.EqualError(t, failed.Err, "connection reset")
	assert.IsType(t, store.Raw{}, actions[1])
}

func TestWorkerPreservesArrivalOrder(t *testing.T) {
	d, rec := newDispatcher(transporttest.New(), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	kinds := []string{"A/ONE", "B/TWO", "C/THREE", "D/FOUR", "E/FIVE"}
	for _, k := range kinds {
		d.HandleMessage([]byte(`{"type":"` + k + `"}`))
	}

	require.Eventually(t, func() bool { return len(rec.all()) == len(kinds) }, time.Second, 5*time.Millisecond)
	for i, a := range rec.all() {
		assert.Equal(t, kinds[i], a.Type())
	}
}
