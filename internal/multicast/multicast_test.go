package multicast

import (
	"context"
	"encoding/json"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/store"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/transaction"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/transport"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/transport/transporttest"
)

func packets(states ...PacketState) []Packet {
	out := make([]Packet, len(states))
	for i, s := range states {
		out[i] = Packet{Name: string(rune('a' + i)), State: s}
	}
	return out
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name      string
		m         Multicast
		success   int
		failed    int
		remaining int
		percent   float64
		errors    []string
	}{
		{
			name:    "no packets yet",
			m:       Multicast{Transmissions: []Transmission{{State: TransmissionPending}}},
			percent: 25,
		},
		{
			name: "half done",
			m: Multicast{Transmissions: []Transmission{
				{State: TransmissionPending, Packets: packets(PacketSuccess, PacketPending)},
				{State: TransmissionRetry, Packets: packets(PacketFailure, PacketRetry)},
			}},
			success:   1,
			failed:    1,
			remaining: 2,
			percent:   25 + 65*0.5,
		},
		{
			name: "terminal transmissions short-circuit",
			m: Multicast{Transmissions: []Transmission{
				{State: TransmissionSuccess, Packets: packets(PacketPending, PacketRetry)},
				{State: TransmissionFailure, Packets: packets(PacketPending), Status: &Status{Message: "link down"}},
			}},
			success: 2,
			failed:  1,
			percent: 100,
			errors:  []string{"link down"},
		},
		{
			name: "partial keeps its message",
			m: Multicast{Transmissions: []Transmission{
				{State: TransmissionPartial, Packets: packets(PacketSuccess, PacketFailure), Status: &Status{Message: "1 of 2"}},
				{State: TransmissionPending, Status: &Status{Message: "ignored"}},
			}},
			success: 1,
			failed:  1,
			percent: 100,
			errors:  []string{"1 of 2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Aggregate(tt.m)
			assert.Len(t, p.Success, tt.success)
			assert.Len(t, p.Failed, tt.failed)
			assert.Len(t, p.Remaining, tt.remaining)
			assert.Len(t, p.Completed, tt.success+tt.failed)
			assert.Equal(t, tt.success+tt.failed+tt.remaining, p.Total)
			assert.InDelta(t, tt.percent, p.Percent, 1e-9)
			assert.Equal(t, tt.errors, p.ErrorMessages)
		})
	}
}

func TestAggregate_Monotonic(t *testing.T) {
	const total = 8
	states := make([]PacketState, total)
	for i := range states {
		states[i] = PacketPending
	}

	last := Aggregate(Multicast{Transmissions: []Transmission{{State: TransmissionPending, Packets: packets(states...)}}}).Percent
	for i := 0; i < total; i++ {
		if i%3 == 0 {
			states[i] = PacketFailure
		} else {
			states[i] = PacketSuccess
		}
		p := Aggregate(Multicast{Transmissions: []Transmission{{State: TransmissionPending, Packets: packets(states...)}}})
		assert.GreaterOrEqual(t, p.Percent, last)
		assert.LessOrEqual(t, p.Percent, 100.0)
		last = p.Percent
	}
	assert.Equal(t, 100.0, last)
}

func TestDidFailAndIsPartial(t *testing.T) {
	failed := Multicast{Transmissions: []Transmission{{State: TransmissionSuccess}, {State: TransmissionFailure}}}
	partial := Multicast{Transmissions: []Transmission{{State: TransmissionPartial}, {State: TransmissionRetry}}}
	clean := Multicast{Transmissions: []Transmission{{State: TransmissionSuccess}}}

	assert.True(t, DidFail(failed))
	assert.False(t, IsPartial(failed))
	assert.False(t, DidFail(partial))
	assert.True(t, IsPartial(partial))
	assert.False(t, DidFail(clean))
	assert.False(t, IsPartial(clean))
}

func TestReduce_TransmissionUpsert(t *testing.T) {
	s, _ := Reduce(State{}, Create{Multicast: Multicast{ID: "mc1", Destinations: []Destination{{ID: "d1", Type: DestinationSite}}}})

	s, changed := Reduce(s, TransmissionUpdate{Transmission: Transmission{ID: "t1", ParentID: "mc1", State: TransmissionPending}})
	require.True(t, changed)
	s, _ = Reduce(s, TransmissionUpdate{Transmission: Transmission{ID: "t1", ParentID: "mc1", State: TransmissionSuccess}})
	require.Len(t, s["mc1"].Transmissions, 1)
	assert.Equal(t, TransmissionSuccess, s["mc1"].Transmissions[0].State)

	_, changed = Reduce(s, TransmissionUpdate{Transmission: Transmission{ID: "t9"}})
	assert.False(t, changed)
}

func TestReduce_TransmissionBeforeCreate(t *testing.T) {
	s, changed := Reduce(State{}, TransmissionUpdate{Transmission: Transmission{ID: "t1", ParentID: "mc1", State: TransmissionSuccess, Packets: packets(PacketSuccess)}})
	require.True(t, changed)
	assert.True(t, s["mc1"].Placeholder())

	// the forward response still lists the transmission as pending
	s, changed = Reduce(s, Create{Multicast: Multicast{
		ID:            "mc1",
		Destinations:  []Destination{{ID: "d1", Type: DestinationSite}},
		Transmissions: []Transmission{
			{ID: "t1", ParentID: "mc1", State: TransmissionPending, Packets: packets(PacketPending)},
			{ID: "t2", ParentID: "mc1", State: TransmissionPending, Packets: packets(PacketPending)},
		},
	}})
	require.True(t, changed)

	got := s["mc1"]
	assert.False(t, got.Placeholder())
	require.Len(t, got.Destinations, 1)
	require.Len(t, got.Transmissions, 2)
	assert.Equal(t, TransmissionSuccess, got.Transmissions[0].State)
	assert.Equal(t, TransmissionPending, got.Transmissions[1].State)

	assert.InDelta(t, 25+65*0.5, Aggregate(got).Percent, 1e-9)

	s, _ = Reduce(s, TransmissionUpdate{Transmission: Transmission{ID: "t2", ParentID: "mc1", State: TransmissionSuccess, Packets: packets(PacketSuccess)}})
	assert.Equal(t, 100.0, Aggregate(s["mc1"]).Percent)
}

func TestReduce_LaterUpdateReplacesTransmissions(t *testing.T) {
	s, _ := Reduce(State{}, Create{Multicast: Multicast{ID: "mc1", Transmissions: []Transmission{{ID: "t1", ParentID: "mc1", State: TransmissionSuccess}}}})
	s, _ = Reduce(s, Update{Multicast: Multicast{ID: "mc1", Transmissions: []Transmission{{ID: "t1", ParentID: "mc1", State: TransmissionFailure}}}})
	require.Len(t, s["mc1"].Transmissions, 1)
	assert.Equal(t, TransmissionFailure, s["mc1"].Transmissions[0].State)
}

func TestReduce_UpdateKeepsResolvedNames(t *testing.T) {
	s, _ := Reduce(State{}, Create{Multicast: Multicast{ID: "mc1", Destinations: []Destination{{ID: "d1", Type: DestinationSite}}}})
	s, _ = Reduce(s, EnrichDestination{MulticastID: "mc1", DestinationID: "d1", Name: "Rescue Centre"})

	raw := store.Raw{Kind: KindUpdate, Payload: []byte(`{"id":"mc1","destinations":[{"id":"d1","type":"site"}],"transmissions":[{"id":"t1","parentId":"mc1","state":"Partial"}]}`)}
	s, changed := Reduce(s, raw)
	require.True(t, changed)
	assert.Equal(t, "Rescue Centre", s["mc1"].Destinations[0].Name)
	assert.Equal(t, TransmissionPartial, s["mc1"].Transmissions[0].State)
}

func TestReduce_DoesNotMutatePrevious(t *testing.T) {
	prev, _ := Reduce(State{}, Create{Multicast: Multicast{ID: "mc1", Transmissions: []Transmission{{ID: "t1", ParentID: "mc1", State: TransmissionPending}}}})
	_, _ = Reduce(prev, TransmissionUpdate{Transmission: Transmission{ID: "t1", ParentID: "mc1", State: TransmissionFailure}})
	assert.Equal(t, TransmissionPending, prev["mc1"].Transmissions[0].State)
}

func TestJournaledReplaysToSameState(t *testing.T) {
	actions := []store.Action{
		TransmissionUpdate{Transmission: Transmission{ID: "t0", ParentID: "mc1", State: TransmissionSuccess}},
		Create{Multicast: Multicast{ID: "mc1", Destinations: []Destination{{ID: "d1", Type: DestinationSite}}}},
		TransmissionUpdate{Transmission: Transmission{ID: "t1", ParentID: "mc1", State: TransmissionRetry, Packets: packets(PacketRetry)}},
		EnrichDestination{MulticastID: "mc1", DestinationID: "d1", Name: "MRCC"},
	}

	direct, replayed := State{}, State{}
	for _, a := range actions {
		direct, _ = Reduce(direct, a)

		payload, ok := Journaled(a)
		require.True(t, ok)
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		replayed, _ = Reduce(replayed, store.Raw{Kind: a.Type(), Payload: raw})
	}
	assert.Equal(t, direct, replayed)

	_, ok := Journaled(store.Raw{Kind: "Notice/ACK"})
	assert.False(t, ok)
}

func newForwarder(server transport.Server) (*Forwarder, *store.Store[State]) {
	s := store.New(State{}, Reduce)
	tx := transaction.NewManager(store.DispatchFunc(func(store.Action) {}))
	return NewForwarder(server, s, tx), s
}

func TestForwardIncident_ResolvesSiteNames(t *testing.T) {
	server := transporttest.New().
		Respond("POST", "/incident/inc-1/forward", `{"id":"mc1","transmissions":[]}`).
		Respond("GET", "/site/s1", `{"id":"s1","name":"MRCC Halifax"}`)
	f, s := newForwarder(server)

	dests := []Destination{{ID: "s1", Type: DestinationSite}, {ID: "v1", Type: "vessel"}}
	m, err := f.ForwardIncident(context.Background(), "inc-1", dests)
	require.NoError(t, err)
	assert.Equal(t, "mc1", m.ID)
	f.Wait()

	got := s.State()["mc1"]
	require.Len(t, got.Destinations, 2)
	assert.Equal(t, "MRCC Halifax", got.Destinations[0].Name)
	assert.Empty(t, got.Destinations[1].Name)
	assert.Equal(t, 1, server.Count("GET", "/site/s1"))
	assert.Equal(t, forwardRequest{Destinations: dests}, server.Calls()[0].Body)
}

func TestSendSit915_SiteLookupFailureIsNotFatal(t *testing.T) {
	server := transporttest.New().
		Respond("POST", "/sit915", `{"id":"mc2","destinations":[{"id":"s2","type":"site"}]}`).
		Fail("GET", "/site/s2", &transport.Error{Status: 500, StatusText: "Internal Server Error"})
	f, s := newForwarder(server)

	_, err := f.SendSit915(context.Background(), json.RawMessage(`{"text":"MAYDAY"}`), nil)
	require.NoError(t, err)
	f.Wait()
	assert.Equal(t, 1, server.Count("GET", "/site/s2"))
	assert.Empty(t, s.State()["mc2"].Destinations[0].Name)
}

func TestSendSit915_ValidationError(t *testing.T) {
	server := transporttest.New().
		Fail("POST", "/sit915", &transport.Error{Status: 400, StatusText: "Bad Request", Data: json.RawMessage(`[{"property":"message.text","rule":"Required"}]`)})
	f, s := newForwarder(server)

	_, err := f.SendSit915(context.Background(), json.RawMessage(`{}`), nil)
	require.Error(t, err)
	tree := transaction.FieldErrorsOf(err)
	require.NotNil(t, tree)
	assert.True(t, tree.Field("message").HasErrorForField("text"))
	assert.Empty(t, s.State())
}

type gatedServer struct {
	*transporttest.Server
	release chan struct{}
}

func (s *gatedServer) Get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.Server.Get(ctx, path, params)
}

func TestForwardIncident_ReturnsBeforeSiteLookups(t *testing.T) {
	server := &gatedServer{
		Server: transporttest.New().
			Respond("POST", "/incident/inc-1/forward", `{"id":"mc1"}`).
			Respond("GET", "/site/s1", `{"id":"s1","name":"JRCC"}`),
		release: make(chan struct{}),
	}
	f, s := newForwarder(server)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.ForwardIncident(ctx, "inc-1", []Destination{{ID: "s1", Type: DestinationSite}})
	require.NoError(t, err)
	cancel()
	assert.Empty(t, s.State()["mc1"].Destinations[0].Name)

	close(server.release)
	f.Wait()
	assert.Equal(t, "JRCC", s.State()["mc1"].Destinations[0].Name)
}

func TestForwardIncident_ForbiddenSiteLookupRunsHook(t *testing.T) {
	server := transporttest.New().
		Respond("POST", "/incident/inc-1/forward", `{"id":"mc1"}`).
		Fail("GET", "/site/s1", &transport.Error{Status: 403, StatusText: "Forbidden"})
	f, _ := newForwarder(server)
	var hooks atomic.Int32
	f.tx.OnForbidden(func(context.Context) { hooks.Add(1) })

	_, err := f.ForwardIncident(context.Background(), "inc-1", []Destination{{ID: "s1", Type: DestinationSite}})
	require.NoError(t, err)
	f.Wait()
	assert.Equal(t, int32(1), hooks.Load())
}
