package multicast

import (
	"maps"
	"slices"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/store"
)

// Envelope and journal kinds.
const (
	KindCreate             = "Multicast/CREATE"
	KindUpdate             = "Multicast/UPDATE"
	KindTransmissionUpdate = "Transmission/UPDATE"
	KindEnrichDestination  = "Multicast/DESTINATION"
)

// State holds every multicast of the session by id. Entries are never
// removed.
type State map[string]Multicast

type Create struct{ Multicast Multicast }

type Update struct{ Multicast Multicast }

type TransmissionUpdate struct{ Transmission Transmission }

type EnrichDestination struct {
	MulticastID   string `json:"multicastId"`
	DestinationID string `json:"destinationId"`
	Name          string `json:"name"`
}

func (Create) Type() string             { return KindCreate }
func (Update) Type() string             { return KindUpdate }
func (TransmissionUpdate) Type() string { return KindTransmissionUpdate }
func (EnrichDestination) Type() string  { return KindEnrichDestination }

// Journaled returns the payload recorded for a multicast lifecycle action.
// Replaying it as store.Raw{Kind: a.Type(), Payload: payload} yields the
// same state.
func Journaled(a store.Action) (any, bool) {
	switch act := a.(type) {
	case Create:
		return act.Multicast, true
	case Update:
		return act.Multicast, true
	case TransmissionUpdate:
		return act.Transmission, true
	case EnrichDestination:
		return act, true
	case store.Raw:
		switch act.Kind {
		case KindCreate, KindUpdate, KindTransmissionUpdate, KindEnrichDestination:
			return act.Payload, true
		}
	}
	return nil, false
}

func Reduce(prev State, a store.Action) (State, bool) {
	switch act := a.(type) {
	case Create:
		return upsert(prev, act.Multicast)
	case Update:
		return upsert(prev, act.Multicast)
	case TransmissionUpdate:
		return updateTransmission(prev, act.Transmission)
	case EnrichDestination:
		return enrich(prev, act)
	case store.Raw:
		switch act.Kind {
		case KindCreate, KindUpdate:
			var m Multicast
			if err := act.Decode(&m); err != nil {
				return prev, false
			}
			return upsert(prev, m)
		case KindTransmissionUpdate:
			var t Transmission
			if err := act.Decode(&t); err != nil {
				return prev, false
			}
			return updateTransmission(prev, t)
		case KindEnrichDestination:
			var e EnrichDestination
			if err := act.Decode(&e); err != nil {
				return prev, false
			}
			return enrich(prev, e)
		}
	}
	return prev, false
}

// upsert stores m, keeping destination names already resolved when the
// incoming copy lacks them. Transmissions of a placeholder are newer than
// the copy that replaces it and are merged over it.
func upsert(prev State, m Multicast) (State, bool) {
	if m.ID == "" {
		return prev, false
	}
	m.Destinations = slices.Clone(m.Destinations)
	m.Transmissions = slices.Clone(m.Transmissions)
	m.placeholder = false
	if old, ok := prev[m.ID]; ok && old.placeholder {
		for _, t := range old.Transmissions {
			m.Transmissions = putTransmission(m.Transmissions, t)
		}
	} else if ok {
		names := make(map[string]string, len(old.Destinations))
		for _, d := range old.Destinations {
			names[d.ID] = d.Name
		}
		for i, d := range m.Destinations {
			if d.Name == "" {
				m.Destinations[i].Name = names[d.ID]
			}
		}
		if m.Transmissions == nil {
			m.Transmissions = slices.Clone(old.Transmissions)
		}
		if m.Payload == nil {
			m.Payload = old.Payload
		}
	}
	next := clone(prev)
	next[m.ID] = m
	return next, true
}

// updateTransmission replaces or appends t. An update for a multicast not
// seen yet is held in a placeholder until the multicast arrives.
func updateTransmission(prev State, t Transmission) (State, bool) {
	if t.ParentID == "" {
		return prev, false
	}
	m, ok := prev[t.ParentID]
	if !ok {
		m = Multicast{ID: t.ParentID, placeholder: true}
	}
	m.Transmissions = putTransmission(slices.Clone(m.Transmissions), t)
	next := clone(prev)
	next[m.ID] = m
	return next, true
}

func putTransmission(ts []Transmission, t Transmission) []Transmission {
	i := slices.IndexFunc(ts, func(x Transmission) bool { return x.Key() == t.Key() })
	if i >= 0 {
		ts[i] = t
		return ts
	}
	return append(ts, t)
}

func enrich(prev State, e EnrichDestination) (State, bool) {
	m, ok := prev[e.MulticastID]
	if !ok {
		return prev, false
	}
	i := slices.IndexFunc(m.Destinations, func(d Destination) bool { return d.ID == e.DestinationID })
	if i < 0 || m.Destinations[i].Name == e.Name {
		return prev, false
	}
	m.Destinations = slices.Clone(m.Destinations)
	m.Destinations[i].Name = e.Name
	next := clone(prev)
	next[m.ID] = m
	return next, true
}

func clone(s State) State {
	if s == nil {
		return State{}
	}
	return maps.Clone(s)
}
