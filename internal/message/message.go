// Package message tracks SIT-915 telex messages and their delivery
// direction.
package message

import (
	"encoding/json"
	"maps"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/store"
)

type Direction int

const (
	DirectionSent     Direction = 1
	DirectionReceived Direction = 2
	DirectionPending  Direction = 3
	DirectionFailed   Direction = 4
)

func (d Direction) String() string {
	switch d {
	case DirectionSent:
		return "sent"
	case DirectionReceived:
		return "received"
	case DirectionPending:
		return "pending"
	case DirectionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status values carried by a status update.
const (
	StatusSent    = "SENT"
	StatusPending = "PENDING"
	StatusFailed  = "FAILED"
)

type Message struct {
	ID           string          `json:"id"`
	Direction    Direction       `json:"direction"`
	ErrorDetail  string          `json:"errorDetail,omitempty"`
	CommLinkType string          `json:"commLinkType,omitempty"`
	Dismiss      bool            `json:"dismiss"`
	Body         json.RawMessage `json:"message_body,omitempty"`
}

// failing reports whether m counts towards the failed total.
func (m Message) failing() bool {
	return m.Direction == DirectionFailed && !m.Dismiss
}

type StatusUpdate struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	ErrorDetail  string          `json:"errorDetail,omitempty"`
	CommLinkType string          `json:"commLinkType,omitempty"`
	Dismiss      bool            `json:"dismiss"`
	Body         json.RawMessage `json:"message_body,omitempty"`
}

type State struct {
	Messages map[string]Message
	// Current is the message open in the detail view, if any.
	Current     *Message
	FailedCount int
}

func Initial() State {
	return State{Messages: map[string]Message{}}
}

type Loaded struct{ Messages []Message }

type StatusUpdated struct{ Update StatusUpdate }

type Acknowledged struct{ ID string }

type Selected struct{ ID string }

func (Loaded) Type() string        { return "Sit915/LOAD" }
func (StatusUpdated) Type() string { return "Sit915/STATUS" }
func (Acknowledged) Type() string  { return "Sit915/ACK" }
func (Selected) Type() string      { return "Sit915/SELECT" }

func Reduce(prev State, a store.Action) (State, bool) {
	switch act := a.(type) {
	case Loaded:
		next := State{Messages: make(map[string]Message, len(act.Messages))}
		for _, m := range act.Messages {
			next.Messages[m.ID] = m
			if m.failing() {
				next.FailedCount++
			}
		}
		if prev.Current != nil {
			if m, ok := next.Messages[prev.Current.ID]; ok {
				next.Current = &m
			}
		}
		return next, true

	case StatusUpdated:
		if act.Update.ID == "" {
			return prev, false
		}
		old := prev.Messages[act.Update.ID]
		return replace(prev, old, apply(old, act.Update)), true

	case Acknowledged:
		old, ok := prev.Messages[act.ID]
		if !ok || old.Dismiss {
			return prev, false
		}
		m := old
		m.Dismiss = true
		return replace(prev, old, m), true

	case Selected:
		next := prev
		if m, ok := prev.Messages[act.ID]; ok {
			next.Current = &m
		} else {
			next.Current = nil
		}
		return next, true
	}
	return prev, false
}

func apply(m Message, u StatusUpdate) Message {
	m.ID = u.ID
	switch u.Status {
	case StatusSent:
		m.Direction = DirectionSent
		m.ErrorDetail = ""
	case StatusPending:
		m.Direction = DirectionPending
		m.ErrorDetail = ""
	case StatusFailed:
		m.Direction = DirectionFailed
		m.ErrorDetail = u.ErrorDetail
	}
	m.CommLinkType = u.CommLinkType
	m.Dismiss = u.Dismiss
	if len(u.Body) > 0 {
		m.Body = append(json.RawMessage(nil), u.Body...)
	}
	return m
}

// replace swaps old for m and moves the failed total by the change in m's
// own contribution, so the total always equals the failing messages.
func replace(prev State, old, m Message) State {
	next := prev
	next.Messages = maps.Clone(prev.Messages)
	if next.Messages == nil {
		next.Messages = map[string]Message{}
	}
	next.Messages[m.ID] = m

	switch {
	case old.failing() && !m.failing():
		next.FailedCount--
	case !old.failing() && m.failing():
		next.FailedCount++
	}
	if next.FailedCount < 0 {
		next.FailedCount = 0
	}

	if prev.Current != nil && prev.Current.ID == m.ID {
		cur := m
		next.Current = &cur
	}
	return next
}

// Failing counts failed, undismissed messages directly from the map.
func (s State) Failing() int {
	n := 0
	for _, m := range s.Messages {
		if m.failing() {
			n++
		}
	}
	return n
}
