package session

import (
	"encoding/json"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/store"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/transport"
)

// Envelope kinds the session slice reacts to.
const (
	KindIdle      = "Session/IDLE"
	KindTerminate = "Session/TERMINATE"
)

type ReadSuccess struct {
	Session Payload
	Raw     json.RawMessage
}

// ReadFailure is a session fetch the server answered with an error: no
// session, but no outage either.
type ReadFailure struct{ Err error }

type ConnectionLost struct{ Err error }

type CreateSuccess struct {
	Session Payload
	Raw     json.RawMessage
}

type CreateFailure struct{ Err error }

type TerminateSuccess struct{}

type Idled struct {
	Session Payload
	Raw     json.RawMessage
}

type SocketConnecting struct{}

type SocketOpened struct{}

type SocketClosed struct{}

type SocketFailed struct{ Err error }

func (ReadSuccess) Type() string      { return "Session/READ_SUCCESS" }
func (ReadFailure) Type() string      { return "Session/READ_FAILURE" }
func (ConnectionLost) Type() string   { return "Session/CONNECTION_ERROR" }
func (CreateSuccess) Type() string    { return "Session/CREATE_SUCCESS" }
func (CreateFailure) Type() string    { return "Session/CREATE_FAILURE" }
func (TerminateSuccess) Type() string { return "Session/TERMINATE_SUCCESS" }
func (Idled) Type() string            { return KindIdle }
func (SocketConnecting) Type() string { return "Session/SOCKET_CONNECTING" }
func (SocketOpened) Type() string     { return "Session/SOCKET_OPEN" }
func (SocketClosed) Type() string     { return "Session/SOCKET_CLOSED" }
func (SocketFailed) Type() string     { return "Session/SOCKET_ERROR" }

func Reduce(prev State, a store.Action) (State, bool) {
	switch act := a.(type) {
	case ReadSuccess:
		next := applyPayload(prev, act.Session, act.Raw)
		next.Attempts = 0
		next.ConnectionError = nil
		return next, true

	case ReadFailure:
		if prev.ConnectionError == nil {
			return prev, false
		}
		next := prev
		next.ConnectionError = nil
		return next, true

	case ConnectionLost:
		next := prev
		next.ConnectionError = act.Err
		return next, true

	case CreateSuccess:
		next := applyPayload(prev, act.Session, act.Raw)
		next.Attempts = 0
		next.ConnectionError = nil
		return next, true

	case CreateFailure:
		next := prev
		next.Attempts++
		next.Status = StatusInitial
		return next, true

	case TerminateSuccess:
		next := Initial()
		next.Status = StatusTerminated
		return next, true

	case Idled:
		return idle(prev, act.Session, act.Raw)

	case SocketConnecting:
		return withSocket(prev, transport.StateConnecting)
	case SocketOpened:
		next, changed := withSocket(prev, transport.StateConnected)
		if prev.SocketError != nil {
			next.SocketError = nil
			changed = true
		}
		return next, changed
	case SocketClosed:
		return withSocket(prev, transport.StateDisconnected)
	case SocketFailed:
		next := prev
		next.Socket = transport.StateDisconnected
		next.SocketError = act.Err
		return next, true

	case store.Raw:
		switch act.Kind {
		case KindIdle:
			var p Payload
			if err := act.Decode(&p); err != nil {
				return prev, false
			}
			return idle(prev, p, act.Payload)
		case KindTerminate:
			next := Initial()
			next.Status = StatusTerminated
			return next, true
		}
	}
	return prev, false
}

// idle leaves the state untouched when the recomputed permission map is
// unchanged.
func idle(prev State, p Payload, raw json.RawMessage) (State, bool) {
	if BuildPermissionMap(p.Permissions).Equal(prev.PermissionMap) {
		return prev, false
	}
	if p.State == "" {
		p.State = string(StatusIdled)
	}
	return applyPayload(prev, p, raw), true
}

func applyPayload(prev State, p Payload, raw json.RawMessage) State {
	next := prev
	next.Permissions = append([]Permission(nil), p.Permissions...)
	next.PermissionMap = BuildPermissionMap(p.Permissions)
	if p.User != nil {
		u := *p.User
		next.User = &u
	}
	if len(raw) > 0 {
		next.Raw = append(json.RawMessage(nil), raw...)
	}
	switch Status(p.State) {
	case StatusIdled:
		next.Status = StatusIdled
	case StatusTerminated:
		next.Status = StatusTerminated
	default:
		next.Status = StatusAuthenticated
	}
	return next
}

func withSocket(prev State, cs transport.ConnectionState) (State, bool) {
	if prev.Socket == cs {
		return prev, false
	}
	next := prev
	next.Socket = cs
	return next, true
}
