package app

import (
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/incident"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/marker"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/message"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/multicast"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/notice"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/session"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/store"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/transaction"
)

// State is the whole client state. Each field is owned by its package's
// reducer.
type State struct {
	Session      session.State
	Transactions transaction.State
	Incidents    incident.State
	Markers      marker.State
	Notices      notice.State
	Messages     message.State
	Multicasts   multicast.State
}

func Initial() State {
	return State{
		Session:      session.Initial(),
		Transactions: transaction.State{},
		Incidents:    incident.State{},
		Markers:      marker.State{},
		Messages:     message.Initial(),
		Multicasts:   multicast.State{},
	}
}

// Reduce offers a to every slice. The result is unchanged unless some slice
// changed.
func Reduce(prev State, a store.Action) (State, bool) {
	next := prev
	var changed, c bool

	next.Session, c = session.Reduce(prev.Session, a)
	changed = changed || c
	next.Transactions, c = transaction.Reduce(prev.Transactions, a)
	changed = changed || c
	next.Incidents, c = incident.Reduce(prev.Incidents, a)
	changed = changed || c
	next.Markers, c = marker.Reduce(prev.Markers, a)
	changed = changed || c
	next.Notices, c = notice.Reduce(prev.Notices, a)
	changed = changed || c
	next.Messages, c = message.Reduce(prev.Messages, a)
	changed = changed || c
	next.Multicasts, c = multicast.Reduce(prev.Multicasts, a)
	changed = changed || c

	if !changed {
		return prev, false
	}
	return next, true
}
