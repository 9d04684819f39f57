// Package notice keeps the notice list and its high priority subset.
package notice

import (
	"encoding/json"
	"slices"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/store"
)

type Priority string

const (
	PriorityAlert   Priority = "Alert"
	PriorityWarning Priority = "Warning"
	PriorityInfo    Priority = "Info"
)

// Envelope kinds handled by Reduce.
const (
	KindAck    = "Notice/ACK"
	KindDelete = "Notice/DELETE"
)

type Notice struct {
	DatabaseID   string          `json:"databaseId"`
	Priority     Priority        `json:"priority"`
	Target       json.RawMessage `json:"target,omitempty"`
	Source       json.RawMessage `json:"source,omitempty"`
	Acknowledged bool            `json:"acknowledged,omitempty"`
}

func (n Notice) highPriority() bool {
	return n.Priority == PriorityAlert && !n.Acknowledged
}

// State holds all notices in List and the unacknowledged alerts in
// HighPriority. Every HighPriority id is also in List.
type State struct {
	List         []Notice
	HighPriority []Notice
}

type InsertBatch struct{ Notices []Notice }

type Remove struct{ DatabaseIDs []string }

type Acknowledge struct{ DatabaseIDs []string }

func (InsertBatch) Type() string { return "Notice/INSERT_BATCH" }
func (Remove) Type() string      { return KindDelete }
func (Acknowledge) Type() string { return KindAck }

func Reduce(prev State, a store.Action) (State, bool) {
	switch act := a.(type) {
	case InsertBatch:
		return insert(prev, act.Notices)
	case Remove:
		return remove(prev, act.DatabaseIDs)
	case Acknowledge:
		return acknowledge(prev, act.DatabaseIDs)
	case store.Raw:
		switch act.Kind {
		case KindAck:
			ids, ok := decodeIDs(act.Payload)
			if !ok {
				return prev, false
			}
			return acknowledge(prev, ids)
		case KindDelete:
			ids, ok := decodeIDs(act.Payload)
			if !ok {
				return prev, false
			}
			return remove(prev, ids)
		}
	}
	return prev, false
}

// decodeIDs accepts a notice, a list of notices or a list of ids.
func decodeIDs(raw json.RawMessage) ([]string, bool) {
	var one Notice
	if err := json.Unmarshal(raw, &one); err == nil && one.DatabaseID != "" {
		return []string{one.DatabaseID}, true
	}
	var many []Notice
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 && many[0].DatabaseID != "" {
		ids := make([]string, 0, len(many))
		for _, n := range many {
			ids = append(ids, n.DatabaseID)
		}
		return ids, true
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err == nil && len(ids) > 0 {
		return ids, true
	}
	return nil, false
}

func insert(prev State, notices []Notice) (State, bool) {
	if len(notices) == 0 {
		return prev, false
	}
	next := State{List: slices.Clone(prev.List), HighPriority: slices.Clone(prev.HighPriority)}
	for _, n := range notices {
		if n.DatabaseID == "" {
			continue
		}
		next.List = upsert(next.List, n)
		if n.highPriority() {
			next.HighPriority = upsert(next.HighPriority, n)
		} else {
			next.HighPriority = without(next.HighPriority, n.DatabaseID)
		}
	}
	return next, true
}

// upsert replaces the notice with the same id in place, or puts n first.
func upsert(list []Notice, n Notice) []Notice {
	if i := slices.IndexFunc(list, func(x Notice) bool { return x.DatabaseID == n.DatabaseID }); i >= 0 {
		list[i] = n
		return list
	}
	return append([]Notice{n}, list...)
}

func without(list []Notice, id string) []Notice {
	return slices.DeleteFunc(list, func(x Notice) bool { return x.DatabaseID == id })
}

func remove(prev State, ids []string) (State, bool) {
	drop := set(ids)
	match := func(n Notice) bool { _, ok := drop[n.DatabaseID]; return ok }
	if !slices.ContainsFunc(prev.List, match) {
		return prev, false
	}
	return State{
		List:         slices.DeleteFunc(slices.Clone(prev.List), match),
		HighPriority: slices.DeleteFunc(slices.Clone(prev.HighPriority), match),
	}, true
}

func acknowledge(prev State, ids []string) (State, bool) {
	ack := set(ids)
	changed := false
	list := slices.Clone(prev.List)
	for i, n := range list {
		if _, ok := ack[n.DatabaseID]; ok && !n.Acknowledged {
			list[i].Acknowledged = true
			changed = true
		}
	}
	if !changed {
		return prev, false
	}
	high := slices.DeleteFunc(slices.Clone(prev.HighPriority), func(n Notice) bool {
		_, ok := ack[n.DatabaseID]
		return ok
	})
	return State{List: list, HighPriority: high}, true
}

func set(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}
