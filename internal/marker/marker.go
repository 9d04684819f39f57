// Package marker holds map markers pushed by the server.
package marker

import (
	"encoding/json"
	"maps"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/store"
)

type Marker struct {
	ID  string
	Doc json.RawMessage
}

type State map[string]Marker

// Upsert stores the inline marker document as is.
type Upsert struct{ Marker Marker }

type Remove struct{ ID string }

func (Upsert) Type() string { return "Marker/UPSERT" }
func (Remove) Type() string { return "Marker/REMOVE" }

func Reduce(prev State, a store.Action) (State, bool) {
	switch act := a.(type) {
	case Upsert:
		if act.Marker.ID == "" {
			return prev, false
		}
		next := maps.Clone(prev)
		if next == nil {
			next = State{}
		}
		next[act.Marker.ID] = act.Marker
		return next, true
	case Remove:
		if _, ok := prev[act.ID]; !ok {
			return prev, false
		}
		next := maps.Clone(prev)
		delete(next, act.ID)
		return next, true
	}
	return prev, false
}
