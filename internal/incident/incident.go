// Package incident holds incidents as the server last reported them.
package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/store"
)

type Incident struct {
	ID  string
	Doc json.RawMessage
}

// State maps incident id to the last fetched document.
type State map[string]Incident

type Upsert struct{ Incident Incident }

func (Upsert) Type() string { return "Incident/UPSERT" }

func Reduce(prev State, a store.Action) (State, bool) {
	act, ok := a.(Upsert)
	if !ok || act.Incident.ID == "" {
		return prev, false
	}
	next := maps.Clone(prev)
	if next == nil {
		next = State{}
	}
	next[act.Incident.ID] = act.Incident
	return next, true
}

// Getter is the read half of transport.Server.
type Getter interface {
	Get(ctx context.Context, path string, params url.Values) (json.RawMessage, error)
}

// Path is the REST resource of one incident.
func Path(id string) string {
	return "/incident/" + url.PathEscape(id)
}

// Fetch reads incident id from the server.
func Fetch(ctx context.Context, g Getter, id string) (Incident, error) {
	raw, err := g.Get(ctx, Path(id), nil)
	if err != nil {
		return Incident{}, fmt.Errorf("fetch incident %s: %w", id, err)
	}
	if !gjson.ValidBytes(raw) {
		return Incident{}, fmt.Errorf("fetch incident %s: invalid document", id)
	}
	got := gjson.GetBytes(raw, "id").String()
	if got == "" {
		got = id
	}
	return Incident{ID: got, Doc: raw}, nil
}
