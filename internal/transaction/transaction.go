package transaction

import (
	"maps"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/store"
)

// Transaction is the tracked record of one awaitable operation. Once
// Loading is false exactly one of Response and Error is set.
type Transaction struct {
	ID       string
	Loading  bool
	Response any
	Error    error
}

// State holds transactions by id. Entries are removed only by Deleted.
type State map[string]Transaction

type Started struct{ ID string }

type Succeeded struct {
	ID       string
	Response any
}

type Failed struct {
	ID  string
	Err error
}

type Deleted struct{ IDs []string }

func (Started) Type() string   { return "Transaction/CREATE" }
func (Succeeded) Type() string { return "Transaction/SUCCESS" }
func (Failed) Type() string    { return "Transaction/FAILURE" }
func (Deleted) Type() string   { return "Transaction/DELETE" }

func Reduce(prev State, a store.Action) (State, bool) {
	switch act := a.(type) {
	case Started:
		return with(prev, Transaction{ID: act.ID, Loading: true}), true
	case Succeeded:
		if _, ok := prev[act.ID]; !ok {
			return prev, false
		}
		return with(prev, Transaction{ID: act.ID, Response: act.Response}), true
	case Failed:
		if _, ok := prev[act.ID]; !ok {
			return prev, false
		}
		return with(prev, Transaction{ID: act.ID, Error: act.Err}), true
	case Deleted:
		next := prev
		changed := false
		for _, id := range act.IDs {
			if _, ok := next[id]; !ok {
				continue
			}
			if !changed {
				next = maps.Clone(prev)
				changed = true
			}
			delete(next, id)
		}
		return next, changed
	}
	return prev, false
}

func with(prev State, t Transaction) State {
	next := make(State, len(prev)+1)
	maps.Copy(next, prev)
	next[t.ID] = t
	return next
}
