// Package store is the application state container. State changes only
// through Dispatch; reducers are pure and report whether anything changed
// so subscribers are not woken for no-op updates.
package store

import (
	"encoding/json"
	"sync"
)

// Action is a tagged state transition.
type Action interface {
	Type() string
}

// Raw is an untyped action built from a push envelope: the envelope type
// and its flattened payload. Reducers match it by Kind.
type Raw struct {
	Kind    string
	Payload json.RawMessage
}

func (r Raw) Type() string { return r.Kind }

// Decode unmarshals the payload into v.
func (r Raw) Decode(v any) error {
	if len(r.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(r.Payload, v)
}

// Reducer computes the next state. changed=false must return prev unchanged.
type Reducer[S any] func(prev S, a Action) (next S, changed bool)

// Dispatcher is what side-effecting code needs from a store.
type Dispatcher interface {
	Dispatch(a Action)
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(a Action)

func (f DispatchFunc) Dispatch(a Action) { f(a) }

// Middleware observes or wraps dispatch, outermost first.
type Middleware func(next DispatchFunc) DispatchFunc

type Store[S any] struct {
	mu       sync.Mutex
	state    S
	reducer  Reducer[S]
	dispatch DispatchFunc

	subMu   sync.Mutex
	subs    map[int]func(S)
	nextSub int
}

func New[S any](initial S, reducer Reducer[S], mw ...Middleware) *Store[S] {
	s := &Store[S]{
		state:   initial,
		reducer: reducer,
		subs:    make(map[int]func(S)),
	}
	d := DispatchFunc(s.apply)
	for i := len(mw) - 1; i >= 0; i-- {
		d = mw[i](d)
	}
	s.dispatch = d
	return s
}

// Dispatch runs the action through middleware and the reducer. Safe for
// concurrent use; actions are applied one at a time.
func (s *Store[S]) Dispatch(a Action) {
	if a == nil {
		return
	}
	s.dispatch(a)
}

func (s *Store[S]) apply(a Action) {
	s.mu.Lock()
	next, changed := s.reducer(s.state, a)
	if changed {
		s.state = next
	}
	s.mu.Unlock()

	if changed {
		s.notify(next)
	}
}

// State returns the current snapshot.
func (s *Store[S]) State() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn to run after every changing dispatch.
func (s *Store[S]) Subscribe(fn func(S)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store[S]) notify(state S) {
	s.subMu.Lock()
	fns := make([]func(S), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
