package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/fielderrors"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/observ"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/store"
	"github.com/leosmartdev/prisma-ui-master-sub003/internal/transport"
)

// ErrDisposed is returned to callers whose scope was disposed while the
// operation was in flight.
var ErrDisposed = errors.New("transaction scope disposed")

// Func is the side-effecting operation a transaction wraps.
type Func func(ctx context.Context) (any, error)

// ValidationError is an HTTP 400 failure with its parsed field errors.
type ValidationError struct {
	Err         error
	FieldErrors fielderrors.Tree
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// FieldErrorsOf extracts the field error tree from err, if any.
func FieldErrorsOf(err error) fielderrors.Tree {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.FieldErrors
	}
	return nil
}

type callOptions struct {
	fieldErrors bool
}

type CallOption func(*callOptions)

// WithoutFieldErrors returns 400 failures undecorated.
func WithoutFieldErrors() CallOption {
	return func(o *callOptions) { o.fieldErrors = false }
}

// Manager runs operations as tracked transactions. Concurrent transactions
// are independent; identical requests are not coalesced.
type Manager struct {
	d           store.Dispatcher
	onForbidden atomic.Pointer[func(context.Context)]
}

func NewManager(d store.Dispatcher) *Manager {
	return &Manager{d: d}
}

// OnForbidden sets the hook run when an operation fails with HTTP 403.
func (m *Manager) OnForbidden(fn func(ctx context.Context)) {
	m.onForbidden.Store(&fn)
}

func NewID() string {
	return uuid.NewString()
}

// Run executes fn under a fresh id and removes the record once it settles.
func (m *Manager) Run(ctx context.Context, fn Func, opts ...CallOption) (any, error) {
	id := NewID()
	defer m.Delete(id)
	return m.run(ctx, id, fn, nil, opts)
}

// Track executes fn under a caller-chosen id. The record stays in State
// until Delete.
func (m *Manager) Track(ctx context.Context, id string, fn Func, opts ...CallOption) (any, error) {
	return m.run(ctx, id, fn, nil, opts)
}

// Delete removes finished records.
func (m *Manager) Delete(ids ...string) {
	if len(ids) > 0 {
		m.d.Dispatch(Deleted{IDs: ids})
	}
}

// Do is Run with a typed result.
func Do[T any](ctx context.Context, m *Manager, fn func(ctx context.Context) (T, error), opts ...CallOption) (T, error) {
	res, err := m.Run(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	out, _ := res.(T)
	return out, nil
}

func (m *Manager) run(ctx context.Context, id string, fn Func, alive func() bool, opts []CallOption) (any, error) {
	o := callOptions{fieldErrors: true}
	for _, opt := range opts {
		opt(&o)
	}

	m.d.Dispatch(Started{ID: id})
	observ.AddGauge("transactions_loading", 1, nil)
	defer observ.AddGauge("transactions_loading", -1, nil)

	res, err := fn(ctx)
	if err != nil {
		err = m.decorate(ctx, err, o)
	}

	if alive != nil && !alive() {
		observ.IncCounter("transactions_total", map[string]string{"outcome": "disposed"})
		return nil, ErrDisposed
	}

	if err != nil {
		observ.IncCounter("transactions_total", map[string]string{"outcome": "failure"})
		observ.Debug("transaction_failed", map[string]any{"id": id, "error": err.Error()})
		m.d.Dispatch(Failed{ID: id, Err: err})
		return nil, err
	}
	observ.IncCounter("transactions_total", map[string]string{"outcome": "success"})
	m.d.Dispatch(Succeeded{ID: id, Response: res})
	return res, nil
}

func (m *Manager) decorate(ctx context.Context, err error, o callOptions) error {
	switch {
	case transport.IsForbidden(err):
		if fn := m.onForbidden.Load(); fn != nil && *fn != nil {
			(*fn)(ctx)
		}
	case o.fieldErrors && transport.IsValidation(err):
		var te *transport.Error
		if errors.As(err, &te) {
			tree, perr := fielderrors.Parse(te.Data)
			if perr == nil {
				return &ValidationError{Err: err, FieldErrors: tree}
			}
			observ.Log("field_errors_unparsable", map[string]any{"error": perr})
		}
	}
	return err
}

// Scope groups the transactions of one consumer. After Dispose, completions
// still in flight are not recorded and their callers get ErrDisposed.
type Scope struct {
	m        *Manager
	mu       sync.Mutex
	ids      map[string]struct{}
	disposed bool
}

func (m *Manager) NewScope() *Scope {
	return &Scope{m: m, ids: make(map[string]struct{})}
}

// Track runs fn as a tracked transaction owned by the scope.
func (s *Scope) Track(ctx context.Context, id string, fn Func, opts ...CallOption) (any, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, ErrDisposed
	}
	s.ids[id] = struct{}{}
	s.mu.Unlock()

	return s.m.run(ctx, id, fn, s.alive, opts)
}

func (s *Scope) alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disposed
}

// Dispose deletes the scope's records and ignores later completions.
func (s *Scope) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	s.m.Delete(ids...)
}
