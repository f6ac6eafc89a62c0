package storage

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
)

type scopedHandle interface {
	name() string
	ping(ctx context.Context) error
	close(ctx context.Context) error
}

// Lazy opens its handle on the first Get and hands the same handle back afterwards. A
// failed open is remembered so every caller in the scope sees the same error.
type Lazy[T any] struct {
	factory Factory[T]
	lock    sync.Mutex
	opened  bool
	handle  T
	err     error
}

func NewLazy[T any](factory Factory[T]) *Lazy[T] {
	return &Lazy[T]{factory: factory}
}

func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if !l.opened {
		l.handle, l.err = l.factory.Open(ctx)
		l.opened = true
	}
	return l.handle, l.err
}

// Opened reports whether Get was called and succeeded.
func (l *Lazy[T]) Opened() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.opened && l.err == nil
}

func (l *Lazy[T]) name() string {
	return l.factory.Name()
}

func (l *Lazy[T]) ping(ctx context.Context) error {
	handle, err := l.Get(ctx)
	if err != nil {
		return err
	}
	return l.factory.Ping(ctx, handle)
}

func (l *Lazy[T]) close(ctx context.Context) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if !l.opened || l.err != nil {
		return nil
	}
	var zero T
	err := l.factory.Close(ctx, l.handle)
	l.handle = zero
	l.err = errClosed
	return err
}

// Scope owns the store handles of one request.
type Scope[S, M any] struct {
	sql     *Lazy[S]
	mongo   *Lazy[M]
	handles []scopedHandle
}

func NewScope[S, M any](sqlFactory Factory[S], mongoFactory Factory[M]) *Scope[S, M] {
	s := Scope[S, M]{sql: NewLazy(sqlFactory), mongo: NewLazy(mongoFactory)}
	s.handles = []scopedHandle{s.sql, s.mongo}
	return &s
}

// SQL returns the relational handle of the scope, opening it if needed.
func (s *Scope[S, M]) SQL(ctx context.Context) (S, error) {
	return s.sql.Get(ctx)
}

// Mongo returns the document store handle of the scope, opening it if needed.
func (s *Scope[S, M]) Mongo(ctx context.Context) (M, error) {
	return s.mongo.Get(ctx)
}

// Ping checks every store through the scope and returns the error of each by name.
func (s *Scope[S, M]) Ping(ctx context.Context) map[string]error {
	result := map[string]error{}
	for _, handle := range s.handles {
		result[handle.name()] = handle.ping(ctx)
	}
	return result
}

// Close releases the handles that were opened.
func (s *Scope[S, M]) Close(ctx context.Context) error {
	var result *multierror.Error
	for _, handle := range s.handles {
		if err := handle.close(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
