// Package storage creates the request scoped handles of the relational and the document
// store. Nothing is dialed at startup, an unreachable store only fails the requests that
// use it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/SwissDataScienceCenter/renku-portal/internal/correlation"
	"github.com/SwissDataScienceCenter/renku-portal/internal/portalerrors"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/mongo"
)

const ScopeCtxKey string = "storage_scope"

var errClosed = errors.New("the handle was released at the end of the request")

// RequestScope is the scope type used by the portal handlers.
type RequestScope = Scope[*sqlx.Conn, *mongo.Client]

type Storage[S, M any] struct {
	sqlFactory   Factory[S]
	mongoFactory Factory[M]
}

// Middleware gives every request its own scope and closes it after the handler returned.
func (s *Storage[S, M]) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			scope := NewScope(s.sqlFactory, s.mongoFactory)
			c.Set(ScopeCtxKey, scope)
			defer func() {
				ctx := context.WithoutCancel(c.Request().Context())
				if err := scope.Close(ctx); err != nil {
					slog.Warn(
						"STORAGE MIDDLEWARE",
						"message",
						"could not release request scoped handles",
						"error",
						err,
						"requestID",
						correlation.ID(c),
					)
				}
			}()
			return next(c)
		}
	}
}

// ScopeFromContext returns the scope of the request.
func ScopeFromContext[S, M any](c echo.Context) (*Scope[S, M], error) {
	scope, ok := c.Get(ScopeCtxKey).(*Scope[S, M])
	if !ok || scope == nil {
		return nil, portalerrors.ErrNoRequestScope
	}
	return scope, nil
}

type StorageOption[S, M any] func(*Storage[S, M]) error

func WithSQLFactory[S, M any](factory Factory[S]) StorageOption[S, M] {
	return func(s *Storage[S, M]) error {
		s.sqlFactory = factory
		return nil
	}
}

func WithMongoFactory[S, M any](factory Factory[M]) StorageOption[S, M] {
	return func(s *Storage[S, M]) error {
		s.mongoFactory = factory
		return nil
	}
}

func NewStorage[S, M any](options ...StorageOption[S, M]) (*Storage[S, M], error) {
	s := Storage[S, M]{}
	for _, opt := range options {
		err := opt(&s)
		if err != nil {
			return &Storage[S, M]{}, err
		}
	}
	if s.sqlFactory == nil {
		return &Storage[S, M]{}, fmt.Errorf("sql server factory is not initialized")
	}
	if s.mongoFactory == nil {
		return &Storage[S, M]{}, fmt.Errorf("mongodb factory is not initialized")
	}
	return &s, nil
}

// NewPortalStorage wires the sql server and the mongodb factories.
func NewPortalStorage(sqlFactory *SQLFactory, mongoFactory *MongoFactory) (*Storage[*sqlx.Conn, *mongo.Client], error) {
	return NewStorage(
		WithSQLFactory[*sqlx.Conn, *mongo.Client](sqlFactory),
		WithMongoFactory[*sqlx.Conn, *mongo.Client](mongoFactory),
	)
}

// RequestScopeFromContext returns the scope created by the portal storage middleware.
func RequestScopeFromContext(c echo.Context) (*RequestScope, error) {
	return ScopeFromContext[*sqlx.Conn, *mongo.Client](c)
}
