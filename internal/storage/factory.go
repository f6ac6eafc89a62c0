package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Factory creates one handle per request scope. Open must not be called before the handle
// is needed, and every opened handle is given back to Close.
type Factory[T any] interface {
	Name() string
	Open(ctx context.Context) (T, error)
	Ping(ctx context.Context, handle T) error
	Close(ctx context.Context, handle T) error
}

// SQLFactory hands out dedicated connections from a lazily dialed pool.
type SQLFactory struct {
	db *sqlx.DB
}

func (f *SQLFactory) Name() string {
	return "sqlServer"
}

func (f *SQLFactory) Open(ctx context.Context) (*sqlx.Conn, error) {
	conn, err := f.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot open a sql server connection: %w", err)
	}
	return conn, nil
}

func (f *SQLFactory) Ping(ctx context.Context, conn *sqlx.Conn) error {
	return conn.PingContext(ctx)
}

func (f *SQLFactory) Close(ctx context.Context, conn *sqlx.Conn) error {
	return conn.Close()
}

// Shutdown closes the pool behind the connections.
func (f *SQLFactory) Shutdown() error {
	return f.db.Close()
}

type SQLFactoryOption func(*SQLFactory) error

func WithSQLServer(descriptor SQLServerDescriptor) SQLFactoryOption {
	return func(f *SQLFactory) error {
		// sqlx.Open only validates the DSN, the server is contacted on first use
		db, err := sqlx.Open("sqlserver", descriptor.DSN())
		if err != nil {
			return fmt.Errorf("invalid sql server configuration %s: %w", descriptor.String(), err)
		}
		f.db = db
		return nil
	}
}

// WithDB uses an existing pool.
func WithDB(db *sqlx.DB) SQLFactoryOption {
	return func(f *SQLFactory) error {
		f.db = db
		return nil
	}
}

func NewSQLFactory(options ...SQLFactoryOption) (*SQLFactory, error) {
	f := SQLFactory{}
	for _, opt := range options {
		err := opt(&f)
		if err != nil {
			return &SQLFactory{}, err
		}
	}
	if f.db == nil {
		return &SQLFactory{}, fmt.Errorf("sql server pool is not initialized")
	}
	return &f, nil
}

// MongoFactory creates a new client for every request scope.
type MongoFactory struct {
	clientOptions *options.ClientOptions
}

func (f *MongoFactory) Name() string {
	return "mongoDB"
}

func (f *MongoFactory) Open(ctx context.Context) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, f.clientOptions)
	if err != nil {
		return nil, fmt.Errorf("cannot create a mongodb client: %w", err)
	}
	return client, nil
}

func (f *MongoFactory) Ping(ctx context.Context, client *mongo.Client) error {
	return client.Ping(ctx, readpref.Primary())
}

func (f *MongoFactory) Close(ctx context.Context, client *mongo.Client) error {
	return client.Disconnect(ctx)
}

type MongoFactoryOption func(*MongoFactory) error

func WithMongoDB(descriptor MongoDescriptor) MongoFactoryOption {
	return func(f *MongoFactory) error {
		f.clientOptions = descriptor.ClientOptions()
		return nil
	}
}

// WithServerSelectionTimeout bounds how long an operation waits for a reachable server.
func WithServerSelectionTimeout(timeout time.Duration) MongoFactoryOption {
	return func(f *MongoFactory) error {
		if f.clientOptions == nil {
			return fmt.Errorf("the mongodb descriptor has to be set before the timeout")
		}
		f.clientOptions.SetServerSelectionTimeout(timeout)
		return nil
	}
}

func NewMongoFactory(options ...MongoFactoryOption) (*MongoFactory, error) {
	f := MongoFactory{}
	for _, opt := range options {
		err := opt(&f)
		if err != nil {
			return &MongoFactory{}, err
		}
	}
	if f.clientOptions == nil {
		return &MongoFactory{}, fmt.Errorf("mongodb client options are not initialized")
	}
	if err := f.clientOptions.Validate(); err != nil {
		return &MongoFactory{}, fmt.Errorf("invalid mongodb configuration: %w", err)
	}
	return &f, nil
}
