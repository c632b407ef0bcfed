package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/example/foodshare/internal/config"
	"github.com/example/foodshare/internal/listing/domain"
)

// Backend is an opened listing store plus the handles it owns.
type Backend struct {
	Store domain.Store
	// DB is set for the postgres backend so the outbox can share it.
	DB    *sql.DB
	close func(context.Context) error
	ping  func(context.Context) error
}

// Ping checks that the backing database is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	if b == nil || b.ping == nil {
		return nil
	}
	if err := b.ping(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

// Close releases the backend's connections.
func (b *Backend) Close(ctx context.Context) error {
	if b == nil || b.close == nil {
		return nil
	}
	return b.close(ctx)
}

// Open connects the store selected by cfg.StoreBackend and prepares its schema.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.StoreBackend {
	case "", config.BackendMemory:
		logger.Info("using in-memory listing store")
		return &Backend{Store: NewMemoryRepository()}, nil

	case config.BackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("%w: POSTGRES_DSN is required for the postgres backend", domain.ErrInvalidArgument)
		}
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return nil, storageErr("postgres connect", err)
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, storageErr("postgres ping", err)
		}
		repo := NewPostgresRepository(db, cfg.EventsSubject)
		if err := repo.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("using postgres listing store")
		return &Backend{
			Store: repo,
			DB:    db,
			close: func(context.Context) error { return db.Close() },
			ping:  db.PingContext,
		}, nil

	case config.BackendMongo:
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("%w: MONGODB_URI is required for the mongo backend", domain.ErrInvalidArgument)
		}
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, storageErr("mongo connect", err)
		}
		if err := client.Ping(connectCtx, nil); err != nil {
			_ = client.Disconnect(ctx)
			return nil, storageErr("mongo ping", err)
		}
		repo := NewMongoRepository(client.Database(cfg.MongoDatabase), cfg.MongoCollection)
		if err := repo.EnsureIndexes(connectCtx); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		logger.Info("using mongo listing store",
			zap.String("database", cfg.MongoDatabase),
			zap.String("collection", cfg.MongoCollection))
		return &Backend{
			Store: repo,
			close: client.Disconnect,
			ping:  func(ctx context.Context) error { return client.Ping(ctx, nil) },
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", domain.ErrInvalidArgument, cfg.StoreBackend)
	}
}
