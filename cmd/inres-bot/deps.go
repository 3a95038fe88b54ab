package main

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"

	"github.com/phonginreallife/inres-oncall/internal/config"
	"github.com/phonginreallife/inres-oncall/services"
	"github.com/phonginreallife/inres-oncall/store"
)

// backends holds the lazily created infrastructure shared by the subcommands.
type backends struct {
	cfg    config.Config
	logger *zap.Logger

	fbApp *firebase.App
}

func (b *backends) firebaseApp(ctx context.Context) (*firebase.App, error) {
	if b.fbApp != nil {
		return b.fbApp, nil
	}
	app, err := services.NewFirebaseApp(ctx, b.cfg.Firebase.CredentialsFile, b.cfg.Firebase.ProjectID)
	if err != nil {
		return nil, err
	}
	b.fbApp = app
	return app, nil
}

// openStore connects the configured store driver. SQL schemas are migrated on open.
func (b *backends) openStore(ctx context.Context) (store.Store, error) {
	switch b.cfg.StoreDriver {
	case "postgres", "sqlite":
		dialect, dsn := store.DialectPostgres, b.cfg.DatabaseURL
		if b.cfg.StoreDriver == "sqlite" {
			dialect, dsn = store.DialectSQLite, b.cfg.SQLitePath
		}
		conn, err := store.OpenSQL(ctx, dialect, dsn)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx, conn); err != nil {
			conn.Close()
			return nil, err
		}
		b.logger.Info("connected to database", zap.String("driver", b.cfg.StoreDriver))
		return store.NewSQLStore(conn, dialect), nil

	case "firestore":
		app, err := b.firebaseApp(ctx)
		if err != nil {
			return nil, err
		}
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize firestore: %w", err)
		}
		b.logger.Info("connected to firestore", zap.String("project_id", b.cfg.Firebase.ProjectID))
		return store.NewFirestoreStore(client), nil

	case "memory":
		b.logger.Warn("using the in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store_driver %q", b.cfg.StoreDriver)
}

// openSessions uses Redis when configured so roster sessions survive restarts
// and are shared between replicas.
func (b *backends) openSessions(ctx context.Context) (services.SessionStore, func(), error) {
	if b.cfg.RedisURL == "" {
		return services.NewMemorySessionStore(), func() {}, nil
	}
	client, err := services.NewRedisClient(ctx, b.cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	b.logger.Info("roster sessions stored in redis")
	return services.NewRedisSessionStore(client, b.cfg.SessionTTL), func() { client.Close() }, nil
}
