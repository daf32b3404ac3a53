package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-secrets/internal/config"
	"github.com/ovaphlow/pitchfork/service-secrets/internal/session"
	sessionrepo "github.com/ovaphlow/pitchfork/service-secrets/internal/session/repo"
	"github.com/ovaphlow/pitchfork/service-secrets/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-secrets/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-secrets/pkg/database"
)

// backend bundles the stores picked by DATABASE_URL and SESSION_STORE.
type backend struct {
	driver   database.Driver
	users    user.Store
	sessions session.Store
	// sweep purges expired sessions; nil when the store expires them itself
	sweep   func(ctx context.Context) (int64, error)
	closers []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackend connects to the configured database and prepares its schema.
func openBackend(ctx context.Context, cfg config.Config, sugar *zap.SugaredLogger) (*backend, error) {
	driver, err := cfg.Database.Driver()
	if err != nil {
		return nil, err
	}
	b := &backend{driver: driver}

	switch driver {
	case database.DriverPostgres:
		db, err := database.ConnectPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = db.Close() })
		if err := database.MigratePostgres(ctx, db); err != nil {
			b.Close()
			return nil, err
		}
		sessions := sessionrepo.NewSessionRepo(db)
		b.users = userrepo.NewUserRepo(db)
		b.sessions = sessions
		b.sweep = sessions.DeleteExpired

	case database.DriverMongo:
		client, db, err := database.ConnectMongo(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(dctx); err != nil {
				sugar.Warnw("mongo disconnect failed", "err", err)
			}
		})
		users := userrepo.NewMongoRepo(db)
		sessions := sessionrepo.NewMongoRepo(db)
		if err := users.EnsureIndexes(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("user indexes: %w", err)
		}
		if err := sessions.EnsureIndexes(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("session indexes: %w", err)
		}
		b.users = users
		b.sessions = sessions

	case database.DriverMemory:
		sugar.Warnw("using in-memory user store; data is lost on restart")
		b.users = userrepo.NewMemoryRepo()
	}

	if b.sessions == nil || cfg.Session.Store == "memory" {
		mem, err := sessionrepo.NewMemoryRepo(cfg.Session.TTL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("memory session store: %w", err)
		}
		b.closers = append(b.closers, func() { _ = mem.Close() })
		b.sessions = mem
		b.sweep = nil
	}
	return b, nil
}

// runSweeper deletes expired sessions on every tick until ctx is done.
func runSweeper(ctx context.Context, every time.Duration, sweep func(context.Context) (int64, error), sugar *zap.SugaredLogger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := sweep(ctx)
			if err != nil {
				sugar.Warnw("session sweep failed", "err", err)
				continue
			}
			if n > 0 {
				sugar.Debugw("expired sessions removed", "count", n)
			}
		}
	}
}
