package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-secrets/internal/config"
	"github.com/ovaphlow/pitchfork/service-secrets/internal/oauth"
	"github.com/ovaphlow/pitchfork/service-secrets/internal/router"
	"github.com/ovaphlow/pitchfork/service-secrets/internal/session"
	"github.com/ovaphlow/pitchfork/service-secrets/internal/user"
	"github.com/ovaphlow/pitchfork/service-secrets/internal/view"
	"github.com/ovaphlow/pitchfork/service-secrets/pkg/database"
	"github.com/ovaphlow/pitchfork/service-secrets/pkg/utilities"
)

const sweepInterval = 10 * time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "secrets: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "secrets",
		Usage: "share anonymous secrets behind a login",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "load environment from `FILE` (default: .env when present)",
			},
		},
		Before: func(c *cli.Context) error {
			return config.LoadEnvFile(c.String("env-file"))
		},
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the web server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "listen address, overrides SECRETS_ADDR"},
				},
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply schema migrations (postgres) or create indexes (mongodb); needs only DATABASE_* settings",
				Action: migrate,
			},
		},
	}
}

// setup loads config with the given loader and builds the logger.
func setup(load func() (config.Config, error)) (config.Config, *zap.Logger, error) {
	cfg, err := load()
	if err != nil {
		return config.Config{}, nil, err
	}
	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, lg, nil
}

func serve(c *cli.Context) error {
	cfg, lg, err := setup(config.Load)
	if err != nil {
		return err
	}
	defer lg.Sync()
	sugar := lg.Sugar()
	if addr := c.String("addr"); addr != "" {
		cfg.Addr = addr
	}

	ctx := c.Context
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Database.Timeout*3)
	b, err := openBackend(connectCtx, cfg, sugar)
	cancel()
	if err != nil {
		sugar.Fatalw("database unavailable at startup", "err", err)
	}
	defer b.Close()
	sugar.Infow("storage ready", "driver", b.driver, "session_store", cfg.Session.Store)

	views, err := view.NewRenderer()
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	var strategy *oauth.Strategy
	if cfg.OAuth.Enabled() {
		strategy = oauth.NewStrategy(oauth.NewProvider(cfg.OAuth.Google()), cfg.Session.Secure)
	} else {
		sugar.Warn("CLIENT_ID/CLIENT_SECRET not set; google sign-in disabled")
	}

	svc := user.NewUserService(b.users, user.BcryptHasher{Cost: cfg.BcryptCost})
	sessions := session.NewManager(b.sessions, cfg.Session, sugar)
	h := user.NewHandler(svc, sessions, strategy, views, sugar)

	if b.sweep != nil {
		go runSweeper(ctx, sweepInterval, b.sweep, sugar)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router.RegisterRoutes(sugar, h, sessions),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		sugar.Infow("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	sugar.Info("shutting down")
	doneCtx, cancelDone := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelDone()
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnw("http server shutdown failed", "err", err)
	}
	sugar.Info("goodbye")
	return nil
}

func migrate(c *cli.Context) error {
	cfg, lg, err := setup(config.LoadStorage)
	if err != nil {
		return err
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	driver, _ := cfg.Database.Driver()
	if driver == database.DriverMemory {
		sugar.Info("memory driver has no schema; nothing to migrate")
		return nil
	}
	ctx, cancel := context.WithTimeout(c.Context, time.Minute)
	defer cancel()
	// openBackend applies migrations and indexes as part of connecting
	b, err := openBackend(ctx, cfg, sugar)
	if err != nil {
		return fmt.Errorf("migrate %s: %w", driver, err)
	}
	b.Close()
	sugar.Infow("schema up to date", "driver", driver)
	return nil
}
