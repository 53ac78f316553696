// Package app wires the configuration, store, hook chains, HTTP server
// and consistency sweep into one lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"inboxd/pkg/cleanup"
	"inboxd/pkg/config"
	"inboxd/pkg/history"
	"inboxd/pkg/hooks"
	"inboxd/pkg/logger"
	"inboxd/pkg/notify"
	"inboxd/pkg/progressor"
	"inboxd/pkg/state"
	"inboxd/pkg/store"
	"inboxd/pkg/thread"
	"inboxd/pkg/validation"

	"inboxd/internal/sweep"
)

const shutdownGrace = 10 * time.Second

// App encapsulates the server components and lifecycle.
type App struct {
	cfg       *config.Config
	addr      string
	dbPath    string
	sources   string
	version   string
	commit    string
	buildDate string

	store   *store.Store
	threads *thread.Materializer
	notify  *notify.Manager
	sweeper *sweep.Runner

	srv *httpServer
}

// New validates the config, opens the store and registers the hook
// chains. It does not start the HTTP server or the sweep; call Run.
func New(cfg *config.Config, addr, dbPath, sources, version, commit, buildDate string) (*App, error) {
	if err := validateConfig(cfg, addr, dbPath); err != nil {
		return nil, err
	}
	if err := state.EnsureStateDirs(dbPath); err != nil {
		return nil, fmt.Errorf("state layout under %s: %w", dbPath, err)
	}
	validation.SetRules(validation.Rules{
		MaxContentLen:  cfg.Validation.MaxContentLen,
		MaxUsernameLen: cfg.Validation.MaxUsernameLen,
	})

	d := hooks.NewDispatcher()
	st, err := store.Open(dbPath, d)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", dbPath, err)
	}

	if err := progressor.Sync(context.Background(), st, version); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("startup migration failed: %w", err)
	}

	nm := notify.NewManager(st, cfg.Notifications.Cap)
	d.OnMessageUpdate(history.NewRecorder())
	d.OnMessageCreate(nm)
	d.OnUserDelete(cleanup.NewCoordinator(st))

	a := &App{
		cfg:       cfg,
		addr:      addr,
		dbPath:    dbPath,
		sources:   sources,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		store:     st,
		threads:   thread.NewMaterializer(st, cfg.Threads.MaxDepth),
		notify:    nm,
		sweeper:   sweep.New(st, cfg.Notifications.Cap, cfg.Sweep.Cron),
	}
	return a, nil
}

// Store exposes the opened store, mainly for tests driving the app.
func (a *App) Store() *store.Store { return a.store }

// Run starts the sweep scheduler (when enabled) and the HTTP server, and
// blocks until ctx is canceled or a fatal server error occurs. On ctx
// cancellation the server drains in-flight requests before the store
// closes.
func (a *App) Run(ctx context.Context) error {
	var sweepCancel context.CancelFunc
	if a.cfg.Sweep.Enabled {
		c, err := a.sweeper.Start(ctx)
		if err != nil {
			return err
		}
		sweepCancel = c
	} else {
		logger.Info("sweep_disabled")
	}

	a.printBanner()
	errCh := a.startHTTP()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown_requested")
	case err := <-errCh:
		runErr = err
	}

	if sweepCancel != nil {
		sweepCancel()
	}
	shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := a.stopHTTP(shCtx); err != nil {
		logger.Error("http_shutdown_failed", "error", err)
	}
	if err := a.store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
	logger.Info("shutdown_complete")
	return runErr
}
