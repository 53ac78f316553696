package app

import (
	"context"
	"errors"
	"net/http"

	"inboxd/pkg/api"
	"inboxd/pkg/banner"
	"inboxd/pkg/telemetry"
)

type httpServer = http.Server

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "none" && a.commit != "" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" && a.buildDate != "" {
		verStr += " @ " + a.buildDate
	}
	banner.Print(a.addr, a.dbPath, a.sources, verStr)
}

// startHTTP builds the handler, starts the HTTP server in a goroutine
// and returns a channel that will carry any fatal server error.
func (a *App) startHTTP() <-chan error {
	handler := api.Handler(api.Deps{
		Store:        a.store,
		Threads:      a.threads,
		Notify:       a.notify,
		MaxBodyBytes: a.cfg.Server.MaxBodyBytes.Int64(),
		RateRPS:      a.cfg.RateLimit.RPS,
		RateBurst:    a.cfg.RateLimit.Burst,
	})
	a.srv = &httpServer{Addr: a.addr, Handler: telemetry.Middleware(handler)}
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh
}

// stopHTTP drains in-flight requests and stops the listener.
func (a *App) stopHTTP(ctx context.Context) error {
	if a.srv == nil {
		return nil
	}
	return a.srv.Shutdown(ctx)
}
