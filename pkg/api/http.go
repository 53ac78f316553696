// Package api exposes the messaging engine over HTTP with JSON bodies.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inboxd/pkg/api/handlers"
	"inboxd/pkg/notify"
	"inboxd/pkg/store"
	"inboxd/pkg/thread"
)

// Deps carries the wired components the HTTP layer serves.
type Deps struct {
	Store   *store.Store
	Threads *thread.Materializer
	Notify  *notify.Manager

	// MaxBodyBytes caps request bodies; 0 disables the cap.
	MaxBodyBytes int64
	// RateRPS / RateBurst configure the per-client limiter; RPS 0
	// disables limiting.
	RateRPS   float64
	RateBurst int
}

// Handler builds the full router: health and metrics at the root, the
// versioned API under /v1 behind the logging, rate-limit and body-size
// middleware.
func Handler(d Deps) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", readyz(d.Store)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(requestLog)
	if d.RateRPS > 0 {
		v1.Use(rateLimit(d.RateRPS, d.RateBurst))
	}
	if d.MaxBodyBytes > 0 {
		v1.Use(bodyLimit(d.MaxBodyBytes))
	}

	hd := handlers.Deps{Store: d.Store, Threads: d.Threads, Notify: d.Notify}
	handlers.RegisterUsers(v1, hd)
	handlers.RegisterMessages(v1, hd)
	handlers.RegisterNotifications(v1, hd)
	return r
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func readyz(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if s == nil || !s.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
