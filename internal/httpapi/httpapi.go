// Package httpapi serves the bot's ops-only admin endpoints: /health and
// /metrics. It never receives forge webhooks — Event Ingress for those is
// wired separately — this server exists purely for liveness probes and
// operator visibility into actor-registry load.
package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Stats is a snapshot of engine load the /metrics handler renders. The
// caller (internal/bot) recomputes it from the actor registry on each scrape
// rather than the server tracking state itself.
type Stats struct {
	ActiveMRActors   int
	QueuedCycles     int
	EventsIngested   int64
	ActionsExecuted  int64
	ActionsFailed    int64
}

// StatsFunc produces a fresh Stats snapshot for each /metrics request.
type StatsFunc func() Stats

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("httpapi: request", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration_ms", time.Since(start).Milliseconds())
	})
}

func recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("httpapi: panic recovered", "error", err, "stack", string(debug.Stack()))
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// NewRouter builds the admin HTTP handler.
func NewRouter(statsFn StatsFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(recovery)
	r.Use(chimiddleware.Timeout(5 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s := statsFn()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "robocat_active_mr_actors %d\n", s.ActiveMRActors)
		fmt.Fprintf(w, "robocat_queued_cycles %d\n", s.QueuedCycles)
		fmt.Fprintf(w, "robocat_events_ingested_total %d\n", s.EventsIngested)
		fmt.Fprintf(w, "robocat_actions_executed_total %d\n", s.ActionsExecuted)
		fmt.Fprintf(w, "robocat_actions_failed_total %d\n", s.ActionsFailed)
	})

	return r
}
