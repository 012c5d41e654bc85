package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"globelod/pkg/version"
)

// Handlers bundles the endpoint handlers mounted by NewServer.
type Handlers struct {
	Session *SessionHandler
	Stats   *StatsHandler
	Events  *EventHub
	Queries *QueryFeed
}

// NewServer creates and configures the HTTP server.
// shutdown is called asynchronously after POST /api/shutdown has been answered.
func NewServer(addr string, h Handlers, shutdown func()) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      NewMux(h, shutdown),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewMux registers all routes. Nil handlers leave their routes unmounted.
func NewMux(h Handlers, shutdown func()) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)

	// Logs
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)
	mux.HandleFunc("GET /api/log/event", handleLatestEvent)

	if h.Session != nil {
		mux.HandleFunc("GET /api/status", h.Session.HandleStatus)
		mux.HandleFunc("GET /api/lod/history", h.Session.HandleHistory)
		mux.HandleFunc("GET /api/overrides", h.Session.HandleGetOverrides)
		mux.HandleFunc("PUT /api/overrides", h.Session.HandleSetOverrides)
		mux.HandleFunc("POST /api/query", h.Session.HandleQuery)
	}
	if h.Queries != nil {
		mux.HandleFunc("GET /api/query/latest", h.Queries.HandleLatest)
	}
	if h.Stats != nil {
		mux.Handle("GET /api/stats", h.Stats)
	}
	if h.Events != nil {
		mux.Handle("GET /api/events", h.Events)
	}

	if shutdown != nil {
		mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
			slog.Info("Graceful shutdown initiated via API")
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write([]byte("Shutting down...")); err != nil {
				slog.Error("Failed to write shutdown response", "error", err)
			}
			// Let the response flush first.
			go func() {
				time.Sleep(100 * time.Millisecond)
				shutdown()
			}()
		})
	}

	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": %q}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}
