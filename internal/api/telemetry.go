package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"globelod/pkg/query"
)

// QueryFeedResponse is the body of GET /api/query/latest.
type QueryFeedResponse struct {
	query.Result
	Count int `json:"count"`
}

// QueryFeed keeps the latest applied position query for polling clients.
type QueryFeed struct {
	mu     sync.RWMutex
	latest query.Result
	count  int
}

func NewQueryFeed() *QueryFeed {
	return &QueryFeed{}
}

// QueryResult implements query.Sink.
func (h *QueryFeed) QueryResult(r query.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = r
	h.count++
}

// HandleLatest answers 204 until the first query lands.
func (h *QueryFeed) HandleLatest(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	resp := QueryFeedResponse{Result: h.latest, Count: h.count}
	h.mu.RUnlock()

	if resp.Count == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode query response", "error", err)
	}
}
