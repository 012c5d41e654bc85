package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"globelod/pkg/config"
	"globelod/pkg/lod"
	"globelod/pkg/loop"
	"globelod/pkg/query"
	"globelod/pkg/scene"
	"globelod/pkg/store"
	"globelod/pkg/viewer"
)

// Runner executes a function on the control goroutine and waits for it.
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

// SessionHandler exposes one viewer session over HTTP.
// Every controller access is marshalled onto the control goroutine.
type SessionHandler struct {
	run       Runner
	ctrl      *viewer.Controller
	overrides config.Provider
	switches  store.SwitchStore
	waitLimit time.Duration
}

// NewSessionHandler creates a SessionHandler. switches may be nil.
func NewSessionHandler(run Runner, ctrl *viewer.Controller, overrides config.Provider, switches store.SwitchStore) *SessionHandler {
	wait := overrides.AppConfig().Query.SampleTimeout.D() + time.Second
	return &SessionHandler{
		run:       run,
		ctrl:      ctrl,
		overrides: overrides,
		switches:  switches,
		waitLimit: wait,
	}
}

// HandleStatus serves the runtime snapshot.
func (h *SessionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	var snap viewer.Snapshot
	if !h.do(w, r, func() { snap = h.ctrl.Snapshot() }) {
		return
	}
	writeJSON(w, snap)
}

// HandleHistory lists recent committed switches, newest first.
func (h *SessionHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.switches == nil {
		writeJSON(w, []any{})
		return
	}

	limit := h.overrides.HistoryLimit(r.Context())
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, limit)
	}

	recs, err := h.switches.ListSwitches(r.Context(), h.ctrl.Session(), limit)
	if err != nil {
		slog.Error("Failed to list profile switches", "error", err)
		http.Error(w, "Failed to list switches", http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

// OverridesResponse reports the operator overrides in effect.
type OverridesResponse struct {
	Pinned     string             `json:"pinned"`
	MaxProfile string             `json:"max_profile"`
	Mode       viewer.RuntimeMode `json:"mode"`
	Profile    lod.Profile        `json:"profile"`
}

// OverridesRequest updates overrides. Absent fields are untouched and "" clears.
type OverridesRequest struct {
	Pinned     *string `json:"pinned"`
	MaxProfile *string `json:"max_profile"`
}

func (h *SessionHandler) HandleGetOverrides(w http.ResponseWriter, r *http.Request) {
	var resp OverridesResponse
	if !h.do(w, r, func() { resp = h.overridesResponse() }) {
		return
	}
	writeJSON(w, resp)
}

// HandleSetOverrides persists overrides and reconciles the profile immediately.
func (h *SessionHandler) HandleSetOverrides(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	var req OverridesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	pinned, err := parseOverride(req.Pinned)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ceiling, err := parseOverride(req.MaxProfile)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if req.Pinned != nil {
		if err := h.overrides.SetPinnedProfile(ctx, pinned); err != nil {
			slog.Error("Failed to store pinned profile", "error", err)
			http.Error(w, "Failed to store override", http.StatusInternalServerError)
			return
		}
	}
	if req.MaxProfile != nil {
		if err := h.overrides.SetMaxProfile(ctx, ceiling); err != nil {
			slog.Error("Failed to store max profile", "error", err)
			http.Error(w, "Failed to store override", http.StatusInternalServerError)
			return
		}
	}

	var resp OverridesResponse
	ok := h.do(w, r, func() {
		h.ctrl.Reconcile()
		resp = h.overridesResponse()
	})
	if !ok {
		return
	}
	slog.Info("LOD overrides updated", "pinned", resp.Pinned, "max_profile", resp.MaxProfile, "profile", resp.Profile)
	writeJSON(w, resp)
}

func (h *SessionHandler) overridesResponse() OverridesResponse {
	resp := OverridesResponse{
		Mode:    h.ctrl.RuntimeMode(),
		Profile: h.ctrl.Machine().Current(),
	}
	if p, ok := h.ctrl.PinnedProfile(); ok {
		resp.Pinned = p.String()
	}
	if p, ok := h.ctrl.MaxProfile(); ok {
		resp.MaxProfile = p.String()
	}
	return resp
}

func parseOverride(s *string) (*lod.Profile, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	p, err := lod.ParseProfile(*s)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// QueryRequest is a screen point in CSS pixels.
type QueryRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	// Wait blocks until the precise sample resolves.
	Wait bool `json:"wait"`
}

// QueryResponse carries the fast answer and, when waited for, the precise one.
type QueryResponse struct {
	Hit     bool          `json:"hit"`
	Fast    *query.Result `json:"fast,omitempty"`
	Precise *query.Result `json:"precise,omitempty"`
	Outcome string        `json:"outcome,omitempty"`
}

// HandleQuery runs a position query at a screen point.
func (h *SessionHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	var (
		fast    query.Result
		pending *query.Pending
		hit     bool
	)
	if !h.do(w, r, func() { fast, pending, hit = h.ctrl.QueryAt(scene.ScreenPoint{X: req.X, Y: req.Y}) }) {
		return
	}

	resp := QueryResponse{Hit: hit}
	if !hit {
		writeJSON(w, resp)
		return
	}
	resp.Fast = &fast

	if req.Wait {
		ctx, cancel := context.WithTimeout(r.Context(), h.waitLimit)
		defer cancel()
		res, outcome, err := pending.Wait(ctx)
		if err != nil {
			http.Error(w, "Query timed out", http.StatusGatewayTimeout)
			return
		}
		resp.Outcome = outcome.String()
		if outcome == query.Applied {
			resp.Precise = &res
		}
	}
	writeJSON(w, resp)
}

// do runs fn on the control goroutine and writes the error response on failure.
func (h *SessionHandler) do(w http.ResponseWriter, r *http.Request, fn func()) bool {
	err := h.run.Do(r.Context(), fn)
	switch {
	case err == nil:
		return true
	case errors.Is(err, loop.ErrStopped):
		http.Error(w, "Viewer stopped", http.StatusServiceUnavailable)
	default:
		http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
