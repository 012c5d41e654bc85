package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/metrics"
	"sync"
	"time"

	"globelod/pkg/tracker"
)

const cpuMetric = "/cpu/classes/total:cpu-seconds"

type StatsHandler struct {
	tracker *tracker.Tracker
	now     func() time.Time

	mu       sync.Mutex
	lastCPU  float64
	lastTime time.Time
	maxMem   uint64
	maxCPU   float64
}

func NewStatsHandler(t *tracker.Tracker) *StatsHandler {
	return &StatsHandler{tracker: t, now: time.Now}
}

type ProviderStatsDTO struct {
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	APISuccess  int64 `json:"api_success"`
	APIFailures int64 `json:"api_errors"`
	Throttled   int64 `json:"throttled"`
	HitRate     int64 `json:"hit_rate"`
}

type ComponentStats struct {
	Name        string  `json:"name"`
	MemoryMB    uint64  `json:"memory_mb"`
	MemoryMaxMB uint64  `json:"memory_max_mb"`
	CPUSec      float64 `json:"cpu_sec"`     // Seconds per second
	CPUMaxSec   float64 `json:"cpu_max_sec"` // Peak
	Goroutines  int     `json:"goroutines"`
}

type StatsResponse struct {
	Diagnostics []ComponentStats            `json:"diagnostics"`
	Providers   map[string]ProviderStatsDTO `json:"providers"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	diag := h.gatherDiagnostics()
	h.mu.Unlock()

	resp := StatsResponse{
		Diagnostics: []ComponentStats{diag},
		Providers:   make(map[string]ProviderStatsDTO),
	}
	for provider, stats := range h.tracker.Snapshot() {
		resp.Providers[provider] = toDTO(stats)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode stats response", "error", err)
	}
}

func toDTO(s tracker.ProviderStats) ProviderStatsDTO {
	hitRate := int64(0)
	if total := s.CacheHits + s.CacheMisses; total > 0 {
		hitRate = (s.CacheHits * 100) / total
	}
	return ProviderStatsDTO{
		CacheHits:   s.CacheHits,
		CacheMisses: s.CacheMisses,
		APISuccess:  s.APISuccess,
		APIFailures: s.APIFailures,
		Throttled:   s.Throttled,
		HitRate:     hitRate,
	}
}

// gatherDiagnostics samples the server process. Caller holds h.mu.
func (h *StatsHandler) gatherDiagnostics() ComponentStats {
	now := h.now()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	cpu := readCPUSeconds()

	if h.lastTime.IsZero() {
		h.lastTime = now
		h.lastCPU = cpu
	}

	cpuSec := 0.0
	if elapsed := now.Sub(h.lastTime).Seconds(); elapsed > 0 {
		cpuSec = max(cpu-h.lastCPU, 0) / elapsed
	}

	h.lastCPU = cpu
	h.lastTime = now
	h.maxMem = max(h.maxMem, mem.Sys)
	h.maxCPU = max(h.maxCPU, cpuSec)

	return ComponentStats{
		Name:        "Server",
		MemoryMB:    bToMb(mem.Sys),
		MemoryMaxMB: bToMb(h.maxMem),
		CPUSec:      cpuSec,
		CPUMaxSec:   h.maxCPU,
		Goroutines:  runtime.NumGoroutine(),
	}
}

func readCPUSeconds() float64 {
	sample := []metrics.Sample{{Name: cpuMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindFloat64 {
		return 0
	}
	return sample[0].Value.Float64()
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
