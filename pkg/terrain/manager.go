package terrain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"globelod/pkg/loop"
	"globelod/pkg/model"
)

// State is the lifecycle state of the local terrain source.
type State int

const (
	Unset State = iota
	Loading
	Ready
	Disabled
)

func (s State) String() string {
	switch s {
	case Unset:
		return "unset"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Disabled:
		return "disabled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FaultDetail is reported when local terrain is disabled for the rest of the process.
const FaultDetail = "LOCAL_TERRAIN_DISABLED_UNRECOVERABLE"

// Options configures a Manager.
type Options struct {
	URL             string
	FallbackEnabled bool
	FallbackHeight  float64
	LoadTimeout     time.Duration
}

// Hooks are invoked on the control goroutine after state changes.
type Hooks struct {
	OnStatus  func(status model.TerrainStatus, detail string)
	OnReady   func(h Handle)
	OnFailure func(err error)
	OnFault   func(detail string)
}

// Manager owns the local terrain handle. All methods run on the control goroutine.
type Manager struct {
	sched     loop.Scheduler
	loader    Loader
	opts      Options
	hooks     Hooks
	ctx       context.Context
	state     State
	handle    Handle
	ellipsoid Handle
	loads     int
	lastErr   string
}

// forgetter is implemented by loaders that cache handles across sessions.
type forgetter interface {
	Forget(url string)
}

// NewManager creates a Manager in the Unset state.
func NewManager(ctx context.Context, sched loop.Scheduler, loader Loader, opts Options) *Manager {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 30 * time.Second
	}
	return &Manager{
		sched:     sched,
		loader:    loader,
		opts:      opts,
		ctx:       ctx,
		ellipsoid: Ellipsoid{},
	}
}

// SetHooks installs lifecycle callbacks.
func (m *Manager) SetHooks(h Hooks) { m.hooks = h }

// Start reports a missing source once. Loading waits for a profile that needs local terrain.
func (m *Manager) Start() {
	if m.opts.URL == "" {
		slog.Warn("Terrain URL is empty, local terrain disabled")
		m.status(model.TerrainDisabled, ErrNoURL.Error())
		return
	}
	slog.Debug("Terrain source configured", "url", m.opts.URL)
}

// RequestLoad issues a single asynchronous load if none is in flight or complete.
func (m *Manager) RequestLoad() {
	if m.state != Unset || m.opts.URL == "" {
		return
	}
	m.state = Loading
	m.loads++
	url := m.opts.URL
	slog.Info("Loading terrain source", "url", url)

	m.sched.Go(func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.opts.LoadTimeout)
		defer cancel()
		h, err := m.loader.Load(ctx, url)
		if err == nil && h == nil {
			err = fmt.Errorf("terrain loader returned no handle for %s", url)
		}
		m.sched.Post(func() { m.complete(h, err) })
	})
}

func (m *Manager) complete(h Handle, err error) {
	if m.state != Loading {
		slog.Debug("Discarding terrain load completion", "state", m.state)
		return
	}

	if err != nil {
		if errors.Is(err, ErrUnrecoverable) {
			m.ReportUnrecoverableFault(err.Error())
			return
		}
		m.state = Unset
		m.lastErr = err.Error()
		slog.Error("Terrain source failed to load", "error", err)
		m.status(model.TerrainFailed, err.Error())
		if m.hooks.OnFailure != nil {
			m.hooks.OnFailure(err)
		}
		return
	}

	m.state = Ready
	m.handle = h
	m.lastErr = ""
	slog.Info("Terrain source ready", "source", h.Name(), "max_level", h.MaxLevel())
	m.status(model.TerrainConnected, m.opts.URL)
	if m.hooks.OnReady != nil {
		m.hooks.OnReady(h)
	}
}

// ReportUnrecoverableFault disables local terrain for the rest of the process.
func (m *Manager) ReportUnrecoverableFault(detail string) {
	if m.state == Disabled {
		return
	}
	if f, ok := m.loader.(forgetter); ok && m.opts.URL != "" {
		f.Forget(m.opts.URL)
	}
	m.state = Disabled
	m.handle = nil
	m.opts.URL = ""
	m.lastErr = detail

	slog.Error("Local terrain disabled for this session", "detail", detail)
	m.status(model.TerrainFailed, FaultDetail)
	if m.hooks.OnFault != nil {
		m.hooks.OnFault(detail)
	}
}

// State returns the lifecycle state.
func (m *Manager) State() State { return m.state }

// Disabled reports whether local terrain is permanently unavailable.
func (m *Manager) Disabled() bool { return m.state == Disabled }

// Loads returns how many loads this manager issued.
func (m *Manager) Loads() int { return m.loads }

// LastError returns the detail of the most recent failure.
func (m *Manager) LastError() string { return m.lastErr }

// Handle returns the local handle when Ready.
func (m *Manager) Handle() (Handle, bool) {
	if m.state != Ready || m.handle == nil {
		return nil, false
	}
	return m.handle, true
}

// Ellipsoid returns the fallback handle.
func (m *Manager) Ellipsoid() Handle { return m.ellipsoid }

// AltitudeOverride reports whether the camera is high enough to force the ellipsoid.
func (m *Manager) AltitudeOverride(cameraHeight float64) bool {
	return m.opts.FallbackEnabled &&
		!math.IsNaN(cameraHeight) && !math.IsInf(cameraHeight, 0) &&
		cameraHeight >= m.opts.FallbackHeight
}

// UseLocal reports whether the local handle should back rendering.
func (m *Manager) UseLocal(wantsLocal bool, cameraHeight float64) bool {
	return wantsLocal && m.state == Ready && m.handle != nil && !m.AltitudeOverride(cameraHeight)
}

// Resolve returns the handle that should back rendering.
func (m *Manager) Resolve(wantsLocal bool, cameraHeight float64) Handle {
	if m.UseLocal(wantsLocal, cameraHeight) {
		return m.handle
	}
	return m.ellipsoid
}

// Degraded reports whether a profile wanting local terrain has to render without it.
func (m *Manager) Degraded(wantsLocal bool, cameraHeight float64) bool {
	return wantsLocal && (m.state == Disabled || m.handle == nil || m.AltitudeOverride(cameraHeight))
}

func (m *Manager) status(s model.TerrainStatus, detail string) {
	if m.hooks.OnStatus != nil {
		m.hooks.OnStatus(s, detail)
	}
}
