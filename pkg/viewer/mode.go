package viewer

import (
	"fmt"
	"log/slog"
	"time"

	"globelod/pkg/lod"
	"globelod/pkg/logging"
	"globelod/pkg/metric"
	"globelod/pkg/model"
	"globelod/pkg/scene"
)

// RuntimeMode is the coarse operating mode reported to diagnostics.
type RuntimeMode string

const (
	ModeAdaptive RuntimeMode = "ADAPTIVE_LOD"
	ModePinned   RuntimeMode = "PINNED_PROFILE"
	ModeSafe     RuntimeMode = "SAFE_GLOBAL_FALLBACK"
)

// RuntimeMode reports safe fallback first, then a pinned profile, else adaptive.
func (c *Controller) RuntimeMode() RuntimeMode {
	if c.safeMode || c.terrain.Disabled() {
		return ModeSafe
	}
	if _, ok := c.PinnedProfile(); ok {
		return ModePinned
	}
	return ModeAdaptive
}

// CameraSnapshot is the camera pose in degrees.
type CameraSnapshot struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Height  float64 `json:"height"`
	Heading float64 `json:"heading"`
	Pitch   float64 `json:"pitch"`
}

// TerrainSnapshot describes the terrain lifecycle.
type TerrainSnapshot struct {
	State  string              `json:"state"`
	Status model.TerrainStatus `json:"status,omitempty"`
	Detail string              `json:"detail,omitempty"`
	Source string              `json:"source"`
	Loads  int                 `json:"loads"`
}

// Snapshot is a point-in-time view of a session for diagnostics.
type Snapshot struct {
	Session      string            `json:"session"`
	Mode         RuntimeMode       `json:"mode"`
	Profile      lod.Profile       `json:"profile"`
	Metrics      metric.Metrics    `json:"metrics"`
	SafeReason   string            `json:"safe_reason,omitempty"`
	Pinned       *lod.Profile      `json:"pinned,omitempty"`
	Ceiling      *lod.Profile      `json:"max_profile,omitempty"`
	Pending      bool              `json:"pending"`
	Terrain      TerrainSnapshot   `json:"terrain"`
	Camera       CameraSnapshot    `json:"camera"`
	Hints        scene.RenderHints `json:"hints"`
	Presentation Presentation      `json:"presentation"`
	Stats        lod.SwitchStats   `json:"stats"`
	Evaluations  int               `json:"evaluations"`
	ObliqueCount int               `json:"oblique_entries"`
	Uptime       time.Duration     `json:"uptime"`
}

// Snapshot captures the session state.
func (c *Controller) Snapshot() Snapshot {
	pose := c.scene.Pose()

	source := c.terrain.Ellipsoid().Name()
	if h, ok := c.terrain.Handle(); ok {
		source = h.Name()
	}

	snap := Snapshot{
		Session:    c.session,
		Mode:       c.RuntimeMode(),
		Profile:    c.machine.Current(),
		Metrics:    metric.Compute(c.machine.MPP(), pose.Position.Lat),
		SafeReason: c.safeReason,
		Pending:    c.machine.Pending(),
		Terrain: TerrainSnapshot{
			State:  c.terrain.State().String(),
			Status: c.terrainStatus,
			Detail: c.terrainDetail,
			Source: source,
			Loads:  c.terrain.Loads(),
		},
		Camera: CameraSnapshot{
			Lat:     pose.Position.Lat,
			Lon:     pose.Position.Lon,
			Height:  pose.Height(),
			Heading: pose.Heading / degToRad,
			Pitch:   pose.Pitch / degToRad,
		},
		Hints:        c.hints,
		Presentation: c.presentation,
		Stats:        c.machine.Stats(),
		Evaluations:  c.machine.Evaluations(),
		ObliqueCount: c.obliqueEntries,
		Uptime:       c.sched.Now().Sub(c.started),
	}
	if p, ok := c.PinnedProfile(); ok {
		snap.Pinned = &p
	}
	if p, ok := c.MaxProfile(); ok {
		snap.Ceiling = &p
	}
	return snap
}

// LogTheme is a ThemeApplier that only logs.
type LogTheme struct{}

func (LogTheme) ApplyTheme(p lod.Profile, pres Presentation) {
	slog.Info("Theme applied", "profile", p, "material", pres.MaterialPreset,
		"base_layer", pres.BaseLayer, "degraded", pres.ProviderDegraded)
}

// EventLogSink writes terrain status and committed switches to the event log.
type EventLogSink struct {
	Session string
	Now     func() time.Time
}

func (s EventLogSink) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s EventLogSink) TerrainStatus(status model.TerrainStatus, detail string) {
	logging.LogEvent(&model.StatusEvent{
		Type:      model.EventTerrain,
		Title:     "Terrain " + string(status),
		Summary:   detail,
		Timestamp: s.now(),
		Session:   s.Session,
	})
}

func (s EventLogSink) LODChanged(ev lod.Event) {
	if !ev.Switched {
		return
	}
	typ, title := model.EventLOD, fmt.Sprintf("Profile %s", ev.Profile)
	if ev.Forced {
		typ, title = model.EventSafe, fmt.Sprintf("Profile %s (forced)", ev.Profile)
	}
	logging.LogEvent(&model.StatusEvent{
		Type:      typ,
		Title:     title,
		Summary:   fmt.Sprintf("from %s at %.1f m/px", ev.From, ev.MPP),
		Timestamp: ev.At,
		Session:   s.Session,
	})
}
