// Package viewer wires the LOD control core for one viewer session.
package viewer

import (
	"context"
	"log/slog"
	"maps"
	"math"
	"time"

	"github.com/google/uuid"

	"globelod/pkg/camera"
	"globelod/pkg/config"
	"globelod/pkg/geo"
	"globelod/pkg/lod"
	"globelod/pkg/logging"
	"globelod/pkg/loop"
	"globelod/pkg/metric"
	"globelod/pkg/model"
	"globelod/pkg/query"
	"globelod/pkg/scene"
	"globelod/pkg/store"
	"globelod/pkg/terrain"
)

const degToRad = math.Pi / 180

// MaterialOff is the material preset used while a profile renders without its terrain.
const MaterialOff = "off"

// Presentation is what the theme layer renders for a profile.
type Presentation struct {
	Theme            string             `json:"theme"`
	ProviderDegraded bool               `json:"provider_degraded"`
	BaseLayer        bool               `json:"base_layer"`
	MaterialPreset   string             `json:"material_preset"`
	Style            map[string]float64 `json:"style"`
}

func (p Presentation) equal(o Presentation) bool {
	return p.Theme == o.Theme &&
		p.ProviderDegraded == o.ProviderDegraded &&
		p.BaseLayer == o.BaseLayer &&
		p.MaterialPreset == o.MaterialPreset &&
		maps.Equal(p.Style, o.Style)
}

// ThemeApplier renders a profile's presentation.
type ThemeApplier interface {
	ApplyTheme(p lod.Profile, pres Presentation)
}

// StatusSink receives terrain and LOD status.
type StatusSink interface {
	TerrainStatus(status model.TerrainStatus, detail string)
	// LODChanged is called after every evaluation; ev.Switched marks commits.
	LODChanged(ev lod.Event)
}

// Deps are the collaborators of a Controller. Only Scene and Loader are required.
type Deps struct {
	Scene     scene.Scene
	Loader    terrain.Loader
	Overrides config.Provider
	Theme     ThemeApplier
	Switches  store.SwitchStore
	Sinks     []StatusSink
	Session   string
}

// Controller owns the core components of one session.
// All methods run on the control goroutine.
type Controller struct {
	ctx       context.Context
	sched     loop.Scheduler
	cfg       *config.Config
	scene     scene.Scene
	overrides config.Provider
	theme     ThemeApplier
	switches  store.SwitchStore
	sinks     []StatusSink

	session   string
	started   time.Time
	estimator *metric.Estimator
	terrain   *terrain.Manager
	machine   *lod.Machine
	enforcer  *camera.Enforcer
	query     *query.Pipeline

	safeMode       bool
	safeReason     string
	terrainStatus  model.TerrainStatus
	terrainDetail  string
	presentation   Presentation
	hints          scene.RenderHints
	lastEvent      lod.Event
	obliqueEntries int
}

// New creates a Controller. Call Start on the control goroutine to bootstrap it.
func New(ctx context.Context, sched loop.Scheduler, cfg *config.Config, deps Deps) *Controller {
	session := deps.Session
	if session == "" {
		session = uuid.New().String()
	}

	c := &Controller{
		ctx:       ctx,
		sched:     sched,
		cfg:       cfg,
		scene:     deps.Scene,
		overrides: deps.Overrides,
		theme:     deps.Theme,
		switches:  deps.Switches,
		sinks:     deps.Sinks,
		session:   session,
		started:   sched.Now(),
		estimator: metric.New(deps.Scene),
	}
	if c.theme == nil {
		c.theme = LogTheme{}
	}

	c.terrain = terrain.NewManager(ctx, sched, deps.Loader, terrain.Options{
		URL:             cfg.Terrain.URL,
		FallbackEnabled: cfg.Terrain.FallbackEnabled,
		FallbackHeight:  float64(cfg.Terrain.FallbackHeight),
		LoadTimeout:     cfg.Terrain.LoadTimeout.D(),
	})
	c.terrain.SetHooks(terrain.Hooks{
		OnStatus:  c.onTerrainStatus,
		OnReady:   func(terrain.Handle) { c.refresh() },
		OnFailure: func(error) { c.refresh() },
		OnFault:   c.enterSafeMode,
	})

	c.machine = lod.NewMachine(sched, lod.Options{
		Thresholds: cfg.LOD.Thresholds,
		Debounce:   cfg.LOD.Debounce.D(),
		Cooldown:   cfg.LOD.Cooldown.D(),
	}, c.estimator, c, c)
	c.machine.OnEvent(c.onLODEvent)

	c.enforcer = camera.NewEnforcer(c.boundsFor, cfg.Scene.GlobeFit)

	c.query = query.NewPipeline(ctx, sched, deps.Scene, c.estimator, c.terrain, c.queryLevel, query.Options{
		Debounce:       cfg.Query.Debounce.D(),
		SampleTimeout:  cfg.Query.SampleTimeout.D(),
		OceanThreshold: cfg.Query.OceanThreshold,
	})
	return c
}

// Start reports the terrain source and selects the initial profile from the current camera.
func (c *Controller) Start() {
	slog.Info("Viewer session started", "session", c.session, "terrain_url", c.cfg.Terrain.URL)
	c.terrain.Start()
	c.enforcer.Enforce(c.scene, c.machine.Current())
	c.machine.Bootstrap()
}

// Stop cancels pending evaluations and queries.
func (c *Controller) Stop() {
	c.machine.Stop()
	c.query.Cancel()
}

// Session returns the session id.
func (c *Controller) Session() string { return c.session }

// Machine exposes the LOD state machine.
func (c *Controller) Machine() *lod.Machine { return c.machine }

// Terrain exposes the terrain lifecycle manager.
func (c *Controller) Terrain() *terrain.Manager { return c.terrain }

// Query exposes the position query pipeline.
func (c *Controller) Query() *query.Pipeline { return c.query }

// Estimator exposes the metric estimator.
func (c *Controller) Estimator() *metric.Estimator { return c.estimator }

// SafeMode reports whether the session fell back to the global profile for good.
func (c *Controller) SafeMode() bool { return c.safeMode }

// --- lod.Overrides ---

func (c *Controller) TerrainDisabled() bool { return c.terrain.Disabled() }

func (c *Controller) PinnedProfile() (lod.Profile, bool) {
	if c.overrides == nil {
		return lod.Global, false
	}
	return c.overrides.PinnedProfile(c.ctx)
}

func (c *Controller) MaxProfile() (lod.Profile, bool) {
	if c.overrides == nil {
		return lod.Global, false
	}
	return c.overrides.MaxProfile(c.ctx)
}

// --- lod.Applier ---

// ApplyProfile loads terrain if the profile needs it, resolves the provider and
// re-applies render hints, camera bounds and theme.
func (c *Controller) ApplyProfile(prev, next lod.Profile, mpp float64) {
	pc := c.cfg.Profiles.ForProfile(next)
	if pc.UseLocalTerrain {
		c.terrain.RequestLoad()
	}

	c.applyHints(next, pc)

	if prev != next {
		if pose, ok := obliqueFor(pc).Apply(c.scene.Pose()); ok {
			c.obliqueEntries++
			slog.Debug("Oblique entry", "profile", next, "height", pose.Height(), "pitch", pose.Pitch)
			c.scene.SetPose(pose)
		}
	}

	c.enforcer.Enforce(c.scene, next)
	c.refreshProfile(next)
}

// OnCameraChanged must be called after every camera movement.
func (c *Controller) OnCameraChanged() {
	c.enforcer.Enforce(c.scene, c.machine.Current())
	c.refresh()
	c.machine.Notify()
}

// QueryAt forwards a pointer query to the pipeline.
func (c *Controller) QueryAt(pt scene.ScreenPoint) (query.Result, *query.Pending, bool) {
	return c.query.QueryAt(pt)
}

// Reconcile re-evaluates the profile now, honouring the cooldown.
func (c *Controller) Reconcile() {
	c.machine.Reconcile()
}

// AllowZoom applies the active profile's zoom floor to a height change.
func (c *Controller) AllowZoom(currentHeight, targetHeight float64) bool {
	pc := c.cfg.Profiles.ForProfile(c.machine.Current())
	guard := camera.ZoomGuard{FloorMPP: pc.Camera.ZoomFloorMPP}
	return guard.Allow(currentHeight, targetHeight, c.estimator.CenterMetersPerPixel())
}

// Home returns the configured home pose.
func (c *Controller) Home() scene.Pose {
	h := c.cfg.Scene.Home
	return scene.Pose{
		Position: geo.Cartographic{Point: geo.Point{Lat: h.Lat, Lon: h.Lon}, Height: float64(h.Height)},
		Heading:  h.Heading * degToRad,
		Pitch:    h.Pitch * degToRad,
	}
}

func (c *Controller) refresh() {
	c.refreshProfile(c.machine.Current())
}

// refreshProfile re-resolves the terrain provider and theme for p.
func (c *Controller) refreshProfile(p lod.Profile) {
	pc := c.cfg.Profiles.ForProfile(p)
	height := c.scene.Pose().Height()

	c.scene.SetTerrainProvider(c.terrain.Resolve(pc.UseLocalTerrain, height))

	pres := c.presentationFor(pc, c.terrain.Degraded(pc.UseLocalTerrain, height))
	if pres.equal(c.presentation) {
		return
	}
	c.presentation = pres
	c.theme.ApplyTheme(p, pres)
}

func (c *Controller) presentationFor(pc config.ProfileConfig, degraded bool) Presentation {
	style := make(map[string]float64, len(c.cfg.Theme.Style)+len(pc.StyleOverrides))
	maps.Copy(style, c.cfg.Theme.Style)
	maps.Copy(style, pc.StyleOverrides)

	theme := c.cfg.Theme.Name
	if c.overrides != nil {
		theme = c.overrides.ActiveTheme(c.ctx)
	}

	material := pc.MaterialPreset
	if degraded {
		material = MaterialOff
	}
	return Presentation{
		Theme:            theme,
		ProviderDegraded: degraded,
		BaseLayer:        pc.EnableImagery || degraded,
		MaterialPreset:   material,
		Style:            style,
	}
}

func (c *Controller) applyHints(p lod.Profile, pc config.ProfileConfig) {
	vp := c.scene.Viewport()
	minZoom := float64(pc.Render.MinZoomDistance)
	if floor := pc.Camera.ZoomFloorMPP; floor > 0 {
		minZoom = math.Max(minZoom, metric.HeightForMetersPerPixel(floor, vp))
	}
	c.hints = scene.RenderHints{
		VerticalExaggeration: pc.Render.VerticalExaggeration,
		MaxScreenSpaceError:  pc.Render.MaxScreenSpaceError,
		MinZoomDistance:      minZoom,
		MaxZoomDistance:      camera.MaxZoomOutHeight(vp),
		InertiaZoom:          pc.Render.InertiaZoom,
	}
	c.scene.ApplyRenderHints(c.hints)
	logging.TraceDefault("Render hints applied", "profile", p, "min_zoom", minZoom, "max_zoom", c.hints.MaxZoomDistance)
}

func (c *Controller) boundsFor(p lod.Profile) camera.Bounds {
	cam := c.cfg.Profiles.ForProfile(p).Camera
	return camera.Bounds{
		MinHeight: float64(cam.MinHeight),
		MaxHeight: float64(cam.MaxHeight),
		PitchMin:  cam.PitchMinDeg * degToRad,
		PitchMax:  cam.PitchMaxDeg * degToRad,
	}
}

func obliqueFor(pc config.ProfileConfig) camera.ObliqueEntry {
	o := pc.ObliqueEntry
	return camera.ObliqueEntry{
		Enabled:       o.Enabled,
		TriggerPitch:  o.TriggerPitchDeg * degToRad,
		Pitch:         o.PitchDeg * degToRad,
		HeadingOffset: o.HeadingOffsetDeg * degToRad,
		HeightScale:   o.HeightScale,
		MinHeight:     float64(o.MinHeight),
		MaxHeight:     float64(o.MaxHeight),
	}
}

func (c *Controller) queryLevel() (int, bool) {
	lvl := c.cfg.Profiles.ForProfile(c.machine.Current()).QueryLevel
	if lvl == nil {
		return 0, false
	}
	return *lvl, true
}

func (c *Controller) onTerrainStatus(status model.TerrainStatus, detail string) {
	c.terrainStatus = status
	c.terrainDetail = detail
	for _, s := range c.sinks {
		s.TerrainStatus(status, detail)
	}
}

// enterSafeMode returns to the home view and pins Global after an unrecoverable terrain fault.
func (c *Controller) enterSafeMode(detail string) {
	if c.safeMode {
		return
	}
	c.safeMode = true
	c.safeReason = detail
	slog.Warn("Entering safe global fallback", "session", c.session, "detail", detail)

	c.query.Cancel()
	c.scene.SetPose(c.Home())
	c.enforcer.Enforce(c.scene, lod.Global)
	c.machine.Force(lod.Global, "terrain fault")
	c.refresh()
}

func (c *Controller) onLODEvent(ev lod.Event) {
	c.lastEvent = ev
	for _, s := range c.sinks {
		s.LODChanged(ev)
	}
	if !ev.Switched || c.switches == nil {
		return
	}

	rec := &model.SwitchRecord{
		Session:   c.session,
		From:      ev.From.String(),
		To:        ev.Profile.String(),
		MPP:       ev.MPP,
		Duration:  ev.Cost,
		Forced:    ev.Forced,
		CreatedAt: ev.At,
	}
	c.sched.Go(func() {
		if err := c.switches.RecordSwitch(c.ctx, rec); err != nil {
			slog.Warn("Failed to record LOD switch", "session", rec.Session, "error", err)
		}
	})
}
