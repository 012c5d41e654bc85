// Package mockscene is a headless pinhole camera over the WGS84 ellipsoid.
package mockscene

import (
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"globelod/pkg/geo"
	"globelod/pkg/scene"
	"globelod/pkg/terrain"
)

// SurfaceFunc returns the resident terrain height at p.
type SurfaceFunc func(p geo.Point) (float64, bool)

// Config holds the initial camera for the mock scene.
type Config struct {
	Start    geo.Cartographic
	Heading  float64
	Pitch    float64
	Viewport scene.Viewport
}

// Scene implements scene.Scene without a GPU.
type Scene struct {
	mu       sync.Mutex
	pose     scene.Pose
	viewport scene.Viewport
	surface  SurfaceFunc
	provider terrain.Handle
	hints    scene.RenderHints
	swaps    int
	poses    int
}

var _ scene.Scene = (*Scene)(nil)

// New creates a mock scene.
func New(cfg Config) *Scene {
	vp := cfg.Viewport
	if vp.Width <= 0 || vp.Height <= 0 {
		vp.Width, vp.Height = 1920, 1080
	}
	if vp.FovY <= 0 {
		vp.FovY = 60 * math.Pi / 180
	}
	pitch := cfg.Pitch
	if pitch == 0 {
		pitch = -math.Pi / 2
	}
	return &Scene{
		pose:     scene.Pose{Position: cfg.Start, Heading: cfg.Heading, Pitch: pitch},
		viewport: vp,
		provider: terrain.Ellipsoid{},
	}
}

// SetSurface installs the resident terrain. Nil means bare ellipsoid.
func (s *Scene) SetSurface(fn SurfaceFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surface = fn
}

func (s *Scene) Pose() scene.Pose {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pose
}

func (s *Scene) SetPose(p scene.Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pose = p
	s.poses++
}

// SetHeight moves the camera vertically, keeping orientation.
func (s *Scene) SetHeight(h float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pose.Position.Height = h
	s.poses++
}

func (s *Scene) Viewport() scene.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

func (s *Scene) PickRay(pt scene.ScreenPoint) geo.Ray {
	s.mu.Lock()
	pose, vp := s.pose, s.viewport
	s.mu.Unlock()
	return scene.PickRay(pose, vp, pt)
}

// Intersect hits the ellipsoid, then refines once against the resident surface height.
func (s *Scene) Intersect(r geo.Ray) (mgl64.Vec3, bool) {
	hit, ok := geo.IntersectEllipsoid(r, 0)
	if !ok {
		return mgl64.Vec3{}, false
	}
	h, ok := s.GlobeHeight(geo.FromECEF(hit).Point)
	if !ok || h == 0 {
		return hit, true
	}
	if refined, ok := geo.IntersectEllipsoid(r, h); ok {
		return refined, true
	}
	return hit, true
}

func (s *Scene) GlobeHeight(p geo.Point) (float64, bool) {
	s.mu.Lock()
	fn := s.surface
	s.mu.Unlock()
	if fn == nil {
		return 0, false
	}
	return fn(p)
}

func (s *Scene) SetTerrainProvider(h terrain.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provider != nil && h != nil && s.provider.Name() == h.Name() {
		return
	}
	s.provider = h
	s.swaps++
}

// TerrainProvider returns the provider in use.
func (s *Scene) TerrainProvider() terrain.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider
}

// ProviderSwaps counts effective provider changes.
func (s *Scene) ProviderSwaps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swaps
}

// PoseWrites counts SetPose and SetHeight calls.
func (s *Scene) PoseWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poses
}

func (s *Scene) ApplyRenderHints(h scene.RenderHints) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hints = h
}

// RenderHints returns the last applied hints.
func (s *Scene) RenderHints() scene.RenderHints {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hints
}
