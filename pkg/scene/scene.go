// Package scene describes the renderer capabilities the LOD core depends on.
package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"globelod/pkg/geo"
	"globelod/pkg/terrain"
)

// ScreenPoint is a position in viewport pixels, origin top-left.
type ScreenPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is the drawing surface size and vertical field of view in radians.
type Viewport struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FovY   float64 `json:"fov_y"`
}

// Aspect returns width over height, or 1 for a degenerate viewport.
func (v Viewport) Aspect() float64 {
	if v.Width <= 0 || v.Height <= 0 {
		return 1
	}
	return float64(v.Width) / float64(v.Height)
}

// Center returns the middle of the viewport.
func (v Viewport) Center() ScreenPoint {
	return ScreenPoint{X: float64(v.Width) / 2, Y: float64(v.Height) / 2}
}

// Clamp limits p to the viewport.
func (v Viewport) Clamp(p ScreenPoint) ScreenPoint {
	p.X = math.Max(0, math.Min(float64(v.Width), p.X))
	p.Y = math.Max(0, math.Min(float64(v.Height), p.Y))
	return p
}

// Pose is the camera position and orientation. Angles are radians.
// Heading is clockwise from north; pitch is 0 at the horizon and -pi/2 looking straight down.
type Pose struct {
	Position geo.Cartographic
	Heading  float64
	Pitch    float64
	Roll     float64
}

// Height returns the camera height above the ellipsoid.
func (p Pose) Height() float64 { return p.Position.Height }

// Axes returns the camera forward, up and right vectors in ECEF.
func (p Pose) Axes() (forward, up, right mgl64.Vec3) {
	east, north, localUp := geo.ENU(p.Position.Point)
	horiz := east.Mul(math.Sin(p.Heading)).Add(north.Mul(math.Cos(p.Heading)))

	forward = horiz.Mul(math.Cos(p.Pitch)).Add(localUp.Mul(math.Sin(p.Pitch)))
	up = horiz.Mul(-math.Sin(p.Pitch)).Add(localUp.Mul(math.Cos(p.Pitch)))
	right = forward.Cross(up)

	if p.Roll != 0 {
		c, s := math.Cos(p.Roll), math.Sin(p.Roll)
		up, right = up.Mul(c).Sub(right.Mul(s)), right.Mul(c).Add(up.Mul(s))
	}
	return forward.Normalize(), up.Normalize(), right.Normalize()
}

// RenderHints are per-profile renderer tunables.
type RenderHints struct {
	VerticalExaggeration float64 `json:"vertical_exaggeration"`
	MaxScreenSpaceError  float64 `json:"max_screen_space_error"`
	MinZoomDistance      float64 `json:"min_zoom_distance"`
	MaxZoomDistance      float64 `json:"max_zoom_distance"`
	InertiaZoom          float64 `json:"inertia_zoom"`
}

// Scene is the subset of a globe renderer the control core drives.
// All methods are called from the control goroutine.
type Scene interface {
	Pose() Pose
	SetPose(Pose)
	Viewport() Viewport
	// PickRay returns the world ray through a screen point.
	PickRay(ScreenPoint) geo.Ray
	// Intersect hits the rendered surface, including resident terrain.
	Intersect(geo.Ray) (mgl64.Vec3, bool)
	// GlobeHeight returns the resident surface height at p without fetching.
	GlobeHeight(p geo.Point) (float64, bool)
	SetTerrainProvider(terrain.Handle)
	ApplyRenderHints(RenderHints)
}

// PickRay builds the pinhole camera ray through pt for a pose and viewport.
func PickRay(pose Pose, vp Viewport, pt ScreenPoint) geo.Ray {
	forward, up, right := pose.Axes()

	w, h := float64(vp.Width), float64(vp.Height)
	if w <= 0 || h <= 0 {
		return geo.Ray{Origin: geo.ToECEF(pose.Position), Direction: forward}
	}
	ndcX := 2*pt.X/w - 1
	ndcY := 1 - 2*pt.Y/h
	tanV := math.Tan(vp.FovY / 2)
	tanH := tanV * vp.Aspect()

	dir := forward.Add(right.Mul(ndcX * tanH)).Add(up.Mul(ndcY * tanV))
	return geo.Ray{Origin: geo.ToECEF(pose.Position), Direction: dir.Normalize()}
}
