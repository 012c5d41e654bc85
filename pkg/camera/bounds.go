// Package camera keeps the camera inside per-profile safety bounds.
package camera

import (
	"log/slog"
	"math"

	"globelod/pkg/geo"
	"globelod/pkg/lod"
	"globelod/pkg/scene"
)

// zoomOutMargin pads the globe-fit height so the limb stays inside the frame.
const zoomOutMargin = 1.015

// Bounds limits camera height (meters) and pitch (radians).
type Bounds struct {
	MinHeight float64
	// MaxHeight of 0 means unbounded.
	MaxHeight float64
	PitchMin  float64
	PitchMax  float64
}

// Clamp returns p moved inside the bounds and whether anything changed.
// Non-finite values are left for the renderer to reject.
func (b Bounds) Clamp(p scene.Pose) (scene.Pose, bool) {
	changed := false

	h := p.Position.Height
	if h < b.MinHeight {
		h = b.MinHeight
	}
	if b.MaxHeight > 0 && h > b.MaxHeight {
		h = math.Max(b.MaxHeight, b.MinHeight)
	}
	if h != p.Position.Height && !math.IsNaN(p.Position.Height) {
		p.Position.Height = h
		changed = true
	}

	lo, hi := b.PitchMin, b.PitchMax
	if lo > hi {
		lo, hi = hi, lo
	}
	pitch := math.Max(lo, math.Min(hi, p.Pitch))
	if pitch != p.Pitch && !math.IsNaN(p.Pitch) {
		p.Pitch = pitch
		changed = true
	}
	return p, changed
}

// Contains reports whether p already satisfies the bounds.
func (b Bounds) Contains(p scene.Pose) bool {
	_, changed := b.Clamp(p)
	return !changed
}

// MaxZoomOutHeight is the camera height at which the globe just fills the
// narrower field of view, plus a small margin.
func MaxZoomOutHeight(vp scene.Viewport) float64 {
	halfV := vp.FovY / 2
	if !(halfV > 0 && halfV < math.Pi/2) {
		halfV = math.Pi / 6
	}
	halfH := math.Atan(math.Tan(halfV) * vp.Aspect())
	limiting := math.Max(0.05, math.Min(halfV, halfH))

	r := geo.SemiMajorAxis
	return math.Max(1, r/math.Sin(limiting)-r) * zoomOutMargin
}

// BoundsFunc returns the bounds of a profile.
type BoundsFunc func(lod.Profile) Bounds

// Enforcer applies profile bounds to a scene.
type Enforcer struct {
	bounds BoundsFunc
	// GlobeFit caps every profile at MaxZoomOutHeight. Otherwise the limit is
	// only passed to the renderer as a zoom distance hint.
	GlobeFit bool
}

// NewEnforcer creates an Enforcer.
func NewEnforcer(bounds BoundsFunc, globeFit bool) *Enforcer {
	return &Enforcer{bounds: bounds, GlobeFit: globeFit}
}

// BoundsFor returns the effective bounds of p for the viewport.
func (e *Enforcer) BoundsFor(p lod.Profile, vp scene.Viewport) Bounds {
	b := e.bounds(p)
	if e.GlobeFit {
		fit := MaxZoomOutHeight(vp)
		if b.MaxHeight <= 0 || b.MaxHeight > fit {
			b.MaxHeight = fit
		}
	}
	return b
}

// Enforce clamps the scene camera for profile p and writes it back only if it changed.
func (e *Enforcer) Enforce(s scene.Scene, p lod.Profile) bool {
	pose := s.Pose()
	clamped, changed := e.BoundsFor(p, s.Viewport()).Clamp(pose)
	if !changed {
		return false
	}
	slog.Debug("Camera clamped", "profile", p,
		"height", pose.Position.Height, "new_height", clamped.Position.Height,
		"pitch", pose.Pitch, "new_pitch", clamped.Pitch)
	s.SetPose(clamped)
	return true
}
