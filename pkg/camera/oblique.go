package camera

import (
	"math"

	"globelod/pkg/scene"
)

// ObliqueEntry resets the camera to a fixed oblique view when a profile is
// entered from a shallow pitch. Angles are radians.
type ObliqueEntry struct {
	Enabled bool
	// TriggerPitch: poses at or below this pitch are left alone.
	TriggerPitch  float64
	Pitch         float64
	HeadingOffset float64
	HeightScale   float64
	MinHeight     float64
	MaxHeight     float64
}

// Apply returns the tilted pose and whether it was applied.
func (o ObliqueEntry) Apply(p scene.Pose) (scene.Pose, bool) {
	if !o.Enabled || math.IsNaN(p.Pitch) || p.Pitch <= o.TriggerPitch {
		return p, false
	}

	h := p.Position.Height
	if o.HeightScale > 0 {
		h *= o.HeightScale
	}
	if o.MinHeight > 0 {
		h = math.Max(o.MinHeight, h)
	}
	if o.MaxHeight > 0 {
		h = math.Min(o.MaxHeight, h)
	}

	p.Position.Height = h
	p.Heading = math.Mod(p.Heading+o.HeadingOffset+2*math.Pi, 2*math.Pi)
	p.Pitch = o.Pitch
	p.Roll = 0
	return p, true
}

// ZoomGuard stops zooming in once the metric floor is reached.
type ZoomGuard struct {
	FloorMPP float64
}

// Allow reports whether a zoom step toward targetHeight may proceed at the current mpp.
// Zooming out is always allowed.
func (g ZoomGuard) Allow(currentHeight, targetHeight, mpp float64) bool {
	if g.FloorMPP <= 0 || targetHeight >= currentHeight {
		return true
	}
	return mpp > g.FloorMPP
}
