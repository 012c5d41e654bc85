// Package metric estimates the ground distance covered by one screen pixel.
package metric

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"globelod/pkg/geo"
	"globelod/pkg/scene"
)

const (
	// tileSize is the web map tile edge used for zoom level equivalence.
	tileSize = 256
	// metersPerCSSPixel is the physical size of a 96 dpi pixel.
	metersPerCSSPixel = 0.0254 / 96
)

// Estimator derives meters-per-pixel from the scene camera.
type Estimator struct {
	scene scene.Scene
}

// New creates an Estimator over s.
func New(s scene.Scene) *Estimator {
	return &Estimator{scene: s}
}

// MetersPerPixel returns the ground distance of one pixel at pt.
// The result is always finite and positive.
func (e *Estimator) MetersPerPixel(pt scene.ScreenPoint) float64 {
	vp := e.scene.Viewport()
	left := vp.Clamp(scene.ScreenPoint{X: pt.X - 1, Y: pt.Y})
	right := vp.Clamp(scene.ScreenPoint{X: pt.X + 1, Y: pt.Y})

	a, okA := e.hit(left)
	b, okB := e.hit(right)
	if okA && okB {
		span := right.X - left.X
		if span > 0 {
			mpp := a.Sub(b).Len() / span
			if mpp > 0 && !math.IsInf(mpp, 0) && !math.IsNaN(mpp) {
				return mpp
			}
		}
	}

	return Fallback(e.scene.Pose().Height(), vp)
}

// CenterMetersPerPixel evaluates MetersPerPixel at the viewport centre.
func (e *Estimator) CenterMetersPerPixel() float64 {
	return e.MetersPerPixel(e.scene.Viewport().Center())
}

func (e *Estimator) hit(pt scene.ScreenPoint) (mgl64.Vec3, bool) {
	ray := e.scene.PickRay(pt)
	if v, ok := geo.IntersectEllipsoid(ray, 0); ok {
		return v, true
	}
	return e.scene.Intersect(ray)
}

// Fallback is the analytic estimate from camera height and vertical field of view.
func Fallback(height float64, vp scene.Viewport) float64 {
	if math.IsNaN(height) || math.IsInf(height, 0) {
		height = 1
	}
	fov := vp.FovY
	if !(fov > 0 && fov < math.Pi) {
		fov = math.Pi / 3
	}
	return 2 * math.Max(1, height) * math.Tan(fov/2) / math.Max(1, float64(vp.Height))
}

// HeightForMetersPerPixel inverts Fallback: the camera height at which the
// analytic estimate equals mpp.
func HeightForMetersPerPixel(mpp float64, vp scene.Viewport) float64 {
	fov := vp.FovY
	if !(fov > 0 && fov < math.Pi) {
		fov = math.Pi / 3
	}
	return mpp * math.Max(1, float64(vp.Height)) / (2 * math.Tan(fov/2))
}

// Metrics are the HUD readouts derived from meters-per-pixel.
type Metrics struct {
	MetersPerPixel   float64 `json:"mpp"`
	ZoomLevel        float64 `json:"zoom_level"`
	ScaleDenominator float64 `json:"scale_denominator"`
}

// Compute derives zoom level and map scale at latitude lat (degrees).
func Compute(mpp, lat float64) Metrics {
	m := Metrics{MetersPerPixel: mpp}
	if !(mpp > 0) || math.IsInf(mpp, 0) {
		return m
	}
	cosLat := math.Max(0.01, math.Cos(lat*math.Pi/180))
	zoom := math.Log2(cosLat * 2 * math.Pi * geo.SemiMajorAxis / (tileSize * mpp))
	m.ZoomLevel = math.Max(0, zoom)
	m.ScaleDenominator = mpp / metersPerCSSPixel
	return m
}

// Metrics evaluates the HUD readouts at pt.
func (e *Estimator) Metrics(pt scene.ScreenPoint, lat float64) Metrics {
	return Compute(e.MetersPerPixel(pt), lat)
}
