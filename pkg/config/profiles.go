package config

import (
	"errors"
	"fmt"
	"math"

	"globelod/pkg/lod"
)

// ProfilesConfig holds one immutable ProfileConfig per LOD profile.
type ProfilesConfig struct {
	Global      ProfileConfig `yaml:"global"`
	Continental ProfileConfig `yaml:"continental"`
	Regional    ProfileConfig `yaml:"regional"`
	Tactical    ProfileConfig `yaml:"tactical"`
}

// ForProfile returns the configuration of p. Unknown profiles get Global.
func (c ProfilesConfig) ForProfile(p lod.Profile) ProfileConfig {
	switch p {
	case lod.Continental:
		return c.Continental
	case lod.Regional:
		return c.Regional
	case lod.Tactical:
		return c.Tactical
	default:
		return c.Global
	}
}

// ProfileConfig describes how a profile renders.
type ProfileConfig struct {
	UseLocalTerrain bool   `yaml:"use_local_terrain"`
	EnableImagery   bool   `yaml:"enable_imagery"`
	MaterialPreset  string `yaml:"material_preset"`
	// QueryLevel pins the position query sampling level. Nil means most detailed.
	QueryLevel     *int               `yaml:"query_level,omitempty"`
	StyleOverrides map[string]float64 `yaml:"style_overrides,omitempty"`
	Camera         CameraConfig       `yaml:"camera"`
	Render         RenderConfig       `yaml:"render"`
	ObliqueEntry   ObliqueConfig      `yaml:"oblique_entry"`
}

// CameraConfig holds the safety bounds. Angles are degrees.
type CameraConfig struct {
	MinHeight Distance `yaml:"min_height"`
	// MaxHeight of 0 means unbounded.
	MaxHeight   Distance `yaml:"max_height"`
	PitchMinDeg float64  `yaml:"pitch_min_deg"`
	PitchMaxDeg float64  `yaml:"pitch_max_deg"`
	// ZoomFloorMPP blocks zooming in once the centre mpp drops to this value. 0 disables.
	ZoomFloorMPP float64 `yaml:"zoom_floor_mpp"`
}

// RenderConfig holds renderer tunables.
type RenderConfig struct {
	VerticalExaggeration float64  `yaml:"vertical_exaggeration"`
	MaxScreenSpaceError  float64  `yaml:"max_screen_space_error"`
	MinZoomDistance      Distance `yaml:"min_zoom_distance"`
	InertiaZoom          float64  `yaml:"inertia_zoom"`
}

// ObliqueConfig tilts a near-vertical camera when the profile is entered. Angles are degrees.
type ObliqueConfig struct {
	Enabled          bool     `yaml:"enabled"`
	TriggerPitchDeg  float64  `yaml:"trigger_pitch_deg"`
	PitchDeg         float64  `yaml:"pitch_deg"`
	HeadingOffsetDeg float64  `yaml:"heading_offset_deg"`
	HeightScale      float64  `yaml:"height_scale"`
	MinHeight        Distance `yaml:"min_height"`
	MaxHeight        Distance `yaml:"max_height"`
}

// Validate checks the bounds are consistent.
func (c ProfileConfig) Validate() error {
	cam := c.Camera
	if cam.MinHeight < 0 || cam.MaxHeight < 0 {
		return errors.New("camera heights must not be negative")
	}
	if cam.MaxHeight > 0 && cam.MaxHeight < cam.MinHeight {
		return fmt.Errorf("camera.max_height %v below min_height %v", float64(cam.MaxHeight), float64(cam.MinHeight))
	}
	if cam.PitchMinDeg > cam.PitchMaxDeg {
		return fmt.Errorf("camera.pitch_min_deg %v above pitch_max_deg %v", cam.PitchMinDeg, cam.PitchMaxDeg)
	}
	if cam.PitchMinDeg < -90 || cam.PitchMaxDeg > 90 {
		return errors.New("camera pitch must be within [-90, 90]")
	}
	if c.QueryLevel != nil && *c.QueryLevel < 0 {
		return fmt.Errorf("query_level must not be negative, got %d", *c.QueryLevel)
	}
	if c.Render.VerticalExaggeration < 0 || c.Render.MaxScreenSpaceError < 0 {
		return errors.New("render hints must not be negative")
	}
	for k, v := range c.StyleOverrides {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("style override %q is not finite", k)
		}
	}
	return nil
}

// DefaultProfiles returns the stock profile table.
func DefaultProfiles() ProfilesConfig {
	wide := CameraConfig{MinHeight: 2500, PitchMinDeg: -90, PitchMaxDeg: -8}
	return ProfilesConfig{
		Global: ProfileConfig{
			EnableImagery:  true,
			MaterialPreset: "globe",
			QueryLevel:     intPtr(4),
			Camera:         wide,
			Render: RenderConfig{
				VerticalExaggeration: 1.0,
				MaxScreenSpaceError:  7.5,
				MinZoomDistance:      1,
				InertiaZoom:          0.8,
			},
		},
		Continental: ProfileConfig{
			EnableImagery:  true,
			MaterialPreset: "continental",
			QueryLevel:     intPtr(8),
			Camera:         wide,
			Render: RenderConfig{
				VerticalExaggeration: 1.45,
				MaxScreenSpaceError:  2.8,
				MinZoomDistance:      1,
				InertiaZoom:          0.8,
			},
		},
		Regional: ProfileConfig{
			UseLocalTerrain: true,
			MaterialPreset:  "hillshade",
			StyleOverrides:  map[string]float64{"contrast": 1.08},
			Camera:          wide,
			Render: RenderConfig{
				VerticalExaggeration: 1.75,
				MaxScreenSpaceError:  1.8,
				MinZoomDistance:      500,
				InertiaZoom:          0.8,
			},
		},
		Tactical: ProfileConfig{
			UseLocalTerrain: true,
			MaterialPreset:  "tactical-contour",
			StyleOverrides:  map[string]float64{"contrast": 1.15, "saturation": 0.85},
			Camera: CameraConfig{
				MinHeight:    18000,
				PitchMinDeg:  -45,
				PitchMaxDeg:  -20,
				ZoomFloorMPP: 100,
			},
			Render: RenderConfig{
				VerticalExaggeration: 1.85,
				MaxScreenSpaceError:  1.6,
				MinZoomDistance:      18000,
				InertiaZoom:          0,
			},
			ObliqueEntry: ObliqueConfig{
				Enabled:          true,
				TriggerPitchDeg:  -31.5,
				PitchDeg:         -34,
				HeadingOffsetDeg: 8,
				HeightScale:      0.7,
				MinHeight:        18000,
				MaxHeight:        32000,
			},
		},
	}
}

func intPtr(v int) *int { return &v }
