package lod

import (
	"errors"
	"fmt"
	"math"
)

// Thresholds holds the nominal meters-per-pixel boundaries between adjacent profiles.
// Global is the Global/Continental boundary, Continental the Continental/Regional one
// and Regional the Regional/Tactical one.
type Thresholds struct {
	Global      float64 `yaml:"global"`
	Continental float64 `yaml:"continental"`
	Regional    float64 `yaml:"regional"`
	Hysteresis  float64 `yaml:"hysteresis"`
}

// DefaultThresholds returns the stock threshold table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Global:      7000,
		Continental: 2500,
		Regional:    260,
		Hysteresis:  0.08,
	}
}

// Validate checks the table is strictly decreasing and the hysteresis ratio is in [0,1).
func (t Thresholds) Validate() error {
	for _, v := range []float64{t.Global, t.Continental, t.Regional} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("lod thresholds must be positive and finite, got %v", v)
		}
	}
	if !(t.Global > t.Continental && t.Continental > t.Regional) {
		return errors.New("lod thresholds must satisfy global > continental > regional")
	}
	if math.IsNaN(t.Hysteresis) || t.Hysteresis < 0 || t.Hysteresis >= 1 {
		return fmt.Errorf("lod hysteresis must be in [0,1), got %v", t.Hysteresis)
	}
	return nil
}

// boundary returns the nominal threshold between p and the next finer profile.
func (t Thresholds) boundary(p Profile) float64 {
	switch p {
	case Global:
		return t.Global
	case Continental:
		return t.Continental
	default:
		return t.Regional
	}
}

// EnterBand is the value above which the profile coarser than the boundary is entered.
func (t Thresholds) EnterBand(p Profile) float64 {
	return t.boundary(p) * (1 + t.Hysteresis)
}

// LeaveBand is the value below which the profile finer than the boundary is entered.
func (t Thresholds) LeaveBand(p Profile) float64 {
	return t.boundary(p) * (1 - t.Hysteresis)
}

// Next applies the hysteretic single-step rule from current for the given mpp.
func (t Thresholds) Next(current Profile, mpp float64) Profile {
	if current < Tactical && mpp < t.LeaveBand(current) {
		return current + 1
	}
	if current > Global && mpp > t.EnterBand(current-1) {
		return current - 1
	}
	return current
}

// Classify maps mpp onto a profile using the nominal thresholds only.
func (t Thresholds) Classify(mpp float64) Profile {
	switch {
	case mpp > t.Global:
		return Global
	case mpp > t.Continental:
		return Continental
	case mpp > t.Regional:
		return Regional
	default:
		return Tactical
	}
}

// ValidMetric reports whether mpp carries usable information.
func ValidMetric(mpp float64) bool {
	return !math.IsNaN(mpp) && !math.IsInf(mpp, 0) && mpp > 0
}
