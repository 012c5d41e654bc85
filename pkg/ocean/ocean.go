// Package ocean classifies sampled elevations and derives simple acoustic properties.
package ocean

import (
	"fmt"
	"math"
)

// DefaultThreshold is the elevation below which a point counts as open ocean.
const DefaultThreshold = -150.0

// Reference water properties for the sound speed model.
const (
	referenceTemperature = 10.0 // degrees C
	referenceSalinity    = 35.0 // psu

	thermoclineDepth = 200.0
	convergenceDepth = 3000.0
)

// Surface is the coarse classification of a sampled point.
type Surface int

const (
	Land Surface = iota
	Ocean
)

func (s Surface) String() string {
	if s == Ocean {
		return "ocean"
	}
	return "land"
}

// MarshalText implements encoding.TextMarshaler.
func (s Surface) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Surface) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ocean":
		*s = Ocean
	case "land":
		*s = Land
	default:
		return fmt.Errorf("unknown surface %q", b)
	}
	return nil
}

// Classify returns Ocean when elev is below threshold.
func Classify(elev, threshold float64) Surface {
	if elev < threshold {
		return Ocean
	}
	return Land
}

// Sonar describes sound propagation at a water depth.
type Sonar struct {
	Depth           float64 `json:"depth"`
	SoundSpeed      float64 `json:"sound_speed"`
	Thermocline     bool    `json:"thermocline"`
	ConvergenceZone bool    `json:"convergence_zone"`
}

// SoundSpeed evaluates the simplified Mackenzie equation in m/s.
func SoundSpeed(depth, temperature, salinity float64) float64 {
	t := temperature
	return 1449.2 +
		4.6*t - 0.055*t*t + 0.00029*t*t*t +
		(1.34-0.01*t)*(salinity-35) +
		0.016*depth
}

// SonarAt returns the acoustic profile at depth meters. Negative depths are treated as 0.
func SonarAt(depth float64) Sonar {
	if !(depth > 0) || math.IsInf(depth, 0) {
		depth = 0
	}
	return Sonar{
		Depth:           depth,
		SoundSpeed:      SoundSpeed(depth, referenceTemperature, referenceSalinity),
		Thermocline:     depth > thermoclineDepth,
		ConvergenceZone: depth > convergenceDepth,
	}
}

// Analyze classifies elev and returns the sonar profile; land has depth 0.
func Analyze(elev, threshold float64) (Surface, Sonar) {
	s := Classify(elev, threshold)
	if s == Land {
		return s, SonarAt(0)
	}
	return s, SonarAt(-elev)
}
