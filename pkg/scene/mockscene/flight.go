package mockscene

import (
	"math"

	"globelod/pkg/geo"
)

// Step kinds for a scripted flight.
const (
	StepZoom = "ZOOM" // move height toward Target at Rate (fraction per second, geometric)
	StepPan  = "PAN"  // move along Heading at Rate m/s for Duration seconds
	StepHold = "HOLD" // wait Duration seconds
)

// Step is one leg of a scripted camera flight.
type Step struct {
	Type     string
	Target   float64
	Rate     float64
	Heading  float64
	Duration float64
}

// DefaultScript zooms from orbit to tactical range and back out.
func DefaultScript() []Step {
	return []Step{
		{Type: StepHold, Duration: 2},
		{Type: StepZoom, Target: 3.5e6, Rate: 0.5},
		{Type: StepHold, Duration: 3},
		{Type: StepZoom, Target: 400_000, Rate: 0.5},
		{Type: StepPan, Heading: 90, Rate: 20_000, Duration: 5},
		{Type: StepZoom, Target: 40_000, Rate: 0.4},
		{Type: StepHold, Duration: 5},
		{Type: StepZoom, Target: 2e7, Rate: 0.8},
	}
}

// Flight replays steps against a Scene. It is not safe for concurrent use.
type Flight struct {
	// Guard may veto a zoom step from the current to the next height.
	Guard func(current, next float64) bool

	scene   *Scene
	steps   []Step
	idx     int
	elapsed float64
	loop    bool
}

// NewFlight creates a flight. When loop is set the script restarts after the last step.
func NewFlight(s *Scene, steps []Step, loop bool) *Flight {
	return &Flight{scene: s, steps: steps, loop: loop}
}

// Done reports whether a non-looping script has finished.
func (f *Flight) Done() bool {
	return !f.loop && f.idx >= len(f.steps)
}

// Tick advances the flight by dt seconds and reports whether the camera moved.
func (f *Flight) Tick(dt float64) bool {
	if len(f.steps) == 0 || dt <= 0 {
		return false
	}
	if f.idx >= len(f.steps) {
		if !f.loop {
			return false
		}
		f.idx = 0
	}

	step := f.steps[f.idx]
	f.elapsed += dt
	moved := false

	switch step.Type {
	case StepZoom:
		moved = f.zoom(step, dt)
		if !moved {
			f.next()
		}
	case StepPan:
		pose := f.scene.Pose()
		pose.Position.Point = geo.DestinationPoint(pose.Position.Point, step.Rate*dt, step.Heading)
		f.scene.SetPose(pose)
		moved = true
		if f.elapsed >= step.Duration {
			f.next()
		}
	default:
		if f.elapsed >= step.Duration {
			f.next()
		}
	}
	return moved
}

func (f *Flight) zoom(step Step, dt float64) bool {
	h := f.scene.Pose().Height()
	if h <= 0 || step.Target <= 0 || math.Abs(h-step.Target) < 1 {
		return false
	}
	factor := math.Pow(1+step.Rate, dt)
	var next float64
	if step.Target > h {
		next = math.Min(step.Target, h*factor)
	} else {
		next = math.Max(step.Target, h/factor)
	}
	if f.Guard != nil && !f.Guard(h, next) {
		return false
	}
	f.scene.SetHeight(next)
	return true
}

func (f *Flight) next() {
	f.idx++
	f.elapsed = 0
}
