package camera

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globelod/pkg/geo"
	"globelod/pkg/lod"
	"globelod/pkg/scene"
	"globelod/pkg/scene/mockscene"
)

func deg(d float64) float64 { return d * math.Pi / 180 }

var (
	tacticalBounds = Bounds{MinHeight: 18000, PitchMin: deg(-45), PitchMax: deg(-20)}
	defaultBounds  = Bounds{MinHeight: 2500, PitchMin: deg(-90), PitchMax: deg(-8)}
)

func testBounds(p lod.Profile) Bounds {
	if p == lod.Tactical {
		return tacticalBounds
	}
	return defaultBounds
}

func pose(h, pitch float64) scene.Pose {
	return scene.Pose{Position: geo.Cartographic{Point: geo.Point{Lat: 30, Lon: 120}, Height: h}, Pitch: pitch}
}

func TestBounds_Clamp(t *testing.T) {
	tests := []struct {
		name      string
		b         Bounds
		in        scene.Pose
		wantH     float64
		wantPitch float64
		changed   bool
	}{
		{"legal tactical", tacticalBounds, pose(20000, deg(-30)), 20000, deg(-30), false},
		{"too low", tacticalBounds, pose(5000, deg(-30)), 18000, deg(-30), true},
		{"too steep", tacticalBounds, pose(20000, deg(-80)), 20000, deg(-45), true},
		{"too shallow", tacticalBounds, pose(20000, deg(-5)), 20000, deg(-20), true},
		{"default legal nadir", defaultBounds, pose(1e6, deg(-90)), 1e6, deg(-90), false},
		{"max height", Bounds{MinHeight: 10, MaxHeight: 100, PitchMin: -1, PitchMax: 0}, pose(500, -0.5), 100, -0.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, changed := tt.b.Clamp(tt.in)
			assert.Equal(t, tt.changed, changed)
			assert.InDelta(t, tt.wantH, out.Position.Height, 1e-9)
			assert.InDelta(t, tt.wantPitch, out.Pitch, 1e-12)

			// Idempotent
			again, changedAgain := tt.b.Clamp(out)
			assert.False(t, changedAgain)
			assert.Equal(t, out, again)
		})
	}
}

func TestBounds_NaNLeftAlone(t *testing.T) {
	out, changed := tacticalBounds.Clamp(pose(math.NaN(), math.NaN()))
	assert.False(t, changed)
	assert.True(t, math.IsNaN(out.Position.Height))
}

func TestMaxZoomOutHeight(t *testing.T) {
	vp := scene.Viewport{Width: 1600, Height: 900, FovY: deg(60)}
	// Landscape: the vertical half angle limits
	want := (geo.SemiMajorAxis/math.Sin(deg(30)) - geo.SemiMajorAxis) * 1.015
	assert.InDelta(t, want, MaxZoomOutHeight(vp), 1e-6)

	portrait := scene.Viewport{Width: 400, Height: 900, FovY: deg(60)}
	assert.Greater(t, MaxZoomOutHeight(portrait), MaxZoomOutHeight(vp))
}

func TestEnforcer_ReappliesPerProfile(t *testing.T) {
	s := mockscene.New(mockscene.Config{
		Start: geo.Cartographic{Point: geo.Point{Lat: 30, Lon: 120}, Height: 10_000},
		Pitch: deg(-60),
	})
	e := NewEnforcer(testBounds, false)

	// Legal under Regional
	assert.False(t, e.Enforce(s, lod.Regional))
	writes := s.PoseWrites()

	// Same camera is illegal under Tactical
	require.True(t, e.Enforce(s, lod.Tactical))
	assert.Equal(t, 18000.0, s.Pose().Height())
	assert.InDelta(t, deg(-45), s.Pose().Pitch, 1e-12)
	assert.Equal(t, writes+1, s.PoseWrites())

	assert.False(t, e.Enforce(s, lod.Tactical), "second pass is a no-op")
}

func TestEnforcer_GlobeFit(t *testing.T) {
	s := mockscene.New(mockscene.Config{
		Start:    geo.Cartographic{Point: geo.Point{}, Height: 5e7},
		Viewport: scene.Viewport{Width: 1600, Height: 900, FovY: deg(60)},
	})
	e := NewEnforcer(testBounds, true)

	require.True(t, e.Enforce(s, lod.Global))
	assert.InDelta(t, MaxZoomOutHeight(s.Viewport()), s.Pose().Height(), 1e-6)
}

func TestObliqueEntry(t *testing.T) {
	o := ObliqueEntry{
		Enabled:       true,
		TriggerPitch:  -0.55,
		Pitch:         deg(-34),
		HeadingOffset: deg(8),
		HeightScale:   0.7,
		MinHeight:     18000,
		MaxHeight:     32000,
	}

	out, ok := o.Apply(pose(100_000, deg(-20)))
	require.True(t, ok)
	assert.Equal(t, 32000.0, out.Position.Height)
	assert.InDelta(t, deg(-34), out.Pitch, 1e-12)
	assert.InDelta(t, deg(8), out.Heading, 1e-12)

	out, ok = o.Apply(pose(20_000, deg(-25)))
	require.True(t, ok)
	assert.Equal(t, 18000.0, out.Position.Height)

	_, ok = o.Apply(pose(100_000, deg(-60)))
	assert.False(t, ok, "steep poses are kept")

	o.Enabled = false
	_, ok = o.Apply(pose(100_000, deg(-20)))
	assert.False(t, ok)
}

func TestZoomGuard(t *testing.T) {
	g := ZoomGuard{FloorMPP: 100}
	assert.True(t, g.Allow(20000, 19000, 150))
	assert.False(t, g.Allow(20000, 19000, 100))
	assert.True(t, g.Allow(20000, 30000, 50), "zooming out is always allowed")
	assert.True(t, ZoomGuard{}.Allow(20000, 1, 1))
}
