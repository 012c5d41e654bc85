package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globelod/pkg/geo"
	"globelod/pkg/loop"
	"globelod/pkg/metric"
	"globelod/pkg/ocean"
	"globelod/pkg/scene"
	"globelod/pkg/scene/mockscene"
	"globelod/pkg/terrain"
)

const testDebounce = 180 * time.Millisecond

type fakeHandle struct {
	name     string
	coverage orb.Bound
	height   float64
	err      error
	calls    int
	levels   []int
}

func (h *fakeHandle) Name() string        { return h.name }
func (h *fakeHandle) Local() bool         { return true }
func (h *fakeHandle) Coverage() orb.Bound { return h.coverage }
func (h *fakeHandle) MaxLevel() int       { return 14 }

func (h *fakeHandle) Sample(ctx context.Context, level int, points []geo.Point) ([]float64, error) {
	h.calls++
	h.levels = append(h.levels, level)
	if h.err != nil {
		return nil, h.err
	}
	out := make([]float64, len(points))
	for i := range out {
		out[i] = h.height
	}
	return out, nil
}

type fakeProvider struct {
	handle *fakeHandle
	faults []string
}

func (p *fakeProvider) Handle() (terrain.Handle, bool) {
	if p.handle == nil {
		return nil, false
	}
	return p.handle, true
}

func (p *fakeProvider) Ellipsoid() terrain.Handle { return terrain.Ellipsoid{} }

func (p *fakeProvider) ReportUnrecoverableFault(detail string) {
	p.faults = append(p.faults, detail)
	p.handle = nil
}

type recordingSink struct{ results []Result }

func (s *recordingSink) QueryResult(r Result) { s.results = append(s.results, r) }

type fixture struct {
	v        *loop.Virtual
	scene    *mockscene.Scene
	provider *fakeProvider
	pipe     *Pipeline
	sink     *recordingSink
	level    int
	hasLevel bool
}

func newFixture(t *testing.T, h *fakeHandle) *fixture {
	t.Helper()
	f := &fixture{
		v:        loop.NewVirtual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		provider: &fakeProvider{handle: h},
		sink:     &recordingSink{},
	}
	f.scene = mockscene.New(mockscene.Config{
		Start:    geo.Cartographic{Point: geo.Point{Lat: 46.5, Lon: 8.0}, Height: 20000},
		Viewport: scene.Viewport{Width: 800, Height: 600},
	})
	f.scene.SetSurface(func(geo.Point) (float64, bool) { return 1200, true })
	levels := func() (int, bool) { return f.level, f.hasLevel }
	f.pipe = NewPipeline(context.Background(), f.v, f.scene, metric.New(f.scene), f.provider, levels, Options{
		Debounce:       testDebounce,
		OceanThreshold: ocean.DefaultThreshold,
	})
	f.pipe.AddSink(f.sink)
	return f
}

func alps() orb.Bound {
	return orb.Bound{Min: orb.Point{5, 44}, Max: orb.Point{11, 48}}
}

func center(f *fixture) scene.ScreenPoint {
	return f.scene.Viewport().Center()
}

func TestQueryAt_FastThenPrecise(t *testing.T) {
	h := &fakeHandle{name: "alps", coverage: alps(), height: 1234.5}
	f := newFixture(t, h)

	fast, pending, ok := f.pipe.QueryAt(center(f))
	require.True(t, ok)
	require.NotNil(t, pending)

	assert.False(t, fast.Precise)
	assert.Equal(t, 1200.0, fast.Elevation)
	assert.InDelta(t, 46.5, fast.Position.Lat, 0.01)
	assert.InDelta(t, 8.0, fast.Position.Lon, 0.01)
	assert.Equal(t, ocean.Land, fast.Surface)
	assert.Greater(t, fast.Metrics.MetersPerPixel, 0.0)

	f.v.Advance(testDebounce - time.Millisecond)
	assert.Equal(t, 0, h.calls, "precise sample must wait for the debounce")

	f.v.Advance(time.Millisecond)
	f.v.Settle()

	select {
	case <-pending.Done():
	default:
		t.Fatal("pending query did not resolve")
	}
	res, outcome := pending.Result()
	assert.Equal(t, Applied, outcome)
	assert.True(t, res.Precise)
	assert.False(t, res.Degraded)
	assert.Equal(t, 1234.5, res.Elevation)
	assert.Equal(t, "alps", res.Source)
	assert.Equal(t, 14, res.Level)
	require.Len(t, f.sink.results, 1)

	latest, ok := f.pipe.Latest()
	require.True(t, ok)
	assert.Equal(t, res, latest)
}

func TestQueryAt_Sky(t *testing.T) {
	f := newFixture(t, nil)
	pose := f.scene.Pose()
	pose.Pitch = 0.4
	f.scene.SetPose(pose)

	_, pending, ok := f.pipe.QueryAt(center(f))
	assert.False(t, ok)
	assert.Nil(t, pending)
	assert.Equal(t, uint64(1), f.pipe.Token())
	assert.Equal(t, 0, f.v.PendingTimers())
}

func TestQueryAt_SupersedesOlderQuery(t *testing.T) {
	h := &fakeHandle{name: "alps", coverage: alps(), height: 900}
	f := newFixture(t, h)

	_, first, ok := f.pipe.QueryAt(center(f))
	require.True(t, ok)
	f.v.Advance(50 * time.Millisecond)

	_, second, ok := f.pipe.QueryAt(scene.ScreenPoint{X: 300, Y: 200})
	require.True(t, ok)

	_, outcome := first.Result()
	assert.Equal(t, Superseded, outcome)

	f.v.Advance(testDebounce)
	f.v.Settle()

	assert.Equal(t, 1, h.calls, "only the live query samples")
	res, outcome := second.Result()
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, second.Token(), res.Token)
}

func TestQueryAt_StaleCompletionDiscarded(t *testing.T) {
	h := &fakeHandle{name: "alps", coverage: alps(), height: 900}
	f := newFixture(t, h)

	_, first, ok := f.pipe.QueryAt(center(f))
	require.True(t, ok)
	f.v.Advance(testDebounce)
	require.Equal(t, 1, f.v.PendingAsync(), "sample is in flight")

	// Pointer moves while the sample is outstanding.
	_, _, ok = f.pipe.QueryAt(scene.ScreenPoint{X: 100, Y: 100})
	require.True(t, ok)

	f.v.RunAsync()

	_, outcome := first.Result()
	assert.Equal(t, Superseded, outcome)
	assert.Empty(t, f.sink.results)
	_, ok = f.pipe.Latest()
	assert.False(t, ok)
}

func TestQueryAt_OutsideCoverageUsesEllipsoid(t *testing.T) {
	h := &fakeHandle{name: "alps", coverage: orb.Bound{Min: orb.Point{100, 10}, Max: orb.Point{110, 20}}}
	f := newFixture(t, h)

	_, pending, ok := f.pipe.QueryAt(center(f))
	require.True(t, ok)
	f.v.Advance(testDebounce)
	f.v.Settle()

	res, outcome := pending.Result()
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, 0, h.calls)
	assert.Equal(t, "ellipsoid", res.Source)
	assert.Equal(t, 0.0, res.Elevation)
}

func TestQueryAt_FixedLevel(t *testing.T) {
	h := &fakeHandle{name: "alps", coverage: alps(), height: 10}
	f := newFixture(t, h)
	f.level, f.hasLevel = 9, true

	_, pending, ok := f.pipe.QueryAt(center(f))
	require.True(t, ok)
	f.v.Advance(testDebounce)
	f.v.Settle()

	res, _ := pending.Result()
	assert.Equal(t, 9, res.Level)
	assert.Equal(t, []int{9}, h.levels)
}

func TestQueryAt_Failures(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		height    float64
		wantFault bool
	}{
		{name: "transient", err: errors.New("connection reset")},
		{name: "unrecoverable", err: fmt.Errorf("decode tile: %w", terrain.ErrUnrecoverable), wantFault: true},
		{name: "NaN height", height: math.NaN()},
		{name: "infinite height", height: math.Inf(-1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &fakeHandle{name: "alps", coverage: alps(), err: tt.err, height: tt.height}
			f := newFixture(t, h)

			_, pending, ok := f.pipe.QueryAt(center(f))
			require.True(t, ok)
			f.v.Advance(testDebounce)
			f.v.Settle()

			res, outcome := pending.Result()
			assert.Equal(t, Applied, outcome)
			assert.True(t, res.Precise)
			assert.True(t, res.Degraded)
			assert.Equal(t, 1200.0, res.Elevation, "falls back to the fast estimate")
			_, err := json.Marshal(res)
			assert.NoError(t, err)

			if tt.wantFault {
				require.Len(t, f.provider.faults, 1)
				assert.Contains(t, f.provider.faults[0], "decode tile")
			} else {
				assert.Empty(t, f.provider.faults)
			}
		})
	}
}

func TestQueryAt_OceanAnalysis(t *testing.T) {
	h := &fakeHandle{name: "atlantic", coverage: alps(), height: -3200}
	f := newFixture(t, h)

	_, pending, ok := f.pipe.QueryAt(center(f))
	require.True(t, ok)
	f.v.Advance(testDebounce)
	f.v.Settle()

	res, _ := pending.Result()
	assert.Equal(t, ocean.Ocean, res.Surface)
	assert.Equal(t, 3200.0, res.Sonar.Depth)
	assert.True(t, res.Sonar.ConvergenceZone)
}

func TestPending_WaitContext(t *testing.T) {
	f := newFixture(t, &fakeHandle{name: "alps", coverage: alps()})
	_, pending, ok := f.pipe.QueryAt(center(f))
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := pending.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	f.pipe.Cancel()
	_, outcome, err := pending.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Superseded, outcome)
}
