package lod

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globelod/pkg/loop"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type recordingApplier struct {
	calls []Profile
	times []time.Time
	clock loop.Scheduler
}

func (a *recordingApplier) ApplyProfile(prev, next Profile, mpp float64) {
	a.calls = append(a.calls, next)
	a.times = append(a.times, a.clock.Now())
}

type fakeOverrides struct {
	disabled bool
	pinned   *Profile
	ceiling  *Profile
	reads    int
}

func (o *fakeOverrides) TerrainDisabled() bool { o.reads++; return o.disabled }

func (o *fakeOverrides) PinnedProfile() (Profile, bool) {
	if o.pinned == nil {
		return Global, false
	}
	return *o.pinned, true
}

func (o *fakeOverrides) MaxProfile() (Profile, bool) {
	if o.ceiling == nil {
		return Global, false
	}
	return *o.ceiling, true
}

type harness struct {
	v       *loop.Virtual
	m       *Machine
	applier *recordingApplier
	ov      *fakeOverrides
	mpp     float64
	events  []Event
}

const (
	testDebounce = 120 * time.Millisecond
	testCooldown = time.Second
)

func newHarness(t *testing.T, startMPP float64) *harness {
	t.Helper()
	h := &harness{v: loop.NewVirtual(epoch), mpp: startMPP, ov: &fakeOverrides{}}
	h.applier = &recordingApplier{clock: h.v}
	opts := Options{Thresholds: DefaultThresholds(), Debounce: testDebounce, Cooldown: testCooldown}
	h.m = NewMachine(h.v, opts, MetricFunc(func() float64 { return h.mpp }), h.ov, h.applier)
	h.m.OnEvent(func(e Event) { h.events = append(h.events, e) })
	return h
}

// move simulates a camera change landing at mpp and lets the debounce elapse.
func (h *harness) move(mpp float64) {
	h.mpp = mpp
	h.m.Notify()
	h.v.Advance(testDebounce)
}

func TestMachine_ExampleScenario(t *testing.T) {
	h := newHarness(t, 10000)
	h.m.Bootstrap()
	require.Equal(t, Global, h.m.Current())

	h.move(6000)
	assert.Equal(t, Continental, h.m.Current())
	assert.Equal(t, 1, h.m.Stats().Count)

	h.v.Advance(2 * testCooldown)
	h.move(6800)
	assert.Equal(t, Continental, h.m.Current())
	assert.Equal(t, 6800.0, h.m.MPP())
	assert.Equal(t, 1, h.m.Stats().Count)
}

func TestMachine_DebounceCoalescesBursts(t *testing.T) {
	h := newHarness(t, 10000)

	for i := 0; i < 5; i++ {
		h.mpp = 6000
		h.m.Notify()
		h.v.Advance(time.Millisecond)
	}
	assert.Equal(t, 0, h.m.Evaluations())
	assert.Equal(t, 1, h.v.PendingTimers())

	h.v.Advance(testDebounce)
	assert.Equal(t, 1, h.m.Evaluations())
	assert.Equal(t, Continental, h.m.Current())
}

func TestMachine_CooldownDefersSwitch(t *testing.T) {
	h := newHarness(t, 10000)

	h.move(6000)
	require.Equal(t, Continental, h.m.Current())
	firstCommit := h.applier.times[0]

	// Second crossing requested well inside the cooldown.
	h.move(2000)
	assert.Equal(t, Continental, h.m.Current(), "must not commit early")
	assert.True(t, h.m.Pending(), "deferred evaluation must be scheduled")

	h.v.Advance(testCooldown - 2*testDebounce - time.Millisecond)
	assert.Equal(t, Continental, h.m.Current())

	h.v.Advance(time.Second)
	require.Equal(t, Regional, h.m.Current())
	second := h.applier.times[1]
	assert.GreaterOrEqual(t, second.Sub(firstCommit), testCooldown)
}

func TestMachine_DeferredEvaluationResamples(t *testing.T) {
	h := newHarness(t, 10000)
	h.move(6000)

	h.move(2000)
	require.True(t, h.m.Pending())

	// Camera returns before the deferral fires; the stale 2000 must not be committed.
	h.mpp = 5000
	h.v.Advance(testCooldown)
	assert.Equal(t, Continental, h.m.Current())
	assert.Equal(t, 1, h.m.Stats().Count)
}

func TestMachine_MinimumDeferral(t *testing.T) {
	h := newHarness(t, 10000)
	h.move(6000)

	// Jump to just before the end of the cooldown, then request a switch without debounce.
	h.v.Advance(testCooldown - time.Millisecond)
	h.mpp = 2000
	h.m.Reconcile()
	assert.Equal(t, Continental, h.m.Current())

	h.v.Advance(MinDeferral - time.Millisecond)
	assert.Equal(t, Continental, h.m.Current())
	h.v.Advance(time.Millisecond)
	assert.Equal(t, Regional, h.m.Current())
}

func TestMachine_ReconcileClassifiesAbsolutely(t *testing.T) {
	h := newHarness(t, 100)
	h.m.Bootstrap()
	require.Equal(t, Tactical, h.m.Current())

	h.mpp = 50000
	h.m.Reconcile()
	assert.Equal(t, Global, h.m.Current(), "no single-step walk back")
	assert.Equal(t, 1, h.m.Stats().Count)

	last := h.events[len(h.events)-1]
	assert.True(t, last.Switched)
	assert.Equal(t, Tactical, last.From)
}

func TestMachine_ReconcileDeferredStaysAbsolute(t *testing.T) {
	h := newHarness(t, 10000)
	h.move(6000)
	require.Equal(t, Continental, h.m.Current())

	h.mpp = 100
	h.m.Reconcile()
	assert.Equal(t, Continental, h.m.Current(), "cooldown holds")

	h.v.Advance(testCooldown)
	assert.Equal(t, Tactical, h.m.Current())
	assert.Equal(t, 2, h.m.Stats().Count)
}

func TestMachine_ReconcileHonoursOverrides(t *testing.T) {
	h := newHarness(t, 100)
	h.m.Bootstrap()
	h.v.Advance(2 * testCooldown)

	ceiling := Regional
	h.ov.ceiling = &ceiling
	h.m.Reconcile()
	assert.Equal(t, Regional, h.m.Current())
}

func TestMachine_InvalidMetricKeepsState(t *testing.T) {
	h := newHarness(t, 10000)
	h.move(6000)
	events := len(h.events)

	for _, bad := range []float64{math.NaN(), math.Inf(1), 0, -5} {
		h.v.Advance(2 * testCooldown)
		h.move(bad)
		assert.Equal(t, Continental, h.m.Current())
		assert.Equal(t, 6000.0, h.m.MPP())
	}
	assert.Len(t, h.events, events, "invalid metrics emit nothing")
}

func TestMachine_OverridesReadFresh(t *testing.T) {
	h := newHarness(t, 100)
	h.m.Bootstrap()
	require.Equal(t, Tactical, h.m.Current())

	ceiling := Regional
	h.ov.ceiling = &ceiling
	h.move(100)
	assert.Equal(t, Regional, h.m.Current(), "max profile clamps finer candidates")

	h.ov.ceiling = nil
	h.v.Advance(2 * testCooldown)
	h.move(100)
	assert.Equal(t, Tactical, h.m.Current(), "removing the cap is seen on the next evaluation")

	pinned := Continental
	h.ov.pinned = &pinned
	h.v.Advance(2 * testCooldown)
	h.move(100)
	assert.Equal(t, Continental, h.m.Current(), "pinned profile ignores mpp")

	h.ov.disabled = true
	h.v.Advance(2 * testCooldown)
	h.move(100)
	assert.Equal(t, Global, h.m.Current(), "disabled terrain dominates the pin")
	assert.Greater(t, h.ov.reads, 4)
}

func TestMachine_ForceBypassesCooldown(t *testing.T) {
	h := newHarness(t, 10000)
	h.move(6000)
	h.move(2000)
	require.True(t, h.m.Pending())

	h.m.Force(Global, "fault")
	assert.Equal(t, Global, h.m.Current())
	assert.False(t, h.m.Pending(), "force cancels pending evaluation")
	assert.Equal(t, 2, h.m.Stats().Count)

	last := h.events[len(h.events)-1]
	assert.True(t, last.Switched)
	assert.True(t, last.Forced)
	assert.Equal(t, Continental, last.From)
}

func TestMachine_BootstrapDoesNotStartCooldown(t *testing.T) {
	h := newHarness(t, 3000)
	h.m.Bootstrap()
	require.Equal(t, Continental, h.m.Current())
	assert.Equal(t, 0, h.m.Stats().Count)

	h.move(2000)
	assert.Equal(t, Regional, h.m.Current())
}

func TestMachine_SingleStepOverSweep(t *testing.T) {
	h := newHarness(t, 1e6)
	h.m.Bootstrap()
	prev := h.m.Current()

	h.m.OnEvent(func(e Event) {
		diff := int(e.Profile) - int(prev)
		if diff < -1 || diff > 1 {
			t.Fatalf("jumped from %s to %s", prev, e.Profile)
		}
		prev = e.Profile
	})

	for _, mpp := range []float64{10, 1e6, 50, 9000, 1, 1e5} {
		for i := 0; i < 6; i++ {
			h.move(mpp)
			h.v.Advance(testCooldown)
		}
	}
}
