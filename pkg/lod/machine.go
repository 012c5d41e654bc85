package lod

import (
	"log/slog"
	"time"

	"globelod/pkg/loop"
)

// MinDeferral is the shortest delay used when a switch is postponed by the cooldown.
const MinDeferral = 16 * time.Millisecond

// MetricSource samples the current meters-per-pixel at the viewport centre.
type MetricSource interface {
	CenterMetersPerPixel() float64
}

// MetricFunc adapts a function to MetricSource.
type MetricFunc func() float64

func (f MetricFunc) CenterMetersPerPixel() float64 { return f() }

// Overrides are consulted on every evaluation and never cached.
type Overrides interface {
	// TerrainDisabled forces Global when local terrain is permanently unavailable.
	TerrainDisabled() bool
	// PinnedProfile forces a profile regardless of mpp.
	PinnedProfile() (Profile, bool)
	// MaxProfile caps the finest profile the adaptive rule may select.
	MaxProfile() (Profile, bool)
}

// Applier performs the side effects of a committed profile.
type Applier interface {
	ApplyProfile(prev, next Profile, mpp float64)
}

// Event is emitted after every evaluation that produced a valid metric.
type Event struct {
	Profile  Profile
	MPP      float64
	Switched bool
	At       time.Time
	// From, Forced and Cost are set only when Switched.
	From   Profile
	Forced bool
	Cost   time.Duration
}

// SwitchStats summarises committed switches.
type SwitchStats struct {
	Count           int           `json:"count"`
	LastDuration    time.Duration `json:"last_duration"`
	AverageDuration time.Duration `json:"average_duration"`
	LastSwitch      time.Time     `json:"last_switch"`
	totalDuration   time.Duration
}

// Options configures a Machine.
type Options struct {
	Thresholds Thresholds
	Debounce   time.Duration
	Cooldown   time.Duration
}

// Machine is the debounced, rate limited profile state machine.
// All methods must be called from the control goroutine.
type Machine struct {
	sched     loop.Scheduler
	opts      Options
	metric    MetricSource
	overrides Overrides
	applier   Applier
	listeners []func(Event)

	current    Profile
	mpp        float64
	lastSwitch time.Time
	timer      *loop.Deferred
	stats      SwitchStats
	evals      int
}

// NewMachine creates a Machine starting at Global.
func NewMachine(sched loop.Scheduler, opts Options, metric MetricSource, overrides Overrides, applier Applier) *Machine {
	return &Machine{
		sched:     sched,
		opts:      opts,
		metric:    metric,
		overrides: overrides,
		applier:   applier,
		current:   Global,
		timer:     loop.NewDeferred(sched),
	}
}

// OnEvent registers a listener for evaluation results.
func (m *Machine) OnEvent(fn func(Event)) {
	m.listeners = append(m.listeners, fn)
}

// Current returns the active profile.
func (m *Machine) Current() Profile { return m.current }

// MPP returns the last valid meters-per-pixel sample.
func (m *Machine) MPP() float64 { return m.mpp }

// Stats returns the switch statistics.
func (m *Machine) Stats() SwitchStats { return m.stats }

// Evaluations returns how many debounced evaluations have run.
func (m *Machine) Evaluations() int { return m.evals }

// Pending reports whether an evaluation is scheduled.
func (m *Machine) Pending() bool { return m.timer.Pending() }

// Bootstrap selects the initial profile from the nominal thresholds and applies it
// without counting a switch or starting the cooldown.
func (m *Machine) Bootstrap() {
	mpp := m.metric.CenterMetersPerPixel()
	target := m.current
	if ValidMetric(mpp) {
		m.mpp = mpp
		target = m.Thresholds().Classify(mpp)
	}
	target = m.applyOverrides(target)

	prev := m.current
	m.current = target
	if m.applier != nil {
		m.applier.ApplyProfile(prev, target, m.mpp)
	}
	slog.Info("LOD profile bootstrapped", "profile", target, "mpp", m.mpp)
	m.emit()
}

// Thresholds returns the configured table.
func (m *Machine) Thresholds() Thresholds { return m.opts.Thresholds }

// Notify signals a camera change. Evaluation runs once the camera has been idle for the debounce.
func (m *Machine) Notify() {
	m.timer.Schedule(m.opts.Debounce, m.evaluate)
}

// Reconcile classifies the current mpp against the absolute thresholds and moves there
// directly, skipping the debounce but honouring the cooldown. A deferred reconcile stays absolute.
func (m *Machine) Reconcile() {
	m.timer.Cancel()
	m.run(m.classified, m.Reconcile)
}

// Force commits p immediately, bypassing debounce and cooldown.
func (m *Machine) Force(p Profile, reason string) {
	m.timer.Cancel()
	if p == m.current {
		slog.Info("LOD force requested for active profile", "profile", p, "reason", reason)
		m.emit()
		return
	}
	slog.Warn("LOD profile forced", "profile", p, "reason", reason)
	m.commit(p, m.mpp, true)
}

// Stop cancels any scheduled evaluation.
func (m *Machine) Stop() {
	m.timer.Cancel()
}

// Candidate returns the profile an evaluation at mpp would select, ignoring the cooldown.
func (m *Machine) Candidate(mpp float64) Profile {
	return m.applyOverrides(m.opts.Thresholds.Next(m.current, mpp))
}

func (m *Machine) applyOverrides(p Profile) Profile {
	if m.overrides == nil {
		return p
	}
	if m.overrides.TerrainDisabled() {
		return Global
	}
	if pinned, ok := m.overrides.PinnedProfile(); ok && pinned.Valid() {
		return pinned
	}
	if ceiling, ok := m.overrides.MaxProfile(); ok && ceiling.Valid() && p > ceiling {
		return ceiling
	}
	return p
}

// classified is the absolute target for mpp after overrides.
func (m *Machine) classified(mpp float64) Profile {
	return m.applyOverrides(m.opts.Thresholds.Classify(mpp))
}

func (m *Machine) evaluate() {
	m.run(m.Candidate, m.evaluate)
}

// run samples the metric, picks a target with rule and commits it unless the
// cooldown is active, in which case retry is scheduled for when it ends.
func (m *Machine) run(rule func(float64) Profile, retry func()) {
	m.evals++
	mpp := m.metric.CenterMetersPerPixel()
	if !ValidMetric(mpp) {
		slog.Debug("LOD evaluation skipped: invalid metric", "mpp", mpp)
		return
	}
	m.mpp = mpp

	candidate := rule(mpp)
	if candidate == m.current {
		m.emit()
		return
	}

	if !m.lastSwitch.IsZero() {
		elapsed := m.sched.Now().Sub(m.lastSwitch)
		if elapsed < m.opts.Cooldown {
			wait := m.opts.Cooldown - elapsed
			if wait < MinDeferral {
				wait = MinDeferral
			}
			slog.Debug("LOD switch deferred by cooldown", "candidate", candidate, "current", m.current, "wait", wait)
			m.timer.Schedule(wait, retry)
			m.emit()
			return
		}
	}

	m.commit(candidate, mpp, false)
}

func (m *Machine) commit(next Profile, mpp float64, forced bool) {
	begin := time.Now()
	prev := m.current
	m.current = next
	m.lastSwitch = m.sched.Now()

	if m.applier != nil {
		m.applier.ApplyProfile(prev, next, mpp)
	}

	cost := time.Since(begin)
	m.stats.Count++
	m.stats.LastDuration = cost
	m.stats.totalDuration += cost
	m.stats.AverageDuration = m.stats.totalDuration / time.Duration(m.stats.Count)
	m.stats.LastSwitch = m.lastSwitch

	slog.Info("LOD profile switched", "from", prev, "to", next, "mpp", mpp, "cost", cost)
	m.publish(Event{
		Profile:  next,
		MPP:      m.mpp,
		Switched: true,
		At:       m.lastSwitch,
		From:     prev,
		Forced:   forced,
		Cost:     cost,
	})
}

func (m *Machine) emit() {
	m.publish(Event{Profile: m.current, MPP: m.mpp, At: m.sched.Now()})
}

func (m *Machine) publish(ev Event) {
	for _, fn := range m.listeners {
		fn(ev)
	}
}
