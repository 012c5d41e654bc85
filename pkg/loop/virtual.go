package loop

import (
	"sort"
	"time"
)

// Virtual is a manually driven Scheduler for tests.
// Nothing runs until the test calls Drain, RunAsync, Settle or Advance.
type Virtual struct {
	now    time.Time
	posted []func()
	async  []func()
	timers []*virtualTimer
	seq    uint64
}

type virtualTimer struct {
	owner    *Virtual
	deadline time.Time
	seq      uint64
	fn       func()
	stopped  bool
}

func (t *virtualTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	t.owner.remove(t)
	return true
}

// NewVirtual creates a Virtual scheduler whose clock starts at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time { return v.now }

func (v *Virtual) Post(fn func()) { v.posted = append(v.posted, fn) }

func (v *Virtual) Go(fn func()) { v.async = append(v.async, fn) }

func (v *Virtual) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	v.seq++
	t := &virtualTimer{owner: v, deadline: v.now.Add(d), seq: v.seq, fn: fn}
	v.timers = append(v.timers, t)
	return t
}

func (v *Virtual) remove(t *virtualTimer) {
	for i, other := range v.timers {
		if other == t {
			v.timers = append(v.timers[:i], v.timers[i+1:]...)
			return
		}
	}
}

// Drain runs posted callbacks until none remain. Async work is left queued.
func (v *Virtual) Drain() {
	for len(v.posted) > 0 {
		fn := v.posted[0]
		v.posted = v.posted[1:]
		fn()
	}
}

// RunAsync runs every queued async function and then drains their completions.
func (v *Virtual) RunAsync() {
	batch := v.async
	v.async = nil
	for _, fn := range batch {
		fn()
	}
	v.Drain()
}

// Settle runs async work and posted callbacks until both queues are empty.
func (v *Virtual) Settle() {
	v.Drain()
	for len(v.async) > 0 {
		v.RunAsync()
	}
}

// Advance moves the clock forward by d, firing due timers in deadline order.
// Async work started by the fired callbacks stays queued.
func (v *Virtual) Advance(d time.Duration) {
	target := v.now.Add(d)
	v.Drain()
	for {
		next := v.nextDue(target)
		if next == nil {
			break
		}
		v.remove(next)
		next.stopped = true
		v.now = next.deadline
		next.fn()
		v.Drain()
	}
	v.now = target
}

func (v *Virtual) nextDue(target time.Time) *virtualTimer {
	if len(v.timers) == 0 {
		return nil
	}
	sort.SliceStable(v.timers, func(i, j int) bool {
		a, b := v.timers[i], v.timers[j]
		if a.deadline.Equal(b.deadline) {
			return a.seq < b.seq
		}
		return a.deadline.Before(b.deadline)
	})
	if v.timers[0].deadline.After(target) {
		return nil
	}
	return v.timers[0]
}

// PendingTimers reports how many timers are armed.
func (v *Virtual) PendingTimers() int { return len(v.timers) }

// PendingAsync reports how many async functions are waiting for RunAsync.
func (v *Virtual) PendingAsync() int { return len(v.async) }
