package loop

import "time"

// Deferred holds at most one outstanding timer. Scheduling replaces the previous timer
// (last write wins). It must only be used from the control goroutine.
type Deferred struct {
	sched Scheduler
	timer Timer
	gen   uint64
}

// NewDeferred creates a Deferred bound to s.
func NewDeferred(s Scheduler) *Deferred {
	return &Deferred{sched: s}
}

// Schedule cancels any pending callback and arms fn to run after delay.
// It returns the generation of the new timer.
func (d *Deferred) Schedule(delay time.Duration, fn func()) uint64 {
	d.Cancel()
	gen := d.gen
	d.timer = d.sched.AfterFunc(delay, func() {
		// A replaced timer may already have posted its callback.
		if gen != d.gen {
			return
		}
		d.timer = nil
		fn()
	})
	return gen
}

// Cancel stops the pending callback, if any.
func (d *Deferred) Cancel() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

// Pending reports whether a callback is armed.
func (d *Deferred) Pending() bool {
	return d.timer != nil
}

// Generation returns the current timer generation.
func (d *Deferred) Generation() uint64 {
	return d.gen
}
