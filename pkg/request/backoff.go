package request

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// HostBackoff holds back a terrain host after transport failures.
// Each consecutive failure doubles the hold, up to max.
type HostBackoff struct {
	base, max time.Duration

	mu    sync.Mutex
	hosts map[string]*hostHold

	now    func() time.Time
	jitter func() float64 // fraction in [0, 1) of the 10% spread
}

type hostHold struct {
	failures int
	until    time.Time
}

// NewHostBackoff creates an empty backoff table.
func NewHostBackoff(base, max time.Duration) *HostBackoff {
	return &HostBackoff{
		base:   base,
		max:    max,
		hosts:  make(map[string]*hostHold),
		now:    time.Now,
		jitter: rand.Float64,
	}
}

// Hold returns how long a request to host must still wait.
func (b *HostBackoff) Hold(host string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.hosts[host]
	if !ok {
		return 0
	}
	return max(h.until.Sub(b.now()), 0)
}

// Wait sleeps out the current hold for host. It reports whether it slept.
func (b *HostBackoff) Wait(ctx context.Context, host string) (bool, error) {
	d := b.Hold(host)
	if d <= 0 {
		return false, nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// Fail records a failure and extends the hold.
func (b *HostBackoff) Fail(host string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.hosts[host]
	if h == nil {
		h = &hostHold{}
		b.hosts[host] = h
	}
	h.failures++
	d := b.delay(h.failures)
	h.until = b.now().Add(d)
	return d
}

// Recover forgets one failure. The hold lifts once the count reaches zero.
func (b *HostBackoff) Recover(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.hosts[host]
	if h == nil {
		return
	}
	if h.failures > 0 {
		h.failures--
	}
	if h.failures == 0 {
		delete(b.hosts, host)
	}
}

// Failures returns the current failure count for host.
func (b *HostBackoff) Failures(host string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h := b.hosts[host]; h != nil {
		return h.failures
	}
	return 0
}

func (b *HostBackoff) delay(failures int) time.Duration {
	d := b.base
	for i := 1; i < failures && d < b.max; i++ {
		d *= 2
	}
	d = min(d, b.max)
	return d + time.Duration(b.jitter()*0.1*float64(d))
}
