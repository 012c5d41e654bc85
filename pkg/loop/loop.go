// Package loop provides the single control goroutine that owns all viewer state.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrStopped is returned by Do when the loop is no longer running.
var ErrStopped = errors.New("control loop stopped")

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler is the capability handed to components that mutate control state.
// Post and AfterFunc callbacks always run on the control goroutine.
// Go launches work that must not touch control state directly; it reports back via Post.
type Scheduler interface {
	Now() time.Time
	Post(fn func())
	Go(fn func())
	AfterFunc(d time.Duration, fn func()) Timer
}

// Loop is the production Scheduler backed by a goroutine and wall-clock timers.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	workers sync.WaitGroup
	once    sync.Once
}

// New creates a Loop. Call Run to start processing.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Now returns the wall-clock time.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Post enqueues fn for the control goroutine. Posting after the loop stopped is a no-op.
func (l *Loop) Post(fn func()) {
	select {
	case <-l.done:
		return
	default:
	}

	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Go runs fn on its own goroutine.
func (l *Loop) Go(fn func()) {
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()
		fn()
	}()
}

// AfterFunc posts fn to the control goroutine once d elapsed.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, func() { l.Post(fn) })
}

// Run processes posted work until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	slog.Info("Control loop started")
	defer l.stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Control loop stopping", "reason", ctx.Err())
			return
		case <-l.wake:
			l.drain()
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
	}
}

func (l *Loop) stop() {
	l.once.Do(func() { close(l.done) })
}

// Do runs fn on the control goroutine and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		fn()
	})

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until all goroutines started with Go have returned.
func (l *Loop) Wait() {
	l.workers.Wait()
}
