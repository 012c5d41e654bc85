package terrain

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// SharedLoader deduplicates concurrent loads of the same URL across sessions
// and caches successful handles.
type SharedLoader struct {
	inner Loader
	group singleflight.Group

	// Timeout bounds one shared load. The load does not inherit any caller's
	// cancellation; each caller stops waiting on its own context.
	Timeout time.Duration

	mu     sync.Mutex
	loaded map[string]Handle
	gen    map[string]uint64
	calls  int
}

// NewSharedLoader wraps inner.
func NewSharedLoader(inner Loader) *SharedLoader {
	return &SharedLoader{
		inner:   inner,
		Timeout: time.Minute,
		loaded:  make(map[string]Handle),
		gen:     make(map[string]uint64),
	}
}

// Load returns the cached handle or performs one shared load.
func (s *SharedLoader) Load(ctx context.Context, url string) (Handle, error) {
	s.mu.Lock()
	if h, ok := s.loaded[url]; ok {
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	ch := s.group.DoChan(url, func() (interface{}, error) {
		s.mu.Lock()
		s.calls++
		gen := s.gen[url]
		s.mu.Unlock()

		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Timeout)
		defer cancel()
		h, err := s.inner.Load(lctx, url)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if s.gen[url] == gen {
			s.loaded[url] = h
		}
		s.mu.Unlock()
		return h, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(Handle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Forget drops a cached handle so the next Load fetches again. A load already
// in flight for url still answers its callers but is not cached.
func (s *SharedLoader) Forget(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.loaded, url)
	s.gen[url]++
	s.group.Forget(url)
}

// Calls returns how many loads reached the inner loader.
func (s *SharedLoader) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Close releases every cached handle that holds resources.
func (s *SharedLoader) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for url, h := range s.loaded {
		if c, ok := h.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		delete(s.loaded, url)
	}
	return errors.Join(errs...)
}
