package tracker

import (
	"sync"
	"testing"
)

func TestTracker(t *testing.T) {
	tr := New()
	provider := "tiles.example.com"

	stats := tr.Snapshot()
	if len(stats) != 0 {
		t.Errorf("Expected empty stats, got %d", len(stats))
	}

	tr.TrackCacheHit(provider)
	tr.TrackCacheMiss(provider)
	tr.TrackAPISuccess(provider)
	tr.TrackAPIFailure(provider)
	tr.TrackThrottled(provider)

	stats = tr.Snapshot()
	pStats, ok := stats[provider]
	if !ok {
		t.Fatalf("Expected stats for provider %s", provider)
	}

	if pStats.CacheHits != 1 {
		t.Errorf("Expected 1 CacheHit, got %d", pStats.CacheHits)
	}
	if pStats.CacheMisses != 1 {
		t.Errorf("Expected 1 CacheMiss, got %d", pStats.CacheMisses)
	}
	if pStats.APISuccess != 1 {
		t.Errorf("Expected 1 APISuccess, got %d", pStats.APISuccess)
	}
	if pStats.APIFailures != 1 {
		t.Errorf("Expected 1 APIFailure, got %d", pStats.APIFailures)
	}
	if pStats.Throttled != 1 {
		t.Errorf("Expected 1 Throttled, got %d", pStats.Throttled)
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.TrackCacheHit("p")
		}()
	}
	wg.Wait()

	if got := tr.Snapshot()["p"].CacheHits; got != 50 {
		t.Errorf("CacheHits = %d, want 50", got)
	}
}

func TestReset(t *testing.T) {
	tr := New()
	tr.TrackAPISuccess("p")
	tr.Reset()

	s, ok := tr.Snapshot()["p"]
	if !ok {
		t.Fatal("provider should still be listed after reset")
	}
	if s.APISuccess != 0 {
		t.Errorf("APISuccess = %d, want 0", s.APISuccess)
	}
}
