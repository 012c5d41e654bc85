package maintenance

import (
	"context"
	"log/slog"
	"time"

	"globelod/pkg/db"
	"globelod/pkg/store"
)

const lastRunStateKey = "maintenance_last_run"

// Options bounds what maintenance keeps.
type Options struct {
	CacheTTL     time.Duration
	KeepSwitches int
	// MinInterval skips the run if the previous one is more recent.
	MinInterval time.Duration
}

// Run prunes the sample cache and trims the switch history.
// It blocks until completion. Failures are logged, not returned, so startup continues.
func Run(ctx context.Context, s store.StateStore, d *db.DB, opts Options) error {
	if opts.MinInterval > 0 {
		if last, ok := s.GetState(ctx, lastRunStateKey); ok {
			if t, err := time.Parse(time.RFC3339, last); err == nil && time.Since(t) < opts.MinInterval {
				slog.Debug("Skipping database maintenance", "last_run", last)
				return nil
			}
		}
	}

	slog.Info("Starting database maintenance...")

	if opts.CacheTTL > 0 {
		if n, err := d.PruneCache(opts.CacheTTL); err != nil {
			slog.Error("Cache pruning failed", "error", err)
		} else {
			slog.Info("Cache pruning completed", "removed", n)
		}
	}

	if opts.KeepSwitches > 0 {
		if n, err := d.TrimSwitches(opts.KeepSwitches); err != nil {
			slog.Error("Switch history trim failed", "error", err)
		} else {
			slog.Info("Switch history trimmed", "removed", n)
		}
	}

	if err := s.SetState(ctx, lastRunStateKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.Warn("Failed to record maintenance run", "error", err)
	}
	return ctx.Err()
}
