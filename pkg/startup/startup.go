// Package startup runs startup checks against the configured terrain source and local storage.
package startup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a check that does not set its own.
const DefaultTimeout = 5 * time.Second

// CheckFunc returns nil if the check passes.
type CheckFunc func(ctx context.Context) error

// Check is a single startup check.
type Check struct {
	Name     string
	Check    CheckFunc
	Critical bool // A failure prevents startup.
	Timeout  time.Duration
}

// Result holds the outcome of a single check.
type Result struct {
	Check    Check
	Error    error
	Duration time.Duration
}

// Run executes checks concurrently. Results keep the order of checks.
func Run(ctx context.Context, checks []Check) []Result {
	results := make([]Result, len(checks))

	var g errgroup.Group
	for i, p := range checks {
		g.Go(func() error {
			timeout := p.Timeout
			if timeout <= 0 {
				timeout = DefaultTimeout
			}
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := p.Check(pctx)
			results[i] = Result{Check: p, Error: err, Duration: time.Since(start)}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// AnalyzeResults logs every result and joins the errors of failed critical checks.
func AnalyzeResults(results []Result) error {
	var critical []error

	slog.Info("Startup checks summary")

	for _, r := range results {
		status := "PASS"
		if r.Error != nil {
			status = "FAIL"
		}
		msg := fmt.Sprintf("[%s] %-20s (%v)", status, r.Check.Name, r.Duration.Round(time.Millisecond))

		switch {
		case r.Error == nil:
			slog.Info(msg)
		case r.Check.Critical:
			slog.Error(msg, "error", r.Error)
			critical = append(critical, fmt.Errorf("%s: %w", r.Check.Name, r.Error))
		default:
			slog.Warn(msg, "error", r.Error)
		}
	}

	return errors.Join(critical...)
}

// Fetcher is the subset of request.Client used to reach remote sources.
type Fetcher interface {
	Get(ctx context.Context, u, cacheKey string) ([]byte, error)
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// TerrainSource checks that the terrain metadata is reachable without opening the source.
// It is never critical: an unreachable source only degrades rendering to the ellipsoid.
func TerrainSource(url string, f Fetcher) Check {
	return Check{
		Name: "Terrain source",
		Check: func(ctx context.Context) error {
			switch {
			case url == "":
				return errors.New("no terrain url configured")
			case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
				base := url
				if !strings.HasSuffix(base, "/") {
					base += "/"
				}
				_, err := f.Get(ctx, base+"layer.json", "")
				return err
			default:
				_, err := os.Stat(strings.TrimPrefix(url, "file://"))
				return err
			}
		},
		Timeout: 10 * time.Second,
	}
}

// Database checks the local store answers.
func Database(p Pinger) Check {
	return Check{
		Name:     "Database",
		Check:    p.PingContext,
		Critical: true,
	}
}

// Config wraps a validation function, usually (*config.Config).Validate.
func Config(validate func() error) Check {
	return Check{
		Name:     "Configuration",
		Check:    func(context.Context) error { return validate() },
		Critical: true,
	}
}
