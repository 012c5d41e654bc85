// Package terrain manages the lifecycle of the high-resolution terrain source.
package terrain

import (
	"context"
	"errors"

	"github.com/paulmach/orb"

	"globelod/pkg/geo"
)

var (
	// ErrUnrecoverable marks a fault after which local terrain must never be used again.
	ErrUnrecoverable = errors.New("unrecoverable terrain fault")
	// ErrNoURL is returned when no terrain source is configured.
	ErrNoURL = errors.New("terrain url is empty")
)

// Handle is a loaded terrain source that can answer height queries.
type Handle interface {
	// Name identifies the source for logs and diagnostics.
	Name() string
	// Local reports whether this is the high-resolution source rather than the ellipsoid.
	Local() bool
	// Coverage is the geographic area with real data.
	Coverage() orb.Bound
	// MaxLevel is the most detailed sampling level.
	MaxLevel() int
	// Sample returns heights in meters for points at the given level.
	Sample(ctx context.Context, level int, points []geo.Point) ([]float64, error)
}

// Ellipsoid is the always-available fallback with zero height everywhere.
type Ellipsoid struct{}

func (Ellipsoid) Name() string        { return "ellipsoid" }
func (Ellipsoid) Local() bool         { return false }
func (Ellipsoid) Coverage() orb.Bound { return geo.WorldBound }
func (Ellipsoid) MaxLevel() int       { return 0 }

func (Ellipsoid) Sample(ctx context.Context, level int, points []geo.Point) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return make([]float64, len(points)), nil
}

// Loader opens a terrain source.
type Loader interface {
	Load(ctx context.Context, url string) (Handle, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, url string) (Handle, error)

func (f LoaderFunc) Load(ctx context.Context, url string) (Handle, error) { return f(ctx, url) }
