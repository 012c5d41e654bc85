package terrain

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/paulmach/orb"

	"globelod/pkg/geo"
)

const (
	// ETOPO1 grid, cell-registered. Used when FileLoader has no dimensions.
	etopo1Rows = 10801
	etopo1Cols = 21601
)

// GridHandle reads heights from a global little-endian int16 grid such as ETOPO1.
// Row 0 is latitude +90 and column 0 is longitude -180.
type GridHandle struct {
	mu   sync.Mutex
	file *os.File
	path string
	rows int
	cols int
}

// OpenGrid opens a global int16 grid with the given dimensions.
func OpenGrid(path string, rows, cols int) (*GridHandle, error) {
	if rows < 2 || cols < 2 {
		return nil, fmt.Errorf("invalid grid dimensions %dx%d", rows, cols)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	want := int64(rows) * int64(cols) * 2
	if info.Size() != want {
		f.Close()
		return nil, fmt.Errorf("invalid grid file size: expected %d, got %d", want, info.Size())
	}

	return &GridHandle{file: f, path: path, rows: rows, cols: cols}, nil
}

// Close closes the file handle.
func (g *GridHandle) Close() error {
	return g.file.Close()
}

func (g *GridHandle) Name() string        { return "grid:" + g.path }
func (g *GridHandle) Local() bool         { return true }
func (g *GridHandle) Coverage() orb.Bound { return geo.WorldBound }
func (g *GridHandle) MaxLevel() int       { return 0 }

// Sample returns nearest-cell heights. The grid has a single level.
func (g *GridHandle) Sample(ctx context.Context, level int, points []geo.Point) ([]float64, error) {
	out := make([]float64, len(points))
	for i, p := range points {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := g.Elevation(p.Lat, p.Lon)
		if err != nil {
			return nil, err
		}
		out[i] = float64(v)
	}
	return out, nil
}

// Elevation returns the elevation in meters at the given lat/lon.
func (g *GridHandle) Elevation(lat, lon float64) (int16, error) {
	if lat > 90 || lat < -90 || lon > 180 || lon < -180 || math.IsNaN(lat) || math.IsNaN(lon) {
		return 0, fmt.Errorf("coordinates out of bounds: %f, %f", lat, lon)
	}

	rowsPerDeg := float64(g.rows-1) / 180.0
	colsPerDeg := float64(g.cols-1) / 360.0
	row := int(math.Round((90.0 - lat) * rowsPerDeg))
	col := int(math.Round((lon + 180.0) * colsPerDeg))

	if row < 0 {
		row = 0
	}
	if row >= g.rows {
		row = g.rows - 1
	}
	if col < 0 {
		col = 0
	}
	if col >= g.cols {
		col %= g.cols
	}

	offset := int64(row*g.cols+col) * 2

	b := make([]byte, 2)
	g.mu.Lock()
	_, err := g.file.ReadAt(b, offset)
	g.mu.Unlock()
	if err != nil {
		return 0, err
	}

	return int16(binary.LittleEndian.Uint16(b)), nil
}

// FileLoader opens grid files addressed by plain paths or file:// URLs.
type FileLoader struct {
	Rows int
	Cols int
}

// Load implements Loader.
func (l FileLoader) Load(ctx context.Context, url string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimPrefix(url, "file://")
	rows, cols := l.Rows, l.Cols
	if rows == 0 || cols == 0 {
		rows, cols = etopo1Rows, etopo1Cols
	}
	h, err := OpenGrid(path, rows, cols)
	if err != nil {
		return nil, fmt.Errorf("open terrain grid: %w", err)
	}
	return h, nil
}
