package terrain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/uber/h3-go/v4"

	"globelod/pkg/cache"
	"globelod/pkg/geo"
	"globelod/pkg/request"
)

// maxPointsPerRequest bounds the query string of one heights call.
const maxPointsPerRequest = 256

// Fetcher is the subset of request.Client used by HTTPLoader.
type Fetcher interface {
	Get(ctx context.Context, u, cacheKey string) ([]byte, error)
}

// layerJSON is the metadata document served at {base}layer.json.
type layerJSON struct {
	Name    string    `json:"name"`
	Format  string    `json:"format"`
	Bounds  []float64 `json:"bounds"` // west, south, east, north
	MinZoom int       `json:"minzoom"`
	MaxZoom int       `json:"maxzoom"`
}

// heightsResponse carries one height per requested point. Null means the
// source has no data there.
type heightsResponse struct {
	Heights []*float64 `json:"heights"`
}

// ErrNoData reports a point the terrain source could not sample.
var ErrNoData = errors.New("terrain source has no data for point")

var supportedFormats = map[string]bool{
	"heightmap-1.0":      true,
	"quantized-mesh-1.0": true,
}

// HTTPLoader opens a remote terrain source by fetching its layer.json.
type HTTPLoader struct {
	Client Fetcher
	// Cache holds per-cell heights. It may be nil.
	Cache cache.Cacher
}

// Load implements Loader.
func (l *HTTPLoader) Load(ctx context.Context, rawURL string) (Handle, error) {
	base := rawURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid terrain url: %w", err)
	}

	body, err := l.Client.Get(ctx, base+"layer.json", "")
	if err != nil {
		return nil, classifyFetchError(err)
	}

	var meta layerJSON
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("decode layer.json: %w", err)
	}
	if meta.Format != "" && !supportedFormats[meta.Format] {
		return nil, fmt.Errorf("unsupported terrain format %q", meta.Format)
	}

	bound := geo.WorldBound
	if len(meta.Bounds) == 4 {
		bound = orb.Bound{
			Min: orb.Point{meta.Bounds[0], meta.Bounds[1]},
			Max: orb.Point{meta.Bounds[2], meta.Bounds[3]},
		}
	}
	if meta.MaxZoom < meta.MinZoom {
		return nil, fmt.Errorf("invalid zoom range %d..%d", meta.MinZoom, meta.MaxZoom)
	}

	name := meta.Name
	if name == "" {
		name = u.Host
	}
	slog.Debug("Terrain layer metadata", "name", name, "format", meta.Format, "maxzoom", meta.MaxZoom)

	return &httpHandle{
		client:   l.Client,
		cache:    l.Cache,
		base:     base,
		host:     u.Host,
		name:     name,
		coverage: bound,
		maxLevel: meta.MaxZoom,
	}, nil
}

// classifyFetchError marks resource exhaustion as unrecoverable.
func classifyFetchError(err error) error {
	if errors.Is(err, request.ErrTooLarge) {
		return fmt.Errorf("%w: %v", ErrUnrecoverable, err)
	}
	return err
}

type httpHandle struct {
	client   Fetcher
	cache    cache.Cacher
	base     string
	host     string
	name     string
	coverage orb.Bound
	maxLevel int
}

func (h *httpHandle) Name() string        { return h.name }
func (h *httpHandle) Local() bool         { return true }
func (h *httpHandle) Coverage() orb.Bound { return h.coverage }
func (h *httpHandle) MaxLevel() int       { return h.maxLevel }

// cellResolution maps a sampling level onto an H3 resolution.
func cellResolution(level int) int {
	switch {
	case level < 0:
		return 0
	case level > 15:
		return 15
	default:
		return level
	}
}

// Sample snaps each point to its H3 cell at the level's resolution and serves
// cell heights from the cache, fetching misses in batches.
func (h *httpHandle) Sample(ctx context.Context, level int, points []geo.Point) ([]float64, error) {
	if level > h.maxLevel {
		level = h.maxLevel
	}
	res := cellResolution(level)

	out := make([]float64, len(points))
	cellOf := make([]h3.Cell, len(points))
	known := make(map[h3.Cell]float64)
	var missing []h3.Cell

	for i, p := range points {
		cell, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lon), res)
		if err != nil {
			return nil, fmt.Errorf("cell for %v: %w", p, err)
		}
		cellOf[i] = cell
		if _, seen := known[cell]; seen {
			continue
		}
		if v, ok := h.cached(ctx, level, cell); ok {
			known[cell] = v
			continue
		}
		known[cell] = 0
		missing = append(missing, cell)
	}

	for start := 0; start < len(missing); start += maxPointsPerRequest {
		end := min(start+maxPointsPerRequest, len(missing))
		batch := missing[start:end]
		heights, err := h.fetch(ctx, level, batch)
		if err != nil {
			return nil, err
		}
		for i, cell := range batch {
			known[cell] = heights[i]
			h.store(ctx, level, cell, heights[i])
		}
	}

	for i, cell := range cellOf {
		out[i] = known[cell]
	}
	return out, nil
}

func (h *httpHandle) cacheKey(level int, cell h3.Cell) string {
	return fmt.Sprintf("terrain:%s:%d:%s", h.host, level, cell.String())
}

func (h *httpHandle) cached(ctx context.Context, level int, cell h3.Cell) (float64, bool) {
	if h.cache == nil {
		return 0, false
	}
	b, ok := h.cache.GetCache(ctx, h.cacheKey(level, cell))
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func (h *httpHandle) store(ctx context.Context, level int, cell h3.Cell, v float64) {
	if h.cache == nil {
		return
	}
	if err := h.cache.SetCache(ctx, h.cacheKey(level, cell), []byte(strconv.FormatFloat(v, 'f', -1, 64))); err != nil {
		slog.Debug("Failed to cache terrain sample", "error", err)
	}
}

func (h *httpHandle) fetch(ctx context.Context, level int, cells []h3.Cell) ([]float64, error) {
	var sb strings.Builder
	for i, cell := range cells {
		ll, err := cell.LatLng()
		if err != nil {
			return nil, fmt.Errorf("cell center: %w", err)
		}
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(strconv.FormatFloat(ll.Lng, 'f', 6, 64))
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatFloat(ll.Lat, 'f', 6, 64))
	}

	q := url.Values{}
	q.Set("level", strconv.Itoa(level))
	q.Set("points", sb.String())

	body, err := h.client.Get(ctx, h.base+"heights?"+q.Encode(), "")
	if err != nil {
		return nil, classifyFetchError(err)
	}

	var resp heightsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode heights: %w", err)
	}
	if len(resp.Heights) != len(cells) {
		return nil, fmt.Errorf("heights: got %d values for %d points", len(resp.Heights), len(cells))
	}
	out := make([]float64, len(cells))
	for i, v := range resp.Heights {
		if v == nil {
			return nil, fmt.Errorf("heights[%d]: %w", i, ErrNoData)
		}
		out[i] = *v
	}
	return out, nil
}
