package request

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"globelod/pkg/cache"
	"globelod/pkg/tracker"
	"globelod/pkg/version"
)

var (
	defaultUserAgent = fmt.Sprintf("globelod/%s (adaptive terrain viewer)", version.Version)

	// ErrTooLarge is returned when a response body exceeds MaxResponseBytes.
	ErrTooLarge = errors.New("response body too large")
)

// StatusError is returned for non-retryable HTTP error statuses.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error: status %d for %s", e.Code, e.URL)
}

// ClientConfig tunes retries, throttling and limits.
type ClientConfig struct {
	Timeout           time.Duration
	Retries           int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxResponseBytes  int64
	UserAgent         string
}

// DefaultClientConfig returns conservative defaults for tile servers.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:           30 * time.Second,
		Retries:           3,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		RequestsPerSecond: 10,
		Burst:             4,
		MaxResponseBytes:  64 << 20,
	}
}

// Client handles HTTP requests with queuing, caching, throttling and tracking.
type Client struct {
	httpClient *http.Client
	cache      cache.Cacher
	tracker    *tracker.Tracker
	backoff    *HostBackoff
	cfg        ClientConfig

	// Queues per provider (host group)
	queues   map[string]chan job
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
}

type job struct {
	req      *http.Request
	headers  map[string]string
	cacheKey string
	respChan chan jobResult
}

type jobResult struct {
	body []byte
	err  error
}

// New creates a new Client. Zero fields in cfg fall back to DefaultClientConfig.
func New(c cache.Cacher, t *tracker.Tracker, cfg ClientConfig) *Client {
	def := DefaultClientConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = def.Retries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = def.MaxResponseBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if t == nil {
		t = tracker.New()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      c,
		tracker:    t,
		backoff:    NewHostBackoff(cfg.BaseDelay, cfg.MaxDelay),
		cfg:        cfg,
		queues:     make(map[string]chan job),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Tracker returns the stats tracker.
func (c *Client) Tracker() *tracker.Tracker { return c.tracker }

// Get performs a GET request with queuing and caching if key is provided.
func (c *Client) Get(ctx context.Context, u, cacheKey string) ([]byte, error) {
	return c.GetWithHeaders(ctx, u, nil, cacheKey)
}

// GetWithHeaders performs a GET request with custom headers and optional caching.
func (c *Client) GetWithHeaders(ctx context.Context, u string, headers map[string]string, cacheKey string) ([]byte, error) {
	parsedURL, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	provider := normalizeProvider(parsedURL.Host)

	if cacheKey != "" && c.cache != nil {
		if val, hit := c.cache.GetCache(ctx, cacheKey); hit {
			c.tracker.TrackCacheHit(provider)
			slog.Debug("Cache Hit", "provider", provider, "key", cacheKey)
			return val, nil
		}
		c.tracker.TrackCacheMiss(provider)
		slog.Debug("Cache Miss", "provider", provider, "key", cacheKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	respChan := make(chan jobResult, 1)
	j := job{req: req, headers: headers, cacheKey: cacheKey, respChan: respChan}

	c.dispatch(provider, j)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-respChan:
		return res.body, res.err
	}
}

// normalizeProvider groups sharded hosts (a.tiles.example.com, t3.tiles.example.com)
// into one provider so they share a queue and rate limit.
func normalizeProvider(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)

	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return host
	}
	if isShardLabel(labels[0]) {
		return strings.Join(labels[1:], ".")
	}
	return host
}

func isShardLabel(l string) bool {
	if len(l) == 1 && l[0] >= 'a' && l[0] <= 'z' {
		return true
	}
	if len(l) >= 2 && (l[0] == 't' || l[0] == 's') {
		for _, r := range l[1:] {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	}
	return false
}

func (c *Client) dispatch(provider string, j job) {
	c.mu.Lock()
	q, ok := c.queues[provider]
	if !ok {
		q = make(chan job, 100)
		c.queues[provider] = q
		c.limiters[provider] = c.newLimiter()
		go c.worker(provider, q, c.limiters[provider])
	}
	c.mu.Unlock()

	// Blocks if the queue is full, throttling the caller
	select {
	case q <- j:
	case <-j.req.Context().Done():
		j.respChan <- jobResult{err: j.req.Context().Err()}
	}
}

func (c *Client) newLimiter() *rate.Limiter {
	if c.cfg.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, c.cfg.Burst)
	}
	return rate.NewLimiter(rate.Limit(c.cfg.RequestsPerSecond), c.cfg.Burst)
}

// worker processes requests for a specific provider sequentially.
func (c *Client) worker(provider string, q <-chan job, limiter *rate.Limiter) {
	for j := range q {
		ctx := j.req.Context()
		if ctx.Err() != nil {
			slog.Warn("Job dropped from queue (context expired)", "provider", provider, "error", ctx.Err())
			j.respChan <- jobResult{err: ctx.Err()}
			continue
		}

		if waited, err := c.backoff.Wait(ctx, provider); err != nil {
			j.respChan <- jobResult{err: err}
			continue
		} else if waited {
			c.tracker.TrackThrottled(provider)
		}
		if r := limiter.Reserve(); r.OK() {
			if d := r.Delay(); d > 0 {
				c.tracker.TrackThrottled(provider)
				select {
				case <-time.After(d):
				case <-ctx.Done():
					r.Cancel()
					j.respChan <- jobResult{err: ctx.Err()}
					continue
				}
			}
		}

		uaMatch := false
		for k, v := range j.headers {
			j.req.Header.Set(k, v)
			if http.CanonicalHeaderKey(k) == "User-Agent" {
				uaMatch = true
			}
		}
		if !uaMatch {
			j.req.Header.Set("User-Agent", c.cfg.UserAgent)
		}

		body, err := c.executeWithBackoff(j.req)

		if err == nil {
			c.tracker.TrackAPISuccess(provider)
			c.backoff.Recover(provider)
			if j.cacheKey != "" && c.cache != nil {
				if err := c.cache.SetCache(context.Background(), j.cacheKey, body); err != nil {
					slog.Error("Failed to cache response", "url", j.req.URL, "error", err)
				}
			}
		} else {
			c.tracker.TrackAPIFailure(provider)
			var se *StatusError
			if !errors.As(err, &se) && !errors.Is(err, ErrTooLarge) && ctx.Err() == nil {
				c.backoff.Fail(provider)
			}
		}

		j.respChan <- jobResult{body: body, err: err}
	}
}

// executeWithBackoff attempts the request with exponential backoff on retryable errors.
func (c *Client) executeWithBackoff(req *http.Request) ([]byte, error) {
	maxAttempts := c.cfg.Retries
	baseDelay := c.cfg.BaseDelay
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}

		slog.Debug("Network Request", "host", req.URL.Host, "path", req.URL.Path, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)

		if err != nil {
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}
			lastErr = err
			slog.Warn("Request failed, retrying", "url", req.URL, "attempt", attempt+1, "error", err)
			if !sleepCtx(req.Context(), backoffDelay(baseDelay, attempt)) {
				return nil, req.Context().Err()
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode < 600) {
			resp.Body.Close()
			lastErr = fmt.Errorf("retryable status %d", resp.StatusCode)
			slog.Warn("API Backoff", "status", resp.StatusCode, "url", req.URL, "attempt", attempt+1)
			if !sleepCtx(req.Context(), backoffDelay(baseDelay, attempt)) {
				return nil, req.Context().Err()
			}
			continue
		}

		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, &StatusError{Code: resp.StatusCode, URL: req.URL.String()}
		}

		body, err := readLimited(resp.Body, c.cfg.MaxResponseBytes)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return body, nil
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * base
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
