// Package query answers "what is under the pointer" with a fast estimate and
// a debounced precise follow-up.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"globelod/pkg/geo"
	"globelod/pkg/loop"
	"globelod/pkg/metric"
	"globelod/pkg/ocean"
	"globelod/pkg/scene"
	"globelod/pkg/terrain"
)

// Outcome is how a pending precise query ended.
type Outcome int

const (
	// Applied means the precise result became the latest answer.
	Applied Outcome = iota
	// Superseded means a newer query replaced this one first.
	Superseded
)

func (o Outcome) String() string {
	if o == Superseded {
		return "superseded"
	}
	return "applied"
}

// Result is one answer for a screen point.
type Result struct {
	Token     uint64            `json:"token"`
	Screen    scene.ScreenPoint `json:"screen"`
	Position  geo.Point         `json:"position"`
	Elevation float64           `json:"elevation"`
	Surface   ocean.Surface     `json:"surface"`
	Sonar     ocean.Sonar       `json:"sonar"`
	Metrics   metric.Metrics    `json:"metrics"`
	Precise   bool              `json:"precise"`
	// Degraded marks a precise result that fell back to the fast elevation.
	Degraded bool   `json:"degraded"`
	Source   string `json:"source"`
	Level    int    `json:"level"`
}

// Pending is the precise follow-up of a query. It resolves exactly once on the control goroutine.
type Pending struct {
	token   uint64
	done    chan struct{}
	result  Result
	outcome Outcome
}

func newPending(token uint64) *Pending {
	return &Pending{token: token, done: make(chan struct{})}
}

// Token returns the query token captured at issue time.
func (p *Pending) Token() uint64 { return p.token }

// Done is closed when the query resolves.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result returns the final answer. Only valid after Done is closed.
func (p *Pending) Result() (Result, Outcome) { return p.result, p.outcome }

// Wait blocks until the query resolves or ctx ends.
func (p *Pending) Wait(ctx context.Context) (Result, Outcome, error) {
	select {
	case <-p.done:
		return p.result, p.outcome, nil
	case <-ctx.Done():
		return Result{}, Superseded, ctx.Err()
	}
}

func (p *Pending) resolve(r Result, o Outcome) {
	select {
	case <-p.done:
		return
	default:
	}
	p.result, p.outcome = r, o
	close(p.done)
}

// Provider is the terrain source the pipeline samples.
type Provider interface {
	Handle() (terrain.Handle, bool)
	Ellipsoid() terrain.Handle
	ReportUnrecoverableFault(detail string)
}

// LevelFunc returns the fixed query level of the active profile, if any.
type LevelFunc func() (int, bool)

// Sink receives applied precise results.
type Sink interface {
	QueryResult(Result)
}

// Options configures a Pipeline.
type Options struct {
	Debounce       time.Duration
	SampleTimeout  time.Duration
	OceanThreshold float64
}

// Pipeline is the position query pipeline. All methods run on the control goroutine.
type Pipeline struct {
	ctx       context.Context
	sched     loop.Scheduler
	scene     scene.Scene
	estimator *metric.Estimator
	provider  Provider
	level     LevelFunc
	opts      Options
	sinks     []Sink

	token   uint64
	timer   *loop.Deferred
	pending *Pending
	latest  Result
	hasLast bool
	samples int
}

// NewPipeline creates a Pipeline.
func NewPipeline(ctx context.Context, sched loop.Scheduler, s scene.Scene, est *metric.Estimator, provider Provider, level LevelFunc, opts Options) *Pipeline {
	if opts.SampleTimeout <= 0 {
		opts.SampleTimeout = 10 * time.Second
	}
	return &Pipeline{
		ctx:       ctx,
		sched:     sched,
		scene:     s,
		estimator: est,
		provider:  provider,
		level:     level,
		opts:      opts,
		timer:     loop.NewDeferred(sched),
	}
}

// AddSink registers a receiver for applied results.
func (p *Pipeline) AddSink(s Sink) {
	p.sinks = append(p.sinks, s)
}

// Token returns the live query token.
func (p *Pipeline) Token() uint64 { return p.token }

// Samples returns how many precise samples were issued.
func (p *Pipeline) Samples() int { return p.samples }

// Latest returns the last applied precise result.
func (p *Pipeline) Latest() (Result, bool) { return p.latest, p.hasLast }

// QueryAt returns the fast estimate for pt and the pending precise answer.
// ok is false when the pointer is over open sky.
func (p *Pipeline) QueryAt(pt scene.ScreenPoint) (Result, *Pending, bool) {
	p.token++
	token := p.token
	p.supersede()

	hit, ok := p.scene.Intersect(p.scene.PickRay(pt))
	if !ok {
		p.timer.Cancel()
		return Result{Token: token, Screen: pt}, nil, false
	}
	pos := geo.FromECEF(hit).Point

	elev, _ := p.scene.GlobeHeight(pos)
	fast := p.build(token, pt, pos, elev)

	pending := newPending(token)
	p.pending = pending
	p.timer.Schedule(p.opts.Debounce, func() { p.sample(pending, fast) })

	return fast, pending, true
}

// Cancel supersedes any outstanding query.
func (p *Pipeline) Cancel() {
	p.token++
	p.timer.Cancel()
	p.supersede()
}

func (p *Pipeline) supersede() {
	if p.pending != nil {
		p.pending.resolve(Result{Token: p.pending.token}, Superseded)
		p.pending = nil
	}
}

func (p *Pipeline) build(token uint64, pt scene.ScreenPoint, pos geo.Point, elev float64) Result {
	surface, sonar := ocean.Analyze(elev, p.opts.OceanThreshold)
	return Result{
		Token:     token,
		Screen:    pt,
		Position:  pos,
		Elevation: elev,
		Surface:   surface,
		Sonar:     sonar,
		Metrics:   p.estimator.Metrics(pt, pos.Lat),
	}
}

// choose picks the local handle when it covers pos, otherwise the ellipsoid.
func (p *Pipeline) choose(pos geo.Point) (terrain.Handle, int) {
	h, ok := p.provider.Handle()
	if !ok || !geo.Covers(h.Coverage(), pos) {
		h = p.provider.Ellipsoid()
	}
	level := h.MaxLevel()
	if p.level != nil {
		if fixed, ok := p.level(); ok && fixed >= 0 && fixed < level {
			level = fixed
		}
	}
	return h, level
}

func (p *Pipeline) sample(pending *Pending, fast Result) {
	if pending.token != p.token {
		pending.resolve(Result{Token: pending.token}, Superseded)
		return
	}

	handle, level := p.choose(fast.Position)
	p.samples++
	pos := fast.Position

	p.sched.Go(func() {
		ctx, cancel := context.WithTimeout(p.ctx, p.opts.SampleTimeout)
		defer cancel()
		heights, err := handle.Sample(ctx, level, []geo.Point{pos})
		if err == nil && len(heights) != 1 {
			err = errors.New("sampler returned no height")
		}
		var h float64
		if err == nil {
			h = heights[0]
			if math.IsNaN(h) || math.IsInf(h, 0) {
				err = fmt.Errorf("sampler returned non-finite height %v", h)
			}
		}
		p.sched.Post(func() { p.complete(pending, fast, handle, level, h, err) })
	})
}

func (p *Pipeline) complete(pending *Pending, fast Result, handle terrain.Handle, level int, h float64, err error) {
	if pending.token != p.token {
		slog.Debug("Discarding stale query result", "token", pending.token, "live", p.token)
		pending.resolve(Result{Token: pending.token}, Superseded)
		return
	}

	var res Result
	if err != nil {
		if errors.Is(err, terrain.ErrUnrecoverable) {
			p.provider.ReportUnrecoverableFault(err.Error())
		} else {
			slog.Debug("Precise query failed, using fast estimate", "error", err)
		}
		res = fast
		res.Degraded = true
	} else {
		res = p.build(fast.Token, fast.Screen, fast.Position, h)
	}
	res.Precise = true
	res.Source = handle.Name()
	res.Level = level

	p.latest, p.hasLast = res, true
	if p.pending == pending {
		p.pending = nil
	}
	for _, s := range p.sinks {
		s.QueryResult(res)
	}
	pending.resolve(res, Applied)
}
