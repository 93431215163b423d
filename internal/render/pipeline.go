package render

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"magellan/internal/logging"
	"magellan/internal/overlay"
)

// DefaultRefinementDivisor sets the first surface pass to one tenth of the
// larger viewport side, in full-resolution pixels per point.
const DefaultRefinementDivisor = 10

// Options configures a Pipeline.
type Options struct {
	RefinementDivisor float64
	// Metrics may be nil.
	Metrics *Metrics
}

type runningJob struct {
	job    *Job
	cancel context.CancelFunc
}

// Pipeline runs overlay jobs on one worker goroutine. At most one job runs at
// a time and at most one waits; a newer request replaces the waiting one.
type Pipeline struct {
	sink    Sink
	divisor float64
	metrics *Metrics

	mu      sync.Mutex
	pending *Job
	running *runningJob
	busy    bool
	idle    chan struct{}
	nextID  uint64

	needsUpdate atomic.Bool
	seq         atomic.Uint64

	wake    chan struct{}
	ctx     context.Context
	stop    context.CancelFunc
	stopped chan struct{}
}

// New starts a pipeline publishing to sink.
func New(sink Sink, opts Options) *Pipeline {
	if opts.RefinementDivisor <= 0 {
		opts.RefinementDivisor = DefaultRefinementDivisor
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	ctx, stop := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	p := &Pipeline{
		sink:    sink,
		divisor: opts.RefinementDivisor,
		metrics: opts.Metrics,
		idle:    idle,
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		stop:    stop,
		stopped: make(chan struct{}),
	}
	go p.run()
	return p
}

// Submit queues a render of snap. If a running job is made obsolete by this one
// (surfaceChanged, or a different mode or view), it is cancelled and will not
// publish again. It returns the job ID.
func (p *Pipeline) Submit(snap Snapshot, surfaceChanged bool) uint64 {
	p.mu.Lock()
	p.nextID++
	job := &Job{ID: p.nextID, Snapshot: snap.clone(), SurfaceChanged: surfaceChanged}
	if p.pending != nil {
		p.metrics.JobsCoalesced.Inc()
	}
	p.pending = job
	if r := p.running; r != nil && job.supersedes(r.job.Snapshot.Mode, r.job.Snapshot.View) {
		r.cancel()
		p.needsUpdate.Store(true)
	}
	if !p.busy {
		p.busy = true
		p.idle = make(chan struct{})
	}
	p.mu.Unlock()

	p.metrics.JobsSubmitted.Inc()
	logging.Logger().Debug("overlay job submitted", "job", job.ID, "mode", snap.Mode, "surfaceChanged", surfaceChanged)

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return job.ID
}

// NeedsUpdate reports whether a running job has been superseded and not yet
// replaced by a fresh one.
func (p *Pipeline) NeedsUpdate() bool {
	return p.needsUpdate.Load()
}

// WaitIdle blocks until no job is running or pending.
func (p *Pipeline) WaitIdle(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels any running job and stops the worker.
func (p *Pipeline) Close() {
	p.stop()
	<-p.stopped
	p.mu.Lock()
	if p.busy {
		p.busy = false
		close(p.idle)
	}
	p.mu.Unlock()
}

func (p *Pipeline) run() {
	defer close(p.stopped)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.wake:
		}
		for p.next() {
		}
	}
}

// next runs the pending job, if any, and reports whether one ran.
func (p *Pipeline) next() bool {
	p.mu.Lock()
	job := p.pending
	p.pending = nil
	if job == nil || p.ctx.Err() != nil {
		if p.busy {
			p.busy = false
			close(p.idle)
		}
		p.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(p.ctx)
	p.running = &runningJob{job: job, cancel: cancel}
	p.needsUpdate.Store(false)
	p.mu.Unlock()

	p.execute(ctx, job)

	cancel()
	p.mu.Lock()
	p.running = nil
	p.mu.Unlock()
	return true
}

func (p *Pipeline) execute(ctx context.Context, job *Job) {
	mode := job.Snapshot.Mode.String()
	start := time.Now()
	defer func() {
		p.metrics.JobDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}()

	var err error
	if job.Snapshot.Mode.Expensive() {
		err = p.refine(ctx, job)
	} else {
		err = p.single(ctx, job)
	}
	if err != nil {
		p.metrics.JobsCancelled.WithLabelValues(mode).Inc()
		logging.Logger().Debug("overlay job cancelled", "job", job.ID, "mode", mode)
		return
	}
	p.metrics.JobsCompleted.WithLabelValues(mode).Inc()
}

// interrupted reports whether the current job must stop.
func (p *Pipeline) interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.needsUpdate.Load() {
		return context.Canceled
	}
	return nil
}

// publish hands o to the sink unless the job was interrupted.
func (p *Pipeline) publish(ctx context.Context, o *overlay.Overlay) error {
	if err := p.interrupted(ctx); err != nil {
		return err
	}
	o.Seq = p.seq.Add(1)
	p.metrics.OverlaysPublished.WithLabelValues(o.Mode.String()).Inc()
	p.sink.Publish(o)
	return nil
}

// single draws cheap modes in one pass.
func (p *Pipeline) single(ctx context.Context, job *Job) error {
	o, err := newBuilder(job.Snapshot).base(ctx)
	if err != nil {
		return err
	}
	o.Final = true
	return p.publish(ctx, o)
}

// refine publishes the surface base overlay, then one overlay per refinement
// pass at halving densities down to the oracle's minimum. Each pass keeps the
// cells of the coarser passes that its own cells do not wholly cover.
func (p *Pipeline) refine(ctx context.Context, job *Job) error {
	snap := job.Snapshot
	b := newBuilder(snap)
	base, err := b.base(ctx)
	if err != nil {
		return err
	}
	if snap.Surface == nil || len(snap.Surface.ConvexHull()) < 3 {
		base.Final = true
		return p.publish(ctx, base)
	}
	if err := p.publish(ctx, base.Clone()); err != nil {
		return err
	}

	var cells []overlay.Primitive
	prevStep := math.NaN()
	for _, ppp := range p.passes(snap) {
		if err := p.interrupted(ctx); err != nil {
			return err
		}
		if err := snap.Surface.WaitForDensity(ctx, ppp); err != nil {
			return err
		}
		if err := p.interrupted(ctx); err != nil {
			return err
		}

		passCells, err := b.surfaceCells(ctx, ppp)
		if err != nil {
			return err
		}
		footprint, err := b.footprint(ctx)
		if err != nil {
			return err
		}
		if step := b.cellStep(ppp); step == prevStep {
			// same cell size as the coarser pass: replace rather than stack
			cells = passCells
		} else {
			cells = append(uncovered(cells, passCells, step), passCells...)
			prevStep = step
		}

		o := b.newOverlay()
		o.PixelsPerPoint = ppp
		o.Add(cells...)
		o.Add(footprint...)
		o.Add(base.Primitives...)
		o.Final = ppp <= snap.Surface.MinDensity()
		if err := p.publish(ctx, o); err != nil {
			return err
		}
		p.metrics.RefinementPasses.Inc()
		logging.Logger().Debug("surface pass published", "job", job.ID, "pixelsPerPoint", ppp, "primitives", o.Len())
	}
	return nil
}

// uncovered returns the coarse cells that the fine cells, laid on a lattice of
// the given step, leave at least partly bare. Coarse cells overhanging the fine
// lattice count only the part inside it.
func uncovered(coarse, fine []overlay.Primitive, step float64) []overlay.Primitive {
	if len(fine) == 0 || len(coarse) == 0 {
		return coarse
	}
	type cell struct{ i, j int }
	ref := fine[0].Points[0]
	covered := make(map[cell]struct{}, len(fine))
	lo := cell{math.MaxInt, math.MaxInt}
	hi := cell{math.MinInt, math.MinInt}
	for _, f := range fine {
		c := cell{
			i: int(math.Round((f.Points[0].X - ref.X) / step)),
			j: int(math.Round((f.Points[0].Y - ref.Y) / step)),
		}
		covered[c] = struct{}{}
		lo = cell{min(lo.i, c.i), min(lo.j, c.j)}
		hi = cell{max(hi.i, c.i), max(hi.j, c.j)}
	}

	const eps = 1e-6
	out := make([]overlay.Primitive, 0, len(coarse))
	for _, p := range coarse {
		a, b := p.Points[0], p.Points[1]
		i0 := max(int(math.Floor((a.X-ref.X)/step+eps)), lo.i)
		i1 := min(int(math.Ceil((b.X-ref.X)/step-eps))-1, hi.i)
		j0 := max(int(math.Floor((a.Y-ref.Y)/step+eps)), lo.j)
		j1 := min(int(math.Ceil((b.Y-ref.Y)/step-eps))-1, hi.j)
		hidden := i0 <= i1 && j0 <= j1
		for j := j0; hidden && j <= j1; j++ {
			for i := i0; i <= i1; i++ {
				if _, ok := covered[cell{i, j}]; !ok {
					hidden = false
					break
				}
			}
		}
		if !hidden {
			out = append(out, p)
		}
	}
	return out
}

// passes lists the densities of the refinement passes: the viewport's larger
// side in full-resolution pixels over the divisor, halved until the oracle's
// minimum, which is always the last pass.
func (p *Pipeline) passes(snap Snapshot) []float64 {
	minD := snap.Surface.MinDensity()
	side := max(snap.View.Width, snap.View.Height) << snap.View.Level
	var out []float64
	for d := float64(side) / p.divisor; d > minD; d /= 2 {
		out = append(out, d)
	}
	return append(out, minD)
}
