package tess

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/math/f64"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gogpu/tess/geom"
	"github.com/gogpu/tess/grid"
	"github.com/gogpu/tess/internal/parallel"
	"github.com/gogpu/tess/splitstore"
)

// Rasterizer consumes shaded, projected grids. Rasterize is called from
// several workers at once and must be safe for concurrent use.
type Rasterizer interface {
	Rasterize(h *GridHolder) error
}

// Stats summarizes one render.
type Stats struct {
	// Buckets is the number of buckets rendered.
	Buckets int
	// Culled counts holders dropped outside the clip planes or the image.
	Culled int64
	// Splits counts child holders created by splitting.
	Splits int64
	// Grids counts diced grids handed to the rasterizer.
	Grids int64
	// Micropolygons counts micropolygons of those grids.
	Micropolygons int64
	// Discarded counts tessellations thrown away because another worker
	// committed the same holder first.
	Discarded int64
	// Failures lists the abandoned branches.
	Failures []*BranchError
	// Unfinished lists the buckets a cancelled render left pending, in
	// row-major order.
	Unfinished []image.Point
	// Duration is the wall time of the render.
	Duration time.Duration
}

// Renderer drives the split-or-dice loop over a split store of pending
// geometry.
//
// Geometry is submitted with Add or AddDeforming. Render then runs one job
// per bucket on a worker pool; each job pops its bucket in depth order and
// tessellates every holder that has not expired yet. Split pieces go back
// into the store through PushGeometry, diced grids go to the rasterizer
// through PushGrid.
//
// Thread safety: PushGeometry and PushGrid are safe for concurrent use.
// Render must not be called concurrently with itself.
type Renderer struct {
	opts        Options
	camToRaster f64.Mat4
	perspective bool
	store       *splitstore.Store[*GeomHolder]

	raster  Rasterizer
	outVars grid.VarSet
	workers int
	log     *slog.Logger

	done *parallel.Mask

	culled        atomic.Int64
	grids         atomic.Int64
	micropolygons atomic.Int64

	failMu   sync.Mutex
	failures []*BranchError
}

// NewRenderer creates a renderer for opts.
func NewRenderer(opts Options, options ...RendererOption) (*Renderer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	aovs, _ := opts.OutputVars()
	ro := rendererOptions{outVars: aovs, workers: opts.Workers}
	for _, o := range options {
		o(&ro)
	}
	if ro.logger == nil {
		ro.logger = Logger()
	}

	// Buckets are exactly BucketSize wide; the last row and column extend
	// past the image edge.
	nx, ny := opts.BucketCounts()
	extent := r2.Box{Max: r2.Vec{X: float64(nx * opts.BucketSize), Y: float64(ny * opts.BucketSize)}}
	store, err := splitstore.New[*GeomHolder](nx, ny, extent)
	if err != nil {
		return nil, fmt.Errorf("tess: create split store: %w", err)
	}

	m := opts.CameraToRaster()
	return &Renderer{
		opts:        opts,
		camToRaster: m,
		perspective: geom.IsPerspective(m),
		store:       store,
		raster:      ro.rasterizer,
		outVars:     ro.outVars,
		workers:     ro.workers,
		log:         ro.logger,
		done:        parallel.NewMask(nx * ny),
	}, nil
}

// Options returns the render options. The result must not be modified.
func (r *Renderer) Options() *Options { return &r.opts }

func (r *Renderer) outputVars() grid.VarSet { return r.outVars }

// CameraToRaster returns the projection used for raster bounds.
func (r *Renderer) CameraToRaster() f64.Mat4 { return r.camToRaster }

// Add submits a primitive without motion.
func (r *Renderer) Add(g Geometry, attrs *Attributes) error {
	h, err := NewGeomHolder(g, attrs)
	if err != nil {
		return err
	}
	r.PushGeometry(h)
	return nil
}

// AddDeforming submits the motion keys of a deforming primitive.
func (r *Renderer) AddDeforming(keys []GeometryKey, attrs *Attributes) error {
	h, err := NewDeformingGeomHolder(keys, attrs)
	if err != nil {
		return err
	}
	r.PushGeometry(h)
	return nil
}

// PushGeometry queues h in every bucket its raster bound overlaps. Holders
// beyond the clip planes or outside the image are dropped.
func (r *Renderer) PushGeometry(h *GeomHolder) {
	b := h.Bound()
	if geom.IsEmpty(b) || b.Max.Z < r.opts.ClipNear || b.Min.Z > r.opts.ClipFar {
		r.culled.Add(1)
		return
	}

	rb := r.rasterBound(b)
	h.setRasterBound(rb)
	if rb.Min.X > float64(r.opts.XRes) || rb.Min.Y > float64(r.opts.YRes) {
		// Only the padding of the last bucket row or column.
		r.culled.Add(1)
		return
	}

	n, err := r.store.Insert(rb, h)
	if err != nil {
		r.log.Debug("tess: dropping holder with unusable bound",
			"name", h.attrs.Name, "bound", rb, "err", err)
	}
	if n == 0 {
		r.culled.Add(1)
	}
}

// rasterBound projects a camera-space bound and grows it by half the
// filter width. Under perspective a bound reaching the eye plane cannot be
// projected and covers the whole image.
func (r *Renderer) rasterBound(b r3.Box) r3.Box {
	if r.perspective && b.Min.Z <= 0 {
		return r3.Box{
			Min: r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: r.opts.ClipNear},
			Max: r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: b.Max.Z},
		}
	}
	return geom.Expand(geom.TransformBound(r.camToRaster, b), r.opts.FilterWidth/2)
}

// PushGrid shades, projects and rasterizes h, then releases it.
func (r *Renderer) PushGrid(h *GridHolder) {
	defer h.Release()

	if err := h.Shade(); err != nil {
		r.fail(&BranchError{SplitCount: h.splitCount, Bound: h.source, Err: fmt.Errorf("shade: %w", err)})
		return
	}
	h.Project(r.camToRaster)
	r.grids.Add(1)
	r.micropolygons.Add(int64(h.Micropolygons()))

	if r.raster != nil {
		if err := r.raster.Rasterize(h); err != nil {
			r.fail(&BranchError{SplitCount: h.splitCount, Bound: h.source, Err: fmt.Errorf("rasterize: %w", err)})
			return
		}
	}
	h.SetRasterized()
}

// Render processes every bucket until the split store is drained. Branch
// failures do not stop the render; they are logged and listed in the
// returned Stats. Render only fails when ctx is cancelled before every
// bucket finished, in which case unfinished buckets keep their pending
// geometry and are listed in Stats.Unfinished.
func (r *Renderer) Render(ctx context.Context) (*Stats, error) {
	start := time.Now()
	log := r.log.With("render", uuid.NewString())

	r.done.Reset()
	nx, ny := r.store.NX(), r.store.NY()

	pool := parallel.NewPool(r.workers)
	defer pool.Close()
	log.Info("tess: render started",
		"xres", r.opts.XRes, "yres", r.opts.YRes,
		"buckets", nx*ny, "workers", pool.Workers())

	contexts := make([]*TessellationContext, pool.Workers())
	jobs := make([]parallel.Job, 0, nx*ny)
	for j := range ny {
		for i := range nx {
			jobs = append(jobs, func(worker int) {
				if contexts[worker] == nil {
					contexts[worker] = newTessellationContext(r)
				}
				if r.renderBucket(ctx, log, contexts[worker], i, j) {
					r.done.Set(j*nx + i)
				}
			})
		}
	}
	pool.RunAll(jobs)

	stats := r.collect(contexts)
	stats.Duration = time.Since(start)

	if err := ctx.Err(); err != nil && !r.done.Full() {
		r.done.ForEachMissing(func(idx int) {
			i, j := r.store.BucketCoords(idx)
			stats.Unfinished = append(stats.Unfinished, image.Pt(i, j))
			log.Debug("tess: bucket unfinished", "i", i, "j", j, "pending", r.store.Len(i, j))
		})
		log.Info("tess: render cancelled",
			"finished", stats.Buckets, "unfinished", len(stats.Unfinished), "err", err)
		return stats, err
	}
	if !r.store.Empty() {
		log.Warn("tess: geometry left in split store after render")
	}
	log.Info("tess: render finished",
		"grids", stats.Grids, "micropolygons", stats.Micropolygons,
		"splits", stats.Splits, "discarded", stats.Discarded,
		"failures", len(stats.Failures), "duration", stats.Duration)
	return stats, nil
}

// renderBucket drains bucket (i, j). It reports false if ctx was cancelled
// first.
func (r *Renderer) renderBucket(ctx context.Context, log *slog.Logger, tc *TessellationContext, i, j int) bool {
	popped := 0
	for {
		if ctx.Err() != nil {
			return false
		}
		h, ok := r.store.Pop(i, j)
		if !ok {
			break
		}
		popped++
		if h.Expired() {
			continue
		}
		if h.SplitCount() > r.opts.MaxSplits {
			if h.expire() {
				r.fail(&BranchError{SplitCount: h.SplitCount(), Bound: h.Bound(), Err: ErrSplitLimit})
			}
			continue
		}
		if err := tc.Tessellate(r.camToRaster, h); err != nil {
			r.fail(&BranchError{SplitCount: h.SplitCount(), Bound: h.Bound(), Err: err})
		}
	}
	log.Debug("tess: bucket done", "i", i, "j", j, "popped", popped)
	return true
}

func (r *Renderer) fail(e *BranchError) {
	r.failMu.Lock()
	r.failures = append(r.failures, e)
	r.failMu.Unlock()

	r.log.Warn("tess: branch abandoned",
		"split", e.SplitCount, "bound", e.Bound, "err", e.Err)
}

// collect gathers and resets the counters. Holders culled while being
// submitted count towards the next render.
func (r *Renderer) collect(contexts []*TessellationContext) *Stats {
	s := &Stats{
		Buckets:       r.done.Count(),
		Culled:        r.culled.Swap(0),
		Grids:         r.grids.Swap(0),
		Micropolygons: r.micropolygons.Swap(0),
	}
	for _, c := range contexts {
		if c == nil {
			continue
		}
		s.Splits += c.stats.children
		s.Discarded += c.stats.discarded
		c.stats = contextStats{}
	}
	r.failMu.Lock()
	s.Failures = r.failures
	r.failures = nil
	r.failMu.Unlock()
	return s
}

// Progress returns the fraction of buckets finished by the current or last
// render.
func (r *Renderer) Progress() float64 {
	return float64(r.done.Count()) / float64(r.done.Len())
}
