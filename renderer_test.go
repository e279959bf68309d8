package tess

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/math/f64"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gogpu/tess/geom"
	"github.com/gogpu/tess/grid"
)

// countingRasterizer records every grid it receives.
type countingRasterizer struct {
	mu    sync.Mutex
	seen  map[*grid.Grid]int
	calls int
	err   error
}

func (c *countingRasterizer) Rasterize(h *GridHolder) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = make(map[*grid.Grid]int)
	}
	g := h.Grid()
	if h.IsDeforming() {
		g = h.GridKeys()[0].Grid
	}
	c.calls++
	c.seen[g]++
	if !g.Projected() {
		return errors.New("grid not projected")
	}
	return c.err
}

// quadGeom is a camera-facing square that splits into quadrants until its
// projected width is at most maxWidth pixels.
type quadGeom struct {
	bound    r3.Box
	maxWidth float64
}

func (q *quadGeom) Bound() r3.Box        { return q.bound }
func (q *quadGeom) Transform(m f64.Mat4) { q.bound = geom.TransformBound(m, q.bound) }

func (q *quadGeom) Tessellate(m f64.Mat4, ctx TessContext) error {
	rb := geom.TransformBound(m, q.bound)
	if rb.Max.X-rb.Min.X <= q.maxWidth {
		return diceBound(q.bound, ctx)
	}
	b := q.bound
	mx, my := (b.Min.X+b.Max.X)/2, (b.Min.Y+b.Max.Y)/2
	for _, c := range [4][4]float64{
		{b.Min.X, b.Min.Y, mx, my},
		{mx, b.Min.Y, b.Max.X, my},
		{b.Min.X, my, mx, b.Max.Y},
		{mx, my, b.Max.X, b.Max.Y},
	} {
		ctx.PushGeometry(&quadGeom{
			bound: r3.Box{
				Min: r3.Vec{X: c[0], Y: c[1], Z: b.Min.Z},
				Max: r3.Vec{X: c[2], Y: c[3], Z: b.Max.Z},
			},
			maxWidth: q.maxWidth,
		})
	}
	return nil
}

// neverShrinks splits into a copy of itself forever.
type neverShrinks struct{ bound r3.Box }

func (n *neverShrinks) Bound() r3.Box      { return n.bound }
func (n *neverShrinks) Transform(f64.Mat4) {}

func (n *neverShrinks) Tessellate(_ f64.Mat4, ctx TessContext) error {
	ctx.PushGeometry(&neverShrinks{bound: n.bound})
	return nil
}

func orthoOptions() Options {
	opts := DefaultOptions()
	opts.XRes, opts.YRes = 64, 64
	opts.BucketSize = 16
	opts.Projection = ProjectionOrthographic
	return opts
}

// fullSquare covers camera [-1,1]² which maps onto the whole 64×64 image.
func fullSquare(z float64) *quadGeom {
	return &quadGeom{
		bound:    r3.Box{Min: r3.Vec{X: -1, Y: -1, Z: z}, Max: r3.Vec{X: 1, Y: 1, Z: z}},
		maxWidth: 16,
	}
}

// =============================================================================
// End-to-end
// =============================================================================

func TestRender_SplitsUntilDiceable(t *testing.T) {
	for _, workers := range []int{1, 4, 16} {
		rast := &countingRasterizer{}
		r, err := NewRenderer(orthoOptions(), WithRasterizer(rast), WithWorkers(workers))
		require.NoError(t, err)
		require.NoError(t, r.Add(fullSquare(5), nil))

		stats, err := r.Render(context.Background())
		require.NoError(t, err)

		// 64px splits into 4 × 32px, then 16 × 16px which dice.
		assert.Equal(t, int64(20), stats.Splits, "workers=%d", workers)
		assert.Equal(t, int64(16), stats.Grids, "workers=%d", workers)
		assert.Equal(t, int64(16), stats.Micropolygons, "workers=%d", workers)
		assert.Equal(t, 16, rast.calls, "workers=%d", workers)
		for g, n := range rast.seen {
			assert.Equal(t, 1, n, "grid %p rasterized %d times", g, n)
		}
		assert.Empty(t, stats.Failures)
		assert.Equal(t, 16, stats.Buckets)
		assert.Equal(t, 1.0, r.Progress())
		assert.True(t, r.store.Empty())
	}
}

func TestRender_CullsOutsideClipAndImage(t *testing.T) {
	opts := orthoOptions()
	opts.ClipNear, opts.ClipFar = 1, 100
	r, err := NewRenderer(opts)
	require.NoError(t, err)

	require.NoError(t, r.Add(fullSquare(0.5), nil), "in front of near plane")
	require.NoError(t, r.Add(fullSquare(200), nil), "beyond far plane")
	offscreen := fullSquare(5)
	offscreen.Transform(geom.Translate(r3.Vec{X: 10}))
	require.NoError(t, r.Add(offscreen, nil))

	assert.True(t, r.store.Empty())

	stats, err := r.Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Culled)
	assert.Zero(t, stats.Grids)
}

func TestRender_SplitLimit(t *testing.T) {
	opts := orthoOptions()
	opts.MaxSplits = 5
	rast := &countingRasterizer{}
	r, err := NewRenderer(opts, WithRasterizer(rast), WithWorkers(2))
	require.NoError(t, err)

	bad := &neverShrinks{bound: r3.Box{Min: r3.Vec{X: -0.1, Y: -0.1, Z: 3}, Max: r3.Vec{X: 0.1, Y: 0.1, Z: 3}}}
	require.NoError(t, r.Add(bad, nil))
	require.NoError(t, r.Add(fullSquare(5), nil))

	stats, err := r.Render(context.Background())
	require.NoError(t, err, "a runaway branch must not abort the render")

	require.Len(t, stats.Failures, 1)
	f := stats.Failures[0]
	assert.ErrorIs(t, f, ErrSplitLimit)
	assert.Equal(t, 6, f.SplitCount)
	var be *BranchError
	assert.True(t, errors.As(error(f), &be))

	assert.Equal(t, int64(16), stats.Grids, "healthy geometry is still rendered")
}

func TestRender_TessellationFailureIsBranchLocal(t *testing.T) {
	boom := errors.New("boom")
	r, err := NewRenderer(orthoOptions(), WithWorkers(4))
	require.NoError(t, err)

	require.NoError(t, r.Add(&testGeom{bound: unitBound(2), err: boom}, nil))
	require.NoError(t, r.Add(fullSquare(5), nil))

	stats, err := r.Render(context.Background())
	require.NoError(t, err)
	require.Len(t, stats.Failures, 1, "the failing holder is reported once even though it spans many buckets")
	assert.ErrorIs(t, stats.Failures[0], boom)
	assert.Equal(t, int64(16), stats.Grids)
}

func TestRender_RasterizerFailure(t *testing.T) {
	rast := &countingRasterizer{err: errors.New("full")}
	r, err := NewRenderer(orthoOptions(), WithRasterizer(rast), WithWorkers(1))
	require.NoError(t, err)
	require.NoError(t, r.Add(fullSquare(5), nil))

	stats, err := r.Render(context.Background())
	require.NoError(t, err)
	assert.Len(t, stats.Failures, 16)
}

func TestRender_DeformingGeometry(t *testing.T) {
	rast := &countingRasterizer{}
	r, err := NewRenderer(orthoOptions(), WithRasterizer(rast))
	require.NoError(t, err)

	keys := deformingKeys(2, 3, false)
	require.NoError(t, r.AddDeforming(keys, nil))
	stats, err := r.Render(context.Background())
	require.NoError(t, err)

	// The parent splits into 3 deforming children which each dice once.
	assert.Equal(t, int64(3), stats.Splits)
	assert.Equal(t, int64(3), stats.Grids)
	assert.Equal(t, 3, rast.calls)
	assert.Empty(t, stats.Failures)
}

func TestRender_Cancelled(t *testing.T) {
	r, err := NewRenderer(orthoOptions())
	require.NoError(t, err)
	require.NoError(t, r.Add(fullSquare(5), nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := r.Render(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, stats.Buckets)
	assert.False(t, r.store.Empty(), "pending geometry stays queued")
	require.Len(t, stats.Unfinished, 16)
	assert.Equal(t, image.Pt(0, 0), stats.Unfinished[0])
	assert.Equal(t, image.Pt(1, 0), stats.Unfinished[1])
	assert.Equal(t, image.Pt(3, 3), stats.Unfinished[15])
}

// cancelledWhen reports cancellation once cond holds.
type cancelledWhen struct {
	context.Context
	cond func() bool
}

func (c cancelledWhen) Err() error {
	if c.cond() {
		return context.Canceled
	}
	return nil
}

func TestRender_CancelledAfterLastBucket(t *testing.T) {
	r, err := NewRenderer(orthoOptions(), WithWorkers(2))
	require.NoError(t, err)
	require.NoError(t, r.Add(fullSquare(5), nil))

	ctx := cancelledWhen{Context: context.Background(), cond: func() bool { return r.Progress() == 1 }}
	stats, err := r.Render(ctx)
	require.NoError(t, err, "every bucket finished before the cancel was seen")
	assert.Empty(t, stats.Unfinished)
	assert.Equal(t, int64(16), stats.Grids)
}

type failingShader struct{ err error }

func (s failingShader) InputVars() grid.VarSet  { return 0 }
func (s failingShader) OutputVars() grid.VarSet { return grid.NewVarSet(grid.Ci) }
func (s failingShader) Shade(*grid.Grid) error  { return s.err }

func TestRender_ShadeFailureReportsSourceBound(t *testing.T) {
	boom := errors.New("boom")
	r, err := NewRenderer(orthoOptions(), WithWorkers(1))
	require.NoError(t, err)
	require.NoError(t, r.Add(fullSquare(5), &Attributes{Shader: failingShader{err: boom}}))

	stats, err := r.Render(context.Background())
	require.NoError(t, err)
	require.Len(t, stats.Failures, 16)
	for _, f := range stats.Failures {
		assert.ErrorIs(t, f, boom)
		assert.False(t, geom.IsEmpty(f.Bound))
		assert.Equal(t, 5.0, f.Bound.Min.Z)
		assert.GreaterOrEqual(t, f.Bound.Min.X, -1.0, "camera space, not raster space")
		assert.LessOrEqual(t, f.Bound.Max.X, 1.0)
	}
}

func TestRender_DepthOrderPerBucket(t *testing.T) {
	var mu sync.Mutex
	var order []float64
	rec := rasterizerFunc(func(h *GridHolder) error {
		mu.Lock()
		order = append(order, h.Bound().Min.Z)
		mu.Unlock()
		return nil
	})

	opts := orthoOptions()
	opts.XRes, opts.YRes, opts.BucketSize = 16, 16, 16
	r, err := NewRenderer(opts, WithRasterizer(rec), WithWorkers(1))
	require.NoError(t, err)

	for _, z := range []float64{4, 3, 1, 2} {
		require.NoError(t, r.Add(&testGeom{bound: unitBound(z), dice: true}, nil))
	}
	_, err = r.Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, order)
}

func TestRenderer_PushGeometryRasterBound(t *testing.T) {
	opts := DefaultOptions()
	opts.FilterWidth = 2
	r, err := NewRenderer(opts)
	require.NoError(t, err)

	h := mustHolder(t, &testGeom{bound: unitBound(2)}, nil)
	r.PushGeometry(h)
	rb := h.RasterBound()
	want := geom.Expand(geom.TransformBound(r.CameraToRaster(), unitBound(2)), 1)
	assert.Equal(t, want, rb)

	// A bound reaching behind the eye covers the whole image.
	h2 := mustHolder(t, &testGeom{bound: unitBound(-0.5)}, nil)
	r.PushGeometry(h2)
	rb2 := h2.RasterBound()
	assert.Equal(t, opts.ClipNear, rb2.Min.Z)
	nx, ny := opts.BucketCounts()
	assert.Equal(t, 1, r.store.Len(0, 0), "whole-image bound reaches the corner buckets")
	assert.Equal(t, 1, r.store.Len(nx-1, ny-1))
}

func TestNewRenderer_BucketsAreBucketSize(t *testing.T) {
	opts := orthoOptions()
	opts.XRes, opts.YRes = 100, 40
	r, err := NewRenderer(opts)
	require.NoError(t, err)

	require.Equal(t, 7, r.store.NX())
	require.Equal(t, 3, r.store.NY())
	assert.Equal(t, r2.Box{Min: r2.Vec{X: 16}, Max: r2.Vec{X: 32, Y: 16}}, r.store.BucketBound(1, 0))
	assert.Equal(t, r2.Box{Min: r2.Vec{X: 96, Y: 32}, Max: r2.Vec{X: 112, Y: 48}}, r.store.BucketBound(6, 2),
		"the last bucket reaches past the image edge")

	// Right of the image but inside the last bucket column.
	h := mustHolder(t, &testGeom{bound: r3.Box{
		Min: r3.Vec{X: 2.6, Y: -0.5, Z: 2},
		Max: r3.Vec{X: 2.7, Y: 0.5, Z: 2},
	}}, nil)
	r.PushGeometry(h)
	assert.True(t, r.store.Empty())
	assert.Equal(t, int64(1), r.culled.Load())
}

type rasterizerFunc func(h *GridHolder) error

func (f rasterizerFunc) Rasterize(h *GridHolder) error { return f(h) }
