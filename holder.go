package tess

import (
	"sync"
	"sync/atomic"

	"golang.org/x/image/math/f64"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gogpu/tess/geom"
	"github.com/gogpu/tess/grid"
)

// geomPayload is what a GeomHolder owns: exactly one of geom or keys.
type geomPayload struct {
	geom Geometry
	keys []GeometryKey
}

// first returns the geometry the split-or-dice decision is made on.
func (p *geomPayload) first() Geometry {
	if p.keys != nil {
		return p.keys[0].Geom
	}
	return p.geom
}

// GeomHolder owns a pending primitive, or the motion keys of a deforming
// one, together with its split generation and attributes.
//
// The holder is queued in every bucket its raster bound overlaps, so
// several workers may see it. It expires exactly once, when the first
// tessellation of it commits; the payload is released at that point.
//
// The payload sits behind an atomic pointer. A tessellating worker loads it
// once and works on that snapshot, and release only clears the pointer, so
// a release never frees memory under a reader: the primitive is reclaimed
// by the garbage collector after the last snapshot is dropped.
type GeomHolder struct {
	mu sync.Mutex

	payload    atomic.Pointer[geomPayload]
	expired    atomic.Bool
	deforming  bool
	splitCount int
	attrs      *Attributes

	// bound is the camera-space union of all key bounds.
	bound r3.Box

	// rasterBound is guarded by mu.
	rasterBound r3.Box
}

// NewGeomHolder wraps a primitive without motion. nil attrs are replaced
// by DefaultAttributes.
func NewGeomHolder(g Geometry, attrs *Attributes) (*GeomHolder, error) {
	if g == nil {
		return nil, ErrNilGeometry
	}
	return newGeomHolder(&geomPayload{geom: g}, 0, attrs), nil
}

// NewDeformingGeomHolder wraps the motion keys of a deforming primitive.
// Keys must be in increasing time order.
func NewDeformingGeomHolder(keys []GeometryKey, attrs *Attributes) (*GeomHolder, error) {
	if len(keys) == 0 {
		return nil, ErrNoMotionKeys
	}
	for _, k := range keys {
		if k.Geom == nil {
			return nil, ErrNilGeometry
		}
	}
	return newGeomHolder(&geomPayload{keys: append([]GeometryKey(nil), keys...)}, 0, attrs), nil
}

func newGeomHolder(p *geomPayload, splitCount int, attrs *Attributes) *GeomHolder {
	if attrs == nil {
		attrs = DefaultAttributes()
	}
	h := &GeomHolder{
		deforming:   p.keys != nil,
		splitCount:  splitCount,
		attrs:       attrs,
		rasterBound: geom.EmptyBox(),
	}
	h.bound = payloadBound(p)
	h.payload.Store(p)
	return h
}

// newChild wraps a piece produced by tessellating h.
func (h *GeomHolder) newChild(p *geomPayload) *GeomHolder {
	return newGeomHolder(p, h.splitCount+1, h.attrs)
}

func payloadBound(p *geomPayload) r3.Box {
	if p.keys == nil {
		return p.geom.Bound()
	}
	b := geom.EmptyBox()
	for _, k := range p.keys {
		b = geom.Union(b, k.Geom.Bound())
	}
	return b
}

// Geom returns the primitive, or nil if the holder is deforming or expired.
func (h *GeomHolder) Geom() Geometry {
	if p := h.payload.Load(); p != nil {
		return p.geom
	}
	return nil
}

// GeomKeys returns the motion keys, or nil if the holder is not deforming
// or expired. The slice must not be modified.
func (h *GeomHolder) GeomKeys() []GeometryKey {
	if p := h.payload.Load(); p != nil {
		return p.keys
	}
	return nil
}

// IsDeforming reports whether the holder carries motion keys.
func (h *GeomHolder) IsDeforming() bool { return h.deforming }

// SplitCount returns the number of splits between the submitted primitive
// and this one.
func (h *GeomHolder) SplitCount() int { return h.splitCount }

// Bound returns the camera-space bound.
func (h *GeomHolder) Bound() r3.Box { return h.bound }

// RasterBound returns the raster-space bound the holder was queued with.
func (h *GeomHolder) RasterBound() r3.Box {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rasterBound
}

func (h *GeomHolder) setRasterBound(b r3.Box) {
	h.mu.Lock()
	h.rasterBound = b
	h.mu.Unlock()
}

// Attributes returns the shared attributes.
func (h *GeomHolder) Attributes() *Attributes { return h.attrs }

// Expired reports whether the holder has been tessellated or abandoned.
func (h *GeomHolder) Expired() bool { return h.expired.Load() }

// releaseGeometry expires the holder and drops its payload. It reports
// whether this call did so. The caller must hold h.mu.
func (h *GeomHolder) releaseGeometry() bool {
	if h.expired.Load() {
		return false
	}
	h.expired.Store(true)
	h.payload.Store(nil)
	return true
}

// expire takes the holder mutex and releases the payload.
func (h *GeomHolder) expire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.releaseGeometry()
}

// GridHolder owns a diced grid, or the motion keys of a deforming grid, on
// its way through shading and rasterization.
type GridHolder struct {
	grid       *grid.Grid
	keys       []GridKey
	attrs      *Attributes
	splitCount int

	// source is the camera-space bound of the primitive the grid was
	// diced from.
	source r3.Box

	bound      r3.Box
	rasterized atomic.Bool
}

// NewGridHolder wraps a grid without motion. nil attrs are replaced by
// DefaultAttributes.
func NewGridHolder(g *grid.Grid, attrs *Attributes) *GridHolder {
	if attrs == nil {
		attrs = DefaultAttributes()
	}
	return &GridHolder{grid: g, attrs: attrs, source: geom.EmptyBox(), bound: geom.EmptyBox()}
}

// NewDeformingGridHolder wraps the motion keys of a deforming grid. keys
// must not be empty and every key must have the same dimensions.
func NewDeformingGridHolder(keys []GridKey, attrs *Attributes) *GridHolder {
	if attrs == nil {
		attrs = DefaultAttributes()
	}
	return newDeformingGridHolder(append([]GridKey(nil), keys...), attrs, 0)
}

func newDeformingGridHolder(keys []GridKey, attrs *Attributes, splitCount int) *GridHolder {
	return &GridHolder{keys: keys, attrs: attrs, splitCount: splitCount, source: geom.EmptyBox(), bound: geom.EmptyBox()}
}

// Grid returns the grid, or nil if the holder is deforming.
func (h *GridHolder) Grid() *grid.Grid { return h.grid }

// GridKeys returns the motion keys, or nil if the holder is not deforming.
func (h *GridHolder) GridKeys() []GridKey { return h.keys }

// IsDeforming reports whether the holder carries motion keys.
func (h *GridHolder) IsDeforming() bool { return h.keys != nil }

// Attributes returns the shared attributes.
func (h *GridHolder) Attributes() *Attributes { return h.attrs }

// SplitCount returns the generation of the primitive that was diced.
func (h *GridHolder) SplitCount() int { return h.splitCount }

// Micropolygons returns the number of micropolygons of one key.
func (h *GridHolder) Micropolygons() int {
	if g := h.firstGrid(); g != nil {
		return g.Micropolygons()
	}
	return 0
}

func (h *GridHolder) firstGrid() *grid.Grid {
	if h.keys != nil {
		return h.keys[0].Grid
	}
	return h.grid
}

func (h *GridHolder) forEach(fn func(g *grid.Grid) error) error {
	if h.keys == nil {
		if h.grid == nil {
			return nil
		}
		return fn(h.grid)
	}
	for _, k := range h.keys {
		if err := fn(k.Grid); err != nil {
			return err
		}
	}
	return nil
}

// Shade runs the surface shader on every key.
func (h *GridHolder) Shade() error {
	sh := h.attrs.Shader
	if sh == nil {
		return nil
	}
	return h.forEach(sh.Shade)
}

// Project computes raster positions of every key and the union of their
// raster bounds.
func (h *GridHolder) Project(camToRaster f64.Mat4) {
	b := geom.EmptyBox()
	_ = h.forEach(func(g *grid.Grid) error {
		g.Project(camToRaster)
		b = geom.Union(b, g.Bound())
		return nil
	})
	h.bound = b
}

// Bound returns the raster-space bound computed by Project.
func (h *GridHolder) Bound() r3.Box { return h.bound }

// SourceBound returns the camera-space bound of the primitive the grid was
// diced from, or an empty box for grids built outside a render.
func (h *GridHolder) SourceBound() r3.Box { return h.source }

// SetRasterized marks the holder as rasterized.
func (h *GridHolder) SetRasterized() { h.rasterized.Store(true) }

// Rasterized reports whether the holder has been rasterized.
func (h *GridHolder) Rasterized() bool { return h.rasterized.Load() }

// Release returns the channel buffers of every key to the pool.
func (h *GridHolder) Release() {
	_ = h.forEach(func(g *grid.Grid) error {
		g.Release()
		return nil
	})
}
