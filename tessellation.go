package tess

import (
	"fmt"

	"golang.org/x/image/math/f64"

	"github.com/gogpu/tess/grid"
)

// sink is the renderer side of a tessellation context.
type sink interface {
	PushGeometry(h *GeomHolder)
	PushGrid(h *GridHolder)
	Options() *Options
	outputVars() grid.VarSet
}

// keyResult holds what one motion key produced.
type keyResult struct {
	geoms []Geometry
	grids []*grid.Grid
}

// contextStats counts commit outcomes of one context.
type contextStats struct {
	children  int64
	grids     int64
	discarded int64
}

// TessellationContext runs one tessellation pass on a GeomHolder and
// commits the results back to the renderer.
//
// While the primitive tessellates, the context only buffers what it is
// given. The results become visible in the commit, which runs under the
// holder's mutex: if another worker has expired the holder in the meantime,
// everything buffered is discarded.
//
// A context is reused across passes by one worker and is not safe for
// concurrent use.
type TessellationContext struct {
	r       sink
	holder  *GeomHolder
	payload *geomPayload
	key     int
	results []keyResult
	builder grid.StorageBuilder
	stats   contextStats
}

// NewTessellationContext creates a context committing into r.
func NewTessellationContext(r *Renderer) *TessellationContext {
	return newTessellationContext(r)
}

func newTessellationContext(s sink) *TessellationContext {
	return &TessellationContext{r: s}
}

// Tessellate splits or dices h and commits the result.
//
// It returns nil when the results were committed, when they were discarded
// because another worker committed first, and when h had already expired.
// An error means the branch failed and h was expired by this call so that
// nobody retries it.
func (c *TessellationContext) Tessellate(m f64.Mat4, h *GeomHolder) error {
	p := h.payload.Load()
	if p == nil {
		return nil
	}
	c.reset(h, p)
	defer c.clear()

	if err := p.first().Tessellate(m, c); err != nil {
		return c.fail(err)
	}
	return c.commit()
}

func (c *TessellationContext) reset(h *GeomHolder, p *geomPayload) {
	c.holder = h
	c.payload = p
	c.key = 0
	n := max(len(p.keys), 1)
	if cap(c.results) < n {
		c.results = make([]keyResult, n)
	}
	c.results = c.results[:n]
}

func (c *TessellationContext) clear() {
	for i := range c.results {
		c.results[i] = keyResult{}
	}
	c.holder = nil
	c.payload = nil
}

// InvokeTessellator implements TessContext.
func (c *TessellationContext) InvokeTessellator(ctrl TessControl) error {
	if c.payload.keys == nil {
		c.key = 0
		return ctrl.Tessellate(c.payload.geom, c)
	}
	defer func() { c.key = 0 }()
	for i, k := range c.payload.keys {
		c.key = i
		if err := ctrl.Tessellate(k.Geom, c); err != nil {
			return fmt.Errorf("motion key %d (t=%g): %w", i, k.Time, err)
		}
	}
	return nil
}

// PushGeometry implements TessContext.
func (c *TessellationContext) PushGeometry(g Geometry) {
	if g == nil {
		return
	}
	r := &c.results[c.key]
	r.geoms = append(r.geoms, g)
}

// PushGrid implements TessContext. It fills in the channels the primitive
// did not dice itself before buffering the grid.
func (c *TessellationContext) PushGrid(g *grid.Grid) {
	if g == nil {
		return
	}
	c.fillIn(g)
	r := &c.results[c.key]
	r.grids = append(r.grids, g)
}

// Options implements TessContext.
func (c *TessellationContext) Options() *Options { return c.r.Options() }

// Attributes implements TessContext.
func (c *TessellationContext) Attributes() *Attributes {
	if c.holder == nil {
		return DefaultAttributes()
	}
	return c.holder.attrs
}

// GridStorageBuilder implements TessContext.
//
// Position is always allocated. View direction and both normals are
// allocated when the shader reads them or they are output channels. Shader
// outputs are kept only when they are output channels. Surface colour and
// opacity are allocated as uniform channels when the shader reads them.
func (c *TessellationContext) GridStorageBuilder() *grid.StorageBuilder {
	b := &c.builder
	b.Clear()
	b.Add(grid.P, grid.Varying)

	aovs := c.r.outputVars()
	var in, out grid.VarSet
	if sh := c.Attributes().Shader; sh != nil {
		in, out = sh.InputVars(), sh.OutputVars()
	}
	need := in | aovs
	for _, v := range [...]grid.Var{grid.I, grid.Ng, grid.N} {
		if need.Contains(v) {
			b.Add(v, grid.Varying)
		}
	}
	for _, v := range out.Intersect(aovs).Vars() {
		b.Add(v, grid.Varying)
	}
	for _, v := range [...]grid.Var{grid.Cs, grid.Os} {
		if in.Contains(v) {
			b.Add(v, grid.Uniform)
		}
	}

	b.SetFromGeom()
	return b
}

// fillIn derives the standard channels of a freshly diced grid.
func (c *TessellationContext) fillIn(g *grid.Grid) {
	s := g.Storage()
	if s.Has(grid.Ng) && !s.DicedByGeom(grid.Ng) {
		g.CalculateNormals(grid.Ng, grid.P)
	}
	if s.Has(grid.N) && !s.DicedByGeom(grid.N) {
		if s.Has(grid.Ng) && s.Class(grid.Ng) == s.Class(grid.N) {
			s.Copy(grid.N, grid.Ng)
		} else {
			g.CalculateNormals(grid.N, grid.P)
		}
	}
	if s.Has(grid.I) && !s.DicedByGeom(grid.I) {
		// The camera sits at the origin looking down +z.
		if c.Options().Projection == ProjectionOrthographic {
			s.Fill(grid.I, [3]float32{0, 0, 1})
		} else {
			s.Copy(grid.I, grid.P)
		}
	}
	attrs := c.Attributes()
	if s.Has(grid.Cs) && !s.DicedByGeom(grid.Cs) {
		s.Fill(grid.Cs, attrs.Color)
	}
	if s.Has(grid.Os) && !s.DicedByGeom(grid.Os) {
		s.Fill(grid.Os, attrs.Opacity)
	}
}

// commit makes the buffered results visible, or discards them if the
// holder expired while it was tessellating.
func (c *TessellationContext) commit() error {
	h := c.holder
	h.mu.Lock()
	if h.Expired() {
		h.mu.Unlock()
		c.discard()
		c.stats.discarded++
		return nil
	}

	var grids []*GridHolder
	if !h.deforming {
		res := &c.results[0]
		for _, g := range res.geoms {
			c.r.PushGeometry(h.newChild(&geomPayload{geom: g}))
		}
		for _, g := range res.grids {
			gh := NewGridHolder(g, h.attrs)
			gh.splitCount = h.splitCount
			gh.source = h.bound
			grids = append(grids, gh)
		}
		c.stats.children += int64(len(res.geoms))
	} else {
		if err := c.checkKeys(); err != nil {
			h.releaseGeometry()
			h.mu.Unlock()
			c.discard()
			return err
		}
		keys := c.payload.keys
		for i := range c.results[0].geoms {
			gk := make([]GeometryKey, len(keys))
			for k := range keys {
				gk[k] = GeometryKey{Time: keys[k].Time, Geom: c.results[k].geoms[i]}
			}
			c.r.PushGeometry(h.newChild(&geomPayload{keys: gk}))
		}
		for i := range c.results[0].grids {
			gk := make([]GridKey, len(keys))
			for k := range keys {
				gk[k] = GridKey{Time: keys[k].Time, Grid: c.results[k].grids[i]}
			}
			gh := newDeformingGridHolder(gk, h.attrs, h.splitCount)
			gh.source = h.bound
			grids = append(grids, gh)
		}
		c.stats.children += int64(len(c.results[0].geoms))
	}
	h.releaseGeometry()
	h.mu.Unlock()

	c.stats.grids += int64(len(grids))
	for _, gh := range grids {
		c.r.PushGrid(gh)
	}
	return nil
}

// checkKeys verifies that every motion key produced as many pieces and
// grids as the first one.
func (c *TessellationContext) checkKeys() error {
	want := c.results[0]
	for k := 1; k < len(c.results); k++ {
		got := c.results[k]
		if len(got.geoms) != len(want.geoms) || len(got.grids) != len(want.grids) {
			return fmt.Errorf("%w: key 0 produced %d pieces and %d grids, key %d (t=%g) produced %d and %d",
				ErrInconsistentMotionKeys, len(want.geoms), len(want.grids),
				k, c.payload.keys[k].Time, len(got.geoms), len(got.grids))
		}
	}
	return nil
}

// fail abandons the branch: the holder is expired unless another worker
// already did, and nothing buffered is kept.
func (c *TessellationContext) fail(err error) error {
	c.discard()
	if !c.holder.expire() {
		c.stats.discarded++
		return nil
	}
	return err
}

// discard returns the buffers of every buffered grid to the pool.
func (c *TessellationContext) discard() {
	for i := range c.results {
		for _, g := range c.results[i].grids {
			g.Release()
		}
		c.results[i] = keyResult{}
	}
}
