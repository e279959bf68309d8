// Package surfaces provides reference geometry for the tessellation core.
//
// Patch is a bilinear patch that splits in half until its projected size
// fits a grid, then dices into a quad grid at the configured shading rate.
// Its split-or-dice decision is made once on the first motion key and
// replayed on every key, so deforming patches stay consistent.
package surfaces

import (
	"errors"
	"math"

	"golang.org/x/image/math/f64"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gogpu/tess"
	"github.com/gogpu/tess/geom"
	"github.com/gogpu/tess/grid"
)

// ErrNotPatch is returned when a patch tessellation control is replayed on
// a motion key that is not a *Patch.
var ErrNotPatch = errors.New("surfaces: motion key is not a patch")

// Patch is a bilinear patch in camera space.
//
// Corners are ordered (u0,v0), (u1,v0), (u0,v1), (u1,v1).
type Patch struct {
	p    [4]r3.Vec
	n    [4]r3.Vec
	hasN bool

	// uv is the parametric range of the patch on the root primitive.
	uv r2.Box
}

// NewPatch creates a patch from four corners over the unit parametric range.
func NewPatch(p00, p10, p01, p11 r3.Vec) *Patch {
	return &Patch{
		p:  [4]r3.Vec{p00, p10, p01, p11},
		uv: r2.Box{Max: r2.Vec{X: 1, Y: 1}},
	}
}

// SetNormals attaches explicit per-corner shading normals. Grids diced from
// the patch carry them instead of normals derived from position.
func (p *Patch) SetNormals(n00, n10, n01, n11 r3.Vec) {
	p.n = [4]r3.Vec{n00, n10, n01, n11}
	p.hasN = true
}

// Corners returns the corner positions.
func (p *Patch) Corners() [4]r3.Vec { return p.p }

// UV returns the parametric range of the patch.
func (p *Patch) UV() r2.Box { return p.uv }

// Eval returns the position at local parameters (s, t) in [0,1]².
func (p *Patch) Eval(s, t float64) r3.Vec {
	return bilerp(p.p, s, t)
}

func bilerp(c [4]r3.Vec, s, t float64) r3.Vec {
	a := r3.Add(c[0], r3.Scale(s, r3.Sub(c[1], c[0])))
	b := r3.Add(c[2], r3.Scale(s, r3.Sub(c[3], c[2])))
	return r3.Add(a, r3.Scale(t, r3.Sub(b, a)))
}

// Bound implements tess.Geometry. A bilinear patch lies within the hull of
// its corners.
func (p *Patch) Bound() r3.Box {
	b := geom.NewBox(p.p[0], p.p[1])
	b = geom.Extend(b, p.p[2])
	return geom.Extend(b, p.p[3])
}

// Transform implements tess.Geometry.
func (p *Patch) Transform(m f64.Mat4) {
	for i := range p.p {
		p.p[i] = geom.TransformPoint(m, p.p[i])
	}
	if p.hasN {
		for i := range p.n {
			p.n[i] = r3.Unit(geom.TransformNormal(m, p.n[i]))
		}
	}
}

// Subdivide splits the patch at the parametric midpoint, along u if alongU
// or v otherwise.
func (p *Patch) Subdivide(alongU bool) (*Patch, *Patch) {
	a, b := *p, *p
	mid := r2.Scale(0.5, r2.Add(p.uv.Min, p.uv.Max))
	if alongU {
		a.p = [4]r3.Vec{p.p[0], bilerp(p.p, 0.5, 0), p.p[2], bilerp(p.p, 0.5, 1)}
		b.p = [4]r3.Vec{a.p[1], p.p[1], a.p[3], p.p[3]}
		a.n = [4]r3.Vec{p.n[0], mixN(p.n, 0.5, 0), p.n[2], mixN(p.n, 0.5, 1)}
		b.n = [4]r3.Vec{a.n[1], p.n[1], a.n[3], p.n[3]}
		a.uv.Max.X, b.uv.Min.X = mid.X, mid.X
	} else {
		a.p = [4]r3.Vec{p.p[0], p.p[1], bilerp(p.p, 0, 0.5), bilerp(p.p, 1, 0.5)}
		b.p = [4]r3.Vec{a.p[2], a.p[3], p.p[2], p.p[3]}
		a.n = [4]r3.Vec{p.n[0], p.n[1], mixN(p.n, 0, 0.5), mixN(p.n, 1, 0.5)}
		b.n = [4]r3.Vec{a.n[2], a.n[3], p.n[2], p.n[3]}
		a.uv.Max.Y, b.uv.Min.Y = mid.Y, mid.Y
	}
	return &a, &b
}

// mixN interpolates normals and renormalizes them. Zero normals stay zero.
func mixN(n [4]r3.Vec, s, t float64) r3.Vec {
	v := bilerp(n, s, t)
	if r3.Norm(v) == 0 {
		return v
	}
	return r3.Unit(v)
}

// Tessellate implements tess.Geometry.
func (p *Patch) Tessellate(m f64.Mat4, ctx tess.TessContext) error {
	opts := ctx.Options()
	near := math.Inf(-1)
	if geom.IsPerspective(m) {
		near = opts.ClipNear
		for _, c := range p.p {
			if c.Z <= 0 {
				// Corners behind the eye cannot be projected; split in
				// camera space until pieces clear the eye plane or cull.
				return ctx.InvokeTessellator(p.cameraSplit())
			}
		}
	}

	// Depths in front of the near plane are clamped to it. Their
	// projections grow without bound and the clipped part is never drawn.
	clamped := false
	lu, lv := p.edgeLengths(func(v r3.Vec) r3.Vec {
		if v.Z < near {
			v.Z = near
			clamped = true
		}
		r := geom.Project(m, v)
		return r3.Vec{X: r.X, Y: r.Y}
	})
	step := math.Sqrt(opts.ShadingRate)
	fu := max(math.Ceil(lu/step), 1)
	fv := max(math.Ceil(lv/step), 1)
	if fu*fv <= float64(opts.GridSize*opts.GridSize) {
		return ctx.InvokeTessellator(dicer{nu: int(fu), nv: int(fv)})
	}
	if clamped {
		return ctx.InvokeTessellator(p.cameraSplit())
	}
	return ctx.InvokeTessellator(splitter{alongU: lu >= lv})
}

// cameraSplit halves the patch along its longer camera-space edge.
func (p *Patch) cameraSplit() splitter {
	lu, lv := p.edgeLengths(func(v r3.Vec) r3.Vec { return v })
	return splitter{alongU: lu >= lv}
}

// edgeLengths returns the longer of the two u edges and of the two v edges
// after mapping the corners with proj.
func (p *Patch) edgeLengths(proj func(r3.Vec) r3.Vec) (lu, lv float64) {
	var q [4]r3.Vec
	for i, c := range p.p {
		q[i] = proj(c)
	}
	lu = max(r3.Norm(r3.Sub(q[1], q[0])), r3.Norm(r3.Sub(q[3], q[2])))
	lv = max(r3.Norm(r3.Sub(q[2], q[0])), r3.Norm(r3.Sub(q[3], q[1])))
	return lu, lv
}

// splitter halves every motion key the same way.
type splitter struct {
	alongU bool
}

func (s splitter) Tessellate(g tess.Geometry, ctx tess.TessContext) error {
	p, ok := g.(*Patch)
	if !ok {
		return ErrNotPatch
	}
	a, b := p.Subdivide(s.alongU)
	ctx.PushGeometry(a)
	ctx.PushGeometry(b)
	return nil
}

// dicer dices every motion key into an (nu+1)×(nv+1) vertex grid.
type dicer struct {
	nu, nv int
}

func (d dicer) Tessellate(g tess.Geometry, ctx tess.TessContext) error {
	p, ok := g.(*Patch)
	if !ok {
		return ErrNotPatch
	}

	b := ctx.GridStorageBuilder()
	if p.hasN {
		b.Add(grid.N, grid.Varying)
	}
	if sh := ctx.Attributes().Shader; sh != nil {
		in := sh.InputVars()
		if in.Contains(grid.U) {
			b.Add(grid.U, grid.Varying)
		}
		if in.Contains(grid.V) {
			b.Add(grid.V, grid.Varying)
		}
	}

	nu, nv := d.nu+1, d.nv+1
	s, err := b.Build(nu * nv)
	if err != nil {
		return err
	}
	gr, err := grid.NewQuadGrid(nu, nv, s)
	if err != nil {
		s.Release()
		return err
	}

	for iv := range nv {
		t := float64(iv) / float64(d.nv)
		for iu := range nu {
			u := float64(iu) / float64(d.nu)
			i := gr.Index(iu, iv)
			s.SetVec3(grid.P, i, vec32(bilerp(p.p, u, t)))
			if s.DicedByGeom(grid.N) {
				s.SetVec3(grid.N, i, vec32(mixN(p.n, u, t)))
			}
			if s.DicedByGeom(grid.U) {
				s.SetFloat(grid.U, i, float32(p.uv.Min.X+u*(p.uv.Max.X-p.uv.Min.X)))
			}
			if s.DicedByGeom(grid.V) {
				s.SetFloat(grid.V, i, float32(p.uv.Min.Y+t*(p.uv.Max.Y-p.uv.Min.Y)))
			}
		}
	}
	ctx.PushGrid(gr)
	return nil
}

func vec32(v r3.Vec) [3]float32 {
	return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
}
