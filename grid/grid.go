package grid

import (
	"fmt"

	"github.com/chewxy/math32"
	"golang.org/x/image/math/f64"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gogpu/tess/geom"
)

// Grid is a regular nu×nv array of shading points produced by dicing one
// piece of geometry. Vertex (iu, iv) is stored at index iv*nu + iu.
//
// Position is in camera space until Project fills the raster positions.
type Grid struct {
	nu, nv int
	stor   *Storage

	// raster holds projected x, y, depth triples after Project.
	raster []float32
	bound  r3.Box
}

// NewQuadGrid wraps storage built for nu*nv vertices into a grid.
func NewQuadGrid(nu, nv int, stor *Storage) (*Grid, error) {
	if nu < 2 || nv < 2 {
		return nil, fmt.Errorf("grid: quad grid needs at least 2x2 vertices, got %dx%d", nu, nv)
	}
	if stor == nil || stor.NVerts() != nu*nv {
		return nil, fmt.Errorf("grid: storage does not match %dx%d vertices", nu, nv)
	}
	return &Grid{nu: nu, nv: nv, stor: stor, bound: geom.EmptyBox()}, nil
}

// NU returns the number of vertices along u.
func (g *Grid) NU() int { return g.nu }

// NV returns the number of vertices along v.
func (g *Grid) NV() int { return g.nv }

// NVerts returns the number of vertices.
func (g *Grid) NVerts() int { return g.nu * g.nv }

// Micropolygons returns the number of quads in the grid.
func (g *Grid) Micropolygons() int { return (g.nu - 1) * (g.nv - 1) }

// Storage returns the channel storage.
func (g *Grid) Storage() *Storage { return g.stor }

// Index returns the vertex index of (iu, iv).
func (g *Grid) Index(iu, iv int) int { return iv*g.nu + iu }

// CalculateNormals fills the three-component channel dst with normals of the
// surface described by position channel src, estimated from central
// differences on the interior and one-sided differences at the edges.
func (g *Grid) CalculateNormals(dst, src Var) {
	s := g.stor
	for iv := range g.nv {
		v0, v1 := max(iv-1, 0), min(iv+1, g.nv-1)
		for iu := range g.nu {
			u0, u1 := max(iu-1, 0), min(iu+1, g.nu-1)
			dPdu := sub3(s.Vec3(src, g.Index(u1, iv)), s.Vec3(src, g.Index(u0, iv)))
			dPdv := sub3(s.Vec3(src, g.Index(iu, v1)), s.Vec3(src, g.Index(iu, v0)))
			s.SetVec3(dst, g.Index(iu, iv), normalize3(cross3(dPdu, dPdv)))
		}
	}
}

// Project computes raster positions of every vertex and the raster bound.
func (g *Grid) Project(camToRaster f64.Mat4) {
	n := g.NVerts()
	if len(g.raster) != 3*n {
		g.raster = buffers.get(3 * n)
	}
	b := geom.EmptyBox()
	for i := range n {
		p := g.stor.Vec3(P, i)
		r := geom.Project(camToRaster, r3.Vec{X: float64(p[0]), Y: float64(p[1]), Z: float64(p[2])})
		g.raster[3*i] = float32(r.X)
		g.raster[3*i+1] = float32(r.Y)
		g.raster[3*i+2] = float32(r.Z)
		b = geom.Extend(b, r)
	}
	g.bound = b
}

// Projected reports whether Project has been called.
func (g *Grid) Projected() bool { return g.raster != nil }

// RasterP returns the raster position and depth of vertex i.
// It is only valid after Project.
func (g *Grid) RasterP(i int) (x, y, z float32) {
	return g.raster[3*i], g.raster[3*i+1], g.raster[3*i+2]
}

// Bound returns the raster-space bound computed by Project.
func (g *Grid) Bound() r3.Box { return g.bound }

// Release returns all buffers of the grid to the pool.
func (g *Grid) Release() {
	if g.stor != nil {
		g.stor.Release()
		g.stor = nil
	}
	buffers.put(g.raster)
	g.raster = nil
}

func sub3(a, b [3]float32) [3]float32 {
	return [3]float32{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func cross3(a, b [3]float32) [3]float32 {
	return [3]float32{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// normalize3 returns a unit vector; degenerate inputs give zero.
func normalize3(a [3]float32) [3]float32 {
	l := math32.Sqrt(a[0]*a[0] + a[1]*a[1] + a[2]*a[2])
	if l == 0 {
		return [3]float32{}
	}
	return [3]float32{a[0] / l, a[1] / l, a[2] / l}
}

// Dot returns the dot product of two three-component values.
func Dot(a, b [3]float32) float32 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

// Normalize returns a scaled to unit length, or zero for a zero vector.
func Normalize(a [3]float32) [3]float32 { return normalize3(a) }
