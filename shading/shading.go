// Package shading provides simple Go surface shaders for diced grids.
package shading

import (
	"github.com/chewxy/math32"

	"github.com/gogpu/tess"
	"github.com/gogpu/tess/grid"
)

// Constant outputs the surface colour unchanged.
type Constant struct{}

var _ tess.Shader = Constant{}

// InputVars implements tess.Shader.
func (Constant) InputVars() grid.VarSet { return grid.NewVarSet(grid.Cs) }

// OutputVars implements tess.Shader.
func (Constant) OutputVars() grid.VarSet { return grid.NewVarSet(grid.Ci) }

// Shade implements tess.Shader.
func (Constant) Shade(g *grid.Grid) error {
	s := g.Storage()
	if !s.Has(grid.Ci) {
		return nil
	}
	for i := range g.NVerts() {
		s.SetVec3(grid.Ci, i, s.Vec3(grid.Cs, i))
	}
	return nil
}

// FacingRatio darkens the surface colour as the surface turns away from the
// viewer: Ci = Cs * |N·I| with both vectors normalized.
type FacingRatio struct{}

var _ tess.Shader = FacingRatio{}

// InputVars implements tess.Shader.
func (FacingRatio) InputVars() grid.VarSet { return grid.NewVarSet(grid.N, grid.I, grid.Cs) }

// OutputVars implements tess.Shader.
func (FacingRatio) OutputVars() grid.VarSet { return grid.NewVarSet(grid.Ci) }

// Shade implements tess.Shader.
func (FacingRatio) Shade(g *grid.Grid) error {
	s := g.Storage()
	if !s.Has(grid.Ci) {
		return nil
	}
	for i := range g.NVerts() {
		n := grid.Normalize(s.Vec3(grid.N, i))
		v := grid.Normalize(s.Vec3(grid.I, i))
		f := math32.Abs(grid.Dot(n, v))
		cs := s.Vec3(grid.Cs, i)
		s.SetVec3(grid.Ci, i, [3]float32{cs[0] * f, cs[1] * f, cs[2] * f})
	}
	return nil
}
