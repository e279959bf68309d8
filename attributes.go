package tess

import "github.com/gogpu/tess/grid"

// Shader computes output channels of a diced grid.
//
// InputVars and OutputVars declare which channels the shader reads and
// writes; the tessellation context uses them to decide what a grid
// allocates. Shade may only touch channels the grid actually has.
type Shader interface {
	InputVars() grid.VarSet
	OutputVars() grid.VarSet
	Shade(g *grid.Grid) error
}

// Attributes is the rendering state attached to a primitive when it is
// submitted and inherited by everything it splits into.
//
// Attributes are shared by pointer between holders and never locked, so
// they must not be modified once submitted.
type Attributes struct {
	// Name identifies the primitive in diagnostics.
	Name string

	// Shader is the surface shader. nil leaves output channels unset.
	Shader Shader

	// Color and Opacity fill the Cs and Os channels.
	Color   [3]float32
	Opacity [3]float32
}

// DefaultAttributes returns white, opaque attributes without a shader.
func DefaultAttributes() *Attributes {
	return &Attributes{
		Color:   [3]float32{1, 1, 1},
		Opacity: [3]float32{1, 1, 1},
	}
}
