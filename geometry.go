package tess

import (
	"golang.org/x/image/math/f64"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gogpu/tess/grid"
)

// Geometry is a renderable primitive.
//
// Tessellate receives the camera-to-raster matrix and decides whether the
// primitive splits into finer primitives or dices into a grid. It records
// the decision in a TessControl and runs it with ctx.InvokeTessellator, so
// that a deforming primitive applies the same decision to every motion key.
// Simple primitives may push directly to ctx instead.
//
// Implementations must not retain ctx after Tessellate returns.
type Geometry interface {
	// Bound returns the camera-space bound.
	Bound() r3.Box

	// Tessellate splits or dices the primitive into ctx.
	Tessellate(m f64.Mat4, ctx TessContext) error

	// Transform transforms the primitive in place.
	Transform(m f64.Mat4)
}

// TessControl is a split-or-dice decision made for one primitive, replayed
// on each of its motion keys. g is the key being tessellated.
type TessControl interface {
	Tessellate(g Geometry, ctx TessContext) error
}

// TessContext is the sink a primitive tessellates into.
type TessContext interface {
	// InvokeTessellator runs ctrl once per motion key of the primitive
	// being tessellated, or once for a primitive without motion.
	InvokeTessellator(ctrl TessControl) error

	// PushGeometry queues a finer primitive produced by a split.
	PushGeometry(g Geometry)

	// PushGrid queues a grid produced by dicing. The grid's storage must
	// come from the builder returned by GridStorageBuilder.
	PushGrid(g *grid.Grid)

	// Options returns the render options.
	Options() *Options

	// Attributes returns the attributes of the primitive.
	Attributes() *Attributes

	// GridStorageBuilder returns a builder preconfigured with the channels
	// shading and output need. Channels the primitive adds itself are
	// marked as diced by the geometry.
	GridStorageBuilder() *grid.StorageBuilder
}

// GeometryKey is one motion sample of a deforming primitive.
type GeometryKey struct {
	Time float64
	Geom Geometry
}

// GridKey is one motion sample of a deforming grid.
type GridKey struct {
	Time float64
	Grid *grid.Grid
}
