// Package geom provides the bounds and transforms shared by the tessellation
// core: axis-aligned boxes in camera and raster space, 4x4 matrices and the
// camera-to-raster projections.
//
// Vectors and boxes are gonum's r3/r2 types. Matrices are row-major
// f64.Mat4 values acting on column vectors, so Mul(a, b) applies b first.
package geom

import (
	"math"

	"golang.org/x/image/math/f64"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// EmptyBox returns a box that contains nothing and acts as the identity for
// Union and Extend.
func EmptyBox() r3.Box {
	inf := math.Inf(1)
	return r3.Box{
		Min: r3.Vec{X: inf, Y: inf, Z: inf},
		Max: r3.Vec{X: -inf, Y: -inf, Z: -inf},
	}
}

// NewBox returns the box spanned by two corner points in any order.
func NewBox(a, b r3.Vec) r3.Box {
	return r3.Box{
		Min: r3.Vec{X: min(a.X, b.X), Y: min(a.Y, b.Y), Z: min(a.Z, b.Z)},
		Max: r3.Vec{X: max(a.X, b.X), Y: max(a.Y, b.Y), Z: max(a.Z, b.Z)},
	}
}

// Extend returns the smallest box containing b and p.
func Extend(b r3.Box, p r3.Vec) r3.Box {
	return r3.Box{
		Min: r3.Vec{X: min(b.Min.X, p.X), Y: min(b.Min.Y, p.Y), Z: min(b.Min.Z, p.Z)},
		Max: r3.Vec{X: max(b.Max.X, p.X), Y: max(b.Max.Y, p.Y), Z: max(b.Max.Z, p.Z)},
	}
}

// Union returns the smallest box containing a and b.
func Union(a, b r3.Box) r3.Box {
	return Extend(Extend(a, b.Min), b.Max)
}

// IsEmpty reports whether b contains no points. NaN bounds are empty.
func IsEmpty(b r3.Box) bool {
	return !(b.Min.X <= b.Max.X && b.Min.Y <= b.Max.Y && b.Min.Z <= b.Max.Z)
}

// Planar drops the z extent of b.
func Planar(b r3.Box) r2.Box {
	return r2.Box{
		Min: r2.Vec{X: b.Min.X, Y: b.Min.Y},
		Max: r2.Vec{X: b.Max.X, Y: b.Max.Y},
	}
}

// Expand grows the x and y extent of b by d on every side.
func Expand(b r3.Box, d float64) r3.Box {
	b.Min.X -= d
	b.Min.Y -= d
	b.Max.X += d
	b.Max.Y += d
	return b
}

// Corners returns the eight corners of b.
func Corners(b r3.Box) [8]r3.Vec {
	var c [8]r3.Vec
	for k := range c {
		c[k] = b.Min
		if k&1 != 0 {
			c[k].X = b.Max.X
		}
		if k&2 != 0 {
			c[k].Y = b.Max.Y
		}
		if k&4 != 0 {
			c[k].Z = b.Max.Z
		}
	}
	return c
}

// Identity returns the identity matrix.
func Identity() f64.Mat4 {
	return f64.Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translate returns a translation by v.
func Translate(v r3.Vec) f64.Mat4 {
	m := Identity()
	m[3], m[7], m[11] = v.X, v.Y, v.Z
	return m
}

// Scale returns a non-uniform scale by v.
func Scale(v r3.Vec) f64.Mat4 {
	m := Identity()
	m[0], m[5], m[10] = v.X, v.Y, v.Z
	return m
}

// Mul returns a*b, the transform applying b and then a.
func Mul(a, b f64.Mat4) f64.Mat4 {
	var m f64.Mat4
	for r := range 4 {
		for c := range 4 {
			var s float64
			for k := range 4 {
				s += a[r*4+k] * b[k*4+c]
			}
			m[r*4+c] = s
		}
	}
	return m
}

// apply returns the homogeneous product m*(p, 1).
func apply(m f64.Mat4, p r3.Vec) (x, y, z, w float64) {
	x = m[0]*p.X + m[1]*p.Y + m[2]*p.Z + m[3]
	y = m[4]*p.X + m[5]*p.Y + m[6]*p.Z + m[7]
	z = m[8]*p.X + m[9]*p.Y + m[10]*p.Z + m[11]
	w = m[12]*p.X + m[13]*p.Y + m[14]*p.Z + m[15]
	return x, y, z, w
}

// TransformPoint applies an affine transform to p. The bottom row of m is
// ignored.
func TransformPoint(m f64.Mat4, p r3.Vec) r3.Vec {
	x, y, z, _ := apply(m, p)
	return r3.Vec{X: x, Y: y, Z: z}
}

// TransformNormal applies the linear part of m to the direction n. It is
// exact for rotations and uniform scales, which is all the reference
// geometry needs.
func TransformNormal(m f64.Mat4, n r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0]*n.X + m[1]*n.Y + m[2]*n.Z,
		Y: m[4]*n.X + m[5]*n.Y + m[6]*n.Z,
		Z: m[8]*n.X + m[9]*n.Y + m[10]*n.Z,
	}
}

// Project maps a camera-space point through a projection built by
// Perspective or Orthographic. x and y are divided by the homogeneous w;
// z is passed through undivided so that raster depth equals camera depth.
func Project(m f64.Mat4, p r3.Vec) r3.Vec {
	x, y, z, w := apply(m, p)
	if w != 0 && w != 1 {
		x /= w
		y /= w
	}
	return r3.Vec{X: x, Y: y, Z: z}
}

// TransformBound returns the bound of the projected corners of b.
func TransformBound(m f64.Mat4, b r3.Box) r3.Box {
	out := EmptyBox()
	for _, c := range Corners(b) {
		out = Extend(out, Project(m, c))
	}
	return out
}

// Perspective returns the camera-to-raster projection for a pinhole camera
// looking down +z with the given full field of view (degrees) across the
// shorter image side. Raster y grows downwards.
func Perspective(fovDegrees float64, xres, yres int) f64.Mat4 {
	t := math.Tan(fovDegrees * math.Pi / 360)
	s := float64(min(xres, yres)) / (2 * t)
	cx, cy := float64(xres)/2, float64(yres)/2
	return f64.Mat4{
		s, 0, cx, 0,
		0, -s, cy, 0,
		0, 0, 1, 0,
		0, 0, 1, 0,
	}
}

// Orthographic returns the camera-to-raster projection mapping the camera
// square [-1,1] on the shorter image side onto the image.
func Orthographic(xres, yres int) f64.Mat4 {
	s := float64(min(xres, yres)) / 2
	cx, cy := float64(xres)/2, float64(yres)/2
	return f64.Mat4{
		s, 0, 0, cx,
		0, -s, 0, cy,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// IsPerspective reports whether m performs a perspective divide.
func IsPerspective(m f64.Mat4) bool {
	return m[12] != 0 || m[13] != 0 || m[14] != 0
}
