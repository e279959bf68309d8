// Package parallel provides the bucket infrastructure shared by the split
// store and the rasterizer.
//
// The image plane is divided into a fixed nx×ny grid of buckets that can be
// processed independently. Key pieces:
//
//   - Partition maps planar rectangles onto bucket index ranges
//   - Pool runs bucket jobs on a fixed set of work-stealing goroutines
//   - Mask tracks finished buckets with an atomic bitmap
//
// Thread safety: Partition is immutable after construction and safe for
// concurrent use. Pool and Mask are safe for concurrent use.
package parallel

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

var (
	// ErrDegenerateBound is returned when a partition bound has zero or
	// negative area, or is not a finite rectangle.
	ErrDegenerateBound = errors.New("parallel: degenerate partition bound")

	// ErrInvalidBucketCount is returned when a bucket count is less than one.
	ErrInvalidBucketCount = errors.New("parallel: bucket count must be at least 1")
)

// Partition divides a planar rectangle into nx×ny equally sized buckets.
//
// Bucket counts need not be powers of two. The cell size is extent / count,
// and the upper edge of the last cell in each direction is snapped to the
// upper edge of the bound, so the cells cover the bound exactly. Adjacent
// cells share their edge value bit for bit.
//
// Buckets are addressed by (i, j) with i along x and j along y, and stored
// in row-major order: index = j*nx + i.
type Partition struct {
	nx, ny int
	bound  r2.Box
	cellW  float64
	cellH  float64
}

// NewPartition creates a partition of bound into nx×ny buckets.
func NewPartition(nx, ny int, bound r2.Box) (*Partition, error) {
	if nx < 1 || ny < 1 {
		return nil, ErrInvalidBucketCount
	}
	w := bound.Max.X - bound.Min.X
	h := bound.Max.Y - bound.Min.Y
	if !(w > 0) || !(h > 0) || math.IsInf(w, 0) || math.IsInf(h, 0) {
		return nil, ErrDegenerateBound
	}
	return &Partition{
		nx:    nx,
		ny:    ny,
		bound: bound,
		cellW: w / float64(nx),
		cellH: h / float64(ny),
	}, nil
}

// NX returns the number of buckets along x.
func (p *Partition) NX() int { return p.nx }

// NY returns the number of buckets along y.
func (p *Partition) NY() int { return p.ny }

// Count returns the total number of buckets.
func (p *Partition) Count() int { return p.nx * p.ny }

// Bound returns the overall partitioned rectangle.
func (p *Partition) Bound() r2.Box { return p.bound }

// Index returns the row-major index of bucket (i, j), or -1 if out of range.
func (p *Partition) Index(i, j int) int {
	if i < 0 || i >= p.nx || j < 0 || j >= p.ny {
		return -1
	}
	return j*p.nx + i
}

// Coords is the inverse of Index.
func (p *Partition) Coords(idx int) (i, j int) {
	return idx % p.nx, idx / p.nx
}

// edgeX returns the x coordinate of the k-th vertical cell edge, 0 <= k <= nx.
func (p *Partition) edgeX(k int) float64 {
	if k >= p.nx {
		return p.bound.Max.X
	}
	return p.bound.Min.X + float64(k)*p.cellW
}

// edgeY returns the y coordinate of the k-th horizontal cell edge, 0 <= k <= ny.
func (p *Partition) edgeY(k int) float64 {
	if k >= p.ny {
		return p.bound.Max.Y
	}
	return p.bound.Min.Y + float64(k)*p.cellH
}

// Cell returns the rectangle covered by bucket (i, j).
// The result is the zero box if (i, j) is out of range.
func (p *Partition) Cell(i, j int) r2.Box {
	if p.Index(i, j) < 0 {
		return r2.Box{}
	}
	return r2.Box{
		Min: r2.Vec{X: p.edgeX(i), Y: p.edgeY(j)},
		Max: r2.Vec{X: p.edgeX(i + 1), Y: p.edgeY(j + 1)},
	}
}

// locate returns the cell index along one axis containing v, using half-open
// cells [lo, hi) except for the last one which is closed. v is assumed to
// lie within [min, max] of the axis.
func locate(v, lo, size float64, n int, edge func(int) float64) int {
	k := int(math.Floor((v - lo) / size))
	k = min(max(k, 0), n-1)
	// Division rounding can disagree with the edge values by an ulp; the edge
	// values are authoritative.
	if k < n-1 && v >= edge(k+1) {
		k++
	}
	if k > 0 && v < edge(k) {
		k--
	}
	return k
}

// CellRange returns the inclusive range of buckets intersecting b.
// ok is false if b lies entirely outside the partition bound.
func (p *Partition) CellRange(b r2.Box) (i0, j0, i1, j1 int, ok bool) {
	if b.Max.X < p.bound.Min.X || b.Min.X > p.bound.Max.X ||
		b.Max.Y < p.bound.Min.Y || b.Min.Y > p.bound.Max.Y {
		return 0, 0, 0, 0, false
	}

	x0 := max(b.Min.X, p.bound.Min.X)
	y0 := max(b.Min.Y, p.bound.Min.Y)
	x1 := min(b.Max.X, p.bound.Max.X)
	y1 := min(b.Max.Y, p.bound.Max.Y)

	i0 = locate(x0, p.bound.Min.X, p.cellW, p.nx, p.edgeX)
	i1 = locate(x1, p.bound.Min.X, p.cellW, p.nx, p.edgeX)
	j0 = locate(y0, p.bound.Min.Y, p.cellH, p.ny, p.edgeY)
	j1 = locate(y1, p.bound.Min.Y, p.cellH, p.ny, p.edgeY)
	return i0, j0, i1, j1, true
}

// ForEachCell calls fn for every bucket intersecting b, in row-major order.
// It returns the number of buckets visited.
func (p *Partition) ForEachCell(b r2.Box, fn func(i, j int)) int {
	i0, j0, i1, j1, ok := p.CellRange(b)
	if !ok {
		return 0
	}
	for j := j0; j <= j1; j++ {
		for i := i0; i <= i1; i++ {
			fn(i, j)
		}
	}
	return (i1 - i0 + 1) * (j1 - j0 + 1)
}
