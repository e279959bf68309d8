package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/chewxy/math32"

	"github.com/gogpu/tess"
	"github.com/gogpu/tess/grid"
	"github.com/gogpu/tess/internal/parallel"
)

var (
	// ErrNotProjected is returned when a grid reaches the rasterizer
	// before its raster positions were computed.
	ErrNotProjected = errors.New("raster: grid has not been projected")

	// ErrKeyMismatch is returned when the motion keys of a grid differ in
	// size.
	ErrKeyMismatch = errors.New("raster: motion keys differ in grid size")
)

// Framebuffer is a tiled z-buffer that rasterizes GridHolders.
//
// It implements tess.Rasterizer. Rasterize may be called from many workers
// at once; Clear and Image must not run concurrently with it.
type Framebuffer struct {
	width, height int
	tileSize      int
	tilesX        int
	tilesY        int
	tiles         []*Tile
	near          float32

	pool *parallel.Pool
}

// NewFramebuffer creates a framebuffer matching the image size and bucket
// size of opts, cleared to transparent black.
func NewFramebuffer(opts tess.Options) (*Framebuffer, error) {
	if opts.XRes <= 0 || opts.YRes <= 0 || opts.BucketSize <= 0 {
		return nil, fmt.Errorf("raster: invalid framebuffer %dx%d with tile size %d",
			opts.XRes, opts.YRes, opts.BucketSize)
	}
	ts := opts.BucketSize
	f := &Framebuffer{
		width:    opts.XRes,
		height:   opts.YRes,
		tileSize: ts,
		tilesX:   (opts.XRes + ts - 1) / ts,
		tilesY:   (opts.YRes + ts - 1) / ts,
		near:     float32(opts.ClipNear),
		pool:     parallel.NewPool(opts.Workers),
	}
	f.tiles = make([]*Tile, 0, f.tilesX*f.tilesY)
	for ty := range f.tilesY {
		for tx := range f.tilesX {
			w := min(ts, f.width-tx*ts)
			h := min(ts, f.height-ty*ts)
			f.tiles = append(f.tiles, newTile(tx, ty, w, h, ts))
		}
	}
	return f, nil
}

// Width returns the image width in pixels.
func (f *Framebuffer) Width() int { return f.width }

// Height returns the image height in pixels.
func (f *Framebuffer) Height() int { return f.height }

// TileCount returns the total number of tiles.
func (f *Framebuffer) TileCount() int { return len(f.tiles) }

// Tile returns tile (tx, ty), or nil if out of range.
func (f *Framebuffer) Tile(tx, ty int) *Tile {
	if tx < 0 || tx >= f.tilesX || ty < 0 || ty >= f.tilesY {
		return nil
	}
	return f.tiles[ty*f.tilesX+tx]
}

// Clear fills every tile with c and resets the depth buffer, in parallel.
func (f *Framebuffer) Clear(c color.Color) {
	rgba := colorToRGBA(c)
	jobs := make([]parallel.Job, len(f.tiles))
	for i, t := range f.tiles {
		jobs[i] = func(int) { t.reset(rgba) }
	}
	f.pool.RunAll(jobs)
}

// Depth returns the depth of the nearest sample at pixel (x, y), or +Inf.
func (f *Framebuffer) Depth(x, y int) float32 {
	t := f.Tile(x/f.tileSize, y/f.tileSize)
	if t == nil || x < 0 || y < 0 {
		return float32(math.Inf(1))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Depth[t.pixelIndex(x, y)]
}

// Image composites all tiles into a new RGBA image, in parallel.
func (f *Framebuffer) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.width, f.height))
	jobs := make([]parallel.Job, len(f.tiles))
	for i, t := range f.tiles {
		jobs[i] = func(int) { compositeTile(t, img) }
	}
	f.pool.RunAll(jobs)
	return img
}

// compositeTile copies a single tile's pixels into img.
func compositeTile(t *Tile, img *image.RGBA) {
	t.mu.Lock()
	defer t.mu.Unlock()

	x, y, _, _ := t.Bounds()
	stride := t.Stride()
	for row := range t.Height {
		dst := img.PixOffset(x, y+row)
		copy(img.Pix[dst:dst+stride], t.Data[row*stride:(row+1)*stride])
	}
}

// Close stops the framebuffer's worker pool.
func (f *Framebuffer) Close() { f.pool.Close() }

// vert is a micropolygon corner in raster space.
type vert struct {
	x, y, z float32
	c       [3]float32
}

// Rasterize draws every micropolygon of h. It implements tess.Rasterizer.
func (f *Framebuffer) Rasterize(h *tess.GridHolder) error {
	keys := h.GridKeys()
	if !h.IsDeforming() {
		keys = []tess.GridKey{{Grid: h.Grid()}}
	}
	if len(keys) == 0 || keys[0].Grid == nil {
		return nil
	}
	g0 := keys[0].Grid
	for _, k := range keys {
		if !k.Grid.Projected() {
			return ErrNotProjected
		}
		if k.Grid.NU() != g0.NU() || k.Grid.NV() != g0.NV() {
			return ErrKeyMismatch
		}
	}

	q := quad{keys: keys, attrs: h.Attributes()}
	for iv := 0; iv < g0.NV()-1; iv++ {
		for iu := 0; iu < g0.NU()-1; iu++ {
			q.idx = [4]int{g0.Index(iu, iv), g0.Index(iu+1, iv), g0.Index(iu+1, iv+1), g0.Index(iu, iv+1)}
			f.drawQuad(&q)
		}
	}
	return nil
}

// quad is one micropolygon of every motion key, corners in winding order.
type quad struct {
	keys  []tess.GridKey
	attrs *tess.Attributes
	idx   [4]int
}

// corners returns the corners at key k.
func (q *quad) corners(k int) [4]vert {
	g := q.keys[k].Grid
	s := g.Storage()
	var out [4]vert
	for c, i := range q.idx {
		x, y, z := g.RasterP(i)
		out[c] = vert{x: x, y: y, z: z, c: vertexColor(s, i, q.attrs)}
	}
	return out
}

// at returns the corners at normalized shutter time t in [0, 1).
func (q *quad) at(t float32) [4]vert {
	n := len(q.keys)
	if n == 1 {
		return q.corners(0)
	}
	t0, t1 := q.keys[0].Time, q.keys[n-1].Time
	tt := t0 + float64(t)*(t1-t0)
	k := 0
	for k < n-2 && tt > q.keys[k+1].Time {
		k++
	}
	span := q.keys[k+1].Time - q.keys[k].Time
	if span <= 0 {
		return q.corners(k)
	}
	w := float32((tt - q.keys[k].Time) / span)
	a, b := q.corners(k), q.corners(k+1)
	for c := range a {
		a[c] = lerpVert(a[c], b[c], w)
	}
	return a
}

func lerpVert(a, b vert, w float32) vert {
	return vert{
		x: a.x + (b.x-a.x)*w,
		y: a.y + (b.y-a.y)*w,
		z: a.z + (b.z-a.z)*w,
		c: [3]float32{
			a.c[0] + (b.c[0]-a.c[0])*w,
			a.c[1] + (b.c[1]-a.c[1])*w,
			a.c[2] + (b.c[2]-a.c[2])*w,
		},
	}
}

// vertexColor prefers the shaded colour, then the surface colour, then the
// attribute colour.
func vertexColor(s *grid.Storage, i int, attrs *tess.Attributes) [3]float32 {
	switch {
	case s.Has(grid.Ci):
		return s.Vec3(grid.Ci, i)
	case s.Has(grid.Cs):
		return s.Vec3(grid.Cs, i)
	default:
		return attrs.Color
	}
}

// drawQuad samples every pixel centre the micropolygon may cover. A
// micropolygon with a corner nearer than the clip plane is dropped whole.
func (f *Framebuffer) drawQuad(q *quad) {
	minX, minY := float32(math.Inf(1)), float32(math.Inf(1))
	maxX, maxY := float32(math.Inf(-1)), float32(math.Inf(-1))
	for k := range q.keys {
		for _, v := range q.corners(k) {
			if v.z < f.near {
				// Crossing the near plane.
				return
			}
			minX, maxX = min(minX, v.x), max(maxX, v.x)
			minY, maxY = min(minY, v.y), max(maxY, v.y)
		}
	}

	// Pixel (px, py) is sampled at its centre (px+0.5, py+0.5).
	x0 := max(int(math32.Ceil(minX-0.5)), 0)
	y0 := max(int(math32.Ceil(minY-0.5)), 0)
	x1 := min(int(math32.Floor(maxX-0.5)), f.width-1)
	y1 := min(int(math32.Floor(maxY-0.5)), f.height-1)
	if x0 > x1 || y0 > y1 {
		return
	}

	var static [4]vert
	moving := len(q.keys) > 1
	if !moving {
		static = q.corners(0)
	}

	for ty := y0 / f.tileSize; ty <= y1/f.tileSize; ty++ {
		for tx := x0 / f.tileSize; tx <= x1/f.tileSize; tx++ {
			t := f.tiles[ty*f.tilesX+tx]
			bx, by, bw, bh := t.Bounds()
			t.mu.Lock()
			for py := max(y0, by); py <= min(y1, by+bh-1); py++ {
				for px := max(x0, bx); px <= min(x1, bx+bw-1); px++ {
					v := static
					if moving {
						v = q.at(sampleTime(px, py))
					}
					z, c, ok := sampleQuad(v, float32(px)+0.5, float32(py)+0.5)
					if !ok || z < f.near {
						continue
					}
					i := t.pixelIndex(px, py)
					if z >= t.Depth[i] {
						continue
					}
					t.Depth[i] = z
					o := i * 4
					t.Data[o] = toByte(c[0])
					t.Data[o+1] = toByte(c[1])
					t.Data[o+2] = toByte(c[2])
					t.Data[o+3] = 255
				}
			}
			t.mu.Unlock()
		}
	}
}

// sampleQuad tests the point against both triangles of the quad.
func sampleQuad(v [4]vert, x, y float32) (float32, [3]float32, bool) {
	if z, c, ok := sampleTriangle(v[0], v[1], v[2], x, y); ok {
		return z, c, true
	}
	return sampleTriangle(v[0], v[2], v[3], x, y)
}

func edge(a, b vert, x, y float32) float32 {
	return (b.x-a.x)*(y-a.y) - (b.y-a.y)*(x-a.x)
}

// sampleTriangle returns the interpolated depth and colour at (x, y) if it
// lies inside the triangle, regardless of winding.
func sampleTriangle(a, b, c vert, x, y float32) (float32, [3]float32, bool) {
	area := edge(a, b, c.x, c.y)
	if area == 0 {
		return 0, [3]float32{}, false
	}
	w0 := edge(b, c, x, y) / area
	w1 := edge(c, a, x, y) / area
	w2 := edge(a, b, x, y) / area
	if w0 < 0 || w1 < 0 || w2 < 0 {
		return 0, [3]float32{}, false
	}
	z := w0*a.z + w1*b.z + w2*c.z
	var col [3]float32
	for i := range col {
		col[i] = w0*a.c[i] + w1*b.c[i] + w2*c.c[i]
	}
	return z, col, true
}

// sampleTime returns a deterministic shutter time in [0, 1) for a pixel.
func sampleTime(x, y int) float32 {
	h := uint32(x)*0x8da6b343 ^ uint32(y)*0xd8163841
	h ^= h >> 16
	h *= 0x7feb352d
	h ^= h >> 15
	h *= 0x846ca68b
	h ^= h >> 16
	return float32(h>>8) / (1 << 24)
}

func toByte(v float32) byte {
	return byte(math32.Round(min(max(v, 0), 1) * 255))
}

// colorToRGBA converts a color.Color to RGBA bytes.
func colorToRGBA(c color.Color) [4]byte {
	r, g, b, a := c.RGBA()
	return [4]byte{
		byte(r >> 8),
		byte(g >> 8),
		byte(b >> 8),
		byte(a >> 8),
	}
}
