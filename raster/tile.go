// Package raster provides a reference bucket rasterizer for diced grids.
//
// The image is divided into square tiles the size of a render bucket. Each
// tile owns its colour and depth buffers and a mutex, so grids diced in
// different buckets can be rasterized concurrently; a grid overlapping a
// neighbouring tile only contends on that tile.
//
// Visibility is resolved with a z-buffer point sampled at pixel centres.
// Deforming grids are sampled at one shutter time per pixel.
package raster

import (
	"math"
	"sync"
)

// Tile is a rectangular block of the framebuffer.
//
// Edge tiles may be smaller than the tile size when the image is not evenly
// divisible by it.
type Tile struct {
	// X and Y are the tile column and row.
	X, Y int

	// Width and Height are the actual size in pixels.
	Width, Height int

	// size is the nominal tile edge, used to find the pixel origin.
	size int

	mu sync.Mutex

	// Data holds RGBA pixels, Width*Height*4 bytes.
	Data []byte

	// Depth holds the nearest sample depth per pixel, +Inf where empty.
	Depth []float32
}

func newTile(x, y, w, h, size int) *Tile {
	t := &Tile{
		X:      x,
		Y:      y,
		Width:  w,
		Height: h,
		size:   size,
		Data:   make([]byte, w*h*4),
		Depth:  make([]float32, w*h),
	}
	t.reset([4]byte{})
	return t
}

// reset fills the tile with rgba and clears the depth buffer.
func (t *Tile) reset(rgba [4]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stride := t.Width * 4
	for x := range t.Width {
		copy(t.Data[x*4:x*4+4], rgba[:])
	}
	firstRow := t.Data[:stride]
	for y := 1; y < t.Height; y++ {
		copy(t.Data[y*stride:(y+1)*stride], firstRow)
	}

	inf := float32(math.Inf(1))
	for i := range t.Depth {
		t.Depth[i] = inf
	}
}

// Bounds returns the pixel bounds of the tile in image space.
// Returns (x, y, width, height) where x,y is the top-left corner.
func (t *Tile) Bounds() (x, y, w, h int) {
	return t.X * t.size, t.Y * t.size, t.Width, t.Height
}

// Contains reports whether the image-space pixel (px, py) is in the tile.
func (t *Tile) Contains(px, py int) bool {
	x, y, w, h := t.Bounds()
	return px >= x && px < x+w && py >= y && py < y+h
}

// pixelIndex returns the index of image-space pixel (px, py) within the
// tile, or -1 if it lies outside.
func (t *Tile) pixelIndex(px, py int) int {
	if !t.Contains(px, py) {
		return -1
	}
	x, y, _, _ := t.Bounds()
	return (py-y)*t.Width + (px - x)
}

// Stride returns the row stride in bytes.
func (t *Tile) Stride() int {
	return t.Width * 4
}
