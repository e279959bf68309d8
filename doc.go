// Package tess provides an adaptive surface-tessellation scheduler for bucket
// renderers.
//
// # Overview
//
// tess converts high-level geometric primitives into grids of micropolygons
// that a bucket rasterizer can consume. Primitives are queued in a split
// store, a grid of image-space buckets ordered by depth. Workers pop geometry
// from their bucket and ask it to tessellate: a primitive that is small
// enough on screen dices itself into a grid, anything larger splits into
// finer primitives that are queued again.
//
// # Quick Start
//
//	opts := tess.DefaultOptions()
//	r, err := tess.NewRenderer(opts, tess.WithRasterizer(fb))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	patch := surfaces.NewPatch(p00, p10, p01, p11)
//	if err := r.Add(patch, tess.DefaultAttributes()); err != nil {
//	    log.Fatal(err)
//	}
//
//	stats, err := r.Render(ctx)
//
// # Concurrency
//
// A primitive straddling several buckets is queued in each of them, so two
// workers may tessellate it at the same time. Results are buffered in a
// TessellationContext and committed under the holder's mutex: the first
// commit wins, every later one is discarded completely. The mutex is never
// held while a primitive tessellates.
//
// # Motion Blur
//
// Deforming primitives carry one geometry per motion key. The split-or-dice
// decision is made once, on the first key, and replayed on every key through
// a TessControl, so the pieces of all keys line up and can be paired again.
//
// # Architecture
//
// The module is organized into:
//   - tess: holders, tessellation context, renderer, options
//   - geom: boxes, matrices and projections
//   - grid: shading channels, storage and quad grids
//   - splitstore: depth-ordered bucket queues
//   - surfaces, shading, raster: reference primitive, shaders and rasterizer
package tess

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
