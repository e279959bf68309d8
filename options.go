package tess

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/image/math/f64"

	"github.com/gogpu/tess/geom"
	"github.com/gogpu/tess/grid"
)

// Projection selects the camera model.
type Projection string

// Supported projections.
const (
	ProjectionPerspective  Projection = "perspective"
	ProjectionOrthographic Projection = "orthographic"
)

// Options are the render options. They are read-only once a Renderer is
// created and are consulted by primitives when deciding to split or dice.
type Options struct {
	// XRes and YRes are the image size in pixels.
	XRes int `toml:"xres"`
	YRes int `toml:"yres"`

	// BucketSize is the nominal bucket edge in pixels. The image is cut
	// into ceil(XRes/BucketSize) × ceil(YRes/BucketSize) buckets.
	BucketSize int `toml:"bucket_size"`

	// GridSize bounds the micropolygon count of a diced grid to
	// GridSize×GridSize.
	GridSize int `toml:"grid_size"`

	// ShadingRate is the target micropolygon area in pixels.
	ShadingRate float64 `toml:"shading_rate"`

	// MaxSplits is the split generation at which a primitive that still
	// does not dice is abandoned.
	MaxSplits int `toml:"max_splits"`

	// ClipNear and ClipFar are the camera-space depth clip planes.
	ClipNear float64 `toml:"clip_near"`
	ClipFar  float64 `toml:"clip_far"`

	// FOV is the perspective field of view in degrees.
	FOV float64 `toml:"fov"`

	Projection Projection `toml:"projection"`

	// FilterWidth is the pixel filter width. Raster bounds are grown by
	// half of it.
	FilterWidth float64 `toml:"filter_width"`

	// Workers is the number of render goroutines; 0 means GOMAXPROCS.
	Workers int `toml:"workers"`

	// AOVs names the output channels to keep, such as "Ci" or "N".
	AOVs []string `toml:"aovs"`
}

// DefaultOptions returns options for a 640×480 perspective render.
func DefaultOptions() Options {
	return Options{
		XRes:        640,
		YRes:        480,
		BucketSize:  16,
		GridSize:    16,
		ShadingRate: 1,
		MaxSplits:   24,
		ClipNear:    0.01,
		ClipFar:     1e6,
		FOV:         90,
		Projection:  ProjectionPerspective,
		FilterWidth: 1,
		AOVs:        []string{"Ci"},
	}
}

// Validate checks the options. All problems are reported together, each
// wrapping ErrInvalidOptions.
func (o *Options) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidOptions}, args...)...))
	}
	if o.XRes <= 0 || o.YRes <= 0 {
		bad("resolution %dx%d must be positive", o.XRes, o.YRes)
	}
	if o.BucketSize <= 0 {
		bad("bucket_size %d must be positive", o.BucketSize)
	}
	if o.GridSize <= 0 {
		bad("grid_size %d must be positive", o.GridSize)
	}
	if !(o.ShadingRate > 0) {
		bad("shading_rate %v must be positive", o.ShadingRate)
	}
	if o.MaxSplits < 0 {
		bad("max_splits %d must not be negative", o.MaxSplits)
	}
	if !(o.ClipNear >= 0) || !(o.ClipFar > o.ClipNear) {
		bad("clip planes [%v, %v] must satisfy 0 <= near < far", o.ClipNear, o.ClipFar)
	}
	switch o.Projection {
	case ProjectionPerspective:
		if !(o.FOV > 0 && o.FOV < 180) {
			bad("fov %v must be in (0, 180)", o.FOV)
		}
	case ProjectionOrthographic:
	default:
		bad("unknown projection %q", o.Projection)
	}
	if !(o.FilterWidth >= 0) {
		bad("filter_width %v must not be negative", o.FilterWidth)
	}
	if o.Workers < 0 {
		bad("workers %d must not be negative", o.Workers)
	}
	if _, err := o.OutputVars(); err != nil {
		bad("%v", err)
	}
	return errors.Join(errs...)
}

// OutputVars parses AOVs.
func (o *Options) OutputVars() (grid.VarSet, error) {
	var set grid.VarSet
	for _, name := range o.AOVs {
		v, err := grid.ParseVar(name)
		if err != nil {
			return 0, err
		}
		set = set.With(v)
	}
	return set, nil
}

// BucketCounts returns the number of buckets along x and y.
func (o *Options) BucketCounts() (nx, ny int) {
	return (o.XRes + o.BucketSize - 1) / o.BucketSize, (o.YRes + o.BucketSize - 1) / o.BucketSize
}

// CameraToRaster returns the projection from camera space to raster space.
func (o *Options) CameraToRaster() f64.Mat4 {
	if o.Projection == ProjectionOrthographic {
		return geom.Orthographic(o.XRes, o.YRes)
	}
	return geom.Perspective(o.FOV, o.XRes, o.YRes)
}

// DecodeOptions reads TOML options from r on top of DefaultOptions and
// validates them. Unknown keys are rejected.
func DecodeOptions(r io.Reader) (Options, error) {
	opts := DefaultOptions()
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&opts); err != nil {
		return Options{}, fmt.Errorf("tess: decode options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// LoadOptions reads options from a TOML file.
func LoadOptions(path string) (Options, error) {
	f, err := os.Open(path)
	if err != nil {
		return Options{}, fmt.Errorf("tess: load options: %w", err)
	}
	defer f.Close()
	return DecodeOptions(f)
}

// RendererOption configures a Renderer during creation.
//
// Example:
//
//	fb := raster.NewFramebuffer(opts)
//	r, err := tess.NewRenderer(opts,
//	    tess.WithRasterizer(fb),
//	    tess.WithWorkers(4),
//	)
type RendererOption func(*rendererOptions)

type rendererOptions struct {
	rasterizer Rasterizer
	outVars    grid.VarSet
	workers    int
	logger     *slog.Logger
}

// WithRasterizer sets the collaborator that receives shaded grids.
// Without one, grids are shaded and projected, then dropped.
func WithRasterizer(r Rasterizer) RendererOption {
	return func(o *rendererOptions) {
		o.rasterizer = r
	}
}

// WithOutputVars adds output channels to those named by Options.AOVs.
func WithOutputVars(vars ...grid.Var) RendererOption {
	return func(o *rendererOptions) {
		o.outVars = o.outVars.With(vars...)
	}
}

// WithWorkers overrides Options.Workers.
func WithWorkers(n int) RendererOption {
	return func(o *rendererOptions) {
		o.workers = n
	}
}

// WithLogger sets the renderer's logger instead of the package-wide one.
func WithLogger(l *slog.Logger) RendererOption {
	return func(o *rendererOptions) {
		o.logger = l
	}
}
