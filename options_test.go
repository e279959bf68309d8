package tess

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/tess/grid"
)

func TestDefaultOptionsValid(t *testing.T) {
	opts := DefaultOptions()
	require.NoError(t, opts.Validate())

	nx, ny := opts.BucketCounts()
	assert.Equal(t, 40, nx)
	assert.Equal(t, 30, ny)

	vars, err := opts.OutputVars()
	require.NoError(t, err)
	assert.Equal(t, grid.NewVarSet(grid.Ci), vars)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
		want   string
	}{
		{"zero xres", func(o *Options) { o.XRes = 0 }, "resolution"},
		{"zero bucket", func(o *Options) { o.BucketSize = 0 }, "bucket_size"},
		{"zero grid", func(o *Options) { o.GridSize = 0 }, "grid_size"},
		{"zero shading rate", func(o *Options) { o.ShadingRate = 0 }, "shading_rate"},
		{"negative splits", func(o *Options) { o.MaxSplits = -1 }, "max_splits"},
		{"inverted clip", func(o *Options) { o.ClipNear, o.ClipFar = 10, 1 }, "clip planes"},
		{"wide fov", func(o *Options) { o.FOV = 180 }, "fov"},
		{"unknown projection", func(o *Options) { o.Projection = "fisheye" }, "projection"},
		{"negative filter", func(o *Options) { o.FilterWidth = -1 }, "filter_width"},
		{"negative workers", func(o *Options) { o.Workers = -2 }, "workers"},
		{"unknown aov", func(o *Options) { o.AOVs = []string{"Ci", "bogus"} }, "bogus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.modify(&opts)
			err := opts.Validate()
			require.ErrorIs(t, err, ErrInvalidOptions)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestOptionsValidate_ReportsAll(t *testing.T) {
	opts := DefaultOptions()
	opts.XRes = -1
	opts.GridSize = 0
	err := opts.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolution")
	assert.Contains(t, err.Error(), "grid_size")
}

func TestOrthographicIgnoresFOV(t *testing.T) {
	opts := DefaultOptions()
	opts.Projection = ProjectionOrthographic
	opts.FOV = 0
	assert.NoError(t, opts.Validate())
}

func TestDecodeOptions(t *testing.T) {
	const doc = `
xres = 320
yres = 200
bucket_size = 32
projection = "orthographic"
aovs = ["Ci", "N"]
`
	opts, err := DecodeOptions(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, 320, opts.XRes)
	assert.Equal(t, 200, opts.YRes)
	assert.Equal(t, 32, opts.BucketSize)
	assert.Equal(t, ProjectionOrthographic, opts.Projection)
	assert.Equal(t, DefaultOptions().GridSize, opts.GridSize, "unset keys keep their defaults")

	vars, err := opts.OutputVars()
	require.NoError(t, err)
	assert.Equal(t, grid.NewVarSet(grid.Ci, grid.N), vars)
}

func TestDecodeOptions_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "xres = 10\ncolour = 3\n"},
		{"wrong type", "xres = \"wide\"\n"},
		{"invalid value", "grid_size = -4\n"},
		{"syntax", "xres = \n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeOptions(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "render.toml")
	require.NoError(t, os.WriteFile(path, []byte("xres = 64\nyres = 64\n"), 0o600))

	opts, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, 64, opts.XRes)

	_, err = LoadOptions(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRendererOptions(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	rast := &countingRasterizer{}

	r, err := NewRenderer(DefaultOptions(),
		WithRasterizer(rast),
		WithOutputVars(grid.N, grid.Ng),
		WithWorkers(3),
		WithLogger(logger),
	)
	require.NoError(t, err)

	assert.Same(t, rast, r.raster)
	assert.Equal(t, grid.NewVarSet(grid.Ci, grid.N, grid.Ng), r.outputVars())
	assert.Equal(t, 3, r.workers)
	assert.Same(t, logger, r.log)
}

func TestNewRenderer_InvalidOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.BucketSize = 0
	_, err := NewRenderer(opts)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}
