// Command tessdemo renders a small scene of bilinear patches with the
// tessellation core and writes the result as a PNG.
package main

import (
	"context"
	"flag"
	"image/color"
	"image/png"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gogpu/tess"
	"github.com/gogpu/tess/geom"
	"github.com/gogpu/tess/raster"
	"github.com/gogpu/tess/shading"
	"github.com/gogpu/tess/surfaces"
)

func main() {
	var (
		config  = flag.String("config", "", "TOML render options file")
		output  = flag.String("o", "tessdemo.png", "output file")
		workers = flag.Int("workers", -1, "worker count, 0 for GOMAXPROCS (overrides the config file)")
		verbose = flag.Bool("v", false, "log per-bucket diagnostics")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	tess.SetLogger(logger)

	opts := tess.DefaultOptions()
	if *config != "" {
		var err error
		if opts, err = tess.LoadOptions(*config); err != nil {
			log.Fatalf("Failed to load options: %v", err)
		}
	}
	if *workers >= 0 {
		opts.Workers = *workers
	}

	fb, err := raster.NewFramebuffer(opts)
	if err != nil {
		log.Fatalf("Failed to create framebuffer: %v", err)
	}
	defer fb.Close()
	fb.Clear(color.RGBA{R: 20, G: 24, B: 40, A: 255})

	r, err := tess.NewRenderer(opts, tess.WithRasterizer(fb), tess.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to create renderer: %v", err)
	}
	if err := buildScene(r); err != nil {
		log.Fatalf("Failed to build scene: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	stats, err := r.Render(ctx)
	if err != nil {
		log.Fatalf("Render failed: %v", err)
	}

	if err := savePNG(*output, fb); err != nil {
		log.Fatalf("Failed to save: %v", err)
	}

	p := message.NewPrinter(language.English)
	p.Printf("Rendered %s (%dx%d) in %v\n", *output, opts.XRes, opts.YRes, stats.Duration)
	p.Printf("  buckets        %d\n", stats.Buckets)
	p.Printf("  splits         %d\n", stats.Splits)
	p.Printf("  grids          %d\n", stats.Grids)
	p.Printf("  micropolygons  %d\n", stats.Micropolygons)
	p.Printf("  culled         %d\n", stats.Culled)
	p.Printf("  discarded      %d\n", stats.Discarded)
	for _, f := range stats.Failures {
		p.Printf("  abandoned: %v\n", f)
	}
}

func savePNG(path string, fb *raster.Framebuffer) error {
	f, err := os.Create(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return err
	}
	if err := png.Encode(f, fb.Image()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// buildScene adds a floor, a row of panels and a panel in motion. The camera
// sits at the origin looking down +z with y up.
func buildScene(r *tess.Renderer) error {
	floor := surfaces.NewPatch(
		r3.Vec{X: -8, Y: -1.5, Z: 1.5},
		r3.Vec{X: 8, Y: -1.5, Z: 1.5},
		r3.Vec{X: -8, Y: -1.5, Z: 20},
		r3.Vec{X: 8, Y: -1.5, Z: 20},
	)
	if err := r.Add(floor, &tess.Attributes{
		Name:    "floor",
		Shader:  shading.FacingRatio{},
		Color:   [3]float32{0.6, 0.6, 0.55},
		Opacity: [3]float32{1, 1, 1},
	}); err != nil {
		return err
	}

	panels := []struct {
		name  string
		at    r3.Vec
		color [3]float32
		lit   bool
	}{
		{"left", r3.Vec{X: -2.2, Y: -0.2, Z: 6}, [3]float32{0.9, 0.3, 0.2}, true},
		{"centre", r3.Vec{X: 0, Y: 0.2, Z: 8}, [3]float32{0.2, 0.7, 0.3}, false},
		{"right", r3.Vec{X: 2.2, Y: -0.2, Z: 5}, [3]float32{0.2, 0.4, 0.9}, true},
	}
	for _, pn := range panels {
		p := panel(1.2)
		p.Transform(geom.Translate(pn.at))
		var sh tess.Shader = shading.Constant{}
		if pn.lit {
			sh = shading.FacingRatio{}
		}
		if err := r.Add(p, &tess.Attributes{Name: pn.name, Shader: sh, Color: pn.color, Opacity: [3]float32{1, 1, 1}}); err != nil {
			return err
		}
	}

	from, to := panel(0.6), panel(0.6)
	from.Transform(geom.Translate(r3.Vec{X: -1, Y: 1.3, Z: 4}))
	to.Transform(geom.Translate(r3.Vec{X: 1, Y: 1.6, Z: 4}))
	return r.AddDeforming([]tess.GeometryKey{
		{Time: 0, Geom: from},
		{Time: 1, Geom: to},
	}, &tess.Attributes{
		Name:    "moving",
		Shader:  shading.Constant{},
		Color:   [3]float32{1, 0.85, 0.2},
		Opacity: [3]float32{1, 1, 1},
	})
}

// panel returns a slightly tilted square of half size h centred at the
// origin.
func panel(h float64) *surfaces.Patch {
	return surfaces.NewPatch(
		r3.Vec{X: -h, Y: -h, Z: -h / 3},
		r3.Vec{X: h, Y: -h, Z: h / 3},
		r3.Vec{X: -h, Y: h, Z: -h / 3},
		r3.Vec{X: h, Y: h, Z: h / 3},
	)
}
