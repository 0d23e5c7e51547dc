package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"plot-oracle/internal/compare"
	diffimage "plot-oracle/internal/diff/image"
	"plot-oracle/internal/envconfig"
	"plot-oracle/internal/rasterize"
	"plot-oracle/internal/storage"

	"golang.org/x/xerrors"
)

type options struct {
	width          int
	height         int
	maxPixels      int
	backend        string
	resample       bool
	filter         string
	visualize      bool
	threshold      float64
	timeout        time.Duration
	storageBackend string
	directory      string
	save           bool
}

func parseOptions(args []string, stderr io.Writer) (*options, []string, error) {
	o := &options{}

	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&o.width, "width", envconfig.Value("WIDTH", rasterize.DefaultWidth), "Rasterization width in pixels")
	fs.IntVar(&o.height, "height", envconfig.Value("HEIGHT", rasterize.DefaultHeight), "Rasterization height in pixels")
	fs.IntVar(&o.maxPixels, "max-pixels", envconfig.Value("MAX_PIXELS", compare.DefaultMaxPixels), "Largest canvas or raster input in pixels, 0 for no limit")
	fs.StringVar(&o.backend, "backend", envconfig.Value("RASTERIZER_BACKEND", "svg"), "Rasterizer backend (svg or chromium or raster)")
	fs.BoolVar(&o.resample, "resample", envconfig.Value("RESAMPLE", true), "Resample the target to the baseline size when they differ")
	fs.StringVar(&o.filter, "filter", envconfig.Value("RESAMPLE_FILTER", string(diffimage.FilterLanczos3)), "Resample filter (lanczos3 or catmull-rom or bilinear)")
	fs.BoolVar(&o.visualize, "visualize", envconfig.Value("VISUALIZE", true), "Render the amplified difference image")
	fs.Float64Var(&o.threshold, "threshold", envconfig.Value("HIGH_DIFFERENCE_THRESHOLD", 10.0), "Region magnitude above which a region is flagged")
	fs.DurationVar(&o.timeout, "timeout", envconfig.Value("RASTERIZE_TIMEOUT", 30*time.Second), "Timeout of a single rasterization")
	fs.StringVar(&o.storageBackend, "storage-backend", envconfig.Value("STORAGE_BACKEND", "file"), "Storage backend (file or s3)")
	fs.StringVar(&o.directory, "directory", envconfig.Value("DIRECTORY", "/tmp"), "Artifact directory of the file storage backend")
	fs.BoolVar(&o.save, "save", envconfig.Value("SAVE_ARTIFACTS", true), "Store rasterized inputs and the difference image")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() != 2 {
		return nil, nil, xerrors.New("baseline, target not specified")
	}
	if err := (compare.Config{Width: o.width, Height: o.height, MaxPixels: o.maxPixels}).Validate(); err != nil {
		return nil, nil, err
	}
	return o, fs.Args(), nil
}

func run(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer) int {
	if err := envconfig.Load(); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	logger, err := envconfig.NewLogger(stderr, false)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	o, refs, err := parseOptions(args, stderr)
	if err != nil {
		logger.Error("invalid arguments", "error", err)
		return 1
	}

	if err := compareDocuments(ctx, logger, o, refs[0], refs[1], stdout); err != nil {
		logger.Error("comparison failed", "error", err)
		return 1
	}
	return 0
}

func compareDocuments(ctx context.Context, logger *slog.Logger, o *options, baselineRef string, targetRef string, stdout io.Writer) error {
	filter, err := diffimage.ParseFilter(o.filter)
	if err != nil {
		return err
	}

	if o.backend == "chromium" {
		if err := rasterize.Install(); err != nil {
			return err
		}
	}

	rasterizeConfig := rasterize.DefaultConfig()
	rasterizeConfig.Timeout = o.timeout
	rasterizeConfig.Playwright.Timeout = o.timeout
	rasterizeConfig.Playwright.ChromeDevtoolsProtocolURL = envconfig.Value("CHROME_DEVTOOLS_PROTOCOL_URL", "")

	rasterizer, err := rasterize.New(ctx, o.backend, rasterizeConfig)
	if err != nil {
		return xerrors.Errorf("failed to initialize rasterizer: %w", err)
	}

	var s storage.Storage
	switch o.storageBackend {
	case "file":
		s, err = storage.NewFileStorage(ctx, storage.FileConfig{Directory: o.directory})
	default:
		s, err = storage.New(ctx, o.storageBackend)
	}
	if err != nil {
		return xerrors.Errorf("failed to create storage backend: %w", err)
	}

	config := compare.DefaultConfig()
	config.Width = o.width
	config.Height = o.height
	config.MaxPixels = o.maxPixels
	config.Resample = o.resample
	config.Filter = filter
	config.Visualize = o.visualize
	config.HighDifferenceThreshold = o.threshold

	comparer := compare.NewComparer(rasterizer, config)
	comparer.Logger = logger

	verdict, err := comparer.CompareRefs(ctx, s, baselineRef, targetRef)
	if err != nil {
		writeVerdict(stdout, verdict)
		return err
	}

	if o.save {
		if err := compare.SaveArtifacts(ctx, s, verdict, time.Now()); err != nil {
			return xerrors.Errorf("failed to save artifacts: %w", err)
		}
	}

	if verdict.LowConfidence() {
		logger.Warn("target was resampled; verdict is lower confidence", "from", verdict.Resize.From, "to", verdict.Resize.To)
	}

	return writeVerdict(stdout, verdict)
}

func writeVerdict(w io.Writer, v *compare.Verdict) error {
	if v == nil {
		return nil
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return xerrors.Errorf("failed to encode verdict: %w", err)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
