package compare

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	diffimage "plot-oracle/internal/diff/image"
	"plot-oracle/internal/rasterize"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

var tracer = otel.Tracer("plot-oracle/internal/compare")

type Config struct {
	Width  int
	Height int
	// MaxPixels caps Width*Height and the size of every rasterized bitmap. Zero disables
	// the cap.
	MaxPixels int

	// Resample stretches the target to the baseline size when they differ. When false a
	// size mismatch is fatal.
	Resample bool
	Filter   diffimage.Filter

	Visualize     bool
	Amplification int

	HighDifferenceThreshold float64
	// NotableThreshold and NotableLimit select the regions worth showing to a reader.
	NotableThreshold float64
	NotableLimit     int
	// CoverageThreshold is the colored-percent gap, in percentage points, above which the
	// two documents are flagged as having different amounts of content.
	CoverageThreshold float64
}

// DefaultMaxPixels admits a 4096x4096 canvas.
const DefaultMaxPixels = 4096 * 4096

// Validate rejects a canvas that is empty or larger than MaxPixels.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return xerrors.Errorf("invalid canvas size %dx%d", c.Width, c.Height)
	}
	return c.checkPixels(c.Width, c.Height)
}

func (c Config) checkPixels(width int, height int) error {
	if c.MaxPixels <= 0 {
		return nil
	}
	if width > c.MaxPixels/height {
		return xerrors.Errorf("canvas %dx%d exceeds the limit of %d pixels", width, height, c.MaxPixels)
	}
	return nil
}

func DefaultConfig() Config {
	return Config{
		Width:                   rasterize.DefaultWidth,
		Height:                  rasterize.DefaultHeight,
		MaxPixels:               DefaultMaxPixels,
		Resample:                true,
		Filter:                  diffimage.FilterLanczos3,
		Visualize:               true,
		Amplification:           diffimage.DefaultAmplification,
		HighDifferenceThreshold: 10.0,
		NotableThreshold:        1.0,
		NotableLimit:            5,
		CoverageThreshold:       5.0,
	}
}

type Comparer struct {
	Rasterizer rasterize.Rasterizer
	Differ     diffimage.Differ
	Regions    diffimage.Analyzer
	Detector   diffimage.Detector
	Visualizer diffimage.Renderer
	Config     Config
	Logger     *slog.Logger
}

func NewComparer(r rasterize.Rasterizer, c Config) *Comparer {
	return &Comparer{
		Rasterizer: r,
		Differ:     diffimage.NewPixelDiff(),
		Regions:    diffimage.NewRegionAnalyzer(),
		Detector:   diffimage.NewTransitionDetector(),
		Visualizer: diffimage.NewVisualizer(c.Amplification),
		Config:     c,
	}
}

func (c *Comparer) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Compare rasterizes both documents and runs every analysis stage. Unreadable input,
// rasterization failure and an unresolvable size mismatch are fatal and returned as the
// error, alongside a verdict recording the failed stage. Other stage failures are only
// recorded on the verdict.
func (c *Comparer) Compare(ctx context.Context, baseline rasterize.Document, target rasterize.Document) (*Verdict, error) {
	ctx, span := tracer.Start(ctx, "Compare")
	defer span.End()

	v := newVerdict(baseline.Name, target.Name)

	var baselineBitmap *diffimage.Bitmap
	var targetBitmap *diffimage.Bitmap

	// Step 1: Rasterize both documents in parallel
	if err := c.runStage(ctx, v, StageRasterize, func(ctx context.Context) error {
		if err := c.Config.Validate(); err != nil {
			return err
		}

		eg, ctx := errgroup.WithContext(ctx)

		eg.Go(func() error {
			b, err := c.rasterize(ctx, baseline)
			if err != nil {
				return err
			}
			baselineBitmap = b
			return nil
		})

		eg.Go(func() error {
			b, err := c.rasterize(ctx, target)
			if err != nil {
				return err
			}
			targetBitmap = b
			return nil
		})

		return eg.Wait()
	}); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return v, err
	}

	// Step 2: Bring the target to the baseline size
	if baselineBitmap.Width != targetBitmap.Width || baselineBitmap.Height != targetBitmap.Height {
		mismatch := &diffimage.DimensionMismatchError{
			Baseline: baselineBitmap.Size(),
			Target:   targetBitmap.Size(),
		}
		if !c.Config.Resample {
			v.record(StageResample, mismatch)
			span.SetStatus(codes.Error, mismatch.Error())
			return v, mismatch
		}

		if err := c.runStage(ctx, v, StageResample, func(ctx context.Context) error {
			c.logger().WarnContext(ctx, "resampling target to baseline size; comparison is lower confidence",
				"baseline", baseline.Name, "target", target.Name,
				"from", mismatch.Target, "to", mismatch.Baseline)

			resampled, err := diffimage.Resample(targetBitmap, baselineBitmap.Width, baselineBitmap.Height, c.Config.Filter)
			if err != nil {
				return xerrors.Errorf("failed to resample target: %w", err)
			}
			targetBitmap = resampled
			v.Resized = true
			v.Resize = &Resize{
				From:   mismatch.Target,
				To:     mismatch.Baseline,
				Filter: c.Config.Filter,
			}
			return nil
		}); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return v, err
		}
	}

	v.Width = baselineBitmap.Width
	v.Height = baselineBitmap.Height
	v.BaselineBitmap = baselineBitmap
	v.TargetBitmap = targetBitmap

	// Step 3: Pixel metrics and regions; structure detection runs alongside
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c.analyzeDifference(ctx, v, baselineBitmap, targetBitmap)
	}()

	go func() {
		defer wg.Done()
		c.analyzeStructure(ctx, v, baselineBitmap, targetBitmap)
	}()

	wg.Wait()

	// Step 4: Difference visualization
	if c.Config.Visualize {
		_ = c.runStage(ctx, v, StageVisualize, func(ctx context.Context) error {
			out, err := c.Visualizer.Render(baselineBitmap, targetBitmap)
			if err != nil {
				return &AnalysisError{Stage: StageVisualize, Err: err}
			}
			v.DiffBitmap = out
			return nil
		})
	}

	if v.Metrics != nil {
		span.SetAttributes(
			attribute.Float64("compare.percent_different", v.Metrics.PercentDifferent),
			attribute.String("compare.similarity", string(v.Similarity)),
		)
	}
	span.SetAttributes(attribute.Bool("compare.resized", v.Resized))

	return v, nil
}

// rasterize renders doc and rejects a bitmap the later stages cannot consume.
func (c *Comparer) rasterize(ctx context.Context, doc rasterize.Document) (*diffimage.Bitmap, error) {
	b, err := c.Rasterizer.Rasterize(ctx, doc, c.Config.Width, c.Config.Height)
	if err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, &rasterize.RasterizationError{Document: doc.Name, Backend: "rasterizer", Err: xerrors.Errorf("renderer produced no usable output: %w", err)}
	}
	if err := c.Config.checkPixels(b.Width, b.Height); err != nil {
		return nil, &rasterize.RasterizationError{Document: doc.Name, Backend: "rasterizer", Err: err}
	}
	return b, nil
}

func (c *Comparer) analyzeDifference(ctx context.Context, v *Verdict, baseline *diffimage.Bitmap, target *diffimage.Bitmap) {
	var diffMap *diffimage.DifferenceMap

	if err := c.runStage(ctx, v, StagePixelDiff, func(ctx context.Context) error {
		m, metrics, err := c.Differ.Calculate(baseline, target)
		if err != nil {
			var mismatch *diffimage.DimensionMismatchError
			if errors.As(err, &mismatch) {
				return err
			}
			return &AnalysisError{Stage: StagePixelDiff, Err: err}
		}
		diffMap = m
		v.Metrics = metrics
		v.Similarity = Classify(metrics.PercentDifferent)
		return nil
	}); err != nil {
		v.record(StageRegions, &AnalysisError{Stage: StageRegions, Err: xerrors.New("skipped: no difference map")})
		return
	}

	_ = c.runStage(ctx, v, StageRegions, func(ctx context.Context) error {
		report, err := c.Regions.Analyze(diffMap)
		if err != nil {
			return &AnalysisError{Stage: StageRegions, Err: err}
		}

		sorted := report.Sorted()
		v.Regions = sorted
		v.HighDifferenceRegions = report.Above(c.Config.HighDifferenceThreshold)

		notable := []string{}
		for _, region := range sorted {
			if len(notable) >= c.Config.NotableLimit {
				break
			}
			if region.Magnitude > c.Config.NotableThreshold {
				notable = append(notable, region.Name)
			}
		}
		v.NotableRegions = notable
		return nil
	})
}

func (c *Comparer) analyzeStructure(ctx context.Context, v *Verdict, baseline *diffimage.Bitmap, target *diffimage.Bitmap) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		_ = c.runStage(ctx, v, StageStructureBaseline, func(ctx context.Context) error {
			s, err := c.Detector.Detect(baseline)
			if err != nil {
				return &AnalysisError{Stage: StageStructureBaseline, Err: err}
			}
			v.BaselineStructure = s
			return nil
		})
	}()

	go func() {
		defer wg.Done()
		_ = c.runStage(ctx, v, StageStructureTarget, func(ctx context.Context) error {
			s, err := c.Detector.Detect(target)
			if err != nil {
				return &AnalysisError{Stage: StageStructureTarget, Err: err}
			}
			v.TargetStructure = s
			return nil
		})
	}()

	wg.Wait()

	if v.BaselineStructure != nil && v.TargetStructure != nil {
		gap := math.Abs(v.BaselineStructure.ColoredPercent - v.TargetStructure.ColoredPercent)
		v.CoverageDifference = &gap
		v.CoverageDiffers = gap > c.Config.CoverageThreshold
	}
}

// runStage records the outcome of fn on v. A panic inside fn becomes an AnalysisError
// for that stage.
func (c *Comparer) runStage(ctx context.Context, v *Verdict, stage Stage, fn func(ctx context.Context) error) (err error) {
	ctx, span := tracer.Start(ctx, string(stage))
	defer span.End()

	now := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &AnalysisError{Stage: stage, Err: xerrors.Errorf("panic: %v", r)}
		}

		v.record(stage, err)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.logger().WarnContext(ctx, "comparison stage failed", "stage", string(stage), "error", err)
			return
		}
		c.logger().DebugContext(ctx, "comparison stage finished", "stage", string(stage), "duration", time.Since(now))
	}()

	return fn(ctx)
}
