package rasterize

import (
	"context"
	"fmt"
	"time"

	diffimage "plot-oracle/internal/diff/image"

	"golang.org/x/xerrors"
)

const (
	DefaultWidth  = 800
	DefaultHeight = 600
)

type Document struct {
	Name string
	Data []byte
}

// Rasterizer renders a document to a bitmap of exactly width×height pixels, unless the
// backend states otherwise. Failures are reported as *RasterizationError.
type Rasterizer interface {
	Rasterize(ctx context.Context, doc Document, width int, height int) (*diffimage.Bitmap, error)
}

type RasterizationError struct {
	Document string
	Backend  string
	Err      error
}

func (e *RasterizationError) Error() string {
	return fmt.Sprintf("failed to rasterize %s with %s backend: %v", e.Document, e.Backend, e.Err)
}

func (e *RasterizationError) Unwrap() error {
	return e.Err
}

type Config struct {
	// Timeout bounds a single rasterization. Zero means no limit beyond the caller's context.
	Timeout    time.Duration
	Playwright PlaywrightConfig
}

func DefaultConfig() Config {
	return Config{
		Timeout:    30 * time.Second,
		Playwright: DefaultPlaywrightConfig(),
	}
}

// New selects a backend by name: "svg", "chromium" or "raster".
func New(ctx context.Context, backend string, c Config) (Rasterizer, error) {
	switch backend {
	case "svg", "":
		return NewSVGRasterizer(c), nil
	case "chromium":
		return NewPlaywrightRasterizer(ctx, c)
	case "raster":
		return NewDecodeRasterizer(), nil
	default:
		return nil, xerrors.Errorf("unknown rasterizer backend: %s", backend)
	}
}

type result struct {
	bitmap *diffimage.Bitmap
	err    error
}

// runWithTimeout runs a synchronous render and abandons it when ctx or the timeout
// expires. The render goroutine finishes on its own; its result is dropped.
func runWithTimeout(ctx context.Context, timeout time.Duration, render func() (*diffimage.Bitmap, error)) (*diffimage.Bitmap, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: xerrors.Errorf("renderer panicked: %v", r)}
			}
		}()
		b, err := render()
		done <- result{bitmap: b, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.bitmap, r.err
	}
}

func checkOutput(b *diffimage.Bitmap, width int, height int) error {
	if b == nil || len(b.Pix) == 0 {
		return xerrors.New("renderer produced no output")
	}
	if b.Width != width || b.Height != height {
		return xerrors.Errorf("renderer produced %dx%d, want %dx%d", b.Width, b.Height, width, height)
	}
	return nil
}
