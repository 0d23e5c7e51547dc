package rasterize

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"io"

	diffimage "plot-oracle/internal/diff/image"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/net/html/charset"
	"golang.org/x/xerrors"
)

type svgRasterizer struct {
	config Config
}

// NewSVGRasterizer renders SVG documents in-process. The drawing is stretched to the
// target size and composited over a white background.
func NewSVGRasterizer(c Config) Rasterizer {
	return &svgRasterizer{
		config: c,
	}
}

func (s *svgRasterizer) Rasterize(ctx context.Context, doc Document, width int, height int) (*diffimage.Bitmap, error) {
	b, err := runWithTimeout(ctx, s.config.Timeout, func() (*diffimage.Bitmap, error) {
		return s.render(doc.Data, width, height)
	})
	if err != nil {
		return nil, &RasterizationError{Document: doc.Name, Backend: "svg", Err: err}
	}
	return b, nil
}

func (s *svgRasterizer) render(data []byte, width int, height int) (*diffimage.Bitmap, error) {
	if width <= 0 || height <= 0 {
		return nil, xerrors.Errorf("invalid raster size %dx%d", width, height)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, xerrors.New("empty document")
	}

	if err := checkRoot(data); err != nil {
		return nil, err
	}

	// Unsupported elements are skipped silently; oksvg would otherwise report them
	// through the standard logger.
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, xerrors.Errorf("failed to parse SVG: %w", err)
	}
	if icon.ViewBox.W <= 0 || icon.ViewBox.H <= 0 {
		return nil, xerrors.Errorf("document has no drawable area (viewBox %gx%g)", icon.ViewBox.W, icon.ViewBox.H)
	}
	icon.SetTarget(0, 0, float64(width), float64(height))

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(width, height, canvas, canvas.Bounds())
	raster := rasterx.NewDasher(width, height, scanner)
	icon.Draw(raster, 1.0)

	b := diffimage.FromImage(canvas)
	if err := checkOutput(b, width, height); err != nil {
		return nil, err
	}
	return b, nil
}

// checkRoot requires the first element of data to be <svg>. oksvg accepts any
// well-formed text and draws nothing, so plain text, HTML or JSON would otherwise
// render as a blank page.
func checkRoot(data []byte) error {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.CharsetReader = charset.NewReaderLabel

	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			return xerrors.New("document has no root element")
		}
		if err != nil {
			return xerrors.Errorf("failed to parse SVG: %w", err)
		}
		if start, ok := token.(xml.StartElement); ok {
			if start.Name.Local != "svg" {
				return xerrors.Errorf("document root is <%s>, not <svg>", start.Name.Local)
			}
			return nil
		}
	}
}
