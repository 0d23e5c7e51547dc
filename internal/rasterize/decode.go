package rasterize

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	diffimage "plot-oracle/internal/diff/image"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"golang.org/x/xerrors"
)

type decodeRasterizer struct{}

// NewDecodeRasterizer accepts documents that are already bitmaps (PNG, JPEG, GIF, BMP,
// WebP). It keeps the native size and ignores the requested one, so mismatched inputs
// reach the resampling step.
func NewDecodeRasterizer() Rasterizer {
	return &decodeRasterizer{}
}

func (d *decodeRasterizer) Rasterize(ctx context.Context, doc Document, width int, height int) (*diffimage.Bitmap, error) {
	if err := ctx.Err(); err != nil {
		return nil, &RasterizationError{Document: doc.Name, Backend: "raster", Err: err}
	}

	img, _, err := image.Decode(bytes.NewReader(doc.Data))
	if err != nil {
		return nil, &RasterizationError{Document: doc.Name, Backend: "raster", Err: xerrors.Errorf("failed to decode image: %w", err)}
	}
	if img.Bounds().Empty() {
		return nil, &RasterizationError{Document: doc.Name, Backend: "raster", Err: xerrors.New("renderer produced no output")}
	}

	return diffimage.FromImage(img), nil
}
