package image

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/xerrors"
)

// Bitmap is a row-major RGB raster. Pix holds three bytes per pixel.
type Bitmap struct {
	Width  int
	Height int
	Pix    []uint8
}

func NewBitmap(width int, height int) (*Bitmap, error) {
	if width <= 0 || height <= 0 {
		return nil, xerrors.Errorf("invalid bitmap size %dx%d", width, height)
	}
	return &Bitmap{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*3),
	}, nil
}

// NewUniformBitmap returns a bitmap filled with a single color.
func NewUniformBitmap(width int, height int, c color.Color) (*Bitmap, error) {
	b, err := NewBitmap(width, height)
	if err != nil {
		return nil, err
	}
	rgba := color.RGBAModel.Convert(c).(color.RGBA)
	for i := 0; i < len(b.Pix); i += 3 {
		b.Pix[i] = rgba.R
		b.Pix[i+1] = rgba.G
		b.Pix[i+2] = rgba.B
	}
	return b, nil
}

// FromImage converts img to a Bitmap, compositing any transparency over white.
func FromImage(img image.Image) *Bitmap {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), img, bounds.Min, draw.Over)

	b := &Bitmap{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*3),
	}
	for y := 0; y < height; y++ {
		row := canvas.PixOffset(0, y)
		for x := 0; x < width; x++ {
			src := row + x*4
			dst := (y*width + x) * 3
			b.Pix[dst] = canvas.Pix[src]
			b.Pix[dst+1] = canvas.Pix[src+1]
			b.Pix[dst+2] = canvas.Pix[src+2]
		}
	}
	return b
}

func (b *Bitmap) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, b.Width, b.Height))
	for i, j := 0, 0; i < len(b.Pix); i, j = i+3, j+4 {
		img.Pix[j] = b.Pix[i]
		img.Pix[j+1] = b.Pix[i+1]
		img.Pix[j+2] = b.Pix[i+2]
		img.Pix[j+3] = 255
	}
	return img
}

func (b *Bitmap) Size() image.Point {
	return image.Pt(b.Width, b.Height)
}

func (b *Bitmap) At(x int, y int) color.RGBA {
	i := (y*b.Width + x) * 3
	return color.RGBA{R: b.Pix[i], G: b.Pix[i+1], B: b.Pix[i+2], A: 255}
}

func (b *Bitmap) Set(x int, y int, c color.Color) {
	rgba := color.RGBAModel.Convert(c).(color.RGBA)
	i := (y*b.Width + x) * 3
	b.Pix[i] = rgba.R
	b.Pix[i+1] = rgba.G
	b.Pix[i+2] = rgba.B
}

// Clone returns a deep copy; bitmaps handed to the analysis stages are never mutated.
func (b *Bitmap) Clone() *Bitmap {
	pix := make([]uint8, len(b.Pix))
	copy(pix, b.Pix)
	return &Bitmap{Width: b.Width, Height: b.Height, Pix: pix}
}

// Validate reports whether b is non-nil and its pixel buffer matches its size.
func (b *Bitmap) Validate() error {
	if b == nil {
		return xerrors.New("nil bitmap")
	}
	if b.Width <= 0 || b.Height <= 0 {
		return xerrors.Errorf("invalid bitmap size %dx%d", b.Width, b.Height)
	}
	if len(b.Pix) != b.Width*b.Height*3 {
		return xerrors.Errorf("bitmap has %d bytes, want %d", len(b.Pix), b.Width*b.Height*3)
	}
	return nil
}

type DimensionMismatchError struct {
	Baseline image.Point
	Target   image.Point
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: %dx%d vs %dx%d", e.Baseline.X, e.Baseline.Y, e.Target.X, e.Target.Y)
}

func checkSameSize(baseline *Bitmap, target *Bitmap) error {
	if err := baseline.Validate(); err != nil {
		return xerrors.Errorf("invalid baseline: %w", err)
	}
	if err := target.Validate(); err != nil {
		return xerrors.Errorf("invalid target: %w", err)
	}
	if baseline.Width != target.Width || baseline.Height != target.Height {
		return &DimensionMismatchError{
			Baseline: baseline.Size(),
			Target:   target.Size(),
		}
	}
	return nil
}

// Differ computes the difference map and aggregate metrics of two same-sized bitmaps.
type Differ interface {
	Calculate(baseline *Bitmap, target *Bitmap) (*DifferenceMap, *Metrics, error)
}

// Detector extracts a structural signature from a single bitmap.
type Detector interface {
	Detect(b *Bitmap) (*Structure, error)
}

// Analyzer summarizes a difference map per named region.
type Analyzer interface {
	Analyze(d *DifferenceMap) (RegionReport, error)
}

// Renderer draws a visualization of two same-sized bitmaps.
type Renderer interface {
	Render(baseline *Bitmap, target *Bitmap) (*Bitmap, error)
}
