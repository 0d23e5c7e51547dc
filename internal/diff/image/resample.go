package image

import (
	"image"

	"github.com/nfnt/resize"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/xerrors"
)

type Filter string

const (
	FilterLanczos3   Filter = "lanczos3"
	FilterCatmullRom Filter = "catmull-rom"
	FilterBiLinear   Filter = "bilinear"
)

func ParseFilter(s string) (Filter, error) {
	switch f := Filter(s); f {
	case FilterLanczos3, FilterCatmullRom, FilterBiLinear:
		return f, nil
	case "":
		return FilterLanczos3, nil
	default:
		return "", xerrors.Errorf("unknown resample filter: %s", s)
	}
}

// Resample stretches b to width×height. Content is scaled, not cropped or padded.
func Resample(b *Bitmap, width int, height int, filter Filter) (*Bitmap, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, xerrors.Errorf("invalid resample size %dx%d", width, height)
	}
	if b.Width == width && b.Height == height {
		return b.Clone(), nil
	}

	src := b.ToImage()

	switch filter {
	case FilterLanczos3, "":
		return FromImage(resize.Resize(uint(width), uint(height), src, resize.Lanczos3)), nil
	case FilterCatmullRom:
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
		return FromImage(dst), nil
	case FilterBiLinear:
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
		return FromImage(dst), nil
	default:
		return nil, xerrors.Errorf("unknown resample filter: %s", filter)
	}
}
