package rasterize

import (
	"bytes"
	"context"
	"errors"
	"go/ast"
	"go/parser"
	"go/token"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	diffimage "plot-oracle/internal/diff/image"
)

const halfBlackSVG = `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="100" height="100" viewBox="0 0 100 100">
  <rect x="0" y="0" width="50" height="100" fill="#000000"/>
</svg>`

func TestSVGRasterizer_Rasterize(t *testing.T) {
	r := NewSVGRasterizer(DefaultConfig())
	ctx := context.Background()

	t.Run("Render", func(t *testing.T) {
		b, err := r.Rasterize(ctx, Document{Name: "half.svg", Data: []byte(halfBlackSVG)}, 200, 100)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		if b.Width != 200 || b.Height != 100 {
			t.Fatalf("Expected 200x100, got %dx%d", b.Width, b.Height)
		}
		if got := b.At(20, 50); got != (color.RGBA{A: 255}) {
			t.Errorf("Expected black on the left, got %v", got)
		}
		if got := b.At(180, 50); got != (color.RGBA{R: 255, G: 255, B: 255, A: 255}) {
			t.Errorf("Expected white background on the right, got %v", got)
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		for name, data := range map[string]string{
			"Truncated": "<svg><rect></svg>",
			"PlainText": "hello world, not svg",
			"HTML":      "<!DOCTYPE html><html><body>x</body></html>",
			"JSON":      `{"json":1}`,
			"NoArea":    `<svg xmlns="http://www.w3.org/2000/svg"><rect width="5" height="5"/></svg>`,
		} {
			data := data
			t.Run(name, func(t *testing.T) {
				var logged bytes.Buffer
				log.SetOutput(&logged)
				defer log.SetOutput(os.Stderr)

				_, err := r.Rasterize(ctx, Document{Name: "broken.svg", Data: []byte(data)}, 10, 10)

				var rerr *RasterizationError
				if !errors.As(err, &rerr) {
					t.Fatalf("Expected RasterizationError, got %v", err)
				}
				if rerr.Document != "broken.svg" || rerr.Backend != "svg" {
					t.Errorf("Unexpected error fields: %+v", rerr)
				}
				if logged.Len() != 0 {
					t.Errorf("Expected nothing on the standard logger, got %q", logged.String())
				}
			})
		}
	})

	t.Run("UnsupportedElementIsQuiet", func(t *testing.T) {
		var logged bytes.Buffer
		log.SetOutput(&logged)
		defer log.SetOutput(os.Stderr)

		data := `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 10 10"><foreignObject/><rect width="10" height="10"/></svg>`
		b, err := r.Rasterize(ctx, Document{Name: "foreign.svg", Data: []byte(data)}, 10, 10)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got := b.At(5, 5); got != (color.RGBA{A: 255}) {
			t.Errorf("Expected the rect to be drawn, got %v", got)
		}
		if logged.Len() != 0 {
			t.Errorf("Expected nothing on the standard logger, got %q", logged.String())
		}
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := r.Rasterize(ctx, Document{Name: "empty.svg"}, 10, 10)

		var rerr *RasterizationError
		if !errors.As(err, &rerr) {
			t.Fatalf("Expected RasterizationError, got %v", err)
		}
	})
}

func TestDecodeRasterizer_Rasterize(t *testing.T) {
	r := NewDecodeRasterizer()
	ctx := context.Background()

	t.Run("KeepsNativeSize", func(t *testing.T) {
		img := image.NewRGBA(image.Rect(0, 0, 40, 30))
		draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 1, G: 2, B: 3, A: 255}}, image.Point{}, draw.Src)

		var buffer bytes.Buffer
		if err := png.Encode(&buffer, img); err != nil {
			t.Fatalf("Failed to encode: %v", err)
		}

		b, err := r.Rasterize(ctx, Document{Name: "a.png", Data: buffer.Bytes()}, 800, 600)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if b.Width != 40 || b.Height != 30 {
			t.Errorf("Expected 40x30, got %dx%d", b.Width, b.Height)
		}
		if got := b.At(5, 5); got != (color.RGBA{R: 1, G: 2, B: 3, A: 255}) {
			t.Errorf("Unexpected pixel %v", got)
		}
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := r.Rasterize(ctx, Document{Name: "a.png", Data: []byte("not an image")}, 800, 600)

		var rerr *RasterizationError
		if !errors.As(err, &rerr) {
			t.Fatalf("Expected RasterizationError, got %v", err)
		}
	})
}

func TestRunWithTimeout(t *testing.T) {
	t.Run("Expires", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)

		_, err := runWithTimeout(context.Background(), 10*time.Millisecond, func() (*diffimage.Bitmap, error) {
			<-release
			return nil, nil
		})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Expected deadline exceeded, got %v", err)
		}
	})

	t.Run("Panics", func(t *testing.T) {
		_, err := runWithTimeout(context.Background(), time.Second, func() (*diffimage.Bitmap, error) {
			panic("boom")
		})
		if err == nil {
			t.Error("Expected error from panicking renderer")
		}
	})
}

func TestNew(t *testing.T) {
	if _, err := New(context.Background(), "cairo", DefaultConfig()); err == nil {
		t.Error("Expected error for unknown backend")
	}
	for _, backend := range []string{"svg", "raster", "chromium"} {
		if _, err := New(context.Background(), backend, DefaultConfig()); err != nil {
			t.Errorf("Unexpected error for %s: %v", backend, err)
		}
	}
}

func TestErrorsWrapWithXerrors(t *testing.T) {
	files, err := filepath.Glob("*.go")
	if err != nil {
		t.Fatal(err)
	}

	fset := token.NewFileSet()
	for _, file := range files {
		if strings.HasSuffix(file, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, file, nil, 0)
		if err != nil {
			t.Fatalf("Failed to parse %s: %v", file, err)
		}
		ast.Inspect(f, func(n ast.Node) bool {
			sel, ok := n.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			if x, ok := sel.X.(*ast.Ident); ok && x.Name == "fmt" && sel.Sel.Name == "Errorf" {
				t.Errorf("%s: use xerrors.Errorf instead of fmt.Errorf", fset.Position(sel.Pos()))
			}
			return true
		})
	}
}
