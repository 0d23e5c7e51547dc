package image

import (
	"errors"
	"image/color"
	"testing"
)

func TestVisualizer_Render(t *testing.T) {
	v := NewVisualizer(DefaultAmplification)

	t.Run("Amplified", func(t *testing.T) {
		img1 := createTestBitmap(t, 4, 4, color.RGBA{R: 100, G: 100, B: 100, A: 255})
		img2 := img1.Clone()
		img2.Set(1, 1, color.RGBA{R: 130, G: 105, B: 100, A: 255})

		out, err := v.Render(img1, img2)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		if got := out.At(1, 1); got != (color.RGBA{R: 255, G: 50, B: 0, A: 255}) {
			t.Errorf("Expected (255, 50, 0), got %v", got)
		}
		if got := out.At(0, 0); got != (color.RGBA{A: 255}) {
			t.Errorf("Expected black for unchanged pixel, got %v", got)
		}
	})

	t.Run("Identical", func(t *testing.T) {
		img := createTestBitmap(t, 8, 3, color.White)

		out, err := v.Render(img, img)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		for i, p := range out.Pix {
			if p != 0 {
				t.Fatalf("Expected zero at %d, got %d", i, p)
			}
		}
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		_, err := v.Render(createTestBitmap(t, 2, 2, color.White), createTestBitmap(t, 3, 2, color.White))

		var mismatch *DimensionMismatchError
		if !errors.As(err, &mismatch) {
			t.Errorf("Expected DimensionMismatchError, got %v", err)
		}
	})
}
