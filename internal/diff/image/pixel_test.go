package image

import (
	"errors"
	"image/color"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func createTestBitmap(t testing.TB, width, height int, c color.Color) *Bitmap {
	t.Helper()
	b, err := NewUniformBitmap(width, height, c)
	if err != nil {
		t.Fatalf("Failed to create bitmap: %v", err)
	}
	return b
}

func TestPixelDiff_Calculate(t *testing.T) {
	pd := NewPixelDiff()

	t.Run("NoDifference", func(t *testing.T) {
		img1 := createTestBitmap(t, 100, 100, color.White)
		img2 := createTestBitmap(t, 100, 100, color.White)

		_, metrics, err := pd.Calculate(img1, img2)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		want := &Metrics{TotalPixels: 10000}
		if diff := cmp.Diff(want, metrics); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("SelfComparison", func(t *testing.T) {
		img := createTestBitmap(t, 37, 11, color.RGBA{R: 12, G: 200, B: 99, A: 255})
		img.Set(3, 4, color.Black)

		_, metrics, err := pd.Calculate(img, img)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		if metrics.PercentDifferent != 0 || metrics.AvgDiffTotal != 0 || metrics.MaxDiff != 0 {
			t.Errorf("Expected zero difference for self comparison, got %+v", metrics)
		}
	})

	t.Run("IdenticalBlack2x2", func(t *testing.T) {
		img1 := createTestBitmap(t, 2, 2, color.Black)
		img2 := createTestBitmap(t, 2, 2, color.Black)

		_, metrics, err := pd.Calculate(img1, img2)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		if metrics.PercentDifferent != 0 {
			t.Errorf("Expected PercentDifferent to be 0, got %f", metrics.PercentDifferent)
		}
	})

	t.Run("CompleteDifference", func(t *testing.T) {
		img1 := createTestBitmap(t, 100, 100, color.White)
		img2 := createTestBitmap(t, 100, 100, color.Black)

		_, metrics, err := pd.Calculate(img1, img2)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		want := &Metrics{
			TotalPixels:      10000,
			DifferentPixels:  10000,
			PercentDifferent: 100,
			AvgDiffR:         255,
			AvgDiffG:         255,
			AvgDiffB:         255,
			AvgDiffTotal:     255,
			MaxDiff:          255,
		}
		if diff := cmp.Diff(want, metrics); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("PartialDifference", func(t *testing.T) {
		img1 := createTestBitmap(t, 100, 100, color.White)
		img2 := createTestBitmap(t, 100, 100, color.White)

		for y := 0; y < 50; y++ {
			for x := 0; x < 100; x++ {
				img2.Set(x, y, color.Black)
			}
		}

		_, metrics, err := pd.Calculate(img1, img2)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		if metrics.PercentDifferent != 50 {
			t.Errorf("Expected PercentDifferent to be 50, got %f", metrics.PercentDifferent)
		}
		if metrics.AvgDiffTotal != 127.5 {
			t.Errorf("Expected AvgDiffTotal to be 127.5, got %f", metrics.AvgDiffTotal)
		}
	})

	t.Run("SinglePixel3x3", func(t *testing.T) {
		img1 := createTestBitmap(t, 3, 3, color.White)
		img2 := img1.Clone()
		img2.Set(1, 2, color.Black)

		diffMap, metrics, err := pd.Calculate(img1, img2)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		if metrics.DifferentPixels != 1 {
			t.Errorf("Expected DifferentPixels to be 1, got %d", metrics.DifferentPixels)
		}
		if math.Abs(metrics.PercentDifferent-100.0/9) > 1e-9 {
			t.Errorf("Expected PercentDifferent to be 11.11, got %f", metrics.PercentDifferent)
		}
		if got := diffMap.MagnitudeAt(1, 2); got != 255 {
			t.Errorf("Expected magnitude 255 at (1,2), got %f", got)
		}
	})

	t.Run("SingleChannel", func(t *testing.T) {
		img1 := createTestBitmap(t, 4, 1, color.RGBA{R: 100, G: 100, B: 100, A: 255})
		img2 := img1.Clone()
		img2.Set(0, 0, color.RGBA{R: 130, G: 100, B: 100, A: 255})

		diffMap, metrics, err := pd.Calculate(img1, img2)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		r, g, b := diffMap.At(0, 0)
		if r != 30 || g != 0 || b != 0 {
			t.Errorf("Expected (30, 0, 0), got (%f, %f, %f)", r, g, b)
		}
		if diffMap.MagnitudeAt(0, 0) != 10 {
			t.Errorf("Expected magnitude 10, got %f", diffMap.MagnitudeAt(0, 0))
		}
		want := &Metrics{
			TotalPixels:      4,
			DifferentPixels:  1,
			PercentDifferent: 25,
			AvgDiffR:         7.5,
			AvgDiffTotal:     2.5,
			MaxDiff:          30,
		}
		if diff := cmp.Diff(want, metrics); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("Symmetry", func(t *testing.T) {
		img1 := createTestBitmap(t, 17, 23, color.White)
		img2 := createTestBitmap(t, 17, 23, color.White)
		for y := 0; y < 23; y++ {
			for x := 0; x < 17; x++ {
				img1.Set(x, y, color.RGBA{R: uint8(x * 13), G: uint8(y * 7), B: uint8(x * y), A: 255})
				img2.Set(x, y, color.RGBA{R: uint8(y * 11), G: uint8(x * 5), B: 200, A: 255})
			}
		}

		forwardMap, forward, err := pd.Calculate(img1, img2)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		backwardMap, backward, err := pd.Calculate(img2, img1)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		if diff := cmp.Diff(forward, backward); diff != "" {
			t.Errorf("metrics (-forward +backward):\n%s", diff)
		}
		if diff := cmp.Diff(forwardMap, backwardMap); diff != "" {
			t.Errorf("map (-forward +backward):\n%s", diff)
		}
		if forward.DifferentPixels > forward.TotalPixels {
			t.Errorf("DifferentPixels %d exceeds TotalPixels %d", forward.DifferentPixels, forward.TotalPixels)
		}
		if diff := cmp.Diff(mean(forwardMap.Magnitude), forward.AvgDiffTotal, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
			t.Errorf("mean magnitude (-map +metrics):\n%s", diff)
		}
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		img1 := createTestBitmap(t, 10, 10, color.White)
		img2 := createTestBitmap(t, 10, 11, color.White)

		_, _, err := pd.Calculate(img1, img2)

		var mismatch *DimensionMismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("Expected DimensionMismatchError, got %v", err)
		}
		if mismatch.Target.Y != 11 {
			t.Errorf("Expected target height 11, got %d", mismatch.Target.Y)
		}
	})
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func BenchmarkPixelDiff_Calculate_Small(b *testing.B) {
	pd := NewPixelDiff()
	img1 := createTestBitmap(b, 1920, 1080, color.White)
	img2 := createTestBitmap(b, 1920, 1080, color.White)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = pd.Calculate(img1, img2)
	}
}

func BenchmarkPixelDiff_Calculate_Large(b *testing.B) {
	pd := NewPixelDiff()
	img1 := createTestBitmap(b, 3840, 2160, color.White)
	img2 := createTestBitmap(b, 3840, 2160, color.White)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = pd.Calculate(img1, img2)
	}
}
