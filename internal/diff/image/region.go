package image

import (
	"image"
	"slices"

	"golang.org/x/xerrors"
)

var RegionNames = [9]string{
	"top-left", "top-center", "top-right",
	"mid-left", "mid-center", "mid-right",
	"bottom-left", "bottom-center", "bottom-right",
}

type Region struct {
	Name      string          `json:"name"`
	Bounds    image.Rectangle `json:"bounds"`
	Pixels    int             `json:"pixels"`
	Magnitude float64         `json:"magnitude"`
}

// RegionReport lists the nine regions in row-major order.
type RegionReport []Region

func (r RegionReport) Get(name string) (Region, bool) {
	for _, region := range r {
		if region.Name == name {
			return region, true
		}
	}
	return Region{}, false
}

// Sorted returns a copy ordered by descending magnitude. Ties keep row-major order.
func (r RegionReport) Sorted() RegionReport {
	sorted := slices.Clone(r)
	slices.SortStableFunc(sorted, func(a Region, b Region) int {
		switch {
		case a.Magnitude > b.Magnitude:
			return -1
		case a.Magnitude < b.Magnitude:
			return 1
		default:
			return 0
		}
	})
	return sorted
}

// Above returns the names of regions whose magnitude is strictly greater than threshold,
// in descending magnitude order.
func (r RegionReport) Above(threshold float64) []string {
	names := []string{}
	for _, region := range r.Sorted() {
		if region.Magnitude > threshold {
			names = append(names, region.Name)
		}
	}
	return names
}

type RegionAnalyzer struct{}

func NewRegionAnalyzer() *RegionAnalyzer {
	return &RegionAnalyzer{}
}

// RegionBounds partitions a width×height grid into a 3×3 grid of rectangles. The first
// two bands of each axis span dimension/3 pixels and the last band runs to the far edge.
func RegionBounds(width int, height int) [9]image.Rectangle {
	hThird := height / 3
	wThird := width / 3

	var bounds [9]image.Rectangle
	for i := range bounds {
		row := i / 3
		col := i % 3

		yStart := row * hThird
		yEnd := height
		if row < 2 {
			yEnd = (row + 1) * hThird
		}
		xStart := col * wThird
		xEnd := width
		if col < 2 {
			xEnd = (col + 1) * wThird
		}

		bounds[i] = image.Rect(xStart, yStart, xEnd, yEnd)
	}
	return bounds
}

// Analyze averages the magnitude cells inside each region. Regions that are empty
// because a dimension is smaller than three report zero.
func (a *RegionAnalyzer) Analyze(diff *DifferenceMap) (RegionReport, error) {
	if diff == nil || diff.Width <= 0 || diff.Height <= 0 {
		return nil, xerrors.New("empty difference map")
	}
	if len(diff.Magnitude) != diff.Width*diff.Height {
		return nil, xerrors.Errorf("difference map has %d cells, want %d", len(diff.Magnitude), diff.Width*diff.Height)
	}

	report := make(RegionReport, len(RegionNames))
	for i, rect := range RegionBounds(diff.Width, diff.Height) {
		sum := 0.0
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			row := diff.Magnitude[y*diff.Width+rect.Min.X : y*diff.Width+rect.Max.X]
			for _, v := range row {
				sum += v
			}
		}

		pixels := rect.Dx() * rect.Dy()
		magnitude := 0.0
		if pixels > 0 {
			magnitude = sum / float64(pixels)
		}

		report[i] = Region{
			Name:      RegionNames[i],
			Bounds:    rect,
			Pixels:    pixels,
			Magnitude: magnitude,
		}
	}

	return report, nil
}
