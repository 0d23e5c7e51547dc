package image

// DifferenceMap holds per-channel absolute differences of two bitmaps. Pix has three
// values per cell, Magnitude one: the mean of the three channel differences.
type DifferenceMap struct {
	Width     int
	Height    int
	Pix       []float64
	Magnitude []float64
}

func (d *DifferenceMap) At(x int, y int) (r float64, g float64, b float64) {
	i := (y*d.Width + x) * 3
	return d.Pix[i], d.Pix[i+1], d.Pix[i+2]
}

func (d *DifferenceMap) MagnitudeAt(x int, y int) float64 {
	return d.Magnitude[y*d.Width+x]
}

type Metrics struct {
	TotalPixels      int64   `json:"totalPixels"`
	DifferentPixels  int64   `json:"differentPixels"`
	PercentDifferent float64 `json:"percentDifferent"`
	AvgDiffR         float64 `json:"avgDiffR"`
	AvgDiffG         float64 `json:"avgDiffG"`
	AvgDiffB         float64 `json:"avgDiffB"`
	AvgDiffTotal     float64 `json:"avgDiffTotal"`
	MaxDiff          float64 `json:"maxDiff"`
}

type PixelDiff struct{}

func NewPixelDiff() *PixelDiff {
	return &PixelDiff{}
}

type pixelStats struct {
	different int64
	sumR      int64
	sumG      int64
	sumB      int64
	max       int
}

// Calculate never resamples: bitmaps of different sizes yield a *DimensionMismatchError.
func (p *PixelDiff) Calculate(baseline *Bitmap, target *Bitmap) (*DifferenceMap, *Metrics, error) {
	if err := checkSameSize(baseline, target); err != nil {
		return nil, nil, err
	}

	width := baseline.Width
	height := baseline.Height
	total := width * height

	diff := &DifferenceMap{
		Width:     width,
		Height:    height,
		Pix:       make([]float64, total*3),
		Magnitude: make([]float64, total),
	}

	numWorkers := workerCount(height)
	partials := make([]pixelStats, numWorkers)

	forEachRowRange(height, numWorkers, func(worker int, startY int, endY int) {
		p.processRows(baseline, target, diff, startY, endY, &partials[worker])
	})

	var stats pixelStats
	for _, partial := range partials {
		stats.different += partial.different
		stats.sumR += partial.sumR
		stats.sumG += partial.sumG
		stats.sumB += partial.sumB
		if partial.max > stats.max {
			stats.max = partial.max
		}
	}

	n := float64(total)
	return diff, &Metrics{
		TotalPixels:      int64(total),
		DifferentPixels:  stats.different,
		PercentDifferent: 100 * float64(stats.different) / n,
		AvgDiffR:         float64(stats.sumR) / n,
		AvgDiffG:         float64(stats.sumG) / n,
		AvgDiffB:         float64(stats.sumB) / n,
		AvgDiffTotal:     float64(stats.sumR+stats.sumG+stats.sumB) / (3 * n),
		MaxDiff:          float64(stats.max),
	}, nil
}

func (p *PixelDiff) processRows(baseline *Bitmap, target *Bitmap, diff *DifferenceMap, startY int, endY int, stats *pixelStats) {
	var local pixelStats

	for i := startY * baseline.Width; i < endY*baseline.Width; i++ {
		offset := i * 3

		dr := absDiff(baseline.Pix[offset], target.Pix[offset])
		dg := absDiff(baseline.Pix[offset+1], target.Pix[offset+1])
		db := absDiff(baseline.Pix[offset+2], target.Pix[offset+2])

		diff.Pix[offset] = float64(dr)
		diff.Pix[offset+1] = float64(dg)
		diff.Pix[offset+2] = float64(db)
		diff.Magnitude[i] = float64(dr+dg+db) / 3

		if dr > 0 || dg > 0 || db > 0 {
			local.different++
		}
		local.sumR += int64(dr)
		local.sumG += int64(dg)
		local.sumB += int64(db)
		local.max = max(local.max, dr, dg, db)
	}

	*stats = local
}

// absDiff widens to int so the subtraction cannot wrap around.
func absDiff(a uint8, b uint8) int {
	d := int(a) - int(b)
	if d < 0 {
		return -d
	}
	return d
}
