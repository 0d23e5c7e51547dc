package image

const DefaultAmplification = 10

// Visualizer renders the channel-wise difference of two bitmaps, amplified and clamped
// to [0, 255] so that small differences become visible. Display only.
type Visualizer struct {
	amplification int
}

func NewVisualizer(amplification int) *Visualizer {
	if amplification <= 0 {
		amplification = DefaultAmplification
	}
	return &Visualizer{
		amplification: amplification,
	}
}

func (v *Visualizer) Render(baseline *Bitmap, target *Bitmap) (*Bitmap, error) {
	if err := checkSameSize(baseline, target); err != nil {
		return nil, err
	}

	out := &Bitmap{
		Width:  baseline.Width,
		Height: baseline.Height,
		Pix:    make([]uint8, len(baseline.Pix)),
	}

	forEachRowRange(baseline.Height, workerCount(baseline.Height), func(_ int, startY int, endY int) {
		for i := startY * baseline.Width * 3; i < endY*baseline.Width*3; i++ {
			out.Pix[i] = uint8(min(absDiff(baseline.Pix[i], target.Pix[i])*v.amplification, 255))
		}
	})

	return out, nil
}
