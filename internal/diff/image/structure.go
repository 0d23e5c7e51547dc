package image

// Structure is a coarse signature of a single bitmap's content.
type Structure struct {
	ColoredPixels         int64   `json:"coloredPixels"`
	ColoredPercent        float64 `json:"coloredPercent"`
	HorizontalTransitions int     `json:"horizontalTransitions"`
	VerticalTransitions   int     `json:"verticalTransitions"`
}

// TransitionDetector treats near-white pixels as background and counts the last row
// (and column) of every content band as a transition. It approximates axis and border
// lines and makes no claim of shape recognition.
type TransitionDetector struct {
	backgroundThreshold uint8
}

func NewTransitionDetector() *TransitionDetector {
	return &TransitionDetector{
		backgroundThreshold: 250,
	}
}

type structureStats struct {
	colored   int64
	colsTaken []bool
}

func (t *TransitionDetector) Detect(b *Bitmap) (*Structure, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	rowHasContent := make([]bool, b.Height)

	numWorkers := workerCount(b.Height)
	partials := make([]structureStats, numWorkers)

	forEachRowRange(b.Height, numWorkers, func(worker int, startY int, endY int) {
		local := structureStats{
			colsTaken: make([]bool, b.Width),
		}
		for y := startY; y < endY; y++ {
			for x := 0; x < b.Width; x++ {
				if t.isColored(b, (y*b.Width+x)*3) {
					local.colored++
					rowHasContent[y] = true
					local.colsTaken[x] = true
				}
			}
		}
		partials[worker] = local
	})

	colHasContent := make([]bool, b.Width)
	var colored int64
	for _, partial := range partials {
		colored += partial.colored
		for x, taken := range partial.colsTaken {
			if taken {
				colHasContent[x] = true
			}
		}
	}

	return &Structure{
		ColoredPixels:         colored,
		ColoredPercent:        100 * float64(colored) / float64(b.Width*b.Height),
		HorizontalTransitions: countTransitions(rowHasContent),
		VerticalTransitions:   countTransitions(colHasContent),
	}, nil
}

func (t *TransitionDetector) isColored(b *Bitmap, offset int) bool {
	return b.Pix[offset] < t.backgroundThreshold ||
		b.Pix[offset+1] < t.backgroundThreshold ||
		b.Pix[offset+2] < t.backgroundThreshold
}

// countTransitions counts indices i where i has content and i+1 has none.
// The last index is never compared past the boundary.
func countTransitions(hasContent []bool) int {
	transitions := 0
	for i := 0; i+1 < len(hasContent); i++ {
		if hasContent[i] && !hasContent[i+1] {
			transitions++
		}
	}
	return transitions
}
