package compare

import (
	"image"
	"sync"

	diffimage "plot-oracle/internal/diff/image"
)

type Stage string

const (
	StageLoad              Stage = "load"
	StageRasterize         Stage = "rasterize"
	StageResample          Stage = "resample"
	StagePixelDiff         Stage = "pixel-diff"
	StageRegions           Stage = "regions"
	StageStructureBaseline Stage = "structure-baseline"
	StageStructureTarget   Stage = "structure-target"
	StageVisualize         Stage = "visualize"
)

var stageOrder = []Stage{
	StageLoad,
	StageRasterize,
	StageResample,
	StagePixelDiff,
	StageRegions,
	StageStructureBaseline,
	StageStructureTarget,
	StageVisualize,
}

type Similarity string

const (
	NearlyIdentical        Similarity = "nearly identical"
	VerySimilar            Similarity = "very similar"
	MinorDifferences       Similarity = "minor differences"
	SignificantlyDifferent Similarity = "significantly different"
)

// Classify maps the percentage of differing pixels to a similarity class.
func Classify(percentDifferent float64) Similarity {
	switch {
	case percentDifferent < 0.1:
		return NearlyIdentical
	case percentDifferent < 1.0:
		return VerySimilar
	case percentDifferent < 10.0:
		return MinorDifferences
	default:
		return SignificantlyDifferent
	}
}

type StageStatus struct {
	Stage     Stage  `json:"stage"`
	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`
}

// Resize records that the target was stretched to the baseline size. Comparisons that
// went through a resize are lower confidence than native-size ones.
type Resize struct {
	From   image.Point      `json:"from"`
	To     image.Point      `json:"to"`
	Filter diffimage.Filter `json:"filter"`
}

type Artifacts struct {
	BaselinePath string `json:"baselinePath,omitempty"`
	TargetPath   string `json:"targetPath,omitempty"`
	DiffPath     string `json:"diffPath,omitempty"`
}

type Verdict struct {
	Baseline string `json:"baseline"`
	Target   string `json:"target"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`

	Metrics    *diffimage.Metrics `json:"metrics,omitempty"`
	Similarity Similarity         `json:"similarity,omitempty"`

	// Regions is sorted by descending magnitude.
	Regions               diffimage.RegionReport `json:"regions,omitempty"`
	NotableRegions        []string               `json:"notableRegions,omitempty"`
	HighDifferenceRegions []string               `json:"highDifferenceRegions,omitempty"`

	BaselineStructure  *diffimage.Structure `json:"baselineStructure,omitempty"`
	TargetStructure    *diffimage.Structure `json:"targetStructure,omitempty"`
	CoverageDifference *float64             `json:"coverageDifference,omitempty"`
	CoverageDiffers    bool                 `json:"coverageDiffers,omitempty"`

	Resized bool    `json:"resized"`
	Resize  *Resize `json:"resize,omitempty"`

	Artifacts *Artifacts    `json:"artifacts,omitempty"`
	Stages    []StageStatus `json:"stages"`

	BaselineBitmap *diffimage.Bitmap `json:"-"`
	TargetBitmap   *diffimage.Bitmap `json:"-"`
	DiffBitmap     *diffimage.Bitmap `json:"-"`

	mu     sync.Mutex
	status map[Stage]error
}

func newVerdict(baseline string, target string) *Verdict {
	return &Verdict{
		Baseline: baseline,
		Target:   target,
		Stages:   []StageStatus{},
		status:   map[Stage]error{},
	}
}

func (v *Verdict) record(stage Stage, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.status[stage] = err

	v.Stages = v.Stages[:0]
	for _, s := range stageOrder {
		err, ok := v.status[s]
		if !ok {
			continue
		}
		status := StageStatus{Stage: s, Succeeded: err == nil}
		if err != nil {
			status.Error = err.Error()
		}
		v.Stages = append(v.Stages, status)
	}
}

// Err returns the failure of stage, or nil when it succeeded or did not run.
func (v *Verdict) Err(stage Stage) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status[stage]
}

func (v *Verdict) Ran(stage Stage) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.status[stage]
	return ok
}

func (v *Verdict) Failed() []Stage {
	v.mu.Lock()
	defer v.mu.Unlock()

	failed := []Stage{}
	for _, s := range stageOrder {
		if err := v.status[s]; err != nil {
			failed = append(failed, s)
		}
	}
	return failed
}

// LowConfidence is true when the compared bitmaps were not both rendered at the same size.
func (v *Verdict) LowConfidence() bool {
	return v.Resized
}
