package agatston

import (
	"slices"

	"aocascore/pkg/severity"
)

// ScoreResult is the outcome of one scoring pass. A new calculation
// produces a new result; results are never merged.
type ScoreResult struct {
	// AgatstonScore is the score normalized to the 3 mm protocol
	AgatstonScore float64 `json:"agatston_score"`

	// RawAgatstonScore is the sum of slice scores before normalization
	RawAgatstonScore float64 `json:"raw_agatston_score"`

	NormalizationFactor float64 `json:"normalization_factor"`
	TotalVolumeMM3      float64 `json:"total_volume_mm3"`
	EquivalentMassMg    float64 `json:"equivalent_mass_mg"`

	// NumLesions counts lesions with at least one slice above the minimum area
	NumLesions int `json:"num_lesions"`

	MeanDensity float64 `json:"mean_density"`
	MaxDensity  float64 `json:"max_density"`

	// DensityDistribution holds the percentage of valid lesions whose peak
	// falls in density factor 1, 2, 3 and 4
	DensityDistribution [4]float64 `json:"density_distribution"`

	Classification string            `json:"classification"`
	Severity       severity.Severity `json:"severity"`
	PatientSex     severity.Sex      `json:"patient_sex"`
	PatientAge     *int              `json:"patient_age"`

	Lesions     []LesionSummary `json:"lesions,omitempty"`
	Diagnostics Diagnostics     `json:"diagnostics"`
}

// LesionSummary describes one valid lesion
type LesionSummary struct {
	ID         int     `json:"id"`
	Slices     []int   `json:"slices"`
	PixelCount int     `json:"pixel_count"`
	AreaMM2    float64 `json:"area_mm2"`
	Score      float64 `json:"score"`
	VolumeMM3  float64 `json:"volume_mm3"`
	MaxDensity float64 `json:"max_density"`
	DensityBin int     `json:"density_bin"`
}

// Diagnostics exposes the counts behind a result, including what the area
// filter removed
type Diagnostics struct {
	DetectedLesions    int     `json:"detected_lesions"`
	FilteredLesions    int     `json:"filtered_lesions"`
	SlicesProcessed    int     `json:"slices_processed"`
	SlicesFiltered     int     `json:"slices_filtered"`
	MinPixels          int     `json:"min_pixels"`
	MinAreaMM2         float64 `json:"min_area_mm2"`
	SliceStep          int     `json:"slice_step"`
	SliceSpacingMM     float64 `json:"slice_spacing_mm"`
	SliceThicknessMM   float64 `json:"slice_thickness_mm"`
	ThicknessDefaulted bool    `json:"thickness_defaulted"`
}

// EmptyResult is the canonical result when no calcium is scored
func EmptyResult(sex severity.Sex, age *int) *ScoreResult {
	return &ScoreResult{
		Classification: severity.NoCalcificationText,
		Severity:       severity.NormalMinimal,
		PatientSex:     sex,
		PatientAge:     cloneAge(age),
	}
}

// Empty reports whether no valid lesion was scored
func (r *ScoreResult) Empty() bool {
	return r.NumLesions == 0
}

// Clone returns a deep copy so callers cannot alter a cached result
func (r *ScoreResult) Clone() *ScoreResult {
	if r == nil {
		return nil
	}
	c := *r
	c.PatientAge = cloneAge(r.PatientAge)
	if r.Lesions != nil {
		c.Lesions = make([]LesionSummary, len(r.Lesions))
		for i, l := range r.Lesions {
			l.Slices = slices.Clone(l.Slices)
			c.Lesions[i] = l
		}
	}
	return &c
}

func cloneAge(age *int) *int {
	if age == nil {
		return nil
	}
	a := *age
	return &a
}
