package agatston

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"aocascore/internal/models"
	"aocascore/pkg/labeling"
)

// ErrDataIntegrity is returned when a labelled voxel has a NaN or infinite
// intensity, which would corrupt the score.
var ErrDataIntegrity = errors.New("data integrity fault")

// HydroxyapatiteMgPerMM3 converts HU/1000 times volume into an equivalent
// calcium hydroxyapatite mass
const HydroxyapatiteMgPerMM3 = 1.2

// LesionSlice holds the intensities of one lesion's voxels on one slice,
// in raster order
type LesionSlice struct {
	Z         int
	Densities []float64
}

// Lesion is a labelled lesion with its voxels grouped by slice in
// ascending z order
type Lesion struct {
	ID     int
	Slices []LesionSlice
}

// MaxDensity is the peak intensity over the whole lesion
func (l *Lesion) MaxDensity() float64 {
	peak := math.Inf(-1)
	for _, s := range l.Slices {
		if m := floats.Max(s.Densities); m > peak {
			peak = m
		}
	}
	return peak
}

// CollectLesions gathers the intensities of every labelled voxel, grouped by
// lesion ID (index 0 of the result is lesion 1) and slice
func CollectLesions(labels *labeling.Labels, volume *models.Volume) ([]Lesion, error) {
	if labels.Width != volume.Width || labels.Height != volume.Height || labels.Depth != volume.Depth ||
		len(labels.Data) != len(volume.Data) {
		return nil, fmt.Errorf("%w: labels %dx%dx%d, volume %dx%dx%d", models.ErrGridMismatch,
			labels.Width, labels.Height, labels.Depth, volume.Width, volume.Height, volume.Depth)
	}

	lesions := make([]Lesion, labels.NumLesions)
	for i := range lesions {
		lesions[i].ID = i + 1
	}
	if labels.NumLesions == 0 {
		return lesions, nil
	}

	sliceLen := volume.SliceLen()
	for z := 0; z < labels.Depth; z++ {
		base := z * sliceLen
		for i, id := range labels.Slice(z) {
			if id == 0 {
				continue
			}
			hu := volume.Data[base+i]
			if math.IsNaN(hu) || math.IsInf(hu, 0) {
				return nil, fmt.Errorf("%w: intensity %v at x=%d y=%d z=%d", ErrDataIntegrity,
					hu, i%volume.Width, i/volume.Width, z)
			}

			l := &lesions[id-1]
			if n := len(l.Slices); n == 0 || l.Slices[n-1].Z != z {
				l.Slices = append(l.Slices, LesionSlice{Z: z})
			}
			last := &l.Slices[len(l.Slices)-1]
			last.Densities = append(last.Densities, hu)
		}
	}

	return lesions, nil
}

// LesionScore is the result of scoring every slice of one lesion
type LesionScore struct {
	Lesion         Lesion
	Contributions  []SliceContribution
	FilteredSlices int
	Score          float64
	VolumeMM3      float64
}

// Valid reports whether at least one slice passed the area filter
func (ls *LesionScore) Valid() bool {
	return len(ls.Contributions) > 0
}

// ScoreLesion scores each slice of l in ascending z order
func (s SliceScorer) ScoreLesion(l Lesion) LesionScore {
	out := LesionScore{Lesion: l}
	for _, sl := range l.Slices {
		c, ok := s.Score(sl.Densities)
		if !ok {
			out.FilteredSlices++
			continue
		}
		c.Lesion = l.ID
		c.Slice = sl.Z
		out.Contributions = append(out.Contributions, c)
		out.Score += c.Score
		out.VolumeMM3 += c.VolumeMM3
	}
	return out
}

// ScoreLesions scores all lesions, preserving ID order
func (s SliceScorer) ScoreLesions(lesions []Lesion) []LesionScore {
	scores := make([]LesionScore, len(lesions))
	for i, l := range lesions {
		scores[i] = s.ScoreLesion(l)
	}
	return scores
}

// Aggregator sums lesion scores into exam totals
type Aggregator struct {
	NormalizationFactor float64
}

// Aggregate builds the unclassified result from lesion scores. Lesions
// without a valid slice are excluded from every total and only counted in
// the diagnostics. When no lesion is valid the result is the canonical empty
// result.
func (a Aggregator) Aggregate(scores []LesionScore) *ScoreResult {
	r := &ScoreResult{NormalizationFactor: a.NormalizationFactor}
	r.Diagnostics.DetectedLesions = len(scores)

	var (
		bins   [4]int
		pooled []float64
	)

	for i := range scores {
		ls := &scores[i]
		r.Diagnostics.SlicesProcessed += len(ls.Contributions)
		r.Diagnostics.SlicesFiltered += ls.FilteredSlices
		if !ls.Valid() {
			r.Diagnostics.FilteredLesions++
			continue
		}

		r.NumLesions++
		r.RawAgatstonScore += ls.Score
		r.TotalVolumeMM3 += ls.VolumeMM3

		// Histogram uses the whole-lesion peak, not the per-slice peak
		peak := ls.Lesion.MaxDensity()
		bin := DensityFactor(peak)
		bins[bin-1]++

		summary := LesionSummary{
			ID:         ls.Lesion.ID,
			Score:      ls.Score,
			VolumeMM3:  ls.VolumeMM3,
			MaxDensity: peak,
			DensityBin: bin,
		}
		for _, c := range ls.Contributions {
			summary.Slices = append(summary.Slices, c.Slice)
			summary.PixelCount += c.PixelCount
			summary.AreaMM2 += c.AreaMM2
		}
		r.Lesions = append(r.Lesions, summary)

		// Density statistics include the lesion's filtered slices
		for _, sl := range ls.Lesion.Slices {
			pooled = append(pooled, sl.Densities...)
		}
	}

	if r.NumLesions == 0 {
		empty := EmptyResult("", nil)
		empty.NormalizationFactor = r.NormalizationFactor
		empty.Diagnostics = r.Diagnostics
		return empty
	}

	r.AgatstonScore = r.RawAgatstonScore * a.NormalizationFactor
	for i, n := range bins {
		r.DensityDistribution[i] = 100.0 * float64(n) / float64(r.NumLesions)
	}

	r.MeanDensity = stat.Mean(pooled, nil)
	r.MaxDensity = floats.Max(pooled)
	if r.MeanDensity > 0 {
		r.EquivalentMassMg = r.TotalVolumeMM3 * (r.MeanDensity / 1000.0) * HydroxyapatiteMgPerMM3
	}

	return r
}
