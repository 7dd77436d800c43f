// Package agatston implements slice-level Agatston scoring and the
// aggregation of slice contributions into lesion and exam totals.
package agatston

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"aocascore/pkg/geometry"
)

const (
	// MinAreaMM2 is the minimum lesion area per slice (Agatston et al. 1990)
	MinAreaMM2 = 1.0

	// MinPixelFloor suppresses single-pixel noise even when one pixel
	// already covers MinAreaMM2
	MinPixelFloor = 2

	// CalciumThresholdHU is the inclusion threshold applied upstream when
	// the mask is built. Scoring does not re-check it.
	CalciumThresholdHU = 130.0
)

// Density factor lower bounds in HU
const (
	factor2HU = 200.0
	factor3HU = 300.0
	factor4HU = 400.0
)

// DensityFactor returns the Agatston weight for a peak intensity:
// 1 below 200 HU, 2 for [200, 300), 3 for [300, 400), 4 from 400 HU.
func DensityFactor(hu float64) int {
	switch {
	case hu >= factor4HU:
		return 4
	case hu >= factor3HU:
		return 3
	case hu >= factor2HU:
		return 2
	default:
		return 1
	}
}

// MinPixels converts the minimum area into a pixel count for the given
// pixel area, never below MinPixelFloor
func MinPixels(sliceAreaMM2 float64) int {
	n := int(math.Ceil(MinAreaMM2 / sliceAreaMM2))
	if n < MinPixelFloor {
		n = MinPixelFloor
	}
	return n
}

// SliceContribution is the score of one lesion on one slice
type SliceContribution struct {
	Lesion        int     `json:"lesion"`
	Slice         int     `json:"slice"`
	PixelCount    int     `json:"pixel_count"`
	AreaMM2       float64 `json:"area_mm2"`
	MaxDensity    float64 `json:"max_density"`
	DensityFactor int     `json:"density_factor"`
	Score         float64 `json:"score"`
	VolumeMM3     float64 `json:"volume_mm3"`
}

// SliceScorer scores one lesion on one slice
type SliceScorer struct {
	// SliceAreaMM2 is the area of one pixel
	SliceAreaMM2 float64

	// SliceSpacing is the z extent represented by one traversed slice
	SliceSpacing float64

	// MinPixels is the smallest pixel count that contributes
	MinPixels int
}

// NewSliceScorer derives the scorer parameters from the scan geometry
func NewSliceScorer(g *geometry.Geometry) SliceScorer {
	area := g.SliceAreaMM2()
	return SliceScorer{
		SliceAreaMM2: area,
		SliceSpacing: g.SliceSpacing(),
		MinPixels:    MinPixels(area),
	}
}

// MinAreaMM2 is the area threshold actually applied
func (s SliceScorer) MinAreaMM2() float64 {
	return float64(s.MinPixels) * s.SliceAreaMM2
}

// Score computes the contribution of the lesion voxels of one slice, given
// their intensities. ok is false when the slice is below the minimum area
// and contributes nothing.
func (s SliceScorer) Score(densities []float64) (c SliceContribution, ok bool) {
	pixels := len(densities)
	area := float64(pixels) * s.SliceAreaMM2
	if pixels == 0 || area < s.MinAreaMM2() {
		return SliceContribution{PixelCount: pixels, AreaMM2: area}, false
	}

	peak := floats.Max(densities)
	factor := DensityFactor(peak)

	return SliceContribution{
		PixelCount:    pixels,
		AreaMM2:       area,
		MaxDensity:    peak,
		DensityFactor: factor,
		Score:         area * float64(factor),
		VolumeMM3:     float64(pixels) * s.SliceAreaMM2 * s.SliceSpacing,
	}, true
}
