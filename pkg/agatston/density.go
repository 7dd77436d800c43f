package agatston

import (
	"image/color"

	"aocascore/internal/models"
)

// DensityBand describes one density factor range for colour-by-density output
type DensityBand struct {
	Factor int
	Name   string
	MinHU  float64
	Color  color.RGBA
}

// DensityBands lists the four bands in factor order
var DensityBands = [4]DensityBand{
	{1, "Factor1_130-199HU", CalciumThresholdHU, color.RGBA{R: 255, G: 255, B: 0, A: 255}},
	{2, "Factor2_200-299HU", factor2HU, color.RGBA{R: 255, G: 165, B: 0, A: 255}},
	{3, "Factor3_300-399HU", factor3HU, color.RGBA{R: 255, G: 102, B: 0, A: 255}},
	{4, "Factor4_400+HU", factor4HU, color.RGBA{R: 255, G: 0, B: 0, A: 255}},
}

// VoxelDensityClass buckets a single voxel intensity with the same
// thresholds as DensityFactor. Voxels below the calcium threshold return 0.
func VoxelDensityClass(hu float64) int {
	if hu < CalciumThresholdHU {
		return 0
	}
	return DensityFactor(hu)
}

// DensitySplit holds one mask per density factor and the voxel count of each
type DensitySplit struct {
	Masks  [4]*models.Mask
	Counts [4]int
}

// SplitByDensity separates the marked voxels of mask into four masks by
// voxel density class. Voxels below the calcium threshold are dropped.
func SplitByDensity(volume *models.Volume, mask *models.Mask) (*DensitySplit, error) {
	if err := mask.CheckGrid(volume); err != nil {
		return nil, err
	}

	split := &DensitySplit{}
	for i := range split.Masks {
		split.Masks[i] = models.NewMask(mask.Width, mask.Height, mask.Depth)
	}

	for i, on := range mask.Data {
		if !on {
			continue
		}
		class := VoxelDensityClass(volume.Data[i])
		if class == 0 {
			continue
		}
		split.Masks[class-1].Data[i] = true
		split.Counts[class-1]++
	}

	return split, nil
}
