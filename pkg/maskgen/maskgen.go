// Package maskgen builds calcium masks from a CT volume by thresholding
// inside a box or by growing a 3D component from a seed voxel.
package maskgen

import (
	"errors"
	"fmt"

	"aocascore/internal/models"
)

// MaxHU is the upper bound of the threshold window. Brighter voxels are
// treated as metal or contrast rather than calcium.
const MaxHU = 3000.0

var (
	// ErrSeedOutOfBounds is returned when the seed lies outside the volume
	ErrSeedOutOfBounds = errors.New("seed outside volume")

	// ErrSeedBelowThreshold is returned when the seed voxel is not calcified
	ErrSeedBelowThreshold = errors.New("seed below threshold")

	// ErrEmptyBox is returned when a box does not intersect the volume
	ErrEmptyBox = errors.New("box does not intersect volume")
)

// Voxel is an index-space position
type Voxel struct {
	X, Y, Z int
}

// Box is an index-space box with inclusive bounds
type Box struct {
	Min, Max Voxel
}

// Whole returns the box covering every voxel of v
func Whole(v *models.Volume) Box {
	return Box{Max: Voxel{v.Width - 1, v.Height - 1, v.Depth - 1}}
}

// clamp intersects b with the volume bounds
func (b Box) clamp(v *models.Volume) (Box, error) {
	c := Box{
		Min: Voxel{max(b.Min.X, 0), max(b.Min.Y, 0), max(b.Min.Z, 0)},
		Max: Voxel{min(b.Max.X, v.Width-1), min(b.Max.Y, v.Height-1), min(b.Max.Z, v.Depth-1)},
	}
	if c.Min.X > c.Max.X || c.Min.Y > c.Max.Y || c.Min.Z > c.Max.Z {
		return Box{}, fmt.Errorf("%w: %+v on %dx%dx%d", ErrEmptyBox, b, v.Width, v.Height, v.Depth)
	}
	return c, nil
}

// ThresholdInROI marks voxels inside box whose intensity is in
// [minHU, MaxHU]. Voxels outside the box are left unmarked.
func ThresholdInROI(volume *models.Volume, box Box, minHU float64) (*models.Mask, error) {
	b, err := box.clamp(volume)
	if err != nil {
		return nil, err
	}

	mask := models.NewMask(volume.Width, volume.Height, volume.Depth)
	for z := b.Min.Z; z <= b.Max.Z; z++ {
		for y := b.Min.Y; y <= b.Max.Y; y++ {
			row := volume.Index(0, y, z)
			for x := b.Min.X; x <= b.Max.X; x++ {
				hu := volume.Data[row+x]
				if hu >= minHU && hu <= MaxHU {
					mask.Data[row+x] = true
				}
			}
		}
	}
	return mask, nil
}

// ClickGrow returns the 26-connected component of voxels at or above minHU
// that contains seed
func ClickGrow(volume *models.Volume, seed Voxel, minHU float64) (*models.Mask, error) {
	if seed.X < 0 || seed.X >= volume.Width || seed.Y < 0 || seed.Y >= volume.Height ||
		seed.Z < 0 || seed.Z >= volume.Depth {
		return nil, fmt.Errorf("%w: %+v", ErrSeedOutOfBounds, seed)
	}
	if hu := volume.At(seed.X, seed.Y, seed.Z); !(hu >= minHU) {
		return nil, fmt.Errorf("%w: seed HU %.1f < %.1f", ErrSeedBelowThreshold, hu, minHU)
	}

	mask := models.NewMask(volume.Width, volume.Height, volume.Depth)
	start := volume.Index(seed.X, seed.Y, seed.Z)
	mask.Data[start] = true
	queue := []int{start}

	sliceLen := volume.SliceLen()
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]

		z := idx / sliceLen
		y := (idx % sliceLen) / volume.Width
		x := idx % volume.Width

		for dz := -1; dz <= 1; dz++ {
			nz := z + dz
			if nz < 0 || nz >= volume.Depth {
				continue
			}
			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= volume.Height {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= volume.Width {
						continue
					}
					n := nz*sliceLen + ny*volume.Width + nx
					if mask.Data[n] || !(volume.Data[n] >= minHU) {
						continue
					}
					mask.Data[n] = true
					queue = append(queue, n)
				}
			}
		}
	}

	return mask, nil
}

// Merge marks in dst every voxel marked in src, so repeated seeds
// accumulate into one mask
func Merge(dst, src *models.Mask) error {
	if dst.Width != src.Width || dst.Height != src.Height || dst.Depth != src.Depth {
		return fmt.Errorf("%w: %dx%dx%d vs %dx%dx%d", models.ErrGridMismatch,
			dst.Width, dst.Height, dst.Depth, src.Width, src.Height, src.Depth)
	}
	for i, on := range src.Data {
		if on {
			dst.Data[i] = true
		}
	}
	return nil
}
