// Package geometry resolves the physical voxel geometry used for scoring:
// in-plane pixel area, voxel volume, the axial traversal step and the
// normalization factor to the 3 mm Agatston protocol.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"aocascore/internal/models"
)

// ErrInvalidGeometry is returned for non-positive spacing values.
var ErrInvalidGeometry = errors.New("invalid geometry")

const (
	// StandardSliceIncrement is the slice increment of the Agatston protocol in mm
	StandardSliceIncrement = 3.0

	// OverlapDetectionSpacing is the z-spacing below which slices are
	// considered overlapping
	OverlapDetectionSpacing = 2.5

	// ThickSliceWarning is the thickness above which accuracy may suffer
	ThickSliceWarning = 4.0

	// HighResolutionThickness is the thickness below which the acquisition
	// is reported as high resolution
	HighResolutionThickness = 2.0
)

// OverlapPolicy decides how overlapping reconstructions are traversed
type OverlapPolicy string

const (
	// OverlapKeepAll scores every slice and lets the normalization factor
	// account for the spacing
	OverlapKeepAll OverlapPolicy = "keep-all"

	// OverlapSkip scores every n-th slice so the traversed increment is as
	// close to 3 mm as possible
	OverlapSkip OverlapPolicy = "skip"
)

// ParseOverlapPolicy converts a configuration string into a policy
func ParseOverlapPolicy(s string) (OverlapPolicy, error) {
	switch OverlapPolicy(s) {
	case "", OverlapKeepAll:
		return OverlapKeepAll, nil
	case OverlapSkip:
		return OverlapSkip, nil
	default:
		return "", fmt.Errorf("unknown overlap policy %q (want %q or %q)", s, OverlapKeepAll, OverlapSkip)
	}
}

// ThicknessNote classifies the acquisition thickness for diagnostics
type ThicknessNote int

const (
	ThicknessStandard ThicknessNote = iota
	ThicknessThick
	ThicknessHighResolution
)

func (n ThicknessNote) String() string {
	switch n {
	case ThicknessThick:
		return "thicker than the 3 mm standard; accuracy may be affected"
	case ThicknessHighResolution:
		return "high-resolution acquisition, normalized to the 3 mm standard"
	default:
		return "standard"
	}
}

// Geometry is the resolved scan geometry. It is immutable after New.
type Geometry struct {
	spacing          models.Spacing
	thickness        float64
	thicknessDefault bool
	step             int
}

// New validates the spacing and resolves the traversal step.
// A thickness of zero means the metadata had no value; the z spacing is used
// instead.
func New(spacing models.Spacing, thickness float64, policy OverlapPolicy) (*Geometry, error) {
	if !(spacing.X > 0) || !(spacing.Y > 0) || !(spacing.Z > 0) ||
		math.IsInf(spacing.X, 0) || math.IsInf(spacing.Y, 0) || math.IsInf(spacing.Z, 0) {
		return nil, fmt.Errorf("%w: spacing must be positive, got (%g, %g, %g)",
			ErrInvalidGeometry, spacing.X, spacing.Y, spacing.Z)
	}
	if thickness < 0 || math.IsNaN(thickness) || math.IsInf(thickness, 0) {
		return nil, fmt.Errorf("%w: slice thickness must be non-negative, got %g", ErrInvalidGeometry, thickness)
	}

	g := &Geometry{spacing: spacing, thickness: thickness, step: 1}
	if thickness == 0 {
		g.thickness = spacing.Z
		g.thicknessDefault = true
	}

	if policy == OverlapSkip && spacing.Z < OverlapDetectionSpacing {
		g.step = int(math.Round(StandardSliceIncrement / spacing.Z))
		if g.step < 1 {
			g.step = 1
		}
	}

	return g, nil
}

// Spacing returns the voxel spacing
func (g *Geometry) Spacing() models.Spacing { return g.spacing }

// SliceAreaMM2 is the in-plane area of one pixel
func (g *Geometry) SliceAreaMM2() float64 {
	return g.spacing.X * g.spacing.Y
}

// VoxelVolumeMM3 is the volume of one voxel
func (g *Geometry) VoxelVolumeMM3() float64 {
	return g.spacing.X * g.spacing.Y * g.spacing.Z
}

// SliceStep is the number of slices advanced per traversal step
func (g *Geometry) SliceStep() int { return g.step }

// SliceSpacing is the z distance covered by one traversed slice
func (g *Geometry) SliceSpacing() float64 {
	return g.spacing.Z * float64(g.step)
}

// NormalizationFactor scales a raw score to the 3 mm protocol
func (g *Geometry) NormalizationFactor() float64 {
	return g.SliceSpacing() / StandardSliceIncrement
}

// SliceThickness returns the acquisition thickness and whether it was
// defaulted from the z spacing
func (g *Geometry) SliceThickness() (float64, bool) {
	return g.thickness, g.thicknessDefault
}

// Overlapping reports whether the z spacing indicates overlapping slices
func (g *Geometry) Overlapping() bool {
	return g.spacing.Z < OverlapDetectionSpacing
}

// ThicknessNote classifies the acquisition thickness
func (g *Geometry) ThicknessNote() ThicknessNote {
	switch {
	case g.thickness > ThickSliceWarning:
		return ThicknessThick
	case g.thickness < HighResolutionThickness:
		return ThicknessHighResolution
	default:
		return ThicknessStandard
	}
}
