package models

import (
	"errors"
	"fmt"
)

// ErrGridMismatch is returned when a mask and a volume do not share the same grid.
var ErrGridMismatch = errors.New("mask and volume grids differ")

// Spacing is the physical voxel spacing in mm
type Spacing struct {
	X, Y, Z float64
}

// Volume represents a CT intensity volume in Hounsfield Units
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order:
	// idx = z*Width*Height + y*Width + x
	Data []float64

	// Width is the number of columns per slice
	Width int

	// Height is the number of rows per slice
	Height int

	// Depth is the number of axial slices
	Depth int

	// Spacing is the physical size of each voxel in mm
	Spacing Spacing

	// SliceThickness is the acquisition slice thickness in mm taken from the
	// scan metadata. Zero means the value is unknown.
	SliceThickness float64

	// Patient holds demographic metadata read alongside the pixels, if any
	Patient PatientInfo
}

// PatientInfo carries the demographic fields read from scan metadata.
// Values are raw strings; callers decide how to interpret them.
type PatientInfo struct {
	Sex string
	Age int // zero when unknown
}

// NewVolume allocates a zero-filled volume
func NewVolume(width, height, depth int, spacing Spacing) *Volume {
	return &Volume{
		Data:    make([]float64, width*height*depth),
		Width:   width,
		Height:  height,
		Depth:   depth,
		Spacing: spacing,
	}
}

// Index returns the flat offset of voxel (x, y, z)
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the intensity at (x, y, z)
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores the intensity at (x, y, z)
func (v *Volume) Set(x, y, z int, hu float64) {
	v.Data[v.Index(x, y, z)] = hu
}

// SliceLen is the number of voxels in one axial slice
func (v *Volume) SliceLen() int {
	return v.Width * v.Height
}

// Mask is a binary calcium mask on the same grid as a Volume.
// The scoring engine reads masks and never modifies them.
type Mask struct {
	Data   []bool
	Width  int
	Height int
	Depth  int
}

// NewMask allocates an all-false mask
func NewMask(width, height, depth int) *Mask {
	return &Mask{
		Data:   make([]bool, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// Index returns the flat offset of voxel (x, y, z)
func (m *Mask) Index(x, y, z int) int {
	return z*m.Width*m.Height + y*m.Width + x
}

// At reports whether voxel (x, y, z) is marked
func (m *Mask) At(x, y, z int) bool {
	return m.Data[m.Index(x, y, z)]
}

// Set marks or clears voxel (x, y, z)
func (m *Mask) Set(x, y, z int, on bool) {
	m.Data[m.Index(x, y, z)] = on
}

// SliceLen is the number of voxels in one axial slice
func (m *Mask) SliceLen() int {
	return m.Width * m.Height
}

// Count returns the number of marked voxels
func (m *Mask) Count() int {
	n := 0
	for _, on := range m.Data {
		if on {
			n++
		}
	}
	return n
}

// Any reports whether at least one voxel is marked
func (m *Mask) Any() bool {
	for _, on := range m.Data {
		if on {
			return true
		}
	}
	return false
}

// SliceAny reports whether slice z holds at least one marked voxel
func (m *Mask) SliceAny(z int) bool {
	n := m.SliceLen()
	for _, on := range m.Data[z*n : (z+1)*n] {
		if on {
			return true
		}
	}
	return false
}

// CheckGrid verifies that mask and volume share dimensions and storage size
func (m *Mask) CheckGrid(v *Volume) error {
	if m.Width != v.Width || m.Height != v.Height || m.Depth != v.Depth {
		return fmt.Errorf("%w: mask %dx%dx%d, volume %dx%dx%d", ErrGridMismatch,
			m.Width, m.Height, m.Depth, v.Width, v.Height, v.Depth)
	}
	expected := v.Width * v.Height * v.Depth
	if len(m.Data) != expected || len(v.Data) != expected {
		return fmt.Errorf("%w: expected %d voxels, mask has %d, volume has %d", ErrGridMismatch,
			expected, len(m.Data), len(v.Data))
	}
	return nil
}
