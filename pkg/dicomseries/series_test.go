package dicomseries

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// sliceSpec describes a synthetic single-frame image
type sliceSpec struct {
	rows, cols int
	z          float64
	noPosition bool
	instance   int
	raw        []uint16
	signed     bool
	extra      []*dicom.Element
}

func mustElement(t *testing.T, tg tag.Tag, data any) *dicom.Element {
	t.Helper()
	e, err := dicom.NewElement(tg, data)
	require.NoError(t, err)
	return e
}

func buildDataset(t *testing.T, s sliceSpec) dicom.Dataset {
	t.Helper()

	nf := frame.NewNativeFrame[uint16](16, s.rows, s.cols, s.rows*s.cols, 1)
	copy(nf.RawData, s.raw)

	pixelRep := 0
	if s.signed {
		pixelRep = 1
	}

	elements := []*dicom.Element{
		mustElement(t, tag.Rows, []int{s.rows}),
		mustElement(t, tag.Columns, []int{s.cols}),
		mustElement(t, tag.PixelSpacing, []string{"0.400000", "0.500000"}),
		mustElement(t, tag.InstanceNumber, []string{fmt.Sprintf("%d", s.instance)}),
		mustElement(t, tag.RescaleSlope, []string{"1"}),
		mustElement(t, tag.RescaleIntercept, []string{"-1024"}),
		mustElement(t, tag.PixelRepresentation, []int{pixelRep}),
		mustElement(t, tag.PatientSex, []string{"F"}),
		mustElement(t, tag.PatientAge, []string{"067Y"}),
	}
	if !s.noPosition {
		elements = append(elements, mustElement(t, tag.ImagePositionPatient,
			[]string{"-100.0", "-120.0", fmt.Sprintf("%.3f", s.z)}))
	}
	elements = append(elements, s.extra...)
	elements = append(elements, mustElement(t, tag.PixelData, dicom.PixelDataInfo{
		Frames: []*frame.Frame{{Encapsulated: false, NativeData: nf}},
	}))

	return dicom.Dataset{Elements: elements}
}

func filled(n int, v uint16) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// TestDecodeDataset verifies rescaling, spacing and patient fields
func TestDecodeDataset(t *testing.T) {
	raw := []uint16{1024, 1424, 1154, 0, 2048, 1024}
	ds := buildDataset(t, sliceSpec{rows: 2, cols: 3, z: 12.5, instance: 4, raw: raw,
		extra: []*dicom.Element{mustElement(t, tag.SliceThickness, []string{"3.000000"})}})

	s, err := DecodeDataset(ds, "img4")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Rows)
	assert.Equal(t, 3, s.Columns)
	assert.Equal(t, []float64{0, 400, 130, -1024, 1024, 0}, s.HU)
	assert.Equal(t, [2]float64{0.4, 0.5}, s.PixelSpacing)
	assert.True(t, s.HasPosition)
	assert.Equal(t, 12.5, s.Position[2])
	assert.Equal(t, 4, s.Instance)
	assert.Equal(t, 3.0, s.Thickness)
	assert.Equal(t, "F", s.PatientSex)
	assert.Equal(t, 67, s.PatientAge)
}

// TestDecodeSignedPixels verifies PixelRepresentation 1 is honoured
func TestDecodeSignedPixels(t *testing.T) {
	ds := buildDataset(t, sliceSpec{rows: 1, cols: 2, raw: []uint16{0xFFFF, 1200}, signed: true})

	s, err := DecodeDataset(ds, "signed")
	require.NoError(t, err)
	assert.Equal(t, []float64{-1 - 1024, 1200 - 1024}, s.HU)
}

// TestDecodeMissingPixelData verifies images without pixels are rejected
func TestDecodeMissingPixelData(t *testing.T) {
	ds := dicom.Dataset{Elements: []*dicom.Element{
		mustElement(t, tag.Rows, []int{2}),
		mustElement(t, tag.Columns, []int{2}),
		mustElement(t, tag.PixelSpacing, []string{"0.5", "0.5"}),
	}}
	_, err := DecodeDataset(ds, "nopix")
	assert.True(t, errors.Is(err, ErrUnsupportedPixelData))

	_, err = DecodeDataset(dicom.Dataset{}, "empty")
	assert.True(t, errors.Is(err, ErrUnsupportedPixelData))
}

// TestAssembleOrdersByPosition verifies z sorting and median spacing
func TestAssembleOrdersByPosition(t *testing.T) {
	var slices []*Slice
	// Deliberately shuffled instance numbers and positions
	for i, z := range []float64{6, 0, 3, 9} {
		ds := buildDataset(t, sliceSpec{rows: 2, cols: 2, z: z, instance: 10 - i,
			raw: filled(4, uint16(1024+int(z)*10))})
		s, err := DecodeDataset(ds, fmt.Sprintf("s%d", i))
		require.NoError(t, err)
		slices = append(slices, s)
	}

	vol, err := Assemble(slices)
	require.NoError(t, err)
	assert.Equal(t, 2, vol.Width)
	assert.Equal(t, 2, vol.Height)
	assert.Equal(t, 4, vol.Depth)
	assert.Equal(t, 0.5, vol.Spacing.X)
	assert.Equal(t, 0.4, vol.Spacing.Y)
	assert.InDelta(t, 3.0, vol.Spacing.Z, 1e-9)
	for z := 0; z < 4; z++ {
		assert.Equal(t, float64(z*30), vol.At(1, 1, z), "slice %d", z)
	}
	assert.Equal(t, 0.0, vol.SliceThickness)
	assert.Equal(t, "F", vol.Patient.Sex)
	assert.Equal(t, 67, vol.Patient.Age)
}

// TestAssembleFallsBackToInstance verifies ordering without positions
func TestAssembleFallsBackToInstance(t *testing.T) {
	spacing := mustElement(t, tag.SpacingBetweenSlices, []string{"1.5"})
	var slices []*Slice
	for _, inst := range []int{3, 1, 2} {
		ds := buildDataset(t, sliceSpec{rows: 1, cols: 1, noPosition: true, instance: inst,
			raw: []uint16{uint16(1024 + inst)}, extra: []*dicom.Element{spacing}})
		s, err := DecodeDataset(ds, fmt.Sprintf("i%d", inst))
		require.NoError(t, err)
		slices = append(slices, s)
	}

	vol, err := Assemble(slices)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, vol.Data)
	assert.Equal(t, 1.5, vol.Spacing.Z)
}

// TestAssembleRejectsInconsistent covers grid and position conflicts
func TestAssembleRejectsInconsistent(t *testing.T) {
	a, err := DecodeDataset(buildDataset(t, sliceSpec{rows: 2, cols: 2, z: 0, raw: filled(4, 0)}), "a")
	require.NoError(t, err)
	b, err := DecodeDataset(buildDataset(t, sliceSpec{rows: 2, cols: 3, z: 3, raw: filled(6, 0)}), "b")
	require.NoError(t, err)
	c, err := DecodeDataset(buildDataset(t, sliceSpec{rows: 2, cols: 2, z: 0, raw: filled(4, 0)}), "c")
	require.NoError(t, err)

	_, err = Assemble([]*Slice{a, b})
	assert.True(t, errors.Is(err, ErrInconsistentSeries))

	_, err = Assemble([]*Slice{a, c})
	assert.True(t, errors.Is(err, ErrInconsistentSeries))

	_, err = Assemble(nil)
	assert.True(t, errors.Is(err, ErrNoSlices))

	// A single slice without spacing metadata has no z spacing
	_, err = Assemble([]*Slice{a})
	assert.True(t, errors.Is(err, ErrInconsistentSeries))
}

// TestParseAge covers the DICOM age string forms
func TestParseAge(t *testing.T) {
	tests := map[string]int{
		"065Y":   65,
		"45":     45,
		" 070Y ": 70,
		"006M":   0,
		"":       0,
		"abcY":   0,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseAge(in), "age %q", in)
	}
}

// TestLoadDirErrors verifies missing and non-DICOM directories are reported
func TestLoadDirErrors(t *testing.T) {
	l := NewLoader(2, nil)

	_, err := l.LoadDir(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	empty := t.TempDir()
	_, err = l.LoadDir(empty)
	assert.True(t, errors.Is(err, ErrNoSlices))

	junk := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(junk, "notes.txt"), []byte("not an image"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(junk, ".hidden"), []byte("x"), 0644))
	_, err = l.LoadDir(junk)
	assert.True(t, errors.Is(err, ErrNoSlices))
}
