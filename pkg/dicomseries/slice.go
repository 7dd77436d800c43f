// Package dicomseries reads an axial CT series from DICOM files and
// assembles it into a Hounsfield Unit volume.
package dicomseries

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

var (
	// ErrNoSlices is returned when a directory holds no readable image
	ErrNoSlices = errors.New("no DICOM slices found")

	// ErrInconsistentSeries is returned when slices disagree on the grid
	ErrInconsistentSeries = errors.New("inconsistent DICOM series")

	// ErrUnsupportedPixelData is returned for missing, compressed or
	// multi-sample pixel data
	ErrUnsupportedPixelData = errors.New("unsupported pixel data")
)

// Slice is one decoded axial image with its geometry and patient metadata
type Slice struct {
	Source string

	Rows    int
	Columns int

	// HU holds rescaled intensities in row-major order
	HU []float64

	// PixelSpacing is the (row, column) spacing in mm, i.e. (y, x)
	PixelSpacing [2]float64

	Position    [3]float64
	HasPosition bool
	Instance    int

	Thickness      float64
	SpacingBetween float64

	PatientSex string
	PatientAge int
}

// DecodeDataset extracts a Slice from a parsed dataset. source is only used
// in error messages.
func DecodeDataset(ds dicom.Dataset, source string) (*Slice, error) {
	s := &Slice{Source: source}

	rows, ok := firstInt(ds, tag.Rows)
	if !ok || rows <= 0 {
		return nil, fmt.Errorf("%s: %w: missing rows", source, ErrUnsupportedPixelData)
	}
	cols, ok := firstInt(ds, tag.Columns)
	if !ok || cols <= 0 {
		return nil, fmt.Errorf("%s: %w: missing columns", source, ErrUnsupportedPixelData)
	}
	s.Rows, s.Columns = rows, cols

	if ps, ok := floats(ds, tag.PixelSpacing); ok && len(ps) >= 2 {
		s.PixelSpacing = [2]float64{ps[0], ps[1]}
	} else {
		return nil, fmt.Errorf("%s: %w: missing pixel spacing", source, ErrInconsistentSeries)
	}

	if pos, ok := floats(ds, tag.ImagePositionPatient); ok && len(pos) >= 3 {
		s.Position = [3]float64{pos[0], pos[1], pos[2]}
		s.HasPosition = true
	}
	if v, ok := firstFloat(ds, tag.InstanceNumber); ok {
		s.Instance = int(v)
	}
	if v, ok := firstFloat(ds, tag.SliceThickness); ok && v > 0 {
		s.Thickness = v
	}
	if v, ok := firstFloat(ds, tag.SpacingBetweenSlices); ok && v > 0 {
		s.SpacingBetween = v
	}
	if v, ok := firstString(ds, tag.PatientSex); ok {
		s.PatientSex = v
	}
	if v, ok := firstString(ds, tag.PatientAge); ok {
		s.PatientAge = ParseAge(v)
	}

	slope, intercept := 1.0, 0.0
	if v, ok := firstFloat(ds, tag.RescaleSlope); ok && v != 0 {
		slope = v
	}
	if v, ok := firstFloat(ds, tag.RescaleIntercept); ok {
		intercept = v
	}
	signed := false
	if v, ok := firstInt(ds, tag.PixelRepresentation); ok && v == 1 {
		signed = true
	}

	raw, err := pixels(ds, rows*cols, signed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	for i, v := range raw {
		raw[i] = v*slope + intercept
	}
	s.HU = raw

	return s, nil
}

// ParseAge converts a DICOM age string such as "065Y" into years. Ages in
// months, weeks or days count as 0.
func ParseAge(as string) int {
	as = strings.TrimSpace(as)
	if as == "" {
		return 0
	}
	unit := as[len(as)-1]
	digits := as
	if unit < '0' || unit > '9' {
		digits = as[:len(as)-1]
		if unit != 'Y' && unit != 'y' {
			return 0
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// pixels returns the first frame as float64 values
func pixels(ds dicom.Dataset, n int, signed bool) ([]float64, error) {
	e, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("%w: no pixel data element", ErrUnsupportedPixelData)
	}
	info, ok := e.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 || info.Frames[0] == nil {
		return nil, fmt.Errorf("%w: no frames", ErrUnsupportedPixelData)
	}
	fr := info.Frames[0]
	if fr.Encapsulated {
		return nil, fmt.Errorf("%w: encapsulated transfer syntax", ErrUnsupportedPixelData)
	}

	out := make([]float64, n)
	switch nf := fr.NativeData.(type) {
	case *frame.NativeFrame[uint8]:
		if len(nf.RawData) < n {
			return nil, shortFrame(len(nf.RawData), n)
		}
		for i := range out {
			if signed {
				out[i] = float64(int8(nf.RawData[i]))
			} else {
				out[i] = float64(nf.RawData[i])
			}
		}
	case *frame.NativeFrame[uint16]:
		if len(nf.RawData) < n {
			return nil, shortFrame(len(nf.RawData), n)
		}
		for i := range out {
			if signed {
				out[i] = float64(int16(nf.RawData[i]))
			} else {
				out[i] = float64(nf.RawData[i])
			}
		}
	case *frame.NativeFrame[int16]:
		if len(nf.RawData) < n {
			return nil, shortFrame(len(nf.RawData), n)
		}
		for i := range out {
			out[i] = float64(nf.RawData[i])
		}
	case *frame.NativeFrame[uint32]:
		if len(nf.RawData) < n {
			return nil, shortFrame(len(nf.RawData), n)
		}
		for i := range out {
			if signed {
				out[i] = float64(int32(nf.RawData[i]))
			} else {
				out[i] = float64(nf.RawData[i])
			}
		}
	case *frame.NativeFrame[int32]:
		if len(nf.RawData) < n {
			return nil, shortFrame(len(nf.RawData), n)
		}
		for i := range out {
			out[i] = float64(nf.RawData[i])
		}
	default:
		return nil, fmt.Errorf("%w: native frame type %T", ErrUnsupportedPixelData, fr.NativeData)
	}
	return out, nil
}

func shortFrame(got, want int) error {
	return fmt.Errorf("%w: frame has %d samples, expected %d", ErrUnsupportedPixelData, got, want)
}

func firstString(ds dicom.Dataset, t tag.Tag) (string, bool) {
	e, err := ds.FindElementByTag(t)
	if err != nil {
		return "", false
	}
	v, ok := e.Value.GetValue().([]string)
	if !ok || len(v) == 0 {
		return "", false
	}
	s := strings.TrimSpace(v[0])
	return s, s != ""
}

// floats reads a DS or IS element. Multi-valued strings may arrive either as
// separate values or as one backslash-joined value.
func floats(ds dicom.Dataset, t tag.Tag) ([]float64, bool) {
	e, err := ds.FindElementByTag(t)
	if err != nil {
		return nil, false
	}
	switch v := e.Value.GetValue().(type) {
	case []string:
		var out []float64
		for _, s := range v {
			for _, part := range strings.Split(s, "\\") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				f, err := strconv.ParseFloat(part, 64)
				if err != nil {
					return nil, false
				}
				out = append(out, f)
			}
		}
		return out, len(out) > 0
	case []float64:
		return v, len(v) > 0
	case []int:
		out := make([]float64, len(v))
		for i, n := range v {
			out[i] = float64(n)
		}
		return out, len(out) > 0
	default:
		return nil, false
	}
}

func firstFloat(ds dicom.Dataset, t tag.Tag) (float64, bool) {
	v, ok := floats(ds, t)
	if !ok {
		return 0, false
	}
	return v[0], true
}

func firstInt(ds dicom.Dataset, t tag.Tag) (int, bool) {
	e, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, false
	}
	v, ok := e.Value.GetValue().([]int)
	if !ok || len(v) == 0 {
		return 0, false
	}
	return v[0], true
}
