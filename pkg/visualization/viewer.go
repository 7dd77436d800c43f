// Package visualization renders CT slices and calcium masks as PNG images:
// windowed slices, density-coloured overlays and an axial maximum intensity
// projection.
package visualization

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"aocascore/internal/models"
	"aocascore/pkg/agatston"
)

// ErrNoCalcium is returned when an image needs calcium and the mask is empty
var ErrNoCalcium = errors.New("no calcium in mask")

// Window maps Hounsfield Units to display grey levels
type Window struct {
	Level float64
	Width float64
}

// CalciumWindow is the display preset for calcified tissue
var CalciumWindow = Window{Level: 300, Width: 1500}

// Gray converts hu to a grey level, clipping to [0, 255]
func (w Window) Gray(hu float64) uint8 {
	lo := w.Level - w.Width/2
	v := (hu - lo) / w.Width * 255
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}

// Viewer renders views of one CT volume
type Viewer struct {
	volume *models.Volume
	window Window
}

// NewViewer creates a viewer with the given display window
func NewViewer(volume *models.Volume, window Window) *Viewer {
	if window.Width <= 0 {
		window = CalciumWindow
	}
	return &Viewer{volume: volume, window: window}
}

// ExtractSlice extracts a windowed 2D slice along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	vol := v.volume

	var img *image.Gray
	switch axis {
	case "x", "X":
		if position >= vol.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, vol.Width)
		}
		img = image.NewGray(image.Rect(0, 0, vol.Depth, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for z := 0; z < vol.Depth; z++ {
				img.SetGray(z, y, color.Gray{Y: v.window.Gray(vol.At(position, y, z))})
			}
		}

	case "y", "Y":
		if position >= vol.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, vol.Height)
		}
		img = image.NewGray(image.Rect(0, 0, vol.Width, vol.Depth))
		for z := 0; z < vol.Depth; z++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray(x, z, color.Gray{Y: v.window.Gray(vol.At(x, position, z))})
			}
		}

	case "z", "Z":
		if position >= vol.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, vol.Depth)
		}
		img = image.NewGray(image.Rect(0, 0, vol.Width, vol.Height))
		base := position * vol.SliceLen()
		for i, hu := range vol.Data[base : base+vol.SliceLen()] {
			img.Pix[i] = v.window.Gray(hu)
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// MIP is an axial maximum intensity projection with the calcium overlay
type MIP struct {
	Image *image.RGBA

	// FirstSlice and LastSlice bound the projected slab, inclusive
	FirstSlice int
	LastSlice  int
}

// AxialMIP projects the slab spanning the calcified slices plus margin
// slices on each side. Pixels where any slice of the slab is calcified are
// tinted red. The image is rotated by 180 degrees to radiological display
// orientation.
func (v *Viewer) AxialMIP(mask *models.Mask, margin int) (*MIP, error) {
	vol := v.volume
	if err := mask.CheckGrid(vol); err != nil {
		return nil, err
	}

	first, last := -1, -1
	for z := 0; z < mask.Depth; z++ {
		if mask.SliceAny(z) {
			if first < 0 {
				first = z
			}
			last = z
		}
	}
	if first < 0 {
		return nil, ErrNoCalcium
	}
	first = max(0, first-margin)
	last = min(vol.Depth-1, last+margin)

	n := vol.SliceLen()
	peak := make([]float64, n)
	calcium := make([]bool, n)
	copy(peak, vol.Data[first*n:(first+1)*n])
	for z := first; z <= last; z++ {
		base := z * n
		for i := 0; i < n; i++ {
			if hu := vol.Data[base+i]; hu > peak[i] {
				peak[i] = hu
			}
			if mask.Data[base+i] {
				calcium[i] = true
			}
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, vol.Width, vol.Height))
	for i := 0; i < n; i++ {
		g := v.window.Gray(peak[i])
		c := color.RGBA{R: g, G: g, B: g, A: 255}
		if calcium[i] {
			c = color.RGBA{R: 255, G: uint8(float64(g) * 0.3), B: uint8(float64(g) * 0.3), A: 255}
		}
		img.SetRGBA(i%vol.Width, i/vol.Width, c)
	}

	return &MIP{Image: Rotate180(img), FirstSlice: first, LastSlice: last}, nil
}

// DensitySlice renders axial slice z in grey with each calcified voxel
// coloured by its density band
func (v *Viewer) DensitySlice(split *agatston.DensitySplit, z int) (*image.RGBA, error) {
	gray, err := v.ExtractSlice("z", z)
	if err != nil {
		return nil, err
	}
	vol := v.volume
	if split.Masks[0] == nil || split.Masks[0].Width != vol.Width || split.Masks[0].Height != vol.Height ||
		split.Masks[0].Depth != vol.Depth {
		return nil, fmt.Errorf("%w: density split does not match volume", models.ErrGridMismatch)
	}

	img := image.NewRGBA(gray.Bounds())
	draw.Draw(img, img.Bounds(), gray, image.Point{}, draw.Src)

	base := z * vol.SliceLen()
	for band, m := range split.Masks {
		col := agatston.DensityBands[band].Color
		for i, on := range m.Data[base : base+vol.SliceLen()] {
			if on {
				img.SetRGBA(i%vol.Width, i/vol.Width, col)
			}
		}
	}
	return img, nil
}

// Rotate180 returns a copy of img rotated by half a turn
func Rotate180(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	w, h := b.Dx(), b.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.SetRGBA(b.Min.X+w-1-x, b.Min.Y+h-1-y, img.RGBAAt(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

// DrawLabel writes text at the top-left corner of img, scaled up for
// legibility, with a dark backing box
func DrawLabel(img *image.RGBA, text string, scale int) {
	if text == "" {
		return
	}
	if scale < 1 {
		scale = 1
	}

	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil() + 4
	h := face.Height + 4

	label := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(label, label.Bounds(), image.NewUniform(color.RGBA{A: 200}), image.Point{}, draw.Src)
	drawer := &font.Drawer{
		Dst:  label,
		Src:  image.NewUniform(color.RGBA{R: 255, G: 255, B: 255, A: 255}),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(2), Y: fixed.I(2 + face.Ascent)},
	}
	drawer.DrawString(text)

	dst := image.Rect(2, 2, 2+w*scale, 2+h*scale).Intersect(img.Bounds())
	draw.NearestNeighbor.Scale(img, dst, label, label.Bounds(), draw.Over, nil)
}

// SavePNG writes img to filename, creating parent directories
func SavePNG(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveDensitySlices writes one density-coloured PNG per calcified slice and
// returns the file paths
func (v *Viewer) SaveDensitySlices(split *agatston.DensitySplit, outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	var paths []string
	for z := 0; z < v.volume.Depth; z++ {
		calcified := false
		for _, m := range split.Masks {
			if m.SliceAny(z) {
				calcified = true
				break
			}
		}
		if !calcified {
			continue
		}

		img, err := v.DensitySlice(split, z)
		if err != nil {
			return paths, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("density_z_%03d.png", z))
		if err := SavePNG(img, filename); err != nil {
			return paths, err
		}
		paths = append(paths, filename)
	}

	return paths, nil
}
