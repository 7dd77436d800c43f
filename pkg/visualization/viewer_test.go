package visualization

import (
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"aocascore/internal/models"
	"aocascore/pkg/agatston"
)

// newTestVolume creates a volume where every voxel of slice z holds z*100 HU
func newTestVolume(width, height, depth int) *models.Volume {
	vol := models.NewVolume(width, height, depth, models.Spacing{X: 0.5, Y: 0.5, Z: 3})
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				vol.Set(x, y, z, float64(z*100))
			}
		}
	}
	return vol
}

// TestWindowGray verifies the calcium window mapping and clipping
func TestWindowGray(t *testing.T) {
	tests := []struct {
		hu   float64
		want uint8
	}{
		{-1000, 0},
		{-450, 0},
		{300, 127},
		{1050, 255},
		{3000, 255},
	}
	for _, tt := range tests {
		if got := CalciumWindow.Gray(tt.hu); got != tt.want {
			t.Errorf("Gray(%g) = %d, want %d", tt.hu, got, tt.want)
		}
	}
}

// TestExtractSlice verifies that slices are correctly extracted from the volume
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 8, 5
	viewer := NewViewer(newTestVolume(width, height, depth), CalciumWindow)

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}

		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d",
				width, height, bounds.Dx(), bounds.Dy())
		}

		want := CalciumWindow.Gray(float64(z * 100))
		if got := img.GrayAt(width/2, height/2).Y; got != want {
			t.Errorf("Expected Z slice value %d at center, got %d", want, got)
		}
	}

	imgX, err := viewer.ExtractSlice("x", width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", depth, height, b.Dx(), b.Dy())
	}

	imgY, err := viewer.ExtractSlice("y", height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", width, depth, b.Dx(), b.Dy())
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.ExtractSlice("z", depth+1); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
	if _, err := viewer.ExtractSlice("z", -1); err == nil {
		t.Error("Expected error for negative position, got nil")
	}
}

// TestAxialMIP verifies the slab range, projection and red overlay
func TestAxialMIP(t *testing.T) {
	width, height, depth := 6, 4, 30
	vol := models.NewVolume(width, height, depth, models.Spacing{X: 0.5, Y: 0.5, Z: 3})
	for i := range vol.Data {
		vol.Data[i] = -450
	}
	mask := models.NewMask(width, height, depth)
	mask.Set(1, 1, 14, true)
	vol.Set(1, 1, 14, 1050)
	mask.Set(2, 1, 16, true)
	vol.Set(2, 1, 16, 300)
	// Bright voxel inside the slab but outside the mask
	vol.Set(4, 2, 5, 1050)
	// Bright voxel outside the slab
	vol.Set(0, 0, 29, 1050)

	mip, err := NewViewer(vol, CalciumWindow).AxialMIP(mask, 10)
	if err != nil {
		t.Fatalf("AxialMIP failed: %v", err)
	}
	if mip.FirstSlice != 4 || mip.LastSlice != 26 {
		t.Errorf("Expected slab 4-26, got %d-%d", mip.FirstSlice, mip.LastSlice)
	}

	// Rotation maps (x, y) to (w-1-x, h-1-y)
	at := func(x, y int) [3]uint8 {
		c := mip.Image.RGBAAt(width-1-x, height-1-y)
		return [3]uint8{c.R, c.G, c.B}
	}
	if got := at(1, 1); got != [3]uint8{255, 76, 76} {
		t.Errorf("Expected tinted calcium at (1,1), got %v", got)
	}
	if got := at(2, 1); got != [3]uint8{255, 38, 38} {
		t.Errorf("Expected tinted calcium at (2,1), got %v", got)
	}
	if got := at(4, 2); got != [3]uint8{255, 255, 255} {
		t.Errorf("Expected bright grey at (4,2), got %v", got)
	}
	if got := at(0, 0); got != [3]uint8{0, 0, 0} {
		t.Errorf("Expected voxel outside slab to be ignored, got %v", got)
	}
}

// TestAxialMIPErrors verifies empty and mismatched masks are rejected
func TestAxialMIPErrors(t *testing.T) {
	vol := newTestVolume(4, 4, 3)
	viewer := NewViewer(vol, Window{})

	if _, err := viewer.AxialMIP(models.NewMask(4, 4, 3), 10); !errors.Is(err, ErrNoCalcium) {
		t.Errorf("Expected ErrNoCalcium, got %v", err)
	}
	if _, err := viewer.AxialMIP(models.NewMask(4, 4, 2), 10); !errors.Is(err, models.ErrGridMismatch) {
		t.Errorf("Expected ErrGridMismatch, got %v", err)
	}
}

// TestRotate180 verifies a corner pixel moves to the opposite corner
func TestRotate180(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Pix[0] = 200
	out := Rotate180(img)
	if out.RGBAAt(2, 1).R != 200 {
		t.Errorf("Expected pixel at (2,1) after rotation, got %v", out.RGBAAt(2, 1))
	}
	if out.RGBAAt(0, 0).R != 0 {
		t.Errorf("Expected (0,0) to be cleared, got %v", out.RGBAAt(0, 0))
	}
}

// TestDrawLabel verifies text changes the top-left corner only
func TestDrawLabel(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	DrawLabel(img, "Agatston: 6.8", 2)

	changed := false
	for y := 0; y < 40; y++ {
		for x := 0; x < 200; x++ {
			if img.RGBAAt(x, y).A != 0 {
				changed = true
			}
		}
	}
	if !changed {
		t.Error("Expected label pixels in the top rows")
	}
	if img.RGBAAt(199, 99).A != 0 {
		t.Error("Expected bottom-right corner untouched")
	}
}

// TestSaveDensitySlices verifies density-coloured slices are written as PNG
func TestSaveDensitySlices(t *testing.T) {
	tempDir := t.TempDir()

	vol := models.NewVolume(5, 5, 4, models.Spacing{X: 0.5, Y: 0.5, Z: 3})
	mask := models.NewMask(5, 5, 4)
	vol.Set(1, 1, 1, 150)
	mask.Set(1, 1, 1, true)
	vol.Set(3, 3, 3, 450)
	mask.Set(3, 3, 3, true)

	split, err := agatston.SplitByDensity(vol, mask)
	if err != nil {
		t.Fatalf("SplitByDensity failed: %v", err)
	}

	viewer := NewViewer(vol, CalciumWindow)
	paths, err := viewer.SaveDensitySlices(split, filepath.Join(tempDir, "density"))
	if err != nil {
		t.Fatalf("SaveDensitySlices failed: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("Expected 2 files, got %d", len(paths))
	}

	f, err := os.Open(paths[1])
	if err != nil {
		t.Fatalf("Failed to open %s: %v", paths[1], err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Failed to decode PNG: %v", err)
	}
	r, g, b, _ := img.At(3, 3).RGBA()
	if r>>8 != 255 || g>>8 != 0 || b>>8 != 0 {
		t.Errorf("Expected factor 4 voxel in red, got (%d,%d,%d)", r>>8, g>>8, b>>8)
	}
}

// TestSavePNG verifies images can be saved into a new directory
func TestSavePNG(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	img, err := NewViewer(newTestVolume(4, 4, 2), CalciumWindow).ExtractSlice("z", 1)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}

	filename := filepath.Join(t.TempDir(), "nested", "slice.png")
	if err := SavePNG(img, filename); err != nil {
		t.Fatalf("Failed to save slice: %v", err)
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		t.Errorf("Saved file does not exist: %s", filename)
	}
}
