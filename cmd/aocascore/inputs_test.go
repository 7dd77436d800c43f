package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aocascore/internal/models"
	"aocascore/pkg/config"
	"aocascore/pkg/maskgen"
	"aocascore/pkg/session"
	"aocascore/pkg/severity"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestParseSeed(t *testing.T) {
	seed, err := parseSeed(" 4, 5 ,6")
	require.NoError(t, err)
	assert.Equal(t, maskgen.Voxel{X: 4, Y: 5, Z: 6}, seed)

	_, err = parseSeed("1,2")
	assert.Error(t, err)
	_, err = parseSeed("1,a,3")
	assert.Error(t, err)
}

func TestParseROI(t *testing.T) {
	roi, err := parseROI("1,10,2,20,3,30")
	require.NoError(t, err)
	assert.Equal(t, &config.ROI{XMin: 1, XMax: 10, YMin: 2, YMax: 20, ZMin: 3, ZMax: 30}, roi)

	_, err = parseROI("1,2,3")
	assert.ErrorContains(t, err, "roi")
}

func TestResolvePatient(t *testing.T) {
	tests := []struct {
		name    string
		sexFlag string
		ageFlag int
		info    models.PatientInfo
		wantSex severity.Sex
		wantAge *int
		wantErr error
	}{
		{"flags win", "m", 70, models.PatientInfo{Sex: "F", Age: 60}, severity.Male, ptr(70), nil},
		{"metadata fallback", "", -1, models.PatientInfo{Sex: "F", Age: 60}, severity.Female, ptr(60), nil},
		{"unknown age", "F", -1, models.PatientInfo{}, severity.Female, nil, nil},
		{"missing sex", "", 50, models.PatientInfo{}, "", nil, errMissingSex},
		{"other sex", "", 50, models.PatientInfo{Sex: "O"}, "", nil, severity.ErrInvalidSex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sex, age, err := resolvePatient(tt.sexFlag, tt.ageFlag, tt.info)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSex, sex)
			assert.Equal(t, tt.wantAge, age)
		})
	}
}

func ptr(v int) *int { return &v }

// calcifiedVolume holds two separate 3x3 blocks at 350 HU on slice 1
func calcifiedVolume() *models.Volume {
	vol := models.NewVolume(12, 12, 3, models.Spacing{X: 0.5, Y: 0.5, Z: 3})
	for i := range vol.Data {
		vol.Data[i] = 30
	}
	for y := 1; y <= 3; y++ {
		for x := 1; x <= 3; x++ {
			vol.Set(x, y, 1, 350)
			vol.Set(x+6, y+6, 1, 350)
		}
	}
	return vol
}

func TestBuildMask(t *testing.T) {
	vol := calcifiedVolume()
	cfg := config.DefaultConfig()

	mask, err := buildMask(vol, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 18, mask.Count())

	cfg.Segmentation.ROI = &config.ROI{XMax: 5, YMax: 5, ZMax: 2}
	mask, err = buildMask(vol, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 9, mask.Count())

	cfg.Segmentation.ROI = nil
	mask, err = buildMask(vol, cfg, []maskgen.Voxel{{X: 8, Y: 8, Z: 1}})
	require.NoError(t, err)
	assert.Equal(t, 9, mask.Count())
	assert.True(t, mask.At(7, 7, 1))
	assert.False(t, mask.At(2, 2, 1))

	_, err = buildMask(vol, cfg, []maskgen.Voxel{{X: 0, Y: 0, Z: 0}})
	assert.True(t, errors.Is(err, maskgen.ErrSeedBelowThreshold))
}

func TestWriteImages(t *testing.T) {
	vol := calcifiedVolume()
	cfg := config.DefaultConfig()
	mask, err := buildMask(vol, cfg, nil)
	require.NoError(t, err)

	opts, err := session.OptionsFromConfig(cfg, nil)
	require.NoError(t, err)
	result, err := session.New(opts).Calculate(vol, mask, severity.Female, nil)
	require.NoError(t, err)
	assert.InDelta(t, 13.5, result.AgatstonScore, 1e-9)

	dir := t.TempDir()
	so := scoreOptions{
		mipFile:    filepath.Join(dir, "mip.png"),
		densityDir: filepath.Join(dir, "density"),
	}
	paths, err := writeImages(vol, mask, result, cfg, so, quietLogger())
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, so.mipFile, paths[0])
	for _, p := range paths {
		_, err := os.Stat(p)
		assert.NoError(t, err)
	}

	// Nothing requested
	paths, err = writeImages(vol, mask, result, cfg, scoreOptions{}, quietLogger())
	require.NoError(t, err)
	assert.Empty(t, paths)

	// Empty mask skips the MIP without failing
	empty := models.NewMask(vol.Width, vol.Height, vol.Depth)
	paths, err = writeImages(vol, empty, result, cfg, scoreOptions{mipFile: filepath.Join(dir, "none.png")}, quietLogger())
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestRunScoreMissingDir(t *testing.T) {
	err := runScore(io.Discard, filepath.Join(t.TempDir(), "missing"), config.DefaultConfig(), nil, scoreOptions{age: -1}, quietLogger())
	assert.Error(t, err)
}
