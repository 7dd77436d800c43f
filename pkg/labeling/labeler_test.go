package labeling

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aocascore/internal/models"
)

// maskFromRows builds a single-slice-per-entry mask from ASCII art where '#'
// marks a voxel
func maskFromRows(slices ...[]string) *models.Mask {
	h := len(slices[0])
	w := len(slices[0][0])
	m := models.NewMask(w, h, len(slices))
	for z, rows := range slices {
		for y, row := range rows {
			for x, c := range row {
				if c == '#' {
					m.Set(x, y, z, true)
				}
			}
		}
	}
	return m
}

// TestEmptyMask verifies that an empty mask yields no lesions
func TestEmptyMask(t *testing.T) {
	labels, err := Label(models.NewMask(8, 8, 4), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, labels.NumLesions)
	for _, v := range labels.Data {
		assert.Zero(t, v)
	}
}

// TestSliceIndependence verifies that voxels stacked in adjacent slices are
// never merged into one lesion
func TestSliceIndependence(t *testing.T) {
	m := models.NewMask(1, 1, 2)
	m.Set(0, 0, 0, true)
	m.Set(0, 0, 1, true)

	labels, err := Label(m, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, labels.NumLesions)
	assert.Equal(t, int32(1), labels.At(0, 0, 0))
	assert.Equal(t, int32(2), labels.At(0, 0, 1))
}

// TestConnectivity checks diagonal joins under 8- and 4-connectivity
func TestConnectivity(t *testing.T) {
	m := maskFromRows([]string{
		"#...",
		".#..",
		"..#.",
		"....",
	})

	eight, err := Label(m, Options{Connectivity: Eight})
	require.NoError(t, err)
	assert.Equal(t, 1, eight.NumLesions)

	four, err := Label(m, Options{Connectivity: Four})
	require.NoError(t, err)
	assert.Equal(t, 3, four.NumLesions)
	assert.Equal(t, int32(1), four.At(0, 0, 0))
	assert.Equal(t, int32(2), four.At(1, 1, 0))
	assert.Equal(t, int32(3), four.At(2, 2, 0))
}

// TestAntiDiagonal verifies the up-right neighbour is joined under 8-connectivity
func TestAntiDiagonal(t *testing.T) {
	m := maskFromRows([]string{
		"..#",
		".#.",
		"#..",
	})
	labels, err := Label(m, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, labels.NumLesions)
}

// TestUShapeMerge verifies that two arms discovered separately are merged
func TestUShapeMerge(t *testing.T) {
	m := maskFromRows([]string{
		"#...#",
		"#...#",
		"#####",
		".....",
		"##...",
	})
	labels, err := Label(m, Options{Connectivity: Four})
	require.NoError(t, err)
	require.Equal(t, 2, labels.NumLesions)

	// Arms share the label of the first raster pixel
	assert.Equal(t, int32(1), labels.At(0, 0, 0))
	assert.Equal(t, int32(1), labels.At(4, 0, 0))
	assert.Equal(t, int32(1), labels.At(2, 2, 0))
	assert.Equal(t, int32(2), labels.At(0, 4, 0))
}

// TestGlobalOffsets verifies labels are unique and ordered by slice
func TestGlobalOffsets(t *testing.T) {
	m := maskFromRows(
		[]string{
			"#..#",
			"....",
			"....",
		},
		[]string{
			"....",
			"....",
			"....",
		},
		[]string{
			"##..",
			"...#",
			"#...",
		},
	)

	labels, err := Label(m, Options{})
	require.NoError(t, err)
	assert.Equal(t, 5, labels.NumLesions)
	assert.Equal(t, int32(1), labels.At(0, 0, 0))
	assert.Equal(t, int32(2), labels.At(3, 0, 0))
	assert.Equal(t, int32(3), labels.At(0, 0, 2))
	assert.Equal(t, int32(3), labels.At(1, 0, 2))
	assert.Equal(t, int32(4), labels.At(3, 1, 2))
	assert.Equal(t, int32(5), labels.At(0, 2, 2))
}

// TestStepSkipsSlices verifies that only traversed slices receive labels
func TestStepSkipsSlices(t *testing.T) {
	m := models.NewMask(2, 2, 4)
	for z := 0; z < 4; z++ {
		m.Set(0, 0, z, true)
	}

	labels, err := Label(m, Options{Step: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, labels.NumLesions)
	assert.Equal(t, int32(1), labels.At(0, 0, 0))
	assert.Equal(t, int32(0), labels.At(0, 0, 1))
	assert.Equal(t, int32(2), labels.At(0, 0, 2))
	assert.Equal(t, int32(0), labels.At(0, 0, 3))
}

// TestParallelMatchesSequential verifies that worker count never changes IDs
func TestParallelMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	m := models.NewMask(32, 24, 20)
	for i := range m.Data {
		m.Data[i] = rng.Float64() < 0.3
	}

	seq, err := Label(m, Options{Workers: 1})
	require.NoError(t, err)

	for _, workers := range []int{2, 4, 16} {
		par, err := Label(m, Options{Workers: workers})
		require.NoError(t, err)
		assert.Equal(t, seq.NumLesions, par.NumLesions, "workers=%d", workers)
		assert.Equal(t, seq.Data, par.Data, "workers=%d", workers)
	}
}

// TestEveryVoxelLabelled verifies every mask voxel gets exactly one non-zero label
func TestEveryVoxelLabelled(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	m := models.NewMask(16, 16, 6)
	for i := range m.Data {
		m.Data[i] = rng.Float64() < 0.4
	}

	labels, err := Label(m, Options{})
	require.NoError(t, err)

	seen := make(map[int32]bool)
	for i, on := range m.Data {
		if on {
			require.NotZero(t, labels.Data[i])
			seen[labels.Data[i]] = true
		} else {
			require.Zero(t, labels.Data[i])
		}
	}
	assert.Len(t, seen, labels.NumLesions)
}

func TestInvalidOptions(t *testing.T) {
	m := models.NewMask(2, 2, 1)

	_, err := Label(m, Options{Connectivity: 6})
	assert.Error(t, err)

	_, err = Label(m, Options{Step: -1})
	assert.Error(t, err)

	_, err = ParseConnectivity(6)
	assert.Error(t, err)

	c, err := ParseConnectivity(0)
	require.NoError(t, err)
	assert.Equal(t, Eight, c)
}
