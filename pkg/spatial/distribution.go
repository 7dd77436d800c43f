// Package spatial describes where calcium sits: along the scan axis and
// around the valve in a bull's-eye layout.
package spatial

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"aocascore/internal/models"
	"aocascore/pkg/agatston"
)

// Region is a bull's-eye sector of the valve
type Region string

const (
	Center  Region = "center"
	NC      Region = "NC"
	RC      Region = "RC"
	LC      Region = "LC"
	NCBasal Region = "NC_basal"
	NCComm  Region = "NC_comm"
	RCBasal Region = "RC_basal"
	RCComm  Region = "RC_comm"
	LCBasal Region = "LC_basal"
	LCComm  Region = "LC_comm"
)

// Regions lists every region from the centre outwards
var Regions = []Region{Center, NC, RC, LC, NCBasal, NCComm, RCBasal, RCComm, LCBasal, LCComm}

// Band radii as fractions of the largest voxel distance from the centroid
const (
	CenterFraction = 0.2
	CuspFraction   = 0.6
)

// RegionStats summarises the calcium of one region
type RegionStats struct {
	Region      Region  `json:"region"`
	Voxels      int     `json:"voxels"`
	VolumeMM3   float64 `json:"volume_mm3"`
	MeanDensity float64 `json:"mean_density"`
}

// Distribution is the bull's-eye breakdown of a calcium mask. Positions are
// in voxel index space.
type Distribution struct {
	Centroid  r3.Vec        `json:"centroid"`
	MaxRadius float64       `json:"max_radius"`
	Regions   []RegionStats `json:"regions"`
}

// Empty reports whether the mask held no calcium
func (d *Distribution) Empty() bool {
	for _, r := range d.Regions {
		if r.Voxels > 0 {
			return false
		}
	}
	return true
}

// Stats returns the entry for region r
func (d *Distribution) Stats(r Region) RegionStats {
	for _, s := range d.Regions {
		if s.Region == r {
			return s
		}
	}
	return RegionStats{Region: r}
}

// AnalyzeDistribution assigns each marked voxel to a region by its distance
// from the calcium centroid and its in-plane angle. Voxels nearer than 20% of
// the maximum distance form the centre, those below 60% fall into one of
// three cusps, and the rest into six 60-degree outer sectors.
func AnalyzeDistribution(volume *models.Volume, mask *models.Mask) (*Distribution, error) {
	if err := mask.CheckGrid(volume); err != nil {
		return nil, err
	}

	d := &Distribution{Regions: make([]RegionStats, len(Regions))}
	for i, r := range Regions {
		d.Regions[i].Region = r
	}

	var points []r3.Vec
	var indices []int
	for i, on := range mask.Data {
		if !on {
			continue
		}
		points = append(points, voxelPosition(mask, i))
		indices = append(indices, i)
	}
	if len(points) == 0 {
		return d, nil
	}

	var sum r3.Vec
	for _, p := range points {
		sum = r3.Add(sum, p)
	}
	d.Centroid = r3.Scale(1/float64(len(points)), sum)

	dist := make([]float64, len(points))
	for i, p := range points {
		dist[i] = r3.Norm(r3.Sub(p, d.Centroid))
	}
	d.MaxRadius = floats.Max(dist)

	inner := d.MaxRadius * CenterFraction
	mid := d.MaxRadius * CuspFraction

	densities := make(map[Region][]float64, len(Regions))
	for i, p := range points {
		rel := r3.Sub(p, d.Centroid)
		angle := math.Mod(math.Atan2(rel.X, rel.Y)*180/math.Pi+360, 360)
		r := classify(dist[i], angle, inner, mid)
		densities[r] = append(densities[r], volume.Data[indices[i]])
	}

	voxelVolume := volume.Spacing.X * volume.Spacing.Y * volume.Spacing.Z
	for i := range d.Regions {
		vals := densities[d.Regions[i].Region]
		if len(vals) == 0 {
			continue
		}
		d.Regions[i].Voxels = len(vals)
		d.Regions[i].VolumeMM3 = float64(len(vals)) * voxelVolume
		d.Regions[i].MeanDensity = stat.Mean(vals, nil)
	}

	return d, nil
}

// classify maps a distance and an angle in degrees [0, 360) to a region
func classify(dist, angle, inner, mid float64) Region {
	switch {
	case dist < inner:
		return Center
	case dist < mid:
		switch {
		case angle >= 30 && angle < 150:
			return NC
		case angle >= 150 && angle < 270:
			return RC
		default:
			return LC
		}
	}

	switch {
	case angle < 60:
		return LCComm
	case angle < 120:
		return NCBasal
	case angle < 180:
		return NCComm
	case angle < 240:
		return RCBasal
	case angle < 300:
		return RCComm
	default:
		return LCBasal
	}
}

func voxelPosition(m *models.Mask, idx int) r3.Vec {
	sliceLen := m.SliceLen()
	z := idx / sliceLen
	rem := idx % sliceLen
	return r3.Vec{X: float64(rem % m.Width), Y: float64(rem / m.Width), Z: float64(z)}
}

// SliceScore is the Agatston-style score of the whole mask on one slice
type SliceScore struct {
	Slice      int     `json:"slice"`
	PixelCount int     `json:"pixel_count"`
	AreaMM2    float64 `json:"area_mm2"`
	MaxDensity float64 `json:"max_density"`
	Score      float64 `json:"score"`
}

// AxialDistribution scores each slice that holds calcium as a single region,
// using the slice maximum for the density factor. The minimum-area filter is
// not applied, so the values show where calcium lies rather than summing to
// the exam score.
func AxialDistribution(volume *models.Volume, mask *models.Mask) ([]SliceScore, error) {
	if err := mask.CheckGrid(volume); err != nil {
		return nil, err
	}

	area := volume.Spacing.X * volume.Spacing.Y
	sliceLen := mask.SliceLen()

	var out []SliceScore
	var vals []float64
	for z := 0; z < mask.Depth; z++ {
		vals = vals[:0]
		base := z * sliceLen
		for i, on := range mask.Data[base : base+sliceLen] {
			if on {
				vals = append(vals, volume.Data[base+i])
			}
		}
		if len(vals) == 0 {
			continue
		}
		peak := floats.Max(vals)
		a := float64(len(vals)) * area
		out = append(out, SliceScore{
			Slice:      z,
			PixelCount: len(vals),
			AreaMM2:    a,
			MaxDensity: peak,
			Score:      a * float64(agatston.DensityFactor(peak)),
		})
	}
	return out, nil
}
