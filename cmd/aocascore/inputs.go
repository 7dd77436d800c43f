package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"aocascore/internal/models"
	"aocascore/pkg/config"
	"aocascore/pkg/maskgen"
	"aocascore/pkg/severity"
)

// errMissingSex is returned when neither the flags nor the scan carry a sex
var errMissingSex = errors.New("patient sex unknown: pass --sex M or --sex F")

// parseInts splits a comma-separated list of exactly n integers
func parseInts(s string, n int) ([]int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma-separated integers, got %q", n, s)
	}
	out := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q in %q", p, s)
		}
		out[i] = v
	}
	return out, nil
}

// parseSeed parses "x,y,z"
func parseSeed(s string) (maskgen.Voxel, error) {
	v, err := parseInts(s, 3)
	if err != nil {
		return maskgen.Voxel{}, fmt.Errorf("seed: %w", err)
	}
	return maskgen.Voxel{X: v[0], Y: v[1], Z: v[2]}, nil
}

// parseROI parses "xmin,xmax,ymin,ymax,zmin,zmax"
func parseROI(s string) (*config.ROI, error) {
	v, err := parseInts(s, 6)
	if err != nil {
		return nil, fmt.Errorf("roi: %w", err)
	}
	return &config.ROI{XMin: v[0], XMax: v[1], YMin: v[2], YMax: v[3], ZMin: v[4], ZMax: v[5]}, nil
}

// roiBox converts a configured ROI to a mask box; nil covers the volume
func roiBox(r *config.ROI, vol *models.Volume) maskgen.Box {
	if r == nil {
		return maskgen.Whole(vol)
	}
	return maskgen.Box{
		Min: maskgen.Voxel{X: r.XMin, Y: r.YMin, Z: r.ZMin},
		Max: maskgen.Voxel{X: r.XMax, Y: r.YMax, Z: r.ZMax},
	}
}

// buildMask grows one component per seed, or thresholds the ROI when no
// seeds are given
func buildMask(vol *models.Volume, cfg *config.Config, seeds []maskgen.Voxel) (*models.Mask, error) {
	minHU := cfg.Segmentation.ThresholdHU
	if len(seeds) == 0 {
		return maskgen.ThresholdInROI(vol, roiBox(cfg.Segmentation.ROI, vol), minHU)
	}

	mask := models.NewMask(vol.Width, vol.Height, vol.Depth)
	for _, seed := range seeds {
		m, err := maskgen.ClickGrow(vol, seed, minHU)
		if err != nil {
			return nil, err
		}
		if err := maskgen.Merge(mask, m); err != nil {
			return nil, err
		}
	}
	return mask, nil
}

// resolvePatient prefers explicit flags over scan metadata. ageFlag below
// zero means unset; a zero age in the metadata means unknown.
func resolvePatient(sexFlag string, ageFlag int, info models.PatientInfo) (severity.Sex, *int, error) {
	raw := sexFlag
	if raw == "" {
		raw = info.Sex
	}
	if strings.TrimSpace(raw) == "" {
		return "", nil, errMissingSex
	}
	sex, err := severity.ParseSex(raw)
	if err != nil {
		return "", nil, err
	}

	var age *int
	switch {
	case ageFlag >= 0:
		age = &ageFlag
	case info.Age > 0:
		a := info.Age
		age = &a
	}
	return sex, age, nil
}
