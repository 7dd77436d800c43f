// Package severity maps aortic valve Agatston scores to sex-specific
// severity bands (non-contrast CT thresholds of Tastet et al., JAHA 2024)
// and provides the related reference comparisons used in reports.
package severity

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSex is returned for sex values other than Male or Female.
var ErrInvalidSex = errors.New("invalid patient sex")

// Sex selects the threshold table. The zero value is invalid so that a
// missing value is never silently scored against the male table.
type Sex string

const (
	Male   Sex = "M"
	Female Sex = "F"
)

// ParseSex accepts M, F, male or female in any case
func ParseSex(s string) (Sex, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "m", "male":
		return Male, nil
	case "f", "female":
		return Female, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSex, s)
	}
}

// Valid reports whether s is Male or Female
func (s Sex) Valid() bool {
	return s == Male || s == Female
}

// Label returns a human-readable name
func (s Sex) Label() string {
	switch s {
	case Male:
		return "Male"
	case Female:
		return "Female"
	default:
		return "Unknown"
	}
}

// Severity is the clinical severity band
type Severity string

const (
	NormalMinimal Severity = "Normal/Minimal"
	Mild          Severity = "Mild"
	Moderate      Severity = "Moderate"
	Severe        Severity = "Severe"
)

// Classification texts
const (
	SevereText          = "Severe Aortic Stenosis (AS)"
	ModerateText        = "Moderate Aortic Stenosis"
	MildText            = "Mild Aortic Valve Calcification"
	MinimalText         = "Minimal/Normal"
	NoCalcificationText = "No calcification detected"
)

// Thresholds holds the inclusive lower bounds of each band in Agatston units
type Thresholds struct {
	Mild     float64
	Moderate float64
	Severe   float64
}

var (
	femaleThresholds = Thresholds{Mild: 100, Moderate: 400, Severe: 1300}
	maleThresholds   = Thresholds{Mild: 100, Moderate: 1000, Severe: 2000}
)

// ThresholdsFor returns the threshold table for sex
func ThresholdsFor(sex Sex) (Thresholds, error) {
	switch sex {
	case Female:
		return femaleThresholds, nil
	case Male:
		return maleThresholds, nil
	default:
		return Thresholds{}, fmt.Errorf("%w: %q", ErrInvalidSex, string(sex))
	}
}

// Classify maps a normalized score to (classification text, severity).
// A score equal to a threshold belongs to the higher band.
func Classify(score float64, sex Sex) (string, Severity, error) {
	t, err := ThresholdsFor(sex)
	if err != nil {
		return "", "", err
	}

	switch {
	case score >= t.Severe:
		return SevereText, Severe, nil
	case score >= t.Moderate:
		return ModerateText, Moderate, nil
	case score >= t.Mild:
		return MildText, Mild, nil
	default:
		return MinimalText, NormalMinimal, nil
	}
}

// GaugeMax is the score at which the risk gauge needle saturates
const GaugeMax = 5000.0

// GaugeThresholds returns the zone boundaries of the risk gauge:
// minimal/mild, moderate and severe zones
func GaugeThresholds(sex Sex) ([4]float64, error) {
	t, err := ThresholdsFor(sex)
	if err != nil {
		return [4]float64{}, err
	}
	return [4]float64{0, t.Moderate, t.Severe, GaugeMax}, nil
}

// GaugePosition returns the needle position in [0, 1] across the three
// equally sized gauge zones
func GaugePosition(score float64, sex Sex) (float64, error) {
	b, err := GaugeThresholds(sex)
	if err != nil {
		return 0, err
	}
	const zone = 1.0 / 3.0

	switch {
	case score < b[1]:
		return max(score, 0) / b[1] * zone, nil
	case score < b[2]:
		return zone + (score-b[1])/(b[2]-b[1])*zone, nil
	default:
		p := min((score-b[2])/(b[3]-b[2]), 1.0)
		return 2*zone + p*zone, nil
	}
}
