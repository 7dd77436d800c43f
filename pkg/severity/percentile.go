package severity

import (
	"errors"
	"fmt"
)

// ErrAgeOutOfRange is returned when no reference table covers the age.
var ErrAgeOutOfRange = errors.New("age outside reference range")

const (
	MinReferenceAge = 40
	MaxReferenceAge = 85
)

type ageGroup struct {
	min, max    int
	percentiles [4]float64 // 25th, 50th, 75th, 90th
}

// Simplified MESA reference percentiles
var (
	femaleReference = []ageGroup{
		{40, 44, [4]float64{0, 0, 5, 38}},
		{45, 54, [4]float64{0, 0, 26, 95}},
		{55, 64, [4]float64{0, 4, 78, 250}},
		{65, 74, [4]float64{0, 25, 185, 515}},
		{75, 84, [4]float64{0, 60, 330, 800}},
	}
	maleReference = []ageGroup{
		{40, 44, [4]float64{0, 0, 11, 84}},
		{45, 54, [4]float64{0, 3, 54, 203}},
		{55, 64, [4]float64{0, 23, 161, 540}},
		{65, 74, [4]float64{0, 81, 384, 950}},
		{75, 84, [4]float64{0, 155, 610, 1400}},
	}
)

// PercentileComparison places a score within the age/sex reference group
type PercentileComparison struct {
	Sex      Sex     `json:"sex"`
	Age      int     `json:"age"`
	AgeMin   int     `json:"age_min"`
	AgeMax   int     `json:"age_max"`
	P25      float64 `json:"p25"`
	P50      float64 `json:"p50"`
	P75      float64 `json:"p75"`
	P90      float64 `json:"p90"`
	Score    float64 `json:"score"`
	Category string  `json:"category"`
}

// Percentile compares score with the reference group for sex and age.
// Ages 40 to 85 are supported; 85 uses the oldest group.
func Percentile(score float64, sex Sex, age int) (PercentileComparison, error) {
	var table []ageGroup
	switch sex {
	case Female:
		table = femaleReference
	case Male:
		table = maleReference
	default:
		return PercentileComparison{}, fmt.Errorf("%w: %q", ErrInvalidSex, string(sex))
	}
	if age < MinReferenceAge || age > MaxReferenceAge {
		return PercentileComparison{}, fmt.Errorf("%w: %d (supported %d-%d)",
			ErrAgeOutOfRange, age, MinReferenceAge, MaxReferenceAge)
	}

	group := table[len(table)-1]
	for _, g := range table {
		if age >= g.min && age <= g.max {
			group = g
			break
		}
	}

	p := group.percentiles
	c := PercentileComparison{
		Sex:    sex,
		Age:    age,
		AgeMin: group.min,
		AgeMax: group.max,
		P25:    p[0],
		P50:    p[1],
		P75:    p[2],
		P90:    p[3],
		Score:  score,
	}

	switch {
	case score <= p[0]:
		c.Category = "<25th percentile"
	case score <= p[1]:
		c.Category = "25th-50th percentile"
	case score <= p[2]:
		c.Category = "50th-75th percentile"
	case score <= p[3]:
		c.Category = "75th-90th percentile"
	default:
		c.Category = ">90th percentile"
	}

	return c, nil
}
