// Package report renders scoring results for the terminal and as JSON.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"aocascore/pkg/agatston"
	"aocascore/pkg/severity"
	"aocascore/pkg/spatial"
)

// Report bundles a result with the reference comparisons derived from it
type Report struct {
	RunID  string `json:"run_id,omitempty"`
	Source string `json:"source,omitempty"`

	Result         *agatston.ScoreResult          `json:"result"`
	Percentile     *severity.PercentileComparison `json:"percentile,omitempty"`
	Interpretation string                         `json:"interpretation"`
	Gauge          *Gauge                         `json:"gauge,omitempty"`

	Axial        []spatial.SliceScore  `json:"axial_distribution,omitempty"`
	Distribution *spatial.Distribution `json:"spatial_distribution,omitempty"`

	Images []string `json:"images,omitempty"`
}

// Gauge places the score on the sex-specific risk gauge
type Gauge struct {
	Thresholds [4]float64 `json:"thresholds"`
	Position   float64    `json:"position"`
}

// New derives the interpretation, gauge and, when the age is inside the
// reference range, the percentile comparison for r
func New(r *agatston.ScoreResult) (*Report, error) {
	if r == nil {
		return nil, errors.New("nil result")
	}
	rep := &Report{
		Result:         r,
		Interpretation: severity.Interpretation(r.AgatstonScore, r.Severity),
	}

	if !r.PatientSex.Valid() {
		return rep, nil
	}
	bounds, err := severity.GaugeThresholds(r.PatientSex)
	if err != nil {
		return nil, err
	}
	pos, err := severity.GaugePosition(r.AgatstonScore, r.PatientSex)
	if err != nil {
		return nil, err
	}
	rep.Gauge = &Gauge{Thresholds: bounds, Position: pos}

	if r.PatientAge != nil {
		p, err := severity.Percentile(r.AgatstonScore, r.PatientSex, *r.PatientAge)
		switch {
		case err == nil:
			rep.Percentile = &p
		case !errors.Is(err, severity.ErrAgeOutOfRange):
			return nil, err
		}
	}
	return rep, nil
}

// Options control the terminal rendering
type Options struct {
	Precision int
	UseColors bool
	Lesions   bool
}

// WriteTable renders the report as terminal tables
func WriteTable(w io.Writer, rep *Report, opts Options) error {
	r := rep.Result
	prec := opts.Precision
	num := func(v float64) string { return strconv.FormatFloat(v, 'f', prec, 64) }

	sevColor := fmt.Sprint
	if opts.UseColors {
		sevColor = severityColor(r.Severity)
	}

	age := "n/a"
	if r.PatientAge != nil {
		age = strconv.Itoa(*r.PatientAge)
	}

	table := tablewriter.NewWriter(w)
	table.Header([]string{"Metric", "Value"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})
	data := [][]string{
		{"Agatston score (AU)", num(r.AgatstonScore)},
		{"Raw score (AU)", num(r.RawAgatstonScore)},
		{"Normalization factor", strconv.FormatFloat(r.NormalizationFactor, 'f', 3, 64)},
		{"Calcium volume (mm3)", num(r.TotalVolumeMM3)},
		{"Equivalent mass (mg)", num(r.EquivalentMassMg)},
		{"Lesions", strconv.Itoa(r.NumLesions)},
		{"Mean density (HU)", num(r.MeanDensity)},
		{"Max density (HU)", num(r.MaxDensity)},
		{"Density 130-199 HU (%)", num(r.DensityDistribution[0])},
		{"Density 200-299 HU (%)", num(r.DensityDistribution[1])},
		{"Density 300-399 HU (%)", num(r.DensityDistribution[2])},
		{"Density >=400 HU (%)", num(r.DensityDistribution[3])},
		{"Patient", fmt.Sprintf("%s, age %s", r.PatientSex.Label(), age)},
		{"Severity", sevColor(string(r.Severity))},
		{"Classification", sevColor(r.Classification)},
	}
	if err := table.Bulk(data); err != nil {
		return fmt.Errorf("failed to add rows: %w", err)
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	d := r.Diagnostics
	fmt.Fprintf(w, "Slices: %d processed, %d below %s mm2 (min %d px); step %d, spacing %.2f mm\n",
		d.SlicesProcessed, d.SlicesFiltered, strconv.FormatFloat(d.MinAreaMM2, 'f', 2, 64),
		d.MinPixels, d.SliceStep, d.SliceSpacingMM)
	fmt.Fprintf(w, "Lesions: %d detected, %d filtered\n", d.DetectedLesions, d.FilteredLesions)

	if opts.Lesions && len(r.Lesions) > 0 {
		if err := writeLesions(w, r.Lesions, prec); err != nil {
			return err
		}
	}

	if p := rep.Percentile; p != nil {
		fmt.Fprintf(w, "Reference (%s, %d-%d): p25 %.0f, p50 %.0f, p75 %.0f, p90 %.0f -> %s\n",
			p.Sex.Label(), p.AgeMin, p.AgeMax, p.P25, p.P50, p.P75, p.P90, p.Category)
	}
	if g := rep.Gauge; g != nil {
		fmt.Fprintf(w, "Risk gauge: %s\n", gaugeBar(g.Position, 30))
	}
	if len(rep.Images) > 0 {
		fmt.Fprintf(w, "Images: %s\n", strings.Join(rep.Images, ", "))
	}
	fmt.Fprintln(w, rep.Interpretation)
	return nil
}

func writeLesions(w io.Writer, lesions []agatston.LesionSummary, prec int) error {
	num := func(v float64) string { return strconv.FormatFloat(v, 'f', prec, 64) }

	table := tablewriter.NewWriter(w)
	table.Header([]string{"Lesion", "Slices", "Pixels", "Area (mm2)", "Volume (mm3)", "Max HU", "Factor", "Score"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	var data [][]string
	for _, l := range lesions {
		data = append(data, []string{
			strconv.Itoa(l.ID),
			sliceRange(l.Slices),
			strconv.Itoa(l.PixelCount),
			num(l.AreaMM2),
			num(l.VolumeMM3),
			num(l.MaxDensity),
			strconv.Itoa(l.DensityBin),
			num(l.Score),
		})
	}
	if err := table.Bulk(data); err != nil {
		return fmt.Errorf("failed to add lesion rows: %w", err)
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render lesion table: %w", err)
	}
	return nil
}

func severityColor(s severity.Severity) func(...any) string {
	switch s {
	case severity.Severe:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case severity.Moderate:
		return color.New(color.FgRed).SprintFunc()
	case severity.Mild:
		return color.New(color.FgYellow).SprintFunc()
	default:
		return color.New(color.FgGreen).SprintFunc()
	}
}

// sliceRange formats sorted slice indices, e.g. "3-5" or "7"
func sliceRange(s []int) string {
	switch len(s) {
	case 0:
		return "-"
	case 1:
		return strconv.Itoa(s[0])
	default:
		return fmt.Sprintf("%d-%d", s[0], s[len(s)-1])
	}
}

// gaugeBar draws the gauge as three equal zones with the needle marked
func gaugeBar(pos float64, width int) string {
	needle := min(int(pos*float64(width)), width-1)
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < width; i++ {
		switch {
		case i == needle:
			b.WriteByte('|')
		case i < width/3:
			b.WriteByte('.')
		case i < 2*width/3:
			b.WriteByte('=')
		default:
			b.WriteByte('#')
		}
	}
	b.WriteByte(']')
	return fmt.Sprintf("%s %.0f%%", b.String(), pos*100)
}

// WriteJSON writes v as indented JSON
func WriteJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
