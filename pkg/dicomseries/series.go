package dicomseries

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom"
	"gonum.org/v1/gonum/stat"

	"aocascore/internal/models"
)

// spacingTolerance is the allowed in-plane spacing difference between slices in mm
const spacingTolerance = 1e-4

// Loader reads a directory of single-frame CT images
type Loader struct {
	// Workers is the number of files parsed concurrently
	Workers int

	log *logrus.Logger
}

// NewLoader creates a loader; a nil logger discards output
func NewLoader(workers int, logger *logrus.Logger) *Loader {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if workers < 1 {
		workers = 1
	}
	return &Loader{Workers: workers, log: logger}
}

// LoadDir parses every regular file in dir, skips files that are not DICOM
// images, and assembles the remaining slices into a volume
func (l *Loader) LoadDir(dir string) (*models.Volume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading series directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSlices, dir)
	}

	decoded := make([]*Slice, len(paths))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < l.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				s, err := l.readFile(paths[i])
				if err != nil {
					l.log.WithError(err).WithField("file", paths[i]).Debug("skipping file")
					continue
				}
				decoded[i] = s
			}
		}()
	}
	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var slices []*Slice
	for _, s := range decoded {
		if s != nil {
			slices = append(slices, s)
		}
	}
	if len(slices) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSlices, dir)
	}

	vol, err := Assemble(slices)
	if err != nil {
		return nil, err
	}

	l.log.WithFields(logrus.Fields{
		"dir":       dir,
		"slices":    vol.Depth,
		"skipped":   len(paths) - len(slices),
		"width":     vol.Width,
		"height":    vol.Height,
		"spacing_x": vol.Spacing.X,
		"spacing_y": vol.Spacing.Y,
		"spacing_z": vol.Spacing.Z,
		"thickness": vol.SliceThickness,
	}).Info("loaded CT series")

	return vol, nil
}

func (l *Loader) readFile(path string) (*Slice, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, err
	}
	return DecodeDataset(ds, filepath.Base(path))
}

// Assemble orders slices along z and stacks them into a volume. Slices are
// ordered by ImagePositionPatient z when every slice has one, otherwise by
// InstanceNumber. The z spacing is the median gap between positions, falling
// back to SpacingBetweenSlices and then SliceThickness.
func Assemble(slices []*Slice) (*models.Volume, error) {
	if len(slices) == 0 {
		return nil, ErrNoSlices
	}

	ref := slices[0]
	for _, s := range slices[1:] {
		if s.Rows != ref.Rows || s.Columns != ref.Columns {
			return nil, fmt.Errorf("%w: %s is %dx%d, %s is %dx%d", ErrInconsistentSeries,
				s.Source, s.Columns, s.Rows, ref.Source, ref.Columns, ref.Rows)
		}
		if math.Abs(s.PixelSpacing[0]-ref.PixelSpacing[0]) > spacingTolerance ||
			math.Abs(s.PixelSpacing[1]-ref.PixelSpacing[1]) > spacingTolerance {
			return nil, fmt.Errorf("%w: pixel spacing differs between %s and %s", ErrInconsistentSeries,
				s.Source, ref.Source)
		}
	}

	ordered := make([]*Slice, len(slices))
	copy(ordered, slices)

	byPosition := true
	for _, s := range ordered {
		if !s.HasPosition {
			byPosition = false
			break
		}
	}
	if byPosition {
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position[2] < ordered[j].Position[2] })
	} else {
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Instance < ordered[j].Instance })
	}

	z, err := zSpacing(ordered, byPosition)
	if err != nil {
		return nil, err
	}

	first := ordered[0]
	vol := models.NewVolume(first.Columns, first.Rows, len(ordered), models.Spacing{
		X: first.PixelSpacing[1],
		Y: first.PixelSpacing[0],
		Z: z,
	})
	vol.SliceThickness = first.Thickness
	vol.Patient = models.PatientInfo{Sex: first.PatientSex, Age: first.PatientAge}

	n := vol.SliceLen()
	for k, s := range ordered {
		copy(vol.Data[k*n:(k+1)*n], s.HU[:n])
	}

	return vol, nil
}

func zSpacing(ordered []*Slice, byPosition bool) (float64, error) {
	if byPosition && len(ordered) > 1 {
		gaps := make([]float64, 0, len(ordered)-1)
		for i := 1; i < len(ordered); i++ {
			gap := ordered[i].Position[2] - ordered[i-1].Position[2]
			if gap <= 0 {
				return 0, fmt.Errorf("%w: %s and %s share position z=%g", ErrInconsistentSeries,
					ordered[i-1].Source, ordered[i].Source, ordered[i].Position[2])
			}
			gaps = append(gaps, gap)
		}
		sort.Float64s(gaps)
		return stat.Quantile(0.5, stat.Empirical, gaps, nil), nil
	}

	ref := ordered[0]
	switch {
	case ref.SpacingBetween > 0:
		return ref.SpacingBetween, nil
	case ref.Thickness > 0:
		return ref.Thickness, nil
	default:
		return 0, fmt.Errorf("%w: cannot determine slice spacing", ErrInconsistentSeries)
	}
}
