// Package session runs one Agatston calculation at a time and keeps the
// last result.
package session

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"aocascore/internal/models"
	"aocascore/pkg/agatston"
	"aocascore/pkg/config"
	"aocascore/pkg/geometry"
	"aocascore/pkg/labeling"
	"aocascore/pkg/severity"
)

// ErrInvalidAge is returned for a negative patient age
var ErrInvalidAge = errors.New("invalid patient age")

// State is the stage a calculation has reached
type State int

const (
	Idle State = iota
	GeometryResolved
	Labeled
	Scoring
	Aggregated
	Classified
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case GeometryResolved:
		return "geometry-resolved"
	case Labeled:
		return "labeled"
	case Scoring:
		return "scoring"
	case Aggregated:
		return "aggregated"
	case Classified:
		return "classified"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a Session
type Options struct {
	Connectivity  labeling.Connectivity
	OverlapPolicy geometry.OverlapPolicy

	// Workers is passed to the labeller; values below 2 label sequentially
	Workers int

	// Logger receives progress and geometry diagnostics; nil discards them
	Logger *logrus.Logger
}

// OptionsFromConfig builds Options from the scoring section of cfg
func OptionsFromConfig(cfg *config.Config, logger *logrus.Logger) (Options, error) {
	conn, err := labeling.ParseConnectivity(cfg.Scoring.Connectivity)
	if err != nil {
		return Options{}, err
	}
	policy, err := geometry.ParseOverlapPolicy(cfg.Scoring.OverlapPolicy)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Connectivity:  conn,
		OverlapPolicy: policy,
		Workers:       cfg.Scoring.Workers,
		Logger:        logger,
	}, nil
}

// Run is the metadata of a completed calculation
type Run struct {
	ID          uuid.UUID
	CompletedAt time.Time
	Duration    time.Duration
}

// Session performs calculations and caches the most recent result. Each
// successful Calculate replaces the cache; a failed one leaves it untouched.
type Session struct {
	opts Options
	log  *logrus.Logger

	// calc serializes calculations
	calc sync.Mutex

	mu     sync.RWMutex
	state  State
	last   *agatston.ScoreResult
	run    Run
	cached bool
}

// New creates an idle session
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if opts.OverlapPolicy == "" {
		opts.OverlapPolicy = geometry.OverlapKeepAll
	}
	if opts.Connectivity == 0 {
		opts.Connectivity = labeling.Eight
	}
	return &Session{opts: opts, log: logger}
}

// State returns the stage of the current or last calculation
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Last returns a copy of the cached result and its run metadata. ok is false
// until a calculation has succeeded.
func (s *Session) Last() (result *agatston.ScoreResult, run Run, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.cached {
		return nil, Run{}, false
	}
	return s.last.Clone(), s.run, true
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Calculate scores volume under mask and classifies the score for sex.
// age is optional and only carried into the result.
func (s *Session) Calculate(volume *models.Volume, mask *models.Mask, sex severity.Sex, age *int) (*agatston.ScoreResult, error) {
	s.calc.Lock()
	defer s.calc.Unlock()

	start := time.Now()
	result, err := s.calculate(volume, mask, sex, age)
	if err != nil {
		s.setState(Idle)
		s.log.WithError(err).Warn("calcium scoring failed")
		return nil, err
	}

	run := Run{ID: uuid.New(), CompletedAt: time.Now()}
	run.Duration = run.CompletedAt.Sub(start)

	s.mu.Lock()
	s.last = result
	s.run = run
	s.cached = true
	s.state = Done
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"run_id":         run.ID.String(),
		"agatston_score": result.AgatstonScore,
		"lesions":        result.NumLesions,
		"severity":       result.Severity,
		"duration":       run.Duration,
	}).Info("calcium scoring complete")

	return result.Clone(), nil
}

func (s *Session) calculate(volume *models.Volume, mask *models.Mask, sex severity.Sex, age *int) (*agatston.ScoreResult, error) {
	if volume == nil || mask == nil {
		return nil, fmt.Errorf("%w: volume and mask are required", models.ErrGridMismatch)
	}
	if !sex.Valid() {
		return nil, fmt.Errorf("%w: %q", severity.ErrInvalidSex, string(sex))
	}
	if age != nil && *age < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAge, *age)
	}

	g, err := geometry.New(volume.Spacing, volume.SliceThickness, s.opts.OverlapPolicy)
	if err != nil {
		return nil, err
	}
	if err := mask.CheckGrid(volume); err != nil {
		return nil, err
	}
	s.setState(GeometryResolved)
	s.logGeometry(g)

	scorer := agatston.NewSliceScorer(g)

	if !mask.Any() {
		s.log.Info("mask is empty, no calcification to score")
		return s.finish(agatston.EmptyResult(sex, age), g, scorer, sex, age)
	}

	labels, err := labeling.Label(mask, labeling.Options{
		Connectivity: s.opts.Connectivity,
		Step:         g.SliceStep(),
		Workers:      s.opts.Workers,
	})
	if err != nil {
		return nil, err
	}
	s.setState(Labeled)
	s.log.WithField("lesions", labels.NumLesions).Debug("lesions labelled")

	lesions, err := agatston.CollectLesions(labels, volume)
	if err != nil {
		return nil, err
	}
	s.setState(Scoring)
	scores := scorer.ScoreLesions(lesions)

	result := agatston.Aggregator{NormalizationFactor: g.NormalizationFactor()}.Aggregate(scores)
	s.setState(Aggregated)
	s.log.WithFields(logrus.Fields{
		"detected": result.Diagnostics.DetectedLesions,
		"filtered": result.Diagnostics.FilteredLesions,
		"raw":      result.RawAgatstonScore,
	}).Debug("lesions aggregated")

	return s.finish(result, g, scorer, sex, age)
}

// finish classifies the result and records geometry diagnostics
func (s *Session) finish(r *agatston.ScoreResult, g *geometry.Geometry, scorer agatston.SliceScorer, sex severity.Sex, age *int) (*agatston.ScoreResult, error) {
	if r.Empty() {
		r.Classification = severity.NoCalcificationText
		r.Severity = severity.NormalMinimal
	} else {
		text, sev, err := severity.Classify(r.AgatstonScore, sex)
		if err != nil {
			return nil, err
		}
		r.Classification = text
		r.Severity = sev
	}
	r.NormalizationFactor = g.NormalizationFactor()
	r.PatientSex = sex
	if age != nil {
		a := *age
		r.PatientAge = &a
	} else {
		r.PatientAge = nil
	}

	thickness, defaulted := g.SliceThickness()
	r.Diagnostics.MinPixels = scorer.MinPixels
	r.Diagnostics.MinAreaMM2 = scorer.MinAreaMM2()
	r.Diagnostics.SliceStep = g.SliceStep()
	r.Diagnostics.SliceSpacingMM = g.SliceSpacing()
	r.Diagnostics.SliceThicknessMM = thickness
	r.Diagnostics.ThicknessDefaulted = defaulted

	s.setState(Classified)
	return r, nil
}

func (s *Session) logGeometry(g *geometry.Geometry) {
	thickness, defaulted := g.SliceThickness()
	spacing := g.Spacing()
	entry := s.log.WithFields(logrus.Fields{
		"spacing_x":      spacing.X,
		"spacing_y":      spacing.Y,
		"spacing_z":      spacing.Z,
		"thickness_mm":   thickness,
		"slice_step":     g.SliceStep(),
		"normalization":  g.NormalizationFactor(),
		"overlap_policy": s.opts.OverlapPolicy,
	})

	if defaulted {
		entry.Info("slice thickness missing, using z spacing")
	}
	switch g.ThicknessNote() {
	case geometry.ThicknessThick:
		entry.Warn("slice thickness " + g.ThicknessNote().String())
	case geometry.ThicknessHighResolution:
		entry.Info("slice thickness " + g.ThicknessNote().String())
	}
	if g.Overlapping() {
		entry.Info("overlapping slices detected")
	}
	entry.Debug("geometry resolved")
}
