package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"aocascore/internal/models"
	"aocascore/pkg/agatston"
	"aocascore/pkg/config"
	"aocascore/pkg/dicomseries"
	"aocascore/pkg/maskgen"
	"aocascore/pkg/report"
	"aocascore/pkg/session"
	"aocascore/pkg/spatial"
	"aocascore/pkg/visualization"
)

// scoreOptions holds the flags of the score command
type scoreOptions struct {
	sex        string
	age        int
	seeds      []string
	roi        string
	lesions    bool
	spatial    bool
	mipFile    string
	densityDir string
	outputFile string
}

var scoreOpts scoreOptions

// scoreCmd loads a CT series, builds a calcium mask and scores it.
var scoreCmd = &cobra.Command{
	Use:   "score <dicom-dir>",
	Short: "Compute the aortic valve Agatston score of a CT series.",
	Long: `Load a directory of non-contrast CT slices, mark calcium and compute the
Agatston score with sex-specific severity classification.

Calcium is marked by thresholding the configured region (the whole volume by
default), or by growing a 3D component from each --seed voxel.

Examples:
  # Threshold a box around the valve
  aocascore score ./series --roi 180,330,150,300,20,60 --sex F --age 72

  # Grow lesions from two seed voxels and save the MIP
  aocascore score ./series --seed 250,210,41 --seed 262,230,44 --mip valve.png

  # JSON output with per-region breakdown
  aocascore score ./series --spatial -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("roi") {
			if cfg.Segmentation.ROI, err = parseROI(scoreOpts.roi); err != nil {
				return err
			}
		}

		var seeds []maskgen.Voxel
		for _, s := range scoreOpts.seeds {
			seed, err := parseSeed(s)
			if err != nil {
				return err
			}
			seeds = append(seeds, seed)
		}

		out := cmd.OutOrStdout()
		if scoreOpts.outputFile != "" {
			f, err := os.Create(scoreOpts.outputFile)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()
			out = f
		}

		logger := newLogger(cfg.Output.LogLevel)
		return runScore(out, args[0], cfg, seeds, scoreOpts, logger)
	},
}

func init() {
	flags := scoreCmd.Flags()
	flags.StringVar(&scoreOpts.sex, "sex", "", "Patient sex M or F (default from DICOM metadata)")
	flags.IntVar(&scoreOpts.age, "age", -1, "Patient age in years (default from DICOM metadata)")
	flags.StringArrayVar(&scoreOpts.seeds, "seed", nil, "Seed voxel x,y,z for region growing; repeatable")
	flags.StringVar(&scoreOpts.roi, "roi", "", "Threshold box xmin,xmax,ymin,ymax,zmin,zmax in voxels")
	flags.BoolVar(&scoreOpts.lesions, "lesions", false, "Print the per-lesion table")
	flags.BoolVar(&scoreOpts.spatial, "spatial", false, "Include axial and bull's-eye calcium distribution")
	flags.StringVar(&scoreOpts.mipFile, "mip", "", "Write the axial MIP with calcium overlay to this PNG file")
	flags.StringVar(&scoreOpts.densityDir, "density-dir", "", "Write density-coloured slices to this directory")
	flags.StringVar(&scoreOpts.outputFile, "output-file", "", "Write the report to this file instead of stdout")
}

// runScore executes the scoring pipeline for one series directory
func runScore(out io.Writer, dir string, cfg *config.Config, seeds []maskgen.Voxel, opts scoreOptions, logger *logrus.Logger) error {
	vol, err := dicomseries.NewLoader(cfg.Scoring.Workers, logger).LoadDir(dir)
	if err != nil {
		return err
	}

	sex, age, err := resolvePatient(opts.sex, opts.age, vol.Patient)
	if err != nil {
		return err
	}

	mask, err := buildMask(vol, cfg, seeds)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"voxels": mask.Count(),
		"seeds":  len(seeds),
	}).Debug("built calcium mask")

	sessOpts, err := session.OptionsFromConfig(cfg, logger)
	if err != nil {
		return err
	}
	sess := session.New(sessOpts)
	result, err := sess.Calculate(vol, mask, sex, age)
	if err != nil {
		return err
	}
	_, run, _ := sess.Last()

	rep, err := report.New(result)
	if err != nil {
		return err
	}
	rep.RunID = run.ID.String()
	rep.Source = filepath.Clean(dir)

	if opts.spatial {
		if rep.Axial, err = spatial.AxialDistribution(vol, mask); err != nil {
			return err
		}
		if rep.Distribution, err = spatial.AnalyzeDistribution(vol, mask); err != nil {
			return err
		}
	}

	images, err := writeImages(vol, mask, result, cfg, opts, logger)
	if err != nil {
		return err
	}
	rep.Images = images

	if cfg.Output.Format == config.FormatJSON {
		return report.WriteJSON(out, rep)
	}
	return report.WriteTable(out, rep, report.Options{
		Precision: cfg.Output.Precision,
		UseColors: cfg.Output.Color && !color.NoColor,
		Lesions:   opts.lesions,
	})
}

// writeImages saves the requested MIP and density images and returns their paths
func writeImages(vol *models.Volume, mask *models.Mask, result *agatston.ScoreResult, cfg *config.Config, opts scoreOptions, logger *logrus.Logger) ([]string, error) {
	if opts.mipFile == "" && opts.densityDir == "" {
		return nil, nil
	}
	viewer := visualization.NewViewer(vol, visualization.Window{
		Level: cfg.Visualization.WindowLevel,
		Width: cfg.Visualization.WindowWidth,
	})

	var paths []string
	if opts.mipFile != "" {
		mip, err := viewer.AxialMIP(mask, cfg.Visualization.MIPMarginSlices)
		switch {
		case errors.Is(err, visualization.ErrNoCalcium):
			logger.Warn("no calcium marked, MIP not written")
		case err != nil:
			return nil, err
		default:
			label := fmt.Sprintf("Agatston: %.*f AU  %s", cfg.Output.Precision, result.AgatstonScore, result.Severity)
			visualization.DrawLabel(mip.Image, label, 2)
			if err := visualization.SavePNG(mip.Image, opts.mipFile); err != nil {
				return nil, fmt.Errorf("failed to write MIP: %w", err)
			}
			logger.WithFields(logrus.Fields{
				"file":        opts.mipFile,
				"first_slice": mip.FirstSlice,
				"last_slice":  mip.LastSlice,
			}).Info("wrote MIP")
			paths = append(paths, opts.mipFile)
		}
	}

	if opts.densityDir != "" {
		split, err := agatston.SplitByDensity(vol, mask)
		if err != nil {
			return nil, err
		}
		written, err := viewer.SaveDensitySlices(split, opts.densityDir)
		if err != nil {
			return nil, fmt.Errorf("failed to write density slices: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"dir":    opts.densityDir,
			"slices": len(written),
			"counts": split.Counts,
		}).Info("wrote density slices")
		paths = append(paths, written...)
	}
	return paths, nil
}
