// Package config provides configuration loading and management for aocascore.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Output formats
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// ROI is an index-space box on the volume grid. Bounds are inclusive.
type ROI struct {
	XMin int `yaml:"xMin"`
	XMax int `yaml:"xMax"`
	YMin int `yaml:"yMin"`
	YMax int `yaml:"yMax"`
	ZMin int `yaml:"zMin"`
	ZMax int `yaml:"zMax"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Scoring parameters
	Scoring struct {
		// Connectivity is the in-slice adjacency, 4 or 8
		Connectivity int `yaml:"connectivity"`

		// OverlapPolicy is "keep-all" or "skip"
		OverlapPolicy string `yaml:"overlapPolicy"`

		// Workers is the number of goroutines used to label slices
		Workers int `yaml:"workers"`
	} `yaml:"scoring"`

	// Mask construction parameters
	Segmentation struct {
		// ThresholdHU is the calcium inclusion threshold
		ThresholdHU float64 `yaml:"thresholdHU"`

		// ROI restricts thresholding to a box; nil means the whole volume
		ROI *ROI `yaml:"roi,omitempty"`
	} `yaml:"segmentation"`

	// Image output parameters
	Visualization struct {
		WindowLevel float64 `yaml:"windowLevel"`
		WindowWidth float64 `yaml:"windowWidth"`

		// MIPMarginSlices extends the MIP slab beyond the calcified slices
		MIPMarginSlices int `yaml:"mipMarginSlices"`
	} `yaml:"visualization"`

	// Output parameters
	Output struct {
		// Format is "table" or "json"
		Format string `yaml:"format"`

		// Precision is the number of decimals printed for scores
		Precision int `yaml:"precision"`

		Color bool `yaml:"color"`

		// LogLevel is a logrus level name
		LogLevel string `yaml:"logLevel"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Scoring.Connectivity = 8
	cfg.Scoring.OverlapPolicy = "keep-all"
	cfg.Scoring.Workers = runtime.NumCPU()

	cfg.Segmentation.ThresholdHU = 130

	cfg.Visualization.WindowLevel = 300
	cfg.Visualization.WindowWidth = 1500
	cfg.Visualization.MIPMarginSlices = 10

	cfg.Output.Format = FormatTable
	cfg.Output.Precision = 1
	cfg.Output.Color = true
	cfg.Output.LogLevel = "info"

	return cfg
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error

	if c.Scoring.Connectivity != 4 && c.Scoring.Connectivity != 8 {
		errs = append(errs, fmt.Errorf("scoring.connectivity must be 4 or 8, got %d", c.Scoring.Connectivity))
	}
	if c.Scoring.OverlapPolicy != "keep-all" && c.Scoring.OverlapPolicy != "skip" {
		errs = append(errs, fmt.Errorf("scoring.overlapPolicy must be keep-all or skip, got %q", c.Scoring.OverlapPolicy))
	}
	if c.Scoring.Workers < 1 {
		errs = append(errs, fmt.Errorf("scoring.workers must be at least 1, got %d", c.Scoring.Workers))
	}
	if c.Segmentation.ThresholdHU <= 0 {
		errs = append(errs, fmt.Errorf("segmentation.thresholdHU must be positive, got %g", c.Segmentation.ThresholdHU))
	}
	if r := c.Segmentation.ROI; r != nil {
		if r.XMin > r.XMax || r.YMin > r.YMax || r.ZMin > r.ZMax || r.XMin < 0 || r.YMin < 0 || r.ZMin < 0 {
			errs = append(errs, fmt.Errorf("segmentation.roi is empty or negative: %+v", *r))
		}
	}
	if c.Visualization.WindowWidth <= 0 {
		errs = append(errs, fmt.Errorf("visualization.windowWidth must be positive, got %g", c.Visualization.WindowWidth))
	}
	if c.Visualization.MIPMarginSlices < 0 {
		errs = append(errs, fmt.Errorf("visualization.mipMarginSlices must not be negative, got %d", c.Visualization.MIPMarginSlices))
	}
	if c.Output.Format != FormatTable && c.Output.Format != FormatJSON {
		errs = append(errs, fmt.Errorf("output.format must be table or json, got %q", c.Output.Format))
	}
	if c.Output.Precision < 0 || c.Output.Precision > 6 {
		errs = append(errs, fmt.Errorf("output.precision must be in [0, 6], got %d", c.Output.Precision))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
