// Package config provides configuration loading and management for pivflow.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"pivflow/internal/models"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Pass parameters; the i-th entry of each list configures pass i
	Passes struct {
		// WindowSizes lists the interrogation window side length per pass
		WindowSizes []int `yaml:"windowSizes"`

		// Overlaps lists the window overlap per pass, same length as
		// WindowSizes
		Overlaps []int `yaml:"overlaps"`

		// Method selects the window deformation strategy
		// ("symmetric" or "second image")
		Method string `yaml:"method"`

		// FieldOrder is the interpolation order used to densify the
		// sparse displacement field between passes
		FieldOrder int `yaml:"fieldOrder"`

		// ResampleOrder is the interpolation order used when warping
		// the frames
		ResampleOrder int `yaml:"resampleOrder"`
	} `yaml:"passes"`

	// Validation parameters
	Validation struct {
		// Method selects the outlier test ("none", "sig2noise",
		// "local_median", "global_velocity", "global_std")
		Method string `yaml:"method"`

		// Threshold is the test parameter: minimum signal-to-noise,
		// maximum median deviation, velocity bound or sigma count
		Threshold float64 `yaml:"threshold"`

		// Timing selects which passes validate ("all", "first", "never")
		Timing string `yaml:"timing"`

		// ReplaceKernel is the neighborhood radius for outlier replacement
		ReplaceKernel int `yaml:"replaceKernel"`

		// ReplaceIterations bounds the iterative replacement sweeps
		ReplaceIterations int `yaml:"replaceIterations"`
	} `yaml:"validation"`

	// Smoothing parameters
	Smoothing struct {
		// Enabled turns on field smoothing after replacement
		Enabled bool `yaml:"enabled"`

		// Penalty is the smoothing strength
		Penalty float64 `yaml:"penalty"`
	} `yaml:"smoothing"`

	// Masking parameters
	Masking struct {
		// Dynamic enables intensity-based masking of bright regions
		Dynamic bool `yaml:"dynamic"`

		// Threshold is the blurred-intensity cutoff above which pixels
		// are masked
		Threshold float64 `yaml:"threshold"`

		// FilterSize is the box blur radius applied before thresholding
		FilterSize int `yaml:"filterSize"`
	} `yaml:"masking"`

	// Preprocessing parameters
	Preprocess struct {
		// Invert flips frame intensities (bright particles on dark
		// background expected downstream)
		Invert bool `yaml:"invert"`

		// ROI crops the frames before processing; all zero means no crop
		ROI struct {
			Top    int `yaml:"top"`
			Bottom int `yaml:"bottom"`
			Left   int `yaml:"left"`
			Right  int `yaml:"right"`
		} `yaml:"roi"`
	} `yaml:"preprocess"`

	// Output parameters
	Output struct {
		// Directory is where result files and plots are written
		Directory string `yaml:"directory"`

		// PlotScale stretches the plotted vectors for visibility
		PlotScale float64 `yaml:"plotScale"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Passes.WindowSizes = []int{64, 32}
	cfg.Passes.Overlaps = []int{32, 16}
	cfg.Passes.Method = "symmetric"
	cfg.Passes.FieldOrder = 1
	cfg.Passes.ResampleOrder = 1

	cfg.Validation.Method = "local_median"
	cfg.Validation.Threshold = 2.0
	cfg.Validation.Timing = "all"
	cfg.Validation.ReplaceKernel = 1
	cfg.Validation.ReplaceIterations = 2

	cfg.Smoothing.Enabled = false
	cfg.Smoothing.Penalty = 0.5

	cfg.Masking.Dynamic = false
	cfg.Masking.Threshold = 0.9
	cfg.Masking.FilterSize = 3

	cfg.Output.Directory = "results"
	cfg.Output.PlotScale = 5.0

	return cfg
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
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// PassConfigs converts the loaded configuration into the immutable per-pass
// parameter list the pipeline consumes. The window size and overlap lists
// must have equal, nonzero length.
func (cfg *Config) PassConfigs() ([]models.PassConfig, error) {
	if len(cfg.Passes.WindowSizes) == 0 {
		return nil, &models.ConfigError{Reason: "no passes configured"}
	}
	if len(cfg.Passes.WindowSizes) != len(cfg.Passes.Overlaps) {
		return nil, &models.ConfigError{
			Reason: fmt.Sprintf("%d window sizes but %d overlaps",
				len(cfg.Passes.WindowSizes), len(cfg.Passes.Overlaps)),
		}
	}

	method, err := models.ParseDeformMethod(cfg.Passes.Method)
	if err != nil {
		return nil, err
	}
	validation, err := models.ParseValidationMethod(cfg.Validation.Method)
	if err != nil {
		return nil, err
	}

	passes := make([]models.PassConfig, len(cfg.Passes.WindowSizes))
	for i := range passes {
		passes[i] = models.PassConfig{
			WindowSize:        cfg.Passes.WindowSizes[i],
			Overlap:           cfg.Passes.Overlaps[i],
			Method:            method,
			FieldOrder:        cfg.Passes.FieldOrder,
			ResampleOrder:     cfg.Passes.ResampleOrder,
			Validation:        validation,
			Threshold:         cfg.Validation.Threshold,
			ReplaceKernel:     cfg.Validation.ReplaceKernel,
			ReplaceIterations: cfg.Validation.ReplaceIterations,
			Smooth:            cfg.Smoothing.Enabled,
			SmoothPenalty:     cfg.Smoothing.Penalty,
		}
	}
	return passes, nil
}
