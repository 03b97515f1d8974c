package layout

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads the configuration from a YAML file. Fields absent from the
// file keep the values from DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate rejects parameter values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Dataset.ImageWidth <= 0 || c.Dataset.ImageHeight <= 0 {
		return fmt.Errorf("dataset image size must be positive, got %dx%d",
			c.Dataset.ImageWidth, c.Dataset.ImageHeight)
	}
	if err := c.CameraHeight.Validate(); err != nil {
		return fmt.Errorf("cameraHeight: %w", err)
	}

	ev := c.Evaluation
	if ev.MaxRoomFactor <= 0 {
		return fmt.Errorf("evaluation.maxRoomFactor must be positive")
	}
	switch ev.SentinelPolicy {
	case SentinelZero, SentinelExclude:
	default:
		return fmt.Errorf("evaluation.sentinelPolicy %q is not one of %q, %q",
			ev.SentinelPolicy, SentinelZero, SentinelExclude)
	}
	if ev.Workers < 0 {
		return fmt.Errorf("evaluation.workers must not be negative")
	}

	if c.Render.Scale < 0 || c.Render.Resolution < 0 || c.Render.GridSpacing < 0 {
		return fmt.Errorf("render values must not be negative")
	}
	return nil
}

// Validate checks the estimator parameters.
func (c CameraHeightConfig) Validate() error {
	switch {
	case c.XZRadius <= 0:
		return fmt.Errorf("xzRadius must be positive")
	case c.MinSamples < 3:
		return fmt.Errorf("minSamples must be at least 3, got %d", c.MinSamples)
	case c.FitError <= 0:
		return fmt.Errorf("fitError must be positive")
	case c.Iterations < 1:
		return fmt.Errorf("iterations must be at least 1")
	case c.MaxAttempts < c.Iterations:
		return fmt.Errorf("maxAttempts (%d) must be >= iterations (%d)", c.MaxAttempts, c.Iterations)
	case c.FramesPerSample < 2:
		return fmt.Errorf("framesPerSample must be at least 2")
	case c.PlaneIterations < 1:
		return fmt.Errorf("planeIterations must be at least 1")
	}
	return nil
}
