// Package config loads and validates the pipeline's yaml configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete pipeline configuration.
type Config struct {
	Mode     string         `yaml:"mode"` // bounded | probe
	Years    YearsConfig    `yaml:"years"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Store    StoreConfig    `yaml:"store"`
	Export   ExportConfig   `yaml:"export"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// YearsConfig selects the calendar year range. End is ignored in probe mode.
type YearsConfig struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// FetchConfig configures the upstream HTTP client.
type FetchConfig struct {
	URLTemplate    string `yaml:"urlTemplate"` // empty = upstream default
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// StoreConfig configures the DuckDB staging store.
type StoreConfig struct {
	Path       string `yaml:"path"`       // empty = in-memory
	OnConflict string `yaml:"onConflict"` // replace | reject
	Reset      string `yaml:"reset"`      // per-year | recreate
}

// ExportConfig configures the partition export target.
type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// PipelineConfig sizes the run's concurrency.
type PipelineConfig struct {
	Workers             int `yaml:"workers"`
	QueueSize           int `yaml:"queueSize"`
	QueueTimeoutSeconds int `yaml:"queueTimeoutSeconds"`
	RunTimeoutSeconds   int `yaml:"runTimeoutSeconds"` // 0 = no timeout
}

// MetricsConfig configures the optional prometheus listener.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty = disabled
}

// Load reads the yaml config at path, applies defaults and validates. An
// empty path yields the defaults.
func Load(path string) (*Config, error) {
	var config Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// ApplyDefaults fills in default values for optional fields.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = "bounded"
	}
	if c.Years.Start == 0 {
		c.Years.Start = 1993
	}
	if c.Years.End == 0 {
		c.Years.End = 2025
	}
	if c.Fetch.TimeoutSeconds == 0 {
		c.Fetch.TimeoutSeconds = 30
	}
	if c.Store.OnConflict == "" {
		c.Store.OnConflict = "replace"
	}
	if c.Store.Reset == "" {
		c.Store.Reset = "per-year"
	}
	if c.Export.Dir == "" {
		c.Export.Dir = "./datasets/thai_population"
	}
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = 4
	}
	if c.Pipeline.QueueSize == 0 {
		c.Pipeline.QueueSize = 8
	}
	if c.Pipeline.QueueTimeoutSeconds == 0 {
		c.Pipeline.QueueTimeoutSeconds = 60
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Mode != "bounded" && c.Mode != "probe" {
		return fmt.Errorf("mode must be 'bounded' or 'probe', got: %s", c.Mode)
	}

	if c.Years.Start < 1900 || c.Years.Start > 2100 {
		return fmt.Errorf("years.start must be between 1900 and 2100, got: %d", c.Years.Start)
	}
	if c.Mode == "bounded" {
		if c.Years.End < c.Years.Start {
			return fmt.Errorf("years.end (%d) must be >= years.start (%d)", c.Years.End, c.Years.Start)
		}
		if c.Years.End > 2100 {
			return fmt.Errorf("years.end must be <= 2100, got: %d", c.Years.End)
		}
	}

	if c.Fetch.TimeoutSeconds < 1 {
		return fmt.Errorf("fetch.timeoutSeconds must be >= 1, got: %d", c.Fetch.TimeoutSeconds)
	}

	if c.Store.OnConflict != "replace" && c.Store.OnConflict != "reject" {
		return fmt.Errorf("store.onConflict must be 'replace' or 'reject', got: %s", c.Store.OnConflict)
	}
	if c.Store.Reset != "per-year" && c.Store.Reset != "recreate" {
		return fmt.Errorf("store.reset must be 'per-year' or 'recreate', got: %s", c.Store.Reset)
	}

	if c.Export.Dir == "" {
		return fmt.Errorf("export.dir is required")
	}

	if c.Pipeline.Workers < 1 || c.Pipeline.Workers > 64 {
		return fmt.Errorf("pipeline.workers must be between 1 and 64, got: %d", c.Pipeline.Workers)
	}
	if c.Pipeline.QueueSize < 1 {
		return fmt.Errorf("pipeline.queueSize must be >= 1, got: %d", c.Pipeline.QueueSize)
	}
	if c.Pipeline.QueueTimeoutSeconds < 1 {
		return fmt.Errorf("pipeline.queueTimeoutSeconds must be >= 1, got: %d", c.Pipeline.QueueTimeoutSeconds)
	}
	if c.Pipeline.RunTimeoutSeconds < 0 {
		return fmt.Errorf("pipeline.runTimeoutSeconds must be >= 0, got: %d", c.Pipeline.RunTimeoutSeconds)
	}

	return nil
}
