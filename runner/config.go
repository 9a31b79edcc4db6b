package runner

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/lexalign/align"
	"github.com/hazyhaar/lexalign/compare"
)

// RemoteSpec declares one remote OCR service to register as a pipeline.
type RemoteSpec struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// Config is the full evaluation-run configuration, loadable from YAML.
type Config struct {
	DBPath      string `yaml:"db_path"`
	ArtifactDir string `yaml:"artifact_dir"`

	Workers      int           `yaml:"workers"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
	Visibility   time.Duration `yaml:"visibility"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`

	Align   align.Config   `yaml:"align"`
	Compare compare.Config `yaml:"compare"`

	Remotes []RemoteSpec `yaml:"remotes"`
}

// DefaultConfig returns the defaults used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		DBPath:       "lexalign.db",
		ArtifactDir:  "artifacts",
		Workers:      4,
		JobTimeout:   2 * time.Minute,
		Visibility:   5 * time.Minute,
		PollInterval: time.Second,
		MaxAttempts:  3,
	}
}

// LoadConfig reads and parses a YAML config file, merged over defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations that would wedge the worker pool.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("job_timeout must be positive")
	}
	if c.Visibility <= c.JobTimeout {
		return fmt.Errorf("visibility (%s) must exceed job_timeout (%s) or healthy jobs get redelivered",
			c.Visibility, c.JobTimeout)
	}
	for _, r := range c.Remotes {
		if r.ID == "" || r.URL == "" {
			return fmt.Errorf("remote pipeline needs both id and url, got %+v", r)
		}
	}
	return nil
}
