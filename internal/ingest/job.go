package ingest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mediaembed/gallery/internal/galleryerrors"
)

// Job is a saved ingest run. Flags given on the command line override its fields.
type Job struct {
	Pattern           string `yaml:"pattern"`
	Platform          string `yaml:"platform"`
	Limit             int    `yaml:"limit"`
	BatchSize         int    `yaml:"batch_size"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	MaxAttempts       int    `yaml:"max_attempts"`
	CheckURLs         bool   `yaml:"check_urls"`
	DeriveIDs         bool   `yaml:"derive_ids"`
}

// LoadJob reads and validates a YAML job file.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}

	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parse job file: %w", err)
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return &job, nil
}

// Validate checks the platform filter and numeric settings.
func (j *Job) Validate() error {
	if err := ValidatePlatform(j.Platform); err != nil {
		return err
	}

	if j.Limit < 0 || j.BatchSize < 0 || j.RequestsPerMinute < 0 || j.MaxAttempts < 0 {
		return galleryerrors.NewInvalidArgumentError("job", "numeric settings must not be negative")
	}

	return nil
}

// Options converts the job into pipeline options.
func (j *Job) Options() Options {
	return Options{
		BatchSize:         j.BatchSize,
		RequestsPerMinute: j.RequestsPerMinute,
		Platform:          j.Platform,
		Limit:             j.Limit,
		MaxAttempts:       j.MaxAttempts,
		CheckURLs:         j.CheckURLs,
		DeriveIDs:         j.DeriveIDs,
	}
}

// ValidatePlatform accepts "", fal and vertex_ai.
func ValidatePlatform(p string) error {
	switch p {
	case "", PlatformFal, PlatformVertexAI:
		return nil
	default:
		return galleryerrors.NewInvalidArgumentError("platform", fmt.Sprintf("platform must be %s or %s", PlatformFal, PlatformVertexAI))
	}
}
