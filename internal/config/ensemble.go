package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/ensemble/internal/queue/batch"
)

// ErrInvalidEnsemble is returned when an ensemble file fails validation.
var ErrInvalidEnsemble = errors.New("invalid ensemble file")

// Ensemble describes one ensemble run as read from YAML.
type Ensemble struct {
	Size      int    `yaml:"size"`
	RunPath   string `yaml:"runpath"`
	Iteration int    `yaml:"iteration"`
	// Target is formatted like RunPath to name each realization's output.
	Target       string            `yaml:"target"`
	Root         string            `yaml:"root"`
	JobName      string            `yaml:"job_name"`
	ForwardModel []string          `yaml:"forward_model"`
	Env          map[string]string `yaml:"env"`
	// Keywords holds per-realization substitutions keyed by index.
	Keywords   map[int]map[string]string `yaml:"keywords"`
	MaxRuntime time.Duration             `yaml:"max_runtime"`
	Batch      *batch.Config             `yaml:"batch"`
}

// LoadEnsembleFile reads and validates the ensemble file at path.
func LoadEnsembleFile(path string) (*Ensemble, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ensemble file: %w", err)
	}
	return ParseEnsemble(data)
}

// ParseEnsemble decodes and validates an ensemble description. Unknown keys
// are rejected.
func ParseEnsemble(data []byte) (*Ensemble, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var e Ensemble
	if err := dec.Decode(&e); err != nil {
		return nil, fmt.Errorf("decode ensemble file: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks the fields every run needs.
func (e *Ensemble) Validate() error {
	if e.Size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidEnsemble, e.Size)
	}
	if e.RunPath == "" {
		return fmt.Errorf("%w: runpath is required", ErrInvalidEnsemble)
	}
	if len(e.ForwardModel) == 0 {
		return fmt.Errorf("%w: forward_model is required", ErrInvalidEnsemble)
	}
	if e.Iteration < 0 {
		return fmt.Errorf("%w: iteration must not be negative", ErrInvalidEnsemble)
	}
	if e.MaxRuntime < 0 {
		return fmt.Errorf("%w: max_runtime must not be negative", ErrInvalidEnsemble)
	}
	for iens := range e.Keywords {
		if iens < 0 || iens >= e.Size {
			return fmt.Errorf("%w: keywords for realization %d outside ensemble of size %d", ErrInvalidEnsemble, iens, e.Size)
		}
	}
	return nil
}

// BatchConfig returns the batch driver configuration, filling any command the
// file leaves out from the Slurm defaults.
func (e *Ensemble) BatchConfig() batch.Config {
	cfg := batch.DefaultConfig()
	if e.Batch == nil {
		return cfg
	}
	if len(e.Batch.SubmitCommand) > 0 {
		cfg.SubmitCommand = e.Batch.SubmitCommand
	}
	if len(e.Batch.StatusCommand) > 0 {
		cfg.StatusCommand = e.Batch.StatusCommand
	}
	if len(e.Batch.FinalStatusCommand) > 0 {
		cfg.FinalStatusCommand = e.Batch.FinalStatusCommand
	}
	if len(e.Batch.KillCommand) > 0 {
		cfg.KillCommand = e.Batch.KillCommand
	}
	if e.Batch.PollInterval > 0 {
		cfg.PollInterval = e.Batch.PollInterval
	}
	return cfg
}
