// Package local implements a queue.Driver that runs each realization's
// forward model as a child process on this host.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/seantiz/ensemble/internal/queue"
)

// DriverName is the name used when registering with the driver registry.
const DriverName = "local"

// Environment variables exported to every forward-model process.
const (
	EnvIens        = "ENSEMBLE_IENS"
	EnvRunPath     = "ENSEMBLE_RUNPATH"
	EnvTarget      = "ENSEMBLE_TARGET"
	EnvExecutionID = "ENSEMBLE_EXECUTION_ID"
)

// Compile-time interface satisfaction check.
var _ queue.Driver = (*Driver)(nil)

// Driver runs jobs with os/exec. Processes run with the same privileges as
// the orchestrator, in the realization's run path.
type Driver struct {
	logger *slog.Logger
}

// NewDriver creates a local process driver.
func NewDriver(logger *slog.Logger) *Driver {
	return &Driver{logger: logger}
}

// Name implements queue.Driver.
func (d *Driver) Name() string { return DriverName }

// Run starts the job's command in its run path and waits for it to exit.
// Standard output and error are written to <name>.stdout and <name>.stderr
// next to the job. Cancelling ctx kills the process.
func (d *Driver) Run(ctx context.Context, spec queue.JobSpec) error {
	if len(spec.Command) == 0 {
		return errors.New("command is required")
	}
	if spec.RunPath == "" {
		return errors.New("run path is required")
	}

	name := spec.Name
	if name == "" {
		name = fmt.Sprintf("realization-%d", spec.Iens)
	}

	stdout, err := os.Create(filepath.Join(spec.RunPath, name+".stdout"))
	if err != nil {
		return fmt.Errorf("create stdout file: %w", err)
	}
	defer stdout.Close()

	stderr, err := os.Create(filepath.Join(spec.RunPath, name+".stderr"))
	if err != nil {
		return fmt.Errorf("create stderr file: %w", err)
	}
	defer stderr.Close()

	execID := uuid.New().String()

	cmd := exec.CommandContext(ctx, spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.RunPath
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("%s=%d", EnvIens, spec.Iens),
		fmt.Sprintf("%s=%s", EnvRunPath, spec.RunPath),
		fmt.Sprintf("%s=%s", EnvTarget, spec.Target),
		fmt.Sprintf("%s=%s", EnvExecutionID, execID),
	)
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}
	spec.Started()

	d.logger.Debug("process started",
		"iens", spec.Iens,
		"pid", cmd.Process.Pid,
		"execution_id", execID,
	)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("process killed: %w", ctx.Err())
		}
		return fmt.Errorf("process exited: %w", err)
	}
	return nil
}
