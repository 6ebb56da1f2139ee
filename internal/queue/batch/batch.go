// Package batch implements a queue.Driver for HPC batch systems driven by
// submit, status and kill commands. The defaults speak Slurm.
package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/seantiz/ensemble/internal/queue"
)

// DriverName is the name used when registering with the driver registry.
const DriverName = "batch"

const (
	defaultPollInterval = 5 * time.Second
	killTimeout         = 30 * time.Second
)

// ErrUnsafeDirective is returned when a job name or run path cannot be
// written into an #SBATCH directive. Slurm splits directive values on
// whitespace and does not honour shell quoting there.
var ErrUnsafeDirective = errors.New("value not allowed in batch directive")

// Config holds the batch system commands. The job ID is appended as the last
// argument of the status, final status and kill commands; the job script
// path is appended to the submit command.
type Config struct {
	SubmitCommand      []string      `yaml:"submit_command"`
	StatusCommand      []string      `yaml:"status_command"`
	FinalStatusCommand []string      `yaml:"final_status_command"`
	KillCommand        []string      `yaml:"kill_command"`
	PollInterval       time.Duration `yaml:"poll_interval"`
}

// DefaultConfig returns the Slurm command set.
func DefaultConfig() Config {
	return Config{
		SubmitCommand:      []string{"sbatch", "--parsable"},
		StatusCommand:      []string{"squeue", "-h", "-o", "%T", "-j"},
		FinalStatusCommand: []string{"sacct", "-n", "-X", "-P", "-o", "State", "-j"},
		KillCommand:        []string{"scancel"},
		PollInterval:       defaultPollInterval,
	}
}

// state is the driver's reading of one status report.
type state int

const (
	statePending state = iota
	stateRunning
	stateDone
	stateFailed
	stateGone
)

// slurmStates maps Slurm job state names onto driver states. Anything not
// listed is treated as pending.
var slurmStates = map[string]state{
	"PENDING":       statePending,
	"CONFIGURING":   statePending,
	"REQUEUED":      statePending,
	"RUNNING":       stateRunning,
	"COMPLETING":    stateRunning,
	"COMPLETED":     stateDone,
	"FAILED":        stateFailed,
	"CANCELLED":     stateFailed,
	"TIMEOUT":       stateFailed,
	"NODE_FAIL":     stateFailed,
	"OUT_OF_MEMORY": stateFailed,
	"PREEMPTED":     stateFailed,
	"BOOT_FAIL":     stateFailed,
	"DEADLINE":      stateFailed,
}

// commandFunc runs an external command and returns its standard output.
type commandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Compile-time interface satisfaction check.
var _ queue.Driver = (*Driver)(nil)

// Driver submits each job as a shell script to the batch system and polls it
// until the system reports a final state.
type Driver struct {
	cfg    Config
	logger *slog.Logger
	run    commandFunc
}

// NewDriver creates a batch driver. Empty commands in cfg fall back to the
// Slurm defaults.
func NewDriver(cfg Config, logger *slog.Logger) *Driver {
	def := DefaultConfig()
	if len(cfg.SubmitCommand) == 0 {
		cfg.SubmitCommand = def.SubmitCommand
	}
	if len(cfg.StatusCommand) == 0 {
		cfg.StatusCommand = def.StatusCommand
	}
	if len(cfg.KillCommand) == 0 {
		cfg.KillCommand = def.KillCommand
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	return &Driver{cfg: cfg, logger: logger, run: runCommand}
}

// Name implements queue.Driver.
func (d *Driver) Name() string { return DriverName }

// Run writes the job script, submits it, and polls until the job leaves the
// queue. Cancelling ctx kills the batch job.
func (d *Driver) Run(ctx context.Context, spec queue.JobSpec) error {
	if len(spec.Command) == 0 {
		return errors.New("command is required")
	}

	script, err := writeScript(spec)
	if err != nil {
		return err
	}

	out, err := d.exec(ctx, d.cfg.SubmitCommand, script)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	jobID, err := parseJobID(out)
	if err != nil {
		return err
	}
	d.logger.Info("batch job submitted", "iens", spec.Iens, "job_id", jobID)

	return d.poll(ctx, spec, jobID)
}

func (d *Driver) poll(ctx context.Context, spec queue.JobSpec, jobID string) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	started := false
	for {
		st, raw, err := d.status(ctx, d.cfg.StatusCommand, jobID)
		if err != nil {
			d.logger.Warn("batch status query failed", "job_id", jobID, "error", err)
		} else {
			if st == stateGone {
				st, raw = d.finalStatus(ctx, jobID)
			}
			if st >= stateRunning && !started {
				started = true
				spec.Started()
			}
			switch st {
			case stateDone:
				return nil
			case stateFailed:
				return fmt.Errorf("batch job %s ended in state %s", jobID, raw)
			}
		}

		select {
		case <-ctx.Done():
			d.kill(jobID)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// finalStatus resolves the outcome of a job that no longer shows in the
// status command. Without a final status command the job is assumed done.
func (d *Driver) finalStatus(ctx context.Context, jobID string) (state, string) {
	if len(d.cfg.FinalStatusCommand) == 0 {
		return stateDone, "GONE"
	}
	st, raw, err := d.status(ctx, d.cfg.FinalStatusCommand, jobID)
	if err != nil || st == stateGone {
		d.logger.Warn("final status unavailable, assuming completed", "job_id", jobID, "error", err)
		return stateDone, "GONE"
	}
	if st < stateDone {
		return stateRunning, raw
	}
	return st, raw
}

func (d *Driver) status(ctx context.Context, command []string, jobID string) (state, string, error) {
	out, err := d.exec(ctx, command, jobID)
	if err != nil {
		return statePending, "", err
	}
	raw := firstField(out)
	if raw == "" {
		return stateGone, "", nil
	}
	st, ok := slurmStates[raw]
	if !ok {
		st = statePending
	}
	return st, raw, nil
}

func (d *Driver) kill(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
	defer cancel()
	if _, err := d.exec(ctx, d.cfg.KillCommand, jobID); err != nil {
		d.logger.Error("failed to kill batch job", "job_id", jobID, "error", err)
	}
}

func (d *Driver) exec(ctx context.Context, command []string, arg string) ([]byte, error) {
	args := append(append([]string{}, command[1:]...), arg)
	return d.run(ctx, command[0], args...)
}

// parseJobID extracts the job ID from submit output such as "1234" or
// "1234;cluster".
func parseJobID(out []byte) (string, error) {
	id := firstField(out)
	if i := strings.IndexByte(id, ';'); i >= 0 {
		id = id[:i]
	}
	if id == "" {
		return "", errors.New("submit returned no job id")
	}
	return id, nil
}

// firstField returns the first whitespace separated token of the first
// non-empty line. A trailing "+" (Slurm's truncation marker) and anything
// after a space such as "CANCELLED by 123" are dropped.
func firstField(out []byte) string {
	for line := range strings.SplitSeq(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 {
			return strings.TrimSuffix(fields[0], "+")
		}
	}
	return ""
}

// writeScript writes the shell script submitted to the batch system.
func writeScript(spec queue.JobSpec) (string, error) {
	name := spec.Name
	if name == "" {
		name = fmt.Sprintf("realization-%d", spec.Iens)
	}
	for _, v := range []string{name, spec.RunPath} {
		if strings.ContainsAny(v, " \t\r\n\"'") {
			return "", fmt.Errorf("%w: %q", ErrUnsafeDirective, v)
		}
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "#SBATCH --job-name=%s\n", name)
	fmt.Fprintf(&b, "#SBATCH --output=%s\n", filepath.Join(spec.RunPath, name+".stdout"))
	fmt.Fprintf(&b, "#SBATCH --error=%s\n", filepath.Join(spec.RunPath, name+".stderr"))
	fmt.Fprintf(&b, "cd %s || exit 1\n", shellQuote(spec.RunPath))
	fmt.Fprintf(&b, "export ENSEMBLE_IENS=%d\n", spec.Iens)
	fmt.Fprintf(&b, "export ENSEMBLE_RUNPATH=%s\n", shellQuote(spec.RunPath))
	fmt.Fprintf(&b, "export ENSEMBLE_TARGET=%s\n", shellQuote(spec.Target))

	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s\n", k, shellQuote(spec.Env[k]))
	}

	quoted := make([]string, len(spec.Command))
	for i, arg := range spec.Command {
		quoted[i] = shellQuote(arg)
	}
	fmt.Fprintf(&b, "exec %s\n", strings.Join(quoted, " "))

	path := filepath.Join(spec.RunPath, name+".sh")
	if err := os.WriteFile(path, []byte(b.String()), 0o755); err != nil {
		return "", fmt.Errorf("write job script: %w", err)
	}
	return path, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
