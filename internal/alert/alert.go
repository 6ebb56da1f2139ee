// Package alert reports conditions an operator has to act on, such as a
// realization whose submission failed or a queue reporting contradictory
// job state.
package alert

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter receives errors that cannot be returned to a caller.
type Reporter interface {
	// Report records err for realization iens with extra tags.
	Report(iens int, err error, tags map[string]string)
}

// Nop discards every report.
type Nop struct{}

// Report implements Reporter.
func (Nop) Report(int, error, map[string]string) {}

// LogReporter writes reports to a structured logger.
type LogReporter struct {
	Logger *slog.Logger
}

// Report implements Reporter.
func (r LogReporter) Report(iens int, err error, tags map[string]string) {
	args := []any{"iens", iens, "error", err}
	for k, v := range tags {
		args = append(args, k, v)
	}
	r.Logger.Error("alert", args...)
}

// SentryConfig configures the Sentry reporter.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
	RunID       string
}

// SentryReporter sends reports to Sentry, tagged with the ensemble run.
type SentryReporter struct {
	hub   *sentry.Hub
	runID string
}

// NewSentryReporter initialises a dedicated Sentry client.
func NewSentryReporter(cfg SentryConfig) (*SentryReporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
	})
	if err != nil {
		return nil, err
	}
	hub := sentry.NewHub(client, sentry.NewScope())
	return &SentryReporter{hub: hub, runID: cfg.RunID}, nil
}

// Report implements Reporter.
func (r *SentryReporter) Report(iens int, err error, tags map[string]string) {
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("ensemble.run_id", r.runID)
		scope.SetTag("realization.iens", strconv.Itoa(iens))
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		r.hub.CaptureException(err)
	})
}

// Flush waits up to timeout for buffered events to be sent.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

// Multi fans a report out to several reporters.
type Multi []Reporter

// Report implements Reporter.
func (m Multi) Report(iens int, err error, tags map[string]string) {
	for _, r := range m {
		r.Report(iens, err, tags)
	}
}
