package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/ensemble/internal/alert"
	"github.com/seantiz/ensemble/internal/model"
	"github.com/seantiz/ensemble/internal/queue"
	"github.com/seantiz/ensemble/internal/realization"
	"github.com/seantiz/ensemble/internal/runpath"
	"github.com/seantiz/ensemble/internal/submit"
)

var (
	// ErrNotQueued is returned when no record exists for a realization.
	ErrNotQueued = errors.New("realization not queued")

	// ErrNotSubmitted is returned when a realization has no queue handle yet.
	ErrNotSubmitted = errors.New("realization not submitted")

	// ErrMalformedBackendResponse is returned when the queue reports a job as
	// both succeeded and failed.
	ErrMalformedBackendResponse = errors.New("queue reported job as both succeeded and failed")
)

// Config describes one ensemble run.
type Config struct {
	RunID         string
	EnsembleSize  int
	RunPathFormat string
	Iteration     int
	// JobName prefixes each job's name; the realization index is appended.
	JobName string
	// Command and Env values may hold <KEY> placeholders.
	Command []string
	Env     map[string]string
}

// Journal records realizations outside the process. store.SQLiteStore
// satisfies it.
type Journal interface {
	CreateRealization(ctx context.Context, r *model.Realization) error
	SyncRealization(ctx context.Context, r *model.Realization) error
}

// completer is implemented by queues that want to know when no further jobs
// will be submitted.
type completer interface {
	SubmitComplete()
}

// jobErrorer is implemented by queues that keep a failure reason per job.
type jobErrorer interface {
	JobError(h queue.Handle) string
}

// resolver is implemented by makers that rewrite paths before creating them.
type resolver interface {
	Resolve(path string) string
}

// Option configures a Context.
type Option func(*Context)

// WithKeywords sets the per-realization substitution keywords.
func WithKeywords(src runpath.KeywordSource) Option {
	return func(c *Context) { c.keywords = src }
}

// WithMaker sets how run directories are created.
func WithMaker(m runpath.Maker) Option {
	return func(c *Context) { c.maker = m }
}

// WithJournal records every realization and its state changes in j.
func WithJournal(j Journal) Option {
	return func(c *Context) { c.journal = j }
}

// WithReporter sets where malformed backend responses are reported.
func WithReporter(r alert.Reporter) Option {
	return func(c *Context) { c.reporter = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Context) { c.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Context) { c.now = now }
}

// Context is the state of one ensemble run. It is safe for concurrent use,
// though realizations are normally added by a single caller.
type Context struct {
	cfg      Config
	registry *realization.Registry
	queue    queue.Queue
	pool     *submit.Pool

	keywords runpath.KeywordSource
	maker    runpath.Maker
	journal  Journal
	reporter alert.Reporter
	logger   *slog.Logger
	now      func() time.Time

	// journaled holds the last state written to the journal per realization;
	// unjournaled holds realizations whose first insert failed.
	journalMu   sync.Mutex
	journaled   map[int]string
	unjournaled map[int]bool

	waitOnce sync.Once
}

// New creates a context for an already started queue and pool.
func New(cfg Config, q queue.Queue, pool *submit.Pool, opts ...Option) (*Context, error) {
	if cfg.EnsembleSize <= 0 {
		return nil, fmt.Errorf("ensemble size must be positive, got %d", cfg.EnsembleSize)
	}
	if cfg.RunPathFormat == "" {
		return nil, errors.New("run path format is required")
	}
	if q == nil || pool == nil {
		return nil, errors.New("queue and submit pool are required")
	}

	c := &Context{
		cfg:         cfg,
		registry:    realization.NewRegistry(cfg.EnsembleSize),
		queue:       q,
		pool:        pool,
		keywords:    runpath.StaticKeywords(nil),
		maker:       runpath.DirMaker{},
		reporter:    alert.Nop{},
		logger:      slog.New(slog.DiscardHandler),
		now:         time.Now,
		journaled:   make(map[int]string),
		unjournaled: make(map[int]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Size returns the ensemble size.
func (c *Context) Size() int {
	return c.registry.Size()
}

// RunID returns the ensemble run ID.
func (c *Context) RunID() string {
	return c.cfg.RunID
}

// AddSimulation creates the run directory and record of realization iens and
// schedules its submission. It returns once the submission is enqueued; the
// submission itself happens asynchronously.
func (c *Context) AddSimulation(ctx context.Context, iens int, target string) error {
	if err := c.registry.CheckRange(iens); err != nil {
		return err
	}
	if c.registry.Has(iens) {
		return fmt.Errorf("%w: %d", realization.ErrDuplicate, iens)
	}

	kw := c.keywords.Keywords(iens)
	path, err := runpath.Format(c.cfg.RunPathFormat, iens, c.cfg.Iteration, kw)
	if err != nil {
		return fmt.Errorf("format run path for realization %d: %w", iens, err)
	}
	if r, ok := c.maker.(resolver); ok {
		path = r.Resolve(path)
	}
	if err := c.maker.Make(path); err != nil {
		return fmt.Errorf("realization %d: %w", iens, err)
	}

	rec := realization.NewRecord(iens, path, target, c.now().UTC())
	if err := c.registry.Insert(rec); err != nil {
		return err
	}
	c.journalCreate(ctx, rec)

	r := runpath.NewReplacer(iens, c.cfg.Iteration, kw)
	task := submit.Task{
		Record:  rec,
		Runner:  c.queue,
		Name:    c.jobName(iens),
		Command: c.command(r),
		Env:     c.env(r),
	}
	if err := c.pool.Enqueue(ctx, task); err != nil {
		rec.MarkFailed(err)
		return fmt.Errorf("enqueue realization %d: %w", iens, err)
	}

	c.logger.Debug("realization queued", "iens", iens, "run_path", path, "target", target)
	return nil
}

func (c *Context) jobName(iens int) string {
	if c.cfg.JobName == "" {
		return ""
	}
	return fmt.Sprintf("%s-%d", c.cfg.JobName, iens)
}

func (c *Context) command(r *strings.Replacer) []string {
	out := make([]string, len(c.cfg.Command))
	for i, arg := range c.cfg.Command {
		out[i] = r.Replace(arg)
	}
	return out
}

func (c *Context) env(r *strings.Replacer) map[string]string {
	if len(c.cfg.Env) == 0 {
		return nil
	}
	out := make(map[string]string, len(c.cfg.Env))
	for k, v := range c.cfg.Env {
		out[k] = r.Replace(v)
	}
	return out
}

// IsRunning reports whether the queue still has outstanding work.
func (c *Context) IsRunning() bool { return c.queue.IsRunning() }

// NumRunning returns the number of running jobs.
func (c *Context) NumRunning() int { return c.queue.NumRunning() }

// NumSuccess returns the number of succeeded jobs.
func (c *Context) NumSuccess() int { return c.queue.NumSuccess() }

// NumFailed returns the number of failed jobs.
func (c *Context) NumFailed() int { return c.queue.NumFailed() }

// NumWaiting returns the number of jobs not yet running.
func (c *Context) NumWaiting() int { return c.queue.NumWaiting() }

// IsRealizationQueued reports whether a record exists for iens.
func (c *Context) IsRealizationQueued(iens int) bool {
	return c.registry.Has(iens)
}

// IsRealizationFinished reports whether the job of iens has completed. It is
// false for missing or unsubmitted realizations.
func (c *Context) IsRealizationFinished(iens int) bool {
	rec := c.registry.Get(iens)
	if rec == nil {
		return false
	}
	h, ok := rec.Handle()
	if !ok {
		return false
	}
	return c.queue.IsJobComplete(h)
}

// DidRealizationSucceed reports whether the job of iens succeeded.
func (c *Context) DidRealizationSucceed(iens int) (bool, error) {
	succeeded, _, err := c.outcome(iens)
	return succeeded, err
}

// DidRealizationFail reports whether the job of iens failed.
func (c *Context) DidRealizationFail(iens int) (bool, error) {
	_, failed, err := c.outcome(iens)
	return failed, err
}

func (c *Context) outcome(iens int) (succeeded, failed bool, err error) {
	rec := c.registry.Get(iens)
	if rec == nil {
		return false, false, fmt.Errorf("%w: realization %d", ErrNotQueued, iens)
	}
	h, ok := rec.Handle()
	if !ok {
		return false, false, fmt.Errorf("%w: realization %d", ErrNotSubmitted, iens)
	}

	succeeded = c.queue.DidJobSucceed(h)
	failed = c.queue.DidJobFail(h)
	if succeeded && failed {
		err = fmt.Errorf("%w: realization %d, handle %d", ErrMalformedBackendResponse, iens, int(h))
		c.logger.Error("malformed backend response", "iens", iens, "handle", int(h))
		c.reporter.Report(iens, err, map[string]string{"handle": fmt.Sprint(int(h))})
		return false, false, err
	}
	return succeeded, failed, nil
}

// Realization returns a view of one realization.
func (c *Context) Realization(iens int) (model.Realization, error) {
	rec := c.registry.Get(iens)
	if rec == nil {
		return model.Realization{}, fmt.Errorf("%w: realization %d", ErrNotQueued, iens)
	}
	return c.view(rec), nil
}

// Realizations returns views of every registered realization in index order.
func (c *Context) Realizations() []model.Realization {
	out := make([]model.Realization, 0, c.registry.Len())
	c.registry.Each(func(rec *realization.Record) {
		out = append(out, c.view(rec))
	})
	return out
}

func (c *Context) view(rec *realization.Record) model.Realization {
	v := model.Realization{
		RunID:     c.cfg.RunID,
		Iens:      rec.Iens,
		State:     model.StateQueued,
		RunPath:   rec.RunPath,
		Target:    rec.Target,
		CreatedAt: rec.CreatedAt,
	}

	if err := rec.SubmitErr(); err != nil {
		v.State = model.StateStuck
		v.Error = err.Error()
		return v
	}

	h, ok := rec.Handle()
	if !ok {
		return v
	}
	handle := int(h)
	at := rec.SubmittedAt()
	v.Submitted = true
	v.QueueHandle = &handle
	v.SubmittedAt = &at
	v.State = model.StateSubmitted

	status, known := c.queue.JobStatus(h)
	if !known {
		return v
	}
	switch status {
	case queue.StatusRunning:
		v.State = model.StateRunning
	case queue.StatusSuccess:
		v.State = model.StateSuccess
	case queue.StatusFailed:
		v.State = model.StateFailed
		if je, ok := c.queue.(jobErrorer); ok {
			v.Error = je.JobError(h)
		}
	}
	return v
}

// StuckRealizations returns, in index order, realizations whose submission
// failed and those still waiting for a queue handle longer than after.
func (c *Context) StuckRealizations(after time.Duration) []int {
	now := c.now()
	var stuck []int
	c.registry.Each(func(rec *realization.Record) {
		if rec.SubmitErr() != nil {
			stuck = append(stuck, rec.Iens)
			return
		}
		if !rec.Submitted() && now.Sub(rec.CreatedAt) > after {
			stuck = append(stuck, rec.Iens)
		}
	})
	return stuck
}

// Wait blocks until every enqueued submission has been handed to the queue,
// then tells the queue no more jobs are coming. No realization can be added
// afterwards.
func (c *Context) Wait() {
	c.waitOnce.Do(func() {
		c.pool.Close()
		if qc, ok := c.queue.(completer); ok {
			qc.SubmitComplete()
		}
	})
}

// Reconcile writes every realization whose state changed since the last call
// to the journal. Realizations whose insert failed are inserted again with
// their current state. States that cannot yet be written, because the
// journal has not caught up, are retried on the next call. Realizations
// already journaled in a terminal state are skipped.
func (c *Context) Reconcile(ctx context.Context) error {
	if c.journal == nil {
		return nil
	}

	c.journalMu.Lock()
	defer c.journalMu.Unlock()

	var errs []error
	for _, v := range c.Realizations() {
		if c.unjournaled[v.Iens] {
			if err := c.journal.CreateRealization(ctx, &v); err != nil {
				errs = append(errs, fmt.Errorf("realization %d: %w", v.Iens, err))
				continue
			}
			delete(c.unjournaled, v.Iens)
			c.journaled[v.Iens] = v.State
			continue
		}

		last, ok := c.journaled[v.Iens]
		if !ok || last == v.State || model.IsTerminal(last) {
			continue
		}
		if err := c.journal.SyncRealization(ctx, &v); err != nil {
			errs = append(errs, fmt.Errorf("realization %d: %w", v.Iens, err))
			continue
		}
		c.journaled[v.Iens] = v.State
	}
	return errors.Join(errs...)
}

func (c *Context) journalCreate(ctx context.Context, rec *realization.Record) {
	if c.journal == nil {
		return
	}
	v := c.view(rec)
	err := c.journal.CreateRealization(ctx, &v)

	c.journalMu.Lock()
	defer c.journalMu.Unlock()
	if err != nil {
		c.logger.Warn("failed to journal realization, will retry", "iens", rec.Iens, "error", err)
		c.unjournaled[rec.Iens] = true
		return
	}
	c.journaled[rec.Iens] = v.State
}
