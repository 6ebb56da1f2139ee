package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seantiz/ensemble/internal/queue"
	"github.com/seantiz/ensemble/internal/realization"
)

// DefaultWorkers is the number of submission workers when none is configured.
const DefaultWorkers = 8

// ErrPoolClosed is returned by Enqueue after Close.
var ErrPoolClosed = errors.New("submit pool closed")

// Runner hands a prepared job to the execution backend. queue.Queue
// satisfies it.
type Runner interface {
	Submit(ctx context.Context, spec queue.JobSpec) (queue.Handle, error)
}

// Task is one unit of submission work: the record to submit and the runner
// to submit it with.
type Task struct {
	Record  *realization.Record
	Runner  Runner
	Name    string
	Command []string
	Env     map[string]string
}

// Spec builds the job spec handed to the runner.
func (t Task) Spec() queue.JobSpec {
	return queue.JobSpec{
		Iens:    t.Record.Iens,
		Name:    t.Name,
		RunPath: t.Record.RunPath,
		Target:  t.Record.Target,
		Command: t.Command,
		Env:     t.Env,
	}
}

// Config controls the size of the pool.
type Config struct {
	// Workers is the number of concurrent submissions. Zero means DefaultWorkers.
	Workers int
	// QueueSize is the number of tasks buffered before Enqueue blocks.
	// Zero means Workers.
	QueueSize int
}

// Option configures a Pool.
type Option func(*Pool)

// WithFailureHandler registers fn to be called after a submission fails.
func WithFailureHandler(fn func(Task, error)) Option {
	return func(p *Pool) { p.onFailure = fn }
}

// WithSuccessHandler registers fn to be called after a handle is published.
func WithSuccessHandler(fn func(Task, queue.Handle)) Option {
	return func(p *Pool) { p.onSuccess = fn }
}

// WithTracer sets the tracer used for per-task spans.
func WithTracer(tr trace.Tracer) Option {
	return func(p *Pool) { p.tracer = tr }
}

// WithClock overrides the time source used to stamp submissions.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// Pool is a fixed set of workers pulling submission tasks from a bounded
// channel.
type Pool struct {
	cfg       Config
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	onFailure func(Task, error)
	onSuccess func(Task, queue.Handle)

	tasks chan Task
	wg    sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	started bool

	submitted atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a pool. Call Start before enqueueing.
func NewPool(cfg Config, logger *slog.Logger, opts ...Option) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers
	}

	p := &Pool{
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("ensemble/submit"),
		now:    time.Now,
		tasks:  make(chan Task, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. Tasks run with ctx; cancelling it does not
// abort submissions already handed to the runner.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.logger.Debug("starting submit pool", "workers", p.cfg.Workers, "queue_size", p.cfg.QueueSize)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Go(func() {
			p.worker(ctx, i)
		})
	}
}

// Enqueue schedules t. It blocks while the task buffer is full.
func (p *Pool) Enqueue(ctx context.Context, t Task) error {
	if t.Record == nil || t.Runner == nil {
		return errors.New("task needs a record and a runner")
	}

	// The read lock keeps Close from closing the channel under a blocked send.
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- t:
		queueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Stats returns the number of successful and failed submissions.
func (p *Pool) Stats() (submitted, failed int64) {
	return p.submitted.Load(), p.failed.Load()
}

// Config returns the pool configuration.
func (p *Pool) Config() Config {
	return p.cfg
}

func (p *Pool) worker(ctx context.Context, id int) {
	for t := range p.tasks {
		queueDepth.Dec()
		p.process(ctx, id, t)
	}
	p.logger.Debug("submit worker stopping", "worker_id", id)
}

// process runs one task. A panicking runner is treated as a failed submission.
func (p *Pool) process(ctx context.Context, workerID int, t Task) {
	ctx, span := p.tracer.Start(ctx, "submit.task",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.Int("realization.iens", t.Record.Iens),
			attribute.String("realization.run_path", t.Record.RunPath),
		))
	defer span.End()

	start := time.Now()
	h, err := p.submit(ctx, t)
	submitDuration.Observe(time.Since(start).Seconds())

	if err == nil && !t.Record.Publish(h, p.now()) {
		err = fmt.Errorf("realization %d already has a queue handle", t.Record.Iens)
	}

	if err != nil {
		t.Record.MarkFailed(err)
		p.failed.Add(1)
		submissionsTotal.WithLabelValues(resultFailed).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission failed")
		p.logger.Error("submission failed", "iens", t.Record.Iens, "worker_id", workerID, "error", err)
		if p.onFailure != nil {
			p.onFailure(t, err)
		}
		return
	}

	p.submitted.Add(1)
	submissionsTotal.WithLabelValues(resultSubmitted).Inc()
	span.SetAttributes(attribute.Int("queue.handle", int(h)))
	p.logger.Debug("realization submitted", "iens", t.Record.Iens, "handle", int(h))
	if p.onSuccess != nil {
		p.onSuccess(t, h)
	}
}

func (p *Pool) submit(ctx context.Context, t Task) (h queue.Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("submission panicked: %v", r)
		}
	}()
	return t.Runner.Submit(ctx, t.Spec())
}
