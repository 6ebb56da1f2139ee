package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// reasonMaxRuntime is recorded for jobs killed by the maximum job duration.
const reasonMaxRuntime = "max runtime exceeded"

// ManagerConfig controls how the Manager schedules jobs onto its driver.
type ManagerConfig struct {
	// MaxRunning bounds the number of jobs handed to the driver at once.
	// Zero means the ensemble size.
	MaxRunning int

	// MaxJobDuration is the longest a single job may run before it is
	// cancelled and marked failed. Zero disables the limit.
	MaxJobDuration time.Duration
}

// Compile-time interface satisfaction check.
var _ Queue = (*Manager)(nil)

type job struct {
	spec     JobSpec
	status   Status
	reason   string
	started  time.Time
	finished time.Time
}

// Manager is an in-process job queue. It accepts jobs, runs them through a
// Driver with bounded concurrency, and tracks each job's status so that the
// aggregate and per-handle queries can be answered without blocking.
type Manager struct {
	driver Driver
	cfg    ManagerConfig
	logger *slog.Logger

	mu             sync.RWMutex
	started        bool
	stopped        bool
	submitComplete bool
	verbose        bool
	size           int
	jobs           []*job
	counts         [numStatuses]int

	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a queue manager that runs jobs on drv.
func NewManager(drv Driver, cfg ManagerConfig, logger *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		driver: drv,
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start prepares the manager for size jobs.
func (m *Manager) Start(size int, verbose bool) error {
	if size <= 0 {
		return fmt.Errorf("queue size must be positive, got %d", size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrAlreadyStarted
	}

	maxRunning := m.cfg.MaxRunning
	if maxRunning <= 0 || maxRunning > size {
		maxRunning = size
	}

	m.started = true
	m.verbose = verbose
	m.size = size
	m.jobs = make([]*job, 0, size)
	m.sem = semaphore.NewWeighted(int64(maxRunning))

	m.logger.Info("queue started",
		"driver", m.driver.Name(),
		"size", size,
		"max_running", maxRunning,
		"max_job_duration", m.cfg.MaxJobDuration.String(),
	)
	return nil
}

// Submit registers the job as waiting and schedules it on the driver. It
// returns immediately with the job's handle.
func (m *Manager) Submit(_ context.Context, spec JobSpec) (Handle, error) {
	m.mu.Lock()
	switch {
	case !m.started:
		m.mu.Unlock()
		return 0, ErrNotStarted
	case m.stopped:
		m.mu.Unlock()
		return 0, ErrStopped
	case len(m.jobs) >= m.size:
		m.mu.Unlock()
		return 0, ErrQueueFull
	}

	j := &job{spec: spec, status: StatusWaiting}
	m.jobs = append(m.jobs, j)
	h := Handle(len(m.jobs) - 1)
	m.counts[StatusWaiting]++
	verbose := m.verbose
	m.mu.Unlock()

	jobsByStatus.WithLabelValues(StatusWaiting.String()).Inc()
	if verbose {
		m.logger.Info("job submitted", "handle", int(h), "iens", spec.Iens, "run_path", spec.RunPath)
	}

	m.wg.Go(func() {
		m.run(h, j)
	})
	return h, nil
}

// run drives one job through its lifecycle: waiting→pending→running→success/failed.
func (m *Manager) run(h Handle, j *job) {
	if err := m.sem.Acquire(m.ctx, 1); err != nil {
		m.finish(h, j, fmt.Errorf("acquire run slot: %w", err))
		return
	}
	defer m.sem.Release(1)

	m.transition(j, StatusPending)

	ctx := m.ctx
	var cancel context.CancelFunc
	if m.cfg.MaxJobDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, m.cfg.MaxJobDuration)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	spec := j.spec
	userStart := spec.OnStart
	spec.OnStart = func() {
		m.transition(j, StatusRunning)
		if userStart != nil {
			userStart()
		}
	}

	err := m.driver.Run(ctx, spec)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = errors.New(reasonMaxRuntime)
	}
	m.finish(h, j, err)
}

// transition moves a job forward to status. Backward or post-terminal moves
// are ignored so a late OnStart cannot resurrect a finished job.
func (m *Manager) transition(j *job, status Status) {
	m.mu.Lock()
	old := j.status
	if old.Terminal() || status <= old {
		m.mu.Unlock()
		return
	}
	j.status = status
	if status == StatusRunning {
		j.started = time.Now()
	}
	m.counts[old]--
	m.counts[status]++
	m.mu.Unlock()

	jobsByStatus.WithLabelValues(old.String()).Dec()
	jobsByStatus.WithLabelValues(status.String()).Inc()
}

func (m *Manager) finish(h Handle, j *job, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusFailed
	}

	m.mu.Lock()
	if j.started.IsZero() {
		j.started = time.Now()
	}
	j.finished = time.Now()
	if err != nil {
		j.reason = err.Error()
	}
	duration := j.finished.Sub(j.started)
	m.mu.Unlock()

	m.transition(j, status)
	jobDuration.WithLabelValues(m.driver.Name(), status.String()).Observe(duration.Seconds())

	if err != nil {
		m.logger.Warn("job failed", "handle", int(h), "iens", j.spec.Iens, "error", err)
		return
	}
	m.logger.Debug("job succeeded", "handle", int(h), "iens", j.spec.Iens, "duration_ms", duration.Milliseconds())
}

// SubmitComplete records that no further jobs will be submitted, so the
// queue stops counting unsubmitted slots as outstanding work.
func (m *Manager) SubmitComplete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitComplete = true
}

// Stop cancels all in-flight driver runs and rejects further submissions.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.cancel()
}

// Wait blocks until every submitted job has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// IsRunning reports whether any job is still active, or whether the queue is
// still expecting submissions.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.started || m.stopped {
		return false
	}
	active := m.counts[StatusWaiting] + m.counts[StatusPending] + m.counts[StatusRunning]
	if active > 0 {
		return true
	}
	return !m.submitComplete && len(m.jobs) < m.size
}

func (m *Manager) count(statuses ...Status) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range statuses {
		n += m.counts[s]
	}
	return n
}

// Counts returns every aggregate count read under one lock, so a job moving
// between statuses is counted exactly once.
func (m *Manager) Counts() Counts {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Counts{
		Waiting: m.counts[StatusWaiting] + m.counts[StatusPending],
		Pending: m.counts[StatusPending],
		Running: m.counts[StatusRunning],
		Success: m.counts[StatusSuccess],
		Failed:  m.counts[StatusFailed],
	}
}

// NumRunning returns the number of running jobs.
func (m *Manager) NumRunning() int { return m.count(StatusRunning) }

// NumSuccess returns the number of jobs that succeeded.
func (m *Manager) NumSuccess() int { return m.count(StatusSuccess) }

// NumFailed returns the number of jobs that failed.
func (m *Manager) NumFailed() int { return m.count(StatusFailed) }

// NumWaiting returns the number of jobs not yet running.
func (m *Manager) NumWaiting() int { return m.count(StatusWaiting, StatusPending) }

// NumPending returns the number of jobs handed to the driver but not yet started.
func (m *Manager) NumPending() int { return m.count(StatusPending) }

// JobStatus returns the status of the job behind h.
func (m *Manager) JobStatus(h Handle) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h < 0 || int(h) >= len(m.jobs) {
		return 0, false
	}
	return m.jobs[h].status, true
}

// JobError returns the failure reason recorded for h, if any.
func (m *Manager) JobError(h Handle) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h < 0 || int(h) >= len(m.jobs) {
		return ""
	}
	return m.jobs[h].reason
}

// DidJobSucceed reports whether the job behind h finished successfully.
func (m *Manager) DidJobSucceed(h Handle) bool {
	s, ok := m.JobStatus(h)
	return ok && s == StatusSuccess
}

// DidJobFail reports whether the job behind h failed.
func (m *Manager) DidJobFail(h Handle) bool {
	s, ok := m.JobStatus(h)
	return ok && s == StatusFailed
}

// IsJobComplete reports whether the job behind h reached a final outcome.
func (m *Manager) IsJobComplete(h Handle) bool {
	s, ok := m.JobStatus(h)
	return ok && s.Terminal()
}
