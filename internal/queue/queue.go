package queue

import (
	"context"
	"errors"
)

var (
	// ErrNotStarted is returned by Submit before Start has been called.
	ErrNotStarted = errors.New("queue not started")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("queue already started")
	// ErrQueueFull is returned when more jobs are submitted than the queue was started for.
	ErrQueueFull = errors.New("queue full")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("queue stopped")
)

// Handle identifies one job inside a queue. Handles are queue indices
// assigned in submission order.
type Handle int

// Status is the lifecycle position of a single job.
type Status int

// Job statuses, in lifecycle order.
const (
	StatusWaiting Status = iota
	StatusPending
	StatusRunning
	StatusSuccess
	StatusFailed
	numStatuses
)

var statusNames = [numStatuses]string{
	StatusWaiting: "waiting",
	StatusPending: "pending",
	StatusRunning: "running",
	StatusSuccess: "success",
	StatusFailed:  "failed",
}

func (s Status) String() string {
	if s < 0 || s >= numStatuses {
		return "unknown"
	}
	return statusNames[s]
}

// Terminal reports whether the job has reached a final outcome.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Counts is a consistent copy of a queue's aggregate job counts. Waiting
// includes Pending, matching NumWaiting.
type Counts struct {
	Waiting int `json:"waiting"`
	Pending int `json:"pending"`
	Running int `json:"running"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Queue is the execution backend as seen by the simulation context. All
// methods must be safe for concurrent use.
type Queue interface {
	// Start prepares the queue for an ensemble of the given size.
	Start(size int, verbose bool) error

	// Submit hands a job to the backend and returns its handle. It may block
	// while the backend accepts the job.
	Submit(ctx context.Context, spec JobSpec) (Handle, error)

	// IsRunning reports whether the queue still has outstanding work.
	IsRunning() bool

	NumRunning() int
	NumSuccess() int
	NumFailed() int
	// NumWaiting counts jobs accepted but not yet running, pending ones included.
	NumWaiting() int
	// NumPending counts jobs handed to the driver that have not started.
	NumPending() int

	DidJobSucceed(h Handle) bool
	DidJobFail(h Handle) bool
	IsJobComplete(h Handle) bool

	// JobStatus returns the status of a job, or false for an unknown handle.
	JobStatus(h Handle) (Status, bool)
}

// Driver runs one job on a particular execution backend. Each supported
// backend (local process, batch queue) provides its own implementation.
type Driver interface {
	// Name returns the name the driver is registered under.
	Name() string

	// Run executes the job and blocks until it has finished. A nil error means
	// the job succeeded. The context carries the maximum job duration.
	Run(ctx context.Context, spec JobSpec) error
}

// JobSpec describes one realization's forward-model job.
type JobSpec struct {
	Iens    int               `json:"iens"`
	Name    string            `json:"name"`
	RunPath string            `json:"run_path"`
	Target  string            `json:"target"`
	Command []string          `json:"command"`
	Env     map[string]string `json:"env,omitempty"`

	// OnStart is invoked by the driver once the backend reports the job as
	// running. It may be nil.
	OnStart func() `json:"-"`
}

// Started calls OnStart if it is set.
func (s JobSpec) Started() {
	if s.OnStart != nil {
		s.OnStart()
	}
}
