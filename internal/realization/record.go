// Package realization holds the per-realization run records of one ensemble
// run and the registry that indexes them by realization number.
package realization

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/seantiz/ensemble/internal/queue"
)

// submission is published exactly once per record.
type submission struct {
	handle queue.Handle
	at     time.Time
}

// Record is the run state of one realization. RunPath and Target are fixed
// at creation; the queue handle is published once by the submitter.
type Record struct {
	Iens      int
	RunPath   string
	Target    string
	CreatedAt time.Time

	sub       atomic.Pointer[submission]
	submitErr atomic.Pointer[error]
}

// NewRecord creates an unsubmitted record.
func NewRecord(iens int, runPath, target string, createdAt time.Time) *Record {
	return &Record{
		Iens:      iens,
		RunPath:   runPath,
		Target:    target,
		CreatedAt: createdAt,
	}
}

// Publish sets the queue handle. It reports false if the record already has
// a handle or its submission has failed.
func (r *Record) Publish(h queue.Handle, at time.Time) bool {
	if r.submitErr.Load() != nil {
		return false
	}
	return r.sub.CompareAndSwap(nil, &submission{handle: h, at: at})
}

// Handle returns the queue handle and whether the record has been submitted.
func (r *Record) Handle() (queue.Handle, bool) {
	s := r.sub.Load()
	if s == nil {
		return 0, false
	}
	return s.handle, true
}

// Submitted reports whether the queue handle has been published.
func (r *Record) Submitted() bool {
	return r.sub.Load() != nil
}

// SubmittedAt returns when the handle was published, or the zero time.
func (r *Record) SubmittedAt() time.Time {
	s := r.sub.Load()
	if s == nil {
		return time.Time{}
	}
	return s.at
}

// MarkFailed records that the submission of this realization failed. Only
// the first failure is kept, and a submitted record cannot be failed.
func (r *Record) MarkFailed(err error) bool {
	if err == nil {
		err = errors.New("submission failed")
	}
	if r.Submitted() {
		return false
	}
	return r.submitErr.CompareAndSwap(nil, &err)
}

// SubmitErr returns the recorded submission failure, if any.
func (r *Record) SubmitErr() error {
	p := r.submitErr.Load()
	if p == nil {
		return nil
	}
	return *p
}
