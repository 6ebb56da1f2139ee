// Package submit provides the bounded worker pool that hands realizations to
// the job queue off the caller's goroutine. Enqueue blocks only while the
// pool's task buffer is full; a failing submission is recorded on its
// realization and never reaches the caller.
package submit
