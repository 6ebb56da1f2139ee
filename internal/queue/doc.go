// Package queue defines the job queue that realizations are submitted to,
// together with the Driver interface implemented by each execution backend
// (local processes, HPC batch systems) and the in-process Manager that tracks
// every job's lifecycle on top of a driver.
package queue
