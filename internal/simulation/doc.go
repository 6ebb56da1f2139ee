// Package simulation provides the context of one ensemble run. It creates
// realization records, hands them to the submit pool without blocking the
// caller, and answers per-realization and aggregate questions by consulting
// the job queue with each record's published handle.
package simulation
