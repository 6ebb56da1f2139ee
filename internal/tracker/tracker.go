// Package tracker keeps the five aggregate progress buckets shown by
// monitoring UIs, and the poller that refreshes them from the job queue.
package tracker

import (
	"sync"
	"time"
)

// State is one of the fixed progress buckets.
type State int

// Progress buckets in display order. StateFinished counts realizations that
// reached any terminal outcome.
const (
	StateWaiting State = iota
	StatePending
	StateRunning
	StateFailed
	StateFinished
	NumStates
)

var stateNames = [NumStates]string{
	StateWaiting:  "Waiting",
	StatePending:  "Pending",
	StateRunning:  "Running",
	StateFailed:   "Failed",
	StateFinished: "Finished",
}

func (s State) String() string {
	if s < 0 || s >= NumStates {
		return "Unknown"
	}
	return stateNames[s]
}

// StateNames returns the bucket names in display order.
func StateNames() []string {
	names := make([]string, NumStates)
	copy(names, stateNames[:])
	return names
}

// StateCount is one bucket's name and count.
type StateCount struct {
	State State  `json:"-"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Snapshot is a copy of all buckets at one instant.
type Snapshot struct {
	States   []StateCount `json:"states"`
	Finished int          `json:"finished"`
	Capacity int          `json:"capacity"`
	At       time.Time    `json:"at"`
}

// Tracker holds the bucket counts. It knows nothing about individual
// realizations; whoever polls the queue pushes counts in with Set. It is
// safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	counts   [NumStates]int
	capacity int
}

// New creates a tracker with all counts zero. A positive capacity caps the
// Finished count, normally at the ensemble size.
func New(capacity int) *Tracker {
	if capacity < 0 {
		capacity = 0
	}
	return &Tracker{capacity: capacity}
}

// States returns all buckets in display order.
func (t *Tracker) States() []StateCount {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.statesLocked()
}

func (t *Tracker) statesLocked() []StateCount {
	out := make([]StateCount, NumStates)
	for s := StateWaiting; s < NumStates; s++ {
		out[s] = StateCount{State: s, Name: stateNames[s], Count: t.counts[s]}
	}
	return out
}

// Count returns the count of one bucket.
func (t *Tracker) Count(s State) int {
	if s < 0 || s >= NumStates {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counts[s]
}

// NumFinished returns the Finished count.
func (t *Tracker) NumFinished() int {
	return t.Count(StateFinished)
}

// Set stores count for one bucket. Negative counts are stored as zero and
// Finished never exceeds the capacity.
func (t *Tracker) Set(s State, count int) {
	if s < 0 || s >= NumStates {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[s] = t.clamp(s, count)
}

// SetAll replaces every bucket at once and returns the resulting snapshot,
// so readers never see a mix of old and new counts.
func (t *Tracker) SetAll(counts [NumStates]int) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	for s, n := range counts {
		t.counts[s] = t.clamp(State(s), n)
	}
	return t.snapshotLocked()
}

func (t *Tracker) clamp(s State, count int) int {
	if count < 0 {
		return 0
	}
	if s == StateFinished && t.capacity > 0 && count > t.capacity {
		return t.capacity
	}
	return count
}

// Reset zeroes every bucket.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts = [NumStates]int{}
}

// Capacity returns the Finished cap, zero when unbounded.
func (t *Tracker) Capacity() int {
	return t.capacity
}

// Snapshot copies all buckets.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{
		States:   t.statesLocked(),
		Finished: t.counts[StateFinished],
		Capacity: t.capacity,
		At:       time.Now().UTC(),
	}
}
