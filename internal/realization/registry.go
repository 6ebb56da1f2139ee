package realization

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrOutOfRange is returned for a realization number outside the ensemble.
	ErrOutOfRange = errors.New("realization number out of range")
	// ErrDuplicate is returned when a realization is registered twice.
	ErrDuplicate = errors.New("realization already queued")
)

// Registry maps realization numbers to records. Slots are published with a
// single compare-and-swap, so readers never take a lock.
type Registry struct {
	slots []atomic.Pointer[Record]
	count atomic.Int64
}

// NewRegistry creates a registry for an ensemble of size realizations.
func NewRegistry(size int) *Registry {
	if size < 0 {
		size = 0
	}
	return &Registry{slots: make([]atomic.Pointer[Record], size)}
}

// Size returns the ensemble size.
func (r *Registry) Size() int {
	return len(r.slots)
}

// Len returns the number of registered records.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// CheckRange returns ErrOutOfRange if iens is not a valid realization number.
func (r *Registry) CheckRange(iens int) error {
	if iens < 0 || iens >= len(r.slots) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, iens, len(r.slots))
	}
	return nil
}

// Insert registers rec under rec.Iens.
func (r *Registry) Insert(rec *Record) error {
	if err := r.CheckRange(rec.Iens); err != nil {
		return err
	}
	if !r.slots[rec.Iens].CompareAndSwap(nil, rec) {
		return fmt.Errorf("%w: %d", ErrDuplicate, rec.Iens)
	}
	r.count.Add(1)
	return nil
}

// Get returns the record for iens, or nil if none is registered.
func (r *Registry) Get(iens int) *Record {
	if iens < 0 || iens >= len(r.slots) {
		return nil
	}
	return r.slots[iens].Load()
}

// Has reports whether iens has a record.
func (r *Registry) Has(iens int) bool {
	return r.Get(iens) != nil
}

// Each calls fn for every registered record in realization order.
func (r *Registry) Each(fn func(*Record)) {
	for i := range r.slots {
		if rec := r.slots[i].Load(); rec != nil {
			fn(rec)
		}
	}
}
