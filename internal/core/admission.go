package core

// admission.go bounds how many export jobs extract at the same time.
//
// The controller is a buffered-channel semaphore: a job holds one slot from
// the moment it may enter processing until it reaches a terminal state.
// Waiters block on the channel send and are woken by the runtime exactly
// when a slot frees, so there is no polling interval. Wake-up order among
// waiters is not FIFO.

import (
	"context"
	"errors"
	"sync"
)

// ErrAdmissionCancelled is returned by Acquire when the job was cancelled
// while it waited for a slot.
var ErrAdmissionCancelled = errors.New("cancelled while waiting for admission")

// DefaultMaxConcurrentExports is the default processing capacity.
const DefaultMaxConcurrentExports = 10

// Admission controls concurrent export processing using a semaphore pattern.
type Admission struct {
	semaphore chan struct{}

	mu     sync.RWMutex
	active int
}

// NewAdmission creates a controller that lets at most capacity jobs process.
func NewAdmission(capacity int) *Admission {
	if capacity <= 0 {
		capacity = DefaultMaxConcurrentExports
	}
	return &Admission{
		semaphore: make(chan struct{}, capacity),
	}
}

// Acquire blocks until a slot is free, ctx is done, or cancel is closed.
// The caller MUST call Release exactly once after a nil return (use defer).
func (a *Admission) Acquire(ctx context.Context, cancel <-chan struct{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-cancel:
		return ErrAdmissionCancelled
	default:
	}

	select {
	case a.semaphore <- struct{}{}:
		a.mu.Lock()
		a.active++
		a.mu.Unlock()
		return nil

	case <-cancel:
		return ErrAdmissionCancelled

	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a previously acquired slot.
func (a *Admission) Release() {
	a.mu.Lock()
	a.active--
	a.mu.Unlock()

	<-a.semaphore
}

// Available returns the number of free slots.
func (a *Admission) Available() int {
	return cap(a.semaphore) - len(a.semaphore)
}

// AdmissionStatus is a snapshot of the controller's state.
type AdmissionStatus struct {
	Active    int `json:"active"`
	Available int `json:"available"`
	Capacity  int `json:"capacity"`
}

// Status returns the current controller state for monitoring.
func (a *Admission) Status() AdmissionStatus {
	a.mu.RLock()
	active := a.active
	a.mu.RUnlock()

	return AdmissionStatus{
		Active:    active,
		Available: a.Available(),
		Capacity:  cap(a.semaphore),
	}
}
