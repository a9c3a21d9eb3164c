// Package locks provides mutexes whose acquisition is bounded by a timeout.
//
// Every lock in the tracing pipeline must be acquirable within the limits of
// the active environment profile; a contended lock degrades the operation
// (skipped flush, lock-free shutdown) instead of hanging the host.
package locks

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a lock cannot be acquired within its deadline.
var ErrTimeout = errors.New("locks: acquisition timeout")

// TimedMutex is a mutual-exclusion lock with timeout-bounded acquisition.
// The zero value is not usable; construct with NewTimedMutex.
type TimedMutex struct {
	ch chan struct{}
}

// NewTimedMutex returns an unlocked TimedMutex.
func NewTimedMutex() *TimedMutex {
	return &TimedMutex{ch: make(chan struct{}, 1)}
}

// Lock acquires the mutex, waiting at most timeout. A zero or negative
// timeout attempts a single non-blocking acquisition.
func (m *TimedMutex) Lock(timeout time.Duration) error {
	if timeout <= 0 {
		return m.TryLock()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrTimeout
	}
}

// LockContext acquires the mutex, waiting until ctx is done.
func (m *TimedMutex) LockContext(ctx context.Context) error {
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrTimeout
	}
}

// TryLock acquires the mutex only if it is immediately available.
func (m *TimedMutex) TryLock() error {
	select {
	case m.ch <- struct{}{}:
		return nil
	default:
		return ErrTimeout
	}
}

// Unlock releases the mutex. Unlocking an unlocked mutex is a no-op rather
// than a panic: a caller that proceeded lock-free after a timeout may still
// reach the paired unlock.
func (m *TimedMutex) Unlock() {
	select {
	case <-m.ch:
	default:
	}
}
