package flock

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"github.com/projecteru2/hatchery/lock"
)

const retryDelay = 100 * time.Millisecond

// compile-time interface check.
var _ lock.Locker = (*Lock)(nil)

// Lock provides cross-process mutual exclusion via flock(2). The daemon takes
// one on its data directory so two daemons never share a local store. A fresh
// fd is opened on every acquisition so a crashed holder never leaves the lock
// wedged.
type Lock struct {
	path string
	// fl is the active flock fd, non-nil while the lock is held.
	fl *flock.Flock
}

// New creates a Lock for the given path.
func New(path string) *Lock {
	return &Lock{path: path}
}

// Lock acquires the lock, blocking until available or ctx is cancelled.
func (l *Lock) Lock(ctx context.Context) error {
	fl := flock.New(l.path)
	ok, err := fl.TryLockContext(ctx, retryDelay)
	if err != nil {
		return fmt.Errorf("acquire flock %s: %w", l.path, err)
	}
	if !ok {
		return fmt.Errorf("acquire flock %s: %w", l.path, ctx.Err())
	}
	l.fl = fl
	return nil
}

// TryLock attempts a non-blocking acquisition.
// Returns (false, nil) if another process holds the lock.
func (l *Lock) TryLock(_ context.Context) (bool, error) {
	fl := flock.New(l.path)
	ok, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire flock %s: %w", l.path, err)
	}
	if !ok {
		return false, nil
	}
	l.fl = fl
	return true, nil
}

// Unlock releases the lock.
func (l *Lock) Unlock(_ context.Context) error {
	if l.fl == nil {
		return nil
	}
	err := l.fl.Unlock()
	l.fl = nil
	if err != nil {
		return fmt.Errorf("release flock %s: %w", l.path, err)
	}
	return nil
}
