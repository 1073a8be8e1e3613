package lock

import (
	"context"
	"fmt"
)

// compile-time interface check.
var _ Locker = (*InProcess)(nil)

// InProcess is a Locker scoped to a single process. A size-1 buffered channel
// carries the lock token: sending acquires, receiving releases. The channel
// (rather than sync.Mutex) enables context-aware blocking in Lock and a
// non-blocking short-circuit in TryLock.
type InProcess struct {
	ch chan struct{}
}

// NewInProcess creates an unlocked InProcess locker.
func NewInProcess() *InProcess {
	return &InProcess{ch: make(chan struct{}, 1)}
}

// Lock acquires the lock, blocking until available or ctx is cancelled.
func (l *InProcess) Lock(ctx context.Context) error {
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("acquire lock: %w", ctx.Err())
	}
}

// TryLock attempts a non-blocking acquisition.
// Returns (false, nil) if the lock is currently held.
func (l *InProcess) TryLock(_ context.Context) (bool, error) {
	select {
	case l.ch <- struct{}{}:
		return true, nil
	default:
		return false, nil
	}
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (l *InProcess) Unlock(_ context.Context) error {
	select {
	case <-l.ch:
	default:
	}
	return nil
}
