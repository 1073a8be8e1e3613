package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInProcessTryLock(t *testing.T) {
	ctx := context.Background()
	l := NewInProcess()

	ok, err := l.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// held locks are not reentrant
	ok, err = l.TryLock(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, l.Unlock(ctx))
	ok, err = l.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestInProcessLockBlocksUntilCancel(t *testing.T) {
	l := NewInProcess()
	require.NoError(t, l.Lock(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Lock(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInProcessUnlockUnheld(t *testing.T) {
	l := NewInProcess()
	require.NoError(t, l.Unlock(context.Background()))
}
