package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarchuk/tierbot/internal/domain"
)

func TestLockManagerAcquireFailsFastWhenHeld(t *testing.T) {
	t.Parallel()

	lm := NewLockManager()
	unlock, err := lm.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = lm.Acquire(context.Background(), "k", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestLockManagerAcquireWaitQueuesBehindHolder(t *testing.T) {
	t.Parallel()

	lm := NewLockManager()
	unlock, err := lm.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	go func() {
		time.Sleep(20 * time.Millisecond)
		unlock()
	}()

	unlock2, err := lm.AcquireWait(context.Background(), "k", time.Minute, time.Second)
	require.NoError(t, err)
	unlock2()
}

func TestLockManagerAcquireWaitGivesUpAfterWait(t *testing.T) {
	t.Parallel()

	lm := NewLockManager()
	unlock, err := lm.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	defer unlock()

	start := time.Now()
	_, err = lm.AcquireWait(context.Background(), "k", time.Minute, 30*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLockManagerAcquireWaitHonorsContextCancel(t *testing.T) {
	t.Parallel()

	lm := NewLockManager()
	unlock, err := lm.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = lm.AcquireWait(ctx, "k", time.Minute, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
