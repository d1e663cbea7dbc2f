package worker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passrepo/depositorch/internal/worker"
)

func TestPool_ExecutesSubmittedTasks(t *testing.T) {
	pool := worker.New(context.Background(), 2, 8)
	defer pool.Stop()

	var completed atomic.Int32
	for i := 0; i < 5; i++ {
		err := pool.Submit(func(ctx context.Context) error {
			completed.Add(1)
			return nil
		})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return completed.Load() == 5 }, time.Second, 5*time.Millisecond)
}

func TestPool_RejectsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	pool := worker.New(context.Background(), 1, 1)
	defer func() {
		close(block)
		pool.Stop()
	}()

	started := make(chan struct{})
	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started // the only worker is now busy, leaving the one queue slot free
	require.NoError(t, pool.Submit(func(ctx context.Context) error { return nil }))

	err := pool.Submit(func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, worker.ErrPoolSaturated)
}

func TestPool_StopDrainsInFlightTasks(t *testing.T) {
	pool := worker.New(context.Background(), 1, 4)

	var ran atomic.Bool
	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		ran.Store(true)
		return nil
	}))

	pool.Stop()
	assert.True(t, ran.Load())
}
