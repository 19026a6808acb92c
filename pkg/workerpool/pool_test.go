package workerpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/pdfraster/pkg/logging"
)

func TestPoolLeaseBlocksUntilSlotFree(t *testing.T) {
	pool := NewPool(1, InProcess, logging.NewDefault(), 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	lease1, err := pool.Lease(context.Background())
	require.NoError(t, err)

	leaseCh := make(chan *Lease, 1)
	go func() {
		l, err := pool.Lease(context.Background())
		require.NoError(t, err)
		leaseCh <- l
	}()

	select {
	case <-leaseCh:
		t.Fatal("second lease should not succeed while the only slot is held")
	case <-time.After(50 * time.Millisecond):
	}

	lease1.Release()

	select {
	case l := <-leaseCh:
		assert.Equal(t, 0, l.Slot)
		l.Release()
	case <-time.After(time.Second):
		t.Fatal("second lease never completed after release")
	}
}

func TestPoolLeaseRespectsContextCancellation(t *testing.T) {
	pool := NewPool(1, InProcess, logging.NewDefault(), 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	held, err := pool.Lease(context.Background())
	require.NoError(t, err)
	defer held.Release()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer waitCancel()

	_, err = pool.Lease(waitCtx)
	assert.ErrorIs(t, err, ErrAcquireCanceled)
}

func TestPoolConcurrentLeasesNeverExceedCapacity(t *testing.T) {
	const slots = 3
	pool := NewPool(slots, InProcess, logging.NewDefault(), 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	var mu sync.Mutex
	current, peak := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := pool.Lease(context.Background())
			require.NoError(t, err)
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
			lease.Release()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak, slots)
}

func TestPoolSubprocessSlotTracksWarmProcess(t *testing.T) {
	pool := NewPool(1, Subprocess, logging.NewDefault(), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	lease, err := pool.Lease(context.Background())
	require.NoError(t, err)
	assert.Nil(t, lease.Process())
	lease.Release()
}
