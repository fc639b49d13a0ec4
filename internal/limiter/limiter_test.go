package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BoundsConcurrency(t *testing.T) {
	l := New(2, 0, 0)

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 2, l.MaxConcurrent())
}

func TestLimiter_WaitsInsteadOfRejecting(t *testing.T) {
	l := New(1, 0, 0)

	release, err := l.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		r, err := l.Acquire(context.Background())
		if err == nil {
			r()
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second acquire should block while the slot is held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second acquire never completed")
	}
}

func TestLimiter_ContextCancelled(t *testing.T) {
	l := New(1, 0, 0)
	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiter_ReleaseIsIdempotent(t *testing.T) {
	l := New(1, 0, 0)
	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	release()
	release()

	r2, err := l.Acquire(context.Background())
	require.NoError(t, err)
	r2()
}

func TestLimiter_NilIsUnlimited(t *testing.T) {
	var l *Limiter
	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	release()
}
