package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestUnlimited(t *testing.T) {
	q := New(Config{}, zaptest.NewLogger(t))
	assert.False(t, q.Enabled())

	releases := make([]func(), 0, 5)
	for i := 0; i < 5; i++ {
		release, err := q.Acquire(context.Background())
		require.NoError(t, err)
		releases = append(releases, release)
	}
	assert.Equal(t, int64(5), q.Stats().Running)
	for _, release := range releases {
		release()
	}
	stats := q.Stats()
	assert.Equal(t, int64(0), stats.Running)
	assert.Equal(t, int64(5), stats.Processed)
}

func TestQueueFull(t *testing.T) {
	q := New(Config{MaxConcurrent: 1, MaxQueue: 1}, zaptest.NewLogger(t))

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)

	waited := make(chan error, 1)
	go func() {
		r, err := q.Acquire(context.Background())
		if err == nil {
			r()
		}
		waited <- err
	}()
	require.Eventually(t, func() bool { return q.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	_, err = q.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), q.Stats().Rejected)

	release()
	require.NoError(t, <-waited)

	stats := q.Stats()
	assert.Equal(t, int64(0), stats.Running)
	assert.Equal(t, int64(0), stats.Waiting)
	assert.Equal(t, int64(2), stats.Processed)
}

func TestTimeout(t *testing.T) {
	q := New(Config{MaxConcurrent: 1, Timeout: 20 * time.Millisecond}, zaptest.NewLogger(t))

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = q.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.Equal(t, int64(1), q.Stats().TimedOut)
	assert.Equal(t, int64(0), q.Stats().Waiting)
}

func TestCancelledWhileWaiting(t *testing.T) {
	q := New(Config{MaxConcurrent: 1}, zaptest.NewLogger(t))

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.Acquire(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int64(0), q.Stats().TimedOut)
}

func TestReleaseIsIdempotent(t *testing.T) {
	q := New(Config{MaxConcurrent: 1}, zaptest.NewLogger(t))

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	release()
	release()
	assert.Equal(t, int64(1), q.Stats().Processed)

	again, err := q.Acquire(context.Background())
	require.NoError(t, err)
	again()
}

func TestConcurrencyBound(t *testing.T) {
	const limit = 3
	q := New(Config{MaxConcurrent: limit}, zaptest.NewLogger(t))

	var (
		mu      sync.Mutex
		current int
		peak    int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := q.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			defer release()
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			current--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak, limit)
	assert.Equal(t, int64(20), q.Stats().Processed)
}
