// Package queue bounds how many recognitions run at once and how many may
// wait for a slot.
package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrQueueFull is returned when every slot is busy and the wait queue is
	// at capacity.
	ErrQueueFull = errors.New("request queue is full")

	// ErrRequestTimeout is returned when a request waited longer than the
	// configured timeout.
	ErrRequestTimeout = errors.New("request timeout exceeded")
)

type Config struct {
	MaxConcurrent int           // 0 = unlimited
	MaxQueue      int           // 0 = unlimited (only when MaxConcurrent > 0)
	Timeout       time.Duration // 0 = no timeout
}

// Queue limits concurrent requests with a weighted semaphore and rejects
// callers once the wait queue is full.
type Queue struct {
	maxConcurrent int64
	maxQueue      int64
	timeout       time.Duration

	sem *semaphore.Weighted

	running   atomic.Int64
	waiting   atomic.Int64
	processed atomic.Int64
	rejected  atomic.Int64
	timedOut  atomic.Int64

	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		maxConcurrent: int64(cfg.MaxConcurrent),
		maxQueue:      int64(cfg.MaxQueue),
		timeout:       cfg.Timeout,
		logger:        logger,
	}
	if cfg.MaxConcurrent > 0 {
		q.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
		logger.Info("Request queue initialized",
			zap.Int("max_concurrent", cfg.MaxConcurrent),
			zap.Int("max_queue", cfg.MaxQueue),
			zap.Duration("timeout", cfg.Timeout))
	} else {
		logger.Info("Request queue disabled (unlimited concurrency)")
	}
	return q
}

// Acquire waits for a slot. The returned release func must be called exactly
// once when the request is done.
func (q *Queue) Acquire(ctx context.Context) (release func(), err error) {
	if q.sem == nil {
		q.running.Add(1)
		return q.makeRelease(), nil
	}

	if q.sem.TryAcquire(1) {
		q.running.Add(1)
		return q.makeRelease(), nil
	}

	// Reserve a waiting position with a CAS loop so concurrent callers
	// cannot all pass the capacity check.
	if q.maxQueue > 0 {
		for {
			waiting := q.waiting.Load()
			if waiting >= q.maxQueue {
				q.rejected.Add(1)
				q.logger.Warn("Request rejected: queue full",
					zap.Int64("waiting", waiting),
					zap.Int64("max_queue", q.maxQueue))
				return nil, ErrQueueFull
			}
			if q.waiting.CompareAndSwap(waiting, waiting+1) {
				break
			}
		}
	} else {
		q.waiting.Add(1)
	}
	defer q.waiting.Add(-1)

	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	start := time.Now()
	q.logger.Debug("Request queued", zap.Int64("queue_depth", q.waiting.Load()))

	if err := q.sem.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			q.timedOut.Add(1)
			q.logger.Warn("Request timed out in queue",
				zap.Duration("wait_time", time.Since(start)),
				zap.Duration("timeout", q.timeout))
			return nil, ErrRequestTimeout
		}
		return nil, err
	}
	q.running.Add(1)
	q.logger.Debug("Request dequeued", zap.Duration("wait_time", time.Since(start)))
	return q.makeRelease(), nil
}

func (q *Queue) makeRelease() func() {
	var once atomic.Bool
	return func() {
		if !once.CompareAndSwap(false, true) {
			return
		}
		q.running.Add(-1)
		q.processed.Add(1)
		if q.sem != nil {
			q.sem.Release(1)
		}
	}
}

type Stats struct {
	Running       int64 `json:"running"`
	Waiting       int64 `json:"waiting"`
	Processed     int64 `json:"processed"`
	Rejected      int64 `json:"rejected"`
	TimedOut      int64 `json:"timed_out"`
	MaxConcurrent int64 `json:"max_concurrent"`
	MaxQueue      int64 `json:"max_queue"`
}

func (q *Queue) Stats() Stats {
	return Stats{
		Running:       q.running.Load(),
		Waiting:       q.waiting.Load(),
		Processed:     q.processed.Load(),
		Rejected:      q.rejected.Load(),
		TimedOut:      q.timedOut.Load(),
		MaxConcurrent: q.maxConcurrent,
		MaxQueue:      q.maxQueue,
	}
}

// Enabled reports whether concurrency is limited.
func (q *Queue) Enabled() bool { return q.sem != nil }
