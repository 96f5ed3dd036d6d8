// Package tasks runs background jobs on a bounded worker pool.
//
// Submission is non-blocking: a full queue rejects immediately so the HTTP
// layer can shed load instead of stalling uploads behind slow ingestion.
package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/apperr"
)

// Sentinel errors for job submission.
var (
	// ErrQueueFull is returned when the queue has no capacity.
	ErrQueueFull = apperr.New(apperr.KindUnavailable, "job queue is full")

	// ErrQueueClosed is returned when submitting after Close.
	ErrQueueClosed = errors.New("job queue is closed")
)

// Job is a unit of background work. The context is canceled on shutdown.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Queue is a fixed-capacity job queue drained by a worker pool.
type Queue struct {
	jobs    chan Job
	logger  *zap.Logger
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewQueue builds a queue with the given capacity. Call Start to begin
// draining it.
func NewQueue(capacity int, logger *zap.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		jobs:    make(chan Job, capacity),
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Start launches n workers that drain the queue until Close.
func (q *Queue) Start(n int) {
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Info("job workers started", zap.Int("workers", n), zap.Int("capacity", cap(q.jobs)))
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for job := range q.jobs {
		start := time.Now()
		err := job.Run(q.baseCtx)
		fields := []zap.Field{
			zap.Int("worker", id),
			zap.String("job", job.Name),
			zap.Duration("elapsed", time.Since(start)),
		}
		if err != nil {
			q.logger.Error("job failed", append(fields, zap.Error(err))...)
			continue
		}
		q.logger.Debug("job finished", fields...)
	}
}

// Submit enqueues a job without blocking. A saturated queue returns
// ErrQueueFull so callers can answer with a retryable status.
func (q *Queue) Submit(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Depth reports the number of queued, unstarted jobs.
func (q *Queue) Depth() int { return len(q.jobs) }

// Close stops intake and waits for queued jobs to drain, up to the context
// deadline. After the deadline, running jobs see a canceled context.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}
