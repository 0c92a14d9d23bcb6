package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrQueueFull is returned when the buffer cannot take another job.
var ErrQueueFull = errors.New("queue full")

// ErrQueueClosed is returned once the dispatcher is not accepting work.
var ErrQueueClosed = errors.New("queue closed")

// Job is one unit of background work.
type Job struct {
	ID       string
	Type     string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job. A non-nil error schedules a retry.
type Handler func(context.Context, Job) error

// GiveUpFunc observes jobs that exhausted their retries.
type GiveUpFunc func(Job, error)

// QueueConfig sizes the dispatcher.
type QueueConfig struct {
	Workers      int
	BufferSize   int
	MaxRetries   int
	RetryDelay   time.Duration
	DrainTimeout time.Duration
	OnGiveUp     GiveUpFunc
	Logger       *zap.Logger
}

// Queue fans jobs out to a fixed set of goroutines.
// Enqueue never blocks; Stop waits up to DrainTimeout for buffered, running and retrying jobs.
type Queue struct {
	name    string
	handler Handler
	cfg     QueueConfig
	logger  *zap.Logger

	buffer chan Job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	accepting bool

	// live counts jobs that are buffered, being handled or waiting out a retry backoff.
	live atomic.Int64
}

// NewQueue builds a dispatcher around handler.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Queue{
		name:    name,
		handler: handler,
		cfg:     cfg,
		logger:  cfg.Logger.With(zap.String("queue", name)),
		buffer:  make(chan Job, cfg.BufferSize),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.accepting || q.cancel != nil {
		return
	}
	// Workers outlive the parent's cancellation so Stop can still drain.
	q.ctx, q.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.run()
	}
	q.accepting = true
	q.logger.Info("queue started", zap.Int("workers", q.cfg.Workers), zap.Int("buffer", q.cfg.BufferSize))
}

// Stop refuses new jobs, waits for the buffer to empty (bounded by DrainTimeout),
// then cancels the workers.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.accepting {
		q.mu.Unlock()
		return
	}
	q.accepting = false
	q.mu.Unlock()

	q.drain()
	q.cancel()
	q.wg.Wait()
	if left := len(q.buffer); left > 0 {
		q.logger.Warn("queue stopped with pending jobs", zap.Int("pending", left))
	}
	q.logger.Info("queue stopped")
}

// Enqueue hands a job to the workers without blocking.
func (q *Queue) Enqueue(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if !q.accepting {
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueClosed)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	q.live.Add(1)
	if err := q.push(job); err != nil {
		q.live.Add(-1)
		return err
	}
	return nil
}

func (q *Queue) push(job Job) error {
	select {
	case q.buffer <- job:
		return nil
	default:
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueFull)
	}
}

// Pending reports the number of buffered jobs.
func (q *Queue) Pending() int {
	return len(q.buffer)
}

func (q *Queue) drain() {
	if q.cfg.DrainTimeout <= 0 || q.live.Load() == 0 {
		return
	}
	deadline := time.NewTimer(q.cfg.DrainTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for q.live.Load() > 0 {
		select {
		case <-deadline.C:
			return
		case <-tick.C:
		}
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.buffer:
			if err := q.handler(q.ctx, job); err != nil {
				q.retry(job, err)
				continue
			}
			q.live.Add(-1)
		}
	}
}

func (q *Queue) retry(job Job, err error) {
	job.Attempt++
	if job.Attempt > q.cfg.MaxRetries {
		q.giveUp(job, err)
		return
	}
	q.logger.Warn("job failed, retrying",
		zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Int("attempt", job.Attempt), zap.Error(err))

	q.wg.Add(1)
	go func(j Job) {
		defer q.wg.Done()
		backoff := time.NewTimer(q.cfg.RetryDelay * time.Duration(j.Attempt))
		defer backoff.Stop()
		select {
		case <-q.ctx.Done():
			q.giveUp(j, q.ctx.Err())
		case <-backoff.C:
			// Requeue bypasses the accepting check so retries still run while Stop drains.
			if err := q.push(j); err != nil {
				q.giveUp(j, err)
			}
		}
	}(job)
}

func (q *Queue) giveUp(job Job, err error) {
	q.live.Add(-1)
	q.logger.Error("job abandoned",
		zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Int("attempts", job.Attempt), zap.Error(err))
	if q.cfg.OnGiveUp != nil {
		q.cfg.OnGiveUp(job, err)
	}
}
