// Package workerpool runs side effects such as notification delivery off the
// request path on a bounded set of goroutines.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of deferred work
type Job struct {
	Name string
	Fn   func(context.Context) error
}

// Dispatcher accepts jobs for execution
type Dispatcher interface {
	Submit(job Job) error
}

// Pool is a bounded Dispatcher. Jobs that panic are recovered and counted as
// failures so one bad delivery cannot take down the process.
type Pool struct {
	name    string
	workers int
	jobs    chan Job
	timeout time.Duration
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	active    atomic.Int32
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// Config holds pool configuration
type Config struct {
	Name       string
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	Logger     *zap.Logger
}

// New starts a pool
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:    cfg.Name,
		workers: cfg.Workers,
		jobs:    make(chan Job, cfg.QueueSize),
		timeout: cfg.JobTimeout,
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Info("Worker pool started",
		zap.String("name", p.name),
		zap.Int("workers", p.workers),
		zap.Int("queue_size", cfg.QueueSize))

	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(id, job)
	}
}

func (p *Pool) run(workerID int, job Job) {
	p.active.Add(1)
	defer p.active.Add(-1)

	start := time.Now()
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	if err := safeRun(ctx, job); err != nil {
		p.failed.Add(1)
		p.logger.Warn("Job failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("job", job.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	p.completed.Add(1)
}

func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %q panicked: %v", job.Name, r)
		}
	}()
	return job.Fn(ctx)
}

// Submit enqueues a job without blocking. It fails when the queue is full or
// the pool is closed.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.rejected.Add(1)
		return fmt.Errorf("worker pool '%s' is closed", p.name)
	}

	select {
	case p.jobs <- job:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return fmt.Errorf("worker pool '%s' queue is full", p.name)
	}
}

// Close stops accepting jobs and waits for queued ones to finish. If ctx
// expires first, in-flight jobs see their context cancelled.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("Worker pool drained", zap.String("name", p.name))
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return fmt.Errorf("worker pool '%s' drain interrupted: %w", p.name, ctx.Err())
	}
}

// Stats returns a point-in-time view of the pool counters
func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.name,
		Workers:   p.workers,
		Active:    int(p.active.Load()),
		Queued:    len(p.jobs),
		Capacity:  cap(p.jobs),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Stats represents pool counters
type Stats struct {
	Name      string
	Workers   int
	Active    int
	Queued    int
	Capacity  int
	Submitted uint64
	Completed uint64
	Failed    uint64
	Rejected  uint64
}

// QueueUtilization returns the queue fill as a percentage
func (s Stats) QueueUtilization() float64 {
	if s.Capacity == 0 {
		return 0
	}
	return float64(s.Queued) / float64(s.Capacity) * 100.0
}

// Inline runs every job synchronously on the caller's goroutine. It is used by
// the simulator and by tests that need deterministic delivery.
type Inline struct {
	Logger *zap.Logger
}

// Submit runs the job immediately and logs, but does not return, its error
func (d Inline) Submit(job Job) error {
	if err := safeRun(context.Background(), job); err != nil && d.Logger != nil {
		d.Logger.Warn("Job failed", zap.String("job", job.Name), zap.Error(err))
	}
	return nil
}
