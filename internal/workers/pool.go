// Package workers runs queued jobs, primarily asynchronous backtest runs
// submitted through the API, on a bounded goroutine pool.
package workers

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolStopped = errors.New("worker pool is stopped")
	ErrQueueFull   = errors.New("job queue is full")
)

// Job is a unit of work.
type Job interface {
	Execute() error
}

// JobFunc adapts a function to the Job interface.
type JobFunc func() error

func (f JobFunc) Execute() error { return f() }

// Config bounds the pool.
type Config struct {
	Name            string
	NumWorkers      int
	QueueSize       int
	ShutdownTimeout time.Duration
}

// DefaultConfig sizes the pool for a mix of CPU-bound backtests and
// I/O-bound persistence work.
func DefaultConfig(name string) Config {
	return Config{
		Name:            name,
		NumWorkers:      runtime.NumCPU(),
		QueueSize:       256,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Queued    int   `json:"queued"`
}

// Pool is a fixed-size worker pool with a bounded queue. Submit never
// blocks; a full queue is an error the caller surfaces to the client.
type Pool struct {
	logger *zap.Logger
	cfg    Config

	jobs    chan Job
	wg      sync.WaitGroup
	running atomic.Bool
	quit    chan struct{}

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a pool. Call Start before submitting.
func NewPool(logger *zap.Logger, cfg Config) *Pool {
	if cfg.NumWorkers < 1 {
		cfg.NumWorkers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	return &Pool{
		logger: logger,
		cfg:    cfg,
		jobs:   make(chan Job, cfg.QueueSize),
		quit:   make(chan struct{}),
	}
}

// Start launches the workers. Starting twice is a no-op.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}
	p.logger.Info("worker pool started",
		zap.String("name", p.cfg.Name),
		zap.Int("workers", p.cfg.NumWorkers),
		zap.Int("queue_size", p.cfg.QueueSize))

	for i := 0; i < p.cfg.NumWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker_id", id))

	for {
		select {
		case <-p.quit:
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.execute(logger, job)
		}
	}
}

// execute runs one job with panic recovery so a misbehaving strategy
// cannot take a worker down.
func (p *Pool) execute(logger *zap.Logger, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			logger.Error("job panicked", zap.Any("panic", r))
		}
	}()

	if err := job.Execute(); err != nil {
		p.failed.Add(1)
		logger.Warn("job failed", zap.Error(err))
		return
	}
	p.completed.Add(1)
}

// Submit enqueues a job.
func (p *Pool) Submit(job Job) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		p.submitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitFunc enqueues a function as a job.
func (p *Pool) SubmitFunc(fn func() error) error {
	return p.Submit(JobFunc(fn))
}

// Stop drains in-flight work and shuts the workers down, bounded by the
// shutdown timeout.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}
	close(p.quit)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped", zap.String("name", p.cfg.Name))
		return nil
	case <-time.After(p.cfg.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out", zap.String("name", p.cfg.Name))
		return errors.New("worker pool shutdown timed out")
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Queued:    len(p.jobs),
	}
}
