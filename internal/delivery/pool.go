package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fxalert/internal/delivery/retry"
	"fxalert/internal/metrics"
)

// Sender makes a single delivery attempt.
type Sender interface {
	Send(ctx context.Context, url string, body []byte) error
}

// Config sizes the pool and its retry policy. A job that carries its own attempt budget overrides Retry.MaxAttempts.
type Config struct {
	Workers   int
	QueueSize int
	Retry     retry.Config
}

// DefaultConfig returns 4 workers, a 100-slot queue and 3 attempts at 1s, 2s.
func DefaultConfig() Config {
	return Config{
		Workers:   4,
		QueueSize: 100,
		Retry:     retry.DefaultConfig(),
	}
}

type task struct {
	job Job
	ack func(Outcome)
}

// Pool is a bounded work queue drained by a fixed set of workers.
type Pool struct {
	sender  Sender
	cfg     Config
	metrics metrics.Recorder

	jobs     chan task
	stopping chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	closed  bool
	started bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a pool. Call Start before submitting work.
func NewPool(sender Sender, cfg Config, recorder metrics.Recorder) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if recorder == nil {
		recorder = metrics.NewNoOp()
	}
	return &Pool{
		sender:   sender,
		cfg:      cfg,
		metrics:  recorder,
		jobs:     make(chan task, cfg.QueueSize),
		stopping: make(chan struct{}),
	}
}

// Start launches the workers. Calling it again is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.runWorker(workerCtx, i)
	}
	slog.Info("Delivery pool started", "workers", p.cfg.Workers, "queue_size", p.cfg.QueueSize)
}

// Enqueue hands off a job without blocking. It fails with ErrQueueFull when no slot is free.
func (p *Pool) Enqueue(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- task{job: job}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Submit hands off a job, waiting for a free slot. ack, if set, receives the job's outcome
// after the pool's own outcome handling.
func (p *Pool) Submit(ctx context.Context, job Job, ack func(Outcome)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- task{job: job, ack: ack}:
		return nil
	case <-p.stopping:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new work, lets the workers drain what is queued and waits for them.
// If ctx expires first, in-flight attempts are canceled and their jobs report failure.
func (p *Pool) Stop(ctx context.Context) error {
	first := false
	p.stopOnce.Do(func() {
		first = true
		close(p.stopping)
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})
	if !first {
		return nil
	}

	p.mu.RLock()
	cancel := p.cancel
	p.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Delivery pool stopped")
		if cancel != nil {
			cancel()
		}
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
		return fmt.Errorf("delivery pool drain interrupted: %w", ctx.Err())
	}
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()
	for t := range p.jobs {
		outcome := p.process(ctx, t.job)
		p.handleOutcome(outcome)
		if t.ack != nil {
			t.ack(outcome)
		}
	}
	slog.Debug("Delivery worker exiting", "worker", id)
}

func (p *Pool) process(ctx context.Context, job Job) Outcome {
	start := time.Now()
	finish := func(attempts int, err error) Outcome {
		o := Outcome{Job: job, Status: StatusDelivered, Attempts: attempts, Duration: time.Since(start)}
		if err != nil {
			o.Status = StatusFailed
			o.Err = &DeliveryError{JobID: job.ID, Attempts: attempts, Err: err}
		}
		return o
	}

	body, err := json.Marshal(job.Payload)
	if err != nil {
		return finish(0, fmt.Errorf("failed to marshal payload: %w", err))
	}

	cfg := p.cfg.Retry
	if job.MaxAttempts > 0 {
		cfg.MaxAttempts = job.MaxAttempts
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	attempts, err := retry.Do(ctx, cfg, "webhook delivery "+job.ID, func(attempt int) error {
		p.metrics.Increment(metrics.DeliveryAttempts)
		return p.sender.Send(ctx, job.URL, body)
	})
	return finish(attempts, err)
}

func (p *Pool) handleOutcome(o Outcome) {
	p.metrics.RecordDelivery(o.Status == StatusDelivered, o.Duration)

	if o.Status == StatusDelivered {
		slog.Info("Notification delivered",
			"job_id", o.Job.ID,
			"alert_id", o.Job.Payload.AlertID,
			"attempts", o.Attempts,
			"duration", o.Duration,
		)
		return
	}
	level := slog.LevelError
	if errors.Is(o.Err, context.Canceled) {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "Notification delivery failed",
		"job_id", o.Job.ID,
		"alert_id", o.Job.Payload.AlertID,
		"webhook_url", o.Job.URL,
		"attempts", o.Attempts,
		"error", o.Err,
	)
}
