// Package workers runs ledger operations on a bounded pool with a per-task
// retry budget.
//
// Every task gets its own budget. Errors the ledger marks transient are
// retried at a constant interval until the budget runs out; any other
// error ends the task immediately. The result of a task is delivered
// through its Future.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/anchor/internal/ledger"
	"github.com/roach88/anchor/internal/metrics"
)

// ErrPoolClosed is reported by futures of tasks submitted after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Task is one retryable unit of work.
type Task func(ctx context.Context) (any, error)

// Config configures a Pool.
type Config struct {
	// Size is the number of concurrent workers.
	Size int

	// MaxRetries is the number of attempts allowed after the first.
	MaxRetries int

	// RetryInterval is the constant delay between attempts.
	RetryInterval time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Defaults to ledger.IsTransient.
	Retryable func(error) bool

	Metrics *metrics.Metrics
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Size:          4,
		MaxRetries:    10,
		RetryInterval: 500 * time.Millisecond,
	}
}

// Pool executes tasks on a fixed number of goroutines.
//
// Thread-safety: Submit may be called from any goroutine.
type Pool struct {
	cfg   Config
	queue *taskQueue
	wg    sync.WaitGroup
}

type job struct {
	ctx    context.Context
	name   string
	task   Task
	future *Future
}

// New starts a pool. Call Close to stop it.
func New(cfg Config) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Retryable == nil {
		cfg.Retryable = ledger.IsTransient
	}

	p := &Pool{cfg: cfg, queue: newTaskQueue()}
	p.wg.Add(cfg.Size)
	for i := 0; i < cfg.Size; i++ {
		go p.worker()
	}
	return p
}

// Submit queues task and returns its future. name is used in logs only.
// Cancelling ctx aborts the task between attempts.
func (p *Pool) Submit(ctx context.Context, name string, task Task) *Future {
	f := newFuture()
	if !p.queue.Enqueue(&job{ctx: ctx, name: name, task: task, future: f}) {
		f.resolve(nil, ErrPoolClosed, 0)
	}
	return f
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Close() {
	p.queue.Close()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		j, ok, drained := p.queue.TryDequeue()
		if ok {
			p.run(j)
			continue
		}
		if drained {
			return
		}
		<-p.queue.Wait()
	}
}

func (p *Pool) run(j *job) {
	if err := j.ctx.Err(); err != nil {
		j.future.resolve(nil, err, 0)
		p.cfg.Metrics.IncrementTask(err)
		return
	}

	attempts := 0
	op := func() (any, error) {
		attempts++
		if attempts > 1 {
			p.cfg.Metrics.IncrementRetry()
		}
		v, err := j.task(j.ctx)
		if err != nil && !p.cfg.Retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, next time.Duration) {
		slog.WarnContext(j.ctx, "task attempt failed, retrying",
			"task", j.name,
			"attempt", attempts,
			"retry_in", next,
			"error", err,
		)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.cfg.RetryInterval), uint64(p.cfg.MaxRetries)),
		j.ctx,
	)
	v, err := backoff.RetryNotifyWithData(op, policy, notify)
	if err != nil {
		slog.ErrorContext(j.ctx, "task failed",
			"task", j.name,
			"attempts", attempts,
			"error", err,
		)
	}
	p.cfg.Metrics.IncrementTask(err)
	j.future.resolve(v, err, attempts)
}

// Future is the eventual result of a submitted task.
type Future struct {
	done     chan struct{}
	value    any
	err      error
	attempts int
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(v any, err error, attempts int) {
	f.value = v
	f.err = err
	f.attempts = attempts
	close(f.done)
}

// Done is closed once the task has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Attempts returns how many times the task ran. Valid after Done.
func (f *Future) Attempts() int {
	<-f.done
	return f.attempts
}
