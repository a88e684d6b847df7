// Package async provides the bounded background-task executor used for
// fabric maintenance work: metrics flushes, snapshot exports, and other
// jobs that must not run on an agent thread.
package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/telaminai/mongoose/errs"
	"github.com/telaminai/mongoose/internal/observability"
)

// Job is one unit of background work.
type Job func(context.Context) error

type task struct {
	ctx  context.Context
	name string
	run  Job
}

// Executor runs named jobs on a fixed set of workers with a bounded queue.
// Saturation surfaces as an error to the submitter rather than blocking;
// job failures and panics are reported through the process error channel
// under the executor's name. Submit must not be called concurrently with
// Close or Drain.
type Executor struct {
	name    string
	ctx     context.Context
	cancel  context.CancelFunc
	jobs    chan task
	workers conc.WaitGroup
	pending sync.WaitGroup
	once    sync.Once
}

// NewExecutor creates an executor with the given worker count and queue
// depth.
func NewExecutor(name string, workers, depth int) (*Executor, error) {
	if workers <= 0 {
		return nil, errs.New("lib/async", errs.CodeInvalidCapacity,
			errs.WithMessage("workers must be >0"),
			errs.WithField("executor", name))
	}
	if depth < 0 {
		depth = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		name:   name,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan task, depth),
	}
	for i := 0; i < workers; i++ {
		e.workers.Go(e.work)
	}
	return e, nil
}

// Submit enqueues a named job, failing immediately when the executor is
// closed or its queue is full.
func (e *Executor) Submit(ctx context.Context, name string, fn Job) error {
	if fn == nil {
		return errs.New("lib/async", errs.CodeNullArgument,
			errs.WithMessage("job must not be nil"),
			errs.WithField("executor", e.name))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if e.ctx.Err() != nil {
		return errs.New("lib/async", errs.CodeLifecycle,
			errs.WithMessage("executor closed"),
			errs.WithField("executor", e.name))
	}
	e.pending.Add(1)
	select {
	case <-ctx.Done():
		e.pending.Done()
		return fmt.Errorf("submit context: %w", ctx.Err())
	case e.jobs <- task{ctx: ctx, name: name, run: fn}:
		return nil
	default:
		e.pending.Done()
		return errs.New("lib/async", errs.CodeQueueFull,
			errs.WithMessage("executor queue full"),
			errs.WithField("executor", e.name),
			errs.WithField("job", name))
	}
}

// Close stops accepting jobs and signals workers to finish; jobs already
// queued still run.
func (e *Executor) Close() {
	e.once.Do(func() {
		close(e.jobs)
		e.cancel()
	})
}

// Drain closes the executor and waits for in-flight and queued jobs to
// complete, or for ctx to expire.
func (e *Executor) Drain(ctx context.Context) error {
	e.Close()
	done := make(chan struct{})
	go func() {
		e.pending.Wait()
		e.workers.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("drain context: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (e *Executor) work() {
	for t := range e.jobs {
		e.execute(t)
	}
}

// execute runs one job, converting panics and returned errors into error
// channel reports so a failing maintenance job never kills its worker.
func (e *Executor) execute(t task) {
	defer e.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			observability.Errors().Report(observability.ErrorEvent{
				Source:   e.name,
				Message:  "background job " + t.name + " panicked",
				Err:      fmt.Errorf("panic: %v", r),
				Severity: observability.SeverityError,
			})
		}
	}()
	ctx := t.ctx
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if err := t.run(ctx); err != nil {
		observability.Errors().Report(observability.ErrorEvent{
			Source:   e.name,
			Message:  "background job " + t.name + " failed",
			Err:      err,
			Severity: observability.SeverityWarning,
		})
	}
}
