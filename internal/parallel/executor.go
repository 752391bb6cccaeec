// Package parallel runs pull work in isolated workers. Workers share nothing
// with the coordinator beyond the byte payload they return; callers hand each
// worker its own HTTP client so no connection state crosses workers.
package parallel

import (
	"context"
	"fmt"
	"sync"

	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
	"github.com/feedrail/shopfeed/pkg/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// MaxWorkerOutput caps one worker's result payload at 100 MB. Overlong
// output is truncated, not fatal; the worker is still reaped normally.
const MaxWorkerOutput = 100 << 20

// Job names one unit of work handed to a child.
type Job struct {
	Name    string
	Payload any
}

// ChildFunc produces a worker's byte output.
type ChildFunc func(ctx context.Context, job Job) ([]byte, error)

// ParentFunc consumes one finished worker's output in the coordinator.
type ParentFunc func(output []byte, job Job) error

// Executor coordinates worker pools.
type Executor struct {
	log       *logger.Logger
	maxOutput int
}

// NewExecutor builds an executor with the default output cap.
func NewExecutor(log *logger.Logger) *Executor {
	return &Executor{log: log, maxOutput: MaxWorkerOutput}
}

// DoSync runs fn in its own worker and blocks until it finishes, returning
// its output.
func (e *Executor) DoSync(ctx context.Context, job Job, fn ChildFunc) ([]byte, error) {
	return e.DoAsync(ctx, job, fn).Wait(ctx)
}

// Handle tracks one background worker.
type Handle struct {
	job  Job
	done chan workerResult
}

type workerResult struct {
	output []byte
	err    error
}

// DoAsync fires fn in the background and returns a handle to reap it later.
func (e *Executor) DoAsync(ctx context.Context, job Job, fn ChildFunc) *Handle {
	h := &Handle{job: job, done: make(chan workerResult, 1)}
	go func() {
		output, err := fn(ctx, job)
		h.done <- workerResult{output: e.capOutput(ctx, job, output), err: err}
	}()
	return h
}

// Wait blocks until the worker exits or the context is canceled.
func (h *Handle) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, pkgerrors.Wrap(pkgerrors.CodeInfra, ctx.Err(), fmt.Sprintf("waiting for worker %s", h.job.Name))
	case res := <-h.done:
		return res.output, res.err
	}
}

// DoParallel runs up to maxWorkers children concurrently. As each child
// finishes, parent receives its output in the coordinator goroutine. The
// first error (child or parent) is sticky: spawning stops, later errors are
// suppressed so a single upstream failure does not cascade into noise, and
// every already-spawned child is still reaped. limiter, when non-nil,
// throttles how fast new children start.
func (e *Executor) DoParallel(ctx context.Context, jobs []Job, maxWorkers int, child ChildFunc, parent ParentFunc, limiter *rate.Limiter) error {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	spawnCtx, stopSpawning := context.WithCancel(ctx)
	defer stopSpawning()

	results := make(chan struct {
		job    Job
		result workerResult
	})

	var group errgroup.Group
	group.SetLimit(maxWorkers)

	go func() {
		for _, job := range jobs {
			if spawnCtx.Err() != nil {
				break
			}
			if limiter != nil {
				if err := limiter.Wait(spawnCtx); err != nil {
					break
				}
			}
			job := job
			group.Go(func() error {
				output, err := child(ctx, job)
				results <- struct {
					job    Job
					result workerResult
				}{job, workerResult{output: e.capOutput(ctx, job, output), err: err}}
				return nil
			})
		}
		_ = group.Wait()
		close(results)
	}()

	var once sync.Once
	var sticky error
	record := func(err error) {
		once.Do(func() {
			sticky = err
			stopSpawning()
		})
	}

	for res := range results {
		if res.result.err != nil {
			if sticky == nil {
				record(res.result.err)
			} else if e.log != nil {
				e.log.Warn(ctx, fmt.Sprintf("suppressed worker error after first failure: %v", res.result.err))
			}
			continue
		}
		if sticky != nil {
			// Partial output after a sticky error is discarded.
			continue
		}
		if err := parent(res.result.output, res.job); err != nil {
			record(err)
		}
	}

	if sticky != nil {
		return sticky
	}
	return ctx.Err()
}

func (e *Executor) capOutput(ctx context.Context, job Job, output []byte) []byte {
	if len(output) <= e.maxOutput {
		return output
	}
	if e.log != nil {
		e.log.Warn(ctx, fmt.Sprintf("worker %s output exceeded %d bytes, truncating", job.Name, e.maxOutput))
	}
	return output[:e.maxOutput]
}
