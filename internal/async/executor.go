// Package async runs deferred work after the caller's HTTP response has been
// written. The contract is explicit: the response never waits on a submitted
// task, and the pool is bounded. This is not a background daemon, just a
// small buffer between request handling and best-effort side effects.
package async

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type task struct {
	name string
	fn   func(ctx context.Context)
}

type Executor struct {
	queue chan task
	log   *slog.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}

	// taskTimeout bounds each task so a hung mirror or provider call cannot
	// pin a worker forever.
	taskTimeout time.Duration
}

type Options struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

func NewExecutor(opts Options, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	timeout := opts.TaskTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	e := &Executor{
		queue:       make(chan task, queueSize),
		log:         log,
		stopped:     make(chan struct{}),
		taskTimeout: timeout,
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Submit enqueues a task. It never blocks: when the queue is full the task is
// dropped with a logged warning, since deferred work here is best-effort by
// design (the authoritative store write already happened).
//
// The queue channel is never closed, so a Submit racing Close can at worst
// enqueue a task that no worker picks up; it can never panic.
func (e *Executor) Submit(name string, fn func(ctx context.Context)) bool {
	select {
	case <-e.stopped:
		e.log.Warn("task dropped, executor stopped", "task", name)
		return false
	default:
	}
	select {
	case e.queue <- task{name: name, fn: fn}:
		return true
	case <-e.stopped:
		e.log.Warn("task dropped, executor stopped", "task", name)
		return false
	default:
		e.log.Warn("task dropped, queue full", "task", name)
		return false
	}
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for {
		select {
		case t := <-e.queue:
			e.run(t)
		case <-e.stopped:
			// Run whatever made it into the queue before shutdown.
			for {
				select {
				case t := <-e.queue:
					e.run(t)
				default:
					return
				}
			}
		}
	}
}

func (e *Executor) run(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), e.taskTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("deferred task panicked", "task", t.name, "panic", r)
		}
	}()
	t.fn(ctx)
}

// Close stops intake and drains queued tasks, bounded by ctx.
func (e *Executor) Close(ctx context.Context) error {
	e.stopOnce.Do(func() {
		close(e.stopped)
	})

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
