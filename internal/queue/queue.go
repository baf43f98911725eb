// Package queue serializes text-driven pipeline executions within a session:
// tasks run strictly one at a time, in arrival order.
package queue

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Task is one asynchronous unit of work. Errors are caught and logged by the
// queue; they never propagate to or stall subsequent tasks.
type Task func(ctx context.Context) error

type item struct {
	ctx  context.Context
	name string
	task Task
}

// Queue guarantees FIFO, at-most-one-active-at-a-time execution. A draining
// goroutine picks the head task only once no task is running, executes it,
// and continues until the queue is empty, then exits until the next enqueue.
type Queue struct {
	logger *zap.Logger

	mu       sync.Mutex
	items    []item
	draining bool
}

// New creates an idle queue.
func New(logger *zap.Logger) *Queue {
	return &Queue{logger: logger}
}

// Enqueue appends a task and starts the drain loop if idle.
func (q *Queue) Enqueue(ctx context.Context, name string, task Task) {
	q.mu.Lock()
	q.items = append(q.items, item{ctx: ctx, name: name, task: task})
	start := !q.draining
	if start {
		q.draining = true
	}
	q.mu.Unlock()

	if start {
		go q.drain()
	}
}

// Len returns the number of tasks waiting, excluding the running one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Idle reports whether no task is running or waiting.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.draining
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		next := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		q.run(next)
	}
}

func (q *Queue) run(it item) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked",
				zap.String("task", it.name),
				zap.Any("panic", r))
		}
	}()

	if err := it.ctx.Err(); err != nil {
		q.logger.Debug("task skipped, context done",
			zap.String("task", it.name),
			zap.Error(err))
		return
	}

	if err := it.task(it.ctx); err != nil {
		q.logger.Error("task failed",
			zap.String("task", it.name),
			zap.Error(err))
	}
}
