// Package queue runs exchange side effects one at a time, in the order they
// were pushed.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrClosed = errors.New("queue closed")

// Task is one order or withdrawal. Run is the exchange call and is retried
// under Policy; OnSuccess runs once after Run succeeds and its error is only
// logged. Done, when set, receives the outcome.
type Task struct {
	ID          string
	Kind        string
	Description string
	Policy      Policy
	Run         func(ctx context.Context) error
	OnSuccess   func(ctx context.Context) error
	Done        func(Result)
}

type Result struct {
	TaskID      string
	Kind        string
	Description string
	Attempts    int
	Err         error
	// Abandoned is set when every attempt failed.
	Abandoned bool
}

// Queue is a FIFO with a single worker.
type Queue struct {
	ctx     context.Context
	mu      sync.Mutex
	cond    *sync.Cond
	pending []Task
	active  bool
	closed  bool
	results []Result
	done    chan struct{}
}

func New(ctx context.Context) *Queue {
	q := &Queue{
		ctx:  ctx,
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.work()
	return q
}

func (q *Queue) Push(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.pending = append(q.pending, task)
	q.cond.Broadcast()
	return nil
}

// Flush blocks until every task pushed so far has finished.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) > 0 || q.active {
		q.cond.Wait()
	}
}

// Close stops intake. Tasks already pushed still run.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Wait closes the queue, waits for the worker to drain it and returns every
// result in execution order.
func (q *Queue) Wait() []Result {
	q.Close()
	<-q.done
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Result(nil), q.results...)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) work() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		task := q.pending[0]
		q.pending = q.pending[1:]
		q.active = true
		q.mu.Unlock()

		result := q.execute(task)
		if task.Done != nil {
			task.Done(result)
		}

		q.mu.Lock()
		q.results = append(q.results, result)
		q.active = false
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

func (q *Queue) execute(task Task) Result {
	slog.Info("task started", "task", task.ID, "kind", task.Kind, "desc", task.Description)
	attempts, err := task.Policy.Do(q.ctx, task.Kind+" "+task.Description, task.Run)
	result := Result{
		TaskID:      task.ID,
		Kind:        task.Kind,
		Description: task.Description,
		Attempts:    attempts,
		Err:         err,
	}
	if err != nil {
		result.Abandoned = true
		slog.Error("task abandoned", "task", task.ID, "kind", task.Kind, "desc", task.Description, "attempts", attempts, "error", err)
		return result
	}
	if task.OnSuccess != nil {
		if err := task.OnSuccess(q.ctx); err != nil {
			slog.Error("task persistence failed", "task", task.ID, "kind", task.Kind, "desc", task.Description, "error", err)
		}
	}
	slog.Info("task done", "task", task.ID, "kind", task.Kind, "desc", task.Description, "attempts", attempts)
	return result
}
