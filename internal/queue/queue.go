// Package queue drives task dispatch: it polls the store for the next
// eligible task, runs it through a bounded worker pool, and applies
// linear retry backoff on failure. It publishes lifecycle events on
// the bus so conductors never poll the store directly.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coreclaw/coreclaw/internal/bus"
	"github.com/coreclaw/coreclaw/internal/store"
)

// Handler runs a single task and returns its result payload or an
// error. It is supplied by the worker invoker.
type Handler func(ctx context.Context, task *store.Task) (result string, err error)

// Config controls queue concurrency and poll/backoff timing.
type Config struct {
	Concurrency   int
	PollInterval  time.Duration
	RetryBaseWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.RetryBaseWait <= 0 {
		c.RetryBaseWait = 5 * time.Second
	}
	return c
}

// Queue dispatches tasks claimed from the store to Handler, honoring a
// bounded concurrency limit, linear retry backoff and pause/resume.
type Queue struct {
	cfg     Config
	st      *store.Store
	eb      *bus.Bus
	logger  *slog.Logger
	handler Handler

	sem    chan struct{}
	paused chan struct{} // closed when running, present when paused
	mu     sync.Mutex
	wg     sync.WaitGroup
}

// New creates a Queue. handler is invoked once per claimed task, with
// at most cfg.Concurrency invocations running concurrently.
func New(st *store.Store, eb *bus.Bus, logger *slog.Logger, cfg Config, handler Handler) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		cfg:     cfg,
		st:      st,
		eb:      eb,
		logger:  logger,
		handler: handler,
		sem:     make(chan struct{}, cfg.Concurrency),
	}
}

// Run polls the store for eligible tasks until ctx is canceled,
// dispatching each to the worker pool. Run blocks until every
// in-flight task has finished after ctx is canceled.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.wg.Wait()
			return
		case <-ticker.C:
			q.drainPausedOrPoll(ctx)
		}
	}
}

func (q *Queue) drainPausedOrPoll(ctx context.Context) {
	q.mu.Lock()
	paused := q.paused != nil
	q.mu.Unlock()
	if paused {
		return
	}

	for {
		select {
		case q.sem <- struct{}{}:
		default:
			return // pool is saturated; wait for the next tick
		}

		task, err := q.st.ClaimNextTask(ctx)
		if err != nil {
			<-q.sem
			if q.logger != nil {
				q.logger.Error("queue_claim_failed", slog.String("error", err.Error()))
			}
			return
		}
		if task == nil {
			<-q.sem
			return
		}

		q.wg.Add(1)
		go q.run(ctx, task)
	}
}

func (q *Queue) run(ctx context.Context, task *store.Task) {
	defer q.wg.Done()
	defer func() { <-q.sem }()

	q.eb.Publish(bus.TopicTaskStarted, bus.TaskStateChangedEvent{TaskID: task.ID, OldStatus: string(store.TaskStatusQueued), NewStatus: string(store.TaskStatusRunning)})

	result, err := q.handler(ctx, task)
	if err != nil {
		q.handleFailure(ctx, task, err)
		return
	}
	if completeErr := q.st.CompleteTask(ctx, task.ID, result); completeErr != nil {
		if q.logger != nil {
			q.logger.Error("queue_complete_failed", slog.String("task_id", task.ID), slog.String("error", completeErr.Error()))
		}
		return
	}
	q.eb.Publish(bus.TopicTaskCompleted, bus.TaskStateChangedEvent{TaskID: task.ID, OldStatus: string(store.TaskStatusRunning), NewStatus: string(store.TaskStatusSucceeded)})
}

func (q *Queue) handleFailure(ctx context.Context, task *store.Task, runErr error) {
	// Linear backoff: attempt N waits N * RetryBaseWait.
	delay := time.Duration(task.Attempt+1) * q.cfg.RetryBaseWait
	willRetry, err := q.st.FailTask(ctx, task.ID, runErr.Error(), time.Now().Add(delay))
	if err != nil {
		if q.logger != nil {
			q.logger.Error("queue_fail_transition_failed", slog.String("task_id", task.ID), slog.String("error", err.Error()))
		}
		return
	}
	if willRetry {
		q.eb.Publish(bus.TopicTaskRetrying, bus.TaskRetryingEvent{TaskID: task.ID, Attempt: task.Attempt + 1, Delay: delay.String()})
		return
	}
	if task.MessageID != "" {
		if err := q.st.MarkMessageFailed(ctx, task.MessageID); err != nil && q.logger != nil {
			q.logger.Error("queue_mark_message_failed_failed", slog.String("task_id", task.ID), slog.String("message_id", task.MessageID), slog.String("error", err.Error()))
		}
	}
	q.eb.Publish(bus.TopicTaskFailed, bus.TaskStateChangedEvent{TaskID: task.ID, OldStatus: string(store.TaskStatusRunning), NewStatus: string(store.TaskStatusFailed)})
}

// Pause stops new tasks from being claimed. In-flight tasks run to
// completion.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused == nil {
		q.paused = make(chan struct{})
	}
}

// Resume allows claiming to continue after Pause.
func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = nil
}

// Paused reports whether the queue is currently refusing new claims.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused != nil
}

// ActiveCount returns the number of tasks currently dispatched to the
// worker pool. It never exceeds cfg.Concurrency.
func (q *Queue) ActiveCount() int {
	return len(q.sem)
}

// Concurrency returns the worker pool's configured size, the ceiling
// ActiveCount never crosses.
func (q *Queue) Concurrency() int {
	return q.cfg.Concurrency
}

// Size returns the number of tasks queued and not yet claimed.
func (q *Queue) Size(ctx context.Context) (int, error) {
	counts, err := q.st.CountTasksByStatus(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue size: %w", err)
	}
	return counts[store.TaskStatusQueued], nil
}
