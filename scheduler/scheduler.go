// Package scheduler provides durable delayed task execution on top of the
// store. Tasks survive restarts and are delivered at least once: a runner
// that crashes after executing a handler but before marking the task
// delivered will re-execute it. Handlers must tolerate redelivery.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/malipo/dunning/id"
	"github.com/malipo/dunning/store"
	"github.com/malipo/dunning/task"
	"github.com/malipo/dunning/types"
)

// HandlerFunc executes one due task. A non-nil error leaves the task
// pending for redelivery after the retry backoff.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Scheduler schedules delayed work.
type Scheduler interface {
	Schedule(ctx context.Context, delay time.Duration, handler string, payload []byte) (id.TaskID, error)
}

// Runner polls the store for due tasks and dispatches them to registered
// handlers. It also implements Scheduler.
type Runner struct {
	store  store.Store
	logger *slog.Logger
	nowFn  func() time.Time

	pollInterval time.Duration
	batchSize    int
	retryBackoff time.Duration
	retention    time.Duration

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	cron     *cron.Cron
	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	startMu  sync.Mutex
}

var _ Scheduler = (*Runner)(nil)

// NewRunner creates a runner on the given store.
func NewRunner(s store.Store, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:        s,
		logger:       slog.Default(),
		nowFn:        time.Now,
		pollInterval: 30 * time.Second,
		batchSize:    100,
		retryBackoff: 5 * time.Minute,
		retention:    30 * 24 * time.Hour,
		handlers:     make(map[string]HandlerFunc),
		stopChan:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithPollInterval sets how often the runner polls for due tasks.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.pollInterval = d
	}
}

// WithBatchSize sets the maximum number of tasks delivered per poll.
func WithBatchSize(n int) RunnerOption {
	return func(r *Runner) {
		r.batchSize = n
	}
}

// WithRetryBackoff sets the delay before a failed task is retried.
func WithRetryBackoff(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.retryBackoff = d
	}
}

// WithRetention sets how long delivered tasks are kept before the
// housekeeping purge removes them.
func WithRetention(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.retention = d
	}
}

// WithNowFunc overrides the runner clock. Used in tests.
func WithNowFunc(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.nowFn = now
	}
}

// Register binds a handler name to a function. Tasks referencing an
// unregistered handler stay pending and are retried with backoff.
func (r *Runner) Register(name string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Schedule persists a task to run after delay.
func (r *Runner) Schedule(ctx context.Context, delay time.Duration, handler string, payload []byte) (id.TaskID, error) {
	t := &task.Task{
		Entity:  types.NewEntity(),
		ID:      id.NewTaskID(),
		Handler: handler,
		Payload: payload,
		RunAt:   r.nowFn().Add(delay),
		Status:  task.StatusPending,
	}

	if err := r.store.CreateTask(ctx, t); err != nil {
		return id.TaskID{}, err
	}

	r.logger.Debug("task scheduled",
		"task_id", t.ID,
		"handler", handler,
		"run_at", t.RunAt,
	)

	return t.ID, nil
}

// Start begins the poll loop and the housekeeping cron.
func (r *Runner) Start(ctx context.Context) error {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if r.started {
		return nil
	}
	r.started = true

	r.wg.Add(1)
	go r.pollWorker(ctx)

	r.cron = cron.New()
	if _, err := r.cron.AddFunc("@hourly", func() {
		r.purgeDelivered(ctx)
	}); err != nil {
		return err
	}
	r.cron.Start()

	r.logger.Info("scheduler runner started",
		"poll_interval", r.pollInterval,
		"batch_size", r.batchSize,
	)

	return nil
}

// Stop halts the poll loop and the housekeeping cron.
func (r *Runner) Stop() {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if !r.started {
		return
	}
	r.started = false

	close(r.stopChan)
	r.wg.Wait()
	r.stopChan = make(chan struct{})

	cronCtx := r.cron.Stop()
	<-cronCtx.Done()
}

func (r *Runner) pollWorker(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.DeliverDue(ctx)
		}
	}
}

// DeliverDue executes one delivery pass: every pending task whose RunAt has
// passed is dispatched, up to the batch size. Exposed so embedders can drive
// delivery from their own loop or from tests.
func (r *Runner) DeliverDue(ctx context.Context) {
	now := r.nowFn()

	due, err := r.store.DueTasks(ctx, now, r.batchSize)
	if err != nil {
		r.logger.Error("failed to list due tasks", "error", err)
		return
	}

	for _, t := range due {
		r.deliver(ctx, t)
	}
}

func (r *Runner) deliver(ctx context.Context, t *task.Task) {
	r.mu.RLock()
	fn, ok := r.handlers[t.Handler]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("no handler registered for task",
			"task_id", t.ID,
			"handler", t.Handler,
		)
		r.reschedule(ctx, t)
		return
	}

	if err := fn(ctx, t.Payload); err != nil {
		r.logger.Error("task handler failed",
			"task_id", t.ID,
			"handler", t.Handler,
			"attempts", t.Attempts,
			"error", err,
		)
		r.reschedule(ctx, t)
		return
	}

	if err := r.store.MarkTaskDelivered(ctx, t.ID, r.nowFn()); err != nil {
		// The handler already ran; on the next pass the task is
		// redelivered. At-least-once, by contract.
		r.logger.Error("failed to mark task delivered",
			"task_id", t.ID,
			"error", err,
		)
		return
	}

	r.logger.Debug("task delivered",
		"task_id", t.ID,
		"handler", t.Handler,
	)
}

func (r *Runner) reschedule(ctx context.Context, t *task.Task) {
	if err := r.store.RescheduleTask(ctx, t.ID, r.nowFn().Add(r.retryBackoff)); err != nil {
		r.logger.Error("failed to reschedule task",
			"task_id", t.ID,
			"error", err,
		)
	}
}

func (r *Runner) purgeDelivered(ctx context.Context) {
	before := r.nowFn().Add(-r.retention)

	n, err := r.store.PurgeDeliveredTasks(ctx, before)
	if err != nil {
		r.logger.Error("failed to purge delivered tasks", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("purged delivered tasks", "count", n, "before", before)
	}
}
