package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Dispatcher delivers notifications asynchronously through a bounded queue.
// Enqueue never blocks: when the queue is full the notification is dropped
// and logged. Delivery failures are logged and never retried.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger

	queue    chan Notification
	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.queue = make(chan Notification, n)
	}
}

// NewDispatcher creates a dispatcher delivering through the given notifier.
func NewDispatcher(n Notifier, opts ...DispatcherOption) *Dispatcher {
	if n == nil {
		n = NopNotifier{}
	}

	d := &Dispatcher{
		notifier: n,
		logger:   slog.Default(),
		queue:    make(chan Notification, 1000),
		stopChan: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Start begins the delivery worker.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	d.wg.Add(1)
	go d.deliverWorker(ctx)
}

// Stop drains the queue and stops the worker.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}
	d.started = false

	close(d.stopChan)
	d.wg.Wait()
	d.stopChan = make(chan struct{})
}

// Enqueue submits a notification for delivery. It never blocks; a full
// queue drops the notification with a log entry.
func (d *Dispatcher) Enqueue(n Notification) {
	select {
	case d.queue <- n:
	default:
		d.logger.Warn("notification dropped, queue full",
			"kind", n.Kind,
			"template", n.Template,
		)
	}
}

func (d *Dispatcher) deliverWorker(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopChan:
			// Drain what is already queued before exiting.
			for {
				select {
				case n := <-d.queue:
					d.deliver(ctx, n)
				default:
					return
				}
			}

		case n := <-d.queue:
			d.deliver(ctx, n)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	var err error

	switch n.Kind {
	case KindTemplated:
		err = d.notifier.SendTemplated(ctx, n.Customer, n.Template, n.Context)
	case KindSMS:
		err = d.notifier.SendSMS(ctx, n.Phone, n.Body)
	case KindEmail:
		err = d.notifier.SendEmail(ctx, n.Address, n.Subject, n.Template, n.Context)
	default:
		d.logger.Warn("unknown notification kind", "kind", n.Kind)
		return
	}

	if err != nil {
		d.logger.Error("notification delivery failed",
			"kind", n.Kind,
			"template", n.Template,
			"error", err,
		)
		return
	}

	d.logger.Debug("notification delivered",
		"kind", n.Kind,
		"template", n.Template,
	)
}
