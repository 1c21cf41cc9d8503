package dunning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/malipo/dunning/attempt"
	"github.com/malipo/dunning/customer"
	"github.com/malipo/dunning/hook"
	"github.com/malipo/dunning/id"
	"github.com/malipo/dunning/invoice"
	"github.com/malipo/dunning/notify"
	"github.com/malipo/dunning/store"
	"github.com/malipo/dunning/subscription"
	"github.com/malipo/dunning/task"
	"github.com/malipo/dunning/types"
)

// HandlerRetryAttempt is the scheduled-task handler name for re-executing a
// billing attempt. Callers register a handler under this name with the
// scheduler runner to perform the actual charge.
const HandlerRetryAttempt = "billing.retry_attempt"

const (
	maxRetryStages  = 3
	suspendAtCount  = 4
	cancelGraceDays = 30
)

type retryStage struct {
	delay    time.Duration
	template notify.Template
}

// One failure: retry in an hour. Two: three days. Three: a week, with the
// final warning. The fourth failure suspends instead of retrying.
var retryStages = map[int]retryStage{
	1: {delay: time.Hour, template: notify.TemplatePaymentFailedRetry1},
	2: {delay: 72 * time.Hour, template: notify.TemplatePaymentFailedRetry2},
	3: {delay: 168 * time.Hour, template: notify.TemplatePaymentFailedFinalWarning},
}

// RetryAttemptPayload is the JSON payload of a scheduled retry task.
type RetryAttemptPayload struct {
	AttemptID      id.AttemptID      `json:"attempt_id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	CustomerID     id.CustomerID     `json:"customer_id"`
}

// Canceler cancels a subscription. The default implementation cancels
// directly in the store; embedders wire their provider-side cancellation
// (gateway mandates, provisioning teardown) here instead.
type Canceler interface {
	Cancel(ctx context.Context, sub *subscription.Subscription, reason string, refundUnused bool) error
}

// Engine is the dunning engine: it escalates failed payments through retry,
// suspension and cancellation, and generates invoices.
type Engine struct {
	store      store.Store
	cfg        Config
	dispatcher *notify.Dispatcher
	hooks      *hook.Registry
	canceler   Canceler
	logger     *slog.Logger
	nowFn      func() time.Time

	// Construction-time settings consumed by New.
	notifier  notify.Notifier
	queueSize int

	// Per-customer locks serialize concurrent escalations so the
	// failure counter increments exactly once per event.
	lockMu    sync.Mutex
	custLocks map[string]*sync.Mutex
}

// New creates a new Engine instance.
func New(s store.Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:     s,
		cfg:       cfg,
		hooks:     hook.NewRegistry(),
		logger:    slog.Default(),
		nowFn:     time.Now,
		queueSize: 1000,
		custLocks: make(map[string]*sync.Mutex),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.dispatcher = notify.NewDispatcher(e.notifier,
		notify.WithLogger(e.logger),
		notify.WithQueueSize(e.queueSize),
	)
	e.hooks.WithLogger(e.logger)

	if e.canceler == nil {
		e.canceler = &storeCanceler{engine: e}
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithNotifier sets the notification provider. Without one, notifications
// are discarded.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithNotifyQueueSize sets the notification queue capacity.
func WithNotifyQueueSize(n int) Option {
	return func(e *Engine) {
		e.queueSize = n
	}
}

// WithCanceler sets the subscription canceler.
func WithCanceler(c Canceler) Option {
	return func(e *Engine) {
		e.canceler = c
	}
}

// WithHook registers a lifecycle hook.
func WithHook(h hook.Hook) Option {
	return func(e *Engine) {
		_ = e.hooks.Register(h) //nolint:errcheck // best-effort hook registration during init
	}
}

// WithNowFunc overrides the engine clock. Used in tests.
func WithNowFunc(now func() time.Time) Option {
	return func(e *Engine) {
		e.nowFn = now
	}
}

// Start migrates the store and begins background workers.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.dispatcher.Start(ctx)

	e.logger.Info("dunning engine started",
		"paybill", e.cfg.PaybillCode,
		"currency", e.cfg.DefaultCurrency,
	)

	return nil
}

// Stop shuts down the Engine. Queued notifications are drained first.
func (e *Engine) Stop() error {
	e.dispatcher.Stop()
	return e.store.Close()
}

// Hooks returns the hook registry for post-construction registration.
func (e *Engine) Hooks() *hook.Registry {
	return e.hooks
}

// ──────────────────────────────────────────────────
// Failed payment escalation
// ──────────────────────────────────────────────────

// escalation collects the post-commit effects of one failed-payment step.
type escalation struct {
	cust          *customer.Customer
	sub           *subscription.Subscription
	att           *attempt.Attempt
	notifications []notify.Notification
	suspended     bool
	cancelDue     bool
}

// HandleFailedPayment records one failed payment event for the subscription
// and escalates: failures one to three schedule a retry with increasing
// delay, the fourth suspends the subscription, and further failures cancel
// it once it has been suspended for more than thirty days.
//
// The counter increment, subscription mutation, attempt record and retry
// task commit in a single transaction. Notifications and hooks fire after
// commit and are best-effort.
func (e *Engine) HandleFailedPayment(ctx context.Context, subID id.SubscriptionID) error {
	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}

	unlock := e.lockCustomer(sub.CustomerID)
	defer unlock()

	now := e.nowFn()

	var esc escalation
	err = e.store.InTx(ctx, func(tx store.Store) error {
		var txErr error
		esc, txErr = e.escalate(ctx, tx, subID, now)
		return txErr
	})
	if err != nil {
		return fmt.Errorf("handle failed payment for %s: %w", subID, err)
	}

	e.logger.Info("failed payment recorded",
		"subscription_id", esc.sub.ID,
		"customer_id", esc.cust.ID,
		"failed_count", esc.cust.FailedPaymentCount,
		"status", esc.sub.Status,
	)

	for _, n := range esc.notifications {
		e.dispatcher.Enqueue(n)
	}

	if esc.att != nil {
		e.hooks.EmitAttemptScheduled(ctx, esc.att)
	}
	if esc.suspended {
		e.hooks.EmitSubscriptionSuspended(ctx, esc.sub)
	}

	if esc.cancelDue {
		if err := e.canceler.Cancel(ctx, esc.sub, "non_payment", false); err != nil {
			return fmt.Errorf("cancel subscription %s: %w", esc.sub.ID, err)
		}
		e.logger.Info("subscription cancelled for non-payment",
			"subscription_id", esc.sub.ID,
			"suspended_at", esc.sub.SuspendedAt,
		)
		e.hooks.EmitSubscriptionCancelled(ctx, esc.sub)
	}

	return nil
}

func (e *Engine) escalate(ctx context.Context, tx store.Store, subID id.SubscriptionID, now time.Time) (escalation, error) {
	var esc escalation

	sub, err := tx.GetSubscription(ctx, subID)
	if err != nil {
		return esc, err
	}
	if sub.Status == subscription.StatusCancelled {
		return esc, ErrSubscriptionCancelled
	}

	cust, err := tx.GetCustomer(ctx, sub.CustomerID)
	if err != nil {
		return esc, err
	}

	cust.FailedPaymentCount++
	cust.Touch()
	if err := tx.UpdateCustomer(ctx, cust); err != nil {
		return esc, err
	}

	sub.LastPaymentAttempt = &now

	count := cust.FailedPaymentCount
	switch {
	case count <= maxRetryStages:
		stage := retryStages[count]
		att, err := e.scheduleRetry(ctx, tx, sub, cust, stage, count, now)
		if err != nil {
			return esc, err
		}
		esc.att = att
		esc.notifications = append(esc.notifications, notify.Notification{
			Kind:     notify.KindTemplated,
			Customer: cust,
			Template: stage.template,
			Context: map[string]string{
				"amount":        att.Amount.FormatMajor(),
				"reference":     sub.ReferenceNumber,
				"next_retry_at": att.NextRetryAt.Format(time.RFC3339),
			},
		})

	case count == suspendAtCount:
		sub.Status = subscription.StatusSuspended
		sub.SuspendedAt = &now
		esc.suspended = true
		esc.notifications = append(esc.notifications, e.suspensionNotifications(cust, sub)...)

	default:
		// Already suspended. Cancel only after a full grace period,
		// strictly more than thirty days of suspension.
		esc.cancelDue = sub.Status == subscription.StatusSuspended &&
			sub.SuspendedAt != nil &&
			sub.SuspendedAt.Before(now.AddDate(0, 0, -cancelGraceDays))
	}

	sub.Touch()
	if err := tx.UpdateSubscription(ctx, sub); err != nil {
		return esc, err
	}

	esc.cust = cust
	esc.sub = sub
	return esc, nil
}

// scheduleRetry records the attempt audit row and the durable task that
// re-executes the charge, both inside the caller's transaction.
func (e *Engine) scheduleRetry(ctx context.Context, tx store.Store, sub *subscription.Subscription, cust *customer.Customer, stage retryStage, count int, now time.Time) (*attempt.Attempt, error) {
	att := &attempt.Attempt{
		Entity:         types.NewEntity(),
		ID:             id.NewAttemptID(),
		TenantID:       sub.TenantID,
		SubscriptionID: sub.ID,
		CustomerID:     cust.ID,
		Amount:         sub.AmountDue(),
		InvoiceNumber:  fmt.Sprintf("INV-%s-%s", now.Format("20060102"), sub.ReferenceNumber),
		PaymentMethod:  "mobile_money",
		Status:         attempt.StatusPending,
		AttemptNumber:  count,
		AttemptedAt:    now,
		NextRetryAt:    now.Add(stage.delay),
	}
	if err := tx.CreateAttempt(ctx, att); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(RetryAttemptPayload{
		AttemptID:      att.ID,
		SubscriptionID: sub.ID,
		CustomerID:     cust.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal retry payload: %w", err)
	}

	t := &task.Task{
		Entity:  types.NewEntity(),
		ID:      id.NewTaskID(),
		Handler: HandlerRetryAttempt,
		Payload: payload,
		RunAt:   att.NextRetryAt,
		Status:  task.StatusPending,
	}
	if err := tx.CreateTask(ctx, t); err != nil {
		return nil, err
	}

	return att, nil
}

// suspensionNotifications builds the suspension SMS (always) and email (when
// the customer has an address) carrying the payment instructions.
func (e *Engine) suspensionNotifications(cust *customer.Customer, sub *subscription.Subscription) []notify.Notification {
	due := sub.AmountDue()

	ns := []notify.Notification{{
		Kind:  notify.KindSMS,
		Phone: cust.PhoneNumber,
		Body: fmt.Sprintf(
			"Your %s subscription has been suspended due to failed payments. Pay %s via paybill %s, account %s to restore service.",
			sub.PlanName, due.String(), e.cfg.PaybillCode, sub.ReferenceNumber,
		),
	}}

	if cust.Email != "" {
		ns = append(ns, notify.Notification{
			Kind:     notify.KindEmail,
			Address:  cust.Email,
			Subject:  "Your subscription has been suspended",
			Template: notify.TemplateSubscriptionSuspended,
			Context: map[string]string{
				"plan":      sub.PlanName,
				"amount":    due.FormatMajor(),
				"paybill":   e.cfg.PaybillCode,
				"reference": sub.ReferenceNumber,
			},
		})
	}

	return ns
}

// ──────────────────────────────────────────────────
// Payment recovery
// ──────────────────────────────────────────────────

// HandlePaymentSuccessful resets the dunning cycle after a successful
// payment: the failure counter returns to zero, a suspended subscription is
// reactivated, and the latest pending attempt is marked succeeded.
func (e *Engine) HandlePaymentSuccessful(ctx context.Context, subID id.SubscriptionID) error {
	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}

	unlock := e.lockCustomer(sub.CustomerID)
	defer unlock()

	var recovered *subscription.Subscription
	err = e.store.InTx(ctx, func(tx store.Store) error {
		sub, err := tx.GetSubscription(ctx, subID)
		if err != nil {
			return err
		}
		if sub.Status == subscription.StatusCancelled {
			return ErrSubscriptionCancelled
		}

		cust, err := tx.GetCustomer(ctx, sub.CustomerID)
		if err != nil {
			return err
		}

		cust.FailedPaymentCount = 0
		cust.Touch()
		if err := tx.UpdateCustomer(ctx, cust); err != nil {
			return err
		}

		if sub.Status == subscription.StatusSuspended {
			sub.Status = subscription.StatusActive
			sub.SuspendedAt = nil
		}
		sub.OutstandingAmount = types.Zero(sub.Amount.Currency)
		sub.Touch()
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return err
		}

		pending, err := tx.ListAttempts(ctx, subID, attempt.ListOpts{
			Status: attempt.StatusPending,
			Limit:  1,
		})
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			if err := tx.UpdateAttemptStatus(ctx, pending[0].ID, attempt.StatusSucceeded); err != nil {
				return err
			}
		}

		recovered = sub
		return nil
	})
	if err != nil {
		return fmt.Errorf("handle successful payment for %s: %w", subID, err)
	}

	e.logger.Info("payment recovered",
		"subscription_id", recovered.ID,
		"customer_id", recovered.CustomerID,
	)

	e.hooks.EmitPaymentRecovered(ctx, recovered)
	return nil
}

// ──────────────────────────────────────────────────
// Entity management
// ──────────────────────────────────────────────────

// CreateCustomer creates a new customer.
func (e *Engine) CreateCustomer(ctx context.Context, c *customer.Customer) error {
	if c.ID.IsNil() {
		c.ID = id.NewCustomerID()
	}
	c.Entity = types.NewEntity()
	return e.store.CreateCustomer(ctx, c)
}

// GetCustomer retrieves a customer by ID.
func (e *Engine) GetCustomer(ctx context.Context, custID id.CustomerID) (*customer.Customer, error) {
	return e.store.GetCustomer(ctx, custID)
}

// CreateSubscription creates a new subscription.
func (e *Engine) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if sub.ID.IsNil() {
		sub.ID = id.NewSubscriptionID()
	}
	sub.Entity = types.NewEntity()

	if sub.Status == "" {
		sub.Status = subscription.StatusActive
	}
	if sub.CurrentPeriodStart.IsZero() {
		sub.CurrentPeriodStart = e.nowFn()
		sub.CurrentPeriodEnd = sub.CurrentPeriodStart.AddDate(0, 1, 0) // Monthly by default
	}

	return e.store.CreateSubscription(ctx, sub)
}

// GetSubscription retrieves a subscription by ID.
func (e *Engine) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return e.store.GetSubscription(ctx, subID)
}

// GetSubscriptionByReference retrieves a subscription by its payment
// reference number.
func (e *Engine) GetSubscriptionByReference(ctx context.Context, reference string) (*subscription.Subscription, error) {
	return e.store.GetSubscriptionByReference(ctx, reference)
}

// ListAttempts lists the billing attempts recorded for a subscription,
// newest first.
func (e *Engine) ListAttempts(ctx context.Context, subID id.SubscriptionID, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	return e.store.ListAttempts(ctx, subID, opts)
}

// MarkInvoicePaid records payment against an invoice.
func (e *Engine) MarkInvoicePaid(ctx context.Context, invID id.InvoiceID, payment invoice.Payment) error {
	return e.store.MarkInvoicePaid(ctx, invID, payment.PaidAt, payment.Reference)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (e *Engine) lockCustomer(custID id.CustomerID) func() {
	e.lockMu.Lock()
	m, ok := e.custLocks[custID.String()]
	if !ok {
		m = &sync.Mutex{}
		e.custLocks[custID.String()] = m
	}
	e.lockMu.Unlock()

	m.Lock()
	return m.Unlock
}

// storeCanceler cancels directly in the store. It is the default when no
// provider-side canceler is wired.
type storeCanceler struct {
	engine *Engine
}

func (c *storeCanceler) Cancel(ctx context.Context, sub *subscription.Subscription, reason string, _ bool) error {
	return c.engine.store.CancelSubscription(ctx, sub.ID, c.engine.nowFn(), reason)
}
