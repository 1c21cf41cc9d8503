package store

import (
	"context"
	"time"

	"github.com/malipo/dunning/attempt"
	"github.com/malipo/dunning/customer"
	"github.com/malipo/dunning/id"
	"github.com/malipo/dunning/invoice"
	"github.com/malipo/dunning/subscription"
	"github.com/malipo/dunning/task"
)

// Store is the unified storage interface for all billing entities.
// Instead of embedding the per-entity sub-interfaces, all methods are
// declared explicitly to avoid naming conflicts.
type Store interface {
	// Customer methods
	CreateCustomer(ctx context.Context, c *customer.Customer) error
	GetCustomer(ctx context.Context, custID id.CustomerID) (*customer.Customer, error)
	UpdateCustomer(ctx context.Context, c *customer.Customer) error

	// Subscription methods
	CreateSubscription(ctx context.Context, s *subscription.Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error)
	GetSubscriptionByReference(ctx context.Context, reference string) (*subscription.Subscription, error)
	UpdateSubscription(ctx context.Context, s *subscription.Subscription) error
	CancelSubscription(ctx context.Context, subID id.SubscriptionID, cancelledAt time.Time, reason string) error

	// Billing attempt methods
	CreateAttempt(ctx context.Context, a *attempt.Attempt) error
	GetAttempt(ctx context.Context, attID id.AttemptID) (*attempt.Attempt, error)
	ListAttempts(ctx context.Context, subID id.SubscriptionID, opts attempt.ListOpts) ([]*attempt.Attempt, error)
	UpdateAttemptStatus(ctx context.Context, attID id.AttemptID, status attempt.Status) error

	// Invoice methods
	CreateInvoice(ctx context.Context, inv *invoice.Invoice) error
	GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error)
	GetInvoiceByNumber(ctx context.Context, number string) (*invoice.Invoice, error)
	ListInvoices(ctx context.Context, subID id.SubscriptionID, opts invoice.ListOpts) ([]*invoice.Invoice, error)
	MarkInvoicePaid(ctx context.Context, invID id.InvoiceID, paidAt time.Time, paymentRef string) error
	NextInvoiceSequence(ctx context.Context, month string) (int64, error)

	// Scheduled task methods
	CreateTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error)
	DueTasks(ctx context.Context, now time.Time, limit int) ([]*task.Task, error)
	MarkTaskDelivered(ctx context.Context, taskID id.TaskID, deliveredAt time.Time) error
	RescheduleTask(ctx context.Context, taskID id.TaskID, runAt time.Time) error
	PurgeDeliveredTasks(ctx context.Context, before time.Time) (int64, error)

	// InTx runs fn inside a transaction scope. All store operations performed
	// through the Store passed to fn commit together when fn returns nil and
	// roll back together when fn returns an error. Calling InTx on a Store
	// that is already transactional joins the enclosing transaction.
	InTx(ctx context.Context, fn func(tx Store) error) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
