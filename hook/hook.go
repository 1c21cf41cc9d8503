// Package hook provides lifecycle hooks for billing events. Hooks can
// observe escalation and invoicing outcomes to extend functionality
// (audit trails, metrics, provider sync) without blocking the billing path.
package hook

import (
	"context"

	"github.com/malipo/dunning/attempt"
	"github.com/malipo/dunning/invoice"
	"github.com/malipo/dunning/subscription"
)

// Hook is the base interface that all hooks must implement.
type Hook interface {
	Name() string
}

// OnAttemptScheduled is called when a dunning retry attempt is recorded and
// its re-execution task committed.
type OnAttemptScheduled interface {
	Hook
	OnAttemptScheduled(ctx context.Context, a *attempt.Attempt) error
}

// OnSubscriptionSuspended is called when the engine suspends a subscription.
type OnSubscriptionSuspended interface {
	Hook
	OnSubscriptionSuspended(ctx context.Context, sub *subscription.Subscription) error
}

// OnSubscriptionCancelled is called when the engine cancels a subscription
// for non-payment.
type OnSubscriptionCancelled interface {
	Hook
	OnSubscriptionCancelled(ctx context.Context, sub *subscription.Subscription) error
}

// OnPaymentRecovered is called when a successful payment resets a dunning
// cycle.
type OnPaymentRecovered interface {
	Hook
	OnPaymentRecovered(ctx context.Context, sub *subscription.Subscription) error
}

// OnInvoiceGenerated is called when an invoice is generated.
type OnInvoiceGenerated interface {
	Hook
	OnInvoiceGenerated(ctx context.Context, inv *invoice.Invoice) error
}
