package subscription

import (
	"time"

	"github.com/malipo/dunning/id"
	"github.com/malipo/dunning/types"
)

type Status string

const (
	StatusTrialing  Status = "trialing"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// Subscription is a recurring billing agreement for one customer.
//
// SuspendedAt is set exactly once per suspension event and must be nil while
// the subscription is active.
type Subscription struct {
	types.Entity
	ID                 id.SubscriptionID `json:"id"`
	TenantID           string            `json:"tenant_id"`
	CustomerID         id.CustomerID     `json:"customer_id"`
	PlanName           string            `json:"plan_name"`
	ReferenceNumber    string            `json:"reference_number"` // unique, immutable, human-readable
	Status             Status            `json:"status"`
	Amount             types.Money       `json:"amount"`
	OutstandingAmount  types.Money       `json:"outstanding_amount"`
	CurrentPeriodStart time.Time         `json:"current_period_start"`
	CurrentPeriodEnd   time.Time         `json:"current_period_end"`
	LastPaymentAttempt *time.Time        `json:"last_payment_attempt,omitempty"`
	SuspendedAt        *time.Time        `json:"suspended_at,omitempty"`
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty"`
	CancelReason       string            `json:"cancel_reason,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// AmountDue returns the amount a customer must pay to settle the
// subscription: the outstanding balance if one is recorded, otherwise the
// plan amount.
func (s *Subscription) AmountDue() types.Money {
	if !s.OutstandingAmount.IsZero() {
		return s.OutstandingAmount
	}
	return s.Amount
}
