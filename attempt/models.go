// Package attempt defines the billing attempt audit record: one row per
// scheduled dunning retry.
package attempt

import (
	"time"

	"github.com/malipo/dunning/id"
	"github.com/malipo/dunning/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Attempt is an immutable audit record of one retry charge. The dunning
// engine creates it and never mutates it afterwards; the retry-execution
// path updates Status when the charge outcome is known.
type Attempt struct {
	types.Entity
	ID             id.AttemptID      `json:"id"`
	TenantID       string            `json:"tenant_id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	CustomerID     id.CustomerID     `json:"customer_id"`
	Amount         types.Money       `json:"amount"`
	InvoiceNumber  string            `json:"invoice_number"`
	PaymentMethod  string            `json:"payment_method"`
	Status         Status            `json:"status"`
	AttemptNumber  int               `json:"attempt_number"` // customer's failure count at creation time
	AttemptedAt    time.Time         `json:"attempted_at"`
	NextRetryAt    time.Time         `json:"next_retry_at"`
}
