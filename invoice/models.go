package invoice

import (
	"time"

	"github.com/malipo/dunning/id"
	"github.com/malipo/dunning/types"
)

type Status string

const (
	StatusSent Status = "sent"
	StatusPaid Status = "paid"
)

// Invoice is generated per subscription period or per payment. It is never
// mutated after creation except to record payment.
type Invoice struct {
	types.Entity
	ID             id.InvoiceID      `json:"id"`
	TenantID       string            `json:"tenant_id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	CustomerID     id.CustomerID     `json:"customer_id"`
	Number         string            `json:"number"` // INV-<YYYYMM>-<seq>, unique
	Status         Status            `json:"status"`
	Amount         types.Money       `json:"amount"`
	LineItems      []LineItem        `json:"line_items"`
	IssueDate      time.Time         `json:"issue_date"`
	DueDate        time.Time         `json:"due_date"`
	PaidAt         *time.Time        `json:"paid_at,omitempty"`
	PaymentRef     string            `json:"payment_ref,omitempty"`
}

type LineItem struct {
	ID          id.LineItemID `json:"id"`
	InvoiceID   id.InvoiceID  `json:"invoice_id"`
	Description string        `json:"description"`
	Quantity    int64         `json:"quantity"`
	UnitAmount  types.Money   `json:"unit_amount"`
	Amount      types.Money   `json:"amount"`
	PeriodStart time.Time     `json:"period_start"`
	PeriodEnd   time.Time     `json:"period_end"`
}

// Payment ties an invoice to a settled charge.
type Payment struct {
	Reference string      `json:"reference"`
	Amount    types.Money `json:"amount"`
	PaidAt    time.Time   `json:"paid_at"`
}
