package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/malipo/dunning/attempt"
	"github.com/malipo/dunning/customer"
	"github.com/malipo/dunning/id"
	"github.com/malipo/dunning/invoice"
	"github.com/malipo/dunning/subscription"
	"github.com/malipo/dunning/task"
	"github.com/malipo/dunning/types"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row scanner) (*customer.Customer, error) {
	var c customer.Customer
	var rawID string
	var meta []byte

	err := row.Scan(&rawID, &c.TenantID, &c.Name, &c.Email, &c.PhoneNumber,
		&c.FailedPaymentCount, &meta, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if c.ID, err = id.ParseCustomerID(rawID); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(meta, &c.Metadata); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanSubscription(row scanner) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	var rawID, rawCustID, status string
	var meta []byte
	var lastAttempt, suspendedAt, cancelledAt sql.NullTime
	var amountCents, outstandingCents int64
	var amountCur, outstandingCur string

	err := row.Scan(&rawID, &sub.TenantID, &rawCustID, &sub.PlanName,
		&sub.ReferenceNumber, &status,
		&amountCents, &amountCur, &outstandingCents, &outstandingCur,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &lastAttempt,
		&suspendedAt, &cancelledAt, &sub.CancelReason, &meta,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if sub.ID, err = id.ParseSubscriptionID(rawID); err != nil {
		return nil, err
	}
	if sub.CustomerID, err = id.ParseCustomerID(rawCustID); err != nil {
		return nil, err
	}
	sub.Status = subscription.Status(status)
	sub.Amount = types.Money{Amount: amountCents, Currency: amountCur}
	sub.OutstandingAmount = types.Money{Amount: outstandingCents, Currency: outstandingCur}
	sub.LastPaymentAttempt = timePtr(lastAttempt)
	sub.SuspendedAt = timePtr(suspendedAt)
	sub.CancelledAt = timePtr(cancelledAt)

	if err := json.Unmarshal(meta, &sub.Metadata); err != nil {
		return nil, err
	}
	return &sub, nil
}

func scanAttempt(row scanner) (*attempt.Attempt, error) {
	var a attempt.Attempt
	var rawID, rawSubID, rawCustID, status string
	var amountCents int64
	var amountCur string

	err := row.Scan(&rawID, &a.TenantID, &rawSubID, &rawCustID,
		&amountCents, &amountCur,
		&a.InvoiceNumber, &a.PaymentMethod, &status, &a.AttemptNumber,
		&a.AttemptedAt, &a.NextRetryAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if a.ID, err = id.ParseAttemptID(rawID); err != nil {
		return nil, err
	}
	if a.SubscriptionID, err = id.ParseSubscriptionID(rawSubID); err != nil {
		return nil, err
	}
	if a.CustomerID, err = id.ParseCustomerID(rawCustID); err != nil {
		return nil, err
	}
	a.Status = attempt.Status(status)
	a.Amount = types.Money{Amount: amountCents, Currency: amountCur}
	return &a, nil
}

func scanInvoice(row scanner) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	var rawID, rawSubID, rawCustID, status string
	var items []byte
	var paidAt sql.NullTime
	var amountCents int64
	var amountCur string

	err := row.Scan(&rawID, &inv.TenantID, &rawSubID, &rawCustID,
		&inv.Number, &status, &amountCents, &amountCur, &items,
		&inv.IssueDate, &inv.DueDate, &paidAt, &inv.PaymentRef,
		&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if inv.ID, err = id.ParseInvoiceID(rawID); err != nil {
		return nil, err
	}
	if inv.SubscriptionID, err = id.ParseSubscriptionID(rawSubID); err != nil {
		return nil, err
	}
	if inv.CustomerID, err = id.ParseCustomerID(rawCustID); err != nil {
		return nil, err
	}
	inv.Status = invoice.Status(status)
	inv.Amount = types.Money{Amount: amountCents, Currency: amountCur}
	inv.PaidAt = timePtr(paidAt)

	if err := json.Unmarshal(items, &inv.LineItems); err != nil {
		return nil, err
	}
	return &inv, nil
}

func scanTask(row scanner) (*task.Task, error) {
	var t task.Task
	var rawID, status string
	var deliveredAt sql.NullTime

	err := row.Scan(&rawID, &t.Handler, &t.Payload, &t.RunAt, &status,
		&t.Attempts, &deliveredAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if t.ID, err = id.ParseTaskID(rawID); err != nil {
		return nil, err
	}
	t.Status = task.Status(status)
	t.DeliveredAt = timePtr(deliveredAt)
	return &t, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func marshalMeta(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	return json.Marshal(m)
}
