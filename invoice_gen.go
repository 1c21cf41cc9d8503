package dunning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/malipo/dunning/id"
	"github.com/malipo/dunning/invoice"
	"github.com/malipo/dunning/notify"
	"github.com/malipo/dunning/store"
	"github.com/malipo/dunning/subscription"
	"github.com/malipo/dunning/types"
)

// invoiceSeqRetries bounds how many times invoice creation retries when two
// generators race for the same monthly sequence number.
const invoiceSeqRetries = 3

// GenerateInvoice generates an invoice for the subscription's current period.
// When payment is non-nil the invoice is created already settled; otherwise
// it is issued as sent. The invoice number is INV-<YYYYMM>-<seq> where seq is
// a zero-padded per-month counter.
func (e *Engine) GenerateInvoice(ctx context.Context, subID id.SubscriptionID, payment *invoice.Payment) (*invoice.Invoice, error) {
	return e.generateInvoice(ctx, subID, payment, notify.TemplateInvoiceIssued)
}

// GenerateUpcomingInvoice generates the invoice for the next billing period
// ahead of its charge, notifying the customer it is upcoming.
func (e *Engine) GenerateUpcomingInvoice(ctx context.Context, subID id.SubscriptionID) (*invoice.Invoice, error) {
	return e.generateInvoice(ctx, subID, nil, notify.TemplateInvoiceUpcoming)
}

func (e *Engine) generateInvoice(ctx context.Context, subID id.SubscriptionID, payment *invoice.Payment, tmpl notify.Template) (*invoice.Invoice, error) {
	now := e.nowFn()

	var inv *invoice.Invoice
	var email *notify.Notification

	// The sequence counter and the unique number constraint close the race
	// between concurrent generators: the loser's insert conflicts, rolls
	// back, and retries with a fresh sequence number.
	var err error
	for i := 0; i < invoiceSeqRetries; i++ {
		err = e.store.InTx(ctx, func(tx store.Store) error {
			var txErr error
			inv, email, txErr = e.buildInvoice(ctx, tx, subID, payment, tmpl, now)
			return txErr
		})
		if err == nil || !errors.Is(err, ErrDuplicateInvoiceNumber) {
			break
		}
		e.logger.Debug("invoice number conflict, retrying",
			"subscription_id", subID,
			"attempt", i+1,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("generate invoice for %s: %w", subID, err)
	}

	e.logger.Info("invoice generated",
		"invoice_id", inv.ID,
		"number", inv.Number,
		"status", inv.Status,
		"amount", inv.Amount,
	)

	if email != nil {
		e.dispatcher.Enqueue(*email)
	}
	e.hooks.EmitInvoiceGenerated(ctx, inv)

	return inv, nil
}

func (e *Engine) buildInvoice(ctx context.Context, tx store.Store, subID id.SubscriptionID, payment *invoice.Payment, tmpl notify.Template, now time.Time) (*invoice.Invoice, *notify.Notification, error) {
	sub, err := tx.GetSubscription(ctx, subID)
	if err != nil {
		return nil, nil, err
	}
	if sub.Status == subscription.StatusCancelled {
		return nil, nil, ErrSubscriptionCancelled
	}

	cust, err := tx.GetCustomer(ctx, sub.CustomerID)
	if err != nil {
		return nil, nil, err
	}

	month := now.Format("200601")
	seq, err := tx.NextInvoiceSequence(ctx, month)
	if err != nil {
		return nil, nil, err
	}

	inv := &invoice.Invoice{
		Entity:         types.NewEntity(),
		ID:             id.NewInvoiceID(),
		TenantID:       sub.TenantID,
		SubscriptionID: sub.ID,
		CustomerID:     cust.ID,
		Number:         fmt.Sprintf("INV-%s-%05d", month, seq),
		Status:         invoice.StatusSent,
		Amount:         sub.Amount,
		IssueDate:      now,
		DueDate:        sub.CurrentPeriodEnd,
	}

	li := invoice.LineItem{
		ID:          id.NewLineItemID(),
		InvoiceID:   inv.ID,
		Description: sub.PlanName,
		Quantity:    1,
		UnitAmount:  sub.Amount,
		Amount:      sub.Amount,
		PeriodStart: sub.CurrentPeriodStart,
		PeriodEnd:   sub.CurrentPeriodEnd,
	}
	inv.LineItems = []invoice.LineItem{li}

	if payment != nil {
		inv.Status = invoice.StatusPaid
		paidAt := payment.PaidAt
		inv.PaidAt = &paidAt
		inv.PaymentRef = payment.Reference
	}

	if err := tx.CreateInvoice(ctx, inv); err != nil {
		return nil, nil, err
	}

	var email *notify.Notification
	if cust.Email != "" {
		email = &notify.Notification{
			Kind:     notify.KindEmail,
			Address:  cust.Email,
			Subject:  fmt.Sprintf("Invoice %s", inv.Number),
			Template: tmpl,
			Context: map[string]string{
				"number":   inv.Number,
				"amount":   inv.Amount.FormatMajor(),
				"plan":     sub.PlanName,
				"due_date": inv.DueDate.Format("2006-01-02"),
			},
		}
	}

	return inv, email, nil
}
