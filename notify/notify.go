// Package notify defines the outbound notification contract and a
// fire-and-forget dispatcher that decouples delivery from billing
// transactions.
package notify

import (
	"context"

	"github.com/malipo/dunning/customer"
)

// Template identifies a notification template rendered by the provider.
type Template string

// Templates emitted by the dunning engine and invoice generator.
const (
	TemplatePaymentFailedRetry1       Template = "payment_failed_retry_1"
	TemplatePaymentFailedRetry2       Template = "payment_failed_retry_2"
	TemplatePaymentFailedFinalWarning Template = "payment_failed_final_warning"
	TemplateSubscriptionSuspended     Template = "subscription_suspended"
	TemplateInvoiceIssued             Template = "invoice_issued"
	TemplateInvoiceUpcoming           Template = "invoice_upcoming"
)

// Kind selects which Notifier method delivers a queued notification.
type Kind string

const (
	KindTemplated Kind = "templated"
	KindSMS       Kind = "sms"
	KindEmail     Kind = "email"
)

// Notification is one queued outbound message.
type Notification struct {
	Kind     Kind
	Customer *customer.Customer // templated
	Template Template           // templated, email
	Context  map[string]string  // templated, email

	Phone string // sms
	Body  string // sms

	Address string // email
	Subject string // email
}

// Notifier sends notifications through a provider (mail gateway, SMS
// aggregator). All sends are best-effort: the engine never consumes the
// result beyond logging it.
type Notifier interface {
	SendTemplated(ctx context.Context, cust *customer.Customer, tmpl Template, data map[string]string) error
	SendSMS(ctx context.Context, phone, body string) error
	SendEmail(ctx context.Context, address, subject string, tmpl Template, data map[string]string) error
}

// NopNotifier discards all notifications. It is the default when no provider
// is configured.
type NopNotifier struct{}

func (NopNotifier) SendTemplated(context.Context, *customer.Customer, Template, map[string]string) error {
	return nil
}
func (NopNotifier) SendSMS(context.Context, string, string) error { return nil }
func (NopNotifier) SendEmail(context.Context, string, string, Template, map[string]string) error {
	return nil
}
