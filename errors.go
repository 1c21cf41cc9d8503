package dunning

import "errors"

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("dunning: not found")
	ErrAlreadyExists = errors.New("dunning: already exists")
	ErrInvalidInput  = errors.New("dunning: invalid input")

	// Customer errors
	ErrCustomerNotFound = errors.New("dunning: customer not found")

	// Subscription errors
	ErrSubscriptionNotFound  = errors.New("dunning: subscription not found")
	ErrSubscriptionCancelled = errors.New("dunning: subscription is cancelled")
	ErrDuplicateReference    = errors.New("dunning: duplicate subscription reference")

	// Billing attempt errors
	ErrAttemptNotFound = errors.New("dunning: billing attempt not found")

	// Invoice errors
	ErrInvoiceNotFound        = errors.New("dunning: invoice not found")
	ErrInvoicePaid            = errors.New("dunning: invoice already paid")
	ErrDuplicateInvoiceNumber = errors.New("dunning: duplicate invoice number")

	// Task errors
	ErrTaskNotFound = errors.New("dunning: scheduled task not found")

	// Notification errors
	ErrNotifyQueueFull = errors.New("dunning: notification queue full")

	// Store errors
	ErrStoreClosed       = errors.New("dunning: store is closed")
	ErrTransactionFailed = errors.New("dunning: transaction failed")
)

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrAttemptNotFound) ||
		errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrTaskNotFound)
}

// IsRetryable returns true if the error is temporary and the operation can
// be retried by the caller. Dunning escalation steps that fail with a
// retryable error have committed nothing and may be re-invoked safely.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionFailed) ||
		errors.Is(err, ErrDuplicateInvoiceNumber) ||
		errors.Is(err, ErrNotifyQueueFull)
}
