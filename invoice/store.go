package invoice

import (
	"context"
	"time"

	"github.com/malipo/dunning/id"
)

type Store interface {
	Create(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, invID id.InvoiceID) (*Invoice, error)
	GetByNumber(ctx context.Context, number string) (*Invoice, error)
	List(ctx context.Context, subID id.SubscriptionID, opts ListOpts) ([]*Invoice, error)
	MarkPaid(ctx context.Context, invID id.InvoiceID, paidAt time.Time, paymentRef string) error

	// NextSequence atomically allocates the next invoice sequence number for
	// the given month ("YYYYMM"). The first call in a month returns 1.
	NextSequence(ctx context.Context, month string) (int64, error)
}

type ListOpts struct {
	Status Status
	Limit  int
}
