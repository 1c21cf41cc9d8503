package subscription

import (
	"context"
	"time"

	"github.com/malipo/dunning/id"
)

type Store interface {
	Create(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	GetByReference(ctx context.Context, reference string) (*Subscription, error)
	Update(ctx context.Context, s *Subscription) error
	Cancel(ctx context.Context, subID id.SubscriptionID, cancelledAt time.Time, reason string) error
}
