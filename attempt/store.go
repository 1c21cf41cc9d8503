package attempt

import (
	"context"

	"github.com/malipo/dunning/id"
)

type Store interface {
	Create(ctx context.Context, a *Attempt) error
	Get(ctx context.Context, attID id.AttemptID) (*Attempt, error)
	List(ctx context.Context, subID id.SubscriptionID, opts ListOpts) ([]*Attempt, error)
	UpdateStatus(ctx context.Context, attID id.AttemptID, status Status) error
}

type ListOpts struct {
	Status Status
	Limit  int
}
