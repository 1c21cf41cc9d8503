package customer

import (
	"context"

	"github.com/malipo/dunning/id"
)

type Store interface {
	Create(ctx context.Context, c *Customer) error
	Get(ctx context.Context, custID id.CustomerID) (*Customer, error)
	Update(ctx context.Context, c *Customer) error
}
