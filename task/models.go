// Package task defines the durable scheduled task record consumed by the
// retry scheduler.
package task

import (
	"time"

	"github.com/malipo/dunning/id"
	"github.com/malipo/dunning/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
)

// Task is one unit of delayed work. A task becomes due once RunAt has
// passed and stays pending until a runner marks it delivered, so delivery
// is at-least-once: a crash between handler execution and the delivered
// mark causes redelivery.
type Task struct {
	types.Entity
	ID          id.TaskID  `json:"id"`
	Handler     string     `json:"handler"`
	Payload     []byte     `json:"payload"`
	RunAt       time.Time  `json:"run_at"`
	Status      Status     `json:"status"`
	Attempts    int        `json:"attempts"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}
