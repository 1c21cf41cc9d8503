package task

import (
	"context"
	"time"

	"github.com/malipo/dunning/id"
)

type Store interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, taskID id.TaskID) (*Task, error)

	// Due returns pending tasks whose RunAt is at or before now, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]*Task, error)
	MarkDelivered(ctx context.Context, taskID id.TaskID, deliveredAt time.Time) error

	// Reschedule pushes a pending task's RunAt forward and bumps its attempt
	// counter. Used after a handler failure.
	Reschedule(ctx context.Context, taskID id.TaskID, runAt time.Time) error
	PurgeDelivered(ctx context.Context, before time.Time) (int64, error)
}
