package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/malipo/dunning/store/memory"
	"github.com/malipo/dunning/task"
	"github.com/malipo/dunning/types"

	dunningid "github.com/malipo/dunning/id"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestRunner(opts ...RunnerOption) (*Runner, *memory.Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)}
	st := memory.New()
	opts = append([]RunnerOption{WithNowFunc(clock.Now)}, opts...)
	return NewRunner(st, opts...), st, clock
}

func TestScheduleAndDeliver(t *testing.T) {
	ctx := context.Background()
	r, st, clock := newTestRunner()

	var calls int
	var gotPayload []byte
	r.Register("test.handler", func(_ context.Context, payload []byte) error {
		calls++
		gotPayload = payload
		return nil
	})

	taskID, err := r.Schedule(ctx, time.Hour, "test.handler", []byte(`{"n":1}`))
	if err != nil {
		t.Fatal(err)
	}

	// Not yet due.
	r.DeliverDue(ctx)
	if calls != 0 {
		t.Fatalf("handler called before due")
	}

	clock.Advance(time.Hour)
	r.DeliverDue(ctx)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if string(gotPayload) != `{"n":1}` {
		t.Errorf("payload = %s", gotPayload)
	}

	stored, err := st.GetTask(ctx, taskID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != task.StatusDelivered {
		t.Errorf("status = %s, want delivered", stored.Status)
	}
	if stored.DeliveredAt == nil {
		t.Error("DeliveredAt not set")
	}

	// A delivered task is never redelivered.
	r.DeliverDue(ctx)
	if calls != 1 {
		t.Errorf("calls = %d after second pass, want 1", calls)
	}
}

func TestHandlerErrorLeavesTaskPendingWithBackoff(t *testing.T) {
	ctx := context.Background()
	r, st, clock := newTestRunner(WithRetryBackoff(5 * time.Minute))

	var calls int
	r.Register("flaky", func(context.Context, []byte) error {
		calls++
		if calls == 1 {
			return errors.New("charge gateway timeout")
		}
		return nil
	})

	taskID, err := r.Schedule(ctx, 0, "flaky", nil)
	if err != nil {
		t.Fatal(err)
	}

	r.DeliverDue(ctx)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	stored, err := st.GetTask(ctx, taskID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != task.StatusPending {
		t.Fatalf("status = %s, want pending after failure", stored.Status)
	}
	if stored.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", stored.Attempts)
	}

	// Still backed off.
	clock.Advance(time.Minute)
	r.DeliverDue(ctx)
	if calls != 1 {
		t.Fatalf("redelivered before backoff elapsed")
	}

	clock.Advance(5 * time.Minute)
	r.DeliverDue(ctx)
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}

	stored, err = st.GetTask(ctx, taskID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != task.StatusDelivered {
		t.Errorf("status = %s, want delivered", stored.Status)
	}
}

func TestUnknownHandlerKeepsTaskPending(t *testing.T) {
	ctx := context.Background()
	r, st, _ := newTestRunner()

	taskID, err := r.Schedule(ctx, 0, "not.registered", nil)
	if err != nil {
		t.Fatal(err)
	}

	r.DeliverDue(ctx)

	stored, err := st.GetTask(ctx, taskID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != task.StatusPending {
		t.Errorf("status = %s, want pending", stored.Status)
	}
	if stored.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", stored.Attempts)
	}
}

func TestDeliverDueRespectsBatchSize(t *testing.T) {
	ctx := context.Background()
	r, _, clock := newTestRunner(WithBatchSize(2))

	var calls int
	r.Register("counter", func(context.Context, []byte) error {
		calls++
		return nil
	})

	for i := 0; i < 5; i++ {
		if _, err := r.Schedule(ctx, 0, "counter", nil); err != nil {
			t.Fatal(err)
		}
	}

	clock.Advance(time.Second)
	r.DeliverDue(ctx)
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (batch limit)", calls)
	}
	r.DeliverDue(ctx)
	r.DeliverDue(ctx)
	if calls != 5 {
		t.Fatalf("calls = %d, want 5", calls)
	}
}

func TestPurgeDelivered(t *testing.T) {
	ctx := context.Background()
	r, st, clock := newTestRunner(WithRetention(24 * time.Hour))

	old := clock.Now().Add(-48 * time.Hour)
	recent := clock.Now().Add(-time.Hour)

	for _, deliveredAt := range []time.Time{old, recent} {
		at := deliveredAt
		tk := &task.Task{
			Entity:  types.NewEntity(),
			ID:      dunningid.NewTaskID(),
			Handler: "done",
			RunAt:   at,
			Status:  task.StatusDelivered,
		}
		tk.DeliveredAt = &at
		if err := st.CreateTask(ctx, tk); err != nil {
			t.Fatal(err)
		}
	}

	r.purgeDelivered(ctx)

	// Only the task inside the retention window survives.
	remaining, err := st.PurgeDeliveredTasks(ctx, clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 1 {
		t.Errorf("tasks left for full purge = %d, want 1", remaining)
	}
}

func TestRunnerStartStop(t *testing.T) {
	r, _, _ := newTestRunner(WithPollInterval(10 * time.Millisecond))

	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Idempotent start.
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	time.Sleep(30 * time.Millisecond)
	r.Stop()
	r.Stop() // idempotent stop
}
