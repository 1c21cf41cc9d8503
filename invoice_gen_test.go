package dunning_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/malipo/dunning"
	"github.com/malipo/dunning/invoice"
	"github.com/malipo/dunning/notify"
	"github.com/malipo/dunning/store"
)

func TestGenerateInvoiceSequentialNumbering(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	for i := 1; i <= 3; i++ {
		inv, err := env.eng.GenerateInvoice(ctx, env.sub.ID, nil)
		if err != nil {
			t.Fatalf("invoice %d: %v", i, err)
		}
		want := fmt.Sprintf("INV-202506-%05d", i)
		if inv.Number != want {
			t.Errorf("invoice %d: number = %q, want %q", i, inv.Number, want)
		}
	}

	// A new month restarts the sequence.
	env.clock.Advance(31 * 24 * time.Hour)
	inv, err := env.eng.GenerateInvoice(ctx, env.sub.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if inv.Number != "INV-202507-00001" {
		t.Errorf("number = %q, want INV-202507-00001", inv.Number)
	}
}

func TestGenerateInvoiceContents(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	inv, err := env.eng.GenerateInvoice(ctx, env.sub.ID, nil)
	if err != nil {
		t.Fatal(err)
	}

	if inv.Status != invoice.StatusSent {
		t.Errorf("status = %s, want sent", inv.Status)
	}
	if !inv.Amount.Equal(env.sub.Amount) {
		t.Errorf("amount = %v, want %v", inv.Amount, env.sub.Amount)
	}
	if !inv.IssueDate.Equal(env.clock.Now()) {
		t.Errorf("issue date = %v", inv.IssueDate)
	}
	if !inv.DueDate.Equal(env.sub.CurrentPeriodEnd) {
		t.Errorf("due date = %v, want period end %v", inv.DueDate, env.sub.CurrentPeriodEnd)
	}

	if len(inv.LineItems) != 1 {
		t.Fatalf("line items = %d, want 1", len(inv.LineItems))
	}
	li := inv.LineItems[0]
	if li.Description != env.sub.PlanName {
		t.Errorf("description = %q, want %q", li.Description, env.sub.PlanName)
	}
	if li.Quantity != 1 {
		t.Errorf("quantity = %d, want 1", li.Quantity)
	}
	if !li.Amount.Equal(env.sub.Amount) {
		t.Errorf("line amount = %v", li.Amount)
	}
	if !li.PeriodStart.Equal(env.sub.CurrentPeriodStart) || !li.PeriodEnd.Equal(env.sub.CurrentPeriodEnd) {
		t.Errorf("line period = %v..%v", li.PeriodStart, li.PeriodEnd)
	}

	// Persisted and retrievable by number.
	stored, err := env.store.GetInvoiceByNumber(ctx, inv.Number)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ID.String() != inv.ID.String() {
		t.Errorf("stored id = %s, want %s", stored.ID, inv.ID)
	}
}

func TestGenerateInvoiceWithPayment(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	paidAt := env.clock.Now().Add(-time.Minute)
	inv, err := env.eng.GenerateInvoice(ctx, env.sub.ID, &invoice.Payment{
		Reference: "MPESA-XK12345",
		Amount:    env.sub.Amount,
		PaidAt:    paidAt,
	})
	if err != nil {
		t.Fatal(err)
	}

	if inv.Status != invoice.StatusPaid {
		t.Errorf("status = %s, want paid", inv.Status)
	}
	if inv.PaidAt == nil || !inv.PaidAt.Equal(paidAt) {
		t.Errorf("PaidAt = %v, want %v", inv.PaidAt, paidAt)
	}
	if inv.PaymentRef != "MPESA-XK12345" {
		t.Errorf("payment ref = %q", inv.PaymentRef)
	}
}

func TestGenerateInvoiceNotifiesByEmail(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	if _, err := env.eng.GenerateInvoice(ctx, env.sub.ID, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := env.eng.GenerateUpcomingInvoice(ctx, env.sub.ID); err != nil {
		t.Fatal(err)
	}
	env.drain(t)

	env.notifier.mu.Lock()
	defer env.notifier.mu.Unlock()
	if len(env.notifier.emails) != 2 {
		t.Fatalf("emails = %d, want 2", len(env.notifier.emails))
	}
	if env.notifier.emails[0].template != notify.TemplateInvoiceIssued {
		t.Errorf("first template = %s, want invoice_issued", env.notifier.emails[0].template)
	}
	if env.notifier.emails[1].template != notify.TemplateInvoiceUpcoming {
		t.Errorf("second template = %s, want invoice_upcoming", env.notifier.emails[1].template)
	}
}

func TestGenerateInvoiceCancelledSubscription(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	if err := env.store.CancelSubscription(ctx, env.sub.ID, env.clock.Now(), "requested"); err != nil {
		t.Fatal(err)
	}

	_, err := env.eng.GenerateInvoice(ctx, env.sub.ID, nil)
	if !errors.Is(err, dunning.ErrSubscriptionCancelled) {
		t.Fatalf("err = %v, want ErrSubscriptionCancelled", err)
	}
}

// conflictStore forces invoice number conflicts for the first n creates,
// simulating a concurrent generator winning the unique number.
type conflictStore struct {
	store.Store
	state *conflictState
}

// conflictState is shared between the root store and its transactional
// children so the budget survives across retried transactions.
type conflictState struct {
	mu        sync.Mutex
	remaining int
}

func (s *conflictState) take() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remaining > 0 {
		s.remaining--
		return true
	}
	return false
}

func (c *conflictStore) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	if c.state.take() {
		return dunning.ErrDuplicateInvoiceNumber
	}
	return c.Store.CreateInvoice(ctx, inv)
}

func (c *conflictStore) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	return c.Store.InTx(ctx, func(tx store.Store) error {
		return fn(&conflictStore{Store: tx, state: c.state})
	})
}

func TestGenerateInvoiceRetriesOnNumberConflict(t *testing.T) {
	t.Run("recovers within budget", func(t *testing.T) {
		ctx := context.Background()
		base := newTestEnv(t)

		cs := &conflictStore{Store: base.store, state: &conflictState{remaining: 1}}
		eng := dunning.New(cs, dunning.Config{PaybillCode: "522533"},
			dunning.WithNowFunc(base.clock.Now),
		)
		t.Cleanup(func() { _ = eng.Stop() }) //nolint:errcheck

		inv, err := eng.GenerateInvoice(ctx, base.sub.ID, nil)
		if err != nil {
			t.Fatalf("expected retry to recover: %v", err)
		}
		// The losing transaction rolled back its sequence claim, so the
		// retry draws a fresh number from a clean counter.
		if inv.Number != "INV-202506-00001" {
			t.Errorf("number = %q, want INV-202506-00001", inv.Number)
		}
	})

	t.Run("gives up after budget", func(t *testing.T) {
		ctx := context.Background()
		base := newTestEnv(t)

		cs := &conflictStore{Store: base.store, state: &conflictState{remaining: 10}}
		eng := dunning.New(cs, dunning.Config{PaybillCode: "522533"},
			dunning.WithNowFunc(base.clock.Now),
		)
		t.Cleanup(func() { _ = eng.Stop() }) //nolint:errcheck

		_, err := eng.GenerateInvoice(ctx, base.sub.ID, nil)
		if !errors.Is(err, dunning.ErrDuplicateInvoiceNumber) {
			t.Fatalf("err = %v, want ErrDuplicateInvoiceNumber", err)
		}
	})
}

func TestMarkInvoicePaid(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	inv, err := env.eng.GenerateInvoice(ctx, env.sub.ID, nil)
	if err != nil {
		t.Fatal(err)
	}

	payment := invoice.Payment{
		Reference: "MPESA-AB999",
		Amount:    inv.Amount,
		PaidAt:    env.clock.Now(),
	}
	if err := env.eng.MarkInvoicePaid(ctx, inv.ID, payment); err != nil {
		t.Fatal(err)
	}

	stored, err := env.store.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != invoice.StatusPaid {
		t.Errorf("status = %s, want paid", stored.Status)
	}
	if stored.PaymentRef != "MPESA-AB999" {
		t.Errorf("payment ref = %q", stored.PaymentRef)
	}

	// Paying twice is rejected.
	err = env.eng.MarkInvoicePaid(ctx, inv.ID, payment)
	if !errors.Is(err, dunning.ErrInvoicePaid) {
		t.Fatalf("err = %v, want ErrInvoicePaid", err)
	}
}
