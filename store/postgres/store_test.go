package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/malipo/dunning"
	"github.com/malipo/dunning/id"
	"github.com/malipo/dunning/invoice"
	dunningstore "github.com/malipo/dunning/store"
	"github.com/malipo/dunning/subscription"
	"github.com/malipo/dunning/types"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewWithDB(db), mock
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

func TestGetCustomer(t *testing.T) {
	s, mock := newMockStore(t)
	custID := id.NewCustomerID()
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "name", "email", "phone_number",
		"failed_payment_count", "metadata", "created_at", "updated_at",
	}).AddRow(custID.String(), "", "Achieng Odhiambo", "", "+254711222333",
		2, []byte(`{}`), now, now)

	mock.ExpectQuery("SELECT (.+) FROM dunning_customers WHERE id").
		WithArgs(custID.String()).
		WillReturnRows(rows)

	c, err := s.GetCustomer(context.Background(), custID)
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "Achieng Odhiambo" || c.FailedPaymentCount != 2 {
		t.Errorf("customer = %+v", c)
	}
}

func TestGetCustomerNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	custID := id.NewCustomerID()

	mock.ExpectQuery("SELECT (.+) FROM dunning_customers WHERE id").
		WithArgs(custID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetCustomer(context.Background(), custID)
	if !errors.Is(err, dunning.ErrCustomerNotFound) {
		t.Fatalf("err = %v, want ErrCustomerNotFound", err)
	}
}

func TestCreateSubscriptionDuplicateReference(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO dunning_subscriptions").
		WillReturnError(uniqueViolation("idx_dunning_subs_reference"))

	sub := &subscription.Subscription{
		Entity:          types.NewEntity(),
		ID:              id.NewSubscriptionID(),
		CustomerID:      id.NewCustomerID(),
		ReferenceNumber: "REF-DUP",
		Status:          subscription.StatusActive,
		Amount:          types.KES(100000),
	}
	err := s.CreateSubscription(context.Background(), sub)
	if !errors.Is(err, dunning.ErrDuplicateReference) {
		t.Fatalf("err = %v, want ErrDuplicateReference", err)
	}
}

func TestCreateInvoiceDuplicateNumber(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO dunning_invoices").
		WillReturnError(uniqueViolation("idx_dunning_invoices_number"))

	inv := &invoice.Invoice{
		Entity:         types.NewEntity(),
		ID:             id.NewInvoiceID(),
		SubscriptionID: id.NewSubscriptionID(),
		CustomerID:     id.NewCustomerID(),
		Number:         "INV-202506-00001",
		Status:         invoice.StatusSent,
		Amount:         types.KES(100000),
	}
	err := s.CreateInvoice(context.Background(), inv)
	if !errors.Is(err, dunning.ErrDuplicateInvoiceNumber) {
		t.Fatalf("err = %v, want ErrDuplicateInvoiceNumber", err)
	}
}

func TestNextInvoiceSequence(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO dunning_invoice_sequences").
		WithArgs("202506").
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(4)))

	seq, err := s.NextInvoiceSequence(context.Background(), "202506")
	if err != nil {
		t.Fatal(err)
	}
	if seq != 4 {
		t.Errorf("seq = %d, want 4", seq)
	}
}

func TestMarkInvoicePaidAlreadyPaid(t *testing.T) {
	s, mock := newMockStore(t)
	invID := id.NewInvoiceID()

	// The guarded update touches no rows, the follow-up lookup says the
	// invoice exists and is already paid.
	mock.ExpectExec("UPDATE dunning_invoices").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM dunning_invoices").
		WithArgs(invID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("paid"))

	err := s.MarkInvoicePaid(context.Background(), invID, time.Now(), "MPESA-1")
	if !errors.Is(err, dunning.ErrInvoicePaid) {
		t.Fatalf("err = %v, want ErrInvoicePaid", err)
	}
}

func TestMarkInvoicePaidNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	invID := id.NewInvoiceID()

	mock.ExpectExec("UPDATE dunning_invoices").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM dunning_invoices").
		WithArgs(invID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	err := s.MarkInvoicePaid(context.Background(), invID, time.Now(), "MPESA-1")
	if !errors.Is(err, dunning.ErrInvoiceNotFound) {
		t.Fatalf("err = %v, want ErrInvoiceNotFound", err)
	}
}

func TestCancelSubscriptionNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	subID := id.NewSubscriptionID()

	mock.ExpectExec("UPDATE dunning_subscriptions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.CancelSubscription(context.Background(), subID, time.Now(), "non_payment")
	if !errors.Is(err, dunning.ErrSubscriptionNotFound) {
		t.Fatalf("err = %v, want ErrSubscriptionNotFound", err)
	}
}

func TestMarkTaskDeliveredNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	taskID := id.NewTaskID()

	mock.ExpectExec("UPDATE dunning_tasks").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkTaskDelivered(context.Background(), taskID, time.Now())
	if !errors.Is(err, dunning.ErrTaskNotFound) {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestInTxCommitAndRollback(t *testing.T) {
	t.Run("commit", func(t *testing.T) {
		s, mock := newMockStore(t)
		custID := id.NewCustomerID()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM dunning_customers WHERE id").
			WithArgs(custID.String()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectCommit()

		err := s.InTx(context.Background(), func(tx dunningstore.Store) error {
			_, err := tx.GetCustomer(context.Background(), custID)
			if !errors.Is(err, dunning.ErrCustomerNotFound) {
				t.Errorf("in-tx err = %v", err)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("rollback on error", func(t *testing.T) {
		s, mock := newMockStore(t)
		boom := errors.New("boom")

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := s.InTx(context.Background(), func(dunningstore.Store) error { return boom })
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v, want boom", err)
		}
	})
}
