// Package sqlite implements the store on SQLite via the pure-Go
// modernc.org/sqlite driver. Suitable for single-node embedders and tests
// that want durability without a database server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/malipo/dunning"
	"github.com/malipo/dunning/attempt"
	"github.com/malipo/dunning/customer"
	"github.com/malipo/dunning/id"
	"github.com/malipo/dunning/invoice"
	dunningstore "github.com/malipo/dunning/store"
	"github.com/malipo/dunning/subscription"
	"github.com/malipo/dunning/task"
	"github.com/malipo/dunning/types"
)

// compile-time interface check
var _ dunningstore.Store = (*Store)(nil)

const timeFmt = time.RFC3339Nano

// queryer abstracts *sql.DB and *sql.Tx so every method runs against
// whichever scope it was called in.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements store.Store using SQLite.
type Store struct {
	db   *sql.DB
	q    queryer
	inTx bool
}

// New opens a SQLite store at the given path. Use ":memory:" for an
// ephemeral database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dunning/sqlite: open %s: %w", path, err)
	}
	// SQLite supports one writer; a single connection avoids SQLITE_BUSY
	// under concurrent transactions.
	db.SetMaxOpenConns(1)
	return &Store{db: db, q: db}, nil
}

// NewWithDB wraps an existing database handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// DB returns the underlying database handle for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("dunning/sqlite: migration failed: %w", err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Customer ====================

func (s *Store) CreateCustomer(ctx context.Context, c *customer.Customer) error {
	meta, err := json.Marshal(orEmptyMap(c.Metadata))
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO dunning_customers
			(id, tenant_id, name, email, phone_number, failed_payment_count, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.TenantID, c.Name, c.Email, c.PhoneNumber,
		c.FailedPaymentCount, string(meta),
		c.CreatedAt.UTC().Format(timeFmt), c.UpdatedAt.UTC().Format(timeFmt),
	)
	if isUnique(err) {
		return dunning.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetCustomer(ctx context.Context, custID id.CustomerID) (*customer.Customer, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, email, phone_number, failed_payment_count, metadata, created_at, updated_at
		FROM dunning_customers WHERE id = ?`, custID.String())

	c, err := scanCustomer(row)
	if isNoRows(err) {
		return nil, dunning.ErrCustomerNotFound
	}
	return c, err
}

func (s *Store) UpdateCustomer(ctx context.Context, c *customer.Customer) error {
	meta, err := json.Marshal(orEmptyMap(c.Metadata))
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE dunning_customers
		SET tenant_id = ?, name = ?, email = ?, phone_number = ?,
		    failed_payment_count = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		c.TenantID, c.Name, c.Email, c.PhoneNumber,
		c.FailedPaymentCount, string(meta), c.UpdatedAt.UTC().Format(timeFmt),
		c.ID.String(),
	)
	if err != nil {
		return err
	}
	return requireRow(res, dunning.ErrCustomerNotFound)
}

// ==================== Subscription ====================

const subscriptionCols = `id, tenant_id, customer_id, plan_name, reference_number, status,
	amount_cents, amount_currency, outstanding_amount_cents, outstanding_currency,
	current_period_start, current_period_end, last_payment_attempt,
	suspended_at, cancelled_at, cancel_reason, metadata, created_at, updated_at`

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	meta, err := json.Marshal(orEmptyMap(sub.Metadata))
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO dunning_subscriptions (`+subscriptionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID.String(), sub.TenantID, sub.CustomerID.String(), sub.PlanName,
		sub.ReferenceNumber, string(sub.Status),
		sub.Amount.Amount, sub.Amount.Currency,
		sub.OutstandingAmount.Amount, sub.OutstandingAmount.Currency,
		sub.CurrentPeriodStart.UTC().Format(timeFmt), sub.CurrentPeriodEnd.UTC().Format(timeFmt),
		fmtTimePtr(sub.LastPaymentAttempt), fmtTimePtr(sub.SuspendedAt), fmtTimePtr(sub.CancelledAt),
		sub.CancelReason, string(meta),
		sub.CreatedAt.UTC().Format(timeFmt), sub.UpdatedAt.UTC().Format(timeFmt),
	)
	if isUnique(err) {
		if strings.Contains(err.Error(), "reference") {
			return dunning.ErrDuplicateReference
		}
		return dunning.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+subscriptionCols+` FROM dunning_subscriptions WHERE id = ?`, subID.String())

	sub, err := scanSubscription(row)
	if isNoRows(err) {
		return nil, dunning.ErrSubscriptionNotFound
	}
	return sub, err
}

func (s *Store) GetSubscriptionByReference(ctx context.Context, reference string) (*subscription.Subscription, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+subscriptionCols+` FROM dunning_subscriptions WHERE reference_number = ?`, reference)

	sub, err := scanSubscription(row)
	if isNoRows(err) {
		return nil, dunning.ErrSubscriptionNotFound
	}
	return sub, err
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	meta, err := json.Marshal(orEmptyMap(sub.Metadata))
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE dunning_subscriptions
		SET tenant_id = ?, customer_id = ?, plan_name = ?, status = ?,
		    amount_cents = ?, amount_currency = ?,
		    outstanding_amount_cents = ?, outstanding_currency = ?,
		    current_period_start = ?, current_period_end = ?,
		    last_payment_attempt = ?, suspended_at = ?, cancelled_at = ?,
		    cancel_reason = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		sub.TenantID, sub.CustomerID.String(), sub.PlanName, string(sub.Status),
		sub.Amount.Amount, sub.Amount.Currency,
		sub.OutstandingAmount.Amount, sub.OutstandingAmount.Currency,
		sub.CurrentPeriodStart.UTC().Format(timeFmt), sub.CurrentPeriodEnd.UTC().Format(timeFmt),
		fmtTimePtr(sub.LastPaymentAttempt), fmtTimePtr(sub.SuspendedAt), fmtTimePtr(sub.CancelledAt),
		sub.CancelReason, string(meta), sub.UpdatedAt.UTC().Format(timeFmt),
		sub.ID.String(),
	)
	if err != nil {
		return err
	}
	return requireRow(res, dunning.ErrSubscriptionNotFound)
}

func (s *Store) CancelSubscription(ctx context.Context, subID id.SubscriptionID, cancelledAt time.Time, reason string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE dunning_subscriptions
		SET status = ?, cancelled_at = ?, cancel_reason = ?, updated_at = ?
		WHERE id = ?`,
		string(subscription.StatusCancelled),
		cancelledAt.UTC().Format(timeFmt), reason,
		time.Now().UTC().Format(timeFmt),
		subID.String(),
	)
	if err != nil {
		return err
	}
	return requireRow(res, dunning.ErrSubscriptionNotFound)
}

// ==================== Billing attempt ====================

const attemptCols = `id, tenant_id, subscription_id, customer_id, amount_cents, amount_currency,
	invoice_number, payment_method, status, attempt_number, attempted_at, next_retry_at,
	created_at, updated_at`

func (s *Store) CreateAttempt(ctx context.Context, a *attempt.Attempt) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO dunning_attempts (`+attemptCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.TenantID, a.SubscriptionID.String(), a.CustomerID.String(),
		a.Amount.Amount, a.Amount.Currency,
		a.InvoiceNumber, a.PaymentMethod, string(a.Status), a.AttemptNumber,
		a.AttemptedAt.UTC().Format(timeFmt), a.NextRetryAt.UTC().Format(timeFmt),
		a.CreatedAt.UTC().Format(timeFmt), a.UpdatedAt.UTC().Format(timeFmt),
	)
	if isUnique(err) {
		return dunning.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetAttempt(ctx context.Context, attID id.AttemptID) (*attempt.Attempt, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+attemptCols+` FROM dunning_attempts WHERE id = ?`, attID.String())

	a, err := scanAttempt(row)
	if isNoRows(err) {
		return nil, dunning.ErrAttemptNotFound
	}
	return a, err
}

func (s *Store) ListAttempts(ctx context.Context, subID id.SubscriptionID, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	query := `SELECT ` + attemptCols + ` FROM dunning_attempts WHERE subscription_id = ?`
	args := []any{subID.String()}

	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY attempt_number DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*attempt.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *Store) UpdateAttemptStatus(ctx context.Context, attID id.AttemptID, status attempt.Status) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE dunning_attempts SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(timeFmt), attID.String(),
	)
	if err != nil {
		return err
	}
	return requireRow(res, dunning.ErrAttemptNotFound)
}

// ==================== Invoice ====================

const invoiceCols = `id, tenant_id, subscription_id, customer_id, number, status,
	amount_cents, amount_currency, line_items, issue_date, due_date, paid_at, payment_ref,
	created_at, updated_at`

func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	items, err := json.Marshal(inv.LineItems)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO dunning_invoices (`+invoiceCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID.String(), inv.TenantID, inv.SubscriptionID.String(), inv.CustomerID.String(),
		inv.Number, string(inv.Status),
		inv.Amount.Amount, inv.Amount.Currency, string(items),
		inv.IssueDate.UTC().Format(timeFmt), inv.DueDate.UTC().Format(timeFmt),
		fmtTimePtr(inv.PaidAt), inv.PaymentRef,
		inv.CreatedAt.UTC().Format(timeFmt), inv.UpdatedAt.UTC().Format(timeFmt),
	)
	if isUnique(err) {
		if strings.Contains(err.Error(), "number") {
			return dunning.ErrDuplicateInvoiceNumber
		}
		return dunning.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+invoiceCols+` FROM dunning_invoices WHERE id = ?`, invID.String())

	inv, err := scanInvoice(row)
	if isNoRows(err) {
		return nil, dunning.ErrInvoiceNotFound
	}
	return inv, err
}

func (s *Store) GetInvoiceByNumber(ctx context.Context, number string) (*invoice.Invoice, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+invoiceCols+` FROM dunning_invoices WHERE number = ?`, number)

	inv, err := scanInvoice(row)
	if isNoRows(err) {
		return nil, dunning.ErrInvoiceNotFound
	}
	return inv, err
}

func (s *Store) ListInvoices(ctx context.Context, subID id.SubscriptionID, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	query := `SELECT ` + invoiceCols + ` FROM dunning_invoices WHERE subscription_id = ?`
	args := []any{subID.String()}

	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY number ASC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*invoice.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	return result, rows.Err()
}

func (s *Store) MarkInvoicePaid(ctx context.Context, invID id.InvoiceID, paidAt time.Time, paymentRef string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE dunning_invoices
		SET status = ?, paid_at = ?, payment_ref = ?, updated_at = ?
		WHERE id = ? AND status != ?`,
		string(invoice.StatusPaid), paidAt.UTC().Format(timeFmt), paymentRef,
		time.Now().UTC().Format(timeFmt),
		invID.String(), string(invoice.StatusPaid),
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish missing from already paid.
		var status string
		err := s.q.QueryRowContext(ctx,
			`SELECT status FROM dunning_invoices WHERE id = ?`, invID.String(),
		).Scan(&status)
		if isNoRows(err) {
			return dunning.ErrInvoiceNotFound
		}
		if err != nil {
			return err
		}
		return dunning.ErrInvoicePaid
	}
	return nil
}

func (s *Store) NextInvoiceSequence(ctx context.Context, month string) (int64, error) {
	var seq int64
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO dunning_invoice_sequences (month, seq) VALUES (?, 1)
		ON CONFLICT(month) DO UPDATE SET seq = seq + 1
		RETURNING seq`, month,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// ==================== Scheduled task ====================

const taskCols = `id, handler, payload, run_at, status, attempts, delivered_at, created_at, updated_at`

func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO dunning_tasks (`+taskCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.Handler, string(t.Payload),
		t.RunAt.UTC().Format(timeFmt), string(t.Status), t.Attempts,
		fmtTimePtr(t.DeliveredAt),
		t.CreatedAt.UTC().Format(timeFmt), t.UpdatedAt.UTC().Format(timeFmt),
	)
	if isUnique(err) {
		return dunning.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+taskCols+` FROM dunning_tasks WHERE id = ?`, taskID.String())

	t, err := scanTask(row)
	if isNoRows(err) {
		return nil, dunning.ErrTaskNotFound
	}
	return t, err
}

func (s *Store) DueTasks(ctx context.Context, now time.Time, limit int) ([]*task.Task, error) {
	query := `SELECT ` + taskCols + ` FROM dunning_tasks
		WHERE status = ? AND run_at <= ?
		ORDER BY run_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.q.QueryContext(ctx, query, string(task.StatusPending), now.UTC().Format(timeFmt))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) MarkTaskDelivered(ctx context.Context, taskID id.TaskID, deliveredAt time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE dunning_tasks SET status = ?, delivered_at = ?, updated_at = ? WHERE id = ?`,
		string(task.StatusDelivered), deliveredAt.UTC().Format(timeFmt),
		time.Now().UTC().Format(timeFmt), taskID.String(),
	)
	if err != nil {
		return err
	}
	return requireRow(res, dunning.ErrTaskNotFound)
}

func (s *Store) RescheduleTask(ctx context.Context, taskID id.TaskID, runAt time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE dunning_tasks SET run_at = ?, attempts = attempts + 1, updated_at = ? WHERE id = ?`,
		runAt.UTC().Format(timeFmt), time.Now().UTC().Format(timeFmt), taskID.String(),
	)
	if err != nil {
		return err
	}
	return requireRow(res, dunning.ErrTaskNotFound)
}

func (s *Store) PurgeDeliveredTasks(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM dunning_tasks WHERE status = ? AND delivered_at < ?`,
		string(task.StatusDelivered), before.UTC().Format(timeFmt),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ==================== Transaction ====================

// InTx runs fn inside a database transaction. A nested call joins the
// enclosing transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx dunningstore.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", dunning.ErrTransactionFailed, err)
	}

	child := &Store{db: s.db, q: tx, inTx: true}
	if err := fn(child); err != nil {
		_ = tx.Rollback() //nolint:errcheck // original error takes precedence
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", dunning.ErrTransactionFailed, err)
	}
	return nil
}

// ==================== Row scanning ====================

type scanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row scanner) (*customer.Customer, error) {
	var c customer.Customer
	var rawID, meta, createdAt, updatedAt string

	err := row.Scan(&rawID, &c.TenantID, &c.Name, &c.Email, &c.PhoneNumber,
		&c.FailedPaymentCount, &meta, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if c.ID, err = id.ParseCustomerID(rawID); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return nil, err
	}
	if c.Entity, err = parseEntity(createdAt, updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanSubscription(row scanner) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	var rawID, rawCustID, status, meta, createdAt, updatedAt string
	var periodStart, periodEnd string
	var lastAttempt, suspendedAt, cancelledAt sql.NullString
	var amountCents, outstandingCents int64
	var amountCur, outstandingCur string

	err := row.Scan(&rawID, &sub.TenantID, &rawCustID, &sub.PlanName,
		&sub.ReferenceNumber, &status,
		&amountCents, &amountCur, &outstandingCents, &outstandingCur,
		&periodStart, &periodEnd, &lastAttempt,
		&suspendedAt, &cancelledAt, &sub.CancelReason, &meta, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if sub.ID, err = id.ParseSubscriptionID(rawID); err != nil {
		return nil, err
	}
	if sub.CustomerID, err = id.ParseCustomerID(rawCustID); err != nil {
		return nil, err
	}
	sub.Status = subscription.Status(status)
	sub.Amount = types.Money{Amount: amountCents, Currency: amountCur}
	sub.OutstandingAmount = types.Money{Amount: outstandingCents, Currency: outstandingCur}

	if sub.CurrentPeriodStart, err = parseTime(periodStart); err != nil {
		return nil, err
	}
	if sub.CurrentPeriodEnd, err = parseTime(periodEnd); err != nil {
		return nil, err
	}
	if sub.LastPaymentAttempt, err = parseTimePtr(lastAttempt); err != nil {
		return nil, err
	}
	if sub.SuspendedAt, err = parseTimePtr(suspendedAt); err != nil {
		return nil, err
	}
	if sub.CancelledAt, err = parseTimePtr(cancelledAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &sub.Metadata); err != nil {
		return nil, err
	}
	if sub.Entity, err = parseEntity(createdAt, updatedAt); err != nil {
		return nil, err
	}
	return &sub, nil
}

func scanAttempt(row scanner) (*attempt.Attempt, error) {
	var a attempt.Attempt
	var rawID, rawSubID, rawCustID, status, attemptedAt, nextRetryAt, createdAt, updatedAt string
	var amountCents int64
	var amountCur string

	err := row.Scan(&rawID, &a.TenantID, &rawSubID, &rawCustID,
		&amountCents, &amountCur,
		&a.InvoiceNumber, &a.PaymentMethod, &status, &a.AttemptNumber,
		&attemptedAt, &nextRetryAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if a.ID, err = id.ParseAttemptID(rawID); err != nil {
		return nil, err
	}
	if a.SubscriptionID, err = id.ParseSubscriptionID(rawSubID); err != nil {
		return nil, err
	}
	if a.CustomerID, err = id.ParseCustomerID(rawCustID); err != nil {
		return nil, err
	}
	a.Status = attempt.Status(status)
	a.Amount = types.Money{Amount: amountCents, Currency: amountCur}

	if a.AttemptedAt, err = parseTime(attemptedAt); err != nil {
		return nil, err
	}
	if a.NextRetryAt, err = parseTime(nextRetryAt); err != nil {
		return nil, err
	}
	if a.Entity, err = parseEntity(createdAt, updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanInvoice(row scanner) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	var rawID, rawSubID, rawCustID, status, items, issueDate, dueDate, createdAt, updatedAt string
	var paidAt sql.NullString
	var amountCents int64
	var amountCur string

	err := row.Scan(&rawID, &inv.TenantID, &rawSubID, &rawCustID,
		&inv.Number, &status, &amountCents, &amountCur, &items,
		&issueDate, &dueDate, &paidAt, &inv.PaymentRef, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if inv.ID, err = id.ParseInvoiceID(rawID); err != nil {
		return nil, err
	}
	if inv.SubscriptionID, err = id.ParseSubscriptionID(rawSubID); err != nil {
		return nil, err
	}
	if inv.CustomerID, err = id.ParseCustomerID(rawCustID); err != nil {
		return nil, err
	}
	inv.Status = invoice.Status(status)
	inv.Amount = types.Money{Amount: amountCents, Currency: amountCur}

	if err := json.Unmarshal([]byte(items), &inv.LineItems); err != nil {
		return nil, err
	}
	if inv.IssueDate, err = parseTime(issueDate); err != nil {
		return nil, err
	}
	if inv.DueDate, err = parseTime(dueDate); err != nil {
		return nil, err
	}
	if inv.PaidAt, err = parseTimePtr(paidAt); err != nil {
		return nil, err
	}
	if inv.Entity, err = parseEntity(createdAt, updatedAt); err != nil {
		return nil, err
	}
	return &inv, nil
}

func scanTask(row scanner) (*task.Task, error) {
	var t task.Task
	var rawID, payload, runAt, status, createdAt, updatedAt string
	var deliveredAt sql.NullString

	err := row.Scan(&rawID, &t.Handler, &payload, &runAt, &status,
		&t.Attempts, &deliveredAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if t.ID, err = id.ParseTaskID(rawID); err != nil {
		return nil, err
	}
	t.Payload = []byte(payload)
	t.Status = task.Status(status)

	if t.RunAt, err = parseTime(runAt); err != nil {
		return nil, err
	}
	if t.DeliveredAt, err = parseTimePtr(deliveredAt); err != nil {
		return nil, err
	}
	if t.Entity, err = parseEntity(createdAt, updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// ==================== Helpers ====================

func parseEntity(createdAt, updatedAt string) (types.Entity, error) {
	var e types.Entity
	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return e, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return e, err
	}
	return e, nil
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFmt, s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeFmt)
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func requireRow(res sql.Result, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUnique reports whether err is a SQLite unique constraint violation.
func isUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
