// Package postgres implements the store on PostgreSQL through the pgx
// stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/malipo/dunning"
	"github.com/malipo/dunning/attempt"
	"github.com/malipo/dunning/customer"
	"github.com/malipo/dunning/id"
	"github.com/malipo/dunning/invoice"
	dunningstore "github.com/malipo/dunning/store"
	"github.com/malipo/dunning/subscription"
	"github.com/malipo/dunning/task"
)

// compile-time interface check
var _ dunningstore.Store = (*Store)(nil)

// queryer abstracts *sql.DB and *sql.Tx so every method runs against
// whichever scope it was called in.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements store.Store using PostgreSQL.
type Store struct {
	db   *sql.DB
	q    queryer
	inTx bool
}

// New opens a Postgres store with the given DSN.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("dunning/postgres: open: %w", err)
	}
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
			return fmt.Errorf("dunning/postgres: migration failed: %w", err)
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

const customerCols = `id, tenant_id, name, email, phone_number, failed_payment_count, metadata, created_at, updated_at`

func (s *Store) CreateCustomer(ctx context.Context, c *customer.Customer) error {
	meta, err := marshalMeta(c.Metadata)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO dunning_customers (`+customerCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID.String(), c.TenantID, c.Name, c.Email, c.PhoneNumber,
		c.FailedPaymentCount, meta, c.CreatedAt, c.UpdatedAt,
	)
	if isUnique(err, "") {
		return dunning.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetCustomer(ctx context.Context, custID id.CustomerID) (*customer.Customer, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+customerCols+` FROM dunning_customers WHERE id = $1`, custID.String())

	c, err := scanCustomer(row)
	if isNoRows(err) {
		return nil, dunning.ErrCustomerNotFound
	}
	return c, err
}

func (s *Store) UpdateCustomer(ctx context.Context, c *customer.Customer) error {
	meta, err := marshalMeta(c.Metadata)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE dunning_customers
		SET tenant_id = $1, name = $2, email = $3, phone_number = $4,
		    failed_payment_count = $5, metadata = $6, updated_at = $7
		WHERE id = $8`,
		c.TenantID, c.Name, c.Email, c.PhoneNumber,
		c.FailedPaymentCount, meta, c.UpdatedAt,
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
	meta, err := marshalMeta(sub.Metadata)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO dunning_subscriptions (`+subscriptionCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		sub.ID.String(), sub.TenantID, sub.CustomerID.String(), sub.PlanName,
		sub.ReferenceNumber, string(sub.Status),
		sub.Amount.Amount, sub.Amount.Currency,
		sub.OutstandingAmount.Amount, sub.OutstandingAmount.Currency,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, nullTime(sub.LastPaymentAttempt),
		nullTime(sub.SuspendedAt), nullTime(sub.CancelledAt), sub.CancelReason, meta,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if isUnique(err, "idx_dunning_subs_reference") {
		return dunning.ErrDuplicateReference
	}
	if isUnique(err, "") {
		return dunning.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+subscriptionCols+` FROM dunning_subscriptions WHERE id = $1`, subID.String())

	sub, err := scanSubscription(row)
	if isNoRows(err) {
		return nil, dunning.ErrSubscriptionNotFound
	}
	return sub, err
}

func (s *Store) GetSubscriptionByReference(ctx context.Context, reference string) (*subscription.Subscription, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+subscriptionCols+` FROM dunning_subscriptions WHERE reference_number = $1`, reference)

	sub, err := scanSubscription(row)
	if isNoRows(err) {
		return nil, dunning.ErrSubscriptionNotFound
	}
	return sub, err
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	meta, err := marshalMeta(sub.Metadata)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE dunning_subscriptions
		SET tenant_id = $1, customer_id = $2, plan_name = $3, status = $4,
		    amount_cents = $5, amount_currency = $6,
		    outstanding_amount_cents = $7, outstanding_currency = $8,
		    current_period_start = $9, current_period_end = $10,
		    last_payment_attempt = $11, suspended_at = $12, cancelled_at = $13,
		    cancel_reason = $14, metadata = $15, updated_at = $16
		WHERE id = $17`,
		sub.TenantID, sub.CustomerID.String(), sub.PlanName, string(sub.Status),
		sub.Amount.Amount, sub.Amount.Currency,
		sub.OutstandingAmount.Amount, sub.OutstandingAmount.Currency,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		nullTime(sub.LastPaymentAttempt), nullTime(sub.SuspendedAt), nullTime(sub.CancelledAt),
		sub.CancelReason, meta, sub.UpdatedAt,
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
		SET status = $1, cancelled_at = $2, cancel_reason = $3, updated_at = now()
		WHERE id = $4`,
		string(subscription.StatusCancelled), cancelledAt, reason, subID.String(),
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.ID.String(), a.TenantID, a.SubscriptionID.String(), a.CustomerID.String(),
		a.Amount.Amount, a.Amount.Currency,
		a.InvoiceNumber, a.PaymentMethod, string(a.Status), a.AttemptNumber,
		a.AttemptedAt, a.NextRetryAt, a.CreatedAt, a.UpdatedAt,
	)
	if isUnique(err, "") {
		return dunning.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetAttempt(ctx context.Context, attID id.AttemptID) (*attempt.Attempt, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+attemptCols+` FROM dunning_attempts WHERE id = $1`, attID.String())

	a, err := scanAttempt(row)
	if isNoRows(err) {
		return nil, dunning.ErrAttemptNotFound
	}
	return a, err
}

func (s *Store) ListAttempts(ctx context.Context, subID id.SubscriptionID, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	query := `SELECT ` + attemptCols + ` FROM dunning_attempts WHERE subscription_id = $1`
	args := []any{subID.String()}

	if opts.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, len(args)+1)
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
		UPDATE dunning_attempts SET status = $1, updated_at = now() WHERE id = $2`,
		string(status), attID.String(),
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		inv.ID.String(), inv.TenantID, inv.SubscriptionID.String(), inv.CustomerID.String(),
		inv.Number, string(inv.Status),
		inv.Amount.Amount, inv.Amount.Currency, items,
		inv.IssueDate, inv.DueDate, nullTime(inv.PaidAt), inv.PaymentRef,
		inv.CreatedAt, inv.UpdatedAt,
	)
	if isUnique(err, "idx_dunning_invoices_number") {
		return dunning.ErrDuplicateInvoiceNumber
	}
	if isUnique(err, "") {
		return dunning.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+invoiceCols+` FROM dunning_invoices WHERE id = $1`, invID.String())

	inv, err := scanInvoice(row)
	if isNoRows(err) {
		return nil, dunning.ErrInvoiceNotFound
	}
	return inv, err
}

func (s *Store) GetInvoiceByNumber(ctx context.Context, number string) (*invoice.Invoice, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+invoiceCols+` FROM dunning_invoices WHERE number = $1`, number)

	inv, err := scanInvoice(row)
	if isNoRows(err) {
		return nil, dunning.ErrInvoiceNotFound
	}
	return inv, err
}

func (s *Store) ListInvoices(ctx context.Context, subID id.SubscriptionID, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	query := `SELECT ` + invoiceCols + ` FROM dunning_invoices WHERE subscription_id = $1`
	args := []any{subID.String()}

	if opts.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, len(args)+1)
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
		SET status = $1, paid_at = $2, payment_ref = $3, updated_at = now()
		WHERE id = $4 AND status != $1`,
		string(invoice.StatusPaid), paidAt, paymentRef, invID.String(),
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
			`SELECT status FROM dunning_invoices WHERE id = $1`, invID.String(),
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
		INSERT INTO dunning_invoice_sequences (month, seq) VALUES ($1, 1)
		ON CONFLICT (month) DO UPDATE SET seq = dunning_invoice_sequences.seq + 1
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID.String(), t.Handler, t.Payload,
		t.RunAt, string(t.Status), t.Attempts, nullTime(t.DeliveredAt),
		t.CreatedAt, t.UpdatedAt,
	)
	if isUnique(err, "") {
		return dunning.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+taskCols+` FROM dunning_tasks WHERE id = $1`, taskID.String())

	t, err := scanTask(row)
	if isNoRows(err) {
		return nil, dunning.ErrTaskNotFound
	}
	return t, err
}

func (s *Store) DueTasks(ctx context.Context, now time.Time, limit int) ([]*task.Task, error) {
	query := `SELECT ` + taskCols + ` FROM dunning_tasks
		WHERE status = $1 AND run_at <= $2
		ORDER BY run_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.q.QueryContext(ctx, query, string(task.StatusPending), now)
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
		UPDATE dunning_tasks SET status = $1, delivered_at = $2, updated_at = now() WHERE id = $3`,
		string(task.StatusDelivered), deliveredAt, taskID.String(),
	)
	if err != nil {
		return err
	}
	return requireRow(res, dunning.ErrTaskNotFound)
}

func (s *Store) RescheduleTask(ctx context.Context, taskID id.TaskID, runAt time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE dunning_tasks SET run_at = $1, attempts = attempts + 1, updated_at = now() WHERE id = $2`,
		runAt, taskID.String(),
	)
	if err != nil {
		return err
	}
	return requireRow(res, dunning.ErrTaskNotFound)
}

func (s *Store) PurgeDeliveredTasks(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM dunning_tasks WHERE status = $1 AND delivered_at < $2`,
		string(task.StatusDelivered), before,
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

// ==================== Helpers ====================

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

// isUnique reports whether err is a unique violation, optionally on a
// specific constraint. An empty constraint matches any unique violation.
func isUnique(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || strings.Contains(pgErr.ConstraintName, constraint)
}
