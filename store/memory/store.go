// Package memory provides an in-memory Store implementation. Transactions
// are implemented by staging mutations on a snapshot of the dataset and
// swapping it in on commit, so a failed transaction leaves no partial state.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/malipo/dunning"
	"github.com/malipo/dunning/attempt"
	"github.com/malipo/dunning/customer"
	"github.com/malipo/dunning/id"
	"github.com/malipo/dunning/invoice"
	"github.com/malipo/dunning/store"
	"github.com/malipo/dunning/subscription"
	"github.com/malipo/dunning/task"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

type dataset struct {
	customers     map[string]customer.Customer
	subscriptions map[string]subscription.Subscription
	attempts      map[string]attempt.Attempt
	invoices      map[string]invoice.Invoice
	invoiceSeqs   map[string]int64
	tasks         map[string]task.Task
}

func newDataset() *dataset {
	return &dataset{
		customers:     make(map[string]customer.Customer),
		subscriptions: make(map[string]subscription.Subscription),
		attempts:      make(map[string]attempt.Attempt),
		invoices:      make(map[string]invoice.Invoice),
		invoiceSeqs:   make(map[string]int64),
		tasks:         make(map[string]task.Task),
	}
}

func (d *dataset) clone() *dataset {
	c := &dataset{
		customers:     make(map[string]customer.Customer, len(d.customers)),
		subscriptions: make(map[string]subscription.Subscription, len(d.subscriptions)),
		attempts:      make(map[string]attempt.Attempt, len(d.attempts)),
		invoices:      make(map[string]invoice.Invoice, len(d.invoices)),
		invoiceSeqs:   make(map[string]int64, len(d.invoiceSeqs)),
		tasks:         make(map[string]task.Task, len(d.tasks)),
	}
	for k, v := range d.customers {
		c.customers[k] = cloneCustomer(v)
	}
	for k, v := range d.subscriptions {
		c.subscriptions[k] = cloneSubscription(v)
	}
	for k, v := range d.attempts {
		c.attempts[k] = v
	}
	for k, v := range d.invoices {
		c.invoices[k] = cloneInvoice(v)
	}
	for k, v := range d.invoiceSeqs {
		c.invoiceSeqs[k] = v
	}
	for k, v := range d.tasks {
		c.tasks[k] = cloneTask(v)
	}
	return c
}

func cloneCustomer(c customer.Customer) customer.Customer {
	c.Metadata = cloneMap(c.Metadata)
	return c
}

func cloneSubscription(s subscription.Subscription) subscription.Subscription {
	s.Metadata = cloneMap(s.Metadata)
	s.LastPaymentAttempt = cloneTime(s.LastPaymentAttempt)
	s.SuspendedAt = cloneTime(s.SuspendedAt)
	s.CancelledAt = cloneTime(s.CancelledAt)
	return s
}

func cloneInvoice(inv invoice.Invoice) invoice.Invoice {
	items := make([]invoice.LineItem, len(inv.LineItems))
	copy(items, inv.LineItems)
	inv.LineItems = items
	inv.PaidAt = cloneTime(inv.PaidAt)
	return inv
}

func cloneTask(t task.Task) task.Task {
	payload := make([]byte, len(t.Payload))
	copy(payload, t.Payload)
	t.Payload = payload
	t.DeliveredAt = cloneTime(t.DeliveredAt)
	return t
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Store is an in-memory store.Store.
type Store struct {
	mu   sync.RWMutex
	data *dataset
	inTx bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: newDataset()}
}

// Locking is skipped inside a transaction: the enclosing InTx holds the
// store-wide write lock for the duration of the transaction.

func (s *Store) rlock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// ==================== Customer ====================

func (s *Store) CreateCustomer(_ context.Context, c *customer.Customer) error {
	defer s.lock()()

	if _, exists := s.data.customers[c.ID.String()]; exists {
		return dunning.ErrAlreadyExists
	}
	s.data.customers[c.ID.String()] = cloneCustomer(*c)
	return nil
}

func (s *Store) GetCustomer(_ context.Context, custID id.CustomerID) (*customer.Customer, error) {
	defer s.rlock()()

	if c, ok := s.data.customers[custID.String()]; ok {
		c = cloneCustomer(c)
		return &c, nil
	}
	return nil, dunning.ErrCustomerNotFound
}

func (s *Store) UpdateCustomer(_ context.Context, c *customer.Customer) error {
	defer s.lock()()

	if _, exists := s.data.customers[c.ID.String()]; !exists {
		return dunning.ErrCustomerNotFound
	}
	s.data.customers[c.ID.String()] = cloneCustomer(*c)
	return nil
}

// ==================== Subscription ====================

func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	defer s.lock()()

	if _, exists := s.data.subscriptions[sub.ID.String()]; exists {
		return dunning.ErrAlreadyExists
	}
	for _, existing := range s.data.subscriptions {
		if existing.ReferenceNumber == sub.ReferenceNumber {
			return dunning.ErrDuplicateReference
		}
	}
	s.data.subscriptions[sub.ID.String()] = cloneSubscription(*sub)
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	defer s.rlock()()

	if sub, ok := s.data.subscriptions[subID.String()]; ok {
		sub = cloneSubscription(sub)
		return &sub, nil
	}
	return nil, dunning.ErrSubscriptionNotFound
}

func (s *Store) GetSubscriptionByReference(_ context.Context, reference string) (*subscription.Subscription, error) {
	defer s.rlock()()

	for _, sub := range s.data.subscriptions {
		if sub.ReferenceNumber == reference {
			sub = cloneSubscription(sub)
			return &sub, nil
		}
	}
	return nil, dunning.ErrSubscriptionNotFound
}

func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	defer s.lock()()

	if _, exists := s.data.subscriptions[sub.ID.String()]; !exists {
		return dunning.ErrSubscriptionNotFound
	}
	s.data.subscriptions[sub.ID.String()] = cloneSubscription(*sub)
	return nil
}

func (s *Store) CancelSubscription(_ context.Context, subID id.SubscriptionID, cancelledAt time.Time, reason string) error {
	defer s.lock()()

	sub, exists := s.data.subscriptions[subID.String()]
	if !exists {
		return dunning.ErrSubscriptionNotFound
	}
	sub = cloneSubscription(sub)
	sub.Status = subscription.StatusCancelled
	sub.CancelledAt = &cancelledAt
	sub.CancelReason = reason
	sub.Touch()
	s.data.subscriptions[subID.String()] = sub
	return nil
}

// ==================== Billing attempt ====================

func (s *Store) CreateAttempt(_ context.Context, a *attempt.Attempt) error {
	defer s.lock()()

	if _, exists := s.data.attempts[a.ID.String()]; exists {
		return dunning.ErrAlreadyExists
	}
	s.data.attempts[a.ID.String()] = *a
	return nil
}

func (s *Store) GetAttempt(_ context.Context, attID id.AttemptID) (*attempt.Attempt, error) {
	defer s.rlock()()

	if a, ok := s.data.attempts[attID.String()]; ok {
		return &a, nil
	}
	return nil, dunning.ErrAttemptNotFound
}

func (s *Store) ListAttempts(_ context.Context, subID id.SubscriptionID, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	defer s.rlock()()

	result := make([]*attempt.Attempt, 0)
	for _, a := range s.data.attempts {
		if a.SubscriptionID.String() != subID.String() {
			continue
		}
		if opts.Status != "" && a.Status != opts.Status {
			continue
		}
		a := a
		result = append(result, &a)
	}

	// Newest first: the latest attempt is the interesting one.
	sort.Slice(result, func(i, j int) bool {
		return result[i].AttemptNumber > result[j].AttemptNumber
	})

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (s *Store) UpdateAttemptStatus(_ context.Context, attID id.AttemptID, status attempt.Status) error {
	defer s.lock()()

	a, exists := s.data.attempts[attID.String()]
	if !exists {
		return dunning.ErrAttemptNotFound
	}
	a.Status = status
	a.Touch()
	s.data.attempts[attID.String()] = a
	return nil
}

// ==================== Invoice ====================

func (s *Store) CreateInvoice(_ context.Context, inv *invoice.Invoice) error {
	defer s.lock()()

	if _, exists := s.data.invoices[inv.ID.String()]; exists {
		return dunning.ErrAlreadyExists
	}
	for _, existing := range s.data.invoices {
		if existing.Number == inv.Number {
			return dunning.ErrDuplicateInvoiceNumber
		}
	}
	s.data.invoices[inv.ID.String()] = cloneInvoice(*inv)
	return nil
}

func (s *Store) GetInvoice(_ context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	defer s.rlock()()

	if inv, ok := s.data.invoices[invID.String()]; ok {
		inv = cloneInvoice(inv)
		return &inv, nil
	}
	return nil, dunning.ErrInvoiceNotFound
}

func (s *Store) GetInvoiceByNumber(_ context.Context, number string) (*invoice.Invoice, error) {
	defer s.rlock()()

	for _, inv := range s.data.invoices {
		if inv.Number == number {
			inv = cloneInvoice(inv)
			return &inv, nil
		}
	}
	return nil, dunning.ErrInvoiceNotFound
}

func (s *Store) ListInvoices(_ context.Context, subID id.SubscriptionID, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	defer s.rlock()()

	result := make([]*invoice.Invoice, 0)
	for _, inv := range s.data.invoices {
		if inv.SubscriptionID.String() != subID.String() {
			continue
		}
		if opts.Status != "" && inv.Status != opts.Status {
			continue
		}
		inv := cloneInvoice(inv)
		result = append(result, &inv)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Number < result[j].Number
	})

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (s *Store) MarkInvoicePaid(_ context.Context, invID id.InvoiceID, paidAt time.Time, paymentRef string) error {
	defer s.lock()()

	inv, exists := s.data.invoices[invID.String()]
	if !exists {
		return dunning.ErrInvoiceNotFound
	}
	if inv.Status == invoice.StatusPaid {
		return dunning.ErrInvoicePaid
	}
	inv = cloneInvoice(inv)
	inv.Status = invoice.StatusPaid
	inv.PaidAt = &paidAt
	inv.PaymentRef = paymentRef
	inv.Touch()
	s.data.invoices[invID.String()] = inv
	return nil
}

func (s *Store) NextInvoiceSequence(_ context.Context, month string) (int64, error) {
	defer s.lock()()

	s.data.invoiceSeqs[month]++
	return s.data.invoiceSeqs[month], nil
}

// ==================== Scheduled task ====================

func (s *Store) CreateTask(_ context.Context, t *task.Task) error {
	defer s.lock()()

	if _, exists := s.data.tasks[t.ID.String()]; exists {
		return dunning.ErrAlreadyExists
	}
	s.data.tasks[t.ID.String()] = cloneTask(*t)
	return nil
}

func (s *Store) GetTask(_ context.Context, taskID id.TaskID) (*task.Task, error) {
	defer s.rlock()()

	if t, ok := s.data.tasks[taskID.String()]; ok {
		t = cloneTask(t)
		return &t, nil
	}
	return nil, dunning.ErrTaskNotFound
}

func (s *Store) DueTasks(_ context.Context, now time.Time, limit int) ([]*task.Task, error) {
	defer s.rlock()()

	result := make([]*task.Task, 0)
	for _, t := range s.data.tasks {
		if t.Status != task.StatusPending || t.RunAt.After(now) {
			continue
		}
		t := cloneTask(t)
		result = append(result, &t)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].RunAt.Before(result[j].RunAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) MarkTaskDelivered(_ context.Context, taskID id.TaskID, deliveredAt time.Time) error {
	defer s.lock()()

	t, exists := s.data.tasks[taskID.String()]
	if !exists {
		return dunning.ErrTaskNotFound
	}
	t = cloneTask(t)
	t.Status = task.StatusDelivered
	t.DeliveredAt = &deliveredAt
	t.Touch()
	s.data.tasks[taskID.String()] = t
	return nil
}

func (s *Store) RescheduleTask(_ context.Context, taskID id.TaskID, runAt time.Time) error {
	defer s.lock()()

	t, exists := s.data.tasks[taskID.String()]
	if !exists {
		return dunning.ErrTaskNotFound
	}
	t = cloneTask(t)
	t.RunAt = runAt
	t.Attempts++
	t.Touch()
	s.data.tasks[taskID.String()] = t
	return nil
}

func (s *Store) PurgeDeliveredTasks(_ context.Context, before time.Time) (int64, error) {
	defer s.lock()()

	var count int64
	for k, t := range s.data.tasks {
		if t.Status == task.StatusDelivered && t.DeliveredAt != nil && t.DeliveredAt.Before(before) {
			delete(s.data.tasks, k)
			count++
		}
	}
	return count, nil
}

// ==================== Transaction ====================

// InTx stages fn's mutations on a snapshot and swaps it in on success.
// A nested InTx joins the enclosing transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := &Store{data: s.data.clone(), inTx: true}
	if err := fn(staged); err != nil {
		return err
	}
	s.data = staged.data
	return nil
}

// ==================== Store management ====================

func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	return nil // Always available
}

func (s *Store) Close() error {
	return nil // Nothing to close
}
