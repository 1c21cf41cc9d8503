package hook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/malipo/dunning/attempt"
	"github.com/malipo/dunning/invoice"
	"github.com/malipo/dunning/subscription"
)

// Registry manages registered hooks and provides dispatch.
// Hook interfaces are cached per event at registration time.
type Registry struct {
	mu     sync.RWMutex
	hooks  []Hook
	logger *slog.Logger

	onAttemptScheduled      []OnAttemptScheduled
	onSubscriptionSuspended []OnSubscriptionSuspended
	onSubscriptionCancelled []OnSubscriptionCancelled
	onPaymentRecovered      []OnPaymentRecovered
	onInvoiceGenerated      []OnInvoiceGenerated
}

// NewRegistry creates a new hook registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a hook to the registry and caches its interfaces.
func (r *Registry) Register(h Hook) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.hooks {
		if existing.Name() == h.Name() {
			return fmt.Errorf("hook: duplicate registration: %s", h.Name())
		}
	}

	r.hooks = append(r.hooks, h)

	if v, ok := h.(OnAttemptScheduled); ok {
		r.onAttemptScheduled = append(r.onAttemptScheduled, v)
	}
	if v, ok := h.(OnSubscriptionSuspended); ok {
		r.onSubscriptionSuspended = append(r.onSubscriptionSuspended, v)
	}
	if v, ok := h.(OnSubscriptionCancelled); ok {
		r.onSubscriptionCancelled = append(r.onSubscriptionCancelled, v)
	}
	if v, ok := h.(OnPaymentRecovered); ok {
		r.onPaymentRecovered = append(r.onPaymentRecovered, v)
	}
	if v, ok := h.(OnInvoiceGenerated); ok {
		r.onInvoiceGenerated = append(r.onInvoiceGenerated, v)
	}

	r.logger.Info("hook registered", "name", h.Name())

	return nil
}

// Count returns the number of registered hooks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitAttemptScheduled emits an attempt scheduled event.
func (r *Registry) EmitAttemptScheduled(ctx context.Context, a *attempt.Attempt) {
	r.mu.RLock()
	hooks := r.onAttemptScheduled
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error {
			return h.OnAttemptScheduled(ctx, a)
		}); err != nil {
			r.logger.Warn("hook OnAttemptScheduled failed",
				"hook", h.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionSuspended emits a subscription suspended event.
func (r *Registry) EmitSubscriptionSuspended(ctx context.Context, sub *subscription.Subscription) {
	r.mu.RLock()
	hooks := r.onSubscriptionSuspended
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error {
			return h.OnSubscriptionSuspended(ctx, sub)
		}); err != nil {
			r.logger.Warn("hook OnSubscriptionSuspended failed",
				"hook", h.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionCancelled emits a subscription cancelled event.
func (r *Registry) EmitSubscriptionCancelled(ctx context.Context, sub *subscription.Subscription) {
	r.mu.RLock()
	hooks := r.onSubscriptionCancelled
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error {
			return h.OnSubscriptionCancelled(ctx, sub)
		}); err != nil {
			r.logger.Warn("hook OnSubscriptionCancelled failed",
				"hook", h.Name(),
				"error", err,
			)
		}
	}
}

// EmitPaymentRecovered emits a payment recovered event.
func (r *Registry) EmitPaymentRecovered(ctx context.Context, sub *subscription.Subscription) {
	r.mu.RLock()
	hooks := r.onPaymentRecovered
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error {
			return h.OnPaymentRecovered(ctx, sub)
		}); err != nil {
			r.logger.Warn("hook OnPaymentRecovered failed",
				"hook", h.Name(),
				"error", err,
			)
		}
	}
}

// EmitInvoiceGenerated emits an invoice generated event.
func (r *Registry) EmitInvoiceGenerated(ctx context.Context, inv *invoice.Invoice) {
	r.mu.RLock()
	hooks := r.onInvoiceGenerated
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error {
			return h.OnInvoiceGenerated(ctx, inv)
		}); err != nil {
			r.logger.Warn("hook OnInvoiceGenerated failed",
				"hook", h.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a hook function with a timeout.
// Hooks should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, hookName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("hook timeout: %s", hookName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
