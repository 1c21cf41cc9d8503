// Package dunning provides an embeddable failed-payment escalation engine
// for subscription billing in Go applications.
//
// Dunning is designed as a library, not a service. Import it directly into
// your billing application. It provides:
//
//   - A failed-payment state machine: escalating retries, suspension after
//     repeated failures, cancellation after a prolonged suspension
//   - Durable at-least-once retry scheduling backed by the store
//   - Sequential monthly invoice numbering safe under concurrency
//   - Fire-and-forget customer notifications (SMS, email, templated)
//   - Lifecycle hooks for audit trails and provider sync
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/malipo/dunning"
//	    "github.com/malipo/dunning/store/postgres"
//	)
//
//	// Initialize store
//	store, err := postgres.New(databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create engine
//	eng := dunning.New(store, dunning.Config{PaybillCode: "522533"})
//
//	// Start the engine (migrates the store, begins background workers)
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop()
//
// # Escalation
//
// Report every failed charge; the engine decides what happens next:
//
//	err := eng.HandleFailedPayment(ctx, subID)
//
// The first three failures schedule retries after one hour, three days and
// seven days. The fourth suspends the subscription and tells the customer
// how to pay. Once a subscription has been suspended for more than thirty
// days, a further failure cancels it.
//
// A successful payment resets the cycle:
//
//	err := eng.HandlePaymentSuccessful(ctx, subID)
//
// # Retry delivery
//
// Retries are durable tasks delivered by a store-polling runner. Register
// your charge logic and start it alongside the engine:
//
//	runner := scheduler.NewRunner(store)
//	runner.Register(dunning.HandlerRetryAttempt, func(ctx context.Context, payload []byte) error {
//	    // decode dunning.RetryAttemptPayload, re-attempt the charge
//	    return nil
//	})
//	runner.Start(ctx)
//
// Delivery is at-least-once: handlers must tolerate redelivery.
//
// All monetary calculations use integer arithmetic to avoid floating-point
// precision issues. The Money type represents amounts in the smallest
// currency unit (cents for KES, USD and so on).
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	cust_01h2xcejqtf2nbrexx3vqjhp41  // Customer ID
//	sub_01h2xcejqtf2nbrexx3vqjhp41   // Subscription ID
//	inv_01h455vb4pex5vsknk084sn02q   // Invoice ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package dunning
