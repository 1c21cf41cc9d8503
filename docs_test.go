package dunning_test

import (
	"context"
	"log"
	"log/slog"
	"testing"

	"github.com/malipo/dunning"
	"github.com/malipo/dunning/customer"
	"github.com/malipo/dunning/store/memory"
	"github.com/malipo/dunning/subscription"
	"github.com/malipo/dunning/types"
)

// TestDocumentationExamples verifies that all examples in the documentation compile
func TestDocumentationExamples(t *testing.T) {
	// Test Quick Start example from README
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		store := memory.New()

		// Initialize the engine
		eng := dunning.New(store,
			dunning.Config{PaybillCode: "522533", DefaultCurrency: "kes"},
			dunning.WithLogger(slog.Default()),
		)

		// Start the engine
		ctx := context.Background()
		if err := eng.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer eng.Stop() //nolint:errcheck

		// Create a customer
		cust := &customer.Customer{
			Name:        "Wanjiku Kamau",
			PhoneNumber: "+254722000111",
			Email:       "wanjiku@example.com",
		}
		if err := eng.CreateCustomer(ctx, cust); err != nil {
			t.Fatal(err)
		}

		// Create a subscription
		sub := &subscription.Subscription{
			CustomerID:      cust.ID,
			PlanName:        "Home Fibre 20Mbps",
			ReferenceNumber: "HF-2025-0042",
			Amount:          types.KES(299900), // KSh 2999.00
		}
		if err := eng.CreateSubscription(ctx, sub); err != nil {
			t.Fatal(err)
		}

		// Record a failed payment: schedules a retry and notifies the customer
		if err := eng.HandleFailedPayment(ctx, sub.ID); err != nil {
			t.Fatal(err)
		}

		// A successful payment resets the cycle
		if err := eng.HandlePaymentSuccessful(ctx, sub.ID); err != nil {
			t.Fatal(err)
		}

		// Generate an invoice
		inv, err := eng.GenerateInvoice(ctx, sub.ID, nil)
		if err != nil {
			t.Fatal(err)
		}

		log.Printf("Invoice generated: %s for %s\n", inv.Number, inv.Amount.String())
	})

	// Test Money type examples
	t.Run("MoneyExamples", func(t *testing.T) {
		// Constructors
		_ = types.KES(299900) // KSh 2999.00
		_ = types.TZS(500000) // TSh 5000.00
		_ = types.Zero("kes") // KSh 0.00

		// Arithmetic
		m1 := types.KES(100)
		m2 := types.KES(200)
		_ = m1.Add(m2)     // KSh 3.00
		_ = m1.Multiply(3) // KSh 3.00

		// Comparison
		if m1.LessThan(m2) {
			// m1 is less than m2
		}

		// Formatting
		_ = m1.String()      // "KSh 1.00"
		_ = m1.FormatMajor() // "1.00"
	})
}
