package customer

import (
	"github.com/malipo/dunning/id"
	"github.com/malipo/dunning/types"
)

// Customer is the billing identity a subscription belongs to.
//
// FailedPaymentCount is the sole driver of dunning escalation. It increases
// by exactly one per failed-payment event and is reset to zero only when a
// payment succeeds.
type Customer struct {
	types.Entity
	ID                 id.CustomerID     `json:"id"`
	TenantID           string            `json:"tenant_id"`
	Name               string            `json:"name"`
	Email              string            `json:"email,omitempty"`
	PhoneNumber        string            `json:"phone_number"`
	FailedPaymentCount int               `json:"failed_payment_count"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}
