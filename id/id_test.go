package id

import (
	"encoding/json"
	"testing"
)

func TestNewGeneratesPrefixedIDs(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() ID
		prefix Prefix
	}{
		{"Customer", NewCustomerID, PrefixCustomer},
		{"Subscription", NewSubscriptionID, PrefixSubscription},
		{"Attempt", NewAttemptID, PrefixAttempt},
		{"Invoice", NewInvoiceID, PrefixInvoice},
		{"LineItem", NewLineItemID, PrefixLineItem},
		{"Task", NewTaskID, PrefixTask},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generated := tt.gen()
			if generated.IsNil() {
				t.Fatal("generated ID is nil")
			}
			if generated.Prefix() != tt.prefix {
				t.Errorf("Prefix: got %q, want %q", generated.Prefix(), tt.prefix)
			}
			if generated.String() == "" {
				t.Error("String: got empty string")
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	original := NewSubscriptionID()

	parsed, err := Parse(original.String())
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if parsed.String() != original.String() {
		t.Errorf("Round trip: got %s, want %s", parsed.String(), original.String())
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"Empty", ""},
		{"Garbage", "not-a-typeid!!"},
		{"BadSuffix", "sub_zzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.input); err == nil {
				t.Errorf("Parse(%q): expected error", tt.input)
			}
		})
	}
}

func TestParseWithPrefix(t *testing.T) {
	sub := NewSubscriptionID()

	if _, err := ParseSubscriptionID(sub.String()); err != nil {
		t.Errorf("ParseSubscriptionID: unexpected error: %v", err)
	}
	if _, err := ParseCustomerID(sub.String()); err == nil {
		t.Error("ParseCustomerID: expected prefix mismatch error")
	}
}

func TestNilID(t *testing.T) {
	if !Nil.IsNil() {
		t.Error("Nil.IsNil() = false")
	}
	if Nil.String() != "" {
		t.Errorf("Nil.String() = %q, want empty", Nil.String())
	}
	if Nil.Prefix() != "" {
		t.Errorf("Nil.Prefix() = %q, want empty", Nil.Prefix())
	}
}

func TestJSONRoundTrip(t *testing.T) {
	original := NewInvoiceID()

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded ID
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if decoded.String() != original.String() {
		t.Errorf("JSON round trip: got %s, want %s", decoded.String(), original.String())
	}
}

func TestSQLValueScan(t *testing.T) {
	original := NewCustomerID()

	v, err := original.Value()
	if err != nil {
		t.Fatalf("Value error: %v", err)
	}

	var scanned ID
	if err := scanned.Scan(v); err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if scanned.String() != original.String() {
		t.Errorf("SQL round trip: got %s, want %s", scanned.String(), original.String())
	}

	// NULL scans to Nil
	var fromNull ID
	if err := fromNull.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error: %v", err)
	}
	if !fromNull.IsNil() {
		t.Error("Scan(nil): expected Nil ID")
	}

	// Nil values to NULL
	nilVal, err := Nil.Value()
	if err != nil {
		t.Fatalf("Nil.Value error: %v", err)
	}
	if nilVal != nil {
		t.Errorf("Nil.Value() = %v, want nil", nilVal)
	}
}
