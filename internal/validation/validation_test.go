package validation

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/bartab/internal/model"
)

func TestIsValidBarID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{
			name:  "simple",
			id:    "natation",
			valid: true,
		},
		{
			name:  "digits and separators",
			id:    "bar-2_b",
			valid: true,
		},
		{
			name:  "uppercase",
			id:    "Natation",
			valid: false,
		},
		{
			name:  "space",
			id:    "bar 1",
			valid: false,
		},
		{
			name:  "empty string",
			id:    "",
			valid: false,
		},
		{
			name:  "too long",
			id:    "abcdefghijabcdefghijabcdefghijabcdefghijabcdefghijk",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidBarID(tt.id)
			if got != tt.valid {
				t.Fatalf("IsValidBarID(%q) = %v, want %v", tt.id, got, tt.valid)
			}
		})
	}
}

func TestPositiveAmount(t *testing.T) {
	if err := PositiveAmount("amount", decimal.RequireFromString("0.01")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, v := range []string{"0", "-3"} {
		if err := PositiveAmount("amount", decimal.RequireFromString(v)); err == nil {
			t.Fatalf("expected error for %s", v)
		}
	}
}

func TestTransactionType(t *testing.T) {
	got, err := TransactionType("punish")
	if err != nil || got != model.TransactionPunish {
		t.Fatalf("TransactionType(punish) = %q, %v", got, err)
	}
	if _, err := TransactionType("cancel"); err == nil {
		t.Fatalf("cancel must not be accepted from callers")
	}
	if _, err := TransactionType("steal"); err == nil {
		t.Fatalf("unknown type must be rejected")
	}
}
