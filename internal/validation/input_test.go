package validation

import (
	"strings"
	"testing"
)

// TestValidateUID tests uid format checks
func TestValidateUID(t *testing.T) {
	for _, ok := range []string{"greeting", "agree-1", "card_v1.2"} {
		if err := ValidateUID(ok); err != nil {
			t.Errorf("Expected %s to be valid, got %v", ok, err)
		}
	}
	for _, bad := range []string{"", "has space", "slash/uid", strings.Repeat("a", 129)} {
		if err := ValidateUID(bad); err == nil {
			t.Errorf("Expected %q to be rejected", bad)
		}
	}
}

// TestValidateInstanceID tests UUID checks
func TestValidateInstanceID(t *testing.T) {
	if err := ValidateInstanceID("8f14e45f-ceea-4e1a-9c3e-2f1b7a0d3c11"); err != nil {
		t.Errorf("Expected UUID to be valid, got %v", err)
	}
	if err := ValidateInstanceID("not-a-uuid"); err == nil {
		t.Error("Expected non-UUID to be rejected")
	}
}

// TestValidateSlug tests slug checks
func TestValidateSlug(t *testing.T) {
	if err := ValidateSlug("night-sky"); err != nil {
		t.Errorf("Expected slug to be valid, got %v", err)
	}
	for _, bad := range []string{"", "Night", "a--b", "-a"} {
		if err := ValidateSlug(bad); err == nil {
			t.Errorf("Expected %q to be rejected", bad)
		}
	}
}

// TestValidateChoiceLabel tests label checks
func TestValidateChoiceLabel(t *testing.T) {
	if err := ValidateChoiceLabel("Open the gate"); err != nil {
		t.Errorf("Expected label to be valid, got %v", err)
	}
	if err := ValidateChoiceLabel("   "); err == nil {
		t.Error("Expected blank label to be rejected")
	}
	if err := ValidateChoiceLabel(strings.Repeat("é", 201)); err == nil {
		t.Error("Expected long label to be rejected")
	}
}

// TestValidateName tests name checks
func TestValidateName(t *testing.T) {
	if err := ValidateName("greeter"); err != nil {
		t.Errorf("Expected name to be valid, got %v", err)
	}
	if err := ValidateName(""); err == nil {
		t.Error("Expected empty name to be rejected")
	}
}
