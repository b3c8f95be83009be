package validator

import (
	"regexp"
	"testing"
)

func TestValidateValueRequired(t *testing.T) {
	v := NewFieldValidator()

	if err := v.ValidateValue("name", "", FieldRule{Required: true}); err == nil {
		t.Fatalf("expected error for missing required value")
	}
	if err := v.ValidateValue("displayName", "", FieldRule{}); err != nil {
		t.Fatalf("optional empty value must pass, got: %v", err)
	}
}

func TestValidateValuePattern(t *testing.T) {
	v := NewFieldValidator()
	rule := FieldRule{Pattern: regexp.MustCompile(`^[^@\s]+@[^@\s]+$`)}

	if err := v.ValidateValue("email", "alice@example.com", rule); err != nil {
		t.Fatalf("valid email rejected: %v", err)
	}
	if err := v.ValidateValue("email", "not-an-email", rule); err == nil {
		t.Fatalf("expected pattern mismatch error")
	}
}

func TestValidateValueEnum(t *testing.T) {
	v := NewFieldValidator()
	rule := FieldRule{Enum: []string{"Group", "Department"}}

	if err := v.ValidateValue("teamType", "Group", rule); err != nil {
		t.Fatalf("enum member rejected: %v", err)
	}
	if err := v.ValidateValue("teamType", "Committee", rule); err == nil {
		t.Fatalf("expected enum membership error")
	}
}

func TestValidateValues(t *testing.T) {
	v := NewFieldValidator()
	rules := map[string]FieldRule{
		"name":  {Required: true},
		"email": {Required: true, Pattern: regexp.MustCompile(`@`)},
	}

	result := v.ValidateValues(map[string]string{"name": "alice"}, rules)
	if result.IsValid {
		t.Fatalf("expected invalid result")
	}
	if len(result.Errors) != 1 || result.Errors[0].Field != "email" {
		t.Fatalf("unexpected errors: %+v", result.Errors)
	}
}
