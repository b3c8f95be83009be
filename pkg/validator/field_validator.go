// Package validator checks raw field values against declared rules:
// required presence, regex format, and enum membership. Reference existence
// is checked by the bulk pipeline against its resolver collaborator, not
// here.
package validator

import (
	"fmt"
	"regexp"
)

// FieldRule is the declared validation rule for one field.
type FieldRule struct {
	Required bool
	Pattern  *regexp.Regexp
	Enum     []string
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult represents the result of validating one value set.
type ValidationResult struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationError `json:"errors"`
}

// FieldValidator validates raw values against field rules.
type FieldValidator struct{}

// NewFieldValidator creates a new field validator.
func NewFieldValidator() *FieldValidator {
	return &FieldValidator{}
}

// ValidateValue checks one raw value against its rule. An empty value only
// fails when the field is required.
func (v *FieldValidator) ValidateValue(field, value string, rule FieldRule) *ValidationError {
	if value == "" {
		if rule.Required {
			return &ValidationError{Field: field, Message: fmt.Sprintf("required field '%s' is missing", field)}
		}
		return nil
	}

	if rule.Pattern != nil && !rule.Pattern.MatchString(value) {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("value must match %q", rule.Pattern.String()),
			Value:   value,
		}
	}

	if len(rule.Enum) > 0 {
		found := false
		for _, allowed := range rule.Enum {
			if value == allowed {
				found = true
				break
			}
		}
		if !found {
			return &ValidationError{
				Field:   field,
				Message: fmt.Sprintf("value %q is not one of %v", value, rule.Enum),
				Value:   value,
			}
		}
	}

	return nil
}

// ValidateValues checks a named value set against its rules.
func (v *FieldValidator) ValidateValues(values map[string]string, rules map[string]FieldRule) ValidationResult {
	result := ValidationResult{IsValid: true, Errors: []ValidationError{}}
	for field, rule := range rules {
		if err := v.ValidateValue(field, values[field], rule); err != nil {
			result.IsValid = false
			result.Errors = append(result.Errors, *err)
		}
	}
	return result
}
