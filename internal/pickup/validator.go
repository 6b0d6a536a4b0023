package pickup

import (
	"context"
)

// Validator makes the binary authorization decision for a specific
// (child, claimed person) pair at the moment of evaluation. It has no side
// effects; running it twice against the same state yields the same answer.
type Validator struct {
	src Source
}

// NewValidator builds a validator over the selected source.
func NewValidator(src Source) *Validator {
	return &Validator{src: src}
}

// Validate decides whether the claimed person may pick the child up now.
// Unknown person types are denied explicitly, never silently allowed. The
// returned Message is shown to the checkout operator in every case.
func (v *Validator) Validate(ctx context.Context, orgID, childID string, personType PersonType, personID string) (ValidationResult, error) {
	switch personType {
	case TypeGuardian, TypeAuthorized, TypeEmergencyContact:
	default:
		return ValidationResult{IsValid: false, PersonType: personType, Message: msgUnknownType}, nil
	}
	if childID == "" || personID == "" {
		return ValidationResult{IsValid: false, PersonType: personType, Message: msgNotFound}, nil
	}
	return v.src.Validate(ctx, orgID, childID, personType, personID)
}
