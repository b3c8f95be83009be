package auth

import (
	"context"

	"github.com/rpattn/metacat/internal/domain"
)

// Authorizer is the external permission collaborator. CanModifyFields
// returns the subset of the requested fields the caller may change; an
// empty subset means the caller may not touch the entity at all.
type Authorizer interface {
	CanModifyFields(ctx context.Context, caller Caller, entityType string, fields []string) ([]string, error)
}

// DescriptorAuthorizer grants everything except protected fields to named
// callers, and everything to admins. It stands in for the platform's real
// policy engine, which lives behind this interface.
type DescriptorAuthorizer struct {
	descriptors map[string]domain.EntityDescriptor
}

// NewDescriptorAuthorizer builds an authorizer over the registered entity
// descriptors.
func NewDescriptorAuthorizer(descriptors ...domain.EntityDescriptor) *DescriptorAuthorizer {
	byType := make(map[string]domain.EntityDescriptor, len(descriptors))
	for _, desc := range descriptors {
		byType[desc.EntityType] = desc
	}
	return &DescriptorAuthorizer{descriptors: byType}
}

func (a *DescriptorAuthorizer) CanModifyFields(ctx context.Context, caller Caller, entityType string, fields []string) ([]string, error) {
	if caller.Name == "" {
		return nil, nil
	}
	if caller.Admin {
		return fields, nil
	}
	desc, ok := a.descriptors[entityType]
	if !ok {
		return fields, nil
	}
	allowed := make([]string, 0, len(fields))
	for _, name := range fields {
		if field, declared := desc.Field(name); declared && field.Protected {
			continue
		}
		allowed = append(allowed, name)
	}
	return allowed, nil
}
