package catalog

import (
	"fmt"
	"sync"

	"github.com/rpattn/metacat/internal/bulk"
	"github.com/rpattn/metacat/internal/domain"
)

// TypeDefinition binds one entity type's descriptor table to its CSV
// contract and creation-time defaults.
type TypeDefinition struct {
	Descriptor domain.EntityDescriptor
	Contract   bulk.Contract

	// Defaults decorates a brand new snapshot with system-applied default
	// values (tagged ValueDefault) before it is first persisted.
	Defaults func(domain.Snapshot) domain.Snapshot

	// DerivePath recomputes the snapshot's hierarchical path from its
	// fields; nil for flat entity types.
	DerivePath func(domain.Snapshot) string
}

// Registry holds the declared entity types. Registration happens at wiring
// time; lookups afterwards are read-only.
type Registry struct {
	mu    sync.RWMutex
	types map[string]TypeDefinition
}

// NewRegistry creates an empty type registry.
func NewRegistry() *Registry {
	return &Registry{types: map[string]TypeDefinition{}}
}

// Register validates and adds one entity type.
func (r *Registry) Register(def TypeDefinition) error {
	if err := def.Descriptor.Validate(); err != nil {
		return err
	}
	if err := def.Contract.Validate(); err != nil {
		return err
	}
	if def.Descriptor.EntityType != def.Contract.EntityType {
		return fmt.Errorf("descriptor %s and contract %s disagree on entity type",
			def.Descriptor.EntityType, def.Contract.EntityType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[def.Descriptor.EntityType]; ok {
		return fmt.Errorf("entity type %s already registered", def.Descriptor.EntityType)
	}
	r.types[def.Descriptor.EntityType] = def
	return nil
}

// Lookup returns the definition for one entity type.
func (r *Registry) Lookup(entityType string) (TypeDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types[entityType]
	if !ok {
		return TypeDefinition{}, fmt.Errorf("%w: entity type %q", domain.ErrNotFound, entityType)
	}
	return def, nil
}
