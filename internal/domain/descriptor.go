package domain

import "fmt"

// FieldKind classifies how a declared field is compared.
type FieldKind int

const (
	// KindScalar fields compare by value equality.
	KindScalar FieldKind = iota
	// KindReference fields hold a single entity reference compared by key.
	KindReference
	// KindReferenceList fields hold a collection of references diffed as a
	// set of added and removed elements, never as a full replace.
	KindReferenceList
)

func (k FieldKind) String() string {
	switch k {
	case KindReference:
		return "reference"
	case KindReferenceList:
		return "referenceList"
	default:
		return "scalar"
	}
}

// FieldDescriptor declares one field of an entity type for diffing purposes.
// This is the explicit descriptor table the engine walks instead of
// reflecting over structs.
type FieldDescriptor struct {
	Name string
	Kind FieldKind

	// Identity marks fields whose change forces a major version bump.
	Identity bool

	// SystemManaged fields are recomputed by the platform (for example
	// inherited roles) and are never diffed or patched.
	SystemManaged bool

	// Protected fields need elevated rights; the merge engine silently
	// reverts them for callers the authorization collaborator rejects.
	Protected bool

	// Equal overrides scalar comparison. Nil means plain == on the values.
	Equal func(a, b any) bool
}

func (d FieldDescriptor) valuesEqual(a, b any) bool {
	if d.Kind == KindReference {
		ra, okA := asReference(a)
		rb, okB := asReference(b)
		return okA && okB && ra.Key() == rb.Key()
	}
	if d.Equal != nil {
		return d.Equal(a, b)
	}
	return a == b
}

// asReference coerces a change-record value into an entity reference.
// Records reloaded from storage decode reference values as generic JSON
// maps; comparing by key keeps consolidation working across that round
// trip.
func asReference(v any) (EntityReference, bool) {
	switch ref := v.(type) {
	case EntityReference:
		return ref, true
	case *EntityReference:
		if ref != nil {
			return *ref, true
		}
	case map[string]any:
		out := EntityReference{}
		if s, ok := ref["type"].(string); ok {
			out.Type = s
		}
		if s, ok := ref["name"].(string); ok {
			out.Name = s
		}
		if out.Type != "" && out.Name != "" {
			return out, true
		}
	}
	return EntityReference{}, false
}

// EntityDescriptor is the declared field table for one entity type, in
// wire/display order.
type EntityDescriptor struct {
	EntityType string
	Fields     []FieldDescriptor
}

// Field looks a descriptor up by name.
func (d EntityDescriptor) Field(name string) (FieldDescriptor, bool) {
	for _, field := range d.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return FieldDescriptor{}, false
}

// DiffableFields returns the declared fields that participate in diffing,
// preserving declaration order.
func (d EntityDescriptor) DiffableFields() []FieldDescriptor {
	out := make([]FieldDescriptor, 0, len(d.Fields))
	for _, field := range d.Fields {
		if field.SystemManaged {
			continue
		}
		out = append(out, field)
	}
	return out
}

// Validate catches malformed descriptor tables at registration time.
func (d EntityDescriptor) Validate() error {
	if d.EntityType == "" {
		return fmt.Errorf("entity descriptor missing entity type")
	}
	seen := map[string]bool{}
	for _, field := range d.Fields {
		if field.Name == "" {
			return fmt.Errorf("entity type %s declares an unnamed field", d.EntityType)
		}
		if seen[field.Name] {
			return fmt.Errorf("entity type %s declares field %s twice", d.EntityType, field.Name)
		}
		seen[field.Name] = true
	}
	return nil
}
