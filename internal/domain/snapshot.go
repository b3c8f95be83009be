package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ValueState tags how a field value came to be on a snapshot. Default values
// are applied by the system at creation time (for example the organization
// team membership every user starts with) and are treated specially when a
// caller later replaces them with a first concrete value.
type ValueState int

const (
	ValueUnset ValueState = iota
	ValueDefault
	ValueExplicit
)

func (s ValueState) String() string {
	switch s {
	case ValueDefault:
		return "default"
	case ValueExplicit:
		return "explicit"
	default:
		return "unset"
	}
}

// EntityReference points at another catalog entity by its stable name.
// Path carries the hierarchical position as dotted ltree-style text and is
// what scope checks run against.
type EntityReference struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	Path        string `json:"path,omitempty"`
}

// Key identifies a reference inside a collection. Two references with the
// same key are the same element regardless of display metadata.
func (r EntityReference) Key() string {
	return r.Type + ":" + r.Name
}

// IsUnder reports whether the reference sits inside the subtree rooted at
// path. An empty scope matches everything.
func (r EntityReference) IsUnder(path string) bool {
	if path == "" {
		return true
	}
	return r.Path == path || strings.HasPrefix(r.Path, path+".")
}

// FieldValue is one field slot on a snapshot. Scalar fields carry Value,
// reference-collection fields carry Refs. The zero value is the unset state.
type FieldValue struct {
	State ValueState        `json:"state"`
	Value any               `json:"value,omitempty"`
	Refs  []EntityReference `json:"refs,omitempty"`
}

// ScalarValue builds an explicitly set scalar field value.
func ScalarValue(v any) FieldValue {
	return FieldValue{State: ValueExplicit, Value: v}
}

// RefListValue builds an explicitly set reference collection value.
func RefListValue(refs ...EntityReference) FieldValue {
	return FieldValue{State: ValueExplicit, Refs: refs}
}

// DefaultRefListValue builds a system-applied default reference collection.
func DefaultRefListValue(refs ...EntityReference) FieldValue {
	return FieldValue{State: ValueDefault, Refs: refs}
}

// IsSet reports whether the field holds any value, default or explicit.
func (v FieldValue) IsSet() bool {
	return v.State != ValueUnset
}

// Snapshot is the full field-value state of one versioned entity. The core
// never mutates a snapshot in place; mutation helpers return copies.
type Snapshot struct {
	EntityType string                `json:"entityType"`
	Name       string                `json:"name"`
	Version    Version               `json:"version"`
	Fields     map[string]FieldValue `json:"fields"`

	// Path is the entity's position in its hierarchy (dotted text, teams
	// only); scope checks match against it.
	Path string `json:"path,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
}

// NewSnapshot creates an empty snapshot for the given entity identity.
func NewSnapshot(entityType, name string) Snapshot {
	return Snapshot{
		EntityType: entityType,
		Name:       name,
		Fields:     map[string]FieldValue{},
	}
}

// Field returns the value slot for name; missing fields read as unset.
func (s Snapshot) Field(name string) FieldValue {
	return s.Fields[name]
}

// WithField returns a copy of the snapshot with one field replaced.
func (s Snapshot) WithField(name string, value FieldValue) Snapshot {
	out := s.Clone()
	out.Fields[name] = value
	return out
}

// WithVersion returns a copy of the snapshot at the given version.
func (s Snapshot) WithVersion(v Version) Snapshot {
	out := s.Clone()
	out.Version = v
	return out
}

// Clone deep-copies the field map so callers can overlay patches without
// touching the persisted state.
func (s Snapshot) Clone() Snapshot {
	fields := make(map[string]FieldValue, len(s.Fields))
	for name, value := range s.Fields {
		if value.Refs != nil {
			value.Refs = append([]EntityReference(nil), value.Refs...)
		}
		fields[name] = value
	}
	out := s
	out.Fields = fields
	return out
}

// FieldNames returns the set fields in sorted order, mainly for logs and
// authorization checks that want a stable enumeration.
func (s Snapshot) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for name, value := range s.Fields {
		if value.IsSet() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (s Snapshot) String() string {
	return fmt.Sprintf("%s/%s@%s", s.EntityType, s.Name, s.Version)
}
