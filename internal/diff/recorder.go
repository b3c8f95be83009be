// Package diff computes field-level change records between two snapshots of
// one entity, walking the declared descriptor table instead of reflecting
// over values.
package diff

import (
	"github.com/rpattn/metacat/internal/domain"
)

// Record diffs two snapshots of the same entity and returns the resulting
// change record with versions left unset; the merge engine decides the
// version pair once it knows whether the record consolidates.
//
// System-managed fields are skipped. Collection fields diff by element
// identity and produce one ADDED/DELETED change per direction, never a full
// replace.
func Record(desc domain.EntityDescriptor, old, new domain.Snapshot) domain.ChangeRecord {
	record := domain.ChangeRecord{}
	for _, field := range desc.DiffableFields() {
		record.Changes = append(record.Changes, diffField(field, old.Field(field.Name), new.Field(field.Name))...)
	}
	record.UpdateType = domain.Classify(desc, record.Changes)
	return record
}

func diffField(fd domain.FieldDescriptor, old, new domain.FieldValue) []domain.FieldChange {
	if fd.Kind == domain.KindReferenceList {
		return diffRefList(fd, old, new)
	}
	return diffScalar(fd, old, new)
}

func diffScalar(fd domain.FieldDescriptor, old, new domain.FieldValue) []domain.FieldChange {
	oldVal, newVal := scalarOf(fd, old), scalarOf(fd, new)
	switch {
	case !old.IsSet() && !new.IsSet():
		return nil
	case !old.IsSet():
		return []domain.FieldChange{{Field: fd.Name, Kind: domain.FieldAdded, NewValue: newVal}}
	case !new.IsSet():
		return []domain.FieldChange{{Field: fd.Name, Kind: domain.FieldDeleted, OldValue: oldVal}}
	case old.State == domain.ValueDefault && new.State == domain.ValueExplicit:
		// First concrete value replacing a creation-time default reads as
		// the default being withdrawn and the chosen value added, matching
		// what two independent diffs would have produced.
		if scalarEqual(fd, oldVal, newVal) {
			return nil
		}
		return []domain.FieldChange{
			{Field: fd.Name, Kind: domain.FieldDeleted, OldValue: oldVal},
			{Field: fd.Name, Kind: domain.FieldAdded, NewValue: newVal},
		}
	case !scalarEqual(fd, oldVal, newVal):
		return []domain.FieldChange{{Field: fd.Name, Kind: domain.FieldUpdated, OldValue: oldVal, NewValue: newVal}}
	default:
		return nil
	}
}

func diffRefList(fd domain.FieldDescriptor, old, new domain.FieldValue) []domain.FieldChange {
	if !old.IsSet() && !new.IsSet() {
		return nil
	}

	oldByKey := make(map[string]domain.EntityReference, len(old.Refs))
	for _, ref := range old.Refs {
		oldByKey[ref.Key()] = ref
	}
	newByKey := make(map[string]domain.EntityReference, len(new.Refs))
	for _, ref := range new.Refs {
		newByKey[ref.Key()] = ref
	}

	var added, removed []domain.EntityReference
	for _, ref := range old.Refs {
		if _, ok := newByKey[ref.Key()]; !ok {
			removed = append(removed, ref)
		}
	}
	for _, ref := range new.Refs {
		if _, ok := oldByKey[ref.Key()]; !ok {
			added = append(added, ref)
		}
	}

	var changes []domain.FieldChange
	if len(removed) > 0 {
		changes = append(changes, domain.FieldChange{Field: fd.Name, Kind: domain.FieldDeleted, OldRefs: removed})
	}
	if len(added) > 0 {
		changes = append(changes, domain.FieldChange{Field: fd.Name, Kind: domain.FieldAdded, NewRefs: added})
	}
	return changes
}

func scalarOf(fd domain.FieldDescriptor, value domain.FieldValue) any {
	if !value.IsSet() {
		return nil
	}
	if fd.Kind == domain.KindReference {
		if len(value.Refs) > 0 {
			return value.Refs[0]
		}
		return nil
	}
	return value.Value
}

func scalarEqual(fd domain.FieldDescriptor, a, b any) bool {
	if fd.Kind == domain.KindReference {
		ra, okA := a.(domain.EntityReference)
		rb, okB := b.(domain.EntityReference)
		if okA && okB {
			return ra.Key() == rb.Key()
		}
		return okA == okB
	}
	if fd.Equal != nil {
		return fd.Equal(a, b)
	}
	return a == b
}
