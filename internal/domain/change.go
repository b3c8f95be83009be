package domain

// ChangeKind is the operation a field change represents.
type ChangeKind string

const (
	FieldAdded   ChangeKind = "ADDED"
	FieldUpdated ChangeKind = "UPDATED"
	FieldDeleted ChangeKind = "DELETED"
)

// FieldChange is one field-level operation inside a change record. Scalar
// fields carry plain values; reference-collection fields carry the added or
// removed elements in OldRefs/NewRefs so concurrent unrelated additions to
// the same collection never read as conflicting replacements.
type FieldChange struct {
	Field    string            `json:"field"`
	Kind     ChangeKind        `json:"kind"`
	OldValue any               `json:"oldValue,omitempty"`
	NewValue any               `json:"newValue,omitempty"`
	OldRefs  []EntityReference `json:"oldRefs,omitempty"`
	NewRefs  []EntityReference `json:"newRefs,omitempty"`
}

// ChangeRecord is the ordered field-level diff between two consecutive
// versions of one entity.
type ChangeRecord struct {
	PreviousVersion Version       `json:"previousVersion"`
	NewVersion      Version       `json:"newVersion"`
	UpdateType      UpdateType    `json:"updateType"`
	Changes         []FieldChange `json:"changes"`
}

// IsEmpty reports whether the record carries no field changes.
func (r ChangeRecord) IsEmpty() bool {
	return len(r.Changes) == 0
}

// ChangesFor returns the changes touching one field, preserving order.
func (r ChangeRecord) ChangesFor(field string) []FieldChange {
	var out []FieldChange
	for _, change := range r.Changes {
		if change.Field == field {
			out = append(out, change)
		}
	}
	return out
}

// Classify derives the update classification for a set of changes against a
// descriptor table: identity-field changes are major, anything else minor.
func Classify(desc EntityDescriptor, changes []FieldChange) UpdateType {
	if len(changes) == 0 {
		return NoChange
	}
	for _, change := range changes {
		if field, ok := desc.Field(change.Field); ok && field.Identity {
			return MajorUpdate
		}
	}
	return MinorUpdate
}

// Consolidate merges a follow-up record into the record already persisted
// for the same version, so repeated same-session patches stay one auditable
// record. Folding rules per field:
//
//   - ADDED then DELETED cancels out
//   - ADDED then UPDATED keeps ADDED with the final value
//   - repeated UPDATED collapses to original-old -> final-new (dropped when
//     the value came back to the original)
//   - UPDATED then DELETED becomes DELETED of the original value
//   - DELETED then re-ADDED stays a DELETED+ADDED pair unless the re-added
//     value equals the deleted one, in which case both drop
//   - collection changes fold element-wise: re-adding a removed element
//     cancels the removal and vice versa
//
// The result keeps prev's PreviousVersion and NewVersion and is
// reclassified against the merged change set.
func Consolidate(desc EntityDescriptor, prev, next ChangeRecord) ChangeRecord {
	merged := ChangeRecord{
		PreviousVersion: prev.PreviousVersion,
		NewVersion:      prev.NewVersion,
	}

	seen := map[string]bool{}
	order := make([]string, 0, len(prev.Changes)+len(next.Changes))
	for _, change := range append(append([]FieldChange{}, prev.Changes...), next.Changes...) {
		if !seen[change.Field] {
			seen[change.Field] = true
			order = append(order, change.Field)
		}
	}

	for _, field := range order {
		fd, _ := desc.Field(field)
		folded := foldFieldChanges(fd, prev.ChangesFor(field), next.ChangesFor(field))
		merged.Changes = append(merged.Changes, folded...)
	}

	merged.UpdateType = Classify(desc, merged.Changes)
	return merged
}

func foldFieldChanges(fd FieldDescriptor, prev, next []FieldChange) []FieldChange {
	if fd.Kind == KindReferenceList {
		return foldCollection(fd.Name, prev, next)
	}
	return foldScalar(fd, prev, next)
}

func foldScalar(fd FieldDescriptor, prev, next []FieldChange) []FieldChange {
	if len(next) == 0 {
		return prev
	}
	if len(prev) == 0 {
		return next
	}

	// A scalar field sees at most one change per record, except the
	// DELETED+ADDED pair a delete-then-readd consolidation produces.
	p := prev[len(prev)-1]
	n := next[0]

	switch {
	case p.Kind == FieldAdded && n.Kind == FieldUpdated:
		if len(prev) == 2 && prev[0].Kind == FieldDeleted && fd.valuesEqual(prev[0].OldValue, n.NewValue) {
			return nil
		}
		return keepLeadingDelete(prev, []FieldChange{{Field: fd.Name, Kind: FieldAdded, NewValue: n.NewValue}})
	case p.Kind == FieldAdded && n.Kind == FieldDeleted:
		return keepLeadingDelete(prev, nil)
	case p.Kind == FieldUpdated && n.Kind == FieldUpdated:
		if fd.valuesEqual(p.OldValue, n.NewValue) {
			return nil
		}
		return []FieldChange{{Field: fd.Name, Kind: FieldUpdated, OldValue: p.OldValue, NewValue: n.NewValue}}
	case p.Kind == FieldUpdated && n.Kind == FieldDeleted:
		return []FieldChange{{Field: fd.Name, Kind: FieldDeleted, OldValue: p.OldValue}}
	case p.Kind == FieldDeleted && n.Kind == FieldAdded:
		if fd.valuesEqual(p.OldValue, n.NewValue) {
			return nil
		}
		// Documented policy: a delete followed by a re-add with a different
		// value stays a DELETED+ADDED pair, not a collapsed UPDATED.
		return []FieldChange{p, {Field: fd.Name, Kind: FieldAdded, NewValue: n.NewValue}}
	default:
		return append(prev, next...)
	}
}

// keepLeadingDelete preserves a DELETED that preceded the ADDED being
// cancelled, so DELETE(a)+ADD(b) followed by DELETE(b) folds to DELETE(a).
func keepLeadingDelete(prev, folded []FieldChange) []FieldChange {
	if len(prev) == 2 && prev[0].Kind == FieldDeleted {
		return append([]FieldChange{prev[0]}, folded...)
	}
	return folded
}

func foldCollection(field string, prev, next []FieldChange) []FieldChange {
	added := newRefSet()
	removed := newRefSet()

	apply := func(changes []FieldChange) {
		for _, change := range changes {
			switch change.Kind {
			case FieldAdded:
				for _, ref := range change.NewRefs {
					if !removed.remove(ref) {
						added.add(ref)
					}
				}
			case FieldDeleted:
				for _, ref := range change.OldRefs {
					if !added.remove(ref) {
						removed.add(ref)
					}
				}
			}
		}
	}
	apply(prev)
	apply(next)

	var out []FieldChange
	if refs := removed.items(); len(refs) > 0 {
		out = append(out, FieldChange{Field: field, Kind: FieldDeleted, OldRefs: refs})
	}
	if refs := added.items(); len(refs) > 0 {
		out = append(out, FieldChange{Field: field, Kind: FieldAdded, NewRefs: refs})
	}
	return out
}

// refSet is an insertion-ordered set of entity references keyed by identity.
type refSet struct {
	order []string
	byKey map[string]EntityReference
}

func newRefSet() *refSet {
	return &refSet{byKey: map[string]EntityReference{}}
}

func (s *refSet) add(ref EntityReference) {
	key := ref.Key()
	if _, ok := s.byKey[key]; !ok {
		s.order = append(s.order, key)
	}
	s.byKey[key] = ref
}

func (s *refSet) remove(ref EntityReference) bool {
	key := ref.Key()
	if _, ok := s.byKey[key]; !ok {
		return false
	}
	delete(s.byKey, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *refSet) items() []EntityReference {
	out := make([]EntityReference, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.byKey[key])
	}
	return out
}
