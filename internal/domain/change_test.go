package domain

import (
	"encoding/json"
	"testing"
)

func consolidationDescriptor() EntityDescriptor {
	return EntityDescriptor{
		EntityType: "user",
		Fields: []FieldDescriptor{
			{Name: "name", Kind: KindScalar, Identity: true},
			{Name: "description", Kind: KindScalar},
			{Name: "timezone", Kind: KindScalar},
			{Name: "owner", Kind: KindReference},
			{Name: "teams", Kind: KindReferenceList},
		},
	}
}

func teamRef(name string) EntityReference {
	return EntityReference{Type: "team", Name: name}
}

func TestClassify(t *testing.T) {
	desc := consolidationDescriptor()

	if got := Classify(desc, nil); got != NoChange {
		t.Fatalf("expected NO_CHANGE for empty set, got %s", got)
	}
	minor := []FieldChange{{Field: "description", Kind: FieldUpdated}}
	if got := Classify(desc, minor); got != MinorUpdate {
		t.Fatalf("expected MINOR, got %s", got)
	}
	major := []FieldChange{
		{Field: "description", Kind: FieldUpdated},
		{Field: "name", Kind: FieldUpdated},
	}
	if got := Classify(desc, major); got != MajorUpdate {
		t.Fatalf("expected MAJOR when an identity field changes, got %s", got)
	}
}

func TestConsolidateAddThenUpdate(t *testing.T) {
	desc := consolidationDescriptor()
	prev := ChangeRecord{
		PreviousVersion: NewVersion(1, 0),
		NewVersion:      NewVersion(1, 1),
		Changes:         []FieldChange{{Field: "description", Kind: FieldAdded, NewValue: "first"}},
	}
	next := ChangeRecord{
		Changes: []FieldChange{{Field: "description", Kind: FieldUpdated, OldValue: "first", NewValue: "second"}},
	}

	merged := Consolidate(desc, prev, next)

	if len(merged.Changes) != 1 {
		t.Fatalf("expected 1 change, got %+v", merged.Changes)
	}
	change := merged.Changes[0]
	if change.Kind != FieldAdded || change.NewValue != "second" {
		t.Fatalf("expected ADDED with final value, got %+v", change)
	}
	if !merged.PreviousVersion.Equals(prev.PreviousVersion) || !merged.NewVersion.Equals(prev.NewVersion) {
		t.Fatalf("consolidation must keep prev's version pair, got %+v", merged)
	}
}

func TestConsolidateAddThenDeleteCancels(t *testing.T) {
	desc := consolidationDescriptor()
	prev := ChangeRecord{Changes: []FieldChange{{Field: "description", Kind: FieldAdded, NewValue: "x"}}}
	next := ChangeRecord{Changes: []FieldChange{{Field: "description", Kind: FieldDeleted, OldValue: "x"}}}

	merged := Consolidate(desc, prev, next)
	if !merged.IsEmpty() {
		t.Fatalf("expected add+delete to cancel, got %+v", merged.Changes)
	}
	if merged.UpdateType != NoChange {
		t.Fatalf("expected NO_CHANGE after cancellation, got %s", merged.UpdateType)
	}
}

func TestConsolidateRepeatedUpdates(t *testing.T) {
	desc := consolidationDescriptor()
	prev := ChangeRecord{Changes: []FieldChange{{Field: "timezone", Kind: FieldUpdated, OldValue: "UTC", NewValue: "CET"}}}
	next := ChangeRecord{Changes: []FieldChange{{Field: "timezone", Kind: FieldUpdated, OldValue: "CET", NewValue: "EST"}}}

	merged := Consolidate(desc, prev, next)
	if len(merged.Changes) != 1 {
		t.Fatalf("expected 1 change, got %+v", merged.Changes)
	}
	change := merged.Changes[0]
	if change.Kind != FieldUpdated || change.OldValue != "UTC" || change.NewValue != "EST" {
		t.Fatalf("expected original-old to final-new, got %+v", change)
	}
}

func TestConsolidateUpdateBackToOriginalDrops(t *testing.T) {
	desc := consolidationDescriptor()
	prev := ChangeRecord{Changes: []FieldChange{{Field: "timezone", Kind: FieldUpdated, OldValue: "UTC", NewValue: "CET"}}}
	next := ChangeRecord{Changes: []FieldChange{{Field: "timezone", Kind: FieldUpdated, OldValue: "CET", NewValue: "UTC"}}}

	merged := Consolidate(desc, prev, next)
	if !merged.IsEmpty() {
		t.Fatalf("expected round trip to drop, got %+v", merged.Changes)
	}
}

func TestConsolidateReferenceUpdateBackToOriginalDropsAfterReload(t *testing.T) {
	desc := consolidationDescriptor()
	prev := ChangeRecord{Changes: []FieldChange{{
		Field:    "owner",
		Kind:     FieldUpdated,
		OldValue: EntityReference{Type: "user", Name: "alice"},
		NewValue: EntityReference{Type: "user", Name: "bob"},
	}}}

	// A record reloaded from storage carries reference values as generic
	// JSON maps, not typed references.
	encoded, err := json.Marshal(prev)
	if err != nil {
		t.Fatalf("marshal returned error: %v", err)
	}
	var reloaded ChangeRecord
	if err := json.Unmarshal(encoded, &reloaded); err != nil {
		t.Fatalf("unmarshal returned error: %v", err)
	}
	if _, ok := reloaded.Changes[0].OldValue.(map[string]any); !ok {
		t.Fatalf("expected decoded map value, got %T", reloaded.Changes[0].OldValue)
	}

	next := ChangeRecord{Changes: []FieldChange{{
		Field:    "owner",
		Kind:     FieldUpdated,
		OldValue: EntityReference{Type: "user", Name: "bob"},
		NewValue: EntityReference{Type: "user", Name: "alice"},
	}}}

	merged := Consolidate(desc, reloaded, next)
	if !merged.IsEmpty() {
		t.Fatalf("expected reference round trip to drop, got %+v", merged.Changes)
	}
}

func TestConsolidateUpdateThenDelete(t *testing.T) {
	desc := consolidationDescriptor()
	prev := ChangeRecord{Changes: []FieldChange{{Field: "timezone", Kind: FieldUpdated, OldValue: "UTC", NewValue: "CET"}}}
	next := ChangeRecord{Changes: []FieldChange{{Field: "timezone", Kind: FieldDeleted, OldValue: "CET"}}}

	merged := Consolidate(desc, prev, next)
	if len(merged.Changes) != 1 {
		t.Fatalf("expected 1 change, got %+v", merged.Changes)
	}
	change := merged.Changes[0]
	if change.Kind != FieldDeleted || change.OldValue != "UTC" {
		t.Fatalf("expected DELETED of the original value, got %+v", change)
	}
}

func TestConsolidateDeleteThenReAddDifferentValue(t *testing.T) {
	desc := consolidationDescriptor()
	prev := ChangeRecord{Changes: []FieldChange{{Field: "description", Kind: FieldDeleted, OldValue: "old"}}}
	next := ChangeRecord{Changes: []FieldChange{{Field: "description", Kind: FieldAdded, NewValue: "new"}}}

	merged := Consolidate(desc, prev, next)
	if len(merged.Changes) != 2 {
		t.Fatalf("expected DELETED+ADDED pair, got %+v", merged.Changes)
	}
	if merged.Changes[0].Kind != FieldDeleted || merged.Changes[0].OldValue != "old" {
		t.Fatalf("expected leading DELETED of old, got %+v", merged.Changes[0])
	}
	if merged.Changes[1].Kind != FieldAdded || merged.Changes[1].NewValue != "new" {
		t.Fatalf("expected trailing ADDED of new, got %+v", merged.Changes[1])
	}
}

func TestConsolidateDeleteThenReAddSameValueCancels(t *testing.T) {
	desc := consolidationDescriptor()
	prev := ChangeRecord{Changes: []FieldChange{{Field: "description", Kind: FieldDeleted, OldValue: "same"}}}
	next := ChangeRecord{Changes: []FieldChange{{Field: "description", Kind: FieldAdded, NewValue: "same"}}}

	merged := Consolidate(desc, prev, next)
	if !merged.IsEmpty() {
		t.Fatalf("expected re-add of the deleted value to cancel, got %+v", merged.Changes)
	}
}

func TestConsolidateDeleteAddPairThenDelete(t *testing.T) {
	desc := consolidationDescriptor()
	prev := ChangeRecord{Changes: []FieldChange{
		{Field: "description", Kind: FieldDeleted, OldValue: "a"},
		{Field: "description", Kind: FieldAdded, NewValue: "b"},
	}}
	next := ChangeRecord{Changes: []FieldChange{{Field: "description", Kind: FieldDeleted, OldValue: "b"}}}

	merged := Consolidate(desc, prev, next)
	if len(merged.Changes) != 1 {
		t.Fatalf("expected the leading DELETED to survive, got %+v", merged.Changes)
	}
	if merged.Changes[0].Kind != FieldDeleted || merged.Changes[0].OldValue != "a" {
		t.Fatalf("expected DELETED of the original value, got %+v", merged.Changes[0])
	}
}

func TestConsolidateCollectionElementwise(t *testing.T) {
	desc := consolidationDescriptor()
	prev := ChangeRecord{Changes: []FieldChange{
		{Field: "teams", Kind: FieldAdded, NewRefs: []EntityReference{teamRef("alpha"), teamRef("beta")}},
	}}
	next := ChangeRecord{Changes: []FieldChange{
		{Field: "teams", Kind: FieldDeleted, OldRefs: []EntityReference{teamRef("beta")}},
		{Field: "teams", Kind: FieldAdded, NewRefs: []EntityReference{teamRef("gamma")}},
	}}

	merged := Consolidate(desc, prev, next)
	if len(merged.Changes) != 1 {
		t.Fatalf("expected one ADDED change, got %+v", merged.Changes)
	}
	change := merged.Changes[0]
	if change.Kind != FieldAdded || len(change.NewRefs) != 2 {
		t.Fatalf("expected alpha and gamma added, got %+v", change)
	}
	if change.NewRefs[0].Name != "alpha" || change.NewRefs[1].Name != "gamma" {
		t.Fatalf("expected insertion order alpha, gamma, got %+v", change.NewRefs)
	}
}

func TestConsolidateCollectionRemoveThenReAddCancels(t *testing.T) {
	desc := consolidationDescriptor()
	prev := ChangeRecord{Changes: []FieldChange{
		{Field: "teams", Kind: FieldDeleted, OldRefs: []EntityReference{teamRef("alpha")}},
	}}
	next := ChangeRecord{Changes: []FieldChange{
		{Field: "teams", Kind: FieldAdded, NewRefs: []EntityReference{teamRef("alpha")}},
	}}

	merged := Consolidate(desc, prev, next)
	if !merged.IsEmpty() {
		t.Fatalf("expected removal and re-add to cancel, got %+v", merged.Changes)
	}
}

func TestConsolidateReclassifies(t *testing.T) {
	desc := consolidationDescriptor()
	prev := ChangeRecord{Changes: []FieldChange{{Field: "description", Kind: FieldUpdated, OldValue: "a", NewValue: "b"}}}
	next := ChangeRecord{Changes: []FieldChange{{Field: "name", Kind: FieldUpdated, OldValue: "x", NewValue: "y"}}}

	merged := Consolidate(desc, prev, next)
	if merged.UpdateType != MajorUpdate {
		t.Fatalf("expected MAJOR after identity field joined the set, got %s", merged.UpdateType)
	}
}
