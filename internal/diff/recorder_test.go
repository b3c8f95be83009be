package diff

import (
	"testing"

	"github.com/rpattn/metacat/internal/domain"
)

func userDescriptor() domain.EntityDescriptor {
	return domain.EntityDescriptor{
		EntityType: "user",
		Fields: []domain.FieldDescriptor{
			{Name: "name", Kind: domain.KindScalar, Identity: true},
			{Name: "description", Kind: domain.KindScalar},
			{Name: "owner", Kind: domain.KindReference},
			{Name: "teams", Kind: domain.KindReferenceList},
			{Name: "inheritedRoles", Kind: domain.KindReferenceList, SystemManaged: true},
		},
	}
}

func snapshot(fields map[string]domain.FieldValue) domain.Snapshot {
	s := domain.NewSnapshot("user", "alice")
	for name, value := range fields {
		s.Fields[name] = value
	}
	return s
}

func teamRef(name string) domain.EntityReference {
	return domain.EntityReference{Type: "team", Name: name}
}

func TestRecordScalarLifecycle(t *testing.T) {
	desc := userDescriptor()

	added := Record(desc,
		snapshot(nil),
		snapshot(map[string]domain.FieldValue{"description": domain.ScalarValue("hi")}))
	if len(added.Changes) != 1 || added.Changes[0].Kind != domain.FieldAdded {
		t.Fatalf("expected single ADDED, got %+v", added.Changes)
	}

	updated := Record(desc,
		snapshot(map[string]domain.FieldValue{"description": domain.ScalarValue("hi")}),
		snapshot(map[string]domain.FieldValue{"description": domain.ScalarValue("bye")}))
	if len(updated.Changes) != 1 || updated.Changes[0].Kind != domain.FieldUpdated {
		t.Fatalf("expected single UPDATED, got %+v", updated.Changes)
	}
	if updated.Changes[0].OldValue != "hi" || updated.Changes[0].NewValue != "bye" {
		t.Fatalf("unexpected values: %+v", updated.Changes[0])
	}

	deleted := Record(desc,
		snapshot(map[string]domain.FieldValue{"description": domain.ScalarValue("hi")}),
		snapshot(nil))
	if len(deleted.Changes) != 1 || deleted.Changes[0].Kind != domain.FieldDeleted {
		t.Fatalf("expected single DELETED, got %+v", deleted.Changes)
	}
}

func TestRecordNoChangeForEqualSnapshots(t *testing.T) {
	desc := userDescriptor()
	state := map[string]domain.FieldValue{
		"description": domain.ScalarValue("same"),
		"teams":       domain.RefListValue(teamRef("alpha")),
	}
	record := Record(desc, snapshot(state), snapshot(state))
	if !record.IsEmpty() || record.UpdateType != domain.NoChange {
		t.Fatalf("expected empty NO_CHANGE record, got %+v", record)
	}
}

func TestRecordDefaultToExplicitTransition(t *testing.T) {
	desc := userDescriptor()
	old := snapshot(map[string]domain.FieldValue{
		"description": {State: domain.ValueDefault, Value: "default"},
	})
	new := snapshot(map[string]domain.FieldValue{
		"description": domain.ScalarValue("chosen"),
	})

	record := Record(desc, old, new)
	if len(record.Changes) != 2 {
		t.Fatalf("expected DELETED+ADDED pair, got %+v", record.Changes)
	}
	if record.Changes[0].Kind != domain.FieldDeleted || record.Changes[0].OldValue != "default" {
		t.Fatalf("expected default withdrawn, got %+v", record.Changes[0])
	}
	if record.Changes[1].Kind != domain.FieldAdded || record.Changes[1].NewValue != "chosen" {
		t.Fatalf("expected chosen value added, got %+v", record.Changes[1])
	}
}

func TestRecordDefaultToExplicitSameValueIsNoChange(t *testing.T) {
	desc := userDescriptor()
	old := snapshot(map[string]domain.FieldValue{
		"description": {State: domain.ValueDefault, Value: "same"},
	})
	new := snapshot(map[string]domain.FieldValue{
		"description": domain.ScalarValue("same"),
	})
	if record := Record(desc, old, new); !record.IsEmpty() {
		t.Fatalf("expected no change for equal value, got %+v", record.Changes)
	}
}

func TestRecordCollectionSetDifference(t *testing.T) {
	desc := userDescriptor()
	old := snapshot(map[string]domain.FieldValue{
		"teams": domain.RefListValue(teamRef("alpha"), teamRef("beta")),
	})
	new := snapshot(map[string]domain.FieldValue{
		"teams": domain.RefListValue(teamRef("beta"), teamRef("gamma")),
	})

	record := Record(desc, old, new)
	if len(record.Changes) != 2 {
		t.Fatalf("expected DELETED and ADDED, got %+v", record.Changes)
	}
	removed, added := record.Changes[0], record.Changes[1]
	if removed.Kind != domain.FieldDeleted || len(removed.OldRefs) != 1 || removed.OldRefs[0].Name != "alpha" {
		t.Fatalf("expected alpha removed, got %+v", removed)
	}
	if added.Kind != domain.FieldAdded || len(added.NewRefs) != 1 || added.NewRefs[0].Name != "gamma" {
		t.Fatalf("expected gamma added, got %+v", added)
	}
}

func TestRecordCollectionReorderIsNoChange(t *testing.T) {
	desc := userDescriptor()
	old := snapshot(map[string]domain.FieldValue{
		"teams": domain.RefListValue(teamRef("alpha"), teamRef("beta")),
	})
	new := snapshot(map[string]domain.FieldValue{
		"teams": domain.RefListValue(teamRef("beta"), teamRef("alpha")),
	})
	if record := Record(desc, old, new); !record.IsEmpty() {
		t.Fatalf("expected reorder to read as no change, got %+v", record.Changes)
	}
}

func TestRecordSkipsSystemManagedFields(t *testing.T) {
	desc := userDescriptor()
	old := snapshot(map[string]domain.FieldValue{
		"inheritedRoles": domain.RefListValue(domain.EntityReference{Type: "role", Name: "viewer"}),
	})
	new := snapshot(nil)
	if record := Record(desc, old, new); !record.IsEmpty() {
		t.Fatalf("system-managed fields must not diff, got %+v", record.Changes)
	}
}

func TestRecordReferenceComparesByKey(t *testing.T) {
	desc := userDescriptor()
	old := snapshot(map[string]domain.FieldValue{
		"owner": domain.RefListValue(domain.EntityReference{Type: "user", Name: "bob", DisplayName: "Bob"}),
	})
	new := snapshot(map[string]domain.FieldValue{
		"owner": domain.RefListValue(domain.EntityReference{Type: "user", Name: "bob", DisplayName: "Robert"}),
	})
	if record := Record(desc, old, new); !record.IsEmpty() {
		t.Fatalf("display metadata must not register as a change, got %+v", record.Changes)
	}
}

func TestRecordClassifiesIdentityChangeAsMajor(t *testing.T) {
	desc := userDescriptor()
	old := snapshot(map[string]domain.FieldValue{"name": domain.ScalarValue("alice")})
	new := snapshot(map[string]domain.FieldValue{"name": domain.ScalarValue("alicia")})

	record := Record(desc, old, new)
	if record.UpdateType != domain.MajorUpdate {
		t.Fatalf("expected MAJOR for identity change, got %s", record.UpdateType)
	}
}
