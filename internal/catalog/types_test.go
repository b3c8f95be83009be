package catalog

import (
	"testing"

	"github.com/rpattn/metacat/internal/domain"
)

func TestBuiltInDefinitionsRegister(t *testing.T) {
	registry := NewRegistry()
	for _, def := range []TypeDefinition{UserDefinition(), TeamDefinition(), RoleDefinition(), PolicyDefinition()} {
		if err := registry.Register(def); err != nil {
			t.Fatalf("register %s returned error: %v", def.Descriptor.EntityType, err)
		}
	}
	if err := registry.Register(UserDefinition()); err == nil {
		t.Fatalf("duplicate registration must fail")
	}
}

func TestRegistryRejectsTypeMismatch(t *testing.T) {
	registry := NewRegistry()
	def := UserDefinition()
	def.Contract.EntityType = TypeTeam
	if err := registry.Register(def); err == nil {
		t.Fatalf("descriptor/contract disagreement must fail registration")
	}
}

func TestNamePatternRejectsReservedSeparator(t *testing.T) {
	for _, name := range []string{"alice", "a:b", "trailing:"} {
		if !namePattern.MatchString(name) {
			t.Fatalf("expected %q to be a valid name", name)
		}
	}
	for _, name := range []string{"a::b", "::", "x::"} {
		if namePattern.MatchString(name) {
			t.Fatalf("expected %q to be rejected", name)
		}
	}
}

func TestTeamPath(t *testing.T) {
	snapshot := domain.NewSnapshot(TypeTeam, "Data Infra")
	snapshot.Fields["parents"] = domain.RefListValue(domain.EntityReference{
		Type: TypeTeam, Name: "Platform", Path: "organization.platform",
	})
	if got := TeamPath(snapshot); got != "organization.platform.data_infra" {
		t.Fatalf("unexpected path: %q", got)
	}

	orphan := domain.NewSnapshot(TypeTeam, "Lonely")
	if got := TeamPath(orphan); got != "lonely" {
		t.Fatalf("unexpected orphan path: %q", got)
	}
}

func TestUserContractMatchesDeclaredHeader(t *testing.T) {
	header := []string{"name", "displayName", "description", "email", "timezone", "isAdmin", "teams", "roles"}
	if !UserDefinition().Contract.MatchesHeader(header) {
		t.Fatalf("user contract must accept its declared header")
	}
	if UserDefinition().Contract.MatchesHeader(header[:6]) {
		t.Fatalf("short header must be rejected")
	}
}

func TestTeamContractEnforcesTeamTypeEnum(t *testing.T) {
	contract := TeamDefinition().Contract
	col := contract.Columns[3]
	if col.Name != "teamType" || len(col.Enum) != 5 {
		t.Fatalf("unexpected teamType column: %+v", col)
	}
}
