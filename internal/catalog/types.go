package catalog

import (
	"regexp"
	"strings"

	"github.com/rpattn/metacat/internal/bulk"
	"github.com/rpattn/metacat/internal/domain"
)

// Built-in catalog entity types. The descriptor tables and CSV contracts
// below are the declared schema the diff and bulk engines walk; nothing is
// inferred from values at runtime.

const (
	TypeUser   = "user"
	TypeTeam   = "team"
	TypeRole   = "role"
	TypePolicy = "policy"
)

// OrganizationTeam is the root of the team hierarchy; every user belongs to
// it until a concrete team membership is chosen.
var OrganizationTeam = domain.EntityReference{
	Type: TypeTeam,
	Name: "Organization",
	Path: "organization",
}

var (
	// namePattern rejects the reserved "::" separator inside entity names,
	// written without lookahead for RE2.
	namePattern  = regexp.MustCompile(`^(?:[^:]|:[^:])*:?$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+$`)
)

var teamTypes = []string{"Organization", "BusinessUnit", "Division", "Department", "Group"}

// UserDefinition declares the user entity type.
func UserDefinition() TypeDefinition {
	return TypeDefinition{
		Descriptor: domain.EntityDescriptor{
			EntityType: TypeUser,
			Fields: []domain.FieldDescriptor{
				{Name: "name", Kind: domain.KindScalar, Identity: true},
				{Name: "displayName", Kind: domain.KindScalar},
				{Name: "description", Kind: domain.KindScalar},
				{Name: "email", Kind: domain.KindScalar, Identity: true},
				{Name: "timezone", Kind: domain.KindScalar},
				{Name: "isAdmin", Kind: domain.KindScalar, Protected: true},
				{Name: "teams", Kind: domain.KindReferenceList},
				{Name: "roles", Kind: domain.KindReferenceList},
				{Name: "inheritedRoles", Kind: domain.KindReferenceList, SystemManaged: true},
			},
		},
		Contract: bulk.Contract{
			EntityType: TypeUser,
			KeyColumn:  0,
			Columns: []bulk.Column{
				{Name: "name", Required: true, Pattern: namePattern},
				{Name: "displayName"},
				{Name: "description"},
				{Name: "email", Required: true, Pattern: emailPattern},
				{Name: "timezone"},
				{Name: "isAdmin", Bool: true},
				{Name: "teams", ReferenceType: TypeTeam, Multi: true, Scoped: true},
				{Name: "roles", ReferenceType: TypeRole, Multi: true},
			},
		},
		Defaults: func(snapshot domain.Snapshot) domain.Snapshot {
			if !snapshot.Field("teams").IsSet() {
				return snapshot.WithField("teams", domain.DefaultRefListValue(OrganizationTeam))
			}
			return snapshot
		},
	}
}

// TeamDefinition declares the team entity type.
func TeamDefinition() TypeDefinition {
	return TypeDefinition{
		Descriptor: domain.EntityDescriptor{
			EntityType: TypeTeam,
			Fields: []domain.FieldDescriptor{
				{Name: "name", Kind: domain.KindScalar, Identity: true},
				{Name: "displayName", Kind: domain.KindScalar},
				{Name: "description", Kind: domain.KindScalar},
				{Name: "teamType", Kind: domain.KindScalar},
				{Name: "parents", Kind: domain.KindReferenceList},
				{Name: "owner", Kind: domain.KindReference},
				{Name: "isJoinable", Kind: domain.KindScalar},
				{Name: "defaultRoles", Kind: domain.KindReferenceList},
				{Name: "policies", Kind: domain.KindReferenceList, Protected: true},
			},
		},
		Contract: bulk.Contract{
			EntityType: TypeTeam,
			KeyColumn:  0,
			Columns: []bulk.Column{
				{Name: "name", Required: true, Pattern: namePattern},
				{Name: "displayName"},
				{Name: "description"},
				{Name: "teamType", Required: true, Enum: teamTypes},
				{Name: "parents", ReferenceType: TypeTeam, Multi: true, Scoped: true},
				{Name: "owner", ReferenceType: TypeUser},
				{Name: "isJoinable", Bool: true},
				{Name: "defaultRoles", ReferenceType: TypeRole, Multi: true},
				{Name: "policies", ReferenceType: TypePolicy, Multi: true},
			},
		},
		Defaults: func(snapshot domain.Snapshot) domain.Snapshot {
			if !snapshot.Field("parents").IsSet() {
				return snapshot.WithField("parents", domain.DefaultRefListValue(OrganizationTeam))
			}
			return snapshot
		},
		DerivePath: TeamPath,
	}
}

// RoleDefinition declares the role entity type, a flat named grant that
// users and teams reference.
func RoleDefinition() TypeDefinition {
	return flatDefinition(TypeRole)
}

// PolicyDefinition declares the policy entity type teams attach.
func PolicyDefinition() TypeDefinition {
	return flatDefinition(TypePolicy)
}

func flatDefinition(entityType string) TypeDefinition {
	return TypeDefinition{
		Descriptor: domain.EntityDescriptor{
			EntityType: entityType,
			Fields: []domain.FieldDescriptor{
				{Name: "name", Kind: domain.KindScalar, Identity: true},
				{Name: "displayName", Kind: domain.KindScalar},
				{Name: "description", Kind: domain.KindScalar},
			},
		},
		Contract: bulk.Contract{
			EntityType: entityType,
			KeyColumn:  0,
			Columns: []bulk.Column{
				{Name: "name", Required: true, Pattern: namePattern},
				{Name: "displayName"},
				{Name: "description"},
			},
		},
	}
}

// TeamPath places a team under its first parent in the hierarchy.
func TeamPath(snapshot domain.Snapshot) string {
	segment := pathSegment(snapshot.Name)
	parents := snapshot.Field("parents")
	if len(parents.Refs) == 0 {
		return segment
	}
	return parents.Refs[0].Path + "." + segment
}

var pathSegmentPattern = regexp.MustCompile(`[^a-z0-9]+`)

func pathSegment(name string) string {
	segment := pathSegmentPattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	return strings.Trim(segment, "_")
}
