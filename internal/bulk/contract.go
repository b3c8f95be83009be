package bulk

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rpattn/metacat/internal/domain"
	"github.com/rpattn/metacat/pkg/validator"
)

const (
	// Separator joins columns on the wire.
	Separator = ","
	// FieldSeparator joins the values of a multi-valued column inside one
	// cell; it is reserved from the primary separator.
	FieldSeparator = ";"
)

// Column declares one named, typed column of a CSV contract.
type Column struct {
	Name string

	// Field is the snapshot field the column maps onto; defaults to Name.
	Field string

	Required bool
	Pattern  *regexp.Regexp
	Enum     []string

	// ReferenceType makes the column a foreign key: every value must
	// resolve to an existing entity of this type.
	ReferenceType string

	// Multi allows several FieldSeparator-joined values in one cell.
	Multi bool

	// Scoped columns must resolve inside the caller's scope hint.
	Scoped bool

	// Bool coerces the cell into a boolean scalar.
	Bool bool
}

// FieldName returns the snapshot field the column maps onto.
func (c Column) FieldName() string {
	if c.Field != "" {
		return c.Field
	}
	return c.Name
}

// Rule exposes the column's declarative checks to the field validator.
func (c Column) Rule() validator.FieldRule {
	return validator.FieldRule{Required: c.Required, Pattern: c.Pattern, Enum: c.Enum}
}

// Contract is the immutable, ordered header contract declared per entity
// type. KeyColumn names the column holding the entity's stable name.
type Contract struct {
	EntityType string
	Columns    []Column
	KeyColumn  int
}

// Header returns the declared column names in order.
func (c Contract) Header() []string {
	names := make([]string, len(c.Columns))
	for i, col := range c.Columns {
		names[i] = col.Name
	}
	return names
}

// ResultHeader is the header of the echoed result rows: status and details
// columns prepended to the declared header.
func (c Contract) ResultHeader() []string {
	return append([]string{"status", "details"}, c.Header()...)
}

// MatchesHeader reports whether a submitted header row matches the contract.
func (c Contract) MatchesHeader(header []string) bool {
	if len(header) != len(c.Columns) {
		return false
	}
	for i, col := range c.Columns {
		if !strings.EqualFold(strings.TrimSpace(header[i]), col.Name) {
			return false
		}
	}
	return true
}

// ScopedColumn returns the index of the column scope filtering applies to,
// or -1 when the contract declares none.
func (c Contract) ScopedColumn() int {
	for i, col := range c.Columns {
		if col.Scoped {
			return i
		}
	}
	return -1
}

// Validate catches malformed contracts at registration time.
func (c Contract) Validate() error {
	if c.EntityType == "" {
		return fmt.Errorf("contract missing entity type")
	}
	if len(c.Columns) == 0 {
		return fmt.Errorf("contract for %s declares no columns", c.EntityType)
	}
	if c.KeyColumn < 0 || c.KeyColumn >= len(c.Columns) {
		return fmt.Errorf("contract for %s: key column %d out of range", c.EntityType, c.KeyColumn)
	}
	seen := map[string]bool{}
	for _, col := range c.Columns {
		name := strings.ToLower(col.Name)
		if seen[name] {
			return fmt.Errorf("contract for %s declares column %s twice", c.EntityType, col.Name)
		}
		seen[name] = true
	}
	return nil
}

// renderCell turns one snapshot field back into its wire form, the inverse
// of the import mapping.
func renderCell(col Column, value domain.FieldValue) string {
	if !value.IsSet() {
		return ""
	}
	if col.ReferenceType != "" {
		names := make([]string, len(value.Refs))
		for i, ref := range value.Refs {
			names[i] = ref.Name
		}
		return strings.Join(names, FieldSeparator)
	}
	if col.Bool {
		b, _ := value.Value.(bool)
		return strconv.FormatBool(b)
	}
	if value.Value == nil {
		return ""
	}
	return fmt.Sprintf("%v", value.Value)
}
