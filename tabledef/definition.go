// Package tabledef holds table definitions, the process-wide definition repository and the
// convention scanner that builds definitions from a datasets directory.
package tabledef

import (
	"fmt"
	"strings"

	"github.com/shibukawa/sqlconvention"
)

// NamePlaceholder is substituted with the physical table name in DDL templates.
const NamePlaceholder = "%NAME%"

// TableHandle is the logical key of a table in the state registries.
type TableHandle struct {
	Name   string
	Schema string
}

// Handle returns a handle without schema.
func Handle(name string) TableHandle {
	return TableHandle{Name: name}
}

// InSchema returns a copy of h bound to schema.
func (h TableHandle) InSchema(schema string) TableHandle {
	h.Schema = schema
	return h
}

// ParseHandle parses "name" or "schema.name".
func ParseHandle(s string) TableHandle {
	s = strings.TrimSpace(s)
	if schema, name, ok := strings.Cut(s, "."); ok {
		return TableHandle{Name: name, Schema: schema}
	}

	return TableHandle{Name: s}
}

func (h TableHandle) String() string {
	if h.Schema == "" {
		return h.Name
	}

	return h.Schema + "." + h.Name
}

// TableDefinition is a DDL template plus the rows seeded into each created table.
type TableDefinition struct {
	name        string
	ddlTemplate string
	dataSource  DataSource
}

// NewTableDefinition validates the template and returns a definition.
func NewTableDefinition(name, ddlTemplate string, dataSource DataSource) (*TableDefinition, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty table name", sqlconvention.ErrMalformedTemplate)
	}

	if n := strings.Count(ddlTemplate, NamePlaceholder); n != 1 {
		return nil, fmt.Errorf("%w: table '%s' has %d %s placeholders, expected exactly one", sqlconvention.ErrMalformedTemplate, name, n, NamePlaceholder)
	}

	if dataSource == nil {
		dataSource = EmptyDataSource()
	}

	return &TableDefinition{name: name, ddlTemplate: ddlTemplate, dataSource: dataSource}, nil
}

// MustTableDefinition is NewTableDefinition for statically known definitions.
func MustTableDefinition(name, ddlTemplate string, dataSource DataSource) *TableDefinition {
	def, err := NewTableDefinition(name, ddlTemplate, dataSource)
	if err != nil {
		panic(err)
	}

	return def
}

func (d *TableDefinition) Name() string           { return d.name }
func (d *TableDefinition) DDLTemplate() string    { return d.ddlTemplate }
func (d *TableDefinition) DataSource() DataSource { return d.dataSource }

// DDL returns the create statement for the given physical name.
func (d *TableDefinition) DDL(physicalName string) string {
	return strings.Replace(d.ddlTemplate, NamePlaceholder, physicalName, 1)
}
