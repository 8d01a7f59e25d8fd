// Package requirement describes the tables a test needs before it runs.
//
// A Requirement is a tagged union: Immutable and Mutable leaves name one table
// definition in a target database, Composite groups other requirements without
// any ordering among siblings.
package requirement

import (
	"fmt"
	"strings"

	"github.com/shibukawa/sqlconvention/tabledef"
)

// Kind discriminates the Requirement variants.
type Kind int

const (
	KindImmutable Kind = iota + 1
	KindMutable
	KindComposite
)

func (k Kind) String() string {
	switch k {
	case KindImmutable:
		return "immutable"
	case KindMutable:
		return "mutable"
	case KindComposite:
		return "composite"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Requirement is one node of a requirement tree. Leaves carry Table and Database,
// composites carry Children.
type Requirement struct {
	Kind     Kind
	Table    string
	Database string
	Schema   string
	Children []Requirement
}

// Option customizes a leaf requirement.
type Option func(*Requirement)

// InDatabase sets the target database name.
func InDatabase(database string) Option {
	return func(r *Requirement) {
		r.Database = database
	}
}

// InSchema sets the target schema.
func InSchema(schema string) Option {
	return func(r *Requirement) {
		r.Schema = schema
	}
}

// Immutable requires a shared read-only table created once per suite.
func Immutable(table string, opts ...Option) Requirement {
	return leaf(KindImmutable, table, opts)
}

// Mutable requires a table provisioned fresh for every test.
func Mutable(table string, opts ...Option) Requirement {
	return leaf(KindMutable, table, opts)
}

func leaf(kind Kind, table string, opts []Option) Requirement {
	r := Requirement{Kind: kind, Table: table}
	for _, opt := range opts {
		opt(&r)
	}

	return r
}

// Compose groups requirements. Nested composites are flattened and identical leaves
// are kept once; the first occurrence decides the position.
func Compose(reqs ...Requirement) Requirement {
	var (
		children []Requirement
		seen     = make(map[Key]struct{})
	)

	for _, r := range reqs {
		for _, l := range r.Leaves() {
			if _, ok := seen[l.Key()]; ok {
				continue
			}

			seen[l.Key()] = struct{}{}
			children = append(children, l)
		}
	}

	return Requirement{Kind: KindComposite, Children: children}
}

// IsZero reports whether r requires nothing.
func (r Requirement) IsZero() bool {
	return len(r.Leaves()) == 0
}

// Leaves returns the Immutable and Mutable requirements inside r in depth-first order.
func (r Requirement) Leaves() []Requirement {
	switch r.Kind {
	case KindImmutable, KindMutable:
		return []Requirement{r}
	case KindComposite:
		var leaves []Requirement
		for _, child := range r.Children {
			leaves = append(leaves, child.Leaves()...)
		}

		return leaves
	default:
		return nil
	}
}

// Immutables returns the immutable leaves of r.
func (r Requirement) Immutables() []Requirement {
	return r.filter(KindImmutable)
}

// Mutables returns the mutable leaves of r.
func (r Requirement) Mutables() []Requirement {
	return r.filter(KindMutable)
}

func (r Requirement) filter(kind Kind) []Requirement {
	var result []Requirement

	for _, l := range r.Leaves() {
		if l.Kind == kind {
			result = append(result, l)
		}
	}

	return result
}

// Handle is the lookup key tests use to find the provisioned table.
func (r Requirement) Handle() tabledef.TableHandle {
	return tabledef.TableHandle{Name: r.Table, Schema: r.Schema}
}

// Key identifies a distinct provisioning unit.
type Key struct {
	Kind     Kind
	Table    string
	Database string
	Schema   string
}

// Key returns the deduplication key of a leaf.
func (r Requirement) Key() Key {
	return Key{Kind: r.Kind, Table: r.Table, Database: r.Database, Schema: r.Schema}
}

func (k Key) String() string {
	handle := tabledef.TableHandle{Name: k.Table, Schema: k.Schema}
	return fmt.Sprintf("%s %s@%s", k.Kind, handle, k.Database)
}

func (r Requirement) String() string {
	if r.Kind != KindComposite {
		return r.Key().String()
	}

	parts := make([]string, 0, len(r.Children))
	for _, child := range r.Children {
		parts = append(parts, child.String())
	}

	return "[" + strings.Join(parts, ", ") + "]"
}
