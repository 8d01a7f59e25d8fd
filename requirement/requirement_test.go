package requirement

import (
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/shibukawa/sqlconvention/tabledef"
)

func TestLeafConstructors(t *testing.T) {
	r := Immutable("orders", InDatabase("psql"), InSchema("sales"))

	assert.Equal(t, KindImmutable, r.Kind)
	assert.Equal(t, "psql", r.Database)
	assert.Equal(t, tabledef.TableHandle{Name: "orders", Schema: "sales"}, r.Handle())
	assert.Equal(t, "immutable sales.orders@psql", r.String())

	m := Mutable("orders", InDatabase("psql"))
	assert.Equal(t, KindMutable, m.Kind)
	assert.NotEqual(t, r.Key(), m.Key())
}

func TestCompose_FlattensAndDeduplicates(t *testing.T) {
	orders := Immutable("orders", InDatabase("psql"))
	items := Mutable("items", InDatabase("psql"))

	nested := Compose(orders, Compose(items, orders), Requirement{})

	assert.Equal(t, KindComposite, nested.Kind)
	assert.Equal(t, []Requirement{orders, items}, nested.Leaves())
	assert.Equal(t, []Requirement{orders}, nested.Immutables())
	assert.Equal(t, []Requirement{items}, nested.Mutables())
}

func TestCompose_SameTableDifferentKindOrDatabase(t *testing.T) {
	c := Compose(
		Immutable("orders", InDatabase("psql")),
		Mutable("orders", InDatabase("psql")),
		Immutable("orders", InDatabase("mysql")),
	)

	assert.Equal(t, 3, len(c.Leaves()))
}

func TestIsZero(t *testing.T) {
	assert.True(t, Compose().IsZero())
	assert.True(t, Requirement{}.IsZero())
	assert.False(t, Compose(Immutable("orders")).IsZero())
}
