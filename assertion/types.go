// Package assertion compares query results with expected rows.
package assertion

import (
	"fmt"
	"strings"

	"github.com/shibukawa/sqlconvention"
)

// ColumnType selects how an expected cell is compared with the actual value.
type ColumnType string

const (
	// TypeAuto compares numerically when the actual value is a number and textually otherwise.
	TypeAuto      ColumnType = ""
	TypeInteger   ColumnType = "integer"
	TypeBigint    ColumnType = "bigint"
	TypeDecimal   ColumnType = "decimal"
	TypeDouble    ColumnType = "double"
	TypeVarchar   ColumnType = "varchar"
	TypeChar      ColumnType = "char"
	TypeBoolean   ColumnType = "boolean"
	TypeDate      ColumnType = "date"
	TypeTimestamp ColumnType = "timestamp"
)

var typeAliases = map[string]ColumnType{
	"":          TypeAuto,
	"auto":      TypeAuto,
	"integer":   TypeInteger,
	"int":       TypeInteger,
	"smallint":  TypeInteger,
	"tinyint":   TypeInteger,
	"bigint":    TypeBigint,
	"decimal":   TypeDecimal,
	"numeric":   TypeDecimal,
	"double":    TypeDouble,
	"float":     TypeDouble,
	"real":      TypeDouble,
	"varchar":   TypeVarchar,
	"text":      TypeVarchar,
	"string":    TypeVarchar,
	"char":      TypeChar,
	"boolean":   TypeBoolean,
	"bool":      TypeBoolean,
	"date":      TypeDate,
	"timestamp": TypeTimestamp,
	"datetime":  TypeTimestamp,
}

// ParseColumnType accepts the canonical names and common SQL aliases, case-insensitively.
func ParseColumnType(s string) (ColumnType, error) {
	t, ok := typeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return TypeAuto, fmt.Errorf("%w: unknown column type '%s'", sqlconvention.ErrFormat, s)
	}

	return t, nil
}

// ParseColumnTypes parses a "|" separated type list such as "integer|varchar".
func ParseColumnTypes(s string) ([]ColumnType, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	parts := strings.Split(s, "|")
	types := make([]ColumnType, 0, len(parts))

	for _, p := range parts {
		t, err := ParseColumnType(p)
		if err != nil {
			return nil, err
		}

		types = append(types, t)
	}

	return types, nil
}

func (t ColumnType) numeric() bool {
	switch t {
	case TypeInteger, TypeBigint, TypeDecimal, TypeDouble:
		return true
	default:
		return false
	}
}

// OrderMode tells whether row order matters.
type OrderMode string

const (
	// OrderAny compares rows as multisets.
	OrderAny OrderMode = "any"
	// OrderExact compares rows position by position.
	OrderExact OrderMode = "exact"
)

func ParseOrderMode(s string) (OrderMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any", "unordered":
		return OrderAny, nil
	case "exact", "ordered":
		return OrderExact, nil
	default:
		return OrderAny, fmt.Errorf("%w: unknown order mode '%s'", sqlconvention.ErrFormat, s)
	}
}

// Expected describes the rows a query must return. Cells are kept as text and
// interpreted per column type at comparison time.
type Expected struct {
	Types            []ColumnType
	Rows             [][]string
	NullMarker       string
	Order            OrderMode
	IgnoreExcessRows bool
}

func (e Expected) columnType(i int) ColumnType {
	if i < len(e.Types) {
		return e.Types[i]
	}

	return TypeAuto
}
