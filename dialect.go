package sqlconvention

import (
	"fmt"
	"strings"
)

// Dialect represents supported database dialects
// This type is shared across all packages
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
	DialectMariaDB  Dialect = "mariadb"
)

// DialectForDriver guesses the dialect from a database/sql driver name.
func DialectForDriver(driver string) Dialect {
	switch strings.ToLower(driver) {
	case "pgx", "postgres", "postgresql":
		return DialectPostgres
	case "mysql":
		return DialectMySQL
	case "mariadb":
		return DialectMariaDB
	case "sqlite", "sqlite3":
		return DialectSQLite
	default:
		return Dialect(driver)
	}
}

// QuoteIdentifier quotes a single identifier part.
func (d Dialect) QuoteIdentifier(identifier string) string {
	switch d {
	case DialectMySQL, DialectMariaDB:
		return "`" + strings.ReplaceAll(identifier, "`", "``") + "`"
	case DialectPostgres, DialectSQLite:
		return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
	default:
		return identifier
	}
}

// QuoteQualified quotes a dot separated name part by part.
func (d Dialect) QuoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.QuoteIdentifier(p)
	}

	return strings.Join(parts, ".")
}

// Placeholder returns the bind placeholder for the 1-based position.
func (d Dialect) Placeholder(position int) string {
	switch d {
	case DialectPostgres:
		return fmt.Sprintf("$%d", position)
	default:
		return "?"
	}
}

// SupportsSchemas reports whether CREATE SCHEMA is available.
func (d Dialect) SupportsSchemas() bool {
	switch d {
	case DialectPostgres, DialectMySQL, DialectMariaDB:
		return true
	default:
		return false
	}
}
