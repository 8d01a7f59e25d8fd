// Package sqlbackend implements fulfillment.TableManager on top of database/sql.
package sqlbackend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/shibukawa/sqlconvention"
	"github.com/shibukawa/sqlconvention/tabledef"
)

// DefaultBatchSize is the number of rows sent per INSERT statement.
const DefaultBatchSize = 100

// Manager creates, loads and drops tables through a *sql.DB.
type Manager struct {
	db        *sql.DB
	dialect   sqlconvention.Dialect
	batchSize int
	logger    *zap.Logger
}

// NewManager returns a Manager for db speaking dialect.
func NewManager(db *sql.DB, dialect sqlconvention.Dialect, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{db: db, dialect: dialect, batchSize: DefaultBatchSize, logger: logger}
}

// SetBatchSize overrides the multi-row insert size.
func (m *Manager) SetBatchSize(n int) {
	if n > 0 {
		m.batchSize = n
	}
}

func (m *Manager) Dialect() sqlconvention.Dialect { return m.dialect }

// Qualify returns schema.name where schemas exist. SQLite has no schemas of its
// own, so the schema is folded into the table name instead.
func (m *Manager) Qualify(schema, name string) string {
	switch {
	case schema == "":
		return name
	case m.dialect.SupportsSchemas():
		return strings.ToLower(schema) + "." + name
	default:
		return strings.ToLower(schema) + "_" + name
	}
}

func (m *Manager) CreateTable(ctx context.Context, schema, ddl string) error {
	if schema != "" && m.dialect.SupportsSchemas() {
		stmt := "CREATE SCHEMA IF NOT EXISTS " + m.dialect.QuoteIdentifier(strings.ToLower(schema))
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema %s: %w", schema, Describe(err))
		}
	}

	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return Describe(err)
	}

	m.logger.Debug("executed ddl", zap.String("ddl", ddl))

	return nil
}

// LoadRows bulk-loads rows. PostgreSQL connections opened through pgx use
// COPY FROM STDIN; everything else inserts in batches inside a single transaction.
func (m *Manager) LoadRows(ctx context.Context, table string, rows tabledef.RowIterator) (int64, error) {
	if m.dialect == sqlconvention.DialectPostgres {
		total, copied, err := m.copyRows(ctx, table, rows)
		if copied || err != nil {
			return total, err
		}
	}

	return m.insertRows(ctx, table, rows)
}

func (m *Manager) insertRows(ctx context.Context, table string, rows tabledef.RowIterator) (int64, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", Describe(err))
	}

	var (
		total int64
		width = -1
		batch []tabledef.Row
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		query, args, err := m.insertStatement(table, batch)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert rows %d-%d: %w", total+1, total+int64(len(batch)), Describe(err))
		}

		total += int64(len(batch))
		batch = batch[:0]

		return nil
	}

	for rows.Next() {
		row := rows.Row()
		if width < 0 {
			width = len(row)
		}

		if len(row) != width {
			_ = tx.Rollback()
			return 0, fmt.Errorf("%w: row %d of %s has %d values, expected %d", sqlconvention.ErrFormat, total+int64(len(batch))+1, table, len(row), width)
		}

		batch = append(batch, row)
		if len(batch) < m.batchSize {
			continue
		}

		if err := flush(); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}

	if err := rows.Err(); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to read rows: %w", err)
	}

	if err := flush(); err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rows: %w", Describe(err))
	}

	return total, nil
}

func (m *Manager) insertStatement(table string, batch []tabledef.Row) (string, []any, error) {
	width := len(batch[0])
	if width == 0 {
		return "", nil, fmt.Errorf("%w: empty row for %s", sqlconvention.ErrFormat, table)
	}

	var (
		b    strings.Builder
		args = make([]any, 0, width*len(batch))
		pos  = 1
	)

	b.WriteString("INSERT INTO ")
	b.WriteString(m.dialect.QuoteQualified(table))
	b.WriteString(" VALUES ")

	for i, row := range batch {
		if i > 0 {
			b.WriteString(", ")
		}

		b.WriteByte('(')

		for j, v := range row {
			if j > 0 {
				b.WriteString(", ")
			}

			b.WriteString(m.dialect.Placeholder(pos))
			args = append(args, v)
			pos++
		}

		b.WriteByte(')')
	}

	return b.String(), args, nil
}

func (m *Manager) DropTable(ctx context.Context, table string) error {
	stmt := "DROP TABLE IF EXISTS " + m.dialect.QuoteQualified(table)
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return Describe(err)
	}

	return nil
}
