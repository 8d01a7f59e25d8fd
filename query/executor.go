// Package query runs SQL against a named database and returns its rows.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shibukawa/sqlconvention"
)

// QueryType tells the executor whether the statement returns rows.
type QueryType string

const (
	// Unspecified lets the executor infer the type from the statement.
	Unspecified QueryType = ""
	Select      QueryType = "select"
	Update      QueryType = "update"
)

// ParseQueryType parses a query_type annotation value.
func ParseQueryType(s string) (QueryType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return Unspecified, nil
	case "select":
		return Select, nil
	case "update":
		return Update, nil
	default:
		return Unspecified, fmt.Errorf("%w: '%s': must be select or update", sqlconvention.ErrUnsupportedQueryType, s)
	}
}

var (
	selectPrefix = regexp.MustCompile(`(?i)^(select|with|show|values|explain|describe|desc|pragma|table)\b`)
	commentLine  = regexp.MustCompile(`(?m)^\s*--.*$`)
)

// InferQueryType returns Select for statements that produce rows and Update otherwise.
func InferQueryType(sql string) QueryType {
	stripped := strings.TrimSpace(commentLine.ReplaceAllString(sql, ""))
	stripped = strings.TrimLeft(stripped, "( \t\r\n")

	if selectPrefix.MatchString(stripped) {
		return Select
	}

	return Update
}

// Result is the outcome of one statement. Update statements produce a single
// column "count" holding RowsAffected.
type Result struct {
	SQL          string
	Columns      []string
	Rows         [][]any
	RowsAffected int64
	Duration     time.Duration
}

// Executor runs SQL. Implementations must honor ctx cancellation.
type Executor interface {
	ExecuteQuery(ctx context.Context, sql string, qt QueryType) (*Result, error)
}

// SQLExecutor executes queries through database/sql.
type SQLExecutor struct {
	db *sql.DB
}

// NewSQLExecutor creates a new query executor
func NewSQLExecutor(db *sql.DB) *SQLExecutor {
	return &SQLExecutor{db: db}
}

func (e *SQLExecutor) DB() *sql.DB { return e.db }

func (e *SQLExecutor) ExecuteQuery(ctx context.Context, sql string, qt QueryType) (*Result, error) {
	if qt == Unspecified {
		qt = InferQueryType(sql)
	}

	switch qt {
	case Select:
		return e.executeSelect(ctx, sql)
	case Update:
		return e.executeUpdate(ctx, sql)
	default:
		return nil, fmt.Errorf("%w: %s", sqlconvention.ErrUnsupportedQueryType, qt)
	}
}

func (e *SQLExecutor) executeSelect(ctx context.Context, query string) (*Result, error) {
	startTime := time.Now()

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get column names: %w", err)
	}

	result := &Result{SQL: query, Columns: columns}

	values := make([]any, len(columns))
	scanArgs := make([]any, len(columns))

	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make([]any, len(columns))
		for i, v := range values {
			row[i] = convertSQLValue(v)
		}

		result.Rows = append(result.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	result.RowsAffected = int64(len(result.Rows))
	result.Duration = time.Since(startTime)

	return result, nil
}

func (e *SQLExecutor) executeUpdate(ctx context.Context, query string) (*Result, error) {
	startTime := time.Now()

	res, err := e.db.ExecContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return &Result{
		SQL:          query,
		Columns:      []string{"count"},
		Rows:         [][]any{{affected}},
		RowsAffected: affected,
		Duration:     time.Since(startTime),
	}, nil
}

// convertSQLValue converts driver values to plain Go types
func convertSQLValue(v any) any {
	switch value := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(value)
	default:
		return value
	}
}
