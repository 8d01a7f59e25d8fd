package query

import (
	"bytes"
	"context"
	"database/sql"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shibukawa/sqlconvention"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, score REAL);
		INSERT INTO users VALUES (1, 'alice', 1.5), (2, 'bob', NULL);
	`)
	require.NoError(t, err)

	return db
}

func TestInferQueryType(t *testing.T) {
	tests := []struct {
		sql      string
		expected QueryType
	}{
		{"SELECT 1", Select},
		{"  select * from t", Select},
		{"WITH x AS (SELECT 1) SELECT * FROM x", Select},
		{"-- leading comment\nselect 1", Select},
		{"(SELECT 1) UNION (SELECT 2)", Select},
		{"values (1)", Select},
		{"INSERT INTO t VALUES (1)", Update},
		{"update t set a = 1", Update},
		{"DELETE FROM t", Update},
		{"selector_table_drop", Update},
	}

	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.expected, InferQueryType(tt.sql))
		})
	}
}

func TestParseQueryType(t *testing.T) {
	qt, err := ParseQueryType(" SELECT ")
	require.NoError(t, err)
	assert.Equal(t, Select, qt)

	qt, err = ParseQueryType("")
	require.NoError(t, err)
	assert.Equal(t, Unspecified, qt)

	_, err = ParseQueryType("merge")
	require.ErrorIs(t, err, sqlconvention.ErrUnsupportedQueryType)
}

func TestSQLExecutor_Select(t *testing.T) {
	exec := NewSQLExecutor(setupDB(t))

	result, err := exec.ExecuteQuery(context.Background(), "SELECT id, name, score FROM users ORDER BY id", Unspecified)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name", "score"}, result.Columns)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, []any{int64(1), "alice", 1.5}, result.Rows[0])
	assert.Equal(t, []any{int64(2), "bob", nil}, result.Rows[1])
	assert.Equal(t, int64(2), result.RowsAffected)
}

func TestSQLExecutor_Update(t *testing.T) {
	db := setupDB(t)
	exec := NewSQLExecutor(db)

	result, err := exec.ExecuteQuery(context.Background(), "UPDATE users SET score = 0", Update)
	require.NoError(t, err)

	assert.Equal(t, []string{"count"}, result.Columns)
	assert.Equal(t, [][]any{{int64(2)}}, result.Rows)
	assert.Equal(t, int64(2), result.RowsAffected)
}

func TestSQLExecutor_Cancelled(t *testing.T) {
	exec := NewSQLExecutor(setupDB(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.ExecuteQuery(ctx, "SELECT 1", Select)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	exec := NewSQLExecutor(setupDB(t))
	r.Register("psql", exec)

	got, err := r.Resolve("psql")
	require.NoError(t, err)
	assert.Same(t, exec, got)

	_, err = r.Resolve("hive")
	require.ErrorIs(t, err, sqlconvention.ErrExecutorResolution)
	assert.Contains(t, err.Error(), "'hive'")
	assert.Equal(t, []string{"psql"}, r.Databases())
}

func TestFormatter(t *testing.T) {
	result := &Result{
		Columns: []string{"id", "name"},
		Rows:    [][]any{{int64(1), "alice"}, {int64(2), nil}},
	}

	tests := []struct {
		format   OutputFormat
		contains []string
	}{
		{FormatTable, []string{"id   name", "1    alice", "2    NULL", "(2 rows"}},
		{FormatCSV, []string{"id,name\n1,alice\n2,NULL\n"}},
		{FormatMarkdown, []string{"| id | name |", "| 2 | NULL |"}},
		{FormatJSON, []string{`"count": 2`, `"name": "alice"`}},
		{FormatYAML, []string{"count: 2", "name: alice"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, NewFormatter(tt.format).Write(result, &buf))

			for _, s := range tt.contains {
				assert.Contains(t, buf.String(), s)
			}
		})
	}

	var buf bytes.Buffer
	require.ErrorIs(t, NewFormatter("xml").Write(result, &buf), ErrInvalidOutputFormat)
	assert.True(t, IsValidOutputFormat("JSON"))
	assert.False(t, IsValidOutputFormat("xml"))
	assert.True(t, strings.HasPrefix(FormatValue(nil), "NULL"))
}
