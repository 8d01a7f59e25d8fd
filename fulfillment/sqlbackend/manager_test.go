package sqlbackend

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shibukawa/sqlconvention"
	"github.com/shibukawa/sqlconvention/fulfillment"
	"github.com/shibukawa/sqlconvention/requirement"
	"github.com/shibukawa/sqlconvention/tabledef"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)

	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	return db
}

func queryStrings(t *testing.T, db *sql.DB, query string) [][]string {
	t.Helper()

	rows, err := db.Query(query)
	require.NoError(t, err)
	defer rows.Close()

	columns, err := rows.Columns()
	require.NoError(t, err)

	var result [][]string

	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}

		require.NoError(t, rows.Scan(ptrs...))

		row := make([]string, len(values))
		for i, v := range values {
			switch v := v.(type) {
			case nil:
				row[i] = "NULL"
			case []byte:
				row[i] = string(v)
			default:
				row[i] = fmt.Sprint(v)
			}
		}

		result = append(result, row)
	}

	require.NoError(t, rows.Err())

	return result
}

func TestManager_CreateLoadDrop(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	m := NewManager(db, sqlconvention.DialectSQLite, nil)

	require.NoError(t, m.CreateTable(ctx, "", "CREATE TABLE t1 (a int, b varchar(10))"))

	rows := tabledef.NewSliceIterator([]tabledef.Row{{"1", "x"}, {"2", nil}})
	n, err := m.LoadRows(ctx, "t1", rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.ElementsMatch(t, [][]string{{"1", "x"}, {"2", "NULL"}}, queryStrings(t, db, "SELECT a, b FROM t1"))

	require.NoError(t, m.DropTable(ctx, "t1"))
	require.NoError(t, m.DropTable(ctx, "t1"), "drop is idempotent")

	_, err = db.Exec("SELECT * FROM t1")
	require.Error(t, err)
	assert.Equal(t, ErrorKindUndefinedTable, KindOf(err))
}

func TestManager_LoadRowsInBatches(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	m := NewManager(db, sqlconvention.DialectSQLite, nil)
	m.SetBatchSize(2)

	require.NoError(t, m.CreateTable(ctx, "", "CREATE TABLE nums (n int)"))

	var data []tabledef.Row
	for i := range 5 {
		data = append(data, tabledef.Row{i})
	}

	n, err := m.LoadRows(ctx, "nums", tabledef.NewSliceIterator(data))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, [][]string{{"5"}}, queryStrings(t, db, "SELECT count(*) FROM nums"))
}

func TestManager_LoadRowsRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	m := NewManager(db, sqlconvention.DialectSQLite, nil)
	m.SetBatchSize(1)

	require.NoError(t, m.CreateTable(ctx, "", "CREATE TABLE t2 (a int, b text)"))

	_, err := m.LoadRows(ctx, "t2", tabledef.NewSliceIterator([]tabledef.Row{{"1", "x"}, {"2"}}))
	require.ErrorIs(t, err, sqlconvention.ErrFormat)
	assert.Equal(t, [][]string{{"0"}}, queryStrings(t, db, "SELECT count(*) FROM t2"))
}

func TestManager_DriverErrors(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	m := NewManager(db, sqlconvention.DialectSQLite, nil)

	require.NoError(t, m.CreateTable(ctx, "", "CREATE TABLE dup (a int)"))

	err := m.CreateTable(ctx, "", "CREATE TABLE dup (a int)")
	require.Error(t, err)

	var de *DriverError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "sqlite", de.Driver)
	assert.Equal(t, ErrorKindTableExists, de.Kind)
	assert.Contains(t, err.Error(), "table already exists")

	err = m.CreateTable(ctx, "", "CREATE TABL nope")
	assert.Equal(t, ErrorKindSyntax, KindOf(err))
}

func TestManager_Qualify(t *testing.T) {
	sqlite := NewManager(nil, sqlconvention.DialectSQLite, nil)
	assert.Equal(t, "orders_x", sqlite.Qualify("", "orders_x"))
	assert.Equal(t, "sales_orders_x", sqlite.Qualify("Sales", "orders_x"))

	pg := NewManager(nil, sqlconvention.DialectPostgres, nil)
	assert.Equal(t, "sales.orders_x", pg.Qualify("Sales", "orders_x"))
}

func TestManager_InsertStatementPlaceholders(t *testing.T) {
	pg := NewManager(nil, sqlconvention.DialectPostgres, nil)

	query, args, err := pg.insertStatement("s.t", []tabledef.Row{{1, "a"}, {2, "b"}})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "s"."t" VALUES ($1, $2), ($3, $4)`, query)
	assert.Equal(t, []any{1, "a", 2, "b"}, args)

	my := NewManager(nil, sqlconvention.DialectMySQL, nil)

	query, _, err = my.insertStatement("t", []tabledef.Row{{1}})
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO `t` VALUES (?)", query)
}

// TestEngine_OrdersScenario provisions a convention definition through the engine
// into SQLite and reads it back by its physical name.
func TestEngine_OrdersScenario(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.ddl"), []byte("CREATE TABLE %NAME% (a int, b varchar(10))"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.data"), []byte("1|x\n2|y\n"), 0o644))

	repo := tabledef.NewRepository()
	require.NoError(t, tabledef.LoadConventionDefinitions(repo, dir, nil))

	engine := fulfillment.NewEngine(repo, map[string]fulfillment.TableManager{
		"psql": NewManager(db, sqlconvention.DialectSQLite, nil),
	})

	report := engine.FulfillImmutable(ctx, []requirement.Requirement{requirement.Immutable("orders", requirement.InDatabase("psql"))})
	require.NoError(t, report.ErrorOrNil())

	instance, err := engine.ImmutableState("psql").Get(tabledef.TableHandle{Name: "orders"})
	require.NoError(t, err)
	assert.NotEqual(t, "orders", instance.NameInDatabase)

	got := queryStrings(t, db, "select * from "+instance.NameInDatabase)
	assert.ElementsMatch(t, [][]string{{"1", "x"}, {"2", "y"}}, got)

	require.NoError(t, engine.DropImmutable(ctx))

	_, err = db.Exec("select * from " + instance.NameInDatabase)
	assert.Equal(t, ErrorKindUndefinedTable, KindOf(err))
}

func TestWriteCopyText(t *testing.T) {
	t.Run("EscapesAndNulls", func(t *testing.T) {
		var b strings.Builder

		rows := tabledef.NewSliceIterator([]tabledef.Row{
			{"1", "plain"},
			{int64(2), "tab\there"},
			{nil, "back\\slash\nnewline"},
			{true, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		})

		require.NoError(t, writeCopyText(&b, "orders", rows))
		assert.Equal(t, "1\tplain\n"+
			"2\ttab\\there\n"+
			"\\N\tback\\\\slash\\nnewline\n"+
			"true\t2024-01-02T03:04:05Z\n", b.String())
	})

	t.Run("RaggedRows", func(t *testing.T) {
		var b strings.Builder

		rows := tabledef.NewSliceIterator([]tabledef.Row{{"1", "x"}, {"2"}})

		err := writeCopyText(&b, "orders", rows)
		assert.ErrorIs(t, err, sqlconvention.ErrFormat)
		assert.Contains(t, err.Error(), "row 2 of orders has 1 values, expected 2")
	})
}
