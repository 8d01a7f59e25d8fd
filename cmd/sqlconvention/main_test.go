package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/fatih/color"

	"github.com/shibukawa/sqlconvention"
	"github.com/shibukawa/sqlconvention/convention"
	"github.com/shibukawa/sqlconvention/query"
	"github.com/shibukawa/sqlconvention/requirement"
	"github.com/shibukawa/sqlconvention/testhelper"
)

func TestMain(m *testing.M) {
	color.NoColor = true

	os.Exit(m.Run())
}

// writeProject lays out a config, one dataset and one passing test case backed by
// an in-memory SQLite database.
func writeProject(t *testing.T) (string, *Context, *bytes.Buffer) {
	t.Helper()

	root := t.TempDir()

	testhelper.WriteFile(t, filepath.Join(root, "sqlconvention.yaml"), strings.Join([]string{
		"tests_dir: " + filepath.Join(root, "cases"),
		"datasets_dir: " + filepath.Join(root, "datasets"),
		"default_database: lite",
		"databases:",
		"  lite:",
		"    driver: sqlite3",
		`    connection: ":memory:"`,
		"log:",
		"  level: error",
		"",
	}, "\n"))

	testhelper.WriteFile(t, filepath.Join(root, "datasets", "orders.ddl"), "CREATE TABLE %NAME% (a int, b varchar(10))\n")
	testhelper.WriteFile(t, filepath.Join(root, "datasets", "orders.data"), "1|x\n2|y\n")

	testhelper.WriteFile(t, filepath.Join(root, "cases", "orders", "basic.sql"), "-- tables: orders\nSELECT a, b FROM ${orders} ORDER BY a\n")
	testhelper.WriteFile(t, filepath.Join(root, "cases", "orders", "basic.result"), "1|x\n2|y\n")

	out := &bytes.Buffer{}

	return root, &Context{Config: filepath.Join(root, "sqlconvention.yaml"), Quiet: true, Out: out}, out
}

func TestVersionCmd(t *testing.T) {
	out := &bytes.Buffer{}

	assert.NoError(t, (&VersionCmd{}).Run(&Context{Out: out}))
	assert.Equal(t, "sqlconvention "+version+"\n", out.String())
}

func TestNormalizeSQLDriverName(t *testing.T) {
	tests := map[string]string{
		"postgres":   "pgx",
		"PostgreSQL": "pgx",
		"pgx":        "pgx",
		"mariadb":    "mysql",
		"mysql":      "mysql",
		"sqlite":     "sqlite3",
		" sqlite3 ":  "sqlite3",
		"oracle":     "oracle",
	}

	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, normalizeSQLDriverName(in))
		})
	}
}

func TestListCmd(t *testing.T) {
	_, ctx, out := writeProject(t)

	assert.NoError(t, (&ListCmd{}).Run(ctx))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, 2, len(lines))
	assert.True(t, strings.HasPrefix(lines[0], "TEST"))
	assert.Contains(t, lines[1], "orders.basic")
	assert.Contains(t, lines[1], "lite")
	assert.Contains(t, lines[1], "orders(immutable)")
}

func TestTestCmd(t *testing.T) {
	t.Run("Passing", func(t *testing.T) {
		_, ctx, _ := writeProject(t)

		assert.NoError(t, (&TestCmd{}).Run(ctx))
	})

	t.Run("FailingResult", func(t *testing.T) {
		root, ctx, _ := writeProject(t)

		testhelper.WriteFile(t, filepath.Join(root, "broken", "sum.sql"), "-- tables: orders\nSELECT sum(a) FROM ${orders}\n")
		testhelper.WriteFile(t, filepath.Join(root, "broken", "sum.result"), "4\n")

		err := (&TestCmd{Dir: filepath.Join(root, "broken")}).Run(ctx)
		assert.True(t, errors.Is(err, ErrTestsFailed))
	})

	t.Run("UnconfiguredDatabaseFailsOnlyItsTest", func(t *testing.T) {
		root, ctx, out := writeProject(t)
		ctx.Quiet = false

		testhelper.WriteFile(t, filepath.Join(root, "cases", "ghost", "g.sql"), "-- database: ghost\nSELECT 1\n")
		testhelper.WriteFile(t, filepath.Join(root, "cases", "ghost", "g.result"), "1\n")

		err := (&TestCmd{}).Run(ctx)
		assert.True(t, errors.Is(err, ErrTestsFailed))
		assert.Contains(t, out.String(), "Tests: 2 total, 1 passed, 1 failed, 0 skipped")
		assert.Contains(t, out.String(), "ghost.g_0")
		assert.Contains(t, out.String(), sqlconvention.ErrExecutorResolution.Error())
		assert.NotContains(t, out.String(), "orders.basic")
	})

	t.Run("NothingSelected", func(t *testing.T) {
		_, ctx, _ := writeProject(t)

		err := (&TestCmd{Groups: []string{"nightly"}}).Run(ctx)
		assert.IsError(t, err, sqlconvention.ErrNoTestsSelected)
	})
}

func TestExecCmd(t *testing.T) {
	root, ctx, out := writeProject(t)

	cmd := &ExecCmd{
		File:    filepath.Join(root, "cases", "orders", "basic.sql"),
		Format:  "csv",
		Timeout: 10 * time.Second,
	}

	assert.NoError(t, cmd.Run(ctx))
	assert.Equal(t, "a,b\n1,x\n2,y\n", out.String())

	cmd.Format = "xml"
	assert.IsError(t, cmd.Run(ctx), query.ErrInvalidOutputFormat)

	ghost := filepath.Join(root, "ghost.sql")
	testhelper.WriteFile(t, ghost, "-- database: ghost\nSELECT 1\n")

	cmd = &ExecCmd{File: ghost, Format: "csv", Timeout: 10 * time.Second}
	assert.IsError(t, cmd.Run(ctx), sqlconvention.ErrExecutorResolution)
}

func TestDatabasesOfRequirements(t *testing.T) {
	blocks := []convention.QueryDescriptor{{Database: "psql"}, {Database: "lite"}}
	reqs := []requirement.Requirement{
		requirement.Compose(requirement.Immutable("orders", requirement.InDatabase("psql"))),
		requirement.Compose(requirement.Mutable("orders", requirement.InDatabase("mysql"))),
	}

	assert.Equal(t, []string{"lite", "mysql", "psql"}, databasesOfRequirements(blocks, reqs))
}
