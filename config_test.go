package sqlconvention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sqlconvention.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NoError(t, err)
	assert.Equal(t, "./sql-tests/testcases", config.TestsDir)
	assert.Equal(t, "./sql-tests/datasets", config.DatasetsDir)
	assert.Equal(t, 2*time.Minute, config.Run.Timeout)
	assert.True(t, config.Tables.ShouldDropMutable())
	assert.True(t, config.Tables.ShouldDropImmutable())
}

func TestLoadConfig_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
tests_dir: ./cases
databases:
  psql:
    driver: pgx
    connection: postgres://localhost/test
run:
  parallel: 3
  timeout: 45s
  groups: [smoke]
tables:
  name_prefix: t_
  drop_immutable_tables: false
`)

	config, err := LoadConfig(path)
	assert.NoError(t, err)
	assert.Equal(t, "./cases", config.TestsDir)
	assert.Equal(t, "psql", config.DefaultDatabase)
	assert.Equal(t, DialectPostgres, config.Databases["psql"].Dialect)
	assert.Equal(t, 3, config.Run.Parallel)
	assert.Equal(t, 45*time.Second, config.Run.Timeout)
	assert.Equal(t, []string{"smoke"}, config.Run.Groups)
	assert.Equal(t, "t_", config.Tables.NamePrefix)
	assert.False(t, config.Tables.ShouldDropImmutable())
	assert.True(t, config.Tables.ShouldDropMutable())
}

func TestLoadConfig_StrictMode_UnknownKeys(t *testing.T) {
	path := writeConfig(t, `
tests_dir: ./cases
unknown_key: "should cause error"
`)

	_, err := LoadConfig(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		message string
	}{
		{
			name: "missing driver",
			content: `
databases:
  psql:
    connection: postgres://localhost/test
`,
			message: "driver is required",
		},
		{
			name: "unknown dialect",
			content: `
databases:
  psql:
    driver: pgx
    dialect: oracle
    connection: postgres://localhost/test
`,
			message: "invalid dialect",
		},
		{
			name: "unknown default database",
			content: `
default_database: hive
databases:
  psql:
    driver: pgx
    connection: postgres://localhost/test
`,
			message: "default_database 'hive'",
		},
		{
			name: "negative parallel",
			content: `
run:
  parallel: -1
`,
			message: "run.parallel",
		},
		{
			name: "bad log format",
			content: `
log:
  format: xml
`,
			message: "log.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			assert.IsError(t, err, ErrConfigValidation)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestLoadConfig_ExpandsEnvVars(t *testing.T) {
	t.Setenv("SQLCONV_TEST_DSN", "file:test.db")
	t.Setenv("SQLCONV_TEST_DIR", "./from-env")

	path := writeConfig(t, `
tests_dir: ${SQLCONV_TEST_DIR}
databases:
  lite:
    driver: sqlite3
    connection: $SQLCONV_TEST_DSN
`)

	config, err := LoadConfig(path)
	assert.NoError(t, err)
	assert.Equal(t, "./from-env", config.TestsDir)
	assert.Equal(t, "file:test.db", config.Databases["lite"].Connection)
	assert.Equal(t, DialectSQLite, config.Databases["lite"].Dialect)
}

func TestDialect_Quoting(t *testing.T) {
	assert.Equal(t, `"s"."orders"`, DialectPostgres.QuoteQualified("s.orders"))
	assert.Equal(t, "`orders`", DialectMySQL.QuoteIdentifier("orders"))
	assert.Equal(t, "$2", DialectPostgres.Placeholder(2))
	assert.Equal(t, "?", DialectSQLite.Placeholder(2))
	assert.False(t, DialectSQLite.SupportsSchemas())
}
