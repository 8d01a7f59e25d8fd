package sqlbackend

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	mysqlcontainer "github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/shibukawa/sqlconvention"
	"github.com/shibukawa/sqlconvention/fulfillment"
	"github.com/shibukawa/sqlconvention/requirement"
	"github.com/shibukawa/sqlconvention/tabledef"
)

// setupPostgreSQLContainer starts a PostgreSQL container and returns the database connection
func setupPostgreSQLContainer(ctx context.Context, t *testing.T) *sql.DB {
	t.Helper()

	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	t.Cleanup(func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	})

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get PostgreSQL connection string: %v", err)
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		t.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	return db
}

// setupMySQLContainer starts a MySQL container and returns the database connection
func setupMySQLContainer(ctx context.Context, t *testing.T) *sql.DB {
	t.Helper()

	mysqlContainer, err := mysqlcontainer.RunContainer(ctx,
		testcontainers.WithImage("mysql:8.0"),
		mysqlcontainer.WithDatabase("testdb"),
		mysqlcontainer.WithUsername("testuser"),
		mysqlcontainer.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("port: 3306  MySQL Community Server").
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start MySQL container: %v", err)
	}

	t.Cleanup(func() {
		if err := mysqlContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate MySQL container: %v", err)
		}
	})

	connStr, err := mysqlContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get MySQL connection string: %v", err)
	}

	db, err := sql.Open("mysql", connStr)
	if err != nil {
		t.Fatalf("Failed to connect to MySQL: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		time.Sleep(time.Second)
		if i == 29 {
			t.Fatalf("Failed to ping MySQL after 30 seconds")
		}
	}

	return db
}

func ordersRepository(t *testing.T) *tabledef.Repository {
	t.Helper()

	repo := tabledef.NewRepository()
	require.NoError(t, repo.Register(tabledef.MustTableDefinition(
		"orders",
		"CREATE TABLE %NAME% (a int, b varchar(10))",
		tabledef.StaticDataSource(tabledef.Row{"1", "x"}, tabledef.Row{"2", "y"}),
	)))

	return repo
}

func TestPostgres_OrdersScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping PostgreSQL container test in short mode")
	}

	ctx := context.Background()
	db := setupPostgreSQLContainer(ctx, t)

	engine := fulfillment.NewEngine(ordersRepository(t), map[string]fulfillment.TableManager{
		"psql": NewManager(db, sqlconvention.DialectPostgres, nil),
	})

	reqs := []requirement.Requirement{
		requirement.Immutable("orders", requirement.InDatabase("psql")),
		requirement.Immutable("orders", requirement.InDatabase("psql"), requirement.InSchema("sales")),
	}

	report := engine.FulfillImmutable(ctx, reqs)
	require.NoError(t, report.ErrorOrNil())

	state := engine.ImmutableState("psql")

	plain, err := state.Get(tabledef.TableHandle{Name: "orders"})
	require.NoError(t, err)
	assert.ElementsMatch(t, [][]string{{"1", "x"}, {"2", "y"}}, queryStrings(t, db, "select * from "+plain.NameInDatabase))

	qualified, err := state.Get(tabledef.TableHandle{Name: "orders", Schema: "sales"})
	require.NoError(t, err)
	assert.Contains(t, qualified.NameInDatabase, "sales.")
	assert.ElementsMatch(t, [][]string{{"1", "x"}, {"2", "y"}}, queryStrings(t, db, "select * from "+qualified.NameInDatabase))

	// the pgx error stays reachable under DriverError
	manager := NewManager(db, sqlconvention.DialectPostgres, nil)
	err = manager.CreateTable(ctx, "", "CREATE TABLE "+plain.NameInDatabase+" (a int)")

	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr))
	assert.Equal(t, ErrorKindTableExists, KindOf(err))

	require.NoError(t, engine.DropImmutable(ctx))
	assert.Equal(t, 0, state.Len())
}

func TestMySQL_MutableTables(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping MySQL container test in short mode")
	}

	ctx := context.Background()
	db := setupMySQLContainer(ctx, t)

	engine := fulfillment.NewEngine(ordersRepository(t), map[string]fulfillment.TableManager{
		"mysql": NewManager(db, sqlconvention.DialectMySQL, nil),
	})

	req := requirement.Mutable("orders", requirement.InDatabase("mysql"))

	stateA, cleanupA, err := engine.FulfillMutable(ctx, req)
	require.NoError(t, err)

	a, err := stateA.Get(tabledef.Handle("orders"))
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, "INSERT INTO "+a.NameInDatabase+" VALUES (3, 'z')")
	require.NoError(t, err)

	stateB, cleanupB, err := engine.FulfillMutable(ctx, req)
	require.NoError(t, err)

	b, err := stateB.Get(tabledef.Handle("orders"))
	require.NoError(t, err)
	assert.ElementsMatch(t, [][]string{{"1", "x"}, {"2", "y"}}, queryStrings(t, db, "select * from "+b.NameInDatabase))

	require.NoError(t, cleanupA(ctx))
	require.NoError(t, cleanupB(ctx))

	_, err = db.ExecContext(ctx, "select * from "+a.NameInDatabase)

	var myErr *mysql.MySQLError
	require.True(t, errors.As(err, &myErr))
	assert.Equal(t, ErrorKindUndefinedTable, KindOf(err))
}
