package main

import (
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/shibukawa/sqlconvention"
	"github.com/shibukawa/sqlconvention/convention"
	"github.com/shibukawa/sqlconvention/fulfillment"
	"github.com/shibukawa/sqlconvention/fulfillment/sqlbackend"
	"github.com/shibukawa/sqlconvention/logger"
	"github.com/shibukawa/sqlconvention/query"
	"github.com/shibukawa/sqlconvention/tabledef"
)

// environment is everything built from the configuration file.
type environment struct {
	config   *sqlconvention.Config
	logger   *zap.Logger
	repo     *tabledef.Repository
	dbs      map[string]*sql.DB
	registry *query.Registry
	managers map[string]fulfillment.TableManager
}

// loadEnvironment reads the configuration, builds the logger and registers the
// convention table definitions. Databases are not opened.
func loadEnvironment(ctx *Context) (*environment, error) {
	config, err := sqlconvention.LoadConfig(ctx.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logOpts := logger.FromConfig(config.Log)

	switch {
	case ctx.Verbose:
		logOpts.Level = "debug"
	case ctx.Quiet:
		logOpts.Level = "error"
	}

	log, err := logger.New(logOpts)
	if err != nil {
		return nil, err
	}

	repo := tabledef.NewRepository()
	if err := tabledef.LoadConventionDefinitions(repo, config.DatasetsDir, log); err != nil {
		return nil, fmt.Errorf("failed to load table definitions: %w", err)
	}

	return &environment{
		config:   config,
		logger:   log,
		repo:     repo,
		dbs:      make(map[string]*sql.DB),
		registry: query.NewRegistry(),
		managers: make(map[string]fulfillment.TableManager),
	}, nil
}

// open connects the named databases and registers their executors and table managers.
// Names missing from the configuration are skipped; tests using them fail on their
// own when the executor or table manager cannot be resolved.
func (env *environment) open(names ...string) error {
	for _, name := range names {
		if _, ok := env.dbs[name]; ok {
			continue
		}

		cfg, ok := env.config.Databases[name]
		if !ok {
			env.logger.Warn("skipping unconfigured database",
				zap.String("database", name),
				zap.Error(ErrDatabaseNotConfigured))

			continue
		}

		db, err := sql.Open(normalizeSQLDriverName(cfg.Driver), cfg.Connection)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDatabaseConnection, name, err)
		}

		if cfg.Dialect == sqlconvention.DialectSQLite && strings.Contains(cfg.Connection, ":memory:") {
			// every connection to :memory: is a separate database
			db.SetMaxOpenConns(1)
		}

		env.dbs[name] = db
		env.registry.Register(name, query.NewSQLExecutor(db))
		env.managers[name] = sqlbackend.NewManager(db, cfg.Dialect, env.logger.Named(name))

		env.logger.Debug("opened database", zap.String("database", name), zap.String("driver", cfg.Driver))
	}

	return nil
}

func (env *environment) factory() *convention.Factory {
	return convention.NewFactory(env.repo,
		convention.WithDefaultDatabase(env.config.DefaultDatabase),
		convention.WithLogger(env.logger))
}

func (env *environment) engine(keepTables bool) *fulfillment.Engine {
	return fulfillment.NewEngine(env.repo, env.managers,
		fulfillment.WithLogger(env.logger),
		fulfillment.WithNameGenerator(fulfillment.NewNameGenerator(env.config.Tables.NamePrefix)),
		fulfillment.WithParallel(env.config.Tables.ProvisionParallel),
		fulfillment.WithDropMutable(env.config.Tables.ShouldDropMutable() && !keepTables))
}

func (env *environment) Close() error {
	var result *multierror.Error

	names := make([]string, 0, len(env.dbs))
	for name := range env.dbs {
		names = append(names, name)
	}

	slices.Sort(names)

	for _, name := range names {
		if err := env.dbs[name].Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
		}
	}

	_ = env.logger.Sync()

	return result.ErrorOrNil()
}

func normalizeSQLDriverName(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pgx":
		return "pgx"
	case "mysql", "mariadb":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite3"
	default:
		return strings.ToLower(strings.TrimSpace(driver))
	}
}
