// Package fulfillment provisions the tables required by tests.
//
// Immutable requirements are provisioned once per suite into a per-database
// tablestate.State and shared by every test. Mutable requirements are provisioned
// for a single test into a fresh state that is torn down when the test ends.
package fulfillment

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shibukawa/sqlconvention"
	"github.com/shibukawa/sqlconvention/requirement"
	"github.com/shibukawa/sqlconvention/tabledef"
	"github.com/shibukawa/sqlconvention/tablestate"
)

// TableManager creates, loads and drops tables in one database.
type TableManager interface {
	// Qualify returns the identifier of a table named name inside schema.
	Qualify(schema, name string) string
	// CreateTable executes ddl, creating schema first when the database has schemas.
	CreateTable(ctx context.Context, schema, ddl string) error
	// LoadRows inserts every row and returns how many were written.
	LoadRows(ctx context.Context, table string, rows tabledef.RowIterator) (int64, error)
	DropTable(ctx context.Context, table string) error
}

// Cleanup tears down the mutable tables of one test.
type Cleanup func(ctx context.Context) error

const defaultProvisionParallel = 4

// Engine turns requirements into provisioned tables.
type Engine struct {
	repo     *tabledef.Repository
	managers map[string]TableManager
	names    *NameGenerator
	logger   *zap.Logger
	now      func() time.Time

	parallel    int
	dropMutable bool

	mu        sync.Mutex
	immutable map[string]*tablestate.State
	failures  map[requirement.Key]error
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithNameGenerator(names *NameGenerator) Option {
	return func(e *Engine) {
		if names != nil {
			e.names = names
		}
	}
}

// WithParallel bounds the number of immutable tables provisioned at once.
func WithParallel(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallel = n
		}
	}
}

// WithDropMutable controls whether mutable cleanup drops backend tables. When false
// the tables stay in the database and are only removed from the registry.
func WithDropMutable(drop bool) Option {
	return func(e *Engine) {
		e.dropMutable = drop
	}
}

func withClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine returns an engine resolving definitions from repo and provisioning
// through the manager registered under each requirement's database name.
func NewEngine(repo *tabledef.Repository, managers map[string]TableManager, opts ...Option) *Engine {
	e := &Engine{
		repo:        repo,
		managers:    managers,
		names:       NewNameGenerator(""),
		logger:      zap.NewNop(),
		now:         time.Now,
		parallel:    defaultProvisionParallel,
		dropMutable: true,
		immutable:   make(map[string]*tablestate.State),
		failures:    make(map[requirement.Key]error),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Names returns the physical name generator.
func (e *Engine) Names() *NameGenerator { return e.names }

// ImmutableState returns the suite-scoped state of database, creating it if needed.
func (e *Engine) ImmutableState(database string) *tablestate.State {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.immutable[database]
	if !ok {
		state = tablestate.New(tablestate.SuiteScope)
		e.immutable[database] = state
	}

	return state
}

// FulfillImmutable provisions every distinct immutable leaf of reqs. A table already
// provisioned by an earlier call is reused. A failed table is not retried; its error
// is reported again. Failures never cancel the provisioning of other tables.
func (e *Engine) FulfillImmutable(ctx context.Context, reqs []requirement.Requirement) *Report {
	report := newReport()

	var leaves []requirement.Requirement

	seen := make(map[requirement.Key]struct{})

	for _, r := range reqs {
		for _, leaf := range r.Immutables() {
			if _, ok := seen[leaf.Key()]; ok {
				continue
			}

			seen[leaf.Key()] = struct{}{}
			leaves = append(leaves, leaf)
		}
	}

	var g errgroup.Group

	g.SetLimit(e.parallel)

	for _, leaf := range leaves {
		g.Go(func() error {
			instance, err := e.ensureImmutable(ctx, leaf)
			if err != nil {
				report.fail(leaf.Key(), err)
				return nil
			}

			report.succeed(leaf.Key(), instance)

			return nil
		})
	}

	_ = g.Wait()

	e.logger.Info("immutable tables fulfilled",
		zap.Int("requested", len(leaves)),
		zap.Int("failed", report.Failed()))

	return report
}

func (e *Engine) ensureImmutable(ctx context.Context, req requirement.Requirement) (tablestate.TableInstance, error) {
	state := e.ImmutableState(req.Database)

	unlock := state.Lock(req.Handle())
	defer unlock()

	if instance, err := state.Get(req.Handle()); err == nil {
		e.logger.Debug("reusing immutable table",
			zap.Stringer("handle", req.Handle()),
			zap.String("table", instance.NameInDatabase))

		return instance, nil
	}

	e.mu.Lock()
	prior, failed := e.failures[req.Key()]
	e.mu.Unlock()

	if failed {
		return tablestate.TableInstance{}, prior
	}

	instance, err := e.provision(ctx, req, e.names.Immutable(req.Table))
	if err != nil {
		e.mu.Lock()
		e.failures[req.Key()] = err
		e.mu.Unlock()

		return tablestate.TableInstance{}, err
	}

	return state.Register(instance), nil
}

// FulfillMutable provisions fresh instances of the mutable leaves of req into a
// new test-scoped state. On failure the tables created so far are torn down,
// without honoring the cancellation of ctx, and the returned state is nil.
func (e *Engine) FulfillMutable(ctx context.Context, req requirement.Requirement) (*tablestate.State, Cleanup, error) {
	state := tablestate.New(tablestate.TestScope)
	cleanup := func(ctx context.Context) error {
		return e.teardown(ctx, state, e.dropMutable)
	}

	for _, leaf := range req.Mutables() {
		unlock := state.Lock(leaf.Handle())
		instance, err := e.provision(ctx, leaf, e.names.Mutable(leaf.Table))
		if err == nil {
			state.Register(instance)
		}
		unlock()

		if err != nil {
			var result *multierror.Error

			result = multierror.Append(result, err)
			// tables created so far are dropped even when ctx is already done
			if cerr := cleanup(context.WithoutCancel(ctx)); cerr != nil {
				result = multierror.Append(result, cerr)
			}

			return nil, nil, result.ErrorOrNil()
		}
	}

	return state, cleanup, nil
}

// DropImmutable drops every suite table and clears the immutable states. Entries
// are removed from the states even when their drop fails; the errors are returned.
func (e *Engine) DropImmutable(ctx context.Context) error {
	e.mu.Lock()
	databases := make([]string, 0, len(e.immutable))
	for db := range e.immutable {
		databases = append(databases, db)
	}
	e.mu.Unlock()

	slices.Sort(databases)

	var result *multierror.Error

	for _, db := range databases {
		if err := e.teardown(ctx, e.ImmutableState(db), true); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

func (e *Engine) teardown(ctx context.Context, state *tablestate.State, drop bool) error {
	var result *multierror.Error

	for _, instance := range state.Instances() {
		if drop {
			if err := e.drop(ctx, state, instance); err != nil {
				result = multierror.Append(result, err)
			}
		}

		// the entry goes away even when the backend drop failed
		state.Remove(instance.Handle)
	}

	return result.ErrorOrNil()
}

func (e *Engine) drop(ctx context.Context, state *tablestate.State, instance tablestate.TableInstance) error {
	manager, ok := e.managers[instance.Database]
	if !ok {
		return fmt.Errorf("%w: '%s'", sqlconvention.ErrNoTableManager, instance.Database)
	}

	unlock := state.Lock(instance.Handle)
	defer unlock()

	if err := manager.DropTable(ctx, instance.NameInDatabase); err != nil {
		return fmt.Errorf("failed to drop %s table %s: %w", state.Scope(), instance.NameInDatabase, err)
	}

	e.logger.Debug("dropped table",
		zap.Stringer("scope", state.Scope()),
		zap.String("table", instance.NameInDatabase),
		zap.String("database", instance.Database))

	return nil
}

// provision creates and loads one table. The caller holds the handle lock.
func (e *Engine) provision(ctx context.Context, req requirement.Requirement, name string) (tablestate.TableInstance, error) {
	fail := func(err error) (tablestate.TableInstance, error) {
		return tablestate.TableInstance{}, &ProvisioningError{
			Handle:   req.Handle(),
			Database: req.Database,
			Mutable:  req.Kind == requirement.KindMutable,
			Err:      err,
		}
	}

	def, err := e.repo.Get(req.Table)
	if err != nil {
		return fail(err)
	}

	manager, ok := e.managers[req.Database]
	if !ok {
		return fail(fmt.Errorf("%w: '%s'", sqlconvention.ErrNoTableManager, req.Database))
	}

	physical := manager.Qualify(req.Schema, name)
	start := e.now()

	if err := manager.CreateTable(ctx, req.Schema, def.DDL(physical)); err != nil {
		return fail(fmt.Errorf("failed to create %s: %w", physical, err))
	}

	loaded, err := e.load(ctx, manager, def, physical)
	if err != nil {
		var result *multierror.Error

		result = multierror.Append(result, fmt.Errorf("failed to load %s: %w", physical, err))
		if derr := manager.DropTable(ctx, physical); derr != nil {
			result = multierror.Append(result, fmt.Errorf("failed to drop partially loaded %s: %w", physical, derr))
		}

		return fail(result.ErrorOrNil())
	}

	e.logger.Info("provisioned table",
		zap.Stringer("kind", req.Kind),
		zap.Stringer("handle", req.Handle()),
		zap.String("table", physical),
		zap.String("database", req.Database),
		zap.Int64("rows", loaded),
		zap.String("revision", def.DataSource().Revision()),
		zap.Duration("elapsed", e.now().Sub(start)))

	return tablestate.TableInstance{
		Handle:         req.Handle(),
		NameInDatabase: physical,
		Database:       req.Database,
		CreatedAt:      start,
	}, nil
}

func (e *Engine) load(ctx context.Context, manager TableManager, def *tabledef.TableDefinition, table string) (int64, error) {
	rows, err := def.DataSource().Rows(ctx)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	return manager.LoadRows(ctx, table, rows)
}
