package convention

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/shibukawa/sqlconvention"
	"github.com/shibukawa/sqlconvention/assertion"
	"github.com/shibukawa/sqlconvention/query"
	"github.com/shibukawa/sqlconvention/requirement"
	"github.com/shibukawa/sqlconvention/tablestate"
)

var errNoTables = fmt.Errorf("%w: no table state available", sqlconvention.ErrTableNotFound)

// State is the step a test reached.
type State int

const (
	StateCreated State = iota
	StateBeforeScript
	StateExecuting
	StateAsserting
	StateAfterScript
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBeforeScript:
		return "before-script"
	case StateExecuting:
		return "executing"
	case StateAsserting:
		return "asserting"
	case StateAfterScript:
		return "after-script"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Env is everything a test needs from the outside to run.
type Env struct {
	Executors query.Resolver
	Immutable tablestate.Lookup
	Mutable   tablestate.Lookup
	Scripts   ScriptRunner
	Logger    *zap.Logger
}

func (e *Env) tables() tablestate.Lookup {
	var chain tablestate.Chain

	if e.Mutable != nil {
		chain = append(chain, e.Mutable)
	}

	if e.Immutable != nil {
		chain = append(chain, e.Immutable)
	}

	if len(chain) == 0 {
		return nil
	}

	return chain
}

// SQLTest is one query block of a definition file bound to its expected result.
type SQLTest struct {
	Suite       string
	Case        string
	File        string
	Index       int
	Query       QueryDescriptor
	Result      ResultDescriptor
	Requirement requirement.Requirement
}

// FullName returns "suite.case".
func (t *SQLTest) FullName() string {
	return t.Suite + "." + t.Case
}

// Location returns "file:line" of the query block.
func (t *SQLTest) Location() string {
	return fmt.Sprintf("%s:%d", t.File, t.Query.Line)
}

func (t *SQLTest) Database() string { return t.Query.Database }

func (t *SQLTest) Groups() []string { return t.Query.Groups }

// Result is the outcome of one test run.
type Result struct {
	Test       *SQLTest
	State      State
	Err        error
	CleanupErr error
	Query      *query.Result
	Duration   time.Duration
}

// Passed reports whether the test reached Completed. A cleanup error does not fail it.
func (r *Result) Passed() bool {
	return r.State == StateCompleted && r.Err == nil
}

// stepError remembers the step that was running when the test failed.
type stepError struct {
	step State
	err  error
}

func (e *stepError) Error() string { return e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

// FailedStep returns the step at which the test failed, or StateCompleted.
func (r *Result) FailedStep() State {
	var se *stepError
	if errors.As(r.Err, &se) {
		return se.step
	}

	return StateCompleted
}

// Run executes the test. Every error ends in the returned Result; Run never panics
// on a failing query or script.
func (t *SQLTest) Run(ctx context.Context, env *Env) *Result {
	start := time.Now()
	result := &Result{Test: t, State: StateCreated}

	logger := zap.NewNop()
	if env.Logger != nil {
		logger = env.Logger
	}

	logger = logger.With(zap.String("test", t.FullName()), zap.String("location", t.Location()))

	fail := func(step State, err error) *Result {
		result.State = StateFailed
		result.Err = &stepError{step: step, err: err}
		result.Duration = time.Since(start)
		logger.Debug("test failed", zap.Stringer("step", step), zap.Error(err))

		return result
	}

	if t.Query.Before != "" {
		result.State = StateBeforeScript
		if err := t.runScript(ctx, env, "before", t.Query.Before); err != nil {
			return fail(StateBeforeScript, err)
		}
	}

	result.State = StateExecuting

	if env.Executors == nil {
		return fail(StateExecuting, fmt.Errorf("%w: no executors configured", sqlconvention.ErrExecutorResolution))
	}

	executor, err := env.Executors.Resolve(t.Query.Database)
	if err != nil {
		return fail(StateExecuting, err)
	}

	sql, err := SubstituteTables(t.Query.Content, env.tables())
	if err != nil {
		return fail(StateExecuting, err)
	}

	qr, err := executor.ExecuteQuery(ctx, sql, t.Query.QueryType)
	if err != nil {
		return fail(StateExecuting, err)
	}

	result.Query = qr
	result.State = StateAsserting

	if err := assertion.Match(qr, t.Result.Expected()); err != nil {
		return fail(StateAsserting, err)
	}

	if t.Query.After != "" {
		result.State = StateAfterScript
		if err := t.runScript(ctx, env, "after", t.Query.After); err != nil {
			result.CleanupErr = err
			logger.Warn("after script failed", zap.Error(err))
		}
	}

	result.State = StateCompleted
	result.Duration = time.Since(start)

	return result
}

func (t *SQLTest) runScript(ctx context.Context, env *Env, phase, script string) error {
	path := script
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(t.File), script)
	}

	if env.Scripts == nil {
		return &ScriptError{Path: path, Phase: phase, Err: errors.New("no script runner configured")}
	}

	err := env.Scripts.RunScript(ctx, path)
	if err == nil {
		return nil
	}

	var se *ScriptError
	if errors.As(err, &se) {
		se.Phase = phase
		return se
	}

	return &ScriptError{Path: path, Phase: phase, Err: err}
}
