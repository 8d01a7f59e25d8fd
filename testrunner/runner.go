// Package testrunner selects convention-based SQL tests, provisions their tables
// and runs them on a bounded worker pool.
package testrunner

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/shibukawa/sqlconvention"
	"github.com/shibukawa/sqlconvention/convention"
	"github.com/shibukawa/sqlconvention/fulfillment"
	"github.com/shibukawa/sqlconvention/query"
	"github.com/shibukawa/sqlconvention/requirement"
)

// Status is the outcome of one test.
type Status int

const (
	Passed Status = iota + 1
	Failed
	// Skipped marks a test whose immutable tables could not be provisioned.
	Skipped
)

func (s Status) String() string {
	switch s {
	case Passed:
		return "PASS"
	case Failed:
		return "FAIL"
	case Skipped:
		return "SKIP"
	default:
		return "UNKNOWN"
	}
}

// Options controls selection and scheduling.
type Options struct {
	Parallel      int
	Timeout       time.Duration
	Groups        []string
	ExcludeGroups []string
	// RunPattern is a regular expression matched against "suite.case".
	RunPattern    string
	DropImmutable bool
	Verbose       bool
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() *Options {
	return &Options{
		Parallel:      4,
		Timeout:       2 * time.Minute,
		DropImmutable: true,
	}
}

// OptionsFromConfig maps the run and tables sections of the configuration.
func OptionsFromConfig(cfg *sqlconvention.Config) *Options {
	return &Options{
		Parallel:      cfg.Run.Parallel,
		Timeout:       cfg.Run.Timeout,
		Groups:        cfg.Run.Groups,
		ExcludeGroups: cfg.Run.ExcludeGroups,
		DropImmutable: cfg.Tables.ShouldDropImmutable(),
	}
}

// TestResult is the outcome of one test.
type TestResult struct {
	Test       *convention.SQLTest
	Status     Status
	Run        *convention.Result
	Error      error
	CleanupErr error
	Duration   time.Duration
}

// TestSummary aggregates a whole run.
type TestSummary struct {
	TotalTests    int
	PassedTests   int
	FailedTests   int
	SkippedTests  int
	TotalDuration time.Duration
	Results       []TestResult
	// ProvisioningErr aggregates immutable tables that could not be provisioned.
	ProvisioningErr error
	// TeardownErr aggregates failures to drop immutable tables after the run.
	TeardownErr error
}

// Success reports whether every selected test passed.
func (s *TestSummary) Success() bool {
	return s.FailedTests == 0 && s.SkippedTests == 0
}

// Runner executes SQL tests against provisioned tables.
type Runner struct {
	engine     *fulfillment.Engine
	executors  query.Resolver
	scripts    convention.ScriptRunner
	logger     *zap.Logger
	options    *Options
	runPattern *regexp.Regexp
	workerPool chan struct{}
}

// NewRunner creates a runner. A nil options uses DefaultOptions.
func NewRunner(engine *fulfillment.Engine, executors query.Resolver, options *Options) (*Runner, error) {
	if options == nil {
		options = DefaultOptions()
	}

	if options.Parallel <= 0 {
		options.Parallel = 1
	}

	r := &Runner{
		engine:     engine,
		executors:  executors,
		scripts:    convention.NewExecScriptRunner(nil),
		logger:     zap.NewNop(),
		options:    options,
		workerPool: make(chan struct{}, options.Parallel),
	}

	if options.RunPattern != "" {
		regex, err := regexp.Compile(options.RunPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid run pattern: %w", err)
		}

		r.runPattern = regex
	}

	return r, nil
}

// SetLogger replaces the logger handed to the engine-facing steps and the tests.
func (r *Runner) SetLogger(logger *zap.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetScriptRunner replaces the runner of before and after scripts.
func (r *Runner) SetScriptRunner(scripts convention.ScriptRunner) {
	r.scripts = scripts
}

// Select returns the tests matching the run pattern and group filters, keeping order.
func (r *Runner) Select(tests []*convention.SQLTest) []*convention.SQLTest {
	var selected []*convention.SQLTest

	for _, t := range tests {
		if r.runPattern != nil && !r.runPattern.MatchString(t.FullName()) {
			continue
		}

		if len(r.options.Groups) > 0 && !intersects(t.Groups(), r.options.Groups) {
			continue
		}

		if intersects(t.Groups(), r.options.ExcludeGroups) {
			continue
		}

		selected = append(selected, t)
	}

	return selected
}

func intersects(a, b []string) bool {
	for _, v := range a {
		if slices.Contains(b, v) {
			return true
		}
	}

	return false
}

// Run provisions the immutable tables of the selected tests once, runs every
// test and tears the suite tables down when configured. Test failures are
// reported in the summary; only an empty selection is returned as an error.
func (r *Runner) Run(ctx context.Context, tests []*convention.SQLTest) (*TestSummary, error) {
	selected := r.Select(tests)
	if len(selected) == 0 {
		return nil, sqlconvention.ErrNoTestsSelected
	}

	startTime := time.Now()

	summary := &TestSummary{
		TotalTests: len(selected),
		Results:    make([]TestResult, len(selected)),
	}

	reqs := make([]requirement.Requirement, 0, len(selected))
	for _, t := range selected {
		reqs = append(reqs, t.Requirement)
	}

	report := r.engine.FulfillImmutable(ctx, reqs)
	summary.ProvisioningErr = report.ErrorOrNil()

	var wg sync.WaitGroup

	for i, t := range selected {
		wg.Add(1)

		go func() {
			defer wg.Done()

			summary.Results[i] = r.executeTestWithTimeout(ctx, t, report)
		}()
	}

	wg.Wait()

	for _, result := range summary.Results {
		switch result.Status {
		case Passed:
			summary.PassedTests++
		case Skipped:
			summary.SkippedTests++
		default:
			summary.FailedTests++
		}
	}

	if r.options.DropImmutable {
		summary.TeardownErr = r.engine.DropImmutable(context.WithoutCancel(ctx))
	}

	summary.TotalDuration = time.Since(startTime)

	r.logger.Info("sql tests finished",
		zap.Int("total", summary.TotalTests),
		zap.Int("passed", summary.PassedTests),
		zap.Int("failed", summary.FailedTests),
		zap.Int("skipped", summary.SkippedTests),
		zap.Duration("duration", summary.TotalDuration))

	return summary, nil
}

// executeTestWithTimeout runs one test inside the worker pool.
func (r *Runner) executeTestWithTimeout(ctx context.Context, t *convention.SQLTest, report *fulfillment.Report) TestResult {
	select {
	case r.workerPool <- struct{}{}:
		defer func() { <-r.workerPool }()
	case <-ctx.Done():
		return TestResult{Test: t, Status: Failed, Error: ctx.Err()}
	}

	if err := report.Err(t.Requirement); err != nil {
		r.logger.Warn("skipping test without its tables", zap.String("test", t.FullName()), zap.Error(err))
		return TestResult{Test: t, Status: Skipped, Error: err}
	}

	testCtx := ctx
	if r.options.Timeout > 0 {
		var cancel context.CancelFunc

		testCtx, cancel = context.WithTimeout(ctx, r.options.Timeout)
		defer cancel()
	}

	startTime := time.Now()

	mutable, cleanup, err := r.engine.FulfillMutable(testCtx, t.Requirement)
	if err != nil {
		return TestResult{Test: t, Status: Failed, Error: err, Duration: time.Since(startTime)}
	}

	run := t.Run(testCtx, &convention.Env{
		Executors: r.executors,
		Immutable: r.engine.ImmutableState(t.Database()),
		Mutable:   mutable,
		Scripts:   r.scripts,
		Logger:    r.logger,
	})

	var cleanupErr *multierror.Error
	if run.CleanupErr != nil {
		cleanupErr = multierror.Append(cleanupErr, run.CleanupErr)
	}

	// tables are dropped even when the test ran out of time
	if err := cleanup(context.WithoutCancel(ctx)); err != nil {
		cleanupErr = multierror.Append(cleanupErr, err)
	}

	result := TestResult{
		Test:       t,
		Status:     Passed,
		Run:        run,
		Error:      run.Err,
		CleanupErr: cleanupErr.ErrorOrNil(),
		Duration:   time.Since(startTime),
	}

	if !run.Passed() {
		result.Status = Failed
		if errors.Is(run.Err, context.DeadlineExceeded) {
			result.Error = fmt.Errorf("test timed out after %s: %w", r.options.Timeout, run.Err)
		}
	}

	return result
}
