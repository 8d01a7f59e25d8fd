package main

import (
	"context"
	"fmt"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/shibukawa/sqlconvention/convention"
	"github.com/shibukawa/sqlconvention/testrunner"
)

// TestCmd represents the test command
type TestCmd struct {
	Dir           string        `arg:"" optional:"" help:"Test cases directory (defaults to tests_dir)" type:"path"`
	RunPattern    string        `help:"Run only tests whose suite.case matches the regular expression" short:"r"`
	Groups        []string      `help:"Run only tests in these groups" short:"g"`
	ExcludeGroups []string      `help:"Skip tests in these groups"`
	Parallel      int           `help:"Number of parallel workers (0 uses the configuration)" default:"0"`
	Timeout       time.Duration `help:"Per-test timeout (0 uses the configuration)" default:"0"`
	KeepTables    bool          `help:"Do not drop provisioned tables after the run"`
}

// Run executes the test command
func (cmd *TestCmd) Run(ctx *Context) error {
	env, err := loadEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	dir := cmd.Dir
	if dir == "" {
		dir = env.config.TestsDir
	}

	tests, err := env.factory().Discover(dir)
	if err != nil {
		return fmt.Errorf("failed to discover tests: %w", err)
	}

	options := testrunner.OptionsFromConfig(env.config)
	options.RunPattern = cmd.RunPattern
	options.Verbose = ctx.Verbose

	if len(cmd.Groups) > 0 {
		options.Groups = cmd.Groups
	}

	if len(cmd.ExcludeGroups) > 0 {
		options.ExcludeGroups = cmd.ExcludeGroups
	}

	if cmd.Parallel > 0 {
		options.Parallel = cmd.Parallel
	}

	if cmd.Timeout > 0 {
		options.Timeout = cmd.Timeout
	}

	if cmd.KeepTables {
		options.DropImmutable = false
	}

	engine := env.engine(cmd.KeepTables)

	runner, err := testrunner.NewRunner(engine, env.registry, options)
	if err != nil {
		return err
	}

	runner.SetLogger(env.logger)
	runner.SetScriptRunner(convention.NewExecScriptRunner(env.logger))

	selected := runner.Select(tests)
	if err := env.open(databasesOf(selected)...); err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := runner.Run(runCtx, tests)
	if err != nil {
		return err
	}

	if !ctx.Quiet {
		runner.PrintSummary(ctx.Out, summary)
	}

	if !summary.Success() {
		return ErrTestsFailed
	}

	return nil
}

// databasesOf lists the databases the tests query or provision tables in.
func databasesOf(tests []*convention.SQLTest) []string {
	var names []string

	for _, t := range tests {
		if !slices.Contains(names, t.Database()) {
			names = append(names, t.Database())
		}

		for _, leaf := range t.Requirement.Leaves() {
			if !slices.Contains(names, leaf.Database) {
				names = append(names, leaf.Database)
			}
		}
	}

	slices.Sort(names)

	return names
}
