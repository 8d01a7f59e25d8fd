package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/shibukawa/sqlconvention/annotatedfile"
	"github.com/shibukawa/sqlconvention/convention"
	"github.com/shibukawa/sqlconvention/fulfillment"
	"github.com/shibukawa/sqlconvention/query"
	"github.com/shibukawa/sqlconvention/requirement"
	"github.com/shibukawa/sqlconvention/tablestate"
)

// ExecCmd runs the blocks of an annotated SQL file and prints their results.
// Tables referenced by the blocks are provisioned for the run and dropped afterwards.
type ExecCmd struct {
	File     string        `arg:"" help:"Annotated SQL file" type:"existingfile"`
	Database string        `long:"db" help:"Database name from config (defaults to default_database)"`
	Name     string        `help:"Execute only the block with this name"`
	Format   string        `help:"Output format (table, json, csv, yaml, markdown)" default:"table"`
	Output   string        `short:"o" help:"Output file (defaults to stdout)" type:"path"`
	Timeout  time.Duration `help:"Timeout for the whole execution" default:"30s"`
}

func (cmd *ExecCmd) Run(ctx *Context) error {
	if !query.IsValidOutputFormat(cmd.Format) {
		return fmt.Errorf("%w: %s", query.ErrInvalidOutputFormat, cmd.Format)
	}

	env, err := loadEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	database := cmd.Database
	if database == "" {
		database = env.config.DefaultDatabase
	}

	if database == "" {
		return ErrNoDatabase
	}

	sections, err := annotatedfile.ParseFile(cmd.File)
	if err != nil {
		return err
	}

	factory := env.factory()

	var (
		blocks []convention.QueryDescriptor
		reqs   []requirement.Requirement
	)

	for _, section := range sections {
		qd, err := convention.ParseQueryDescriptor(section, database)
		if err != nil {
			return &annotatedfile.FormatError{File: cmd.File, Line: section.Line, Err: err}
		}

		if cmd.Name != "" && qd.Name != cmd.Name {
			continue
		}

		req, err := factory.RequirementOf(qd)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", cmd.File, section.Line, err)
		}

		blocks = append(blocks, qd)
		reqs = append(reqs, req)
	}

	if len(blocks) == 0 {
		return fmt.Errorf("no block named '%s' in %s", cmd.Name, cmd.File)
	}

	if err := env.open(databasesOfRequirements(blocks, reqs)...); err != nil {
		return err
	}

	out := ctx.Out
	if cmd.Output != "" {
		f, err := os.Create(cmd.Output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()

		out = f
	}

	runCtx, cancel := context.WithTimeout(context.Background(), cmd.Timeout)
	defer cancel()

	engine := env.engine(false)
	formatter := query.NewFormatter(query.OutputFormat(strings.ToLower(cmd.Format)))

	var result *multierror.Error

	if err := engine.FulfillImmutable(runCtx, reqs).ErrorOrNil(); err != nil {
		result = multierror.Append(result, err)
	} else {
		for i, qd := range blocks {
			if err := cmd.execute(runCtx, env, engine, qd, reqs[i], formatter, out); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s:%d: %w", cmd.File, qd.Line, err))
				break
			}
		}
	}

	if err := engine.DropImmutable(context.WithoutCancel(runCtx)); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

func (cmd *ExecCmd) execute(ctx context.Context, env *environment, engine *fulfillment.Engine,
	qd convention.QueryDescriptor, req requirement.Requirement, formatter *query.Formatter, out io.Writer,
) (err error) {
	mutable, cleanup, err := engine.FulfillMutable(ctx, req)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := cleanup(context.WithoutCancel(ctx)); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	sql, err := convention.SubstituteTables(qd.Content, tablestate.Chain{mutable, engine.ImmutableState(qd.Database)})
	if err != nil {
		return err
	}

	executor, err := env.registry.Resolve(qd.Database)
	if err != nil {
		return err
	}

	result, err := executor.ExecuteQuery(ctx, sql, qd.QueryType)
	if err != nil {
		return err
	}

	if len(cmd.blocksHeader(qd)) > 0 {
		fmt.Fprintln(out, cmd.blocksHeader(qd))
	}

	return formatter.Write(result, out)
}

// blocksHeader labels the output of a named block in table format.
func (cmd *ExecCmd) blocksHeader(qd convention.QueryDescriptor) string {
	if qd.Name == "" || !strings.EqualFold(cmd.Format, string(query.FormatTable)) {
		return ""
	}

	return "-- " + qd.Name
}

// databasesOfRequirements lists the databases the blocks query or provision tables in.
func databasesOfRequirements(blocks []convention.QueryDescriptor, reqs []requirement.Requirement) []string {
	var names []string

	add := func(name string) {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}

	for i, qd := range blocks {
		add(qd.Database)

		for _, leaf := range reqs[i].Leaves() {
			add(leaf.Database)
		}
	}

	slices.Sort(names)

	return names
}
