package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// ListCmd prints the discovered tests without touching any database.
type ListCmd struct {
	Dir string `arg:"" optional:"" help:"Test cases directory (defaults to tests_dir)" type:"path"`
}

func (cmd *ListCmd) Run(ctx *Context) error {
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

	w := tabwriter.NewWriter(ctx.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TEST\tDATABASE\tGROUPS\tTABLES\tLOCATION")

	for _, t := range tests {
		tables := make([]string, 0, len(t.Requirement.Leaves()))
		for _, leaf := range t.Requirement.Leaves() {
			tables = append(tables, fmt.Sprintf("%s(%s)", leaf.Handle(), leaf.Kind))
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.FullName(), t.Database(), strings.Join(t.Groups(), ","), strings.Join(tables, ","), t.Location())
	}

	if err := w.Flush(); err != nil {
		return err
	}

	if ctx.Verbose {
		fmt.Fprintf(ctx.Out, "\n%d tests, %d table definitions\n", len(tests), env.repo.Len())
	}

	return nil
}
