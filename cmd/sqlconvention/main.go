package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
)

var version = "v0.1.0"

// Context represents the global context for commands
type Context struct {
	Config  string
	Verbose bool
	Quiet   bool
	Out     io.Writer
}

// CLI represents the command-line interface
var CLI struct {
	Config  string     `help:"Configuration file path" default:"sqlconvention.yaml"`
	Verbose bool       `help:"Enable verbose output" short:"v"`
	Quiet   bool       `help:"Suppress output" short:"q"`
	Test    TestCmd    `cmd:"" help:"Discover, provision and run SQL convention tests"`
	List    ListCmd    `cmd:"" help:"List discovered tests"`
	Exec    ExecCmd    `cmd:"" help:"Execute a SQL file against a configured database"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// VersionCmd represents the version command
type VersionCmd struct{}

func (cmd *VersionCmd) Run(ctx *Context) error {
	fmt.Fprintf(ctx.Out, "sqlconvention %s\n", version)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("sqlconvention"),
		kong.Description("Convention-based SQL test runner"),
	)

	appCtx := &Context{
		Config:  CLI.Config,
		Verbose: CLI.Verbose,
		Quiet:   CLI.Quiet,
		Out:     os.Stdout,
	}

	err := ctx.Run(appCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
