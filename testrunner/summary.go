package testrunner

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/shibukawa/sqlconvention/assertion"
)

var (
	passFmt  = color.New(color.FgGreen).SprintfFunc()
	failFmt  = color.New(color.FgRed, color.Bold).SprintfFunc()
	skipFmt  = color.New(color.FgYellow).SprintfFunc()
	titleFmt = color.New(color.FgBlue, color.Bold).SprintfFunc()
)

// PrintSummary writes the run summary. Failures are listed with their location
// and, for assertion failures, the row diff.
func (r *Runner) PrintSummary(w io.Writer, summary *TestSummary) {
	if r.options.Verbose {
		for _, result := range summary.Results {
			fmt.Fprintf(w, "%s %s (%.3fs)\n", statusLabel(result.Status), result.Test.FullName(), result.Duration.Seconds())
		}
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "%s\n", titleFmt("=== Test Summary ==="))
	fmt.Fprintf(w, "Tests: %d total, %d passed, %d failed, %d skipped\n",
		summary.TotalTests, summary.PassedTests, summary.FailedTests, summary.SkippedTests)
	fmt.Fprintf(w, "Duration: %.3fs\n", summary.TotalDuration.Seconds())

	if summary.FailedTests > 0 || summary.SkippedTests > 0 {
		fmt.Fprintf(w, "\nFailed tests:\n")

		for _, result := range summary.Results {
			if result.Status == Passed {
				continue
			}

			fmt.Fprintf(w, "  %s %s (%s)\n", statusLabel(result.Status), result.Test.FullName(), result.Test.Location())

			if result.Error == nil {
				continue
			}

			if diff, ok := assertion.AsError(result.Error); ok {
				fmt.Fprintf(w, "%s\n", indent(diff.Format(), "    "))
				continue
			}

			fmt.Fprintf(w, "    Error: %v\n", result.Error)
		}
	}

	for _, result := range summary.Results {
		if result.CleanupErr != nil {
			fmt.Fprintf(w, "  cleanup %s: %v\n", result.Test.FullName(), result.CleanupErr)
		}
	}

	if summary.TeardownErr != nil {
		fmt.Fprintf(w, "\nTeardown failed: %v\n", summary.TeardownErr)
	}

	if summary.Success() {
		fmt.Fprintf(w, "\nAll tests passed! ✅\n")
	} else {
		fmt.Fprintf(w, "\nSome tests failed! ❌\n")
	}
}

func statusLabel(s Status) string {
	label := "--- " + s.String() + ":"

	switch s {
	case Passed:
		return passFmt("%s", label)
	case Skipped:
		return skipFmt("%s", label)
	default:
		return failFmt("%s", label)
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}

	return strings.Join(lines, "\n")
}
