package assertion

import (
	"errors"
	"strings"

	"github.com/fatih/color"

	"github.com/shibukawa/sqlconvention/query"
)

var (
	headerFmt          = color.New(color.FgBlue, color.Bold).SprintfFunc()
	legendExpectedFmt  = color.New(color.FgGreen).SprintFunc()
	legendActualFmt    = color.New(color.FgRed).SprintFunc()
	rowLabelFmt        = color.New(color.FgBlue, color.Bold).SprintfFunc()
	expectPrefixFmt    = color.New(color.BgGreen, color.FgBlack).SprintFunc()
	actualPrefixFmt    = color.New(color.BgRed, color.FgBlack).SprintFunc()
	expectFieldFmt     = color.New(color.FgGreen).SprintfFunc()
	actualFieldFmt     = color.New(color.FgRed).SprintfFunc()
	expectSeparatorFmt = color.New(color.FgGreen).SprintFunc()
	actualSeparatorFmt = color.New(color.FgRed).SprintFunc()
)

// AsError extracts an assertion *Error from the error chain.
func AsError(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}

	return nil, false
}

// Format renders the differences as a compact colored report for CLI output.
func (e *Error) Format() string {
	if e.empty() {
		return ""
	}

	var b strings.Builder

	if len(e.Columns) > 0 {
		b.WriteString(headerFmt("Columns: %s\n", strings.Join(e.Columns, ", ")))
	}

	b.WriteString(legendExpectedFmt("+ Expected\n"))
	b.WriteString(legendActualFmt("- Actual\n"))

	if e.ColumnMismatch {
		b.WriteString(expectFieldFmt("+ columns: %d\n", e.ExpectedWidth))
		b.WriteString(actualFieldFmt("- columns: %d\n", e.ActualWidth))

		return strings.TrimRight(b.String(), "\n")
	}

	if e.ExpectedRows != e.ActualRows {
		b.WriteString(expectFieldFmt("+ rows: %d\n", e.ExpectedRows))
		b.WriteString(actualFieldFmt("- rows: %d\n", e.ActualRows))
	}

	for _, r := range e.Mismatched {
		b.WriteString(rowLabelFmt("row #%d [mismatch]\n", r.Index+1))
		writeFieldLine(&b, expectPrefixFmt, "+", expectSeparatorFmt, e.fields(r.Expected, nil, true))
		writeFieldLine(&b, actualPrefixFmt, "-", actualSeparatorFmt, e.fields(nil, r.Actual, false))
	}

	for _, r := range e.Missing {
		b.WriteString(rowLabelFmt("expected row #%d [missing]\n", r.Index+1))
		writeFieldLine(&b, expectPrefixFmt, "+", expectSeparatorFmt, e.fields(r.Expected, nil, true))
	}

	for _, r := range e.Unexpected {
		b.WriteString(rowLabelFmt("actual row #%d [unexpected]\n", r.Index+1))
		writeFieldLine(&b, actualPrefixFmt, "-", actualSeparatorFmt, e.fields(nil, r.Actual, false))
	}

	return strings.TrimRight(b.String(), "\n")
}

func (e *Error) fields(expected []string, actual []any, isExpected bool) []string {
	var values []string
	if isExpected {
		values = expected
	} else {
		values = query.FormatRow(actual)
	}

	fields := make([]string, len(values))

	for i, v := range values {
		label := ""
		if i < len(e.Columns) {
			label = e.Columns[i] + ": "
		}

		if isExpected {
			fields[i] = expectFieldFmt("%s%s", label, v)
		} else {
			fields[i] = actualFieldFmt("%s%s", label, v)
		}
	}

	return fields
}

func writeFieldLine(b *strings.Builder, prefix func(...any) string, sign string, sep func(...any) string, fields []string) {
	if len(fields) == 0 {
		return
	}

	b.WriteString(prefix(sign))
	b.WriteString(" ")

	for i, field := range fields {
		if i > 0 {
			b.WriteString(sep(", "))
		}

		b.WriteString(field)
	}

	b.WriteString("\n")
}
