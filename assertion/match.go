package assertion

import (
	"fmt"

	"github.com/shibukawa/sqlconvention"
	"github.com/shibukawa/sqlconvention/query"
)

// Match checks actual against expected and returns an *Error describing every
// difference, or nil.
func Match(actual *query.Result, expected Expected) error {
	if actual == nil {
		actual = &query.Result{}
	}

	width := len(actual.Columns)

	if len(expected.Types) > 0 && width > 0 && len(expected.Types) != width {
		return &Error{
			Columns:        actual.Columns,
			ColumnMismatch: true,
			ExpectedWidth:  len(expected.Types),
			ActualWidth:    width,
			ExpectedRows:   len(expected.Rows),
			ActualRows:     len(actual.Rows),
		}
	}

	for _, row := range expected.Rows {
		if width > 0 && len(row) != width {
			return &Error{
				Columns:        actual.Columns,
				ColumnMismatch: true,
				ExpectedWidth:  len(row),
				ActualWidth:    width,
				ExpectedRows:   len(expected.Rows),
				ActualRows:     len(actual.Rows),
			}
		}
	}

	var diff *Error

	if expected.Order == OrderExact {
		diff = matchExact(actual, expected)
	} else {
		diff = matchAny(actual, expected)
	}

	if diff.empty() {
		return nil
	}

	diff.Columns = actual.Columns
	diff.ExpectedRows = len(expected.Rows)
	diff.ActualRows = len(actual.Rows)

	return diff
}

func rowEquals(expected []string, actual []any, e Expected) bool {
	if len(expected) != len(actual) {
		return false
	}

	for i := range expected {
		if !cellEquals(expected[i], actual[i], e.columnType(i), e.NullMarker) {
			return false
		}
	}

	return true
}

func matchExact(actual *query.Result, e Expected) *Error {
	diff := &Error{}

	for i, want := range e.Rows {
		if i >= len(actual.Rows) {
			diff.Missing = append(diff.Missing, RowRef{Index: i, Expected: want})
			continue
		}

		if !rowEquals(want, actual.Rows[i], e) {
			diff.Mismatched = append(diff.Mismatched, RowRef{Index: i, Expected: want, Actual: actual.Rows[i]})
		}
	}

	if !e.IgnoreExcessRows {
		for i := len(e.Rows); i < len(actual.Rows); i++ {
			diff.Unexpected = append(diff.Unexpected, RowRef{Index: i, Actual: actual.Rows[i]})
		}
	}

	return diff
}

// matchAny pairs every expected row with the first unused equal actual row.
func matchAny(actual *query.Result, e Expected) *Error {
	diff := &Error{}
	used := make([]bool, len(actual.Rows))

	for i, want := range e.Rows {
		found := false

		for j, got := range actual.Rows {
			if used[j] || !rowEquals(want, got, e) {
				continue
			}

			used[j] = true
			found = true

			break
		}

		if !found {
			diff.Missing = append(diff.Missing, RowRef{Index: i, Expected: want})
		}
	}

	if !e.IgnoreExcessRows {
		for j, got := range actual.Rows {
			if !used[j] {
				diff.Unexpected = append(diff.Unexpected, RowRef{Index: j, Actual: got})
			}
		}
	}

	return diff
}

// RowRef points at one row of the comparison. Expected or Actual is nil when the
// row only exists on the other side.
type RowRef struct {
	Index    int
	Expected []string
	Actual   []any
}

// Error describes how a result differs from the expectation.
type Error struct {
	Columns []string

	ColumnMismatch bool
	ExpectedWidth  int
	ActualWidth    int

	ExpectedRows int
	ActualRows   int

	Missing    []RowRef
	Unexpected []RowRef
	Mismatched []RowRef
}

func (e *Error) empty() bool {
	return e == nil || (!e.ColumnMismatch && len(e.Missing) == 0 && len(e.Unexpected) == 0 && len(e.Mismatched) == 0)
}

func (e *Error) Error() string {
	if e.ColumnMismatch {
		return fmt.Sprintf("%s: expected %d columns, got %d", sqlconvention.ErrAssertion, e.ExpectedWidth, e.ActualWidth)
	}

	return fmt.Sprintf("%s: expected %d rows, got %d (%d missing, %d unexpected, %d mismatched)",
		sqlconvention.ErrAssertion, e.ExpectedRows, e.ActualRows, len(e.Missing), len(e.Unexpected), len(e.Mismatched))
}

func (e *Error) Is(target error) bool {
	return target == sqlconvention.ErrAssertion
}
