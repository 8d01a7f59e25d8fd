package tabledef

import (
	"context"
	"slices"
)

// Row is one tuple of seed data. A nil element is SQL NULL.
type Row []any

// RowIterator yields rows one at a time.
type RowIterator interface {
	// Next returns false when exhausted.
	Next() bool
	Row() Row
	Err() error
	Close() error
}

// DataSource produces the seed rows of a table. Every call to Rows starts from the first row.
type DataSource interface {
	Rows(ctx context.Context) (RowIterator, error)
	// Revision identifies the data version; empty when unknown.
	Revision() string
}

type staticDataSource struct {
	rows     []Row
	revision string
}

// StaticDataSource serves rows kept in memory.
func StaticDataSource(rows ...Row) DataSource {
	return &staticDataSource{rows: rows}
}

// EmptyDataSource returns a data source without rows.
func EmptyDataSource() DataSource {
	return &staticDataSource{}
}

func (s *staticDataSource) Rows(context.Context) (RowIterator, error) {
	return &sliceIterator{rows: s.rows, pos: -1}, nil
}

func (s *staticDataSource) Revision() string { return s.revision }

type sliceIterator struct {
	rows []Row
	pos  int
}

// NewSliceIterator iterates over rows.
func NewSliceIterator(rows []Row) RowIterator {
	return &sliceIterator{rows: rows, pos: -1}
}

func (it *sliceIterator) Next() bool {
	if it.pos+1 >= len(it.rows) {
		it.pos = len(it.rows)
		return false
	}

	it.pos++

	return true
}

func (it *sliceIterator) Row() Row {
	if it.pos < 0 || it.pos >= len(it.rows) {
		return nil
	}

	return slices.Clone(it.rows[it.pos])
}

func (it *sliceIterator) Err() error   { return nil }
func (it *sliceIterator) Close() error { return nil }

// CollectRows drains a data source into memory.
func CollectRows(ctx context.Context, ds DataSource) ([]Row, error) {
	it, err := ds.Rows(ctx)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var rows []Row
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rows = append(rows, it.Row())
	}

	return rows, it.Err()
}
