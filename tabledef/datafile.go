package tabledef

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/beevik/etree"
	"github.com/goccy/go-yaml"

	"github.com/shibukawa/sqlconvention"
	"github.com/shibukawa/sqlconvention/annotatedfile"
)

// Data file formats selected by the "format" annotation.
const (
	FormatPipe = "pipe"
	FormatCSV  = "csv"
	FormatYAML = "yaml"
	FormatXML  = "xml"
)

const (
	defaultDelimiter  = "|"
	defaultNullMarker = `\N`
)

// FileDataSource reads seed rows from a data file every time Rows is called.
type FileDataSource struct {
	path     string
	revision string
}

// NewFileDataSource returns a data source over path. A missing file yields no rows.
func NewFileDataSource(path, revision string) *FileDataSource {
	return &FileDataSource{path: path, revision: revision}
}

func (f *FileDataSource) Path() string     { return f.path }
func (f *FileDataSource) Revision() string { return f.revision }

func (f *FileDataSource) Rows(ctx context.Context) (RowIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(f.path); os.IsNotExist(err) {
		return NewSliceIterator(nil), nil
	}

	rows, err := ReadDataFile(f.path)
	if err != nil {
		return nil, err
	}

	return NewSliceIterator(rows), nil
}

// ReadDataFile parses a data file in any supported format.
func ReadDataFile(path string) ([]Row, error) {
	sections, err := annotatedfile.ParseFile(path)
	if err != nil {
		return nil, err
	}

	if len(sections) != 1 {
		return nil, &annotatedfile.FormatError{File: path, Line: sections[1].Line, Err: fmt.Errorf("data file must contain a single section, found %d", len(sections))}
	}

	rows, err := parseDataSection(sections[0])
	if err != nil {
		return nil, &annotatedfile.FormatError{File: path, Line: sections[0].Line, Err: err}
	}

	return rows, nil
}

func parseDataSection(section annotatedfile.Section) ([]Row, error) {
	format := FormatPipe
	if v, ok := section.Property("format"); ok && v != "" {
		format = strings.ToLower(v)
	}

	nullMarker := defaultNullMarker
	if v, ok := section.Property("null"); ok {
		nullMarker = v
	}

	switch format {
	case FormatPipe:
		delimiter := defaultDelimiter
		if v, ok := section.Property("delimiter"); ok && v != "" {
			delimiter = v
		}

		return parseDelimitedLines(section.Lines, delimiter, nullMarker), nil
	case FormatCSV:
		return parseCSV(section.Content(), nullMarker)
	case FormatYAML:
		return parseYAMLRows(section.Content())
	case FormatXML:
		return parseDBUnitRows(section.Content(), nullMarker)
	default:
		return nil, fmt.Errorf("%w: %s", sqlconvention.ErrUnsupportedDataFormat, format)
	}
}

// parseDelimitedLines splits each non-blank line; a trailing delimiter is optional.
func parseDelimitedLines(lines []string, delimiter, nullMarker string) []Row {
	rows := make([]Row, 0, len(lines))

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		line = strings.TrimSuffix(line, delimiter)
		fields := strings.Split(line, delimiter)

		row := make(Row, len(fields))
		for i, field := range fields {
			row[i] = nullOrString(field, nullMarker)
		}

		rows = append(rows, row)
	}

	return rows
}

func parseCSV(content, nullMarker string) ([]Row, error) {
	reader := csv.NewReader(strings.NewReader(content))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV data: %w", err)
	}

	rows := make([]Row, 0, len(records))
	for _, record := range records {
		row := make(Row, len(record))
		for i, field := range record {
			row[i] = nullOrString(field, nullMarker)
		}

		rows = append(rows, row)
	}

	return rows, nil
}

func parseYAMLRows(content string) ([]Row, error) {
	var raw [][]any

	if err := yaml.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML data: %w", err)
	}

	rows := make([]Row, 0, len(raw))
	for _, r := range raw {
		row := make(Row, len(r))
		for i, v := range r {
			row[i] = normalizeValue(v)
		}

		rows = append(rows, row)
	}

	return rows, nil
}

// parseDBUnitRows reads a flat DBUnit dataset. Column order follows the first row's attributes.
func parseDBUnitRows(content, nullMarker string) ([]Row, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(content); err != nil {
		return nil, fmt.Errorf("failed to parse XML data: %w", err)
	}

	dataset := doc.SelectElement("dataset")
	if dataset == nil {
		return nil, fmt.Errorf("%w: missing <dataset> element", sqlconvention.ErrFormat)
	}

	var (
		columns []string
		rows    []Row
	)

	for _, elem := range dataset.ChildElements() {
		if columns == nil {
			for _, attr := range elem.Attr {
				columns = append(columns, attr.Key)
			}
		}

		row := make(Row, len(columns))
		for i, column := range columns {
			attr := elem.SelectAttr(column)
			if attr == nil {
				continue
			}

			row[i] = nullOrString(attr.Value, nullMarker)
		}

		rows = append(rows, row)
	}

	return rows, nil
}

func nullOrString(field, nullMarker string) any {
	if nullMarker != "" && field == nullMarker {
		return nil
	}

	return field
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case float64:
		if float64(int64(val)) == val {
			return int64(val)
		}

		return val
	case int:
		return int64(val)
	case uint64:
		return int64(val)
	default:
		return val
	}
}
