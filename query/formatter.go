package query

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-yaml"
)

// ErrInvalidOutputFormat is returned for an unknown output format name.
var ErrInvalidOutputFormat = errors.New("invalid output format")

// OutputFormat represents the supported output formats
type OutputFormat string

const (
	FormatTable    OutputFormat = "table"
	FormatJSON     OutputFormat = "json"
	FormatCSV      OutputFormat = "csv"
	FormatYAML     OutputFormat = "yaml"
	FormatMarkdown OutputFormat = "markdown"
)

// Formatter formats query results
type Formatter struct {
	Format OutputFormat
}

// NewFormatter creates a new result formatter
func NewFormatter(format OutputFormat) *Formatter {
	return &Formatter{Format: format}
}

// Write renders result to output in the configured format.
func (f *Formatter) Write(result *Result, output io.Writer) error {
	switch f.Format {
	case FormatTable:
		return f.formatAsTable(result, output)
	case FormatJSON:
		return f.formatAsJSON(result, output)
	case FormatCSV:
		return f.formatAsCSV(result, output)
	case FormatYAML:
		return f.formatAsYAML(result, output)
	case FormatMarkdown:
		return f.formatAsMarkdown(result, output)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidOutputFormat, f.Format)
	}
}

// formatAsTable formats results as an aligned text table
func (f *Formatter) formatAsTable(result *Result, output io.Writer) error {
	if len(result.Rows) == 0 {
		_, err := fmt.Fprintln(output, "No results")
		return err
	}

	tw := tabwriter.NewWriter(output, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(result.Columns, "\t"))

	rules := make([]string, len(result.Columns))
	for i, c := range result.Columns {
		rules[i] = strings.Repeat("-", max(len(c), 3))
	}

	fmt.Fprintln(tw, strings.Join(rules, "\t"))

	for _, row := range result.Rows {
		fmt.Fprintln(tw, strings.Join(FormatRow(row), "\t"))
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(output, "(%d rows, %v)\n", len(result.Rows), result.Duration.Round(time.Microsecond))

	return err
}

// formatAsMarkdown formats results as a Markdown table
func (f *Formatter) formatAsMarkdown(result *Result, output io.Writer) error {
	if len(result.Rows) == 0 {
		_, err := fmt.Fprintln(output, "No results")
		return err
	}

	var b strings.Builder

	b.WriteString("| " + strings.Join(result.Columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(result.Columns)) + "\n")

	for _, row := range result.Rows {
		cells := FormatRow(row)
		for i, c := range cells {
			cells[i] = strings.ReplaceAll(c, "|", `\|`)
		}

		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}

	fmt.Fprintf(&b, "\n<!-- %d rows, Time: %v -->\n", len(result.Rows), result.Duration)

	_, err := io.WriteString(output, b.String())

	return err
}

// formatAsJSON formats results as JSON
func (f *Formatter) formatAsJSON(result *Result, output io.Writer) error {
	jsonResult := map[string]any{
		"data":     rowsToMaps(result.Columns, result.Rows),
		"count":    len(result.Rows),
		"duration": result.Duration.String(),
	}

	encoder := json.NewEncoder(output)
	encoder.SetIndent("", "  ")

	return encoder.Encode(jsonResult)
}

// formatAsCSV formats results as CSV
func (f *Formatter) formatAsCSV(result *Result, output io.Writer) error {
	writer := csv.NewWriter(output)

	if err := writer.Write(result.Columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, row := range result.Rows {
		if err := writer.Write(FormatRow(row)); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()

	return writer.Error()
}

// formatAsYAML formats results as YAML
func (f *Formatter) formatAsYAML(result *Result, output io.Writer) error {
	yamlResult := map[string]any{
		"data":     rowsToMaps(result.Columns, result.Rows),
		"count":    len(result.Rows),
		"duration": result.Duration.String(),
	}

	data, err := yaml.Marshal(yamlResult)
	if err != nil {
		return fmt.Errorf("failed to marshal results to YAML: %w", err)
	}

	_, err = output.Write(data)

	return err
}

// rowsToMaps converts rows to maps
func rowsToMaps(columns []string, rows [][]any) []map[string]any {
	result := make([]map[string]any, 0, len(rows))

	for _, row := range rows {
		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(row) {
				rowMap[col] = row[i]
			}
		}

		result = append(result, rowMap)
	}

	return result
}

// FormatRow renders every value of row with FormatValue.
func FormatRow(row []any) []string {
	cells := make([]string, len(row))
	for i, v := range row {
		cells[i] = FormatValue(v)
	}

	return cells
}

// FormatValue formats a value as a string
func FormatValue(val any) string {
	switch v := val.(type) {
	case nil:
		return "NULL"
	case string:
		return v
	case []byte:
		return string(v)
	case bool:
		return fmt.Sprintf("%t", v)
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 {
			return v.Format(time.DateOnly)
		}

		return v.Format("2006-01-02 15:04:05.999999999")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// IsValidOutputFormat checks if the output format is valid
func IsValidOutputFormat(format string) bool {
	f := OutputFormat(strings.ToLower(format))
	return f == FormatTable || f == FormatJSON || f == FormatCSV || f == FormatYAML || f == FormatMarkdown
}
