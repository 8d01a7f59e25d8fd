// Package convention turns annotated *.sql / *.result files into executable SQL tests.
package convention

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shibukawa/sqlconvention"
	"github.com/shibukawa/sqlconvention/annotatedfile"
	"github.com/shibukawa/sqlconvention/assertion"
	"github.com/shibukawa/sqlconvention/query"
	"github.com/shibukawa/sqlconvention/tabledef"
)

// Annotation keys understood by the query and result descriptors.
const (
	KeyName          = "name"
	KeyDatabase      = "database"
	KeyQueryType     = "query_type"
	KeyGroups        = "groups"
	KeyBefore        = "before"
	KeyAfter         = "after"
	KeyTables        = "tables"
	KeyMutableTables = "mutable_tables"

	KeyTypes        = "types"
	KeyOrder        = "order"
	KeyDelimiter    = "delimiter"
	KeyIgnoreExcess = "ignore_excess"
	KeyNull         = "null"
)

const (
	defaultResultDelimiter = "|"
	defaultNullMarker      = `\N`
)

// QueryDescriptor is one query block of a test definition file.
type QueryDescriptor struct {
	Name          string
	Content       string
	QueryType     query.QueryType
	Database      string
	Groups        []string
	Tables        []tabledef.TableHandle
	MutableTables []tabledef.TableHandle
	Before        string
	After         string
	// Properties holds every annotation, including keys not interpreted above.
	Properties map[string]string
	Line       int
}

// ResultDescriptor is the expected result of one query block.
type ResultDescriptor struct {
	Rows             [][]string
	Types            []assertion.ColumnType
	Order            assertion.OrderMode
	Delimiter        string
	NullMarker       string
	IgnoreExcessRows bool
	Line             int
}

// Expected converts the descriptor to the assertion input.
func (r ResultDescriptor) Expected() assertion.Expected {
	return assertion.Expected{
		Types:            r.Types,
		Rows:             r.Rows,
		NullMarker:       r.NullMarker,
		Order:            r.Order,
		IgnoreExcessRows: r.IgnoreExcessRows,
	}
}

// ParseQueryDescriptor interprets a section of a test definition file. An absent
// database annotation falls back to defaultDatabase.
func ParseQueryDescriptor(section annotatedfile.Section, defaultDatabase string) (QueryDescriptor, error) {
	qd := QueryDescriptor{
		Content:    section.Content(),
		Database:   defaultDatabase,
		Properties: section.Properties,
		Line:       section.Line,
	}

	if name, ok := section.Property(KeyName); ok {
		qd.Name = name
	} else if section.Name != "" {
		qd.Name = section.Name
	}

	if db, ok := section.Property(KeyDatabase); ok && db != "" {
		qd.Database = db
	}

	if v, ok := section.Property(KeyQueryType); ok {
		qt, err := query.ParseQueryType(v)
		if err != nil {
			return QueryDescriptor{}, fmt.Errorf("%w: %w", sqlconvention.ErrFormat, err)
		}

		qd.QueryType = qt
	}

	if v, ok := section.Property(KeyGroups); ok {
		qd.Groups = splitList(v)
	}

	qd.Before, _ = section.Property(KeyBefore)
	qd.After, _ = section.Property(KeyAfter)

	if v, ok := section.Property(KeyTables); ok {
		qd.Tables = parseHandles(v)
	}

	if v, ok := section.Property(KeyMutableTables); ok {
		qd.MutableTables = parseHandles(v)
	}

	if strings.TrimSpace(qd.Content) == "" {
		return QueryDescriptor{}, fmt.Errorf("%w: query block has no content", sqlconvention.ErrFormat)
	}

	return qd, nil
}

// ParseResultDescriptor interprets a section of a result file.
func ParseResultDescriptor(section annotatedfile.Section) (ResultDescriptor, error) {
	rd := ResultDescriptor{
		Order:      assertion.OrderAny,
		Delimiter:  defaultResultDelimiter,
		NullMarker: defaultNullMarker,
		Line:       section.Line,
	}

	if v, ok := section.Property(KeyTypes); ok {
		types, err := assertion.ParseColumnTypes(v)
		if err != nil {
			return ResultDescriptor{}, err
		}

		rd.Types = types
	}

	if v, ok := section.Property(KeyOrder); ok {
		order, err := assertion.ParseOrderMode(v)
		if err != nil {
			return ResultDescriptor{}, err
		}

		rd.Order = order
	}

	if v, ok := section.Property(KeyDelimiter); ok && v != "" {
		rd.Delimiter = v
	}

	if v, ok := section.Property(KeyNull); ok && v != "" {
		rd.NullMarker = v
	}

	if v, ok := section.Property(KeyIgnoreExcess); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return ResultDescriptor{}, fmt.Errorf("%w: ignore_excess '%s' is not a boolean", sqlconvention.ErrFormat, v)
		}

		rd.IgnoreExcessRows = b
	}

	for _, line := range section.Lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		rd.Rows = append(rd.Rows, splitResultLine(line, rd.Delimiter))
	}

	return rd, nil
}

// splitResultLine splits a row; a trailing delimiter is optional.
func splitResultLine(line, delimiter string) []string {
	line = strings.TrimSuffix(line, delimiter)
	return strings.Split(line, delimiter)
}

func splitList(s string) []string {
	var items []string

	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}

	return items
}

func parseHandles(s string) []tabledef.TableHandle {
	items := splitList(s)
	handles := make([]tabledef.TableHandle, 0, len(items))

	for _, item := range items {
		handles = append(handles, tabledef.ParseHandle(item))
	}

	return handles
}
