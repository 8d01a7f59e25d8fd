// Package annotatedfile parses the annotated text format shared by test definitions,
// result files, DDL templates and data files.
//
// A file is split into blocks by delimiter lines starting with "--!". Each block starts with
// optional "-- key: value" annotation lines followed by content:
//
//	-- database: psql; groups: smoke
//	--! name: first
//	SELECT 1
//	--! second
//	-- query_type: update
//	DELETE FROM t
package annotatedfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/shibukawa/sqlconvention"
)

const (
	delimiterMarker  = "--!"
	annotationMarker = "--"
)

var annotationKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// FormatError reports a malformed file with its location.
type FormatError struct {
	File string
	Line int
	Err  error
}

func (e *FormatError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}

	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Is makes every FormatError match sqlconvention.ErrFormat.
func (e *FormatError) Is(target error) bool { return target == sqlconvention.ErrFormat }

// Section is one block of an annotated file.
type Section struct {
	Name       string
	Properties map[string]string
	Lines      []string
	// Line is the 1-based line number where the section starts.
	Line int
}

// Property returns the value of a property and whether it was set.
func (s Section) Property(key string) (string, bool) {
	v, ok := s.Properties[key]
	return v, ok
}

// Content returns the content lines joined with newlines.
func (s Section) Content() string {
	return strings.Join(s.Lines, "\n")
}

// ContentAsSingleLine returns the content with every whitespace run collapsed to one space.
func (s Section) ContentAsSingleLine() string {
	return strings.Join(strings.Fields(s.Content()), " ")
}

// ParseFile parses the file at path. Format errors carry the path.
func ParseFile(path string) ([]Section, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	sections, err := Parse(f)
	if err != nil {
		var fe *FormatError
		if errors.As(err, &fe) {
			fe.File = path
		}

		return nil, err
	}

	return sections, nil
}

// Parse splits r into sections.
func Parse(r io.Reader) ([]Section, error) {
	p := &parser{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++

		if err := p.line(strings.TrimSuffix(scanner.Text(), "\r"), lineNo); err != nil {
			return nil, err
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read annotated file: %w", err)
	}

	return p.finish(), nil
}

type parser struct {
	sections   []Section
	current    *block
	preamble   *block
	delimiters int
}

type block struct {
	section    Section
	contentRun bool
}

func (p *parser) line(raw string, lineNo int) error {
	trimmed := strings.TrimSpace(raw)

	if strings.HasPrefix(trimmed, delimiterMarker) {
		name, err := parseMarker(trimmed)
		if err != nil {
			return &FormatError{Line: lineNo, Err: err}
		}

		p.closeBlock()
		p.delimiters++
		p.current = &block{section: Section{
			Name:       name,
			Properties: make(map[string]string),
			Line:       lineNo,
		}}

		// "--! name: foo; database: bar" is an annotation list; the name property
		// becomes the section name
		if pairs, ok := parsePairs(name); ok {
			for _, kv := range pairs {
				p.current.section.Properties[kv[0]] = kv[1]
			}

			p.current.section.Name = p.current.section.Properties["name"]
		}

		return nil
	}

	if p.current == nil {
		p.current = &block{section: Section{Properties: make(map[string]string), Line: lineNo}}
	}

	b := p.current

	if strings.HasPrefix(trimmed, annotationMarker) {
		pairs, isAnnotation := parseAnnotation(trimmed)
		if isAnnotation {
			if b.contentRun {
				return &FormatError{Line: lineNo, Err: fmt.Errorf("%w: %q", sqlconvention.ErrAnnotationAfterContent, trimmed)}
			}

			for _, kv := range pairs {
				b.section.Properties[kv[0]] = kv[1]
			}

			return nil
		}

		// Plain comments in the header are dropped, inside content they are kept
		if !b.contentRun {
			return nil
		}
	}

	if trimmed == "" && !b.contentRun {
		return nil
	}

	b.contentRun = true
	b.section.Lines = append(b.section.Lines, raw)

	return nil
}

func (p *parser) closeBlock() {
	if p.current == nil {
		return
	}

	b := p.current
	p.current = nil
	b.section.Lines = trimTrailingBlank(b.section.Lines)

	// Content-less preamble supplies file-level defaults
	if p.delimiters == 0 && len(b.section.Lines) == 0 {
		p.preamble = b
		return
	}

	p.sections = append(p.sections, b.section)
}

func (p *parser) finish() []Section {
	if p.current == nil && p.delimiters == 0 {
		return []Section{{Properties: make(map[string]string), Line: 1}}
	}

	if p.delimiters == 0 {
		// No delimiters: the single block is the file, even without content
		b := p.current
		b.section.Lines = trimTrailingBlank(b.section.Lines)

		return []Section{b.section}
	}

	p.closeBlock()

	if p.preamble != nil {
		for i := range p.sections {
			merged := maps.Clone(p.preamble.section.Properties)
			maps.Copy(merged, p.sections[i].Properties)
			p.sections[i].Properties = merged
		}
	}

	return p.sections
}

// parseMarker returns the text after the delimiter marker.
func parseMarker(line string) (string, error) {
	rest := strings.TrimPrefix(line, delimiterMarker)
	if rest == "" {
		return "", nil
	}

	first := []rune(rest)[0]
	if !unicode.IsSpace(first) {
		return "", fmt.Errorf("%w: %q", sqlconvention.ErrMalformedMarker, line)
	}

	return strings.TrimSpace(rest), nil
}

// parseAnnotation recognizes "-- key: value[; key: value]" lines.
func parseAnnotation(line string) ([][2]string, bool) {
	return parsePairs(strings.TrimPrefix(line, annotationMarker))
}

// parsePairs parses "key: value[; key: value]". Every part must be a pair.
func parsePairs(body string) ([][2]string, bool) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, false
	}

	var pairs [][2]string

	for _, part := range strings.Split(body, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		key, value, ok := splitPair(part)
		if !ok {
			return nil, false
		}

		pairs = append(pairs, [2]string{key, value})
	}

	return pairs, len(pairs) > 0
}

func splitPair(s string) (string, string, bool) {
	key, value, found := strings.Cut(s, ":")
	if !found {
		return "", "", false
	}

	key = strings.TrimSpace(key)
	if !annotationKey.MatchString(key) {
		return "", "", false
	}

	return key, strings.TrimSpace(value), true
}

func trimTrailingBlank(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}

	return lines
}
