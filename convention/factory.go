package convention

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/shibukawa/sqlconvention"
	"github.com/shibukawa/sqlconvention/annotatedfile"
	"github.com/shibukawa/sqlconvention/requirement"
	"github.com/shibukawa/sqlconvention/tabledef"
)

const (
	// TestFileExt marks test definition files.
	TestFileExt = ".sql"
	// ResultFileExt marks the companion file holding expected results.
	ResultFileExt = ".result"

	SuitePrefix = "Test"
	CasePrefix  = "test_"
)

var skippedDirs = map[string]bool{
	"vendor":       true,
	"node_modules": true,
	"datasets":     true,
}

// Factory discovers convention-based SQL tests.
type Factory struct {
	repo            *tabledef.Repository
	defaultDatabase string
	logger          *zap.Logger
}

type Option func(*Factory)

// WithDefaultDatabase sets the database used by blocks without a database annotation.
func WithDefaultDatabase(name string) Option {
	return func(f *Factory) {
		f.defaultDatabase = name
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFactory returns a factory that validates table references against repo.
func NewFactory(repo *tabledef.Repository, opts ...Option) *Factory {
	if repo == nil {
		repo = tabledef.NewRepository()
	}

	f := &Factory{repo: repo, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Discover walks root and returns one test per query block, ordered by path and
// block index. A missing root yields no tests.
func (f *Factory) Discover(root string) ([]*SQLTest, error) {
	files, err := collectTestFiles(root)
	if err != nil {
		return nil, err
	}

	var tests []*SQLTest

	names := make(map[string]string)

	for _, file := range files {
		fileTests, err := f.Load(file)
		if err != nil {
			return nil, err
		}

		for _, t := range fileTests {
			if prev, ok := names[t.FullName()]; ok {
				return nil, fmt.Errorf("%w: %s defined at %s and %s", sqlconvention.ErrDuplicateTestName, t.FullName(), prev, t.Location())
			}

			names[t.FullName()] = t.Location()
			tests = append(tests, t)
		}
	}

	f.logger.Info("discovered sql tests",
		zap.String("root", root),
		zap.Int("files", len(files)),
		zap.Int("tests", len(tests)))

	return tests, nil
}

// Load builds the tests of a single definition file.
func (f *Factory) Load(path string) ([]*SQLTest, error) {
	sections, err := annotatedfile.ParseFile(path)
	if err != nil {
		return nil, err
	}

	resultPath := strings.TrimSuffix(path, filepath.Ext(path)) + ResultFileExt

	resultSections, err := annotatedfile.ParseFile(resultPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &annotatedfile.FormatError{File: path, Line: 1, Err: fmt.Errorf("%w: %s", sqlconvention.ErrMissingResultFile, resultPath)}
		}

		return nil, err
	}

	if len(resultSections) != len(sections) {
		return nil, &annotatedfile.FormatError{
			File: resultPath,
			Line: 1,
			Err: fmt.Errorf("%w: %d query blocks, %d result blocks",
				sqlconvention.ErrResultSectionMismatch, len(sections), len(resultSections)),
		}
	}

	suite := SuiteName(filepath.Dir(path))
	base := baseName(path)
	tests := make([]*SQLTest, 0, len(sections))

	for i, section := range sections {
		qd, err := ParseQueryDescriptor(section, f.defaultDatabase)
		if err != nil {
			return nil, &annotatedfile.FormatError{File: path, Line: section.Line, Err: err}
		}

		if qd.Database == "" {
			return nil, &annotatedfile.FormatError{
				File: path,
				Line: section.Line,
				Err:  fmt.Errorf("%w: no database annotation and no default database", sqlconvention.ErrFormat),
			}
		}

		rd, err := ParseResultDescriptor(resultSections[i])
		if err != nil {
			return nil, &annotatedfile.FormatError{File: resultPath, Line: resultSections[i].Line, Err: err}
		}

		req, err := f.RequirementOf(qd)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, section.Line, err)
		}

		tests = append(tests, &SQLTest{
			Suite:       suite,
			Case:        CaseName(qd.Name, base, i),
			File:        path,
			Index:       i,
			Query:       qd,
			Result:      rd,
			Requirement: req,
		})
	}

	return tests, nil
}

// RequirementOf builds the requirement of a block. Placeholders naming tables
// absent from both table lists are required as immutable tables.
func (f *Factory) RequirementOf(qd QueryDescriptor) (requirement.Requirement, error) {
	var leaves []requirement.Requirement

	declared := make(map[tabledef.TableHandle]struct{})

	add := func(h tabledef.TableHandle, build func(string, ...requirement.Option) requirement.Requirement) error {
		if _, err := f.repo.Get(h.Name); err != nil {
			return err
		}

		declared[h] = struct{}{}
		leaves = append(leaves, build(h.Name, requirement.InDatabase(qd.Database), requirement.InSchema(h.Schema)))

		return nil
	}

	for _, h := range qd.MutableTables {
		if err := add(h, requirement.Mutable); err != nil {
			return requirement.Requirement{}, err
		}
	}

	for _, h := range qd.Tables {
		if _, ok := declared[h]; ok {
			continue
		}

		if err := add(h, requirement.Immutable); err != nil {
			return requirement.Requirement{}, err
		}
	}

	for _, h := range References(qd.Content) {
		if _, ok := declared[h]; ok {
			continue
		}

		if err := add(h, requirement.Immutable); err != nil {
			return requirement.Requirement{}, err
		}
	}

	return requirement.Compose(leaves...), nil
}

// SuiteName derives the suite name from the directory holding the definition file.
func SuiteName(dir string) string {
	return withAlphabeticPrefix(filepath.Base(filepath.Clean(dir)), SuitePrefix)
}

// CaseName derives a case name from the name annotation, or from the file base
// name and the 0-based block index when the block is unnamed.
func CaseName(name, fileBase string, index int) string {
	name = strings.Join(strings.FieldsFunc(name, unicode.IsSpace), "")
	if name == "" {
		name = fileBase + "_" + strconv.Itoa(index)
	}

	return withAlphabeticPrefix(name, CasePrefix)
}

// withAlphabeticPrefix prepends prefix when name does not start with a letter.
// An already prefixed name starts with a letter, so applying it twice is a no-op.
func withAlphabeticPrefix(name, prefix string) string {
	for _, r := range name {
		if unicode.IsLetter(r) {
			return name
		}

		break
	}

	return prefix + name
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// collectTestFiles lists definition files under root in lexical order and rejects
// directories holding two files whose base names differ only in case.
func collectTestFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string

	seen := make(map[string]string)

	err = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if p == root {
				return nil
			}

			name := d.Name()
			if skippedDirs[name] || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}

			return nil
		}

		if !strings.EqualFold(filepath.Ext(p), TestFileExt) {
			return nil
		}

		key := filepath.Join(filepath.Dir(p), strings.ToLower(baseName(p)))
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("%w: %s and %s", sqlconvention.ErrDuplicateTestFile, prev, p)
		}

		seen[key] = p
		files = append(files, p)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)

	return files, nil
}
