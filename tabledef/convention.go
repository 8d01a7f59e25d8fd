package tabledef

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/shibukawa/sqlconvention/annotatedfile"
)

const (
	ddlExtension      = ".ddl"
	dataExtension     = ".data"
	revisionExtension = ".data-revision"
)

// Descriptor locates the files of one convention table definition.
type Descriptor struct {
	Name         string
	DDLFile      string
	DataFile     string
	RevisionFile string
}

// ScanDescriptors lists the *.ddl files of root with their companion files.
// A missing root yields no descriptors.
func ScanDescriptors(root string) ([]Descriptor, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read datasets directory %s: %w", root, err)
	}

	var descriptors []Descriptor

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ddlExtension {
			continue
		}

		ddlFile := filepath.Join(root, entry.Name())
		descriptors = append(descriptors, Descriptor{
			Name:         strings.TrimSuffix(entry.Name(), ddlExtension),
			DDLFile:      ddlFile,
			DataFile:     changeExtension(ddlFile, dataExtension),
			RevisionFile: changeExtension(ddlFile, revisionExtension),
		})
	}

	slices.SortFunc(descriptors, func(a, b Descriptor) int { return strings.Compare(a.Name, b.Name) })

	return descriptors, nil
}

// LoadConventionDefinitions registers a definition for every descriptor found under root.
func LoadConventionDefinitions(repo *Repository, root string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	descriptors, err := ScanDescriptors(root)
	if err != nil {
		return err
	}

	if len(descriptors) == 0 {
		logger.Debug("no convention table definitions", zap.String("path", root))
		return nil
	}

	for _, d := range descriptors {
		def, err := DefinitionFor(d)
		if err != nil {
			return err
		}

		if err := repo.Register(def); err != nil {
			return fmt.Errorf("%s: %w", d.DDLFile, err)
		}

		logger.Debug("registered table definition",
			zap.String("table", d.Name),
			zap.String("ddl", d.DDLFile),
			zap.String("revision", def.DataSource().Revision()))
	}

	return nil
}

// DefinitionFor reads the DDL template and wires a file data source.
func DefinitionFor(d Descriptor) (*TableDefinition, error) {
	sections, err := annotatedfile.ParseFile(d.DDLFile)
	if err != nil {
		return nil, fmt.Errorf("could not read ddl file: %w", err)
	}

	if len(sections) != 1 {
		return nil, &annotatedfile.FormatError{File: d.DDLFile, Line: sections[1].Line, Err: fmt.Errorf("ddl file must contain a single section, found %d", len(sections))}
	}

	revision, err := readRevision(d.RevisionFile)
	if err != nil {
		return nil, err
	}

	def, err := NewTableDefinition(d.Name, sections[0].ContentAsSingleLine(), NewFileDataSource(d.DataFile, revision))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.DDLFile, err)
	}

	return def, nil
}

func readRevision(path string) (string, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("failed to read revision file %s: %w", path, err)
	}

	return strings.TrimSpace(string(b)), nil
}

func changeExtension(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
