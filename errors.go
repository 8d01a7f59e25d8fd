package sqlconvention

import "errors"

// Common errors used throughout the sqlconvention packages
var (
	// Parser errors
	// ErrFormat is returned when a definition, data or result file is malformed.
	ErrFormat = errors.New("malformed definition file")
	// ErrMalformedMarker indicates a section delimiter line that does not follow the marker syntax.
	ErrMalformedMarker = errors.New("malformed section marker")
	// ErrAnnotationAfterContent indicates an annotation line after the content of a block started.
	ErrAnnotationAfterContent = errors.New("annotation line after content")

	// Table definition errors
	// ErrDuplicateDefinition is returned when a table definition name is registered twice.
	ErrDuplicateDefinition = errors.New("duplicate table definition")
	// ErrMalformedTemplate indicates a DDL template without exactly one %NAME% placeholder.
	ErrMalformedTemplate = errors.New("malformed ddl template")
	// ErrDefinitionNotFound indicates a table definition name unknown to the repository.
	ErrDefinitionNotFound = errors.New("table definition not found")
	// ErrUnsupportedDataFormat indicates an unknown data file format annotation.
	ErrUnsupportedDataFormat = errors.New("unsupported data format")

	// Fulfillment errors
	// ErrProvisioning is returned when creating or loading a table failed.
	ErrProvisioning = errors.New("table provisioning failed")
	// ErrTableNotFound indicates a table handle looked up before or without provisioning.
	ErrTableNotFound = errors.New("table not found")
	// ErrNoTableManager indicates a requirement targets a database without a table manager.
	ErrNoTableManager = errors.New("no table manager for database")

	// Execution errors
	// ErrExecutorResolution indicates no query executor is bound for a declared database.
	ErrExecutorResolution = errors.New("cannot resolve query executor")
	// ErrAssertion indicates the query result did not match the expected result.
	ErrAssertion = errors.New("result assertion failed")
	// ErrScript indicates a before or after script failed.
	ErrScript = errors.New("script failed")
	// ErrUnsupportedQueryType indicates an unknown query_type annotation value.
	ErrUnsupportedQueryType = errors.New("unsupported query type")

	// Discovery errors
	// ErrDuplicateTestFile indicates two test files in one directory with the same base name.
	ErrDuplicateTestFile = errors.New("duplicate test file base name in directory")
	// ErrDuplicateTestName indicates two generated tests share a suite and case name.
	ErrDuplicateTestName = errors.New("duplicate test name")
	// ErrResultSectionMismatch indicates a result file whose sections do not line up with the queries.
	ErrResultSectionMismatch = errors.New("result sections do not match query sections")
	// ErrMissingResultFile indicates a test definition file without its companion result file.
	ErrMissingResultFile = errors.New("missing result file")

	// Runner errors
	// ErrNoTestsSelected indicates the selection filters left nothing to run.
	ErrNoTestsSelected = errors.New("no tests selected")
)
