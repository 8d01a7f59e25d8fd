package sqlbackend

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// ErrorKind is a driver independent class of database failure.
type ErrorKind string

const (
	ErrorKindTableExists     ErrorKind = "table already exists"
	ErrorKindUndefinedTable  ErrorKind = "undefined table"
	ErrorKindSyntax          ErrorKind = "syntax error"
	ErrorKindPermission      ErrorKind = "permission denied"
	ErrorKindUniqueViolation ErrorKind = "unique violation"
	ErrorKindNotNull         ErrorKind = "not null violation"
	ErrorKindColumnCount     ErrorKind = "column count mismatch"
	ErrorKindInvalidValue    ErrorKind = "invalid value"
	ErrorKindDataTooLong     ErrorKind = "data too long"
)

// DriverError carries the driver specific code of a database error.
type DriverError struct {
	Driver string
	Code   string
	Kind   ErrorKind
	Err    error
}

func (e *DriverError) Error() string {
	var b strings.Builder

	b.WriteString(e.Driver)

	if e.Code != "" {
		b.WriteString(" ")
		b.WriteString(e.Code)
	}

	if e.Kind != "" {
		b.WriteString(" (")
		b.WriteString(string(e.Kind))
		b.WriteString(")")
	}

	return fmt.Sprintf("%s: %v", b.String(), e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// Describe wraps a pgx, MySQL or SQLite error into a *DriverError. Other errors
// are returned unchanged.
func Describe(err error) error {
	if err == nil {
		return nil
	}

	var de *DriverError
	if errors.As(err, &de) {
		return err
	}

	// PostgreSQL errors (via pgx)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &DriverError{Driver: "postgres", Code: pgErr.Code, Kind: classifyPostgresError(pgErr), Err: err}
	}

	// MySQL errors
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return &DriverError{Driver: "mysql", Code: strconv.Itoa(int(myErr.Number)), Kind: classifyMySQLError(myErr), Err: err}
	}

	// SQLite errors
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return &DriverError{Driver: "sqlite", Code: strconv.Itoa(int(sqliteErr.ExtendedCode)), Kind: classifySQLiteError(sqliteErr), Err: err}
	}

	return err
}

// KindOf returns the class of err, or "" when it is not a known driver error.
func KindOf(err error) ErrorKind {
	var de *DriverError
	if errors.As(Describe(err), &de) {
		return de.Kind
	}

	return ""
}

// classifyPostgresError classifies PostgreSQL errors based on SQLSTATE codes
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
func classifyPostgresError(err *pgconn.PgError) ErrorKind {
	switch err.Code {
	case "42P07": // duplicate_table
		return ErrorKindTableExists
	case "42P01": // undefined_table
		return ErrorKindUndefinedTable
	case "42601": // syntax_error
		return ErrorKindSyntax
	case "42501": // insufficient_privilege
		return ErrorKindPermission
	case "23505": // unique_violation
		return ErrorKindUniqueViolation
	case "23502": // not_null_violation
		return ErrorKindNotNull
	case "08P01": // protocol_violation, raised for a wrong number of bind values
		return ErrorKindColumnCount
	case "22P02": // invalid_text_representation
		return ErrorKindInvalidValue
	case "22001": // string_data_right_truncation
		return ErrorKindDataTooLong
	default:
		return ""
	}
}

// classifyMySQLError classifies MySQL errors based on error numbers
// See: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
func classifyMySQLError(err *mysql.MySQLError) ErrorKind {
	switch err.Number {
	case 1050: // ER_TABLE_EXISTS_ERROR
		return ErrorKindTableExists
	case 1146, 1051: // ER_NO_SUCH_TABLE, ER_BAD_TABLE_ERROR
		return ErrorKindUndefinedTable
	case 1064: // ER_PARSE_ERROR
		return ErrorKindSyntax
	case 1142, 1044: // ER_TABLEACCESS_DENIED_ERROR, ER_DBACCESS_DENIED_ERROR
		return ErrorKindPermission
	case 1062: // ER_DUP_ENTRY
		return ErrorKindUniqueViolation
	case 1048, 1364: // ER_BAD_NULL_ERROR, ER_NO_DEFAULT_FOR_FIELD
		return ErrorKindNotNull
	case 1136: // ER_WRONG_VALUE_COUNT_ON_ROW
		return ErrorKindColumnCount
	case 1265, 1366: // ER_WARN_DATA_TRUNCATED, ER_TRUNCATED_WRONG_VALUE
		return ErrorKindInvalidValue
	case 1406: // ER_DATA_TOO_LONG
		return ErrorKindDataTooLong
	default:
		return ""
	}
}

// classifySQLiteError classifies SQLite errors based on extended error codes and,
// for generic SQLITE_ERROR, on the message.
// See: https://www.sqlite.org/rescode.html
func classifySQLiteError(err sqlite3.Error) ErrorKind {
	switch err.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return ErrorKindUniqueViolation
	case sqlite3.ErrConstraintNotNull:
		return ErrorKindNotNull
	}

	switch err.Code {
	case sqlite3.ErrPerm, sqlite3.ErrAuth, sqlite3.ErrReadonly:
		return ErrorKindPermission
	case sqlite3.ErrMismatch:
		return ErrorKindInvalidValue
	case sqlite3.ErrTooBig:
		return ErrorKindDataTooLong
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "already exists"):
		return ErrorKindTableExists
	case strings.Contains(msg, "no such table"):
		return ErrorKindUndefinedTable
	case strings.Contains(msg, "syntax error"):
		return ErrorKindSyntax
	case strings.Contains(msg, "values for") && strings.Contains(msg, "columns"):
		return ErrorKindColumnCount
	default:
		return ""
	}
}
