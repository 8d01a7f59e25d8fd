package sqlbackend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/shibukawa/sqlconvention"
	"github.com/shibukawa/sqlconvention/tabledef"
)

var copyEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`, "\t", `\t`)

// copyRows streams rows through COPY FROM STDIN in text format. copied is false,
// with rows untouched, when the pooled connection is not a pgx connection.
func (m *Manager) copyRows(ctx context.Context, table string, rows tabledef.RowIterator) (total int64, copied bool, err error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return 0, true, fmt.Errorf("failed to get connection: %w", Describe(err))
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn any) error {
		pgxConn, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return nil
		}

		copied = true

		pr, pw := io.Pipe()
		writeErr := make(chan error, 1)

		go func() {
			err := writeCopyText(pw, table, rows)
			pw.CloseWithError(err)
			writeErr <- err
		}()

		tag, err := pgxConn.Conn().PgConn().CopyFrom(ctx, pr, "COPY "+m.dialect.QuoteQualified(table)+" FROM STDIN")
		// unblocks the writer when the server stopped reading early
		pr.CloseWithError(io.ErrClosedPipe)

		if werr := <-writeErr; werr != nil && !errors.Is(werr, io.ErrClosedPipe) {
			return werr
		}

		if err != nil {
			return fmt.Errorf("failed to copy rows: %w", Describe(err))
		}

		total = tag.RowsAffected()

		return nil
	})

	return total, copied, err
}

// writeCopyText writes rows in the text format of COPY: tab separated columns,
// one row per line, \N for NULL.
func writeCopyText(w io.Writer, table string, rows tabledef.RowIterator) error {
	bw := bufio.NewWriter(w)

	var (
		line  int64
		width = -1
	)

	for rows.Next() {
		row := rows.Row()
		line++

		if width < 0 {
			width = len(row)
		}

		if len(row) == 0 || len(row) != width {
			return fmt.Errorf("%w: row %d of %s has %d values, expected %d", sqlconvention.ErrFormat, line, table, len(row), max(width, 1))
		}

		for i, v := range row {
			if i > 0 {
				bw.WriteByte('\t')
			}

			bw.WriteString(copyValue(v))
		}

		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read rows: %w", err)
	}

	return bw.Flush()
}

func copyValue(v any) string {
	switch val := v.(type) {
	case nil:
		return `\N`
	case string:
		return copyEscaper.Replace(val)
	case []byte:
		return copyEscaper.Replace(string(val))
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return copyEscaper.Replace(fmt.Sprint(val))
	}
}
