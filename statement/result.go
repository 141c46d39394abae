package statement

import (
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mevdschee/tqshard/parser"
)

// Result is the outcome of one execution unit. A query result either holds
// all of its rows or streams them from the connection; an update result
// holds the affected row count.
type Result struct {
	DataSourceName string
	SQL            string
	Type           parser.QueryType

	Columns []string
	Rows    [][]any

	RowsAffected    int64
	LastInsertID    int64
	HasLastInsertID bool

	stream    *sql.Rows
	sqlResult sql.Result
	start     time.Time
}

// IsQuery reports whether the result carries rows.
func (r *Result) IsQuery() bool {
	return r.Columns != nil
}

// Streaming reports whether rows are still to be read from the connection.
func (r *Result) Streaming() bool {
	return r.stream != nil
}

// Stream returns the open rows of a streaming result.
func (r *Result) Stream() *sql.Rows {
	return r.stream
}

// Fetch reads the remaining rows of a streaming result into Rows.
func (r *Result) Fetch() error {
	if r.stream == nil {
		return nil
	}
	rows, err := scanAll(r.stream, len(r.Columns))
	r.stream = nil
	if err != nil {
		return errors.Wrapf(err, "%s: fetch rows", r.DataSourceName)
	}
	r.Rows = append(r.Rows, rows...)
	return nil
}

// scanAll reads every row. Text comes back from some drivers as []byte and
// is turned into a string; binary columns keep their bytes.
func scanAll(rows *sql.Rows, width int) ([][]any, error) {
	defer rows.Close()
	binary := binaryColumns(rows)
	var out [][]any
	for rows.Next() {
		values := make([]any, width)
		ptrs := make([]any, width)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok && !binary[i] {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	return out, rows.Err()
}

func binaryColumns(rows *sql.Rows) map[int]bool {
	binary := make(map[int]bool)
	types, err := rows.ColumnTypes()
	if err != nil {
		return binary
	}
	for i, ct := range types {
		name := strings.ToUpper(ct.DatabaseTypeName())
		if strings.Contains(name, "BLOB") || strings.Contains(name, "BINARY") || name == "BYTEA" {
			binary[i] = true
		}
	}
	return binary
}
