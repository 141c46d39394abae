package statement

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mevdschee/tqshard/executor"
	"github.com/mevdschee/tqshard/metrics"
	"github.com/mevdschee/tqshard/parser"
)

// Callbacks returns the engine callbacks for resources built by an Arena.
func Callbacks() executor.Callbacks[Resource, *Result] {
	return executor.Callbacks[Resource, *Result]{
		Primary:   execute,
		Secondary: complete,
	}
}

// execute runs the statement. Queries in memory strictly mode keep their
// connection to themselves, so their rows are streamed; otherwise the rows
// are read before the connection moves on to the next member.
func execute(ctx context.Context, r Resource) (*Result, error) {
	query := r.Unit.SQL()
	p := parser.Parse(query)
	result := &Result{DataSourceName: r.DataSourceName, SQL: query, Type: p.Type, start: time.Now()}

	err := func() error {
		stmt, err := r.arena.stmt(ctx, r.Conn, query)
		if err != nil {
			return err
		}
		if p.IsQuery() {
			rows, err := stmt.QueryContext(ctx, r.Unit.Parameters()...)
			if err != nil {
				return err
			}
			if result.Columns, err = rows.Columns(); err != nil {
				rows.Close()
				return err
			}
			if r.Mode == executor.MemoryStrictly {
				r.arena.track(rows)
				result.stream = rows
				return nil
			}
			result.Rows, err = scanAll(rows, len(result.Columns))
			return err
		}
		res, err := stmt.ExecContext(ctx, r.Unit.Parameters()...)
		if err != nil {
			return err
		}
		result.sqlResult = res
		result.RowsAffected, err = res.RowsAffected()
		return err
	}()
	if err != nil {
		metrics.ExecutionUnits.WithLabelValues(r.DataSourceName, p.Type.String(), "error").Inc()
		return nil, errors.Wrapf(err, "%s: %s", r.DataSourceName, query)
	}
	return result, nil
}

// complete runs after every successful statement. It reads the generated
// key of inserts and records the statement metrics.
func complete(_ context.Context, r Resource, result *Result) error {
	if result.Type == parser.QueryInsert && result.sqlResult != nil {
		id, err := result.sqlResult.LastInsertId()
		if err != nil {
			zap.L().Debug("no generated key",
				zap.String("data_source", r.DataSourceName),
				zap.Error(err))
		} else {
			result.LastInsertID = id
			result.HasLastInsertID = true
		}
	}
	metrics.ExecutionUnits.WithLabelValues(r.DataSourceName, result.Type.String(), "ok").Inc()
	metrics.ExecutionLatency.WithLabelValues(r.DataSourceName, result.Type.String()).Observe(time.Since(result.start).Seconds())
	return nil
}
