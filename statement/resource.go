// Package statement executes SQL units on session connections through
// database/sql.
package statement

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/mevdschee/tqshard/connection"
	"github.com/mevdschee/tqshard/executor"
)

// Resource is one execution group member: a SQL unit bound to the
// connection of its group.
type Resource struct {
	DataSourceName string
	Conn           *connection.Connection
	Unit           executor.SQLUnit
	Mode           executor.ConnectionMode

	arena *Arena
}

// SQLUnit returns the statement of the resource.
func (r Resource) SQLUnit() executor.SQLUnit { return r.Unit }

// WithSQLUnit returns a copy of the resource running unit instead.
func (r Resource) WithSQLUnit(unit executor.SQLUnit) Resource {
	r.Unit = unit
	return r
}

type stmtKey struct {
	conn *connection.Connection
	sql  string
}

// Arena owns everything allocated for one query: prepared statements and
// open result streams. They are all released together by Close.
type Arena struct {
	mu     sync.Mutex
	stmts  map[stmtKey]*sql.Stmt
	rows   []*sql.Rows
	closed bool
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{stmts: make(map[stmtKey]*sql.Stmt)}
}

// Build implements executor.ResourceBuilder. Statements are prepared when
// first executed, after decorators have had their say.
func (a *Arena) Build(_ context.Context, conn *connection.Connection, unit executor.ExecutionUnit, mode executor.ConnectionMode) (Resource, error) {
	return Resource{
		DataSourceName: unit.DataSourceName,
		Conn:           conn,
		Unit:           unit.SQLUnit,
		Mode:           mode,
		arena:          a,
	}, nil
}

// stmt returns the statement for query on conn, preparing it once.
// A connection belongs to a single group, so two goroutines never prepare
// for the same key.
func (a *Arena) stmt(ctx context.Context, conn *connection.Connection, query string) (*sql.Stmt, error) {
	key := stmtKey{conn: conn, sql: query}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, errArenaClosed
	}
	stmt, ok := a.stmts[key]
	a.mu.Unlock()
	if ok {
		return stmt, nil
	}

	stmt, err := conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		stmt.Close()
		return nil, errArenaClosed
	}
	a.stmts[key] = stmt
	return stmt, nil
}

func (a *Arena) track(rows *sql.Rows) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = append(a.rows, rows)
}

// Statements returns the number of prepared statements held.
func (a *Arena) Statements() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.stmts)
}

// Close releases open result streams and prepared statements.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	var errs []error
	for _, rows := range a.rows {
		if err := rows.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, stmt := range a.stmts {
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.rows = nil
	a.stmts = nil
	return errors.Join(errs...)
}

var errArenaClosed = errors.New("statement arena closed")

var _ executor.ResourceBuilder[*connection.Connection, Resource] = (*Arena)(nil)
