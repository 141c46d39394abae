// Package connection holds the physical connections of one client session
// and drives local transactions over them.
package connection

import (
	"context"
	"database/sql"
	"sync"

	"github.com/pkg/errors"

	"github.com/mevdschee/tqshard/datasource"
	"github.com/mevdschee/tqshard/transaction"
)

// Connection is a physical connection owned by one session. Statements go
// to the open transaction when there is one.
type Connection struct {
	conn *datasource.Conn

	mu sync.Mutex
	tx *sql.Tx
}

func newConnection(conn *datasource.Conn) *Connection {
	return &Connection{conn: conn}
}

// DataSourceName implements transaction.Participant.
func (c *Connection) DataSourceName() string { return c.conn.DataSource.Name }

// DatabaseType implements transaction.Participant.
func (c *Connection) DatabaseType() string { return c.conn.DataSource.Type }

func (c *Connection) current() (*sql.Tx, *sql.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx, c.conn.Conn
}

// ExecContext implements transaction.Participant.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	tx, conn := c.current()
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a statement returning rows.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	tx, conn := c.current()
	if tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return conn.QueryContext(ctx, query, args...)
}

// PrepareContext prepares a statement on this connection.
func (c *Connection) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	tx, conn := c.current()
	if tx != nil {
		return tx.PrepareContext(ctx, query)
	}
	return conn.PrepareContext(ctx, query)
}

// InTransaction reports whether a transaction is open on the connection.
func (c *Connection) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx != nil
}

func (c *Connection) begin(ctx context.Context, opts *sql.TxOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx != nil {
		return nil
	}
	tx, err := c.conn.BeginTx(ctx, opts)
	if err != nil {
		return errors.Wrapf(err, "begin transaction on %s", c.conn.DataSource.Name)
	}
	c.tx = tx
	return nil
}

func (c *Connection) finish(commit bool) error {
	c.mu.Lock()
	tx := c.tx
	c.tx = nil
	c.mu.Unlock()
	if tx == nil {
		return nil
	}
	if commit {
		return errors.Wrapf(tx.Commit(), "commit on %s", c.conn.DataSource.Name)
	}
	return errors.Wrapf(tx.Rollback(), "rollback on %s", c.conn.DataSource.Name)
}

// Close rolls back any open transaction and returns the connection to its
// data source.
func (c *Connection) Close() error {
	rerr := c.finish(false)
	if err := c.conn.Close(); err != nil {
		return err
	}
	return rerr
}

var _ transaction.Participant = (*Connection)(nil)
