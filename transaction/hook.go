package transaction

import (
	"context"
	"database/sql"
	"errors"
)

var (
	// ErrNoTransaction is returned by Commit and Rollback outside a transaction.
	ErrNoTransaction = errors.New("no transaction in progress")

	// ErrTransactionStarted is returned by Begin inside a transaction.
	ErrTransactionStarted = errors.New("transaction already started")
)

// Participant is a physical connection taking part in a transaction.
type Participant interface {
	DataSourceName() string
	DatabaseType() string
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Hook is called by the transaction manager at each lifecycle point.
// BeforeCommit and AfterCommit always come in pairs, whatever the outcome
// of the commit in between.
type Hook interface {
	AfterBegin(ctx context.Context, txCtx *ConnectionContext) error
	AfterCreateConnections(ctx context.Context, participants []Participant, txCtx *ConnectionContext) error
	// BeforeExecuteSQL receives sql.LevelDefault when no isolation level was set.
	BeforeExecuteSQL(ctx context.Context, participants []Participant, txCtx *ConnectionContext, isolation sql.IsolationLevel) error
	BeforeCommit(ctx context.Context, participants []Participant, txCtx *ConnectionContext) error
	AfterCommit(ctx context.Context, participants []Participant, txCtx *ConnectionContext) error
	BeforeRollback(ctx context.Context, participants []Participant, txCtx *ConnectionContext) error
	AfterRollback(ctx context.Context, participants []Participant, txCtx *ConnectionContext) error
}

// Hooks runs a list of hooks in order. Every hook runs even when an earlier
// one fails; the failures are joined.
type Hooks []Hook

func (hs Hooks) each(fn func(Hook) error) error {
	var errs []error
	for _, h := range hs {
		if err := fn(h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (hs Hooks) AfterBegin(ctx context.Context, txCtx *ConnectionContext) error {
	return hs.each(func(h Hook) error { return h.AfterBegin(ctx, txCtx) })
}

func (hs Hooks) AfterCreateConnections(ctx context.Context, participants []Participant, txCtx *ConnectionContext) error {
	return hs.each(func(h Hook) error { return h.AfterCreateConnections(ctx, participants, txCtx) })
}

func (hs Hooks) BeforeExecuteSQL(ctx context.Context, participants []Participant, txCtx *ConnectionContext, isolation sql.IsolationLevel) error {
	return hs.each(func(h Hook) error { return h.BeforeExecuteSQL(ctx, participants, txCtx, isolation) })
}

func (hs Hooks) BeforeCommit(ctx context.Context, participants []Participant, txCtx *ConnectionContext) error {
	return hs.each(func(h Hook) error { return h.BeforeCommit(ctx, participants, txCtx) })
}

func (hs Hooks) AfterCommit(ctx context.Context, participants []Participant, txCtx *ConnectionContext) error {
	return hs.each(func(h Hook) error { return h.AfterCommit(ctx, participants, txCtx) })
}

func (hs Hooks) BeforeRollback(ctx context.Context, participants []Participant, txCtx *ConnectionContext) error {
	return hs.each(func(h Hook) error { return h.BeforeRollback(ctx, participants, txCtx) })
}

func (hs Hooks) AfterRollback(ctx context.Context, participants []Participant, txCtx *ConnectionContext) error {
	return hs.each(func(h Hook) error { return h.AfterRollback(ctx, participants, txCtx) })
}

var _ Hook = Hooks(nil)
