package proxy

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mevdschee/tqshard/connection"
	"github.com/mevdschee/tqshard/executor"
	"github.com/mevdschee/tqshard/statement"
)

// Session is one client session. Its statements run one at a time; the
// units of one statement run concurrently across connections.
type Session struct {
	backend *Backend
	manager *connection.Manager

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	mu sync.Mutex
}

// NewSession opens a session.
func (b *Backend) NewSession() *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		backend: b,
		manager: connection.NewManager(b.pool, b.hooks),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Execute runs units and returns one fully read result per unit, in the
// order of the groups: units of the first data source come first, each in
// routing order. When any unit fails the error lists every failure and no
// results are returned.
func (s *Session) Execute(ctx context.Context, routeCtx *executor.RouteContext, units []executor.ExecutionUnit) ([]*statement.Result, error) {
	var out []*statement.Result
	err := s.ExecuteFunc(ctx, routeCtx, units, func(results []*statement.Result) error {
		for _, r := range results {
			if err := r.Fetch(); err != nil {
				return err
			}
		}
		out = results
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExecuteFunc is like Execute but hands the results to fn while they are
// still open, so memory strictly queries can be read as a stream. The
// results are released when fn returns.
func (s *Session) ExecuteFunc(ctx context.Context, routeCtx *executor.RouteContext, units []executor.ExecutionUnit, fn func([]*statement.Result) error) error {
	if s.closed.Load() {
		return executor.ErrSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	start := time.Now()
	arena := statement.NewArena()
	defer func() {
		if err := arena.Close(); err != nil {
			zap.L().Warn("release statements", zap.Error(err))
		}
		s.manager.Release()
	}()

	chain := executor.NewDecoratorChain(s.backend.decorators, s.backend.rules...)
	prepare, err := executor.NewPrepareEngine[*connection.Connection, statement.Resource](
		s.backend.MaxConnectionsSizePerQuery(), s.manager, arena, chain)
	if err != nil {
		return err
	}
	groups, err := prepare.Prepare(ctx, routeCtx, units)
	if err != nil {
		return err
	}
	if err := s.manager.BeforeExecute(ctx); err != nil {
		return err
	}
	results, err := executor.Execute(ctx, s.backend.engine, groups, statement.Callbacks(), false)
	if err != nil {
		zap.L().Debug("execute failed", zap.Int("units", len(units)), zap.Error(err))
		return err
	}
	zap.L().Debug("executed",
		zap.Int("units", len(units)),
		zap.Int("groups", len(groups)),
		zap.Duration("elapsed", time.Since(start)))
	return fn(results)
}

// Begin starts a transaction.
func (s *Session) Begin(ctx context.Context) error {
	if s.closed.Load() {
		return executor.ErrSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manager.Begin(ctx)
}

// Commit commits the transaction.
func (s *Session) Commit(ctx context.Context) error {
	if s.closed.Load() {
		return executor.ErrSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manager.Commit(ctx)
}

// Rollback rolls back the transaction.
func (s *Session) Rollback(ctx context.Context) error {
	if s.closed.Load() {
		return executor.ErrSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manager.Rollback(ctx)
}

// InTransaction reports whether a transaction is open.
func (s *Session) InTransaction() bool {
	return s.manager.TransactionContext().InTransaction()
}

// SetIsolationLevel sets the isolation level of later transactions.
func (s *Session) SetIsolationLevel(level sql.IsolationLevel) {
	s.manager.SetIsolationLevel(level)
}

// Close rolls back an open transaction and releases the connections.
// Statements already running finish; later calls fail with
// executor.ErrSessionClosed.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manager.Close(context.Background())
}
