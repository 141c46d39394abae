package connection

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/mevdschee/tqshard/datasource"
	"github.com/mevdschee/tqshard/executor"
	"github.com/mevdschee/tqshard/transaction"
)

// Manager caches the connections of one session per data source and runs
// local transactions across them. Connections are held until the end of
// the transaction, or until Release outside a transaction.
type Manager struct {
	pool  *datasource.Pool
	hooks transaction.Hook
	txCtx *transaction.ConnectionContext

	mu        sync.Mutex
	cached    map[string][]*Connection
	order     []string
	isolation sql.IsolationLevel
	closed    bool
}

// NewManager creates a Manager. hooks may be nil.
func NewManager(pool *datasource.Pool, hooks transaction.Hook) *Manager {
	if hooks == nil {
		hooks = transaction.Hooks(nil)
	}
	return &Manager{
		pool:   pool,
		hooks:  hooks,
		txCtx:  &transaction.ConnectionContext{},
		cached: make(map[string][]*Connection),
	}
}

// TransactionContext returns the transaction state of the session.
func (m *Manager) TransactionContext() *transaction.ConnectionContext {
	return m.txCtx
}

// SetIsolationLevel sets the isolation level of transactions begun later.
func (m *Manager) SetIsolationLevel(level sql.IsolationLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isolation = level
}

// IsolationLevel returns the session isolation level.
func (m *Manager) IsolationLevel() sql.IsolationLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isolation
}

func (m *Manager) txOptions() *sql.TxOptions {
	if m.isolation == sql.LevelDefault {
		return nil
	}
	return &sql.TxOptions{Isolation: m.isolation}
}

// GetConnections implements executor.ConnectionProvider. Memory strictly
// queries take all missing connections of a data source at once.
func (m *Manager) GetConnections(ctx context.Context, dataSourceName string, offset, size int, mode executor.ConnectionMode) ([]*Connection, error) {
	if size <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	cached := m.cached[dataSourceName]
	missing := offset + size - len(cached)
	if missing <= 0 {
		result := append([]*Connection(nil), cached[offset:offset+size]...)
		m.mu.Unlock()
		return result, nil
	}
	inTx := m.txCtx.InTransaction()
	opts := m.txOptions()
	m.mu.Unlock()

	conns, err := m.pool.AcquireConns(ctx, dataSourceName, missing, mode == executor.MemoryStrictly)
	if err != nil {
		return nil, err
	}
	created := make([]*Connection, len(conns))
	for i, c := range conns {
		created[i] = newConnection(c)
	}
	if inTx {
		for _, c := range created {
			if err := c.begin(ctx, opts); err != nil {
				closeAll(created)
				return nil, err
			}
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		closeAll(created)
		return nil, ErrManagerClosed
	}
	if _, ok := m.cached[dataSourceName]; !ok {
		m.order = append(m.order, dataSourceName)
	}
	m.cached[dataSourceName] = append(m.cached[dataSourceName], created...)
	all := m.cached[dataSourceName]
	result := append([]*Connection(nil), all[offset:min(offset+size, len(all))]...)
	m.mu.Unlock()

	if inTx {
		if err := m.hooks.AfterCreateConnections(ctx, participants(created), m.txCtx); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Participants returns every cached connection, by data source in first
// use order.
func (m *Manager) Participants() []transaction.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ps []transaction.Participant
	for _, name := range m.order {
		for _, c := range m.cached[name] {
			ps = append(ps, c)
		}
	}
	return ps
}

// Begin starts a local transaction. Connections already held join it.
func (m *Manager) Begin(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.txCtx.InTransaction() {
		m.mu.Unlock()
		return transaction.ErrTransactionStarted
	}
	m.txCtx.Begin(transaction.Local)
	opts := m.txOptions()
	m.mu.Unlock()

	if err := m.hooks.AfterBegin(ctx, m.txCtx); err != nil {
		return err
	}
	held := m.Participants()
	for _, p := range held {
		if err := p.(*Connection).begin(ctx, opts); err != nil {
			return err
		}
	}
	if len(held) > 0 {
		return m.hooks.AfterCreateConnections(ctx, held, m.txCtx)
	}
	return nil
}

// BeforeExecute runs the statement hooks of an open transaction.
func (m *Manager) BeforeExecute(ctx context.Context) error {
	if !m.txCtx.InTransaction() {
		return nil
	}
	return m.hooks.BeforeExecuteSQL(ctx, m.Participants(), m.txCtx, m.IsolationLevel())
}

// Commit commits every participant. The commit always happens, whatever
// the hooks report, and AfterCommit always follows it. A commit failure
// is returned in preference to hook failures.
func (m *Manager) Commit(ctx context.Context) error {
	if !m.txCtx.InTransaction() {
		return transaction.ErrNoTransaction
	}
	ps := m.Participants()
	beforeErr := m.hooks.BeforeCommit(ctx, ps, m.txCtx)
	commitErr := finishAll(ps, true)
	afterErr := m.hooks.AfterCommit(ctx, ps, m.txCtx)
	m.txCtx.Reset()
	m.Release()

	switch {
	case commitErr != nil:
		return commitErr
	case beforeErr != nil:
		return beforeErr
	default:
		return afterErr
	}
}

// Rollback rolls back every participant.
func (m *Manager) Rollback(ctx context.Context) error {
	if !m.txCtx.InTransaction() {
		return transaction.ErrNoTransaction
	}
	ps := m.Participants()
	beforeErr := m.hooks.BeforeRollback(ctx, ps, m.txCtx)
	rollbackErr := finishAll(ps, false)
	afterErr := m.hooks.AfterRollback(ctx, ps, m.txCtx)
	m.txCtx.Reset()
	m.Release()
	return errors.Join(rollbackErr, beforeErr, afterErr)
}

// Release returns every held connection outside a transaction.
func (m *Manager) Release() {
	if m.txCtx.InTransaction() {
		return
	}
	m.mu.Lock()
	held := m.cached
	m.cached = make(map[string][]*Connection)
	m.order = nil
	m.mu.Unlock()

	for _, conns := range held {
		closeAll(conns)
	}
}

// Close rolls back an open transaction and releases every connection.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	var err error
	if m.txCtx.InTransaction() {
		err = m.Rollback(ctx)
	}
	m.Release()
	return err
}

func participants(conns []*Connection) []transaction.Participant {
	ps := make([]transaction.Participant, len(conns))
	for i, c := range conns {
		ps[i] = c
	}
	return ps
}

func finishAll(ps []transaction.Participant, commit bool) error {
	var errs []error
	for _, p := range ps {
		if err := p.(*Connection).finish(commit); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeAll(conns []*Connection) {
	for _, c := range conns {
		if err := c.Close(); err != nil {
			zap.L().Warn("close connection", zap.String("data_source", c.DataSourceName()), zap.Error(err))
		}
	}
}

var _ executor.ConnectionProvider[*Connection] = (*Manager)(nil)
