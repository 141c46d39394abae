package globalclock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mevdschee/tqshard/transaction"
)

// Executor pushes timestamps to the participants of one database type.
type Executor interface {
	SendSnapshotTimestamp(ctx context.Context, participants []transaction.Participant, ts int64) error
	SendCommitTimestamp(ctx context.Context, participants []transaction.Participant, ts int64) error
}

// ExecutorRegistry maps a database type to its Executor. Database types
// without an executor do not take part in the global clock.
type ExecutorRegistry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewExecutorRegistry creates an empty registry.
func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{executors: make(map[string]Executor)}
}

// DefaultExecutors returns a registry with the built-in executors.
func DefaultExecutors() *ExecutorRegistry {
	r := NewExecutorRegistry()
	r.Register("opengauss", OpenGaussExecutor{})
	return r
}

// Register sets the executor for databaseType.
func (r *ExecutorRegistry) Register(databaseType string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[databaseType] = e
}

// Lookup returns the executor for databaseType.
func (r *ExecutorRegistry) Lookup(databaseType string) (Executor, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[databaseType]
	return e, ok
}

// OpenGaussExecutor sets the snapshot and commit CSN of openGauss sessions.
type OpenGaussExecutor struct{}

// SendSnapshotTimestamp implements Executor.
func (OpenGaussExecutor) SendSnapshotTimestamp(ctx context.Context, participants []transaction.Participant, ts int64) error {
	return execAll(ctx, participants, fmt.Sprintf("SELECT %d AS SETSNAPSHOTCSN", ts))
}

// SendCommitTimestamp implements Executor.
func (OpenGaussExecutor) SendCommitTimestamp(ctx context.Context, participants []transaction.Participant, ts int64) error {
	return execAll(ctx, participants, fmt.Sprintf("SELECT %d AS SETCOMMITCSN", ts))
}

func execAll(ctx context.Context, participants []transaction.Participant, query string) error {
	var errs []error
	for _, p := range participants {
		if _, err := p.ExecContext(ctx, query); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.DataSourceName(), err))
		}
	}
	return errors.Join(errs...)
}
