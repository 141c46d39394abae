package globalclock

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mevdschee/tqshard/lock"
	"github.com/mevdschee/tqshard/metrics"
	"github.com/mevdschee/tqshard/transaction"
)

// DefaultLockTimeout bounds the wait for the commit lock.
const DefaultLockTimeout = 200 * time.Millisecond

// Hook attaches global clock timestamps to transactions.
//
// Timestamp pushes are best effort: failures are logged and the transaction
// goes on. When the commit lock cannot be taken in time the commit goes
// ahead without a commit timestamp, so it may be ordered behind commits on
// other nodes that did get the lock.
type Hook struct {
	rule        Rule
	provider    Provider
	locks       lock.Context
	executors   *ExecutorRegistry
	lockTimeout time.Duration

	// held tracks the transactions that own the commit lock between
	// BeforeCommit and AfterCommit.
	held sync.Map
}

// NewHook creates a Hook. A lockTimeout of zero or less means DefaultLockTimeout.
func NewHook(rule Rule, provider Provider, locks lock.Context, executors *ExecutorRegistry, lockTimeout time.Duration) *Hook {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Hook{
		rule:        rule,
		provider:    provider,
		locks:       locks,
		executors:   executors,
		lockTimeout: lockTimeout,
	}
}

// AfterBegin records the begin timestamp.
func (h *Hook) AfterBegin(ctx context.Context, txCtx *transaction.ConnectionContext) error {
	if !h.rule.Enabled {
		return nil
	}
	ts, err := h.provider.CurrentTimestamp(ctx)
	if err != nil {
		zap.L().Warn("read begin timestamp", zap.Error(err))
		return nil
	}
	txCtx.SetBeginMills(ts)
	metrics.GlobalClockTimestamps.WithLabelValues("begin").Inc()
	return nil
}

// AfterCreateConnections pushes the snapshot timestamp to new participants.
func (h *Hook) AfterCreateConnections(ctx context.Context, participants []transaction.Participant, _ *transaction.ConnectionContext) error {
	if !h.rule.Enabled {
		return nil
	}
	h.push(ctx, participants, "snapshot", Executor.SendSnapshotTimestamp)
	return nil
}

// BeforeExecuteSQL pushes the snapshot timestamp again under read committed,
// where each statement takes a new read view.
func (h *Hook) BeforeExecuteSQL(ctx context.Context, participants []transaction.Participant, _ *transaction.ConnectionContext, isolation sql.IsolationLevel) error {
	if !h.rule.Enabled {
		return nil
	}
	if isolation != sql.LevelDefault && isolation != sql.LevelReadCommitted {
		return nil
	}
	h.push(ctx, participants, "snapshot", Executor.SendSnapshotTimestamp)
	return nil
}

// BeforeCommit takes the commit lock and pushes the commit timestamp.
func (h *Hook) BeforeCommit(ctx context.Context, participants []transaction.Participant, txCtx *transaction.ConnectionContext) error {
	if !h.rule.Enabled {
		return nil
	}
	if !h.locks.TryLock(ctx, lock.GlobalClockDefinition, h.lockTimeout) {
		metrics.CommitLock.WithLabelValues("timeout").Inc()
		zap.L().Warn("commit without global timestamp: lock not acquired",
			zap.Duration("timeout", h.lockTimeout))
		return nil
	}
	metrics.CommitLock.WithLabelValues("acquired").Inc()
	h.held.Store(txCtx, struct{}{})
	h.push(ctx, participants, "commit", Executor.SendCommitTimestamp)
	return nil
}

// AfterCommit advances the clock and releases the commit lock. It runs
// whether or not the commit succeeded.
func (h *Hook) AfterCommit(ctx context.Context, _ []transaction.Participant, txCtx *transaction.ConnectionContext) error {
	if _, ok := h.held.LoadAndDelete(txCtx); !ok {
		return nil
	}
	defer func() {
		if uerr := h.locks.Unlock(lock.GlobalClockDefinition); uerr != nil {
			zap.L().Warn("release commit lock", zap.Error(uerr))
		}
	}()
	if _, err := h.provider.NextTimestamp(ctx); err != nil {
		return errors.Wrap(err, "advance global clock")
	}
	metrics.GlobalClockTimestamps.WithLabelValues("next").Inc()
	return nil
}

func (h *Hook) BeforeRollback(context.Context, []transaction.Participant, *transaction.ConnectionContext) error {
	return nil
}

func (h *Hook) AfterRollback(context.Context, []transaction.Participant, *transaction.ConnectionContext) error {
	return nil
}

type sendFunc func(e Executor, ctx context.Context, participants []transaction.Participant, ts int64) error

// push sends the current timestamp to every participant whose database
// type has an executor.
func (h *Hook) push(ctx context.Context, participants []transaction.Participant, kind string, send sendFunc) {
	byType := make(map[string][]transaction.Participant)
	var types []string
	for _, p := range participants {
		t := p.DatabaseType()
		if _, ok := h.executors.Lookup(t); !ok {
			continue
		}
		if _, seen := byType[t]; !seen {
			types = append(types, t)
		}
		byType[t] = append(byType[t], p)
	}
	if len(types) == 0 {
		return
	}

	ts, err := h.provider.CurrentTimestamp(ctx)
	if err != nil {
		zap.L().Warn("read global timestamp", zap.String("kind", kind), zap.Error(err))
		return
	}
	for _, t := range types {
		e, _ := h.executors.Lookup(t)
		if err := send(e, ctx, byType[t], ts); err != nil {
			zap.L().Warn("push global timestamp",
				zap.String("kind", kind),
				zap.String("database_type", t),
				zap.Int64("timestamp", ts),
				zap.Error(err))
			continue
		}
		metrics.GlobalClockTimestamps.WithLabelValues(kind).Inc()
	}
}

var _ transaction.Hook = (*Hook)(nil)
