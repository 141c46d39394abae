package globalclock

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/mevdschee/tqshard/executor"
	"github.com/mevdschee/tqshard/parser"
)

// SnapshotHint is the statement hint carrying the snapshot timestamp.
const SnapshotHint = "snapshot_ts"

const decorateTimeout = 2 * time.Second

// Resource is an execution group member whose SQL can be rewritten.
type Resource[T any] interface {
	SQLUnit() executor.SQLUnit
	WithSQLUnit(unit executor.SQLUnit) T
}

// Decorator marks every statement of a query with the timestamp it reads at.
type Decorator[T Resource[T]] struct {
	provider Provider
}

// NewDecorator creates a Decorator reading timestamps from provider.
func NewDecorator[T Resource[T]](provider Provider) *Decorator[T] {
	return &Decorator[T]{provider: provider}
}

// Order implements executor.Decorator.
func (d *Decorator[T]) Order() int { return 100 }

// Decorate implements executor.Decorator.
func (d *Decorator[T]) Decorate(_ *executor.RouteContext, rule executor.Rule, groups []executor.ExecutionGroup[T]) ([]executor.ExecutionGroup[T], error) {
	if r, ok := rule.(Rule); !ok || !r.Enabled {
		return groups, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), decorateTimeout)
	defer cancel()
	ts, err := d.provider.CurrentTimestamp(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read snapshot timestamp")
	}
	hint := strconv.FormatInt(ts, 10)

	result := make([]executor.ExecutionGroup[T], len(groups))
	for i, g := range groups {
		members := make([]T, len(g.Members))
		for j, m := range g.Members {
			unit := m.SQLUnit()
			members[j] = m.WithSQLUnit(unit.WithSQL(parser.WithHint(unit.SQL(), SnapshotHint, hint)))
		}
		result[i] = executor.ExecutionGroup[T]{Mode: g.Mode, Members: members}
	}
	return result, nil
}
