package executor

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mevdschee/tqshard/metrics"
)

// ConnectionProvider hands out physical connections of one session.
type ConnectionProvider[C any] interface {
	// GetConnections returns size connections of dataSourceName starting at
	// offset, creating missing ones. All or none are returned.
	GetConnections(ctx context.Context, dataSourceName string, offset, size int, mode ConnectionMode) ([]C, error)
}

// ResourceBuilder binds an execution unit to a connection.
type ResourceBuilder[C, T any] interface {
	Build(ctx context.Context, conn C, unit ExecutionUnit, mode ConnectionMode) (T, error)
}

// PrepareEngine turns routed execution units into decorated execution groups.
type PrepareEngine[C, T any] struct {
	maxConnectionsSizePerQuery int
	connections                ConnectionProvider[C]
	builder                    ResourceBuilder[C, T]
	decorators                 *DecoratorChain[T]
}

// NewPrepareEngine creates a prepare engine. decorators may be nil.
func NewPrepareEngine[C, T any](maxConnectionsSizePerQuery int, connections ConnectionProvider[C], builder ResourceBuilder[C, T], decorators *DecoratorChain[T]) (*PrepareEngine[C, T], error) {
	if maxConnectionsSizePerQuery <= 0 {
		return nil, errors.Wrapf(ErrInvalidMaxConnections, "got %d", maxConnectionsSizePerQuery)
	}
	return &PrepareEngine[C, T]{
		maxConnectionsSizePerQuery: maxConnectionsSizePerQuery,
		connections:                connections,
		builder:                    builder,
		decorators:                 decorators,
	}, nil
}

// Prepare groups units per data source, binds each group to one connection
// and runs the decorator chain. On any error no groups are returned.
func (e *PrepareEngine[C, T]) Prepare(ctx context.Context, routeCtx *RouteContext, units []ExecutionUnit) ([]ExecutionGroup[T], error) {
	var result []ExecutionGroup[T]
	names, byDataSource := aggregateByDataSource(units)
	for _, name := range names {
		groups, err := e.group(ctx, name, byDataSource[name])
		if err != nil {
			return nil, err
		}
		result = append(result, groups...)
	}
	result, err := e.decorators.Decorate(routeCtx, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *PrepareEngine[C, T]) group(ctx context.Context, dataSourceName string, units []ExecutionUnit) ([]ExecutionGroup[T], error) {
	mode, chunks := GroupUnits(units, e.maxConnectionsSizePerQuery)
	if len(chunks) == 0 {
		return nil, nil
	}
	conns, err := e.connections.GetConnections(ctx, dataSourceName, 0, len(chunks), mode)
	if err != nil {
		return nil, errors.Wrapf(err, "get %d connections of %s", len(chunks), dataSourceName)
	}
	if len(conns) != len(chunks) {
		return nil, errors.Errorf("expected %d connections of %s, got %d", len(chunks), dataSourceName, len(conns))
	}
	groups := make([]ExecutionGroup[T], 0, len(chunks))
	for i, chunk := range chunks {
		members := make([]T, 0, len(chunk))
		for _, unit := range chunk {
			member, err := e.builder.Build(ctx, conns[i], unit, mode)
			if err != nil {
				return nil, errors.Wrapf(err, "bind %q to %s", unit.SQLUnit.SQL(), dataSourceName)
			}
			members = append(members, member)
		}
		groups = append(groups, ExecutionGroup[T]{Mode: mode, Members: members})
	}
	metrics.ExecutionGroups.WithLabelValues(dataSourceName, mode.String()).Add(float64(len(groups)))
	zap.L().Debug("grouped execution units",
		zap.String("data_source", dataSourceName),
		zap.Int("units", len(units)),
		zap.Int("groups", len(groups)),
		zap.Stringer("mode", mode))
	return groups, nil
}

// aggregateByDataSource keeps the order in which data sources first appear
// and the order of units within each one.
func aggregateByDataSource(units []ExecutionUnit) ([]string, map[string][]ExecutionUnit) {
	var names []string
	byDataSource := make(map[string][]ExecutionUnit)
	for _, unit := range units {
		if _, ok := byDataSource[unit.DataSourceName]; !ok {
			names = append(names, unit.DataSourceName)
		}
		byDataSource[unit.DataSourceName] = append(byDataSource[unit.DataSourceName], unit)
	}
	return names, byDataSource
}
