package executor

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Engine runs execution groups on a bounded pool of goroutines.
type Engine struct {
	pool *ants.Pool
}

// NewEngine creates an engine with size workers. A non-positive size means
// runtime.NumCPU().
func NewEngine(size int) (*Engine, error) {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(v any) {
		zap.L().Error("execution worker panic", zap.Any("panic", v))
	}))
	if err != nil {
		return nil, errors.Wrap(err, "create execution pool")
	}
	return &Engine{pool: pool}, nil
}

// Size returns the worker capacity.
func (e *Engine) Size() int { return e.pool.Cap() }

// Close releases the workers. Running groups finish first.
func (e *Engine) Close() {
	e.pool.Release()
}

// Callbacks are invoked for every member of every group.
type Callbacks[T, R any] struct {
	// Primary executes the member.
	Primary func(ctx context.Context, resource T) (R, error)
	// Secondary, when set, runs after every successful Primary, including
	// ones that returned an empty result.
	Secondary func(ctx context.Context, resource T, result R) error
}

// Execute runs groups and returns one result per member, in group order and
// member order. Members of one group run sequentially; groups run
// concurrently unless serial is set. Every dispatched group runs to
// completion. Failures are collected into an *ExecutionError and no
// results are returned alongside it.
//
// At most Size groups run at once. When ctx is already done, nothing is
// dispatched; when it ends during dispatch, the groups not yet submitted
// fail with ErrSessionClosed and the submitted ones still finish.
func Execute[T, R any](ctx context.Context, e *Engine, groups []ExecutionGroup[T], callbacks Callbacks[T, R], serial bool) ([]R, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(ErrSessionClosed, err.Error())
	}
	if len(groups) == 0 {
		return nil, nil
	}
	if callbacks.Primary == nil {
		return nil, errors.New("primary callback is required")
	}

	offsets := make([]int, len(groups))
	total := 0
	for i, g := range groups {
		offsets[i] = total
		total += len(g.Members)
	}
	run := &groupRun[T, R]{
		ctx:       context.WithoutCancel(ctx),
		callbacks: callbacks,
		results:   make([]R, total),
		errs:      make([]error, total),
	}

	if serial || len(groups) == 1 {
		for i := range groups {
			if i > 0 && ctx.Err() != nil {
				run.fail(groups[i], offsets[i], errors.Wrap(ErrSessionClosed, ctx.Err().Error()))
				continue
			}
			run.execute(groups[i], offsets[i])
		}
		return run.collect()
	}

	if e == nil || e.pool.IsClosed() {
		return nil, ErrEngineClosed
	}
	var wg sync.WaitGroup
	for i := range groups {
		if ctx.Err() != nil {
			run.fail(groups[i], offsets[i], errors.Wrap(ErrSessionClosed, ctx.Err().Error()))
			continue
		}
		group, offset := groups[i], offsets[i]
		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			run.execute(group, offset)
		})
		if err != nil {
			wg.Done()
			run.fail(group, offset, errors.Wrap(err, "submit execution group"))
		}
	}
	wg.Wait()
	return run.collect()
}

// groupRun holds the results of one Execute call. Each slot is written by
// exactly one goroutine.
type groupRun[T, R any] struct {
	ctx       context.Context
	callbacks Callbacks[T, R]
	results   []R
	errs      []error
}

// execute runs the members of one group in order and stops at the first
// failure, since later statements on the connection may depend on it.
func (r *groupRun[T, R]) execute(group ExecutionGroup[T], offset int) {
	for i, member := range group.Members {
		result, err := r.executeMember(member)
		if err != nil {
			r.errs[offset+i] = err
			return
		}
		r.results[offset+i] = result
	}
}

func (r *groupRun[T, R]) executeMember(member T) (result R, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("execution panic: %v", v)
		}
	}()
	result, err = r.callbacks.Primary(r.ctx, member)
	if err != nil {
		return result, err
	}
	if r.callbacks.Secondary != nil {
		if err = r.callbacks.Secondary(r.ctx, member, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// fail records err against the first member of a group that never ran.
func (r *groupRun[T, R]) fail(group ExecutionGroup[T], offset int, err error) {
	if len(group.Members) > 0 {
		r.errs[offset] = err
	}
}

func (r *groupRun[T, R]) collect() ([]R, error) {
	var errs []error
	for _, err := range r.errs {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := newExecutionError(errs); err != nil {
		return nil, err
	}
	return r.results, nil
}
