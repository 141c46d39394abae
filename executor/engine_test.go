package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type member struct {
	name  string
	delay time.Duration
	fail  bool
}

func newTestEngine(t *testing.T, size int) *Engine {
	t.Helper()
	e, err := NewEngine(size)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func primary(ctx context.Context, m member) (string, error) {
	time.Sleep(m.delay)
	if m.fail {
		return "", errors.New("unit " + m.name + " failed")
	}
	return m.name, nil
}

func TestExecute_PreservesSubmissionOrder(t *testing.T) {
	e := newTestEngine(t, 4)
	groups := []ExecutionGroup[member]{
		{Mode: ConnectionStrictly, Members: []member{{name: "A", delay: 30 * time.Millisecond}, {name: "B", delay: 10 * time.Millisecond}}},
		{Mode: MemoryStrictly, Members: []member{{name: "C"}}},
	}
	results, err := Execute(context.Background(), e, groups, Callbacks[member, string]{Primary: primary}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, results)
}

func TestExecute_AggregatesFailure(t *testing.T) {
	e := newTestEngine(t, 4)
	var sideEffects atomic.Int32
	groups := []ExecutionGroup[member]{
		{Members: []member{{name: "A"}, {name: "B", fail: true}}},
		{Members: []member{{name: "C", delay: 20 * time.Millisecond}}},
	}
	results, err := Execute(context.Background(), e, groups, Callbacks[member, string]{
		Primary: func(ctx context.Context, m member) (string, error) {
			r, err := primary(ctx, m)
			if err == nil {
				sideEffects.Add(1)
			}
			return r, err
		},
	}, false)
	require.Error(t, err)
	assert.Nil(t, results, "partial results are not exposed")

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Len(t, execErr.Errors(), 1)
	assert.EqualError(t, execErr.Cause(), "unit B failed")
	assert.Equal(t, int32(2), sideEffects.Load(), "A and C still ran to completion")
}

func TestExecute_ChainsEveryFailure(t *testing.T) {
	e := newTestEngine(t, 4)
	sentinel := errors.New("disk full")
	groups := []ExecutionGroup[member]{
		{Members: []member{{name: "A", fail: true}}},
		{Members: []member{{name: "B"}}},
		{Members: []member{{name: "C", fail: true}}},
	}
	_, err := Execute(context.Background(), e, groups, Callbacks[member, string]{
		Primary: func(ctx context.Context, m member) (string, error) {
			if m.name == "C" {
				return "", sentinel
			}
			return primary(ctx, m)
		},
	}, false)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Len(t, execErr.Errors(), 2)
	assert.EqualError(t, execErr.Cause(), "unit A failed")
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "disk full")
}

func TestExecute_GroupStopsAtFirstFailure(t *testing.T) {
	e := newTestEngine(t, 2)
	var ran []string
	var mu sync.Mutex
	groups := []ExecutionGroup[member]{
		{Members: []member{{name: "A"}, {name: "B", fail: true}, {name: "C"}}},
	}
	_, err := Execute(context.Background(), e, groups, Callbacks[member, string]{
		Primary: func(ctx context.Context, m member) (string, error) {
			mu.Lock()
			ran = append(ran, m.name)
			mu.Unlock()
			return primary(ctx, m)
		},
	}, false)
	require.Error(t, err)
	assert.Equal(t, []string{"A", "B"}, ran)
}

func TestExecute_SecondaryCallbackNeverSkipped(t *testing.T) {
	e := newTestEngine(t, 2)
	var secondary []string
	var mu sync.Mutex
	groups := []ExecutionGroup[member]{
		{Members: []member{{name: ""}, {name: "B"}}},
		{Members: []member{{name: "C", fail: true}}},
	}
	_, err := Execute(context.Background(), e, groups, Callbacks[member, string]{
		Primary: primary,
		Secondary: func(_ context.Context, m member, result string) error {
			mu.Lock()
			defer mu.Unlock()
			secondary = append(secondary, "after:"+result)
			return nil
		},
	}, false)
	require.Error(t, err)
	assert.ElementsMatch(t, []string{"after:", "after:B"}, secondary, "empty results still get the secondary callback, failed ones do not")
}

func TestExecute_SecondaryFailureIsCollected(t *testing.T) {
	e := newTestEngine(t, 2)
	groups := []ExecutionGroup[member]{{Members: []member{{name: "A"}}}}
	_, err := Execute(context.Background(), e, groups, Callbacks[member, string]{
		Primary: primary,
		Secondary: func(context.Context, member, string) error {
			return errors.New("generated keys unavailable")
		},
	}, false)
	assert.EqualError(t, err, "generated keys unavailable")
}

func TestExecute_ClosedSessionDispatchesNothing(t *testing.T) {
	e := newTestEngine(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	groups := []ExecutionGroup[member]{{Members: []member{{name: "A"}}}, {Members: []member{{name: "B"}}}}
	_, err := Execute(ctx, e, groups, Callbacks[member, string]{
		Primary: func(ctx context.Context, m member) (string, error) {
			calls.Add(1)
			return m.name, nil
		},
	}, false)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Zero(t, calls.Load())
}

func TestExecute_BoundedConcurrency(t *testing.T) {
	e := newTestEngine(t, 2)
	var running, peak atomic.Int32
	groups := make([]ExecutionGroup[member], 8)
	for i := range groups {
		groups[i] = ExecutionGroup[member]{Members: []member{{name: "m", delay: 20 * time.Millisecond}}}
	}
	_, err := Execute(context.Background(), e, groups, Callbacks[member, string]{
		Primary: func(ctx context.Context, m member) (string, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			defer running.Add(-1)
			return primary(ctx, m)
		},
	}, false)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(2))
}

func TestExecute_Serial(t *testing.T) {
	var order []string
	groups := []ExecutionGroup[member]{
		{Members: []member{{name: "A", delay: 10 * time.Millisecond}}},
		{Members: []member{{name: "B"}}},
	}
	results, err := Execute(context.Background(), nil, groups, Callbacks[member, string]{
		Primary: func(ctx context.Context, m member) (string, error) {
			order = append(order, m.name)
			return primary(ctx, m)
		},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, order)
	assert.Equal(t, []string{"A", "B"}, results)
}

func TestExecute_PanicBecomesError(t *testing.T) {
	e := newTestEngine(t, 2)
	groups := []ExecutionGroup[member]{{Members: []member{{name: "A"}}}, {Members: []member{{name: "B"}}}}
	_, err := Execute(context.Background(), e, groups, Callbacks[member, string]{
		Primary: func(ctx context.Context, m member) (string, error) {
			if m.name == "B" {
				panic("driver bug")
			}
			return m.name, nil
		},
	}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver bug")
}

func TestExecute_ReleasedEngine(t *testing.T) {
	e, err := NewEngine(1)
	require.NoError(t, err)
	e.Close()
	groups := []ExecutionGroup[member]{{Members: []member{{name: "A"}}}, {Members: []member{{name: "B"}}}}
	_, err = Execute(context.Background(), e, groups, Callbacks[member, string]{Primary: primary}, false)
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestExecute_NoGroups(t *testing.T) {
	results, err := Execute(context.Background(), newTestEngine(t, 1), nil, Callbacks[member, string]{Primary: primary}, false)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestNewEngine_DefaultSize(t *testing.T) {
	e := newTestEngine(t, 0)
	assert.Positive(t, e.Size())
}
