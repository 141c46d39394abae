package globalclock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mevdschee/tqshard/config"
	"github.com/mevdschee/tqshard/executor"
)

func TestLocalProvider(t *testing.T) {
	p := NewLocalProvider(7)
	ctx := context.Background()

	ts, err := p.CurrentTimestamp(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), ts)

	next, err := p.NextTimestamp(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), next)
}

func TestLocalProvider_Concurrent(t *testing.T) {
	p := NewLocalProvider(0)
	var wg sync.WaitGroup
	seen := make([]map[int64]bool, 8)
	for i := range seen {
		seen[i] = map[int64]bool{}
		wg.Add(1)
		go func(m map[int64]bool) {
			defer wg.Done()
			last := int64(-1)
			for j := 0; j < 100; j++ {
				ts, _ := p.NextTimestamp(context.Background())
				assert.Greater(t, ts, last)
				last = ts
				m[ts] = true
			}
		}(seen[i])
	}
	wg.Wait()

	all := map[int64]bool{}
	for _, m := range seen {
		for ts := range m {
			assert.False(t, all[ts], "timestamp %d issued twice", ts)
			all[ts] = true
		}
	}
	assert.Len(t, all, 800)
}

func TestNewProvider(t *testing.T) {
	ctx := context.Background()

	p, err := NewProvider(ctx, config.GlobalClockConfig{Provider: "local", InitialTimestamp: 5}, nil, "")
	require.NoError(t, err)
	ts, _ := p.CurrentTimestamp(ctx)
	assert.Equal(t, int64(5), ts)

	_, err = NewProvider(ctx, config.GlobalClockConfig{Provider: "sundial"}, nil, "")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = NewProvider(ctx, config.GlobalClockConfig{Provider: "etcd"}, nil, "")
	assert.Error(t, err)
}

func TestNewProvider_SeedFromNTP(t *testing.T) {
	orig := ntpTime
	defer func() { ntpTime = orig }()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ntpTime = func(host string) (time.Time, error) {
		assert.Equal(t, "pool.example", host)
		return now, nil
	}

	ctx := context.Background()
	p, err := NewProvider(ctx, config.GlobalClockConfig{Provider: "local", NTPServer: "pool.example"}, nil, "")
	require.NoError(t, err)
	ts, _ := p.CurrentTimestamp(ctx)
	assert.Equal(t, now.UnixMilli(), ts)

	ntpTime = func(string) (time.Time, error) { return time.Time{}, errors.New("unreachable") }
	_, err = NewProvider(ctx, config.GlobalClockConfig{Provider: "local", NTPServer: "pool.example"}, nil, "")
	assert.ErrorContains(t, err, "pool.example")
}

type hintedResource struct {
	id   int
	unit executor.SQLUnit
}

func (r hintedResource) SQLUnit() executor.SQLUnit { return r.unit }
func (r hintedResource) WithSQLUnit(u executor.SQLUnit) hintedResource {
	r.unit = u
	return r
}

func TestDecorator(t *testing.T) {
	d := NewDecorator[hintedResource](NewLocalProvider(9))
	groups := []executor.ExecutionGroup[hintedResource]{
		{Mode: executor.ConnectionStrictly, Members: []hintedResource{
			{id: 1, unit: executor.NewSQLUnit("SELECT * FROM t WHERE id = ?", 1)},
			{id: 2, unit: executor.NewSQLUnit("/* trace:x */ SELECT 2")},
		}},
	}

	out, err := d.Decorate(nil, Rule{Enabled: true}, groups)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, executor.ConnectionStrictly, out[0].Mode)
	assert.Equal(t, "/* snapshot_ts:9 */ SELECT * FROM t WHERE id = ?", out[0].Members[0].unit.SQL())
	assert.Equal(t, []any{1}, out[0].Members[0].unit.Parameters())
	assert.Equal(t, "/* snapshot_ts:9 trace:x */ SELECT 2", out[0].Members[1].unit.SQL())
	assert.Equal(t, 2, out[0].Members[1].id)

	// inputs untouched
	assert.Equal(t, "SELECT * FROM t WHERE id = ?", groups[0].Members[0].unit.SQL())
}

func TestDecorator_DisabledRule(t *testing.T) {
	d := NewDecorator[hintedResource](NewLocalProvider(9))
	groups := []executor.ExecutionGroup[hintedResource]{
		{Members: []hintedResource{{unit: executor.NewSQLUnit("SELECT 1")}}},
	}
	out, err := d.Decorate(nil, Rule{Enabled: false}, groups)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", out[0].Members[0].unit.SQL())
}

func TestDecorator_InChain(t *testing.T) {
	registry := executor.NewDecoratorRegistry[hintedResource]()
	registry.Register(RuleType, NewDecorator[hintedResource](NewLocalProvider(3)))
	chain := executor.NewDecoratorChain(registry, Rule{Enabled: true})

	groups := []executor.ExecutionGroup[hintedResource]{
		{Members: []hintedResource{{unit: executor.NewSQLUnit("SELECT 1")}}},
	}
	out, err := chain.Decorate(&executor.RouteContext{}, groups)
	require.NoError(t, err)
	assert.Equal(t, "/* snapshot_ts:3 */ SELECT 1", out[0].Members[0].unit.SQL())
}
