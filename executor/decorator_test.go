package executor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRule string

func (r testRule) RuleType() string { return string(r) }

type tagDecorator[T any] struct {
	order int
	tag   func(T) T
	calls int
	rules []string
}

func (d *tagDecorator[T]) Order() int { return d.order }

func (d *tagDecorator[T]) Decorate(_ *RouteContext, rule Rule, groups []ExecutionGroup[T]) ([]ExecutionGroup[T], error) {
	d.calls++
	d.rules = append(d.rules, rule.RuleType())
	result := make([]ExecutionGroup[T], 0, len(groups))
	for _, g := range groups {
		members := make([]T, len(g.Members))
		for i, m := range g.Members {
			members[i] = d.tag(m)
		}
		result = append(result, ExecutionGroup[T]{Mode: g.Mode, Members: members})
	}
	return result, nil
}

type failingDecorator struct{}

func (failingDecorator) Order() int { return 0 }

func (failingDecorator) Decorate(*RouteContext, Rule, []ExecutionGroup[string]) ([]ExecutionGroup[string], error) {
	return nil, errors.New("boom")
}

func TestDecoratorChain_AppliesInOrder(t *testing.T) {
	registry := NewDecoratorRegistry[string]()
	registry.Register("second", &tagDecorator[string]{order: 20, tag: func(s string) string { return s + "-b" }})
	registry.Register("first", &tagDecorator[string]{order: 10, tag: func(s string) string { return s + "-a" }})

	chain := NewDecoratorChain(registry, testRule("second"), testRule("unregistered"), testRule("first"))
	require.Equal(t, 2, chain.Len())

	input := []ExecutionGroup[string]{{Mode: MemoryStrictly, Members: []string{"x", "y"}}}
	out, err := chain.Decorate(&RouteContext{}, input)
	require.NoError(t, err)
	assert.Equal(t, []string{"x-a-b", "y-a-b"}, out[0].Members)
	assert.Equal(t, []string{"x", "y"}, input[0].Members, "input groups are left untouched")
}

func TestDecoratorChain_PassesOwningRule(t *testing.T) {
	d := &tagDecorator[string]{tag: func(s string) string { return s }}
	registry := NewDecoratorRegistry[string]()
	registry.Register("clock", d)

	_, err := NewDecoratorChain(registry, testRule("clock")).Decorate(nil, []ExecutionGroup[string]{{Members: []string{"a"}}})
	require.NoError(t, err)
	assert.Equal(t, 1, d.calls)
	assert.Equal(t, []string{"clock"}, d.rules)
}

func TestDecoratorChain_Identity(t *testing.T) {
	input := []ExecutionGroup[string]{{Members: []string{"a"}}}

	out, err := NewDecoratorChain[string](NewDecoratorRegistry[string](), testRule("none")).Decorate(nil, input)
	require.NoError(t, err)
	assert.Equal(t, input, out)

	var nilChain *DecoratorChain[string]
	out, err = nilChain.Decorate(nil, input)
	require.NoError(t, err)
	assert.Equal(t, input, out)
	assert.Equal(t, 0, NewDecoratorChain[string](nil, testRule("x")).Len())
}

func TestDecoratorChain_Error(t *testing.T) {
	registry := NewDecoratorRegistry[string]()
	registry.Register("bad", failingDecorator{})

	out, err := NewDecoratorChain(registry, testRule("bad")).Decorate(nil, []ExecutionGroup[string]{{Members: []string{"a"}}})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Contains(t, err.Error(), "rule bad")
}

func TestRouteContext_HasRule(t *testing.T) {
	var nilCtx *RouteContext
	assert.False(t, nilCtx.HasRule("sharding"))
	ctx := &RouteContext{RuleTypes: []string{"sharding", "global_clock"}}
	assert.True(t, ctx.HasRule("global_clock"))
	assert.False(t, ctx.HasRule("encrypt"))
}
