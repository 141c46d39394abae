package executor

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Rule is a configured rule that may own an execution group decorator.
type Rule interface {
	RuleType() string
}

// Decorator transforms execution groups after grouping. It must not mutate
// the groups it receives; it returns new ones instead.
type Decorator[T any] interface {
	// Order is the precedence of the decorator; lower runs first.
	Order() int
	Decorate(routeCtx *RouteContext, rule Rule, groups []ExecutionGroup[T]) ([]ExecutionGroup[T], error)
}

// DecoratorRegistry maps a rule type to its decorator. It is built once and
// passed to every DecoratorChain that needs it.
type DecoratorRegistry[T any] struct {
	mu         sync.RWMutex
	decorators map[string]Decorator[T]
}

// NewDecoratorRegistry creates an empty registry.
func NewDecoratorRegistry[T any]() *DecoratorRegistry[T] {
	return &DecoratorRegistry[T]{decorators: make(map[string]Decorator[T])}
}

// Register sets the decorator for ruleType, replacing any previous one.
func (r *DecoratorRegistry[T]) Register(ruleType string, d Decorator[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decorators[ruleType] = d
}

// Lookup returns the decorator for ruleType.
func (r *DecoratorRegistry[T]) Lookup(ruleType string) (Decorator[T], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decorators[ruleType]
	return d, ok
}

type chainEntry[T any] struct {
	rule      Rule
	decorator Decorator[T]
}

// DecoratorChain applies the decorators of a rule set in precedence order.
type DecoratorChain[T any] struct {
	entries []chainEntry[T]
}

// NewDecoratorChain binds the rules that own a decorator in registry. Rules
// without one are skipped. Equal orders keep the order of rules.
func NewDecoratorChain[T any](registry *DecoratorRegistry[T], rules ...Rule) *DecoratorChain[T] {
	c := &DecoratorChain[T]{}
	if registry == nil {
		return c
	}
	for _, rule := range rules {
		if d, ok := registry.Lookup(rule.RuleType()); ok {
			c.entries = append(c.entries, chainEntry[T]{rule: rule, decorator: d})
		}
	}
	sort.SliceStable(c.entries, func(i, j int) bool {
		return c.entries[i].decorator.Order() < c.entries[j].decorator.Order()
	})
	return c
}

// Len returns the number of bound decorators.
func (c *DecoratorChain[T]) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Decorate feeds groups through each decorator, every decorator receiving
// the previous one's output. An empty chain returns groups unchanged.
func (c *DecoratorChain[T]) Decorate(routeCtx *RouteContext, groups []ExecutionGroup[T]) ([]ExecutionGroup[T], error) {
	if c == nil {
		return groups, nil
	}
	result := groups
	for _, e := range c.entries {
		next, err := e.decorator.Decorate(routeCtx, e.rule, result)
		if err != nil {
			return nil, errors.Wrapf(err, "decorate execution groups for rule %s", e.rule.RuleType())
		}
		result = next
	}
	return result, nil
}
