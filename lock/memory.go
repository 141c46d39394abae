package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryContext is a Context for a single proxy node.
type MemoryContext struct {
	mu    sync.Mutex
	locks map[Definition]chan struct{}
}

// NewMemoryContext creates an empty MemoryContext.
func NewMemoryContext() *MemoryContext {
	return &MemoryContext{locks: make(map[Definition]chan struct{})}
}

func (m *MemoryContext) slot(def Definition) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.locks[def]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[def] = ch
	}
	return ch
}

// TryLock implements Context.
func (m *MemoryContext) TryLock(ctx context.Context, def Definition, timeout time.Duration) bool {
	ch := m.slot(def)
	select {
	case ch <- struct{}{}:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Unlock implements Context.
func (m *MemoryContext) Unlock(def Definition) error {
	ch := m.slot(def)
	select {
	case <-ch:
		return nil
	default:
		return ErrNotHeld
	}
}
