// Package lock provides the cluster-wide exclusive locks used to serialize
// commit timestamp issuance. Locks are not reentrant and waiters are not
// queued fairly: a TryLock that runs out of time simply gives up.
package lock

import (
	"context"
	"errors"
	"path"
	"time"
)

// ErrNotHeld is returned by Unlock for a lock this process does not hold.
var ErrNotHeld = errors.New("lock not held")

// Definition names a globally unique lock.
type Definition struct {
	name string
}

// NewDefinition creates a lock definition.
func NewDefinition(name string) Definition {
	return Definition{name: name}
}

// GlobalClockDefinition is the lock taken around commit timestamp issuance.
var GlobalClockDefinition = NewDefinition("global_clock")

// Name returns the lock name.
func (d Definition) Name() string { return d.name }

// Key returns the registry key of the lock under namespace.
func (d Definition) Key(namespace string) string {
	return path.Join(namespace, "lock", "exclusive", "locks", d.name)
}

func (d Definition) String() string { return d.name }

// Context acquires and releases locks.
type Context interface {
	// TryLock waits at most timeout for the lock and reports whether it was
	// acquired. Backend failures are reported as not acquired.
	TryLock(ctx context.Context, def Definition, timeout time.Duration) bool
	// Unlock releases a lock acquired by TryLock.
	Unlock(def Definition) error
}
