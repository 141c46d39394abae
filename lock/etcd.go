package lock

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

// EtcdContext is a Context shared by every proxy node through etcd.
//
// An etcd mutex is keyed by session lease, so two goroutines of this node
// would both believe they own it. Goroutines are therefore serialized by a
// local MemoryContext before contending in etcd.
type EtcdContext struct {
	client    *clientv3.Client
	namespace string
	ttl       int
	local     *MemoryContext

	mu      sync.Mutex
	session *concurrency.Session
	held    map[Definition]*concurrency.Mutex
}

// NewEtcdContext creates a Context backed by client. ttlSeconds is the lease
// TTL of the session holding the locks; a crashed node's locks expire with it.
func NewEtcdContext(client *clientv3.Client, namespace string, ttlSeconds int) *EtcdContext {
	return &EtcdContext{
		client:    client,
		namespace: namespace,
		ttl:       ttlSeconds,
		local:     NewMemoryContext(),
		held:      make(map[Definition]*concurrency.Mutex),
	}
}

// getSession returns the live session, creating a new one after expiry.
func (e *EtcdContext) getSession() (*concurrency.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		select {
		case <-e.session.Done():
			e.session = nil
		default:
			return e.session, nil
		}
	}
	s, err := concurrency.NewSession(e.client, concurrency.WithTTL(e.ttl))
	if err != nil {
		return nil, errors.Wrap(err, "create etcd session")
	}
	e.session = s
	return s, nil
}

// TryLock implements Context.
func (e *EtcdContext) TryLock(ctx context.Context, def Definition, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	if !e.local.TryLock(ctx, def, timeout) {
		return false
	}
	acquired := false
	defer func() {
		if !acquired {
			_ = e.local.Unlock(def)
		}
	}()

	session, err := e.getSession()
	if err != nil {
		zap.L().Warn("commit lock unavailable", zap.Stringer("lock", def), zap.Error(err))
		return false
	}
	lockCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	mutex := concurrency.NewMutex(session, def.Key(e.namespace))
	if err := mutex.Lock(lockCtx); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			zap.L().Warn("acquire etcd lock", zap.Stringer("lock", def), zap.Error(err))
		}
		return false
	}

	e.mu.Lock()
	e.held[def] = mutex
	e.mu.Unlock()
	acquired = true
	return true
}

// Unlock implements Context.
func (e *EtcdContext) Unlock(def Definition) error {
	e.mu.Lock()
	mutex, ok := e.held[def]
	delete(e.held, def)
	e.mu.Unlock()
	if !ok {
		return ErrNotHeld
	}
	defer func() { _ = e.local.Unlock(def) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mutex.Unlock(ctx); err != nil {
		return errors.Wrapf(err, "release etcd lock %s", def)
	}
	return nil
}

// Close ends the etcd session, dropping every lock it holds.
func (e *EtcdContext) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Close()
	e.session = nil
	return err
}
