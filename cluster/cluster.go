// Package cluster registers proxy nodes in the etcd registry they share.
package cluster

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/mevdschee/tqshard/config"
)

// ErrNoEndpoints is returned by Connect when no registry is configured.
var ErrNoEndpoints = errors.New("no registry endpoints configured")

// Connect opens a client to the registry.
func Connect(cfg config.RegistryConfig) (*clientv3.Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "connect registry %s", strings.Join(cfg.Endpoints, ","))
	}
	return client, nil
}

// Node is a registered proxy node.
type Node struct {
	ID      string
	Address string
}

func nodesPrefix(namespace string) string {
	return path.Join(namespace, "nodes") + "/"
}

func nodeKey(namespace, id string) string {
	return nodesPrefix(namespace) + id
}

// Registration keeps a node key alive under a lease. When the lease is
// lost the key is created again.
type Registration struct {
	client     *clientv3.Client
	node       Node
	key        string
	ttlSeconds int64

	cancel  context.CancelFunc
	done    <-chan struct{}
	leaseID clientv3.LeaseID

	mu      sync.Mutex
	stopped bool
}

// Register adds this node to the registry with a fresh id.
func Register(client *clientv3.Client, namespace, address string, ttlSeconds int64) (*Registration, error) {
	id := uuid.NewString()
	r := &Registration{
		client:     client,
		node:       Node{ID: id, Address: address},
		key:        nodeKey(namespace, id),
		ttlSeconds: ttlSeconds,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, err := r.create()
	if err != nil {
		return nil, err
	}
	go r.consumeLease(ch)
	zap.L().Info("registered node", zap.String("id", id), zap.String("key", r.key))
	return r, nil
}

// Node returns the registered node.
func (r *Registration) Node() Node { return r.node }

func (r *Registration) create() (<-chan *clientv3.LeaseKeepAliveResponse, error) {
	ctx, cancel := context.WithCancel(context.Background())
	if r.cancel != nil {
		r.cancel()
	}
	r.cancel = cancel
	r.done = ctx.Done()

	lease, err := r.client.Grant(ctx, r.ttlSeconds)
	if err != nil {
		return nil, errors.Wrap(err, "creating a lease")
	}
	r.leaseID = lease.ID

	_, err = r.client.Txn(ctx).
		Then(clientv3.OpPut(r.key, r.node.Address, clientv3.WithLease(r.leaseID))).
		Commit()
	if err != nil {
		return nil, errors.Wrapf(err, "creating key %s", r.key)
	}

	ch, err := r.client.KeepAlive(ctx, r.leaseID)
	if err != nil {
		return nil, errors.Wrapf(err, "keeping alive the lease for %s", r.key)
	}
	return ch, nil
}

func (r *Registration) consumeLease(ch <-chan *clientv3.LeaseKeepAliveResponse) {
	for {
		select {
		case _, ok := <-ch:
			if ok {
				continue
			}
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.stopped {
				return
			}
			for attempt := 1; ; attempt++ {
				next, err := r.create()
				if err == nil {
					zap.L().Info("node lease recreated", zap.String("key", r.key))
					go r.consumeLease(next)
					return
				}
				zap.L().Warn("recreate node lease", zap.String("key", r.key), zap.Int("attempt", attempt), zap.Error(err))
				if attempt == 10 {
					return
				}
				time.Sleep(time.Second)
			}
		case <-r.done:
			return
		}
	}
}

// Stop removes the node from the registry.
func (r *Registration) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.cancel != nil {
		r.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := r.client.Revoke(ctx, r.leaseID); err != nil {
		zap.L().Debug("revoking lease during shutdown", zap.Error(err))
	}
}

// Nodes lists the registered nodes ordered by id.
func Nodes(ctx context.Context, client *clientv3.Client, namespace string) ([]Node, error) {
	prefix := nodesPrefix(namespace)
	resp, err := client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "list nodes")
	}
	nodes := make([]Node, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		nodes = append(nodes, parseNode(prefix, string(kv.Key), string(kv.Value)))
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

func parseNode(prefix, key, value string) Node {
	return Node{ID: strings.TrimPrefix(key, prefix), Address: value}
}
