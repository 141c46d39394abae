package globalclock

import (
	"context"
	"path"
	"strconv"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdProvider keeps the clock in one etcd key shared by all proxy nodes.
// NextTimestamp advances it with a compare-and-swap transaction.
type EtcdProvider struct {
	client *clientv3.Client
	key    string
}

// NewEtcdProvider creates the clock key with initial unless it already exists.
func NewEtcdProvider(ctx context.Context, client *clientv3.Client, namespace string, initial int64) (*EtcdProvider, error) {
	p := &EtcdProvider{client: client, key: path.Join(namespace, "globalclock", "timestamp")}
	_, err := client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(p.key), "=", 0)).
		Then(clientv3.OpPut(p.key, strconv.FormatInt(initial, 10))).
		Commit()
	if err != nil {
		return nil, errors.Wrap(err, "initialize global clock")
	}
	return p, nil
}

func (p *EtcdProvider) load(ctx context.Context) (int64, int64, error) {
	resp, err := p.client.Get(ctx, p.key)
	if err != nil {
		return 0, 0, errors.Wrap(err, "read global clock")
	}
	if len(resp.Kvs) == 0 {
		return 0, 0, nil
	}
	kv := resp.Kvs[0]
	ts, err := strconv.ParseInt(string(kv.Value), 10, 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "parse global clock %q", kv.Value)
	}
	return ts, kv.ModRevision, nil
}

// CurrentTimestamp returns the stored timestamp.
func (p *EtcdProvider) CurrentTimestamp(ctx context.Context) (int64, error) {
	ts, _, err := p.load(ctx)
	return ts, err
}

// NextTimestamp increments the stored timestamp and returns the new value.
func (p *EtcdProvider) NextTimestamp(ctx context.Context) (int64, error) {
	for {
		ts, rev, err := p.load(ctx)
		if err != nil {
			return 0, err
		}
		next := ts + 1
		cmp := clientv3.Compare(clientv3.ModRevision(p.key), "=", rev)
		if rev == 0 {
			cmp = clientv3.Compare(clientv3.CreateRevision(p.key), "=", 0)
		}
		resp, err := p.client.Txn(ctx).
			If(cmp).
			Then(clientv3.OpPut(p.key, strconv.FormatInt(next, 10))).
			Commit()
		if err != nil {
			return 0, errors.Wrap(err, "advance global clock")
		}
		if resp.Succeeded {
			return next, nil
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
}
