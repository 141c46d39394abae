package proxy

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/mevdschee/tqshard/config"
	"github.com/mevdschee/tqshard/datasource"
	"github.com/mevdschee/tqshard/executor"
	"github.com/mevdschee/tqshard/globalclock"
	"github.com/mevdschee/tqshard/lock"
	"github.com/mevdschee/tqshard/statement"
	"github.com/mevdschee/tqshard/transaction"
)

// Options configure a Backend.
type Options struct {
	MaxConnectionsSizePerQuery int
	KernelExecutorSize         int

	// Clock is the global clock rule; Provider and Locks are required when
	// it is enabled.
	Clock       globalclock.Rule
	Provider    globalclock.Provider
	Locks       lock.Context
	LockTimeout time.Duration
	// Executors defaults to globalclock.DefaultExecutors().
	Executors *globalclock.ExecutorRegistry
}

// Backend executes routed statements against the configured data sources.
// It is shared by all sessions.
type Backend struct {
	pool       *datasource.Pool
	engine     *executor.Engine
	decorators *executor.DecoratorRegistry[statement.Resource]
	rules      []executor.Rule
	hooks      transaction.Hooks
	locks      lock.Context

	mu                         sync.RWMutex
	maxConnectionsSizePerQuery int
}

// NewBackend creates a Backend over pool. The backend owns the pool and
// closes it with Close.
func NewBackend(pool *datasource.Pool, opts Options) (*Backend, error) {
	if opts.MaxConnectionsSizePerQuery <= 0 {
		return nil, errors.Wrapf(executor.ErrInvalidMaxConnections, "got %d", opts.MaxConnectionsSizePerQuery)
	}
	engine, err := executor.NewEngine(opts.KernelExecutorSize)
	if err != nil {
		return nil, err
	}
	b := &Backend{
		pool:                       pool,
		engine:                     engine,
		decorators:                 executor.NewDecoratorRegistry[statement.Resource](),
		locks:                      opts.Locks,
		maxConnectionsSizePerQuery: opts.MaxConnectionsSizePerQuery,
	}
	if opts.Clock.Enabled {
		if opts.Provider == nil || opts.Locks == nil {
			engine.Close()
			return nil, errors.New("global clock needs a provider and a lock context")
		}
		executors := opts.Executors
		if executors == nil {
			executors = globalclock.DefaultExecutors()
		}
		b.decorators.Register(globalclock.RuleType, globalclock.NewDecorator[statement.Resource](opts.Provider))
		b.rules = append(b.rules, opts.Clock)
		b.hooks = append(b.hooks, globalclock.NewHook(opts.Clock, opts.Provider, opts.Locks, executors, opts.LockTimeout))
	}
	zap.L().Info("backend ready",
		zap.Strings("data_sources", pool.Names()),
		zap.Int("max_connections_size_per_query", opts.MaxConnectionsSizePerQuery),
		zap.Int("kernel_executor_size", engine.Size()),
		zap.Bool("global_clock", opts.Clock.Enabled))
	return b, nil
}

// FromConfig builds the data sources, the global clock and the commit lock
// from cfg. client is the registry client and may be nil in standalone mode.
func FromConfig(ctx context.Context, cfg *config.Config, client *clientv3.Client) (*Backend, error) {
	pool, err := datasource.New(cfg.DataSources)
	if err != nil {
		return nil, err
	}
	opts := Options{
		MaxConnectionsSizePerQuery: cfg.Proxy.MaxConnectionsSizePerQuery,
		KernelExecutorSize:         cfg.Proxy.KernelExecutorSize,
		Clock:                      globalclock.NewRule(cfg.GlobalClock),
		LockTimeout:                cfg.Lock.Timeout,
	}
	if opts.Clock.Enabled {
		opts.Provider, err = globalclock.NewProvider(ctx, cfg.GlobalClock, client, cfg.Registry.Namespace)
		if err != nil {
			pool.Close()
			return nil, err
		}
		switch cfg.Lock.Type {
		case "etcd":
			if client == nil {
				pool.Close()
				return nil, errors.New("etcd lock needs a registry")
			}
			opts.Locks = lock.NewEtcdContext(client, cfg.Registry.Namespace, cfg.Registry.SessionTTL)
		default:
			opts.Locks = lock.NewMemoryContext()
		}
	}
	b, err := NewBackend(pool, opts)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// Pool returns the data sources of the backend.
func (b *Backend) Pool() *datasource.Pool { return b.pool }

// MaxConnectionsSizePerQuery returns the connection budget of one query on
// one data source.
func (b *Backend) MaxConnectionsSizePerQuery() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maxConnectionsSizePerQuery
}

// Reload applies a new configuration. Data sources are updated in place;
// the global clock and lock settings need a restart.
func (b *Backend) Reload(cfg *config.Config) error {
	if cfg.Proxy.MaxConnectionsSizePerQuery <= 0 {
		return errors.Wrapf(executor.ErrInvalidMaxConnections, "got %d", cfg.Proxy.MaxConnectionsSizePerQuery)
	}
	if err := b.pool.Update(cfg.DataSources); err != nil {
		return err
	}
	b.mu.Lock()
	b.maxConnectionsSizePerQuery = cfg.Proxy.MaxConnectionsSizePerQuery
	b.mu.Unlock()
	zap.L().Info("backend reloaded", zap.Strings("data_sources", b.pool.Names()))
	return nil
}

// Close stops the engine and closes the data sources. Sessions must be
// closed first.
func (b *Backend) Close() error {
	b.engine.Close()
	if c, ok := b.locks.(io.Closer); ok {
		if err := c.Close(); err != nil {
			zap.L().Warn("close lock context", zap.Error(err))
		}
	}
	return b.pool.Close()
}
