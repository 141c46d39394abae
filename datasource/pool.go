package datasource

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	// Drivers for the supported data source types
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/mevdschee/tqshard/config"
	"github.com/mevdschee/tqshard/metrics"
)

var (
	// ErrUnknownDataSource is returned for a name that is not configured
	ErrUnknownDataSource = errors.New("unknown data source")

	// ErrConnectionNotEnough is returned when a query needs more connections
	// than the data source may ever open
	ErrConnectionNotEnough = errors.New("connection not enough")

	// ErrUnhealthyDataSource is returned while the health check fails
	ErrUnhealthyDataSource = errors.New("unhealthy data source")
)

var openDataSource = open

// DriverName maps a data source type to its database/sql driver
func DriverName(dbType string) string {
	switch dbType {
	case "postgresql", "opengauss":
		return "postgres"
	default:
		return dbType
	}
}

// DataSource is one physical database
type DataSource struct {
	Name    string
	Type    string
	DB      *sql.DB
	maxOpen int64
	budget  *semaphore.Weighted
	cfg     config.DataSourceConfig
}

// Pool manages the physical data sources of the proxy
type Pool struct {
	sources map[string]*DataSource
	healthy map[string]bool
	mu      sync.RWMutex
}

// New opens every configured data source
func New(cfgs map[string]config.DataSourceConfig) (*Pool, error) {
	p := &Pool{
		sources: make(map[string]*DataSource),
		healthy: make(map[string]bool),
	}
	for name, cfg := range cfgs {
		ds, err := openDataSource(name, cfg)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.sources[name] = ds
		p.healthy[name] = true
	}
	return p, nil
}

func open(name string, cfg config.DataSourceConfig) (*DataSource, error) {
	db, err := sql.Open(DriverName(cfg.Type), cfg.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "open data source %s", name)
	}
	maxOpen := cfg.MaxOpen
	if maxOpen <= 0 {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	return &DataSource{
		Name:    name,
		Type:    cfg.Type,
		DB:      db,
		maxOpen: int64(maxOpen),
		budget:  semaphore.NewWeighted(int64(maxOpen)),
		cfg:     cfg,
	}, nil
}

// Update replaces the data source set for hot config reload.
// Unchanged data sources keep their open pool and health status.
func (p *Pool) Update(cfgs map[string]config.DataSourceConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(cfgs))
	for name := range cfgs {
		names = append(names, name)
	}
	sort.Strings(names)

	next := make(map[string]*DataSource)
	for _, name := range names {
		cfg := cfgs[name]
		if ds, ok := p.sources[name]; ok && ds.cfg == cfg {
			next[name] = ds
			continue
		}
		ds, err := openDataSource(name, cfg)
		if err != nil {
			for _, opened := range next {
				if p.sources[opened.Name] != opened {
					opened.DB.Close()
				}
			}
			return err
		}
		next[name] = ds
	}

	for name, ds := range p.sources {
		if next[name] != ds {
			if err := ds.DB.Close(); err != nil {
				zap.L().Warn("close data source", zap.String("data_source", name), zap.Error(err))
			}
		}
	}

	healthy := make(map[string]bool)
	for name := range next {
		if status, ok := p.healthy[name]; ok && next[name] == p.sources[name] {
			healthy[name] = status
		} else {
			healthy[name] = true
		}
	}
	p.sources = next
	p.healthy = healthy
	return nil
}

// Get returns the named data source
func (p *Pool) Get(name string) (*DataSource, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ds, ok := p.sources[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownDataSource, name)
	}
	return ds, nil
}

// Names returns the data source names in sorted order
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.sources))
	for name := range p.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AcquireConns takes n connections from the named data source. With atomic
// set, the whole budget of n is reserved at once, so two queries can never
// each hold half of what they need and wait on each other. On error no
// connection is kept. A data source failing its health check is refused
// without waiting.
func (p *Pool) AcquireConns(ctx context.Context, name string, n int, atomic bool) ([]*Conn, error) {
	ds, err := p.Get(name)
	if err != nil {
		return nil, err
	}
	if !p.IsHealthy(name) {
		return nil, errors.Wrap(ErrUnhealthyDataSource, name)
	}
	if int64(n) > ds.maxOpen {
		return nil, errors.Wrapf(ErrConnectionNotEnough, "%s needs %d connections, max_open is %d", name, n, ds.maxOpen)
	}

	start := time.Now()
	defer func() {
		metrics.ConnectionAcquire.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	if atomic && n > 1 {
		if err := ds.budget.Acquire(ctx, int64(n)); err != nil {
			return nil, errors.Wrapf(err, "reserve %d connections of %s", n, name)
		}
	}

	conns := make([]*Conn, 0, n)
	for i := 0; i < n; i++ {
		if !atomic || n == 1 {
			if err := ds.budget.Acquire(ctx, 1); err != nil {
				releaseAll(conns)
				return nil, errors.Wrapf(err, "reserve connection of %s", name)
			}
		}
		c, err := ds.DB.Conn(ctx)
		if err != nil {
			ds.budget.Release(1)
			if atomic && n > 1 {
				ds.budget.Release(int64(n - i - 1))
			}
			releaseAll(conns)
			return nil, errors.Wrapf(ErrConnectionNotEnough, "open connection %d of %d on %s: %v", i+1, n, name, err)
		}
		conns = append(conns, &Conn{Conn: c, DataSource: ds})
	}
	return conns, nil
}

func releaseAll(conns []*Conn) {
	for _, c := range conns {
		c.Close()
	}
}

// Conn is a physical connection counted against its data source budget
type Conn struct {
	*sql.Conn
	DataSource *DataSource
	once       sync.Once
}

// Close returns the connection to the database/sql pool and frees its budget
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		err = c.Conn.Close()
		c.DataSource.budget.Release(1)
	})
	return err
}

// MarkUnhealthy marks a data source as unhealthy
func (p *Pool) MarkUnhealthy(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if healthy, exists := p.healthy[name]; exists {
		p.healthy[name] = false
		metrics.DataSourceHealthy.WithLabelValues(name).Set(0)
		if healthy {
			zap.L().Warn("data source marked unhealthy", zap.String("data_source", name))
		}
	}
}

// MarkHealthy marks a data source as healthy
func (p *Pool) MarkHealthy(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if healthy, exists := p.healthy[name]; exists {
		p.healthy[name] = true
		metrics.DataSourceHealthy.WithLabelValues(name).Set(1)
		if !healthy {
			zap.L().Info("data source marked healthy", zap.String("data_source", name))
		}
	}
}

// IsHealthy returns whether a data source is healthy
func (p *Pool) IsHealthy(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy[name]
}

// GetHealthyCount returns the number of healthy data sources
func (p *Pool) GetHealthyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, healthy := range p.healthy {
		if healthy {
			count++
		}
	}
	return count
}

// StartHealthChecks begins periodic health checks for all data sources
func (p *Pool) StartHealthChecks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run initial health check immediately
	p.checkAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkAll(ctx)
		}
	}
}

func (p *Pool) checkAll(ctx context.Context) {
	p.mu.RLock()
	sources := make([]*DataSource, 0, len(p.sources))
	for _, ds := range p.sources {
		sources = append(sources, ds)
	}
	p.mu.RUnlock()

	for _, ds := range sources {
		go p.check(ctx, ds)
	}
}

func (p *Pool) check(ctx context.Context, ds *DataSource) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := ds.DB.PingContext(ctx); err != nil {
		p.MarkUnhealthy(ds.Name)
		return
	}
	p.MarkHealthy(ds.Name)
}

// Close closes every data source
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var first error
	for name, ds := range p.sources {
		if err := ds.DB.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "close data source %s", name)
		}
	}
	p.sources = make(map[string]*DataSource)
	return first
}
