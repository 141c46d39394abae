package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

const dataSourcePrefix = "datasource."

// Config holds the proxy configuration
type Config struct {
	Proxy       ProxyConfig
	DataSources map[string]DataSourceConfig
	GlobalClock GlobalClockConfig
	Lock        LockConfig
	Registry    RegistryConfig
	Log         LogConfig
}

// ProxyConfig holds the execution settings
type ProxyConfig struct {
	MaxConnectionsSizePerQuery int
	KernelExecutorSize         int // 0 means runtime.NumCPU()
	MetricsListen              string
	HealthCheckInterval        time.Duration
}

// DataSourceConfig describes one physical database
type DataSourceConfig struct {
	Name    string
	Type    string // mysql, postgresql, opengauss or sqlite3
	DSN     string
	MaxOpen int
}

// GlobalClockConfig holds the global clock rule
type GlobalClockConfig struct {
	Enabled          bool
	Type             string
	Provider         string // local or etcd
	InitialTimestamp int64
	NTPServer        string // seeds the local provider when set
}

// LockConfig selects the commit lock backend
type LockConfig struct {
	Type    string // memory or etcd
	Timeout time.Duration
}

// RegistryConfig points at the etcd cluster shared by all proxy nodes
type RegistryConfig struct {
	Endpoints   []string
	Namespace   string
	SessionTTL  int // seconds
	DialTimeout time.Duration
}

// LogConfig configures zap
type LogConfig struct {
	Level       string
	Development bool
}

// Load reads configuration from an INI file with environment variable overrides
func Load(path string) (*Config, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return build(cfg)
}

// Parse reads configuration from INI data with environment variable overrides
func Parse(data []byte) (*Config, error) {
	cfg, err := ini.Load(data)
	if err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return build(cfg)
}

func build(cfg *ini.File) (*Config, error) {
	proxy := cfg.Section("proxy")
	clock := cfg.Section("globalclock")
	lock := cfg.Section("lock")
	registry := cfg.Section("registry")
	logSec := cfg.Section("log")

	config := &Config{
		Proxy: ProxyConfig{
			MaxConnectionsSizePerQuery: proxy.Key("max_connections_size_per_query").MustInt(1),
			KernelExecutorSize:         proxy.Key("kernel_executor_size").MustInt(0),
			MetricsListen:              proxy.Key("metrics_listen").MustString(":9090"),
			HealthCheckInterval:        proxy.Key("health_check_interval").MustDuration(10 * time.Second),
		},
		DataSources: make(map[string]DataSourceConfig),
		GlobalClock: GlobalClockConfig{
			Enabled:          clock.Key("enabled").MustBool(false),
			Type:             clock.Key("type").MustString("TSO"),
			Provider:         clock.Key("provider").MustString("local"),
			InitialTimestamp: clock.Key("initial_timestamp").MustInt64(0),
			NTPServer:        clock.Key("ntp_server").String(),
		},
		Lock: LockConfig{
			Type:    lock.Key("type").MustString("memory"),
			Timeout: lock.Key("timeout").MustDuration(200 * time.Millisecond),
		},
		Registry: RegistryConfig{
			Endpoints:   splitList(registry.Key("endpoints").String()),
			Namespace:   registry.Key("namespace").MustString("/tqshard"),
			SessionTTL:  registry.Key("session_ttl").MustInt(10),
			DialTimeout: registry.Key("dial_timeout").MustDuration(5 * time.Second),
		},
		Log: LogConfig{
			Level:       logSec.Key("level").MustString("info"),
			Development: logSec.Key("development").MustBool(false),
		},
	}

	for _, sec := range cfg.Sections() {
		if !strings.HasPrefix(sec.Name(), dataSourcePrefix) {
			continue
		}
		name := strings.TrimPrefix(sec.Name(), dataSourcePrefix)
		config.DataSources[name] = DataSourceConfig{
			Name:    name,
			Type:    sec.Key("type").MustString("mysql"),
			DSN:     sec.Key("dsn").String(),
			MaxOpen: sec.Key("max_open").MustInt(50),
		}
	}

	// Environment variable overrides
	if v := os.Getenv("TQSHARD_MAX_CONNECTIONS_SIZE_PER_QUERY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrap(err, "TQSHARD_MAX_CONNECTIONS_SIZE_PER_QUERY")
		}
		config.Proxy.MaxConnectionsSizePerQuery = n
	}
	if v := os.Getenv("TQSHARD_METRICS_LISTEN"); v != "" {
		config.Proxy.MetricsListen = v
	}
	if v := os.Getenv("TQSHARD_REGISTRY_ENDPOINTS"); v != "" {
		config.Registry.Endpoints = splitList(v)
	}
	if v := os.Getenv("TQSHARD_GLOBALCLOCK_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.Wrap(err, "TQSHARD_GLOBALCLOCK_ENABLED")
		}
		config.GlobalClock.Enabled = enabled
	}
	if v := os.Getenv("TQSHARD_LOG_LEVEL"); v != "" {
		config.Log.Level = v
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks values that would otherwise fail deep inside the executor
func (c *Config) Validate() error {
	if c.Proxy.MaxConnectionsSizePerQuery <= 0 {
		return errors.Errorf("max_connections_size_per_query must be positive, got %d", c.Proxy.MaxConnectionsSizePerQuery)
	}
	for name, ds := range c.DataSources {
		if ds.DSN == "" {
			return errors.Errorf("datasource %s: dsn is required", name)
		}
		if ds.MaxOpen <= 0 {
			return errors.Errorf("datasource %s: max_open must be positive", name)
		}
	}
	if c.Lock.Timeout <= 0 {
		return errors.New("lock timeout must be positive")
	}
	if (c.Lock.Type == "etcd" || c.GlobalClock.Provider == "etcd") && len(c.Registry.Endpoints) == 0 {
		return errors.New("registry endpoints are required for etcd lock or clock")
	}
	return nil
}

// DataSourceNames returns the configured data source names in sorted order
func (c *Config) DataSourceNames() []string {
	names := make([]string, 0, len(c.DataSources))
	for name := range c.DataSources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
