package main

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mevdschee/tqshard/config"
	"github.com/mevdschee/tqshard/proxy"
)

func TestParseUnits(t *testing.T) {
	units, err := parseUnits([]string{"ds_0:SELECT 1", "ds_1: SELECT a:b FROM t"})
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "ds_0", units[0].DataSourceName)
	assert.Equal(t, "SELECT 1", units[0].SQLUnit.SQL())
	assert.Equal(t, "SELECT a:b FROM t", units[1].SQLUnit.SQL())

	_, err = parseUnits(nil)
	assert.Error(t, err)
	_, err = parseUnits([]string{"SELECT 1"})
	assert.Error(t, err)
	_, err = parseUnits([]string{"ds_0:  "})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger(config.LogConfig{Level: "debug", Development: true})
	assert.NoError(t, err)
	_, err = newLogger(config.LogConfig{})
	assert.NoError(t, err)
	_, err = newLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	cfg := &config.Config{
		Proxy: config.ProxyConfig{MaxConnectionsSizePerQuery: 2},
		DataSources: map[string]config.DataSourceConfig{
			"ds_0": {Name: "ds_0", Type: "sqlite3", DSN: dsn, MaxOpen: 2},
		},
	}
	ctx := context.Background()
	backend, err := proxy.FromConfig(ctx, cfg, nil)
	require.NoError(t, err)
	defer backend.Close()

	units, err := parseUnits([]string{"ds_0:CREATE TABLE t_user (id INTEGER PRIMARY KEY, name TEXT)"})
	require.NoError(t, err)
	require.NoError(t, run(ctx, backend, units, false, &bytes.Buffer{}))

	units, err = parseUnits([]string{"ds_0:INSERT INTO t_user (name) VALUES ('alice')"})
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, run(ctx, backend, units, true, &out))
	assert.Contains(t, out.String(), "1 rows affected, last insert id 1")

	units, err = parseUnits([]string{"ds_0:SELECT id, name, NULL AS extra FROM t_user"})
	require.NoError(t, err)
	out.Reset()
	require.NoError(t, run(ctx, backend, units, false, &out))
	assert.Contains(t, out.String(), "ds_0> SELECT id, name, NULL AS extra FROM t_user")
	assert.Contains(t, out.String(), "alice")
	assert.Contains(t, out.String(), "NULL")
	assert.Contains(t, out.String(), "name")

	units, err = parseUnits([]string{"ds_0:INSERT INTO t_missing VALUES (1)"})
	require.NoError(t, err)
	assert.Error(t, run(ctx, backend, units, true, &out))
}
