package main

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/mevdschee/tqshard/cluster"
	"github.com/mevdschee/tqshard/config"
	"github.com/mevdschee/tqshard/metrics"
	"github.com/mevdschee/tqshard/proxy"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a proxy node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer zap.L().Sync()
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	log := zap.L()
	metrics.Init()

	// Start metrics HTTP server with pprof
	go func() {
		http.Handle("/metrics", metrics.Handler())
		log.Info("metrics endpoint", zap.String("url", "http://localhost"+cfg.Proxy.MetricsListen+"/metrics"))
		log.Info("pprof endpoint", zap.String("url", "http://localhost"+cfg.Proxy.MetricsListen+"/debug/pprof/"))
		if err := http.ListenAndServe(cfg.Proxy.MetricsListen, nil); err != nil {
			log.Error("metrics server", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var client *clientv3.Client
	if len(cfg.Registry.Endpoints) > 0 {
		var err error
		client, err = cluster.Connect(cfg.Registry)
		if err != nil {
			return err
		}
		defer client.Close()
	}

	backend, err := proxy.FromConfig(ctx, cfg, client)
	if err != nil {
		return err
	}
	defer backend.Close()
	go backend.Pool().StartHealthChecks(ctx, cfg.Proxy.HealthCheckInterval)

	if client != nil {
		reg, err := cluster.Register(client, cfg.Registry.Namespace, cfg.Proxy.MetricsListen, int64(cfg.Registry.SessionTTL))
		if err != nil {
			return err
		}
		defer reg.Stop()
		if nodes, err := cluster.Nodes(ctx, client, cfg.Registry.Namespace); err == nil {
			log.Info("cluster members", zap.Int("nodes", len(nodes)))
		}
	}

	log.Info("tqshard started, send SIGHUP to reload config",
		zap.Strings("data_sources", cfg.DataSourceNames()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for {
		sig := <-sigChan
		switch sig {
		case syscall.SIGHUP:
			log.Info("received SIGHUP, reloading configuration")
			newCfg, err := config.Load(configPath)
			if err != nil {
				log.Warn("reload config", zap.Error(err))
				continue
			}
			if err := backend.Reload(newCfg); err != nil {
				log.Warn("reload backend", zap.Error(err))
				continue
			}
			log.Info("configuration reloaded",
				zap.Int("data_sources", len(newCfg.DataSourceNames())),
				zap.Int("healthy", backend.Pool().GetHealthyCount()))
		case syscall.SIGINT, syscall.SIGTERM:
			log.Info("shutting down")
			return nil
		}
	}
}
