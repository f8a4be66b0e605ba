// Command proxy is the rpcache-proxy entrypoint: load config, wire every
// component, serve until a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"rpcache-proxy/config"
	"rpcache-proxy/internal/blockcache"
	"rpcache-proxy/internal/breaker"
	"rpcache-proxy/internal/cache"
	"rpcache-proxy/internal/coalescer"
	"rpcache-proxy/internal/dispatcher"
	applogger "rpcache-proxy/internal/logger"
	"rpcache-proxy/internal/metrics"
	"rpcache-proxy/internal/pipeline"
	"rpcache-proxy/internal/queue"
	"rpcache-proxy/internal/server"
	"rpcache-proxy/internal/stats"
	"rpcache-proxy/internal/upstream"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	logLevel := applogger.LogLevel(cfg.LogLevel)
	appLogger := applogger.NewLogger(&applogger.LoggerConfig{
		Level:       logLevel,
		Development: os.Getenv("ENV") != "production",
		LogFile:     "./logs/rpcache-proxy.log",
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})

	registry, err := config.BuildRegistry(cfg)
	if err != nil {
		log.Fatalf("error building network registry: %v", err)
	}

	var store cache.Store
	if cfg.Cache.EnableDB && cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("error parsing REDIS_URL: %v", err)
		}
		store = cache.NewRedisStore(redis.NewClient(opts), "rpcache")
		appLogger.Info("using redis-backed cache store")
	} else {
		store = cache.NewMemoryStore(cfg.Cache.MaxSize, cfg.CacheMaxAge())
		appLogger.Info("using in-memory cache store")
	}

	m := metrics.New()
	statCounters := stats.New()
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold:   cfg.Server.BreakerFailureThreshold,
		RecoveryTimeoutMs:  cfg.Server.BreakerRecoveryTimeoutMs,
		MonitoringPeriodMs: cfg.Server.BreakerMonitoringPeriodMs,
	})
	queues := queue.NewRegistry(queue.Config{
		ConcurrencyLimit: cfg.Server.QueueConcurrencyLimit,
		QueueSize:        cfg.Server.QueueSize,
	})
	client := upstream.NewClient(cfg.Server.MaxSockets, time.Duration(cfg.Server.IdleConnTimeoutSec)*time.Second)
	blocks := blockcache.New()

	pl := &pipeline.Pipeline{
		Registry:    registry,
		CacheStore:  store,
		CacheMaxAge: cfg.CacheMaxAge(),
		Breakers:    breakers,
		Queues:      queues,
		Client:      client,
		BlockCache:  blocks,
		Metrics:     m,
		Stats:       statCounters,
		Logger:      appLogger,
		Inflight:    coalescer.New(),
	}

	disp := dispatcher.New(pl.Process, cfg.Server.BatchConcurrencyLimit)

	srv := server.New(cfg, registry, pl, disp, m, statCounters, breakers, queues, client, store, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Serve(ctx); err != nil {
		appLogger.Fatal("server exited with error", applogger.Fields{"error": err.Error()})
	}
}

