// Command download-worker runs the Download Worker of spec §4.5: it
// consumes subtitle.download tasks, drives the pluggable provider Gateway
// through search/download/fallback, and emits the resulting event. Follows
// the same bootstrap shape as cmd/orchestrator.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/yairabf/subtitlex/internal/config"
	"github.com/yairabf/subtitlex/internal/connsupervisor"
	"github.com/yairabf/subtitlex/internal/download"
	"github.com/yairabf/subtitlex/internal/eventbus"
	"github.com/yairabf/subtitlex/internal/metrics"
	"github.com/yairabf/subtitlex/internal/observability/logging"
	"github.com/yairabf/subtitlex/internal/schema"
	"github.com/yairabf/subtitlex/internal/serverutil"
	"github.com/yairabf/subtitlex/internal/taskqueue"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{Level: "info"})
	recorder := metrics.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()

	redisSupervisor := connsupervisor.New(connsupervisor.Config{
		Name:                "download-worker-redis",
		Ping:                func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		Logger:              logging.WithComponent(logger, "connsupervisor"),
		HealthCheckInterval: cfg.HealthCheckInterval,
		InitialBackoff:      cfg.ReconnectInitial,
		MaxBackoff:          cfg.ReconnectMax,
		MaxRetries:          cfg.ReconnectMaxRetries,
	})
	if err := redisSupervisor.EnsureConnected(ctx); err != nil {
		logger.Error("redis not reachable at startup", "error", err)
		os.Exit(1)
	}

	bus, err := eventbus.NewRedisBus(ctx, eventbus.RedisBusConfig{
		Client: redisClient,
		Stream: "subtitle.events",
		Group:  "download-worker",
		Logger: logging.WithComponent(logger, "eventbus"),
	})
	if err != nil {
		logger.Error("failed to construct event bus", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	downloadQueue, err := taskqueue.NewRedisQueue[schema.DownloadTask](ctx, taskqueue.RedisQueueConfig{
		Client: redisClient,
		Stream: "subtitle.download",
		Group:  "download-workers",
		Logger: logging.WithComponent(logger, "taskqueue.download"),
	})
	if err != nil {
		logger.Error("failed to construct download queue", "error", err)
		os.Exit(1)
	}
	defer downloadQueue.Close()

	consumer, err := downloadQueue.Consume(ctx)
	if err != nil {
		logger.Error("failed to start download consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	// No concrete subtitle-provider client ships with this repo (Non-goal);
	// operators wire one in by replacing this with their own Gateway.
	gateway := download.NewUnconfiguredGateway()

	worker := download.New(consumer, bus, gateway, download.Config{
		FallbackLanguage: cfg.FallbackLanguage,
		Logger:           logging.WithComponent(logger, "download-worker"),
		Metrics:          recorder,
	})

	go runMetricsServer(ctx, logger, cfg.MetricsAddr)

	logger.Info("download worker starting")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("download worker exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("download worker stopped")
}

// runMetricsServer serves the Prometheus exposition endpoint until ctx is
// done, using internal/serverutil's graceful-shutdown lifecycle rather than
// a bare ListenAndServe.
func runMetricsServer(ctx context.Context, logger *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	if err := serverutil.Run(ctx, serverutil.Config{Server: srv}); err != nil {
		logger.Error("metrics server exited with error", "error", err)
	}
}
