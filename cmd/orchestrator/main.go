// Command orchestrator runs the sole event consumer, task-queue producer,
// and job-store reconciler of spec §4.2: it owns every status transition
// and is the only process that writes to subtitle.download or
// subtitle.translation. Grounded on the teacher's cmd/server bootstrap
// shape (flag for a config path, config.Load, logging.Init, construct
// backends, signal.NotifyContext, run until signalled, bounded shutdown),
// simplified since this binary serves no HTTP surface of its own beyond
// the metrics endpoint.
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
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yairabf/subtitlex/internal/config"
	"github.com/yairabf/subtitlex/internal/connsupervisor"
	"github.com/yairabf/subtitlex/internal/dedup"
	"github.com/yairabf/subtitlex/internal/eventbus"
	"github.com/yairabf/subtitlex/internal/jobstore"
	"github.com/yairabf/subtitlex/internal/metrics"
	"github.com/yairabf/subtitlex/internal/observability/logging"
	"github.com/yairabf/subtitlex/internal/orchestrator"
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
		Name:                "orchestrator-redis",
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
		Group:  "orchestrator",
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
		Group:  "orchestrator",
		Logger: logging.WithComponent(logger, "taskqueue.download"),
	})
	if err != nil {
		logger.Error("failed to construct download queue", "error", err)
		os.Exit(1)
	}
	defer downloadQueue.Close()

	translationQueue, err := taskqueue.NewRedisQueue[schema.TranslationTask](ctx, taskqueue.RedisQueueConfig{
		Client: redisClient,
		Stream: "subtitle.translation",
		Group:  "orchestrator",
		Logger: logging.WithComponent(logger, "taskqueue.translation"),
	})
	if err != nil {
		logger.Error("failed to construct translation queue", "error", err)
		os.Exit(1)
	}
	defer translationQueue.Close()

	dedupService := dedup.NewRedisDedup(dedup.RedisDedupConfig{
		Client: redisClient,
		Window: cfg.DedupWindow,
		Logger: logging.WithComponent(logger, "dedup"),
	})

	store, err := jobstore.NewPostgresStore(ctx, jobstore.PostgresConfig{DSN: cfg.PostgresDSN})
	if err != nil {
		logger.Error("failed to construct job store", "error", err)
		os.Exit(1)
	}
	defer store.Close(context.Background())

	orch := orchestrator.New(bus, store, orchestrator.Config{
		DownloadQueue:    downloadQueue,
		TranslationQueue: translationQueue,
		Dedup:            dedupService,
		Logger:           logging.WithComponent(logger, "orchestrator"),
		Metrics:          recorder,
	})

	go runMetricsServer(ctx, logger, cfg.MetricsAddr)

	go reapExpiredJobs(ctx, store, cfg, logger)

	logger.Info("orchestrator starting")
	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("orchestrator exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("orchestrator stopped")
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

// reapExpiredJobs periodically applies the job store's TTL policy (spec
// §4.1 "terminal jobs are retained for a configured window, then purged").
func reapExpiredJobs(ctx context.Context, store jobstore.Store, cfg config.Config, logger *slog.Logger) {
	ttl := jobstore.TTLConfig{Completed: cfg.JobCompletedTTL, Failed: cfg.JobFailedTTL}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.ApplyTTL(ctx, ttl, time.Now().UTC())
			if err != nil {
				logger.Error("ttl sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("ttl sweep purged jobs", "count", n)
			}
		}
	}
}
