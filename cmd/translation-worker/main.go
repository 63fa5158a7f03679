// Command translation-worker runs the Translation Worker of spec §4.4: it
// consumes subtitle.translation tasks, parses and chunks the source
// artifact within a token budget, translates each chunk with retry and
// checkpointing, and writes the merged result back to the artifact store.
// Follows the same bootstrap shape as cmd/orchestrator and
// cmd/download-worker.
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
	"github.com/yairabf/subtitlex/internal/eventbus"
	"github.com/yairabf/subtitlex/internal/metrics"
	"github.com/yairabf/subtitlex/internal/observability/logging"
	"github.com/yairabf/subtitlex/internal/schema"
	"github.com/yairabf/subtitlex/internal/serverutil"
	"github.com/yairabf/subtitlex/internal/storage"
	"github.com/yairabf/subtitlex/internal/taskqueue"
	"github.com/yairabf/subtitlex/internal/translate/checkpoint"
	"github.com/yairabf/subtitlex/internal/translate/chunker"
	"github.com/yairabf/subtitlex/internal/translate/llm"
	"github.com/yairabf/subtitlex/internal/translate/worker"
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
		Name:                "translation-worker-redis",
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
		Group:  "translation-worker",
		Logger: logging.WithComponent(logger, "eventbus"),
	})
	if err != nil {
		logger.Error("failed to construct event bus", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	translationQueue, err := taskqueue.NewRedisQueue[schema.TranslationTask](ctx, taskqueue.RedisQueueConfig{
		Client: redisClient,
		Stream: "subtitle.translation",
		Group:  "translation-workers",
		Logger: logging.WithComponent(logger, "taskqueue.translation"),
	})
	if err != nil {
		logger.Error("failed to construct translation queue", "error", err)
		os.Exit(1)
	}
	defer translationQueue.Close()

	consumer, err := translationQueue.Consume(ctx)
	if err != nil {
		logger.Error("failed to start translation consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	checkpointStore := checkpoint.NewStore(cfg.CheckpointRoot, logging.WithComponent(logger, "checkpoint"))

	artifacts, err := storage.NewLocalArtifactStore(cfg.ArtifactRoot)
	if err != nil {
		logger.Error("failed to construct artifact store", "error", err)
		os.Exit(1)
	}

	gateway := llm.NewAnthropicGateway(llm.AnthropicConfig{APIKey: cfg.AnthropicAPIKey})

	w := worker.New(consumer, bus, gateway, checkpointStore, artifacts, worker.Config{
		ChunkConfig: chunker.Config{
			MaxTokensPerChunk: cfg.MaxTokensPerChunk,
			SafetyMargin:      cfg.SafetyMargin,
			Model:             cfg.TranslationModel,
		},
		RetryConfig: llm.RetryConfig{
			MaxRetries:   cfg.LLMMaxRetries,
			InitialDelay: cfg.LLMInitialDelay,
			MaxDelay:     cfg.LLMMaxDelay,
			Base:         cfg.LLMBackoffBase,
		},
		Logger:  logging.WithComponent(logger, "translation-worker"),
		Metrics: recorder,
	})

	go runMetricsServer(ctx, logger, cfg.MetricsAddr)

	logger.Info("translation worker starting")
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("translation worker exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("translation worker stopped")
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
