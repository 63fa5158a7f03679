// Command ingress runs the three ingress adapters of spec §4.6 side by
// side: the webhook handler, the filesystem watcher, and the realtime push
// client. Each adapter is independently toggled by its own config flag so
// an operator can run only the subset their deployment needs. Grounded on
// the teacher's cmd/server bootstrap shape, extended with errgroup to
// supervise several long-running adapters under one process.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/yairabf/subtitlex/internal/config"
	"github.com/yairabf/subtitlex/internal/connsupervisor"
	"github.com/yairabf/subtitlex/internal/dedup"
	"github.com/yairabf/subtitlex/internal/eventbus"
	"github.com/yairabf/subtitlex/internal/ingress"
	"github.com/yairabf/subtitlex/internal/ingress/fswatcher"
	"github.com/yairabf/subtitlex/internal/ingress/push"
	"github.com/yairabf/subtitlex/internal/ingress/webhook"
	"github.com/yairabf/subtitlex/internal/metrics"
	"github.com/yairabf/subtitlex/internal/observability/logging"
	"github.com/yairabf/subtitlex/internal/serverutil"
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
		Name:                "ingress-redis",
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
		Group:  "ingress",
		Logger: logging.WithComponent(logger, "eventbus"),
	})
	if err != nil {
		logger.Error("failed to construct event bus", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	dedupService := dedup.NewRedisDedup(dedup.RedisDedupConfig{
		Client: redisClient,
		Window: cfg.DedupWindow,
		Logger: logging.WithComponent(logger, "dedup"),
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runMetricsServer(gctx, logger, cfg.MetricsAddr)
		return nil
	})

	if cfg.WebhookEnabled {
		publisher := &ingress.Publisher{Bus: bus, Dedup: dedupService, Source: "webhook", Metrics: recorder}
		handler := webhook.New(publisher, webhook.Config{
			SharedSecret:   cfg.WebhookSharedSecret,
			HealthCheckers: []webhook.HealthChecker{redisSupervisor},
			Logger:         logging.WithComponent(logger, "webhook"),
		})
		srv := &http.Server{Addr: cfg.WebhookAddr, Handler: handler.Routes()}
		g.Go(func() error {
			logger.Info("webhook ingress starting", "addr", cfg.WebhookAddr)
			return serverutil.Run(gctx, serverutil.Config{Server: srv})
		})
	}

	if cfg.FSWatchEnabled {
		publisher := &ingress.Publisher{Bus: bus, Dedup: dedupService, Source: "fswatcher", Metrics: recorder}
		watcher, err := fswatcher.New(publisher, bus, fswatcher.Config{
			Root:            cfg.FSWatchRoot,
			Extensions:      cfg.FSWatchExtensions,
			DebounceWindow:  cfg.FSWatchDebounceWindow,
			DefaultLanguage: cfg.FallbackLanguage,
			Logger:          logging.WithComponent(logger, "fswatcher"),
		})
		if err != nil {
			logger.Error("failed to construct filesystem watcher", "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			logger.Info("filesystem watcher starting", "root", cfg.FSWatchRoot)
			return watcher.Run(gctx)
		})
	}

	if cfg.PushEnabled {
		publisher := &ingress.Publisher{Bus: bus, Dedup: dedupService, Source: "push", Metrics: recorder}
		client := push.New(publisher, push.Config{
			URL:    cfg.PushURL,
			Logger: logging.WithComponent(logger, "push"),
			ReconnectConfig: connsupervisor.Config{
				InitialBackoff: cfg.ReconnectInitial,
				MaxBackoff:     cfg.ReconnectMax,
				MaxRetries:     cfg.ReconnectMaxRetries,
			},
		})
		g.Go(func() error {
			logger.Info("push client starting", "url", cfg.PushURL)
			return client.Run(gctx)
		})
	}

	logger.Info("ingress starting")
	if err := g.Wait(); err != nil && gctx.Err() == nil {
		logger.Error("ingress exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("ingress stopped")
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
