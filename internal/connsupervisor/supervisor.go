// Package connsupervisor wraps every long-lived connection in the system
// (bus, queues, state store) with the health-check/reconnect/circuit-
// breaker behavior spec §4.8 requires, plus a single shared helper for the
// "was_disconnected -> now_connected" log-once transition every service
// reuses instead of duplicating it.
//
// Grounded on the teacher's internal/ingest.doWithRetry exponential-backoff
// shape (fixed interval there; generalized here to exponential with a cap),
// widened from one-shot HTTP retries to a persistent connection's ongoing
// health supervision.
package connsupervisor

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Config configures a Supervisor's backoff, health-check cadence, and
// circuit breaker, matching spec §4.8's defaults.
type Config struct {
	Name string
	// Ping performs a single health probe against the underlying
	// connection, returning an error if unhealthy.
	Ping func(ctx context.Context) error
	// Reconnect re-establishes the connection after it is found unhealthy.
	// May be nil if Ping alone is sufficient to detect recovery (e.g. a
	// pooled client that reconnects transparently).
	Reconnect func(ctx context.Context) error

	Logger *slog.Logger

	// HealthCheckInterval bounds how often active probes run; calls to
	// Healthy() within this window return the cached result.
	HealthCheckInterval time.Duration
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	BackoffBase         float64
	MaxRetries          int
}

func (c Config) withDefaults() Config {
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 15
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Supervisor caches health status, reconnects with exponential backoff, and
// trips a circuit breaker on sustained failure.
type Supervisor struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker

	mu             sync.Mutex
	lastCheck      time.Time
	lastHealthy    bool
	wasDisconnected bool
}

// New constructs a Supervisor around cfg.
func New(cfg Config) *Supervisor {
	cfg = cfg.withDefaults()
	breakerSettings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.InitialBackoff,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Logger.Warn("connection supervisor circuit breaker state change",
				"supervisor", name, "from", from.String(), "to", to.String())
		},
	}
	return &Supervisor{
		cfg:         cfg,
		breaker:     gobreaker.NewCircuitBreaker(breakerSettings),
		lastHealthy: true,
	}
}

// Healthy reports whether the connection is currently usable, probing at
// most once per HealthCheckInterval (spec §4.8 "periodic ping with a short
// cache"). Callers that get false should apply their own degradation
// policy: NACK-with-requeue for workers, fail-open for dedup, 503 for
// ingress (spec §4.8).
func (s *Supervisor) Healthy(ctx context.Context) bool {
	s.mu.Lock()
	if time.Since(s.lastCheck) < s.cfg.HealthCheckInterval {
		healthy := s.lastHealthy
		s.mu.Unlock()
		return healthy
	}
	s.mu.Unlock()

	err := s.probe(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCheck = time.Now()
	healthy := err == nil
	s.logTransition(healthy)
	s.lastHealthy = healthy
	return healthy
}

// logTransition emits the shared "was_disconnected -> now_connected"
// structured log exactly once per recovery, per spec §4.8's
// "All services use the same helper to avoid duplication."
func (s *Supervisor) logTransition(nowHealthy bool) {
	if !nowHealthy {
		s.wasDisconnected = true
		return
	}
	if s.wasDisconnected {
		s.cfg.Logger.Info("connection recovered", "supervisor", s.cfg.Name)
		s.wasDisconnected = false
	}
}

func (s *Supervisor) probe(ctx context.Context) error {
	if s.cfg.Ping == nil {
		return nil
	}
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.cfg.Ping(ctx)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return err
	}
	return err
}

// EnsureConnected probes the connection and, if unhealthy, reconnects with
// exponential backoff (spec §4.8 defaults: initial 2s, base 2, max 60s),
// up to MaxRetries attempts. Returns nil once healthy, or the last error
// after exhausting retries.
func (s *Supervisor) EnsureConnected(ctx context.Context) error {
	if s.Healthy(ctx) {
		return nil
	}
	if s.cfg.Reconnect == nil {
		return errors.New("connsupervisor: connection unhealthy and no Reconnect configured")
	}

	delay := s.cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, s.cfg.Reconnect(ctx)
		})
		if err == nil {
			s.mu.Lock()
			s.lastCheck = time.Now()
			s.logTransition(true)
			s.lastHealthy = true
			s.mu.Unlock()
			return nil
		}
		lastErr = err
		s.cfg.Logger.Warn("connection supervisor reconnect failed",
			"supervisor", s.cfg.Name, "attempt", attempt, "error", err)

		jittered := jitter(delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}
		delay = time.Duration(float64(delay) * s.cfg.BackoffBase)
		if delay > s.cfg.MaxBackoff {
			delay = s.cfg.MaxBackoff
		}
	}
	return lastErr
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	// +/-20% jitter so many supervised connections don't retry in lockstep.
	spread := float64(d) * 0.2
	offset := (rand.Float64()*2 - 1) * spread
	return time.Duration(float64(d) + offset)
}
