package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/yairabf/subtitlex/internal/jobid"
)

// RedisDedupConfig configures the Redis-backed Service.
type RedisDedupConfig struct {
	Client *redis.Client
	Window time.Duration
	Logger *slog.Logger
}

// NewRedisDedup constructs a Service backed by Redis's SET NX EX, the CAS
// primitive spec §4.3 explicitly permits as an equivalent to a server-side
// script: "if key exists, return (true, stored_job_id); else set key =
// job_id with TTL" maps directly onto SET key value NX EX ttl, atomic
// within a single command. A singleflight.Group collapses concurrent
// check-and-register calls racing on the same key so only the first caller
// actually registers; the rest are told about its job_id, matching
// "defense in depth" (§4.3) without a double-write race.
func NewRedisDedup(cfg RedisDedupConfig) Service {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindowSeconds * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &redisDedup{cfg: cfg}
}

type redisDedup struct {
	cfg RedisDedupConfig
	sf  singleflight.Group
}

func (d *redisDedup) CheckAndRegister(ctx context.Context, videoURL, language, jobID string) (bool, string, error) {
	key := jobid.DedupKey(videoURL, language)

	result, err, _ := d.sf.Do(key, func() (interface{}, error) {
		return d.checkAndRegisterOnce(ctx, key, jobID)
	})
	if err != nil {
		// Fail open: availability over strict dedup (spec §4.3).
		d.cfg.Logger.Warn("dedup backend unavailable, failing open", "error", err, "video_url", videoURL, "language", language)
		return false, jobID, nil
	}
	reg := result.(registration)
	if reg.registered && reg.stored == jobID {
		return false, jobID, nil
	}
	return true, reg.stored, nil
}

// registration is the outcome of one check-and-register round trip: the
// job_id now stored under the key, and whether this round trip stored it.
type registration struct {
	stored     string
	registered bool
}

func (d *redisDedup) checkAndRegisterOnce(ctx context.Context, key, jobID string) (registration, error) {
	ok, err := d.cfg.Client.SetNX(ctx, key, jobID, d.cfg.Window).Result()
	if err != nil {
		return registration{}, fmt.Errorf("dedup: setnx: %w", err)
	}
	if ok {
		return registration{stored: jobID, registered: true}, nil
	}
	existing, err := d.cfg.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Raced: the prior key expired between our failed SetNX and this
		// Get. Retry registration once.
		ok, err := d.cfg.Client.SetNX(ctx, key, jobID, d.cfg.Window).Result()
		if err != nil {
			return registration{}, fmt.Errorf("dedup: retry setnx: %w", err)
		}
		if ok {
			return registration{stored: jobID, registered: true}, nil
		}
		existing, err = d.cfg.Client.Get(ctx, key).Result()
		if err != nil {
			return registration{}, fmt.Errorf("dedup: get after retry: %w", err)
		}
		return registration{stored: existing}, nil
	}
	if err != nil {
		return registration{}, fmt.Errorf("dedup: get: %w", err)
	}
	return registration{stored: existing}, nil
}
