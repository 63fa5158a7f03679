package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig configures the pool-backed Store, generalizing the
// teacher's internal/storage.PostgresConfig (same pool-shape fields) from a
// stubbed-out "not yet wired" backend into a real implementation, since the
// job store is core to this spec rather than an optional one.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
}

func (c PostgresConfig) withDefaults() PostgresConfig {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 10
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "subtitlex-jobstore"
	}
	return c
}

type postgresStore struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

// NewPostgresStore opens a connection pool against cfg.DSN and ensures the
// job/event schema exists.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (Store, error) {
	cfg = cfg.withDefaults()
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("jobstore: parse dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConnections
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("jobstore: connect: %w", err)
	}

	store := &postgresStore{pool: pool, cfg: cfg}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *postgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS jobs (
	job_id          TEXT PRIMARY KEY,
	video_url       TEXT NOT NULL,
	video_title     TEXT NOT NULL DEFAULT '',
	language        TEXT NOT NULL,
	target_language TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	result_url      TEXT NOT NULL DEFAULT '',
	subtitle_path   TEXT NOT NULL DEFAULT '',
	error_message   TEXT NOT NULL DEFAULT '',
	metadata        JSONB NOT NULL DEFAULT '{}',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS job_events (
	job_id     TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
	seq        BIGSERIAL,
	event_id   TEXT NOT NULL,
	event_type TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	payload    JSONB NOT NULL DEFAULT '{}',
	timestamp  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (job_id, seq)
);

CREATE UNIQUE INDEX IF NOT EXISTS job_events_job_event_uidx
	ON job_events (job_id, event_id);
CREATE INDEX IF NOT EXISTS jobs_status_updated_idx ON jobs (status, updated_at);
`)
	if err != nil {
		return fmt.Errorf("jobstore: migrate: %w", err)
	}
	return nil
}

func (s *postgresStore) Upsert(ctx context.Context, p UpsertParams) (Job, error) {
	now := time.Now().UTC()
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return Job{}, fmt.Errorf("jobstore: marshal metadata: %w", err)
	}
	status := p.Status
	if status == "" {
		status = Pending
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO jobs (job_id, video_url, video_title, language, target_language, status, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
ON CONFLICT (job_id) DO UPDATE SET
	video_url = EXCLUDED.video_url,
	video_title = EXCLUDED.video_title,
	language = EXCLUDED.language,
	target_language = CASE WHEN EXCLUDED.target_language <> '' THEN EXCLUDED.target_language ELSE jobs.target_language END,
	metadata = jobs.metadata || EXCLUDED.metadata,
	updated_at = EXCLUDED.updated_at
RETURNING job_id, video_url, video_title, language, target_language, status, result_url, subtitle_path, error_message, metadata, created_at, updated_at
`, p.JobID, p.VideoURL, p.VideoTitle, p.Language, p.TargetLanguage, status, meta, now)
	return scanJob(row)
}

func (s *postgresStore) Advance(ctx context.Context, p AdvanceParams) (Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("jobstore: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := scanJob(tx.QueryRow(ctx, `
SELECT job_id, video_url, video_title, language, target_language, status, result_url, subtitle_path, error_message, metadata, created_at, updated_at
FROM jobs WHERE job_id = $1 FOR UPDATE`, p.JobID))
	if err != nil {
		return Job{}, err
	}

	if p.EventID != "" {
		var dup bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM job_events WHERE job_id=$1 AND event_id=$2)`, p.JobID, p.EventID).Scan(&dup); err != nil {
			return Job{}, fmt.Errorf("jobstore: check event: %w", err)
		}
		if dup {
			return job, tx.Commit(ctx)
		}
	}

	if job.Status.Terminal() {
		return job, firstErr(tx.Commit(ctx), ErrIllegalTransition)
	}

	legal := CanTransition(job.Status, p.To)
	now := time.Now().UTC()
	newStatus := job.Status
	if legal {
		newStatus = p.To
	}
	resultURL := job.ResultURL
	if p.ResultURL != "" {
		resultURL = p.ResultURL
	}
	subtitlePath := job.SubtitlePath
	if p.SubtitlePath != "" {
		subtitlePath = p.SubtitlePath
	}
	targetLanguage := job.TargetLanguage
	if p.TargetLanguage != "" {
		targetLanguage = p.TargetLanguage
	}
	errMsg := job.ErrorMessage
	if p.ErrorMessage != "" {
		errMsg = p.ErrorMessage
	}

	row := tx.QueryRow(ctx, `
UPDATE jobs SET status=$2, result_url=$3, subtitle_path=$4, target_language=$5, error_message=$6, updated_at=$7
WHERE job_id=$1
RETURNING job_id, video_url, video_title, language, target_language, status, result_url, subtitle_path, error_message, metadata, created_at, updated_at
`, p.JobID, newStatus, resultURL, subtitlePath, targetLanguage, errMsg, now)
	updated, err := scanJob(row)
	if err != nil {
		return Job{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("jobstore: commit: %w", err)
	}
	if !legal {
		return updated, ErrIllegalTransition
	}
	return updated, nil
}

func (s *postgresStore) Get(ctx context.Context, jobID string) (Job, error) {
	row := s.pool.QueryRow(ctx, `
SELECT job_id, video_url, video_title, language, target_language, status, result_url, subtitle_path, error_message, metadata, created_at, updated_at
FROM jobs WHERE job_id = $1`, jobID)
	return scanJob(row)
}

func (s *postgresStore) RecordEvent(ctx context.Context, jobID string, evt Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("jobstore: marshal event payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO job_events (job_id, event_id, event_type, source, payload, timestamp)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (job_id, event_id) DO NOTHING`,
		jobID, evt.EventID, evt.EventType, evt.Source, payload, evt.Timestamp)
	if err != nil {
		return fmt.Errorf("jobstore: record event: %w", err)
	}
	return nil
}

func (s *postgresStore) HasEvent(ctx context.Context, jobID, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM job_events WHERE job_id=$1 AND event_id=$2)`, jobID, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("jobstore: has event: %w", err)
	}
	return exists, nil
}

func (s *postgresStore) Events(ctx context.Context, jobID string) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
SELECT event_id, event_type, source, payload, timestamp FROM job_events
WHERE job_id = $1 ORDER BY seq ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("jobstore: events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var evt Event
		var payload []byte
		if err := rows.Scan(&evt.EventID, &evt.EventType, &evt.Source, &payload, &evt.Timestamp); err != nil {
			return nil, fmt.Errorf("jobstore: scan event: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &evt.Payload); err != nil {
				return nil, fmt.Errorf("jobstore: unmarshal event payload: %w", err)
			}
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func (s *postgresStore) ApplyTTL(ctx context.Context, cfg TTLConfig, now time.Time) (int, error) {
	var total int64
	if cfg.Completed > 0 {
		tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE status=$1 AND updated_at <= $2`, Done, now.Add(-cfg.Completed))
		if err != nil {
			return 0, fmt.Errorf("jobstore: ttl done: %w", err)
		}
		total += tag.RowsAffected()
	}
	if cfg.Failed > 0 {
		tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE status=$1 AND updated_at <= $2`, Failed, now.Add(-cfg.Failed))
		if err != nil {
			return 0, fmt.Errorf("jobstore: ttl failed: %w", err)
		}
		total += tag.RowsAffected()
	}
	return int(total), nil
}

func (s *postgresStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	var metadata []byte
	err := row.Scan(&j.JobID, &j.VideoURL, &j.VideoTitle, &j.Language, &j.TargetLanguage, &j.Status,
		&j.ResultURL, &j.SubtitlePath, &j.ErrorMessage, &metadata, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("jobstore: scan job: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &j.Metadata); err != nil {
			return Job{}, fmt.Errorf("jobstore: unmarshal metadata: %w", err)
		}
	}
	return j, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
