// Package config loads per-binary configuration from environment variables,
// an optional layered YAML file, and built-in defaults matching spec §6.5
// and §4.3/§4.4/§4.8. Grounded on the teacher's internal/ingest.Config
// (env-var loading with typed defaults and a Validate method), extended
// with an optional YAML layer per the ambient-stack expansion.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of tunables shared across the orchestrator,
// workers, and ingress binaries. Each binary's main() reads only the
// sections it needs.
type Config struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	PostgresDSN   string `yaml:"postgres_dsn"`

	DedupWindow time.Duration `yaml:"dedup_window"`

	CheckpointRoot      string  `yaml:"checkpoint_root"`
	ArtifactRoot        string  `yaml:"artifact_root"`
	MaxTokensPerChunk   int     `yaml:"max_tokens_per_chunk"`
	SafetyMargin        float64 `yaml:"safety_margin"`
	TranslationModel    string  `yaml:"translation_model"`
	LLMMaxRetries       int     `yaml:"llm_max_retries"`
	LLMInitialDelay     time.Duration `yaml:"llm_initial_delay"`
	LLMMaxDelay         time.Duration `yaml:"llm_max_delay"`
	LLMBackoffBase      float64       `yaml:"llm_backoff_base"`
	AnthropicAPIKey     string        `yaml:"anthropic_api_key"`
	FallbackLanguage    string        `yaml:"fallback_language"`

	JobCompletedTTL time.Duration `yaml:"job_completed_ttl"`
	JobFailedTTL    time.Duration `yaml:"job_failed_ttl"`

	WebhookAddr         string `yaml:"webhook_addr"`
	WebhookSharedSecret string `yaml:"webhook_shared_secret"`
	WebhookEnabled      bool   `yaml:"webhook_enabled"`

	FSWatchRoot           string        `yaml:"fs_watch_root"`
	FSWatchExtensions     []string      `yaml:"fs_watch_extensions"`
	FSWatchDebounceWindow time.Duration `yaml:"fs_watch_debounce_window"`
	FSWatchEnabled        bool          `yaml:"fs_watch_enabled"`

	PushURL     string `yaml:"push_url"`
	PushEnabled bool   `yaml:"push_enabled"`

	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	ReconnectInitial    time.Duration `yaml:"reconnect_initial"`
	ReconnectMax        time.Duration `yaml:"reconnect_max"`
	ReconnectMaxRetries int           `yaml:"reconnect_max_retries"`

	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns a Config populated with spec-mandated defaults.
func Default() Config {
	return Config{
		RedisAddr:             "127.0.0.1:6379",
		DedupWindow:           time.Hour,
		CheckpointRoot:        "./checkpoints",
		ArtifactRoot:          "./artifacts",
		MaxTokensPerChunk:     8000,
		SafetyMargin:          0.8,
		TranslationModel:      "claude-sonnet-4-5",
		LLMMaxRetries:         3,
		LLMInitialDelay:       2 * time.Second,
		LLMMaxDelay:           60 * time.Second,
		LLMBackoffBase:        2,
		FallbackLanguage:      "en",
		JobCompletedTTL:       7 * 24 * time.Hour,
		JobFailedTTL:          3 * 24 * time.Hour,
		WebhookAddr:           ":8080",
		WebhookEnabled:        true,
		FSWatchExtensions:     []string{".srt", ".mp4", ".mkv"},
		FSWatchDebounceWindow: 2 * time.Second,
		FSWatchEnabled:        true,
		PushEnabled:           false,
		HealthCheckInterval:   30 * time.Second,
		ReconnectInitial:      2 * time.Second,
		ReconnectMax:          60 * time.Second,
		ReconnectMaxRetries:   15,
		MetricsAddr:           ":9090",
	}
}

// Load builds a Config by layering, in increasing precedence: built-in
// defaults, an optional YAML file at yamlPath (skipped if empty or
// missing), then environment variables.
func Load(yamlPath string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(yamlPath) != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", yamlPath, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", yamlPath, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.RedisAddr, "SUBTITLEX_REDIS_ADDR")
	setString(&cfg.RedisPassword, "SUBTITLEX_REDIS_PASSWORD")
	setString(&cfg.PostgresDSN, "SUBTITLEX_POSTGRES_DSN")
	setDuration(&cfg.DedupWindow, "SUBTITLEX_DEDUP_WINDOW")
	setString(&cfg.CheckpointRoot, "SUBTITLEX_CHECKPOINT_ROOT")
	setString(&cfg.ArtifactRoot, "SUBTITLEX_ARTIFACT_ROOT")
	setInt(&cfg.MaxTokensPerChunk, "SUBTITLEX_MAX_TOKENS_PER_CHUNK")
	setFloat(&cfg.SafetyMargin, "SUBTITLEX_SAFETY_MARGIN")
	setString(&cfg.TranslationModel, "SUBTITLEX_TRANSLATION_MODEL")
	setInt(&cfg.LLMMaxRetries, "SUBTITLEX_LLM_MAX_RETRIES")
	setDuration(&cfg.LLMInitialDelay, "SUBTITLEX_LLM_INITIAL_DELAY")
	setDuration(&cfg.LLMMaxDelay, "SUBTITLEX_LLM_MAX_DELAY")
	setFloat(&cfg.LLMBackoffBase, "SUBTITLEX_LLM_BACKOFF_BASE")
	setString(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setString(&cfg.FallbackLanguage, "SUBTITLEX_FALLBACK_LANGUAGE")
	setDuration(&cfg.JobCompletedTTL, "SUBTITLEX_JOB_COMPLETED_TTL")
	setDuration(&cfg.JobFailedTTL, "SUBTITLEX_JOB_FAILED_TTL")
	setString(&cfg.WebhookAddr, "SUBTITLEX_WEBHOOK_ADDR")
	setString(&cfg.WebhookSharedSecret, "SUBTITLEX_WEBHOOK_SHARED_SECRET")
	setBool(&cfg.WebhookEnabled, "SUBTITLEX_WEBHOOK_ENABLED")
	setString(&cfg.FSWatchRoot, "SUBTITLEX_FS_WATCH_ROOT")
	setDuration(&cfg.FSWatchDebounceWindow, "SUBTITLEX_FS_WATCH_DEBOUNCE_WINDOW")
	setBool(&cfg.FSWatchEnabled, "SUBTITLEX_FS_WATCH_ENABLED")
	setString(&cfg.PushURL, "SUBTITLEX_PUSH_URL")
	setBool(&cfg.PushEnabled, "SUBTITLEX_PUSH_ENABLED")
	setDuration(&cfg.HealthCheckInterval, "SUBTITLEX_HEALTH_CHECK_INTERVAL")
	setDuration(&cfg.ReconnectInitial, "SUBTITLEX_RECONNECT_INITIAL")
	setDuration(&cfg.ReconnectMax, "SUBTITLEX_RECONNECT_MAX")
	setInt(&cfg.ReconnectMaxRetries, "SUBTITLEX_RECONNECT_MAX_RETRIES")
	setString(&cfg.MetricsAddr, "SUBTITLEX_METRICS_ADDR")

	if exts := strings.TrimSpace(os.Getenv("SUBTITLEX_FS_WATCH_EXTENSIONS")); exts != "" {
		cfg.FSWatchExtensions = strings.Split(exts, ",")
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v == "1" || strings.EqualFold(v, "true")
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = parsed
		}
	}
}

// Validate ensures the configuration is internally consistent.
func (c Config) Validate() error {
	if c.MaxTokensPerChunk <= 0 {
		return fmt.Errorf("config: max_tokens_per_chunk must be positive")
	}
	if c.SafetyMargin <= 0 || c.SafetyMargin > 1 {
		return fmt.Errorf("config: safety_margin must be in (0, 1]")
	}
	if c.LLMMaxRetries < 0 {
		return fmt.Errorf("config: llm_max_retries cannot be negative")
	}
	if c.DedupWindow <= 0 {
		return fmt.Errorf("config: dedup_window must be positive")
	}
	return nil
}
