package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigPassesValidation(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestLoadWithNoYAMLUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.MaxTokensPerChunk)
	assert.Equal(t, 0.8, cfg.SafetyMargin)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("SUBTITLEX_MAX_TOKENS_PER_CHUNK", "4000")
	t.Setenv("SUBTITLEX_DEDUP_WINDOW", "30m")
	t.Setenv("SUBTITLEX_WEBHOOK_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.MaxTokensPerChunk)
	assert.Equal(t, 30*time.Minute, cfg.DedupWindow)
	assert.False(t, cfg.WebhookEnabled)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	require.NoError(t, os.WriteFile(path, []byte("max_tokens_per_chunk: 2000\nfallback_language: fr\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.MaxTokensPerChunk)
	assert.Equal(t, "fr", cfg.FallbackLanguage)
}

func TestLoadMissingYAMLFileIsNotAnError(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, Default().MaxTokensPerChunk, cfg.MaxTokensPerChunk)
}

func TestValidateRejectsInvalidSafetyMargin(t *testing.T) {
	cfg := Default()
	cfg.SafetyMargin = 1.5
	assert.Error(t, cfg.Validate())
}
