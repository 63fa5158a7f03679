// Package llm defines the LLM Gateway contract used by the translation
// worker (spec §4.4.3): translate one chunk per call, classify failures as
// transient or permanent, and retry transient failures with jittered
// exponential backoff. Grounded on the teacher's internal/ingest retry
// shape (doWithRetry), generalized from HTTP-status classification to the
// errkind taxonomy shared across the whole pipeline.
package llm

import (
	"context"
	"math/rand"
	"time"

	"github.com/yairabf/subtitlex/internal/errkind"
	"github.com/yairabf/subtitlex/internal/translate/parser"
)

// TranslatedSegment mirrors a source Segment with its text localized;
// timestamps are carried through unchanged (spec §4.4.3: "only the text is
// localized").
type TranslatedSegment struct {
	Index int
	Text  []string
}

// Gateway translates one chunk of subtitle segments at a time.
type Gateway interface {
	// Translate sends the chunk's segments to the model and returns one
	// TranslatedSegment per input segment, in the same order. The prompt
	// built from chunk/sourceLanguage/targetLanguage/model must be
	// identical across retries (spec §4.4.3 "formatting preservation").
	Translate(ctx context.Context, chunk []parser.Segment, sourceLanguage, targetLanguage, model string) ([]TranslatedSegment, error)
}

// RetryConfig parameterizes the backoff policy, spec §4.4.3 defaults.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Base         float64
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 2 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.Base <= 0 {
		c.Base = 2
	}
	return c
}

// TranslateWithRetry wraps gw.Translate with the retry policy spec §4.4.3
// describes: transient errors (errkind.TransientInfrastructure or
// errkind.TranslationSemanticError) retry with jittered exponential
// backoff up to MaxRetries; any other classification fails immediately.
// onRetry, if non-nil, is invoked once per retry attempt (for metrics).
func TranslateWithRetry(ctx context.Context, gw Gateway, chunk []parser.Segment, sourceLanguage, targetLanguage, model string, cfg RetryConfig, onRetry func(kind errkind.Kind)) ([]TranslatedSegment, error) {
	cfg = cfg.withDefaults()
	delay := cfg.InitialDelay

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err := gw.Translate(ctx, chunk, sourceLanguage, targetLanguage, model)
		if err == nil {
			return result, nil
		}
		lastErr = err

		kind, _ := errkind.Of(err)
		if !errkind.Retryable(err) || attempt == cfg.MaxRetries {
			return nil, err
		}
		if onRetry != nil {
			onRetry(kind)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jitter(delay)):
		}
		delay = time.Duration(float64(delay) * cfg.Base)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return nil, lastErr
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	spread := float64(d) * 0.2
	offset := (rand.Float64()*2 - 1) * spread
	return time.Duration(float64(d) + offset)
}
