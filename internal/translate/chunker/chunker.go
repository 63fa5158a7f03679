// Package chunker implements the token-budget-bounded chunking algorithm of
// spec §4.4.2. No tokenizer library appears anywhere in the retrieval pack
// (the pack's dependencies cover transport, storage, and observability, not
// NLP tokenization), so this package is deliberately stdlib-only: the
// fallback estimator spec §4.4.2 itself specifies (`ceil(len(text)/4)`) is
// the only tokenizer this pipeline needs without a model-specific client in
// hand (DESIGN.md records this as a stdlib exception).
package chunker

import (
	"log/slog"

	"github.com/yairabf/subtitlex/internal/translate/parser"
)

// TokenCounter counts tokens for text under a given model's tokenizer.
type TokenCounter func(text, model string) int

// FallbackTokenCounter estimates token count as ceil(len(text)/4), spec
// §4.4.2's documented fallback. This undercounts for some scripts (e.g.
// CJK, where one character is often closer to one token than four bytes
// are); the spec calls this out as an estimation with "a conservative
// safety margin" rather than a precise count, so the undercount is a known
// limitation, not a bug — see DESIGN.md Open Question OQ3.
func FallbackTokenCounter(text, _ string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// Chunk is an ordered group of segments whose combined token count fits
// within the effective budget (or a single oversized segment that alone
// exceeds it).
type Chunk struct {
	Segments []parser.Segment
}

// Config parameterizes Chunk per spec §4.4.2.
type Config struct {
	MaxTokensPerChunk int
	SafetyMargin      float64
	Model             string
	TokenCounter      TokenCounter
	Logger            *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxTokensPerChunk <= 0 {
		c.MaxTokensPerChunk = 8000
	}
	if c.SafetyMargin <= 0 || c.SafetyMargin > 1 {
		c.SafetyMargin = 0.8
	}
	if c.TokenCounter == nil {
		c.TokenCounter = FallbackTokenCounter
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// EffectiveBudget returns floor(max_tokens_per_chunk * safety_margin).
func (c Config) EffectiveBudget() int {
	c = c.withDefaults()
	return int(float64(c.MaxTokensPerChunk) * c.SafetyMargin)
}

// ChunkSegments groups segments into token-budget-bounded chunks per spec §4.4.2.
// It never mutates segments and never splits a segment across chunks.
func ChunkSegments(segments []parser.Segment, cfg Config) []Chunk {
	cfg = cfg.withDefaults()
	budget := cfg.EffectiveBudget()

	var chunks []Chunk
	var current []parser.Segment
	currentTokens := 0

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, Chunk{Segments: current})
			current = nil
			currentTokens = 0
		}
	}

	for _, seg := range segments {
		text := joinText(seg.Text)
		t := cfg.TokenCounter(text, cfg.Model)

		if currentTokens+t > budget && len(current) > 0 {
			flush()
		}
		if t > budget && len(current) == 0 {
			cfg.Logger.Warn("oversized subtitle segment exceeds chunk budget",
				"segment_index", seg.Index, "tokens", t, "budget", budget)
			chunks = append(chunks, Chunk{Segments: []parser.Segment{seg}})
			continue
		}
		current = append(current, seg)
		currentTokens += t
	}
	flush()

	return chunks
}

func joinText(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
