package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/yairabf/subtitlex/internal/errkind"
	"github.com/yairabf/subtitlex/internal/translate/parser"
)

// AnthropicConfig configures the Anthropic-backed Gateway.
type AnthropicConfig struct {
	APIKey    string
	MaxTokens int64
}

// NewAnthropicGateway constructs a Gateway backed by the Anthropic Messages
// API. The prompt asks the model to return a JSON array of translated
// lines so the worker can validate segment-count parity mechanically
// rather than parsing prose (spec §4.4.3: "the response must contain the
// same number of translated segments as the chunk").
func NewAnthropicGateway(cfg AnthropicConfig) Gateway {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return &anthropicGateway{client: client, cfg: cfg}
}

type anthropicGateway struct {
	client anthropic.Client
	cfg    AnthropicConfig
}

type translationLine struct {
	Index int      `json:"index"`
	Text  []string `json:"text"`
}

func (g *anthropicGateway) Translate(ctx context.Context, chunk []parser.Segment, sourceLanguage, targetLanguage, model string) ([]TranslatedSegment, error) {
	prompt := buildPrompt(chunk, sourceLanguage, targetLanguage)

	message, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: g.cfg.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		text.WriteString(block.Text)
	}

	var lines []translationLine
	if err := json.Unmarshal([]byte(extractJSON(text.String())), &lines); err != nil {
		return nil, errkind.Wrap(errkind.TranslationSemanticError, fmt.Errorf("decode translation response: %w", err))
	}
	if len(lines) != len(chunk) {
		return nil, errkind.Wrap(errkind.TranslationSemanticError,
			fmt.Errorf("expected %d translated segments, got %d", len(chunk), len(lines)))
	}

	out := make([]TranslatedSegment, len(lines))
	for i, line := range lines {
		out[i] = TranslatedSegment{Index: chunk[i].Index, Text: line.Text}
	}
	return out, nil
}

func buildPrompt(chunk []parser.Segment, sourceLanguage, targetLanguage string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Translate the following subtitle lines from %s to %s.\n", sourceLanguage, targetLanguage)
	b.WriteString("Preserve line breaks within each segment. Respond with ONLY a JSON array of objects ")
	b.WriteString(`{"index": <segment index>, "text": [<translated lines>]}, one per input segment, in the same order.` + "\n\n")
	for _, seg := range chunk {
		fmt.Fprintf(&b, "Segment %d:\n%s\n\n", seg.Index, strings.Join(seg.Text, "\n"))
	}
	return b.String()
}

// extractJSON trims any conversational wrapper text around the JSON array
// the model was asked to return, tolerating a stray preamble or fenced
// code block.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

// classifyAnthropicError maps SDK errors onto the shared error-kind
// taxonomy (spec §4.4.3): rate-limit/connection/timeout/5xx are
// transient; other 4xx are permanent.
func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return errkind.Wrap(errkind.ClassifyHTTPStatus(apiErr.StatusCode), err)
	}
	// Connection failures, timeouts, and context cancellation never reach
	// the API layer as a typed *anthropic.Error; treat them as transient.
	return errkind.Wrap(errkind.TransientInfrastructure, err)
}
