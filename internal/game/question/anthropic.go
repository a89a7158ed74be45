package question

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// LLMProvider generates questions with the Anthropic Messages API. The
// model's output is treated as untrusted text: it is extracted, strictly
// unmarshalled, and schema-validated before a Question is ever returned.
type LLMProvider struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	topic     string
	logger    *zap.Logger
}

// NewLLMProvider creates a provider backed by the Anthropic API.
//
// Precondition: apiKey and model must be non-empty; maxTokens must be > 0;
// logger must be non-nil.
func NewLLMProvider(apiKey, model string, maxTokens int64, topic string, logger *zap.Logger) *LLMProvider {
	if topic == "" {
		topic = "general knowledge"
	}
	return &LLMProvider{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
		topic:     topic,
		logger:    logger,
	}
}

// llmQuestion is the JSON schema the model is asked to produce. The answer
// field accepts either the exact option text or a zero-based index.
type llmQuestion struct {
	Question string          `json:"question"`
	Options  []string        `json:"options"`
	Answer   json.RawMessage `json:"answer"`
}

// GetQuestion prompts the model for one question at the given tier.
//
// Postcondition: Returns a validated Question, or an error covering
// network failure, unparseable output, or schema violation. The previous
// room question is the caller's concern; this method has no side effects.
func (p *LLMProvider) GetQuestion(ctx context.Context, tier Tier) (Question, error) {
	prompt := fmt.Sprintf(`You are a %s quiz master. Create one %s quiz question.
Difficulty: %s

Respond with only a JSON object in this exact format:
{"question": "...", "options": ["...", "...", "...", "..."], "answer": 0}
where "answer" is the zero-based index of the correct option.`,
		p.topic, p.topic, strings.ToUpper(string(tier)))

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Question{}, fmt.Errorf("requesting question from model: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	q, err := parseModelOutput(tier, sb.String())
	if err != nil {
		p.logger.Debug("rejected model output",
			zap.String("tier", string(tier)),
			zap.Error(err),
		)
		return Question{}, err
	}
	return q, nil
}

// parseModelOutput extracts the JSON object from raw model text and builds
// a validated Question from it. Raw text is never evaluated or trusted.
func parseModelOutput(tier Tier, raw string) (Question, error) {
	body, err := extractJSONObject(raw)
	if err != nil {
		return Question{}, err
	}

	var lq llmQuestion
	if err := json.Unmarshal([]byte(body), &lq); err != nil {
		return Question{}, fmt.Errorf("%w: parsing model JSON: %v", ErrMalformedQuestion, err)
	}

	// The answer may arrive as an index or as the option text.
	var idx int
	if err := json.Unmarshal(lq.Answer, &idx); err == nil {
		return New(tier, lq.Question, lq.Options, idx)
	}
	var text string
	if err := json.Unmarshal(lq.Answer, &text); err == nil {
		return NewFromAnswer(tier, lq.Question, lq.Options, text)
	}
	return Question{}, fmt.Errorf("%w: answer is neither index nor string", ErrMalformedQuestion)
}

// extractJSONObject returns the first top-level {...} span in raw. Models
// occasionally wrap output in prose or code fences; everything outside the
// braces is discarded.
func extractJSONObject(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("%w: no JSON object in model output", ErrMalformedQuestion)
	}
	return raw[start : end+1], nil
}
