package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"go-beacon/types"
)

// Signal is the distress judgment extracted from free-form report text.
type Signal struct {
	IsDistress   bool           `json:"is_distress"`
	Confidence   float64        `json:"confidence"`
	SeverityHint types.Severity `json:"severity_hint,omitempty"`
}

// TextClassifier extracts a distress signal from raw text. Implementations are
// opaque; the pipeline only depends on this contract.
type TextClassifier interface {
	ExtractSignal(ctx context.Context, text string) (Signal, error)
}

const classifierSystemPrompt = `You are an assistant specializing in triaging emergency distress messages.
Given a message, respond with JSON only: {"is_distress": bool, "confidence": 0..1, "severity_hint": "critical"|"high"|"medium"|"low"}.`

// OpenAIClassifier asks a chat model for the distress judgment.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
}

func NewOpenAIClassifier(apiKey, model string) *OpenAIClassifier {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClassifier{client: openai.NewClient(apiKey), model: model}
}

func (c *OpenAIClassifier) ExtractSignal(ctx context.Context, text string) (Signal, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifierSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		MaxTokens: 100,
	})
	if err != nil {
		return Signal{}, fmt.Errorf("classifier request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Signal{}, fmt.Errorf("classifier returned no choices")
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.Trim(raw, "`\n ")

	var sig Signal
	if err := json.Unmarshal([]byte(raw), &sig); err != nil {
		return Signal{}, fmt.Errorf("classifier returned unparseable output: %w", err)
	}
	return sig, nil
}

// distressKeywords come from the operational SOS monitoring list.
var distressKeywords = []string{"sos", "help", "emergency", "trapped", "evacuate", "injured", "rescue"}

// KeywordClassifier is the no-credentials fallback: a plain keyword match.
// It keeps intake working in tests and offline runs.
type KeywordClassifier struct{}

func (KeywordClassifier) ExtractSignal(_ context.Context, text string) (Signal, error) {
	lower := strings.ToLower(text)
	for _, kw := range distressKeywords {
		if strings.Contains(lower, kw) {
			return Signal{IsDistress: true, Confidence: 0.6}, nil
		}
	}
	return Signal{IsDistress: false, Confidence: 0.6}, nil
}
