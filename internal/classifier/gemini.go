package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const geminiClassifyPrompt = `Classify this school-assistant message into ONE intent. Respond with JSON only.

Allowed intents:
%s

Message: %s
%s
Respond with: {"intent": "<intent>", "confidence": <0.0-1.0>, "entities": {"<name>": "<value>"}}`

// GeminiBackend implements Backend using Google's Gemini API.
type GeminiBackend struct {
	client  *genai.Client
	modelID string
}

// NewGeminiBackend creates a new Gemini-backed classifier.
func NewGeminiBackend(ctx context.Context, apiKey, modelID string) (*GeminiBackend, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("classifier: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("classifier: failed to create gemini client: %w", err)
	}

	return &GeminiBackend{
		client:  client,
		modelID: modelID,
	}, nil
}

// Classify asks Gemini for a single-intent classification.
func (b *GeminiBackend) Classify(ctx context.Context, req Request) (*Result, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, errors.New("classifier: message is required")
	}

	var contextLine string
	if strings.TrimSpace(req.RecentContext) != "" {
		contextLine = fmt.Sprintf("\nRecent conversation: %s\n", req.RecentContext)
	}
	prompt := fmt.Sprintf(geminiClassifyPrompt,
		formatIntents(req.AllowedIntents, req.EntityHints), message, contextLine)

	model := b.client.GenerativeModel(b.modelID)
	model.SetTemperature(0)
	model.SetMaxOutputTokens(200)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("classifier: gemini call failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("classifier: gemini returned no candidates")
	}

	var raw strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			raw.WriteString(string(text))
		}
	}

	result, err := parseClassification(raw.String(), req.AllowedIntents)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close releases resources held by the Gemini client.
func (b *GeminiBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

func formatIntents(intents []string, hints map[string]string) string {
	if len(intents) == 0 {
		return "- any"
	}
	var sb strings.Builder
	for _, intent := range intents {
		sb.WriteString("- ")
		sb.WriteString(intent)
		if hint, ok := hints[intent]; ok && hint != "" {
			sb.WriteString(": ")
			sb.WriteString(hint)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// parseClassification extracts the JSON object from a model reply that may
// carry extra prose around it.
func parseClassification(content string, allowed []string) (*Result, error) {
	content = strings.TrimSpace(content)
	startIdx := strings.Index(content, "{")
	endIdx := strings.LastIndex(content, "}")
	if startIdx >= 0 && endIdx > startIdx {
		content = content[startIdx : endIdx+1]
	}

	var parsed struct {
		Intent     string            `json:"intent"`
		Confidence float64           `json:"confidence"`
		Entities   map[string]string `json:"entities"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("classifier: unparseable gemini reply: %w", err)
	}
	if parsed.Intent == "" {
		return nil, errors.New("classifier: gemini reply missing intent")
	}
	if len(allowed) > 0 && !contains(allowed, parsed.Intent) {
		return nil, fmt.Errorf("classifier: gemini returned intent %q outside the allowed set", parsed.Intent)
	}

	return &Result{
		Intent:     parsed.Intent,
		Confidence: parsed.Confidence,
		Entities:   parsed.Entities,
	}, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
