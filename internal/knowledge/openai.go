package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultOpenRouterModel   = "mistralai/mistral-small-3.2-24b-instruct:free"
	defaultMaxRetries        = 2
	defaultRequestTimeout    = 60 * time.Second
)

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string

	MaxRetries     int
	RequestTimeout time.Duration
}

func (c OpenAIConfig) withDefaults() OpenAIConfig {
	out := c
	if strings.TrimSpace(out.BaseURL) == "" {
		out.BaseURL = DefaultOpenRouterBaseURL
	}
	if strings.TrimSpace(out.Model) == "" {
		out.Model = DefaultOpenRouterModel
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = defaultMaxRetries
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = defaultRequestTimeout
	}
	return out
}

// OpenAIGenerator talks to any OpenAI-compatible chat completion endpoint,
// OpenRouter by default.
type OpenAIGenerator struct {
	client openaigo.Client
	model  string
}

func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	client := openaigo.NewClient(
		option.WithBaseURL(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")),
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(cfg.RequestTimeout),
	)
	return &OpenAIGenerator{client: client, model: strings.TrimSpace(cfg.Model)}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openaigo.ChatCompletionNewParams{
		Model: openaigo.ChatModel(g.model),
		Messages: []openaigo.ChatCompletionMessageParamUnion{
			openaigo.SystemMessage(systemInstruction),
			openaigo.UserMessage(prompt),
		},
		Temperature: openaigo.Float(0.5),
		MaxTokens:   openaigo.Int(500),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
