package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"sehha.app/diagnosis-assistant/internal/logging"
)

const defaultGeminiModel = "gemini-1.5-flash-latest"

// GeminiGenerator answers prompts with a Gemini model.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	log    *slog.Logger
}

func NewGeminiGenerator(ctx context.Context, apiKey string) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiGenerator{client: client, model: defaultGeminiModel, log: logging.New("gemini")}, nil
}

func (g *GeminiGenerator) Close() {
	if g.client != nil {
		if err := g.client.Close(); err != nil {
			g.log.Warn("Error closing GenAI client", "error", err)
		}
	}
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction)},
	}

	temp := float32(0.5)
	maxTokens := int32(500)
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		} else {
			g.log.Debug("Gemini response part was not text", "type", fmt.Sprintf("%T", part))
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("gemini returned an empty response")
	}
	return text.String(), nil
}
