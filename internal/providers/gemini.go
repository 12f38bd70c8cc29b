package providers

import (
	"context"

	"google.golang.org/genai"
)

// GeminiBackend is a ChatBackend wired to google.golang.org/genai, the
// unified Google GenAI SDK.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

func NewGeminiBackend(ctx context.Context, apiKey, model string) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiBackend{client: client, model: model}, nil
}

func (b *GeminiBackend) Name() string { return "google" }

func (b *GeminiBackend) Models(ctx context.Context) ([]ModelInfo, error) {
	return []ModelInfo{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ProviderName: "google"},
		{ID: "gemini-2.0-pro", Name: "Gemini 2.0 Pro", ProviderName: "google"},
	}, nil
}

func (b *GeminiBackend) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	temp := float32(temperature)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:        &temp,
	}
	resp, err := b.client.Models.GenerateContent(ctx, b.model, genai.Text(userPrompt), config)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
