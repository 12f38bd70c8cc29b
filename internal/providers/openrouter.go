package providers

import (
	"context"

	"github.com/revrost/go-openrouter"
)

// OpenRouterBackend is a ChatBackend wired to revrost/go-openrouter, giving
// this system access to whatever third-party model the operator points the
// `model` setting at without writing a new backend per model family.
type OpenRouterBackend struct {
	client *openrouter.Client
	model  string
}

func NewOpenRouterBackend(apiKey, model string) *OpenRouterBackend {
	client := openrouter.NewClient(apiKey)
	if model == "" {
		model = "openai/gpt-4o"
	}
	return &OpenRouterBackend{client: client, model: model}
}

func (b *OpenRouterBackend) Name() string { return "openrouter" }

func (b *OpenRouterBackend) Models(ctx context.Context) ([]ModelInfo, error) {
	list, err := b.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ModelInfo, 0, len(list.Data))
	for _, m := range list.Data {
		out = append(out, ModelInfo{ID: m.ID, Name: m.Name, ProviderName: "openrouter"})
	}
	return out, nil
}

func (b *OpenRouterBackend) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openrouter.ChatCompletionRequest{
		Model: b.model,
		Messages: []openrouter.ChatCompletionMessage{
			{Role: openrouter.ChatMessageRoleSystem, Content: openrouter.Content{Text: systemPrompt}},
			{Role: openrouter.ChatMessageRoleUser, Content: openrouter.Content{Text: userPrompt}},
		},
		Temperature: float32(temperature),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content.Text, nil
}
