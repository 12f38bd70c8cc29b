package providers

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIBackend is a ChatBackend wired to the official OpenAI SDK, replacing
// the teacher's commented-out placeholder in pkg/llms/openai.go with a real
// client call.
type OpenAIBackend struct {
	client *openai.Client
	model  openai.ChatModel
	models []ModelInfo
}

// NewOpenAIBackend builds a backend bound to one chat model. apiKey must be
// non-empty; cmd/serve.go only constructs it when the OPENAI_API_KEY
// environment variable is set.
func NewOpenAIBackend(apiKey, model string) *OpenAIBackend {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	if model == "" {
		model = openai.ChatModelGPT4o
	}
	return &OpenAIBackend{
		client: &client,
		model:  openai.ChatModel(model),
		models: []ModelInfo{
			{ID: "gpt-4o", Name: "GPT-4o", MaxTokens: 128000, ProviderName: "openai"},
			{ID: "gpt-4o-mini", Name: "GPT-4o mini", MaxTokens: 128000, ProviderName: "openai"},
			{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", MaxTokens: 128000, ProviderName: "openai"},
		},
	}
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) Models(ctx context.Context) ([]ModelInfo, error) {
	return b.models, nil
}

func (b *OpenAIBackend) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: b.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
