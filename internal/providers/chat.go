package providers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
)

// ChatBackend abstracts the single call every chat-style LLM SDK exposes:
// given a system prompt and a user prompt, return the assistant's text.
// Concrete adapters (openai.go, openrouter.go, gemini.go) each wrap one
// third-party SDK client behind this shape so ChatProvider's batching,
// prompt templating, and error mapping is written exactly once.
type ChatBackend interface {
	Name() string
	Models(ctx context.Context) ([]ModelInfo, error)
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)
}

// ChatProvider implements Provider over any ChatBackend: prompt-driven,
// model-based, per spec.md §4.5.
type ChatProvider struct {
	backend     ChatBackend
	promptTpl   string
	temperature float64
	log         zerolog.Logger
}

// NewChatProvider wires a ChatBackend into the Provider contract.
// promptTemplate carries the `{sourceLanguage}`/`{targetLanguage}`
// placeholders spec.md §4.5 requires LLM variants to substitute; it is
// read from the `ai_prompt` setting by the caller.
func NewChatProvider(backend ChatBackend, promptTemplate string, temperature float64, log zerolog.Logger) *ChatProvider {
	return &ChatProvider{
		backend:     backend,
		promptTpl:   promptTemplate,
		temperature: temperature,
		log:         componentLogger(log, backend.Name()),
	}
}

func (p *ChatProvider) Name() string           { return p.backend.Name() }
func (p *ChatProvider) RequiresAPIKey() bool    { return true }

func (p *ChatProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return p.backend.Models(ctx)
}

func (p *ChatProvider) ListLanguages(ctx context.Context) ([]string, error) {
	// Chat-style LLM providers translate between any language pair they
	// understand natural-language instructions for; they don't enumerate a
	// fixed language list the way a classical MT API does.
	return nil, nil
}

func (p *ChatProvider) substitutePrompt(source, target string) string {
	r := strings.NewReplacer("{sourceLanguage}", source, "{targetLanguage}", target)
	return r.Replace(p.promptTpl)
}

func (p *ChatProvider) TranslateSingle(ctx context.Context, line, source, target string) (string, error) {
	result, err := p.TranslateBatch(ctx, []BatchItem{{Position: 0, Line: line}}, source, target, nil, nil)
	if err != nil {
		return "", err
	}
	out, ok := result[0]
	if !ok {
		return "", domain.NewError(domain.ErrInvalidResponse, nil, "provider returned no result for single line")
	}
	return out, nil
}

// chatRequestPayload is the JSON shape sent to the model as the user
// message: positions + lines, plus advisory-only wrapper context.
type chatRequestPayload struct {
	PreContext  []string      `json:"preContext,omitempty"`
	Lines       []chatLineIn  `json:"lines"`
	PostContext []string      `json:"postContext,omitempty"`
}

type chatLineIn struct {
	Position int    `json:"position"`
	Text     string `json:"text"`
}

type chatLineOut struct {
	Position int    `json:"position"`
	Text     string `json:"text"`
}

func (p *ChatProvider) TranslateBatch(ctx context.Context, items []BatchItem, source, target string, preContext, postContext []string) (map[int]string, error) {
	payload := chatRequestPayload{PreContext: preContext, PostContext: postContext}
	for _, it := range items {
		payload.Lines = append(payload.Lines, chatLineIn{Position: it.Position, Text: it.Line})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewError(domain.ErrInvalidResponse, err, "failed to marshal batch request")
	}

	system := p.substitutePrompt(source, target) +
		"\nRespond with a JSON array of objects {\"position\": <int>, \"text\": <string>} covering only the lines you translated. " +
		"Wrapper context lines are for reference only and must never appear in your output. " +
		"Never output vector drawing commands."

	raw, err := p.backend.Complete(ctx, system, string(body), p.temperature)
	if err != nil {
		return nil, domain.NewError(domain.ErrTransientProvider, err, "chat completion request failed")
	}

	out, err := parseChatResponse(raw, items)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// parseChatResponse decodes the model's JSON array, tolerating a response
// wrapped in a markdown code fence (a common LLM quirk), and drops any
// position the caller never submitted rather than trusting the model.
func parseChatResponse(raw string, requested []BatchItem) (map[int]string, error) {
	valid := make(map[int]bool, len(requested))
	for _, it := range requested {
		valid[it.Position] = true
	}

	raw = stripCodeFence(raw)

	var lines []chatLineOut
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		return nil, domain.NewError(domain.ErrInvalidResponse, err, "failed to parse provider JSON response")
	}

	out := make(map[int]string, len(lines))
	for _, l := range lines {
		if !valid[l.Position] {
			continue
		}
		out[l.Position] = l.Text
	}
	return out, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

