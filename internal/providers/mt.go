package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
)

// MTProvider is a stateless machine-translation provider: language-pair
// based rather than model/prompt based, the other half of spec.md §4.5's
// variant split. It speaks to any MT API that accepts a JSON array of
// {position, text} and a source/target language pair and replies in kind;
// the teacher's pkg/llms package has no MT equivalent, so this is built
// fresh in the same placeholder-to-real-client shape as OpenAIBackend.
type MTProvider struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	languages  []string
	log        zerolog.Logger
}

func NewMTProvider(name, baseURL, apiKey string, languages []string, httpClient *http.Client, log zerolog.Logger) *MTProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &MTProvider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		languages:  languages,
		log:        componentLogger(log, name),
	}
}

func (p *MTProvider) Name() string        { return p.name }
func (p *MTProvider) RequiresAPIKey() bool { return p.apiKey != "" }

func (p *MTProvider) ListModels(ctx context.Context) ([]ModelInfo, error) { return nil, nil }

func (p *MTProvider) ListLanguages(ctx context.Context) ([]string, error) {
	return p.languages, nil
}

func (p *MTProvider) TranslateSingle(ctx context.Context, line, source, target string) (string, error) {
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

type mtBatchRequest struct {
	Source string          `json:"source"`
	Target string          `json:"target"`
	Lines  []chatLineIn    `json:"lines"`
}

func (p *MTProvider) TranslateBatch(ctx context.Context, items []BatchItem, source, target string, preContext, postContext []string) (map[int]string, error) {
	req := mtBatchRequest{Source: source, Target: target}
	for _, it := range items {
		req.Lines = append(req.Lines, chatLineIn{Position: it.Position, Text: it.Line})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, domain.NewError(domain.ErrInvalidResponse, err, "failed to marshal MT batch request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/translate/batch", strings.NewReader(string(body)))
	if err != nil {
		return nil, domain.NewError(domain.ErrTransientProvider, err, "failed to build MT request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.NewError(domain.ErrTransientProvider, err, "MT request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return nil, domain.NewError(domain.ErrPaymentRequired, nil, fmt.Sprintf("%s requires payment", p.name))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, domain.NewError(domain.ErrTransientProvider, nil, fmt.Sprintf("%s returned status %d", p.name, resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, domain.NewError(domain.ErrInvalidResponse, nil, fmt.Sprintf("%s returned status %d", p.name, resp.StatusCode))
	}

	var lines []chatLineOut
	if err := json.NewDecoder(resp.Body).Decode(&lines); err != nil {
		return nil, domain.NewError(domain.ErrInvalidResponse, err, "failed to decode MT response")
	}

	valid := make(map[int]bool, len(items))
	for _, it := range items {
		valid[it.Position] = true
	}
	out := make(map[int]string, len(lines))
	for _, l := range lines {
		if valid[l.Position] {
			out[l.Position] = l.Text
		}
	}
	return out, nil
}
