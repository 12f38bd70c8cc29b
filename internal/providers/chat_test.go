package providers

import (
	"context"
	"testing"
)

type fakeBackend struct {
	name     string
	response string
	err      error
}

func (f *fakeBackend) Name() string { return f.name }
func (f *fakeBackend) Models(ctx context.Context) ([]ModelInfo, error) { return nil, nil }
func (f *fakeBackend) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	return f.response, f.err
}

func TestChatProviderTranslateBatchParsesResponse(t *testing.T) {
	backend := &fakeBackend{name: "fake", response: `[{"position":0,"text":"Bonjour"},{"position":1,"text":"Salut"}]`}
	p := NewChatProvider(backend, "Translate from {sourceLanguage} to {targetLanguage}.", 0.2, testLogger())

	result, err := p.TranslateBatch(context.Background(), []BatchItem{
		{Position: 0, Line: "Hello"},
		{Position: 1, Line: "Hi"},
	}, "eng", "fra", nil, nil)
	if err != nil {
		t.Fatalf("TranslateBatch: %v", err)
	}
	if result[0] != "Bonjour" || result[1] != "Salut" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestChatProviderDropsUnrequestedPositions(t *testing.T) {
	backend := &fakeBackend{name: "fake", response: `[{"position":0,"text":"Bonjour"},{"position":99,"text":"Extra"}]`}
	p := NewChatProvider(backend, "Translate.", 0.2, testLogger())

	result, err := p.TranslateBatch(context.Background(), []BatchItem{{Position: 0, Line: "Hello"}}, "eng", "fra", nil, nil)
	if err != nil {
		t.Fatalf("TranslateBatch: %v", err)
	}
	if _, ok := result[99]; ok {
		t.Error("expected unrequested position 99 to be dropped")
	}
	if result[0] != "Bonjour" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestChatProviderHandlesMarkdownCodeFence(t *testing.T) {
	backend := &fakeBackend{name: "fake", response: "```json\n[{\"position\":0,\"text\":\"Bonjour\"}]\n```"}
	p := NewChatProvider(backend, "Translate.", 0.2, testLogger())

	result, err := p.TranslateBatch(context.Background(), []BatchItem{{Position: 0, Line: "Hello"}}, "eng", "fra", nil, nil)
	if err != nil {
		t.Fatalf("TranslateBatch: %v", err)
	}
	if result[0] != "Bonjour" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestChatProviderSubstitutesPlaceholders(t *testing.T) {
	p := NewChatProvider(&fakeBackend{name: "fake"}, "Translate from {sourceLanguage} to {targetLanguage}.", 0, testLogger())
	got := p.substitutePrompt("eng", "fra")
	want := "Translate from eng to fra."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRegistryDefaultsToFirstRegistered(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewChatProvider(&fakeBackend{name: "first"}, "", 0, testLogger()))
	reg.Register(NewChatProvider(&fakeBackend{name: "second"}, "", 0, testLogger()))

	p, ok := reg.Get("")
	if !ok || p.Name() != "first" {
		t.Errorf("expected default provider 'first', got %+v (ok=%v)", p, ok)
	}
}
