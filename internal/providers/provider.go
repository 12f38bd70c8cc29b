// Package providers implements the Provider Abstraction (C5): a uniform
// interface over machine-translation APIs and chat-style LLM APIs, grounded
// on the teacher's pkg/llms package (Provider interface, ModelInfo,
// registry-with-sync.Once pattern) but reshaped around spec.md §4.5's batch
// contract instead of the teacher's single-shot Complete().
package providers

import (
	"context"

	"github.com/rs/zerolog"
)

// ModelInfo mirrors the teacher's pkg/llms.ModelInfo.
type ModelInfo struct {
	ID           string
	Name         string
	Description  string
	MaxTokens    int
	Capabilities []string
	ProviderName string
}

// BatchItem is one (position, line) pair submitted to TranslateBatch.
type BatchItem struct {
	Position int
	Line     string
}

// Provider is the capability set spec.md §4.5 requires of every
// translation backend, machine-translation or chat-LLM alike.
type Provider interface {
	Name() string
	RequiresAPIKey() bool

	// ListModels enumerates the models this provider can use (empty for
	// providers, like pure MT APIs, with no model concept).
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// ListLanguages enumerates the language codes this provider supports
	// as a source or target.
	ListLanguages(ctx context.Context) ([]string, error)

	// TranslateSingle translates one line.
	TranslateSingle(ctx context.Context, line, source, target string) (string, error)

	// TranslateBatch translates an ordered set of items. The returned map
	// may be a strict subset of the submitted positions (spec.md §4.5):
	// the caller (C7) is responsible for detecting and re-splitting
	// whatever is missing. The provider must never invent a position that
	// was not submitted.
	TranslateBatch(ctx context.Context, items []BatchItem, source, target string, preContext, postContext []string) (map[int]string, error)
}

// componentLogger derives the child logger a provider implementation is
// constructed with, following the teacher's pkg/llms.Logger
// convention (registry.go) generalized to per-instance injection instead of
// a package global, per this repo's logging convention.
func componentLogger(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", "providers").Str("provider", name).Logger()
}
