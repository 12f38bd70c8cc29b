// Package mediastate implements the Media State Engine (C13): the
// read-mostly decision tree that assigns every media item's
// TranslationState against a versioned snapshot of the operator's
// language settings. It owns the media.translationState* columns
// exclusively; nothing else may write them.
package mediastate

import (
	"context"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/langscore"
)

// LanguageConfig is the versioned language-settings snapshot the engine
// computes states against. SourceLanguages is priority-ordered (best
// first, the same order C4 scores against).
type LanguageConfig struct {
	Version         int64
	SourceLanguages []string
	TargetLanguages []string
	IgnoreCaptions  bool
}

// Store is the narrow persistence surface the engine needs. A
// *store.Store satisfies it structurally.
type Store interface {
	GetMedia(ctx context.Context, id int64) (domain.Media, error)
	SetTranslationState(ctx context.Context, id int64, state domain.TranslationState, settingsVersion int64) error
	MarkAllStale(ctx context.Context) error
	MediaNeedingTranslation(ctx context.Context, limit int, priorityFirst bool) ([]domain.Media, error)
	ListEmbeddedSubtitles(ctx context.Context, mediaID int64, kind domain.MediaKind) ([]domain.EmbeddedSubtitle, error)
	ActiveRequestsForKey(ctx context.Context, key domain.RequestKey) ([]domain.TranslationRequest, error)
}

// SidecarChecker answers whether a translated or source-language sidecar
// file already exists for a media item — the filesystem side of the
// decision tree, outside the store.
type SidecarChecker interface {
	HasSourceSidecar(m domain.Media, language string) bool
	HasTargetSidecar(m domain.Media, language string) bool
}

// Engine computes and persists TranslationState for media items.
type Engine struct {
	store   Store
	sidecar SidecarChecker
}

func New(store Store, sidecar SidecarChecker) *Engine {
	return &Engine{store: store, sidecar: sidecar}
}

// Compute implements spec.md §4.13's decision tree for one media item
// and persists the result along with the settings version it was
// computed under.
func (e *Engine) Compute(ctx context.Context, m domain.Media, cfg LanguageConfig) (domain.TranslationState, error) {
	state, err := e.compute(ctx, m, cfg)
	if err != nil {
		return "", err
	}
	if err := e.store.SetTranslationState(ctx, m.ID, state, cfg.Version); err != nil {
		return "", err
	}
	return state, nil
}

func (e *Engine) compute(ctx context.Context, m domain.Media, cfg LanguageConfig) (domain.TranslationState, error) {
	if m.ExcludeFromTranslation || len(cfg.SourceLanguages) == 0 {
		return domain.StateNotApplicable, nil
	}

	sourceLang, hasSource, err := e.hasUsableSource(ctx, m, cfg)
	if err != nil {
		return "", err
	}
	if !hasSource {
		if e.hasAnyTextBasedEmbedded(ctx, m) {
			return domain.StateAwaitingSource, nil
		}
		return domain.StateNoSuitableSubtitles, nil
	}

	active, err := e.hasActiveRequest(ctx, m, cfg)
	if err != nil {
		return "", err
	}
	if active {
		return domain.StateInProgress, nil
	}

	if e.allTargetsSatisfied(m, sourceLang, cfg) {
		return domain.StateComplete, nil
	}
	return domain.StatePending, nil
}

// hasUsableSource reports whether a sidecar in a configured source
// language exists, or whether C4 can pick a suitable embedded track.
// It returns the language the rest of the computation should treat as
// the resolved source language.
func (e *Engine) hasUsableSource(ctx context.Context, m domain.Media, cfg LanguageConfig) (string, bool, error) {
	for _, lang := range cfg.SourceLanguages {
		if e.sidecar != nil && e.sidecar.HasSourceSidecar(m, lang) {
			return lang, true, nil
		}
	}

	tracks, err := e.store.ListEmbeddedSubtitles(ctx, m.ID, m.Kind)
	if err != nil {
		return "", false, err
	}
	textBased := make([]domain.EmbeddedSubtitle, 0, len(tracks))
	for _, t := range tracks {
		if t.IsTextBased {
			textBased = append(textBased, t)
		}
	}
	lang, track := langscore.Pick(textBased, cfg.SourceLanguages)
	return lang, track != nil, nil
}

func (e *Engine) hasAnyTextBasedEmbedded(ctx context.Context, m domain.Media) bool {
	tracks, err := e.store.ListEmbeddedSubtitles(ctx, m.ID, m.Kind)
	if err != nil {
		return false
	}
	for _, t := range tracks {
		if t.IsTextBased {
			return true
		}
	}
	return false
}

func (e *Engine) hasActiveRequest(ctx context.Context, m domain.Media, cfg LanguageConfig) (bool, error) {
	for _, target := range cfg.TargetLanguages {
		for _, source := range cfg.SourceLanguages {
			key := domain.RequestKey{MediaID: m.ID, MediaKind: m.Kind, SourceLanguage: source, TargetLanguage: target}
			reqs, err := e.store.ActiveRequestsForKey(ctx, key)
			if err != nil {
				return false, err
			}
			if len(reqs) > 0 {
				return true, nil
			}
		}
	}
	return false, nil
}

func (e *Engine) allTargetsSatisfied(m domain.Media, sourceLang string, cfg LanguageConfig) bool {
	if e.sidecar == nil {
		return false
	}
	for _, target := range cfg.TargetLanguages {
		if target == sourceLang {
			continue
		}
		if !e.sidecar.HasTargetSidecar(m, target) {
			return false
		}
	}
	return true
}

// MarkAllStale implements spec.md §4.13's markAllStale: invoked whenever
// sourceLanguages, targetLanguages, or ignoreCaptions change.
func (e *Engine) MarkAllStale(ctx context.Context) error {
	return e.store.MarkAllStale(ctx)
}

// OnRequestCompleted recomputes state after a request reaches a terminal
// status, per spec.md §4.13's "on completion of a request" rule.
func (e *Engine) OnRequestCompleted(ctx context.Context, m domain.Media, cfg LanguageConfig, status domain.RequestStatus) (domain.TranslationState, error) {
	if status == domain.StatusFailed {
		if err := e.store.SetTranslationState(ctx, m.ID, domain.StateFailed, cfg.Version); err != nil {
			return "", err
		}
		return domain.StateFailed, nil
	}
	return e.Compute(ctx, m, cfg)
}

// NeedingTranslation returns media eligible for an automated sweep: rows
// in {Pending, Stale, Unknown} with no active request, subject to the
// per-kind age threshold, priority-first.
func (e *Engine) NeedingTranslation(ctx context.Context, limit int, priorityFirst bool) ([]domain.Media, error) {
	return e.store.MediaNeedingTranslation(ctx, limit, priorityFirst)
}
