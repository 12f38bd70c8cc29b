package usagegate

import (
	"context"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/providers"
)

// GatedProvider wraps a providers.Provider so every TranslateSingle/
// TranslateBatch call is checked against the Gate before it reaches the
// backend, per spec.md §4.6's "before every request, pipeline calls
// ensureRequestAllowed(modelId)", and recorded afterward on success.
type GatedProvider struct {
	providers.Provider
	gate   *Gate
	limits Limits
}

// NewGatedProvider returns p wrapped with the gate check. limits governs
// the daily quota checked against modelID (p.Name()).
func NewGatedProvider(p providers.Provider, gate *Gate, limits Limits) *GatedProvider {
	return &GatedProvider{Provider: p, gate: gate, limits: limits}
}

func (g *GatedProvider) TranslateBatch(ctx context.Context, items []providers.BatchItem, source, target string, preContext, postContext []string) (map[int]string, error) {
	modelID := g.Provider.Name()
	if err := g.gate.EnsureRequestAllowed(ctx, modelID, g.limits); err != nil {
		return nil, err
	}
	result, err := g.Provider.TranslateBatch(ctx, items, source, target, preContext, postContext)
	if err != nil {
		return result, err
	}
	if recErr := g.gate.RecordRequest(ctx, modelID); recErr != nil {
		g.gate.log.Warn().Err(recErr).Str("model", modelID).Msg("failed to record provider usage")
	}
	return result, nil
}

func (g *GatedProvider) TranslateSingle(ctx context.Context, line, source, target string) (string, error) {
	modelID := g.Provider.Name()
	if err := g.gate.EnsureRequestAllowed(ctx, modelID, g.limits); err != nil {
		return "", err
	}
	result, err := g.Provider.TranslateSingle(ctx, line, source, target)
	if err != nil {
		return result, err
	}
	if recErr := g.gate.RecordRequest(ctx, modelID); recErr != nil {
		g.gate.log.Warn().Err(recErr).Str("model", modelID).Msg("failed to record provider usage")
	}
	return result, nil
}
