// Package fallback implements the Batch Fallback Engine (C7): graduated
// chunk splitting when a batch call returns fewer positions than it was
// asked to translate.
package fallback

import (
	"context"
	"fmt"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/providers"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/subtitle"
)

// DefaultMaxSplitAttempts is spec.md §4.7's default.
const DefaultMaxSplitAttempts = 3

// Caller is the narrow slice of providers.Provider the engine needs; kept
// as its own interface so callers can supply a retry-wrapped provider, a
// plain one, or a test fake without this package importing more than it
// uses.
type Caller interface {
	TranslateBatch(ctx context.Context, items []providers.BatchItem, source, target string, preContext, postContext []string) (map[int]string, error)
}

// Run drives spec.md §4.7's algorithm: call the full batch, then retry
// whatever is missing in progressively smaller, progressively more
// numerous chunks, up to maxSplitAttempts splits. It returns a mapping
// that covers exactly the input positions, or an error if some remain
// missing after the last attempt.
func Run(ctx context.Context, caller Caller, items []providers.BatchItem, source, target string, preContext, postContext []string, maxSplitAttempts int) (map[int]string, error) {
	if maxSplitAttempts <= 0 {
		maxSplitAttempts = DefaultMaxSplitAttempts
	}

	byPosition := make(map[int]providers.BatchItem, len(items))
	for _, it := range items {
		byPosition[it.Position] = it
	}

	result := make(map[int]string, len(items))
	missing := items

	full, err := caller.TranslateBatch(ctx, items, source, target, preContext, postContext)
	if err == nil {
		missing = mergeAndFindMissing(result, full, items)
	}

	for attempt := 1; attempt <= maxSplitAttempts && len(missing) > 0; attempt++ {
		chunks := splitInto(missing, attempt)
		var stillMissing []providers.BatchItem
		for _, chunk := range chunks {
			if len(chunk) == 0 {
				continue
			}
			out, err := caller.TranslateBatch(ctx, chunk, source, target, preContext, postContext)
			if err != nil {
				stillMissing = append(stillMissing, chunk...)
				continue
			}
			stillMissing = append(stillMissing, mergeAndFindMissing(result, out, chunk)...)
		}
		missing = stillMissing
	}

	if len(missing) > 0 {
		positions := make([]int, 0, len(missing))
		for _, m := range missing {
			positions = append(positions, m.Position)
		}
		return result, domain.NewError(domain.ErrInvalidResponse, nil,
			fmt.Sprintf("batch fallback exhausted after %d split attempts, %d positions still missing: %v", maxSplitAttempts, len(missing), positions))
	}
	return result, nil
}

// mergeAndFindMissing copies every non-missing translation from out into
// result (first success wins: a position already present in result is
// never overwritten) and returns the subset of attempted whose position is
// absent from out or whose text is empty once markup is stripped.
func mergeAndFindMissing(result map[int]string, out map[int]string, attempted []providers.BatchItem) []providers.BatchItem {
	var missing []providers.BatchItem
	for _, it := range attempted {
		text, ok := out[it.Position]
		if !ok || subtitle.RemoveMarkup(text) == "" {
			missing = append(missing, it)
			continue
		}
		if _, already := result[it.Position]; !already {
			result[it.Position] = text
		}
	}
	return missing
}

// splitInto divides items into n roughly-equal, order-preserving chunks.
func splitInto(items []providers.BatchItem, n int) [][]providers.BatchItem {
	if n <= 1 || len(items) <= 1 {
		return [][]providers.BatchItem{items}
	}
	chunks := make([][]providers.BatchItem, 0, n)
	size := len(items) / n
	rem := len(items) % n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rem {
			end++
		}
		if start >= len(items) {
			break
		}
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
		start = end
	}
	return chunks
}
