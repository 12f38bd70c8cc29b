// Package repair implements the Deferred Repair Engine (C8): after a main
// translation pass, it collects every failed position across all of a
// file's batches and repairs them in one contextualized pass per spec.md
// §4.8.
package repair

import (
	"context"
	"sort"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/providers"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/subtitle"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/translate/fallback"
)

// Failed records one position that a main-pass batch could not translate.
type Failed struct {
	Position int
	Line     string
}

// Range is an inclusive [Start, End] position range.
type Range struct {
	Start, End int
}

func (r Range) overlapsOrAdjacent(o Range) bool {
	return r.Start <= o.End+1 && o.Start <= r.End+1
}

func (r Range) merge(o Range) Range {
	return Range{Start: min(r.Start, o.Start), End: max(r.End, o.End)}
}

// RepairBatch is one contextualized batch built around a cluster of failed
// positions: some cues are there to be translated (FailedPositions), the
// rest are context-only and their translations, if returned, are discarded.
type RepairBatch struct {
	Items           []providers.BatchItem
	FailedPositions map[int]bool
}

// BuildContextualRepairBatch builds ranges [pos-radius, pos+radius] around
// each failed position, merges overlapping/adjacent ranges, and returns one
// batch per merged range containing every cue in that range.
func BuildContextualRepairBatch(failed []Failed, allCues []subtitle.Cue, radius int) []RepairBatch {
	if len(failed) == 0 {
		return nil
	}

	ranges := make([]Range, 0, len(failed))
	for _, f := range failed {
		start := f.Position - radius
		if start < 0 {
			start = 0
		}
		end := f.Position + radius
		if end > len(allCues)-1 {
			end = len(allCues) - 1
		}
		ranges = append(ranges, Range{Start: start, End: end})
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })

	merged := []Range{ranges[0]}
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if last.overlapsOrAdjacent(r) {
			*last = last.merge(r)
		} else {
			merged = append(merged, r)
		}
	}

	failedSet := make(map[int]bool, len(failed))
	for _, f := range failed {
		failedSet[f.Position] = true
	}

	batches := make([]RepairBatch, 0, len(merged))
	for _, r := range merged {
		batch := RepairBatch{FailedPositions: make(map[int]bool)}
		for pos := r.Start; pos <= r.End; pos++ {
			if pos < 0 || pos >= len(allCues) {
				continue
			}
			batch.Items = append(batch.Items, providers.BatchItem{Position: pos, Line: allCues[pos].Text()})
			if failedSet[pos] {
				batch.FailedPositions[pos] = true
			}
		}
		batches = append(batches, batch)
	}
	return batches
}

// ExecuteRepair translates batch in chunks of at most chunkSize using the
// Batch Fallback Engine (C7), retrying a chunk up to maxRetries full
// re-attempts if it still has missing failed positions afterward. It
// returns a mapping that covers only the positions batch.FailedPositions
// names — context-only translations are discarded even if the provider
// happened to return them.
func ExecuteRepair(ctx context.Context, caller fallback.Caller, batch RepairBatch, source, target string, chunkSize, maxRetries, maxSplitAttempts int) map[int]string {
	result := make(map[int]string, len(batch.FailedPositions))
	if chunkSize <= 0 {
		chunkSize = len(batch.Items)
	}

	for start := 0; start < len(batch.Items); start += chunkSize {
		end := start + chunkSize
		if end > len(batch.Items) {
			end = len(batch.Items)
		}
		chunk := batch.Items[start:end]

		for attempt := 0; attempt <= maxRetries; attempt++ {
			out, err := fallback.Run(ctx, caller, chunk, source, target, nil, nil, maxSplitAttempts)
			for pos, text := range out {
				if batch.FailedPositions[pos] {
					result[pos] = text
				}
			}
			if err == nil || chunkFullyCovered(chunk, batch.FailedPositions, result) {
				break
			}
		}
	}
	return result
}

func chunkFullyCovered(chunk []providers.BatchItem, failedPositions map[int]bool, result map[int]string) bool {
	for _, it := range chunk {
		if failedPositions[it.Position] {
			if _, ok := result[it.Position]; !ok {
				return false
			}
		}
	}
	return true
}
