// Package integrity implements the Integrity Validator (C9): structural
// checks on translated output before it replaces anything on disk.
package integrity

import (
	"fmt"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/subtitle"
)

// DefaultMinRatio is spec.md §4.9's default floor on target/source cue
// count.
const DefaultMinRatio = 0.5

// Result is the validator's verdict: Valid plus, on failure, a Reason
// suitable for a TranslationRequestLog entry and for the
// "IntegrityFailed:<reason>" error detail the pipeline raises.
type Result struct {
	Valid  bool
	Reason string
}

// Validate checks sourceCues against targetCues per spec.md §4.9:
//   - target cue count ≥ minRatio × source cue count
//   - no target cue's text is itself an ASS drawing command (hallucination guard)
//   - every target cue has start ≤ end, and cues are ordered
func Validate(sourceCues, targetCues []subtitle.Cue, minRatio float64) Result {
	if minRatio <= 0 {
		minRatio = DefaultMinRatio
	}

	if len(sourceCues) > 0 {
		ratio := float64(len(targetCues)) / float64(len(sourceCues))
		if ratio < minRatio {
			return Result{Reason: fmt.Sprintf("cue_count_ratio:%.2f", ratio)}
		}
	}

	var lastStart int64 = -1
	for i, cue := range targetCues {
		if subtitle.IsAssDrawingCommand(cue.Text()) {
			return Result{Reason: fmt.Sprintf("drawings:position=%d", i)}
		}
		if cue.Start > cue.End {
			return Result{Reason: fmt.Sprintf("start_after_end:position=%d", i)}
		}
		if int64(cue.Start) < lastStart {
			return Result{Reason: fmt.Sprintf("out_of_order:position=%d", i)}
		}
		lastStart = int64(cue.Start)
	}

	return Result{Valid: true}
}
