// Package langscore implements the Language/Track Scorer (C4): given a
// media item's embedded subtitle candidates and the operator's
// priority-ordered list of configured source languages, pick the best
// track. Scoring follows spec.md §4.4's formula exactly; the title
// heuristics reuse the teacher's substring-matching idiom from
// pkg/extract/lang.go's subtypeMatcher.
package langscore

import (
	"strings"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
)

// QualityThreshold is the minimum score a track must reach before the
// priority bonus for its language's rank is added.
const QualityThreshold = 30

// priorityBonusUnit is the "80" in spec.md §4.4's `80 × (N - position)`.
const priorityBonusUnit = 80

// disqualified is returned by score() for a track whose language does not
// match any configured source language; such a track is never picked.
const disqualified = -1 << 30

var fullDialogueHints = []string{"full", "dialogue", "dialog"}
var sparseHints = []string{"signs", "songs", "sign", "song"}

// Score computes spec.md §4.4's score for one candidate track against
// languages, a priority-ordered (best first) list of configured source
// language codes. position is the track's 0-based rank in languages; -1
// means "no match", which the caller reports as disqualified.
func Score(track domain.EmbeddedSubtitle, languages []string) (score int, position int) {
	position = indexOf(languages, track.Language)
	if position < 0 {
		return disqualified, -1
	}

	score = 50
	title := strings.ToLower(track.Title)

	if containsAny(title, fullDialogueHints) {
		score += 25
	}
	if containsAny(title, sparseHints) {
		score -= 40
	}
	if isSDH(title) {
		score -= 10
	}
	if track.IsForced {
		score -= 10
	}
	if track.IsDefault {
		score += 5
	}
	if !track.IsForced {
		score += 5
	}

	if score >= QualityThreshold {
		score += priorityBonusUnit * (len(languages) - position)
	}
	return score, position
}

func isSDH(title string) bool {
	return strings.Contains(title, "sdh") || strings.Contains(title, "hearing impaired") || strings.Contains(title, "cc")
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func indexOf(languages []string, lang string) int {
	if lang == "" {
		return -1
	}
	for i, l := range languages {
		if l == lang {
			return i
		}
	}
	return -1
}

// Pick selects the best track among candidates for the given configured
// source languages, breaking ties by lower StreamIndex. It never returns a
// track whose language fails to match any configured language. The second
// return value is the matched language code; ("", nil) if no candidate
// qualifies.
func Pick(candidates []domain.EmbeddedSubtitle, languages []string) (string, *domain.EmbeddedSubtitle) {
	bestScore := disqualified
	var best *domain.EmbeddedSubtitle
	var bestLang string

	for i := range candidates {
		track := candidates[i]
		score, pos := Score(track, languages)
		if pos < 0 {
			continue
		}
		if best == nil || score > bestScore || (score == bestScore && track.StreamIndex < best.StreamIndex) {
			bestScore = score
			best = &candidates[i]
			bestLang = languages[pos]
		}
	}
	if best == nil {
		return "", nil
	}
	return bestLang, best
}
