package langscore

import "testing"

import "github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"

func TestScoreDisqualifiesUnmatchedLanguage(t *testing.T) {
	track := domain.EmbeddedSubtitle{Language: "jpn"}
	score, pos := Score(track, []string{"eng", "fre"})
	if pos != -1 {
		t.Errorf("expected position -1 for unmatched language, got %d", pos)
	}
	if score != disqualified {
		t.Errorf("expected disqualified score, got %d", score)
	}
}

func TestScoreBaseAndModifiers(t *testing.T) {
	languages := []string{"eng"}

	base := domain.EmbeddedSubtitle{Language: "eng"}
	score, pos := Score(base, languages)
	if pos != 0 {
		t.Fatalf("expected position 0, got %d", pos)
	}
	// base 50 + not-forced 5 = 55, over threshold, priority bonus 80*(1-0)=80 -> 135
	if score != 135 {
		t.Errorf("expected 135, got %d", score)
	}

	fullDialogue := domain.EmbeddedSubtitle{Language: "eng", Title: "Full Dialogue"}
	score, _ = Score(fullDialogue, languages)
	// 50 + 25 + 5(not forced) = 80 -> +80 bonus = 160
	if score != 160 {
		t.Errorf("expected 160 for full-dialogue title, got %d", score)
	}

	signsAndSongs := domain.EmbeddedSubtitle{Language: "eng", Title: "Signs & Songs"}
	score, _ = Score(signsAndSongs, languages)
	// 50 - 40 + 5(not forced) = 15, below threshold, no bonus
	if score != 15 {
		t.Errorf("expected 15 for signs&songs title, got %d", score)
	}

	sdhForced := domain.EmbeddedSubtitle{Language: "eng", Title: "SDH", IsForced: true}
	score, _ = Score(sdhForced, languages)
	// 50 - 10(sdh) - 10(forced) = 30, meets threshold exactly -> +80 = 110
	if score != 110 {
		t.Errorf("expected 110, got %d", score)
	}
}

func TestPickBreaksTiesByLowerStreamIndex(t *testing.T) {
	candidates := []domain.EmbeddedSubtitle{
		{StreamIndex: 5, Language: "eng"},
		{StreamIndex: 2, Language: "eng"},
	}
	lang, picked := Pick(candidates, []string{"eng"})
	if lang != "eng" {
		t.Errorf("expected matched language eng, got %q", lang)
	}
	if picked == nil || picked.StreamIndex != 2 {
		t.Errorf("expected tie broken toward lower stream index, got %+v", picked)
	}
}

func TestPickReturnsNilWhenNoneMatch(t *testing.T) {
	candidates := []domain.EmbeddedSubtitle{{StreamIndex: 1, Language: "jpn"}}
	lang, picked := Pick(candidates, []string{"eng"})
	if picked != nil || lang != "" {
		t.Errorf("expected no pick, got %q, %+v", lang, picked)
	}
}

func TestPickPrefersHigherPriorityLanguage(t *testing.T) {
	candidates := []domain.EmbeddedSubtitle{
		{StreamIndex: 1, Language: "fre"},
		{StreamIndex: 2, Language: "eng"},
	}
	lang, picked := Pick(candidates, []string{"eng", "fre"})
	if lang != "eng" || picked.StreamIndex != 2 {
		t.Errorf("expected eng (higher priority) to win, got %q, %+v", lang, picked)
	}
}
