package subtitle

import (
	"testing"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
)

const sampleSRT = "1\n00:00:01,000 --> 00:00:02,000\nHello there\n\n" +
	"2\n00:00:03,000 --> 00:00:04,000\nGeneral Kenobi\n\n"

func TestParseSRT(t *testing.T) {
	f, err := Parse([]byte(sampleSRT), FormatSRT)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(f.Cues) != 2 {
		t.Fatalf("expected 2 cues, got %d", len(f.Cues))
	}
	if f.Cues[0].Text() != "Hello there" {
		t.Errorf("unexpected first cue text: %q", f.Cues[0].Text())
	}
	if f.Cues[1].Position != 1 {
		t.Errorf("expected second cue position 1, got %d", f.Cues[1].Position)
	}
}

func TestParseSRTRoundTrip(t *testing.T) {
	f, err := Parse([]byte(sampleSRT), FormatSRT)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, err := Emit(f)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	again, err := Parse(out, FormatSRT)
	if err != nil {
		t.Fatalf("re-parse of emitted output failed: %v", err)
	}
	if len(again.Cues) != len(f.Cues) {
		t.Fatalf("round trip changed cue count: %d vs %d", len(again.Cues), len(f.Cues))
	}
	for i := range f.Cues {
		if again.Cues[i].Text() != f.Cues[i].Text() {
			t.Errorf("cue %d text changed across round trip: %q vs %q", i, again.Cues[i].Text(), f.Cues[i].Text())
		}
	}
}

func TestParseUnknownFormat(t *testing.T) {
	_, err := Parse([]byte("anything"), FormatUnknown)
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
	kind, ok := domain.KindOf(err)
	if !ok || kind != domain.ErrMalformedSubtitle {
		t.Errorf("expected ErrMalformedSubtitle, got %v (ok=%v)", kind, ok)
	}
}

func TestDetectFormat(t *testing.T) {
	cases := map[string]Format{
		"srt":   FormatSRT,
		".srt":  FormatSRT,
		"ass":   FormatASS,
		"ssa":   FormatASS,
		"txt":   FormatUnknown,
		"":      FormatUnknown,
	}
	for ext, want := range cases {
		if got := DetectFormat(ext); got != want {
			t.Errorf("DetectFormat(%q) = %v, want %v", ext, got, want)
		}
	}
}

func TestWithTranslatedLinesPreservesUntouchedCues(t *testing.T) {
	f, err := Parse([]byte(sampleSRT), FormatSRT)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	translated := f.WithTranslatedLines(map[int]string{0: "Bonjour"})

	if translated.Cues[0].Text() != "Bonjour" {
		t.Errorf("expected translated cue 0, got %q", translated.Cues[0].Text())
	}
	if translated.Cues[1].Text() != "General Kenobi" {
		t.Errorf("expected untouched cue 1, got %q", translated.Cues[1].Text())
	}
	if translated.Cues[1].Start != f.Cues[1].Start || translated.Cues[1].End != f.Cues[1].End {
		t.Errorf("untouched cue timestamps changed")
	}
	if f.Cues[0].Text() != "Hello there" {
		t.Errorf("WithTranslatedLines mutated the original file")
	}
}
