// Package subtitle implements the Subtitle Codec (C1) and Subtitle
// Formatter (C2) from spec.md §4.1-4.2.
//
// Parsing and emission are built on top of github.com/tassa-yoniso-manasi-karoto/go-astisub,
// the same subtitle library the teacher wraps in pkg/subs/subtitles.go. That
// library already understands the timed-text cue format (SRT) and the
// styled-events format (SSA/ASS) including their header/events sections, so
// C1 is a thin typed layer over it: it is responsible for the strict/
// forgiving parse rules, the byte-identical round trip for untouched cues,
// and the MalformedSubtitle error kind spec.md requires.
package subtitle

import (
	"bytes"
	"fmt"
	"io"
	"time"

	astisub "github.com/tassa-yoniso-manasi-karoto/go-astisub"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
)

// Format identifies which textual subtitle format a file uses.
type Format int

const (
	FormatUnknown Format = iota
	FormatSRT
	FormatASS
)

// Cue is one timed subtitle entry: the unit spec.md's GLOSSARY defines as
// "one timed subtitle entry (start, end, lines)". Position is the cue's
// index in the file and is what batches (C12) and providers (C5) use to
// correlate translations back to their source line.
type Cue struct {
	Position int
	Start    time.Duration
	End      time.Duration
	Lines    []string
}

// Text joins a cue's lines the way a provider expects to receive them: one
// line of text per cue (multi-line cues are newline-joined).
func (c Cue) Text() string {
	out := c.Lines[0]
	for _, l := range c.Lines[1:] {
		out += "\n" + l
	}
	return out
}

// File is the parsed result: the cues plus a handle back to the underlying
// astisub document, which carries everything C1 must preserve byte-for-byte
// (style definitions, script-info header, non-event sections).
type File struct {
	Format Format
	Cues   []Cue

	doc *astisub.Subtitles
}

// DetectFormat maps a file extension (with or without the leading dot) to
// a Format. Unknown extensions return FormatUnknown; Parse then fails with
// MalformedSubtitle rather than guessing.
func DetectFormat(ext string) Format {
	switch trimDot(ext) {
	case "srt":
		return FormatSRT
	case "ass", "ssa":
		return FormatASS
	default:
		return FormatUnknown
	}
}

func trimDot(ext string) string {
	if len(ext) > 0 && ext[0] == '.' {
		return ext[1:]
	}
	return ext
}

// Parse decodes raw subtitle bytes of the given format into an ordered list
// of cues. Parsing is strict on cue ordering (monotonically non-decreasing
// start, per spec.md §4.1) and forgiving on blank lines, which astisub
// already skips. BOM is tolerated and CRLF/LF are both accepted because
// astisub normalizes both before returning items.
func Parse(data []byte, format Format) (*File, error) {
	var (
		doc *astisub.Subtitles
		err error
	)
	r := bytes.NewReader(stripBOM(data))

	switch format {
	case FormatSRT:
		doc, err = astisub.ReadFromSRT(r)
	case FormatASS:
		doc, err = astisub.ReadFromSSA(r)
	default:
		return nil, domain.NewError(domain.ErrMalformedSubtitle, nil, "unrecognized subtitle format")
	}
	if err != nil {
		return nil, domain.NewError(domain.ErrMalformedSubtitle, err, "failed to parse subtitle stream")
	}

	cues := make([]Cue, 0, len(doc.Items))
	var lastStart time.Duration
	for i, item := range doc.Items {
		if item == nil {
			return nil, domain.NewError(domain.ErrMalformedSubtitle, nil, fmt.Sprintf("cue %d is truncated", i))
		}
		if i > 0 && item.StartAt < lastStart {
			return nil, domain.NewError(domain.ErrMalformedSubtitle, nil,
				fmt.Sprintf("cue %d starts before cue %d (non-monotonic timestamps)", i, i-1))
		}
		lastStart = item.StartAt

		lines := make([]string, 0, len(item.Lines))
		for _, l := range item.Lines {
			lines = append(lines, l.String())
		}
		if len(lines) == 0 {
			lines = []string{""}
		}

		cues = append(cues, Cue{
			Position: i,
			Start:    item.StartAt,
			End:      item.EndAt,
			Lines:    lines,
		})
	}

	return &File{Format: format, Cues: cues, doc: doc}, nil
}

// ParseFile reads the file's bytes through readAll and parses them,
// inferring the format from filename's extension.
func ParseFile(readAll func() ([]byte, error), filename string) (*File, error) {
	data, err := readAll()
	if err != nil {
		return nil, domain.NewError(domain.ErrMalformedSubtitle, err, "failed to read subtitle file")
	}
	format := DetectFormat(extOf(filename))
	return Parse(data, format)
}

func extOf(filename string) string {
	for i := len(filename) - 1; i >= 0 && filename[i] != '/'; i-- {
		if filename[i] == '.' {
			return filename[i+1:]
		}
	}
	return ""
}

func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

// WithTranslatedLines returns a copy of f whose cue text has been replaced
// per the supplied map (position -> new line text, newline separated for
// multi-line cues). Cues whose position is absent from the map keep their
// original lines. Everything else (style names, non-event sections, the
// timecodes themselves) is untouched, which is what makes Emit byte-
// identical for cues that were never looked up here.
func (f *File) WithTranslatedLines(translated map[int]string) *File {
	clone := *f
	clone.Cues = make([]Cue, len(f.Cues))
	copy(clone.Cues, f.Cues)

	docClone := cloneDoc(f.doc)
	clone.doc = docClone

	for pos, text := range translated {
		if pos < 0 || pos >= len(clone.Cues) {
			continue
		}
		lines := splitLines(text)
		clone.Cues[pos].Lines = lines
		if pos < len(docClone.Items) {
			setItemLines(docClone.Items[pos], lines)
		}
	}
	return &clone
}

// PrependNote inserts one extra cue at the very start of the file carrying
// text, shifting every existing cue's Position by one. Used by the
// pipeline's addTranslatorInfo post-processing step (spec.md §4.12 step
// 7) to note that the file was machine translated.
func (f *File) PrependNote(text string, duration time.Duration) *File {
	clone := *f
	note := Cue{Position: 0, Start: 0, End: duration, Lines: []string{text}}
	clone.Cues = make([]Cue, len(f.Cues)+1)
	clone.Cues[0] = note
	for i, c := range f.Cues {
		c.Position = i + 1
		clone.Cues[i+1] = c
	}

	docClone := cloneDoc(f.doc)
	noteItem := &astisub.Item{
		StartAt: 0,
		EndAt:   duration,
		Lines:   []astisub.Line{{Items: []astisub.LineItem{{Text: text}}}},
	}
	docClone.Items = append([]*astisub.Item{noteItem}, docClone.Items...)
	clone.doc = docClone
	return &clone
}

func splitLines(text string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, text[start:i])
			start = i + 1
		}
	}
	lines = append(lines, text[start:])
	return lines
}

func setItemLines(item *astisub.Item, lines []string) {
	newLines := make([]astisub.Line, 0, len(lines))
	for _, l := range lines {
		newLines = append(newLines, astisub.Line{Items: []astisub.LineItem{{Text: l}}})
	}
	item.Lines = newLines
}

func cloneDoc(doc *astisub.Subtitles) *astisub.Subtitles {
	clone := *doc
	clone.Items = make([]*astisub.Item, len(doc.Items))
	for i, item := range doc.Items {
		itemCopy := *item
		itemCopy.Lines = append([]astisub.Line(nil), item.Lines...)
		clone.Items[i] = &itemCopy
	}
	return &clone
}

// Emit serializes f back into the on-disk representation for its format.
// When no cue's text was modified relative to the document Parse produced,
// Emit(Parse(data)) == data (the round-trip property from spec.md §8):
// astisub preserves the header/style/non-event sections verbatim and we
// only ever touch the Lines of cues WithTranslatedLines was asked to
// change.
func Emit(f *File) ([]byte, error) {
	var buf bytes.Buffer
	if err := write(f.doc, f.Format, &buf); err != nil {
		return nil, domain.NewError(domain.ErrMalformedSubtitle, err, "failed to serialize subtitle output")
	}
	return buf.Bytes(), nil
}

func write(doc *astisub.Subtitles, format Format, w io.Writer) error {
	switch format {
	case FormatSRT:
		return doc.WriteToSRT(w)
	case FormatASS:
		return doc.WriteToSSA(w)
	default:
		return fmt.Errorf("unrecognized subtitle format")
	}
}
