// Package mediaprobe implements the Embedded Probe/Extractor (C3): it shells
// out to an external media-analysis subprocess to enumerate subtitle
// streams inside a container file, and to extract one of those streams to a
// sidecar file. The subprocess invocation idiom (argument list, never a
// shell string; os/exec.Command; LookPath guard) follows the teacher's
// pkg/extract/mediainfo.go and pkg/media/ffmpeg.go.
package mediaprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	iso "github.com/barbashov/iso639-3"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
)

// textBasedCodecs is the known set of subtitle codecs that carry plain or
// lightly-styled text (as opposed to image-based codecs like dvd_subtitle
// or hdmv_pgs_subtitle, which this system never OCRs per spec.md §1).
var textBasedCodecs = map[string]bool{
	"subrip":     true,
	"srt":        true,
	"ass":        true,
	"ssa":        true,
	"webvtt":     true,
	"mov_text":   true,
	"text":       true,
	"ttml":       true,
}

// IsTextBased reports whether a codec name (as reported by the probe
// subprocess) is one this system can parse and translate.
func IsTextBased(codecName string) bool {
	return textBasedCodecs[codecName]
}

// probeStream is the subset of an ffprobe-style stream JSON object C3 cares
// about.
type probeStream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Tags      struct {
		Language string `json:"language"`
		Title    string `json:"title"`
	} `json:"tags"`
	Disposition struct {
		Default int `json:"default"`
		Forced  int `json:"forced"`
	} `json:"disposition"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
}

// Prober invokes the external media-analysis subprocess. Binary defaults to
// "ffprobe" when empty; tests substitute a fake runner instead of relying on
// a real binary being on PATH.
type Prober struct {
	Binary string
	run    func(ctx context.Context, args []string) ([]byte, error)
}

// NewProber builds a Prober that shells out to the real ffprobe-style
// binary on PATH.
func NewProber(binary string) *Prober {
	if binary == "" {
		binary = "ffprobe"
	}
	return &Prober{Binary: binary, run: runSubprocess}
}

func runSubprocess(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", args[0], err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// Probe enumerates the subtitle streams of containerPath and returns one
// EmbeddedSubtitle per stream, with MediaID/MediaKind left zero for the
// caller to fill in. Fails with ErrProbeFailed if the binary can't be found
// or run, or its output can't be parsed.
func (p *Prober) Probe(ctx context.Context, containerPath string) ([]domain.EmbeddedSubtitle, error) {
	if _, err := exec.LookPath(p.Binary); err != nil {
		return nil, domain.NewError(domain.ErrProbeFailed, err, "probe binary not found on PATH")
	}

	args := []string{
		p.Binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "s",
		containerPath,
	}
	out, err := p.run(ctx, args)
	if err != nil {
		return nil, domain.NewError(domain.ErrProbeFailed, err, "probe subprocess failed")
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, domain.NewError(domain.ErrProbeFailed, err, "failed to parse probe output")
	}

	subs := make([]domain.EmbeddedSubtitle, 0, len(parsed.Streams))
	for _, s := range parsed.Streams {
		if s.CodecType != "subtitle" {
			continue
		}
		subs = append(subs, domain.EmbeddedSubtitle{
			StreamIndex: s.Index,
			Language:    mapLanguage(s.Tags.Language),
			Title:       s.Tags.Title,
			CodecName:   s.CodecName,
			IsTextBased: IsTextBased(s.CodecName),
			IsDefault:   s.Disposition.Default == 1,
			IsForced:    s.Disposition.Forced == 1,
		})
	}
	return subs, nil
}

// mapLanguage normalizes whatever language tag the container carries (often
// already a 3-letter code, sometimes 2-letter, sometimes a BCP-47 tag with a
// region subtag) down to the 3-letter ISO 639-3 form the rest of the system
// keys on. Unrecognized or absent tags return "".
func mapLanguage(tag string) string {
	if tag == "" {
		return ""
	}
	lang := iso.FromAnyCode(tag)
	if lang == nil {
		return ""
	}
	return lang.Part3
}

// Extractor runs the subprocess once per requested stream to write a
// sidecar subtitle file. Binary defaults to "ffmpeg".
type Extractor struct {
	Binary string
	run    func(ctx context.Context, args []string) ([]byte, error)
}

func NewExtractor(binary string) *Extractor {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Extractor{Binary: binary, run: runSubprocess}
}

// Extract pulls streamIndex out of containerPath into destPath (a sidecar
// file whose extension must already match a format appropriate to the
// stream's codec; the caller, C12/C13, is responsible for picking that
// extension from codecName). On success it returns the row with
// IsExtracted=true and ExtractedPath set; on failure it returns the
// original row unmodified alongside the error, so the caller never
// persists a partially-updated row.
func (e *Extractor) Extract(ctx context.Context, containerPath string, sub domain.EmbeddedSubtitle, destPath string) (domain.EmbeddedSubtitle, error) {
	if _, err := exec.LookPath(e.Binary); err != nil {
		return sub, domain.NewError(domain.ErrExtractionFailed, err, "extraction binary not found on PATH")
	}

	args := []string{
		e.Binary,
		"-loglevel", "error",
		"-y",
		"-i", containerPath,
		"-map", "0:" + strconv.Itoa(sub.StreamIndex),
		destPath,
	}
	if _, err := e.run(ctx, args); err != nil {
		return sub, domain.NewError(domain.ErrExtractionFailed, err, "extraction subprocess failed")
	}

	updated := sub
	updated.IsExtracted = true
	updated.ExtractedPath = destPath
	return updated, nil
}
