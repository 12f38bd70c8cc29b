// Package pipeline implements the Subtitle Pipeline (C12): the end-to-end
// per-request flow from spec.md §4.12 — resolve a source, parse, filter,
// batch with wrapper context, translate with fallback, optionally repair,
// post-process, validate integrity, and write the result. It is the one
// package that wires C1/C2/C3/C4/C5/C7/C8/C9 together; everything it needs
// from each of those is narrowed to a small interface so the pipeline can
// be driven by fakes in tests, per spec.md §9's seam guidance.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/langscore"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/providers"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/subtitle"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/translate/fallback"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/translate/integrity"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/translate/repair"
)

// Settings captures every settings key from spec.md §6 that the pipeline
// itself consults. Everything else (automation schedule, provider
// selection, usage limits) is read by the caller before building a Job.
type Settings struct {
	MaxBatchSize            int
	BatchContextEnabled     bool
	BatchContextBefore      int
	BatchContextAfter       int
	StripSubtitleFormatting bool
	FixOverlappingSubtitles bool
	AddTranslatorInfo       bool
	UseSubtitleTagging      bool
	SubtitleTag             string
	BatchRetryMode          string // "deferred" or "immediate"
	RepairContextRadius     int
	RepairMaxRetries        int
	MaxBatchSplitAttempts   int
	CleanSourceAssDrawings  bool
	IntegrityValidationEnabled bool
	IntegrityMinRatio       float64
}

const (
	BatchRetryDeferred  = "deferred"
	BatchRetryImmediate = "immediate"
)

// Prober narrows mediaprobe.Prober to what this package calls.
type Prober interface {
	Probe(ctx context.Context, containerPath string) ([]domain.EmbeddedSubtitle, error)
}

// Extractor narrows mediaprobe.Extractor.
type Extractor interface {
	Extract(ctx context.Context, containerPath string, sub domain.EmbeddedSubtitle, destPath string) (domain.EmbeddedSubtitle, error)
}

// FileIO abstracts subtitle file reads/writes so tests never touch disk.
// Write must be atomic per spec.md §5: a sibling temporary name, renamed
// into place on success, removed on failure — grounded on the teacher's
// pkg/media/metadata.go tempFile-then-os.Rename idiom.
type FileIO interface {
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
}

// Job is everything the pipeline needs to process one request.
type Job struct {
	Request            domain.TranslationRequest
	MediaContainerPath string // empty if the request already has a sidecar
	Settings           Settings
}

// ProgressFunc receives the pipeline's floor(100*batchesDone/batchCount)
// updates; the caller (the worker driving this request) is responsible
// for persisting them and honoring monotonicity.
type ProgressFunc func(percent int)

// LogFunc receives one audit line as the pipeline works, mirroring
// spec.md §7's "append to TranslationRequestLog before changing status".
type LogFunc func(level domain.LogLevel, message string)

// Pipeline holds the collaborators the nine-step flow wires together.
type Pipeline struct {
	prober    Prober
	extractor Extractor
	fileio    FileIO
	log       zerolog.Logger
}

func New(prober Prober, extractor Extractor, fileio FileIO, log zerolog.Logger) *Pipeline {
	return &Pipeline{prober: prober, extractor: extractor, fileio: fileio, log: log.With().Str("component", "pipeline").Logger()}
}

// Run executes the full C12 flow and returns the path the translated
// sidecar was written to. Any step failure is returned as a
// *domain.TranslationError whose Kind names the status the caller should
// transition the request to, per spec.md §7's propagation table.
func (p *Pipeline) Run(ctx context.Context, job Job, caller fallback.Caller, onProgress ProgressFunc, onLog LogFunc) (outputPath string, err error) {
	sourcePath, sourceFmt, err := p.resolveSource(ctx, &job, onLog)
	if err != nil {
		return "", err
	}

	data, err := p.fileio.Read(sourcePath)
	if err != nil {
		return "", domain.NewError(domain.ErrMalformedSubtitle, err, "failed to read source subtitle")
	}
	parsed, err := subtitle.Parse(data, sourceFmt)
	if err != nil {
		return "", err
	}

	if job.Settings.CleanSourceAssDrawings {
		parsed = cleanDrawings(parsed)
	}

	translatable := filterTranslatable(parsed.Cues)
	batches := buildBatches(translatable, job.Settings.MaxBatchSize)

	translated := make(map[int]string, len(translatable))
	var failedAcrossFile []repair.Failed

	maxSplit := job.Settings.MaxBatchSplitAttempts
	if maxSplit <= 0 {
		maxSplit = fallback.DefaultMaxSplitAttempts
	}

	for i, batch := range batches {
		select {
		case <-ctx.Done():
			return "", domain.NewError(domain.ErrCancelled, ctx.Err(), "cancelled between batches")
		default:
		}

		pre, post := wrapperContext(parsed.Cues, batch, job.Settings)
		out, batchErr := fallback.Run(ctx, caller, toBatchItems(batch), job.Request.SourceLanguage, job.Request.TargetLanguage, pre, post, maxSplit)
		for pos, text := range out {
			translated[pos] = text
		}

		if batchErr != nil {
			if job.Settings.BatchRetryMode == BatchRetryImmediate {
				return "", batchErr
			}
			for _, item := range batch {
				if _, ok := translated[item.Position]; !ok {
					failedAcrossFile = append(failedAcrossFile, repair.Failed{Position: item.Position, Line: item.Text()})
				}
			}
		}

		if onProgress != nil {
			onProgress(progressPercent(i+1, len(batches)))
		}
	}

	if len(failedAcrossFile) > 0 && job.Settings.BatchRetryMode == BatchRetryDeferred {
		if onLog != nil {
			onLog(domain.LogWarn, fmt.Sprintf("deferred repair starting for %d positions", len(failedAcrossFile)))
		}
		radius := job.Settings.RepairContextRadius
		if radius <= 0 {
			radius = 2
		}
		repairBatches := repair.BuildContextualRepairBatch(failedAcrossFile, parsed.Cues, radius)
		for _, rb := range repairBatches {
			repaired := repair.ExecuteRepair(ctx, caller, rb, job.Request.SourceLanguage, job.Request.TargetLanguage,
				job.Settings.MaxBatchSize, job.Settings.RepairMaxRetries, maxSplit)
			for pos, text := range repaired {
				translated[pos] = text
			}
		}
	}

	var stillMissing []int
	for _, item := range translatable {
		if _, ok := translated[item.Position]; !ok {
			stillMissing = append(stillMissing, item.Position)
		}
	}
	if len(stillMissing) > 0 {
		return "", domain.NewError(domain.ErrInvalidResponse, nil, fmt.Sprintf("missing positions after repair: %v", stillMissing))
	}

	result := parsed.WithTranslatedLines(translated)
	result = postProcess(result, job.Settings)

	if job.Settings.IntegrityValidationEnabled {
		minRatio := job.Settings.IntegrityMinRatio
		if minRatio <= 0 {
			minRatio = integrity.DefaultMinRatio
		}
		verdict := integrity.Validate(parsed.Cues, result.Cues, minRatio)
		if !verdict.Valid {
			return "", domain.NewError(domain.ErrIntegrityFailed, nil, verdict.Reason)
		}
	}

	emitted, err := subtitle.Emit(result)
	if err != nil {
		return "", err
	}

	outputPath = buildOutputPath(sourcePath, job.Request.TargetLanguage, job.Settings)
	if err := p.fileio.Write(outputPath, emitted); err != nil {
		return "", domain.NewError(domain.ErrIntegrityFailed, err, "failed to write translated output")
	}
	return outputPath, nil
}

// resolveSource implements step 1: use the sidecar the request already
// names, or probe the container, score candidates with C4, and extract the
// chosen track.
func (p *Pipeline) resolveSource(ctx context.Context, job *Job, onLog LogFunc) (path string, format subtitle.Format, err error) {
	if job.Request.SubtitleToTranslate != nil && *job.Request.SubtitleToTranslate != "" {
		path = *job.Request.SubtitleToTranslate
		return path, subtitle.DetectFormat(filepath.Ext(path)), nil
	}

	if job.MediaContainerPath == "" {
		return "", 0, domain.NewError(domain.ErrProbeFailed, nil, "no sidecar and no container path to probe")
	}

	candidates, err := p.prober.Probe(ctx, job.MediaContainerPath)
	if err != nil {
		return "", 0, err
	}
	_, track := langscore.Pick(candidates, []string{job.Request.SourceLanguage})
	if track == nil {
		return "", 0, domain.NewError(domain.ErrProbeFailed, nil, "no embedded track matches source language")
	}

	destPath := extractedSidecarPath(job.MediaContainerPath, job.Request.SourceLanguage)
	extracted, err := p.extractor.Extract(ctx, job.MediaContainerPath, *track, destPath)
	if err != nil {
		return "", 0, err
	}
	if onLog != nil {
		onLog(domain.LogInfo, fmt.Sprintf("extracted embedded track %d to %s", extracted.StreamIndex, extracted.ExtractedPath))
	}
	job.Request.SubtitleToTranslate = &extracted.ExtractedPath
	return extracted.ExtractedPath, subtitle.DetectFormat(filepath.Ext(extracted.ExtractedPath)), nil
}

func extractedSidecarPath(containerPath, sourceLanguage string) string {
	ext := filepath.Ext(containerPath)
	base := strings.TrimSuffix(containerPath, ext)
	return fmt.Sprintf("%s.%s.srt", base, sourceLanguage)
}

// filterTranslatable implements step 3: cues that are ASS drawing commands
// or meaningless after markup removal are passed through unchanged and
// never sent to a provider.
func filterTranslatable(cues []subtitle.Cue) []subtitle.Cue {
	out := make([]subtitle.Cue, 0, len(cues))
	for _, c := range cues {
		text := c.Text()
		if subtitle.IsAssDrawingCommand(text) || subtitle.IsMeaningless(text) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// cleanDrawings blanks the text of any source cue that is itself an ASS
// drawing command, per the optional cleanSourceAssDrawings setting.
func cleanDrawings(f *subtitle.File) *subtitle.File {
	translated := make(map[int]string)
	for _, c := range f.Cues {
		if subtitle.IsAssDrawingCommand(c.Text()) {
			translated[c.Position] = ""
		}
	}
	if len(translated) == 0 {
		return f
	}
	return f.WithTranslatedLines(translated)
}

func buildBatches(cues []subtitle.Cue, maxBatchSize int) [][]subtitle.Cue {
	if maxBatchSize <= 0 {
		maxBatchSize = len(cues)
		if maxBatchSize == 0 {
			maxBatchSize = 1
		}
	}
	var batches [][]subtitle.Cue
	for start := 0; start < len(cues); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(cues) {
			end = len(cues)
		}
		batches = append(batches, cues[start:end])
	}
	return batches
}

func toBatchItems(cues []subtitle.Cue) []providers.BatchItem {
	items := make([]providers.BatchItem, len(cues))
	for i, c := range cues {
		items[i] = providers.BatchItem{Position: c.Position, Line: c.Text()}
	}
	return items
}

// wrapperContext builds the preceding/following context lines for a batch
// from the full, unfiltered cue list, per spec.md §4.12 step 4.
func wrapperContext(allCues []subtitle.Cue, batch []subtitle.Cue, settings Settings) (pre, post []string) {
	if !settings.BatchContextEnabled || len(batch) == 0 {
		return nil, nil
	}
	firstPos := batch[0].Position
	lastPos := batch[len(batch)-1].Position

	for i := firstPos - settings.BatchContextBefore; i < firstPos; i++ {
		if i >= 0 && i < len(allCues) {
			pre = append(pre, allCues[i].Text())
		}
	}
	for i := lastPos + 1; i <= lastPos+settings.BatchContextAfter; i++ {
		if i >= 0 && i < len(allCues) {
			post = append(post, allCues[i].Text())
		}
	}
	return pre, post
}

func progressPercent(batchesDone, batchCount int) int {
	if batchCount == 0 {
		return 100
	}
	return (100 * batchesDone) / batchCount
}

// postProcess implements step 7: formatting strip, overlap clamp, and the
// translator-info note cue.
func postProcess(f *subtitle.File, settings Settings) *subtitle.File {
	if settings.StripSubtitleFormatting {
		stripped := make(map[int]string, len(f.Cues))
		for _, c := range f.Cues {
			stripped[c.Position] = subtitle.RemoveMarkup(c.Text())
		}
		f = f.WithTranslatedLines(stripped)
	}
	if settings.FixOverlappingSubtitles {
		f = clampOverlaps(f)
	}
	if settings.AddTranslatorInfo {
		f = f.PrependNote("Translated automatically", 2*time.Second)
	}
	return f
}

// clampOverlaps enforces cue[i].end <= cue[i+1].start without reordering
// (spec.md's Open Question on reordering is resolved as "do not reorder").
func clampOverlaps(f *subtitle.File) *subtitle.File {
	clone := *f
	clone.Cues = make([]subtitle.Cue, len(f.Cues))
	copy(clone.Cues, f.Cues)
	for i := 0; i < len(clone.Cues)-1; i++ {
		if clone.Cues[i].End > clone.Cues[i+1].Start {
			clone.Cues[i].End = clone.Cues[i+1].Start
		}
	}
	return &clone
}

// buildOutputPath rewrites the source sidecar name into the translated
// target's name: <media>.<tag?>.<targetLanguage>.<ext>, per spec.md §4.12
// step 7's "rewrite the filename with subtitleTag appended before the
// language code".
func buildOutputPath(sourcePath, targetLanguage string, settings Settings) string {
	ext := filepath.Ext(sourcePath)
	base := sourcePath
	// The last dot-separated component of the base name is taken to be the
	// source's language code and dropped, so the target isn't doubly-tagged.
	// It is not checked against any language code list.
	base = strings.TrimSuffix(base, ext)
	if idx := strings.LastIndexByte(base, '.'); idx >= 0 {
		base = base[:idx]
	}
	if settings.UseSubtitleTagging && settings.SubtitleTag != "" {
		return fmt.Sprintf("%s.%s.%s%s", base, settings.SubtitleTag, targetLanguage, ext)
	}
	return fmt.Sprintf("%s.%s%s", base, targetLanguage, ext)
}

// OSFileIO is the production FileIO: atomic write via sibling temp name +
// rename, grounded on the teacher's pkg/media/metadata.go idiom.
type OSFileIO struct{}

func (OSFileIO) Read(path string) ([]byte, error) { return os.ReadFile(path) }

func (OSFileIO) Write(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Remove deletes path outright, used by the Integrity Validator (C9) to
// discard a target file that failed validation and by the Scheduler's
// orphan-cleanup sweep.
func (OSFileIO) Remove(path string) error { return os.Remove(path) }
