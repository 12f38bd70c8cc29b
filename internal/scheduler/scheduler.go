// Package scheduler implements the Scheduler (C14): cron-like recurring
// jobs driving indexing, automated translation sweeps, integrity sweeps,
// and orphan sidecar cleanup, per spec.md §4.14. It wires
// github.com/robfig/cron/v3 the way the retrieval pack's own subtitle
// translation service does: one *cron.Cron instance, jobs added with
// AddFunc, entries torn down and re-added on reconfiguration.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/mediastate"
)

// MediaIndexer is the external "Media Indexer" collaborator spec.md §1
// places out of scope: it populates the media tables from the two
// upstream library managers. Only a thin trigger is modeled here.
type MediaIndexer interface {
	IndexMovies(ctx context.Context) error
	IndexShows(ctx context.Context) error
}

// RequestEnqueuer is the narrow slice of the Translation Request Service
// the sweep jobs need.
type RequestEnqueuer interface {
	CreateRequest(ctx context.Context, req domain.TranslationRequest, forcePriority bool) (domain.TranslationRequest, error)
}

// IntegrityScanner validates already-completed translation targets,
// backed by C9.
type IntegrityScanner interface {
	ScanCompleted(ctx context.Context) error
}

// OrphanCleaner removes translated sidecars whose media filename changed,
// limited to files carrying the configured subtitleTag.
type OrphanCleaner interface {
	CleanOrphans(ctx context.Context) (removed int, err error)
}

// Schedules holds the cron expressions for every recurring job, read from
// settings.
type Schedules struct {
	IndexMovies      string
	IndexShows       string
	TranslationSweep string
	IntegritySweep   string
	OrphanCleanup    string
}

// Config bundles everything the Scheduler needs at construction time.
type Config struct {
	Indexer    MediaIndexer
	Requests   RequestEnqueuer
	MediaState *mediastate.Engine
	Integrity  IntegrityScanner
	Cleanup    OrphanCleaner
	LangConfig func() mediastate.LanguageConfig
	SweepLimit int
	Log        zerolog.Logger
}

// Scheduler owns one cron.Cron instance and the entry IDs of its jobs, so
// Reconfigure can tear down and re-add a single job without disturbing
// the others.
type Scheduler struct {
	cron *cron.Cron
	cfg  Config
	log  zerolog.Logger

	entries map[string]cron.EntryID
}

func New(cfg Config) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		cfg:     cfg,
		log:     cfg.Log.With().Str("component", "scheduler").Logger(),
		entries: make(map[string]cron.EntryID),
	}
}

// Start registers every job from schedules and starts the cron loop in
// its own goroutine (cron.Cron's own concurrency model).
func (s *Scheduler) Start(schedules Schedules) error {
	jobs := map[string]struct {
		expr string
		fn   func()
	}{
		"index_movies":      {schedules.IndexMovies, s.runIndexMovies},
		"index_shows":       {schedules.IndexShows, s.runIndexShows},
		"translation_sweep": {schedules.TranslationSweep, s.runTranslationSweep},
		"integrity_sweep":   {schedules.IntegritySweep, s.runIntegritySweep},
		"orphan_cleanup":    {schedules.OrphanCleanup, s.runOrphanCleanup},
	}
	for name, job := range jobs {
		if job.expr == "" {
			continue
		}
		id, err := s.cron.AddFunc(job.expr, job.fn)
		if err != nil {
			return err
		}
		s.entries[name] = id
	}
	s.cron.Start()
	return nil
}

// Reconfigure replaces one job's cron expression, removing the old entry
// first. Passing an empty expr disables the job.
func (s *Scheduler) Reconfigure(jobName, expr string) error {
	if id, ok := s.entries[jobName]; ok {
		s.cron.Remove(id)
		delete(s.entries, jobName)
	}
	if expr == "" {
		return nil
	}
	fn, ok := s.jobFunc(jobName)
	if !ok {
		return nil
	}
	id, err := s.cron.AddFunc(expr, fn)
	if err != nil {
		return err
	}
	s.entries[jobName] = id
	return nil
}

func (s *Scheduler) jobFunc(jobName string) (func(), bool) {
	switch jobName {
	case "index_movies":
		return s.runIndexMovies, true
	case "index_shows":
		return s.runIndexShows, true
	case "translation_sweep":
		return s.runTranslationSweep, true
	case "integrity_sweep":
		return s.runIntegritySweep, true
	case "orphan_cleanup":
		return s.runOrphanCleanup, true
	default:
		return nil, false
	}
}

// Stop halts the cron loop, waiting for any running job to finish
// (cron.Cron.Stop's own guarantee).
func (s *Scheduler) Stop(ctx context.Context) {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) runIndexMovies() {
	if s.cfg.Indexer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := s.cfg.Indexer.IndexMovies(ctx); err != nil {
		s.log.Error().Err(err).Msg("movie indexing sweep failed")
	}
}

func (s *Scheduler) runIndexShows() {
	if s.cfg.Indexer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := s.cfg.Indexer.IndexShows(ctx); err != nil {
		s.log.Error().Err(err).Msg("show indexing sweep failed")
	}
}

// runTranslationSweep asks C13 for eligible media and enqueues a request
// for every (media, source, target) combination whose source and target
// languages differ, per spec.md §4.14. It does not check which targets
// already exist; a duplicate of an active request is absorbed by
// CreateRequest's idempotence.
func (s *Scheduler) runTranslationSweep() {
	if s.cfg.MediaState == nil || s.cfg.Requests == nil || s.cfg.LangConfig == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	limit := s.cfg.SweepLimit
	if limit <= 0 {
		limit = 50
	}
	cfg := s.cfg.LangConfig()

	media, err := s.cfg.MediaState.NeedingTranslation(ctx, limit, true)
	if err != nil {
		s.log.Error().Err(err).Msg("translation sweep: failed to list eligible media")
		return
	}
	for _, m := range media {
		for _, source := range cfg.SourceLanguages {
			for _, target := range cfg.TargetLanguages {
				if source == target {
					continue
				}
				req := domain.TranslationRequest{
					MediaID:        m.ID,
					MediaKind:      m.Kind,
					Title:          m.Title,
					SourceLanguage: source,
					TargetLanguage: target,
					IsPriority:     m.IsPriority,
				}
				if _, err := s.cfg.Requests.CreateRequest(ctx, req, m.IsPriority); err != nil {
					s.log.Warn().Err(err).Int64("mediaId", m.ID).Msg("translation sweep: failed to enqueue request")
				}
			}
		}
	}
}

func (s *Scheduler) runIntegritySweep() {
	if s.cfg.Integrity == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	if err := s.cfg.Integrity.ScanCompleted(ctx); err != nil {
		s.log.Error().Err(err).Msg("integrity sweep failed")
	}
}

func (s *Scheduler) runOrphanCleanup() {
	if s.cfg.Cleanup == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	removed, err := s.cfg.Cleanup.CleanOrphans(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("orphan cleanup sweep failed")
		return
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("orphan cleanup sweep removed stale sidecars")
	}
}
