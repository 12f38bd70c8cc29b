package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/mediastate"
)

type fakeIndexer struct {
	movies, shows int
}

func (f *fakeIndexer) IndexMovies(ctx context.Context) error { f.movies++; return nil }
func (f *fakeIndexer) IndexShows(ctx context.Context) error  { f.shows++; return nil }

type fakeEnqueuer struct {
	mu       sync.Mutex
	requests []domain.TranslationRequest
}

func (f *fakeEnqueuer) CreateRequest(ctx context.Context, req domain.TranslationRequest, forcePriority bool) (domain.TranslationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return req, nil
}

type fakeIntegrity struct{ calls int }

func (f *fakeIntegrity) ScanCompleted(ctx context.Context) error { f.calls++; return nil }

type fakeCleaner struct{ removed, calls int }

func (f *fakeCleaner) CleanOrphans(ctx context.Context) (int, error) { f.calls++; return f.removed, nil }

// sweepStore is a mediastate.Store that reports a fixed media slice as
// needing translation; its other methods do nothing.
type sweepStore struct{ media []domain.Media }

func (s sweepStore) GetMedia(ctx context.Context, id int64) (domain.Media, error) {
	return domain.Media{}, nil
}
func (s sweepStore) SetTranslationState(ctx context.Context, id int64, state domain.TranslationState, settingsVersion int64) error {
	return nil
}
func (s sweepStore) MarkAllStale(ctx context.Context) error { return nil }
func (s sweepStore) MediaNeedingTranslation(ctx context.Context, limit int, priorityFirst bool) ([]domain.Media, error) {
	return s.media, nil
}
func (s sweepStore) ListEmbeddedSubtitles(ctx context.Context, mediaID int64, kind domain.MediaKind) ([]domain.EmbeddedSubtitle, error) {
	return nil, nil
}
func (s sweepStore) ActiveRequestsForKey(ctx context.Context, key domain.RequestKey) ([]domain.TranslationRequest, error) {
	return nil, nil
}

func TestRunTranslationSweepEnqueuesEveryLanguagePair(t *testing.T) {
	enq := &fakeEnqueuer{}
	cfg := Config{
		Requests:   enq,
		MediaState: mediastate.New(sweepStore{media: []domain.Media{{ID: 1, Title: "Movie"}}}, nil),
		LangConfig: func() mediastate.LanguageConfig {
			return mediastate.LanguageConfig{SourceLanguages: []string{"eng"}, TargetLanguages: []string{"fra", "spa"}}
		},
		Log: zerolog.Nop(),
	}
	s := New(cfg)
	s.runTranslationSweep()
	if len(enq.requests) != 2 {
		t.Fatalf("expected 2 enqueued requests, got %d", len(enq.requests))
	}
	for _, req := range enq.requests {
		if req.MediaID != 1 || req.SourceLanguage != "eng" {
			t.Fatalf("unexpected enqueued request: %+v", req)
		}
	}
}

func TestReconfigureReplacesEntry(t *testing.T) {
	s := New(Config{Log: zerolog.Nop()})
	if err := s.Start(Schedules{IntegritySweep: "@every 1h"}); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())

	if _, ok := s.entries["integrity_sweep"]; !ok {
		t.Fatal("expected integrity_sweep entry to be registered")
	}
	if err := s.Reconfigure("integrity_sweep", "@every 2h"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.entries["integrity_sweep"]; !ok {
		t.Fatal("expected integrity_sweep entry to still be registered after reconfigure")
	}
}

func TestRunIndexJobsInvokeIndexer(t *testing.T) {
	idx := &fakeIndexer{}
	s := New(Config{Indexer: idx, Log: zerolog.Nop()})
	s.runIndexMovies()
	s.runIndexShows()
	if idx.movies != 1 || idx.shows != 1 {
		t.Fatalf("expected both indexer methods invoked once, got movies=%d shows=%d", idx.movies, idx.shows)
	}
}

func TestRunIntegritySweepInvokesScanner(t *testing.T) {
	scanner := &fakeIntegrity{}
	s := New(Config{Integrity: scanner, Log: zerolog.Nop()})
	s.runIntegritySweep()
	if scanner.calls != 1 {
		t.Fatalf("expected 1 scan call, got %d", scanner.calls)
	}
}

func TestRunOrphanCleanupInvokesCleaner(t *testing.T) {
	cleaner := &fakeCleaner{removed: 3}
	s := New(Config{Cleanup: cleaner, Log: zerolog.Nop()})
	s.runOrphanCleanup()
	if cleaner.calls != 1 {
		t.Fatalf("expected 1 cleanup call, got %d", cleaner.calls)
	}
}
