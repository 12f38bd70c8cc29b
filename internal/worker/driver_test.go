package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/mediaprobe"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/pipeline"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/providers"
)

type fakeStore struct {
	mu       sync.Mutex
	pending  []domain.TranslationRequest
	media    map[int64]domain.Media
}

func (f *fakeStore) RequestsByStatus(ctx context.Context, status domain.RequestStatus) ([]domain.TranslationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status != domain.StatusPending {
		return nil, nil
	}
	out := make([]domain.TranslationRequest, len(f.pending))
	copy(out, f.pending)
	return out, nil
}

func (f *fakeStore) GetMedia(ctx context.Context, id int64) (domain.Media, error) {
	return f.media[id], nil
}

type fakeRequests struct {
	mu   sync.Mutex
	sawCompleted []int64
	sawFailed    []int64
}

func (f *fakeRequests) UpdateProgress(ctx context.Context, id int64, progress int) error { return nil }

func (f *fakeRequests) TransitionStatus(ctx context.Context, id int64, status domain.RequestStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch status {
	case domain.StatusCompleted:
		f.sawCompleted = append(f.sawCompleted, id)
	case domain.StatusFailed, domain.StatusCancelled:
		f.sawFailed = append(f.sawFailed, id)
	}
	return nil
}

type fakePool struct {
	signals chan struct{}
}

func newFakePool() *fakePool { return &fakePool{signals: make(chan struct{}, 1)} }

func (f *fakePool) Signals() <-chan struct{}                               { return f.signals }
func (f *fakePool) RegisterRunning(key string, cancel context.CancelFunc)   {}
func (f *fakePool) UnregisterRunning(key string)                           {}
func (f *fakePool) Acquire(ctx context.Context, key string, priority bool) (func(), error) {
	return func() {}, nil
}

type fakeFileIO struct{ source []byte }

func (f *fakeFileIO) Read(path string) ([]byte, error)         { return f.source, nil }
func (f *fakeFileIO) Write(path string, data []byte) error     { return nil }

type stubCaller struct{}

func (stubCaller) TranslateBatch(ctx context.Context, items []providers.BatchItem, source, target string, pre, post []string) (map[int]string, error) {
	out := make(map[int]string, len(items))
	for _, item := range items {
		out[item.Position] = "translated: " + item.Line
	}
	return out, nil
}

const oneCueSRT = `1
00:00:01,000 --> 00:00:02,000
hello
`

func TestDispatcherRunsPendingRequestToCompletion(t *testing.T) {
	store := &fakeStore{
		pending: []domain.TranslationRequest{
			{ID: 1, MediaID: 10, SourceLanguage: "eng", TargetLanguage: "fra", SubtitleToTranslate: strPtr("in.srt")},
		},
	}
	reqs := &fakeRequests{}
	pool := newFakePool()
	fileio := &fakeFileIO{source: []byte(oneCueSRT)}
	pl := pipeline.New(&mediaprobe.Prober{}, &mediaprobe.Extractor{}, fileio, zerolog.Nop())

	d := New(store, reqs, pool, pl, stubCaller{}, func() pipeline.Settings {
		return pipeline.Settings{MaxBatchSize: 10, MaxBatchSplitAttempts: 1}
	}, func(id int64) string { return "k" }, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	pool.signals <- struct{}{}

	deadline := time.After(2 * time.Second)
	for {
		reqs.mu.Lock()
		done := len(reqs.sawCompleted) > 0 || len(reqs.sawFailed) > 0
		reqs.mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for dispatcher to process the pending request")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	reqs.mu.Lock()
	defer reqs.mu.Unlock()
	if len(reqs.sawCompleted) != 1 || reqs.sawCompleted[0] != 1 {
		t.Fatalf("expected request 1 to complete, got completed=%v failed=%v", reqs.sawCompleted, reqs.sawFailed)
	}
}

func strPtr(s string) *string { return &s }
