package requests

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/signalbus"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/store"
)

// fakeStore is an in-memory Store double keyed by id, enough to exercise
// every Service method without a live Postgres connection.
type fakeStore struct {
	rows   map[int64]domain.TranslationRequest
	logs   map[int64][]domain.TranslationRequestLog
	nextID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[int64]domain.TranslationRequest), logs: make(map[int64][]domain.TranslationRequestLog)}
}

func (f *fakeStore) CreateRequest(ctx context.Context, req domain.TranslationRequest) (domain.TranslationRequest, error) {
	for _, r := range f.rows {
		if r.Key() == req.Key() && r.Status.IsActive() {
			return r, nil
		}
	}
	f.nextID++
	req.ID = f.nextID
	req.Status = domain.StatusPending
	active := true
	req.IsActive = &active
	f.rows[req.ID] = req
	return req, nil
}

func (f *fakeStore) GetRequest(ctx context.Context, id int64) (domain.TranslationRequest, error) {
	r, ok := f.rows[id]
	if !ok {
		return domain.TranslationRequest{}, errNotFound
	}
	return r, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id int64, status domain.RequestStatus) error {
	r := f.rows[id]
	r.Status = status
	if !status.IsActive() {
		r.IsActive = nil
	}
	f.rows[id] = r
	return nil
}

func (f *fakeStore) UpdateProgress(ctx context.Context, id int64, progress int) error {
	r := f.rows[id]
	r.Progress = progress
	f.rows[id] = r
	return nil
}

func (f *fakeStore) Remove(ctx context.Context, id int64) (bool, error) {
	r, ok := f.rows[id]
	if !ok || r.Status == domain.StatusInProgress {
		return false, nil
	}
	delete(f.rows, id)
	return true, nil
}

func (f *fakeStore) RequestsByStatus(ctx context.Context, status domain.RequestStatus) ([]domain.TranslationRequest, error) {
	var out []domain.TranslationRequest
	for _, r := range f.rows {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) DuplicateActiveGroups(ctx context.Context) ([]domain.RequestKey, error) {
	counts := make(map[domain.RequestKey]int)
	for _, r := range f.rows {
		if r.Status.IsActive() {
			counts[r.Key()]++
		}
	}
	var out []domain.RequestKey
	for k, n := range counts {
		if n > 1 {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeStore) DedupeActiveGroup(ctx context.Context, key domain.RequestKey) (int, error) {
	var matching []domain.TranslationRequest
	for _, r := range f.rows {
		if r.Key() == key && r.Status.IsActive() {
			matching = append(matching, r)
		}
	}
	if len(matching) < 2 {
		return 0, nil
	}
	lowest := matching[0].ID
	for _, r := range matching {
		if r.ID < lowest {
			lowest = r.ID
		}
	}
	merged := 0
	for _, r := range matching {
		if r.ID != lowest {
			r.IsActive = nil
			r.Status = domain.StatusCancelled
			f.rows[r.ID] = r
			merged++
		}
	}
	return merged, nil
}

func (f *fakeStore) GetLogs(ctx context.Context, requestID int64) ([]domain.TranslationRequestLog, error) {
	return f.logs[requestID], nil
}

func (f *fakeStore) ActiveCount(ctx context.Context) (int, error) {
	n := 0
	for _, r := range f.rows {
		if r.Status.IsActive() {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ListRequests(ctx context.Context, filter store.ListFilter) ([]domain.TranslationRequest, error) {
	var out []domain.TranslationRequest
	for _, r := range f.rows {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStore) AppendLog(ctx context.Context, log domain.TranslationRequestLog) error {
	f.logs[log.RequestID] = append(f.logs[log.RequestID], log)
	return nil
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }

var errNotFound = notFoundErr{}

type fakePool struct {
	signalled     int
	notified      []string
	cancelled     []string
}

func (f *fakePool) Signal()                             { f.signalled++ }
func (f *fakePool) NotifyPriorityChanged(key string)     { f.notified = append(f.notified, key) }
func (f *fakePool) CancelJob(key string)                 { f.cancelled = append(f.cancelled, key) }

func newTestService() (*Service, *fakeStore, *fakePool) {
	fs := newFakeStore()
	fp := &fakePool{}
	svc := &Service{store: fs, pool: fp, bus: signalbus.New(), log: zerolog.Nop()}
	return svc, fs, fp
}

func TestCreateRequestSignalsPoolAndIsIdempotent(t *testing.T) {
	svc, _, fp := newTestService()
	ctx := context.Background()
	req := domain.TranslationRequest{MediaID: 1, MediaKind: domain.MediaMovie, SourceLanguage: "eng", TargetLanguage: "fra"}

	first, err := svc.CreateRequest(ctx, req, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.CreateRequest(ctx, req, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected duplicate create to return same id, got %d and %d", first.ID, second.ID)
	}
	if fp.signalled != 2 {
		t.Fatalf("expected pool signalled twice, got %d", fp.signalled)
	}
}

func TestCancelPendingTransitionsDirectly(t *testing.T) {
	svc, _, fp := newTestService()
	ctx := context.Background()
	req, _ := svc.CreateRequest(ctx, domain.TranslationRequest{MediaID: 1, MediaKind: domain.MediaMovie, SourceLanguage: "eng", TargetLanguage: "fra"}, false)

	got, err := svc.Cancel(ctx, req.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled status, got %v", got.Status)
	}
	if len(fp.cancelled) != 0 {
		t.Fatalf("pending cancel should not call pool.CancelJob, got %v", fp.cancelled)
	}
}

func TestCancelInProgressCallsPoolCancelJob(t *testing.T) {
	svc, fs, fp := newTestService()
	ctx := context.Background()
	req, _ := svc.CreateRequest(ctx, domain.TranslationRequest{MediaID: 1, MediaKind: domain.MediaMovie, SourceLanguage: "eng", TargetLanguage: "fra"}, false)
	fs.UpdateStatus(ctx, req.ID, domain.StatusInProgress)

	_, err := svc.Cancel(ctx, req.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fp.cancelled) != 1 || fp.cancelled[0] != PoolKey(req.ID) {
		t.Fatalf("expected pool.CancelJob called with %q, got %v", PoolKey(req.ID), fp.cancelled)
	}
}

func TestRemoveRejectsInProgress(t *testing.T) {
	svc, fs, _ := newTestService()
	ctx := context.Background()
	req, _ := svc.CreateRequest(ctx, domain.TranslationRequest{MediaID: 1, MediaKind: domain.MediaMovie, SourceLanguage: "eng", TargetLanguage: "fra"}, false)
	fs.UpdateStatus(ctx, req.ID, domain.StatusInProgress)

	if err := svc.Remove(ctx, req.ID); err == nil {
		t.Fatal("expected error removing an in-progress request")
	}
}

func TestRetryClonesIntoFreshPendingRow(t *testing.T) {
	svc, fs, _ := newTestService()
	ctx := context.Background()
	req, _ := svc.CreateRequest(ctx, domain.TranslationRequest{MediaID: 1, MediaKind: domain.MediaMovie, SourceLanguage: "eng", TargetLanguage: "fra", Title: "Movie"}, false)
	fs.UpdateStatus(ctx, req.ID, domain.StatusFailed)

	retried, err := svc.Retry(ctx, req.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retried.ID == req.ID {
		t.Fatal("expected a new row id")
	}
	if retried.Status != domain.StatusPending {
		t.Fatalf("expected pending status, got %v", retried.Status)
	}
	if retried.Title != "Movie" {
		t.Fatalf("expected cloned title to survive, got %q", retried.Title)
	}
}

func TestRetryRejectsActiveRequest(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	req, _ := svc.CreateRequest(ctx, domain.TranslationRequest{MediaID: 1, MediaKind: domain.MediaMovie, SourceLanguage: "eng", TargetLanguage: "fra"}, false)

	if _, err := svc.Retry(ctx, req.ID); err == nil {
		t.Fatal("expected error retrying an active request")
	}
}

func TestStartupSweepInterruptsInProgressRows(t *testing.T) {
	svc, fs, _ := newTestService()
	ctx := context.Background()
	req, _ := svc.CreateRequest(ctx, domain.TranslationRequest{MediaID: 1, MediaKind: domain.MediaMovie, SourceLanguage: "eng", TargetLanguage: "fra"}, false)
	fs.UpdateStatus(ctx, req.ID, domain.StatusInProgress)

	n, err := svc.StartupSweep(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row interrupted, got %d", n)
	}
	got, _ := fs.GetRequest(ctx, req.ID)
	if got.Status != domain.StatusInterrupted {
		t.Fatalf("expected interrupted status, got %v", got.Status)
	}
}

func TestDedupeQueuedRequestsKeepsLowestID(t *testing.T) {
	svc, fs, _ := newTestService()
	ctx := context.Background()
	key := domain.TranslationRequest{MediaID: 1, MediaKind: domain.MediaMovie, SourceLanguage: "eng", TargetLanguage: "fra"}

	first, _ := svc.CreateRequest(ctx, key, false)
	// Simulate a duplicate slipping past the unique index (e.g. a race the
	// index didn't see yet) by inserting directly into the fake store.
	fs.nextID++
	dup := key
	dup.ID = fs.nextID
	dup.Status = domain.StatusPending
	active := true
	dup.IsActive = &active
	fs.rows[dup.ID] = dup

	merged, err := svc.DedupeQueuedRequests(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged != 1 {
		t.Fatalf("expected 1 merged row, got %d", merged)
	}
	survivor, _ := fs.GetRequest(ctx, first.ID)
	if survivor.Status != domain.StatusPending {
		t.Fatalf("expected survivor to remain pending, got %v", survivor.Status)
	}
	other, _ := fs.GetRequest(ctx, dup.ID)
	if other.IsActive != nil {
		t.Fatal("expected merged-away row to have isActive cleared")
	}
}

func TestRefreshPriorityForMediaNotifiesPool(t *testing.T) {
	svc, fs, fp := newTestService()
	ctx := context.Background()
	req, _ := svc.CreateRequest(ctx, domain.TranslationRequest{MediaID: 7, MediaKind: domain.MediaEpisode, SourceLanguage: "eng", TargetLanguage: "fra"}, false)
	fs.UpdateStatus(ctx, req.ID, domain.StatusPending)

	if err := svc.RefreshPriorityForMedia(ctx, 7, domain.MediaEpisode); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fp.notified) != 1 || fp.notified[0] != PoolKey(req.ID) {
		t.Fatalf("expected pool notified for %q, got %v", PoolKey(req.ID), fp.notified)
	}
}

func TestUpdateProgressPublishesEvent(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	req, _ := svc.CreateRequest(ctx, domain.TranslationRequest{MediaID: 1, MediaKind: domain.MediaMovie, SourceLanguage: "eng", TargetLanguage: "fra"}, false)

	ch, unsubscribe := svc.Subscribe(req.ID)
	defer unsubscribe()

	if err := svc.UpdateProgress(ctx, req.ID, 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev := <-ch
	if ev.Kind != signalbus.KindProgress || ev.Data != 42 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}
