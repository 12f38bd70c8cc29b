package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/requests"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/signalbus"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/store"
)

type fakeRequests struct {
	created  domain.TranslationRequest
	cancelID int64
	removeID int64
	listOut  []domain.TranslationRequest
	logsOut  []domain.TranslationRequestLog
	active   int
}

func (f *fakeRequests) CreateRequest(ctx context.Context, req domain.TranslationRequest, forcePriority bool) (domain.TranslationRequest, error) {
	req.ID = 1
	f.created = req
	return req, nil
}
func (f *fakeRequests) Cancel(ctx context.Context, id int64) (domain.TranslationRequest, error) {
	f.cancelID = id
	return domain.TranslationRequest{ID: id, Status: domain.StatusCancelled}, nil
}
func (f *fakeRequests) Remove(ctx context.Context, id int64) error {
	f.removeID = id
	return nil
}
func (f *fakeRequests) Retry(ctx context.Context, id int64) (domain.TranslationRequest, error) {
	return domain.TranslationRequest{ID: id, Status: domain.StatusPending}, nil
}
func (f *fakeRequests) ReenqueueQueued(ctx context.Context, includeInProgress bool) (requests.ReenqueueResult, error) {
	return requests.ReenqueueResult{Reenqueued: 2, Skipped: 1}, nil
}
func (f *fakeRequests) DedupeQueuedRequests(ctx context.Context) (int, error) { return 3, nil }
func (f *fakeRequests) GetLogs(ctx context.Context, requestID int64) ([]domain.TranslationRequestLog, error) {
	return f.logsOut, nil
}
func (f *fakeRequests) GetActiveCount(ctx context.Context) (int, error) { return f.active, nil }
func (f *fakeRequests) List(ctx context.Context, filter store.ListFilter) ([]domain.TranslationRequest, error) {
	return f.listOut, nil
}

type fakeMedia struct {
	list           []domain.Media
	excludeID      int64
	excludeValue   bool
	priorityID     int64
	priorityValue  bool
	thresholdID    int64
	thresholdValue time.Duration
}

func (f *fakeMedia) ListMedia(ctx context.Context, limit, offset int) ([]domain.Media, error) {
	return f.list, nil
}
func (f *fakeMedia) GetMedia(ctx context.Context, id int64) (domain.Media, error) {
	return domain.Media{ID: id}, nil
}
func (f *fakeMedia) SetExcludeFromTranslation(ctx context.Context, id int64, exclude bool) error {
	f.excludeID, f.excludeValue = id, exclude
	return nil
}
func (f *fakeMedia) SetPriority(ctx context.Context, id int64, priority bool) error {
	f.priorityID, f.priorityValue = id, priority
	return nil
}
func (f *fakeMedia) SetAgeThreshold(ctx context.Context, id int64, threshold time.Duration) error {
	f.thresholdID, f.thresholdValue = id, threshold
	return nil
}

type fakeIntegrity struct{ scanned bool }

func (f *fakeIntegrity) ScanCompleted(ctx context.Context) error {
	f.scanned = true
	return nil
}

type fakeUsage struct{}

func (fakeUsage) Snapshot(ctx context.Context, modelID string) (int, int, bool, error) {
	return 10, 100, false, nil
}

func newTestServer(t *testing.T) (*Server, *fakeRequests, *fakeMedia, *fakeIntegrity) {
	t.Helper()
	reqs := &fakeRequests{}
	media := &fakeMedia{}
	integrity := &fakeIntegrity{}
	cfg := &Config{Host: "127.0.0.1", Port: 0, DashboardUser: "admin", DashboardPassword: "secret"}
	s, err := New(cfg, Deps{
		Requests:  reqs,
		Media:     media,
		Integrity: integrity,
		Usage:     fakeUsage{},
		Bus:       signalbus.New(),
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return s, reqs, media, integrity
}

func TestCreateRequestReturnsCreated(t *testing.T) {
	s, reqs, _, _ := newTestServer(t)
	body, _ := json.Marshal(createRequestBody{MediaID: 5, TargetLanguage: "fra", SourceLanguage: "eng"})
	r := httptest.NewRequest(http.MethodPost, "/api/requests/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if reqs.created.MediaID != 5 {
		t.Fatalf("expected CreateRequest to be called with mediaId 5, got %d", reqs.created.MediaID)
	}
}

func TestCancelRequestDelegatesByID(t *testing.T) {
	s, reqs, _, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodPost, "/api/requests/42/cancel", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if reqs.cancelID != 42 {
		t.Fatalf("expected cancel id 42, got %d", reqs.cancelID)
	}
}

func TestRemoveRequestReturnsNoContent(t *testing.T) {
	s, reqs, _, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodDelete, "/api/requests/7", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if reqs.removeID != 7 {
		t.Fatalf("expected remove id 7, got %d", reqs.removeID)
	}
}

func TestActiveCountReportsFakeValue(t *testing.T) {
	s, reqs, _, _ := newTestServer(t)
	reqs.active = 4
	r := httptest.NewRequest(http.MethodGet, "/api/requests/active-count", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)

	var out map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out["activeCount"] != 4 {
		t.Fatalf("expected activeCount 4, got %d", out["activeCount"])
	}
}

func TestSetExcludeUpdatesMedia(t *testing.T) {
	s, _, media, _ := newTestServer(t)
	body, _ := json.Marshal(boolBody{Value: true})
	r := httptest.NewRequest(http.MethodPost, "/api/media/9/exclude", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if media.excludeID != 9 || !media.excludeValue {
		t.Fatalf("expected exclude(9, true), got (%d, %v)", media.excludeID, media.excludeValue)
	}
}

func TestTriggerIntegrityCheckInvokesScanner(t *testing.T) {
	s, _, _, integrity := newTestServer(t)
	r := httptest.NewRequest(http.MethodPost, "/api/integrity/check", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if !integrity.scanned {
		t.Fatal("expected ScanCompleted to be invoked")
	}
}

func TestProviderUsageReportsSnapshot(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/api/provider-usage?model=gpt", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)

	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out["used"].(float64) != 10 || out["allowed"].(float64) != 100 {
		t.Fatalf("unexpected usage snapshot: %+v", out)
	}
}

func TestDashboardRequiresBasicAuth(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/dashboard/", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", w.Code)
	}

	r2 := httptest.NewRequest(http.MethodGet, "/dashboard/", nil)
	r2.SetBasicAuth("admin", "secret")
	w2 := httptest.NewRecorder()
	s.router.ServeHTTP(w2, r2)
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct credentials, got %d", w2.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestLogsStreamMissingRequestIDReturnsBadRequest(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/logs/stream", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
