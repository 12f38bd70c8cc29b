// Package requests implements the Translation Request Service (C11): the
// CRUD and state-machine surface over TranslationRequest rows described in
// spec.md §4.11. It owns every write to status/progress/isActive/jobId
// (spec.md §3's ownership rule) and is the only package that both talks to
// internal/store and signals internal/workerpool.
package requests

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jinzhu/copier"
	"github.com/rs/zerolog"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/signalbus"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/store"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/workerpool"
)

// Pool is the subset of *workerpool.Pool the service depends on, narrowed
// for testability per spec.md §9's "expose narrow seams instead of
// reflecting" guidance.
type Pool interface {
	Signal()
	NotifyPriorityChanged(key string)
	CancelJob(key string)
}

// Store is the subset of *store.Store this service needs, narrowed to the
// same end as Pool above — tests substitute an in-memory fake instead of a
// live Postgres connection.
type Store interface {
	CreateRequest(ctx context.Context, req domain.TranslationRequest) (domain.TranslationRequest, error)
	GetRequest(ctx context.Context, id int64) (domain.TranslationRequest, error)
	UpdateStatus(ctx context.Context, id int64, status domain.RequestStatus) error
	UpdateProgress(ctx context.Context, id int64, progress int) error
	Remove(ctx context.Context, id int64) (bool, error)
	RequestsByStatus(ctx context.Context, status domain.RequestStatus) ([]domain.TranslationRequest, error)
	DuplicateActiveGroups(ctx context.Context) ([]domain.RequestKey, error)
	DedupeActiveGroup(ctx context.Context, key domain.RequestKey) (int, error)
	GetLogs(ctx context.Context, requestID int64) ([]domain.TranslationRequestLog, error)
	ActiveCount(ctx context.Context) (int, error)
	ListRequests(ctx context.Context, filter store.ListFilter) ([]domain.TranslationRequest, error)
	AppendLog(ctx context.Context, log domain.TranslationRequestLog) error
}

// Service is the Translation Request Service.
type Service struct {
	store Store
	pool  Pool
	bus   *signalbus.Bus
	log   zerolog.Logger
}

func New(st *store.Store, pool *workerpool.Pool, bus *signalbus.Bus, log zerolog.Logger) *Service {
	return &Service{store: st, pool: pool, bus: bus, log: log.With().Str("component", "requests").Logger()}
}

// PoolKey is the string identifier the worker pool uses for a request —
// its own id, since that's already unique and stable for the row's
// lifetime.
func PoolKey(id int64) string { return strconv.FormatInt(id, 10) }

// CreateRequest inserts a Pending/active row and signals the pool.
// Duplicate-tuple races are absorbed by the store's partial unique index;
// either way the caller gets back the single active row for the tuple,
// satisfying the idempotence guarantee in spec.md §4.11.
func (s *Service) CreateRequest(ctx context.Context, req domain.TranslationRequest, forcePriority bool) (domain.TranslationRequest, error) {
	req.IsPriority = req.IsPriority || forcePriority
	created, err := s.store.CreateRequest(ctx, req)
	if err != nil {
		return domain.TranslationRequest{}, fmt.Errorf("create request: %w", err)
	}
	s.publishState(created)
	s.pool.Signal()
	return created, nil
}

// Cancel transitions a Pending request to Cancelled directly; an
// InProgress one is asked to stop via the worker pool and the running
// worker drives the eventual Cancelled/Interrupted transition itself.
func (s *Service) Cancel(ctx context.Context, id int64) (domain.TranslationRequest, error) {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return domain.TranslationRequest{}, fmt.Errorf("get request: %w", err)
	}

	switch req.Status {
	case domain.StatusPending:
		if err := s.store.UpdateStatus(ctx, id, domain.StatusCancelled); err != nil {
			return domain.TranslationRequest{}, fmt.Errorf("cancel pending request: %w", err)
		}
		req.Status = domain.StatusCancelled
		s.appendLog(ctx, id, domain.LogInfo, "request cancelled before it started")
		s.publishState(req)
	case domain.StatusInProgress:
		s.pool.CancelJob(PoolKey(id))
		s.appendLog(ctx, id, domain.LogInfo, "cancellation requested for running job")
	}
	return req, nil
}

// Remove deletes a non-InProgress row outright.
func (s *Service) Remove(ctx context.Context, id int64) error {
	ok, err := s.store.Remove(ctx, id)
	if err != nil {
		return fmt.Errorf("remove request: %w", err)
	}
	if !ok {
		return fmt.Errorf("request is in progress or does not exist")
	}
	return nil
}

// Retry clones a non-active request into a fresh Pending row, leaving the
// old row as history, and signals the pool. Cloning with copier rather
// than hand-listing fields keeps this in step automatically as
// TranslationRequest grows new non-lifecycle fields.
func (s *Service) Retry(ctx context.Context, id int64) (domain.TranslationRequest, error) {
	old, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return domain.TranslationRequest{}, fmt.Errorf("get request: %w", err)
	}
	if old.Status.IsActive() {
		return domain.TranslationRequest{}, fmt.Errorf("cannot retry an active request")
	}

	var fresh domain.TranslationRequest
	if err := copier.Copy(&fresh, &old); err != nil {
		return domain.TranslationRequest{}, fmt.Errorf("clone request: %w", err)
	}
	fresh.ID = 0
	fresh.Status = domain.StatusPending
	fresh.Progress = 0
	fresh.CreatedAt = time.Time{}
	fresh.CompletedAt = nil
	fresh.JobID = nil
	fresh.IsActive = nil

	created, err := s.store.CreateRequest(ctx, fresh)
	if err != nil {
		return domain.TranslationRequest{}, fmt.Errorf("create retried request: %w", err)
	}
	s.publishState(created)
	s.pool.Signal()
	return created, nil
}

// ReenqueueResult is reenqueueQueued's return shape from spec.md §4.11.
type ReenqueueResult struct {
	Reenqueued int
	Skipped    int
}

// ReenqueueQueued re-signals the pool for every still-Pending row (and,
// when includeInProgress is set, also for InProgress rows — relevant after
// a worker-pool resize that might free capacity they're waiting on).
func (s *Service) ReenqueueQueued(ctx context.Context, includeInProgress bool) (ReenqueueResult, error) {
	pending, err := s.store.RequestsByStatus(ctx, domain.StatusPending)
	if err != nil {
		return ReenqueueResult{}, fmt.Errorf("list pending requests: %w", err)
	}
	result := ReenqueueResult{Reenqueued: len(pending)}

	if includeInProgress {
		inProgress, err := s.store.RequestsByStatus(ctx, domain.StatusInProgress)
		if err != nil {
			return ReenqueueResult{}, fmt.Errorf("list in-progress requests: %w", err)
		}
		result.Reenqueued += len(inProgress)
	} else {
		inProgress, err := s.store.RequestsByStatus(ctx, domain.StatusInProgress)
		if err == nil {
			result.Skipped = len(inProgress)
		}
	}

	if result.Reenqueued > 0 {
		s.pool.Signal()
	}
	return result, nil
}

// DedupeQueuedRequests merges duplicate active rows for every tuple that
// somehow has more than one, keeping the lowest id. Returns how many rows
// were merged away.
func (s *Service) DedupeQueuedRequests(ctx context.Context) (int, error) {
	groups, err := s.store.DuplicateActiveGroups(ctx)
	if err != nil {
		return 0, fmt.Errorf("find duplicate active groups: %w", err)
	}
	total := 0
	for _, key := range groups {
		merged, err := s.store.DedupeActiveGroup(ctx, key)
		if err != nil {
			return total, fmt.Errorf("dedupe group %+v: %w", key, err)
		}
		total += merged
	}
	return total, nil
}

// GetLogs returns a request's audit trail, oldest first.
func (s *Service) GetLogs(ctx context.Context, requestID int64) ([]domain.TranslationRequestLog, error) {
	return s.store.GetLogs(ctx, requestID)
}

// GetActiveCount reports how many rows currently have isActive=true.
func (s *Service) GetActiveCount(ctx context.Context) (int, error) {
	return s.store.ActiveCount(ctx)
}

// List returns a filtered, paginated page of requests.
func (s *Service) List(ctx context.Context, filter store.ListFilter) ([]domain.TranslationRequest, error) {
	return s.store.ListRequests(ctx, filter)
}

// RefreshPriorityForMedia forwards to the worker pool when an operator
// toggles priority on a media item that has an active request waiting in
// the normal queue.
func (s *Service) RefreshPriorityForMedia(ctx context.Context, mediaID int64, mediaKind domain.MediaKind) error {
	req, err := s.findActiveByMedia(ctx, mediaID, mediaKind)
	if err != nil {
		return err
	}
	if req == nil {
		return nil
	}
	s.pool.NotifyPriorityChanged(PoolKey(req.ID))
	return nil
}

func (s *Service) findActiveByMedia(ctx context.Context, mediaID int64, mediaKind domain.MediaKind) (*domain.TranslationRequest, error) {
	rows, err := s.store.ListRequests(ctx, store.ListFilter{Limit: 1000})
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	for _, r := range rows {
		if r.MediaID == mediaID && r.MediaKind == mediaKind && r.Status.IsActive() {
			return &r, nil
		}
	}
	return nil, nil
}

// StartupSweep transitions every row left InProgress from a prior process
// life to Interrupted, since no worker outlived the restart to drive its
// natural transition.
func (s *Service) StartupSweep(ctx context.Context) (int, error) {
	rows, err := s.store.RequestsByStatus(ctx, domain.StatusInProgress)
	if err != nil {
		return 0, fmt.Errorf("list in-progress requests: %w", err)
	}
	for _, r := range rows {
		if err := s.store.UpdateStatus(ctx, r.ID, domain.StatusInterrupted); err != nil {
			return 0, fmt.Errorf("interrupt request %d: %w", r.ID, err)
		}
		s.appendLog(ctx, r.ID, domain.LogWarn, "request interrupted by process restart")
		r.Status = domain.StatusInterrupted
		s.publishState(r)
	}
	return len(rows), nil
}

// UpdateProgress records progress and publishes it to subscribers. Callers
// (the pipeline) are expected to call this with monotonically increasing
// values per spec.md §8.
func (s *Service) UpdateProgress(ctx context.Context, id int64, progress int) error {
	if err := s.store.UpdateProgress(ctx, id, progress); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	s.bus.Publish(signalbus.Event{Group: PoolKey(id), Kind: signalbus.KindProgress, Data: progress})
	return nil
}

// TransitionStatus records a status change and publishes it.
func (s *Service) TransitionStatus(ctx context.Context, id int64, status domain.RequestStatus) error {
	if err := s.store.UpdateStatus(ctx, id, status); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	s.bus.Publish(signalbus.Event{Group: PoolKey(id), Kind: signalbus.KindState, Data: status})
	return nil
}

// Subscribe exposes the per-request event stream for the SSE/dashboard
// layer (spec.md §6).
func (s *Service) Subscribe(requestID int64) (<-chan signalbus.Event, func()) {
	return s.bus.Subscribe(PoolKey(requestID))
}

func (s *Service) appendLog(ctx context.Context, requestID int64, level domain.LogLevel, message string) {
	log := domain.TranslationRequestLog{RequestID: requestID, Level: level, Message: message}
	if err := s.store.AppendLog(ctx, log); err != nil {
		s.log.Warn().Err(err).Int64("request_id", requestID).Msg("failed to append request log")
	}
}

func (s *Service) publishState(req domain.TranslationRequest) {
	s.bus.Publish(signalbus.Event{Group: PoolKey(req.ID), Kind: signalbus.KindState, Data: req.Status})
}
