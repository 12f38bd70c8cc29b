// Package worker is the dispatcher that turns Pending TranslationRequest
// rows into Pipeline.Run calls under the Worker Pool's (C10) concurrency
// bound, wiring the Translation Request Service (C11) and the Subtitle
// Pipeline (C12) together. Grounded on the teacher's
// internal/core/concurrency.go Supervisor loop: a select over a wake
// signal and a fallback ticker, dispatching one goroutine per item and
// tracking in-flight work so the same row is never picked up twice.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/pipeline"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/translate/fallback"
)

// Store is the narrow persistence surface the dispatcher polls.
type Store interface {
	RequestsByStatus(ctx context.Context, status domain.RequestStatus) ([]domain.TranslationRequest, error)
	GetMedia(ctx context.Context, id int64) (domain.Media, error)
}

// Requests is the subset of *requests.Service the dispatcher drives.
type Requests interface {
	UpdateProgress(ctx context.Context, id int64, progress int) error
	TransitionStatus(ctx context.Context, id int64, status domain.RequestStatus) error
}

// Pool is the subset of *workerpool.Pool the dispatcher needs.
type Pool interface {
	Signals() <-chan struct{}
	RegisterRunning(key string, cancel context.CancelFunc)
	UnregisterRunning(key string)
	Acquire(ctx context.Context, key string, priority bool) (release func(), err error)
}

// PoolKeyFunc mirrors requests.PoolKey without importing the requests
// package, avoiding an import cycle (requests constructs *Pool itself).
type PoolKeyFunc func(id int64) string

// Dispatcher polls for Pending rows and runs each one through the
// pipeline, bounded by the pool's capacity.
type Dispatcher struct {
	store    Store
	requests Requests
	pool     Pool
	pipeline *pipeline.Pipeline
	caller   fallback.Caller
	settings func() pipeline.Settings
	poolKey  PoolKeyFunc
	log      zerolog.Logger

	pollInterval time.Duration

	mu        sync.Mutex
	inFlight  map[int64]bool
}

// New constructs a Dispatcher. settings is called once per dispatched
// request so a live settings change takes effect for the next request
// without needing to restart the process.
func New(store Store, requests Requests, pool Pool, pl *pipeline.Pipeline, caller fallback.Caller, settings func() pipeline.Settings, poolKey PoolKeyFunc, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:        store,
		requests:     requests,
		pool:         pool,
		pipeline:     pl,
		caller:       caller,
		settings:     settings,
		poolKey:      poolKey,
		pollInterval: 5 * time.Second,
		inFlight:     make(map[int64]bool),
		log:          log.With().Str("component", "worker").Logger(),
	}
}

// Run blocks until ctx is cancelled, polling on both the pool's wake
// signal and a periodic fallback tick so a request created between two
// signals is never stranded.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.pool.Signals():
			d.dispatchPending(ctx)
		case <-ticker.C:
			d.dispatchPending(ctx)
		}
	}
}

func (d *Dispatcher) dispatchPending(ctx context.Context) {
	pending, err := d.store.RequestsByStatus(ctx, domain.StatusPending)
	if err != nil {
		d.log.Error().Err(err).Msg("failed to list pending requests")
		return
	}
	for _, req := range pending {
		d.mu.Lock()
		already := d.inFlight[req.ID]
		if !already {
			d.inFlight[req.ID] = true
		}
		d.mu.Unlock()
		if already {
			continue
		}
		go d.runOne(ctx, req)
	}
}

func (d *Dispatcher) runOne(parent context.Context, req domain.TranslationRequest) {
	key := d.poolKey(req.ID)
	defer func() {
		d.mu.Lock()
		delete(d.inFlight, req.ID)
		d.mu.Unlock()
	}()

	jobCtx, cancel := context.WithCancel(parent)
	defer cancel()
	d.pool.RegisterRunning(key, cancel)
	defer d.pool.UnregisterRunning(key)

	release, err := d.pool.Acquire(jobCtx, key, req.IsPriority)
	if err != nil {
		d.log.Debug().Err(err).Int64("request_id", req.ID).Msg("acquire cancelled before a slot freed")
		return
	}
	defer release()

	if err := d.requests.TransitionStatus(jobCtx, req.ID, domain.StatusInProgress); err != nil {
		d.log.Error().Err(err).Int64("request_id", req.ID).Msg("failed to mark request in progress")
		return
	}

	job := pipeline.Job{Request: req, Settings: d.settings()}
	if req.SubtitleToTranslate == nil || *req.SubtitleToTranslate == "" {
		media, err := d.store.GetMedia(jobCtx, req.MediaID)
		if err != nil {
			d.fail(jobCtx, req.ID, err)
			return
		}
		job.MediaContainerPath = media.Path
	}

	onProgress := func(percent int) {
		if err := d.requests.UpdateProgress(jobCtx, req.ID, percent); err != nil {
			d.log.Warn().Err(err).Int64("request_id", req.ID).Msg("failed to persist progress")
		}
	}
	onLog := func(level domain.LogLevel, message string) {
		d.log.WithLevel(zerologLevel(level)).Int64("request_id", req.ID).Msg(message)
	}

	if _, err := d.pipeline.Run(jobCtx, job, d.caller, onProgress, onLog); err != nil {
		d.fail(jobCtx, req.ID, err)
		return
	}

	if err := d.requests.TransitionStatus(jobCtx, req.ID, domain.StatusCompleted); err != nil {
		d.log.Error().Err(err).Int64("request_id", req.ID).Msg("failed to mark request completed")
	}
}

func (d *Dispatcher) fail(ctx context.Context, id int64, err error) {
	d.log.Error().Err(err).Int64("request_id", id).Msg("request failed")
	status := domain.StatusFailed
	if ctx.Err() == context.Canceled {
		status = domain.StatusCancelled
	}
	if tErr := d.requests.TransitionStatus(context.WithoutCancel(ctx), id, status); tErr != nil {
		d.log.Error().Err(tErr).Int64("request_id", id).Msg("failed to persist failure status")
	}
}

func zerologLevel(l domain.LogLevel) zerolog.Level {
	switch l {
	case domain.LogTrace:
		return zerolog.TraceLevel
	case domain.LogDebug:
		return zerolog.DebugLevel
	case domain.LogInfo:
		return zerolog.InfoLevel
	case domain.LogWarn:
		return zerolog.WarnLevel
	case domain.LogError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
