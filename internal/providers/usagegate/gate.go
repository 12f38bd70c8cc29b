// Package usagegate implements the Usage-Limit Gate (C6): per-day request
// counting and a payment-required pause for the cost-metered provider. The
// redis client usage (ParseURL/NewClient, atomic INCR+EXPIRE, SET with a
// TTL as a pause flag) follows the Redis wrapper pattern in
// _gofiber_starter/infrastructure/redis/client.go.
package usagegate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
)

// Limits is the per-model quota spec.md §4.6 defines.
type Limits struct {
	PlanRequestsPerDay     int
	OverrideRequestsPerDay *int
	RequestBuffer          int
}

func (l Limits) allowed() int {
	base := l.PlanRequestsPerDay
	if l.OverrideRequestsPerDay != nil {
		base = *l.OverrideRequestsPerDay
	}
	allowed := base - l.RequestBuffer
	if allowed < 0 {
		return 0
	}
	return allowed
}

// Gate tracks usage for one or more metered providers/models in Redis.
type Gate struct {
	rdb *redis.Client
	log zerolog.Logger
}

func New(rdb *redis.Client, log zerolog.Logger) *Gate {
	return &Gate{rdb: rdb, log: log.With().Str("component", "usagegate").Logger()}
}

func counterKey(modelID string) string { return "usagegate:count:" + modelID }
func pauseKey(modelID string) string   { return "usagegate:pause:" + modelID }

// secondsUntilUTCMidnight is the default TTL for a fresh day's counter.
func secondsUntilUTCMidnight(now time.Time) time.Duration {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return midnight.Sub(now)
}

// EnsureRequestAllowed fails with DailyLimitReached when the model's
// counter has reached limits.allowed(), or with PaymentRequired while a
// pause flag set by NotifyPaymentRequired is still live.
func (g *Gate) EnsureRequestAllowed(ctx context.Context, modelID string, limits Limits) error {
	paused, err := g.rdb.Exists(ctx, pauseKey(modelID)).Result()
	if err != nil {
		return domain.NewError(domain.ErrTransientProvider, err, "usage gate unavailable")
	}
	if paused > 0 {
		return domain.NewError(domain.ErrPaymentRequired, nil, fmt.Sprintf("%s is paused pending payment", modelID))
	}

	used, err := g.rdb.Get(ctx, counterKey(modelID)).Int()
	if err != nil && err != redis.Nil {
		return domain.NewError(domain.ErrTransientProvider, err, "usage gate unavailable")
	}
	if used >= limits.allowed() {
		return domain.NewError(domain.ErrDailyLimitReached, nil, fmt.Sprintf("%s has used %d/%d requests today", modelID, used, limits.allowed()))
	}
	return nil
}

// RecordRequest atomically increments modelID's counter, setting its
// expiry to UTC midnight the first time the key is created in a given day.
func (g *Gate) RecordRequest(ctx context.Context, modelID string) error {
	key := counterKey(modelID)
	count, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return domain.NewError(domain.ErrTransientProvider, err, "failed to record usage")
	}
	if count == 1 {
		if err := g.rdb.Expire(ctx, key, secondsUntilUTCMidnight(time.Now())).Err(); err != nil {
			g.log.Warn().Err(err).Str("model", modelID).Msg("failed to set usage counter expiry")
		}
	}
	return nil
}

// Snapshot reads modelID's current usage counters without mutating them,
// for the dashboard's provider-usage endpoint (spec.md §6). allowed
// requires the caller's limits since the gate itself stores no quota
// configuration, only the per-day counter and pause flag.
func (g *Gate) Snapshot(ctx context.Context, modelID string, limits Limits) (used int, allowed int, paused bool, err error) {
	usedVal, err := g.rdb.Get(ctx, counterKey(modelID)).Int()
	if err != nil && err != redis.Nil {
		return 0, 0, false, err
	}
	pausedCount, err := g.rdb.Exists(ctx, pauseKey(modelID)).Result()
	if err != nil {
		return 0, 0, false, err
	}
	return usedVal, limits.allowed(), pausedCount > 0, nil
}

// NotifyPaymentRequired sets a pause flag that makes EnsureRequestAllowed
// fail until resetAt. When the provider doesn't report a resetAt, the
// pause lasts until the next UTC midnight.
func (g *Gate) NotifyPaymentRequired(ctx context.Context, modelID string, resetAt *time.Time) error {
	ttl := secondsUntilUTCMidnight(time.Now())
	if resetAt != nil {
		if d := time.Until(*resetAt); d > 0 {
			ttl = d
		}
	}
	if err := g.rdb.Set(ctx, pauseKey(modelID), "1", ttl).Err(); err != nil {
		return domain.NewError(domain.ErrTransientProvider, err, "failed to set payment-required pause")
	}
	g.log.Warn().Str("model", modelID).Dur("pause_duration", ttl).Msg("provider paused pending payment")
	return nil
}
