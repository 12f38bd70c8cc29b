package providers

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
)

// RetryPolicy wraps a Provider so transient failures are retried with
// exponential backoff before the caller ever sees them, per spec.md §4.5's
// "TransientProviderError ... retried by the pipeline with exponential
// backoff governed by settings". The failsafe.Get/retrypolicy.Builder usage
// here follows the teacher's buildRetryPolicy in internal/pkg/voice/voice.go
// line for line, generalized to translation results instead of
// transcriptions.
type RetryPolicy struct {
	Provider
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// WithRetry returns p wrapped so TranslateSingle/TranslateBatch retry on
// ErrTransientProvider up to maxAttempts times, backing off from baseDelay
// to maxDelay (doubling each attempt). PaymentRequired, DailyLimitReached,
// and InvalidResponse are never retried here — those are handled by C6 and
// C7 respectively, one layer up.
func WithRetry(p Provider, maxAttempts int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{Provider: p, maxAttempts: maxAttempts, baseDelay: baseDelay, maxDelay: maxDelay}
}

func (r *RetryPolicy) policy() failsafe.Policy[map[int]string] {
	return retrypolicy.Builder[map[int]string]().
		HandleIf(func(_ map[int]string, err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return false
			}
			kind, ok := domain.KindOf(err)
			return !ok || kind == domain.ErrTransientProvider
		}).
		AbortOnErrors(context.Canceled).
		WithMaxAttempts(r.maxAttempts).
		ReturnLastFailure().
		WithBackoffFactor(r.baseDelay, r.maxDelay, 2.0).
		Build()
}

func (r *RetryPolicy) TranslateBatch(ctx context.Context, items []BatchItem, source, target string, preContext, postContext []string) (map[int]string, error) {
	return failsafe.Get(func() (map[int]string, error) {
		return r.Provider.TranslateBatch(ctx, items, source, target, preContext, postContext)
	}, r.policy())
}

func (r *RetryPolicy) TranslateSingle(ctx context.Context, line, source, target string) (string, error) {
	singlePolicy := retrypolicy.Builder[string]().
		HandleIf(func(_ string, err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return false
			}
			kind, ok := domain.KindOf(err)
			return !ok || kind == domain.ErrTransientProvider
		}).
		AbortOnErrors(context.Canceled).
		WithMaxAttempts(r.maxAttempts).
		ReturnLastFailure().
		WithBackoffFactor(r.baseDelay, r.maxDelay, 2.0).
		Build()

	return failsafe.Get(func() (string, error) {
		return r.Provider.TranslateSingle(ctx, line, source, target)
	}, singlePolicy)
}
