package domain

import "fmt"

// ErrKind enumerates the error kinds in spec.md §7. Components never raise
// raw sentinel errors for these cases; they wrap the underlying cause in a
// *TranslationError so the worker boundary (C10) can map kind -> request
// status transition without inspecting error strings.
type ErrKind string

const (
	ErrTransientProvider   ErrKind = "transient_provider_error"
	ErrDailyLimitReached   ErrKind = "daily_limit_reached"
	ErrPaymentRequired     ErrKind = "payment_required"
	ErrInvalidResponse     ErrKind = "invalid_provider_response"
	ErrIntegrityFailed     ErrKind = "integrity_failed"
	ErrMalformedSubtitle   ErrKind = "malformed_subtitle"
	ErrProbeFailed         ErrKind = "probe_failed"
	ErrExtractionFailed    ErrKind = "extraction_failed"
	ErrCancelled           ErrKind = "cancelled"
	ErrTimedOut            ErrKind = "timed_out"
	ErrInterrupted         ErrKind = "interrupted"
)

// TranslationError is the sum-of-kinds result type called for by spec.md §9
// ("model as a result type with a sum of error kinds ... translate to an
// error at the outermost worker boundary"), grounded on the teacher's
// internal/core/logtypes.go ProcessingError.
type TranslationError struct {
	Kind    ErrKind
	Reason  string
	Err     error
	Context map[string]any
}

func (e *TranslationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *TranslationError) Unwrap() error { return e.Err }

// NewError builds a *TranslationError, optionally carrying a free-form reason
// string (used verbatim in log messages, e.g. "IntegrityFailed:drawings").
func NewError(kind ErrKind, err error, reason string) *TranslationError {
	return &TranslationError{Kind: kind, Err: err, Reason: reason}
}

// KindOf extracts the ErrKind from err if it (or something it wraps) is a
// *TranslationError, returning ("", false) otherwise.
func KindOf(err error) (ErrKind, bool) {
	var te *TranslationError
	if as(err, &te) {
		return te.Kind, true
	}
	return "", false
}

// as is a tiny local errors.As to avoid importing errors in every caller
// that just wants KindOf; kept private and trivial on purpose.
func as(err error, target **TranslationError) bool {
	for err != nil {
		if te, ok := err.(*TranslationError); ok {
			*target = te
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
