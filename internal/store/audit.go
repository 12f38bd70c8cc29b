package store

import "context"

// AppendCleanupLog records one orphaned-sidecar deletion for the
// Scheduler's (C14) cleanup job.
func (s *Store) AppendCleanupLog(ctx context.Context, mediaID int64, path, reason string) error {
	const q = `INSERT INTO subtitle_cleanup_log (media_id, path, reason) VALUES ($1, $2, $3)`
	_, err := s.db.ExecContext(ctx, q, mediaID, path, reason)
	return err
}

// AppendProviderLog records one rate/usage event (spec.md §3's
// SubtitleProviderLog), independent of the per-request
// TranslationRequestLog audit trail.
func (s *Store) AppendProviderLog(ctx context.Context, provider, event, detail string) error {
	const q = `INSERT INTO subtitle_provider_log (provider, event, detail) VALUES ($1, $2, $3)`
	_, err := s.db.ExecContext(ctx, q, provider, event, detail)
	return err
}
