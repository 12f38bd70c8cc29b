package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
)

const mediaColumns = `id, external_id, kind, title, path, filename, date_added,
	exclude_from_translation, is_priority, priority_date, translation_age_threshold,
	season_id, show_id, translation_state, indexed_at, state_settings_version, last_subtitle_check_at`

// UpsertMedia inserts a new media row or updates the mutable fields of an
// existing one keyed by (external_id, kind) — the uniqueness invariant
// from spec.md §3. This is the write path the external Media Indexer
// collaborator drives.
func (s *Store) UpsertMedia(ctx context.Context, m domain.Media) (domain.Media, error) {
	const q = `
		INSERT INTO media (external_id, kind, title, path, filename, date_added,
			exclude_from_translation, is_priority, priority_date, translation_age_threshold,
			season_id, show_id, translation_state, indexed_at, state_settings_version, last_subtitle_check_at)
		VALUES (:external_id, :kind, :title, :path, :filename, :date_added,
			:exclude_from_translation, :is_priority, :priority_date, :translation_age_threshold,
			:season_id, :show_id, :translation_state, :indexed_at, :state_settings_version, :last_subtitle_check_at)
		ON CONFLICT (external_id, kind) DO UPDATE SET
			title = EXCLUDED.title, path = EXCLUDED.path, filename = EXCLUDED.filename
		RETURNING ` + mediaColumns

	rows, err := s.db.NamedQueryContext(ctx, q, m)
	if err != nil {
		return domain.Media{}, err
	}
	defer rows.Close()
	var out domain.Media
	if rows.Next() {
		if err := rows.StructScan(&out); err != nil {
			return domain.Media{}, err
		}
	}
	return out, nil
}

// GetMedia fetches one row by id.
func (s *Store) GetMedia(ctx context.Context, id int64) (domain.Media, error) {
	const q = `SELECT ` + mediaColumns + ` FROM media WHERE id=$1`
	var out domain.Media
	err := s.db.GetContext(ctx, &out, q, id)
	return out, err
}

// SetTranslationState is the Media State Engine's (C13) exclusive write
// path onto media.translationState* per spec.md §3's ownership rule.
func (s *Store) SetTranslationState(ctx context.Context, id int64, state domain.TranslationState, settingsVersion int64) error {
	const q = `UPDATE media SET translation_state=$2, state_settings_version=$3 WHERE id=$1`
	_, err := s.db.ExecContext(ctx, q, id, state, settingsVersion)
	return err
}

// MarkAllStale sets translationState=Stale on every row, per spec.md
// §4.13's markAllStale.
func (s *Store) MarkAllStale(ctx context.Context) error {
	const q = `UPDATE media SET translation_state=$1`
	_, err := s.db.ExecContext(ctx, q, domain.StateStale)
	return err
}

// SetExcludeFromTranslation toggles the dashboard's per-media exclusion
// switch (spec.md §6's "exclusion/priority/threshold toggles").
func (s *Store) SetExcludeFromTranslation(ctx context.Context, id int64, exclude bool) error {
	const q = `UPDATE media SET exclude_from_translation=$2 WHERE id=$1`
	_, err := s.db.ExecContext(ctx, q, id, exclude)
	return err
}

// SetPriority toggles is_priority, stamping priority_date when it is set
// and clearing it when unset.
func (s *Store) SetPriority(ctx context.Context, id int64, priority bool) error {
	const q = `UPDATE media SET is_priority=$2, priority_date=CASE WHEN $2 THEN now() ELSE NULL END WHERE id=$1`
	_, err := s.db.ExecContext(ctx, q, id, priority)
	return err
}

// SetAgeThreshold updates the minimum age automation waits before
// considering a media item.
func (s *Store) SetAgeThreshold(ctx context.Context, id int64, threshold time.Duration) error {
	const q = `UPDATE media SET translation_age_threshold=$2 WHERE id=$1`
	_, err := s.db.ExecContext(ctx, q, id, threshold)
	return err
}

// ListMedia returns a page of media rows, newest-added first, for the
// dashboard's media list endpoint.
func (s *Store) ListMedia(ctx context.Context, limit, offset int) ([]domain.Media, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT ` + mediaColumns + ` FROM media ORDER BY date_added DESC LIMIT $1 OFFSET $2`
	var out []domain.Media
	err := s.db.SelectContext(ctx, &out, q, limit, offset)
	return out, err
}

// MediaNeedingTranslation implements spec.md §4.13's
// getMediaNeedingTranslation: rows with translationState in
// {Pending, Stale, Unknown}, no active request, ordered priority first
// then dateAdded ascending, limited to limit rows and subject to
// ageThreshold (media must be at least that old).
func (s *Store) MediaNeedingTranslation(ctx context.Context, limit int, priorityFirst bool) ([]domain.Media, error) {
	order := "date_added ASC"
	if priorityFirst {
		order = "is_priority DESC, date_added ASC"
	}
	q := `
		SELECT ` + mediaColumns + ` FROM media m
		WHERE m.translation_state IN ($1, $2, $3)
		  AND now() - m.date_added >= (m.translation_age_threshold * interval '1 second')
		  AND NOT EXISTS (
		    SELECT 1 FROM translation_request r
		    WHERE r.media_id = m.id AND r.is_active IS TRUE
		  )
		ORDER BY ` + order + `
		LIMIT $4`
	var out []domain.Media
	err := s.db.SelectContext(ctx, &out, q,
		domain.StatePending, domain.StateStale, domain.StateUnknown, limit)
	return out, err
}

// SetLastSubtitleCheck records the last time the sidecar directory for a
// media item was inspected.
func (s *Store) SetLastSubtitleCheck(ctx context.Context, id int64, at time.Time) error {
	const q = `UPDATE media SET last_subtitle_check_at=$2 WHERE id=$1`
	_, err := s.db.ExecContext(ctx, q, id, at)
	return err
}

const embeddedSubtitleColumns = `id, media_id, media_kind, stream_index, language, title,
	codec_name, is_text_based, is_default, is_forced, is_extracted, extracted_path`

// ReplaceEmbeddedSubtitles deletes and reinserts every EmbeddedSubtitle row
// for a media item — the Embedded Probe/Extractor's (C3) exclusive write
// path per spec.md §3. Replacing wholesale rather than diffing keeps
// stream-index bookkeeping simple: a re-probe after the container changes
// just starts from a clean slate.
func (s *Store) ReplaceEmbeddedSubtitles(ctx context.Context, mediaID int64, kind domain.MediaKind, subs []domain.EmbeddedSubtitle) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM embedded_subtitle WHERE media_id=$1 AND media_kind=$2`, mediaID, kind); err != nil {
			return err
		}
		const q = `INSERT INTO embedded_subtitle (media_id, media_kind, stream_index, language, title,
			codec_name, is_text_based, is_default, is_forced, is_extracted, extracted_path)
			VALUES (:media_id, :media_kind, :stream_index, :language, :title,
			:codec_name, :is_text_based, :is_default, :is_forced, :is_extracted, :extracted_path)`
		for _, sub := range subs {
			sub.MediaID = mediaID
			sub.MediaKind = kind
			if _, err := tx.NamedExecContext(ctx, q, sub); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListEmbeddedSubtitles returns every probed subtitle stream for a media
// item, for C4 to score.
func (s *Store) ListEmbeddedSubtitles(ctx context.Context, mediaID int64, kind domain.MediaKind) ([]domain.EmbeddedSubtitle, error) {
	const q = `SELECT ` + embeddedSubtitleColumns + ` FROM embedded_subtitle WHERE media_id=$1 AND media_kind=$2 ORDER BY stream_index ASC`
	var out []domain.EmbeddedSubtitle
	err := s.db.SelectContext(ctx, &out, q, mediaID, kind)
	return out, err
}

// MarkExtracted flips isExtracted/extractedPath on one stream row, the
// Extractor's only mutation per spec.md §4.3.
func (s *Store) MarkExtracted(ctx context.Context, id int64, extractedPath string) error {
	const q = `UPDATE embedded_subtitle SET is_extracted=true, extracted_path=$2 WHERE id=$1`
	_, err := s.db.ExecContext(ctx, q, id, extractedPath)
	return err
}
