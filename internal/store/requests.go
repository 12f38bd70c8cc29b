package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
)

// ErrDuplicateActiveRequest is returned by CreateRequest when the partial
// unique index on (media_id, media_kind, source_language, target_language)
// WHERE is_active rejects the insert — the concurrent-creator race spec.md
// §5 calls out explicitly.
var ErrDuplicateActiveRequest = errors.New("duplicate active translation request")

const requestColumns = `id, media_id, media_kind, title, source_language, target_language,
	subtitle_to_translate, status, progress, created_at, completed_at, job_id, is_active, is_priority`

// CreateRequest inserts row with status=Pending, isActive=true. On a
// uniqueness conflict it looks up and returns the existing active row
// instead of erroring, per spec.md §4.11's idempotence guarantee — the
// caller cannot tell a fresh insert from a caught duplicate by return value
// alone, matching "the second call returns the same requestId".
func (s *Store) CreateRequest(ctx context.Context, req domain.TranslationRequest) (domain.TranslationRequest, error) {
	req.Status = domain.StatusPending
	active := true
	req.IsActive = &active

	const q = `
		INSERT INTO translation_request
			(media_id, media_kind, title, source_language, target_language,
			 subtitle_to_translate, status, progress, is_active, is_priority)
		VALUES
			(:media_id, :media_kind, :title, :source_language, :target_language,
			 :subtitle_to_translate, :status, 0, :is_active, :is_priority)
		RETURNING ` + requestColumns

	rows, err := s.db.NamedQueryContext(ctx, q, req)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			existing, getErr := s.getActiveRequest(ctx, req.Key())
			if getErr != nil {
				return domain.TranslationRequest{}, fmt.Errorf("lookup existing active request: %w", getErr)
			}
			return existing, nil
		}
		return domain.TranslationRequest{}, fmt.Errorf("insert translation request: %w", err)
	}
	defer rows.Close()

	var out domain.TranslationRequest
	if rows.Next() {
		if err := rows.StructScan(&out); err != nil {
			return domain.TranslationRequest{}, fmt.Errorf("scan inserted request: %w", err)
		}
	}
	return out, nil
}

func (s *Store) getActiveRequest(ctx context.Context, key domain.RequestKey) (domain.TranslationRequest, error) {
	const q = `SELECT ` + requestColumns + ` FROM translation_request
		WHERE media_id=$1 AND media_kind=$2 AND source_language=$3 AND target_language=$4 AND is_active IS TRUE`
	var out domain.TranslationRequest
	err := s.db.GetContext(ctx, &out, q, key.MediaID, key.MediaKind, key.SourceLanguage, key.TargetLanguage)
	return out, err
}

// GetRequest fetches one row by id.
func (s *Store) GetRequest(ctx context.Context, id int64) (domain.TranslationRequest, error) {
	const q = `SELECT ` + requestColumns + ` FROM translation_request WHERE id=$1`
	var out domain.TranslationRequest
	err := s.db.GetContext(ctx, &out, q, id)
	return out, err
}

// UpdateStatus transitions status and, when the new status is terminal,
// clears isActive to null per spec.md §3. completedAt is set only when the
// status is a terminal one.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status domain.RequestStatus) error {
	var isActive any
	if status.IsActive() {
		v := true
		isActive = v
	} else {
		isActive = nil
	}

	const q = `
		UPDATE translation_request
		SET status=$2, is_active=$3,
		    completed_at = CASE WHEN $4 THEN now() ELSE completed_at END
		WHERE id=$1`
	_, err := s.db.ExecContext(ctx, q, id, status, isActive, status.IsTerminal())
	return err
}

// UpdateProgress sets progress for an in-flight request. Callers are
// responsible for monotonicity (spec.md §8); the store does not enforce it
// since enforcing it here would require a read-modify-write round trip per
// batch.
func (s *Store) UpdateProgress(ctx context.Context, id int64, progress int) error {
	const q = `UPDATE translation_request SET progress=$2 WHERE id=$1`
	_, err := s.db.ExecContext(ctx, q, id, progress)
	return err
}

// SetJobID records the worker-assigned job identifier once a request is
// picked up by the pool.
func (s *Store) SetJobID(ctx context.Context, id int64, jobID string) error {
	const q = `UPDATE translation_request SET job_id=$2 WHERE id=$1`
	_, err := s.db.ExecContext(ctx, q, id, jobID)
	return err
}

// SetSubtitleToTranslate records the extracted sidecar path once C3
// extraction completes for a request that started with a null path.
func (s *Store) SetSubtitleToTranslate(ctx context.Context, id int64, path string) error {
	const q = `UPDATE translation_request SET subtitle_to_translate=$2 WHERE id=$1`
	_, err := s.db.ExecContext(ctx, q, id, path)
	return err
}

// Remove deletes a row that is not InProgress; returns sql.ErrNoRows-style
// zero count via the bool if nothing was deleted (either absent or
// in-progress).
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	const q = `DELETE FROM translation_request WHERE id=$1 AND status != $2`
	res, err := s.db.ExecContext(ctx, q, id, domain.StatusInProgress)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListFilter narrows ListRequests; zero values are "no filter".
type ListFilter struct {
	SearchQuery string
	Status      domain.RequestStatus
	OrderBy     string // "created_at" or "progress"; defaults to created_at
	Ascending   bool
	Limit       int
	Offset      int
}

// ListRequests returns a page of rows matching filter, newest first unless
// Ascending is set.
func (s *Store) ListRequests(ctx context.Context, filter ListFilter) ([]domain.TranslationRequest, error) {
	order := "created_at"
	if filter.OrderBy == "progress" {
		order = "progress"
	}
	dir := "DESC"
	if filter.Ascending {
		dir = "ASC"
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT ` + requestColumns + ` FROM translation_request WHERE 1=1`
	args := map[string]any{"limit": limit, "offset": filter.Offset}
	if filter.SearchQuery != "" {
		q += ` AND title ILIKE :search`
		args["search"] = "%" + filter.SearchQuery + "%"
	}
	if filter.Status != "" {
		q += ` AND status = :status`
		args["status"] = filter.Status
	}
	q += fmt.Sprintf(` ORDER BY %s %s LIMIT :limit OFFSET :offset`, order, dir)

	stmt, err := s.db.PrepareNamedContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("prepare list query: %w", err)
	}
	defer stmt.Close()

	var out []domain.TranslationRequest
	if err := stmt.SelectContext(ctx, &out, args); err != nil {
		return nil, fmt.Errorf("list translation requests: %w", err)
	}
	return out, nil
}

// ActiveCount reports how many rows currently have isActive=true.
func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	const q = `SELECT count(*) FROM translation_request WHERE is_active IS TRUE`
	var n int
	err := s.db.GetContext(ctx, &n, q)
	return n, err
}

// RequestsByStatus lists every row in status, oldest first, used by
// reenqueueQueued and the startup interrupted-rows sweep.
func (s *Store) RequestsByStatus(ctx context.Context, status domain.RequestStatus) ([]domain.TranslationRequest, error) {
	const q = `SELECT ` + requestColumns + ` FROM translation_request WHERE status=$1 ORDER BY created_at ASC`
	var out []domain.TranslationRequest
	err := s.db.SelectContext(ctx, &out, q, status)
	return out, err
}

// DuplicateActiveGroups finds (key, ids) groups with more than one active
// row, for DedupeQueuedRequests to collapse.
func (s *Store) DuplicateActiveGroups(ctx context.Context) ([]domain.RequestKey, error) {
	const q = `
		SELECT media_id, media_kind, source_language, target_language
		FROM translation_request
		WHERE is_active IS TRUE
		GROUP BY media_id, media_kind, source_language, target_language
		HAVING count(*) > 1`
	type row struct {
		MediaID        int64         `db:"media_id"`
		MediaKind      domain.MediaKind `db:"media_kind"`
		SourceLanguage string        `db:"source_language"`
		TargetLanguage string        `db:"target_language"`
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	out := make([]domain.RequestKey, len(rows))
	for i, r := range rows {
		out[i] = domain.RequestKey{MediaID: r.MediaID, MediaKind: r.MediaKind, SourceLanguage: r.SourceLanguage, TargetLanguage: r.TargetLanguage}
	}
	return out, nil
}

// ActiveRequestsForKey returns every active row for key, ordered by id
// ascending so the caller can keep rows[0] and deactivate the rest.
func (s *Store) ActiveRequestsForKey(ctx context.Context, key domain.RequestKey) ([]domain.TranslationRequest, error) {
	const q = `SELECT ` + requestColumns + ` FROM translation_request
		WHERE media_id=$1 AND media_kind=$2 AND source_language=$3 AND target_language=$4 AND is_active IS TRUE
		ORDER BY id ASC`
	var out []domain.TranslationRequest
	err := s.db.SelectContext(ctx, &out, q, key.MediaID, key.MediaKind, key.SourceLanguage, key.TargetLanguage)
	return out, err
}

// RewireLogs moves every log row from fromRequestID to toRequestID, used
// when DedupeQueuedRequests collapses duplicate rows into the
// lowest-id survivor.
func (s *Store) RewireLogs(ctx context.Context, fromRequestID, toRequestID int64) error {
	const q = `UPDATE translation_request_log SET request_id=$2 WHERE request_id=$1`
	_, err := s.db.ExecContext(ctx, q, fromRequestID, toRequestID)
	return err
}

// AppendLog writes one audit row before (or instead of) a status change,
// per spec.md §7's "append to TranslationRequestLog before changing status".
func (s *Store) AppendLog(ctx context.Context, log domain.TranslationRequestLog) error {
	const q = `INSERT INTO translation_request_log (request_id, level, message, details) VALUES (:request_id, :level, :message, :details)`
	_, err := s.db.NamedExecContext(ctx, q, log)
	return err
}

// GetLogs returns every log row for a request, oldest first.
func (s *Store) GetLogs(ctx context.Context, requestID int64) ([]domain.TranslationRequestLog, error) {
	const q = `SELECT id, request_id, level, message, details, created_at FROM translation_request_log WHERE request_id=$1 ORDER BY created_at ASC`
	var out []domain.TranslationRequestLog
	err := s.db.SelectContext(ctx, &out, q, requestID)
	return out, err
}

// withTx runs fn inside a transaction, grounded on the common sqlx
// begin/commit/rollback-on-error idiom.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// DedupeActiveGroup collapses every active row for key down to the
// lowest-id survivor: later rows have their logs rewired onto the survivor
// and are then deactivated (isActive set to null, status left as a
// harmless terminal marker distinct from the survivor's real status), per
// spec.md §4.11's dedupeQueuedRequests. Returns the number of rows merged
// away.
func (s *Store) DedupeActiveGroup(ctx context.Context, key domain.RequestKey) (merged int, err error) {
	rows, err := s.ActiveRequestsForKey(ctx, key)
	if err != nil || len(rows) < 2 {
		return 0, err
	}
	survivor := rows[0]

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, dup := range rows[1:] {
			if _, err := tx.ExecContext(ctx, `UPDATE translation_request_log SET request_id=$2 WHERE request_id=$1`, dup.ID, survivor.ID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE translation_request SET is_active=NULL, status=$2 WHERE id=$1`, dup.ID, domain.StatusCancelled); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(rows) - 1, nil
}
