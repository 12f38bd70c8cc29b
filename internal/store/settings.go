package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Setting is one row of the keyed string configuration surface (spec.md
// §3/§6). Kept here rather than in internal/domain since nothing outside
// internal/settingsstore and this package needs the row shape — consumers
// see typed accessors from internal/settingsstore instead.
type Setting struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// GetSetting fetches one row; ok is false if the key has never been set.
func (s *Store) GetSetting(ctx context.Context, key string) (value string, ok bool, err error) {
	const q = `SELECT value FROM setting WHERE key=$1`
	err = s.db.GetContext(ctx, &value, q, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// PutSetting upserts one key/value pair, bumping updated_at so read-through
// caches can tell freshness apart without a separate change log.
func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	const q = `
		INSERT INTO setting (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=now()`
	_, err := s.db.ExecContext(ctx, q, key, value)
	return err
}

// AllSettings loads every row, for process bootstrap.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	var rows []Setting
	if err := s.db.SelectContext(ctx, &rows, `SELECT key, value, updated_at FROM setting`); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}
