// Package store is the only package that imports sqlx/lib-pq/goose: every
// other package consumes internal/domain types and never sees a *sqlx.DB.
// Grounded on the teacher's connection-bootstrap idiom (sql.Open + Ping +
// pool sizing), adapted to sqlx and extended with goose migrations since
// the teacher has neither a persistent store nor a migration runner.
package store

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the shared connection pool. Request/Media/Setting query
// methods live in sibling files, all as methods on *Store, to keep one
// pool and one set of prepared-statement caches per process.
type Store struct {
	db  *sqlx.DB
	log zerolog.Logger
}

// Open connects to dsn (a postgres connection string, typically the
// DB_CONNECTION environment variable from spec.md §6) and verifies
// connectivity with a bounded retry, since the store may win a race
// against its own container at startup.
func Open(ctx context.Context, dsn string, log zerolog.Logger) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	const maxAttempts = 5
	var pingErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if pingErr = db.PingContext(ctx); pingErr == nil {
			break
		}
		log.Warn().Err(pingErr).Int("attempt", attempt).Msg("store ping failed, retrying")
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	if pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("store unreachable after %d attempts: %w", maxAttempts, pingErr)
	}

	return &Store{db: db, log: log.With().Str("component", "store").Logger()}, nil
}

// Migrate applies every pending goose migration embedded in this binary.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }
