package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the default single-node backend: one file, WAL mode,
// serialized writes.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration

	// now is swappable in tests
	now func() time.Time
}

// NewSQLiteStore opens (and if needed creates) the store at path.
func NewSQLiteStore(path string, ttl time.Duration) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite store: %w", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	if _, err := db.Exec(
		`CREATE TABLE IF NOT EXISTS idempotency (
			key        TEXT PRIMARY KEY,
			response   BLOB NOT NULL,
			status     INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error creating idempotency table: %w", err)
	}

	return &SQLiteStore{db: db, ttl: ttl, now: time.Now}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*Record, bool, error) {
	var (
		response []byte
		status   int
		created  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT response, status, created_at FROM idempotency WHERE key = ?`, key,
	).Scan(&response, &status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("error reading idempotency record: %w", err)
	}

	createdAt := time.Unix(created, 0)
	if s.now().Sub(createdAt) >= s.ttl {
		// Expired: evict lazily and report a miss.
		_, _ = s.db.ExecContext(ctx, `DELETE FROM idempotency WHERE key = ?`, key)
		return nil, false, nil
	}

	return &Record{Key: key, Response: response, Status: status, CreatedAt: createdAt}, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, rec *Record) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency (key, response, status, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			response = excluded.response,
			status = excluded.status,
			created_at = excluded.created_at`,
		rec.Key, rec.Response, rec.Status, createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("error writing idempotency record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.ttl).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency WHERE created_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("error sweeping idempotency records: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
