package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps records in the Postgres instance deployments already
// run for the trading stack.
type PostgresStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration

	now func() time.Time
}

// NewPostgresStore connects and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string, ttl time.Duration) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("error connecting to postgres: %w", err)
	}

	if _, err := pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS push_idempotency (
			key        TEXT PRIMARY KEY,
			response   BYTEA NOT NULL,
			status     INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error creating push_idempotency table: %w", err)
	}

	return &PostgresStore{pool: pool, ttl: ttl, now: time.Now}, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Record, bool, error) {
	var (
		response  []byte
		status    int
		createdAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT response, status, created_at FROM push_idempotency WHERE key = $1`, key,
	).Scan(&response, &status, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("error reading idempotency record: %w", err)
	}

	if s.now().Sub(createdAt) >= s.ttl {
		_, _ = s.pool.Exec(ctx, `DELETE FROM push_idempotency WHERE key = $1`, key)
		return nil, false, nil
	}

	return &Record{Key: key, Response: response, Status: status, CreatedAt: createdAt}, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, rec *Record) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO push_idempotency (key, response, status, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET
			response = EXCLUDED.response,
			status = EXCLUDED.status,
			created_at = EXCLUDED.created_at`,
		rec.Key, rec.Response, rec.Status, createdAt,
	)
	if err != nil {
		return fmt.Errorf("error writing idempotency record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Sweep(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM push_idempotency WHERE created_at <= $1`, s.now().Add(-s.ttl))
	if err != nil {
		return 0, fmt.Errorf("error sweeping idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
