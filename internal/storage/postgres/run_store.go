// Package postgres provides the Postgres-backed run ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/warc-langfilter/internal/store"
)

// Config controls the Postgres connection pool used for the ledger.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            uuid PRIMARY KEY,
	started_at    timestamptz NOT NULL,
	finished_at   timestamptz,
	status        text NOT NULL,
	error_message text
);
CREATE TABLE IF NOT EXISTS shard_runs (
	run_id      uuid NOT NULL REFERENCES runs(id),
	shard_id    text NOT NULL,
	batch_index integer NOT NULL,
	status      text NOT NULL,
	source      text NOT NULL DEFAULT '',
	bytes       bigint NOT NULL DEFAULT 0,
	records     bigint NOT NULL DEFAULT 0,
	emitted     bigint NOT NULL DEFAULT 0,
	failed      bigint NOT NULL DEFAULT 0,
	elapsed_ms  bigint NOT NULL DEFAULT 0,
	error       text,
	started_at  timestamptz NOT NULL,
	finished_at timestamptz,
	PRIMARY KEY (run_id, shard_id)
);`

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool pool
}

// NewRunStore connects to Postgres using cfg.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: p}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: p}, nil
}

// Ping reports whether the database is reachable.
func (s *RunStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the ledger tables when they are missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

// UpsertRunStart inserts or refreshes a run row in the running state.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO runs (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status
		WHERE runs.status <> EXCLUDED.status;
	`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run as finished with a status and optional error message.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// UpsertShardStart records that a shard began. A rerun of the same shard in
// the same run resets its counters.
func (s *RunStore) UpsertShardStart(
	ctx context.Context,
	runID uuid.UUID,
	shardID string,
	batch int,
	startedAt time.Time,
) error {
	query := `
		INSERT INTO shard_runs (run_id, shard_id, batch_index, status, started_at)
		VALUES ($1, $2, $3, 'running', $4)
		ON CONFLICT (run_id, shard_id) DO UPDATE
		SET status = 'running', batch_index = EXCLUDED.batch_index, started_at = EXCLUDED.started_at,
			records = 0, emitted = 0, failed = 0, error = NULL, finished_at = NULL;
	`
	if _, err := s.pool.Exec(ctx, query, runID, shardID, batch, startedAt); err != nil {
		return fmt.Errorf("failed to upsert shard start: %w", err)
	}
	return nil
}

// CompleteShard stores the terminal state of a shard, inserting the row if
// its start was never recorded.
func (s *RunStore) CompleteShard(ctx context.Context, shard store.ShardRun) error {
	query := `
		UPDATE shard_runs
		SET status = $1, source = $2, bytes = $3, records = $4, emitted = $5, failed = $6,
			elapsed_ms = $7, error = $8, finished_at = $9
		WHERE run_id = $10 AND shard_id = $11;
	`
	res, err := s.pool.Exec(ctx, query,
		shard.Status, shard.Source, shard.Bytes, shard.Records, shard.Emitted, shard.Failed,
		shard.ElapsedMs, shard.Error, shard.FinishedAt, shard.RunID, shard.ShardID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete shard: %w", err)
	}
	if res.RowsAffected() > 0 {
		return nil
	}

	startedAt := shard.StartedAt
	if startedAt.IsZero() && shard.FinishedAt != nil {
		startedAt = *shard.FinishedAt
	}
	query = `
		INSERT INTO shard_runs (run_id, shard_id, batch_index, status, source, bytes, records, emitted,
			failed, elapsed_ms, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (run_id, shard_id) DO NOTHING;
	`
	_, err = s.pool.Exec(ctx, query,
		shard.RunID, shard.ShardID, shard.Batch, shard.Status, shard.Source, shard.Bytes,
		shard.Records, shard.Emitted, shard.Failed, shard.ElapsedMs, shard.Error, startedAt, shard.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert shard row: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, started_at, finished_at, status, error_message
		FROM runs
		WHERE id = $1;
	`
	var run store.Run
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListShards retrieves shard rows for a run, with optional status filtering.
func (s *RunStore) ListShards(
	ctx context.Context,
	runID uuid.UUID,
	status *string,
	limit,
	offset int,
) ([]store.ShardRun, error) {
	query := `
		SELECT run_id, shard_id, batch_index, status, source, bytes, records, emitted, failed,
			elapsed_ms, error, started_at, finished_at
		FROM shard_runs
		WHERE run_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY batch_index, shard_id
		LIMIT $3 OFFSET $4;
	`
	rows, err := s.pool.Query(ctx, query, runID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list shards: %w", err)
	}
	defer rows.Close()

	var shards []store.ShardRun
	for rows.Next() {
		var sr store.ShardRun
		if err := rows.Scan(
			&sr.RunID,
			&sr.ShardID,
			&sr.Batch,
			&sr.Status,
			&sr.Source,
			&sr.Bytes,
			&sr.Records,
			&sr.Emitted,
			&sr.Failed,
			&sr.ElapsedMs,
			&sr.Error,
			&sr.StartedAt,
			&sr.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan shard row: %w", err)
		}
		shards = append(shards, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shard rows: %w", err)
	}
	return shards, nil
}
