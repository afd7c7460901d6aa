package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the runs.status column.
type RunStatus string

// Run statuses persisted in runs.status.
const (
	RunRunning  RunStatus = "running"
	RunSuccess  RunStatus = "success"
	RunError    RunStatus = "error"
	RunCanceled RunStatus = "canceled"
)

// Run models one invocation of the tool.
type Run struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// ShardRun is the ledger row for one shard within a run.
type ShardRun struct {
	RunID      uuid.UUID
	ShardID    string
	Batch      int
	Status     string
	Source     string
	Bytes      int64
	Records    int64
	Emitted    int64
	Failed     int64
	ElapsedMs  int64
	Error      *string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// RunRepository persists run and shard progress.
type RunRepository interface {
	// UpsertRunStart inserts (or idempotently updates) the run's start.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// UpsertShardStart records that a shard began processing.
	UpsertShardStart(ctx context.Context, runID uuid.UUID, shardID string, batch int, startedAt time.Time) error
	// CompleteShard stores the terminal state of a shard.
	CompleteShard(ctx context.Context, shard ShardRun) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListShards returns shard rows for a run filtered by optional status plus limit/offset.
	ListShards(ctx context.Context, runID uuid.UUID, status *string, limit, offset int) ([]ShardRun, error)
}
