package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/warc-langfilter/internal/store"
)

// RunStore is an in-memory store.RunRepository used when no database is configured.
type RunStore struct {
	mu     sync.RWMutex
	runs   map[uuid.UUID]store.Run
	shards map[uuid.UUID]map[string]store.ShardRun
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:   make(map[uuid.UUID]store.Run),
		shards: make(map[uuid.UUID]map[string]store.ShardRun),
	}
}

// UpsertRunStart records the run in the running state.
func (s *RunStore) UpsertRunStart(_ context.Context, runID uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		run = store.Run{ID: runID, StartedAt: startedAt}
	}
	run.Status = store.RunRunning
	s.runs[runID] = run
	return nil
}

// CompleteRun marks the run finished.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.FinishedAt = pointerTime(finishedAt)
	run.Status = status
	run.ErrorMessage = cloneString(errMsg)
	s.runs[runID] = run
	return nil
}

// UpsertShardStart records a shard as running, resetting earlier counters.
func (s *RunStore) UpsertShardStart(
	_ context.Context,
	runID uuid.UUID,
	shardID string,
	batch int,
	startedAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shardsFor(runID)[shardID] = store.ShardRun{
		RunID:     runID,
		ShardID:   shardID,
		Batch:     batch,
		Status:    "running",
		StartedAt: startedAt,
	}
	return nil
}

// CompleteShard stores the terminal state of a shard.
func (s *RunStore) CompleteShard(_ context.Context, shard store.ShardRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.shardsFor(shard.RunID)
	if prev, ok := rows[shard.ShardID]; ok {
		if shard.StartedAt.IsZero() {
			shard.StartedAt = prev.StartedAt
		}
		if shard.Batch == 0 {
			shard.Batch = prev.Batch
		}
	}
	shard.Error = cloneString(shard.Error)
	if shard.FinishedAt != nil {
		shard.FinishedAt = pointerTime(*shard.FinishedAt)
	}
	rows[shard.ShardID] = shard
	return nil
}

// GetRun returns a run or store.ErrNotFound.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListShards returns shards ordered by batch then shard id.
func (s *RunStore) ListShards(
	_ context.Context,
	runID uuid.UUID,
	status *string,
	limit,
	offset int,
) ([]store.ShardRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.ShardRun
	for _, row := range s.shards[runID] {
		if status != nil && row.Status != *status {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Batch != out[j].Batch {
			return out[i].Batch < out[j].Batch
		}
		return out[i].ShardID < out[j].ShardID
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *RunStore) shardsFor(runID uuid.UUID) map[string]store.ShardRun {
	rows, ok := s.shards[runID]
	if !ok {
		rows = make(map[string]store.ShardRun)
		s.shards[runID] = rows
	}
	return rows
}

func pointerTime(t time.Time) *time.Time {
	return &t
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
