package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/warc-langfilter/internal/progress"
	"github.com/JakeFAU/warc-langfilter/internal/store"
)

// StoreSink persists run and shard lifecycle events to the run ledger.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards lifecycle events to the repository in order and returns
// the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.consumeEvent(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) consumeEvent(ctx context.Context, evt progress.Event) error {
	runID := evt.RunUUID()
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.UpsertRunStart(ctx, runID, evt.TS); err != nil {
			return fmt.Errorf("upsert run start: %w", err)
		}
	case progress.StageRunDone:
		status := store.RunStatus(evt.Status)
		if status == "" {
			status = store.RunSuccess
		}
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, note(evt)); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageShardStart:
		if err := s.repo.UpsertShardStart(ctx, runID, evt.ShardID, evt.Batch, evt.TS); err != nil {
			return fmt.Errorf("upsert shard start: %w", err)
		}
	case progress.StageShardDone, progress.StageShardError:
		status := evt.Status
		if status == "" {
			status = "succeeded"
			if evt.Stage == progress.StageShardError {
				status = "failed"
			}
		}
		finished := evt.TS
		row := store.ShardRun{
			RunID:      runID,
			ShardID:    evt.ShardID,
			Batch:      evt.Batch,
			Status:     status,
			Source:     evt.Source,
			Bytes:      evt.Bytes,
			Records:    evt.Records,
			Emitted:    evt.Emitted,
			Failed:     evt.Failed,
			ElapsedMs:  evt.Dur.Milliseconds(),
			Error:      note(evt),
			StartedAt:  evt.TS.Add(-evt.Dur),
			FinishedAt: &finished,
		}
		if err := s.repo.CompleteShard(ctx, row); err != nil {
			return fmt.Errorf("complete shard: %w", err)
		}
	}
	return nil
}

func note(evt progress.Event) *string {
	if evt.Note == "" {
		return nil
	}
	n := evt.Note
	return &n
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
