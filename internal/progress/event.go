// Package progress defines the event structures emitted by shard workers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageShardStart Stage = "SHARD_START"
	StageFetchDone  Stage = "FETCH_DONE"
	StageShardDone  Stage = "SHARD_DONE"
	StageShardError Stage = "SHARD_ERROR"
	StageBatchDone  Stage = "BATCH_DONE"
)

// Droppable reports whether the stage may be discarded under backpressure.
// Run, batch and shard outcome stages never are.
func (s Stage) Droppable() bool {
	return s == StageShardStart || s == StageFetchDone
}

// Event captures a single step of run progress.
type Event struct {
	// RunID identifies one invocation of the tool using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// ShardID scopes shard events.
	ShardID string
	// Batch is the zero-based batch number for shard and batch events.
	Batch int
	// Status is the terminal state on SHARD_DONE, SHARD_ERROR and RUN_DONE events.
	Status string
	// Source is the fetch source for FETCH_DONE events.
	Source string
	// Bytes carries the compressed size made available locally.
	Bytes int64
	// Records and Emitted carry record counters on terminal shard events.
	Records int64
	Emitted int64
	// Failed counts failed records on shard events and failed shards on batch events.
	Failed int64
	// Dur captures execution latency for fetches, shards and batches.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageBatchDone:
	case StageShardStart, StageShardDone, StageShardError:
		if e.ShardID == "" {
			return fmt.Errorf("%s requires shard id", e.Stage)
		}
	case StageFetchDone:
		if e.ShardID == "" {
			return errors.New("fetch done requires shard id")
		}
		if e.Source == "" {
			return errors.New("fetch done requires source")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
