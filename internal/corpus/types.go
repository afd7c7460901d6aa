// Package corpus defines core types shared across the shard pipeline.
package corpus

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// FetchSource records how a shard's local archive was obtained.
type FetchSource string

// Fetch sources reported by the shard fetcher.
const (
	// FetchSourceCache means the decompressed archive was already on disk and no request was made.
	FetchSourceCache FetchSource = "cache"
	// FetchSourceCompressed means a compressed download from an earlier run was reused.
	FetchSourceCompressed FetchSource = "compressed"
	// FetchSourceRemote means the archive was downloaded during this call.
	FetchSourceRemote FetchSource = "remote"
)

// LocalArchive is the on-disk working copy of one shard.
type LocalArchive struct {
	ShardID        string
	CompressedPath string
	Path           string
	Source         FetchSource
	Bytes          int64
}

// CacheHit reports whether the archive was served without touching the network.
func (a LocalArchive) CacheHit() bool {
	return a.Source == FetchSourceCache
}

// ArchiveRecord is one response entry read from a decompressed archive.
type ArchiveRecord struct {
	URI         string
	Content     string
	ContentType string
}

// ExtractedPage holds readable text extracted from a record.
type ExtractedPage struct {
	URI  string
	Text string
}

// ClassifiedPage is an extracted page plus its top-1 language label.
type ClassifiedPage struct {
	ExtractedPage
	Label string
	Score float64
}

// OutputRecord is the exact persisted shape of one output line.
type OutputRecord struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Prediction is one ranked label returned by a language classifier.
type Prediction struct {
	Label string
	Score float64
}

// RecordStatus tags the result of running one record through the pipeline.
type RecordStatus string

// Record statuses.
const (
	RecordEmitted RecordStatus = "emitted"
	RecordSkipped RecordStatus = "skipped"
	RecordFailed  RecordStatus = "failed"
)

// Skip and failure reasons attached to a RecordResult.
const (
	ReasonEmptyContent     = "empty_content"
	ReasonNoText           = "no_text"
	ReasonLanguageMismatch = "language_mismatch"
	ReasonExtractError     = "extract_error"
	ReasonClassifyError    = "classify_error"
	ReasonPanic            = "panic"
)

// RecordResult is the tagged outcome for a single archive record.
type RecordResult struct {
	Status RecordStatus
	Reason string
	Page   *ClassifiedPage
	Err    error
}

// ShardStats aggregates per-record results for one shard.
type ShardStats struct {
	Records         int `json:"records"`
	Emitted         int `json:"emitted"`
	SkippedEmpty    int `json:"skipped_empty"`
	SkippedNoText   int `json:"skipped_no_text"`
	SkippedLanguage int `json:"skipped_language"`
	Failed          int `json:"failed"`
	Malformed       int `json:"malformed"`
}

// Add folds a record result into the counters.
func (s *ShardStats) Add(res RecordResult) {
	s.Records++
	switch res.Status {
	case RecordEmitted:
		s.Emitted++
	case RecordFailed:
		s.Failed++
	case RecordSkipped:
		switch res.Reason {
		case ReasonEmptyContent:
			s.SkippedEmpty++
		case ReasonNoText:
			s.SkippedNoText++
		case ReasonLanguageMismatch:
			s.SkippedLanguage++
		}
	}
}

// ShardStatus is the terminal state of a shard run.
type ShardStatus string

// Terminal shard states.
const (
	ShardSucceeded ShardStatus = "succeeded"
	ShardFailed    ShardStatus = "failed"
	ShardCanceled  ShardStatus = "canceled"
)

// Outcome is the only artifact a shard run hands back to the orchestrator.
type Outcome struct {
	ShardID string
	Status  ShardStatus
	Err     error
	Elapsed time.Duration
	Source  FetchSource
	Stats   ShardStats
}

// Failed reports whether the shard did not complete.
func (o Outcome) Failed() bool {
	return o.Status != ShardSucceeded
}

// String renders the outcome as a single human-readable line.
func (o Outcome) String() string {
	var b strings.Builder
	switch o.Status {
	case ShardSucceeded:
		fmt.Fprintf(&b, "Processed %s", o.ShardID)
	case ShardCanceled:
		fmt.Fprintf(&b, "Canceled %s", o.ShardID)
	default:
		reason := "unknown error"
		if o.Err != nil {
			reason = o.Err.Error()
		}
		fmt.Fprintf(&b, "Error processing %s: %s", o.ShardID, reason)
	}
	fmt.Fprintf(&b, " (records=%d emitted=%d elapsed=%s)",
		o.Stats.Records, o.Stats.Emitted, o.Elapsed.Round(time.Millisecond))
	return b.String()
}

// Batch is a contiguous slice of shard identifiers sharing one output file.
type Batch struct {
	// Index is the zero-based batch number within the run.
	Index int
	// Start is the absolute position of the first shard in the input list.
	Start      int
	ShardIDs   []string
	OutputPath string
}

type batchIndexKey struct{}

// WithBatchIndex tags ctx with the zero-based batch number a shard belongs to.
func WithBatchIndex(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, batchIndexKey{}, index)
}

// BatchIndex returns the batch number stored by WithBatchIndex, or -1.
func BatchIndex(ctx context.Context) int {
	if v, ok := ctx.Value(batchIndexKey{}).(int); ok {
		return v
	}
	return -1
}
