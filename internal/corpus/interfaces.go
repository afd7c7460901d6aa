package corpus

import (
	"context"
	"io"
	"time"
)

// Fetcher ensures a local decompressed copy of a shard exists.
type Fetcher interface {
	EnsureLocal(ctx context.Context, shardID string) (LocalArchive, error)
}

// RecordReader is a lazy, finite, non-restartable sequence of archive records.
// Next returns io.EOF once the archive is exhausted.
type RecordReader interface {
	Next() (ArchiveRecord, error)
	Malformed() int
	Close() error
}

// ArchiveOpener opens a local decompressed archive for reading.
type ArchiveOpener interface {
	Open(path string) (RecordReader, error)
}

// TextExtractor pulls readable article text out of raw page markup.
// An empty string means the page has no article content.
type TextExtractor interface {
	Extract(uri string, html string) (string, error)
}

// LanguageClassifier returns labels ranked by descending score.
type LanguageClassifier interface {
	Predict(text string) ([]Prediction, error)
}

// RecordClassifier runs one record through extraction and classification.
type RecordClassifier interface {
	Classify(ctx context.Context, rec ArchiveRecord) RecordResult
}

// Appender persists one output record to a batch file.
type Appender interface {
	Append(path string, rec OutputRecord) error
}

// ShardProcessor runs the full pipeline for one shard.
type ShardProcessor interface {
	Process(ctx context.Context, shardID string, outputPath string) Outcome
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(r io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
