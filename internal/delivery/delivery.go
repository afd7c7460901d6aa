// Package delivery ships finished batch files to a blob store and announces them.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/warc-langfilter/internal/clock/system"
	"github.com/JakeFAU/warc-langfilter/internal/corpus"
)

// DefaultContentType is used for uploaded batch files when none is configured.
const DefaultContentType = "application/x-ndjson"

// Config controls object naming and notices.
type Config struct {
	// Prefix is prepended to the batch file name to form the object path.
	Prefix      string
	ContentType string
	// Topic is passed to the publisher. Empty disables notices.
	Topic string
}

// Deps bundles the collaborators of a Hook. Store and Publisher are optional.
type Deps struct {
	Store     corpus.BlobStore
	Publisher corpus.Publisher
	Hasher    corpus.Hasher
	Clock     corpus.Clock
	Logger    *zap.Logger
}

// Notice is published once a batch file has been delivered.
type Notice struct {
	RunID       string    `json:"run_id"`
	Batch       int       `json:"batch"`
	Start       int       `json:"start"`
	Shards      []string  `json:"shards"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Canceled    int       `json:"canceled"`
	Emitted     int       `json:"emitted"`
	Path        string    `json:"path"`
	URI         string    `json:"uri,omitempty"`
	SHA256      string    `json:"sha256,omitempty"`
	Bytes       int64     `json:"bytes"`
	CompletedAt time.Time `json:"completed_at"`
}

// Attributes exposes routing metadata as Pub/Sub message attributes.
func (n Notice) Attributes() map[string]string {
	return map[string]string{
		"run_id": n.RunID,
		"batch":  strconv.Itoa(n.Batch),
	}
}

// Hook uploads and announces batch files. It satisfies dispatcher.BatchHook.
type Hook struct {
	cfg       Config
	runID     string
	store     corpus.BlobStore
	publisher corpus.Publisher
	hasher    corpus.Hasher
	clock     corpus.Clock
	logger    *zap.Logger
}

// New constructs a Hook for one run.
func New(cfg Config, deps Deps, runID string) (*Hook, error) {
	if deps.Publisher != nil && cfg.Topic == "" {
		return nil, errors.New("topic is required when a publisher is configured")
	}
	if deps.Store != nil && deps.Hasher == nil {
		return nil, errors.New("hasher is required when a blob store is configured")
	}
	if cfg.ContentType == "" {
		cfg.ContentType = DefaultContentType
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Hook{
		cfg:       cfg,
		runID:     runID,
		store:     deps.Store,
		publisher: deps.Publisher,
		hasher:    deps.Hasher,
		clock:     deps.Clock,
		logger:    deps.Logger,
	}, nil
}

// AfterBatch uploads the batch file, if any records were written, then
// publishes a Notice. Batches that produced no file are announced without a URI.
func (h *Hook) AfterBatch(ctx context.Context, batch corpus.Batch, outcomes []corpus.Outcome) error {
	notice := Notice{
		RunID:  h.runID,
		Batch:  batch.Index,
		Start:  batch.Start,
		Shards: batch.ShardIDs,
		Path:   batch.OutputPath,
	}
	for _, out := range outcomes {
		switch out.Status {
		case corpus.ShardSucceeded:
			notice.Succeeded++
		case corpus.ShardCanceled:
			notice.Canceled++
		default:
			notice.Failed++
		}
		notice.Emitted += out.Stats.Emitted
	}

	logger := h.logger.With(zap.Int("batch", batch.Index), zap.String("path", batch.OutputPath))
	info, err := os.Stat(batch.OutputPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Debug("batch produced no output file")
	case err != nil:
		return fmt.Errorf("stat batch file: %w", err)
	default:
		notice.Bytes = info.Size()
		if h.store != nil {
			if err := h.upload(ctx, batch.OutputPath, &notice); err != nil {
				return err
			}
			logger.Info("batch file uploaded", zap.String("uri", notice.URI), zap.Int64("bytes", notice.Bytes))
		}
	}

	if h.publisher == nil {
		return nil
	}
	notice.CompletedAt = h.clock.Now()
	id, err := h.publisher.Publish(ctx, h.cfg.Topic, notice)
	if err != nil {
		return fmt.Errorf("publish batch notice: %w", err)
	}
	logger.Debug("batch notice published", zap.String("message_id", id))
	return nil
}

func (h *Hook) upload(ctx context.Context, localPath string, notice *Notice) error {
	// #nosec G304 -- batch paths are derived from the configured output directory.
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open batch file: %w", err)
	}
	defer func() { _ = f.Close() }()

	sum, err := h.hasher.Hash(f)
	if err != nil {
		return fmt.Errorf("hash batch file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind batch file: %w", err)
	}

	objectPath := path.Join(h.cfg.Prefix, filepath.Base(localPath))
	uri, err := h.store.PutObject(ctx, objectPath, h.cfg.ContentType, f)
	if err != nil {
		return fmt.Errorf("upload batch file: %w", err)
	}
	notice.URI = uri
	notice.SHA256 = sum
	return nil
}
