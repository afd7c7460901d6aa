// Package worker runs the full pipeline for one shard: fetch, read, classify,
// append, and cleanup.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/warc-langfilter/internal/clock/system"
	"github.com/JakeFAU/warc-langfilter/internal/corpus"
	"github.com/JakeFAU/warc-langfilter/internal/metrics"
	"github.com/JakeFAU/warc-langfilter/internal/progress"
)

const tracerName = "github.com/JakeFAU/warc-langfilter/internal/worker"

// cleaner is implemented by fetchers that know every local file of a shard.
type cleaner interface {
	Cleanup(shardID string) error
}

// Deps bundles the collaborators of a Processor.
type Deps struct {
	Fetcher    corpus.Fetcher
	Opener     corpus.ArchiveOpener
	Classifier corpus.RecordClassifier
	Appender   corpus.Appender
	Progress   progress.Emitter
	Clock      corpus.Clock
	Logger     *zap.Logger
}

// Processor implements corpus.ShardProcessor.
type Processor struct {
	fetcher    corpus.Fetcher
	opener     corpus.ArchiveOpener
	classifier corpus.RecordClassifier
	appender   corpus.Appender
	progress   progress.Emitter
	clock      corpus.Clock
	tracer     trace.Tracer
	logger     *zap.Logger
	runID      [16]byte
}

// New constructs a Processor. runID tags every progress event it emits.
func New(deps Deps, runID [16]byte) (*Processor, error) {
	if deps.Fetcher == nil || deps.Opener == nil || deps.Classifier == nil || deps.Appender == nil {
		return nil, errors.New("fetcher, opener, classifier and appender are required")
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Processor{
		fetcher:    deps.Fetcher,
		opener:     deps.Opener,
		classifier: deps.Classifier,
		appender:   deps.Appender,
		progress:   deps.Progress,
		clock:      deps.Clock,
		tracer:     otel.Tracer(tracerName),
		logger:     deps.Logger,
		runID:      runID,
	}, nil
}

// Process runs one shard to completion and reports its outcome. It never
// panics and always removes the shard's local files. Cancellation of ctx is
// observed before fetching and before reading records; a stage already in
// progress runs to completion.
func (p *Processor) Process(ctx context.Context, shardID string, outputPath string) (out corpus.Outcome) {
	start := p.clock.Now()
	batch := corpus.BatchIndex(ctx)
	logger := p.logger.With(zap.String("shard", shardID), zap.Int("batch", batch))

	ctx, span := p.tracer.Start(ctx, "shard.process", trace.WithAttributes(
		attribute.String("shard.id", shardID),
		attribute.Int("shard.batch", batch),
		attribute.String("shard.output", outputPath),
	))
	defer span.End()

	metrics.IncActiveShards()
	defer metrics.DecActiveShards()

	p.emit(progress.Event{Stage: progress.StageShardStart, ShardID: shardID, Batch: batch, TS: start})

	out = corpus.Outcome{ShardID: shardID}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("recovered panic while processing shard", zap.Any("panic", r))
			out.Status = corpus.ShardFailed
			out.Err = fmt.Errorf("panic: %v", r)
		}
		p.cleanup(shardID, logger)
		out.Elapsed = p.clock.Now().Sub(start)
		p.finish(span, logger, batch, out)
	}()

	if err := ctx.Err(); err != nil {
		out.Status, out.Err = corpus.ShardCanceled, err
		return out
	}

	stageCtx := context.WithoutCancel(ctx)
	fetchStart := p.clock.Now()
	archive, err := p.fetcher.EnsureLocal(stageCtx, shardID)
	if err != nil {
		out.Status, out.Err = corpus.ShardFailed, err
		return out
	}
	out.Source = archive.Source
	fetchDur := p.clock.Now().Sub(fetchStart)
	metrics.ObserveFetch(string(archive.Source), archive.Bytes)
	span.AddEvent("fetched", trace.WithAttributes(
		attribute.String("fetch.source", string(archive.Source)),
		attribute.Int64("fetch.bytes", archive.Bytes),
	))
	p.emit(progress.Event{
		Stage:   progress.StageFetchDone,
		ShardID: shardID,
		Batch:   batch,
		Source:  string(archive.Source),
		Bytes:   archive.Bytes,
		Dur:     fetchDur,
		TS:      p.clock.Now(),
	})
	logger.Info("shard available locally",
		zap.String("source", string(archive.Source)),
		zap.String("path", archive.Path),
		zap.Duration("dur", fetchDur),
	)

	if err := ctx.Err(); err != nil {
		out.Status, out.Err = corpus.ShardCanceled, err
		return out
	}

	if err := p.processArchive(stageCtx, archive, outputPath, &out.Stats); err != nil {
		out.Status, out.Err = corpus.ShardFailed, err
		return out
	}
	out.Status = corpus.ShardSucceeded
	return out
}

func (p *Processor) processArchive(ctx context.Context, archive corpus.LocalArchive, outputPath string, stats *corpus.ShardStats) error {
	reader, err := p.opener.Open(archive.Path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer func() {
		stats.Malformed = reader.Malformed()
		if cerr := reader.Close(); cerr != nil {
			p.logger.Warn("failed to close archive", zap.String("path", archive.Path), zap.Error(cerr))
		}
	}()

	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read records: %w", err)
		}

		res := p.classifier.Classify(ctx, rec)
		stats.Add(res)
		if res.Status != corpus.RecordEmitted || res.Page == nil {
			continue
		}
		line := corpus.OutputRecord{URL: res.Page.URI, Content: res.Page.Text}
		if err := p.appender.Append(outputPath, line); err != nil {
			return fmt.Errorf("append output: %w", err)
		}
	}
}

func (p *Processor) cleanup(shardID string, logger *zap.Logger) {
	c, ok := p.fetcher.(cleaner)
	if !ok {
		return
	}
	if err := c.Cleanup(shardID); err != nil {
		logger.Warn("failed to remove local shard files", zap.Error(err))
	}
}

func (p *Processor) finish(span trace.Span, logger *zap.Logger, batch int, out corpus.Outcome) {
	metrics.ObserveShard(string(out.Status), out.Elapsed)
	span.SetAttributes(
		attribute.String("shard.status", string(out.Status)),
		attribute.Int("shard.records", out.Stats.Records),
		attribute.Int("shard.emitted", out.Stats.Emitted),
	)

	evt := progress.Event{
		ShardID: out.ShardID,
		Batch:   batch,
		Status:  string(out.Status),
		Source:  string(out.Source),
		Records: int64(out.Stats.Records),
		Emitted: int64(out.Stats.Emitted),
		Failed:  int64(out.Stats.Failed),
		Dur:     out.Elapsed,
		TS:      p.clock.Now(),
	}
	fields := []zap.Field{
		zap.String("status", string(out.Status)),
		zap.Int("records", out.Stats.Records),
		zap.Int("emitted", out.Stats.Emitted),
		zap.Int("failed_records", out.Stats.Failed),
		zap.Int("malformed", out.Stats.Malformed),
		zap.Duration("elapsed", out.Elapsed),
	}
	if out.Status == corpus.ShardSucceeded {
		span.SetStatus(codes.Ok, "")
		evt.Stage = progress.StageShardDone
		logger.Info("shard processed", fields...)
	} else {
		if out.Err != nil {
			span.RecordError(out.Err)
			evt.Note = out.Err.Error()
		}
		span.SetStatus(codes.Error, string(out.Status))
		evt.Stage = progress.StageShardError
		logger.Warn("shard did not complete", append(fields, zap.Error(out.Err))...)
	}
	p.emit(evt)
}

func (p *Processor) emit(evt progress.Event) {
	evt.RunID = p.runID
	p.progress.Emit(evt)
}
