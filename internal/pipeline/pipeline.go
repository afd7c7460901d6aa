// Package pipeline turns archive records into classified pages and filters
// them by language label.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/warc-langfilter/internal/corpus"
	"github.com/JakeFAU/warc-langfilter/internal/metrics"
)

// Config controls filtering and CPU-bound concurrency.
type Config struct {
	TargetLabel string
	// Workers bounds concurrent extract+classify calls across all shards.
	Workers int64
}

// Pipeline implements corpus.RecordClassifier. It is safe for concurrent use
// as long as its extractor and classifier are.
type Pipeline struct {
	cfg        Config
	extractor  corpus.TextExtractor
	classifier corpus.LanguageClassifier
	sem        *semaphore.Weighted
	logger     *zap.Logger
}

// New wires a Pipeline.
func New(cfg Config, extractor corpus.TextExtractor, classifier corpus.LanguageClassifier, logger *zap.Logger) (*Pipeline, error) {
	if extractor == nil || classifier == nil {
		return nil, fmt.Errorf("extractor and classifier are required")
	}
	if strings.TrimSpace(cfg.TargetLabel) == "" {
		return nil, fmt.Errorf("target label is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:        cfg,
		extractor:  extractor,
		classifier: classifier,
		sem:        semaphore.NewWeighted(cfg.Workers),
		logger:     logger,
	}, nil
}

// Classify runs one record through extraction, language identification and
// the target label filter. It never panics; failures are reported in the result.
func (p *Pipeline) Classify(ctx context.Context, rec corpus.ArchiveRecord) corpus.RecordResult {
	res := p.classify(ctx, rec)
	metrics.ObserveRecord(string(res.Status), res.Reason)
	return res
}

func (p *Pipeline) classify(ctx context.Context, rec corpus.ArchiveRecord) (res corpus.RecordResult) {
	if strings.TrimSpace(rec.Content) == "" {
		return skipped(corpus.ReasonEmptyContent)
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return failed(corpus.ReasonClassifyError, fmt.Errorf("acquire classifier slot: %w", err))
	}
	metrics.IncClassifyInFlight()
	defer func() {
		metrics.DecClassifyInFlight()
		p.sem.Release(1)
	}()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("recovered panic while classifying record",
				zap.String("uri", rec.URI), zap.Any("panic", r))
			res = failed(corpus.ReasonPanic, fmt.Errorf("panic: %v", r))
		}
	}()

	text, err := p.extractor.Extract(rec.URI, rec.Content)
	if err != nil {
		p.logger.Debug("extraction failed", zap.String("uri", rec.URI), zap.Error(err))
		return failed(corpus.ReasonExtractError, err)
	}
	if strings.TrimSpace(text) == "" {
		return skipped(corpus.ReasonNoText)
	}

	preds, err := p.classifier.Predict(SingleLine(text))
	if err != nil {
		p.logger.Debug("classification failed", zap.String("uri", rec.URI), zap.Error(err))
		return failed(corpus.ReasonClassifyError, err)
	}
	if len(preds) == 0 {
		return skipped(corpus.ReasonLanguageMismatch)
	}

	top := preds[0]
	page := &corpus.ClassifiedPage{
		ExtractedPage: corpus.ExtractedPage{URI: rec.URI, Text: text},
		Label:         top.Label,
		Score:         top.Score,
	}
	if top.Label != p.cfg.TargetLabel {
		return corpus.RecordResult{Status: corpus.RecordSkipped, Reason: corpus.ReasonLanguageMismatch, Page: page}
	}
	return corpus.RecordResult{Status: corpus.RecordEmitted, Page: page}
}

var newlineReplacer = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// SingleLine replaces every line break in text with a space.
func SingleLine(text string) string {
	return newlineReplacer.Replace(text)
}

func skipped(reason string) corpus.RecordResult {
	return corpus.RecordResult{Status: corpus.RecordSkipped, Reason: reason}
}

func failed(reason string, err error) corpus.RecordResult {
	return corpus.RecordResult{Status: corpus.RecordFailed, Reason: reason, Err: err}
}
