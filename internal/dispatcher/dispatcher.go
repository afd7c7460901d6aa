// Package dispatcher fans shards out to processors in fixed-size batches.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/warc-langfilter/internal/corpus"
	"github.com/JakeFAU/warc-langfilter/internal/metrics"
	"github.com/JakeFAU/warc-langfilter/internal/progress"
	"github.com/JakeFAU/warc-langfilter/internal/store"
)

// BatchHook runs after every shard of a batch has finished.
type BatchHook interface {
	AfterBatch(ctx context.Context, batch corpus.Batch, outcomes []corpus.Outcome) error
}

// BatchHookFunc adapts a function to BatchHook.
type BatchHookFunc func(ctx context.Context, batch corpus.Batch, outcomes []corpus.Outcome) error

// AfterBatch calls f.
func (f BatchHookFunc) AfterBatch(ctx context.Context, batch corpus.Batch, outcomes []corpus.Outcome) error {
	return f(ctx, batch, outcomes)
}

// Config tunes batch numbering.
type Config struct {
	// Offset is the absolute position of shardIDs[0] in the full input list.
	// Batch start indices, and therefore output file names, include it.
	Offset int
}

// Deps bundles the collaborators of a Dispatcher.
type Deps struct {
	Processor corpus.ShardProcessor
	Progress  progress.Emitter
	Hooks     []BatchHook
	// OnOutcome is called once per shard in completion order. Calls are serialized.
	OnOutcome func(corpus.Outcome)
	Logger    *zap.Logger
}

// Report summarizes a run. Outcomes are in completion order.
type Report struct {
	Outcomes  []corpus.Outcome
	Batches   int
	Succeeded int
	Failed    int
	Canceled  int
}

// HasFailures reports whether any shard did not succeed.
func (r Report) HasFailures() bool {
	return r.Failed > 0 || r.Canceled > 0
}

// Snapshot is a point-in-time view of a run for the ops server.
type Snapshot struct {
	RunID        string    `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	Running      bool      `json:"running"`
	BatchesTotal int       `json:"batches_total"`
	BatchesDone  int       `json:"batches_done"`
	CurrentBatch int       `json:"current_batch"`
	ShardsTotal  int       `json:"shards_total"`
	Succeeded    int       `json:"shards_succeeded"`
	Failed       int       `json:"shards_failed"`
	Canceled     int       `json:"shards_canceled"`
	Emitted      int       `json:"records_emitted"`
}

// Dispatcher drives batches of shard processors.
type Dispatcher struct {
	cfg       Config
	processor corpus.ShardProcessor
	progress  progress.Emitter
	hooks     []BatchHook
	onOutcome func(corpus.Outcome)
	logger    *zap.Logger
	runID     [16]byte

	mu     sync.Mutex
	snap   Snapshot
	report Report
}

// New creates a Dispatcher for one run.
func New(cfg Config, deps Deps, runID [16]byte) (*Dispatcher, error) {
	if deps.Processor == nil {
		return nil, errors.New("processor is required")
	}
	if cfg.Offset < 0 {
		return nil, fmt.Errorf("offset must be >= 0, got %d", cfg.Offset)
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:       cfg,
		processor: deps.Processor,
		progress:  deps.Progress,
		hooks:     deps.Hooks,
		onOutcome: deps.OnOutcome,
		logger:    deps.Logger,
		runID:     runID,
		snap:      Snapshot{CurrentBatch: -1},
	}, nil
}

// Plan splits shardIDs into contiguous batches of at most batchSize, in input order.
func Plan(shardIDs []string, batchSize, offset int) []corpus.Batch {
	if batchSize <= 0 {
		return nil
	}
	batches := make([]corpus.Batch, 0, (len(shardIDs)+batchSize-1)/batchSize)
	for start := 0; start < len(shardIDs); start += batchSize {
		end := min(start+batchSize, len(shardIDs))
		batches = append(batches, corpus.Batch{
			Index:    len(batches),
			Start:    offset + start,
			ShardIDs: shardIDs[start:end],
		})
	}
	return batches
}

// Run processes every batch in order. Within a batch up to batchSize shards
// run concurrently, and the next batch starts only after all of them finish.
// Shard failures never stop the run. Once ctx is done no new batch starts and
// Run returns ctx.Err() alongside the partial report.
func (d *Dispatcher) Run(
	ctx context.Context,
	shardIDs []string,
	batchSize int,
	outputPathFn func(corpus.Batch) string,
) (Report, error) {
	if batchSize <= 0 {
		return Report{}, fmt.Errorf("batch size must be > 0, got %d", batchSize)
	}
	if outputPathFn == nil {
		return Report{}, errors.New("output path function is required")
	}

	batches := Plan(shardIDs, batchSize, d.cfg.Offset)
	seen := make(map[string]int, len(batches))
	for i := range batches {
		path := outputPathFn(batches[i])
		if prev, ok := seen[path]; ok {
			return Report{}, fmt.Errorf("batches %d and %d share output path %s", prev, i, path)
		}
		seen[path] = i
		batches[i].OutputPath = path
	}

	start := time.Now().UTC()
	d.mu.Lock()
	d.snap = Snapshot{
		RunID:        progress.Event{RunID: d.runID}.RunUUID().String(),
		StartedAt:    start,
		Running:      true,
		BatchesTotal: len(batches),
		CurrentBatch: -1,
		ShardsTotal:  len(shardIDs),
	}
	d.report = Report{}
	d.mu.Unlock()

	d.emit(progress.Event{Stage: progress.StageRunStart, TS: start, Note: fmt.Sprintf("shards=%d batches=%d", len(shardIDs), len(batches))})
	d.logger.Info("run started",
		zap.Int("shards", len(shardIDs)),
		zap.Int("batches", len(batches)),
		zap.Int("batch_size", batchSize),
		zap.Int("offset", d.cfg.Offset),
	)

	var runErr error
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			runErr = err
			d.logger.Warn("run canceled before batch", zap.Int("batch", batch.Index), zap.Error(err))
			break
		}
		d.runBatch(ctx, batch)
	}

	d.mu.Lock()
	d.snap.Running = false
	report := d.report
	report.Outcomes = append([]corpus.Outcome(nil), d.report.Outcomes...)
	d.mu.Unlock()

	status := store.RunSuccess
	switch {
	case runErr != nil || report.Canceled > 0:
		status = store.RunCanceled
	case report.Failed > 0:
		status = store.RunError
	}
	d.emit(progress.Event{
		Stage:  progress.StageRunDone,
		TS:     time.Now().UTC(),
		Status: string(status),
		Failed: int64(report.Failed),
		Dur:    time.Since(start),
	})
	d.logger.Info("run finished",
		zap.String("status", string(status)),
		zap.Int("batches", report.Batches),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("canceled", report.Canceled),
		zap.Duration("elapsed", time.Since(start)),
	)
	return report, runErr
}

// Snapshot returns the current run view.
func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snap
}

func (d *Dispatcher) runBatch(ctx context.Context, batch corpus.Batch) {
	start := time.Now()
	logger := d.logger.With(zap.Int("batch", batch.Index), zap.String("path", batch.OutputPath))
	logger.Info("batch started", zap.Int("start", batch.Start), zap.Int("shards", len(batch.ShardIDs)))

	d.mu.Lock()
	d.snap.CurrentBatch = batch.Index
	d.mu.Unlock()

	batchCtx := corpus.WithBatchIndex(ctx, batch.Index)
	outcomes := make([]corpus.Outcome, 0, len(batch.ShardIDs))
	var outcomesMu sync.Mutex

	var g errgroup.Group
	g.SetLimit(len(batch.ShardIDs))
	for _, shardID := range batch.ShardIDs {
		g.Go(func() error {
			out := d.processor.Process(batchCtx, shardID, batch.OutputPath)
			outcomesMu.Lock()
			outcomes = append(outcomes, out)
			outcomesMu.Unlock()
			d.record(out)
			return nil
		})
	}
	_ = g.Wait()

	var failed, emitted int
	for _, out := range outcomes {
		if out.Failed() {
			failed++
		}
		emitted += out.Stats.Emitted
	}

	hookCtx := context.WithoutCancel(ctx)
	for _, hook := range d.hooks {
		if err := hook.AfterBatch(hookCtx, batch, outcomes); err != nil {
			logger.Error("batch hook failed", zap.Error(err))
		}
	}

	d.mu.Lock()
	d.report.Batches++
	d.snap.BatchesDone++
	d.mu.Unlock()

	metrics.ObserveBatch()
	elapsed := time.Since(start)
	d.emit(progress.Event{
		Stage:   progress.StageBatchDone,
		TS:      time.Now().UTC(),
		Batch:   batch.Index,
		Emitted: int64(emitted),
		Failed:  int64(failed),
		Dur:     elapsed,
		Note:    batch.OutputPath,
	})
	logger.Info("batch finished",
		zap.Int("failed_shards", failed),
		zap.Int("emitted", emitted),
		zap.Duration("elapsed", elapsed),
	)
}

// record folds one outcome into the report and notifies OnOutcome.
func (d *Dispatcher) record(out corpus.Outcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.report.Outcomes = append(d.report.Outcomes, out)
	switch out.Status {
	case corpus.ShardSucceeded:
		d.report.Succeeded++
		d.snap.Succeeded++
	case corpus.ShardCanceled:
		d.report.Canceled++
		d.snap.Canceled++
	default:
		d.report.Failed++
		d.snap.Failed++
	}
	d.snap.Emitted += out.Stats.Emitted
	if d.onOutcome != nil {
		d.onOutcome(out)
	}
}

func (d *Dispatcher) emit(evt progress.Event) {
	evt.RunID = d.runID
	d.progress.Emit(evt)
}

// OutputPath returns a function naming each batch file
// dir/fmt.Sprintf(template, batch.Start). The template must contain a single
// integer verb so distinct start indices yield distinct names.
func OutputPath(dir, template string) (func(corpus.Batch) string, error) {
	if template == "" {
		return nil, errors.New("output file template is required")
	}
	if strings.ContainsAny(template, `/\`) {
		return nil, fmt.Errorf("output file template %q must be a file name", template)
	}
	probes := []int{0, 1, 9, 10, 99, 100, 123456, 1234567890}
	names := make(map[string]struct{}, len(probes))
	for _, n := range probes {
		name := fmt.Sprintf(template, n)
		if strings.Contains(name, "%!") {
			return nil, fmt.Errorf("output file template %q is not a valid format for one integer", template)
		}
		if _, dup := names[name]; dup {
			return nil, fmt.Errorf("output file template %q does not yield distinct names", template)
		}
		names[name] = struct{}{}
	}
	return func(b corpus.Batch) string {
		return filepath.Join(dir, fmt.Sprintf(template, b.Start))
	}, nil
}
