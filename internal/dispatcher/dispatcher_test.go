package dispatcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/warc-langfilter/internal/corpus"
	"github.com/JakeFAU/warc-langfilter/internal/output"
	"github.com/JakeFAU/warc-langfilter/internal/progress"
)

// fakeProcessor appends one line per shard and tracks concurrency per batch.
type fakeProcessor struct {
	writer  *output.Writer
	delays  map[string]time.Duration
	fail    map[string]bool
	onStart func(shardID string)

	mu        sync.Mutex
	active    map[int]int
	maxActive map[int]int
	overlap   bool
	batches   map[string]int
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		writer:    output.NewWriter(),
		delays:    map[string]time.Duration{},
		fail:      map[string]bool{},
		active:    map[int]int{},
		maxActive: map[int]int{},
		batches:   map[string]int{},
	}
}

func (p *fakeProcessor) Process(ctx context.Context, shardID, outputPath string) corpus.Outcome {
	batch := corpus.BatchIndex(ctx)
	p.mu.Lock()
	for other, n := range p.active {
		if other != batch && n > 0 {
			p.overlap = true
		}
	}
	p.active[batch]++
	p.maxActive[batch] = max(p.maxActive[batch], p.active[batch])
	p.batches[shardID] = batch
	p.mu.Unlock()

	if p.onStart != nil {
		p.onStart(shardID)
	}
	time.Sleep(p.delays[shardID])

	defer func() {
		p.mu.Lock()
		p.active[batch]--
		p.mu.Unlock()
	}()

	if p.fail[shardID] {
		return corpus.Outcome{ShardID: shardID, Status: corpus.ShardFailed, Err: errors.New("boom")}
	}
	if err := p.writer.Append(outputPath, corpus.OutputRecord{URL: shardID, Content: "x"}); err != nil {
		return corpus.Outcome{ShardID: shardID, Status: corpus.ShardFailed, Err: err}
	}
	return corpus.Outcome{ShardID: shardID, Status: corpus.ShardSucceeded, Stats: corpus.ShardStats{Records: 1, Emitted: 1}}
}

func newDispatcher(t *testing.T, cfg Config, deps Deps) *Dispatcher {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	d, err := New(cfg, deps, [16]byte{7})
	require.NoError(t, err)
	return d
}

func TestPlan(t *testing.T) {
	batches := Plan([]string{"a", "b", "c", "d", "e"}, 2, 10)
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a", "b"}, batches[0].ShardIDs)
	assert.Equal(t, []string{"e"}, batches[2].ShardIDs)
	assert.Equal(t, 10, batches[0].Start)
	assert.Equal(t, 12, batches[1].Start)
	assert.Equal(t, 14, batches[2].Start)
	assert.Equal(t, 2, batches[2].Index)

	assert.Empty(t, Plan(nil, 3, 0))
	assert.Nil(t, Plan([]string{"a"}, 0, 0))
}

func TestRunTwoShardsShareOneFile(t *testing.T) {
	dir := t.TempDir()
	proc := newFakeProcessor()
	d := newDispatcher(t, Config{}, Deps{Processor: proc})
	pathFn, err := OutputPath(dir, "part-%06d.jsonl")
	require.NoError(t, err)

	report, err := d.Run(context.Background(), []string{"s1.warc.gz", "s2.warc.gz"}, 2, pathFn)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Batches)
	assert.Equal(t, 2, report.Succeeded)
	assert.False(t, report.HasFailures())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "part-000000.jsonl", entries[0].Name())

	data, err := os.ReadFile(filepath.Join(dir, "part-000000.jsonl"))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 2)
}

func TestRunBatchesDoNotOverlap(t *testing.T) {
	dir := t.TempDir()
	proc := newFakeProcessor()
	// a and b wait for each other, so batch 0 only completes if both run at once.
	var started sync.WaitGroup
	started.Add(2)
	bothStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(bothStarted)
	}()
	var timedOut atomic.Bool
	proc.onStart = func(shardID string) {
		if shardID != "a" && shardID != "b" {
			return
		}
		started.Done()
		select {
		case <-bothStarted:
		case <-time.After(5 * time.Second):
			timedOut.Store(true)
		}
	}
	proc.delays["c"] = 10 * time.Millisecond
	d := newDispatcher(t, Config{Offset: 4}, Deps{Processor: proc})
	pathFn, err := OutputPath(dir, "part-%06d.jsonl")
	require.NoError(t, err)

	report, err := d.Run(context.Background(), []string{"a", "b", "c", "d", "e"}, 2, pathFn)
	require.NoError(t, err)

	assert.False(t, proc.overlap, "shards from different batches ran concurrently")
	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, map[string]int{"a": 0, "b": 0, "c": 1, "d": 1, "e": 2}, proc.batches)
	assert.False(t, timedOut.Load(), "shards of one batch did not run concurrently")
	assert.Equal(t, 2, proc.maxActive[0])

	for _, name := range []string{"part-000004.jsonl", "part-000006.jsonl", "part-000008.jsonl"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
}

func TestRunReportsOutcomesInCompletionOrder(t *testing.T) {
	proc := newFakeProcessor()
	proc.delays["slow"] = 50 * time.Millisecond
	proc.fail["fast"] = true

	var seen []string
	d := newDispatcher(t, Config{}, Deps{
		Processor: proc,
		OnOutcome: func(o corpus.Outcome) { seen = append(seen, o.ShardID) },
	})
	pathFn, err := OutputPath(t.TempDir(), "b-%d.jsonl")
	require.NoError(t, err)

	report, err := d.Run(context.Background(), []string{"slow", "fast"}, 2, pathFn)
	require.NoError(t, err)

	assert.Equal(t, []string{"fast", "slow"}, seen)
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, "fast", report.Outcomes[0].ShardID)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Succeeded)
	assert.True(t, report.HasFailures())
}

func TestRunStopsBeforeNextBatchOnCancel(t *testing.T) {
	proc := newFakeProcessor()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var started atomic.Int32
	proc.onStart = func(string) {
		if started.Add(1) == 1 {
			cancel()
		}
	}
	proc.delays["a"] = 10 * time.Millisecond

	d := newDispatcher(t, Config{}, Deps{Processor: proc})
	pathFn, err := OutputPath(t.TempDir(), "part-%06d.jsonl")
	require.NoError(t, err)

	report, err := d.Run(ctx, []string{"a", "b", "c"}, 1, pathFn)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Batches)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, "a", report.Outcomes[0].ShardID)
	assert.False(t, d.Snapshot().Running)
}

func TestRunInvokesHooksAndEmitsEvents(t *testing.T) {
	proc := newFakeProcessor()
	rec := &progress.Recorder{}
	var hooked []corpus.Batch
	hook := BatchHookFunc(func(_ context.Context, b corpus.Batch, outcomes []corpus.Outcome) error {
		hooked = append(hooked, b)
		assert.Len(t, outcomes, len(b.ShardIDs))
		return errors.New("upload failed")
	})
	d := newDispatcher(t, Config{}, Deps{Processor: proc, Progress: rec, Hooks: []BatchHook{hook}})
	pathFn, err := OutputPath(t.TempDir(), "part-%06d.jsonl")
	require.NoError(t, err)

	_, err = d.Run(context.Background(), []string{"a", "b", "c"}, 2, pathFn)
	require.NoError(t, err)

	require.Len(t, hooked, 2)
	assert.Equal(t, 2, hooked[1].Start)

	var stages []progress.Stage
	for _, evt := range rec.Events() {
		assert.Equal(t, [16]byte{7}, evt.RunID)
		stages = append(stages, evt.Stage)
	}
	assert.Equal(t, progress.StageRunStart, stages[0])
	assert.Equal(t, progress.StageRunDone, stages[len(stages)-1])
	assert.Contains(t, stages, progress.StageBatchDone)

	snap := d.Snapshot()
	assert.Equal(t, 2, snap.BatchesTotal)
	assert.Equal(t, 2, snap.BatchesDone)
	assert.Equal(t, 3, snap.Succeeded)
	assert.Equal(t, 3, snap.Emitted)
}

func TestRunRejectsSharedOutputPath(t *testing.T) {
	d := newDispatcher(t, Config{}, Deps{Processor: newFakeProcessor()})
	_, err := d.Run(context.Background(), []string{"a", "b"}, 1, func(corpus.Batch) string { return "same.jsonl" })
	require.Error(t, err)

	_, err = d.Run(context.Background(), []string{"a"}, 0, func(corpus.Batch) string { return "x" })
	require.Error(t, err)
}

func TestOutputPath(t *testing.T) {
	fn, err := OutputPath("/data/out", "part-%06d.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "/data/out/part-000012.jsonl", fn(corpus.Batch{Index: 2, Start: 12}))

	for _, tmpl := range []string{"", "static.jsonl", "part-%s.jsonl", "sub/part-%d.jsonl", "p-%d-%d.jsonl"} {
		_, err := OutputPath("/data", tmpl)
		assert.Error(t, err, tmpl)
	}
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{}, Deps{}, [16]byte{})
	require.Error(t, err)
	_, err = New(Config{Offset: -1}, Deps{Processor: newFakeProcessor()}, [16]byte{})
	require.Error(t, err)
}
