package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/warc-langfilter/internal/progress"
)

// PrometheusSink derives shard lifecycle metrics from progress events.
type PrometheusSink struct {
	shardsStarted   prometheus.Counter
	shardsCompleted *prometheus.CounterVec
	shardsRunning   prometheus.Gauge
	shardRuntime    *prometheus.HistogramVec

	fetches        *prometheus.CounterVec
	fetchBytes     *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	recordsEmitted prometheus.Counter

	tracker *shardTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		shardsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "langfilter_progress_shards_started_total",
			Help: "Total shards that have started.",
		}),
		shardsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "langfilter_progress_shards_completed_total",
			Help: "Total shards completed partitioned by result.",
		}, []string{"result"}),
		shardsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "langfilter_progress_shards_running",
			Help: "Current number of running shards.",
		}),
		shardRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "langfilter_progress_shard_runtime_seconds",
			Help:    "Wall time per completed shard.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "langfilter_progress_fetches_total",
			Help: "Shard fetches partitioned by source (cache, compressed, remote).",
		}, []string{"source"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "langfilter_progress_fetch_bytes_total",
			Help: "Compressed bytes made available per source.",
		}, []string{"source"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "langfilter_progress_fetch_duration_seconds",
			Help:    "Fetch and decompress duration partitioned by source.",
			Buckets: []float64{0.01, 0.1, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"source"}),
		recordsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "langfilter_progress_records_emitted_total",
			Help: "Records written to batch output files.",
		}),
		tracker: newShardTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.shardsStarted,
		s.shardsCompleted,
		s.shardsRunning,
		s.shardRuntime,
		s.fetches,
		s.fetchBytes,
		s.fetchDuration,
		s.recordsEmitted,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageShardStart:
		s.shardsStarted.Inc()
		if s.tracker.start(evt.RunID, evt.ShardID) {
			s.shardsRunning.Inc()
		}
	case progress.StageShardDone:
		s.finish(evt, "success")
		s.recordsEmitted.Add(float64(evt.Emitted))
	case progress.StageShardError:
		result := "error"
		if evt.Status == "canceled" {
			result = "canceled"
		}
		s.finish(evt, result)
	case progress.StageFetchDone:
		s.fetches.WithLabelValues(evt.Source).Inc()
		if evt.Bytes > 0 {
			s.fetchBytes.WithLabelValues(evt.Source).Add(float64(evt.Bytes))
		}
		if evt.Dur > 0 {
			s.fetchDuration.WithLabelValues(evt.Source).Observe(evt.Dur.Seconds())
		}
	}
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.shardsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.shardRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID, evt.ShardID) {
		s.shardsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type shardKey struct {
	run   [16]byte
	shard string
}

type shardTracker struct {
	mu      sync.Mutex
	running map[shardKey]struct{}
}

func newShardTracker() *shardTracker {
	return &shardTracker{running: make(map[shardKey]struct{})}
}

func (t *shardTracker) start(run [16]byte, shard string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := shardKey{run: run, shard: shard}
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = struct{}{}
	return true
}

func (t *shardTracker) complete(run [16]byte, shard string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := shardKey{run: run, shard: shard}
	if _, ok := t.running[key]; !ok {
		return false
	}
	delete(t.running, key)
	return true
}
