package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/warc-langfilter/internal/progress"
)

// LogSink writes each event as a structured debug log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		if evt.ShardID != "" {
			fields = append(fields, zap.String("shard", evt.ShardID), zap.Int("batch", evt.Batch))
		}
		if evt.Source != "" {
			fields = append(fields, zap.String("source", evt.Source), zap.Int64("bytes", evt.Bytes))
		}
		if evt.Records > 0 || evt.Emitted > 0 || evt.Failed > 0 {
			fields = append(fields,
				zap.Int64("records", evt.Records),
				zap.Int64("emitted", evt.Emitted),
				zap.Int64("failed", evt.Failed),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
