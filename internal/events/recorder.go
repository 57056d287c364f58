// Package events records job lifecycle events to the store's job history,
// the structured log, and the telemetry sink in one call.
package events

import (
	"context"
	"log/slog"

	"transcribeflow/internal/logging"
	"transcribeflow/internal/store"
	"transcribeflow/internal/telemetry"
)

// Recorder fans one job event out to persistence, logging, and telemetry.
type Recorder struct {
	store  store.Store
	logger *slog.Logger
	sink   telemetry.Sink
}

// NewRecorder constructs a Recorder. A nil sink disables telemetry and a
// nil logger discards log output.
func NewRecorder(st store.Store, logger *slog.Logger, sink telemetry.Sink) *Recorder {
	if logger == nil {
		logger = logging.NewNop()
	}
	if sink == nil {
		sink = telemetry.Nop{}
	}
	return &Recorder{store: st, logger: logger, sink: sink}
}

// Info records an informational job event.
func (r *Recorder) Info(ctx context.Context, job *store.Job, event string, payload map[string]any) {
	r.record(ctx, job, slog.LevelInfo, event, payload)
}

// Warn records a warning job event.
func (r *Recorder) Warn(ctx context.Context, job *store.Job, event string, payload map[string]any) {
	r.record(ctx, job, slog.LevelWarn, event, payload)
}

// Error records an error job event.
func (r *Recorder) Error(ctx context.Context, job *store.Job, event string, payload map[string]any) {
	r.record(ctx, job, slog.LevelError, event, payload)
}

// Metric forwards a metric to the telemetry sink.
func (r *Recorder) Metric(ctx context.Context, name string, payload map[string]any) {
	r.sink.RecordMetric(ctx, name, payload)
}

// Alert forwards an alert to the telemetry sink.
func (r *Recorder) Alert(ctx context.Context, name string, payload map[string]any) {
	r.sink.NotifyAlert(ctx, name, payload)
}

func (r *Recorder) record(ctx context.Context, job *store.Job, level slog.Level, event string, payload map[string]any) {
	attrs := []any{logging.String(logging.FieldEventType, event)}
	if job != nil {
		attrs = append(attrs, logging.String(logging.FieldJobID, job.ID))
	}
	for key, value := range payload {
		attrs = append(attrs, logging.Any(key, value))
	}
	r.logger.Log(ctx, level, event, attrs...)

	if job == nil || r.store == nil {
		return
	}
	levelName := "info"
	switch level {
	case slog.LevelWarn:
		levelName = "warn"
	case slog.LevelError:
		levelName = "error"
	}
	message := event
	if detail, ok := payload["error"].(string); ok && detail != "" {
		message = detail
	}
	entry := &store.LogEntry{
		JobID:   job.ID,
		Level:   levelName,
		Event:   event,
		Message: message,
		Payload: payload,
	}
	if err := r.store.AppendLog(ctx, entry); err != nil {
		r.logger.Warn("append job log", logging.Error(err), logging.String(logging.FieldJobID, job.ID))
	}
}
