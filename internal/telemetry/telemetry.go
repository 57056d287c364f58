// Package telemetry records pipeline metrics and alerts. Events are
// appended as JSON lines under the log directory and fanned out to
// configured webhooks on a best-effort basis.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"transcribeflow/internal/logging"
)

// Sink receives pipeline metrics and alerts.
type Sink interface {
	RecordMetric(ctx context.Context, name string, payload map[string]any)
	NotifyAlert(ctx context.Context, name string, payload map[string]any)
}

// Options configures the file-and-webhook sink.
type Options struct {
	Dir            string
	MetricWebhooks []string
	AlertWebhooks  []string
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// FileSink appends events to metrics.log and alerts.log and posts them to
// webhooks. Failures are logged, never propagated.
type FileSink struct {
	dir            string
	metricWebhooks []string
	alertWebhooks  []string
	httpClient     *http.Client
	logger         *slog.Logger

	mu sync.Mutex
}

// NewFileSink constructs a sink writing under opts.Dir.
func NewFileSink(opts Options) *FileSink {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FileSink{
		dir:            opts.Dir,
		metricWebhooks: opts.MetricWebhooks,
		alertWebhooks:  opts.AlertWebhooks,
		httpClient:     &http.Client{Timeout: timeout},
		logger:         logger.With(logging.String(logging.FieldComponent, "telemetry")),
	}
}

type event struct {
	Timestamp string         `json:"timestamp"`
	Event     string         `json:"event"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// RecordMetric appends a metric event and posts it to metric webhooks.
func (s *FileSink) RecordMetric(ctx context.Context, name string, payload map[string]any) {
	s.emit(ctx, "metrics.log", s.metricWebhooks, name, payload)
}

// NotifyAlert appends an alert event and posts it to alert webhooks.
func (s *FileSink) NotifyAlert(ctx context.Context, name string, payload map[string]any) {
	s.emit(ctx, "alerts.log", s.alertWebhooks, name, payload)
}

func (s *FileSink) emit(ctx context.Context, filename string, webhooks []string, name string, payload map[string]any) {
	record := event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Event:     name,
		Payload:   payload,
	}
	data, err := json.Marshal(record)
	if err != nil {
		s.logger.Warn("encode telemetry event", logging.Error(err), logging.String(logging.FieldEventType, name))
		return
	}

	if s.dir != "" {
		if err := s.appendLine(filename, data); err != nil {
			s.logger.Warn("write telemetry event", logging.Error(err), logging.String(logging.FieldEventType, name))
		}
	}

	for _, url := range webhooks {
		if err := s.post(ctx, url, data); err != nil {
			s.logger.Warn("telemetry webhook", logging.Error(err), logging.String("url", url))
		}
	}
}

func (s *FileSink) appendLine(filename string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create telemetry dir: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(s.dir, filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open telemetry log: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append telemetry event: %w", err)
	}
	return nil
}

func (s *FileSink) post(ctx context.Context, url string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook %s returned %d", url, resp.StatusCode)
	}
	return nil
}

// Nop is a Sink that discards everything.
type Nop struct{}

func (Nop) RecordMetric(context.Context, string, map[string]any) {}
func (Nop) NotifyAlert(context.Context, string, map[string]any)  {}
