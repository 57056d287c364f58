// Package arbiter decides the fate of failed jobs: retryable failures go
// back to the queue with a bumped version, everything else is rejected with
// a durable failure record under the rejected directory.
package arbiter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"transcribeflow/internal/events"
	"transcribeflow/internal/publisher"
	"transcribeflow/internal/services"
	"transcribeflow/internal/store"
)

// Decision describes one failed pipeline run for arbitration. Retryable is
// the combined verdict of the error classifier and the allow_retry setting.
type Decision struct {
	JobID        string
	Stage        string
	ErrorMessage string
	Retryable    bool
	Payload      map[string]any
}

type Arbiter struct {
	store       store.Store
	recorder    *events.Recorder
	publisher   publisher.Publisher
	rejectedDir string
}

func New(st store.Store, recorder *events.Recorder, pub publisher.Publisher, rejectedDir string) *Arbiter {
	if recorder == nil {
		recorder = events.NewRecorder(st, nil, nil)
	}
	if pub == nil {
		pub = publisher.Nop{}
	}
	return &Arbiter{store: st, recorder: recorder, publisher: pub, rejectedDir: rejectedDir}
}

// Resolve requeues or rejects the job named by the decision and returns the
// updated job.
func (a *Arbiter) Resolve(ctx context.Context, decision Decision) (*store.Job, error) {
	job, err := a.store.GetJob(ctx, decision.JobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "arbiter", "resolve", fmt.Sprintf("job %s", decision.JobID), nil)
	}

	target := store.StatusRejected
	event := "job_rejected"
	if decision.Retryable {
		target = store.StatusPending
		event = "job_requeued"
	}

	// Mid-stage statuses cannot reach pending or rejected directly; route
	// through failed so the transition table stays authoritative.
	if store.ValidateTransition(job.Status, target) != nil {
		job.Status = store.StatusFailed
		job.ErrorMessage = decision.ErrorMessage
		if err := a.store.UpdateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("arbiter: mark job %s failed: %w", job.ID, err)
		}
	}

	job.ErrorMessage = decision.ErrorMessage
	if decision.Retryable {
		job.Version++
	} else if err := a.writeFailureRecord(job, decision); err != nil {
		return nil, err
	}
	job.Status = target
	if err := a.store.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("arbiter: persist decision for job %s: %w", job.ID, err)
	}

	if err := a.publisher.Publish(ctx, job); err != nil {
		a.recorder.Warn(ctx, job, "status_publish_failed", map[string]any{"error": err.Error()})
	}
	a.recorder.Warn(ctx, job, event, map[string]any{
		"stage":   decision.Stage,
		"error":   decision.ErrorMessage,
		"version": job.Version,
	})
	return job, nil
}

type failureRecord struct {
	JobID        string            `json:"job_id"`
	Stage        string            `json:"stage"`
	Error        string            `json:"error"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata"`
	TimestampUTC string            `json:"timestamp_utc"`
	Payload      map[string]any    `json:"payload"`
	Retryable    bool              `json:"retryable"`
}

func (a *Arbiter) writeFailureRecord(job *store.Job, decision Decision) error {
	timestamp := time.Now().UTC().Format("20060102T150405Z")
	jobDir := filepath.Join(a.rejectedDir, job.ID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return fmt.Errorf("arbiter: create rejected dir: %w", err)
	}
	record := failureRecord{
		JobID:        job.ID,
		Stage:        decision.Stage,
		Error:        decision.ErrorMessage,
		Status:       string(store.StatusRejected),
		Metadata:     job.Metadata,
		TimestampUTC: timestamp,
		Payload:      decision.Payload,
		Retryable:    decision.Retryable,
	}
	if record.Metadata == nil {
		record.Metadata = map[string]string{}
	}
	if record.Payload == nil {
		record.Payload = map[string]any{}
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("arbiter: encode failure record: %w", err)
	}
	target := filepath.Join(jobDir, "failure_"+timestamp+".json")
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("arbiter: write failure record: %w", err)
	}
	return nil
}
