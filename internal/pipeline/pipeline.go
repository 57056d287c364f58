// Package pipeline sequences the processing stages for a single job: ASR,
// LLM post-edit, the accuracy guard, and artifact emission. Failures are
// classified and handed to the arbiter; the guard is advisory and never
// fails a run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"transcribeflow/internal/accuracy"
	"transcribeflow/internal/arbiter"
	"transcribeflow/internal/events"
	"transcribeflow/internal/logging"
	"transcribeflow/internal/publisher"
	"transcribeflow/internal/services"
	"transcribeflow/internal/stage"
	"transcribeflow/internal/store"
)

const (
	stageASR       = "asr"
	stagePostEdit  = "post_edit"
	stageArtifacts = "artifacts"
)

type Options struct {
	Store      store.Store
	Recorder   *events.Recorder
	Logger     *slog.Logger
	Arbiter    *arbiter.Arbiter
	Publisher  publisher.Publisher
	Guard      *accuracy.Guard
	ASR        stage.Handler
	PostEdit   stage.Handler
	Artifacts  stage.Handler
	AllowRetry bool
}

type Pipeline struct {
	store      store.Store
	recorder   *events.Recorder
	logger     *slog.Logger
	arbiter    *arbiter.Arbiter
	publisher  publisher.Publisher
	guard      *accuracy.Guard
	asr        stage.Handler
	postEdit   stage.Handler
	artifacts  stage.Handler
	allowRetry bool
}

func New(opts Options) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if opts.ASR == nil || opts.PostEdit == nil || opts.Artifacts == nil {
		return nil, errors.New("pipeline: all stage handlers are required")
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = events.NewRecorder(opts.Store, opts.Logger, nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	pub := opts.Publisher
	if pub == nil {
		pub = publisher.Nop{}
	}
	return &Pipeline{
		store:      opts.Store,
		recorder:   recorder,
		logger:     logger,
		arbiter:    opts.Arbiter,
		publisher:  pub,
		guard:      opts.Guard,
		asr:        opts.ASR,
		postEdit:   opts.PostEdit,
		artifacts:  opts.Artifacts,
		allowRetry: opts.AllowRetry,
	}, nil
}

// Execute runs every stage for the job. The returned error is the first
// stage failure; by the time it returns the arbiter has already requeued or
// rejected the job.
func (p *Pipeline) Execute(ctx context.Context, jobID string) error {
	started := time.Now()
	ctx = services.WithJobID(ctx, jobID)

	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "pipeline", "execute", fmt.Sprintf("job %s", jobID), nil)
	}

	if err := p.runStage(ctx, stageASR, p.asr, job); err != nil {
		return p.resolveFailure(ctx, job, stageASR, err)
	}
	if err := p.runStage(ctx, stagePostEdit, p.postEdit, job); err != nil {
		return p.resolveFailure(ctx, job, stagePostEdit, err)
	}

	if p.guard != nil {
		if err := p.guard.Evaluate(ctx, job.ID); err != nil {
			p.recorder.Warn(ctx, job, "accuracy_guard_failed", map[string]any{"error": err.Error()})
		}
		// The guard rewrites metadata and review fields; work from the
		// stored job so the artifact stage does not clobber them.
		refreshed, err := p.store.GetJob(ctx, job.ID)
		if err != nil {
			return err
		}
		if refreshed != nil {
			job = refreshed
		}
	}

	if err := p.runStage(ctx, stageArtifacts, p.artifacts, job); err != nil {
		return p.resolveFailure(ctx, job, stageArtifacts, err)
	}

	artifactCount := 0
	if attached, err := p.store.ArtifactsForJob(ctx, job.ID); err == nil {
		for _, artifact := range attached {
			if artifact.Version == job.Version {
				artifactCount++
			}
		}
	}
	p.recorder.Metric(ctx, "pipeline.completed", map[string]any{
		"job_id":         job.ID,
		"artifact_count": artifactCount,
		"duration_sec":   time.Since(started).Seconds(),
	})
	return nil
}

func (p *Pipeline) runStage(ctx context.Context, name string, handler stage.Handler, job *store.Job) error {
	stageCtx := services.WithStage(ctx, name)
	logger := logging.WithContext(stageCtx, p.logger)
	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))

	started := time.Now()
	if err := handler.Prepare(stageCtx, job); err != nil {
		return err
	}
	if err := handler.Execute(stageCtx, job); err != nil {
		return err
	}
	duration := time.Since(started)

	p.recorder.Metric(stageCtx, "pipeline.stage.completed", map[string]any{
		"job_id":       job.ID,
		"stage":        name,
		"duration_sec": duration.Seconds(),
	})
	if err := p.publisher.Publish(stageCtx, job); err != nil {
		logger.Warn("status publish failed", logging.Error(err))
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_status", string(job.Status)),
		logging.Duration("duration", duration),
	)
	return nil
}

// resolveFailure marks the job failed and delegates the retry-or-reject
// decision. Cancellations stop at failed: a canceled run is never resubmitted
// or rejected automatically.
func (p *Pipeline) resolveFailure(ctx context.Context, job *store.Job, stageName string, stageErr error) error {
	kind := services.Classify(stageErr)
	p.recorder.Error(ctx, job, "pipeline_failed", map[string]any{
		"stage": stageName,
		"error": stageErr.Error(),
		"kind":  string(kind),
	})
	p.recorder.Alert(ctx, "pipeline.failed", map[string]any{
		"job_id": job.ID,
		"stage":  stageName,
		"kind":   string(kind),
	})

	job.Status = store.StatusFailed
	job.ErrorMessage = stageErr.Error()
	if err := p.store.UpdateJob(ctx, job); err != nil {
		p.logger.Error("persist failed status", logging.Error(err))
	}
	if err := p.publisher.Publish(ctx, job); err != nil {
		p.logger.Warn("status publish failed", logging.Error(err))
	}

	if kind == services.KindCanceled || p.arbiter == nil {
		return stageErr
	}

	decision := arbiter.Decision{
		JobID:        job.ID,
		Stage:        stageName,
		ErrorMessage: stageErr.Error(),
		Retryable:    p.allowRetry && services.RetryEligible(stageErr),
		Payload: map[string]any{
			"kind":    string(kind),
			"version": job.Version,
		},
	}
	if _, err := p.arbiter.Resolve(ctx, decision); err != nil {
		p.logger.Error("arbiter resolution failed", logging.Error(err))
	}
	return stageErr
}
