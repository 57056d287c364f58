package asr

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"transcribeflow/internal/chunker"
	"transcribeflow/internal/events"
	"transcribeflow/internal/profile"
	"transcribeflow/internal/services"
	"transcribeflow/internal/stage"
	"transcribeflow/internal/store"
)

const (
	// TaskTranscribe keeps the source language.
	TaskTranscribe = "transcribe"
	// TaskTranslate translates into the profile language.
	TaskTranslate = "translate"
)

// Stage runs speech-to-text for one job.
type Stage struct {
	store    store.Store
	profiles *profile.Provider
	engines  map[string]EngineClient
	chunker  *chunker.Chunker
	retry    *services.RetryExecutor
	recorder *events.Recorder
	workDir  string
}

// NewStage constructs the ASR stage.
func NewStage(
	st store.Store,
	profiles *profile.Provider,
	engines map[string]EngineClient,
	splitter *chunker.Chunker,
	retry *services.RetryExecutor,
	recorder *events.Recorder,
	workDir string,
) *Stage {
	if retry == nil {
		retry = services.NewRetryExecutor(services.RetryConfig{})
	}
	return &Stage{
		store:    st,
		profiles: profiles,
		engines:  engines,
		chunker:  splitter,
		retry:    retry,
		recorder: recorder,
		workDir:  workDir,
	}
}

// Prepare moves the job into processing and records the stage start.
func (s *Stage) Prepare(ctx context.Context, job *store.Job) error {
	job.Status = store.StatusProcessing
	job.ErrorMessage = ""
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	s.recorder.Info(ctx, job, "asr_started", map[string]any{
		"engine":  job.Engine,
		"profile": job.ProfileID,
		"version": job.Version,
	})
	return nil
}

// Execute transcribes the job's source audio and stores the result.
func (s *Stage) Execute(ctx context.Context, job *store.Job) error {
	client, ok := s.engines[job.Engine]
	if !ok {
		err := services.Wrap(services.ErrConfiguration, "asr", "execute",
			fmt.Sprintf("no engine client configured for %q", job.Engine), nil)
		s.recordFailure(ctx, job, err)
		return err
	}

	prof, err := s.profiles.Get(job.ProfileID)
	if err != nil {
		s.recordFailure(ctx, job, err)
		return err
	}

	task := TaskTranscribe
	if prof.RequiresTranslation() {
		task = TaskTranslate
	}
	language := languageHint(prof)

	result, err := s.transcribe(ctx, job, client, language, task)
	if err != nil {
		s.recordFailure(ctx, job, err)
		return err
	}

	if err := job.SetTranscription(result); err != nil {
		s.recordFailure(ctx, job, err)
		return err
	}
	job.Language = result.Language
	job.DurationSec = result.DurationSec
	job.Status = store.StatusASRCompleted
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return err
	}

	s.recorder.Info(ctx, job, "asr_completed", map[string]any{
		"engine":       job.Engine,
		"task":         task,
		"language":     result.Language,
		"duration_sec": result.DurationSec,
		"chunk_count":  result.Metadata["chunk_count"],
	})
	return nil
}

// HealthCheck verifies an engine client exists for the configured default.
func (s *Stage) HealthCheck(context.Context) stage.Health {
	if len(s.engines) == 0 {
		return stage.Unhealthy("asr", "no engine clients configured")
	}
	return stage.Healthy("asr")
}

func (s *Stage) transcribe(ctx context.Context, job *store.Job, client EngineClient, language, task string) (*store.Transcription, error) {
	shouldChunk := false
	if s.chunker != nil {
		chunked, err := s.chunker.ShouldChunk(job.SourcePath)
		if err != nil {
			return nil, err
		}
		shouldChunk = chunked
	}

	if !shouldChunk {
		raw, err := s.callEngine(ctx, client, job.SourcePath, language, task)
		if err != nil {
			return nil, err
		}
		result := buildResult(raw, job.Engine, language, task)
		result.Metadata["chunked"] = "false"
		result.Metadata["chunk_count"] = "1"
		return result, nil
	}
	return s.transcribeChunked(ctx, job, client, language, task)
}

func (s *Stage) transcribeChunked(ctx context.Context, job *store.Job, client EngineClient, language, task string) (*store.Transcription, error) {
	workDir := filepath.Join(s.workDir, job.ID)
	chunks, err := s.chunker.Split(ctx, job.SourcePath, workDir)
	if err != nil {
		return nil, err
	}
	defer chunker.Cleanup(chunks)

	var (
		texts    []string
		segments []store.Segment
		duration float64
	)
	detected := language

	for _, chunk := range chunks {
		raw, err := s.callEngine(ctx, client, chunk.Path, language, task)
		if err != nil {
			return nil, err
		}
		chunkResult := buildResult(raw, job.Engine, language, task)
		if chunkResult.Text != "" {
			texts = append(texts, chunkResult.Text)
		}
		chunkDuration := chunkResult.DurationSec
		if chunkDuration == 0 {
			chunkDuration = chunk.DurationSec
		}
		if end := chunk.StartSec + chunkDuration; end > duration {
			duration = end
		}
		for _, segment := range chunkResult.Segments {
			segment.StartSec += chunk.StartSec
			segment.EndSec += chunk.StartSec
			segments = append(segments, segment)
		}
		if chunkResult.Language != "" {
			detected = chunkResult.Language
		}
	}

	return &store.Transcription{
		Text:        strings.TrimSpace(strings.Join(texts, " ")),
		Segments:    segments,
		Language:    detected,
		DurationSec: duration,
		Metadata: map[string]string{
			"engine":      job.Engine,
			"task":        task,
			"chunked":     "true",
			"chunk_count": fmt.Sprintf("%d", len(chunks)),
		},
	}, nil
}

func (s *Stage) callEngine(ctx context.Context, client EngineClient, path, language, task string) (*RawResult, error) {
	var raw *RawResult
	err := s.retry.Run(ctx, func() error {
		result, err := client.Transcribe(ctx, TranscribeRequest{
			FilePath: path,
			Language: language,
			Task:     task,
		})
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *Stage) recordFailure(ctx context.Context, job *store.Job, err error) {
	s.recorder.Error(ctx, job, "asr_failed", map[string]any{
		"engine": job.Engine,
		"error":  err.Error(),
		"kind":   string(services.Classify(err)),
	})
}

func buildResult(raw *RawResult, engine, language, task string) *store.Transcription {
	segments := make([]store.Segment, 0, len(raw.Segments))
	for _, segment := range raw.Segments {
		segments = append(segments, store.Segment{
			ID:         segment.ID,
			StartSec:   segment.Start,
			EndSec:     segment.End,
			Text:       strings.TrimSpace(segment.Text),
			Speaker:    segment.Speaker,
			Confidence: segment.Confidence,
		})
	}
	detected := raw.Language
	if detected == "" {
		detected = language
	}
	return &store.Transcription{
		Text:        raw.Text,
		Segments:    segments,
		Language:    detected,
		DurationSec: raw.Duration,
		Metadata: map[string]string{
			"engine": engine,
			"task":   task,
		},
	}
}

func languageHint(prof *profile.Profile) string {
	language := strings.TrimSpace(prof.MetaString("language"))
	if language == "" || strings.EqualFold(language, "auto") {
		return ""
	}
	return language
}
