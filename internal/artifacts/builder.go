package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"transcribeflow/internal/events"
	"transcribeflow/internal/profile"
	"transcribeflow/internal/services"
	"transcribeflow/internal/stage"
	"transcribeflow/internal/store"
)

// Builder emits the deliverable set for a post-edited job and moves it to
// awaiting_review.
type Builder struct {
	store     store.Store
	profiles  *profile.Provider
	templates *TemplateRegistry
	recorder  *events.Recorder
	outputDir string
}

func NewBuilder(st store.Store, profiles *profile.Provider, templates *TemplateRegistry, recorder *events.Recorder, outputDir string) *Builder {
	if recorder == nil {
		recorder = events.NewRecorder(st, nil, nil)
	}
	return &Builder{
		store:     st,
		profiles:  profiles,
		templates: templates,
		recorder:  recorder,
		outputDir: outputDir,
	}
}

func (b *Builder) Prepare(ctx context.Context, job *store.Job) error {
	if err := os.MkdirAll(b.outputDir, 0o755); err != nil {
		return fmt.Errorf("artifacts: create output dir: %w", err)
	}
	b.recorder.Info(ctx, job, "artifacts_started", map[string]any{
		"version": job.Version,
	})
	return nil
}

// Execute renders the TXT, SRT, VTT, and JSON artifacts into
// <output>/<job_id>/<job_id>_v<n>.<ext>. The set is all or nothing: a
// failure removes every file already written for this attempt.
func (b *Builder) Execute(ctx context.Context, job *store.Job) error {
	postEdit := job.PostEdit()
	if postEdit == nil {
		return services.Wrap(services.ErrValidation, "artifacts", "build", "job has no post-edited transcript", nil)
	}
	prof, err := b.profiles.Get(job.ProfileID)
	if err != nil {
		return fmt.Errorf("artifacts: load profile %s: %w", job.ProfileID, err)
	}
	rules := prof.SubtitleRules()
	warnings := Validate(postEdit.Segments, rules)

	jobDir := filepath.Join(b.outputDir, job.ID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return fmt.Errorf("artifacts: create job dir: %w", err)
	}

	stem := fmt.Sprintf("%s_v%d", job.ID, job.Version)
	txtContent, err := b.renderTXT(job, prof, postEdit)
	if err != nil {
		return err
	}
	jsonContent, err := renderRecord(job, prof, postEdit, warnings)
	if err != nil {
		return err
	}

	outputs := []struct {
		kind    store.ArtifactKind
		ext     string
		content string
	}{
		{store.ArtifactTranscript, "txt", txtContent},
		{store.ArtifactSRT, "srt", RenderSRT(postEdit.Segments, rules)},
		{store.ArtifactVTT, "vtt", RenderVTT(postEdit.Segments, rules)},
		{store.ArtifactRecord, "json", jsonContent},
	}

	written := make([]string, 0, len(outputs))
	cleanup := func() {
		for _, path := range written {
			_ = os.Remove(path)
		}
	}
	artifacts := make([]*store.Artifact, 0, len(outputs))
	for _, out := range outputs {
		path := filepath.Join(jobDir, stem+"."+out.ext)
		if err := os.WriteFile(path, []byte(out.content), 0o644); err != nil {
			cleanup()
			return services.Wrap(services.ErrArtifactEmit, "artifacts", "write", path, err)
		}
		written = append(written, path)
		artifacts = append(artifacts, &store.Artifact{
			JobID:   job.ID,
			Kind:    out.kind,
			Path:    path,
			Version: job.Version,
		})
		job.SetOutputPath(out.kind, path)
	}

	if err := b.store.SaveArtifacts(ctx, artifacts); err != nil {
		cleanup()
		return services.Wrap(services.ErrArtifactEmit, "artifacts", "save", job.ID, err)
	}

	job.Status = store.StatusAwaitingReview
	if err := b.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("artifacts: persist job %s: %w", job.ID, err)
	}
	b.recorder.Info(ctx, job, "artifacts_generated", map[string]any{
		"count":    len(artifacts),
		"version":  job.Version,
		"warnings": len(warnings),
	})
	return nil
}

func (b *Builder) HealthCheck(ctx context.Context) stage.Health {
	if err := os.MkdirAll(b.outputDir, 0o755); err != nil {
		return stage.Unhealthy("artifacts", fmt.Sprintf("output dir unavailable: %v", err))
	}
	return stage.Healthy("artifacts")
}

// renderTXT produces the plain transcript. When a template registry is
// configured and resolves, the delivery template wins; the bare
// header-plus-body layout is the fallback.
func (b *Builder) renderTXT(job *store.Job, prof *profile.Profile, postEdit *store.EditedTranscript) (string, error) {
	language := job.Language
	if language == "" {
		language = prof.Language()
	}
	header := buildHeader(job, prof, language)
	body := strings.TrimSpace(postEdit.Text)

	if b.templates == nil {
		return header + "\n\n" + body + "\n", nil
	}

	templateID := job.Meta("delivery_template")
	if templateID == "" {
		templateID = prof.MetaString("delivery_template")
	}
	locale := job.Meta("delivery_locale")
	if locale == "" {
		locale = language
	}
	rendered, err := b.templates.Render(templateID, map[string]string{
		"header":     header,
		"transcript": body,
		"job_id":     job.ID,
		"profile_id": prof.ID,
		"language":   language,
	}, locale)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return header + "\n\n" + body + "\n", nil
		}
		return "", fmt.Errorf("artifacts: render template: %w", err)
	}
	return rendered, nil
}

func buildHeader(job *store.Job, prof *profile.Profile, language string) string {
	lines := []string{
		"Source file: " + job.Filename,
		"Profile: " + prof.ID,
		"Language: " + language,
	}
	if disclaimers := prof.Disclaimers(); len(disclaimers) > 0 {
		lines = append(lines, "Disclaimers:")
		for _, text := range disclaimers {
			lines = append(lines, "- "+text)
		}
	}
	return strings.Join(lines, "\n")
}

type recordSegment struct {
	ID         int      `json:"id"`
	StartSec   float64  `json:"start_sec"`
	EndSec     float64  `json:"end_sec"`
	Text       string   `json:"text"`
	Speaker    string   `json:"speaker,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type jobRecord struct {
	JobID    string            `json:"job_id"`
	Profile  string            `json:"profile"`
	Language string            `json:"language"`
	Text     string            `json:"text"`
	Segments []recordSegment   `json:"segments"`
	Flags    []string          `json:"flags"`
	Warnings []string          `json:"warnings"`
	Metadata map[string]string `json:"metadata"`
}

func renderRecord(job *store.Job, prof *profile.Profile, postEdit *store.EditedTranscript, warnings []string) (string, error) {
	language := job.Language
	if language == "" {
		language = prof.Language()
	}
	record := jobRecord{
		JobID:    job.ID,
		Profile:  prof.ID,
		Language: language,
		Text:     postEdit.Text,
		Segments: make([]recordSegment, 0, len(postEdit.Segments)),
		Flags:    postEdit.Flags,
		Warnings: warnings,
		Metadata: job.Metadata,
	}
	for _, seg := range postEdit.Segments {
		record.Segments = append(record.Segments, recordSegment{
			ID:         seg.ID,
			StartSec:   seg.StartSec,
			EndSec:     seg.EndSec,
			Text:       seg.Text,
			Speaker:    seg.Speaker,
			Confidence: seg.Confidence,
		})
	}
	if record.Flags == nil {
		record.Flags = []string{}
	}
	if record.Warnings == nil {
		record.Warnings = []string{}
	}
	if record.Metadata == nil {
		record.Metadata = map[string]string{}
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("artifacts: encode record: %w", err)
	}
	return string(data) + "\n", nil
}
