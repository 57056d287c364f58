package postedit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"transcribeflow/internal/events"
	"transcribeflow/internal/profile"
	"transcribeflow/internal/services"
	"transcribeflow/internal/stage"
	"transcribeflow/internal/store"
)

// Stage refines the raw transcription through the chat model.
type Stage struct {
	store    store.Store
	profiles *profile.Provider
	client   ChatClient
	retry    *services.RetryExecutor
	recorder *events.Recorder
}

// NewStage constructs the post-edit stage.
func NewStage(st store.Store, profiles *profile.Provider, client ChatClient, retry *services.RetryExecutor, recorder *events.Recorder) *Stage {
	if retry == nil {
		retry = services.NewRetryExecutor(services.RetryConfig{})
	}
	return &Stage{
		store:    st,
		profiles: profiles,
		client:   client,
		retry:    retry,
		recorder: recorder,
	}
}

// Prepare moves the job into post_editing and records the stage start.
func (s *Stage) Prepare(ctx context.Context, job *store.Job) error {
	job.Status = store.StatusPostEditing
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	s.recorder.Info(ctx, job, "post_edit_started", map[string]any{
		"profile": job.ProfileID,
		"version": job.Version,
	})
	return nil
}

// Execute sends the transcription through the model and stores the edited
// transcript. Unusable model output falls back to the raw transcription.
func (s *Stage) Execute(ctx context.Context, job *store.Job) error {
	transcription := job.Transcription()
	if transcription == nil {
		err := services.Wrap(services.ErrValidation, "postedit", "execute",
			fmt.Sprintf("job %s has no transcription to edit", job.ID), nil)
		s.recordFailure(ctx, job, err)
		return err
	}

	prof, err := s.profiles.Get(job.ProfileID)
	if err != nil {
		s.recordFailure(ctx, job, err)
		return err
	}

	systemPrompt := buildSystemPrompt(prof)
	userPrompt, err := buildUserPrompt(prof, transcription)
	if err != nil {
		s.recordFailure(ctx, job, err)
		return err
	}

	var rawResponse string
	err = s.retry.Run(ctx, func() error {
		content, err := s.client.CompleteJSON(ctx, systemPrompt, userPrompt)
		if err != nil {
			return err
		}
		rawResponse = content
		return nil
	})
	if err != nil {
		s.recordFailure(ctx, job, err)
		return err
	}

	edited := parseEditedTranscript(rawResponse, transcription)
	if prof.ShouldAnonymizePII() {
		edited.Text = MaskPII(edited.Text)
		for i := range edited.Segments {
			edited.Segments[i].Text = MaskPII(edited.Segments[i].Text)
		}
	}

	if err := job.SetPostEdit(edited); err != nil {
		s.recordFailure(ctx, job, err)
		return err
	}
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return err
	}

	s.recorder.Info(ctx, job, "post_edit_completed", map[string]any{
		"profile":    job.ProfileID,
		"flag_count": len(edited.Flags),
		"anonymized": prof.ShouldAnonymizePII(),
	})
	return nil
}

// HealthCheck verifies a chat client is wired.
func (s *Stage) HealthCheck(context.Context) stage.Health {
	if s.client == nil {
		return stage.Unhealthy("postedit", "no chat client configured")
	}
	return stage.Healthy("postedit")
}

func (s *Stage) recordFailure(ctx context.Context, job *store.Job, err error) {
	s.recorder.Error(ctx, job, "post_edit_failed", map[string]any{
		"error": err.Error(),
		"kind":  string(services.Classify(err)),
	})
}

func buildSystemPrompt(prof *profile.Profile) string {
	var b strings.Builder
	b.WriteString("You are an editor specialized in professional transcriptions.\n")
	b.WriteString("Apply clean verbatim editing, normalize punctuation, and follow the profile below.\n")
	b.WriteString("Respond with a JSON object containing text, segments, and flags.\n")
	if disclaimers := prof.Disclaimers(); len(disclaimers) > 0 {
		b.WriteString("Mandatory disclaimers:\n")
		b.WriteString(strings.Join(disclaimers, "\n"))
		b.WriteString("\n")
	}
	if body := strings.TrimSpace(prof.PromptBody); body != "" {
		b.WriteString(body)
		b.WriteString("\n")
	}
	return b.String()
}

type userPromptPayload struct {
	ProfileMeta   map[string]any       `json:"profile_meta"`
	Instructions  []string             `json:"instructions"`
	Transcription transcriptionPayload `json:"transcription"`
}

type transcriptionPayload struct {
	Text     string          `json:"text"`
	Language string          `json:"language"`
	Segments []store.Segment `json:"segments"`
}

func buildUserPrompt(prof *profile.Profile, transcription *store.Transcription) (string, error) {
	payload := userPromptPayload{
		ProfileMeta:  prof.Meta,
		Instructions: prof.Instructions(),
		Transcription: transcriptionPayload{
			Text:     transcription.Text,
			Language: transcription.Language,
			Segments: transcription.Segments,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode user prompt: %w", err)
	}
	return string(data), nil
}

type modelPayload struct {
	Text     json.RawMessage `json:"text"`
	Segments json.RawMessage `json:"segments"`
	Flags    json.RawMessage `json:"flags"`
}

// parseEditedTranscript decodes model output. Anything the model got
// wrong is replaced with the corresponding transcription value.
func parseEditedTranscript(raw string, transcription *store.Transcription) *store.EditedTranscript {
	fallback := &store.EditedTranscript{
		Text:     transcription.Text,
		Segments: transcription.Segments,
		Flags:    []string{},
	}

	var payload modelPayload
	if err := DecodeModelJSON(raw, &payload); err != nil {
		return fallback
	}

	edited := &store.EditedTranscript{Flags: []string{}}

	var text string
	if err := json.Unmarshal(payload.Text, &text); err != nil || text == "" {
		edited.Text = transcription.Text
	} else {
		edited.Text = text
	}

	var segments []store.Segment
	if err := json.Unmarshal(payload.Segments, &segments); err != nil || segments == nil {
		edited.Segments = transcription.Segments
	} else {
		edited.Segments = segments
	}

	var flags []string
	if err := json.Unmarshal(payload.Flags, &flags); err == nil && flags != nil {
		edited.Flags = flags
	}
	return edited
}
