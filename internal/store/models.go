package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle of a transcription job.
type Status string

const (
	StatusPending             Status = "pending"
	StatusProcessing          Status = "processing"
	StatusASRCompleted        Status = "asr_completed"
	StatusPostEditing         Status = "post_editing"
	StatusAwaitingReview      Status = "awaiting_review"
	StatusApproved            Status = "approved"
	StatusAdjustmentsRequired Status = "adjustments_required"
	StatusFailed              Status = "failed"
	StatusRejected            Status = "rejected"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusASRCompleted,
	StatusPostEditing,
	StatusAwaitingReview,
	StatusApproved,
	StatusAdjustmentsRequired,
	StatusFailed,
	StatusRejected,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// allowedTransitions is the job lifecycle table. A job may always be
// updated without changing status; changing status requires an entry here.
var allowedTransitions = map[Status][]Status{
	StatusPending:             {StatusProcessing, StatusFailed, StatusRejected},
	StatusProcessing:          {StatusASRCompleted, StatusFailed},
	StatusASRCompleted:        {StatusPostEditing, StatusFailed},
	StatusPostEditing:         {StatusAwaitingReview, StatusFailed},
	StatusAdjustmentsRequired: {StatusAwaitingReview, StatusPending, StatusFailed, StatusRejected},
	StatusAwaitingReview:      {StatusApproved, StatusAdjustmentsRequired, StatusPending, StatusFailed, StatusRejected},
	StatusFailed:              {StatusPending, StatusRejected},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status ends the job lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ValidateTransition reports whether a job may move between two statuses.
// Same-status updates are always legal.
func ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("illegal status transition %s -> %s", from, to)
}

// Segment is one timed span of transcript text. Confidence is nil when the
// engine reported none; zero is a real value.
type Segment struct {
	ID         int      `json:"id"`
	StartSec   float64  `json:"start_sec"`
	EndSec     float64  `json:"end_sec"`
	Text       string   `json:"text"`
	Speaker    string   `json:"speaker,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Transcription is the raw engine output persisted after the ASR stage.
type Transcription struct {
	Text        string            `json:"text"`
	Segments    []Segment         `json:"segments,omitempty"`
	Language    string            `json:"language,omitempty"`
	DurationSec float64           `json:"duration_sec,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// EditedTranscript is the post-edited transcript with reviewer flags.
type EditedTranscript struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments,omitempty"`
	Flags    []string  `json:"flags,omitempty"`
}

// Job represents a transcription job persisted by the store.
type Job struct {
	ID               string
	SourcePath       string
	Filename         string
	ProfileID        string
	Engine           string
	Status           Status
	Version          int
	Language         string
	DurationSec      float64
	Metadata         map[string]string
	OutputPaths      map[string]string
	TranscriptionJSON string
	PostEditJSON     string
	ErrorMessage     string
	NeedsReview      bool
	ReviewReason     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Transcription decodes the stored engine output, or nil when absent.
func (j *Job) Transcription() *Transcription {
	if strings.TrimSpace(j.TranscriptionJSON) == "" {
		return nil
	}
	var out Transcription
	if err := json.Unmarshal([]byte(j.TranscriptionJSON), &out); err != nil {
		return nil
	}
	return &out
}

// SetTranscription encodes and stores the engine output.
func (j *Job) SetTranscription(t *Transcription) error {
	if t == nil {
		j.TranscriptionJSON = ""
		return nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transcription: %w", err)
	}
	j.TranscriptionJSON = string(data)
	return nil
}

// PostEdit decodes the stored edited transcript, or nil when absent.
func (j *Job) PostEdit() *EditedTranscript {
	if strings.TrimSpace(j.PostEditJSON) == "" {
		return nil
	}
	var out EditedTranscript
	if err := json.Unmarshal([]byte(j.PostEditJSON), &out); err != nil {
		return nil
	}
	return &out
}

// SetPostEdit encodes and stores the edited transcript.
func (j *Job) SetPostEdit(t *EditedTranscript) error {
	if t == nil {
		j.PostEditJSON = ""
		return nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal post edit: %w", err)
	}
	j.PostEditJSON = string(data)
	return nil
}

// Meta returns a metadata value, or the empty string when unset.
func (j *Job) Meta(key string) string {
	if j.Metadata == nil {
		return ""
	}
	return j.Metadata[key]
}

// SetMeta stores a metadata value, allocating the map on first use.
func (j *Job) SetMeta(key, value string) {
	if j.Metadata == nil {
		j.Metadata = make(map[string]string)
	}
	j.Metadata[key] = value
}

// SetOutputPath records where an emitted artifact kind landed on disk.
func (j *Job) SetOutputPath(kind ArtifactKind, path string) {
	if j.OutputPaths == nil {
		j.OutputPaths = make(map[string]string)
	}
	j.OutputPaths[string(kind)] = path
}

// ArtifactKind identifies one of the emitted output formats.
type ArtifactKind string

const (
	ArtifactTranscript ArtifactKind = "txt"
	ArtifactSRT        ArtifactKind = "srt"
	ArtifactVTT        ArtifactKind = "vtt"
	ArtifactRecord     ArtifactKind = "json"
)

// Artifact records one emitted output file for a job version.
type Artifact struct {
	ID        int64
	JobID     string
	Kind      ArtifactKind
	Path      string
	Version   int
	CreatedAt time.Time
}

// LogEntry is one structured event appended to a job's history.
type LogEntry struct {
	ID        int64
	JobID     string
	Level     string
	Event     string
	Message   string
	Payload   map[string]any
	CreatedAt time.Time
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total          int
	Pending        int
	Processing     int
	AwaitingReview int
	Failed         int
	Rejected       int
	Approved       int
}

func addStatusCount(summary *HealthSummary, status Status, count int) {
	summary.Total += count
	switch status {
	case StatusPending:
		summary.Pending += count
	case StatusProcessing, StatusASRCompleted, StatusPostEditing, StatusAdjustmentsRequired:
		summary.Processing += count
	case StatusAwaitingReview:
		summary.AwaitingReview += count
	case StatusFailed:
		summary.Failed += count
	case StatusRejected:
		summary.Rejected += count
	case StatusApproved:
		summary.Approved += count
	}
}
