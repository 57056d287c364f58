package asr

import (
	"context"
)

// TranscribeRequest describes one engine invocation.
type TranscribeRequest struct {
	FilePath string
	// Language is the ISO language hint, or empty for auto-detection.
	Language string
	// Task is "transcribe" or "translate".
	Task string
}

// RawSegment is one timed span as reported by an engine. Confidence stays
// nil when the engine omits the field.
type RawSegment struct {
	ID         int      `json:"id"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	Speaker    string   `json:"speaker,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// RawResult is the engine payload before normalization.
type RawResult struct {
	Text     string       `json:"text"`
	Segments []RawSegment `json:"segments"`
	Language string       `json:"language"`
	Duration float64      `json:"duration"`
}

// EngineClient transcribes a single audio file.
type EngineClient interface {
	Transcribe(ctx context.Context, req TranscribeRequest) (*RawResult, error)
}
