package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound marks lookups that missed (jobs, profiles, templates).
	ErrNotFound = errors.New("not found")
	// ErrConfiguration marks failures caused by missing or invalid wiring,
	// such as a job engine without a configured client.
	ErrConfiguration = errors.New("configuration error")
	// ErrValidation marks inputs that can never succeed as given.
	ErrValidation = errors.New("validation error")
	// ErrTransient marks remote failures that may succeed on retry.
	ErrTransient = errors.New("transient failure")
	// ErrChunkingUnavailable marks audio that exceeds the chunk trigger but
	// cannot be sliced with the available decoders.
	ErrChunkingUnavailable = errors.New("chunking unavailable")
	// ErrArtifactEmit marks filesystem failures while materializing artifacts.
	ErrArtifactEmit = errors.New("artifact emit failure")
	// ErrCanceled marks user-initiated cancellation.
	ErrCanceled = errors.New("cancellation requested")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind is a coarse error classification used for telemetry payloads and the
// retry/reject decision.
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindConfiguration Kind = "configuration"
	KindValidation    Kind = "validation"
	KindTransient     Kind = "transient"
	KindChunking      Kind = "chunking_unavailable"
	KindArtifact      Kind = "artifact_emit"
	KindCanceled      Kind = "canceled"
	KindUnknown       Kind = "unknown"
)

// Classify maps an error to its Kind. Context cancellation wins over any
// marker so a canceled stage is never mistaken for a transient failure.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCanceled):
		return KindCanceled
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrChunkingUnavailable):
		return KindChunking
	case errors.Is(err, ErrArtifactEmit):
		return KindArtifact
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindUnknown
	}
}

// RetryEligible reports whether the arbiter may requeue a job that failed
// with this error. Wiring mistakes, missing entities, and cancellations never
// become retries; everything else is left to the allow_retry flag.
func RetryEligible(err error) bool {
	switch Classify(err) {
	case KindNotFound, KindConfiguration, KindValidation, KindCanceled:
		return false
	default:
		return true
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
