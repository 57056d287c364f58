// Package accuracy estimates transcription quality after post-editing.
// The guard computes a word error rate between the edited text and either
// the raw transcription or a client-supplied reference, subtracts penalties
// for placeholders, reviewer flags, and low-confidence segments, and marks
// jobs below the configured threshold for review.
package accuracy
