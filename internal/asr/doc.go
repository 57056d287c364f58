// Package asr runs the speech-to-text stage. It selects an engine client
// per job, splits oversized audio into chunks, stitches chunk results back
// into one transcription with adjusted segment offsets, and retries
// transient engine failures under exponential backoff.
package asr
