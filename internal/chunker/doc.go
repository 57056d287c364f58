// Package chunker splits oversized audio into bounded-duration chunks
// before transcription. It slices WAV files natively and shells out to
// ffmpeg for every other container, reporting a chunking-unavailable
// error when neither path applies.
package chunker
