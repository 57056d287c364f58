package chunker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"transcribeflow/internal/services"
)

// Chunk is one slice of a source audio file.
type Chunk struct {
	Path        string
	StartSec    float64
	DurationSec float64
}

// Policy controls when and how audio is split.
type Policy struct {
	// TriggerBytes splits files larger than this. Zero disables chunking.
	TriggerBytes int64
	// ChunkDuration bounds each chunk's length.
	ChunkDuration time.Duration
	// FFmpegBinary and FFprobeBinary override the tools used for non-WAV
	// containers. Empty values use the binaries on PATH.
	FFmpegBinary  string
	FFprobeBinary string
}

func (p Policy) normalized() Policy {
	if p.ChunkDuration <= 0 {
		p.ChunkDuration = 15 * time.Minute
	}
	if p.FFmpegBinary == "" {
		p.FFmpegBinary = "ffmpeg"
	}
	if p.FFprobeBinary == "" {
		p.FFprobeBinary = "ffprobe"
	}
	return p
}

// Chunker splits audio files according to a policy.
type Chunker struct {
	policy Policy
}

// New constructs a Chunker with the given policy.
func New(policy Policy) *Chunker {
	return &Chunker{policy: policy.normalized()}
}

// ShouldChunk reports whether a file exceeds the chunking trigger.
func (c *Chunker) ShouldChunk(path string) (bool, error) {
	if c.policy.TriggerBytes <= 0 {
		return false, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("stat audio: %w", err)
	}
	return info.Size() > c.policy.TriggerBytes, nil
}

// Split slices the source file into chunks under workDir. WAV sources are
// sliced natively; anything else goes through ffmpeg. Callers own the chunk
// files and should remove them with Cleanup when done.
func (c *Chunker) Split(ctx context.Context, source, workDir string) ([]Chunk, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}

	if strings.EqualFold(filepath.Ext(source), ".wav") {
		chunks, err := c.splitWAV(ctx, source, workDir)
		if err == nil {
			return chunks, nil
		}
		// Malformed WAV headers still have a chance through ffmpeg.
	}

	chunks, err := c.splitFFmpeg(ctx, source, workDir)
	if err == nil {
		return chunks, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, services.Wrap(services.ErrChunkingUnavailable, "chunker", "split",
		fmt.Sprintf("cannot split %s", filepath.Base(source)), err)
}

func (c *Chunker) splitFFmpeg(ctx context.Context, source, workDir string) ([]Chunk, error) {
	if _, err := exec.LookPath(c.policy.FFmpegBinary); err != nil {
		return nil, fmt.Errorf("ffmpeg not available: %w", err)
	}

	totalSec, err := c.probeDuration(ctx, source)
	if err != nil {
		return nil, err
	}

	chunkSec := c.policy.ChunkDuration.Seconds()
	var chunks []Chunk
	index := 0
	for start := 0.0; start < totalSec; start += chunkSec {
		duration := chunkSec
		if start+duration > totalSec {
			duration = totalSec - start
		}
		dest := filepath.Join(workDir, fmt.Sprintf("chunk_%03d.wav", index))
		if err := c.extractSegment(ctx, source, start, duration, dest); err != nil {
			Cleanup(chunks)
			return nil, err
		}
		chunks = append(chunks, Chunk{Path: dest, StartSec: start, DurationSec: duration})
		index++
	}
	return chunks, nil
}

func (c *Chunker) probeDuration(ctx context.Context, source string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		source,
	}
	cmd := exec.CommandContext(ctx, c.policy.FFprobeBinary, args...) //nolint:gosec
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w", err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(string(output)), err)
	}
	return duration, nil
}

func (c *Chunker) extractSegment(ctx context.Context, source string, startSec, durationSec float64, dest string) error {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", fmt.Sprintf("%.3f", startSec),
		"-t", fmt.Sprintf("%.3f", durationSec),
		"-i", source,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	}
	cmd := exec.CommandContext(ctx, c.policy.FFmpegBinary, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg extract segment: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Cleanup removes chunk files, ignoring individual failures.
func Cleanup(chunks []Chunk) {
	for _, chunk := range chunks {
		_ = os.Remove(chunk.Path)
	}
}
