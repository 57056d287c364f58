package chunker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// splitWAV slices a PCM WAV file into chunk files without re-encoding
// through external tools.
func (c *Chunker) splitWAV(ctx context.Context, source, workDir string) ([]Chunk, error) {
	file, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, errors.New("not a valid wav file")
	}

	format := decoder.Format()
	if format == nil || format.SampleRate <= 0 || format.NumChannels <= 0 {
		return nil, errors.New("wav format missing")
	}
	bitDepth := int(decoder.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}

	chunkSec := c.policy.ChunkDuration.Seconds()
	samplesPerChunk := int(chunkSec) * format.SampleRate * format.NumChannels
	if samplesPerChunk <= 0 {
		return nil, errors.New("chunk duration too small")
	}

	var chunks []Chunk
	index := 0
	for {
		if err := ctx.Err(); err != nil {
			Cleanup(chunks)
			return nil, err
		}

		buf := &audio.IntBuffer{
			Format: format,
			Data:   make([]int, samplesPerChunk),
		}
		n, err := decoder.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			Cleanup(chunks)
			return nil, fmt.Errorf("read wav samples: %w", err)
		}
		if n == 0 {
			break
		}
		buf.Data = buf.Data[:n]

		dest := filepath.Join(workDir, fmt.Sprintf("chunk_%03d.wav", index))
		duration := float64(n) / float64(format.SampleRate*format.NumChannels)
		if err := writeWAVChunk(dest, buf, bitDepth); err != nil {
			Cleanup(chunks)
			return nil, err
		}
		chunks = append(chunks, Chunk{
			Path:        dest,
			StartSec:    float64(index) * chunkSec,
			DurationSec: duration,
		})
		index++

		if n < samplesPerChunk {
			break
		}
	}
	if len(chunks) == 0 {
		return nil, errors.New("wav file has no samples")
	}
	return chunks, nil
}

func writeWAVChunk(dest string, buf *audio.IntBuffer, bitDepth int) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create chunk: %w", err)
	}
	encoder := wav.NewEncoder(out, buf.Format.SampleRate, bitDepth, buf.Format.NumChannels, 1)
	if err := encoder.Write(buf); err != nil {
		_ = encoder.Close()
		_ = out.Close()
		return fmt.Errorf("write chunk samples: %w", err)
	}
	if err := encoder.Close(); err != nil {
		_ = out.Close()
		return fmt.Errorf("finalize chunk: %w", err)
	}
	return out.Close()
}
