package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"transcribeflow/internal/services"
)

// LocalConfig configures the local whisper-compatible engine.
type LocalConfig struct {
	// Binary is the whisper-compatible executable. It must accept
	// --audio/--model/--task/--language flags and print verbose JSON
	// on stdout.
	Binary string
	Model  string
}

// LocalClient runs transcription through a local whisper-compatible binary.
type LocalClient struct {
	cfg LocalConfig
}

// NewLocalClient constructs a local engine client.
func NewLocalClient(cfg LocalConfig) *LocalClient {
	if cfg.Binary == "" {
		cfg.Binary = "whisper"
	}
	return &LocalClient{cfg: cfg}
}

// Transcribe invokes the local binary and decodes its JSON output.
func (c *LocalClient) Transcribe(ctx context.Context, req TranscribeRequest) (*RawResult, error) {
	if _, err := exec.LookPath(c.cfg.Binary); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "asr", "transcribe",
			fmt.Sprintf("local engine binary %q not found", c.cfg.Binary), err)
	}

	args := []string{"--audio", req.FilePath, "--output", "json"}
	if c.cfg.Model != "" {
		args = append(args, "--model", c.cfg.Model)
	}
	if req.Task != "" {
		args = append(args, "--task", req.Task)
	}
	if req.Language != "" {
		args = append(args, "--language", req.Language)
	}

	command := exec.CommandContext(ctx, c.cfg.Binary, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, services.Wrap(services.ErrTransient, "asr", "transcribe",
			fmt.Sprintf("local engine failed: %s", bytes.TrimSpace(stderr.Bytes())), err)
	}

	var result RawResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("decode local engine output: %w", err)
	}
	return &result, nil
}
