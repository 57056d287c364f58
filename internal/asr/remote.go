package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"transcribeflow/internal/services"
)

const defaultRemoteTimeout = 10 * time.Minute

// RemoteConfig captures the runtime settings for the hosted transcription API.
type RemoteConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// RemoteClient talks to an OpenAI-compatible audio transcription endpoint.
type RemoteClient struct {
	cfg        RemoteConfig
	httpClient *http.Client
}

// RemoteOption customizes the client.
type RemoteOption func(*RemoteClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(c *RemoteClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewRemoteClient constructs a remote engine client.
func NewRemoteClient(cfg RemoteConfig, opts ...RemoteOption) *RemoteClient {
	timeout := defaultRemoteTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &RemoteClient{
		cfg: RemoteConfig{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			Model:          strings.TrimSpace(cfg.Model),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Transcribe posts the audio file as multipart form data and decodes the
// verbose JSON response.
func (c *RemoteClient) Transcribe(ctx context.Context, req TranscribeRequest) (*RawResult, error) {
	if c.cfg.APIKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "asr", "transcribe", "remote engine api key required", nil)
	}

	file, err := os.Open(req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filepath.Base(req.FilePath))
	if err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copy audio: %w", err)
	}

	fields := map[string]string{
		"model":           c.cfg.Model,
		"response_format": "verbose_json",
		"task":            req.Task,
	}
	if req.Language != "" {
		fields["language"] = req.Language
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart: %w", err)
	}

	endpoint := c.cfg.BaseURL + "/audio/transcriptions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "asr", "transcribe", "transcription request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "asr", "transcribe", "read transcription response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		marker := services.ErrTransient
		if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError &&
			resp.StatusCode != http.StatusTooManyRequests {
			marker = services.ErrValidation
		}
		return nil, services.Wrap(marker, "asr", "transcribe",
			fmt.Sprintf("transcription api returned %d: %s", resp.StatusCode, summarize(payload)), nil)
	}

	var result RawResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode transcription response: %w", err)
	}
	if result.Text == "" && len(result.Segments) == 0 {
		return nil, errors.New("transcription response empty")
	}
	return &result, nil
}

func summarize(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		return text[:200] + "..."
	}
	return text
}
