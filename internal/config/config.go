package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration for the pipeline trees.
type Paths struct {
	InboxDir     string `toml:"inbox_dir"`
	OutputDir    string `toml:"output_dir"`
	RejectedDir  string `toml:"rejected_dir"`
	ProfilesDir  string `toml:"profiles_dir"`
	TemplatesDir string `toml:"templates_dir"`
	DataDir      string `toml:"data_dir"`
	LogDir       string `toml:"log_dir"`
	CSVLogPath   string `toml:"csv_log_path"`
}

// Store selects and tunes the job store backend.
type Store struct {
	// Backend is "sqlite" (embedded SQL, crash-safe journaling) or
	// "journal" (one JSON document per entity kind behind a file lock).
	Backend string `toml:"backend"`
}

// ASR contains engine selection and transcription client settings.
type ASR struct {
	// Engine is the default engine assigned to new jobs: "remote" or "local".
	Engine         string `toml:"engine"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	// LocalBinary is the whisper-compatible executable used by the local engine.
	LocalBinary string `toml:"local_binary"`
	LocalModel  string `toml:"local_model"`
	// ChunkTriggerMB splits audio larger than this before transcription.
	// Zero disables chunking entirely.
	ChunkTriggerMB    int     `toml:"chunk_trigger_mb"`
	ChunkDurationSec  int     `toml:"chunk_duration_sec"`
	RetryMaxAttempts  int     `toml:"retry_max_attempts"`
	RetryBaseDelaySec int     `toml:"retry_base_delay_sec"`
	RetryFactor       float64 `toml:"retry_factor"`
}

// PostEdit contains the chat completion client settings for post-editing.
type PostEdit struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Accuracy tunes the transcription quality guard.
type Accuracy struct {
	Enabled   bool    `toml:"enabled"`
	Threshold float64 `toml:"threshold"`
}

// Watcher contains inbox ingestion settings.
type Watcher struct {
	MaxAudioSizeMB int `toml:"max_audio_size_mb"`
	// Workers bounds the job worker pool. Zero means one worker per CPU.
	Workers        int  `toml:"workers"`
	SettleDelayMS  int  `toml:"settle_delay_ms"`
	DefaultProfile string `toml:"default_profile"`
	// AllowRetry controls whether failed pipeline runs are requeued or rejected.
	AllowRetry bool `toml:"allow_retry"`
}

// Workflow contains daemon timing and intervals.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
}

// Telemetry configures the best-effort metric and alert sinks.
type Telemetry struct {
	MetricWebhookURLs []string `toml:"metric_webhook_urls"`
	AlertWebhookURLs  []string `toml:"alert_webhook_urls"`
	RequestTimeout    int      `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for transcribeflow.
//
// Configuration sections by subsystem:
//   - Paths: inbox/output/rejected trees, profiles, templates, data, logs
//   - Store: job store backend selection
//   - ASR: engine clients, chunking trigger, stage retry budget
//   - PostEdit: chat completion client
//   - Accuracy: quality guard threshold
//   - Watcher: inbox ingestion limits and worker pool
//   - Workflow: daemon polling intervals
//   - Telemetry: metric/alert webhook fan-out
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Store     Store     `toml:"store"`
	ASR       ASR       `toml:"asr"`
	PostEdit  PostEdit  `toml:"post_edit"`
	Accuracy  Accuracy  `toml:"accuracy"`
	Watcher   Watcher   `toml:"watcher"`
	Workflow  Workflow  `toml:"workflow"`
	Telemetry Telemetry `toml:"telemetry"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/transcribeflow/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("transcribeflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	fields := []*string{
		&c.Paths.InboxDir,
		&c.Paths.OutputDir,
		&c.Paths.RejectedDir,
		&c.Paths.ProfilesDir,
		&c.Paths.TemplatesDir,
		&c.Paths.DataDir,
		&c.Paths.LogDir,
		&c.Paths.CSVLogPath,
	}
	for _, field := range fields {
		if strings.TrimSpace(*field) == "" {
			continue
		}
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.ASR.Engine = strings.ToLower(strings.TrimSpace(c.ASR.Engine))
	return nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite", "journal":
	default:
		return fmt.Errorf("store backend: unsupported value %q", c.Store.Backend)
	}
	switch c.ASR.Engine {
	case "remote", "local":
	default:
		return fmt.Errorf("asr engine: unsupported value %q", c.ASR.Engine)
	}
	if c.ASR.ChunkTriggerMB < 0 {
		return errors.New("asr chunk_trigger_mb must not be negative")
	}
	if c.ASR.ChunkDurationSec <= 0 {
		return errors.New("asr chunk_duration_sec must be positive")
	}
	if c.Accuracy.Threshold < 0 || c.Accuracy.Threshold > 1 {
		return errors.New("accuracy threshold must be within [0, 1]")
	}
	if c.Watcher.MaxAudioSizeMB < 0 {
		return errors.New("watcher max_audio_size_mb must not be negative")
	}
	if strings.TrimSpace(c.Watcher.DefaultProfile) == "" {
		return errors.New("watcher default_profile is required")
	}
	return nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.InboxDir,
		c.Paths.OutputDir,
		c.Paths.RejectedDir,
		c.Paths.ProfilesDir,
		c.Paths.TemplatesDir,
		c.Paths.DataDir,
		c.Paths.LogDir,
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
