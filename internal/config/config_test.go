package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"transcribeflow/internal/logging"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected exists to be false for missing file")
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Fatalf("default store backend = %q, want sqlite", cfg.Store.Backend)
	}
	if cfg.ASR.ChunkTriggerMB != 200 {
		t.Fatalf("default chunk trigger = %d, want 200", cfg.ASR.ChunkTriggerMB)
	}
	if cfg.Accuracy.Threshold != 0.99 {
		t.Fatalf("default accuracy threshold = %v, want 0.99", cfg.Accuracy.Threshold)
	}
	if cfg.ASR.RetryMaxAttempts != 3 || cfg.ASR.RetryBaseDelaySec != 2 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.ASR)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[store]
backend = "journal"

[asr]
engine = "local"
chunk_trigger_mb = 0

[watcher]
max_audio_size_mb = 64
default_profile = "podcast"
allow_retry = false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if cfg.Store.Backend != "journal" {
		t.Fatalf("store backend = %q, want journal", cfg.Store.Backend)
	}
	if cfg.ASR.Engine != "local" {
		t.Fatalf("asr engine = %q, want local", cfg.ASR.Engine)
	}
	if cfg.ASR.ChunkTriggerMB != 0 {
		t.Fatalf("chunk trigger = %d, want 0", cfg.ASR.ChunkTriggerMB)
	}
	if cfg.Watcher.DefaultProfile != "podcast" {
		t.Fatalf("default profile = %q, want podcast", cfg.Watcher.DefaultProfile)
	}
	if cfg.Watcher.AllowRetry {
		t.Fatal("expected allow_retry false")
	}
	// Unset sections keep their defaults.
	if cfg.PostEdit.Model != "gpt-4o-mini" {
		t.Fatalf("post edit model = %q, want default", cfg.PostEdit.Model)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad backend", func(c *Config) { c.Store.Backend = "postgres" }},
		{"bad engine", func(c *Config) { c.ASR.Engine = "cloud" }},
		{"negative trigger", func(c *Config) { c.ASR.ChunkTriggerMB = -1 }},
		{"threshold above one", func(c *Config) { c.Accuracy.Threshold = 1.5 }},
		{"empty profile", func(c *Config) { c.Watcher.DefaultProfile = " " }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestExpandPathHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	expanded, err := expandPath("~/transcribeflow/inbox")
	if err != nil {
		t.Fatalf("expandPath returned error: %v", err)
	}
	if !strings.HasPrefix(expanded, home) {
		t.Fatalf("expanded path %q does not start with home %q", expanded, home)
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Paths.InboxDir = filepath.Join(dir, "inbox")
	cfg.Paths.OutputDir = filepath.Join(dir, "output")
	cfg.Paths.RejectedDir = filepath.Join(dir, "rejected")
	cfg.Paths.ProfilesDir = filepath.Join(dir, "profiles")
	cfg.Paths.TemplatesDir = filepath.Join(dir, "templates")
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories returned error: %v", err)
	}
	for _, p := range []string{cfg.Paths.InboxDir, cfg.Paths.OutputDir, cfg.Paths.DataDir} {
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			t.Fatalf("directory %q not created: %v", p, err)
		}
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load of sample returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	// The sample only carries commented keys, so defaults apply.
	if cfg.Store.Backend != "sqlite" {
		t.Fatalf("sample backend = %q, want sqlite", cfg.Store.Backend)
	}
}

func TestDefaultLogFormatBuildsALogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "daemon.log")
	for _, format := range []string{Default().Logging.Format, "pretty"} {
		if _, err := logging.New(logging.Options{Format: format, OutputPaths: []string{logPath}}); err != nil {
			t.Fatalf("New(format=%q): %v", format, err)
		}
	}
}
