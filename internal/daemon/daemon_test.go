package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"transcribeflow/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.InboxDir = filepath.Join(dir, "inbox")
	cfg.Paths.OutputDir = filepath.Join(dir, "output")
	cfg.Paths.RejectedDir = filepath.Join(dir, "rejected")
	cfg.Paths.ProfilesDir = filepath.Join(dir, "profiles")
	cfg.Paths.TemplatesDir = filepath.Join(dir, "templates")
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")
	cfg.Paths.CSVLogPath = filepath.Join(dir, "logs", "status.csv")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Paths.ProfilesDir, "default.prompt.txt"), []byte("---\nlanguage: auto\n---\nEdit cleanly.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &cfg
}

func TestNewBuildsComponentGraph(t *testing.T) {
	d, err := New(testConfig(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = d.Close() }()

	health := d.Health(context.Background())
	for _, name := range []string{"asr", "post_edit", "artifacts"} {
		if _, ok := health[name]; !ok {
			t.Fatalf("missing health entry for %s: %v", name, health)
		}
	}
	if d.Store() == nil {
		t.Fatal("store not exposed")
	}
}

func TestRunEnforcesSingleInstance(t *testing.T) {
	cfg := testConfig(t)
	first, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = first.Close() }()
	second, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = second.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- first.Run(ctx) }()
	time.Sleep(200 * time.Millisecond)

	if err := second.Run(ctx); err == nil {
		t.Fatal("second instance must fail to acquire the lock")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("first instance exited with %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first instance did not stop")
	}
}
