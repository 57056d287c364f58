package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"transcribeflow/internal/config"
	"transcribeflow/internal/store"
)

const testProfileBody = "---\nlanguage: auto\n---\nEdit cleanly.\n"

func writeCLIConfig(t *testing.T) (string, *config.Config) {
	t.Helper()
	base := t.TempDir()

	cfg := config.Default()
	cfg.Paths.InboxDir = filepath.Join(base, "inbox")
	cfg.Paths.OutputDir = filepath.Join(base, "output")
	cfg.Paths.RejectedDir = filepath.Join(base, "rejected")
	cfg.Paths.ProfilesDir = filepath.Join(base, "profiles")
	cfg.Paths.TemplatesDir = filepath.Join(base, "templates")
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.CSVLogPath = filepath.Join(base, "deliveries.csv")

	encoded, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(base, "config.toml")
	if err := os.WriteFile(configPath, encoded, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := os.MkdirAll(cfg.Paths.ProfilesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Paths.ProfilesDir, "default.prompt.txt"), []byte(testProfileBody), 0o644); err != nil {
		t.Fatal(err)
	}

	return configPath, &cfg
}

func runCLI(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func seedJob(t *testing.T, configPath string, status store.Status) *store.Job {
	t.Helper()
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatal(err)
	}
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = st.Close() }()

	job := &store.Job{
		ID:         "c0ffee00c0ffee00c0ffee00c0ffee00",
		SourcePath: "/tmp/meeting.wav",
		Filename:   "meeting.wav",
		ProfileID:  "default",
		Engine:     "remote",
		Status:     store.StatusPending,
		Version:    1,
		Language:   "auto",
	}
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	walk := map[store.Status][]store.Status{
		store.StatusFailed:         {store.StatusProcessing, store.StatusFailed},
		store.StatusAwaitingReview: {store.StatusProcessing, store.StatusASRCompleted, store.StatusPostEditing, store.StatusAwaitingReview},
	}
	for _, next := range walk[status] {
		job.Status = next
		if err := st.UpdateJob(context.Background(), job); err != nil {
			t.Fatal(err)
		}
	}
	return job
}

func TestQueueStatusEmpty(t *testing.T) {
	configPath, _ := writeCLIConfig(t)

	out, err := runCLI(t, configPath, "queue", "status")
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	if !strings.Contains(out, "Queue is empty") {
		t.Fatalf("expected empty queue notice, got %q", out)
	}
}

func TestQueueListShowsSeededJob(t *testing.T) {
	configPath, _ := writeCLIConfig(t)
	job := seedJob(t, configPath, store.StatusPending)

	out, err := runCLI(t, configPath, "queue", "list")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	if !strings.Contains(out, job.ID) || !strings.Contains(out, "meeting.wav") {
		t.Fatalf("expected job row in output, got %q", out)
	}
}

func TestQueueRetryRequeuesFailedJob(t *testing.T) {
	configPath, cfg := writeCLIConfig(t)
	job := seedJob(t, configPath, store.StatusFailed)

	out, err := runCLI(t, configPath, "queue", "retry", job.ID)
	if err != nil {
		t.Fatalf("queue retry: %v", err)
	}
	if !strings.Contains(out, "requeued as version 2") {
		t.Fatalf("expected requeue confirmation, got %q", out)
	}

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = st.Close() }()
	reloaded, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Status != store.StatusPending || reloaded.Version != 2 {
		t.Fatalf("expected pending v2, got %s v%d", reloaded.Status, reloaded.Version)
	}
}

func TestQueueApproveRecordsDelivery(t *testing.T) {
	configPath, cfg := writeCLIConfig(t)
	job := seedJob(t, configPath, store.StatusAwaitingReview)

	out, err := runCLI(t, configPath, "queue", "approve", job.ID)
	if err != nil {
		t.Fatalf("queue approve: %v", err)
	}
	if !strings.Contains(out, "approved") {
		t.Fatalf("expected approval confirmation, got %q", out)
	}

	sheet, err := os.ReadFile(cfg.Paths.CSVLogPath)
	if err != nil {
		t.Fatalf("read delivery sheet: %v", err)
	}
	if !strings.Contains(string(sheet), job.ID) {
		t.Fatalf("expected delivery row for job, got %q", sheet)
	}
}

func TestQueueApproveRejectsWrongState(t *testing.T) {
	configPath, _ := writeCLIConfig(t)
	job := seedJob(t, configPath, store.StatusPending)

	if _, err := runCLI(t, configPath, "queue", "approve", job.ID); err == nil {
		t.Fatal("expected error approving a pending job")
	}
}

func TestQueueRequestChangesSendsJobBack(t *testing.T) {
	configPath, cfg := writeCLIConfig(t)
	job := seedJob(t, configPath, store.StatusAwaitingReview)

	out, err := runCLI(t, configPath, "queue", "request-changes", job.ID, "--reason", "fix names")
	if err != nil {
		t.Fatalf("queue request-changes: %v", err)
	}
	if !strings.Contains(out, "sent back for adjustments") {
		t.Fatalf("expected confirmation, got %q", out)
	}

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = st.Close() }()
	reloaded, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Status != store.StatusAdjustmentsRequired {
		t.Fatalf("status = %s, want adjustments_required", reloaded.Status)
	}
	if reloaded.ReviewReason != "fix names" {
		t.Fatalf("review reason = %q", reloaded.ReviewReason)
	}
}

func TestQueueRejectFailedJob(t *testing.T) {
	configPath, _ := writeCLIConfig(t)
	job := seedJob(t, configPath, store.StatusFailed)

	out, err := runCLI(t, configPath, "queue", "reject", job.ID, "--reason", "bad audio")
	if err != nil {
		t.Fatalf("queue reject: %v", err)
	}
	if !strings.Contains(out, "rejected") {
		t.Fatalf("expected rejection confirmation, got %q", out)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	configPath, _ := writeCLIConfig(t)

	tmp := t.TempDir()
	target := filepath.Join(tmp, "config.toml")
	out, err := runCLI(t, configPath, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Wrote sample configuration") {
		t.Fatalf("expected init confirmation, got %q", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, err := runCLI(t, configPath, "config", "init", "--path", target); err == nil {
		t.Fatal("expected error without --overwrite")
	}
}

func TestProfilesList(t *testing.T) {
	configPath, _ := writeCLIConfig(t)

	out, err := runCLI(t, configPath, "profiles", "list")
	if err != nil {
		t.Fatalf("profiles list: %v", err)
	}
	if !strings.Contains(out, "default") {
		t.Fatalf("expected default profile in output, got %q", out)
	}
}
