package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"transcribeflow/internal/services"
)

func openBackends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	sqliteStore, err := OpenSQLite(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = sqliteStore.Close() })

	journalStore, err := OpenJournal(filepath.Join(dir, "journal"))
	if err != nil {
		t.Fatalf("open journal store: %v", err)
	}
	t.Cleanup(func() { _ = journalStore.Close() })

	return map[string]Store{
		"sqlite":  sqliteStore,
		"journal": journalStore,
	}
}

func newTestJob(id string) *Job {
	return &Job{
		ID:         id,
		SourcePath: "/inbox/" + id + ".wav",
		Filename:   id + ".wav",
		ProfileID:  "default",
		Engine:     "remote",
		Status:     StatusPending,
	}
}

func TestCreateAndGetJob(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := newTestJob("job-create")
			job.SetMeta("source_folder", "podcast")
			job.DurationSec = 12.5
			job.SetOutputPath(ArtifactSRT, "/out/job-create/job-create_v1.srt")

			if err := s.CreateJob(ctx, job); err != nil {
				t.Fatalf("CreateJob: %v", err)
			}
			if job.Version != 1 {
				t.Fatalf("new job version = %d, want 1", job.Version)
			}

			loaded, err := s.GetJob(ctx, job.ID)
			if err != nil {
				t.Fatalf("GetJob: %v", err)
			}
			if loaded == nil {
				t.Fatal("GetJob returned nil for existing job")
			}
			if loaded.Status != StatusPending {
				t.Fatalf("status = %s, want pending", loaded.Status)
			}
			if loaded.Meta("source_folder") != "podcast" {
				t.Fatalf("metadata not round-tripped: %+v", loaded.Metadata)
			}
			if loaded.DurationSec != 12.5 {
				t.Fatalf("duration = %v, want 12.5", loaded.DurationSec)
			}
			if loaded.OutputPaths[string(ArtifactSRT)] != "/out/job-create/job-create_v1.srt" {
				t.Fatalf("output paths not round-tripped: %+v", loaded.OutputPaths)
			}
			if loaded.CreatedAt.IsZero() || loaded.UpdatedAt.IsZero() {
				t.Fatal("timestamps not persisted")
			}
		})
	}
}

func TestGetMissingJobReturnsNil(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			job, err := s.GetJob(context.Background(), "nope")
			if err != nil {
				t.Fatalf("GetJob: %v", err)
			}
			if job != nil {
				t.Fatal("expected nil for missing job")
			}
		})
	}
}

func TestUpdateEnforcesTransitions(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := newTestJob("job-transitions")
			if err := s.CreateJob(ctx, job); err != nil {
				t.Fatalf("CreateJob: %v", err)
			}

			// pending -> asr_completed skips processing and must be rejected.
			job.Status = StatusASRCompleted
			err := s.UpdateJob(ctx, job)
			if err == nil {
				t.Fatal("expected illegal transition error")
			}
			if services.Classify(err) != services.KindValidation {
				t.Fatalf("error kind = %s, want validation", services.Classify(err))
			}

			for _, next := range []Status{StatusProcessing, StatusASRCompleted, StatusPostEditing, StatusAwaitingReview, StatusApproved} {
				job.Status = next
				if err := s.UpdateJob(ctx, job); err != nil {
					t.Fatalf("transition to %s: %v", next, err)
				}
			}
		})
	}
}

func TestEveryNonTerminalStatusCanFail(t *testing.T) {
	for _, from := range AllStatuses() {
		if from.IsTerminal() || from == StatusFailed {
			continue
		}
		if err := ValidateTransition(from, StatusFailed); err != nil {
			t.Fatalf("%s -> failed: %v", from, err)
		}
	}
}

func TestUpdateMissingJob(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			job := newTestJob("ghost")
			err := s.UpdateJob(context.Background(), job)
			if !errors.Is(err, services.ErrNotFound) {
				t.Fatalf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestRequeueBumpsVersion(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := newTestJob("job-requeue")
			if err := s.CreateJob(ctx, job); err != nil {
				t.Fatalf("CreateJob: %v", err)
			}

			job.Status = StatusProcessing
			if err := s.UpdateJob(ctx, job); err != nil {
				t.Fatalf("to processing: %v", err)
			}
			job.Status = StatusFailed
			job.ErrorMessage = "engine timeout"
			if err := s.UpdateJob(ctx, job); err != nil {
				t.Fatalf("to failed: %v", err)
			}

			job.Status = StatusPending
			job.Version++
			job.ErrorMessage = ""
			if err := s.UpdateJob(ctx, job); err != nil {
				t.Fatalf("requeue: %v", err)
			}

			loaded, err := s.GetJob(ctx, job.ID)
			if err != nil {
				t.Fatalf("GetJob: %v", err)
			}
			if loaded.Version != 2 {
				t.Fatalf("version = %d, want 2", loaded.Version)
			}
			if loaded.Status != StatusPending {
				t.Fatalf("status = %s, want pending", loaded.Status)
			}
		})
	}
}

func TestListJobsFiltersAndOrders(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				job := newTestJob(fmt.Sprintf("job-list-%d", i))
				job.CreatedAt = time.Date(2026, 1, 1, 0, i, 0, 0, time.UTC)
				if err := s.CreateJob(ctx, job); err != nil {
					t.Fatalf("CreateJob: %v", err)
				}
			}

			jobs, err := s.ListJobs(ctx, StatusPending)
			if err != nil {
				t.Fatalf("ListJobs: %v", err)
			}
			if len(jobs) != 3 {
				t.Fatalf("len = %d, want 3", len(jobs))
			}

			empty, err := s.ListJobs(ctx, StatusRejected)
			if err != nil {
				t.Fatalf("ListJobs rejected: %v", err)
			}
			if len(empty) != 0 {
				t.Fatalf("rejected jobs = %d, want 0", len(empty))
			}
		})
	}
}

func TestListRecentOrdersByUpdate(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := newTestJob("job-recent-a")
			second := newTestJob("job-recent-b")
			if err := s.CreateJob(ctx, first); err != nil {
				t.Fatal(err)
			}
			if err := s.CreateJob(ctx, second); err != nil {
				t.Fatal(err)
			}

			time.Sleep(5 * time.Millisecond)
			first.Status = StatusProcessing
			if err := s.UpdateJob(ctx, first); err != nil {
				t.Fatal(err)
			}

			jobs, err := s.ListRecent(ctx, 10)
			if err != nil {
				t.Fatalf("ListRecent: %v", err)
			}
			if len(jobs) != 2 {
				t.Fatalf("len = %d, want 2", len(jobs))
			}
			if jobs[0].ID != first.ID {
				t.Fatalf("most recent = %s, want %s", jobs[0].ID, first.ID)
			}
		})
	}
}

func TestDeleteJobsByStatus(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			keep := newTestJob("job-keep")
			drop := newTestJob("job-drop")
			if err := s.CreateJob(ctx, keep); err != nil {
				t.Fatal(err)
			}
			if err := s.CreateJob(ctx, drop); err != nil {
				t.Fatal(err)
			}
			drop.Status = StatusProcessing
			if err := s.UpdateJob(ctx, drop); err != nil {
				t.Fatal(err)
			}
			drop.Status = StatusFailed
			if err := s.UpdateJob(ctx, drop); err != nil {
				t.Fatal(err)
			}

			removed, err := s.DeleteJobs(ctx, StatusFailed)
			if err != nil {
				t.Fatalf("DeleteJobs: %v", err)
			}
			if removed != 1 {
				t.Fatalf("removed = %d, want 1", removed)
			}
			if job, _ := s.GetJob(ctx, keep.ID); job == nil {
				t.Fatal("kept job was deleted")
			}
		})
	}
}

func TestArtifactsRoundTrip(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := newTestJob("job-artifacts")
			if err := s.CreateJob(ctx, job); err != nil {
				t.Fatal(err)
			}

			for version := 1; version <= 2; version++ {
				var batch []*Artifact
				for _, kind := range []ArtifactKind{ArtifactTranscript, ArtifactSRT, ArtifactVTT, ArtifactRecord} {
					batch = append(batch, &Artifact{
						JobID:   job.ID,
						Kind:    kind,
						Path:    fmt.Sprintf("/out/%s/%s_v%d.%s", job.ID, job.ID, version, kind),
						Version: version,
					})
				}
				if err := s.SaveArtifacts(ctx, batch); err != nil {
					t.Fatalf("SaveArtifacts: %v", err)
				}
			}

			artifacts, err := s.ArtifactsForJob(ctx, job.ID)
			if err != nil {
				t.Fatalf("ArtifactsForJob: %v", err)
			}
			if len(artifacts) != 8 {
				t.Fatalf("len = %d, want 8", len(artifacts))
			}
			if artifacts[0].Version != 2 {
				t.Fatalf("first artifact version = %d, want 2", artifacts[0].Version)
			}
		})
	}
}

func TestJobLogsNewestFirst(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := newTestJob("job-logs")
			if err := s.CreateJob(ctx, job); err != nil {
				t.Fatal(err)
			}

			events := []string{"asr_started", "asr_completed", "post_edit_started"}
			for _, event := range events {
				entry := &LogEntry{
					JobID:   job.ID,
					Level:   "info",
					Event:   event,
					Payload: map[string]any{"job_id": job.ID},
				}
				if err := s.AppendLog(ctx, entry); err != nil {
					t.Fatalf("AppendLog: %v", err)
				}
			}

			entries, err := s.LogsForJob(ctx, job.ID, 2)
			if err != nil {
				t.Fatalf("LogsForJob: %v", err)
			}
			if len(entries) != 2 {
				t.Fatalf("len = %d, want 2", len(entries))
			}
			if entries[0].Event != "post_edit_started" {
				t.Fatalf("newest event = %s, want post_edit_started", entries[0].Event)
			}

			recent, err := s.RecentLogs(ctx, 10)
			if err != nil {
				t.Fatalf("RecentLogs: %v", err)
			}
			if len(recent) != 3 {
				t.Fatalf("recent len = %d, want 3", len(recent))
			}
			if recent[0].Event != "post_edit_started" {
				t.Fatalf("recent newest = %s", recent[0].Event)
			}
		})
	}
}

func TestHealthCounts(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			pending := newTestJob("job-health-pending")
			failed := newTestJob("job-health-failed")
			if err := s.CreateJob(ctx, pending); err != nil {
				t.Fatal(err)
			}
			if err := s.CreateJob(ctx, failed); err != nil {
				t.Fatal(err)
			}
			failed.Status = StatusProcessing
			if err := s.UpdateJob(ctx, failed); err != nil {
				t.Fatal(err)
			}
			failed.Status = StatusFailed
			if err := s.UpdateJob(ctx, failed); err != nil {
				t.Fatal(err)
			}

			summary, err := s.Health(ctx)
			if err != nil {
				t.Fatalf("Health: %v", err)
			}
			if summary.Total != 2 || summary.Pending != 1 || summary.Failed != 1 {
				t.Fatalf("unexpected summary: %+v", summary)
			}
		})
	}
}

func conf(v float64) *float64 { return &v }

func TestTranscriptionPayloadRoundTrip(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := newTestJob("job-payload")
			if err := s.CreateJob(ctx, job); err != nil {
				t.Fatal(err)
			}

			if err := job.SetTranscription(&Transcription{
				Text:     "hello world",
				Language: "en",
				Segments: []Segment{{StartSec: 0, EndSec: 1.5, Text: "hello world", Confidence: conf(0.92)}},
			}); err != nil {
				t.Fatal(err)
			}
			job.Status = StatusProcessing
			if err := s.UpdateJob(ctx, job); err != nil {
				t.Fatal(err)
			}

			loaded, err := s.GetJob(ctx, job.ID)
			if err != nil {
				t.Fatal(err)
			}
			transcription := loaded.Transcription()
			if transcription == nil {
				t.Fatal("transcription not persisted")
			}
			if transcription.Text != "hello world" || len(transcription.Segments) != 1 {
				t.Fatalf("unexpected transcription: %+v", transcription)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := ParseStatus(" Awaiting_Review "); !ok || status != StatusAwaitingReview {
		t.Fatalf("ParseStatus = %s, %v", status, ok)
	}
	if _, ok := ParseStatus("nonsense"); ok {
		t.Fatal("expected unknown status to fail")
	}
	if !StatusApproved.IsTerminal() || StatusFailed.IsTerminal() {
		t.Fatal("terminal classification wrong")
	}
}
