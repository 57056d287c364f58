package asr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"transcribeflow/internal/chunker"
	"transcribeflow/internal/events"
	"transcribeflow/internal/profile"
	"transcribeflow/internal/services"
	"transcribeflow/internal/store"
)

type fakeEngine struct {
	calls   atomic.Int64
	fail    int
	failErr error
	result  func(req TranscribeRequest) *RawResult
}

func (f *fakeEngine) Transcribe(_ context.Context, req TranscribeRequest) (*RawResult, error) {
	call := f.calls.Add(1)
	if int(call) <= f.fail {
		err := f.failErr
		if err == nil {
			err = services.Wrap(services.ErrTransient, "asr", "transcribe", "engine hiccup", nil)
		}
		return nil, err
	}
	if f.result != nil {
		return f.result(req), nil
	}
	return &RawResult{
		Text:     "hello world",
		Language: "en",
		Duration: 2,
		Segments: []RawSegment{{Start: 0, End: 2, Text: "hello world", Confidence: conf(0.9)}},
	}, nil
}

func conf(v float64) *float64 { return &v }

func newStageFixture(t *testing.T, engine EngineClient, triggerBytes int64) (*Stage, store.Store, *store.Job) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.OpenSQLite(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	profilesDir := filepath.Join(dir, "profiles")
	if err := os.MkdirAll(profilesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	profileBody := "---\nlanguage: auto\n---\nEdit carefully.\n"
	if err := os.WriteFile(filepath.Join(profilesDir, "default.prompt.txt"), []byte(profileBody), 0o644); err != nil {
		t.Fatal(err)
	}

	source := filepath.Join(dir, "audio.bin")
	if err := os.WriteFile(source, make([]byte, 64), 0o644); err != nil {
		t.Fatal(err)
	}

	job := &store.Job{
		ID:         "job-asr",
		SourcePath: source,
		Filename:   "audio.bin",
		ProfileID:  "default",
		Engine:     "remote",
		Status:     store.StatusPending,
	}
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	stage := NewStage(
		st,
		profile.NewProvider(profilesDir, "default"),
		map[string]EngineClient{"remote": engine},
		chunker.New(chunker.Policy{TriggerBytes: triggerBytes, ChunkDuration: time.Second}),
		services.NewRetryExecutor(services.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}),
		events.NewRecorder(st, nil, nil),
		filepath.Join(dir, "chunks"),
	)
	return stage, st, job
}

func TestExecuteStoresTranscription(t *testing.T) {
	engine := &fakeEngine{}
	stage, st, job := newStageFixture(t, engine, 0)
	ctx := context.Background()

	if err := stage.Prepare(ctx, job); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if job.Status != store.StatusProcessing {
		t.Fatalf("status after prepare = %s", job.Status)
	}
	if err := stage.Execute(ctx, job); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	loaded, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != store.StatusASRCompleted {
		t.Fatalf("status = %s, want asr_completed", loaded.Status)
	}
	transcription := loaded.Transcription()
	if transcription == nil || transcription.Text != "hello world" {
		t.Fatalf("transcription = %+v", transcription)
	}
	if transcription.Metadata["chunk_count"] != "1" {
		t.Fatalf("chunk_count = %q, want 1", transcription.Metadata["chunk_count"])
	}
	if loaded.Language != "en" {
		t.Fatalf("language = %q", loaded.Language)
	}
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	engine := &fakeEngine{fail: 2}
	stage, _, job := newStageFixture(t, engine, 0)
	ctx := context.Background()

	if err := stage.Prepare(ctx, job); err != nil {
		t.Fatal(err)
	}
	if err := stage.Execute(ctx, job); err != nil {
		t.Fatalf("Execute should succeed within retry budget: %v", err)
	}
	if engine.calls.Load() != 3 {
		t.Fatalf("engine calls = %d, want 3", engine.calls.Load())
	}
}

func TestExecuteExhaustsRetryBudget(t *testing.T) {
	engine := &fakeEngine{fail: 10}
	stage, _, job := newStageFixture(t, engine, 0)
	ctx := context.Background()

	if err := stage.Prepare(ctx, job); err != nil {
		t.Fatal(err)
	}
	err := stage.Execute(ctx, job)
	if err == nil {
		t.Fatal("expected failure after budget exhausted")
	}
	if engine.calls.Load() != 3 {
		t.Fatalf("engine calls = %d, want 3", engine.calls.Load())
	}
}

func TestConfigurationErrorsDoNotRetry(t *testing.T) {
	engine := &fakeEngine{
		fail:    10,
		failErr: services.Wrap(services.ErrConfiguration, "asr", "transcribe", "bad api key", nil),
	}
	stage, _, job := newStageFixture(t, engine, 0)
	ctx := context.Background()

	if err := stage.Prepare(ctx, job); err != nil {
		t.Fatal(err)
	}
	err := stage.Execute(ctx, job)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
	if engine.calls.Load() != 1 {
		t.Fatalf("engine calls = %d, want 1 (no retries)", engine.calls.Load())
	}
}

func TestMissingEngineClient(t *testing.T) {
	stage, _, job := newStageFixture(t, &fakeEngine{}, 0)
	job.Engine = "nonexistent"
	ctx := context.Background()

	if err := stage.Prepare(ctx, job); err != nil {
		t.Fatal(err)
	}
	err := stage.Execute(ctx, job)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestChunkedStitchingOffsetsSegments(t *testing.T) {
	dir := t.TempDir()
	engine := &fakeEngine{
		result: func(req TranscribeRequest) *RawResult {
			base := filepath.Base(req.FilePath)
			return &RawResult{
				Text:     "part " + base,
				Language: "en",
				Duration: 2,
				Segments: []RawSegment{{ID: 7, Start: 0.5, End: 1.5, Text: "part " + base, Confidence: conf(0.8)}},
			}
		},
	}

	st, err := store.OpenSQLite(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	profilesDir := filepath.Join(dir, "profiles")
	if err := os.MkdirAll(profilesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(profilesDir, "default.prompt.txt"), []byte("---\nlanguage: auto\n---\nbody\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	source := filepath.Join(dir, "audio.wav")
	writeStitchTestWAV(t, source, 5)

	job := &store.Job{
		ID:         "job-chunked",
		SourcePath: source,
		ProfileID:  "default",
		Engine:     "remote",
		Status:     store.StatusPending,
	}
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	asrStage := NewStage(
		st,
		profile.NewProvider(profilesDir, "default"),
		map[string]EngineClient{"remote": engine},
		chunker.New(chunker.Policy{TriggerBytes: 1, ChunkDuration: 2 * time.Second}),
		services.NewRetryExecutor(services.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}),
		events.NewRecorder(st, nil, nil),
		filepath.Join(dir, "chunks"),
	)

	ctx := context.Background()
	if err := asrStage.Prepare(ctx, job); err != nil {
		t.Fatal(err)
	}
	if err := asrStage.Execute(ctx, job); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	transcription := job.Transcription()
	if transcription == nil {
		t.Fatal("no transcription")
	}
	if transcription.Metadata["chunked"] != "true" || transcription.Metadata["chunk_count"] != "3" {
		t.Fatalf("metadata = %v", transcription.Metadata)
	}
	if len(transcription.Segments) != 3 {
		t.Fatalf("segments = %d, want 3", len(transcription.Segments))
	}
	// Segment starts must be monotonically increasing across chunk borders.
	for i := 1; i < len(transcription.Segments); i++ {
		if transcription.Segments[i].StartSec <= transcription.Segments[i-1].StartSec {
			t.Fatalf("segment %d start %v not after %v", i,
				transcription.Segments[i].StartSec, transcription.Segments[i-1].StartSec)
		}
	}
	// Engine-assigned ids and confidences survive the merge untouched.
	for i, segment := range transcription.Segments {
		if segment.ID != 7 {
			t.Fatalf("segment %d id = %d, want engine id 7", i, segment.ID)
		}
		if segment.Confidence == nil || *segment.Confidence != 0.8 {
			t.Fatalf("segment %d confidence = %v, want 0.8", i, segment.Confidence)
		}
	}
	if transcription.DurationSec < 4 {
		t.Fatalf("duration = %v, want >= 4", transcription.DurationSec)
	}
	if engine.calls.Load() != 3 {
		t.Fatalf("engine calls = %d, want 3", engine.calls.Load())
	}

	// Chunk files are removed after stitching.
	entries, err := os.ReadDir(filepath.Join(dir, "chunks", job.ID))
	if err == nil && len(entries) != 0 {
		t.Fatalf("chunk files left behind: %d", len(entries))
	}
}

func writeStitchTestWAV(t *testing.T, path string, seconds int) {
	t.Helper()
	// Reuse the chunker's WAV layout: mono 16-bit PCM.
	data := make([]byte, 44+8000*2*seconds)
	copy(data, "RIFF")
	writeStitchWAVHeader(data, seconds)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeStitchWAVHeader(data []byte, seconds int) {
	sampleRate := 8000
	dataLen := sampleRate * 2 * seconds
	le := func(offset int, value uint32) {
		data[offset] = byte(value)
		data[offset+1] = byte(value >> 8)
		data[offset+2] = byte(value >> 16)
		data[offset+3] = byte(value >> 24)
	}
	le16 := func(offset int, value uint16) {
		data[offset] = byte(value)
		data[offset+1] = byte(value >> 8)
	}
	le(4, uint32(36+dataLen))
	copy(data[8:], "WAVE")
	copy(data[12:], "fmt ")
	le(16, 16)
	le16(20, 1) // PCM
	le16(22, 1) // mono
	le(24, uint32(sampleRate))
	le(28, uint32(sampleRate*2))
	le16(32, 2)
	le16(34, 16)
	copy(data[36:], "data")
	le(40, uint32(dataLen))
}

func TestHealthCheck(t *testing.T) {
	stage, _, _ := newStageFixture(t, &fakeEngine{}, 0)
	if health := stage.HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("health = %+v", health)
	}

	empty := NewStage(nil, nil, nil, nil, nil, events.NewRecorder(nil, nil, nil), "")
	if health := empty.HealthCheck(context.Background()); health.Ready {
		t.Fatal("expected unhealthy without engines")
	}
}
