package accuracy

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"transcribeflow/internal/events"
	"transcribeflow/internal/store"
)

type captureSink struct {
	mu      sync.Mutex
	metrics []string
	alerts  []string
}

func (c *captureSink) RecordMetric(_ context.Context, name string, _ map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = append(c.metrics, name)
}

func (c *captureSink) NotifyAlert(_ context.Context, name string, _ map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, name)
}

func newFixture(t *testing.T, transcription *store.Transcription, postEdit *store.EditedTranscript, metadata map[string]string) (*Guard, store.Store, *store.Job, *captureSink) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	job := &store.Job{
		ID:        "job-acc",
		ProfileID: "default",
		Engine:    "remote",
		Status:    store.StatusPending,
		Metadata:  metadata,
	}
	if err := job.SetTranscription(transcription); err != nil {
		t.Fatal(err)
	}
	if err := job.SetPostEdit(postEdit); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := st.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	for _, status := range []store.Status{store.StatusProcessing, store.StatusASRCompleted, store.StatusPostEditing} {
		job.Status = status
		if err := st.UpdateJob(ctx, job); err != nil {
			t.Fatal(err)
		}
	}

	sink := &captureSink{}
	guard := NewGuard(st, events.NewRecorder(st, nil, sink), DefaultThreshold)
	return guard, st, job, sink
}

func conf(v float64) *float64 { return &v }

func confidentTranscription(text string) *store.Transcription {
	return &store.Transcription{
		Text:     text,
		Language: "en",
		Segments: []store.Segment{{StartSec: 0, EndSec: 3, Text: text, Confidence: conf(0.95)}},
	}
}

func TestEvaluatePerfectMatchPasses(t *testing.T) {
	guard, st, job, sink := newFixture(t,
		confidentTranscription("the quick brown fox"),
		&store.EditedTranscript{Text: "The quick brown fox."},
		nil,
	)
	ctx := context.Background()
	if err := guard.Evaluate(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	stored, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != store.StatusPostEditing {
		t.Fatalf("status = %s, want post_editing", stored.Status)
	}
	if stored.NeedsReview {
		t.Fatal("job should not need review")
	}
	if got := stored.Meta("accuracy_score"); got != "1.0000" {
		t.Fatalf("accuracy_score = %q", got)
	}
	if got := stored.Meta("accuracy_status"); got != "passing" {
		t.Fatalf("accuracy_status = %q", got)
	}
	if got := stored.Meta("accuracy_reference_source"); got != "asr_output" {
		t.Fatalf("accuracy_reference_source = %q", got)
	}
	if got := stored.Meta("accuracy_method"); got != "heuristic_v2" {
		t.Fatalf("accuracy_method = %q", got)
	}
	if stored.Meta("accuracy_updated_at") == "" {
		t.Fatal("accuracy_updated_at not set")
	}
	if len(sink.metrics) != 1 || sink.metrics[0] != "accuracy.guard.evaluated" {
		t.Fatalf("metrics = %v", sink.metrics)
	}
	if len(sink.alerts) != 0 {
		t.Fatalf("unexpected alerts: %v", sink.alerts)
	}
}

func TestEvaluateLowScoreMarksReview(t *testing.T) {
	guard, st, job, sink := newFixture(t,
		confidentTranscription("one two three four five six seven eight"),
		&store.EditedTranscript{Text: "completely unrelated words here now", Flags: []string{"terminology"}},
		nil,
	)
	ctx := context.Background()
	if err := guard.Evaluate(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	stored, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != store.StatusPostEditing {
		t.Fatalf("status = %s, want post_editing untouched", stored.Status)
	}
	if !stored.NeedsReview {
		t.Fatal("job should need review")
	}
	if got := stored.Meta("accuracy_status"); got != "needs_review" {
		t.Fatalf("accuracy_status = %q", got)
	}
	if got := stored.Meta("accuracy_requires_review"); got != "true" {
		t.Fatalf("accuracy_requires_review = %q", got)
	}
	if len(sink.alerts) != 1 || sink.alerts[0] != "accuracy.guard.alert" {
		t.Fatalf("alerts = %v", sink.alerts)
	}
}

func TestEvaluateUsesCloserReference(t *testing.T) {
	guard, st, job, _ := newFixture(t,
		confidentTranscription("mumbled raw output"),
		&store.EditedTranscript{Text: "verified final transcript"},
		map[string]string{"reference_transcript": "verified final transcript"},
	)
	ctx := context.Background()
	if err := guard.Evaluate(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	stored, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got := stored.Meta("accuracy_reference_source"); got != "client_reference" {
		t.Fatalf("accuracy_reference_source = %q", got)
	}
	if got := stored.Meta("accuracy_wer_reference"); got != "0.0000" {
		t.Fatalf("accuracy_wer_reference = %q", got)
	}
	if got := stored.Meta("accuracy_status"); got != "passing" {
		t.Fatalf("accuracy_status = %q", got)
	}
}

func TestEvaluateReadsReferenceFromFile(t *testing.T) {
	refPath := filepath.Join(t.TempDir(), "reference.txt")
	if err := os.WriteFile(refPath, []byte("file backed transcript\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	guard, st, job, _ := newFixture(t,
		confidentTranscription("garbled asr words"),
		&store.EditedTranscript{Text: "file backed transcript"},
		map[string]string{"reference_path": refPath},
	)
	ctx := context.Background()
	if err := guard.Evaluate(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	stored, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got := stored.Meta("accuracy_reference_source"); got != "client_reference" {
		t.Fatalf("accuracy_reference_source = %q", got)
	}
}

func TestEvaluateFallsBackToProfileReference(t *testing.T) {
	refDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(refDir, "default.reference.txt"), []byte("profile convention transcript"), 0o644); err != nil {
		t.Fatal(err)
	}
	guard, st, job, _ := newFixture(t,
		confidentTranscription("noisy asr attempt"),
		&store.EditedTranscript{Text: "profile convention transcript"},
		nil,
	)
	guard.WithReferenceDir(refDir)
	ctx := context.Background()
	if err := guard.Evaluate(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	stored, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got := stored.Meta("accuracy_reference_source"); got != "client_reference" {
		t.Fatalf("accuracy_reference_source = %q", got)
	}
}

func TestEvaluateMissingJobIsNoOp(t *testing.T) {
	guard, _, _, sink := newFixture(t,
		confidentTranscription("text"),
		&store.EditedTranscript{Text: "text"},
		nil,
	)
	if err := guard.Evaluate(context.Background(), "absent"); err != nil {
		t.Fatal(err)
	}
	if len(sink.metrics) != 0 {
		t.Fatalf("metrics = %v", sink.metrics)
	}
}

func TestTokenizeNormalizes(t *testing.T) {
	got := tokenize("Olá, Mundo! Café's 42.")
	want := []string{"ola", "mundo", "cafe", "s", "42"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tokenize = %v, want %v", got, want)
	}
}

func TestWordErrorRateEdges(t *testing.T) {
	if got := wordErrorRate(nil, nil); got != 0 {
		t.Fatalf("both empty = %v", got)
	}
	if got := wordErrorRate([]string{"extra"}, nil); got != 1 {
		t.Fatalf("empty reference = %v", got)
	}
	long := []string{"a", "b", "c", "d", "e", "f"}
	if got := wordErrorRate(long, []string{"x"}); got != 1 {
		t.Fatalf("rate should cap at 1, got %v", got)
	}
	if got := wordErrorRate([]string{"a", "b", "c"}, []string{"a", "x", "c"}); got != 1.0/3.0 {
		t.Fatalf("single substitution = %v", got)
	}
}

func TestScorePenaltyComponents(t *testing.T) {
	transcription := &store.Transcription{Text: "alpha beta gamma delta"}
	postEdit := &store.EditedTranscript{
		Text: "alpha beta gamma delta",
		Segments: []store.Segment{
			{Text: "alpha beta", Confidence: conf(0.5)},
			{Text: "gamma delta", Confidence: conf(0.95)},
		},
		Flags: []string{"check names"},
	}
	report := score(transcription, postEdit, "", DefaultThreshold)
	// one flag and one of two segments below the confidence floor
	want := flagPenaltyWeight + confPenaltyCeiling/2
	if diff := report.Penalty - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("penalty = %v, want %v", report.Penalty, want)
	}
	if report.Score <= 0 || report.Score >= 1 {
		t.Fatalf("score = %v, want in (0,1)", report.Score)
	}
}

func TestScoreIgnoresSegmentsWithoutConfidence(t *testing.T) {
	transcription := &store.Transcription{Text: "alpha beta gamma delta"}
	postEdit := &store.EditedTranscript{
		Text: "alpha beta gamma delta",
		Segments: []store.Segment{
			{Text: "alpha beta"},
			{Text: "gamma delta"},
		},
	}
	report := score(transcription, postEdit, "", DefaultThreshold)
	if report.Penalty != 0 {
		t.Fatalf("penalty = %v, want 0 when no segment carries a confidence", report.Penalty)
	}
	if report.Score != 1 {
		t.Fatalf("score = %v, want 1", report.Score)
	}
	if report.RequiresReview {
		t.Fatal("perfect match without confidences must not require review")
	}
}

func TestScoreNormalizesByEditedTokens(t *testing.T) {
	transcription := &store.Transcription{Text: "one two three four five six"}
	postEdit := &store.EditedTranscript{Text: "one two three four"}
	report := score(transcription, postEdit, "", DefaultThreshold)
	// two deletions against a four token edited transcript
	if diff := report.WERASR - 0.5; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("wer = %v, want 0.5", report.WERASR)
	}
}

func TestScorePenaltyCapped(t *testing.T) {
	postEdit := &store.EditedTranscript{Text: "??? ??? ??? ??? ??? ???"}
	report := score(&store.Transcription{Text: "??? ??? ??? ??? ??? ???"}, postEdit, "", DefaultThreshold)
	if report.Penalty != penaltyCeiling {
		t.Fatalf("penalty = %v, want %v", report.Penalty, penaltyCeiling)
	}
	if report.Score < 0 {
		t.Fatalf("score must not go negative, got %v", report.Score)
	}
}
