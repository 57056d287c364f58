package accuracy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"transcribeflow/internal/events"
	"transcribeflow/internal/store"
)

const (
	// DefaultThreshold is the minimum score a job needs to skip review.
	DefaultThreshold = 0.99

	method = "heuristic_v2"

	confidenceFloor    = 0.85
	flagPenaltyWeight  = 0.02
	confPenaltyCeiling = 0.3
	penaltyCeiling     = 0.6
)

// Report carries the components of a single evaluation.
type Report struct {
	Score           float64
	Baseline        float64
	Penalty         float64
	WERActive       float64
	WERASR          float64
	WERReference    float64
	HasReference    bool
	ReferenceSource string
	RequiresReview  bool
}

// Guard scores post-edited transcripts against the raw output or a reference
// transcript and flags jobs that fall below the threshold.
type Guard struct {
	store        store.Store
	recorder     *events.Recorder
	threshold    float64
	referenceDir string
}

func NewGuard(st store.Store, recorder *events.Recorder, threshold float64) *Guard {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if recorder == nil {
		recorder = events.NewRecorder(st, nil, nil)
	}
	return &Guard{store: st, recorder: recorder, threshold: threshold}
}

// WithReferenceDir enables the per-profile reference convention: when a job
// carries no reference metadata, <dir>/<profile>.reference.txt is consulted.
func (g *Guard) WithReferenceDir(dir string) *Guard {
	g.referenceDir = dir
	return g
}

func (g *Guard) Threshold() float64 { return g.threshold }

// Evaluate scores the job's post-edited transcript and persists the outcome
// in the job metadata. Jobs that no longer exist are skipped silently so a
// late evaluation never fails the pipeline.
func (g *Guard) Evaluate(ctx context.Context, jobID string) error {
	job, err := g.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}
	transcription := job.Transcription()
	postEdit := job.PostEdit()
	if transcription == nil || postEdit == nil {
		return fmt.Errorf("accuracy: job %s missing transcription or post-edit payload", jobID)
	}

	reference := g.resolveReference(job)
	report := score(transcription, postEdit, reference, g.threshold)

	applyMetadata(job, report, transcription.Language)
	if report.RequiresReview {
		job.NeedsReview = true
		job.ReviewReason = fmt.Sprintf("accuracy score %.4f below threshold %.4f", report.Score, g.threshold)
	}
	if err := g.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("accuracy: persist evaluation for job %s: %w", jobID, err)
	}

	payload := map[string]any{
		"score":            report.Score,
		"baseline":         report.Baseline,
		"penalty":          report.Penalty,
		"wer_active":       report.WERActive,
		"reference_source": report.ReferenceSource,
		"requires_review":  report.RequiresReview,
	}
	if report.RequiresReview {
		g.recorder.Warn(ctx, job, "accuracy_evaluated", payload)
	} else {
		g.recorder.Info(ctx, job, "accuracy_evaluated", payload)
	}
	g.recorder.Metric(ctx, "accuracy.guard.evaluated", map[string]any{
		"job_id":           job.ID,
		"score":            report.Score,
		"baseline":         report.Baseline,
		"penalty":          report.Penalty,
		"wer_active":       report.WERActive,
		"reference_source": report.ReferenceSource,
		"requires_review":  report.RequiresReview,
	})
	if report.RequiresReview {
		g.recorder.Alert(ctx, "accuracy.guard.alert", map[string]any{
			"job_id":     job.ID,
			"score":      report.Score,
			"wer_active": report.WERActive,
			"threshold":  g.threshold,
		})
	}
	return nil
}

// score compares the edited text against the raw transcription, and against
// the reference when one yields a lower error rate, then subtracts penalties
// for unresolved placeholders, reviewer flags, and low-confidence segments.
// The edited transcript is the reference side of every WER, so rates are
// normalized by its token count.
func score(transcription *store.Transcription, postEdit *store.EditedTranscript, reference string, threshold float64) Report {
	editedTokens := tokenize(postEdit.Text)
	asrTokens := tokenize(transcription.Text)

	report := Report{
		WERASR:          wordErrorRate(asrTokens, editedTokens),
		ReferenceSource: "asr_output",
	}
	report.WERActive = report.WERASR

	if reference != "" {
		report.HasReference = true
		report.WERReference = wordErrorRate(tokenize(reference), editedTokens)
		if report.WERReference < report.WERASR {
			report.WERActive = report.WERReference
			report.ReferenceSource = "client_reference"
		}
	}

	report.Baseline = 1 - report.WERActive
	if report.Baseline < 0 {
		report.Baseline = 0
	}

	tokenCount := len(editedTokens)
	if tokenCount == 0 {
		tokenCount = 1
	}
	penalty := float64(strings.Count(postEdit.Text, "???")) / float64(tokenCount)
	penalty += flagPenaltyWeight * float64(len(postEdit.Flags))
	if len(postEdit.Segments) > 0 {
		lowConfidence := 0
		for _, seg := range postEdit.Segments {
			if seg.Confidence != nil && *seg.Confidence < confidenceFloor {
				lowConfidence++
			}
		}
		confPenalty := confPenaltyCeiling * float64(lowConfidence) / float64(len(postEdit.Segments))
		if confPenalty > confPenaltyCeiling {
			confPenalty = confPenaltyCeiling
		}
		penalty += confPenalty
	}
	if penalty > penaltyCeiling {
		penalty = penaltyCeiling
	}
	report.Penalty = penalty

	report.Score = report.Baseline - penalty
	if report.Score < 0 {
		report.Score = 0
	}
	report.RequiresReview = report.Score < threshold
	return report
}

// resolveReference looks for a client-supplied transcript: inline metadata
// first, then a metadata file path, then the per-profile convention file.
// An unreadable file is treated as no reference.
func (g *Guard) resolveReference(job *store.Job) string {
	if inline := strings.TrimSpace(job.Meta("reference_transcript")); inline != "" {
		return inline
	}
	if path := strings.TrimSpace(job.Meta("reference_path")); path != "" {
		return readReferenceFile(path)
	}
	if g.referenceDir != "" && job.ProfileID != "" {
		return readReferenceFile(filepath.Join(g.referenceDir, job.ProfileID+".reference.txt"))
	}
	return ""
}

func readReferenceFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func applyMetadata(job *store.Job, report Report, language string) {
	status := "passing"
	if report.RequiresReview {
		status = "needs_review"
	}
	job.SetMeta("accuracy_score", formatScore(report.Score))
	job.SetMeta("accuracy_baseline", formatScore(report.Baseline))
	job.SetMeta("accuracy_penalty", formatScore(report.Penalty))
	job.SetMeta("accuracy_wer", formatScore(report.WERActive))
	job.SetMeta("accuracy_wer_asr", formatScore(report.WERASR))
	if report.HasReference {
		job.SetMeta("accuracy_wer_reference", formatScore(report.WERReference))
	}
	job.SetMeta("accuracy_reference_source", report.ReferenceSource)
	job.SetMeta("accuracy_status", status)
	job.SetMeta("accuracy_method", method)
	job.SetMeta("accuracy_requires_review", fmt.Sprintf("%t", report.RequiresReview))
	if language != "" {
		job.SetMeta("accuracy_language", language)
	}
	job.SetMeta("accuracy_updated_at", time.Now().UTC().Format(time.RFC3339))
}

func formatScore(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
