// Package publisher mirrors job status changes and deliveries to a CSV
// sheet shared with operators. Rows are appended under a file lock so the
// daemon and CLI can write concurrently.
package publisher

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"transcribeflow/internal/store"
)

// Publisher pushes a job status update to an external consumer.
type Publisher interface {
	Publish(ctx context.Context, job *store.Job) error
}

// Nop discards all updates.
type Nop struct{}

func (Nop) Publish(context.Context, *store.Job) error { return nil }

var csvHeader = []string{
	"job_id",
	"timestamp_utc",
	"source_path",
	"profile",
	"engine",
	"status",
	"language",
	"duration_sec",
	"package_path",
	"version",
}

// CSVSheet appends job rows to a CSV file guarded by a sibling .lock file.
type CSVSheet struct {
	path string
	lock *flock.Flock
}

func NewCSVSheet(path string) *CSVSheet {
	return &CSVSheet{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Publish appends a status row for the job.
func (c *CSVSheet) Publish(ctx context.Context, job *store.Job) error {
	return c.append(ctx, job, "")
}

// Register appends a delivery row pointing at the package handed to the
// client. Called from the approval path.
func (c *CSVSheet) Register(ctx context.Context, job *store.Job, packagePath string) error {
	return c.append(ctx, job, packagePath)
}

func (c *CSVSheet) append(ctx context.Context, job *store.Job, packagePath string) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("publisher: create sheet dir: %w", err)
	}
	locked, err := c.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("publisher: acquire sheet lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("publisher: sheet lock unavailable")
	}
	defer func() { _ = c.lock.Unlock() }()

	writeHeader := false
	if _, err := os.Stat(c.path); os.IsNotExist(err) {
		writeHeader = true
	}
	handle, err := os.OpenFile(c.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("publisher: open sheet: %w", err)
	}
	defer func() { _ = handle.Close() }()

	writer := csv.NewWriter(handle)
	if writeHeader {
		if err := writer.Write(csvHeader); err != nil {
			return fmt.Errorf("publisher: write header: %w", err)
		}
	}
	if err := writer.Write(buildRow(job, packagePath)); err != nil {
		return fmt.Errorf("publisher: write row: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("publisher: flush sheet: %w", err)
	}
	return nil
}

func buildRow(job *store.Job, packagePath string) []string {
	duration := ""
	if job.DurationSec > 0 {
		duration = strconv.FormatFloat(job.DurationSec, 'f', -1, 64)
	} else if transcription := job.Transcription(); transcription != nil && transcription.DurationSec > 0 {
		duration = strconv.FormatFloat(transcription.DurationSec, 'f', -1, 64)
	}
	return []string{
		job.ID,
		time.Now().UTC().Format(time.RFC3339),
		job.SourcePath,
		job.ProfileID,
		job.Engine,
		string(job.Status),
		job.Language,
		duration,
		packagePath,
		strconv.Itoa(job.Version),
	}
}
