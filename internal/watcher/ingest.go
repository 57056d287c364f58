// Package watcher turns audio files dropped into the inbox tree into pending
// jobs and feeds them to the pipeline through a bounded worker pool.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"transcribeflow/internal/events"
	"transcribeflow/internal/profile"
	"transcribeflow/internal/publisher"
	"transcribeflow/internal/store"
)

var supportedExtensions = map[string]struct{}{
	".wav":  {},
	".mp3":  {},
	".m4a":  {},
	".aac":  {},
	".flac": {},
	".ogg":  {},
}

// SupportedExtension reports whether the file name carries an audio suffix
// the pipeline accepts.
func SupportedExtension(path string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Ingestor creates pending jobs from discovered audio files.
type Ingestor struct {
	store     store.Store
	profiles  *profile.Provider
	recorder  *events.Recorder
	publisher publisher.Publisher
	engine    string
	maxBytes  int64
}

func NewIngestor(st store.Store, profiles *profile.Provider, recorder *events.Recorder, pub publisher.Publisher, engine string, maxBytes int64) *Ingestor {
	if recorder == nil {
		recorder = events.NewRecorder(st, nil, nil)
	}
	if pub == nil {
		pub = publisher.Nop{}
	}
	return &Ingestor{
		store:     st,
		profiles:  profiles,
		recorder:  recorder,
		publisher: pub,
		engine:    engine,
		maxBytes:  maxBytes,
	}
}

// IngestFile creates a job for the audio file. Unsupported suffixes and
// oversized files are skipped with a nil job, not an error. The size limit
// is taken literally: a zero limit admits nothing.
func (i *Ingestor) IngestFile(ctx context.Context, path string) (*store.Job, error) {
	if !SupportedExtension(path) {
		return nil, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("watcher: stat %s: %w", path, err)
	}
	if i.maxBytes == 0 || info.Size() > i.maxBytes {
		i.recorder.Warn(ctx, nil, "file_skipped", map[string]any{
			"path":      path,
			"bytes":     info.Size(),
			"max_bytes": i.maxBytes,
		})
		return nil, nil
	}

	folder := filepath.Base(filepath.Dir(path))
	prof, err := i.profiles.ResolveForFolder(folder)
	if err != nil {
		return nil, fmt.Errorf("watcher: resolve profile for %s: %w", folder, err)
	}

	job := &store.Job{
		ID:         newJobID(),
		SourcePath: path,
		Filename:   filepath.Base(path),
		ProfileID:  prof.ID,
		Engine:     i.engine,
		Status:     store.StatusPending,
		Metadata: map[string]string{
			"source_folder":    folder,
			"detected_profile": folder,
		},
	}
	applyDeliveryMetadata(job, prof)

	if err := i.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("watcher: create job for %s: %w", path, err)
	}
	i.recorder.Info(ctx, job, "job_created", map[string]any{
		"path":    path,
		"profile": prof.ID,
		"bytes":   info.Size(),
	})
	if err := i.publisher.Publish(ctx, job); err != nil {
		i.recorder.Warn(ctx, job, "status_publish_failed", map[string]any{"error": err.Error()})
	}
	return job, nil
}

func applyDeliveryMetadata(job *store.Job, prof *profile.Profile) {
	now := time.Now().UTC().Format(time.RFC3339)
	if template := prof.MetaString("delivery_template"); template != "" {
		job.SetMeta("delivery_template", template)
		job.SetMeta("delivery_template_updated_at", now)
	}
	locale := prof.MetaString("default_locale")
	if locale == "" {
		locale = prof.MetaString("language")
	}
	if normalized := normalizeLocale(locale); normalized != "" {
		job.SetMeta("delivery_locale", normalized)
		job.SetMeta("delivery_locale_updated_at", now)
	}
}

func normalizeLocale(value string) string {
	slug := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(value), "_", "-"))
	if len(slug) < 2 || slug == "auto" {
		return ""
	}
	return slug
}

// newJobID returns a 32 character hex identifier.
func newJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
