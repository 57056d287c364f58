package store

import (
	"context"
	"fmt"
	"path/filepath"

	"transcribeflow/internal/config"
)

// Store is the persistence contract shared by the SQLite and journal backends.
type Store interface {
	// CreateJob inserts a new job. The job must carry an ID and a status.
	CreateJob(ctx context.Context, job *Job) error
	// GetJob fetches a job by identifier, returning nil when absent.
	GetJob(ctx context.Context, id string) (*Job, error)
	// UpdateJob persists job changes, enforcing the status transition table.
	UpdateJob(ctx context.Context, job *Job) error
	// ListJobs returns jobs filtered by status set, oldest first.
	// With no statuses it returns every job.
	ListJobs(ctx context.Context, statuses ...Status) ([]*Job, error)
	// ListRecent returns up to limit jobs ordered by most recent update.
	ListRecent(ctx context.Context, limit int) ([]*Job, error)
	// DeleteJobs removes jobs in the given statuses and reports how many.
	DeleteJobs(ctx context.Context, statuses ...Status) (int, error)

	// SaveArtifacts records a batch of emitted output files for a job.
	SaveArtifacts(ctx context.Context, artifacts []*Artifact) error
	// ArtifactsForJob returns artifacts for a job, newest version first.
	ArtifactsForJob(ctx context.Context, jobID string) ([]*Artifact, error)

	// AppendLog appends a structured event to a job's history.
	AppendLog(ctx context.Context, entry *LogEntry) error
	// LogsForJob returns up to limit recent log entries for a job.
	LogsForJob(ctx context.Context, jobID string, limit int) ([]*LogEntry, error)
	// RecentLogs returns up to limit recent log entries across all jobs.
	RecentLogs(ctx context.Context, limit int) ([]*LogEntry, error)

	// Health reports aggregated job counts.
	Health(ctx context.Context) (HealthSummary, error)

	Close() error
}

// Open constructs the store backend selected by configuration.
func Open(cfg *config.Config) (Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	switch cfg.Store.Backend {
	case "sqlite":
		return OpenSQLite(filepath.Join(cfg.Paths.DataDir, "jobs.db"))
	case "journal":
		return OpenJournal(filepath.Join(cfg.Paths.DataDir, "journal"))
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
