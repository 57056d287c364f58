package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"transcribeflow/internal/services"
)

// JournalStore persists jobs as JSON documents on disk, one file per entity
// kind, guarded by an advisory file lock so the daemon and CLI can share it.
type JournalStore struct {
	dir  string
	lock *flock.Flock
}

type journalDoc struct {
	Jobs      map[string]*Job `json:"jobs"`
	Artifacts []*Artifact     `json:"artifacts"`
	Logs      []*LogEntry     `json:"logs"`
	NextID    int64           `json:"next_id"`
}

// OpenJournal initializes a journal store rooted at dir.
func OpenJournal(dir string) (*JournalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &JournalStore{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, "journal.lock")),
	}, nil
}

// Close releases the journal lock if held.
func (s *JournalStore) Close() error {
	if s == nil || s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}

func (s *JournalStore) docPath() string {
	return filepath.Join(s.dir, "journal.json")
}

// withDoc runs fn with the journal document under the file lock. When fn
// reports dirty, the document is written back atomically.
func (s *JournalStore) withDoc(ctx context.Context, fn func(doc *journalDoc) (bool, error)) error {
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquire journal lock: %w", err)
	}
	if !locked {
		return errors.New("journal lock unavailable")
	}
	defer func() { _ = s.lock.Unlock() }()

	doc, err := s.loadDoc()
	if err != nil {
		return err
	}

	dirty, err := fn(doc)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	return s.saveDoc(doc)
}

func (s *JournalStore) loadDoc() (*journalDoc, error) {
	doc := &journalDoc{Jobs: make(map[string]*Job), NextID: 1}
	data, err := os.ReadFile(s.docPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return doc, nil
		}
		return nil, fmt.Errorf("read journal: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse journal: %w", err)
	}
	if doc.Jobs == nil {
		doc.Jobs = make(map[string]*Job)
	}
	if doc.NextID <= 0 {
		doc.NextID = 1
	}
	return doc, nil
}

func (s *JournalStore) saveDoc(doc *journalDoc) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}
	tmp := s.docPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	if err := os.Rename(tmp, s.docPath()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace journal: %w", err)
	}
	return nil
}

// CreateJob inserts a new job document.
func (s *JournalStore) CreateJob(ctx context.Context, job *Job) error {
	if err := validateNewJob(job); err != nil {
		return err
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Version <= 0 {
		job.Version = 1
	}
	return s.withDoc(ctx, func(doc *journalDoc) (bool, error) {
		if _, exists := doc.Jobs[job.ID]; exists {
			return false, fmt.Errorf("job %s already exists", job.ID)
		}
		doc.Jobs[job.ID] = cloneJob(job)
		return true, nil
	})
}

// GetJob fetches a job by identifier, returning nil when absent.
func (s *JournalStore) GetJob(ctx context.Context, id string) (*Job, error) {
	var found *Job
	err := s.withDoc(ctx, func(doc *journalDoc) (bool, error) {
		if job, ok := doc.Jobs[id]; ok {
			found = cloneJob(job)
		}
		return false, nil
	})
	return found, err
}

// UpdateJob persists job changes, enforcing the status transition table.
func (s *JournalStore) UpdateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	return s.withDoc(ctx, func(doc *journalDoc) (bool, error) {
		current, ok := doc.Jobs[job.ID]
		if !ok {
			return false, services.Wrap(services.ErrNotFound, "store", "update_job", fmt.Sprintf("job %s not found", job.ID), nil)
		}
		if err := ValidateTransition(current.Status, job.Status); err != nil {
			return false, services.Wrap(services.ErrValidation, "store", "update_job", err.Error(), nil)
		}
		job.UpdatedAt = time.Now().UTC()
		doc.Jobs[job.ID] = cloneJob(job)
		return true, nil
	})
}

// ListJobs returns jobs filtered by status set, oldest first.
func (s *JournalStore) ListJobs(ctx context.Context, statuses ...Status) ([]*Job, error) {
	wanted := make(map[Status]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}
	var jobs []*Job
	err := s.withDoc(ctx, func(doc *journalDoc) (bool, error) {
		for _, job := range doc.Jobs {
			if len(wanted) > 0 {
				if _, ok := wanted[job.Status]; !ok {
					continue
				}
			}
			jobs = append(jobs, cloneJob(job))
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// ListRecent returns up to limit jobs ordered by most recent update.
func (s *JournalStore) ListRecent(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	jobs, err := s.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].UpdatedAt.Equal(jobs[j].UpdatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].UpdatedAt.After(jobs[j].UpdatedAt)
	})
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// DeleteJobs removes jobs in the given statuses and reports how many.
func (s *JournalStore) DeleteJobs(ctx context.Context, statuses ...Status) (int, error) {
	wanted := make(map[Status]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}
	removed := 0
	err := s.withDoc(ctx, func(doc *journalDoc) (bool, error) {
		for id, job := range doc.Jobs {
			if len(wanted) > 0 {
				if _, ok := wanted[job.Status]; !ok {
					continue
				}
			}
			delete(doc.Jobs, id)
			removed++
		}
		return removed > 0, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// SaveArtifacts records a batch of emitted output files for a job.
func (s *JournalStore) SaveArtifacts(ctx context.Context, artifacts []*Artifact) error {
	if len(artifacts) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.withDoc(ctx, func(doc *journalDoc) (bool, error) {
		for _, artifact := range artifacts {
			if artifact == nil {
				return false, errors.New("artifact is nil")
			}
			if artifact.CreatedAt.IsZero() {
				artifact.CreatedAt = now
			}
			artifact.ID = doc.NextID
			doc.NextID++
			clone := *artifact
			doc.Artifacts = append(doc.Artifacts, &clone)
		}
		return true, nil
	})
}

// ArtifactsForJob returns artifacts for a job, newest version first.
func (s *JournalStore) ArtifactsForJob(ctx context.Context, jobID string) ([]*Artifact, error) {
	var artifacts []*Artifact
	err := s.withDoc(ctx, func(doc *journalDoc) (bool, error) {
		for _, artifact := range doc.Artifacts {
			if artifact.JobID != jobID {
				continue
			}
			clone := *artifact
			artifacts = append(artifacts, &clone)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(artifacts, func(i, j int) bool {
		if artifacts[i].Version == artifacts[j].Version {
			return artifacts[i].ID < artifacts[j].ID
		}
		return artifacts[i].Version > artifacts[j].Version
	})
	return artifacts, nil
}

// AppendLog appends a structured event to a job's history.
func (s *JournalStore) AppendLog(ctx context.Context, entry *LogEntry) error {
	if entry == nil {
		return errors.New("log entry is nil")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return s.withDoc(ctx, func(doc *journalDoc) (bool, error) {
		entry.ID = doc.NextID
		doc.NextID++
		clone := *entry
		doc.Logs = append(doc.Logs, &clone)
		return true, nil
	})
}

// LogsForJob returns up to limit recent log entries for a job, newest first.
func (s *JournalStore) LogsForJob(ctx context.Context, jobID string, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []*LogEntry
	err := s.withDoc(ctx, func(doc *journalDoc) (bool, error) {
		for _, entry := range doc.Logs {
			if entry.JobID != jobID {
				continue
			}
			clone := *entry
			entries = append(entries, &clone)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID > entries[j].ID })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// RecentLogs returns up to limit recent log entries across all jobs, newest first.
func (s *JournalStore) RecentLogs(ctx context.Context, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []*LogEntry
	err := s.withDoc(ctx, func(doc *journalDoc) (bool, error) {
		for _, entry := range doc.Logs {
			clone := *entry
			entries = append(entries, &clone)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID > entries[j].ID })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Health reports aggregated job counts.
func (s *JournalStore) Health(ctx context.Context) (HealthSummary, error) {
	var summary HealthSummary
	err := s.withDoc(ctx, func(doc *journalDoc) (bool, error) {
		for _, job := range doc.Jobs {
			addStatusCount(&summary, job.Status, 1)
		}
		return false, nil
	})
	return summary, err
}

func cloneJob(job *Job) *Job {
	clone := *job
	if job.Metadata != nil {
		clone.Metadata = make(map[string]string, len(job.Metadata))
		for k, v := range job.Metadata {
			clone.Metadata[k] = v
		}
	}
	if job.OutputPaths != nil {
		clone.OutputPaths = make(map[string]string, len(job.OutputPaths))
		for k, v := range job.OutputPaths {
			clone.OutputPaths[k] = v
		}
	}
	return &clone
}
