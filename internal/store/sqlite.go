package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"transcribeflow/internal/services"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema
// changes; users must clear the database after a bump.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// SQLiteStore manages job persistence backed by SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite initializes or connects to the job database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLiteStore{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	err = s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (run 'transcribeflow queue clear' or delete the database)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

const jobColumns = "id, source_path, filename, profile_id, engine, status, version, language, duration_sec, metadata_json, output_paths_json, transcription_json, post_edit_json, error_message, needs_review, review_reason, created_at, updated_at"

// CreateJob inserts a new job row.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *Job) error {
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

	metadataJSON, err := encodeMetadata(job.Metadata)
	if err != nil {
		return err
	}
	outputPathsJSON, err := encodeStringMap(job.OutputPaths, "output paths")
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            id, source_path, filename, profile_id, engine, status, version,
            language, duration_sec, metadata_json, output_paths_json,
            transcription_json, post_edit_json,
            error_message, needs_review, review_reason, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		nullableString(job.SourcePath),
		nullableString(job.Filename),
		nullableString(job.ProfileID),
		nullableString(job.Engine),
		job.Status,
		job.Version,
		nullableString(job.Language),
		job.DurationSec,
		nullableString(metadataJSON),
		nullableString(outputPathsJSON),
		nullableString(job.TranscriptionJSON),
		nullableString(job.PostEditJSON),
		nullableString(job.ErrorMessage),
		boolToInt(job.NeedsReview),
		nullableString(job.ReviewReason),
		job.CreatedAt.Format(time.RFC3339Nano),
		job.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by identifier, returning nil when absent.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// UpdateJob persists changes to an existing job. Status changes are
// checked against the lifecycle transition table before writing.
func (s *SQLiteStore) UpdateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentStatus string
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, job.ID).Scan(&currentStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return services.Wrap(services.ErrNotFound, "store", "update_job", fmt.Sprintf("job %s not found", job.ID), nil)
	}
	if err != nil {
		return fmt.Errorf("read current status: %w", err)
	}
	if err := ValidateTransition(Status(currentStatus), job.Status); err != nil {
		return services.Wrap(services.ErrValidation, "store", "update_job", err.Error(), nil)
	}

	metadataJSON, err := encodeMetadata(job.Metadata)
	if err != nil {
		return err
	}
	outputPathsJSON, err := encodeStringMap(job.OutputPaths, "output paths")
	if err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(
		ctx,
		`UPDATE jobs
         SET source_path = ?, filename = ?, profile_id = ?, engine = ?, status = ?,
             version = ?, language = ?, duration_sec = ?, metadata_json = ?,
             output_paths_json = ?, transcription_json = ?,
             post_edit_json = ?, error_message = ?, needs_review = ?, review_reason = ?,
             updated_at = ?
         WHERE id = ?`,
		nullableString(job.SourcePath),
		nullableString(job.Filename),
		nullableString(job.ProfileID),
		nullableString(job.Engine),
		job.Status,
		job.Version,
		nullableString(job.Language),
		job.DurationSec,
		nullableString(metadataJSON),
		nullableString(outputPathsJSON),
		nullableString(job.TranscriptionJSON),
		nullableString(job.PostEditJSON),
		nullableString(job.ErrorMessage),
		boolToInt(job.NeedsReview),
		nullableString(job.ReviewReason),
		job.UpdatedAt.Format(time.RFC3339Nano),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

// ListJobs returns jobs filtered by status set, oldest first.
func (s *SQLiteStore) ListJobs(ctx context.Context, statuses ...Status) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListRecent returns up to limit jobs ordered by most recent update.
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY updated_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// DeleteJobs removes jobs in the given statuses and reports how many.
func (s *SQLiteStore) DeleteJobs(ctx context.Context, statuses ...Status) (int, error) {
	var (
		res sql.Result
		err error
	)
	if len(statuses) == 0 {
		res, err = s.db.ExecContext(ctx, `DELETE FROM jobs`)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		res, err = s.db.ExecContext(ctx, `DELETE FROM jobs WHERE status IN (`+placeholders+`)`, args...)
	}
	if err != nil {
		return 0, fmt.Errorf("delete jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

// SaveArtifacts records a batch of emitted output files in one transaction.
func (s *SQLiteStore) SaveArtifacts(ctx context.Context, artifacts []*Artifact) error {
	if len(artifacts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin artifacts tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, artifact := range artifacts {
		if artifact == nil {
			return errors.New("artifact is nil")
		}
		if artifact.CreatedAt.IsZero() {
			artifact.CreatedAt = time.Now().UTC()
		}
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO artifacts (job_id, kind, path, version, created_at) VALUES (?, ?, ?, ?, ?)`,
			artifact.JobID,
			string(artifact.Kind),
			artifact.Path,
			artifact.Version,
			artifact.CreatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert artifact: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			artifact.ID = id
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit artifacts: %w", err)
	}
	return nil
}

// ArtifactsForJob returns artifacts for a job, newest version first.
func (s *SQLiteStore) ArtifactsForJob(ctx context.Context, jobID string) ([]*Artifact, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, job_id, kind, path, version, created_at FROM artifacts WHERE job_id = ? ORDER BY version DESC, id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		var (
			artifact   Artifact
			kind       string
			createdRaw string
		)
		if err := rows.Scan(&artifact.ID, &artifact.JobID, &kind, &artifact.Path, &artifact.Version, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifact.Kind = ArtifactKind(kind)
		if created, err := parseTimeString(createdRaw); err == nil {
			artifact.CreatedAt = created
		}
		artifacts = append(artifacts, &artifact)
	}
	return artifacts, rows.Err()
}

// AppendLog appends a structured event to a job's history.
func (s *SQLiteStore) AppendLog(ctx context.Context, entry *LogEntry) error {
	if entry == nil {
		return errors.New("log entry is nil")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	payloadJSON := ""
	if len(entry.Payload) > 0 {
		data, err := json.Marshal(entry.Payload)
		if err != nil {
			return fmt.Errorf("marshal log payload: %w", err)
		}
		payloadJSON = string(data)
	}
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO job_logs (job_id, level, event, message, payload_json, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.JobID,
		entry.Level,
		entry.Event,
		nullableString(entry.Message),
		nullableString(payloadJSON),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// LogsForJob returns up to limit recent log entries for a job, newest first.
func (s *SQLiteStore) LogsForJob(ctx context.Context, jobID string, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, job_id, level, event, message, payload_json, created_at FROM job_logs WHERE job_id = ? ORDER BY id DESC LIMIT ?`,
		jobID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query job logs: %w", err)
	}
	defer rows.Close()
	return collectLogEntries(rows)
}

func collectLogEntries(rows *sql.Rows) ([]*LogEntry, error) {
	var entries []*LogEntry
	for rows.Next() {
		var (
			entry      LogEntry
			messageRaw sql.NullString
			payloadRaw sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&entry.ID, &entry.JobID, &entry.Level, &entry.Event, &messageRaw, &payloadRaw, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entry.Message = messageRaw.String
		if payloadRaw.Valid && payloadRaw.String != "" {
			_ = json.Unmarshal([]byte(payloadRaw.String), &entry.Payload)
		}
		if created, err := parseTimeString(createdRaw); err == nil {
			entry.CreatedAt = created
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// RecentLogs returns up to limit recent log entries across all jobs, newest first.
func (s *SQLiteStore) RecentLogs(ctx context.Context, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, job_id, level, event, message, payload_json, created_at FROM job_logs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent logs: %w", err)
	}
	defer rows.Close()
	return collectLogEntries(rows)
}

// Health reports aggregated job counts.
func (s *SQLiteStore) Health(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("query health: %w", err)
	}
	defer rows.Close()

	var summary HealthSummary
	for rows.Next() {
		var (
			statusStr string
			count     int
		)
		if err := rows.Scan(&statusStr, &count); err != nil {
			return HealthSummary{}, fmt.Errorf("scan health row: %w", err)
		}
		addStatusCount(&summary, Status(statusStr), count)
	}
	return summary, rows.Err()
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
