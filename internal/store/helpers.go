package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id            string
		sourcePath    sql.NullString
		filename      sql.NullString
		profileID     sql.NullString
		engine        sql.NullString
		statusStr     string
		version       int
		language      sql.NullString
		durationSec   sql.NullFloat64
		metadata      sql.NullString
		outputPaths   sql.NullString
		transcription sql.NullString
		postEdit      sql.NullString
		errorMessage  sql.NullString
		needsReview   sql.NullInt64
		reviewReason  sql.NullString
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&sourcePath,
		&filename,
		&profileID,
		&engine,
		&statusStr,
		&version,
		&language,
		&durationSec,
		&metadata,
		&outputPaths,
		&transcription,
		&postEdit,
		&errorMessage,
		&needsReview,
		&reviewReason,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:                id,
		SourcePath:        sourcePath.String,
		Filename:          filename.String,
		ProfileID:         profileID.String,
		Engine:            engine.String,
		Status:            Status(statusStr),
		Version:           version,
		Language:          language.String,
		TranscriptionJSON: transcription.String,
		PostEditJSON:      postEdit.String,
		ErrorMessage:      errorMessage.String,
		ReviewReason:      reviewReason.String,
	}
	if needsReview.Valid {
		job.NeedsReview = needsReview.Int64 != 0
	}
	if durationSec.Valid {
		job.DurationSec = durationSec.Float64
	}
	if metadata.Valid && metadata.String != "" {
		_ = json.Unmarshal([]byte(metadata.String), &job.Metadata)
	}
	if outputPaths.Valid && outputPaths.String != "" {
		_ = json.Unmarshal([]byte(outputPaths.String), &job.OutputPaths)
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

func validateNewJob(job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if strings.TrimSpace(job.ID) == "" {
		return errors.New("job id is required")
	}
	if _, ok := ParseStatus(string(job.Status)); !ok {
		return fmt.Errorf("unknown job status %q", job.Status)
	}
	return nil
}

func encodeMetadata(metadata map[string]string) (string, error) {
	return encodeStringMap(metadata, "metadata")
}

func encodeStringMap(values map[string]string, label string) (string, error) {
	if len(values) == 0 {
		return "", nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", label, err)
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
