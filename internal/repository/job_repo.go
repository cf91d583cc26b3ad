package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/image2ad/image2ad-api/internal/models"
)

// SQLiteJobRepository implements JobRepository for SQLite.
type SQLiteJobRepository struct {
	db *sql.DB
}

// NewSQLiteJobRepository creates a new SQLite job repository.
func NewSQLiteJobRepository(db *sql.DB) *SQLiteJobRepository {
	return &SQLiteJobRepository{db: db}
}

const jobColumns = `id, user_id, model, prompt, input_image_keys, kind, aspect_ratio,
	status, task_handle, result_key, error_message, credits_charged,
	completed_at, created_at, updated_at`

func (r *SQLiteJobRepository) Create(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var inputKeys sql.NullString
	if len(job.InputImageKeys) > 0 {
		b, err := json.Marshal(job.InputImageKeys)
		if err != nil {
			return fmt.Errorf("failed to encode input image keys: %w", err)
		}
		inputKeys = sql.NullString{String: string(b), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.UserID,
		job.Model,
		job.Prompt,
		inputKeys,
		job.Kind,
		nullString(job.AspectRatio),
		job.Status,
		nullString(job.TaskHandle),
		nullString(job.ResultKey),
		nullString(job.ErrorMessage),
		job.CreditsCharged,
		nullTime(job.CompletedAt),
		job.CreatedAt.Format(time.RFC3339),
		job.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *SQLiteJobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	return r.scanJob(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteJobRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := r.scanJobFromRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SetTaskHandleProcessing records the provider task handle and moves the
// job from pending to processing. The WHERE clause guarantees the handle
// is set at most once.
func (r *SQLiteJobRepository) SetTaskHandleProcessing(ctx context.Context, id, handle string) (bool, error) {
	now := time.Now().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, task_handle = ?, updated_at = ?
		WHERE id = ? AND status = ? AND task_handle IS NULL
	`, models.JobStatusProcessing, handle, now, id, models.JobStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to set task handle: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// MarkCompleted commits the result and moves the job to completed.
// Only a processing job can transition, so concurrent reconcilers race
// on this UPDATE and exactly one wins.
func (r *SQLiteJobRepository) MarkCompleted(ctx context.Context, id, resultKey string) (bool, error) {
	now := time.Now().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, result_key = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, models.JobStatusCompleted, resultKey, now, now, id, models.JobStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to mark job completed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// MarkFailed moves the job to failed unless it is already terminal.
func (r *SQLiteJobRepository) MarkFailed(ctx context.Context, id, errorMessage string) (bool, error) {
	now := time.Now().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, models.JobStatusFailed, errorMessage, now, now, id, models.JobStatusPending, models.JobStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to mark job failed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

func (r *SQLiteJobRepository) GetByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = ? ORDER BY created_at ASC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs by status: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := r.scanJobFromRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkStalePendingFailed fails pending jobs older than maxAge. A job can
// be left pending if the process dies between the credit debit and the
// provider accepting the task.
func (r *SQLiteJobRepository) MarkStalePendingFailed(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Format(time.RFC3339)
	now := time.Now().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE status = ? AND created_at < ?
	`, models.JobStatusFailed, "Job abandoned before task creation", now, now,
		models.JobStatusPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale jobs as failed: %w", err)
	}

	count, _ := result.RowsAffected()
	return count, nil
}

func (r *SQLiteJobRepository) scanJob(row *sql.Row) (*models.Job, error) {
	var job models.Job
	var createdAt, updatedAt string
	var inputKeys, aspectRatio, taskHandle, resultKey, errorMessage sql.NullString
	var completedAt sql.NullString

	err := row.Scan(
		&job.ID, &job.UserID, &job.Model, &job.Prompt, &inputKeys, &job.Kind, &aspectRatio,
		&job.Status, &taskHandle, &resultKey, &errorMessage, &job.CreditsCharged,
		&completedAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	populateJob(&job, inputKeys, aspectRatio, taskHandle, resultKey, errorMessage, completedAt, createdAt, updatedAt)
	return &job, nil
}

func (r *SQLiteJobRepository) scanJobFromRows(rows *sql.Rows) (*models.Job, error) {
	var job models.Job
	var createdAt, updatedAt string
	var inputKeys, aspectRatio, taskHandle, resultKey, errorMessage sql.NullString
	var completedAt sql.NullString

	err := rows.Scan(
		&job.ID, &job.UserID, &job.Model, &job.Prompt, &inputKeys, &job.Kind, &aspectRatio,
		&job.Status, &taskHandle, &resultKey, &errorMessage, &job.CreditsCharged,
		&completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	populateJob(&job, inputKeys, aspectRatio, taskHandle, resultKey, errorMessage, completedAt, createdAt, updatedAt)
	return &job, nil
}

func populateJob(job *models.Job, inputKeys, aspectRatio, taskHandle, resultKey, errorMessage, completedAt sql.NullString, createdAt, updatedAt string) {
	if inputKeys.Valid && inputKeys.String != "" {
		_ = json.Unmarshal([]byte(inputKeys.String), &job.InputImageKeys)
	}
	job.AspectRatio = aspectRatio.String
	job.TaskHandle = taskHandle.String
	job.ResultKey = resultKey.String
	job.ErrorMessage = errorMessage.String
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		job.CompletedAt = &t
	}
}

// Helper functions
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}
