package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/image2ad/image2ad-api/internal/models"
)

// SQLiteUsageRepository implements UsageRepository for SQLite.
type SQLiteUsageRepository struct {
	db *sql.DB
}

// NewSQLiteUsageRepository creates a new SQLite usage repository.
func NewSQLiteUsageRepository(db *sql.DB) *SQLiteUsageRepository {
	return &SQLiteUsageRepository{db: db}
}

func (r *SQLiteUsageRepository) Create(ctx context.Context, record *models.UsageRecord) error {
	query := `
		INSERT INTO usage_records (id, user_id, job_id, model, kind, credits, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.UserID, record.JobID, record.Model, record.Kind,
		record.Credits, record.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create usage record: %w", err)
	}
	return nil
}

func (r *SQLiteUsageRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.UsageRecord, error) {
	query := `
		SELECT id, user_id, job_id, model, kind, credits, created_at
		FROM usage_records WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []*models.UsageRecord
	for rows.Next() {
		var record models.UsageRecord
		var createdAt string
		if err := rows.Scan(&record.ID, &record.UserID, &record.JobID, &record.Model,
			&record.Kind, &record.Credits, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		record.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		records = append(records, &record)
	}
	return records, rows.Err()
}

func (r *SQLiteUsageRepository) SumCreditsSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	query := `SELECT COALESCE(SUM(credits), 0) FROM usage_records WHERE user_id = ? AND created_at >= ?`
	var total int64
	err := r.db.QueryRowContext(ctx, query, userID, since.Format(time.RFC3339)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum usage credits: %w", err)
	}
	return total, nil
}

// SQLiteMediaMetadataRepository implements MediaMetadataRepository for SQLite.
type SQLiteMediaMetadataRepository struct {
	db *sql.DB
}

// NewSQLiteMediaMetadataRepository creates a new SQLite media metadata repository.
func NewSQLiteMediaMetadataRepository(db *sql.DB) *SQLiteMediaMetadataRepository {
	return &SQLiteMediaMetadataRepository{db: db}
}

func (r *SQLiteMediaMetadataRepository) Upsert(ctx context.Context, m *models.MediaMetadata) error {
	query := `
		INSERT INTO media_metadata (user_id, file_name, display_name, kind, job_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, file_name) DO UPDATE SET
			display_name = excluded.display_name,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		m.UserID, m.FileName, m.DisplayName, m.Kind, nullString(m.JobID),
		m.CreatedAt.Format(time.RFC3339), m.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert media metadata: %w", err)
	}
	return nil
}

func (r *SQLiteMediaMetadataRepository) Get(ctx context.Context, userID, fileName string) (*models.MediaMetadata, error) {
	query := `
		SELECT user_id, file_name, display_name, kind, job_id, created_at, updated_at
		FROM media_metadata WHERE user_id = ? AND file_name = ?
	`
	var m models.MediaMetadata
	var jobID sql.NullString
	var createdAt, updatedAt string
	err := r.db.QueryRowContext(ctx, query, userID, fileName).Scan(
		&m.UserID, &m.FileName, &m.DisplayName, &m.Kind, &jobID, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan media metadata: %w", err)
	}
	m.JobID = jobID.String
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &m, nil
}

func (r *SQLiteMediaMetadataRepository) Rename(ctx context.Context, userID, fileName, displayName string) error {
	now := time.Now().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		UPDATE media_metadata SET display_name = ?, updated_at = ?
		WHERE user_id = ? AND file_name = ?
	`, displayName, now, userID, fileName)
	if err != nil {
		return fmt.Errorf("failed to rename media: %w", err)
	}
	return nil
}
