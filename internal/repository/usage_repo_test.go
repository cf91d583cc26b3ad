package repository

import (
	"context"
	"testing"
	"time"

	"github.com/image2ad/image2ad-api/internal/models"
)

func TestUsageRepository_CreateAndSum(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteUsageRepository(db)
	ctx := context.Background()

	records := []*models.UsageRecord{
		{ID: "u-1", UserID: "user-1", JobID: "job-1", Model: "flux-kontext-pro", Kind: models.MediaKindImage, Credits: 1, CreatedAt: time.Now()},
		{ID: "u-2", UserID: "user-1", JobID: "job-2", Model: "veo-3", Kind: models.MediaKindVideo, Credits: 8, CreatedAt: time.Now()},
		{ID: "u-3", UserID: "user-2", JobID: "job-3", Model: "suno-v4", Kind: models.MediaKindMusic, Credits: 3, CreatedAt: time.Now()},
	}
	for _, rec := range records {
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	total, err := repo.SumCreditsSince(ctx, "user-1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("SumCreditsSince() error: %v", err)
	}
	if total != 9 {
		t.Errorf("SumCreditsSince() = %d, want 9", total)
	}

	list, err := repo.GetByUserID(ctx, "user-1", 10, 0)
	if err != nil {
		t.Fatalf("GetByUserID() error: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("got %d records, want 2", len(list))
	}
}

func TestMediaMetadataRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteMediaMetadataRepository(db)
	ctx := context.Background()

	now := time.Now()
	meta := &models.MediaMetadata{
		UserID:      "user-1",
		FileName:    "job-1-1700000000.png",
		DisplayName: "Red bicycle",
		Kind:        models.MediaKindImage,
		JobID:       "job-1",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.Upsert(ctx, meta); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	got, err := repo.Get(ctx, "user-1", "job-1-1700000000.png")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got == nil || got.DisplayName != "Red bicycle" {
		t.Fatalf("Get() = %+v", got)
	}

	if err := repo.Rename(ctx, "user-1", "job-1-1700000000.png", "Bicycle ad v2"); err != nil {
		t.Fatalf("Rename() error: %v", err)
	}
	got, _ = repo.Get(ctx, "user-1", "job-1-1700000000.png")
	if got.DisplayName != "Bicycle ad v2" {
		t.Errorf("DisplayName = %q after rename", got.DisplayName)
	}
}
