package repository

import (
	"database/sql"
	"testing"

	"github.com/image2ad/image2ad-api/internal/database/migrations"
	_ "github.com/tursodatabase/go-libsql"
)

// setupTestDB creates an in-memory SQLite database for testing.
// It runs migrations and returns a database connection that will be cleaned up
// when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	// :memory: gives each pooled connection its own database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db)
}

// InsertTestJob is a helper to insert a test job directly.
func InsertTestJob(t *testing.T, db *sql.DB, id, userID, status string) {
	t.Helper()
	query := `
		INSERT INTO jobs (id, user_id, model, prompt, kind, status, credits_charged, created_at, updated_at)
		VALUES (?, ?, 'flux-kontext-pro', 'a red bicycle', 'image', ?, 1, strftime('%Y-%m-%dT%H:%M:%SZ', 'now'), strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
	`
	if _, err := db.Exec(query, id, userID, status); err != nil {
		t.Fatalf("failed to insert test job: %v", err)
	}
}

// InsertTestAccount is a helper to insert an account with a balance.
func InsertTestAccount(t *testing.T, db *sql.DB, userID string, credits int64) {
	t.Helper()
	query := `
		INSERT INTO accounts (user_id, credits, created_at, updated_at)
		VALUES (?, ?, datetime('now'), datetime('now'))
	`
	if _, err := db.Exec(query, userID, credits); err != nil {
		t.Fatalf("failed to insert test account: %v", err)
	}
}
