package migrations

func init() {
	Register(Migration{
		Timestamp:   "20250722-103000",
		Description: "Usage records and media metadata",
		Up: []string{
			// Usage records - one row per billable generation, for reporting
			`CREATE TABLE IF NOT EXISTS usage_records (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				job_id TEXT NOT NULL,
				model TEXT NOT NULL,
				kind TEXT NOT NULL,
				credits INTEGER NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_usage_records_user_id ON usage_records(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_usage_records_created_at ON usage_records(created_at)`,

			// Media metadata - display names for stored results
			`CREATE TABLE IF NOT EXISTS media_metadata (
				user_id TEXT NOT NULL,
				file_name TEXT NOT NULL,
				display_name TEXT NOT NULL,
				kind TEXT NOT NULL,
				job_id TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				PRIMARY KEY (user_id, file_name)
			)`,
		},
	})
}
