package migrations

func init() {
	Register(Migration{
		Timestamp:   "20250601-000000",
		Description: "Initial schema",
		Up: []string{
			// Accounts - credit balance and Stripe linkage per user
			// user_id is the auth provider's subject ID (no FK, users live upstream)
			`CREATE TABLE IF NOT EXISTS accounts (
				user_id TEXT PRIMARY KEY,
				email TEXT,
				credits INTEGER NOT NULL DEFAULT 0,
				stripe_customer_id TEXT UNIQUE,
				subscription_status TEXT,
				subscription_plan TEXT,
				trial_ends_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_accounts_email ON accounts(email)`,

			// Jobs - generation requests and their lifecycle
			`CREATE TABLE IF NOT EXISTS jobs (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				model TEXT NOT NULL,
				prompt TEXT NOT NULL,
				input_image_keys TEXT,
				kind TEXT NOT NULL,
				aspect_ratio TEXT,
				status TEXT NOT NULL DEFAULT 'pending',
				task_handle TEXT,
				result_key TEXT,
				error_message TEXT,
				credits_charged INTEGER NOT NULL DEFAULT 0,
				completed_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_user_id ON jobs(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at)`,

			// Credit transactions - append-only ledger
			// stripe_payment_id is UNIQUE so a replayed webhook cannot grant twice
			`CREATE TABLE IF NOT EXISTS credit_transactions (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				type TEXT NOT NULL,
				amount INTEGER NOT NULL,
				balance_after INTEGER NOT NULL,
				stripe_payment_id TEXT UNIQUE,
				job_id TEXT,
				description TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_credit_transactions_user_id ON credit_transactions(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_credit_transactions_created_at ON credit_transactions(created_at)`,

			// Webhook events - processed Stripe event ids for idempotency
			`CREATE TABLE IF NOT EXISTS webhook_events (
				event_id TEXT PRIMARY KEY,
				type TEXT NOT NULL,
				received_at TEXT NOT NULL
			)`,
		},
	})
}
