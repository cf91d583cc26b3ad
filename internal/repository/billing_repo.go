package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/image2ad/image2ad-api/internal/models"
)

// ========================================
// Account Repository
// ========================================

// SQLiteAccountRepository implements AccountRepository for SQLite.
type SQLiteAccountRepository struct {
	db *sql.DB
}

// NewSQLiteAccountRepository creates a new SQLite account repository.
func NewSQLiteAccountRepository(db *sql.DB) *SQLiteAccountRepository {
	return &SQLiteAccountRepository{db: db}
}

const accountColumns = `user_id, email, credits, stripe_customer_id, subscription_status,
	subscription_plan, trial_ends_at, created_at, updated_at`

func (r *SQLiteAccountRepository) Get(ctx context.Context, userID string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = ?`
	return r.scanAccount(r.db.QueryRowContext(ctx, query, userID))
}

func (r *SQLiteAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = ?`
	return r.scanAccount(r.db.QueryRowContext(ctx, query, email))
}

func (r *SQLiteAccountRepository) GetByStripeCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE stripe_customer_id = ?`
	return r.scanAccount(r.db.QueryRowContext(ctx, query, customerID))
}

func (r *SQLiteAccountRepository) EnsureExists(ctx context.Context, userID, email string) error {
	now := time.Now().Format(time.RFC3339)
	query := `
		INSERT INTO accounts (user_id, email, credits, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			email = COALESCE(NULLIF(excluded.email, ''), accounts.email),
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, userID, nullString(email), now, now)
	if err != nil {
		return fmt.Errorf("failed to ensure account: %w", err)
	}
	return nil
}

// DebitCredits deducts amount only when the balance covers it. The
// check and the deduction are a single UPDATE, so concurrent debits
// cannot drive the balance negative.
func (r *SQLiteAccountRepository) DebitCredits(ctx context.Context, userID string, amount int64) (bool, error) {
	now := time.Now().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET credits = credits - ?, updated_at = ?
		WHERE user_id = ? AND credits >= ?
	`, amount, now, userID, amount)
	if err != nil {
		return false, fmt.Errorf("failed to debit credits: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

func (r *SQLiteAccountRepository) AddCredits(ctx context.Context, userID string, amount int64) error {
	now := time.Now().Format(time.RFC3339)
	query := `
		INSERT INTO accounts (user_id, credits, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			credits = accounts.credits + excluded.credits,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, userID, amount, now, now)
	if err != nil {
		return fmt.Errorf("failed to add credits: %w", err)
	}
	return nil
}

// LinkStripeCustomer records the customer id only for accounts that
// have none. An established link must never be overwritten by a later
// webhook carrying a different customer.
func (r *SQLiteAccountRepository) LinkStripeCustomer(ctx context.Context, userID, customerID string) error {
	now := time.Now().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET stripe_customer_id = ?, updated_at = ?
		WHERE user_id = ? AND stripe_customer_id IS NULL
	`, customerID, now, userID)
	if err != nil {
		return fmt.Errorf("failed to link stripe customer: %w", err)
	}
	return nil
}

func (r *SQLiteAccountRepository) UpdateSubscription(ctx context.Context, userID, status, plan string) error {
	now := time.Now().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET subscription_status = ?, subscription_plan = ?, updated_at = ?
		WHERE user_id = ?
	`, nullString(status), nullString(plan), now, userID)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

func (r *SQLiteAccountRepository) SetTrialEnds(ctx context.Context, userID string, endsAt time.Time) error {
	now := time.Now().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET trial_ends_at = ?, updated_at = ? WHERE user_id = ?
	`, endsAt.Format(time.RFC3339), now, userID)
	if err != nil {
		return fmt.Errorf("failed to set trial end: %w", err)
	}
	return nil
}

func (r *SQLiteAccountRepository) scanAccount(row *sql.Row) (*models.Account, error) {
	var account models.Account
	var email, customerID, subStatus, subPlan, trialEndsAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&account.UserID, &email, &account.Credits, &customerID, &subStatus,
		&subPlan, &trialEndsAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	account.Email = email.String
	account.StripeCustomerID = customerID.String
	account.SubscriptionStatus = subStatus.String
	account.SubscriptionPlan = subPlan.String
	account.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	account.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if trialEndsAt.Valid {
		t, _ := time.Parse(time.RFC3339, trialEndsAt.String)
		account.TrialEndsAt = &t
	}
	return &account, nil
}

// ========================================
// Credit Transaction Repository
// ========================================

// SQLiteCreditTransactionRepository implements CreditTransactionRepository for SQLite.
type SQLiteCreditTransactionRepository struct {
	db *sql.DB
}

// NewSQLiteCreditTransactionRepository creates a new SQLite credit transaction repository.
func NewSQLiteCreditTransactionRepository(db *sql.DB) *SQLiteCreditTransactionRepository {
	return &SQLiteCreditTransactionRepository{db: db}
}

func (r *SQLiteCreditTransactionRepository) Create(ctx context.Context, tx *models.CreditTransaction) error {
	query := `
		INSERT INTO credit_transactions (id, user_id, type, amount, balance_after,
			stripe_payment_id, job_id, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		tx.ID, tx.UserID, tx.Type, tx.Amount, tx.BalanceAfter,
		nullStringPtr(tx.StripePaymentID), nullStringPtr(tx.JobID),
		nullString(tx.Description), tx.CreatedAt.Format(time.RFC3339),
	)
	// UNIQUE violations on stripe_payment_id surface to the caller,
	// which treats them as duplicate payments
	return err
}

// Grant credits a payment atomically: the balance increment and the
// ledger entry commit together or not at all.
func (r *SQLiteCreditTransactionRepository) Grant(ctx context.Context, tx *models.CreditTransaction) error {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = dbTx.Rollback() }()

	now := time.Now().Format(time.RFC3339)
	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO accounts (user_id, credits, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			credits = accounts.credits + excluded.credits,
			updated_at = excluded.updated_at
	`, tx.UserID, tx.Amount, now, now)
	if err != nil {
		return fmt.Errorf("failed to add credits: %w", err)
	}

	if err := dbTx.QueryRowContext(ctx,
		`SELECT credits FROM accounts WHERE user_id = ?`, tx.UserID,
	).Scan(&tx.BalanceAfter); err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}

	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, type, amount, balance_after,
			stripe_payment_id, job_id, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tx.ID, tx.UserID, tx.Type, tx.Amount, tx.BalanceAfter,
		nullStringPtr(tx.StripePaymentID), nullStringPtr(tx.JobID),
		nullString(tx.Description), tx.CreatedAt.Format(time.RFC3339))
	if err != nil {
		// A duplicate payment id rolls the balance change back
		return err
	}

	return dbTx.Commit()
}

func (r *SQLiteCreditTransactionRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.CreditTransaction, error) {
	query := `
		SELECT id, user_id, type, amount, balance_after, stripe_payment_id, job_id, description, created_at
		FROM credit_transactions WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.CreditTransaction
	for rows.Next() {
		tx, err := scanCreditTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (r *SQLiteCreditTransactionRepository) GetByStripePaymentID(ctx context.Context, stripePaymentID string) (*models.CreditTransaction, error) {
	query := `
		SELECT id, user_id, type, amount, balance_after, stripe_payment_id, job_id, description, created_at
		FROM credit_transactions WHERE stripe_payment_id = ?
	`
	rows, err := r.db.QueryContext(ctx, query, stripePaymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit transaction: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanCreditTransaction(rows)
}

func scanCreditTransaction(rows *sql.Rows) (*models.CreditTransaction, error) {
	var tx models.CreditTransaction
	var stripePaymentID, jobID, description sql.NullString
	var createdAt string

	err := rows.Scan(
		&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.BalanceAfter,
		&stripePaymentID, &jobID, &description, &createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan credit transaction: %w", err)
	}

	if stripePaymentID.Valid {
		tx.StripePaymentID = &stripePaymentID.String
	}
	if jobID.Valid {
		tx.JobID = &jobID.String
	}
	tx.Description = description.String
	tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &tx, nil
}

// ========================================
// Webhook Event Repository
// ========================================

// SQLiteWebhookEventRepository implements WebhookEventRepository for SQLite.
type SQLiteWebhookEventRepository struct {
	db *sql.DB
}

// NewSQLiteWebhookEventRepository creates a new SQLite webhook event repository.
func NewSQLiteWebhookEventRepository(db *sql.DB) *SQLiteWebhookEventRepository {
	return &SQLiteWebhookEventRepository{db: db}
}

// MarkProcessed inserts the event id, ignoring duplicates. A zero
// rows-affected result means the event was seen before.
func (r *SQLiteWebhookEventRepository) MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO webhook_events (event_id, type, received_at) VALUES (?, ?, ?)
	`, eventID, eventType, time.Now().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// Delete removes the event id, re-opening the event for redelivery.
func (r *SQLiteWebhookEventRepository) Delete(ctx context.Context, eventID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM webhook_events WHERE event_id = ?`, eventID)
	if err != nil {
		return fmt.Errorf("failed to delete webhook event: %w", err)
	}
	return nil
}
