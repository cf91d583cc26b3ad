// Package repository defines repository interfaces for data access.
// Note: user identity lives with the upstream auth provider; user_id
// values are external subject IDs.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/image2ad/image2ad-api/internal/models"
)

// JobRepository defines methods for generation job data access.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.Job, error)
	// SetTaskHandleProcessing records the provider task handle and moves
	// the job from pending to processing. Returns false if the job was
	// not pending (the handle is never overwritten).
	SetTaskHandleProcessing(ctx context.Context, id, handle string) (bool, error)
	// MarkCompleted commits the result key and moves the job to
	// completed. Only a processing job can complete; returns false when
	// another caller already committed a terminal state.
	MarkCompleted(ctx context.Context, id, resultKey string) (bool, error)
	// MarkFailed moves the job to failed with an error message.
	// Returns false if the job was already terminal.
	MarkFailed(ctx context.Context, id, errorMessage string) (bool, error)
	// GetByStatus returns jobs in the given status, oldest first.
	GetByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error)
	// MarkStalePendingFailed fails pending jobs older than maxAge.
	// Used at startup to clean up jobs orphaned by a crash between
	// debit and task creation. Returns the number of jobs failed.
	MarkStalePendingFailed(ctx context.Context, maxAge time.Duration) (int64, error)
}

// AccountRepository defines methods for account and credit balance access.
type AccountRepository interface {
	Get(ctx context.Context, userID string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*models.Account, error)
	// EnsureExists creates the account row with a zero balance if absent.
	EnsureExists(ctx context.Context, userID, email string) error
	// DebitCredits atomically deducts amount if the balance covers it.
	// Returns false without modifying the row when it does not.
	DebitCredits(ctx context.Context, userID string, amount int64) (bool, error)
	// AddCredits increments the balance, creating the account if needed.
	AddCredits(ctx context.Context, userID string, amount int64) error
	// LinkStripeCustomer sets the Stripe customer id only if none is
	// recorded yet. An established link is never overwritten.
	LinkStripeCustomer(ctx context.Context, userID, customerID string) error
	UpdateSubscription(ctx context.Context, userID, status, plan string) error
	SetTrialEnds(ctx context.Context, userID string, endsAt time.Time) error
}

// CreditTransactionRepository defines methods for the credit ledger.
type CreditTransactionRepository interface {
	Create(ctx context.Context, tx *models.CreditTransaction) error
	// Grant inserts the ledger entry and applies its amount to the
	// account balance in one transaction; BalanceAfter is filled in
	// from the post-update balance. A UNIQUE violation on the payment
	// id rolls the balance change back and surfaces unchanged.
	Grant(ctx context.Context, tx *models.CreditTransaction) error
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.CreditTransaction, error)
	GetByStripePaymentID(ctx context.Context, stripePaymentID string) (*models.CreditTransaction, error)
}

// WebhookEventRepository records processed Stripe event ids.
type WebhookEventRepository interface {
	// MarkProcessed records the event id. Returns false if the event
	// was already recorded, which signals a redelivery to skip.
	MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error)
	// Delete removes a recorded event id so a redelivery is processed
	// again. Called when the handler fails after the id was recorded.
	Delete(ctx context.Context, eventID string) error
}

// UsageRepository defines methods for usage record data access.
type UsageRepository interface {
	Create(ctx context.Context, record *models.UsageRecord) error
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.UsageRecord, error)
	// SumCreditsSince returns total credits consumed since the cutoff.
	SumCreditsSince(ctx context.Context, userID string, since time.Time) (int64, error)
}

// MediaMetadataRepository defines methods for stored media display names.
type MediaMetadataRepository interface {
	Upsert(ctx context.Context, m *models.MediaMetadata) error
	Get(ctx context.Context, userID, fileName string) (*models.MediaMetadata, error)
	Rename(ctx context.Context, userID, fileName, displayName string) error
}

// Repositories holds all repository instances.
type Repositories struct {
	Job               JobRepository
	Account           AccountRepository
	CreditTransaction CreditTransactionRepository
	WebhookEvent      WebhookEventRepository
	Usage             UsageRepository
	MediaMetadata     MediaMetadataRepository
}

// NewRepositories creates all repository instances.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Job:               NewSQLiteJobRepository(db),
		Account:           NewSQLiteAccountRepository(db),
		CreditTransaction: NewSQLiteCreditTransactionRepository(db),
		WebhookEvent:      NewSQLiteWebhookEventRepository(db),
		Usage:             NewSQLiteUsageRepository(db),
		MediaMetadata:     NewSQLiteMediaMetadataRepository(db),
	}
}
