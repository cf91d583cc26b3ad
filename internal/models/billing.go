package models

import "time"

// Account holds a user's credit balance and Stripe linkage.
type Account struct {
	UserID             string     `json:"user_id"`
	Email              string     `json:"email,omitempty"`
	Credits            int64      `json:"credits"`
	StripeCustomerID   string     `json:"stripe_customer_id,omitempty"`
	SubscriptionStatus string     `json:"subscription_status,omitempty"`
	SubscriptionPlan   string     `json:"subscription_plan,omitempty"`
	TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Credit transaction types.
const (
	TransactionTypePurchase     = "purchase"     // One-time payment via Stripe
	TransactionTypeSubscription = "subscription" // Recurring plan grant
	TransactionTypeDebit        = "debit"        // Job submission charge
	TransactionTypeAdjustment   = "adjustment"   // Manual correction
)

// CreditTransaction is one entry in the append-only credit ledger.
type CreditTransaction struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Type         string    `json:"type"`
	Amount       int64     `json:"amount"` // Negative for debits
	BalanceAfter int64     `json:"balance_after"`
	// StripePaymentID carries the payment intent or invoice id for
	// Stripe-originated grants. A UNIQUE index on it makes replayed
	// webhook deliveries harmless.
	StripePaymentID *string   `json:"stripe_payment_id,omitempty"`
	JobID           *string   `json:"job_id,omitempty"`
	Description     string    `json:"description,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// UsageRecord captures one billable generation for reporting.
type UsageRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	JobID     string    `json:"job_id"`
	Model     string    `json:"model"`
	Kind      MediaKind `json:"kind"`
	Credits   int64     `json:"credits"`
	CreatedAt time.Time `json:"created_at"`
}

// WebhookEvent records a processed Stripe event id. Its primary key is
// the first idempotency guard against redelivered webhooks.
type WebhookEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	ReceivedAt time.Time `json:"received_at"`
}
