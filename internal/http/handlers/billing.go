package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/image2ad/image2ad-api/internal/service"
)

// BillingHandler handles balance and ledger endpoints.
type BillingHandler struct {
	accountSvc *service.AccountService
}

// NewBillingHandler creates a new billing handler.
func NewBillingHandler(accountSvc *service.AccountService) *BillingHandler {
	return &BillingHandler{accountSvc: accountSvc}
}

// GetBalanceOutput represents the balance response.
type GetBalanceOutput struct {
	Body struct {
		Credits            int64      `json:"credits" example:"42" doc:"Current credit balance"`
		SubscriptionStatus string     `json:"subscription_status,omitempty" example:"active"`
		SubscriptionPlan   string     `json:"subscription_plan,omitempty" example:"starter"`
		TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty" doc:"Trial expiry, if on a trial"`
	}
}

// GetBalance returns the caller's credit balance and subscription state.
// The account row is created on first contact.
func (h *BillingHandler) GetBalance(ctx context.Context, input *struct{}) (*GetBalanceOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	account, err := h.accountSvc.GetAccount(ctx, userID, getUserEmail(ctx))
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load account")
	}

	out := &GetBalanceOutput{}
	out.Body.Credits = account.Credits
	out.Body.SubscriptionStatus = account.SubscriptionStatus
	out.Body.SubscriptionPlan = account.SubscriptionPlan
	out.Body.TrialEndsAt = account.TrialEndsAt
	return out, nil
}

// TransactionBody describes one credit ledger entry.
type TransactionBody struct {
	ID           string    `json:"id"`
	Type         string    `json:"type" example:"debit" doc:"purchase, subscription, debit, or adjustment"`
	Amount       int64     `json:"amount" example:"-8" doc:"Credit delta; negative for debits"`
	BalanceAfter int64     `json:"balance_after"`
	JobID        *string   `json:"job_id,omitempty" doc:"Job this debit paid for"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListTransactionsInput represents a ledger list request.
type ListTransactionsInput struct {
	Limit  int `query:"limit" default:"50" minimum:"1" maximum:"100"`
	Offset int `query:"offset" default:"0" minimum:"0"`
}

// ListTransactionsOutput represents the ledger response.
type ListTransactionsOutput struct {
	Body struct {
		Transactions []TransactionBody `json:"transactions"`
	}
}

// ListTransactions returns the caller's credit ledger, newest first.
func (h *BillingHandler) ListTransactions(ctx context.Context, input *ListTransactionsInput) (*ListTransactionsOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	entries, err := h.accountSvc.ListTransactions(ctx, userID, input.Limit, input.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list transactions")
	}

	out := &ListTransactionsOutput{}
	out.Body.Transactions = make([]TransactionBody, 0, len(entries))
	for _, e := range entries {
		out.Body.Transactions = append(out.Body.Transactions, TransactionBody{
			ID:           e.ID,
			Type:         e.Type,
			Amount:       e.Amount,
			BalanceAfter: e.BalanceAfter,
			JobID:        e.JobID,
			Description:  e.Description,
			CreatedAt:    e.CreatedAt,
		})
	}
	return out, nil
}

// GetUsageInput represents a usage summary request.
type GetUsageInput struct {
	Days int `query:"days" default:"30" minimum:"1" maximum:"365" doc:"Window size in days"`
}

// GetUsageOutput represents the usage summary response.
type GetUsageOutput struct {
	Body struct {
		CreditsUsed int64 `json:"credits_used" doc:"Credits consumed in the window"`
		WindowDays  int   `json:"window_days"`
	}
}

// GetUsage returns credits consumed over a trailing window.
func (h *BillingHandler) GetUsage(ctx context.Context, input *GetUsageInput) (*GetUsageOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	since := time.Now().AddDate(0, 0, -input.Days)
	used, err := h.accountSvc.UsageSince(ctx, userID, since)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load usage")
	}

	out := &GetUsageOutput{}
	out.Body.CreditsUsed = used
	out.Body.WindowDays = input.Days
	return out, nil
}
