package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/image2ad/image2ad-api/internal/models"
	"github.com/image2ad/image2ad-api/internal/repository"
)

// AccountService exposes account, balance, and library operations.
type AccountService struct {
	repos  *repository.Repositories
	logger *slog.Logger
}

// NewAccountService creates a new account service.
func NewAccountService(repos *repository.Repositories, logger *slog.Logger) *AccountService {
	return &AccountService{
		repos:  repos,
		logger: logger,
	}
}

// GetAccount returns the caller's account, creating the zero-balance
// row on first contact.
func (s *AccountService) GetAccount(ctx context.Context, userID, email string) (*models.Account, error) {
	if err := s.repos.Account.EnsureExists(ctx, userID, email); err != nil {
		return nil, fmt.Errorf("failed to ensure account: %w", err)
	}
	account, err := s.repos.Account.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return account, nil
}

// ListTransactions returns the caller's credit ledger, newest first.
func (s *AccountService) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*models.CreditTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repos.CreditTransaction.GetByUserID(ctx, userID, limit, offset)
}

// ListUsage returns the caller's usage records, newest first.
func (s *AccountService) ListUsage(ctx context.Context, userID string, limit, offset int) ([]*models.UsageRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repos.Usage.GetByUserID(ctx, userID, limit, offset)
}

// UsageSince returns total credits consumed since the cutoff.
func (s *AccountService) UsageSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	return s.repos.Usage.SumCreditsSince(ctx, userID, since)
}

// RenameMedia updates the display name of a stored result.
func (s *AccountService) RenameMedia(ctx context.Context, userID, fileName, displayName string) error {
	if err := s.repos.MediaMetadata.Rename(ctx, userID, fileName, displayName); err != nil {
		return fmt.Errorf("failed to rename media: %w", err)
	}
	return nil
}
