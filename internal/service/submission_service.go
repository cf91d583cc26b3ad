package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/image2ad/image2ad-api/internal/config"
	"github.com/image2ad/image2ad-api/internal/kie"
	"github.com/image2ad/image2ad-api/internal/logging"
	"github.com/image2ad/image2ad-api/internal/models"
	"github.com/image2ad/image2ad-api/internal/repository"
)

// TaskProvider is the provider surface the job services depend on.
// *kie.Client implements it; tests substitute fakes.
type TaskProvider interface {
	CreateTask(ctx context.Context, model string, params kie.TaskParams) (string, error)
	GetTaskStatus(ctx context.Context, model, handle string) (*kie.TaskStatus, error)
}

// SubmissionService creates generation jobs: it debits credits, records
// the job, and hands the work to the task provider.
type SubmissionService struct {
	cfg      *config.Config
	repos    *repository.Repositories
	storage  ObjectStorage
	provider TaskProvider
	logger   *slog.Logger
}

// NewSubmissionService creates a new submission service.
func NewSubmissionService(cfg *config.Config, repos *repository.Repositories, storage ObjectStorage, provider TaskProvider, logger *slog.Logger) *SubmissionService {
	return &SubmissionService{
		cfg:      cfg,
		repos:    repos,
		storage:  storage,
		provider: provider,
		logger:   logger,
	}
}

// SubmitRequest carries the parameters for a new generation job.
type SubmitRequest struct {
	UserID         string
	Model          string
	Prompt         string
	InputImageKeys []string
	Kind           models.MediaKind
	AspectRatio    string
}

// Submit runs the submission sequence: resolve inputs, debit credits,
// insert the job, create the provider task. It returns as soon as the
// task is handed off; completion is observed through reconciliation.
//
// Credits debited here are not refunded if the provider rejects the
// task. The job fails immediately in that case and the charge stands,
// matching the debit-before-create ordering.
func (s *SubmissionService) Submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	log := logging.FromContext(ctx, s.logger)

	if !req.Kind.Valid() {
		return nil, fmt.Errorf("unsupported media kind %q", req.Kind)
	}

	// Resolve input references before touching credits so a missing
	// upload costs nothing
	inputURLs, err := s.storage.ResolveInputURLs(ctx, req.UserID, req.InputImageKeys)
	if err != nil {
		return nil, err
	}

	cost := s.cfg.CreditCost(string(req.Kind))
	ok, err := s.repos.Account.DebitCredits(ctx, req.UserID, cost)
	if err != nil {
		return nil, fmt.Errorf("failed to debit credits: %w", err)
	}
	if !ok {
		return nil, ErrInsufficientCredits
	}

	now := time.Now()
	job := &models.Job{
		ID:             ulid.Make().String(),
		UserID:         req.UserID,
		Model:          req.Model,
		Prompt:         req.Prompt,
		InputImageKeys: req.InputImageKeys,
		Kind:           req.Kind,
		AspectRatio:    req.AspectRatio,
		Status:         models.JobStatusPending,
		CreditsCharged: cost,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repos.Job.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.recordDebit(ctx, job, cost)

	handle, err := s.provider.CreateTask(ctx, req.Model, kie.TaskParams{
		Prompt:      req.Prompt,
		ImageURLs:   inputURLs,
		AspectRatio: req.AspectRatio,
		CallbackURL: s.cfg.KieCallbackURL,
	})
	if err != nil {
		// The debit is deliberately kept: the charge happened before
		// the provider was asked, and later task failures consume the
		// credit the same way
		log.Error("provider task creation failed", "job_id", job.ID, "model", req.Model, "error", err)
		if _, failErr := s.repos.Job.MarkFailed(ctx, job.ID, fmt.Sprintf("task creation failed: %v", err)); failErr != nil {
			log.Error("failed to mark job failed", "job_id", job.ID, "error", failErr)
		}
		return nil, fmt.Errorf("task creation failed: %w", err)
	}

	ok, err = s.repos.Job.SetTaskHandleProcessing(ctx, job.ID, handle)
	if err != nil {
		return nil, fmt.Errorf("failed to record task handle: %w", err)
	}
	if !ok {
		// The job left pending while we waited on the provider; do not
		// clobber whatever state won
		log.Warn("job no longer pending after task creation", "job_id", job.ID, "task_handle", handle)
	} else {
		job.Status = models.JobStatusProcessing
		job.TaskHandle = handle
	}

	s.recordUsage(ctx, job, cost)

	log.Info("job submitted",
		"job_id", job.ID,
		"user_id", req.UserID,
		"model", req.Model,
		"kind", req.Kind,
		"credits", cost,
	)
	return job, nil
}

// List returns the caller's jobs, newest first.
func (s *SubmissionService) List(ctx context.Context, userID string, limit, offset int) ([]*models.Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repos.Job.GetByUserID(ctx, userID, limit, offset)
}

func (s *SubmissionService) recordDebit(ctx context.Context, job *models.Job, cost int64) {
	account, err := s.repos.Account.Get(ctx, job.UserID)
	balanceAfter := int64(0)
	if err == nil && account != nil {
		balanceAfter = account.Credits
	}

	jobID := job.ID
	entry := &models.CreditTransaction{
		ID:           ulid.Make().String(),
		UserID:       job.UserID,
		Type:         models.TransactionTypeDebit,
		Amount:       -cost,
		BalanceAfter: balanceAfter,
		JobID:        &jobID,
		Description:  fmt.Sprintf("%s generation", job.Kind),
		CreatedAt:    time.Now(),
	}
	if err := s.repos.CreditTransaction.Create(ctx, entry); err != nil {
		// Ledger entries are audit data; the debit itself already committed
		s.logger.Error("failed to record debit transaction", "job_id", job.ID, "error", err)
	}
}

func (s *SubmissionService) recordUsage(ctx context.Context, job *models.Job, cost int64) {
	record := &models.UsageRecord{
		ID:        ulid.Make().String(),
		UserID:    job.UserID,
		JobID:     job.ID,
		Model:     job.Model,
		Kind:      job.Kind,
		Credits:   cost,
		CreatedAt: time.Now(),
	}
	if err := s.repos.Usage.Create(ctx, record); err != nil {
		s.logger.Error("failed to record usage", "job_id", job.ID, "error", err)
	}
}
