package service

import (
	"log/slog"

	"github.com/stripe/stripe-go/v78"

	"github.com/image2ad/image2ad-api/internal/config"
	"github.com/image2ad/image2ad-api/internal/kie"
	"github.com/image2ad/image2ad-api/internal/repository"
)

// Services holds all service instances.
type Services struct {
	Storage    *StorageService
	Submission *SubmissionService
	Reconcile  *ReconcileService
	Billing    *BillingService
	Account    *AccountService
}

// NewServices creates all service instances with their dependencies.
func NewServices(cfg *config.Config, repos *repository.Repositories, logger *slog.Logger) (*Services, error) {
	storage, err := NewStorageService(cfg, logger.With("service", "storage"))
	if err != nil {
		return nil, err
	}

	provider := kie.NewClient(cfg.KieBaseURL, cfg.KieAPIKey,
		cfg.KieMaxRetries, cfg.KieRetryDelay, logger.With("service", "kie"))

	stripe.Key = cfg.StripeSecretKey
	billingCfg := config.DefaultBillingConfig()

	return &Services{
		Storage:    storage,
		Submission: NewSubmissionService(cfg, repos, storage, provider, logger.With("service", "submission")),
		Reconcile:  NewReconcileService(cfg, repos, storage, provider, logger.With("service", "reconcile")),
		Billing:    NewBillingService(repos, &billingCfg, nil, logger.With("service", "billing")),
		Account:    NewAccountService(repos, logger.With("service", "account")),
	}, nil
}
