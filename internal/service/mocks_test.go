package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/image2ad/image2ad-api/internal/kie"
	"github.com/image2ad/image2ad-api/internal/models"
	"github.com/image2ad/image2ad-api/internal/repository"
)

// In-memory fakes for the repository interfaces. All state is guarded
// by a mutex so concurrent tests behave like the real database.

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*models.Job)}
}

func (r *fakeJobRepo) Create(_ context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("UNIQUE constraint failed: jobs.id")
	}
	clone := *job
	r.jobs[job.ID] = &clone
	return nil
}

func (r *fakeJobRepo) GetByID(_ context.Context, id string) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	clone := *job
	return &clone, nil
}

func (r *fakeJobRepo) GetByUserID(_ context.Context, userID string, limit, offset int) ([]*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Job
	for _, job := range r.jobs {
		if job.UserID == userID {
			clone := *job
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeJobRepo) SetTaskHandleProcessing(_ context.Context, id, handle string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != models.JobStatusPending || job.TaskHandle != "" {
		return false, nil
	}
	job.TaskHandle = handle
	job.Status = models.JobStatusProcessing
	job.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeJobRepo) MarkCompleted(_ context.Context, id, resultKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != models.JobStatusProcessing {
		return false, nil
	}
	now := time.Now()
	job.Status = models.JobStatusCompleted
	job.ResultKey = resultKey
	job.CompletedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (r *fakeJobRepo) MarkFailed(_ context.Context, id, errorMessage string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status.IsTerminal() {
		return false, nil
	}
	job.Status = models.JobStatusFailed
	job.ErrorMessage = errorMessage
	job.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeJobRepo) GetByStatus(_ context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Job
	for _, job := range r.jobs {
		if job.Status == status {
			clone := *job
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeJobRepo) MarkStalePendingFailed(_ context.Context, maxAge time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	var n int64
	for _, job := range r.jobs {
		if job.Status == models.JobStatusPending && job.CreatedAt.Before(cutoff) {
			job.Status = models.JobStatusFailed
			job.ErrorMessage = "Job abandoned before task creation"
			n++
		}
	}
	return n, nil
}

func (r *fakeJobRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[string]*models.Account)}
}

func (r *fakeAccountRepo) put(account *models.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *account
	r.accounts[account.UserID] = &clone
}

func (r *fakeAccountRepo) Get(_ context.Context, userID string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[userID]
	if !ok {
		return nil, nil
	}
	clone := *account
	return &clone, nil
}

func (r *fakeAccountRepo) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if account.Email == email {
			clone := *account
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *fakeAccountRepo) GetByStripeCustomerID(_ context.Context, customerID string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if account.StripeCustomerID == customerID {
			clone := *account
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *fakeAccountRepo) EnsureExists(_ context.Context, userID, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account, ok := r.accounts[userID]; ok {
		if account.Email == "" && email != "" {
			account.Email = email
		}
		return nil
	}
	now := time.Now()
	r.accounts[userID] = &models.Account{UserID: userID, Email: email, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (r *fakeAccountRepo) DebitCredits(_ context.Context, userID string, amount int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[userID]
	if !ok || account.Credits < amount {
		return false, nil
	}
	account.Credits -= amount
	return true, nil
}

func (r *fakeAccountRepo) AddCredits(_ context.Context, userID string, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[userID]
	if !ok {
		now := time.Now()
		account = &models.Account{UserID: userID, CreatedAt: now, UpdatedAt: now}
		r.accounts[userID] = account
	}
	account.Credits += amount
	return nil
}

func (r *fakeAccountRepo) LinkStripeCustomer(_ context.Context, userID, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[userID]
	if !ok || account.StripeCustomerID != "" {
		return nil
	}
	account.StripeCustomerID = customerID
	return nil
}

func (r *fakeAccountRepo) UpdateSubscription(_ context.Context, userID, status, plan string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account, ok := r.accounts[userID]; ok {
		account.SubscriptionStatus = status
		account.SubscriptionPlan = plan
	}
	return nil
}

func (r *fakeAccountRepo) SetTrialEnds(_ context.Context, userID string, endsAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account, ok := r.accounts[userID]; ok {
		account.TrialEndsAt = &endsAt
	}
	return nil
}

type fakeTxRepo struct {
	mu       sync.Mutex
	entries  []*models.CreditTransaction
	accounts *fakeAccountRepo
	grantErr error // injected transient Grant failure
}

func (r *fakeTxRepo) setGrantErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grantErr = err
}

func (r *fakeTxRepo) Create(_ context.Context, tx *models.CreditTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tx.StripePaymentID != nil {
		for _, e := range r.entries {
			if e.StripePaymentID != nil && *e.StripePaymentID == *tx.StripePaymentID {
				return fmt.Errorf("UNIQUE constraint failed: credit_transactions.stripe_payment_id")
			}
		}
	}
	clone := *tx
	r.entries = append(r.entries, &clone)
	return nil
}

func (r *fakeTxRepo) Grant(ctx context.Context, tx *models.CreditTransaction) error {
	r.mu.Lock()
	if tx.StripePaymentID != nil {
		for _, e := range r.entries {
			if e.StripePaymentID != nil && *e.StripePaymentID == *tx.StripePaymentID {
				r.mu.Unlock()
				return fmt.Errorf("UNIQUE constraint failed: credit_transactions.stripe_payment_id")
			}
		}
	}
	if err := r.grantErr; err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	if err := r.accounts.AddCredits(ctx, tx.UserID, tx.Amount); err != nil {
		return err
	}
	account, _ := r.accounts.Get(ctx, tx.UserID)
	tx.BalanceAfter = account.Credits

	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *tx
	r.entries = append(r.entries, &clone)
	return nil
}

func (r *fakeTxRepo) GetByUserID(_ context.Context, userID string, limit, offset int) ([]*models.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.CreditTransaction
	for _, e := range r.entries {
		if e.UserID == userID {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *fakeTxRepo) GetByStripePaymentID(_ context.Context, stripePaymentID string) (*models.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.StripePaymentID != nil && *e.StripePaymentID == stripePaymentID {
			clone := *e
			return &clone, nil
		}
	}
	return nil, nil
}

type fakeWebhookRepo struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (r *fakeWebhookRepo) MarkProcessed(_ context.Context, eventID, _ string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	if r.seen[eventID] {
		return false, nil
	}
	r.seen[eventID] = true
	return true, nil
}

func (r *fakeWebhookRepo) Delete(_ context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, eventID)
	return nil
}

type fakeUsageRepo struct {
	mu      sync.Mutex
	records []*models.UsageRecord
}

func (r *fakeUsageRepo) Create(_ context.Context, record *models.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *record
	r.records = append(r.records, &clone)
	return nil
}

func (r *fakeUsageRepo) GetByUserID(_ context.Context, userID string, limit, offset int) ([]*models.UsageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.UsageRecord
	for _, rec := range r.records {
		if rec.UserID == userID {
			clone := *rec
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *fakeUsageRepo) SumCreditsSince(_ context.Context, userID string, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, rec := range r.records {
		if rec.UserID == userID && rec.CreatedAt.After(since) {
			total += rec.Credits
		}
	}
	return total, nil
}

type fakeMediaRepo struct {
	mu    sync.Mutex
	items map[string]*models.MediaMetadata
}

func mediaKey(userID, fileName string) string { return userID + "/" + fileName }

func (r *fakeMediaRepo) Upsert(_ context.Context, m *models.MediaMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items == nil {
		r.items = make(map[string]*models.MediaMetadata)
	}
	clone := *m
	r.items[mediaKey(m.UserID, m.FileName)] = &clone
	return nil
}

func (r *fakeMediaRepo) Get(_ context.Context, userID, fileName string) (*models.MediaMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.items[mediaKey(userID, fileName)]
	if !ok {
		return nil, nil
	}
	clone := *m
	return &clone, nil
}

func (r *fakeMediaRepo) Rename(_ context.Context, userID, fileName, displayName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.items[mediaKey(userID, fileName)]; ok {
		m.DisplayName = displayName
	}
	return nil
}

func (r *fakeMediaRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func newFakeRepos() *repository.Repositories {
	accounts := newFakeAccountRepo()
	return &repository.Repositories{
		Job:               newFakeJobRepo(),
		Account:           accounts,
		CreditTransaction: &fakeTxRepo{accounts: accounts},
		WebhookEvent:      &fakeWebhookRepo{},
		Usage:             &fakeUsageRepo{},
		MediaMetadata:     &fakeMediaRepo{},
	}
}

// fakeProvider implements TaskProvider.
type fakeProvider struct {
	mu          sync.Mutex
	handle      string
	createErr   error
	createCalls int
	status      *kie.TaskStatus
	statusErr   error
	statusCalls int
}

func (p *fakeProvider) CreateTask(_ context.Context, _ string, _ kie.TaskParams) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createCalls++
	if p.createErr != nil {
		return "", p.createErr
	}
	return p.handle, nil
}

func (p *fakeProvider) GetTaskStatus(_ context.Context, _, _ string) (*kie.TaskStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusCalls++
	if p.statusErr != nil {
		return nil, p.statusErr
	}
	clone := *p.status
	return &clone, nil
}

func (p *fakeProvider) calls() (create, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createCalls, p.statusCalls
}

// fakeStorage implements ObjectStorage.
type fakeStorage struct {
	mu         sync.Mutex
	resolveErr error
	uploadErr  error
	uploads    map[string]string // key -> content type
}

func (s *fakeStorage) ResolveInputURLs(_ context.Context, _ string, keys []string) ([]string, error) {
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	urls := make([]string, 0, len(keys))
	for _, key := range keys {
		urls = append(urls, "https://uploads.test/"+key)
	}
	return urls, nil
}

func (s *fakeStorage) UploadResult(_ context.Context, key string, body io.Reader, contentType string) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	if _, err := io.ReadAll(body); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploads == nil {
		s.uploads = make(map[string]string)
	}
	s.uploads[key] = contentType
	return nil
}

func (s *fakeStorage) ResultURL(_ context.Context, key string) (string, error) {
	return "https://results.test/" + key, nil
}

func (s *fakeStorage) uploadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}
