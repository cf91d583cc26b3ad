package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/image2ad/image2ad-api/internal/config"
	"github.com/image2ad/image2ad-api/internal/kie"
	"github.com/image2ad/image2ad-api/internal/logging"
	"github.com/image2ad/image2ad-api/internal/models"
	"github.com/image2ad/image2ad-api/internal/repository"
)

// ReconcileService drives a job toward its terminal state by comparing
// provider task status against the local record. It is safe to invoke
// any number of times, concurrently, for the same job: the first
// terminal commit wins and later passes take the fast path.
type ReconcileService struct {
	cfg        *config.Config
	repos      *repository.Repositories
	storage    ObjectStorage
	provider   TaskProvider
	httpClient *http.Client
	logger     *slog.Logger
}

// NewReconcileService creates a new reconciliation service.
func NewReconcileService(cfg *config.Config, repos *repository.Repositories, storage ObjectStorage, provider TaskProvider, logger *slog.Logger) *ReconcileService {
	return &ReconcileService{
		cfg:      cfg,
		repos:    repos,
		storage:  storage,
		provider: provider,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // Result downloads can be large
		},
		logger: logger,
	}
}

// Reconcile loads the job, queries the provider if needed, and applies
// the resulting state transition. The returned job reflects the state
// after this pass.
//
// An ArtifactTransferError leaves the job processing: the provider task
// already succeeded, so the transfer is retried on the next pass rather
// than failing the job.
func (s *ReconcileService) Reconcile(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.repos.Job.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil {
		return nil, ErrJobNotFound
	}

	// Fast path: a terminal job is returned verbatim with no provider
	// call, no upload, no metadata write
	if job.Status.IsTerminal() {
		return job, nil
	}

	log := logging.FromContext(logging.WithJobID(ctx, job.ID), s.logger)

	// No handle yet means the submission is still between debit and
	// provider hand-off; only the age ceiling applies
	if job.TaskHandle == "" {
		return s.enforceCeiling(ctx, job, log)
	}

	status, err := s.provider.GetTaskStatus(ctx, job.Model, job.TaskHandle)
	if err != nil {
		// Transient provider trouble: the job stays processing and the
		// next pass retries. The age ceiling still applies so a dead
		// provider cannot strand jobs forever
		log.Warn("provider status check failed", "task_handle", job.TaskHandle, "error", err)
		return s.enforceCeiling(ctx, job, log)
	}

	switch status.State {
	case kie.StateProcessing:
		return s.enforceCeiling(ctx, job, log)

	case kie.StateFailed:
		if _, err := s.repos.Job.MarkFailed(ctx, job.ID, status.FailureMessage); err != nil {
			return nil, fmt.Errorf("failed to record provider failure: %w", err)
		}
		log.Info("job failed", "reason", status.FailureMessage)
		return s.reload(ctx, job.ID)

	case kie.StateSucceeded:
		return s.commitResult(ctx, job, status, log)
	}

	return job, nil
}

// enforceCeiling force-fails a job that has outlived its per-kind
// ceiling. The provider task is abandoned; there is no remote cancel.
func (s *ReconcileService) enforceCeiling(ctx context.Context, job *models.Job, log *slog.Logger) (*models.Job, error) {
	ceiling := s.cfg.ReconcileTimeout(string(job.Kind))
	age := time.Since(job.CreatedAt)
	if age <= ceiling {
		return job, nil
	}

	msg := fmt.Sprintf("generation timed out after %s", ceiling)
	if _, err := s.repos.Job.MarkFailed(ctx, job.ID, msg); err != nil {
		return nil, fmt.Errorf("failed to record timeout: %w", err)
	}
	log.Warn("job timed out", "kind", job.Kind, "age", age.Round(time.Second))
	return s.reload(ctx, job.ID)
}

// commitResult downloads the finished media, stores it, and commits the
// terminal transition exactly once.
func (s *ReconcileService) commitResult(ctx context.Context, job *models.Job, status *kie.TaskStatus, log *slog.Logger) (*models.Job, error) {
	resultURL := selectResultURL(status.ResultURLs, job.Kind)
	if resultURL == "" {
		log.Warn("provider reported success without result URLs")
		return job, nil
	}

	body, contentType, err := s.download(ctx, resultURL)
	if err != nil {
		return job, &ArtifactTransferError{JobID: job.ID, Err: err}
	}
	defer func() { _ = body.Close() }()

	key := resultKey(job, resultURL)
	if err := s.storage.UploadResult(ctx, key, body, contentType); err != nil {
		return job, &ArtifactTransferError{JobID: job.ID, Err: err}
	}

	won, err := s.repos.Job.MarkCompleted(ctx, job.ID, key)
	if err != nil {
		return nil, fmt.Errorf("failed to mark job completed: %w", err)
	}
	if won {
		// Only the winning pass writes metadata, so racing reconcilers
		// cannot double-insert
		s.upsertMetadata(ctx, job, key, log)
		log.Info("job completed", "result_key", key)
	} else {
		log.Debug("terminal commit lost race, result already recorded")
	}

	return s.reload(ctx, job.ID)
}

func (s *ReconcileService) download(ctx context.Context, url string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return resp.Body, contentType, nil
}

func (s *ReconcileService) upsertMetadata(ctx context.Context, job *models.Job, key string, log *slog.Logger) {
	now := time.Now()
	meta := &models.MediaMetadata{
		UserID:      job.UserID,
		FileName:    path.Base(key),
		DisplayName: displayName(job),
		Kind:        job.Kind,
		JobID:       job.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repos.MediaMetadata.Upsert(ctx, meta); err != nil {
		log.Error("failed to upsert media metadata", "error", err)
	}
}

func (s *ReconcileService) reload(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.repos.Job.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload job: %w", err)
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// selectResultURL picks exactly one URL from the provider's list.
// Video results prefer an .mp4 URL when present; otherwise the first
// URL wins.
func selectResultURL(urls []string, kind models.MediaKind) string {
	if len(urls) == 0 {
		return ""
	}
	if kind == models.MediaKindVideo {
		for _, u := range urls {
			if strings.HasSuffix(strings.ToLower(stripQuery(u)), ".mp4") {
				return u
			}
		}
	}
	return urls[0]
}

// resultKey builds the storage key {userId}/{direction}/{jobId}-{unix}.{ext}.
func resultKey(job *models.Job, resultURL string) string {
	ext := path.Ext(stripQuery(resultURL))
	if ext == "" {
		switch job.Kind {
		case models.MediaKindVideo:
			ext = ".mp4"
		case models.MediaKindMusic:
			ext = ".mp3"
		default:
			ext = ".png"
		}
	}
	return fmt.Sprintf("%s/%s/%s-%d%s", job.UserID, job.Direction(), job.ID, time.Now().Unix(), ext)
}

func stripQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

func displayName(job *models.Job) string {
	name := strings.TrimSpace(job.Prompt)
	if len(name) > 60 {
		name = name[:60]
	}
	if name == "" {
		name = string(job.Kind) + " generation"
	}
	return name
}
