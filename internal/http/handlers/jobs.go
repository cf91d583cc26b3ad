package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/image2ad/image2ad-api/internal/models"
	"github.com/image2ad/image2ad-api/internal/service"
)

// JobHandler handles job status endpoints.
type JobHandler struct {
	submissionSvc *service.SubmissionService
	reconcileSvc  *service.ReconcileService
	storage       service.ObjectStorage
	logger        *slog.Logger
}

// NewJobHandler creates a new job handler.
func NewJobHandler(submissionSvc *service.SubmissionService, reconcileSvc *service.ReconcileService, storage service.ObjectStorage, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		submissionSvc: submissionSvc,
		reconcileSvc:  reconcileSvc,
		storage:       storage,
		logger:        logger,
	}
}

// JobResponseBody describes one generation job.
type JobResponseBody struct {
	JobID          string     `json:"job_id" doc:"Unique job identifier (ULID)"`
	Status         string     `json:"status" example:"completed" doc:"Job status: pending, processing, completed, failed"`
	Model          string     `json:"model" example:"flux-kontext-pro"`
	Prompt         string     `json:"prompt"`
	Kind           string     `json:"kind" example:"image"`
	AspectRatio    string     `json:"aspect_ratio,omitempty"`
	CreditsCharged int64      `json:"credits_charged"`
	ResultURL      string     `json:"result_url,omitempty" doc:"Presigned download URL, populated when completed"`
	ErrorMessage   string     `json:"error_message,omitempty" doc:"Failure reason, populated when failed"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// GetJobInput represents a job status request.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ID"`
}

// GetJobOutput represents a job status response.
type GetJobOutput struct {
	Body JobResponseBody
}

// GetJob returns the current state of a job. Each read runs a
// reconciliation pass first, so the response reflects the provider's
// latest word rather than a stale row.
func (h *JobHandler) GetJob(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	job, err := h.reconcileSvc.Reconcile(ctx, input.ID)
	if err != nil {
		var transferErr *service.ArtifactTransferError
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			return nil, huma.Error404NotFound("job not found")
		case errors.As(err, &transferErr):
			// The provider finished but the result could not be stored
			// yet; the job reads as processing and the next poll retries
			h.logger.Warn("result transfer deferred", "job_id", input.ID, "error", err)
		default:
			return nil, huma.Error500InternalServerError("failed to load job")
		}
	}

	// Job ids are unguessable, but ownership is still enforced
	if job.UserID != userID {
		return nil, huma.Error404NotFound("job not found")
	}

	body, err := h.jobBody(ctx, job)
	if err != nil {
		return nil, err
	}
	return &GetJobOutput{Body: body}, nil
}

// ListJobsInput represents a job list request.
type ListJobsInput struct {
	Limit  int `query:"limit" default:"50" minimum:"1" maximum:"100" doc:"Maximum jobs to return"`
	Offset int `query:"offset" default:"0" minimum:"0" doc:"Number of jobs to skip"`
}

// ListJobsOutput represents a job list response.
type ListJobsOutput struct {
	Body struct {
		Jobs []JobResponseBody `json:"jobs"`
	}
}

// ListJobs returns the caller's jobs, newest first. List reads do not
// reconcile; each entry reflects the last recorded state.
func (h *JobHandler) ListJobs(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	jobs, err := h.submissionSvc.List(ctx, userID, input.Limit, input.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list jobs")
	}

	out := &ListJobsOutput{}
	out.Body.Jobs = make([]JobResponseBody, 0, len(jobs))
	for _, job := range jobs {
		body, err := h.jobBody(ctx, job)
		if err != nil {
			return nil, err
		}
		out.Body.Jobs = append(out.Body.Jobs, body)
	}
	return out, nil
}

func (h *JobHandler) jobBody(ctx context.Context, job *models.Job) (JobResponseBody, error) {
	body := JobResponseBody{
		JobID:          job.ID,
		Status:         string(job.Status),
		Model:          job.Model,
		Prompt:         job.Prompt,
		Kind:           string(job.Kind),
		AspectRatio:    job.AspectRatio,
		CreditsCharged: job.CreditsCharged,
		ErrorMessage:   job.ErrorMessage,
		CreatedAt:      job.CreatedAt,
		CompletedAt:    job.CompletedAt,
	}

	if job.Status == models.JobStatusCompleted && job.ResultKey != "" {
		url, err := h.storage.ResultURL(ctx, job.ResultKey)
		if err != nil {
			h.logger.Error("failed to presign result URL", "job_id", job.ID, "error", err)
			return body, huma.Error500InternalServerError("failed to generate result URL")
		}
		body.ResultURL = url
	}
	return body, nil
}
