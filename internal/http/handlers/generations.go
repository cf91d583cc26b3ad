package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/image2ad/image2ad-api/internal/config"
	"github.com/image2ad/image2ad-api/internal/models"
	"github.com/image2ad/image2ad-api/internal/service"
)

// Poller starts background polling for a submitted job.
// *poller.Orchestrator implements it.
type Poller interface {
	EnsurePolling(jobID string, kind models.MediaKind, createdAt time.Time) bool
}

// GenerationHandler handles generation submission endpoints.
type GenerationHandler struct {
	cfg           *config.Config
	submissionSvc *service.SubmissionService
	poller        Poller
}

// NewGenerationHandler creates a new generation handler.
func NewGenerationHandler(cfg *config.Config, submissionSvc *service.SubmissionService, poller Poller) *GenerationHandler {
	return &GenerationHandler{
		cfg:           cfg,
		submissionSvc: submissionSvc,
		poller:        poller,
	}
}

// CreateGenerationInput represents a generation request.
//
// The request is accepted as soon as the provider task is created;
// completion is observed by polling GET /api/v1/jobs/{id}.
type CreateGenerationInput struct {
	Body struct {
		Model          string   `json:"model" minLength:"1" example:"flux-kontext-pro" doc:"Generation model identifier"`
		Prompt         string   `json:"prompt" minLength:"1" maxLength:"4000" doc:"Text prompt describing the desired output"`
		InputImageKeys []string `json:"input_image_keys,omitempty" maxItems:"8" doc:"Storage keys of previously uploaded input images"`
		Kind           string   `json:"kind" enum:"image,video,music" doc:"Result media kind"`
		AspectRatio    string   `json:"aspect_ratio,omitempty" example:"16:9" doc:"Requested aspect ratio, model permitting"`
	}
}

// GenerationResponseBody is the response body for a submitted generation.
type GenerationResponseBody struct {
	JobID          string `json:"job_id" example:"01HXYZ123ABC456DEF789" doc:"Unique job identifier (ULID)"`
	Status         string `json:"status" example:"processing" doc:"Job status: pending, processing, completed, failed"`
	CreditsCharged int64  `json:"credits_charged" example:"1" doc:"Credits debited for this generation"`
	StatusURL      string `json:"status_url,omitempty" doc:"URL to poll for job status"`
}

// CreateGenerationOutput represents the generation submission response.
type CreateGenerationOutput struct {
	Status int
	Body   GenerationResponseBody
}

// CreateGeneration submits a new generation job.
func (h *GenerationHandler) CreateGeneration(ctx context.Context, input *CreateGenerationInput) (*CreateGenerationOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	job, err := h.submissionSvc.Submit(ctx, service.SubmitRequest{
		UserID:         userID,
		Model:          input.Body.Model,
		Prompt:         input.Body.Prompt,
		InputImageKeys: input.Body.InputImageKeys,
		Kind:           models.MediaKind(input.Body.Kind),
		AspectRatio:    input.Body.AspectRatio,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientCredits):
			return nil, huma.NewError(http.StatusPaymentRequired, "insufficient credits")
		case errors.Is(err, service.ErrInputNotFound):
			return nil, huma.Error404NotFound(err.Error())
		case errors.Is(err, service.ErrStorageDisabled):
			return nil, huma.Error503ServiceUnavailable("uploads are not available")
		default:
			return nil, huma.Error502BadGateway("generation could not be started: " + err.Error())
		}
	}

	if h.poller != nil {
		h.poller.EnsurePolling(job.ID, job.Kind, job.CreatedAt)
	}

	return &CreateGenerationOutput{
		Status: http.StatusCreated,
		Body: GenerationResponseBody{
			JobID:          job.ID,
			Status:         string(job.Status),
			CreditsCharged: job.CreditsCharged,
			StatusURL:      h.cfg.BaseURL + "/api/v1/jobs/" + job.ID,
		},
	}, nil
}
