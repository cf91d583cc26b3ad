package handlers

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/danielgtaylor/huma/v2"
	"github.com/oklog/ulid/v2"

	"github.com/image2ad/image2ad-api/internal/service"
)

// MediaHandler handles upload URLs and library metadata.
type MediaHandler struct {
	accountSvc *service.AccountService
	storageSvc *service.StorageService
}

// NewMediaHandler creates a new media handler.
func NewMediaHandler(accountSvc *service.AccountService, storageSvc *service.StorageService) *MediaHandler {
	return &MediaHandler{
		accountSvc: accountSvc,
		storageSvc: storageSvc,
	}
}

// CreateUploadInput represents an upload URL request.
type CreateUploadInput struct {
	Body struct {
		FileName    string `json:"file_name" minLength:"1" example:"product.jpg" doc:"Original file name; only the extension is kept"`
		ContentType string `json:"content_type" example:"image/jpeg" enum:"image/jpeg,image/png,image/webp"`
	}
}

// CreateUploadOutput represents an upload URL response.
type CreateUploadOutput struct {
	Body struct {
		Key       string `json:"key" doc:"Storage key to reference in generation requests"`
		UploadURL string `json:"upload_url" doc:"Presigned PUT URL, valid for a short window"`
	}
}

// CreateUpload issues a presigned PUT URL for one input image. The key
// is server-generated so callers cannot write outside their prefix.
func (h *MediaHandler) CreateUpload(ctx context.Context, input *CreateUploadInput) (*CreateUploadOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	key := fmt.Sprintf("%s/uploads/%s%s", userID, ulid.Make().String(), path.Ext(input.Body.FileName))
	url, err := h.storageSvc.UploadURL(ctx, key, input.Body.ContentType)
	if err != nil {
		if errors.Is(err, service.ErrStorageDisabled) {
			return nil, huma.Error503ServiceUnavailable("uploads are not available")
		}
		return nil, huma.Error500InternalServerError("failed to create upload URL")
	}

	out := &CreateUploadOutput{}
	out.Body.Key = key
	out.Body.UploadURL = url
	return out, nil
}

// RenameMediaInput represents a library rename request.
type RenameMediaInput struct {
	FileName string `path:"file_name" doc:"Stored result file name"`
	Body     struct {
		DisplayName string `json:"display_name" minLength:"1" maxLength:"120"`
	}
}

// RenameMediaOutput represents a library rename response.
type RenameMediaOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// RenameMedia updates the display name of a stored result.
func (h *MediaHandler) RenameMedia(ctx context.Context, input *RenameMediaInput) (*RenameMediaOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	if err := h.accountSvc.RenameMedia(ctx, userID, input.FileName, input.Body.DisplayName); err != nil {
		return nil, huma.Error500InternalServerError("failed to rename media")
	}

	out := &RenameMediaOutput{}
	out.Body.Status = "ok"
	return out, nil
}
