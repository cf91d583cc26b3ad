package service

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors surfaced to handlers.
var (
	// ErrInsufficientCredits is returned when a debit would overdraw
	// the account. No job is created and no provider call is made.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrInputNotFound is returned when a referenced upload is missing.
	ErrInputNotFound = errors.New("input image not found")

	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrDuplicatePayment is returned when a Stripe payment id was
	// already credited.
	ErrDuplicatePayment = errors.New("payment already processed")

	// ErrStorageDisabled is returned when object storage is not configured.
	ErrStorageDisabled = errors.New("storage is not enabled")
)

// ArtifactTransferError wraps a failure to move the finished media from
// the provider into durable storage. The provider task succeeded, so
// the job stays processing and the transfer is retried on the next
// reconciliation pass.
type ArtifactTransferError struct {
	JobID string
	Err   error
}

func (e *ArtifactTransferError) Error() string {
	return fmt.Sprintf("artifact transfer failed for job %s: %v", e.JobID, e.Err)
}

func (e *ArtifactTransferError) Unwrap() error {
	return e.Err
}

// isDuplicateKeyError checks if an error is a SQLite UNIQUE constraint violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
