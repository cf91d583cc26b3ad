// Package models contains the data structures used throughout the application.
package models

import "time"

// MediaKind is the kind of media a job produces.
type MediaKind string

// Media kinds.
const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
	MediaKindMusic MediaKind = "music"
)

// Valid reports whether the kind is one of the supported media kinds.
func (k MediaKind) Valid() bool {
	switch k {
	case MediaKindImage, MediaKindVideo, MediaKindMusic:
		return true
	}
	return false
}

// JobStatus represents the lifecycle state of a generation job.
type JobStatus string

// Job statuses. A job is created pending, moves to processing once the
// provider accepts the task, and ends in exactly one terminal state.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status permits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job represents one user-submitted generation request and its lifecycle.
type Job struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Model          string     `json:"model"`
	Prompt         string     `json:"prompt"`
	InputImageKeys []string   `json:"input_image_keys,omitempty"`
	Kind           MediaKind  `json:"kind"`
	AspectRatio    string     `json:"aspect_ratio,omitempty"`
	Status         JobStatus  `json:"status"`
	TaskHandle     string     `json:"task_handle,omitempty"` // Provider task id, set at most once
	ResultKey      string     `json:"result_key,omitempty"`  // Storage key of the committed result
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreditsCharged int64      `json:"credits_charged"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Direction encodes whether the job transforms input images or works
// from text alone, e.g. "image-to-video" or "text-to-image". It is the
// middle segment of the result storage key.
func (j *Job) Direction() string {
	if len(j.InputImageKeys) > 0 {
		return "image-to-" + string(j.Kind)
	}
	return "text-to-" + string(j.Kind)
}

// MediaMetadata maps a stored result filename to its display name so a
// later rename has a stable target.
type MediaMetadata struct {
	UserID      string    `json:"user_id"`
	FileName    string    `json:"file_name"`
	DisplayName string    `json:"display_name"`
	Kind        MediaKind `json:"kind"`
	JobID       string    `json:"job_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
