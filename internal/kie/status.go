package kie

import "strings"

// State is the normalized classification of a provider task.
type State string

// Normalized task states. The provider's two status vocabularies both
// collapse into this tri-state.
const (
	StateProcessing State = "processing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// TaskStatus is the normalized view of a provider task.
type TaskStatus struct {
	State          State
	ResultURLs     []string
	FailureMessage string
}

// normalizeState maps the image/video `state` vocabulary. Unknown
// values classify as processing so a new provider state never
// terminates a job spuriously.
func normalizeState(raw string) State {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "success", "done":
		return StateSucceeded
	case "failed", "error":
		return StateFailed
	case "waiting", "processing", "generating", "queueing", "queuing":
		return StateProcessing
	default:
		return StateProcessing
	}
}

// normalizeStatus maps the audio `status` vocabulary.
func normalizeStatus(raw string) State {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUCCESS", "FIRST_SUCCESS":
		return StateSucceeded
	case "FAILED", "CREATE_TASK_FAILED", "GENERATE_AUDIO_FAILED", "SENSITIVE_WORD_ERROR", "CALLBACK_EXCEPTION":
		return StateFailed
	case "WAITING", "PENDING", "TEXT_SUCCESS":
		return StateProcessing
	default:
		return StateProcessing
	}
}
