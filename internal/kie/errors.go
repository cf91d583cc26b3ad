package kie

import "fmt"

// RequestError is returned when the provider answers with a non-2xx
// status. The task must be assumed not created unless a handle was
// returned.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("provider request failed (status %d): %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed on retry.
// Only server-side errors qualify; 4xx responses are permanent.
func (e *RequestError) Retryable() bool {
	return e.StatusCode >= 500
}
