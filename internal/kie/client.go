// Package kie wraps the Kie.ai asynchronous task API. Tasks are
// created per model family, run remotely, and are observed through a
// status endpoint until they reach a terminal state.
package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultTimeout for provider HTTP requests. Task creation and
	// status checks are quick; the generation itself runs server-side.
	DefaultTimeout = 30 * time.Second
)

// Client provides access to the Kie.ai task API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewClient creates a new Kie.ai client.
func NewClient(baseURL, apiKey string, maxRetries int, retryDelay time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// createTaskResponse is the provider's envelope for task creation.
type createTaskResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
}

// CreateTask submits a generation task and returns the provider task
// handle. The caller must not assume the task exists if an error is
// returned.
func (c *Client) CreateTask(ctx context.Context, model string, params TaskParams) (string, error) {
	family := familyFor(model)
	payload := family.Build(model, params)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode task payload: %w", err)
	}

	respBody, err := c.doWithRetry(ctx, http.MethodPost, family.CreatePath, body)
	if err != nil {
		return "", err
	}

	var result createTaskResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse create task response: %w", err)
	}
	// The provider wraps application errors in a 200 envelope
	if result.Code != 200 && result.Code != 0 {
		return "", &RequestError{StatusCode: result.Code, Body: result.Msg}
	}
	if result.Data.TaskID == "" {
		return "", fmt.Errorf("provider returned no task id")
	}

	c.logger.Debug("provider task created", "model", model, "task_handle", result.Data.TaskID)
	return result.Data.TaskID, nil
}

// taskStatusResponse covers both provider status envelopes. Image and
// video families report `state` with results in a resultJson blob;
// audio families report `status` with results under response.sunoData.
type taskStatusResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID       string          `json:"taskId"`
		State        string          `json:"state"`
		Status       string          `json:"status"`
		FailMsg      string          `json:"failMsg"`
		ErrorMessage string          `json:"errorMessage"`
		ResultJSON   string          `json:"resultJson"`
		Response     json.RawMessage `json:"response"`
	} `json:"data"`
}

// GetTaskStatus fetches and normalizes the state of a provider task.
func (c *Client) GetTaskStatus(ctx context.Context, model, handle string) (*TaskStatus, error) {
	family := familyFor(model)
	path := family.StatusPath + "?taskId=" + url.QueryEscape(handle)

	respBody, err := c.doWithRetry(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var result taskStatusResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse task status response: %w", err)
	}
	if result.Code != 200 && result.Code != 0 {
		return nil, &RequestError{StatusCode: result.Code, Body: result.Msg}
	}

	status := &TaskStatus{}
	if family.Audio {
		status.State = normalizeStatus(result.Data.Status)
	} else {
		status.State = normalizeState(result.Data.State)
	}

	switch status.State {
	case StateSucceeded:
		status.ResultURLs = extractResultURLs(result.Data.ResultJSON, result.Data.Response)
		if len(status.ResultURLs) == 0 {
			// Succeeded without URLs means the result blob shape changed;
			// treat as still processing rather than completing empty
			status.State = StateProcessing
		}
	case StateFailed:
		status.FailureMessage = result.Data.FailMsg
		if status.FailureMessage == "" {
			status.FailureMessage = result.Data.ErrorMessage
		}
		if status.FailureMessage == "" {
			status.FailureMessage = "generation failed"
		}
	}

	return status, nil
}

// extractResultURLs digs the result URLs out of the provider-specific
// nested blobs.
func extractResultURLs(resultJSON string, response json.RawMessage) []string {
	// Image/video families: resultJson is a JSON string holding resultUrls
	if resultJSON != "" {
		var blob struct {
			ResultURLs []string `json:"resultUrls"`
		}
		if err := json.Unmarshal([]byte(resultJSON), &blob); err == nil && len(blob.ResultURLs) > 0 {
			return blob.ResultURLs
		}
	}

	if len(response) == 0 {
		return nil
	}

	// Generic jobs API: response.resultUrls
	var generic struct {
		ResultURLs []string `json:"resultUrls"`
	}
	if err := json.Unmarshal(response, &generic); err == nil && len(generic.ResultURLs) > 0 {
		return generic.ResultURLs
	}

	// Audio: response.sunoData[].audioUrl
	var audio struct {
		SunoData []struct {
			AudioURL       string `json:"audioUrl"`
			StreamAudioURL string `json:"streamAudioUrl"`
		} `json:"sunoData"`
	}
	if err := json.Unmarshal(response, &audio); err == nil {
		var urls []string
		for _, track := range audio.SunoData {
			if track.AudioURL != "" {
				urls = append(urls, track.AudioURL)
			} else if track.StreamAudioURL != "" {
				urls = append(urls, track.StreamAudioURL)
			}
		}
		return urls
	}

	return nil
}

// doWithRetry performs a request, retrying transient failures with
// exponential backoff. 4xx responses fail immediately.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		respBody, err := c.do(ctx, method, path, body)
		if err == nil {
			return respBody, nil
		}
		lastErr = err

		var reqErr *RequestError
		if errors.As(err, &reqErr) && !reqErr.Retryable() {
			return nil, err
		}

		c.logger.Warn("provider request failed, retrying",
			"method", method, "path", path, "attempt", attempt+1, "error", err)
	}

	return nil, fmt.Errorf("provider request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RequestError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}
