package kie

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "test-key", 2, time.Millisecond, nil)
}

func TestClient_CreateTask(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{"taskId": "task-123"},
		})
	}))

	handle, err := client.CreateTask(context.Background(), "veo-3", TaskParams{
		Prompt:      "a red bicycle",
		AspectRatio: "16:9",
	})
	if err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}
	if handle != "task-123" {
		t.Errorf("handle = %q, want task-123", handle)
	}
	if gotPath != "/api/v1/veo/generate" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["model"] != "veo-3" || gotBody["prompt"] != "a red bicycle" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestClient_CreateTask_ErrorEnvelope(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 422,
			"msg":  "prompt rejected",
		})
	}))

	_, err := client.CreateTask(context.Background(), "veo-3", TaskParams{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error for non-200 envelope code")
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{"taskId": "task-after-retry"},
		})
	}))

	handle, err := client.CreateTask(context.Background(), "veo-3", TaskParams{Prompt: "x"})
	if err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}
	if handle != "task-after-retry" {
		t.Errorf("handle = %q", handle)
	}
	if calls.Load() != 3 {
		t.Errorf("provider called %d times, want 3", calls.Load())
	}
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.CreateTask(context.Background(), "veo-3", TaskParams{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error for 401")
	}
	if calls.Load() != 1 {
		t.Errorf("provider called %d times, want 1 (no retry on 4xx)", calls.Load())
	}
}

func TestClient_GetTaskStatus(t *testing.T) {
	t.Run("image success with resultJson", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("taskId") != "task-1" {
				t.Errorf("taskId = %q", r.URL.Query().Get("taskId"))
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code": 200,
				"data": map[string]any{
					"taskId":     "task-1",
					"state":      "success",
					"resultJson": `{"resultUrls":["https://x/y.png"]}`,
				},
			})
		}))

		status, err := client.GetTaskStatus(context.Background(), "flux-kontext-pro", "task-1")
		if err != nil {
			t.Fatalf("GetTaskStatus() error: %v", err)
		}
		if status.State != StateSucceeded {
			t.Errorf("State = %q, want succeeded", status.State)
		}
		if len(status.ResultURLs) != 1 || status.ResultURLs[0] != "https://x/y.png" {
			t.Errorf("ResultURLs = %v", status.ResultURLs)
		}
	})

	t.Run("failure carries message", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code": 200,
				"data": map[string]any{
					"taskId":  "task-2",
					"state":   "failed",
					"failMsg": "policy violation",
				},
			})
		}))

		status, err := client.GetTaskStatus(context.Background(), "flux-kontext-pro", "task-2")
		if err != nil {
			t.Fatalf("GetTaskStatus() error: %v", err)
		}
		if status.State != StateFailed {
			t.Errorf("State = %q, want failed", status.State)
		}
		if status.FailureMessage != "policy violation" {
			t.Errorf("FailureMessage = %q", status.FailureMessage)
		}
	})

	t.Run("audio vocabulary", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code": 200,
				"data": map[string]any{
					"taskId": "task-3",
					"status": "SUCCESS",
					"response": map[string]any{
						"sunoData": []map[string]any{{"audioUrl": "https://x/a.mp3"}},
					},
				},
			})
		}))

		status, err := client.GetTaskStatus(context.Background(), "suno-v4", "task-3")
		if err != nil {
			t.Fatalf("GetTaskStatus() error: %v", err)
		}
		if status.State != StateSucceeded {
			t.Errorf("State = %q, want succeeded", status.State)
		}
		if len(status.ResultURLs) != 1 {
			t.Errorf("ResultURLs = %v", status.ResultURLs)
		}
	})

	t.Run("success without urls stays processing", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code": 200,
				"data": map[string]any{"taskId": "task-4", "state": "success"},
			})
		}))

		status, err := client.GetTaskStatus(context.Background(), "flux-kontext-pro", "task-4")
		if err != nil {
			t.Fatalf("GetTaskStatus() error: %v", err)
		}
		if status.State != StateProcessing {
			t.Errorf("State = %q, want processing when no result URLs", status.State)
		}
	})
}
