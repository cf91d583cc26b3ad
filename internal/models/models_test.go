package models

import "testing"

func TestMediaKindValid(t *testing.T) {
	tests := []struct {
		kind     MediaKind
		expected bool
	}{
		{MediaKindImage, true},
		{MediaKindVideo, true},
		{MediaKindMusic, true},
		{MediaKind("audio"), false},
		{MediaKind(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Valid(); got != tt.expected {
				t.Errorf("Valid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobStatusPending, false},
		{JobStatusProcessing, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestJobDirection(t *testing.T) {
	t.Run("text to image", func(t *testing.T) {
		job := &Job{Kind: MediaKindImage}
		if got := job.Direction(); got != "text-to-image" {
			t.Errorf("Direction() = %q, want %q", got, "text-to-image")
		}
	})

	t.Run("image to video", func(t *testing.T) {
		job := &Job{Kind: MediaKindVideo, InputImageKeys: []string{"user/upload.png"}}
		if got := job.Direction(); got != "image-to-video" {
			t.Errorf("Direction() = %q, want %q", got, "image-to-video")
		}
	})
}
