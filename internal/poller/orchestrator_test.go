package poller

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/image2ad/image2ad-api/internal/config"
	"github.com/image2ad/image2ad-api/internal/models"
	"github.com/image2ad/image2ad-api/internal/service"
)

// scriptedReconciler returns the queued statuses in order, repeating
// the last one once the script runs out.
type scriptedReconciler struct {
	mu       sync.Mutex
	statuses []models.JobStatus
	errs     []error
	calls    int
}

func (r *scriptedReconciler) Reconcile(_ context.Context, jobID string) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.calls
	r.calls++
	if i < len(r.errs) && r.errs[i] != nil {
		return &models.Job{ID: jobID, Status: models.JobStatusProcessing}, r.errs[i]
	}
	if i >= len(r.statuses) {
		i = len(r.statuses) - 1
	}
	return &models.Job{ID: jobID, Status: r.statuses[i]}, nil
}

func (r *scriptedReconciler) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func fastConfig() *config.Config {
	return &config.Config{
		TimeoutImage:      time.Minute,
		TimeoutVideo:      time.Minute,
		TimeoutMusic:      time.Minute,
		PollIntervalImage: 5 * time.Millisecond,
		PollIntervalVideo: 5 * time.Millisecond,
		PollIntervalMusic: 5 * time.Millisecond,
		SweepInterval:     10 * time.Millisecond,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestOrchestrator_PollsUntilTerminal(t *testing.T) {
	rec := &scriptedReconciler{statuses: []models.JobStatus{
		models.JobStatusProcessing,
		models.JobStatusProcessing,
		models.JobStatusCompleted,
	}}
	orch := NewOrchestrator(fastConfig(), rec, discardLogger())
	orch.Start(context.Background())
	defer orch.Shutdown()

	if !orch.EnsurePolling("job-1", models.MediaKindImage, time.Now()) {
		t.Fatal("EnsurePolling() = false, want true for a new job")
	}

	waitFor(t, time.Second, func() bool { return !orch.Tracking("job-1") })

	if calls := rec.callCount(); calls != 3 {
		t.Errorf("reconcile calls = %d, want 3 (stop at first terminal)", calls)
	}
}

func TestOrchestrator_DuplicateSuppression(t *testing.T) {
	rec := &scriptedReconciler{statuses: []models.JobStatus{models.JobStatusProcessing}}
	orch := NewOrchestrator(fastConfig(), rec, discardLogger())
	orch.Start(context.Background())
	defer orch.Shutdown()

	if !orch.EnsurePolling("job-1", models.MediaKindImage, time.Now()) {
		t.Fatal("first EnsurePolling() = false, want true")
	}
	if orch.EnsurePolling("job-1", models.MediaKindImage, time.Now()) {
		t.Error("second EnsurePolling() = true, want false for a tracked job")
	}
	orch.Cancel("job-1")
	waitFor(t, time.Second, func() bool { return !orch.Tracking("job-1") })
}

func TestOrchestrator_TransferErrorKeepsPolling(t *testing.T) {
	rec := &scriptedReconciler{
		statuses: []models.JobStatus{
			models.JobStatusProcessing,
			models.JobStatusProcessing,
			models.JobStatusCompleted,
		},
		errs: []error{
			nil,
			&service.ArtifactTransferError{JobID: "job-1"},
			nil,
		},
	}
	orch := NewOrchestrator(fastConfig(), rec, discardLogger())
	orch.Start(context.Background())
	defer orch.Shutdown()

	orch.EnsurePolling("job-1", models.MediaKindImage, time.Now())
	waitFor(t, time.Second, func() bool { return !orch.Tracking("job-1") })

	if calls := rec.callCount(); calls != 3 {
		t.Errorf("reconcile calls = %d, want 3 (transfer error retried)", calls)
	}
}

func TestOrchestrator_JobNotFoundStopsPolling(t *testing.T) {
	rec := &scriptedReconciler{
		statuses: []models.JobStatus{models.JobStatusProcessing},
		errs:     []error{service.ErrJobNotFound},
	}
	orch := NewOrchestrator(fastConfig(), rec, discardLogger())
	orch.Start(context.Background())
	defer orch.Shutdown()

	orch.EnsurePolling("job-1", models.MediaKindImage, time.Now())
	waitFor(t, time.Second, func() bool { return !orch.Tracking("job-1") })

	if calls := rec.callCount(); calls != 1 {
		t.Errorf("reconcile calls = %d, want 1", calls)
	}
}

func TestOrchestrator_DeadlineStopsLeakedPoller(t *testing.T) {
	rec := &scriptedReconciler{statuses: []models.JobStatus{models.JobStatusProcessing}}
	cfg := fastConfig()
	cfg.TimeoutImage = 10 * time.Millisecond

	orch := NewOrchestrator(cfg, rec, discardLogger())
	orch.Start(context.Background())
	defer orch.Shutdown()

	// Job created long before its ceiling; the poller's deadline is
	// already in the past
	orch.EnsurePolling("job-1", models.MediaKindImage, time.Now().Add(-time.Hour))
	waitFor(t, time.Second, func() bool { return !orch.Tracking("job-1") })
}

// A job adopted after its ceiling has already elapsed must still get a
// reconciliation pass; that pass is what commits the timeout
// transition. Without it the job would stay processing forever unless
// a client happened to read it.
func TestOrchestrator_ExpiredCeilingStillReconciles(t *testing.T) {
	rec := &scriptedReconciler{statuses: []models.JobStatus{models.JobStatusFailed}}
	cfg := fastConfig()
	cfg.TimeoutImage = 10 * time.Millisecond

	orch := NewOrchestrator(cfg, rec, discardLogger())
	orch.Start(context.Background())
	defer orch.Shutdown()

	if !orch.EnsurePolling("job-1", models.MediaKindImage, time.Now().Add(-time.Hour)) {
		t.Fatal("EnsurePolling() = false, want true")
	}
	waitFor(t, time.Second, func() bool { return !orch.Tracking("job-1") })

	if calls := rec.callCount(); calls != 1 {
		t.Errorf("reconcile calls = %d, want 1 (expired-deadline job still reconciled once)", calls)
	}
}

func TestOrchestrator_ShutdownStopsPollers(t *testing.T) {
	rec := &scriptedReconciler{statuses: []models.JobStatus{models.JobStatusProcessing}}
	orch := NewOrchestrator(fastConfig(), rec, discardLogger())
	orch.Start(context.Background())

	orch.EnsurePolling("job-1", models.MediaKindImage, time.Now())
	orch.EnsurePolling("job-2", models.MediaKindVideo, time.Now())
	orch.Shutdown()

	if orch.EnsurePolling("job-3", models.MediaKindImage, time.Now()) {
		t.Error("EnsurePolling() after Shutdown = true, want false")
	}
}
