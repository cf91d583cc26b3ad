// Package poller drives background reconciliation of in-flight jobs.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/image2ad/image2ad-api/internal/config"
	"github.com/image2ad/image2ad-api/internal/models"
	"github.com/image2ad/image2ad-api/internal/service"
)

// Reconciler advances one job toward its terminal state.
// *service.ReconcileService implements it.
type Reconciler interface {
	Reconcile(ctx context.Context, jobID string) (*models.Job, error)
}

// Orchestrator polls the provider for each in-flight job on a per-kind
// cadence until the job reaches a terminal state. A job is tracked at
// most once; submitting handlers and the sweeper can both call
// EnsurePolling without creating duplicate pollers.
type Orchestrator struct {
	cfg        *config.Config
	reconciler Reconciler
	logger     *slog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates a new polling orchestrator.
func NewOrchestrator(cfg *config.Config, reconciler Reconciler, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:        cfg,
		reconciler: reconciler,
		logger:     logger.With("component", "poller"),
		active:     make(map[string]context.CancelFunc),
	}
}

// Start prepares the orchestrator. Pollers started afterwards stop when
// ctx is canceled or Shutdown is called.
func (o *Orchestrator) Start(ctx context.Context) {
	o.root, o.cancel = context.WithCancel(ctx)
	o.logger.Info("starting")
}

// EnsurePolling begins polling the job unless it is already tracked.
// Returns true if a new poller was started. The poller carries a hard
// deadline a little past the job's reconcile ceiling, so a provider
// outage cannot leak goroutines.
func (o *Orchestrator) EnsurePolling(jobID string, kind models.MediaKind, createdAt time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.root == nil || o.root.Err() != nil {
		return false
	}
	if _, tracked := o.active[jobID]; tracked {
		return false
	}

	interval := o.cfg.PollInterval(string(kind))
	deadline := createdAt.Add(o.cfg.ReconcileTimeout(string(kind)) + 3*interval)

	ctx, cancel := context.WithDeadline(o.root, deadline)
	o.active[jobID] = cancel

	o.wg.Add(1)
	go o.poll(ctx, jobID, interval)
	return true
}

// Cancel stops the poller for one job, if tracked.
func (o *Orchestrator) Cancel(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cancel, ok := o.active[jobID]; ok {
		cancel()
	}
}

// Shutdown stops all pollers and waits for them to finish.
func (o *Orchestrator) Shutdown() {
	o.logger.Info("stopping")
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	o.logger.Info("stopped")
}

// Tracking reports whether a job currently has a poller. Used by tests
// and the sweeper's logging.
func (o *Orchestrator) Tracking(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[jobID]
	return ok
}

func (o *Orchestrator) poll(ctx context.Context, jobID string, interval time.Duration) {
	defer o.wg.Done()
	defer o.untrack(jobID)

	// First pass runs immediately against the root context rather than
	// the per-job deadline. A job adopted after its ceiling already
	// elapsed (sweeper re-adoption after a restart) must still be
	// reconciled once so its timeout transition commits; otherwise the
	// expired deadline would end the poller before the first tick.
	if done := o.reconcileOnce(o.root, jobID); done {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := o.reconcileOnce(ctx, jobID); done {
				return
			}
		}
	}
}

// reconcileOnce runs one reconciliation pass. Returns true when polling
// should stop.
func (o *Orchestrator) reconcileOnce(ctx context.Context, jobID string) bool {
	job, err := o.reconciler.Reconcile(ctx, jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			o.logger.Warn("polled job disappeared", "job_id", jobID)
			return true
		}
		var transferErr *service.ArtifactTransferError
		if errors.As(err, &transferErr) {
			// The provider finished but storage did not; retry on the
			// next tick
			o.logger.Warn("result transfer failed, will retry", "job_id", jobID, "error", err)
			return false
		}
		o.logger.Error("reconciliation failed", "job_id", jobID, "error", err)
		return false
	}

	if job.Status.IsTerminal() {
		o.logger.Info("job reached terminal state", "job_id", jobID, "status", job.Status)
		return true
	}
	return false
}

func (o *Orchestrator) untrack(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cancel, ok := o.active[jobID]; ok {
		cancel()
		delete(o.active, jobID)
	}
}
