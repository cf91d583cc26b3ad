package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/image2ad/image2ad-api/internal/config"
	"github.com/image2ad/image2ad-api/internal/models"
	"github.com/image2ad/image2ad-api/internal/repository"
)

// stalePendingAge is how long a job may sit pending before it is
// written off as orphaned by a crash between debit and task creation.
const stalePendingAge = 15 * time.Minute

// sweepBatchSize caps how many processing jobs one sweep re-adopts.
const sweepBatchSize = 100

// Sweeper periodically re-adopts processing jobs that have no poller,
// which happens after a restart, and fails pending jobs abandoned
// before task creation. It makes the orchestrator's tracking
// crash-safe without any poller state in the database.
type Sweeper struct {
	cfg     *config.Config
	jobRepo repository.JobRepository
	orch    *Orchestrator
	logger  *slog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewSweeper creates a new sweeper.
func NewSweeper(cfg *config.Config, jobRepo repository.JobRepository, orch *Orchestrator, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cfg:     cfg,
		jobRepo: jobRepo,
		orch:    orch,
		logger:  logger.With("component", "sweeper"),
		stop:    make(chan struct{}),
	}
}

// Start runs one immediate sweep and then sweeps on the configured
// interval until Stop or ctx cancellation.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("starting", "interval", s.cfg.SweepInterval.String())
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop gracefully stops the sweeper.
func (s *Sweeper) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.logger.Info("stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	s.sweep(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep fails abandoned pending jobs and ensures every processing job
// has a poller.
func (s *Sweeper) sweep(ctx context.Context) {
	failed, err := s.jobRepo.MarkStalePendingFailed(ctx, stalePendingAge)
	if err != nil {
		s.logger.Error("failed to clean up stale pending jobs", "error", err)
	} else if failed > 0 {
		s.logger.Info("failed abandoned pending jobs", "count", failed)
	}

	jobs, err := s.jobRepo.GetByStatus(ctx, models.JobStatusProcessing, sweepBatchSize)
	if err != nil {
		s.logger.Error("failed to list processing jobs", "error", err)
		return
	}

	adopted := 0
	for _, job := range jobs {
		if s.orch.EnsurePolling(job.ID, job.Kind, job.CreatedAt) {
			adopted++
		}
	}
	if adopted > 0 {
		s.logger.Info("adopted untracked processing jobs", "count", adopted)
	}
}
