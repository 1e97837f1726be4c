package recon

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Job is one reconciliation pass. Jobs must be safe to run concurrently with
// live webhook traffic; ledger idempotency absorbs the overlap.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler drives the registered jobs on a fixed interval until the context
// is cancelled. A failing job never stops the loop or its siblings.
type Scheduler struct {
	interval time.Duration
	jobs     []Job
	nowFn    func() int64
	logger   *zap.Logger
	metrics  *Metrics
}

// NewScheduler wires a Scheduler.
func NewScheduler(interval time.Duration, jobs []Job, now func() int64, logger *zap.Logger, metrics *Metrics) *Scheduler {
	return &Scheduler{
		interval: interval,
		jobs:     jobs,
		nowFn:    now,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run executes one immediate pass and then ticks until cancellation.
func (scheduler *Scheduler) Run(ctx context.Context) {
	scheduler.RunOnce(ctx)
	ticker := time.NewTicker(scheduler.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scheduler.RunOnce(ctx)
		}
	}
}

// RunOnce runs every registered job a single time.
func (scheduler *Scheduler) RunOnce(ctx context.Context) {
	for _, job := range scheduler.jobs {
		if ctx.Err() != nil {
			return
		}
		startedAt := scheduler.nowFn()
		runErr := job.Run(ctx)
		scheduler.metrics.recordRun(job.Name(), startedAt, runErr)
		if runErr != nil {
			scheduler.logger.Warn("reconciliation job failed",
				zap.String("job", job.Name()),
				zap.Error(runErr),
			)
			continue
		}
		scheduler.logger.Debug("reconciliation job completed", zap.String("job", job.Name()))
	}
}
