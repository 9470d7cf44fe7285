// Package batch runs the pipeline for every seed of a batch, either
// sequentially or on a bounded pool of workers, and collects one outcome
// per seed.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nvandessel/rmpgen/internal/constants"
	"github.com/nvandessel/rmpgen/internal/logging"
	"github.com/nvandessel/rmpgen/internal/models"
	"github.com/nvandessel/rmpgen/internal/pipeline"
	"github.com/nvandessel/rmpgen/internal/runctx"
)

// Recorder observes a batch as it progresses. Implementations must be safe
// for concurrent use; RunFinished is called from worker goroutines. Errors
// are logged and never affect the runs. The context passed to a Recorder is
// never cancelled, so an interrupted batch is still recorded in full.
type Recorder interface {
	BatchStarted(ctx context.Context, info Info) error
	RunFinished(ctx context.Context, batchID string, outcome models.RunOutcome) error
	BatchFinished(ctx context.Context, report *Report) error
}

// Scheduler dispatches one pipeline run per seed.
type Scheduler struct {
	Runner *pipeline.Runner
	Plan   pipeline.Plan

	// Parallelism is the requested worker count. Values <= 1 run every
	// seed sequentially on the calling goroutine.
	Parallelism int

	// Timeout bounds how long a parallel batch waits for its workers.
	// Zero means constants.DefaultBatchTimeout.
	Timeout time.Duration

	// InterruptOnTimeout cancels outstanding runs when the timeout fires.
	// Otherwise they are left running and reported as pending.
	InterruptOnTimeout bool

	Logger   *slog.Logger
	Recorder Recorder
}

// Workers returns the number of workers a batch of n seeds will use.
func (s *Scheduler) Workers(n int) int {
	if s.Parallelism <= 1 || n <= 1 {
		return 1
	}
	return min(s.Parallelism, n)
}

func (s *Scheduler) timeout() time.Duration {
	if s.Timeout <= 0 {
		return constants.DefaultBatchTimeout
	}
	return s.Timeout
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger == nil {
		return logging.Discard()
	}
	return s.Logger.With("component", "batch")
}

// Run executes the batch. Every seed gets exactly one outcome in the
// returned report, in the order the seeds were given. Per-run failures are
// reported in the outcomes; only configuration problems return an error.
func (s *Scheduler) Run(ctx context.Context, seeds []int64, shared runctx.Shared) (*Report, error) {
	if len(seeds) == 0 {
		return nil, models.NewConfigurationError("seeds", "no seeds to run")
	}
	if s.Runner == nil {
		return nil, models.NewConfigurationError("stages", "no pipeline runner configured")
	}

	logger := s.logger()
	workers := s.Workers(len(seeds))
	report := &Report{
		BatchID:   uuid.NewString(),
		Enabled:   s.Plan.Enabled,
		Workers:   workers,
		StartedAt: time.Now(),
		Outcomes:  make([]models.RunOutcome, len(seeds)),
	}
	for i, seed := range seeds {
		report.Outcomes[i] = models.RunOutcome{Index: i, Seed: seed, Status: models.RunStatusPending}
	}

	info := Info{
		ID:        report.BatchID,
		BaseDir:   shared.BaseDir,
		Seeds:     append([]int64(nil), seeds...),
		Enabled:   s.Plan.Enabled,
		Workers:   workers,
		Timeout:   s.timeout(),
		StartedAt: report.StartedAt,
	}
	if s.Recorder != nil {
		if err := s.Recorder.BatchStarted(context.WithoutCancel(ctx), info); err != nil {
			logger.Warn("recording batch start failed", "batch", report.BatchID, "error", err)
		}
	}

	logger.Info("batch starting", "batch", report.BatchID, "runs", len(seeds), "workers", workers,
		"stages", s.Plan.Enabled.String())

	if workers == 1 {
		s.runSequential(ctx, seeds, shared, report)
	} else {
		s.runParallel(ctx, seeds, shared, report, workers)
	}

	report.FinishedAt = time.Now()
	counts := report.Counts()
	logger.Info("batch finished", "batch", report.BatchID, "completed", counts.Completed,
		"failed", counts.Failed, "pending", counts.Pending, "elapsed", report.FinishedAt.Sub(report.StartedAt))

	if s.Recorder != nil {
		if err := s.Recorder.BatchFinished(context.WithoutCancel(ctx), report); err != nil {
			logger.Warn("recording batch finish failed", "batch", report.BatchID, "error", err)
		}
	}
	return report, nil
}

func (s *Scheduler) execute(ctx context.Context, index int, seed int64, shared runctx.Shared) models.RunOutcome {
	rc := runctx.New(shared, index, seed, s.Plan.Needs...)
	return s.Runner.Execute(ctx, seed, rc, s.Plan.Enabled)
}

func (s *Scheduler) record(ctx context.Context, batchID string, o models.RunOutcome) {
	if s.Recorder == nil {
		return
	}
	if err := s.Recorder.RunFinished(context.WithoutCancel(ctx), batchID, o); err != nil {
		s.logger().Warn("recording run failed", "batch", batchID, "seed", o.Seed, "error", err)
	}
}

func (s *Scheduler) runSequential(ctx context.Context, seeds []int64, shared runctx.Shared, report *Report) {
	for i, seed := range seeds {
		o := s.execute(ctx, i, seed, shared)
		report.Outcomes[i] = o
		s.record(ctx, report.BatchID, o)
	}
}

// runParallel feeds seed indices, in order, to a fixed pool of workers and
// waits for them up to the timeout. Outcomes are written under mu so the
// timeout path can take a consistent snapshot while workers are still busy.
func (s *Scheduler) runParallel(ctx context.Context, seeds []int64, shared runctx.Shared, report *Report, workers int) {
	runCtx, cancelRuns := context.WithCancel(ctx)

	jobs := make(chan int, len(seeds))
	for i := range seeds {
		jobs <- i
	}
	close(jobs)

	var (
		mu        sync.Mutex
		abandoned bool
		wg        sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				o := s.execute(runCtx, i, seeds[i], shared)

				mu.Lock()
				late := abandoned
				if !late {
					report.Outcomes[i] = o
				}
				mu.Unlock()

				if late {
					s.logger().Warn("run finished after batch timeout", "batch", report.BatchID,
						"seed", o.Seed, "status", string(o.Status))
					continue
				}
				s.record(ctx, report.BatchID, o)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.timeout())
	defer timer.Stop()

	select {
	case <-done:
		cancelRuns()
		return
	case <-timer.C:
	}

	mu.Lock()
	abandoned = true
	var pending []int64
	for _, o := range report.Outcomes {
		if o.Status == models.RunStatusPending {
			pending = append(pending, o.Seed)
		}
	}
	mu.Unlock()

	report.Warning = &models.TimeoutWarning{Ceiling: s.timeout(), Pending: pending}
	s.logger().Warn("Thread time-out!", "batch", report.BatchID, "ceiling", s.timeout(),
		"pending", len(pending), "seeds", pending)

	// Outstanding runs keep going unless interrupted; callers may Wait for
	// them either way.
	report.inFlight = done
	if s.InterruptOnTimeout {
		cancelRuns()
		return
	}
	go func() {
		<-done
		cancelRuns()
	}()
}
