// Package pipeline executes the enabled stages of one run in their fixed
// order against that run's context.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/nvandessel/rmpgen/internal/logging"
	"github.com/nvandessel/rmpgen/internal/models"
	"github.com/nvandessel/rmpgen/internal/runctx"
	"github.com/nvandessel/rmpgen/internal/stage"
)

// Plan is the checked execution plan for a batch.
type Plan struct {
	// Enabled are the stages every run executes.
	Enabled models.StageSet
	// Needs lists the optional context slots each RunContext must allocate.
	Needs []runctx.Slot
}

// Runner executes the pipeline for one seed at a time. A Runner holds no
// per-run state and is safe for concurrent use by batch workers.
type Runner struct {
	registry *stage.Registry
	logger   *slog.Logger
	events   *logging.EventLogger
	now      func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithEventLogger records stage lifecycle events to el.
func WithEventLogger(el *logging.EventLogger) Option {
	return func(r *Runner) { r.events = el }
}

// WithClock overrides the time source used for outcome timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a Runner over the given executors.
func New(registry *stage.Registry, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Runner{
		registry: registry,
		logger:   logger.With("component", "pipeline"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Plan checks that every enabled stage has an executor and that each
// stage's required slots are satisfiable by the initial slots plus what
// earlier enabled stages provide. Optional slots are collected into
// Plan.Needs instead of being reported as missing.
func (r *Runner) Plan(enabled models.StageSet, initial []runctx.Slot) (Plan, error) {
	if err := r.registry.Covers(enabled); err != nil {
		return Plan{}, err
	}

	available := make(map[runctx.Slot]bool, len(initial))
	for _, s := range initial {
		available[s] = true
	}
	plan := Plan{Enabled: enabled}

	for _, st := range enabled.Ordered() {
		exec, _ := r.registry.Lookup(st)
		for _, req := range exec.Requires() {
			switch {
			case available[req]:
			case runctx.IsOptional(req):
				plan.Needs = append(plan.Needs, req)
				available[req] = true
			default:
				return Plan{}, models.NewConfigurationError("stages",
					fmt.Sprintf("stage %s requires %s, which is neither initial nor provided by an earlier enabled stage", st, req))
			}
		}
		for _, p := range exec.Provides() {
			if runctx.IsOptional(p) && !available[p] {
				plan.Needs = append(plan.Needs, p)
			}
			available[p] = true
		}
		// Artifact slots are filled at run time; a later stage may require
		// them and the run fails if the stage reported nothing.
		available[runctx.ArtifactSlot(st)] = true
	}
	return plan, nil
}

// Execute runs the enabled stages for one seed. It never returns an error:
// a failing stage ends the run and is reported in the outcome. Artifacts a
// failed stage left behind are not cleaned up.
func (r *Runner) Execute(ctx context.Context, seed int64, rc *runctx.RunContext, enabled models.StageSet) models.RunOutcome {
	outcome := models.RunOutcome{
		Index:     rc.Index,
		Seed:      seed,
		StartedAt: r.now(),
	}

	for _, st := range enabled.Ordered() {
		if err := r.runStage(ctx, st, seed, rc); err != nil {
			outcome.Status = models.RunStatusFailed
			outcome.Err = &models.StageExecutionError{Stage: st, Seed: seed, Err: err}
			outcome.FinishedAt = r.now()
			r.logger.Error("run failed", "run", rc.Index, "seed", seed, "stage", st.String(), "error", err)
			r.events.Log(map[string]any{
				"event": "run_failed",
				"run":   rc.Index,
				"seed":  seed,
				"stage": st.String(),
				"error": err.Error(),
			})
			return outcome
		}
		outcome.StagesRun = append(outcome.StagesRun, st)
	}

	outcome.Status = models.RunStatusCompleted
	outcome.FinishedAt = r.now()
	r.logger.Debug("run completed", "run", rc.Index, "seed", seed, "stages", enabled.String(),
		"duration", outcome.Duration())
	r.events.Log(map[string]any{
		"event":    "run_completed",
		"run":      rc.Index,
		"seed":     seed,
		"stages":   enabled.String(),
		"duration": outcome.Duration().String(),
	})
	return outcome
}

func (r *Runner) runStage(ctx context.Context, st models.Stage, seed int64, rc *runctx.RunContext) (err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("not started: %w", ctxErr)
	}
	exec, ok := r.registry.Lookup(st)
	if !ok {
		return models.NewConfigurationError("stages", fmt.Sprintf("no executor for stage %s", st))
	}
	if err := rc.Require(exec.Requires()...); err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Log(ctx, logging.LevelTrace, "stage panic stack", "stage", st.String(), "seed", seed,
				"stack", string(debug.Stack()))
			if pe, isErr := p.(error); isErr {
				err = fmt.Errorf("panic: %w", pe)
			} else {
				err = fmt.Errorf("panic: %v", p)
			}
		}
	}()

	r.logger.Debug("stage starting", "run", rc.Index, "seed", seed, "stage", st.String())
	r.events.Log(map[string]any{"event": "stage_started", "run": rc.Index, "seed": seed, "stage": st.String()})

	if err := exec.Execute(ctx, seed, rc); err != nil {
		return err
	}
	if missing := rc.Require(exec.Provides()...); missing != nil {
		return fmt.Errorf("stage did not populate its declared outputs: %w", missing)
	}
	return nil
}

// IsInterrupted reports whether a run outcome was cut short by cancellation.
func IsInterrupted(o models.RunOutcome) bool {
	return errors.Is(o.Err, context.Canceled) || errors.Is(o.Err, context.DeadlineExceeded)
}
