package models

import (
	"errors"
	"time"
)

// RunStatus is the terminal (or, after a timeout, last observed) state of a run.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	// RunStatusPending marks a run still outstanding when the batch timed out.
	RunStatusPending RunStatus = "PENDING"
)

// RunOutcome is the typed result of executing the pipeline for one seed.
type RunOutcome struct {
	Index      int       `json:"index"`
	Seed       int64     `json:"seed"`
	Status     RunStatus `json:"status"`
	StagesRun  []Stage   `json:"stages_run,omitempty"`
	Err        error     `json:"-"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Completed reports whether the run finished without error.
func (o RunOutcome) Completed() bool {
	return o.Status == RunStatusCompleted
}

// FailedStage returns the stage that failed the run, if any.
func (o RunOutcome) FailedStage() (Stage, bool) {
	var se *StageExecutionError
	if errors.As(o.Err, &se) {
		return se.Stage, true
	}
	return 0, false
}

// ErrorMessage returns the failure message, or "" for successful runs.
func (o RunOutcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Duration returns how long the run took. Zero for pending runs.
func (o RunOutcome) Duration() time.Duration {
	if o.StartedAt.IsZero() || o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}
