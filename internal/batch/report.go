package batch

import (
	"time"

	"github.com/nvandessel/rmpgen/internal/models"
)

// Info describes a batch when it starts.
type Info struct {
	ID        string
	BaseDir   string
	Seeds     []int64
	Enabled   models.StageSet
	Workers   int
	Timeout   time.Duration
	StartedAt time.Time
}

// Report is the result of one batch: one outcome per seed, in seed order.
type Report struct {
	BatchID    string
	Enabled    models.StageSet
	Workers    int
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []models.RunOutcome

	// Warning is set when the wait ceiling elapsed with runs outstanding.
	Warning *models.TimeoutWarning

	// inFlight is closed once every worker has returned. Nil when nothing
	// was left running.
	inFlight <-chan struct{}
}

// Wait blocks until runs left in flight by a timeout have returned. Their
// outcomes stay Pending in the report. It returns immediately when the batch
// finished within its ceiling.
func (r *Report) Wait() {
	if r.inFlight != nil {
		<-r.inFlight
	}
}

// Counts tallies outcomes by status.
type Counts struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// Counts returns the number of runs in each status.
func (r *Report) Counts() Counts {
	var c Counts
	for _, o := range r.Outcomes {
		switch o.Status {
		case models.RunStatusCompleted:
			c.Completed++
		case models.RunStatusFailed:
			c.Failed++
		default:
			c.Pending++
		}
	}
	return c
}

// Failed returns the failed outcomes in seed order.
func (r *Report) Failed() []models.RunOutcome {
	var out []models.RunOutcome
	for _, o := range r.Outcomes {
		if o.Status == models.RunStatusFailed {
			out = append(out, o)
		}
	}
	return out
}

// Unfinished returns the seeds that failed or were still pending, suitable
// for replaying with an explicit seed list.
func (r *Report) Unfinished() []int64 {
	var out []int64
	for _, o := range r.Outcomes {
		if o.Status != models.RunStatusCompleted {
			out = append(out, o.Seed)
		}
	}
	return out
}

// TimedOut reports whether the batch hit its wait ceiling.
func (r *Report) TimedOut() bool {
	return r.Warning != nil
}
