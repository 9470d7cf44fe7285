// Package store persists batch and run outcomes in a SQLite ledger so that
// failed seeds can be listed and replayed after the batch has exited.
package store

import (
	"context"
	"time"

	"github.com/nvandessel/rmpgen/internal/batch"
)

// BatchRecord is a batch as stored in the ledger.
type BatchRecord struct {
	ID         string        `json:"id"`
	BaseDir    string        `json:"base_dir"`
	Stages     string        `json:"stages"`
	Workers    int           `json:"workers"`
	Timeout    time.Duration `json:"timeout"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Runs       int           `json:"runs"`
	Completed  int           `json:"completed"`
	Failed     int           `json:"failed"`
	Pending    int           `json:"pending"`
	TimedOut   bool          `json:"timed_out"`
}

// Finished reports whether the batch recorded its end.
func (b BatchRecord) Finished() bool {
	return b.FinishedAt != nil
}

// RunRecord is one run outcome as stored in the ledger.
type RunRecord struct {
	BatchID     string     `json:"batch_id"`
	Index       int        `json:"index"`
	Seed        int64      `json:"seed"`
	Status      string     `json:"status"`
	FailedStage string     `json:"failed_stage,omitempty"`
	Error       string     `json:"error,omitempty"`
	StagesRun   []string   `json:"stages_run,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Ledger is the query side of the run ledger, used by the runs commands.
type Ledger interface {
	batch.Recorder

	// ListBatches returns the most recent batches first. limit <= 0 means all.
	ListBatches(ctx context.Context, limit int) ([]BatchRecord, error)

	// GetBatch returns a batch by id, unique id prefix, or "latest".
	GetBatch(ctx context.Context, ref string) (*BatchRecord, error)

	// Runs returns every run of a batch in seed order.
	Runs(ctx context.Context, batchID string) ([]RunRecord, error)

	// UnfinishedSeeds returns the seeds of a batch that failed or were
	// still pending, in seed order.
	UnfinishedSeeds(ctx context.Context, batchID string) ([]int64, error)

	// SnapshotTo writes a consistent copy of the ledger to a new file.
	SnapshotTo(ctx context.Context, dest string) error

	Close() error
}
