package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/rmpgen/internal/batch"
	"github.com/nvandessel/rmpgen/internal/models"
)

// ErrBatchNotFound is returned when a batch reference matches nothing.
var ErrBatchNotFound = errors.New("batch not found")

// LatestRef selects the most recently started batch in GetBatch.
const LatestRef = "latest"

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteLedger implements Ledger on a SQLite database file.
type SQLiteLedger struct {
	db   *sql.DB
	path string
}

var _ Ledger = (*SQLiteLedger)(nil)

// NewSQLiteLedger opens (creating if needed) the ledger database at path.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	// Worker goroutines record concurrently; SQLite takes one writer.
	db.SetMaxOpenConns(1)

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	return &SQLiteLedger{db: db, path: path}, nil
}

// Path returns the database file path.
func (l *SQLiteLedger) Path() string { return l.path }

// Close closes the database.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// SnapshotTo writes a consistent copy of the ledger to dest, which must not
// exist yet.
func (l *SQLiteLedger) SnapshotTo(ctx context.Context, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("snapshot target %s already exists", dest)
	}
	if _, err := l.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("failed to snapshot ledger: %w", err)
	}
	return nil
}

// BatchStarted inserts the batch row.
func (l *SQLiteLedger) BatchStarted(ctx context.Context, info batch.Info) error {
	seedsJSON, err := json.Marshal(info.Seeds)
	if err != nil {
		return fmt.Errorf("failed to marshal seeds: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO batches (id, base_dir, stages, seeds, workers, timeout_ns, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, info.ID, info.BaseDir, info.Enabled.String(), string(seedsJSON), info.Workers,
		int64(info.Timeout), formatTime(info.StartedAt))
	if err != nil {
		return fmt.Errorf("failed to insert batch %s: %w", info.ID, err)
	}
	return nil
}

// RunFinished upserts the outcome of one run.
func (l *SQLiteLedger) RunFinished(ctx context.Context, batchID string, o models.RunOutcome) error {
	return l.upsertRun(ctx, l.db, batchID, o)
}

// BatchFinished stores the final counts and writes a row for every outcome
// not yet recorded, so pending runs of a timed out batch appear too.
func (l *SQLiteLedger) BatchFinished(ctx context.Context, report *batch.Report) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, o := range report.Outcomes {
		if o.Status != models.RunStatusPending {
			continue
		}
		if err := l.upsertRun(ctx, tx, report.BatchID, o); err != nil {
			return err
		}
	}

	counts := report.Counts()
	_, err = tx.ExecContext(ctx, `
		UPDATE batches
		SET finished_at = ?, completed = ?, failed = ?, pending = ?, timed_out = ?
		WHERE id = ?
	`, formatTime(report.FinishedAt), counts.Completed, counts.Failed, counts.Pending,
		boolToInt(report.TimedOut()), report.BatchID)
	if err != nil {
		return fmt.Errorf("failed to update batch %s: %w", report.BatchID, err)
	}

	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (l *SQLiteLedger) upsertRun(ctx context.Context, db execer, batchID string, o models.RunOutcome) error {
	var stagesRun []string
	for _, s := range o.StagesRun {
		stagesRun = append(stagesRun, s.String())
	}
	var stagesJSON sql.NullString
	if len(stagesRun) > 0 {
		data, err := json.Marshal(stagesRun)
		if err != nil {
			return fmt.Errorf("failed to marshal stages: %w", err)
		}
		stagesJSON = sql.NullString{String: string(data), Valid: true}
	}

	var failedStage sql.NullString
	if st, ok := o.FailedStage(); ok {
		failedStage = sql.NullString{String: st.String(), Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (batch_id, run_index, seed, status, failed_stage, error, stages_run, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, batchID, o.Index, o.Seed, string(o.Status), failedStage, nullString(o.ErrorMessage()), stagesJSON,
		nullTime(o.StartedAt), nullTime(o.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to record run %d of batch %s: %w", o.Index, batchID, err)
	}
	return nil
}

const batchColumns = `id, base_dir, stages, seeds, workers, timeout_ns, started_at, finished_at,
	completed, failed, pending, timed_out`

// ListBatches returns batches, most recent first.
func (l *SQLiteLedger) ListBatches(ctx context.Context, limit int) ([]BatchRecord, error) {
	query := `SELECT ` + batchColumns + ` FROM batches ORDER BY started_at DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var out []BatchRecord
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// GetBatch resolves ref as "latest", a full id, or a unique id prefix.
func (l *SQLiteLedger) GetBatch(ctx context.Context, ref string) (*BatchRecord, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == LatestRef {
		batches, err := l.ListBatches(ctx, 1)
		if err != nil {
			return nil, err
		}
		if len(batches) == 0 {
			return nil, ErrBatchNotFound
		}
		return &batches[0], nil
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = ? OR id LIKE ? ORDER BY started_at DESC LIMIT 2`,
		ref, escapeLike(ref)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to query batch %s: %w", ref, err)
	}
	defer rows.Close()

	var matches []*BatchRecord
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		if b.ID == ref {
			return b, nil
		}
		matches = append(matches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("batch reference %q is ambiguous", ref)
	}
}

// Runs returns the runs of a batch in seed order.
func (l *SQLiteLedger) Runs(ctx context.Context, batchID string) ([]RunRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT batch_id, run_index, seed, status, failed_stage, error, stages_run, started_at, finished_at
		FROM runs WHERE batch_id = ? ORDER BY run_index
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r                     RunRecord
			failedStage, errMsg   sql.NullString
			stagesJSON            sql.NullString
			startedAt, finishedAt sql.NullString
		)
		if err := rows.Scan(&r.BatchID, &r.Index, &r.Seed, &r.Status, &failedStage, &errMsg,
			&stagesJSON, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.FailedStage = failedStage.String
		r.Error = errMsg.String
		if stagesJSON.Valid {
			if err := json.Unmarshal([]byte(stagesJSON.String), &r.StagesRun); err != nil {
				return nil, fmt.Errorf("failed to parse stages of run %d: %w", r.Index, err)
			}
		}
		r.StartedAt = parseNullTime(startedAt)
		r.FinishedAt = parseNullTime(finishedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// UnfinishedSeeds returns failed and pending seeds of a batch in seed order.
func (l *SQLiteLedger) UnfinishedSeeds(ctx context.Context, batchID string) ([]int64, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT seed FROM runs
		WHERE batch_id = ? AND status != ?
		ORDER BY run_index
	`, batchID, string(models.RunStatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to query unfinished seeds: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var seed int64
		if err := rows.Scan(&seed); err != nil {
			return nil, fmt.Errorf("failed to scan seed: %w", err)
		}
		out = append(out, seed)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (*BatchRecord, error) {
	var (
		b          BatchRecord
		seedsJSON  string
		timeoutNS  int64
		startedAt  string
		finishedAt sql.NullString
		timedOut   int
	)
	if err := row.Scan(&b.ID, &b.BaseDir, &b.Stages, &seedsJSON, &b.Workers, &timeoutNS, &startedAt,
		&finishedAt, &b.Completed, &b.Failed, &b.Pending, &timedOut); err != nil {
		return nil, fmt.Errorf("failed to scan batch: %w", err)
	}

	var seeds []int64
	if err := json.Unmarshal([]byte(seedsJSON), &seeds); err != nil {
		return nil, fmt.Errorf("failed to parse seeds of batch %s: %w", b.ID, err)
	}
	b.Runs = len(seeds)
	b.Timeout = time.Duration(timeoutNS)
	b.TimedOut = timedOut != 0
	if t, err := time.Parse(timeLayout, startedAt); err == nil {
		b.StartedAt = t
	}
	b.FinishedAt = parseNullTime(finishedAt)
	return &b, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// escapeLike neutralises LIKE wildcards in a user supplied prefix.
func escapeLike(s string) string {
	r := strings.NewReplacer("%", "", "_", "")
	return r.Replace(s)
}
