package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/nvandessel/rmpgen/internal/batch"
	"github.com/nvandessel/rmpgen/internal/models"
)

func newTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	l, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "ledger", "rmpgen-ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteLedger() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func recordBatch(t *testing.T, l *SQLiteLedger, id string, started time.Time, outcomes []models.RunOutcome, warn *models.TimeoutWarning) {
	t.Helper()
	ctx := context.Background()

	seeds := make([]int64, len(outcomes))
	for i, o := range outcomes {
		seeds[i] = o.Seed
	}
	info := batch.Info{
		ID:        id,
		BaseDir:   "/data",
		Seeds:     seeds,
		Enabled:   models.AllStages(),
		Workers:   2,
		Timeout:   48 * time.Hour,
		StartedAt: started,
	}
	if err := l.BatchStarted(ctx, info); err != nil {
		t.Fatalf("BatchStarted() error = %v", err)
	}
	for _, o := range outcomes {
		if o.Status == models.RunStatusPending {
			continue
		}
		if err := l.RunFinished(ctx, id, o); err != nil {
			t.Fatalf("RunFinished() error = %v", err)
		}
	}
	report := &batch.Report{
		BatchID:    id,
		Enabled:    models.AllStages(),
		Workers:    2,
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Outcomes:   outcomes,
		Warning:    warn,
	}
	if err := l.BatchFinished(ctx, report); err != nil {
		t.Fatalf("BatchFinished() error = %v", err)
	}
}

func sampleOutcomes(started time.Time) []models.RunOutcome {
	return []models.RunOutcome{
		{
			Index: 0, Seed: 101, Status: models.RunStatusCompleted,
			StagesRun: models.PipelineOrder,
			StartedAt: started, FinishedAt: started.Add(time.Second),
		},
		{
			Index: 1, Seed: -202, Status: models.RunStatusFailed,
			StagesRun: []models.Stage{models.StageDemographic},
			Err: &models.StageExecutionError{
				Stage: models.StageContactMap, Seed: -202, Err: errors.New("exit status 3"),
			},
			StartedAt: started, FinishedAt: started.Add(2 * time.Second),
		},
		{Index: 2, Seed: 303, Status: models.RunStatusPending},
	}
}

func TestSQLiteLedger_RoundTrip(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	recordBatch(t, l, "b-1", started, sampleOutcomes(started), &models.TimeoutWarning{
		Ceiling: 48 * time.Hour, Pending: []int64{303},
	})

	b, err := l.GetBatch(ctx, "b-1")
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if b.Runs != 3 || b.Completed != 1 || b.Failed != 1 || b.Pending != 1 {
		t.Errorf("counts = runs %d completed %d failed %d pending %d, want 3/1/1/1",
			b.Runs, b.Completed, b.Failed, b.Pending)
	}
	if !b.TimedOut {
		t.Error("TimedOut = false, want true")
	}
	if !b.Finished() {
		t.Error("Finished() = false, want true")
	}
	if b.Stages != "demographic,contact-map,casual-partnership" {
		t.Errorf("Stages = %q", b.Stages)
	}
	if b.Timeout != 48*time.Hour {
		t.Errorf("Timeout = %v, want 48h", b.Timeout)
	}
	if !b.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", b.StartedAt, started)
	}

	runs, err := l.Runs(ctx, "b-1")
	if err != nil {
		t.Fatalf("Runs() error = %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("len(runs) = %d, want 3", len(runs))
	}
	if runs[0].Status != "COMPLETED" || !reflect.DeepEqual(runs[0].StagesRun, []string{"demographic", "contact-map", "casual-partnership"}) {
		t.Errorf("run 0 = %+v", runs[0])
	}
	if runs[1].FailedStage != "contact-map" || runs[1].Seed != -202 {
		t.Errorf("run 1 = %+v", runs[1])
	}
	if runs[1].Error == "" {
		t.Error("run 1 error message not recorded")
	}
	if runs[2].Status != "PENDING" || runs[2].StartedAt != nil {
		t.Errorf("run 2 = %+v", runs[2])
	}

	seeds, err := l.UnfinishedSeeds(ctx, "b-1")
	if err != nil {
		t.Fatalf("UnfinishedSeeds() error = %v", err)
	}
	if !reflect.DeepEqual(seeds, []int64{-202, 303}) {
		t.Errorf("UnfinishedSeeds() = %v, want [-202 303]", seeds)
	}
}

func TestSQLiteLedger_GetBatchReferences(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	recordBatch(t, l, "aaaa-1111", t0, sampleOutcomes(t0)[:1], nil)
	recordBatch(t, l, "aaaa-2222", t0.Add(time.Hour), sampleOutcomes(t0)[:1], nil)
	recordBatch(t, l, "bbbb-3333", t0.Add(2*time.Hour), sampleOutcomes(t0)[:1], nil)

	tests := []struct {
		name    string
		ref     string
		wantID  string
		wantErr bool
	}{
		{"latest", "latest", "bbbb-3333", false},
		{"empty means latest", "", "bbbb-3333", false},
		{"full id", "aaaa-1111", "aaaa-1111", false},
		{"unique prefix", "bbbb", "bbbb-3333", false},
		{"ambiguous prefix", "aaaa", "", true},
		{"unknown", "cccc", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := l.GetBatch(ctx, tt.ref)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("GetBatch(%q) expected error, got %s", tt.ref, b.ID)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetBatch(%q) error = %v", tt.ref, err)
			}
			if b.ID != tt.wantID {
				t.Errorf("GetBatch(%q) = %s, want %s", tt.ref, b.ID, tt.wantID)
			}
		})
	}

	_, err := l.GetBatch(ctx, "cccc")
	if !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("GetBatch(unknown) error = %v, want ErrBatchNotFound", err)
	}
}

func TestSQLiteLedger_ListBatches(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	empty, err := l.ListBatches(ctx, 0)
	if err != nil {
		t.Fatalf("ListBatches() error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("ListBatches() on empty ledger = %d rows", len(empty))
	}

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"one", "two", "three"} {
		recordBatch(t, l, id, t0.Add(time.Duration(i)*time.Millisecond), sampleOutcomes(t0)[:2], nil)
	}

	all, err := l.ListBatches(ctx, 0)
	if err != nil {
		t.Fatalf("ListBatches() error = %v", err)
	}
	var ids []string
	for _, b := range all {
		ids = append(ids, b.ID)
	}
	if !reflect.DeepEqual(ids, []string{"three", "two", "one"}) {
		t.Errorf("ListBatches() order = %v", ids)
	}

	limited, err := l.ListBatches(ctx, 2)
	if err != nil {
		t.Fatalf("ListBatches(2) error = %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("ListBatches(2) returned %d rows", len(limited))
	}
}

func TestSQLiteLedger_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rmpgen-ledger.db")
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l, err := NewSQLiteLedger(path)
	if err != nil {
		t.Fatalf("NewSQLiteLedger() error = %v", err)
	}
	recordBatch(t, l, "persisted", t0, sampleOutcomes(t0)[:2], nil)
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	l2, err := NewSQLiteLedger(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer l2.Close()

	b, err := l2.GetBatch(context.Background(), LatestRef)
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if b.ID != "persisted" || b.Failed != 1 {
		t.Errorf("reopened batch = %+v", b)
	}
}

func TestSQLiteLedger_RunFinishedUnknownBatch(t *testing.T) {
	l := newTestLedger(t)
	err := l.RunFinished(context.Background(), "missing", models.RunOutcome{Seed: 1, Status: models.RunStatusCompleted})
	if err == nil {
		t.Error("RunFinished() for unknown batch should fail the foreign key")
	}
}

func TestSQLiteLedger_SnapshotTo(t *testing.T) {
	l := newTestLedger(t)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	recordBatch(t, l, "snap", t0, sampleOutcomes(t0), nil)

	dest := filepath.Join(t.TempDir(), "copy.db")
	if err := l.SnapshotTo(context.Background(), dest); err != nil {
		t.Fatalf("SnapshotTo() error = %v", err)
	}
	if err := l.SnapshotTo(context.Background(), dest); err == nil {
		t.Error("SnapshotTo() over an existing file should fail")
	}

	copied, err := NewSQLiteLedger(dest)
	if err != nil {
		t.Fatalf("opening snapshot: %v", err)
	}
	defer copied.Close()

	runs, err := copied.Runs(context.Background(), "snap")
	if err != nil {
		t.Fatalf("Runs() error = %v", err)
	}
	if len(runs) != len(sampleOutcomes(t0)) {
		t.Errorf("snapshot has %d runs, want %d", len(runs), len(sampleOutcomes(t0)))
	}
}
