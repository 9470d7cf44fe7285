package simulation

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/nvandessel/rmpgen/internal/models"
)

// AssertStatuses asserts the status of every run, in seed order.
func AssertStatuses(t *testing.T, result Result, want ...models.RunStatus) {
	t.Helper()
	got := result.Report.Outcomes
	if len(got) != len(want) {
		t.Fatalf("AssertStatuses: %d outcomes, want %d", len(got), len(want))
	}
	for i, o := range got {
		if o.Status != want[i] {
			t.Errorf("AssertStatuses: run %d (seed %d): status %s, want %s (err: %v)", i, o.Seed, o.Status, want[i], o.Err)
		}
	}
}

// AssertFailedAt asserts that a run failed in the given stage.
func AssertFailedAt(t *testing.T, result Result, run int, want models.Stage) {
	t.Helper()
	o := result.Report.Outcomes[run]
	got, ok := o.FailedStage()
	if !ok {
		t.Errorf("AssertFailedAt: run %d has no failed stage (status %s)", run, o.Status)
		return
	}
	if got != want {
		t.Errorf("AssertFailedAt: run %d failed in %s, want %s", run, got, want)
	}
}

// AssertStageOrder asserts that every run invoked only enabled stages and
// in pipeline order, and that no stage ran after a failure.
func AssertStageOrder(t *testing.T, result Result) {
	t.Helper()
	for run, calls := range result.Calls {
		last := -1
		for _, c := range calls {
			if !result.Scenario.Stages.Has(c.Stage) {
				t.Errorf("AssertStageOrder: run %d invoked disabled stage %s", run, c.Stage)
			}
			if int(c.Stage) <= last {
				t.Errorf("AssertStageOrder: run %d invoked %s out of order", run, c.Stage)
			}
			last = int(c.Stage)
		}
		o := result.Report.Outcomes[run]
		if st, failed := o.FailedStage(); failed && len(calls) > 0 && calls[len(calls)-1].Stage != st {
			t.Errorf("AssertStageOrder: run %d kept going after %s failed", run, st)
		}
	}
}

// AssertNoCrossContamination asserts that every stage saw its own run's seed
// and that each run's context holds only its own artifacts.
func AssertNoCrossContamination(t *testing.T, result Result) {
	t.Helper()
	for run, calls := range result.Calls {
		want := result.Report.Outcomes[run].Seed
		for _, c := range calls {
			if c.Seed != want || c.Run != run {
				t.Errorf("AssertNoCrossContamination: run %d stage %s saw run %d seed %d, want seed %d",
					run, c.Stage, c.Run, c.Seed, want)
			}
		}
	}

	for run, snap := range result.Snapshots {
		want := result.Report.Outcomes[run].Seed
		if snap.Seed != want {
			t.Errorf("AssertNoCrossContamination: run %d snapshot has seed %d, want %d", run, snap.Seed, want)
		}
		if owner := snap.Props[ownerProp]; owner != strconv.FormatInt(want, 10) {
			t.Errorf("AssertNoCrossContamination: run %d owned by %s, want %d", run, owner, want)
		}
		for st, paths := range snap.Artifacts {
			for _, p := range paths {
				data, err := os.ReadFile(p)
				if err != nil {
					t.Errorf("AssertNoCrossContamination: run %d artifact %s: %v", run, p, err)
					continue
				}
				if string(data) != strconv.FormatInt(want, 10) {
					t.Errorf("AssertNoCrossContamination: run %d stage %s artifact written for seed %s", run, st, data)
				}
			}
		}
		for id := range snap.IndividualStats {
			if id != run {
				t.Errorf("AssertNoCrossContamination: run %d holds stats of run %d", run, id)
			}
		}
	}
}

// AssertLedgerMatches asserts that the ledger recorded the batch exactly as
// the report describes it.
func AssertLedgerMatches(t *testing.T, r *Runner, result Result) {
	t.Helper()
	ctx := context.Background()

	b, err := r.Ledger().GetBatch(ctx, result.Report.BatchID)
	if err != nil {
		t.Fatalf("AssertLedgerMatches: GetBatch: %v", err)
	}
	counts := result.Report.Counts()
	if b.Completed != counts.Completed || b.Failed != counts.Failed || b.Pending != counts.Pending {
		t.Errorf("AssertLedgerMatches: ledger counts %d/%d/%d, report %d/%d/%d",
			b.Completed, b.Failed, b.Pending, counts.Completed, counts.Failed, counts.Pending)
	}
	if b.TimedOut != result.Report.TimedOut() {
		t.Errorf("AssertLedgerMatches: ledger timed_out %v, report %v", b.TimedOut, result.Report.TimedOut())
	}

	runs, err := r.Ledger().Runs(ctx, result.Report.BatchID)
	if err != nil {
		t.Fatalf("AssertLedgerMatches: Runs: %v", err)
	}
	if len(runs) != len(result.Report.Outcomes) {
		t.Fatalf("AssertLedgerMatches: ledger has %d runs, report %d", len(runs), len(result.Report.Outcomes))
	}
	for i, o := range result.Report.Outcomes {
		if runs[i].Seed != o.Seed || runs[i].Status != string(o.Status) {
			t.Errorf("AssertLedgerMatches: run %d ledger %d/%s, report %d/%s",
				i, runs[i].Seed, runs[i].Status, o.Seed, o.Status)
		}
	}
}
