package simulation

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/rmpgen/internal/locmap"
	"github.com/nvandessel/rmpgen/internal/models"
	"github.com/nvandessel/rmpgen/internal/seeds"
)

var (
	completed = models.RunStatusCompleted
	failed    = models.RunStatusFailed
	pending   = models.RunStatusPending
)

// TestContactMapFailureOnSecondSeed runs base seed 42, three runs, every
// stage enabled, with the contact map stage failing for the second seed.
func TestContactMapFailureOnSecondSeed(t *testing.T) {
	for _, p := range []int{1, 3} {
		r := NewRunner(t)
		result := r.Run(Scenario{
			Name:        "contact-map-failure",
			BaseSeed:    42,
			Count:       3,
			Stages:      models.AllStages(),
			Parallelism: p,
			Failures:    []Fault{{Stage: models.StageContactMap, Run: 1}},
		})

		AssertStatuses(t, result, completed, failed, completed)
		AssertFailedAt(t, result, 1, models.StageContactMap)
		AssertStageOrder(t, result)
		AssertNoCrossContamination(t, result)
		AssertLedgerMatches(t, r, result)

		want, err := seeds.Derive(42, 3)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(result.Resolution.Seeds, want) {
			t.Errorf("parallelism %d: seeds %v, want %v", p, result.Resolution.Seeds, want)
		}
		if n := len(result.Calls[1]); n != 2 {
			t.Errorf("parallelism %d: failing run invoked %d stages, want 2", p, n)
		}

		unfinished, err := r.Ledger().UnfinishedSeeds(context.Background(), result.Report.BatchID)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(unfinished, []int64{want[1]}) {
			t.Errorf("parallelism %d: unfinished %v, want [%d]", p, unfinished, want[1])
		}
	}
}

func TestParallelismDoesNotChangeOutcomes(t *testing.T) {
	base := Scenario{
		Name:     "equivalence",
		BaseSeed: 31337,
		Count:    25,
		Stages:   models.AllStages(),
		Failures: []Fault{{Stage: models.StageDemographic, Run: 4}, {Stage: models.StageCasualPartnership, Run: 19}},
		Panics:   []Fault{{Stage: models.StageContactMap, Run: 11}},
	}

	seq := base
	seq.Parallelism = 1
	par := base
	par.Parallelism = 8

	a := NewRunner(t).Run(seq)
	b := NewRunner(t).Run(par)

	if b.Report.Workers != 8 {
		t.Errorf("parallel run used %d workers, want 8", b.Report.Workers)
	}
	for i := range a.Report.Outcomes {
		oa, ob := a.Report.Outcomes[i], b.Report.Outcomes[i]
		if oa.Seed != ob.Seed || oa.Status != ob.Status || !reflect.DeepEqual(oa.StagesRun, ob.StagesRun) {
			t.Errorf("run %d differs: sequential %d/%s/%v, parallel %d/%s/%v",
				i, oa.Seed, oa.Status, oa.StagesRun, ob.Seed, ob.Status, ob.StagesRun)
		}
	}
	AssertFailedAt(t, b, 11, models.StageContactMap)
	if !strings.Contains(b.Report.Outcomes[11].ErrorMessage(), "injected panic") {
		t.Errorf("panic not reported: %v", b.Report.Outcomes[11].Err)
	}
}

func TestEmptyStageSet(t *testing.T) {
	r := NewRunner(t)
	result := r.Run(Scenario{
		Name:        "no-stages",
		BaseSeed:    5,
		Count:       4,
		Stages:      models.StageSet{},
		Parallelism: 2,
	})

	AssertStatuses(t, result, completed, completed, completed, completed)
	if len(result.Calls) != 0 {
		t.Errorf("no stage should run, got calls for %d runs", len(result.Calls))
	}
	AssertLedgerMatches(t, r, result)
}

func TestDisabledStagesSkipped(t *testing.T) {
	r := NewRunner(t)
	mask, err := models.StageSetFromMask(0b101)
	if err != nil {
		t.Fatal(err)
	}
	result := r.Run(Scenario{
		Name:        "skip-contact-map",
		BaseSeed:    8,
		Count:       5,
		Stages:      mask,
		Parallelism: 4,
		TrackStats:  true,
	})

	AssertStatuses(t, result, completed, completed, completed, completed, completed)
	AssertStageOrder(t, result)
	for run, snap := range result.Snapshots {
		if _, ok := snap.Artifacts[models.StageContactMap]; ok {
			t.Errorf("run %d has contact map artifacts", run)
		}
		if want := []int{0, 2}; !reflect.DeepEqual(snap.IndividualStats[run], want) {
			t.Errorf("run %d stats %v, want %v", run, snap.IndividualStats[run], want)
		}
	}
}

func TestNoCrossContaminationUnderLoad(t *testing.T) {
	r := NewRunner(t)
	result := r.Run(Scenario{
		Name:        "stress",
		BaseSeed:    99,
		Count:       200,
		Stages:      models.AllStages(),
		Parallelism: 32,
		TrackStats:  true,
		Props:       map[string]string{"POP_SIZE": "1000"},
	})

	if c := result.Report.Counts(); c.Completed != 200 {
		t.Fatalf("expected 200 completed runs, got %+v", c)
	}
	if len(result.Snapshots) != 200 {
		t.Fatalf("expected 200 snapshots, got %d", len(result.Snapshots))
	}
	AssertNoCrossContamination(t, result)
	AssertStageOrder(t, result)
	AssertLedgerMatches(t, r, result)
}

func TestExplicitListBeatsGenSeed(t *testing.T) {
	r := NewRunner(t)
	result := r.Run(Scenario{
		Name:     "explicit",
		Explicit: []int64{1, 2, 3},
		GenBase:  99,
		GenCount: 5,
		BaseSeed: 42,
		Count:    10,
		Stages:   models.NewStageSet(models.StageDemographic),
	})

	if result.Resolution.Source != seeds.SourceExplicit {
		t.Errorf("source = %s, want explicit", result.Resolution.Source)
	}
	var got []int64
	for _, o := range result.Report.Outcomes {
		got = append(got, o.Seed)
	}
	if !reflect.DeepEqual(got, []int64{1, 2, 3}) {
		t.Errorf("seeds = %v, want [1 2 3]", got)
	}
}

func TestGenSeedOverridesConfiguredBase(t *testing.T) {
	r := NewRunner(t)
	result := r.Run(Scenario{
		Name:     "gen-seed",
		GenBase:  99,
		GenCount: 5,
		BaseSeed: 42,
		Count:    10,
		Stages:   models.AllStages(),
	})

	want, err := seeds.Derive(99, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(result.Resolution.Seeds, want) {
		t.Errorf("seeds = %v, want %v", result.Resolution.Seeds, want)
	}
}

func TestTimeoutLeavesRunPending(t *testing.T) {
	r := NewRunner(t)
	result := r.Run(Scenario{
		Name:        "timeout",
		BaseSeed:    3,
		Count:       4,
		Stages:      models.AllStages(),
		Parallelism: 4,
		Timeout:     150 * time.Millisecond,
		Blocks:      []Fault{{Stage: models.StageCasualPartnership, Run: 2}},
	})

	AssertStatuses(t, result, completed, completed, pending, completed)
	if result.Report.Warning == nil {
		t.Fatal("expected a timeout warning")
	}
	if want := []int64{result.Report.Outcomes[2].Seed}; !reflect.DeepEqual(result.Report.Warning.Pending, want) {
		t.Errorf("pending seeds %v, want %v", result.Report.Warning.Pending, want)
	}
	AssertLedgerMatches(t, r, result)
}

func TestSharedLocationMapIsRequiredAndShared(t *testing.T) {
	m, err := locmap.Build(
		strings.NewReader("id,region\n1,north\n2,south\n3,east\n"),
		strings.NewReader("from,to,weight\n1,2,0.5\n2,3,1\n"),
		strings.NewReader("id,p0,p1\n1,0.1,0.2\n3,0.0,1.0\n"),
	)
	if err != nil {
		t.Fatal(err)
	}

	r := NewRunner(t)
	result := r.Run(Scenario{
		Name:        "location-map",
		BaseSeed:    17,
		Count:       6,
		Stages:      models.AllStages(),
		Parallelism: 3,
		LocationMap: m,
	})

	AssertStatuses(t, result, completed, completed, completed, completed, completed, completed)
	if m.NodeCount() != 3 || m.ConnectionCount() != 2 {
		t.Errorf("shared map changed: %+v", m.Stats())
	}
}
