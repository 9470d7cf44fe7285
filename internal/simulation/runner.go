package simulation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/nvandessel/rmpgen/internal/batch"
	"github.com/nvandessel/rmpgen/internal/logging"
	"github.com/nvandessel/rmpgen/internal/models"
	"github.com/nvandessel/rmpgen/internal/pipeline"
	"github.com/nvandessel/rmpgen/internal/runctx"
	"github.com/nvandessel/rmpgen/internal/seeds"
	"github.com/nvandessel/rmpgen/internal/stage"
	"github.com/nvandessel/rmpgen/internal/store"
)

// ownerProp is written by every stage so contamination shows up as a
// mismatching value in a later stage or snapshot.
const ownerProp = "SIM_OWNER_SEED"

// Runner orchestrates batch experiments against a real scheduler and an
// isolated SQLite ledger.
type Runner struct {
	t       *testing.T
	dir     string
	ledger  *store.SQLiteLedger
	release chan struct{}
	once    sync.Once
}

// NewRunner creates a simulation runner with its own base directory and
// ledger.
func NewRunner(t *testing.T) *Runner {
	t.Helper()
	dir := t.TempDir()

	l, err := store.NewSQLiteLedger(store.LedgerPath(dir, ""))
	if err != nil {
		t.Fatalf("NewRunner: failed to create ledger: %v", err)
	}

	r := &Runner{t: t, dir: dir, ledger: l, release: make(chan struct{})}
	t.Cleanup(func() {
		r.Release()
		l.Close()
	})
	return r
}

// Ledger returns the runner's ledger.
func (r *Runner) Ledger() *store.SQLiteLedger { return r.ledger }

// Release unblocks every run held by a Blocks fault.
func (r *Runner) Release() {
	r.once.Do(func() { close(r.release) })
}

type recorder struct {
	mu        sync.Mutex
	calls     map[int][]Call
	snapshots map[int]runctx.Snapshot
}

func (rec *recorder) call(c Call) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.calls[c.Run] = append(rec.calls[c.Run], c)
}

func (rec *recorder) snapshot(run int, snap runctx.Snapshot) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.snapshots[run] = snap
}

// Run executes the scenario and returns the collected results.
func (r *Runner) Run(scenario Scenario) Result {
	r.t.Helper()
	ctx := context.Background()

	// Phase 1: Resolve seeds.
	resolution, err := seeds.Resolve(scenario.request())
	if err != nil {
		r.t.Fatalf("%s: resolving seeds: %v", scenario.Name, err)
	}

	// Phase 2: Build executors and plan.
	rec := &recorder{calls: make(map[int][]Call), snapshots: make(map[int]runctx.Snapshot)}
	var execs []stage.Executor
	for _, st := range models.PipelineOrder {
		execs = append(execs, r.executor(scenario, st, rec))
	}
	reg, err := stage.NewRegistry(execs...)
	if err != nil {
		r.t.Fatalf("%s: registry: %v", scenario.Name, err)
	}

	shared := runctx.Shared{
		BaseDir:     r.dir,
		Props:       scenario.Props,
		LocationMap: scenario.LocationMap,
	}
	runner := pipeline.New(reg, logging.Discard())
	plan, err := runner.Plan(scenario.Stages, shared.InitialSlots())
	if err != nil {
		r.t.Fatalf("%s: plan: %v", scenario.Name, err)
	}

	// Phase 3: Run the batch.
	sched := &batch.Scheduler{
		Runner:             runner,
		Plan:               plan,
		Parallelism:        scenario.Parallelism,
		Timeout:            scenario.Timeout,
		InterruptOnTimeout: scenario.InterruptOnTimeout,
		Logger:             logging.Discard(),
		Recorder:           r.ledger,
	}
	report, err := sched.Run(ctx, resolution.Seeds, shared)
	if err != nil {
		r.t.Fatalf("%s: batch: %v", scenario.Name, err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	calls := make(map[int][]Call, len(rec.calls))
	for k, v := range rec.calls {
		calls[k] = append([]Call(nil), v...)
	}
	snaps := make(map[int]runctx.Snapshot, len(rec.snapshots))
	for k, v := range rec.snapshots {
		snaps[k] = v
	}

	return Result{
		Scenario:   scenario,
		Resolution: resolution,
		Report:     report,
		Calls:      calls,
		Snapshots:  snaps,
		BaseDir:    r.dir,
	}
}

func hasFault(faults []Fault, st models.Stage, run int) bool {
	for _, f := range faults {
		if f.Stage == st && f.Run == run {
			return true
		}
	}
	return false
}

// executor builds the recording executor for one stage.
func (r *Runner) executor(scenario Scenario, st models.Stage, rec *recorder) stage.Func {
	f := stage.Func{For: st}
	if scenario.TrackStats {
		if st == models.StageDemographic {
			f.Yields = append(f.Yields, runctx.SlotIndividualStats)
		} else {
			f.Needs = append(f.Needs, runctx.SlotIndividualStats)
		}
	}
	if st == models.StageContactMap && scenario.LocationMap != nil {
		f.Needs = append(f.Needs, runctx.SlotLocationMap)
	}

	f.Fn = func(ctx context.Context, seed int64, rc *runctx.RunContext) error {
		rec.call(Call{Stage: st, Run: rc.Index, Seed: seed})

		if owner, ok := rc.Prop(ownerProp); ok && owner != strconv.FormatInt(seed, 10) {
			return fmt.Errorf("context carries seed %s, expected %d", owner, seed)
		}
		rc.SetProp(ownerProp, strconv.FormatInt(seed, 10))

		switch {
		case hasFault(scenario.Blocks, st, rc.Index):
			// A blocked run never completes; it writes nothing once the
			// test has moved on.
			select {
			case <-r.release:
				return fmt.Errorf("run %d released from %s", rc.Index, st)
			case <-ctx.Done():
				return ctx.Err()
			}
		case hasFault(scenario.Panics, st, rc.Index):
			panic(fmt.Sprintf("injected panic in %s", st))
		case hasFault(scenario.Failures, st, rc.Index):
			return fmt.Errorf("injected failure in %s", st)
		}

		path := filepath.Join(rc.BaseDir, fmt.Sprintf("%s_%d.txt", st, rc.Index))
		if err := os.WriteFile(path, []byte(strconv.FormatInt(seed, 10)), 0644); err != nil {
			return err
		}
		rc.PublishArtifacts(st, path)

		if scenario.TrackStats {
			if err := rc.RecordIndividualStat(rc.Index, int(st)); err != nil {
				return err
			}
		}
		rec.snapshot(rc.Index, rc.Snapshot())
		return nil
	}
	return f
}
