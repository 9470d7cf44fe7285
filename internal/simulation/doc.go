// Package simulation provides a batch test harness for validating the
// orchestration properties of rmpgen end to end.
//
// The harness exercises the real seed derivation, Scheduler, pipeline Runner
// and SQLite ledger. Stage executors are recording fakes that write a small
// artifact per run, snapshot the run context and fail, panic or block on
// request. Each test gets an isolated base directory and ledger via
// t.TempDir().
//
// Usage:
//
//	func TestContactMapFailureIsolated(t *testing.T) {
//	    r := simulation.NewRunner(t)
//	    result := r.Run(simulation.Scenario{
//	        Name:        "contact-map-failure",
//	        BaseSeed:    42,
//	        Count:       3,
//	        Stages:      models.AllStages(),
//	        Parallelism: 3,
//	        Failures:    []simulation.Fault{{Stage: models.StageContactMap, Run: 1}},
//	    })
//	    simulation.AssertStatuses(t, result,
//	        models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusCompleted)
//	}
package simulation
