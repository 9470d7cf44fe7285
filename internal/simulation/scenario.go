package simulation

import (
	"time"

	"github.com/nvandessel/rmpgen/internal/batch"
	"github.com/nvandessel/rmpgen/internal/locmap"
	"github.com/nvandessel/rmpgen/internal/models"
	"github.com/nvandessel/rmpgen/internal/runctx"
	"github.com/nvandessel/rmpgen/internal/seeds"
)

// Scenario defines a complete batch experiment.
type Scenario struct {
	Name string

	// Seed selection, resolved exactly like the command line does:
	// Explicit wins, then GenBase/GenCount, then BaseSeed/Count.
	Explicit []int64
	GenBase  int64
	GenCount int
	BaseSeed int64
	Count    int

	Stages             models.StageSet
	Parallelism        int
	Timeout            time.Duration
	InterruptOnTimeout bool

	// Failures, Panics and Blocks inject faults into single runs.
	Failures []Fault
	Panics   []Fault
	Blocks   []Fault

	// TrackStats makes the demographic stage provide the individual stats
	// slot and every later stage append to it.
	TrackStats bool

	// LocationMap, when set, is shared by every run and required by the
	// contact map stage.
	LocationMap *locmap.Map

	Props map[string]string
}

// Fault targets one stage of one run, by run index.
type Fault struct {
	Stage models.Stage
	Run   int
}

func (s Scenario) request() seeds.Request {
	base := s.BaseSeed
	return seeds.Request{
		Explicit:    s.Explicit,
		GenBase:     s.GenBase,
		GenCount:    s.GenCount,
		ConfigBase:  &base,
		ConfigCount: s.Count,
	}
}

// Call records one stage invocation.
type Call struct {
	Stage models.Stage
	Run   int
	Seed  int64
}

// Result captures everything a scenario produced.
type Result struct {
	Scenario   Scenario
	Resolution seeds.Resolution
	Report     *batch.Report

	// Calls lists stage invocations per run index, in invocation order.
	Calls map[int][]Call

	// Snapshots holds each run's context as the last stage to touch it
	// left it, keyed by run index.
	Snapshots map[int]runctx.Snapshot

	// BaseDir is where artifacts and the ledger were written.
	BaseDir string
}
