package runctx

import "github.com/nvandessel/rmpgen/internal/models"

// Snapshot is a deep copy of a RunContext's observable state, used to log
// what a run produced and to compare contexts before and after stages.
type Snapshot struct {
	Seed                int64
	Props               map[string]string
	Slots               []Slot
	Artifacts           map[models.Stage][]string
	IndividualStats     map[int][]int
	ExtraPartnersSought [][]int
}

// Snapshot copies the context's current state.
func (rc *RunContext) Snapshot() Snapshot {
	snap := Snapshot{
		Seed:      rc.Seed,
		Props:     make(map[string]string, len(rc.Props)),
		Slots:     rc.Slots(),
		Artifacts: make(map[models.Stage][]string, len(rc.artifacts)),
	}
	for k, v := range rc.Props {
		snap.Props[k] = v
	}
	for stage := range rc.artifacts {
		snap.Artifacts[stage] = rc.Artifacts(stage)
	}
	if rc.IndividualStats != nil {
		snap.IndividualStats = make(map[int][]int, len(rc.IndividualStats))
		for id, v := range rc.IndividualStats {
			snap.IndividualStats[id] = append([]int(nil), v...)
		}
	}
	if rc.ExtraPartnersSought != nil {
		snap.ExtraPartnersSought = make([][]int, len(rc.ExtraPartnersSought))
		for i, row := range rc.ExtraPartnersSought {
			snap.ExtraPartnersSought[i] = append([]int(nil), row...)
		}
	}
	return snap
}
