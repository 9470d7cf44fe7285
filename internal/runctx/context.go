// Package runctx defines the state threaded through the stages of one run.
//
// A RunContext is created fresh for every run, owned by exactly one pipeline
// and discarded when the run ends. The only value it shares with other runs
// is the read-only location map.
package runctx

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nvandessel/rmpgen/internal/locmap"
	"github.com/nvandessel/rmpgen/internal/models"
)

// Slot names a field of RunContext that a stage may read or write. Stages
// declare the slots they require and provide; the pipeline checks presence
// before a stage runs.
type Slot string

const (
	SlotBaseDir             Slot = "base-dir"
	SlotLocationMap         Slot = "location-map"
	SlotIndividualStats     Slot = "individual-stats"
	SlotExtraPartnersSought Slot = "extra-partners-sought"
)

// ArtifactSlot is the slot a stage fills when it reports its artifacts.
func ArtifactSlot(stage models.Stage) Slot {
	return Slot(stage.String() + "-artifacts")
}

// optionalSlots are only initialised when an enabled stage requires them.
var optionalSlots = map[Slot]bool{
	SlotIndividualStats:     true,
	SlotExtraPartnersSought: true,
}

// IsOptional reports whether a slot is allocated on demand by New.
func IsOptional(s Slot) bool {
	return optionalSlots[s]
}

// ParseSlot validates a slot name read from configuration.
func ParseSlot(name string) (Slot, error) {
	s := Slot(strings.ToLower(strings.TrimSpace(name)))
	switch s {
	case SlotBaseDir, SlotLocationMap, SlotIndividualStats, SlotExtraPartnersSought:
		return s, nil
	}
	for _, st := range models.PipelineOrder {
		if s == ArtifactSlot(st) {
			return s, nil
		}
	}
	return "", models.NewConfigurationError("requires", fmt.Sprintf("unknown context slot %q", name))
}

// Shared is the batch-wide input every RunContext is built from.
type Shared struct {
	BaseDir         string
	LocationMapPath string
	Props           map[string]string
	LocationMap     *locmap.Map
}

// InitialSlots returns the slots New fills from shared alone.
func (s Shared) InitialSlots() []Slot {
	var out []Slot
	if s.BaseDir != "" {
		out = append(out, SlotBaseDir)
	}
	if s.LocationMap != nil {
		out = append(out, SlotLocationMap)
	}
	return out
}

// RunContext is the per-run state passed through every enabled stage.
type RunContext struct {
	Index   int
	Seed    int64
	BaseDir string

	// Props is this run's private copy of the scalar configuration.
	Props map[string]string

	// LocationMap is shared by every run and must not be mutated.
	LocationMap     *locmap.Map
	LocationMapPath string

	// IndividualStats maps an individual id to its per-stage counters.
	// Nil unless a stage requires SlotIndividualStats.
	IndividualStats map[int][]int

	// ExtraPartnersSought lists partnership requests left unmatched by the
	// contact map stage. Nil unless a stage requires SlotExtraPartnersSought.
	ExtraPartnersSought [][]int

	artifacts map[models.Stage][]string
	present   map[Slot]bool
}

// New builds the context for one run. Optional slots listed in needs are
// allocated; everything else comes from shared.
func New(shared Shared, index int, seed int64, needs ...Slot) *RunContext {
	props := make(map[string]string, len(shared.Props))
	for k, v := range shared.Props {
		props[k] = v
	}

	rc := &RunContext{
		Index:           index,
		Seed:            seed,
		BaseDir:         shared.BaseDir,
		Props:           props,
		LocationMap:     shared.LocationMap,
		LocationMapPath: shared.LocationMapPath,
		artifacts:       make(map[models.Stage][]string),
		present:         make(map[Slot]bool),
	}
	for _, s := range shared.InitialSlots() {
		rc.present[s] = true
	}

	for _, s := range needs {
		switch s {
		case SlotIndividualStats:
			rc.IndividualStats = make(map[int][]int)
			rc.present[s] = true
		case SlotExtraPartnersSought:
			rc.ExtraPartnersSought = make([][]int, 0)
			rc.present[s] = true
		}
	}
	return rc
}

// Has reports whether a slot is populated.
func (rc *RunContext) Has(s Slot) bool {
	return rc.present[s]
}

// Slots returns the populated slots, sorted by name.
func (rc *RunContext) Slots() []Slot {
	out := make([]Slot, 0, len(rc.present))
	for s, ok := range rc.present {
		if ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Require returns a ConfigurationError naming every slot that is absent.
func (rc *RunContext) Require(slots ...Slot) error {
	var missing []string
	for _, s := range slots {
		if !rc.present[s] {
			missing = append(missing, string(s))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return models.NewConfigurationError("run context", fmt.Sprintf("missing slot(s): %s", strings.Join(missing, ", ")))
}

// Prop returns a configuration value.
func (rc *RunContext) Prop(key string) (string, bool) {
	v, ok := rc.Props[key]
	return v, ok
}

// SetProp records a value for later stages of this run only.
func (rc *RunContext) SetProp(key, value string) {
	rc.Props[key] = value
}

// PublishArtifacts records the artifacts a stage produced and fills the
// stage's artifact slot. Repeated calls append.
func (rc *RunContext) PublishArtifacts(stage models.Stage, paths ...string) {
	rc.artifacts[stage] = append(rc.artifacts[stage], paths...)
	rc.present[ArtifactSlot(stage)] = true
}

// Artifacts returns the artifacts a stage published.
func (rc *RunContext) Artifacts(stage models.Stage) []string {
	paths := rc.artifacts[stage]
	out := make([]string, len(paths))
	copy(out, paths)
	return out
}

// RecordIndividualStat appends a counter value for an individual. It fails
// when the run was not built with SlotIndividualStats.
func (rc *RunContext) RecordIndividualStat(id, value int) error {
	if err := rc.Require(SlotIndividualStats); err != nil {
		return err
	}
	rc.IndividualStats[id] = append(rc.IndividualStats[id], value)
	return nil
}

// AddExtraPartnerSought appends an unmatched partnership request. It fails
// when the run was not built with SlotExtraPartnersSought.
func (rc *RunContext) AddExtraPartnerSought(entry ...int) error {
	if err := rc.Require(SlotExtraPartnersSought); err != nil {
		return err
	}
	row := make([]int, len(entry))
	copy(row, entry)
	rc.ExtraPartnersSought = append(rc.ExtraPartnersSought, row)
	return nil
}
