package models

import (
	"fmt"
	"strings"
)

// Stage identifies one step of the generation pipeline.
type Stage int

const (
	StageDemographic       Stage = iota // Demographic tables and mobility
	StageContactMap                     // Time-varying contact network
	StageCasualPartnership              // Casual-partnership overlay
)

// PipelineOrder lists every stage in the fixed order the pipeline runs them.
var PipelineOrder = []Stage{StageDemographic, StageContactMap, StageCasualPartnership}

var stageNames = [...]string{
	StageDemographic:       "demographic",
	StageContactMap:        "contact-map",
	StageCasualPartnership: "casual-partnership",
}

// Valid returns true if the stage is a recognized value.
func (s Stage) Valid() bool {
	return s >= StageDemographic && s <= StageCasualPartnership
}

// String returns the stage's canonical name.
func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// Bit returns the GEN_SETTING bit selecting this stage.
func (s Stage) Bit() int {
	return 1 << uint(s)
}

// ParseStage maps a canonical stage name to a Stage. Matching ignores case
// and accepts underscores in place of dashes.
func ParseStage(name string) (Stage, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
	for _, s := range PipelineOrder {
		if stageNames[s] == norm {
			return s, nil
		}
	}
	return 0, NewConfigurationError("stage", fmt.Sprintf("unknown stage %q (valid: demographic, contact-map, casual-partnership)", name))
}

// StageSet is the set of stages enabled for a batch. The zero value is the
// empty set, which is legal: every run completes without doing stage work.
type StageSet struct {
	bits uint8
}

// AllStages returns a set containing every stage.
func AllStages() StageSet {
	return NewStageSet(PipelineOrder...)
}

// NewStageSet returns a set containing the given stages.
func NewStageSet(stages ...Stage) StageSet {
	var set StageSet
	for _, s := range stages {
		if s.Valid() {
			set.bits |= uint8(s.Bit())
		}
	}
	return set
}

// StageSetFromMask translates the external GEN_SETTING bitmask into a typed
// set. Bits outside the three known stages are rejected.
func StageSetFromMask(mask int) (StageSet, error) {
	all := AllStages()
	if mask < 0 || mask&^int(all.bits) != 0 {
		return StageSet{}, NewConfigurationError("GEN_SETTING", fmt.Sprintf("invalid stage mask %d (valid range 0-%d)", mask, all.bits))
	}
	return StageSet{bits: uint8(mask)}, nil
}

// ParseStageSet parses a comma separated list of stage names. The literal
// "all" selects every stage and "none" or an empty string selects none.
func ParseStageSet(list string) (StageSet, error) {
	trimmed := strings.TrimSpace(list)
	switch strings.ToLower(trimmed) {
	case "", "none":
		return StageSet{}, nil
	case "all":
		return AllStages(), nil
	}
	var set StageSet
	for _, part := range strings.Split(trimmed, ",") {
		s, err := ParseStage(part)
		if err != nil {
			return StageSet{}, err
		}
		set = set.With(s)
	}
	return set, nil
}

// Has reports whether the stage is enabled.
func (set StageSet) Has(s Stage) bool {
	return s.Valid() && set.bits&uint8(s.Bit()) != 0
}

// With returns a copy of the set with s enabled.
func (set StageSet) With(s Stage) StageSet {
	return NewStageSet(append(set.Ordered(), s)...)
}

// Empty reports whether no stage is enabled.
func (set StageSet) Empty() bool {
	return set.bits == 0
}

// Mask returns the GEN_SETTING bitmask equivalent of the set.
func (set StageSet) Mask() int {
	return int(set.bits)
}

// Ordered returns the enabled stages in pipeline order.
func (set StageSet) Ordered() []Stage {
	out := make([]Stage, 0, len(PipelineOrder))
	for _, s := range PipelineOrder {
		if set.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

// String returns the enabled stage names joined by commas, or "none".
func (set StageSet) String() string {
	ordered := set.Ordered()
	if len(ordered) == 0 {
		return "none"
	}
	names := make([]string, len(ordered))
	for i, s := range ordered {
		names[i] = s.String()
	}
	return strings.Join(names, ",")
}
