// Package seeds derives the per-run sub-seeds of a batch.
//
// Determinism lives entirely here: for a fixed base seed the derived
// sequence is identical on every machine and independent of how the runs
// are scheduled afterwards. Derived sequences are prefix stable, so
// Derive(b, n)[:k] equals Derive(b, k).
package seeds

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nvandessel/rmpgen/internal/models"
)

// Source records where a batch's seeds came from.
type Source string

const (
	SourceExplicit Source = "explicit"
	SourceDerived  Source = "derived"
)

// Sequence draws sub-seeds from one base seed in a single fixed-order pass.
type Sequence struct {
	base  int64
	rng   *mersenneTwister
	drawn int
}

// NewSequence creates a sequence seeded with base.
func NewSequence(base int64) *Sequence {
	return &Sequence{base: base, rng: newMersenneTwister(base)}
}

// Next returns the next sub-seed.
func (s *Sequence) Next() int64 {
	s.drawn++
	return s.rng.Int64()
}

// Base returns the base seed the sequence was created with.
func (s *Sequence) Base() int64 { return s.base }

// Drawn returns how many sub-seeds have been produced so far.
func (s *Sequence) Drawn() int { return s.drawn }

// Derive returns count sub-seeds derived from baseSeed.
func Derive(baseSeed int64, count int) ([]int64, error) {
	if count <= 0 {
		return nil, models.NewConfigurationError("NUM_RUNS", fmt.Sprintf("run count must be positive, got %d", count))
	}
	seq := NewSequence(baseSeed)
	out := make([]int64, count)
	for i := range out {
		out[i] = seq.Next()
	}
	return out, nil
}

// Request gathers every seed input a batch invocation may carry.
type Request struct {
	// Explicit is a literal seed list (-seedList). When non-empty it is used
	// verbatim and all other fields are ignored.
	Explicit []int64

	// GenBase and GenCount come from -genSeed. Values <= 0 mean "not given"
	// and fall back to the configured values.
	GenBase  int64
	GenCount int

	// ConfigBase and ConfigCount come from BASE_SEED and NUM_RUNS.
	// ConfigBase is nil when the key is absent.
	ConfigBase  *int64
	ConfigCount int
}

// Resolution is the seed list a batch will dispatch, plus its provenance.
type Resolution struct {
	Seeds    []int64
	Source   Source
	BaseSeed int64
	Count    int
}

// Resolve picks the seed list for a batch. An explicit list always wins;
// otherwise seeds are derived from the -genSeed values, falling back to the
// configured base seed and run count.
func Resolve(req Request) (Resolution, error) {
	if len(req.Explicit) > 0 {
		seeds := make([]int64, len(req.Explicit))
		copy(seeds, req.Explicit)
		return Resolution{Seeds: seeds, Source: SourceExplicit, Count: len(seeds)}, nil
	}

	var base int64
	switch {
	case req.GenBase > 0:
		base = req.GenBase
	case req.ConfigBase != nil:
		base = *req.ConfigBase
	default:
		return Resolution{}, models.NewConfigurationError("BASE_SEED", "no seed list given and no base seed configured")
	}

	count := req.GenCount
	if count <= 0 {
		count = req.ConfigCount
	}

	derived, err := Derive(base, count)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Seeds: derived, Source: SourceDerived, BaseSeed: base, Count: count}, nil
}

// ParseList parses a comma separated literal seed list such as "1,2,3".
func ParseList(s string) ([]int64, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, models.NewConfigurationError("seedList", "seed list is empty")
	}
	parts := strings.Split(trimmed, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, models.WrapConfigurationError("seedList", fmt.Sprintf("invalid seed %q", p), err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ParseGenSpec parses a "BASESEED,NUM_SIM" pair as given to -genSeed.
func ParseGenSpec(s string) (base int64, count int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return 0, 0, models.NewConfigurationError("genSeed", fmt.Sprintf("expected BASESEED,NUM_SIM, got %q", s))
	}
	base, err = strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, 0, models.WrapConfigurationError("genSeed", fmt.Sprintf("invalid base seed %q", parts[0]), err)
	}
	count, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, models.WrapConfigurationError("genSeed", fmt.Sprintf("invalid run count %q", parts[1]), err)
	}
	return base, count, nil
}

// FormatList renders seeds in the -seedList literal form.
func FormatList(seeds []int64) string {
	parts := make([]string, len(seeds))
	for i, s := range seeds {
		parts[i] = strconv.FormatInt(s, 10)
	}
	return strings.Join(parts, ",")
}
