// Package stage defines the contract between the pipeline and the stage
// executors that generate demographic tables, contact maps and casual
// partnerships. The generators themselves are external; this package only
// adapts them to the pipeline.
package stage

import (
	"context"
	"fmt"

	"github.com/nvandessel/rmpgen/internal/models"
	"github.com/nvandessel/rmpgen/internal/runctx"
)

// Executor runs one stage for one seed. It may read any slot present in rc
// and must populate the slots it lists in Provides. An executor that fails
// midway is responsible for leaving its on-disk output consistent; the
// pipeline never cleans up after it.
type Executor interface {
	Stage() models.Stage
	Requires() []runctx.Slot
	Provides() []runctx.Slot
	Execute(ctx context.Context, seed int64, rc *runctx.RunContext) error
}

// Func adapts a plain function into an Executor.
type Func struct {
	For    models.Stage
	Needs  []runctx.Slot
	Yields []runctx.Slot
	Fn     func(ctx context.Context, seed int64, rc *runctx.RunContext) error
}

func (f Func) Stage() models.Stage { return f.For }
func (f Func) Requires() []runctx.Slot { return f.Needs }
func (f Func) Provides() []runctx.Slot { return f.Yields }

// Execute calls Fn. A nil Fn does nothing.
func (f Func) Execute(ctx context.Context, seed int64, rc *runctx.RunContext) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx, seed, rc)
}

// Registry maps each stage to its executor.
type Registry struct {
	executors map[models.Stage]Executor
}

// NewRegistry builds a registry. Registering two executors for the same
// stage is a configuration error.
func NewRegistry(executors ...Executor) (*Registry, error) {
	r := &Registry{executors: make(map[models.Stage]Executor, len(executors))}
	for _, e := range executors {
		if e == nil {
			continue
		}
		s := e.Stage()
		if !s.Valid() {
			return nil, models.NewConfigurationError("stages", fmt.Sprintf("executor for invalid stage %v", s))
		}
		if _, dup := r.executors[s]; dup {
			return nil, models.NewConfigurationError("stages", fmt.Sprintf("duplicate executor for stage %s", s))
		}
		r.executors[s] = e
	}
	return r, nil
}

// Lookup returns the executor registered for a stage.
func (r *Registry) Lookup(s models.Stage) (Executor, bool) {
	if r == nil {
		return nil, false
	}
	e, ok := r.executors[s]
	return e, ok
}

// Stages returns the registered stages in pipeline order.
func (r *Registry) Stages() models.StageSet {
	var set models.StageSet
	for s := range r.executors {
		set = set.With(s)
	}
	return set
}

// Covers returns a ConfigurationError if an enabled stage has no executor.
func (r *Registry) Covers(enabled models.StageSet) error {
	for _, s := range enabled.Ordered() {
		if _, ok := r.Lookup(s); !ok {
			return models.NewConfigurationError("stages", fmt.Sprintf("stage %s is enabled but has no executor configured", s))
		}
	}
	return nil
}
