package runner

import (
	"fmt"
	"log/slog"

	"github.com/me/slideflow/pkg/model"
)

// Registry maps JobType tags to their Runner implementations.
// Registration happens at startup before concurrent access, so no mutex is needed.
type Registry struct {
	runners map[model.JobType]Runner
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		runners: make(map[model.JobType]Runner),
		logger:  logger.With("component", "runner-registry"),
	}
}

// Register adds a Runner to the registry, keyed by its Type().
func (r *Registry) Register(run Runner) {
	t := run.Type()
	r.runners[t] = run
	r.logger.Info("runner registered", "type", t)
}

// Get returns the Runner for the given type or an error if none is registered.
func (r *Registry) Get(t model.JobType) (Runner, error) {
	run, ok := r.runners[t]
	if !ok {
		return nil, fmt.Errorf("no runner registered for type %q", t)
	}
	return run, nil
}

// Known reports whether a runner is registered for the given type. The
// workflow registry consults this during submission validation.
func (r *Registry) Known(t model.JobType) bool {
	_, ok := r.runners[t]
	return ok
}

// Types returns the registered type tags.
func (r *Registry) Types() []model.JobType {
	types := make([]model.JobType, 0, len(r.runners))
	for t := range r.runners {
		types = append(types, t)
	}
	return types
}
