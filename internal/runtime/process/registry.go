package process

import (
	"context"
	"fmt"
	"sync"

	"github.com/cklxx/taskgraph/internal/errtax"
	"github.com/cklxx/taskgraph/internal/logging"
)

// Registry is an in-process map of process-name -> Process, the explicit
// string-keyed registry the source's reflection-based module loader is
// replaced with.
type Registry struct {
	mu        sync.RWMutex
	processes map[string]Process
	logger    *logging.ComponentLogger
}

// NewRegistry builds a Registry pre-populated with the six built-in
// processes against rt.
func NewRegistry(rt Runtime) *Registry {
	r := &Registry{
		processes: make(map[string]Process),
		logger:    logging.ProcessLogger,
	}
	for _, p := range []Process{
		NewBreakDownTask(rt),
		NewCreateSubtask(rt),
		NewEndTask(rt),
		NewNeedMoreContext(rt),
		NewNeedMoreTools(rt),
		NewFlagForReview(rt),
	} {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a process under its own Name().
func (r *Registry) Register(p Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processes[p.Name()] = p
}

// Lookup resolves a process by its canonical name only; aliases such as
// start_subtask and request_context are not resolved here (the engine maps
// them through domain.ProcessTriggerNames before calling Execute).
func (r *Registry) Lookup(name string) (Process, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processes[name]
	return p, ok
}

// Execute validates params then runs the named process, reporting unknown
// names and validation failures as typed errtax errors rather than failing
// the calling task.
func (r *Registry) Execute(ctx context.Context, name string, p Params) (Result, error) {
	proc, ok := r.Lookup(name)
	if !ok {
		return Result{}, errtax.New(errtax.NotFound, name, "unknown process")
	}
	if err := proc.ValidateParams(p); err != nil {
		r.logger.Warn("process %s rejected params: %v", name, err)
		return Result{Success: false, Error: err.Error()}, nil
	}
	res, err := proc.Execute(ctx, p)
	if err != nil {
		return Result{}, fmt.Errorf("process %s: %w", name, err)
	}
	return res, nil
}
