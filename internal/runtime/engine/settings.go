package engine

import "time"

// Settings configures the runtime engine, grounded on
// original_source/.../runtime/engine.py's RuntimeSettings dataclass.
type Settings struct {
	MaxConcurrentAgents        int           // system-wide
	MaxConsecutiveCallsPerTree int           // per task tree
	ManualSteppingEnabled      bool          // global manual mode
	AutoTriggerEnabled         bool          // auto-progression
	EventProcessingInterval    time.Duration // main loop tick
	MaxTaskDepth               int
	MaxSubtasksPerTask         int
	TaskTimeout                time.Duration
}

// DefaultSettings mirrors the source dataclass's field defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxConcurrentAgents:        5,
		MaxConsecutiveCallsPerTree: 10,
		ManualSteppingEnabled:      false,
		AutoTriggerEnabled:         true,
		EventProcessingInterval:    100 * time.Millisecond,
		MaxTaskDepth:               10,
		MaxSubtasksPerTask:         20,
		TaskTimeout:                time.Hour,
	}
}

// scope identifies where a manual-stepping or call-limit override lives.
type scope string

// Scope is the exported form of scope, for callers outside the package
// (the front door's UpdateRuntimeSettings) that need to name a target.
type Scope = scope

const (
	scopeTask   scope = "task"
	scopeTree   scope = "tree"
	scopeGlobal scope = "global"

	ScopeTask   Scope = scopeTask
	ScopeTree   Scope = scopeTree
	ScopeGlobal Scope = scopeGlobal
)
