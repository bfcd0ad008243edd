// Package state implements the task lifecycle state machine: a fixed
// transition table plus terminal/active/waiting classification.
package state

import "github.com/cklxx/taskgraph/internal/domain"

// Transition is one allowed edge in the state machine.
type Transition struct {
	From domain.TaskState
	To   domain.TaskState
}

// transitions lists every valid edge explicitly, mirroring the source
// table rather than deriving it algorithmically.
var transitions = []Transition{
	{domain.StateCreated, domain.StateProcessAssigned},
	{domain.StateCreated, domain.StateFailed},

	{domain.StateProcessAssigned, domain.StateReadyForAgent},
	{domain.StateProcessAssigned, domain.StateFailed},

	{domain.StateReadyForAgent, domain.StateAgentResponding},
	{domain.StateReadyForAgent, domain.StateManualHold},
	{domain.StateReadyForAgent, domain.StateFailed},

	{domain.StateWaitingOnDependencies, domain.StateReadyForAgent},
	{domain.StateWaitingOnDependencies, domain.StateFailed},

	{domain.StateAgentResponding, domain.StateToolProcessing},
	{domain.StateAgentResponding, domain.StateCompleted},
	{domain.StateAgentResponding, domain.StateReadyForAgent},
	{domain.StateAgentResponding, domain.StateFailed},

	{domain.StateToolProcessing, domain.StateWaitingOnDependencies},
	{domain.StateToolProcessing, domain.StateReadyForAgent},
	{domain.StateToolProcessing, domain.StateCompleted},
	{domain.StateToolProcessing, domain.StateFailed},

	{domain.StateManualHold, domain.StateReadyForAgent},
}

// Machine holds the precomputed transition map.
type Machine struct {
	allowed map[domain.TaskState]map[domain.TaskState]bool
}

// New builds a Machine from the fixed transition table.
func New() *Machine {
	m := &Machine{allowed: make(map[domain.TaskState]map[domain.TaskState]bool)}
	for _, t := range transitions {
		set, ok := m.allowed[t.From]
		if !ok {
			set = make(map[domain.TaskState]bool)
			m.allowed[t.From] = set
		}
		set[t.To] = true
	}
	return m
}

// IsValid reports whether from -> to is a legal transition.
func (m *Machine) IsValid(from, to domain.TaskState) bool {
	set, ok := m.allowed[from]
	if !ok {
		return false
	}
	return set[to]
}

// ValidTargets returns the states reachable in one hop from from.
func (m *Machine) ValidTargets(from domain.TaskState) []domain.TaskState {
	set := m.allowed[from]
	out := make([]domain.TaskState, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// Classification buckets a state as terminal, active, or waiting.
type Classification int

const (
	ClassOther Classification = iota
	ClassTerminal
	ClassActive
	ClassWaiting
)

// Classify matches spec: COMPLETED/FAILED terminal; AGENT_RESPONDING,
// TOOL_PROCESSING, PROCESS_ASSIGNED active; WAITING_ON_DEPENDENCIES,
// MANUAL_HOLD waiting.
func Classify(s domain.TaskState) Classification {
	switch s {
	case domain.StateCompleted, domain.StateFailed:
		return ClassTerminal
	case domain.StateAgentResponding, domain.StateToolProcessing, domain.StateProcessAssigned:
		return ClassActive
	case domain.StateWaitingOnDependencies, domain.StateManualHold:
		return ClassWaiting
	default:
		return ClassOther
	}
}

func IsTerminal(s domain.TaskState) bool { return Classify(s) == ClassTerminal }
func IsActive(s domain.TaskState) bool   { return Classify(s) == ClassActive }
func IsWaiting(s domain.TaskState) bool  { return Classify(s) == ClassWaiting }
