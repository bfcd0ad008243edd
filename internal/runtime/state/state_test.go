package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklxx/taskgraph/internal/domain"
)

func TestMachine_IsValid_TableDriven(t *testing.T) {
	m := New()

	cases := []struct {
		from, to domain.TaskState
		want     bool
	}{
		{domain.StateCreated, domain.StateProcessAssigned, true},
		{domain.StateCreated, domain.StateReadyForAgent, false},
		{domain.StateReadyForAgent, domain.StateAgentResponding, true},
		{domain.StateReadyForAgent, domain.StateManualHold, true},
		{domain.StateAgentResponding, domain.StateCompleted, true},
		{domain.StateAgentResponding, domain.StateReadyForAgent, true},
		{domain.StateToolProcessing, domain.StateWaitingOnDependencies, true},
		{domain.StateManualHold, domain.StateReadyForAgent, true},
		{domain.StateManualHold, domain.StateAgentResponding, false},
		{domain.StateCompleted, domain.StateFailed, false},
		{domain.StateFailed, domain.StateReadyForAgent, false},
	}

	for _, c := range cases {
		got := m.IsValid(c.from, c.to)
		assert.Equalf(t, c.want, got, "%s -> %s", c.from, c.to)
	}
}

func TestClassify(t *testing.T) {
	require.Equal(t, ClassTerminal, Classify(domain.StateCompleted))
	require.Equal(t, ClassTerminal, Classify(domain.StateFailed))
	require.Equal(t, ClassActive, Classify(domain.StateAgentResponding))
	require.Equal(t, ClassActive, Classify(domain.StateToolProcessing))
	require.Equal(t, ClassActive, Classify(domain.StateProcessAssigned))
	require.Equal(t, ClassWaiting, Classify(domain.StateWaitingOnDependencies))
	require.Equal(t, ClassWaiting, Classify(domain.StateManualHold))
	require.Equal(t, ClassOther, Classify(domain.StateCreated))
}

func TestTerminalIsSticky(t *testing.T) {
	m := New()
	for _, terminal := range []domain.TaskState{domain.StateCompleted, domain.StateFailed} {
		targets := m.ValidTargets(terminal)
		assert.Empty(t, targets, "terminal state %s must have no outgoing transitions", terminal)
	}
}
