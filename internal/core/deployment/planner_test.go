package deployment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// CanTransition Tests
// =============================================================================

func TestCanTransition_UpSequence(t *testing.T) {
	sequence := []Phase{
		PhaseLoading,
		PhaseStoppingPrevious,
		PhaseProvisioningNetworks,
		PhaseProvisioningVolumes,
		PhaseLaunchingServices,
		PhaseSteady,
		PhaseExited,
	}
	for i := 0; i+1 < len(sequence); i++ {
		assert.True(t, CanTransition(sequence[i], sequence[i+1]), "%s -> %s", sequence[i], sequence[i+1])
	}
}

func TestCanTransition_TableDriven(t *testing.T) {
	tests := []struct {
		from     Phase
		to       Phase
		expected bool
	}{
		{PhaseLoading, PhaseLaunchingServices, false},
		{PhaseLoading, PhaseExited, true},
		{PhaseStoppingPrevious, PhaseLoading, false},
		{PhaseProvisioningVolumes, PhaseProvisioningNetworks, false},
		{PhaseLaunchingServices, PhaseExited, true},
		{PhaseSteady, PhaseLaunchingServices, false},
		{PhaseExited, PhaseExited, false},
		{PhaseExited, PhaseLoading, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.expected, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminalPhase(t *testing.T) {
	assert.Equal(t, PhaseExited, TerminalPhase(true))
	assert.Equal(t, PhaseSteady, TerminalPhase(false))
}
