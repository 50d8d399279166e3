package deployment

// =============================================================================
// Run Phase Planning
// =============================================================================

// Phase is a state of the orchestration driver for one invocation.
type Phase string

// Driver phases, in the order an `up` invocation moves through them.
const (
	PhaseLoading              Phase = "loading"
	PhaseStoppingPrevious     Phase = "stopping-previous"
	PhaseProvisioningNetworks Phase = "provisioning-networks"
	PhaseProvisioningVolumes  Phase = "provisioning-volumes"
	PhaseLaunchingServices    Phase = "launching-services"
	PhaseSteady               Phase = "steady"
	PhaseExited               Phase = "exited"
)

// CanTransition reports whether the driver may move from one phase to the
// next.
//
// Valid paths:
//   - loading → stopping-previous → provisioning-networks →
//     provisioning-volumes → launching-services
//   - launching-services → steady (attached) or exited (detached)
//   - steady → exited
//   - any phase → exited (fatal error or cancellation)
//
// Example:
//
//	if !CanTransition(current, PhaseLaunchingServices) {
//	    return fmt.Errorf("cannot launch from %s", current)
//	}
func CanTransition(from, to Phase) bool {
	if to == PhaseExited {
		return from != PhaseExited
	}
	switch from {
	case PhaseLoading:
		return to == PhaseStoppingPrevious
	case PhaseStoppingPrevious:
		return to == PhaseProvisioningNetworks
	case PhaseProvisioningNetworks:
		return to == PhaseProvisioningVolumes
	case PhaseProvisioningVolumes:
		return to == PhaseLaunchingServices
	case PhaseLaunchingServices:
		return to == PhaseSteady
	default:
		return false
	}
}

// TerminalPhase returns the phase reached after the last launch.
// Attached runs stay steady until interrupted; detached runs exit.
func TerminalPhase(detach bool) Phase {
	if detach {
		return PhaseExited
	}
	return PhaseSteady
}
