package sync

import "slices"

// Phase is a state of the poll loop.
type Phase string

const (
	PhaseIdle          Phase = "IDLE"
	PhaseCheckPending  Phase = "CHECK_PENDING"
	PhaseDeltaReceived Phase = "DELTA_RECEIVED"
	PhaseClassifying   Phase = "CLASSIFYING"
	PhaseResolving     Phase = "RESOLVING"
	PhaseDispatching   Phase = "DISPATCHING"
	PhaseStopped       Phase = "STOPPED"
)

// phaseTransitions lists, per phase, the phases a cycle may move to next.
// Any phase may move to PhaseStopped.
var phaseTransitions = map[Phase][]Phase{
	PhaseIdle:          {PhaseCheckPending},
	PhaseCheckPending:  {PhaseIdle, PhaseDeltaReceived},
	PhaseDeltaReceived: {PhaseIdle, PhaseClassifying},
	PhaseClassifying:   {PhaseResolving, PhaseDispatching},
	PhaseResolving:     {PhaseDispatching},
	PhaseDispatching:   {PhaseIdle},
}

func canTransition(from, to Phase) bool {
	if from == PhaseStopped {
		return false
	}
	if to == PhaseStopped {
		return true
	}
	return slices.Contains(phaseTransitions[from], to)
}
