package lifecycle

import "github.com/miradorstack/mirador-sentinel/internal/models"

// Event enumerates lifecycle triggers.
type Event string

const (
	EventTriageThresholdMet Event = "triage_threshold_met"
	EventProposalIssued     Event = "proposal_issued"
	EventAcknowledged       Event = "acknowledged"
	EventAutoApplySucceeded Event = "auto_apply_succeeded"
	EventEscalationTimeout  Event = "escalation_timeout"
	EventClosureRequested   Event = "closure_requested"
)

// transitions is the full state machine: state × event → next state. Absent
// cells mean the event is a no-op in that state, which is what makes every
// transition idempotent under redelivery.
var transitions = map[models.IncidentStatus]map[Event]models.IncidentStatus{
	models.StatusDetected: {
		EventTriageThresholdMet: models.StatusTriaged,
		EventEscalationTimeout:  models.StatusEscalated,
	},
	models.StatusTriaged: {
		EventProposalIssued:    models.StatusProposalPending,
		EventEscalationTimeout: models.StatusEscalated,
	},
	models.StatusProposalPending: {
		EventAcknowledged:       models.StatusResolved,
		EventAutoApplySucceeded: models.StatusResolved,
		EventEscalationTimeout:  models.StatusEscalated,
	},
	models.StatusEscalated: {
		EventClosureRequested: models.StatusClosed,
	},
	models.StatusResolved: {
		EventClosureRequested: models.StatusClosed,
	},
	models.StatusClosed: {},
}

// Next returns the target state for applying event in state. ok is false when
// the event does not apply, which callers treat as a no-op.
func Next(state models.IncidentStatus, event Event) (models.IncidentStatus, bool) {
	row, ok := transitions[state]
	if !ok {
		return state, false
	}
	next, ok := row[event]
	return next, ok
}
