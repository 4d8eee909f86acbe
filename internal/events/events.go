package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Type enumerates outbound pipeline events.
type Type string

const (
	TypeIncidentOpened       Type = "incident_opened"
	TypeIncidentUpdated      Type = "incident_updated"
	TypeIncidentTransitioned Type = "incident_transitioned"
	TypeRemediationProposed  Type = "remediation_proposed"
	TypeAnalysisFailed       Type = "analysis_failed"
)

// Transition records a lifecycle move.
type Transition struct {
	From models.IncidentStatus
	To   models.IncidentStatus
}

// Failure describes an event the pipeline could not analyse.
type Failure struct {
	EventID  string
	SourceID string
	BatchID  string
	Reason   string
}

// Envelope is the outbound event record. Incident payloads are full
// snapshots so downstream consumers can render idempotently.
type Envelope struct {
	ID         string
	Type       Type
	OccurredAt time.Time
	Incident   *models.Incident
	Transition *Transition
	Proposal   *models.RemediationProposal
	Failure    *Failure
}

func newEnvelope(t Type) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
	}
}

// NewIncidentOpened builds an IncidentOpened envelope.
func NewIncidentOpened(incident models.Incident) Envelope {
	e := newEnvelope(TypeIncidentOpened)
	e.Incident = &incident
	return e
}

// NewIncidentUpdated builds an IncidentUpdated envelope.
func NewIncidentUpdated(incident models.Incident) Envelope {
	e := newEnvelope(TypeIncidentUpdated)
	e.Incident = &incident
	return e
}

// NewIncidentTransitioned builds an IncidentTransitioned envelope.
func NewIncidentTransitioned(incident models.Incident, from, to models.IncidentStatus) Envelope {
	e := newEnvelope(TypeIncidentTransitioned)
	e.Incident = &incident
	e.Transition = &Transition{From: from, To: to}
	return e
}

// NewRemediationProposed builds a RemediationProposed envelope.
func NewRemediationProposed(incident models.Incident, proposal models.RemediationProposal) Envelope {
	e := newEnvelope(TypeRemediationProposed)
	e.Incident = &incident
	e.Proposal = &proposal
	return e
}

// NewAnalysisFailed builds an AnalysisFailed envelope.
func NewAnalysisFailed(failure Failure) Envelope {
	e := newEnvelope(TypeAnalysisFailed)
	e.Failure = &failure
	return e
}
