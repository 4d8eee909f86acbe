package models

import "time"

// IncidentStatus enumerates lifecycle states.
type IncidentStatus string

const (
	StatusDetected        IncidentStatus = "detected"
	StatusTriaged         IncidentStatus = "triaged"
	StatusProposalPending IncidentStatus = "proposal_pending"
	StatusResolved        IncidentStatus = "resolved"
	StatusEscalated       IncidentStatus = "escalated"
	StatusClosed          IncidentStatus = "closed"
)

// IsOpen reports whether the incident can still accept members or transitions.
func (s IncidentStatus) IsOpen() bool {
	return s != StatusResolved && s != StatusClosed
}

// IsTerminal reports whether no further transitions apply.
func (s IncidentStatus) IsTerminal() bool {
	return s == StatusClosed
}

// Severity captures impact levels derived from confidence.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityFromConfidence buckets a normalized confidence into a Severity.
func SeverityFromConfidence(confidence float64) Severity {
	switch {
	case confidence >= 0.95:
		return SeverityCritical
	case confidence >= 0.85:
		return SeverityHigh
	case confidence >= 0.7:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Incident is a cluster of correlated Insights representing one operational issue.
// MemberInsights is append-only; AggregateConfidence is always recomputable from it.
type Incident struct {
	ID                  string         `json:"id"`
	SourceGroup         string         `json:"source_group"`
	Signature           string         `json:"signature"`
	Status              IncidentStatus `json:"status"`
	OpenedAt            time.Time      `json:"opened_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	ResolvedAt          *time.Time     `json:"resolved_at,omitempty"`
	ClosedAt            *time.Time     `json:"closed_at,omitempty"`
	MemberInsights      []Insight      `json:"member_insights"`
	AggregateConfidence float64        `json:"aggregate_confidence"`
	ResolutionNotes     string         `json:"resolution_notes,omitempty"`
	Corrupted           bool           `json:"corrupted,omitempty"`
}

// AggregateConfidenceOf recomputes the incident confidence summary from scratch.
// It is the maximum member confidence, which keeps the summary monotonically
// non-decreasing under append-only membership.
func AggregateConfidenceOf(members []Insight) float64 {
	max := 0.0
	for _, m := range members {
		if m.NormalizedConfidence > max {
			max = m.NormalizedConfidence
		}
	}
	return max
}

// HasMember reports whether the insight for the given event ID was already applied.
func (i *Incident) HasMember(eventID string) bool {
	for _, m := range i.MemberInsights {
		if m.EventID == eventID {
			return true
		}
	}
	return false
}

// Severity derives the incident severity from its aggregate confidence.
func (i *Incident) Severity() Severity {
	return SeverityFromConfidence(i.AggregateConfidence)
}

// Snapshot returns a deep copy safe to hand to outbound consumers.
func (i *Incident) Snapshot() Incident {
	out := *i
	out.MemberInsights = append([]Insight(nil), i.MemberInsights...)
	if i.ResolvedAt != nil {
		t := *i.ResolvedAt
		out.ResolvedAt = &t
	}
	if i.ClosedAt != nil {
		t := *i.ClosedAt
		out.ClosedAt = &t
	}
	return out
}

// RemediationProposal is an emitted remediation suggestion for an incident.
type RemediationProposal struct {
	IncidentID string    `json:"incident_id"`
	Action     string    `json:"action"`
	Confidence float64   `json:"confidence"`
	AutoApply  bool      `json:"auto_apply"`
	CreatedAt  time.Time `json:"created_at"`
}
