package models

import "time"

// EvidenceKind enumerates the signal types contributing to an Insight.
type EvidenceKind string

const (
	EvidenceRawScore          EvidenceKind = "raw_score"
	EvidenceBaselineDeviation EvidenceKind = "baseline_deviation"
	EvidenceMessageExcerpt    EvidenceKind = "message_excerpt"
)

// Evidence is one contributing signal recorded on an Insight.
type Evidence struct {
	Kind   EvidenceKind `json:"kind"`
	Value  float64      `json:"value"`
	Detail string       `json:"detail,omitempty"`
}

// Insight is a scored, confidence-bearing interpretation of one log event.
// Immutable once created by the aggregator.
type Insight struct {
	EventID              string     `json:"event_id"`
	SourceID             string     `json:"source_id"`
	Label                string     `json:"label"`
	ModelVersion         string     `json:"model_version"`
	NormalizedConfidence float64    `json:"normalized_confidence"`
	Evidence             []Evidence `json:"evidence"`
	CreatedAt            time.Time  `json:"created_at"`
}
