package orchestrator

import (
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Outcome classifies how a scoring batch ended. Modelling this as a value
// instead of error control flow lets callers pattern-match every path.
type Outcome string

const (
	// OutcomeSuccess means every event in the batch was scored.
	OutcomeSuccess Outcome = "success"
	// OutcomeRetriableFailure means the batch was aborted before exhausting
	// retries, typically by shutdown; its events are eligible for requeue.
	OutcomeRetriableFailure Outcome = "retriable_failure"
	// OutcomeDeadLettered means retries were exhausted and the batch was
	// preserved in the dead-letter sink; its events are analysis_failed.
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// BatchResult is the orchestrator's verdict for one dispatched batch. On
// success Scores aligns index-for-index with Events.
type BatchResult struct {
	BatchID  string
	Events   []models.LogEvent
	Scores   []models.ScoreResult
	Outcome  Outcome
	Attempts int
	Duration time.Duration
	Err      error
}
