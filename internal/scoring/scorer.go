package scoring

import (
	"context"
	"fmt"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Scorer is the external classification/anomaly-scoring capability. The
// result slice has the same length and order as the input batch. The core
// never assumes in-process execution: implementations may be remote, slow,
// and occasionally unavailable.
type Scorer interface {
	Score(ctx context.Context, batch []models.LogEvent) ([]models.ScoreResult, error)
}

// UnavailableError signals that the scoring capability could not serve the
// batch. The orchestrator treats it as retriable.
type UnavailableError struct {
	Reason string
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("scoring unavailable: %s", e.Reason)
	}
	return fmt.Sprintf("scoring unavailable: %s: %v", e.Reason, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// InvalidScoreError signals a malformed ScoreResult (missing label). The
// affected event is marked analysis_failed; the pipeline continues.
type InvalidScoreError struct {
	EventID string
	Reason  string
}

func (e *InvalidScoreError) Error() string {
	return fmt.Sprintf("invalid score for event %s: %s", e.EventID, e.Reason)
}

// ValidateResults checks a scorer reply against its input batch.
func ValidateResults(batch []models.LogEvent, results []models.ScoreResult) error {
	if len(results) != len(batch) {
		return &UnavailableError{Reason: fmt.Sprintf("result count %d does not match batch size %d", len(results), len(batch))}
	}
	return nil
}
