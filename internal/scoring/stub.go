package scoring

import (
	"context"
	"strings"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// StubScorer is a deterministic in-process Scorer for tests and local
// development. It labels events by keyword and scores by level severity.
type StubScorer struct {
	ModelVersion string
}

// NewStubScorer constructs a StubScorer.
func NewStubScorer() *StubScorer {
	return &StubScorer{ModelVersion: "stub-v1"}
}

// Score produces one result per event, in order, and never fails.
func (s *StubScorer) Score(_ context.Context, batch []models.LogEvent) ([]models.ScoreResult, error) {
	results := make([]models.ScoreResult, 0, len(batch))
	for _, event := range batch {
		results = append(results, models.ScoreResult{
			Label:        labelFor(event),
			AnomalyScore: scoreFor(event),
			ModelVersion: s.ModelVersion,
		})
	}
	return results, nil
}

func labelFor(event models.LogEvent) string {
	message := strings.ToLower(event.Message)
	switch {
	case strings.Contains(message, "timeout") || strings.Contains(message, "deadline"):
		return "latency"
	case strings.Contains(message, "refused") || strings.Contains(message, "connection"):
		return "connectivity"
	case strings.Contains(message, "oom") || strings.Contains(message, "memory"):
		return "resource"
	case event.Level.IsError():
		return "error_burst"
	default:
		return "normal"
	}
}

func scoreFor(event models.LogEvent) float64 {
	base := float64(event.Level.Numeric()) / 50.0
	if base <= 0 {
		base = 0.2
	}
	return base
}
