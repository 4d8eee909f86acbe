package aggregate

import (
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/scoring"
)

const (
	// Squash curve parameters. The curve is a logistic over a linear blend
	// of baseline deviation, raw score, and label severity bias. It is
	// monotonic in deviation and bounded to (0,1).
	deviationWeight = 0.8
	scoreWeight     = 2.5
	squashShift     = 2.0

	// minStddev floors the baseline stddev so cold baselines do not turn
	// every deviation into infinity.
	minStddev = 0.15

	excerptLimit = 120
)

var labelBias = map[string]float64{
	"normal":       -1.5,
	"connectivity": 0.75,
	"latency":      0.75,
	"resource":     0.75,
	"error_burst":  0.75,
	"security":     0.75,
}

const defaultLabelBias = 0.4

// Aggregator merges per-event scoring results with rolling per-source
// baselines into confidence-bearing Insights.
type Aggregator struct {
	logger    *slog.Logger
	baselines *BaselineStore
	alpha     float64
	now       func() time.Time
}

// NewAggregator constructs an Aggregator. alpha is the EWMA weight applied to
// new observations; retention bounds how long idle baselines survive.
func NewAggregator(logger *slog.Logger, alpha float64, retention time.Duration) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.3
	}
	return &Aggregator{
		logger:    logger,
		baselines: NewBaselineStore(retention),
		alpha:     alpha,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Baselines exposes the store for persistence checkpoints.
func (a *Aggregator) Baselines() *BaselineStore {
	return a.baselines
}

// Aggregate produces one Insight for a scored event. It fails only on a
// malformed score result (missing label).
func (a *Aggregator) Aggregate(event models.LogEvent, score models.ScoreResult) (models.Insight, error) {
	if strings.TrimSpace(score.Label) == "" {
		return models.Insight{}, &scoring.InvalidScoreError{EventID: event.ID, Reason: "label missing"}
	}

	now := a.now()
	var deviation float64
	a.baselines.WithProfile(event.SourceID, func(profile *BaselineProfile) {
		deviation = profile.Deviation(score.AnomalyScore, minStddev)
		profile.Update(score.AnomalyScore, a.alpha, now)
	})

	confidence := squash(deviation, score.AnomalyScore, score.Label)

	insight := models.Insight{
		EventID:              event.ID,
		SourceID:             event.SourceID,
		Label:                score.Label,
		ModelVersion:         score.ModelVersion,
		NormalizedConfidence: confidence,
		Evidence: []models.Evidence{
			{Kind: models.EvidenceRawScore, Value: score.AnomalyScore},
			{Kind: models.EvidenceBaselineDeviation, Value: deviation},
			{Kind: models.EvidenceMessageExcerpt, Detail: excerpt(event.Message)},
		},
		CreatedAt: now,
	}

	a.logger.Debug("insight computed",
		slog.String("event_id", event.ID),
		slog.String("source_id", event.SourceID),
		slog.String("label", score.Label),
		slog.Float64("confidence", confidence),
	)

	return insight, nil
}

// squash maps (deviation, score, label) onto [0,1] via a logistic curve.
func squash(deviation, score float64, label string) float64 {
	bias, ok := labelBias[strings.ToLower(label)]
	if !ok {
		bias = defaultLabelBias
	}
	z := deviationWeight*deviation + scoreWeight*score + bias - squashShift
	return 1.0 / (1.0 + math.Exp(-z))
}

func excerpt(message string) string {
	if len(message) <= excerptLimit {
		return message
	}
	return message[:excerptLimit]
}
