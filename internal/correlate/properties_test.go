package correlate

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Insights sharing a source group and signature within one correlation window
// must converge into exactly one open incident regardless of arrival order,
// and the aggregate confidence must equal the max member confidence.
func TestCorrelationOrderInsensitive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	confidences := gen.SliceOfN(6, gen.Float64Range(0.2, 1.0))
	permutation := gen.SliceOfN(6, gen.IntRange(0, 5))

	properties.Property("one incident per window and signature", prop.ForAll(
		func(confs []float64, order []int) bool {
			engine := NewEngine(nil, 5*time.Minute, 0.15)
			base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
			engine.now = func() time.Time { return base }

			for _, idx := range order {
				insight := models.Insight{
					EventID:              fmt.Sprintf("ev-%d", idx),
					SourceID:             fmt.Sprintf("web-%d", idx%3),
					Label:                "connectivity",
					NormalizedConfidence: confs[idx],
				}
				if _, err := engine.Apply(insight, "connection refused to 10.0.0.1"); err != nil {
					return false
				}
			}

			ids := engine.ActiveIncidentIDs()
			if len(ids) != 1 {
				return false
			}

			incident, ok := engine.Snapshot(ids[0])
			if !ok {
				return false
			}

			seen := make(map[int]bool)
			for _, idx := range order {
				seen[idx] = true
			}
			if len(incident.MemberInsights) != len(seen) {
				return false
			}

			max := 0.0
			for _, member := range incident.MemberInsights {
				if member.NormalizedConfidence > max {
					max = member.NormalizedConfidence
				}
			}
			return incident.AggregateConfidence == max
		},
		confidences,
		permutation,
	))

	properties.Property("duplicates never grow membership", prop.ForAll(
		func(confidence float64, redeliveries int) bool {
			engine := NewEngine(nil, 5*time.Minute, 0.15)
			base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
			engine.now = func() time.Time { return base }

			insight := models.Insight{
				EventID:              "ev-dup",
				SourceID:             "web-1",
				Label:                "connectivity",
				NormalizedConfidence: confidence,
			}

			for i := 0; i <= redeliveries; i++ {
				if _, err := engine.Apply(insight, "connection refused"); err != nil {
					return false
				}
			}

			ids := engine.ActiveIncidentIDs()
			if len(ids) != 1 {
				return false
			}
			incident, _ := engine.Snapshot(ids[0])
			return len(incident.MemberInsights) == 1
		},
		gen.Float64Range(0.2, 1.0),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}
