package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels batches scored successfully.
	OutcomeSuccess = "success"
	// OutcomeRetried labels batches that needed at least one retry.
	OutcomeRetried = "retried"
	// OutcomeDeadLettered labels batches that exhausted retries.
	OutcomeDeadLettered = "dead_lettered"
	// OutcomeCancelled labels batches aborted by shutdown.
	OutcomeCancelled = "cancelled"
)

var (
	eventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "events_ingested_total",
			Help:      "Raw log lines accepted by the pipeline, partitioned by parse result.",
		},
		[]string{"result"},
	)

	batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "score_batches_total",
			Help:      "Scoring batches dispatched, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	scoringDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_sentinel",
			Name:      "scoring_seconds",
			Help:      "Scoring call latency in seconds, including retries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13},
		},
	)

	scoringRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "scoring_retries_total",
			Help:      "Individual scoring attempts beyond the first, across all batches.",
		},
	)

	analysisFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "analysis_failed_events_total",
			Help:      "Log events marked analysis_failed after dead-lettering or invalid scores.",
		},
	)

	insightsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "insights_total",
			Help:      "Insights computed by the aggregator, partitioned by disposition.",
		},
		[]string{"disposition"},
	)

	incidentsOpenedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "incidents_opened_total",
			Help:      "Incidents opened by the correlation engine.",
		},
	)

	incidentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "incident_transitions_total",
			Help:      "Lifecycle transitions, partitioned by source and target state.",
		},
		[]string{"from", "to"},
	)

	proposalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "remediation_proposals_total",
			Help:      "Remediation proposals emitted, partitioned by auto-apply flag.",
		},
		[]string{"auto_apply"},
	)
)

// Register attaches all sentinel collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		eventsIngested,
		batchesTotal,
		scoringDurationSeconds,
		scoringRetriesTotal,
		analysisFailedTotal,
		insightsTotal,
		incidentsOpenedTotal,
		incidentTransitionsTotal,
		proposalsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveIngest records one accepted or rejected raw line.
func ObserveIngest(parsed bool) {
	result := "parsed"
	if !parsed {
		result = "rejected"
	}
	eventsIngested.WithLabelValues(result).Inc()
}

// ObserveBatch records a completed scoring batch.
func ObserveBatch(outcome string, attempts int, duration time.Duration) {
	batchesTotal.WithLabelValues(outcome).Inc()
	if attempts > 1 {
		scoringRetriesTotal.Add(float64(attempts - 1))
	}
	if duration < 0 {
		duration = 0
	}
	scoringDurationSeconds.Observe(duration.Seconds())
}

// AddAnalysisFailed counts events that will never produce insights.
func AddAnalysisFailed(count int) {
	analysisFailedTotal.Add(float64(count))
}

// ObserveInsight records an aggregated insight and how correlation used it.
func ObserveInsight(disposition string) {
	insightsTotal.WithLabelValues(disposition).Inc()
}

// ObserveIncidentOpened counts a freshly opened incident.
func ObserveIncidentOpened() {
	incidentsOpenedTotal.Inc()
}

// ObserveTransition counts a lifecycle transition.
func ObserveTransition(from, to string) {
	incidentTransitionsTotal.WithLabelValues(from, to).Inc()
}

// ObserveProposal counts an emitted remediation proposal.
func ObserveProposal(autoApply bool) {
	label := "false"
	if autoApply {
		label = "true"
	}
	proposalsTotal.WithLabelValues(label).Inc()
}
