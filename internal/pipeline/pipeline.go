package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-sentinel/internal/aggregate"
	"github.com/miradorstack/mirador-sentinel/internal/correlate"
	"github.com/miradorstack/mirador-sentinel/internal/events"
	"github.com/miradorstack/mirador-sentinel/internal/lifecycle"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/normalize"
	"github.com/miradorstack/mirador-sentinel/internal/orchestrator"
	"github.com/miradorstack/mirador-sentinel/internal/recommend"
)

// Insight dispositions recorded per aggregated insight.
const (
	dispositionOpened       = "opened"
	dispositionCorrelated   = "correlated"
	dispositionDuplicate    = "duplicate"
	dispositionNoiseFloored = "noise_floored"
)

// Deps bundles the pipeline stages. All fields are required except Gate,
// which may be nil when no action table is configured.
type Deps struct {
	Normalizer   *normalize.Normalizer
	Orchestrator *orchestrator.Orchestrator
	Aggregator   *aggregate.Aggregator
	Engine       *correlate.Engine
	Manager      *lifecycle.Manager
	Gate         *recommend.Gate
	Bus          events.Publisher
}

// Pipeline is the ingest-to-proposal data path: raw line → LogEvent →
// scored batch → Insight → Incident → lifecycle transition → proposal.
type Pipeline struct {
	logger *slog.Logger
	deps   Deps

	sweepInterval time.Duration
	group         *errgroup.Group
	cancel        context.CancelFunc
}

// New constructs a Pipeline.
func New(logger *slog.Logger, deps Deps, sweepInterval time.Duration) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &Pipeline{
		logger:        logger,
		deps:          deps,
		sweepInterval: sweepInterval,
	}
}

// Run launches the scoring consumer and the lifecycle sweep loop.
func (p *Pipeline) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.group, runCtx = errgroup.WithContext(runCtx)

	p.deps.Orchestrator.Start(runCtx)

	consumeCtx := runCtx
	p.group.Go(func() error {
		for result := range p.deps.Orchestrator.Results() {
			p.handleResult(consumeCtx, result)
		}
		return nil
	})
	p.group.Go(func() error {
		ticker := time.NewTicker(p.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.deps.Manager.Sweep(consumeCtx)
			case <-consumeCtx.Done():
				return nil
			}
		}
	})
}

// Ingest normalizes one raw log line and hands it to the orchestrator. It
// blocks when the scoring window is saturated; that is the backpressure
// contract with collectors.
func (p *Pipeline) Ingest(ctx context.Context, raw []byte, sourceID string) error {
	event, err := p.deps.Normalizer.Normalize(raw, sourceID)
	if err != nil {
		metrics.ObserveIngest(false)
		return err
	}
	metrics.ObserveIngest(true)
	return p.deps.Orchestrator.Enqueue(ctx, event)
}

// Close drains in-flight batches and stops the background loops.
func (p *Pipeline) Close() {
	p.deps.Orchestrator.Close()
	if p.cancel != nil {
		p.cancel()
	}
	if p.group != nil {
		_ = p.group.Wait()
	}
}

func (p *Pipeline) handleResult(ctx context.Context, result orchestrator.BatchResult) {
	if result.Outcome != orchestrator.OutcomeSuccess {
		// Dead-lettered and cancelled batches were already reported by the
		// orchestrator; their events never become insights.
		return
	}
	for i, event := range result.Events {
		p.handleScoredEvent(ctx, event, result.Scores[i])
	}
}

func (p *Pipeline) handleScoredEvent(ctx context.Context, event models.LogEvent, score models.ScoreResult) {
	insight, err := p.deps.Aggregator.Aggregate(event, score)
	if err != nil {
		metrics.AddAnalysisFailed(1)
		p.logger.Warn("event dropped on invalid score",
			slog.String("event_id", event.ID),
			slog.Any("error", err),
		)
		if p.deps.Bus != nil {
			p.deps.Bus.Publish(events.NewAnalysisFailed(events.Failure{
				EventID:  event.ID,
				SourceID: event.SourceID,
				Reason:   err.Error(),
			}))
		}
		return
	}

	applied, err := p.deps.Engine.Apply(insight, event.Message)
	if err != nil {
		p.logger.Error("correlation failed",
			slog.String("event_id", event.ID),
			slog.Any("error", err),
		)
		if applied.Incident.ID != "" {
			// The engine force-closed the incident; it must still reach the
			// audit trail.
			p.deps.Manager.ArchiveForceClosed(ctx, applied.Incident)
		}
		return
	}

	switch {
	case applied.NoiseFloored:
		metrics.ObserveInsight(dispositionNoiseFloored)
		return
	case applied.Duplicate:
		metrics.ObserveInsight(dispositionDuplicate)
		return
	case applied.Opened:
		metrics.ObserveInsight(dispositionOpened)
		metrics.ObserveIncidentOpened()
		if p.deps.Bus != nil {
			p.deps.Bus.Publish(events.NewIncidentOpened(applied.Incident))
		}
	case applied.Updated:
		metrics.ObserveInsight(dispositionCorrelated)
		if p.deps.Bus != nil {
			p.deps.Bus.Publish(events.NewIncidentUpdated(applied.Incident))
		}
	}

	p.advance(ctx, applied.Incident.ID)
}

// advance runs triage evaluation and, on a Triaged incident, consults the
// recommendation gate.
func (p *Pipeline) advance(ctx context.Context, incidentID string) {
	snapshot, _ := p.deps.Manager.EvaluateTriage(ctx, incidentID)
	if snapshot.Status != models.StatusTriaged {
		return
	}

	proposal, ok := p.deps.Gate.Propose(snapshot)
	if !ok {
		return
	}

	snapshot, changed := p.deps.Manager.Apply(ctx, incidentID, lifecycle.EventProposalIssued)
	if !changed {
		return
	}
	metrics.ObserveProposal(proposal.AutoApply)
	if p.deps.Bus != nil {
		p.deps.Bus.Publish(events.NewRemediationProposed(snapshot, proposal))
	}
	p.logger.Info("remediation proposed",
		slog.String("incident_id", incidentID),
		slog.String("action", proposal.Action),
		slog.Float64("confidence", proposal.Confidence),
		slog.Bool("auto_apply", proposal.AutoApply),
	)
}
