package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/events"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Index is the shared incident state the manager drives. ActiveIncidentIDs
// must keep listing closed incidents until Forget is called; the manager
// relies on that to retry archival after a storage failure.
type Index interface {
	WithIncident(id string, fn func(*models.Incident)) bool
	ActiveIncidentIDs() []string
	Forget(id string)
}

// Archiver persists closed incidents for audit before they leave memory.
type Archiver interface {
	ArchiveIncident(ctx context.Context, incident models.Incident) error
}

// Options configures lifecycle thresholds.
type Options struct {
	TriageThreshold   float64
	MinTriageMembers  int
	EscalationTimeout time.Duration
	RetentionGrace    time.Duration
}

// Manager drives incidents through the lifecycle state machine.
type Manager struct {
	logger   *slog.Logger
	index    Index
	archiver Archiver
	bus      events.Publisher
	opts     Options
	now      func() time.Time
}

// NewManager constructs a Manager. archiver may be nil in tests.
func NewManager(logger *slog.Logger, index Index, archiver Archiver, bus events.Publisher, opts Options) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TriageThreshold <= 0 {
		opts.TriageThreshold = 0.75
	}
	if opts.MinTriageMembers <= 0 {
		opts.MinTriageMembers = 5
	}
	if opts.EscalationTimeout <= 0 {
		opts.EscalationTimeout = 30 * time.Minute
	}
	if opts.RetentionGrace <= 0 {
		opts.RetentionGrace = time.Hour
	}
	return &Manager{
		logger:   logger,
		index:    index,
		archiver: archiver,
		bus:      bus,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Apply fires one lifecycle event against an incident. It returns the
// post-application snapshot and whether state actually changed; redelivered
// events are no-ops.
func (m *Manager) Apply(ctx context.Context, incidentID string, event Event) (models.Incident, bool) {
	var snapshot models.Incident
	var from, to models.IncidentStatus
	changed := false

	known := m.index.WithIncident(incidentID, func(incident *models.Incident) {
		next, ok := Next(incident.Status, event)
		if !ok {
			snapshot = incident.Snapshot()
			return
		}
		from, to = incident.Status, next
		now := m.now()
		incident.Status = next
		incident.UpdatedAt = now
		switch next {
		case models.StatusResolved:
			resolvedAt := now
			incident.ResolvedAt = &resolvedAt
		case models.StatusClosed:
			closedAt := now
			incident.ClosedAt = &closedAt
		}
		snapshot = incident.Snapshot()
		changed = true
	})
	if !known {
		return models.Incident{}, false
	}
	if !changed {
		return snapshot, false
	}

	m.logger.Info("incident transitioned",
		slog.String("incident_id", incidentID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("event", string(event)),
	)
	if m.bus != nil {
		m.bus.Publish(events.NewIncidentTransitioned(snapshot, from, to))
	}
	if to == models.StatusClosed {
		m.archive(ctx, snapshot)
	}
	return snapshot, true
}

// EvaluateTriage promotes a Detected incident once its aggregate confidence
// crosses the triage threshold or membership reaches the configured minimum.
func (m *Manager) EvaluateTriage(ctx context.Context, incidentID string) (models.Incident, bool) {
	var eligible bool
	var snapshot models.Incident
	known := m.index.WithIncident(incidentID, func(incident *models.Incident) {
		snapshot = incident.Snapshot()
		eligible = incident.Status == models.StatusDetected &&
			(incident.AggregateConfidence >= m.opts.TriageThreshold ||
				len(incident.MemberInsights) >= m.opts.MinTriageMembers)
	})
	if !known {
		return models.Incident{}, false
	}
	if !eligible {
		return snapshot, false
	}
	return m.Apply(ctx, incidentID, EventTriageThresholdMet)
}

// Resolve handles the external acknowledgment or auto-apply success signal.
func (m *Manager) Resolve(ctx context.Context, incidentID string, event Event, notes string) (models.Incident, bool) {
	if event != EventAcknowledged && event != EventAutoApplySucceeded {
		return models.Incident{}, false
	}
	if notes != "" {
		m.index.WithIncident(incidentID, func(incident *models.Incident) {
			incident.ResolutionNotes = notes
		})
	}
	return m.Apply(ctx, incidentID, event)
}

// Close handles the external closure signal.
func (m *Manager) Close(ctx context.Context, incidentID string) (models.Incident, bool) {
	return m.Apply(ctx, incidentID, EventClosureRequested)
}

// Sweep walks indexed incidents, escalating those stuck past the escalation
// timeout, closing resolved/escalated ones past the retention grace, and
// re-archiving closed ones a previous archival attempt failed to persist.
// Nothing is ever silently abandoned.
func (m *Manager) Sweep(ctx context.Context) {
	now := m.now()
	for _, id := range m.index.ActiveIncidentIDs() {
		var snapshot models.Incident
		if !m.index.WithIncident(id, func(incident *models.Incident) {
			snapshot = incident.Snapshot()
		}) {
			continue
		}

		switch snapshot.Status {
		case models.StatusDetected, models.StatusTriaged, models.StatusProposalPending:
			if now.Sub(snapshot.OpenedAt) >= m.opts.EscalationTimeout {
				m.Apply(ctx, id, EventEscalationTimeout)
			}
		case models.StatusEscalated, models.StatusResolved:
			if now.Sub(snapshot.UpdatedAt) >= m.opts.RetentionGrace {
				m.Apply(ctx, id, EventClosureRequested)
			}
		case models.StatusClosed:
			// Still indexed after closing means archival failed earlier.
			m.archive(ctx, snapshot)
		}
	}
}

// ArchiveForceClosed records a closure that happened outside the state
// machine, such as a corruption force-close, so the incident still reaches
// the audit trail before leaving memory.
func (m *Manager) ArchiveForceClosed(ctx context.Context, incident models.Incident) {
	m.logger.Warn("incident force-closed",
		slog.String("incident_id", incident.ID),
		slog.Bool("corrupted", incident.Corrupted),
	)
	if m.bus != nil {
		m.bus.Publish(events.NewIncidentUpdated(incident))
	}
	m.archive(ctx, incident)
}

// archive hands a closed incident to the archiver and forgets it only on
// success. On failure the incident stays indexed so Sweep retries it.
func (m *Manager) archive(ctx context.Context, incident models.Incident) {
	if m.archiver != nil {
		if err := m.archiver.ArchiveIncident(ctx, incident); err != nil {
			m.logger.Error("incident archival failed, will retry on sweep",
				slog.String("incident_id", incident.ID),
				slog.Any("error", err),
			)
			return
		}
	}
	m.index.Forget(incident.ID)
}
