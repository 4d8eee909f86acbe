package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/events"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

type fakeIndex struct {
	mu        sync.Mutex
	incidents map[string]*models.Incident
}

func newFakeIndex(incidents ...*models.Incident) *fakeIndex {
	idx := &fakeIndex{incidents: make(map[string]*models.Incident)}
	for _, incident := range incidents {
		idx.incidents[incident.ID] = incident
	}
	return idx
}

func (f *fakeIndex) WithIncident(id string, fn func(*models.Incident)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	incident, ok := f.incidents[id]
	if !ok {
		return false
	}
	fn(incident)
	return true
}

func (f *fakeIndex) ActiveIncidentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.incidents))
	for id := range f.incidents {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeIndex) Forget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.incidents, id)
}

// fakeArchiver fails its first `failures` calls and stores the rest.
type fakeArchiver struct {
	mu       sync.Mutex
	failures int
	attempts int
	archived []models.Incident
}

func (f *fakeArchiver) ArchiveIncident(_ context.Context, incident models.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failures > 0 {
		f.failures--
		return errors.New("kv write refused")
	}
	f.archived = append(f.archived, incident)
	return nil
}

func detectedIncident(id string, confidence float64, members int, openedAt time.Time) *models.Incident {
	insights := make([]models.Insight, 0, members)
	for i := 0; i < members; i++ {
		insights = append(insights, models.Insight{EventID: id + "-ev", NormalizedConfidence: confidence})
	}
	return &models.Incident{
		ID:                  id,
		Status:              models.StatusDetected,
		OpenedAt:            openedAt,
		UpdatedAt:           openedAt,
		MemberInsights:      insights,
		AggregateConfidence: confidence,
	}
}

func TestFSMNeverSkipsBackward(t *testing.T) {
	order := map[models.IncidentStatus]int{
		models.StatusDetected:        0,
		models.StatusTriaged:         1,
		models.StatusProposalPending: 2,
		models.StatusEscalated:       3,
		models.StatusResolved:        3,
		models.StatusClosed:          4,
	}
	for state, row := range transitions {
		for event, next := range row {
			if order[next] <= order[state] {
				t.Fatalf("transition %s --%s--> %s moves backward", state, event, next)
			}
		}
	}
}

func TestApplyIdempotent(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	index := newFakeIndex(detectedIncident("inc-1", 0.9, 1, start))
	recorder := events.NewRecorder()
	manager := NewManager(nil, index, nil, recorder, Options{TriageThreshold: 0.75})

	first, changed := manager.Apply(context.Background(), "inc-1", EventTriageThresholdMet)
	if !changed || first.Status != models.StatusTriaged {
		t.Fatalf("expected transition to triaged, got %+v changed=%v", first, changed)
	}

	second, changed := manager.Apply(context.Background(), "inc-1", EventTriageThresholdMet)
	if changed {
		t.Fatal("redelivered event must be a no-op")
	}
	if second.Status != models.StatusTriaged {
		t.Fatalf("state must be unchanged, got %s", second.Status)
	}
	if got := len(recorder.OfType(events.TypeIncidentTransitioned)); got != 1 {
		t.Fatalf("expected exactly one transition event, got %d", got)
	}
}

func TestEvaluateTriageByThresholdAndMembers(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	index := newFakeIndex(
		detectedIncident("low", 0.3, 1, start),
		detectedIncident("confident", 0.9, 1, start),
		detectedIncident("crowded", 0.3, 6, start),
	)
	manager := NewManager(nil, index, nil, events.NewRecorder(), Options{TriageThreshold: 0.75, MinTriageMembers: 5})

	if _, changed := manager.EvaluateTriage(context.Background(), "low"); changed {
		t.Fatal("low-confidence incident must stay detected")
	}
	if snapshot, changed := manager.EvaluateTriage(context.Background(), "confident"); !changed || snapshot.Status != models.StatusTriaged {
		t.Fatalf("confidence threshold should triage, got %+v", snapshot)
	}
	if snapshot, changed := manager.EvaluateTriage(context.Background(), "crowded"); !changed || snapshot.Status != models.StatusTriaged {
		t.Fatalf("member count should triage, got %+v", snapshot)
	}
}

func TestSweepEscalatesStuckIncidents(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	index := newFakeIndex(detectedIncident("stuck", 0.5, 1, start))
	recorder := events.NewRecorder()
	manager := NewManager(nil, index, nil, recorder, Options{EscalationTimeout: 30 * time.Minute})

	current := start.Add(10 * time.Minute)
	manager.now = func() time.Time { return current }

	manager.Sweep(context.Background())
	if snapshot, _ := snapshotOf(index, "stuck"); snapshot.Status != models.StatusDetected {
		t.Fatalf("incident escalated too early: %s", snapshot.Status)
	}

	current = start.Add(31 * time.Minute)
	manager.Sweep(context.Background())
	snapshot, _ := snapshotOf(index, "stuck")
	if snapshot.Status != models.StatusEscalated {
		t.Fatalf("expected escalation after timeout, got %s", snapshot.Status)
	}
}

func TestSweepClosesAfterRetentionGrace(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	incident := detectedIncident("done", 0.9, 1, start)
	incident.Status = models.StatusResolved
	index := newFakeIndex(incident)
	archiver := &fakeArchiver{}
	manager := NewManager(nil, index, archiver, events.NewRecorder(), Options{RetentionGrace: time.Hour})

	current := start.Add(2 * time.Hour)
	manager.now = func() time.Time { return current }

	manager.Sweep(context.Background())

	if len(archiver.archived) != 1 || archiver.archived[0].Status != models.StatusClosed {
		t.Fatalf("expected archived closed incident, got %+v", archiver.archived)
	}
	if _, ok := snapshotOf(index, "done"); ok {
		t.Fatal("closed incident must be forgotten after archival")
	}
}

func TestSweepRetriesFailedArchival(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	incident := detectedIncident("flaky", 0.9, 1, start)
	incident.Status = models.StatusResolved
	index := newFakeIndex(incident)
	archiver := &fakeArchiver{failures: 2}
	recorder := events.NewRecorder()
	manager := NewManager(nil, index, archiver, recorder, Options{RetentionGrace: time.Hour})

	current := start.Add(2 * time.Hour)
	manager.now = func() time.Time { return current }

	manager.Sweep(context.Background())
	snapshot, ok := snapshotOf(index, "flaky")
	if !ok {
		t.Fatal("incident must stay indexed until archival succeeds")
	}
	if snapshot.Status != models.StatusClosed {
		t.Fatalf("expected closed incident awaiting archival, got %s", snapshot.Status)
	}

	manager.Sweep(context.Background())
	if _, ok := snapshotOf(index, "flaky"); !ok {
		t.Fatal("incident must survive repeated archival failures")
	}

	manager.Sweep(context.Background())
	if archiver.attempts != 3 {
		t.Fatalf("expected one archival attempt per sweep, got %d", archiver.attempts)
	}
	if len(archiver.archived) != 1 || archiver.archived[0].ID != "flaky" {
		t.Fatalf("expected archived incident, got %+v", archiver.archived)
	}
	if _, ok := snapshotOf(index, "flaky"); ok {
		t.Fatal("incident must be forgotten once archived")
	}
	if got := len(recorder.OfType(events.TypeIncidentTransitioned)); got != 1 {
		t.Fatalf("expected a single closure transition across retries, got %d", got)
	}
}

func TestArchiveForceClosedReachesAuditTrail(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	incident := detectedIncident("corrupt", 0.9, 1, start)
	incident.Status = models.StatusClosed
	incident.Corrupted = true
	index := newFakeIndex(incident)
	archiver := &fakeArchiver{}
	recorder := events.NewRecorder()
	manager := NewManager(nil, index, archiver, recorder, Options{})

	manager.ArchiveForceClosed(context.Background(), incident.Snapshot())

	if len(archiver.archived) != 1 || !archiver.archived[0].Corrupted {
		t.Fatalf("expected corrupted incident archived, got %+v", archiver.archived)
	}
	if _, ok := snapshotOf(index, "corrupt"); ok {
		t.Fatal("force-closed incident must be forgotten after archival")
	}
	if got := len(recorder.OfType(events.TypeIncidentUpdated)); got != 1 {
		t.Fatalf("expected one outbound event for the force-close, got %d", got)
	}
}

func TestResolveRecordsNotes(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	incident := detectedIncident("inc-1", 0.9, 1, start)
	incident.Status = models.StatusProposalPending
	index := newFakeIndex(incident)
	manager := NewManager(nil, index, nil, events.NewRecorder(), Options{})

	snapshot, changed := manager.Resolve(context.Background(), "inc-1", EventAcknowledged, "restarted pods")
	if !changed || snapshot.Status != models.StatusResolved {
		t.Fatalf("expected resolution, got %+v", snapshot)
	}
	if snapshot.ResolutionNotes != "restarted pods" {
		t.Fatalf("expected notes to persist, got %q", snapshot.ResolutionNotes)
	}
	if snapshot.ResolvedAt == nil {
		t.Fatal("expected ResolvedAt to be stamped")
	}
}

func snapshotOf(index *fakeIndex, id string) (models.Incident, bool) {
	var out models.Incident
	ok := index.WithIncident(id, func(incident *models.Incident) {
		out = incident.Snapshot()
	})
	return out, ok
}
