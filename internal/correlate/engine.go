package correlate

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// ErrIndexCorrupted signals inconsistent index state for one incident. The
// affected incident is force-closed; the rest of the pipeline is unaffected.
var ErrIndexCorrupted = errors.New("correlation index corrupted")

const indexShards = 16

// ApplyResult describes what the engine did with one insight.
type ApplyResult struct {
	Incident     models.Incident
	Opened       bool
	Updated      bool
	Duplicate    bool
	NoiseFloored bool
}

type trackedIncident struct {
	mu       sync.Mutex
	incident models.Incident
}

type indexShard struct {
	mu      sync.Mutex
	entries map[string][]*trackedIncident
}

// Engine clusters insights into incidents across time and source. The open
// incident index is sharded by correlation key; mutation of any single
// incident is serialized by its own lock.
type Engine struct {
	logger     *slog.Logger
	window     time.Duration
	noiseFloor float64
	now        func() time.Time

	shards [indexShards]*indexShard
	byID   sync.Map // incident ID -> *trackedIncident
}

// NewEngine constructs a correlation engine.
func NewEngine(logger *slog.Logger, window time.Duration, noiseFloor float64) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	e := &Engine{
		logger:     logger,
		window:     window,
		noiseFloor: noiseFloor,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for i := range e.shards {
		e.shards[i] = &indexShard{entries: make(map[string][]*trackedIncident)}
	}
	return e
}

// Apply routes an insight into an open incident, opens a new one, or records
// it as noise. message is the originating log message used for signature
// derivation. Duplicate insights (same event ID) are no-ops.
func (e *Engine) Apply(insight models.Insight, message string) (ApplyResult, error) {
	if insight.NormalizedConfidence < e.noiseFloor {
		return ApplyResult{NoiseFloored: true}, nil
	}

	group := SourceGroup(insight.SourceID)
	signature := Signature(insight.Label, message)
	key := group + "|" + signature
	now := e.now()

	for {
		tracked, opened := e.lookupOrCreate(key, group, signature, insight, now)
		tracked.mu.Lock()
		if opened {
			result := ApplyResult{Incident: tracked.incident.Snapshot(), Opened: true}
			tracked.mu.Unlock()
			e.logger.Debug("incident opened",
				slog.String("incident_id", result.Incident.ID),
				slog.String("signature", signature),
			)
			return result, nil
		}
		if !tracked.incident.Status.IsOpen() {
			// Lost a race with a close; retry against a fresh index slot.
			tracked.mu.Unlock()
			continue
		}
		if err := e.verify(&tracked.incident, key); err != nil {
			snapshot := e.forceClose(tracked, now)
			tracked.mu.Unlock()
			return ApplyResult{Incident: snapshot}, err
		}
		if tracked.incident.HasMember(insight.EventID) {
			result := ApplyResult{Incident: tracked.incident.Snapshot(), Duplicate: true}
			tracked.mu.Unlock()
			return result, nil
		}

		tracked.incident.MemberInsights = append(tracked.incident.MemberInsights, insight)
		tracked.incident.AggregateConfidence = models.AggregateConfidenceOf(tracked.incident.MemberInsights)
		tracked.incident.UpdatedAt = now
		result := ApplyResult{Incident: tracked.incident.Snapshot(), Updated: true}
		tracked.mu.Unlock()
		return result, nil
	}
}

// lookupOrCreate finds the best open candidate for the key or registers a new
// incident seeded with the insight. The most recently updated candidate wins.
func (e *Engine) lookupOrCreate(key, group, signature string, insight models.Insight, now time.Time) (*trackedIncident, bool) {
	shard := e.shards[shardIndex(key)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	var best *trackedIncident
	var bestUpdated time.Time
	live := shard.entries[key][:0]
	for _, tracked := range shard.entries[key] {
		status, updated := tracked.peek()
		if !status.IsOpen() {
			continue
		}
		live = append(live, tracked)
		if now.Sub(updated) > e.window {
			continue
		}
		if best == nil || updated.After(bestUpdated) {
			best = tracked
			bestUpdated = updated
		}
	}
	shard.entries[key] = live

	if best != nil {
		return best, false
	}

	incident := models.Incident{
		ID:                  uuid.NewString(),
		SourceGroup:         group,
		Signature:           signature,
		Status:              models.StatusDetected,
		OpenedAt:            now,
		UpdatedAt:           now,
		MemberInsights:      []models.Insight{insight},
		AggregateConfidence: models.AggregateConfidenceOf([]models.Insight{insight}),
	}
	tracked := &trackedIncident{incident: incident}
	shard.entries[key] = append(shard.entries[key], tracked)
	e.byID.Store(incident.ID, tracked)
	return tracked, true
}

func (t *trackedIncident) peek() (models.IncidentStatus, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.incident.Status, t.incident.UpdatedAt
}

// verify checks index/incident consistency; caller holds the incident lock.
func (e *Engine) verify(incident *models.Incident, key string) error {
	if incident.SourceGroup+"|"+incident.Signature != key {
		return fmt.Errorf("%w: incident %s indexed under %q", ErrIndexCorrupted, incident.ID, key)
	}
	if len(incident.MemberInsights) == 0 {
		return fmt.Errorf("%w: incident %s has no members", ErrIndexCorrupted, incident.ID)
	}
	return nil
}

// forceClose marks a corrupted incident closed; caller holds the lock.
func (e *Engine) forceClose(tracked *trackedIncident, now time.Time) models.Incident {
	tracked.incident.Corrupted = true
	tracked.incident.Status = models.StatusClosed
	tracked.incident.UpdatedAt = now
	closedAt := now
	tracked.incident.ClosedAt = &closedAt
	e.logger.Error("incident force-closed on index corruption",
		slog.String("incident_id", tracked.incident.ID),
	)
	return tracked.incident.Snapshot()
}

// WithIncident runs fn with exclusive access to the incident's state.
// It reports whether the incident is known to the engine.
func (e *Engine) WithIncident(id string, fn func(*models.Incident)) bool {
	value, ok := e.byID.Load(id)
	if !ok {
		return false
	}
	tracked := value.(*trackedIncident)
	tracked.mu.Lock()
	defer tracked.mu.Unlock()
	fn(&tracked.incident)
	return true
}

// Snapshot returns a copy of the incident, if known.
func (e *Engine) Snapshot(id string) (models.Incident, bool) {
	var out models.Incident
	ok := e.WithIncident(id, func(incident *models.Incident) {
		out = incident.Snapshot()
	})
	return out, ok
}

// ActiveIncidentIDs lists every incident still held in memory, for lifecycle
// sweeps. Resolved incidents await closure; closed incidents remain listed
// until archival succeeds and the manager forgets them.
func (e *Engine) ActiveIncidentIDs() []string {
	ids := make([]string, 0)
	e.byID.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	return ids
}

// Forget drops a closed incident from the in-memory index. Closed incidents
// are archived through the store boundary before being forgotten.
func (e *Engine) Forget(id string) {
	e.byID.Delete(id)
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % indexShards
}
