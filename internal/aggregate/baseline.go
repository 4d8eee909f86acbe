package aggregate

import (
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// BaselineProfile is a decaying statistical summary of raw anomaly scores for
// one source. New observations are folded in, never erased; only the
// retention eviction removes a profile.
type BaselineProfile struct {
	SourceID  string    `json:"source_id"`
	Mean      float64   `json:"mean"`
	Variance  float64   `json:"variance"`
	Count     int64     `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stddev returns the current standard deviation of the profile.
func (p *BaselineProfile) Stddev() float64 {
	if p.Variance <= 0 {
		return 0
	}
	return math.Sqrt(p.Variance)
}

// Deviation computes how far the raw score sits from the baseline, in
// stddev units floored at minStddev to avoid division blow-ups.
func (p *BaselineProfile) Deviation(score, minStddev float64) float64 {
	if p.Count == 0 {
		return 0
	}
	stddev := p.Stddev()
	if stddev < minStddev {
		stddev = minStddev
	}
	return (score - p.Mean) / stddev
}

// Update folds a raw score into the profile with exponential weight alpha.
func (p *BaselineProfile) Update(score, alpha float64, now time.Time) {
	if p.Count == 0 {
		p.Mean = score
		p.Variance = 0
	} else {
		delta := score - p.Mean
		p.Mean += alpha * delta
		p.Variance = (1 - alpha) * (p.Variance + alpha*delta*delta)
	}
	p.Count++
	p.UpdatedAt = now
}

const baselineShards = 64

// BaselineStore holds per-source profiles with TTL-based retention eviction.
// Mutating access is serialized per source, not globally.
type BaselineStore struct {
	profiles *expirable.LRU[string, *BaselineProfile]
	locks    [baselineShards]sync.Mutex
}

// NewBaselineStore creates a store evicting profiles unseen for retention.
func NewBaselineStore(retention time.Duration) *BaselineStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &BaselineStore{
		profiles: expirable.NewLRU[string, *BaselineProfile](0, nil, retention),
	}
}

// WithProfile runs fn with exclusive access to the profile for sourceID,
// creating the profile on first sight.
func (s *BaselineStore) WithProfile(sourceID string, fn func(*BaselineProfile)) {
	shard := &s.locks[shardFor(sourceID)]
	shard.Lock()
	defer shard.Unlock()

	profile, ok := s.profiles.Get(sourceID)
	if !ok {
		profile = &BaselineProfile{SourceID: sourceID}
	}
	fn(profile)
	s.profiles.Add(sourceID, profile)
}

// Snapshot returns copies of all live profiles, for persistence checkpoints.
func (s *BaselineStore) Snapshot() []BaselineProfile {
	values := s.profiles.Values()
	out := make([]BaselineProfile, 0, len(values))
	for _, p := range values {
		out = append(out, *p)
	}
	return out
}

// Restore seeds the store from persisted profiles.
func (s *BaselineStore) Restore(profiles []BaselineProfile) {
	for _, p := range profiles {
		profile := p
		s.profiles.Add(profile.SourceID, &profile)
	}
}

// Len reports the number of live profiles.
func (s *BaselineStore) Len() int {
	return s.profiles.Len()
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % baselineShards
}
